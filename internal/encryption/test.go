package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"backup-suite/internal/engine"
)

// testHeader is prepended by TestEncryptor so that ciphertext differs from
// plaintext while staying deterministic and reversible.
var testHeader = []byte("BSENC\x00\x00\x00")

// TestEncryptor is a deterministic stand-in for tests and the "test"
// encryption type. It performs no cryptography.
type TestEncryptor struct {
	setupCalled  bool
	unconfigured bool
}

var _ engine.Encryptor = (*TestEncryptor)(nil)

// NewTestEncryptor creates a TestEncryptor that reports itself configured.
func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

// NewUnconfiguredTestEncryptor creates a TestEncryptor whose keys are
// reported missing until Setup is called.
func NewUnconfiguredTestEncryptor() *TestEncryptor {
	return &TestEncryptor{unconfigured: true}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.setupCalled = true
	e.unconfigured = false
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testHeader); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (e *TestEncryptor) IsConfigured() bool {
	return !e.unconfigured
}

// Decrypt strips the header added by Encrypt.
func (e *TestEncryptor) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return errors.New("invalid test encryption header")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
