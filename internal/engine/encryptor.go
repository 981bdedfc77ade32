package engine

import "io"

// Encryptor encrypts file content before it is handed to a backend.
// Encryption uses the public key only; no user intervention is required.
type Encryptor interface {
	// Setup performs one-time key generation. Called during `bsuite keys init`.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// IsConfigured returns true if the encryptor can encrypt.
	IsConfigured() bool
}
