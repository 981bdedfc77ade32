package testutil

import (
	"backup-suite/internal/encryption"
)

// NewTestEncryptor creates a configured, deterministic encryptor.
func NewTestEncryptor() *encryption.TestEncryptor {
	return encryption.NewTestEncryptor()
}
