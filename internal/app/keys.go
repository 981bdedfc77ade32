package app

import (
	"errors"
	"fmt"

	"backup-suite/internal/config"
	"backup-suite/internal/encryption"
)

// InitKeys generates the encryption key pair, sealing the private key with
// passphrase.
func InitKeys(cfg *config.Config, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if enc == nil {
		return errors.New("encryption type is none; there are no keys to initialize")
	}
	return enc.Setup(passphrase)
}

// VerifyKeys checks that passphrase unlocks the private key and that the
// key pair belongs together.
func VerifyKeys(cfg *config.Config, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	ae, ok := enc.(*encryption.AgeEncryptor)
	if !ok {
		return fmt.Errorf("encryption type %q has no private key to verify", cfg.Encryption.Type)
	}
	if !ae.IsConfigured() {
		return errors.New("encryption keys are not initialized; run 'bsuite keys init'")
	}
	return ae.Verify(passphrase)
}
