package encryption

import (
	"fmt"

	"backup-suite/internal/config"
	"backup-suite/internal/engine"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration
// type. Type "none" yields a nil Encryptor; sessions that need encryption
// then fail their precondition check.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (engine.Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
