package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"backup-suite/internal/config"
	"backup-suite/internal/engine"
)

// NewStoreFromConfig opens the manifest store selected by cfg.Type.
func NewStoreFromConfig(cfg config.ManifestConfig) (engine.ManifestStore, error) {
	switch cfg.Type {
	case "sqlite", "":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite manifest")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating manifest directory: %w", err)
		}
		s, err := NewSQLiteStore(filepath.Join(cfg.DataDir, "manifest.db"))
		if err != nil {
			return nil, err
		}
		return s, nil
	case "bolt":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for bolt manifest")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating manifest directory: %w", err)
		}
		s, err := NewBoltStore(filepath.Join(cfg.DataDir, "manifest.bolt"))
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown manifest type: %s", cfg.Type)
	}
}
