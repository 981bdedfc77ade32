package backend

import (
	"context"
	"fmt"

	"backup-suite/internal/config"
	"backup-suite/internal/engine"
)

// NewBackendFromConfig creates the Backend for one target. Driver "memory"
// replaces the real implementation with a MemoryBackend of the same kind.
func NewBackendFromConfig(ctx context.Context, cfg config.TargetConfig) (engine.Backend, error) {
	kind, ok := engine.ParseBackendKind(cfg.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown target kind: %s", cfg.Kind)
	}
	name := cfg.Name
	if name == "" {
		name = string(kind)
	}

	switch cfg.Driver {
	case "":
	case "memory":
		return NewMemoryBackend(kind, name), nil
	default:
		return nil, fmt.Errorf("unknown target driver: %s", cfg.Driver)
	}

	switch kind {
	case engine.KindLocal:
		if cfg.BackupDirectory == "" {
			return nil, fmt.Errorf("local target requires backup_directory to be set")
		}
		b, err := NewLocalBackend(name, cfg.BackupDirectory, cfg.Compression)
		if err != nil {
			return nil, err
		}
		return b, nil
	case engine.KindProton:
		if cfg.SyncDirectory == "" {
			return nil, fmt.Errorf("proton target requires sync_directory to be set")
		}
		return NewProtonBackend(name, cfg.SyncDirectory), nil
	default:
		b, err := NewS3Backend(ctx, name, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			StorageClass:    cfg.StorageClass,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}
