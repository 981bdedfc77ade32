package config

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// legacyConfig mirrors the YAML layout of the original backup scripts.
type legacyConfig struct {
	Profiles map[string]struct {
		Paths []struct {
			Path    string   `yaml:"path"`
			Include []string `yaml:"include"`
			Exclude []string `yaml:"exclude"`
		} `yaml:"paths"`
	} `yaml:"profiles"`

	Classification struct {
		Sensitive struct {
			Keywords       []string `yaml:"keywords"`
			FileExtensions []string `yaml:"file_extensions"`
		} `yaml:"sensitive"`
		Critical struct {
			Patterns []string `yaml:"patterns"`
		} `yaml:"critical"`
		EncryptSensitive  bool   `yaml:"encrypt_sensitive"`
		SensitiveFallback string `yaml:"sensitive_fallback"`
	} `yaml:"classification"`

	AWS *struct {
		Enabled      bool   `yaml:"enabled"`
		Bucket       string `yaml:"bucket"`
		Prefix       string `yaml:"prefix"`
		Region       string `yaml:"region"`
		Endpoint     string `yaml:"endpoint"`
		StorageClass string `yaml:"storage_class"`
		Encryption   bool   `yaml:"encryption"`
	} `yaml:"aws"`

	Proton *struct {
		Enabled       bool   `yaml:"enabled"`
		SyncDirectory string `yaml:"sync_directory"`
	} `yaml:"proton"`

	Local *struct {
		Enabled         *bool  `yaml:"enabled"`
		BackupDirectory string `yaml:"backup_directory"`
		Compression     bool   `yaml:"compression"`
		Encryption      bool   `yaml:"encryption"`
	} `yaml:"local"`
}

// legacyLocalDir is where the original scripts put local backups when no
// directory was configured.
const legacyLocalDir = "/tmp/local-backups"

// ReadLegacy decodes the original YAML layout and converts it to a Config.
// Directory settings are left empty for ApplyDefaults to fill in.
func ReadLegacy(r io.Reader) (*Config, error) {
	var lc legacyConfig
	if err := yaml.NewDecoder(r).Decode(&lc); err != nil {
		return nil, fmt.Errorf("failed to decode yaml config: %w", err)
	}

	cfg := &Config{
		Classification: ClassificationConfig{
			SensitiveKeywords:   lc.Classification.Sensitive.Keywords,
			SensitiveExtensions: lc.Classification.Sensitive.FileExtensions,
			CriticalPatterns:    lc.Classification.Critical.Patterns,
			EncryptSensitive:    lc.Classification.EncryptSensitive,
			SensitiveFallback:   lc.Classification.SensitiveFallback,
		},
		Profiles: make(map[string]ProfileConfig, len(lc.Profiles)),
	}

	for name, p := range lc.Profiles {
		var pc ProfileConfig
		for _, lp := range p.Paths {
			pc.Paths = append(pc.Paths, PathConfig{Root: lp.Path, Include: lp.Include, Exclude: lp.Exclude})
		}
		cfg.Profiles[name] = pc
	}

	if a := lc.AWS; a != nil {
		cfg.Targets = append(cfg.Targets, TargetConfig{
			Kind:         "aws",
			Name:         "aws",
			Enabled:      a.Enabled,
			Encrypt:      a.Encryption,
			S3Bucket:     a.Bucket,
			S3Prefix:     a.Prefix,
			S3Region:     a.Region,
			S3Endpoint:   a.Endpoint,
			StorageClass: a.StorageClass,
		})
	}
	if p := lc.Proton; p != nil {
		cfg.Targets = append(cfg.Targets, TargetConfig{
			Kind:          "proton",
			Name:          "proton",
			Enabled:       p.Enabled,
			SyncDirectory: p.SyncDirectory,
		})
	}
	if l := lc.Local; l != nil {
		enabled := true
		if l.Enabled != nil {
			enabled = *l.Enabled
		}
		dir := l.BackupDirectory
		if dir == "" {
			dir = legacyLocalDir
		}
		cfg.Targets = append(cfg.Targets, TargetConfig{
			Kind:            "local",
			Name:            "local",
			Enabled:         enabled,
			Encrypt:         l.Encryption,
			BackupDirectory: dir,
			Compression:     l.Compression,
		})
	}
	return cfg, nil
}
