package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for bsuite.
type Config struct {
	BaseDir        string                   `toml:"base_dir"`
	LogDir         string                   `toml:"log_dir"`
	SummaryDir     string                   `toml:"summary_dir"`
	MetricsFile    string                   `toml:"metrics_file,omitempty"`
	Manifest       ManifestConfig           `toml:"manifest"`
	Encryption     EncryptionConfig         `toml:"encryption"`
	Upload         UploadConfig             `toml:"upload"`
	Classification ClassificationConfig     `toml:"classification"`
	Targets        []TargetConfig           `toml:"targets"`
	Profiles       map[string]ProfileConfig `toml:"profiles"`
}

// ManifestConfig selects the manifest store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ManifestConfig struct {
	Type    string `toml:"type"`               // "sqlite" (default), "bolt" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // sqlite and bolt only
}

// EncryptionConfig holds paths to the age key pair used for encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default), "test" or "none"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// UploadConfig tunes the upload pipeline. Zero values keep the defaults.
type UploadConfig struct {
	Workers            int      `toml:"workers"`
	Attempts           int      `toml:"attempts"`
	RetryDelay         Duration `toml:"retry_delay"`
	MaxRetryDelay      Duration `toml:"max_retry_delay"`
	CallTimeout        Duration `toml:"call_timeout"`
	HealthcheckTimeout Duration `toml:"healthcheck_timeout"`

	// BreakerThreshold is the number of consecutive failures that opens a
	// backend's circuit. Negative disables the breaker.
	BreakerThreshold int      `toml:"breaker_threshold"`
	BreakerCooldown  Duration `toml:"breaker_cooldown"`
}

// ClassificationConfig holds the tier rules and the sensitive-file policy.
type ClassificationConfig struct {
	SensitiveKeywords   []string `toml:"sensitive_keywords"`
	SensitiveExtensions []string `toml:"sensitive_extensions"`
	CriticalPatterns    []string `toml:"critical_patterns"`

	// EncryptSensitive encrypts sensitive files on every target.
	EncryptSensitive bool `toml:"encrypt_sensitive"`

	// SensitiveFallback is where sensitive files go when Proton is not
	// enabled: "" (nowhere), "local" or "aws".
	SensitiveFallback string `toml:"sensitive_fallback,omitempty"`
}

// TargetConfig represents configuration for one storage target.
// This uses a tagged union pattern - the Kind field determines which other fields are relevant.
type TargetConfig struct {
	Kind    string `toml:"kind"` // "aws", "proton" or "local"
	Name    string `toml:"name"`
	Enabled bool   `toml:"enabled"`

	// Driver "memory" replaces the real backend with an in-memory one.
	Driver string `toml:"driver,omitempty"`

	Workers   int     `toml:"workers,omitempty"`
	RateLimit float64 `toml:"rate_limit,omitempty"`
	Encrypt   bool    `toml:"encrypt"`

	// Local-specific fields (only used when Kind == "local")
	BackupDirectory string `toml:"backup_directory,omitempty"`
	Compression     bool   `toml:"compression,omitempty"`

	// S3-specific fields (only used when Kind == "aws")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
	StorageClass      string `toml:"storage_class,omitempty"`

	// Proton-specific fields (only used when Kind == "proton")
	SyncDirectory string `toml:"sync_directory,omitempty"`
}

// ProfileConfig is a named set of source paths.
type ProfileConfig struct {
	Paths []PathConfig `toml:"paths"`
}

// PathConfig is one source root with its glob filters.
type PathConfig struct {
	Root    string   `toml:"root"`
	Include []string `toml:"include,omitempty"`
	Exclude []string `toml:"exclude,omitempty"`
}

// Duration is a time.Duration written as a string such as "500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// NewConfig creates a Config rooted at baseDir with default locations, a
// local target under baseDir and a "default" profile backing up
// $HOME/Documents.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		SummaryDir: filepath.Join(baseDir, "summaries"),
		Manifest:   ManifestConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "manifest")},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "bsuite.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "bsuite.key"),
		},
		Classification: ClassificationConfig{
			SensitiveKeywords:   []string{"password", "secret", "private", "tax"},
			SensitiveExtensions: []string{".key", ".pem", ".kdbx", ".gpg"},
			CriticalPatterns:    []string{"**/Documents/**", "**/config*"},
		},
		Targets: []TargetConfig{
			{
				Kind:            "local",
				Name:            "local",
				Enabled:         true,
				BackupDirectory: filepath.Join(baseDir, "local-backups"),
			},
		},
		Profiles: map[string]ProfileConfig{
			"default": {Paths: []PathConfig{{Root: "$HOME/Documents"}}},
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path. Files ending in
// .yaml or .yml are read in the legacy YAML layout.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	var cfg *Config
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		cfg, err = ReadLegacy(f)
	default:
		m := &Manager{}
		cfg, err = m.Read(f)
	}
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to a new config file at path. An existing file is never
// overwritten.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
