package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/samber/lo"

	"backup-suite/internal/engine"
)

// ApplyDefaults fills unset directories relative to baseDir.
func (c *Config) ApplyDefaults(baseDir string) {
	if c.BaseDir == "" {
		c.BaseDir = baseDir
	}
	if c.LogDir == "" {
		c.LogDir = filepath.Join(c.BaseDir, "log")
	}
	if c.SummaryDir == "" {
		c.SummaryDir = filepath.Join(c.BaseDir, "summaries")
	}
	if c.Manifest.Type == "" {
		c.Manifest.Type = "sqlite"
	}
	if c.Manifest.DataDir == "" && c.Manifest.Type != "memory" {
		c.Manifest.DataDir = filepath.Join(c.BaseDir, "manifest")
	}
	if c.Encryption.Type == "" {
		c.Encryption.Type = "age"
	}
	if c.Encryption.PublicKeyPath == "" {
		c.Encryption.PublicKeyPath = filepath.Join(c.BaseDir, "keys", "bsuite.pub")
	}
	if c.Encryption.PrivateKeyPath == "" {
		c.Encryption.PrivateKeyPath = filepath.Join(c.BaseDir, "keys", "bsuite.key")
	}
	for i := range c.Targets {
		if c.Targets[i].Name == "" {
			c.Targets[i].Name = c.Targets[i].Kind
		}
	}
}

// ProfileNames returns the configured profile names in sorted order.
func (c *Config) ProfileNames() []string {
	names := lo.Keys(c.Profiles)
	slices.Sort(names)
	return names
}

// Validate checks the configuration. Problems that make a run impossible
// are returned joined as the error; questionable but workable settings are
// returned as warnings.
func (c *Config) Validate() (warnings []string, err error) {
	var errs []error

	if len(c.Profiles) == 0 {
		errs = append(errs, errors.New("no profiles configured"))
	}
	for _, name := range c.ProfileNames() {
		p := c.Profiles[name]
		if len(p.Paths) == 0 {
			errs = append(errs, fmt.Errorf("profile %s: no paths", name))
		}
		for _, pc := range p.Paths {
			if pc.Root == "" {
				errs = append(errs, fmt.Errorf("profile %s: path with empty root", name))
			}
			for _, pat := range append(slices.Clone(pc.Include), pc.Exclude...) {
				if !doublestar.ValidatePattern(pat) {
					errs = append(errs, fmt.Errorf("profile %s: invalid pattern %q", name, pat))
				}
			}
		}
	}

	switch c.Manifest.Type {
	case "", "sqlite", "bolt", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown manifest type: %s", c.Manifest.Type))
	}

	enabled := make(map[engine.BackendKind]TargetConfig)
	for i, t := range c.Targets {
		kind, ok := engine.ParseBackendKind(t.Kind)
		if !ok {
			errs = append(errs, fmt.Errorf("target %d: unknown kind %q", i, t.Kind))
			continue
		}
		if t.Workers < 0 {
			errs = append(errs, fmt.Errorf("target %s: workers must be positive", t.Name))
		}
		if t.RateLimit < 0 {
			errs = append(errs, fmt.Errorf("target %s: rate_limit must not be negative", t.Name))
		}
		if !t.Enabled {
			continue
		}
		if prev, dup := enabled[kind]; dup {
			errs = append(errs, fmt.Errorf("targets %s and %s: only one %s target may be enabled", prev.Name, t.Name, kind))
			continue
		}
		enabled[kind] = t
		if err := t.checkFields(kind); err != nil {
			errs = append(errs, err)
		}
	}
	if len(enabled) == 0 {
		errs = append(errs, errors.New("no enabled storage targets"))
	}

	if c.Upload.Workers < 0 || c.Upload.Attempts < 0 {
		errs = append(errs, errors.New("upload: workers and attempts must not be negative"))
	}

	if _, err := c.Rules(); err != nil {
		errs = append(errs, err)
	}

	fallback, err := c.sensitiveFallback()
	if err != nil {
		errs = append(errs, err)
	}

	needsKeys := c.Classification.EncryptSensitive || lo.SomeBy(lo.Values(enabled), func(t TargetConfig) bool { return t.Encrypt })
	if needsKeys && c.Encryption.Type == "none" {
		errs = append(errs, errors.New("encryption is required by the routing policy but encryption type is none"))
	}

	_, hasProton := enabled[engine.KindProton]
	if !hasProton && fallback != "" && !c.Classification.EncryptSensitive && !enabled[fallback].Encrypt {
		warnings = append(warnings, fmt.Sprintf("sensitive files fall back to %s without encryption", fallback))
	}
	if !hasProton && fallback == "" && len(c.Classification.SensitiveKeywords)+len(c.Classification.SensitiveExtensions) > 0 {
		warnings = append(warnings, "proton is not enabled and no sensitive_fallback is set; sensitive files will not be backed up")
	}
	if fallback != "" {
		if _, ok := enabled[fallback]; !ok {
			warnings = append(warnings, fmt.Sprintf("sensitive_fallback %s is not an enabled target", fallback))
		}
	}

	return warnings, errors.Join(errs...)
}

func (t TargetConfig) checkFields(kind engine.BackendKind) error {
	if t.Driver == "memory" {
		return nil
	}
	if t.Driver != "" {
		return fmt.Errorf("target %s: unknown driver %q", t.Name, t.Driver)
	}
	switch kind {
	case engine.KindLocal:
		if t.BackupDirectory == "" {
			return fmt.Errorf("target %s: backup_directory required for local target", t.Name)
		}
	case engine.KindAWS:
		if t.S3Bucket == "" {
			return fmt.Errorf("target %s: s3_bucket required for aws target", t.Name)
		}
	case engine.KindProton:
		if t.SyncDirectory == "" {
			return fmt.Errorf("target %s: sync_directory required for proton target", t.Name)
		}
	}
	return nil
}

func (c *Config) sensitiveFallback() (engine.BackendKind, error) {
	switch c.Classification.SensitiveFallback {
	case "", "none":
		return "", nil
	case "local":
		return engine.KindLocal, nil
	case "aws":
		return engine.KindAWS, nil
	default:
		return "", fmt.Errorf("unknown sensitive_fallback %q (want none, local or aws)", c.Classification.SensitiveFallback)
	}
}

// Rules compiles the classification section.
func (c *Config) Rules() (*engine.RuleSet, error) {
	cl := c.Classification
	rules := make([]engine.Rule, 0, len(cl.SensitiveKeywords)+len(cl.SensitiveExtensions)+len(cl.CriticalPatterns))
	for _, k := range cl.SensitiveKeywords {
		rules = append(rules, engine.Rule{Kind: engine.RuleKeyword, Value: k, Tier: engine.TierSensitive})
	}
	for _, e := range cl.SensitiveExtensions {
		rules = append(rules, engine.Rule{Kind: engine.RuleExtension, Value: e, Tier: engine.TierSensitive})
	}
	for _, p := range cl.CriticalPatterns {
		rules = append(rules, engine.Rule{Kind: engine.RulePattern, Value: p, Tier: engine.TierCritical})
	}
	return engine.CompileRules(rules)
}

// BuildProfile resolves a named profile into the engine's form. Path roots
// have environment variables expanded.
func (c *Config) BuildProfile(name string) (*engine.Profile, error) {
	pc, ok := c.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile %q not found (have %v)", name, c.ProfileNames())
	}

	rules, err := c.Rules()
	if err != nil {
		return nil, err
	}
	fallback, err := c.sensitiveFallback()
	if err != nil {
		return nil, err
	}

	profile := &engine.Profile{
		Name:  name,
		Rules: rules,
		Policy: engine.RoutingPolicy{
			SensitiveFallback: fallback,
			EncryptSensitive:  c.Classification.EncryptSensitive,
		},
	}
	for _, p := range pc.Paths {
		profile.Paths = append(profile.Paths, engine.PathRule{
			Root:    os.ExpandEnv(p.Root),
			Include: p.Include,
			Exclude: p.Exclude,
		})
	}
	for _, t := range c.Targets {
		kind, ok := engine.ParseBackendKind(t.Kind)
		if !ok {
			return nil, fmt.Errorf("unknown target kind %q", t.Kind)
		}
		profile.Targets = append(profile.Targets, engine.StorageTarget{
			Kind:      kind,
			Name:      t.Name,
			Enabled:   t.Enabled,
			Workers:   t.Workers,
			RateLimit: t.RateLimit,
			Encrypt:   t.Encrypt,
		})
	}
	return profile, nil
}

// UploadOptions returns the engine options with configured overrides
// applied on top of the defaults.
func (c *Config) UploadOptions() engine.Options {
	opts := engine.DefaultOptions()
	u := c.Upload
	if u.Workers > 0 {
		opts.Workers = u.Workers
	}
	if u.Attempts > 0 {
		opts.Attempts = u.Attempts
	}
	if u.RetryDelay.Duration > 0 {
		opts.RetryDelay = u.RetryDelay.Duration
	}
	if u.MaxRetryDelay.Duration > 0 {
		opts.MaxRetryDelay = u.MaxRetryDelay.Duration
	}
	if u.CallTimeout.Duration > 0 {
		opts.CallTimeout = u.CallTimeout.Duration
	}
	if u.HealthcheckTimeout.Duration > 0 {
		opts.HealthcheckTimeout = u.HealthcheckTimeout.Duration
	}
	switch {
	case u.BreakerThreshold < 0:
		opts.BreakerThreshold = 0
	case u.BreakerThreshold > 0:
		opts.BreakerThreshold = uint32(u.BreakerThreshold)
	}
	if u.BreakerCooldown.Duration > 0 {
		opts.BreakerCooldown = u.BreakerCooldown.Duration
	}
	return opts
}
