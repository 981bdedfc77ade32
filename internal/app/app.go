package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"backup-suite/internal/backend"
	"backup-suite/internal/config"
	"backup-suite/internal/encryption"
	"backup-suite/internal/engine"
	"backup-suite/internal/fs"
	"backup-suite/internal/manifest"
	"backup-suite/internal/metrics"
	"backup-suite/internal/summary"
)

// Options controls how the App logs.
type Options struct {
	// Verbose enables debug logging.
	Verbose bool

	// Console receives a copy of every log line. Nil means os.Stderr.
	Console io.Writer
}

// App is the application layer between the CLI and the engine.
// It constructs all dependencies from config, exposes high-level operations
// that accept profile names and raw paths, and owns their lifecycle.
// The caller must call Close when done.
type App struct {
	cfg         *config.Config
	manifest    engine.ManifestStore
	backends    map[engine.BackendKind]engine.Backend
	backendErrs map[engine.BackendKind]error
	encryptor   engine.Encryptor
	summaries   *summary.FileStore
	metrics     *metrics.Metrics
	orch        *engine.Orchestrator
	logger      *slog.Logger
	logFile     *os.File
	ran         bool
}

// NewApp creates a fully wired App from the given config. A manifest that
// cannot be opened does not fail construction; sessions then fail their
// precondition check and still leave a summary behind.
func NewApp(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	warnings, err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	runID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, runID, level, console)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	for _, w := range warnings {
		logger.Warn("config warning", "warning", w)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	store, err := manifest.NewStoreFromConfig(cfg.Manifest)
	if err != nil {
		logger.Error("opening manifest", "error", err)
		store = manifest.Unavailable(err)
	}

	a := &App{
		cfg:         cfg,
		manifest:    store,
		backends:    make(map[engine.BackendKind]engine.Backend),
		backendErrs: make(map[engine.BackendKind]error),
		encryptor:   enc,
		summaries:   summary.NewFileStore(cfg.SummaryDir),
		metrics:     metrics.New(),
		logger:      logger,
		logFile:     logFile,
	}

	var backends []engine.Backend
	for _, t := range cfg.Targets {
		if !t.Enabled {
			continue
		}
		kind, _ := engine.ParseBackendKind(t.Kind)
		b, err := backend.NewBackendFromConfig(ctx, t)
		if err != nil {
			logger.Error("creating backend", "backend", t.Kind, "error", err)
			a.backendErrs[kind] = err
			continue
		}
		b = a.metrics.WrapBackend(b)
		a.backends[kind] = b
		backends = append(backends, b)
	}

	log := &slogAdapter{l: logger}
	a.orch = engine.NewOrchestrator(store, backends, fs.NewOSFilesystemManager(log), enc, log,
		engine.RealClock{}, engine.UUIDGenerator{}, cfg.UploadOptions())
	a.orch.SetSummarySink(a.summaries)
	a.orch.SetObserver(a.metrics)
	return a, nil
}

// Run executes one backup session for the named profile. The returned
// session is nil only when the profile could not be built.
func (a *App) Run(ctx context.Context, profileName string) (*engine.BackupSession, error) {
	profile, err := a.cfg.BuildProfile(profileName)
	if err != nil {
		return nil, err
	}

	a.ran = true
	sess, err := a.orch.Run(ctx, profile)
	if a.cfg.MetricsFile != "" {
		if merr := a.metrics.WriteToTextfile(a.cfg.MetricsFile); merr != nil {
			a.logger.Warn("writing metrics", "error", merr)
		}
	}
	return sess, err
}

// Plan reports what a session for the named profile would do.
func (a *App) Plan(ctx context.Context, profileName string) ([]engine.PlanItem, []error, error) {
	profile, err := a.cfg.BuildProfile(profileName)
	if err != nil {
		return nil, nil, err
	}
	return a.orch.Plan(ctx, profile)
}

// Locate returns the manifest entry for a path, or nil if it was never
// backed up.
func (a *App) Locate(rawPath string) (*engine.ManifestEntry, error) {
	return a.orch.Locate(rawPath)
}

// ManifestEntries returns every manifest entry ordered by path.
func (a *App) ManifestEntries() ([]*engine.ManifestEntry, error) {
	if err := a.manifest.Check(); err != nil {
		return nil, fmt.Errorf("manifest corrupt or unreadable: %w", err)
	}
	return a.manifest.Snapshot()
}

// History returns the most recent session summaries, newest first.
func (a *App) History(limit int) ([]*engine.Summary, error) {
	return a.summaries.List(limit)
}

// Summary returns the summary of one session.
func (a *App) Summary(id string) (*engine.Summary, error) {
	return a.summaries.Read(id)
}

// TargetCheck is the healthcheck result of one enabled target.
type TargetCheck struct {
	Kind engine.BackendKind
	Name string
	Err  error
}

// CheckTargets healthchecks every enabled target.
func (a *App) CheckTargets(ctx context.Context) []TargetCheck {
	timeout := a.cfg.UploadOptions().HealthcheckTimeout

	var out []TargetCheck
	for _, t := range a.cfg.Targets {
		if !t.Enabled {
			continue
		}
		kind, _ := engine.ParseBackendKind(t.Kind)
		check := TargetCheck{Kind: kind, Name: t.Name}
		if b, ok := a.backends[kind]; ok {
			hctx, cancel := context.WithTimeout(ctx, timeout)
			check.Err = b.Healthcheck(hctx)
			cancel()
		} else {
			check.Err = a.backendErrs[kind]
		}
		out = append(out, check)
	}
	return out
}

// Close releases all resources. After a session ran, a SQLite manifest is
// first copied to <manifest>.bak so a later corruption can be recovered by
// hand.
func (a *App) Close() error {
	var errs []error

	if s, ok := a.manifest.(*manifest.SQLiteStore); ok && a.ran {
		if err := backupManifest(s); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.manifest.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing manifest: %w", err))
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return errors.Join(errs...)
}

// backupManifest replaces <manifest>.bak with a fresh copy. In-memory
// databases have no file to sit next to and are skipped.
func backupManifest(s *manifest.SQLiteStore) error {
	if s.Path() == ":memory:" {
		return nil
	}
	dest := s.Path() + ".bak"
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing old manifest backup: %w", err)
	}
	if err := s.BackupTo(dest); err != nil {
		return fmt.Errorf("backing up manifest: %w", err)
	}
	return nil
}
