package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/juju/clock"
)

// SessionObserver is notified once per finished session. The metrics layer
// implements it.
type SessionObserver interface {
	ObserveSession(s *BackupSession)
}

// Orchestrator drives backup sessions. It holds no per-session state, so one
// Orchestrator may run several profiles one after another.
type Orchestrator struct {
	manifest  ManifestStore
	backends  map[BackendKind]Backend
	fsmgr     FilesystemManager
	encryptor Encryptor
	logger    Logger
	clock     Clock
	ids       IDGenerator
	opts      Options

	retryClock clock.Clock
	summaries  SummarySink
	observer   SessionObserver
}

// NewOrchestrator creates an orchestrator. encryptor may be nil when no
// target requires encryption.
func NewOrchestrator(manifest ManifestStore, backends []Backend, fsmgr FilesystemManager, encryptor Encryptor, logger Logger, clk Clock, ids IDGenerator, opts Options) *Orchestrator {
	if logger == nil {
		logger = NewNopLogger()
	}
	byKind := make(map[BackendKind]Backend, len(backends))
	for _, b := range backends {
		byKind[b.Kind()] = b
	}
	return &Orchestrator{
		manifest:   manifest,
		backends:   byKind,
		fsmgr:      fsmgr,
		encryptor:  encryptor,
		logger:     logger,
		clock:      clk,
		ids:        ids,
		opts:       opts.withDefaults(),
		retryClock: clock.WallClock,
	}
}

// SetSummarySink sets where finished session summaries are persisted.
func (o *Orchestrator) SetSummarySink(sink SummarySink) { o.summaries = sink }

// SetObserver sets the session observer.
func (o *Orchestrator) SetObserver(obs SessionObserver) { o.observer = obs }

// Run executes one session for profile. It always returns the session,
// including when preconditions fail. The error is non-nil only when the
// session ended FAILED or its summary could not be persisted.
func (o *Orchestrator) Run(ctx context.Context, profile *Profile) (*BackupSession, error) {
	now := o.clock.Now()
	sess := newSession(NewSessionID(now, o.ids), profile.Name, now)
	o.logger.Info("session started", "session", sess.ID, "profile", profile.Name)

	r := &sessionRun{o: o, sess: sess, profile: profile, lanes: make(map[BackendKind]*lane)}

	if err := r.init(ctx); err != nil {
		o.logger.Error("session precondition failed", "session", sess.ID, "error", err)
		sess.addError(err)
		if serr := o.finish(sess, StateFailed); serr != nil {
			return sess, errors.Join(err, serr)
		}
		return sess, err
	}

	r.execute(ctx)

	sess.advance(StateSummarizing, o.clock.Now())
	for _, err := range flushManifest(o.manifest, r.writer.close(), o.opts, o.retryClock, o.logger) {
		sess.addError(err)
		sess.ManifestConsistent = false
	}
	if !sess.ManifestConsistent {
		sess.addWarning(errors.New("manifest is missing successful uploads; the next run will re-check them against the backends"))
	}

	sess.summarize()
	final := StateCompleted
	if len(sess.Errors) > 0 || sess.Counts.Failed > 0 || !sess.ManifestConsistent {
		final = StateCompletedWithErrors
	}
	return sess, o.finish(sess, final)
}

// finish moves the session to its terminal state and persists the summary.
func (o *Orchestrator) finish(sess *BackupSession, final SessionState) error {
	if final == StateFailed {
		sess.summarize()
	}
	sess.EndedAt = o.clock.Now()
	sess.advance(final, sess.EndedAt)

	c := sess.Counts
	o.logger.Info("session finished",
		"session", sess.ID,
		"state", final.String(),
		"files", c.Files,
		"uploaded", c.Uploaded,
		"skipped", c.Skipped,
		"unrouted", c.Unrouted,
		"failed", c.Failed,
		"warnings", c.Warnings,
	)

	if o.observer != nil {
		o.observer.ObserveSession(sess)
	}
	if o.summaries == nil {
		return nil
	}
	if err := o.summaries.WriteSummary(NewSummary(sess)); err != nil {
		o.logger.Error("writing session summary", "session", sess.ID, "error", err)
		return fmt.Errorf("writing session summary: %w", err)
	}
	return nil
}

// Locate returns the manifest entry for a path, or nil if it was never
// backed up.
func (o *Orchestrator) Locate(path string) (*ManifestEntry, error) {
	p, err := NormalizePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	if err := o.manifest.Check(); err != nil {
		return nil, &PreconditionError{Reason: "manifest", Err: &ManifestCorruptionError{Err: err}}
	}
	return o.manifest.Lookup(p)
}

// sessionRun holds the per-session working state.
type sessionRun struct {
	o       *Orchestrator
	sess    *BackupSession
	profile *Profile
	enabled []StorageTarget
	lanes   map[BackendKind]*lane
	writer  *manifestWriter

	mu       sync.Mutex
	verifies []*pendingVerify
}

// init validates preconditions and healthchecks every enabled backend.
func (r *sessionRun) init(ctx context.Context) error {
	o := r.o

	if err := o.manifest.Check(); err != nil {
		return &PreconditionError{Reason: "manifest", Err: &ManifestCorruptionError{Err: err}}
	}
	if len(r.profile.Paths) == 0 {
		return &PreconditionError{Reason: "profile has no paths"}
	}

	r.enabled = r.profile.EnabledTargets()
	if len(r.enabled) == 0 {
		return &PreconditionError{Reason: "no enabled storage targets"}
	}

	if r.needsEncryption() && (o.encryptor == nil || !o.encryptor.IsConfigured()) {
		return &PreconditionError{Reason: "encryption required but no encryption keys are configured"}
	}

	var downErrs []error
	for _, t := range r.enabled {
		b := o.backends[t.Kind]
		l := newLane(t, b, o.opts, o.retryClock, o.logger)
		r.lanes[t.Kind] = l

		name := t.Name
		if b != nil {
			name = b.Name()
		}
		r.sess.BackendResults[t.Kind] = &BackendResult{Name: name}

		var err error
		if b == nil {
			err = fmt.Errorf("no backend configured for kind %s", t.Kind)
		} else {
			hctx, cancel := context.WithTimeout(ctx, o.opts.HealthcheckTimeout)
			err = b.Healthcheck(hctx)
			cancel()
		}
		if err != nil {
			l.markDown(err)
			downErrs = append(downErrs, l.downErr)
			o.logger.Warn("backend unavailable", "backend", t.Kind, "error", err)
			continue
		}
		r.sess.BackendResults[t.Kind].Healthy = true
		o.logger.Debug("backend healthy", "backend", t.Kind)
	}

	if len(downErrs) == len(r.enabled) {
		r.closeLanes()
		return &PreconditionError{Reason: "no healthy storage backend", Err: errors.Join(downErrs...)}
	}
	for _, err := range downErrs {
		r.sess.addError(err)
	}
	return nil
}

func (r *sessionRun) needsEncryption() bool {
	if r.profile.Policy.EncryptSensitive {
		return true
	}
	for _, t := range r.enabled {
		if t.Encrypt {
			return true
		}
	}
	return false
}

func (r *sessionRun) closeLanes() {
	for _, l := range r.lanes {
		l.pool.Close()
	}
}

// advance moves the session state forward and logs real transitions.
func (r *sessionRun) advance(to SessionState) {
	if r.sess.advance(to, r.o.clock.Now()) {
		r.o.logger.Debug("session state", "session", r.sess.ID, "state", to.String())
	}
}

// hashFile returns the hex SHA-256 of a file's content.
func hashFile(fsmgr FilesystemManager, path string) (string, error) {
	f, err := fsmgr.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hr := newHashingReader(f)
	if _, err := io.Copy(io.Discard, hr); err != nil {
		return "", err
	}
	return hr.Sum(), nil
}
