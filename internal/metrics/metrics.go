package metrics

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"

	"backup-suite/internal/engine"
)

const namespace = "bsuite"

// Metrics holds the Prometheus collectors for backend calls and sessions.
// It implements engine.SessionObserver.
type Metrics struct {
	registry *prometheus.Registry

	backendCalls  *prometheus.CounterVec
	backendErrors *prometheus.CounterVec
	backendBytes  *prometheus.CounterVec

	sessions        *prometheus.CounterVec
	lastDuration    *prometheus.GaugeVec
	lastFinished    *prometheus.GaugeVec
	lastSuccess     *prometheus.GaugeVec
	lastFiles       *prometheus.GaugeVec
	lastStoredBytes *prometheus.GaugeVec
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		backendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_calls_total",
			Help:      "Backend calls by backend kind and operation.",
		}, []string{"backend", "op"}),
		backendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Backend calls that returned an error.",
		}, []string{"backend", "op"}),
		backendBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_stored_bytes_total",
			Help:      "Bytes written to backends, after compression.",
		}, []string{"backend"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished sessions by profile and final state.",
		}, []string{"profile", "state"}),
		lastDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_session_duration_seconds",
			Help:      "Duration of the most recent session.",
		}, []string{"profile"}),
		lastFinished: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_session_finished_timestamp_seconds",
			Help:      "Unix time the most recent session finished.",
		}, []string{"profile"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the most recent session that completed without errors.",
		}, []string{"profile"}),
		lastFiles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_session_pairs",
			Help:      "Per-target outcomes of the most recent session.",
		}, []string{"profile", "result"}),
		lastStoredBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_session_stored_bytes",
			Help:      "Bytes stored by the most recent session.",
		}, []string{"profile"}),
	}

	m.registry.MustRegister(
		m.backendCalls,
		m.backendErrors,
		m.backendBytes,
		m.sessions,
		m.lastDuration,
		m.lastFinished,
		m.lastSuccess,
		m.lastFiles,
		m.lastStoredBytes,
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveSession records the outcome of a finished session.
func (m *Metrics) ObserveSession(s *engine.BackupSession) {
	state := s.CurrentState()
	m.sessions.WithLabelValues(s.Profile, state.String()).Inc()

	m.lastDuration.WithLabelValues(s.Profile).Set(s.EndedAt.Sub(s.StartedAt).Seconds())
	m.lastFinished.WithLabelValues(s.Profile).Set(float64(s.EndedAt.Unix()))
	if state == engine.StateCompleted {
		m.lastSuccess.WithLabelValues(s.Profile).Set(float64(s.EndedAt.Unix()))
	}

	c := s.Counts
	for result, n := range map[string]int{
		"uploaded":  c.Uploaded,
		"skipped":   c.Skipped,
		"unrouted":  c.Unrouted,
		"cancelled": c.Cancelled,
		"failed":    c.Failed,
	} {
		m.lastFiles.WithLabelValues(s.Profile, result).Set(float64(n))
	}
	m.lastStoredBytes.WithLabelValues(s.Profile).Set(float64(c.StoredBytes))
}

// WriteToTextfile writes every metric to path in the text exposition
// format, for node_exporter's textfile collector.
func (m *Metrics) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}

// WrapBackend returns a Backend that records calls, errors and stored bytes
// for b without changing its behaviour.
func (m *Metrics) WrapBackend(b engine.Backend) engine.Backend {
	return &instrumentedBackend{Backend: b, m: m, kind: string(b.Kind())}
}

type instrumentedBackend struct {
	engine.Backend
	m    *Metrics
	kind string
}

func (ib *instrumentedBackend) observe(op string, err error) {
	ib.m.backendCalls.WithLabelValues(ib.kind, op).Inc()
	if err != nil {
		ib.m.backendErrors.WithLabelValues(ib.kind, op).Inc()
	}
}

func (ib *instrumentedBackend) Healthcheck(ctx context.Context) error {
	err := ib.Backend.Healthcheck(ctx)
	ib.observe("healthcheck", err)
	return err
}

func (ib *instrumentedBackend) Put(ctx context.Context, rec *engine.FileRecord, content io.Reader) (*engine.PutResult, error) {
	res, err := ib.Backend.Put(ctx, rec, content)
	ib.observe("put", err)
	if err == nil && !res.Existed {
		ib.m.backendBytes.WithLabelValues(ib.kind).Add(float64(res.StoredBytes))
	}
	return res, err
}

func (ib *instrumentedBackend) Exists(ctx context.Context, path, contentHash string) (string, bool, error) {
	id, ok, err := ib.Backend.Exists(ctx, path, contentHash)
	ib.observe("exists", err)
	return id, ok, err
}

func (ib *instrumentedBackend) Verify(ctx context.Context, remoteID, expectedHash string) (bool, error) {
	ok, err := ib.Backend.Verify(ctx, remoteID, expectedHash)
	ib.observe("verify", err)
	return ok, err
}

var (
	_ engine.SessionObserver = (*Metrics)(nil)
	_ engine.Backend         = (*instrumentedBackend)(nil)
)
