package metrics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"backup-suite/internal/backend"
	"backup-suite/internal/engine"
)

func TestWrapBackend_CountsCalls(t *testing.T) {
	ctx := context.Background()
	m := New()
	mem := backend.NewMemoryBackend(engine.KindAWS, "mem")
	b := m.WrapBackend(mem)

	if b.Kind() != engine.KindAWS || b.Name() != "mem" {
		t.Errorf("wrapped Kind(), Name() = %s, %s", b.Kind(), b.Name())
	}

	rec := &engine.FileRecord{Path: "/a", ContentHash: strings.Repeat("ab", 32)}
	res, err := b.Put(ctx, rec, strings.NewReader("12345"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := b.Verify(ctx, res.RemoteID, res.PayloadHash); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if err := b.Healthcheck(ctx); err != nil {
		t.Fatalf("Healthcheck() error = %v", err)
	}

	if got := value(t, m, "bsuite_backend_calls_total", map[string]string{"backend": "aws", "op": "put"}); got != 1 {
		t.Errorf("put calls = %v, want 1", got)
	}
	if got := value(t, m, "bsuite_backend_calls_total", map[string]string{"backend": "aws", "op": "verify"}); got != 1 {
		t.Errorf("verify calls = %v, want 1", got)
	}
	if got := value(t, m, "bsuite_backend_stored_bytes_total", map[string]string{"backend": "aws"}); got != 5 {
		t.Errorf("stored bytes = %v, want 5", got)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if err := b.Healthcheck(cctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Healthcheck(cancelled) = %v", err)
	}
	if got := value(t, m, "bsuite_backend_errors_total", map[string]string{"backend": "aws", "op": "healthcheck"}); got != 1 {
		t.Errorf("healthcheck errors = %v, want 1", got)
	}
}

func TestObserveSession(t *testing.T) {
	m := New()
	start := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	sess := &engine.BackupSession{
		ID:        "backup-20260301-020000-abcd",
		Profile:   "home",
		StartedAt: start,
		EndedAt:   start.Add(2 * time.Minute),
		State:     engine.StateCompleted,
		Counts:    engine.Counts{Uploaded: 7, Skipped: 3, StoredBytes: 1024},
	}

	m.ObserveSession(sess)

	if got := value(t, m, "bsuite_sessions_total", map[string]string{"profile": "home", "state": "COMPLETED"}); got != 1 {
		t.Errorf("sessions_total = %v, want 1", got)
	}
	if got := value(t, m, "bsuite_last_session_duration_seconds", map[string]string{"profile": "home"}); got != 120 {
		t.Errorf("last duration = %v, want 120", got)
	}
	if got := value(t, m, "bsuite_last_success_timestamp_seconds", map[string]string{"profile": "home"}); got != float64(sess.EndedAt.Unix()) {
		t.Errorf("last success = %v", got)
	}
	if got := value(t, m, "bsuite_last_session_pairs", map[string]string{"profile": "home", "result": "uploaded"}); got != 7 {
		t.Errorf("uploaded pairs = %v, want 7", got)
	}

	m.ObserveSession(&engine.BackupSession{
		Profile:   "home",
		StartedAt: start,
		EndedAt:   start.Add(time.Hour),
		State:     engine.StateFailed,
	})
	if got := value(t, m, "bsuite_last_success_timestamp_seconds", map[string]string{"profile": "home"}); got != float64(sess.EndedAt.Unix()) {
		t.Error("a failed session moved the last success timestamp")
	}
}

func TestWriteToTextfile(t *testing.T) {
	m := New()
	m.ObserveSession(&engine.BackupSession{Profile: "home", State: engine.StateCompleted})

	path := filepath.Join(t.TempDir(), "bsuite.prom")
	if err := m.WriteToTextfile(path); err != nil {
		t.Fatalf("WriteToTextfile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `bsuite_sessions_total{profile="home",state="COMPLETED"} 1`) {
		t.Errorf("textfile missing session counter:\n%s", data)
	}
}

// value returns the current value of the counter or gauge name with exactly
// the given labels, or 0 if it has not been set.
func value(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range mf.GetMetric() {
			if len(metric.GetLabel()) != len(labels) {
				continue
			}
			for _, l := range metric.GetLabel() {
				if labels[l.GetName()] != l.GetValue() {
					continue metrics
				}
			}
			if c := metric.GetCounter(); c != nil {
				return c.GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	return 0
}
