package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestBsuiteHandler_Handle(t *testing.T) {
	ts := time.Date(2026, 3, 1, 2, 30, 45, 0, time.UTC)

	tests := []struct {
		name    string
		runID   string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			runID:   "20260301T023045Z",
			level:   slog.LevelInfo,
			message: "session started",
			want:    "2026-03-01T02:30:45Z\tINFO\t20260301T023045Z\tsession started\n",
		},
		{
			name:    "warn level",
			runID:   "r1",
			level:   slog.LevelWarn,
			message: "backend unavailable",
			want:    "2026-03-01T02:30:45Z\tWARN\tr1\tbackend unavailable\n",
		},
		{
			name:    "with record attrs",
			runID:   "r2",
			level:   slog.LevelInfo,
			message: "file stored",
			attrs:   []slog.Attr{slog.String("path", "/docs/tax.pdf"), slog.String("backend", "proton")},
			want:    "2026-03-01T02:30:45Z\tINFO\tr2\tfile stored\tpath=/docs/tax.pdf\tbackend=proton\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &bsuiteHandler{w: &buf, runID: tt.runID}

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			r.AddAttrs(tt.attrs...)

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestBsuiteHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := &bsuiteHandler{w: &buf, runID: "r1", attrs: []slog.Attr{slog.String("a", "1")}}

	h2 := h.WithAttrs([]slog.Attr{slog.String("session", "backup-1")}).(*bsuiteHandler)
	if len(h.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(h.attrs))
	}

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "upload", 0)
	r.AddAttrs(slog.String("key", "abc"))
	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	got := buf.String()
	for _, want := range []string{"a=1", "session=backup-1", "key=abc"} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q missing %s", got, want)
		}
	}
}

func TestBsuiteHandler_Enabled(t *testing.T) {
	all := &bsuiteHandler{}
	if !all.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("handler without level dropped debug")
	}

	info := &bsuiteHandler{level: slog.LevelInfo}
	if info.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("info handler enabled debug")
	}
	if !info.Enabled(context.Background(), slog.LevelError) {
		t.Error("info handler dropped error")
	}
}

func TestNewLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")
	var console bytes.Buffer

	logger, f, err := newLogger(dir, "run-1", slog.LevelInfo, &console)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	logger.Debug("hidden")
	logger.Info("shown", "k", "v")
	f.Close()

	data, err := os.ReadFile(filepath.Join(dir, "bsuite.log"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "hidden") || !strings.Contains(string(data), "shown\tk=v") {
		t.Errorf("log file = %q", data)
	}
	if console.String() != string(data) {
		t.Errorf("console output %q differs from log file %q", console.String(), data)
	}
}
