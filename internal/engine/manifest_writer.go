package engine

import (
	"github.com/juju/clock"
	"github.com/juju/retry"
)

// manifestWriter is the single write path into the manifest during a
// session. Workers hand it entries; one goroutine applies them in order.
// Entries whose upsert fails are kept for a retry before the session ends.
type manifestWriter struct {
	store  ManifestStore
	logger Logger

	entries chan *ManifestEntry
	done    chan struct{}
	failed  []*ManifestEntry
}

func newManifestWriter(store ManifestStore, logger Logger) *manifestWriter {
	w := &manifestWriter{
		store:   store,
		logger:  logger,
		entries: make(chan *ManifestEntry, 64),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *manifestWriter) run() {
	defer close(w.done)
	for e := range w.entries {
		if err := w.store.Upsert(e); err != nil {
			w.logger.Warn("manifest upsert failed, buffering", "path", e.Path, "error", err)
			w.failed = append(w.failed, e)
		}
	}
}

func (w *manifestWriter) submit(e *ManifestEntry) {
	w.entries <- e
}

// close stops accepting entries and returns those that were not persisted.
func (w *manifestWriter) close() []*ManifestEntry {
	close(w.entries)
	<-w.done
	return w.failed
}

// flush retries buffered entries and returns the ones that still fail.
func flushManifest(store ManifestStore, pending []*ManifestEntry, opts Options, clk clock.Clock, logger Logger) []error {
	var errs []error
	for _, e := range pending {
		err := retry.Call(retry.CallArgs{
			Func:        func() error { return store.Upsert(e) },
			Attempts:    opts.Attempts,
			Delay:       opts.RetryDelay,
			MaxDelay:    opts.MaxRetryDelay,
			BackoffFunc: retry.DoubleDelay,
			Clock:       clk,
		})
		if err != nil {
			if retry.IsAttemptsExceeded(err) {
				err = retry.LastError(err)
			}
			logger.Error("manifest write failed", "path", e.Path, "error", err)
			errs = append(errs, &ManifestWriteError{Path: e.Path, Err: err})
		}
	}
	return errs
}
