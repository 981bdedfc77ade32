package engine

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_BoundsConcurrency(t *testing.T) {
	p := newPool(2)
	defer p.Close()

	var (
		mu       sync.Mutex
		inFlight int
		peak     int
		done     atomic.Int32
	)
	for range 10 {
		p.Submit(func() {
			mu.Lock()
			inFlight++
			peak = max(peak, inFlight)
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
			done.Add(1)
		})
	}
	p.Wait()

	if got := done.Load(); got != 10 {
		t.Errorf("jobs run = %d, want 10", got)
	}
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestPool_SubmitFromJob(t *testing.T) {
	p := newPool(1)
	defer p.Close()

	var ran atomic.Bool
	p.Submit(func() {
		p.Submit(func() { ran.Store(true) })
	})
	p.Wait()
	if !ran.Load() {
		t.Error("job submitted from a running job did not run before Wait returned")
	}
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p := newPool(1)
	p.Close()
	defer func() {
		if recover() == nil {
			t.Error("Submit() on closed pool did not panic")
		}
	}()
	p.Submit(func() {})
}
