package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew_DefaultLimit(t *testing.T) {
	g := New("test-default", 0)
	if g.Max() != DefaultMaxConcurrent {
		t.Errorf("Max() = %d, want %d", g.Max(), DefaultMaxConcurrent)
	}
}

func TestGate_NeverExceedsMax(t *testing.T) {
	const (
		maxConcurrent = 3
		callers       = 50
	)
	g := New("test-peak", maxConcurrent)

	var (
		wg       sync.WaitGroup
		current  atomic.Int64
		observed atomic.Int64
	)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Do(context.Background(), func(context.Context) error {
				n := current.Add(1)
				for {
					o := observed.Load()
					if n <= o || observed.CompareAndSwap(o, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				current.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("Do() = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := observed.Load(); got > maxConcurrent {
		t.Errorf("observed %d concurrent tasks, max is %d", got, maxConcurrent)
	}
	if g.Peak() > maxConcurrent {
		t.Errorf("Peak() = %d, max is %d", g.Peak(), maxConcurrent)
	}
	if g.Peak() < 1 {
		t.Errorf("Peak() = %d, expected at least one admitted task", g.Peak())
	}
	if g.Active() != 0 {
		t.Errorf("Active() = %d after all tasks finished", g.Active())
	}
}

func TestGate_ReleasesOnError(t *testing.T) {
	g := New("test-error", 1)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		if err := g.Do(context.Background(), func(context.Context) error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("Do() = %v, want boom", err)
		}
	}
	if g.Active() != 0 {
		t.Errorf("Active() = %d, want 0", g.Active())
	}
}

func TestGate_ReleasesOnPanic(t *testing.T) {
	g := New("test-panic", 1)

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		_ = g.Do(context.Background(), func(context.Context) error { panic("tab crashed") })
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := g.Do(ctx, func(context.Context) error { return nil }); err != nil {
		t.Errorf("slot was not released after panic: %v", err)
	}
}

func TestGate_ContextCancelledWhileWaiting(t *testing.T) {
	g := New("test-wait", 1)

	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = g.Do(context.Background(), func(context.Context) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ran := false
	err := g.Do(ctx, func(context.Context) error {
		ran = true
		return nil
	})
	close(hold)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() = %v, want deadline exceeded", err)
	}
	if ran {
		t.Error("task should not run when admission was abandoned")
	}
}

func TestRun(t *testing.T) {
	g := New("test-run", 2)

	got, err := Run(context.Background(), g, func(context.Context) (string, error) {
		return "<html></html>", nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got != "<html></html>" {
		t.Errorf("Run() = %q", got)
	}
}
