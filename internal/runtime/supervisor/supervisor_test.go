package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoWaitAndFirstError(t *testing.T) {
	t.Parallel()
	sup := New(context.Background())

	boom := errors.New("boom")
	sup.Go("ok", func(ctx context.Context) error { return nil })
	sup.Go("bad", func(ctx context.Context) error { return boom })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sup.Wait(ctx)
	if !errors.Is(err, boom) {
		t.Fatalf("Wait = %v, want wrapped boom", err)
	}
	if c := sup.Snapshot(); c.Started != 2 || c.Active != 0 {
		t.Fatalf("unexpected counters: %+v", c)
	}
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()
	sup := New(context.Background(), WithCancelOnError(true))

	released := make(chan struct{})
	sup.Go("blocker", func(ctx context.Context) error {
		defer close(released)
		<-ctx.Done()
		return ctx.Err()
	})
	sup.Go("failer", func(ctx context.Context) error { return errors.New("fatal") })

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatalf("first error did not cancel sibling goroutines")
	}
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()
	sup := New(context.Background())
	sup.Go("panics", func(ctx context.Context) error { panic("kaboom") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Wait(ctx); err == nil {
		t.Fatalf("panic must surface as supervisor error")
	}
}

func TestGoRestartRestartsUntilCancel(t *testing.T) {
	t.Parallel()
	sup := New(context.Background())

	var runs int64
	sup.GoRestart("flaky", func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		return errors.New("transient")
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt64(&runs) < 3 {
		select {
		case <-deadline:
			t.Fatalf("loop did not restart, runs=%d", atomic.LoadInt64(&runs))
		case <-time.After(5 * time.Millisecond):
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestGoRestartStopsOnCleanExit(t *testing.T) {
	t.Parallel()
	sup := New(context.Background())

	var runs int64
	sup.GoRestart("once", func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := atomic.LoadInt64(&runs); got != 1 {
		t.Fatalf("clean exit must not restart, runs=%d", got)
	}
}
