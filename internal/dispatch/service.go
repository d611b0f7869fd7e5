package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"signaldispatch/internal/notify/format"
	rtsup "signaldispatch/internal/runtime/supervisor"
	"signaldispatch/internal/store"
	logx "signaldispatch/pkg/logx"
)

var ErrStopped = errors.New("dispatch: stopped")

// Service drains the persistent job queue with a worker pool: claim, lock,
// classify, render, deliver, record. It is safe for concurrent use and
// survives config reloads via Apply.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	st      Storage
	gateway Gateway
	fmtOpts format.Options

	cfg   Config
	owner string // lock/claim owner id, unique per process

	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	// wake nudges idle pollers when new work is enqueued locally.
	wake chan struct{}

	processed uint64
	sent      uint64
	retried   uint64
	failed    uint64
	skipped   uint64
}

func New(cfg Config, st Storage, gw Gateway, fmtOpts format.Options, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:     log,
		st:      st,
		gateway: gw,
		fmtOpts: fmtOpts,
		owner:   uuid.NewString(),
	}
	s.applyLocked(cfg)
	return s
}

// Apply installs a new config. Pool size changes take effect on the next
// Start; timing knobs apply to the next claim each loop makes.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	// Defaults
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.LockLease < time.Minute {
		cfg.LockLease = 90 * time.Second
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 2 * time.Minute
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 5
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 2 * time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 2 * time.Minute
	}
	s.cfg = cfg
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Start is idempotent. Workers restart on error with backoff.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.sup != nil {
		s.mu.Unlock()
		return
	}

	s.wake = make(chan struct{}, 1)
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "dispatch"))),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		name := fmt.Sprintf("worker.%d", i)
		sup.GoRestart(name, s.pollLoop, rtsup.WithPublishFirstError(true))
	}
	sup.GoRestart("claims.reaper", s.reapLoop, rtsup.WithPublishFirstError(true))
}

// Stop waits for in-flight jobs to finish, best-effort until ctx deadline.
// A job interrupted mid-send is returned to the queue by its claim lease.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	sup := s.sup
	if sup == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		sup.Cancel()
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.sup = nil
		s.wake = nil
		s.stopDone = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Snapshot returns cumulative counters for operational visibility.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	workers := s.cfg.Workers
	s.mu.Unlock()
	return Snapshot{
		Workers:   workers,
		Processed: atomic.LoadUint64(&s.processed),
		Sent:      atomic.LoadUint64(&s.sent),
		Retried:   atomic.LoadUint64(&s.retried),
		Failed:    atomic.LoadUint64(&s.failed),
		Skipped:   atomic.LoadUint64(&s.skipped),
	}
}

// EnqueueSignal queues the outcome notification for one (signal, recipient)
// pair. The id is deterministic, so the primary path and the reconciliation
// sweep collapse into a single queue entry. Returns true when a job was
// created (or a terminally failed one revived).
func (s *Service) EnqueueSignal(ctx context.Context, signalID, userID string) (bool, error) {
	if signalID == "" || userID == "" {
		return false, errors.New("dispatch: signal id and user id required")
	}
	created, err := s.st.EnqueueJob(ctx, store.Job{
		ID:          "notify-" + signalID + "-" + userID,
		Kind:        store.JobSignalOutcome,
		SignalID:    signalID,
		UserID:      userID,
		MaxAttempts: s.config().RetryMax,
	})
	if err != nil {
		return false, err
	}
	if created {
		s.nudge()
	}
	return created, nil
}

// EnqueueQuotaExceeded queues an out-of-band quota notification. Ids are
// random; the hourly keyless lock, not the queue, bounds repeats.
func (s *Service) EnqueueQuotaExceeded(ctx context.Context, userID string, ev format.QuotaEvent) (bool, error) {
	if userID == "" {
		return false, errors.New("dispatch: user id required")
	}
	blob, err := json.Marshal(ev)
	if err != nil {
		return false, fmt.Errorf("dispatch: encode quota event: %w", err)
	}
	created, err := s.st.EnqueueJob(ctx, store.Job{
		ID:          "event-" + uuid.NewString(),
		Kind:        store.JobQuotaExceeded,
		UserID:      userID,
		Context:     string(blob),
		MaxAttempts: s.config().RetryMax,
	})
	if err != nil {
		return false, err
	}
	if created {
		s.nudge()
	}
	return created, nil
}

func (s *Service) nudge() {
	s.mu.Lock()
	w := s.wake
	s.mu.Unlock()
	if w == nil {
		return
	}
	select {
	case w <- struct{}{}:
	default:
	}
}

func (s *Service) pollLoop(ctx context.Context) error {
	// Smooth claim bursts after a sweep enqueues many jobs at once.
	lim := rate.NewLimiter(rate.Limit(20), 20)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := lim.Wait(ctx); err != nil {
			return err
		}

		cfg := s.config()
		job, err := s.st.ClaimJob(ctx, s.owner, cfg.ClaimLease)
		if errors.Is(err, store.ErrNotFound) {
			s.idle(ctx, cfg.PollInterval)
			continue
		}
		if err != nil {
			return fmt.Errorf("claim job: %w", err)
		}

		atomic.AddUint64(&s.processed, 1)
		s.processJob(ctx, cfg, job)
	}
}

func (s *Service) idle(ctx context.Context, d time.Duration) {
	s.mu.Lock()
	w := s.wake
	s.mu.Unlock()

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	case <-w:
	}
}

func (s *Service) reapLoop(ctx context.Context) error {
	for {
		cfg := s.config()
		interval := cfg.ClaimLease / 2
		if interval < 10*time.Second {
			interval = 10 * time.Second
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}

		n, err := s.st.RequeueExpiredClaims(ctx)
		if err != nil {
			s.log.Warn("requeue expired claims failed", logx.Err(err))
			continue
		}
		if n > 0 {
			s.log.Info("recovered abandoned jobs", logx.Int("count", n))
			s.nudge()
		}
	}
}
