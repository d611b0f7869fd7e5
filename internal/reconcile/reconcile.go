// Package reconcile is the catch-up path: a periodic sweep over recent
// signals that re-enqueues every pair in a decidable state with no sent
// outcome. Enqueue ids are deterministic, so sweeping is always safe; a
// pair the primary path already handled collapses into the existing entry
// or a clean no-op.
package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"signaldispatch/internal/config"
	"signaldispatch/internal/store"
	logx "signaldispatch/pkg/logx"
)

type Config struct {
	Enabled  bool
	Interval time.Duration
	Lookback time.Duration
}

// ConfigFrom parses the file-level section.
func ConfigFrom(c config.ReconcilerConfig) (Config, error) {
	var (
		out Config
		err error
	)
	out.Enabled = c.Enabled
	if out.Interval, err = config.ParseDuration("reconciler.interval", c.Interval, 2*time.Minute); err != nil {
		return Config{}, err
	}
	if out.Lookback, err = config.ParseDuration("reconciler.lookback", c.Lookback, 24*time.Hour); err != nil {
		return Config{}, err
	}
	return out, nil
}

// Scanner finds pairs needing a notification.
type Scanner interface {
	DecidableSignals(ctx context.Context, since time.Time) ([]store.Candidate, error)
}

// Enqueuer is the dispatch service's intake.
type Enqueuer interface {
	EnqueueSignal(ctx context.Context, signalID, userID string) (bool, error)
}

// Snapshot reports the last completed sweep for the health endpoint.
type Snapshot struct {
	Enabled   bool      `json:"enabled"`
	Sweeps    uint64    `json:"sweeps"`
	LastRun   time.Time `json:"last_run,omitzero"`
	LastFound int       `json:"last_found"`
	LastAdded int       `json:"last_added"`
	LastError string    `json:"last_error,omitempty"`
}

// Service runs the sweep on a fixed interval. Overlapping runs are skipped,
// not queued; a slow sweep simply widens the gap to the next one.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	scan  Scanner
	queue Enqueuer
	cfg   Config

	c       *cron.Cron
	entryID cron.EntryID
	running int32 // sweep in progress

	sweeps    uint64
	lastRun   time.Time
	lastFound int
	lastAdded int
	lastErr   string
}

func New(cfg Config, scan Scanner, queue Enqueuer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Minute
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 24 * time.Hour
	}
	return &Service{log: log, scan: scan, queue: queue, cfg: cfg}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.c != nil {
		return
	}
	s.c = cron.New()
	s.entryID = s.c.Schedule(cron.Every(s.cfg.Interval), cron.FuncJob(func() {
		s.sweep(ctx)
	}))
	s.c.Start()
	s.log.Info("reconciler started",
		logx.Duration("interval", s.cfg.Interval),
		logx.Duration("lookback", s.cfg.Lookback),
	)
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	done := c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Apply restarts the schedule when interval or enablement changed.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	s.mu.Lock()
	same := cfg == s.cfg
	s.mu.Unlock()
	if same {
		return
	}
	s.Stop(ctx)
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.Start(ctx)
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Enabled:   s.cfg.Enabled,
		Sweeps:    s.sweeps,
		LastRun:   s.lastRun,
		LastFound: s.lastFound,
		LastAdded: s.lastAdded,
		LastError: s.lastErr,
	}
}

// Sweep runs one pass immediately. Exposed for startup (catch up on work
// missed while the process was down) and for tests.
func (s *Service) Sweep(ctx context.Context) (found, added int, err error) {
	return s.sweepOnce(ctx)
}

func (s *Service) sweep(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		s.log.Debug("sweep still running, skipping tick")
		return
	}
	defer atomic.StoreInt32(&s.running, 0)

	found, added, err := s.sweepOnce(ctx)
	if err != nil {
		s.log.Warn("sweep failed", logx.Err(err))
		return
	}
	if added > 0 {
		s.log.Info("sweep enqueued work", logx.Int("found", found), logx.Int("added", added))
	}
}

func (s *Service) sweepOnce(ctx context.Context) (found, added int, err error) {
	s.mu.Lock()
	lookback := s.cfg.Lookback
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sweeps++
		s.lastRun = time.Now()
		s.lastFound = found
		s.lastAdded = added
		if err != nil {
			s.lastErr = err.Error()
		} else {
			s.lastErr = ""
		}
		s.mu.Unlock()
	}()

	since := time.Now().Add(-lookback)
	cands, err := s.scan.DecidableSignals(ctx, since)
	if err != nil {
		return 0, 0, err
	}
	found = len(cands)
	for _, c := range cands {
		if ctx.Err() != nil {
			return found, added, ctx.Err()
		}
		created, eerr := s.queue.EnqueueSignal(ctx, c.SignalID, c.UserID)
		if eerr != nil {
			// Keep going; the pair stays decidable and the next sweep
			// retries it.
			s.log.Warn("enqueue candidate failed",
				logx.String("signal", c.SignalID),
				logx.String("user", c.UserID),
				logx.Err(eerr),
			)
			continue
		}
		if created {
			added++
		}
	}
	return found, added, nil
}
