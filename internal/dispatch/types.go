package dispatch

import (
	"context"
	"time"

	"signaldispatch/internal/config"
	"signaldispatch/internal/signal"
	"signaldispatch/internal/store"
)

// Config controls the worker pool draining the persistent job queue.
type Config struct {
	Workers      int
	PollInterval time.Duration
	LockLease    time.Duration
	ClaimLease   time.Duration

	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

// ConfigFrom parses the duration strings of the file-level section into a
// runtime Config. Zero fields keep their documented defaults (applied in
// applyLocked, so hot reloads normalize the same way).
func ConfigFrom(c config.DispatcherConfig) (Config, error) {
	var (
		out Config
		err error
	)
	out.Workers = c.Workers
	out.RetryMax = c.RetryMax
	if out.PollInterval, err = config.ParseDuration("dispatcher.poll_interval", c.PollInterval, 0); err != nil {
		return Config{}, err
	}
	if out.LockLease, err = config.ParseDuration("dispatcher.lock_lease", c.LockLease, 0); err != nil {
		return Config{}, err
	}
	if out.ClaimLease, err = config.ParseDuration("dispatcher.claim_lease", c.ClaimLease, 0); err != nil {
		return Config{}, err
	}
	if out.RetryBase, err = config.ParseDuration("dispatcher.retry_base", c.RetryBase, 0); err != nil {
		return Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDuration("dispatcher.retry_max_delay", c.RetryMaxDelay, 0); err != nil {
		return Config{}, err
	}
	return out, nil
}

// Gateway delivers one rendered notification to a chat and returns the
// channel-assigned message id. Implementations classify their own failures
// with NoRetry / RetryAfter so the worker does not need channel-specific
// error knowledge.
type Gateway interface {
	Send(ctx context.Context, chatID int64, body string) (string, error)
}

// Storage is the persistent collaborator: read models, append-only ledger,
// job queue and lease locks. *store.Store is the production implementation.
type Storage interface {
	SignalByID(ctx context.Context, id string) (signal.Signal, signal.Deployment, error)
	PositionBySignal(ctx context.Context, signalID string) (signal.Position, error)
	BindingByUser(ctx context.Context, userID string) (signal.Binding, error)
	TouchBinding(ctx context.Context, userID string, at time.Time) error

	HasSentOutcome(ctx context.Context, signalID, userID string) (bool, error)
	AppendLedger(ctx context.Context, e store.LedgerEntry) error

	EnqueueJob(ctx context.Context, j store.Job) (bool, error)
	ClaimJob(ctx context.Context, owner string, lease time.Duration) (store.Job, error)
	CompleteJob(ctx context.Context, id string) error
	DeferJob(ctx context.Context, id string, delay time.Duration) error
	RetryJob(ctx context.Context, id string, delay time.Duration, errText string) error
	FailJob(ctx context.Context, id string, errText string) error
	RequeueExpiredClaims(ctx context.Context) (int, error)

	TryLock(ctx context.Context, key, owner string, lease time.Duration) (bool, error)
	Unlock(ctx context.Context, key, owner string) error
}

// Snapshot is the dispatcher census reported by the health endpoint.
// Counters are cumulative since process start.
type Snapshot struct {
	Workers   int    `json:"workers"`
	Processed uint64 `json:"processed"`
	Sent      uint64 `json:"sent"`
	Retried   uint64 `json:"retried"`
	Failed    uint64 `json:"failed"`
	Skipped   uint64 `json:"skipped"`
}
