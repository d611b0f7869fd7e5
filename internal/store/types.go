package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a row does not (or no longer does) resolve.
	ErrNotFound = errors.New("store: not found")
)

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Kind enumerates notification kinds. Executed and NotTraded are the two
// mutually exclusive terminal outcomes for a (signal, recipient) pair;
// the remaining kinds are keyless out-of-band events.
type Kind string

const (
	KindExecuted      Kind = "executed"
	KindNotTraded     Kind = "not-traded"
	KindQuotaExceeded Kind = "quota-exceeded"
)

// JobKind keys the dispatch-job variant. Signal-bound jobs resolve their
// final ledger kind through classification at processing time; keyless jobs
// carry the event kind directly.
type JobKind string

const (
	// JobSignalOutcome notifies about a signal's terminal outcome
	// (executed or not-traded, decided by the classifier).
	JobSignalOutcome JobKind = "signal-outcome"
	// JobQuotaExceeded is a keyless out-of-band event.
	JobQuotaExceeded JobKind = "quota-exceeded"
)

// SignalBound reports whether jobs of this kind require a signal id.
func (k JobKind) SignalBound() bool {
	return k == JobSignalOutcome
}

// LedgerStatus is the terminal outcome of one delivery attempt.
type LedgerStatus string

const (
	StatusSent   LedgerStatus = "sent"
	StatusFailed LedgerStatus = "failed"
)

// LedgerEntry is one append-only row per delivery attempt that reached a
// terminal outcome. Rows are never updated in place and never deleted.
type LedgerEntry struct {
	ID        int64
	SignalID  string // empty for keyless kinds
	UserID    string
	Kind      Kind
	Body      string
	MessageID string // channel-assigned id, set when Status == sent
	Status    LedgerStatus
	Error     string // raw gateway error text, set when Status == failed
	CreatedAt time.Time
}

// JobState is the queue-side lifecycle of a dispatch job. Completed jobs are
// deleted rather than kept, so a later reconciliation sweep can re-enqueue
// the same deterministic id while no sent ledger row exists.
type JobState string

const (
	JobWaiting JobState = "waiting"
	JobActive  JobState = "active"
	JobFailed  JobState = "failed"
)

// Job is the unit of work on the persistent queue.
//
// The variant is keyed by Kind: signal-bound jobs carry SignalID, keyless
// jobs carry a free-form Context JSON blob instead.
type Job struct {
	ID          string
	Kind        JobKind
	SignalID    string
	UserID      string
	Context     string // JSON, keyless kinds only
	State       JobState
	Attempts    int
	MaxAttempts int
	NextAttempt time.Time
	LastError   string
	CreatedAt   time.Time
}

// QueueDepth is the queue census reported by the health endpoint.
type QueueDepth struct {
	Waiting int `json:"waiting"`
	Active  int `json:"active"`
	Delayed int `json:"delayed"`
	Failed  int `json:"failed"`
}

// LedgerCounts summarizes the delivery ledger for the health endpoint.
type LedgerCounts struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Candidate is one (signal, recipient) pair produced by the reconciliation
// scan: decidable state, linked deployment, no sent outcome row yet.
type Candidate struct {
	SignalID string
	UserID   string
}
