package signal

import "time"

// Side is the direction of a trading decision.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Decision is the tri-state "should this signal be traded" flag.
// Unknown means the upstream analysis has not concluded yet.
type Decision int

const (
	DecisionUnknown Decision = iota
	DecisionYes
	DecisionNo
)

// Execution is the tri-state trade-execution outcome.
// Unresolved means the execution step has not reported back yet.
type Execution int

const (
	ExecUnresolved Execution = iota
	ExecSuccess
	ExecFailed
)

// Signal is a trading decision produced upstream. It is read-only to the
// dispatch subsystem; the trade-execution service owns the row.
type Signal struct {
	ID           string
	Side         Side
	Symbol       string
	Venue        string
	CreatedAt    time.Time
	ShouldTrade  Decision
	SkipReason   string
	Execution    Execution
	ExecError    string
	DeploymentID string

	// Optional analysis output surfaced in notifications.
	Summary       string
	AllocationPct float64 // percent of deployment funds allocated, 0 if unset
	Leverage      float64 // leverage multiple, 0 if unset
}

// Position is the realized trade record. It exists if and only if the
// signal's execution outcome is success.
type Position struct {
	SignalID   string
	EntryPrice float64
	Quantity   float64
	StopLoss   float64 // 0 means not set
	TakeProfit float64 // 0 means not set
	OpenedAt   time.Time
}

// Deployment links a signal to the agent instance that produced it and the
// single end user who deployed that agent.
type Deployment struct {
	ID        string
	AgentName string
	UserID    string
}

// Binding maps a user to their Telegram chat. Owned by account settings;
// the dispatcher only reads it and bumps LastNotifiedAt after a send.
type Binding struct {
	UserID         string
	ChatID         int64
	Active         bool
	LastNotifiedAt time.Time
}
