package dispatch

import (
	"strings"

	"signaldispatch/internal/signal"
)

// Outcome is the result of classifying a signal-bound job.
type Outcome int

const (
	// OutcomeWait means the signal's state does not yet determine a
	// notification. No ledger row is written; the job completes as a no-op
	// and a later sweep re-enqueues it once the state settles.
	OutcomeWait Outcome = iota
	// OutcomeAlreadyHandled means a sent outcome row already exists for the
	// pair. Nothing to do.
	OutcomeAlreadyHandled
	// OutcomeExecuted means the trade went through; notify with the realized
	// position.
	OutcomeExecuted
	// OutcomeSkipped means the analysis decided against trading; notify with
	// the skip reason.
	OutcomeSkipped
	// OutcomeExecFailed means the trade was attempted and failed; notify
	// with the execution error.
	OutcomeExecFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWait:
		return "wait"
	case OutcomeAlreadyHandled:
		return "already-handled"
	case OutcomeExecuted:
		return "executed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeExecFailed:
		return "exec-failed"
	}
	return "unknown"
}

// Notifiable reports whether the outcome produces a message.
func (o Outcome) Notifiable() bool {
	switch o {
	case OutcomeExecuted, OutcomeSkipped, OutcomeExecFailed:
		return true
	}
	return false
}

// Classify decides, from a signal's current state and the ledger, what (if
// anything) to tell the recipient. Precedence, highest first:
//
//  1. a sent outcome row exists: already handled, regardless of state
//  2. a skip reason is recorded: skipped, even before should-trade settles
//  3. should-trade resolved to no: skipped (reason empty)
//  4. should-trade resolved to yes: follow the execution outcome
//     (success, failed, or wait while unresolved)
//  5. should-trade still unknown: wait
//
// The function is pure; callers re-check the ledger under the pair lock
// before acting on a notifiable outcome.
func Classify(sig signal.Signal, hasSentOutcome bool) Outcome {
	if hasSentOutcome {
		return OutcomeAlreadyHandled
	}
	if strings.TrimSpace(sig.SkipReason) != "" {
		return OutcomeSkipped
	}
	switch sig.ShouldTrade {
	case signal.DecisionNo:
		return OutcomeSkipped
	case signal.DecisionYes:
		switch sig.Execution {
		case signal.ExecSuccess:
			return OutcomeExecuted
		case signal.ExecFailed:
			return OutcomeExecFailed
		}
		return OutcomeWait
	}
	return OutcomeWait
}
