package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"signaldispatch/internal/signal"
)

// SignalByID loads one signal plus its owning deployment (agent name and
// recipient user). A missing row maps to ErrNotFound so the dispatcher can
// treat it as a terminal input error.
func (s *Store) SignalByID(ctx context.Context, id string) (signal.Signal, signal.Deployment, error) {
	const q = `
SELECT s.id, s.side, s.symbol, s.venue, s.created_at,
       s.should_trade, s.skip_reason, s.execution, s.exec_error,
       s.deployment_id, s.summary, s.allocation_pct, s.leverage,
       d.id, d.agent_name, d.user_id
FROM signals s
LEFT JOIN deployments d ON d.id = s.deployment_id
WHERE s.id = ?`

	var (
		sig       signal.Signal
		dep       signal.Deployment
		createdMS int64
		should    sql.NullInt64
		skip      sql.NullString
		execution string
		execErr   sql.NullString
		depRef    sql.NullString
		summary   sql.NullString
		alloc     sql.NullFloat64
		lev       sql.NullFloat64
		depID     sql.NullString
		agent     sql.NullString
		userID    sql.NullString
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&sig.ID, &sig.Side, &sig.Symbol, &sig.Venue, &createdMS,
		&should, &skip, &execution, &execErr,
		&depRef, &summary, &alloc, &lev,
		&depID, &agent, &userID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return signal.Signal{}, signal.Deployment{}, ErrNotFound
	}
	if err != nil {
		return signal.Signal{}, signal.Deployment{}, err
	}

	sig.CreatedAt = time.UnixMilli(createdMS)
	sig.ShouldTrade = decisionFrom(should)
	sig.SkipReason = skip.String
	sig.Execution = executionFrom(execution)
	sig.ExecError = execErr.String
	sig.DeploymentID = depRef.String
	sig.Summary = summary.String
	sig.AllocationPct = alloc.Float64
	sig.Leverage = lev.Float64

	dep.ID = depID.String
	dep.AgentName = agent.String
	dep.UserID = userID.String
	return sig, dep, nil
}

// PositionBySignal returns the realized trade for a signal, or ErrNotFound
// while execution has not settled into a position row yet.
func (s *Store) PositionBySignal(ctx context.Context, signalID string) (signal.Position, error) {
	const q = `
SELECT signal_id, entry_price, quantity, stop_loss, take_profit, opened_at
FROM positions WHERE signal_id = ?`

	var (
		p        signal.Position
		sl, tp   sql.NullFloat64
		openedMS int64
	)
	err := s.db.QueryRowContext(ctx, q, signalID).Scan(&p.SignalID, &p.EntryPrice, &p.Quantity, &sl, &tp, &openedMS)
	if errors.Is(err, sql.ErrNoRows) {
		return signal.Position{}, ErrNotFound
	}
	if err != nil {
		return signal.Position{}, err
	}
	p.StopLoss = sl.Float64
	p.TakeProfit = tp.Float64
	p.OpenedAt = time.UnixMilli(openedMS)
	return p, nil
}

// BindingByUser returns the recipient's channel binding.
func (s *Store) BindingByUser(ctx context.Context, userID string) (signal.Binding, error) {
	const q = `SELECT user_id, chat_id, active, last_notified_at FROM bindings WHERE user_id = ?`

	var (
		b      signal.Binding
		active int
		lastMS sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, q, userID).Scan(&b.UserID, &b.ChatID, &active, &lastMS)
	if errors.Is(err, sql.ErrNoRows) {
		return signal.Binding{}, ErrNotFound
	}
	if err != nil {
		return signal.Binding{}, err
	}
	b.Active = active != 0
	if lastMS.Valid {
		b.LastNotifiedAt = time.UnixMilli(lastMS.Int64)
	}
	return b, nil
}

// TouchBinding bumps the recipient's last-notified timestamp after a
// successful send. This is the only write the dispatcher performs on an
// externally-owned row.
func (s *Store) TouchBinding(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE bindings SET last_notified_at = ? WHERE user_id = ?`,
		at.UnixMilli(), userID)
	return err
}

// DecidableSignals is the reconciliation scan: signals created since the
// given cutoff, linked to a deployment with an active channel binding, whose
// state already permits a non-WAIT classification, and lacking a sent
// outcome row for the resolved recipient.
func (s *Store) DecidableSignals(ctx context.Context, since time.Time) ([]Candidate, error) {
	const q = `
SELECT s.id, d.user_id
FROM signals s
JOIN deployments d ON d.id = s.deployment_id
JOIN bindings b ON b.user_id = d.user_id AND b.active = 1
WHERE s.created_at >= ?
  AND (
        (s.skip_reason IS NOT NULL AND TRIM(s.skip_reason) <> '')
     OR s.should_trade = 0
     OR (s.should_trade = 1 AND s.execution IN ('success', 'failed'))
  )
  AND NOT EXISTS (
        SELECT 1 FROM ledger l
        WHERE l.signal_id = s.id AND l.user_id = d.user_id
          AND l.status = 'sent' AND l.kind IN ('executed', 'not-traded')
  )
ORDER BY s.created_at ASC`

	rows, err := s.db.QueryContext(ctx, q, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.SignalID, &c.UserID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func decisionFrom(v sql.NullInt64) signal.Decision {
	if !v.Valid {
		return signal.DecisionUnknown
	}
	if v.Int64 == 0 {
		return signal.DecisionNo
	}
	return signal.DecisionYes
}

func executionFrom(v string) signal.Execution {
	switch v {
	case "success":
		return signal.ExecSuccess
	case "failed":
		return signal.ExecFailed
	default:
		return signal.ExecUnresolved
	}
}
