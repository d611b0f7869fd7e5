package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// ErrDuplicateOutcome is returned when an append would violate the
// one-sent-outcome invariant. Callers treat it as "already handled", not as
// a storage failure.
var ErrDuplicateOutcome = errors.New("store: sent outcome already recorded")

// AppendLedger records one terminal delivery attempt. Rows are append-only;
// the partial unique index rejects a second sent outcome for the same
// (signal, recipient) pair.
func (s *Store) AppendLedger(ctx context.Context, e LedgerEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger(signal_id, user_id, kind, body, message_id, status, error, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		nullStr(e.SignalID), e.UserID, string(e.Kind), e.Body,
		nullStr(e.MessageID), string(e.Status), nullStr(e.Error), e.CreatedAt.UnixMilli(),
	)
	if err != nil && strings.Contains(err.Error(), "ledger_sent_outcome") {
		return ErrDuplicateOutcome
	}
	return err
}

// HasSentOutcome reports whether a sent row already exists for the pair in
// either terminal kind. Used by the classifier's already-handled check and
// the in-lock duplicate suppression.
func (s *Store) HasSentOutcome(ctx context.Context, signalID, userID string) (bool, error) {
	const q = `
SELECT 1 FROM ledger
WHERE signal_id = ? AND user_id = ? AND status = 'sent'
  AND kind IN ('executed', 'not-traded')
LIMIT 1`

	var one int
	err := s.db.QueryRowContext(ctx, q, signalID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// LedgerBySignal returns all attempts for a pair, oldest first. Used by
// operators and tests; the dispatcher itself only needs HasSentOutcome.
func (s *Store) LedgerBySignal(ctx context.Context, signalID, userID string) ([]LedgerEntry, error) {
	const q = `
SELECT id, signal_id, user_id, kind, body, message_id, status, error, created_at
FROM ledger WHERE signal_id = ? AND user_id = ? ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, q, signalID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLedger(rows)
}

// LedgerCounts returns the sent/failed row totals, exposed by the health
// endpoint as a cheap delivery census.
func (s *Store) LedgerCounts(ctx context.Context) (LedgerCounts, error) {
	const q = `
SELECT
  COUNT(*) FILTER (WHERE status = 'sent')   AS sent,
  COUNT(*) FILTER (WHERE status = 'failed') AS failed
FROM ledger`

	var c LedgerCounts
	err := s.db.QueryRowContext(ctx, q).Scan(&c.Sent, &c.Failed)
	return c, err
}

func scanLedger(rows *sql.Rows) ([]LedgerEntry, error) {
	var out []LedgerEntry
	for rows.Next() {
		var (
			e         LedgerEntry
			sigID     sql.NullString
			msgID     sql.NullString
			errText   sql.NullString
			kind      string
			status    string
			createdMS int64
		)
		if err := rows.Scan(&e.ID, &sigID, &e.UserID, &kind, &e.Body, &msgID, &status, &errText, &createdMS); err != nil {
			return nil, err
		}
		e.SignalID = sigID.String
		e.Kind = Kind(kind)
		e.MessageID = msgID.String
		e.Status = LedgerStatus(status)
		e.Error = errText.String
		e.CreatedAt = time.UnixMilli(createdMS)
		out = append(out, e)
	}
	return out, rows.Err()
}
