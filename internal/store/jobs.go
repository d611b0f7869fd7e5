package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// EnqueueJob inserts a job, deduplicating on its id. A job enqueued twice
// under the same deterministic id (primary path + reconciliation sweep)
// results in a single queue entry. A terminally failed row under the same id
// is revived instead, so a later sweep can re-attempt after retry
// exhaustion. Returns true when a job was created or revived.
func (s *Store) EnqueueJob(ctx context.Context, j Job) (bool, error) {
	now := time.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.NextAttempt.IsZero() {
		j.NextAttempt = now
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = 1
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO jobs(id, kind, signal_id, user_id, context, state, attempts, max_attempts, next_attempt_at, created_at, updated_at)
		 VALUES(?,?,?,?,?,'waiting',0,?,?,?,?)`,
		j.ID, string(j.Kind), nullStr(j.SignalID), j.UserID, nullStr(j.Context),
		j.MaxAttempts, j.NextAttempt.UnixMilli(), j.CreatedAt.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	// Same id already queued. Waiting/active rows stay untouched (idempotent
	// re-enqueue); a failed row goes back to waiting with attempts reset.
	res, err = s.db.ExecContext(ctx,
		`UPDATE jobs
		 SET state = 'waiting', attempts = 0, next_attempt_at = ?, last_error = NULL, updated_at = ?
		 WHERE id = ? AND state = 'failed'`,
		j.NextAttempt.UnixMilli(), now.UnixMilli(), j.ID)
	if err != nil {
		return false, err
	}
	n, err = res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClaimJob moves the oldest due waiting job to active under a claim lease and
// returns it. ErrNotFound means the queue has no due work.
//
// A single UPDATE..RETURNING keeps the claim atomic across worker goroutines
// and across processes sharing the database file.
func (s *Store) ClaimJob(ctx context.Context, owner string, lease time.Duration) (Job, error) {
	now := time.Now()
	const q = `
UPDATE jobs SET state = 'active', claimed_by = ?, claim_until = ?, updated_at = ?
WHERE id = (
    SELECT id FROM jobs
    WHERE state = 'waiting' AND next_attempt_at <= ?
    ORDER BY next_attempt_at ASC, created_at ASC
    LIMIT 1
)
RETURNING id, kind, signal_id, user_id, context, state, attempts, max_attempts, next_attempt_at, last_error, created_at`

	var (
		j         Job
		sigID     sql.NullString
		jctx      sql.NullString
		lastErr   sql.NullString
		kind      string
		state     string
		nextMS    int64
		createdMS int64
	)
	err := s.db.QueryRowContext(ctx, q,
		owner, now.Add(lease).UnixMilli(), now.UnixMilli(), now.UnixMilli(),
	).Scan(&j.ID, &kind, &sigID, &j.UserID, &jctx, &state, &j.Attempts, &j.MaxAttempts, &nextMS, &lastErr, &createdMS)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	j.Kind = JobKind(kind)
	j.SignalID = sigID.String
	j.Context = jctx.String
	j.State = JobState(state)
	j.LastError = lastErr.String
	j.NextAttempt = time.UnixMilli(nextMS)
	j.CreatedAt = time.UnixMilli(createdMS)
	return j, nil
}

// CompleteJob discards a terminally successful job. Deleting (rather than
// keeping a completed row) lets a later sweep re-enqueue the deterministic id
// if the pair still lacks a sent ledger row (e.g. the attempt was a WAIT
// no-op).
func (s *Store) CompleteJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	return err
}

// DeferJob returns an active job to waiting with a delay without counting an
// attempt. Used when the job could not run at all (pair lock held elsewhere),
// as opposed to a delivery attempt that failed.
func (s *Store) DeferJob(ctx context.Context, id string, delay time.Duration) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs
		 SET state = 'waiting', next_attempt_at = ?, claimed_by = NULL, claim_until = NULL, updated_at = ?
		 WHERE id = ?`,
		now.Add(delay).UnixMilli(), now.UnixMilli(), id)
	return err
}

// RetryJob returns an active job to waiting with a delay; the queue-level
// backoff for transient delivery errors.
func (s *Store) RetryJob(ctx context.Context, id string, delay time.Duration, errText string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs
		 SET state = 'waiting', attempts = attempts + 1, next_attempt_at = ?,
		     claimed_by = NULL, claim_until = NULL, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		now.Add(delay).UnixMilli(), nullStr(errText), now.UnixMilli(), id)
	return err
}

// FailJob marks a job terminally failed. The row is kept for operators.
func (s *Store) FailJob(ctx context.Context, id string, errText string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs
		 SET state = 'failed', claimed_by = NULL, claim_until = NULL, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		nullStr(errText), now.UnixMilli(), id)
	return err
}

// RequeueExpiredClaims returns abandoned active jobs (claim lease lapsed,
// e.g. worker crash mid-job) to waiting so the next claim or sweep can pick
// them up. Returns the number of jobs recovered.
func (s *Store) RequeueExpiredClaims(ctx context.Context) (int, error) {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs
		 SET state = 'waiting', claimed_by = NULL, claim_until = NULL, updated_at = ?
		 WHERE state = 'active' AND claim_until IS NOT NULL AND claim_until <= ?`,
		now, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Depth reports the queue census for the health endpoint. Delayed counts
// waiting jobs whose next attempt lies in the future (retry backoff).
func (s *Store) Depth(ctx context.Context) (QueueDepth, error) {
	const q = `
SELECT
    COUNT(*) FILTER (WHERE state = 'waiting' AND next_attempt_at <= ?),
    COUNT(*) FILTER (WHERE state = 'waiting' AND next_attempt_at > ?),
    COUNT(*) FILTER (WHERE state = 'active'),
    COUNT(*) FILTER (WHERE state = 'failed')
FROM jobs`

	now := time.Now().UnixMilli()
	var d QueueDepth
	err := s.db.QueryRowContext(ctx, q, now, now).Scan(&d.Waiting, &d.Delayed, &d.Active, &d.Failed)
	return d, err
}
