package store

import (
	"context"
	"time"
)

// TryLock attempts to acquire the lease lock for key. It returns false while
// another owner's lease is still live; an expired lease is taken over.
//
// Acquisition is a single upsert whose WHERE clause loses cleanly under
// contention, so no extra read or transaction is needed.
func (s *Store) TryLock(ctx context.Context, key, owner string, lease time.Duration) (bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO locks(key, owner, lease_until) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET owner = excluded.owner, lease_until = excluded.lease_until
		 WHERE locks.lease_until <= ? OR locks.owner = excluded.owner`,
		key, owner, now.Add(lease).UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Unlock releases the lock if this owner still holds it. Releasing someone
// else's lease (ours expired and was taken over) is a no-op.
func (s *Store) Unlock(ctx context.Context, key, owner string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM locks WHERE key = ? AND owner = ?`, key, owner)
	return err
}
