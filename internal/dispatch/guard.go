package dispatch

import (
	"context"
	"time"

	"signaldispatch/internal/store"
)

// LockKey is the exclusion key for a signal-bound pair. One key per
// (signal, recipient), shared by the primary path and the sweep, so two
// processes can never deliver the same outcome concurrently.
func LockKey(signalID, userID string) string {
	return "notify:" + signalID + ":" + userID
}

// KeylessLockKey buckets out-of-band events per recipient and hour. The
// bucket bounds how often a repeated event (e.g. quota exhaustion firing on
// every rejected signal) reaches the same user.
func KeylessLockKey(kind store.JobKind, userID string, at time.Time) string {
	return "event:" + string(kind) + ":" + userID + ":" + at.UTC().Format("2006010215")
}

// withLock runs fn while holding the lease lock for key, releasing it
// afterwards. ErrLockBusy is returned without running fn when another owner
// holds the lease. The lease is not extended mid-run; it must outlast the
// worst-case channel send, which the config validator enforces.
func withLock(ctx context.Context, st Storage, key, owner string, lease time.Duration, fn func(ctx context.Context) error) error {
	ok, err := st.TryLock(ctx, key, owner, lease)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockBusy
	}
	defer func() {
		// Release on a fresh context so shutdown cancellation does not leak
		// the lease for its full duration.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = st.Unlock(rctx, key, owner)
	}()
	return fn(ctx)
}
