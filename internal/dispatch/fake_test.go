package dispatch

import (
	"context"
	"sync"
	"time"

	"signaldispatch/internal/signal"
	"signaldispatch/internal/store"
)

// fakeStore is an in-memory Storage with the same semantics as the sqlite
// implementation, close enough for worker-path tests.
type fakeStore struct {
	mu sync.Mutex

	signals   map[string]signal.Signal
	deps      map[string]signal.Deployment // keyed by signal id
	positions map[string]signal.Position
	bindings  map[string]signal.Binding

	ledger []store.LedgerEntry
	jobs   map[string]*store.Job
	locks  map[string]fakeLease

	failTouch bool
}

type fakeLease struct {
	owner string
	until time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		signals:   map[string]signal.Signal{},
		deps:      map[string]signal.Deployment{},
		positions: map[string]signal.Position{},
		bindings:  map[string]signal.Binding{},
		jobs:      map[string]*store.Job{},
		locks:     map[string]fakeLease{},
	}
}

func (f *fakeStore) SignalByID(_ context.Context, id string) (signal.Signal, signal.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sig, ok := f.signals[id]
	if !ok {
		return signal.Signal{}, signal.Deployment{}, store.ErrNotFound
	}
	return sig, f.deps[id], nil
}

func (f *fakeStore) PositionBySignal(_ context.Context, signalID string) (signal.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[signalID]
	if !ok {
		return signal.Position{}, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) BindingByUser(_ context.Context, userID string) (signal.Binding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bindings[userID]
	if !ok {
		return signal.Binding{}, store.ErrNotFound
	}
	return b, nil
}

func (f *fakeStore) TouchBinding(_ context.Context, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTouch {
		return store.ErrNotFound
	}
	b := f.bindings[userID]
	b.LastNotifiedAt = at
	f.bindings[userID] = b
	return nil
}

func (f *fakeStore) HasSentOutcome(_ context.Context, signalID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasSentLocked(signalID, userID), nil
}

func (f *fakeStore) hasSentLocked(signalID, userID string) bool {
	for _, e := range f.ledger {
		if e.SignalID == signalID && e.UserID == userID && e.Status == store.StatusSent &&
			(e.Kind == store.KindExecuted || e.Kind == store.KindNotTraded) {
			return true
		}
	}
	return false
}

func (f *fakeStore) AppendLedger(_ context.Context, e store.LedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.Status == store.StatusSent && (e.Kind == store.KindExecuted || e.Kind == store.KindNotTraded) &&
		f.hasSentLocked(e.SignalID, e.UserID) {
		return store.ErrDuplicateOutcome
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.ID = int64(len(f.ledger) + 1)
	f.ledger = append(f.ledger, e)
	return nil
}

func (f *fakeStore) EnqueueJob(_ context.Context, j store.Job) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.jobs[j.ID]; ok {
		if cur.State != store.JobFailed {
			return false, nil
		}
		cur.State = store.JobWaiting
		cur.Attempts = 0
		cur.LastError = ""
		cur.NextAttempt = time.Now()
		return true, nil
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = 1
	}
	j.State = store.JobWaiting
	if j.NextAttempt.IsZero() {
		j.NextAttempt = time.Now()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	cp := j
	f.jobs[j.ID] = &cp
	return true, nil
}

func (f *fakeStore) ClaimJob(_ context.Context, owner string, lease time.Duration) (store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	var best *store.Job
	for _, j := range f.jobs {
		if j.State != store.JobWaiting || j.NextAttempt.After(now) {
			continue
		}
		if best == nil || j.NextAttempt.Before(best.NextAttempt) {
			best = j
		}
	}
	if best == nil {
		return store.Job{}, store.ErrNotFound
	}
	best.State = store.JobActive
	return *best, nil
}

func (f *fakeStore) CompleteJob(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, id)
	return nil
}

func (f *fakeStore) DeferJob(_ context.Context, id string, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		j.State = store.JobWaiting
		j.NextAttempt = time.Now().Add(delay)
	}
	return nil
}

func (f *fakeStore) RetryJob(_ context.Context, id string, delay time.Duration, errText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		j.State = store.JobWaiting
		j.Attempts++
		j.NextAttempt = time.Now().Add(delay)
		j.LastError = errText
	}
	return nil
}

func (f *fakeStore) FailJob(_ context.Context, id string, errText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		j.State = store.JobFailed
		j.LastError = errText
	}
	return nil
}

func (f *fakeStore) RequeueExpiredClaims(_ context.Context) (int, error) { return 0, nil }

func (f *fakeStore) TryLock(_ context.Context, key, owner string, lease time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	if l, ok := f.locks[key]; ok && l.until.After(now) && l.owner != owner {
		return false, nil
	}
	f.locks[key] = fakeLease{owner: owner, until: now.Add(lease)}
	return true, nil
}

func (f *fakeStore) Unlock(_ context.Context, key, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.locks[key]; ok && l.owner == owner {
		delete(f.locks, key)
	}
	return nil
}

func (f *fakeStore) job(id string) (store.Job, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return store.Job{}, false
	}
	return *j, true
}

func (f *fakeStore) ledgerRows() []store.LedgerEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.LedgerEntry(nil), f.ledger...)
}

type sendCall struct {
	chatID int64
	body   string
}

// fakeGateway records sends and pops errors from a scripted queue.
type fakeGateway struct {
	mu    sync.Mutex
	sends []sendCall
	errs  []error
	next  int
}

func (g *fakeGateway) Send(_ context.Context, chatID int64, body string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.next < len(g.errs) {
		err := g.errs[g.next]
		g.next++
		if err != nil {
			return "", err
		}
	}
	g.sends = append(g.sends, sendCall{chatID: chatID, body: body})
	return "msg-1", nil
}

func (g *fakeGateway) calls() []sendCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sendCall(nil), g.sends...)
}
