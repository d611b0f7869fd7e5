package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"signaldispatch/internal/notify/format"
	"signaldispatch/internal/store"
	logx "signaldispatch/pkg/logx"
)

const sendTimeout = 30 * time.Second

// processJob runs one claimed job to a queue-level verdict: complete, defer,
// retry, or fail. All work happens under the pair (or event-bucket) lease
// lock; the ledger is re-checked inside the lock so at most one sent outcome
// row per pair can ever exist.
func (s *Service) processJob(ctx context.Context, cfg Config, job store.Job) {
	log := s.log.With(
		logx.String("job", job.ID),
		logx.String("kind", string(job.Kind)),
		logx.String("user", job.UserID),
	)

	var key string
	if job.Kind.SignalBound() {
		key = LockKey(job.SignalID, job.UserID)
	} else {
		key = KeylessLockKey(job.Kind, job.UserID, time.Now())
	}

	err := withLock(ctx, s.st, key, s.owner, cfg.LockLease, func(ctx context.Context) error {
		return s.runLocked(ctx, cfg, job, log)
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrLockBusy):
		// Another process is on this pair. Come back shortly.
		if derr := s.st.DeferJob(ctx, job.ID, cfg.PollInterval); derr != nil {
			log.Error("defer job failed", logx.Err(derr))
		}
	case ctx.Err() != nil:
		// Shutdown mid-job. The claim lease returns it to the queue.
		log.Debug("job interrupted", logx.Err(err))
	default:
		// Storage-level failure outside the delivery path. Retryable.
		s.retryOrFail(ctx, cfg, job, err, log)
	}
}

// runLocked is the critical section. It returns nil when the job reached a
// queue-terminal state (completed or failed) and an error only for faults
// that should re-run the whole job.
func (s *Service) runLocked(ctx context.Context, cfg Config, job store.Job, log logx.Logger) error {
	switch job.Kind {
	case store.JobSignalOutcome:
		return s.runSignalOutcome(ctx, cfg, job, log)
	case store.JobQuotaExceeded:
		return s.runQuotaExceeded(ctx, cfg, job, log)
	default:
		log.Warn("unknown job kind, dropping")
		atomic.AddUint64(&s.failed, 1)
		return s.st.FailJob(ctx, job.ID, "unknown job kind "+string(job.Kind))
	}
}

func (s *Service) runSignalOutcome(ctx context.Context, cfg Config, job store.Job, log logx.Logger) error {
	if job.SignalID == "" {
		atomic.AddUint64(&s.failed, 1)
		return s.st.FailJob(ctx, job.ID, "signal-bound job without signal id")
	}
	sig, dep, err := s.st.SignalByID(ctx, job.SignalID)
	if errors.Is(err, store.ErrNotFound) {
		// The read model no longer resolves the signal. Nothing will change
		// that; keep the row visible for operators.
		log.Warn("signal not found, failing job")
		atomic.AddUint64(&s.failed, 1)
		return s.st.FailJob(ctx, job.ID, "signal not found: "+job.SignalID)
	}
	if err != nil {
		return err
	}

	hasSent, err := s.st.HasSentOutcome(ctx, job.SignalID, job.UserID)
	if err != nil {
		return err
	}
	outcome := Classify(sig, hasSent)
	if !outcome.Notifiable() {
		// WAIT writes nothing; a later sweep re-enqueues once the state
		// settles. Already-handled is a clean noop either way.
		log.Debug("no notification due", logx.String("outcome", outcome.String()))
		atomic.AddUint64(&s.skipped, 1)
		return s.st.CompleteJob(ctx, job.ID)
	}

	binding, err := s.st.BindingByUser(ctx, job.UserID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !binding.Active) {
		// No deliverable channel. The sweep filters these out; reaching
		// here means the binding changed under us. Silent no-op.
		log.Debug("no active binding, skipping")
		atomic.AddUint64(&s.skipped, 1)
		return s.st.CompleteJob(ctx, job.ID)
	}
	if err != nil {
		return err
	}

	var (
		body string
		kind store.Kind
	)
	switch outcome {
	case OutcomeExecuted:
		pos, perr := s.st.PositionBySignal(ctx, job.SignalID)
		if errors.Is(perr, store.ErrNotFound) {
			// Execution reports success but the position row has not landed
			// yet. Same treatment as an undecided signal: no-op now, the
			// sweep re-enqueues once the row exists.
			log.Debug("position row not landed yet, waiting")
			atomic.AddUint64(&s.skipped, 1)
			return s.st.CompleteJob(ctx, job.ID)
		}
		if perr != nil {
			return perr
		}
		body = s.fmtOpts.Executed(sig, dep, pos)
		kind = store.KindExecuted
	case OutcomeSkipped:
		body = s.fmtOpts.Skipped(sig, dep)
		kind = store.KindNotTraded
	case OutcomeExecFailed:
		body = s.fmtOpts.ExecFailed(sig, dep)
		kind = store.KindNotTraded
	}

	s.deliver(ctx, cfg, job, delivery{
		chatID:   binding.ChatID,
		body:     body,
		kind:     kind,
		signalID: job.SignalID,
	}, log.With(logx.String("outcome", outcome.String())))
	return nil
}

func (s *Service) runQuotaExceeded(ctx context.Context, cfg Config, job store.Job, log logx.Logger) error {
	var ev format.QuotaEvent
	if err := json.Unmarshal([]byte(job.Context), &ev); err != nil {
		log.Warn("malformed event context, failing job", logx.Err(err))
		atomic.AddUint64(&s.failed, 1)
		return s.st.FailJob(ctx, job.ID, "malformed context: "+err.Error())
	}

	binding, err := s.st.BindingByUser(ctx, job.UserID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !binding.Active) {
		log.Debug("no active binding, skipping")
		atomic.AddUint64(&s.skipped, 1)
		return s.st.CompleteJob(ctx, job.ID)
	}
	if err != nil {
		return err
	}

	s.deliver(ctx, cfg, job, delivery{
		chatID: binding.ChatID,
		body:   s.fmtOpts.QuotaExceeded(ev),
		kind:   store.KindQuotaExceeded,
	}, log)
	return nil
}

type delivery struct {
	chatID   int64
	body     string
	kind     store.Kind
	signalID string // empty for keyless kinds
}

// deliver sends the rendered body and records the terminal outcome. The
// semantics are at-most-once: the ledger row is appended after the send, and
// a send that succeeded is never repeated even if the append fails.
func (s *Service) deliver(ctx context.Context, cfg Config, job store.Job, d delivery, log logx.Logger) {
	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	msgID, err := s.gateway.Send(sctx, d.chatID, d.body)
	cancel()

	if err == nil {
		s.recordSent(ctx, job, d, msgID, log)
		return
	}

	if !Transient(err) {
		log.Warn("permanent delivery failure", logx.Err(err))
		atomic.AddUint64(&s.failed, 1)
		entry := store.LedgerEntry{
			SignalID: d.signalID,
			UserID:   job.UserID,
			Kind:     d.kind,
			Body:     d.body,
			Status:   store.StatusFailed,
			Error:    err.Error(),
		}
		if aerr := s.st.AppendLedger(ctx, entry); aerr != nil {
			log.Error("append failed ledger row", logx.Err(aerr))
		}
		if cerr := s.st.CompleteJob(ctx, job.ID); cerr != nil {
			log.Error("complete job failed", logx.Err(cerr))
		}
		return
	}

	s.retryOrFail(ctx, cfg, job, err, log)
}

func (s *Service) recordSent(ctx context.Context, job store.Job, d delivery, msgID string, log logx.Logger) {
	atomic.AddUint64(&s.sent, 1)
	entry := store.LedgerEntry{
		SignalID:  d.signalID,
		UserID:    job.UserID,
		Kind:      d.kind,
		Body:      d.body,
		MessageID: msgID,
		Status:    store.StatusSent,
	}
	err := s.st.AppendLedger(ctx, entry)
	if errors.Is(err, store.ErrDuplicateOutcome) {
		// Lost a cross-process race after all. The message went out twice,
		// which the lock should prevent; loud log, single ledger row.
		log.Error("duplicate sent outcome detected", logx.String("signal", d.signalID))
	} else if err != nil {
		// The message is out; re-running the job would double-send. Record
		// loss is the price of at-most-once.
		log.Error("append sent ledger row failed", logx.Err(err))
	}

	if err := s.st.TouchBinding(ctx, job.UserID, time.Now()); err != nil {
		log.Debug("touch binding failed", logx.Err(err))
	}
	if err := s.st.CompleteJob(ctx, job.ID); err != nil {
		log.Error("complete job failed", logx.Err(err))
	}
	log.Info("notification sent",
		logx.String("ledger_kind", string(d.kind)),
		logx.String("message_id", msgID),
	)
}

// retryOrFail applies the queue-level backoff for transient faults. Delay is
// exponential with 20% jitter, floored by any channel-provided hint.
func (s *Service) retryOrFail(ctx context.Context, cfg Config, job store.Job, cause error, log logx.Logger) {
	attempt := job.Attempts + 1
	if attempt >= job.MaxAttempts {
		log.Warn("retries exhausted, failing job", logx.Err(cause), logx.Int("attempts", attempt))
		atomic.AddUint64(&s.failed, 1)
		if err := s.st.FailJob(ctx, job.ID, cause.Error()); err != nil {
			log.Error("fail job failed", logx.Err(err))
		}
		return
	}

	delay := retryDelay(cfg, attempt)
	if hint, ok := RetryAfterHint(cause); ok && hint > delay {
		delay = hint
	}
	atomic.AddUint64(&s.retried, 1)
	log.Debug("retrying job", logx.Err(cause), logx.Int("attempt", attempt), logx.Duration("delay", delay))
	if err := s.st.RetryJob(ctx, job.ID, delay, cause.Error()); err != nil {
		log.Error("retry job failed", logx.Err(err))
	}
}

func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	// 20% jitter.
	if j := int64(d) / 5; j > 0 {
		d += time.Duration(rand.Int63n(j + 1))
	}
	return d
}
