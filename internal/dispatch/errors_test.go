package dispatch

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetryMarkers(t *testing.T) {
	t.Parallel()

	base := errors.New("telegram: Forbidden (403)")
	perm := NoRetry(base)
	if !IsNoRetry(perm) {
		t.Fatalf("expected NoRetry to mark the error")
	}
	if Transient(perm) {
		t.Fatalf("permanent error must not be transient")
	}
	if !errors.Is(perm, base) {
		t.Fatalf("marker must preserve the cause chain")
	}

	// Marker survives additional wrapping.
	wrapped := fmt.Errorf("send: %w", perm)
	if !IsNoRetry(wrapped) || Transient(wrapped) {
		t.Fatalf("marker lost through wrapping")
	}

	flood := RetryAfter(errors.New("telegram: retry after 17 (429)"), 17*time.Second)
	if hint, ok := RetryAfterHint(flood); !ok || hint != 17*time.Second {
		t.Fatalf("RetryAfterHint = %v, %v", hint, ok)
	}
	if !Transient(flood) {
		t.Fatalf("flood control is transient")
	}
	if _, ok := RetryAfterHint(base); ok {
		t.Fatalf("unmarked error must carry no hint")
	}

	if NoRetry(nil) != nil || RetryAfter(nil, time.Second) != nil {
		t.Fatalf("nil passthrough broken")
	}
	if Transient(nil) {
		t.Fatalf("nil error is not transient")
	}
}

func TestLockKeys(t *testing.T) {
	t.Parallel()

	if LockKey("s1", "u1") != LockKey("s1", "u1") {
		t.Fatalf("pair key must be deterministic")
	}
	if LockKey("s1", "u1") == LockKey("s1", "u2") {
		t.Fatalf("pair keys must differ per recipient")
	}

	at := time.Date(2026, 8, 31, 14, 30, 0, 0, time.UTC)
	k1 := KeylessLockKey("quota-exceeded", "u1", at)
	k2 := KeylessLockKey("quota-exceeded", "u1", at.Add(20*time.Minute))
	if k1 != k2 {
		t.Fatalf("same hour must share a bucket: %q vs %q", k1, k2)
	}
	k3 := KeylessLockKey("quota-exceeded", "u1", at.Add(time.Hour))
	if k1 == k3 {
		t.Fatalf("next hour must roll the bucket")
	}
}
