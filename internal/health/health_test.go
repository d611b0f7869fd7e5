package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"signaldispatch/internal/store"
	logx "signaldispatch/pkg/logx"
)

func TestHandlePayload(t *testing.T) {
	t.Parallel()

	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "h.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if _, err := st.EnqueueJob(context.Background(), store.Job{
		ID: "j1", Kind: store.JobSignalOutcome, SignalID: "s1", UserID: "u1", MaxAttempts: 3,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	svc := New(Config{Enabled: true}, Probes{Store: st}, logx.Nop())

	rec := httptest.NewRecorder()
	svc.handle(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Status  string            `json:"status"`
		Storage string            `json:"storage"`
		Queue   *store.QueueDepth `json:"queue"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Storage != "ok" {
		t.Fatalf("unexpected payload: %+v", body)
	}
	if body.Queue == nil || body.Queue.Waiting != 1 {
		t.Fatalf("queue census missing: %+v", body.Queue)
	}
}

func TestDegradedStorage(t *testing.T) {
	t.Parallel()

	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "h.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	_ = st.Close()

	svc := New(Config{Enabled: true}, Probes{Store: st}, logx.Nop())
	rec := httptest.NewRecorder()
	svc.handle(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestServerLifecycle(t *testing.T) {
	t.Parallel()

	svc := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Probes{}, logx.Nop())
	ctx := context.Background()
	svc.Start(ctx)
	svc.Start(ctx) // idempotent
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		svc.Stop(stopCtx)
		svc.Stop(stopCtx) // idempotent
	}()

	svc.mu.Lock()
	ln := svc.ln
	svc.mu.Unlock()
	if ln == nil {
		t.Fatalf("listener not started")
	}

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	// Disabled service must not bind anything.
	off := New(Config{Enabled: false}, Probes{}, logx.Nop())
	off.Start(ctx)
	off.mu.Lock()
	defer off.mu.Unlock()
	if off.ln != nil {
		t.Fatalf("disabled service bound a listener")
	}
}
