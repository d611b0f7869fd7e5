// Package health exposes a small readiness endpoint: storage ping, queue
// census, dispatcher and reconciler counters.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"signaldispatch/internal/dispatch"
	"signaldispatch/internal/reconcile"
	"signaldispatch/internal/store"
	logx "signaldispatch/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
}

// Probes are the collaborators the endpoint reports on. Nil fields are
// simply omitted from the payload.
type Probes struct {
	Store      *store.Store
	Dispatcher *dispatch.Service
	Reconciler *reconcile.Service
}

type payload struct {
	Status     string              `json:"status"`
	UptimeSec  int64               `json:"uptime_sec"`
	Storage    string              `json:"storage"`
	Queue      *store.QueueDepth   `json:"queue,omitempty"`
	Ledger     *store.LedgerCounts `json:"ledger,omitempty"`
	Dispatcher *dispatch.Snapshot  `json:"dispatcher,omitempty"`
	Reconciler *reconcile.Snapshot `json:"reconciler,omitempty"`
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	probes  Probes
	started time.Time

	ln  net.Listener
	srv *http.Server
}

func New(cfg Config, probes Probes, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, cfg: cfg, probes: probes, started: time.Now()}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil || !s.cfg.Enabled {
		return
	}

	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:8090"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("health listen failed", logx.String("addr", addr), logx.Err(err))
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handle)
	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	s.ln = ln
	s.srv = srv

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("health server stopped with error", logx.Err(err))
		}
	}()
	s.log.Info("health endpoint started", logx.String("addr", ln.Addr().String()))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	_ = srv.Shutdown(ctx)
}

func (s *Service) handle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p := payload{
		Status:    "ok",
		UptimeSec: int64(time.Since(s.started).Seconds()),
		Storage:   "ok",
	}
	code := http.StatusOK

	if st := s.probes.Store; st != nil {
		if err := st.Ping(ctx); err != nil {
			p.Status = "degraded"
			p.Storage = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			if depth, err := st.Depth(ctx); err == nil {
				p.Queue = &depth
			}
			if counts, err := st.LedgerCounts(ctx); err == nil {
				p.Ledger = &counts
			}
		}
	}
	if d := s.probes.Dispatcher; d != nil {
		snap := d.Snapshot()
		p.Dispatcher = &snap
	}
	if rec := s.probes.Reconciler; rec != nil {
		snap := rec.Snapshot()
		p.Reconciler = &snap
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(p)
}
