// Package app wires the dispatch subsystem together: config, logging,
// storage, gateway, worker pool, reconciler and health endpoint, with
// hot-reload and systemd integration.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"signaldispatch/internal/config"
	"signaldispatch/internal/dispatch"
	"signaldispatch/internal/gateway/telegram"
	"signaldispatch/internal/health"
	"signaldispatch/internal/notify/format"
	"signaldispatch/internal/reconcile"
	rtsup "signaldispatch/internal/runtime/supervisor"
	"signaldispatch/internal/store"
	logx "signaldispatch/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   *store.Store
	gateway *telegram.Gateway
	disp    *dispatch.Service
	rec     *reconcile.Service
	health  *health.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	st, err := store.Open(mapStorageConfig(cfg), log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	gw, err := telegram.New(telegram.Config{
		Token:      cfg.Telegram.Token,
		RatePerSec: cfg.Telegram.RatePerSec,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	dcfg, err := dispatch.ConfigFrom(cfg.Dispatcher)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	fmtOpts := format.Options{DashboardBaseURL: cfg.Telegram.DashboardBaseURL}
	disp := dispatch.New(dcfg, st, gw, fmtOpts, log.With(logx.String("comp", "dispatch")))

	rcfg, err := reconcile.ConfigFrom(cfg.Reconciler)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	rec := reconcile.New(rcfg, st, disp, log.With(logx.String("comp", "reconcile")))

	hs := health.New(health.Config{
		Enabled: cfg.Health.Enabled,
		Addr:    cfg.Health.Addr,
	}, health.Probes{Store: st, Dispatcher: disp, Reconciler: rec}, log.With(logx.String("comp", "health")))

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   st,
		gateway: gw,
		disp:    disp,
		rec:     rec,
		health:  hs,
	}, nil
}

// Dispatcher exposes the intake for embedding callers (ingest handlers
// enqueue through it).
func (a *App) Dispatcher() *dispatch.Service { return a.disp }

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	a.disp.Start(a.sup.Context())
	a.rec.Start(a.sup.Context())
	a.health.Start(a.sup.Context())

	// Catch up on anything missed while the process was down, before the
	// first scheduled sweep.
	if found, added, err := a.rec.Sweep(a.sup.Context()); err != nil {
		a.log.Warn("startup sweep failed", logx.Err(err))
	} else if found > 0 {
		a.log.Info("startup sweep done", logx.Int("found", found), logx.Int("added", added))
	}

	// Config hot reload.
	updates := a.cfgm.Subscribe(4)
	a.sup.Go0("config.watch", func(c context.Context) {
		if err := a.cfgm.Watch(c); err != nil && c.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	})
	a.sup.Go0("config.apply", func(c context.Context) {
		defer a.cfgm.Unsubscribe(updates)
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.applyConfig(c, cfg)
			}
		}
	})

	// systemd liveness, no-op outside systemd.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		a.sup.Go0("sd.watchdog", func(c context.Context) {
			t := time.NewTicker(interval / 2)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return
				case <-t.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		})
	}

	a.log.Info("dispatcher up")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.rec.Stop(ctx)
	a.disp.Stop(ctx)
	a.health.Stop(ctx)
	if a.sup != nil {
		a.sup.Cancel()
		_ = a.sup.Wait(ctx)
	}
	err := a.store.Close()
	a.log.Info("dispatcher stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.gateway.Apply(telegram.Config{
		Token:      cfg.Telegram.Token,
		RatePerSec: cfg.Telegram.RatePerSec,
	})
	// Validator ran before publish, so these parses cannot fail here.
	if dcfg, err := dispatch.ConfigFrom(cfg.Dispatcher); err == nil {
		a.disp.Apply(dcfg)
	}
	if rcfg, err := reconcile.ConfigFrom(cfg.Reconciler); err == nil {
		a.rec.Apply(ctx, rcfg)
	}
	a.log.Info("config reloaded")
}

func mapStorageConfig(cfg *config.Config) store.Config {
	busy, _ := config.ParseDuration("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	return store.Config{Path: cfg.Storage.Path, BusyTimeout: busy}
}

func validate(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if cfg.Dispatcher.Workers < 0 {
		return fmt.Errorf("dispatcher.workers must be >= 0")
	}
	if cfg.Dispatcher.RetryMax < 0 {
		return fmt.Errorf("dispatcher.retry_max must be >= 0")
	}
	dcfg, err := dispatch.ConfigFrom(cfg.Dispatcher)
	if err != nil {
		return err
	}
	if dcfg.LockLease > 0 && dcfg.LockLease < time.Minute {
		return fmt.Errorf("dispatcher.lock_lease must be at least 1m")
	}
	if _, err := reconcile.ConfigFrom(cfg.Reconciler); err != nil {
		return err
	}
	if _, err := config.ParseDuration("storage.busy_timeout", cfg.Storage.BusyTimeout, 0); err != nil {
		return err
	}
	return nil
}
