package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: debug
  console: true
storage:
  path: ./data/dispatch.db
telegram:
  token: "123:abc"
  rate_per_sec: 5
  dashboard_base_url: https://app.example.com
dispatcher:
  workers: 4
  poll_interval: 500ms
  lock_lease: 90s
reconciler:
  enabled: true
  interval: 2m
  lookback: 24h
health:
  enabled: true
  addr: 127.0.0.1:8090
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging: %+v", cfg.Logging)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Telegram.RatePerSec != 5 {
		t.Fatalf("telegram: %+v", cfg.Telegram)
	}
	if cfg.Dispatcher.Workers != 4 || cfg.Dispatcher.PollInterval != "500ms" {
		t.Fatalf("dispatcher: %+v", cfg.Dispatcher)
	}
	if !cfg.Reconciler.Enabled || cfg.Reconciler.Lookback != "24h" {
		t.Fatalf("reconciler: %+v", cfg.Reconciler)
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json",
		`{"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}},`+
			`"storage":{"path":"./d.db"},"telegram":{"token":"t"},`+
			`"dispatcher":{},"reconciler":{"enabled":false}}`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Path != "./d.db" {
		t.Fatalf("storage: %+v", cfg.Storage)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
storage:
  path: ./d.db
telegram:
  token: t
dispatcer:
  workers: 4
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatalf("expected misspelled section to be rejected")
	}
}

func TestLoadRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"telegram":{"token":"t"}}{"x":1}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatalf("expected trailing data to be rejected")
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	if d, err := ParseDuration("x", "  1m30s ", 0); err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDuration("x", "", 2*time.Minute); err != nil || d != 2*time.Minute {
		t.Fatalf("blank should yield the default: %v, %v", d, err)
	}
	if d, err := ParseDuration("x", "0s", 2*time.Minute); err != nil || d != 2*time.Minute {
		t.Fatalf("explicit zero should yield the default: %v, %v", d, err)
	}
	if d, err := ParseDuration("x", "10s", 2*time.Minute); err != nil || d != 10*time.Second {
		t.Fatalf("explicit value lost: %v, %v", d, err)
	}
	if _, err := ParseDuration("x", "90", 0); err == nil {
		t.Fatalf("unitless value must be rejected")
	}
	if _, err := ParseDuration("x", "-5s", 0); err == nil {
		t.Fatalf("negative duration must be rejected")
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"telegram":{"token":"t"},"storage":{"path":"d"}}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ch := m.Subscribe(1)
	next := &Config{}
	next.Telegram.Token = "t2"
	m.Commit(next)
	m.publish(next)

	select {
	case got := <-ch:
		if got.Telegram.Token != "t2" {
			t.Fatalf("unexpected published config: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber never received config")
	}

	// Slow subscriber keeps the newest config, not the oldest.
	a, b := &Config{}, &Config{}
	a.Telegram.Token = "a"
	b.Telegram.Token = "b"
	m.publish(a)
	m.publish(b)
	if got := <-ch; got.Telegram.Token != "b" {
		t.Fatalf("expected newest config, got %q", got.Telegram.Token)
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("unsubscribe must close the channel")
	}
}
