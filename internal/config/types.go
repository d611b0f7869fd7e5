package config

type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Telegram   TelegramConfig   `json:"telegram"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
	Reconciler ReconcilerConfig `json:"reconciler"`
	Health     HealthConfig     `json:"health,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the sqlite store holding the ledger, the job queue,
// the lock table and the read models.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

type TelegramConfig struct {
	Token      string `json:"token"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`

	// DashboardBaseURL is the deep-link target embedded in notifications,
	// e.g. "https://app.example.com". Signals link to <base>/signals/<id>.
	DashboardBaseURL string `json:"dashboard_base_url,omitempty"`
}

// DispatcherConfig controls the worker pool draining the job queue.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - poll_interval: "1s"
//   - lock_lease: "90s" (must exceed worst-case channel-send latency)
//   - claim_lease: "2m"
//   - retry_max: 5
//   - retry_base: "2s"
//   - retry_max_delay: "2m"
type DispatcherConfig struct {
	Workers      int    `json:"workers,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"`
	LockLease    string `json:"lock_lease,omitempty"`
	ClaimLease   string `json:"claim_lease,omitempty"`

	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// ReconcilerConfig controls the periodic catch-up sweep.
//
// Defaults: interval "2m", lookback "24h".
type ReconcilerConfig struct {
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval,omitempty"`
	Lookback string `json:"lookback,omitempty"`
}

// HealthConfig controls the readiness HTTP endpoint.
//
// Prefer binding to localhost unless orchestration needs it exposed.
type HealthConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8090"
}
