package config

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`

	// Engine controls the run queue, the poll loop and the pipeline runner.
	Engine EngineConfig `json:"engine"`

	// Scheduler controls cron timer behavior.
	Scheduler SchedulerConfig `json:"scheduler"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Metrics  MetricsConfig   `json:"metrics,omitempty"`

	// Recipe optionally points the daemon at a recipe file that is stored and
	// re-armed whenever it changes on disk.
	Recipe RecipeConfig `json:"recipe,omitempty"`
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

// StorageConfig selects the document store driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./datastash.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://localhost/datastash" }
type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"`
	DSN    string `json:"dsn,omitempty"`

	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	// Pool limits (postgres).
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
	MaxIdleConns int    `json:"max_idle_conns,omitempty"`
	ConnMaxLife  string `json:"conn_max_lifetime,omitempty"`
}

// EngineConfig controls the run engine.
//
// Defaults (when fields are omitted/zero):
//   - work_dir: "./source"
//   - shell: "/bin/sh"
//   - poll_interval: "10s"
//   - retain_runs: 10
//   - recover_orphans: false
type EngineConfig struct {
	WorkDir      string `json:"work_dir,omitempty"`
	Shell        string `json:"shell,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"`

	// RetainRuns is the number of run records kept. A negative value disables pruning.
	RetainRuns int `json:"retain_runs,omitempty"`

	// RecoverOrphans marks runs left running by a previous process as system-error on startup.
	RecoverOrphans bool `json:"recover_orphans,omitempty"`

	// Env holds extra KEY=VALUE entries for pipeline commands.
	Env []string `json:"env,omitempty"`

	// OutputWait bounds how long command output is read after the command
	// exits (background children may keep the pipes open). Default "1s".
	OutputWait string `json:"output_wait,omitempty"`
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Cron timezone (IANA name). Empty means local time.
	Timezone string `json:"timezone,omitempty"`
}

// NotifierConfig controls notification delivery.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type NotifierConfig struct {
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`

	Telegram *TelegramConfig `json:"telegram,omitempty"`
	SMTP     *SMTPConfig     `json:"smtp,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
}

type SMTPConfig struct {
	Addr     string `json:"addr"` // host:port
	From     string `json:"from"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	StartTLS bool   `json:"starttls,omitempty"`
}

// MetricsConfig controls the optional Prometheus HTTP endpoint.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9464").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9464"
	Path          string `json:"path,omitempty"`  // default: "/metrics"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type RecipeConfig struct {
	// File is a YAML/JSON recipe file. Empty means the stored recipe is authoritative.
	File  string `json:"file,omitempty"`
	Watch bool   `json:"watch,omitempty"`
}
