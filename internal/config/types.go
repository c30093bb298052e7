package config

// Config is the root of promptnotify.json / promptnotify.yaml.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging    LoggingConfig     `json:"logging"`
	Storage    StorageConfig     `json:"storage"`
	Redis      *RedisConfig      `json:"redis,omitempty"`
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`
	Scheduler  SchedulerConfig   `json:"scheduler"`
	Notify     NotifyConfig      `json:"notify"`
	Metrics    *MetricsConfig    `json:"metrics,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig points at the SQLite database file.
//
//	"storage": { "path": "./promptnotify.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Path        string `json:"path"` // default "./promptnotify.db"
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// RedisConfig enables the prompt content cache. Omit the section to disable it.
type RedisConfig struct {
	Enabled    bool   `json:"enabled"`
	Addr       string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	Password   string `json:"password,omitempty"` // do not log
	DB         int    `json:"db,omitempty" validate:"min=0,max=15"`
	ContentTTL string `json:"content_ttl,omitempty"`
	MissTTL    string `json:"miss_ttl,omitempty"`
}

// TaskEngineConfig controls execution of member tasks and cron jobs.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 512
//   - default_timeout: "2m"
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 3
type TaskEngineConfig struct {
	// Batch runs hold one worker while their member tasks run, so at least 2.
	Workers        int    `json:"workers,omitempty" validate:"omitempty,min=2,max=256"`
	QueueSize      int    `json:"queue_size,omitempty" validate:"min=0"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty" validate:"min=0"`
	RetryMax       int    `json:"retry_max,omitempty" validate:"min=-1,max=20"`
}

// SchedulerConfig controls the cron triggers.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
	// BatchSpec fires the per-bucket member fan-out. Default "*/15 * * * *".
	BatchSpec string `json:"batch_spec,omitempty"`
	// RecomputeSpec fires the cached UTC send time refresher. Default "0 */6 * * *".
	RecomputeSpec string `json:"recompute_spec,omitempty"`
	// TaskTimeout bounds one batch or refresher run. Default "14m".
	TaskTimeout string `json:"task_timeout,omitempty"`
}

// NotifyConfig tunes the dispatch pipeline.
type NotifyConfig struct {
	PageSize           int    `json:"page_size,omitempty" validate:"min=0,max=5000"`
	MemberTimeout      string `json:"member_timeout,omitempty"`
	EmailTemplateID    string `json:"email_template_id,omitempty"`
	LapsedInactiveDays int    `json:"lapsed_inactive_days,omitempty" validate:"min=0"`
	TxMaxAttempts      int    `json:"tx_max_attempts,omitempty" validate:"min=0,max=100"`
	EmailRatePerSec    int    `json:"email_rate_per_sec,omitempty" validate:"min=0"`
	PushRatePerSec     int    `json:"push_rate_per_sec,omitempty" validate:"min=0"`
}

// MetricsConfig controls the optional /metrics HTTP server.
//
// Prefer binding to localhost. A non-loopback addr requires a token or
// allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default "127.0.0.1:9464"
	Token         string `json:"token,omitempty"` // bearer token, do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"` // also serve /debug/pprof/
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
}
