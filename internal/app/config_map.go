package app

import (
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"promptnotify/internal/config"
	"promptnotify/internal/lapsed"
	"promptnotify/internal/observability/metricsrv"
	"promptnotify/internal/orchestrator"
	"promptnotify/internal/storage"
	"promptnotify/internal/task/engine"
	"promptnotify/internal/task/scheduler"
	logx "promptnotify/pkg/logx"
)

const (
	defaultDBPath        = "./promptnotify.db"
	defaultBatchSpec     = "*/15 * * * *"
	defaultRecomputeSpec = "0 */6 * * *"
	defaultJobTimeout    = 14 * time.Minute
	defaultMemberTimeout = time.Minute
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = defaultDBPath
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Path: path, BusyTimeout: busy}, nil
}

func mapRetryPolicy(cfg *config.Config) storage.RetryPolicy {
	p := storage.DefaultRetryPolicy()
	if n := cfg.Notify.TxMaxAttempts; n > 0 {
		p.MaxAttempts = n
	}
	return p
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{
		Enabled:     true,
		Workers:     4,
		QueueSize:   512,
		HistorySize: 200,
		RetryMax:    3,
	}
	defTimeout, maxDelay := "", ""
	if te := cfg.TaskEngine; te != nil {
		if te.Workers != 0 {
			out.Workers = te.Workers
		}
		if te.QueueSize != 0 {
			out.QueueSize = te.QueueSize
		}
		if te.HistorySize != 0 {
			out.HistorySize = te.HistorySize
		}
		switch {
		case te.RetryMax < 0:
			// the engine treats negative RetryMax as "no retries"
			out.RetryMax = -1
		case te.RetryMax > 0:
			out.RetryMax = te.RetryMax
		}
		defTimeout, maxDelay = te.DefaultTimeout, te.MaxQueueDelay
	}
	// A batch task holds one worker while its member tasks need others.
	if out.Workers < 2 {
		out.Workers = 2
	}

	var err error
	if out.DefaultTimeout, err = config.ParseDurationOrDefault("task_engine.default_timeout", defTimeout, 2*time.Minute); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.ParseDurationField("task_engine.max_queue_delay", maxDelay); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

type schedulerPlan struct {
	cfg           scheduler.Config
	batchSpec     string
	recomputeSpec string
	jobTimeout    time.Duration
}

func mapSchedulerConfig(cfg *config.Config) (schedulerPlan, error) {
	sc := cfg.Scheduler
	p := schedulerPlan{
		cfg:           scheduler.Config{Enabled: sc.Enabled, Timezone: sc.Timezone},
		batchSpec:     strings.TrimSpace(sc.BatchSpec),
		recomputeSpec: strings.TrimSpace(sc.RecomputeSpec),
	}
	if p.batchSpec == "" {
		p.batchSpec = defaultBatchSpec
	}
	if p.recomputeSpec == "" {
		p.recomputeSpec = defaultRecomputeSpec
	}
	var err error
	if p.jobTimeout, err = config.ParseDurationOrDefault("scheduler.task_timeout", sc.TaskTimeout, defaultJobTimeout); err != nil {
		return schedulerPlan{}, err
	}
	return p, nil
}

func mapBatchConfig(cfg *config.Config) (orchestrator.BatchConfig, error) {
	mt, err := config.ParseDurationOrDefault("notify.member_timeout", cfg.Notify.MemberTimeout, defaultMemberTimeout)
	if err != nil {
		return orchestrator.BatchConfig{}, err
	}
	return orchestrator.BatchConfig{PageSize: cfg.Notify.PageSize, MemberTimeout: mt}, nil
}

func mapLapsedPolicy(cfg *config.Config) lapsed.Policy {
	days := cfg.Notify.LapsedInactiveDays
	if days <= 0 {
		days = lapsed.DefaultInactiveDays
	}
	return lapsed.New(days)
}

type redisPlan struct {
	opts       *redis.Options
	contentTTL time.Duration
	missTTL    time.Duration
}

// mapRedisConfig returns nil when the content cache is disabled.
func mapRedisConfig(cfg *config.Config) (*redisPlan, error) {
	rc := cfg.Redis
	if rc == nil || !rc.Enabled {
		return nil, nil
	}
	ttl, err := config.ParseDurationOrDefault("redis.content_ttl", rc.ContentTTL, time.Hour)
	if err != nil {
		return nil, err
	}
	miss, err := config.ParseDurationOrDefault("redis.miss_ttl", rc.MissTTL, time.Minute)
	if err != nil {
		return nil, err
	}
	return &redisPlan{
		opts: &redis.Options{
			Addr:     strings.TrimSpace(rc.Addr),
			Password: rc.Password,
			DB:       rc.DB,
		},
		contentTTL: ttl,
		missTTL:    miss,
	}, nil
}

func mapMetricsConfig(cfg *config.Config) (metricsrv.Config, error) {
	mc := cfg.Metrics
	if mc == nil {
		return metricsrv.Config{}, nil
	}
	rt, err := config.ParseDurationOrDefault("metrics.read_timeout", mc.ReadTimeout, 5*time.Second)
	if err != nil {
		return metricsrv.Config{}, err
	}
	wt, err := config.ParseDurationOrDefault("metrics.write_timeout", mc.WriteTimeout, 30*time.Second)
	if err != nil {
		return metricsrv.Config{}, err
	}
	return metricsrv.Config{
		Enabled:       mc.Enabled,
		Addr:          mc.Addr,
		Token:         mc.Token,
		AllowInsecure: mc.AllowInsecure,
		Pprof:         mc.Pprof,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
		IdleTimeout:   time.Minute,
	}, nil
}
