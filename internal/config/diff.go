package config

import (
	"reflect"

	logx "promptnotify/pkg/logx"
)

// SummarizeConfigChange lists changed top-level sections and safe log fields
// for a reload. Secrets (redis password, metrics token) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.json", newCfg.Logging.JSON),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.path", newCfg.Storage.Path))
	}
	if !reflect.DeepEqual(redisPublic(oldCfg.Redis), redisPublic(newCfg.Redis)) ||
		redisSecret(oldCfg.Redis) != redisSecret(newCfg.Redis) {
		changed = append(changed, "redis")
		if r := redisPublic(newCfg.Redis); r != nil {
			attrs = append(attrs, logx.Bool("redis.enabled", r.Enabled), logx.String("redis.addr", r.Addr))
		}
	}
	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		changed = append(changed, "task_engine")
		if te := newCfg.TaskEngine; te != nil {
			attrs = append(attrs, logx.Int("task_engine.workers", te.Workers), logx.Int("task_engine.queue_size", te.QueueSize))
		}
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.batch_spec", newCfg.Scheduler.BatchSpec),
		)
	}
	if !reflect.DeepEqual(oldCfg.Notify, newCfg.Notify) {
		changed = append(changed, "notify")
		attrs = append(attrs, logx.Int("notify.page_size", newCfg.Notify.PageSize))
	}
	if !reflect.DeepEqual(metricsPublic(oldCfg.Metrics), metricsPublic(newCfg.Metrics)) ||
		metricsSecret(oldCfg.Metrics) != metricsSecret(newCfg.Metrics) {
		changed = append(changed, "metrics")
		if mc := metricsPublic(newCfg.Metrics); mc != nil {
			attrs = append(attrs, logx.Bool("metrics.enabled", mc.Enabled), logx.String("metrics.addr", mc.Addr), logx.Bool("metrics.token_set", mc.Token != ""))
		}
	}
	return changed, attrs
}

func redisPublic(r *RedisConfig) *RedisConfig {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Password = ""
	return &cp
}

func redisSecret(r *RedisConfig) string {
	if r == nil {
		return ""
	}
	return r.Password
}

// metricsPublic keeps only whether a token is set.
func metricsPublic(m *MetricsConfig) *MetricsConfig {
	if m == nil {
		return nil
	}
	cp := *m
	if cp.Token != "" {
		cp.Token = "set"
	}
	return &cp
}

func metricsSecret(m *MetricsConfig) string {
	if m == nil {
		return ""
	}
	return m.Token
}
