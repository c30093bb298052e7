package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate runs struct tag rules and the cross-field checks tags can't express.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := structValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if r := cfg.Redis; r != nil && r.Enabled && strings.TrimSpace(r.Addr) == "" {
		return errors.New("invalid config: redis.addr is required when redis.enabled is true")
	}

	durations := map[string]string{
		"storage.busy_timeout":        cfg.Storage.BusyTimeout,
		"scheduler.task_timeout":      cfg.Scheduler.TaskTimeout,
		"notify.member_timeout":       cfg.Notify.MemberTimeout,
		"task_engine.default_timeout": "",
		"task_engine.max_queue_delay": "",
	}
	if te := cfg.TaskEngine; te != nil {
		durations["task_engine.default_timeout"] = te.DefaultTimeout
		durations["task_engine.max_queue_delay"] = te.MaxQueueDelay
	}
	if r := cfg.Redis; r != nil {
		durations["redis.content_ttl"] = r.ContentTTL
		durations["redis.miss_ttl"] = r.MissTTL
	}
	if m := cfg.Metrics; m != nil {
		durations["metrics.read_timeout"] = m.ReadTimeout
		durations["metrics.write_timeout"] = m.WriteTimeout
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for path, spec := range map[string]string{
		"scheduler.batch_spec":     cfg.Scheduler.BatchSpec,
		"scheduler.recompute_spec": cfg.Scheduler.RecomputeSpec,
	} {
		if strings.TrimSpace(spec) == "" {
			continue
		}
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("%s: invalid cron spec %q: %w", path, spec, err)
		}
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	return nil
}
