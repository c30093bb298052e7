// Package app wires the notification pipeline into a long-running process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/redis/go-redis/v9"

	"promptnotify/internal/config"
	"promptnotify/internal/dispatch"
	"promptnotify/internal/domain"
	"promptnotify/internal/eventbus"
	"promptnotify/internal/ledger"
	"promptnotify/internal/metrics"
	"promptnotify/internal/observability/metricsrv"
	"promptnotify/internal/orchestrator"
	"promptnotify/internal/prompt"
	"promptnotify/internal/provider"
	"promptnotify/internal/runtime/supervisor"
	"promptnotify/internal/sendtime"
	"promptnotify/internal/sentprompt"
	"promptnotify/internal/storage"
	"promptnotify/internal/task/engine"
	"promptnotify/internal/task/scheduler"
	logx "promptnotify/pkg/logx"
)

const (
	jobBatch     = "notify.batch"
	jobRecompute = "sendtime.refresh"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store *storage.SQLite
	rdb   *redis.Client

	metrics *metrics.Metrics
	engine  *engine.Service
	sched   *scheduler.Service
	msrv    *metricsrv.Server

	email *provider.RateLimitedEmail
	push  *provider.RateLimitedPush

	orch      *orchestrator.Orchestrator
	batch     *orchestrator.Batch
	refresher *sendtime.Refresher
	pruner    *orchestrator.TokenPruner

	plan schedulerPlan
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start (daemon) or one of the one-shot methods is called.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateMappings(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	a := &App{
		cfgm: cfgm,
		logs: logSvc,
		log:  log.With(logx.String("comp", "app")),
		bus:  eventbus.New(),
	}
	if err := a.build(cfg, log); err != nil {
		_ = a.close()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger) error {
	sc, _ := mapStorageConfig(cfg)
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	policy := mapRetryPolicy(cfg)
	store.SetRetryPolicy(policy)
	a.store = store
	a.log.Info("storage opened", logx.String("path", sc.Path))

	var cache prompt.Cache
	rp, _ := mapRedisConfig(cfg)
	if rp != nil {
		a.rdb = redis.NewClient(rp.opts)
		cache = prompt.NewRedisCache(a.rdb, rp.contentTTL, rp.missTTL)
		a.log.Info("content cache enabled", logx.String("addr", rp.opts.Addr), logx.Duration("ttl", rp.contentTTL))
	}

	bus := a.bus
	a.metrics = metrics.New(func() uint64 { return eventbus.Dropped(bus) })

	engCfg, _ := mapTaskEngineConfig(cfg)
	a.engine = engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)

	a.plan, _ = mapSchedulerConfig(cfg)
	a.sched = scheduler.New(a.plan.cfg, a.engine, log.With(logx.String("comp", "scheduler")), bus)

	tracker := sentprompt.New(store, log)
	resolver := prompt.NewResolver(store, cache, log, a.metrics)

	a.email = provider.NewRateLimitedEmail(
		provider.LogEmailProvider{Log: log.With(logx.String("comp", "provider.email"))},
		float64(cfg.Notify.EmailRatePerSec),
	)
	a.push = provider.NewRateLimitedPush(
		provider.LogPushProvider{Log: log.With(logx.String("comp", "provider.push"))},
		float64(cfg.Notify.PushRatePerSec),
	)

	deps := dispatch.Deps{
		Ledger:  ledger.New(store.DB(), policy, log),
		History: tracker,
		Log:     log,
		Bus:     bus,
		Metrics: a.metrics,
	}
	esync := provider.LogEmailSync{Log: log.With(logx.String("comp", "provider.sync"))}

	a.orch = orchestrator.New(orchestrator.Deps{
		Members: store,
		Prompts: resolver,
		Tracker: tracker,
		Email:   dispatch.NewEmail(deps, a.email, mapLapsedPolicy(cfg), store, esync, cfg.Notify.EmailTemplateID),
		Push:    dispatch.NewPush(deps, a.push),
		Bus:     bus,
		Log:     log,
		Metrics: a.metrics,
	})

	bc, _ := mapBatchConfig(cfg)
	a.batch = orchestrator.NewBatch(a.orch, store, a.engine, bc, bus, a.metrics, log)
	a.refresher = sendtime.NewRefresher(store, log, bus, cfg.Notify.PageSize)
	a.pruner = orchestrator.NewTokenPruner(store, bus, a.metrics, log)

	mc, _ := mapMetricsConfig(cfg)
	a.msrv = metricsrv.New(mc, log, a.metrics.Handler(), a.health)
	return nil
}

// validateMappings rejects configs whose derived runtime settings don't parse.
func validateMappings(cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapRedisConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapBatchConfig(cfg); err != nil {
		return err
	}
	if _, err := mapMetricsConfig(cfg); err != nil {
		return err
	}
	return nil
}

func (a *App) health(ctx context.Context) error {
	if err := a.store.Ping(ctx); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if a.rdb != nil {
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Metrics exposes the collectors, mostly for tests.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

func (a *App) registerJobs() error {
	if err := a.sched.AddCron(jobBatch, a.plan.batchSpec, a.plan.jobTimeout, a.batch.CronJob()); err != nil {
		return fmt.Errorf("register %s: %w", jobBatch, err)
	}
	refresh := func(ctx context.Context, firedAt time.Time) error {
		_, err := a.refresher.Run(ctx, firedAt)
		return err
	}
	if err := a.sched.AddCron(jobRecompute, a.plan.recomputeSpec, a.plan.jobTimeout, refresh); err != nil {
		return fmt.Errorf("register %s: %w", jobRecompute, err)
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		return validateMappings(cfg)
	})

	a.engine.Start(a.sup.Context())
	if err := a.registerJobs(); err != nil {
		return err
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}
	if mc, err := mapMetricsConfig(a.cfgm.Get()); err == nil {
		a.msrv.Reconfigure(a.sup.Context(), mc)
	}

	a.sup.Go("metrics.consume", func(c context.Context) error {
		return a.metrics.Consume(c, a.bus)
	})
	a.sup.GoRestart("push.token_pruner", a.pruner.Run,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second),
	)

	events, unsub := a.bus.Subscribe(128, "batch.", "member.", "sendtime.")
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("systemd.watchdog", a.watchdog)

	a.sdNotify(daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.Bool("scheduler", a.sched.Enabled()),
		logx.String("batch_spec", a.plan.batchSpec),
		logx.String("recompute_spec", a.plan.recomputeSpec),
	)
	return nil
}

func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			a.applyConfig(c, newCfg, sections)

			if len(sections) > 0 {
				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
			} else {
				a.log.Info("config reloaded (no changes)")
			}
		}
	}
}

// applyConfig pushes a committed config into the running components.
// Storage and redis connections are not reopened.
func (a *App) applyConfig(c context.Context, cfg *config.Config, sections []string) {
	for _, s := range sections {
		if s == "storage" || s == "redis" {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLogConfig(cfg))

	if ec, err := mapTaskEngineConfig(cfg); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(c, ec)
	}

	if bc, err := mapBatchConfig(cfg); err != nil {
		a.log.Warn("invalid notify config; keeping previous", logx.Err(err))
	} else {
		a.batch.Apply(bc)
	}
	a.email.SetRate(float64(cfg.Notify.EmailRatePerSec))
	a.push.SetRate(float64(cfg.Notify.PushRatePerSec))

	if plan, err := mapSchedulerConfig(cfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.sched.Enabled()
		prev := a.plan
		a.plan = plan
		a.sched.Apply(plan.cfg)
		if prev.batchSpec != plan.batchSpec || prev.recomputeSpec != plan.recomputeSpec || prev.jobTimeout != plan.jobTimeout {
			if err := a.registerJobs(); err != nil {
				a.log.Warn("re-register schedules failed", logx.Err(err))
			}
		}
		switch {
		case wasEnabled && !plan.cfg.Enabled:
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		case !wasEnabled && plan.cfg.Enabled:
			a.log.Info("scheduler enabled via config")
			a.sched.Start(c)
		}
	}

	if mc, err := mapMetricsConfig(cfg); err != nil {
		a.log.Warn("invalid metrics config; keeping previous", logx.Err(err))
	} else {
		a.msrv.Reconfigure(c, mc)
	}
}

// RunBucket runs one batch for bucket right away, outside the scheduler.
func (a *App) RunBucket(ctx context.Context, bucket domain.ClockTime, at time.Time) (orchestrator.BatchReport, error) {
	a.engine.Start(ctx)
	return a.batch.RunBucket(ctx, bucket, at)
}

// ProcessMember runs one member task inline.
func (a *App) ProcessMember(ctx context.Context, in orchestrator.Input) orchestrator.Result {
	return a.orch.ProcessMember(ctx, in)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sup != nil {
		a.sdNotify(daemon.SdNotifyStopping)
		a.sup.Cancel()
	}

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, max(time.Until(dl), 0))
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("metrics", time.Second, func(c context.Context) error { a.msrv.Stop(c); return nil })
	if a.sup != nil {
		step("supervisor", 2*time.Second, func(c context.Context) error {
			if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	step("storage", time.Second, func(context.Context) error { return a.close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// close releases the connections. Safe on a partially built App.
func (a *App) close() error {
	var errs []error
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
