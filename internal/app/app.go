// Package app wires the bot together: config with hot reload, logging,
// storage, the messaging client, the delivery coordinator, the daily
// scheduler and the HTTP trigger surface.
package app

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"tldrbot/internal/config"
	"tldrbot/internal/delivery"
	"tldrbot/internal/newsletter"
	"tldrbot/internal/schedule"
	"tldrbot/internal/server"
	"tldrbot/internal/slack"
	"tldrbot/internal/store"
	logx "tldrbot/pkg/logx"
)

const dailyJobName = "daily-delivery"

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor

	log  logx.Logger
	logs *logx.Service

	st    store.Store
	api   *slack.Client
	fetch *newsletter.Fetcher
	coord *delivery.Coordinator

	sched *schedule.Service
	srv   *server.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, rootLog := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log := rootLog.With(logx.String("comp", "app"))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, rootLog.With(logx.String("comp", "store")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	if st == nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("storage.driver: workspace storage is required (set driver to \"sqlite\")")
	}

	slackTimeout, err := config.ParseDurationField("slack.timeout", cfg.Slack.Timeout)
	if err != nil {
		return nil, err
	}
	api := slack.New(cfg.Slack.APIBase, slackTimeout, rootLog.With(logx.String("comp", "slack")))

	nlTimeout, err := config.ParseDurationField("newsletter.timeout", cfg.Newsletter.Timeout)
	if err != nil {
		return nil, err
	}
	fetch := newsletter.NewFetcher(cfg.Newsletter.URL, nlTimeout, cfg.Newsletter.Denylist, rootLog.With(logx.String("comp", "newsletter")))

	replyDelay, err := config.ParseDurationField("delivery.reply_delay", cfg.Delivery.ReplyDelay)
	if err != nil {
		return nil, err
	}
	teamDelay, err := config.ParseDurationField("delivery.team_delay", cfg.Delivery.TeamDelay)
	if err != nil {
		return nil, err
	}
	engine := delivery.NewEngine(api, st, delivery.EngineConfig{ReplyDelay: replyDelay}, rootLog.With(logx.String("comp", "delivery")))
	coord := delivery.NewCoordinator(st, fetch, api, engine, delivery.CoordinatorConfig{TeamDelay: teamDelay}, rootLog.With(logx.String("comp", "delivery")))

	runTimeout, err := config.ParseDurationField("schedule.timeout", cfg.Schedule.Timeout)
	if err != nil {
		return nil, err
	}
	schedSvc := schedule.New(schedule.Config{
		Enabled:        cfg.Schedule.Enabled,
		Timezone:       cfg.Schedule.Timezone,
		DefaultTimeout: runTimeout,
	}, rootLog.With(logx.String("comp", "scheduler")))

	srv := server.New(cfg.Server, st, api, coord, schedSvc, rootLog.With(logx.String("comp", "server")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		st:      st,
		api:     api,
		fetch:   fetch,
		coord:   coord,
		sched:   schedSvc,
		srv:     srv,
	}, nil
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

func (a *App) Start(ctx context.Context) error {
	a.sup = newSupervisor(ctx, a.log)

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	cfg := a.cfgm.Get()

	if cfg.Schedule.Enabled {
		if err := a.registerDailyJob(cfg.Schedule.At); err != nil {
			return err
		}
		a.sched.Start(a.sup.Context())
	}

	if err := a.srv.Start(); err != nil {
		return err
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.notifyReady()
	a.sup.Go0("systemd.watchdog", a.watchdogLoop)

	a.log.Info("app started")
	return nil
}

func (a *App) registerDailyJob(at string) error {
	return a.sched.AddDaily(dailyJobName, at, func(c context.Context) error {
		sum, err := a.coord.RunDaily(c)
		if err != nil {
			return err
		}
		if sum.Failed > 0 {
			return fmt.Errorf("%d of %d workspaces failed", sum.Failed, sum.TeamsProcessed)
		}
		return nil
	})
}

func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
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
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			if len(sections) > 0 {
				a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
			} else {
				a.log.Debug("config reload received, but no effective changes detected")
			}
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg

			if len(sections) > 0 {
				a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
			} else {
				a.log.Info("config reloaded (no changes)")
			}
		}
	}
}

func (a *App) applyConfig(c context.Context, old, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	// Scheduler: timezone/timeout apply live; schedule time re-registers the job.
	runTimeout, err := config.ParseDurationField("schedule.timeout", cfg.Schedule.Timeout)
	if err != nil {
		a.log.Warn("invalid schedule.timeout; using 0", logx.Err(err))
		runTimeout = 0
	}
	prevEnabled := a.sched.Enabled()
	a.sched.Apply(schedule.Config{
		Enabled:        cfg.Schedule.Enabled,
		Timezone:       cfg.Schedule.Timezone,
		DefaultTimeout: runTimeout,
	})
	if cfg.Schedule.Enabled && strings.TrimSpace(cfg.Schedule.At) != strings.TrimSpace(old.Schedule.At) {
		if err := a.registerDailyJob(cfg.Schedule.At); err != nil {
			a.log.Warn("daily job re-registration failed", logx.Err(err))
		}
	}
	if prevEnabled && !cfg.Schedule.Enabled {
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	} else if !prevEnabled && cfg.Schedule.Enabled {
		a.log.Info("scheduler enabled via config")
		if err := a.registerDailyJob(cfg.Schedule.At); err != nil {
			a.log.Warn("daily job registration failed", logx.Err(err))
		}
		a.sched.Start(c)
	}

	a.srv.Apply(cfg.Server)

	// Client construction params (slack/newsletter/storage/delivery) are fixed
	// at startup; flag the sections that need a restart to take effect.
	var needRestart []string
	for _, sec := range []struct {
		name string
		same bool
	}{
		{"slack", old.Slack == cfg.Slack},
		{"newsletter", reflect.DeepEqual(old.Newsletter, cfg.Newsletter)},
		{"storage", old.Storage == cfg.Storage},
		{"delivery", old.Delivery == cfg.Delivery},
	} {
		if !sec.same {
			needRestart = append(needRestart, sec.name)
		}
	}
	if len(needRestart) > 0 {
		a.log.Warn("config sections changed that require a restart",
			logx.String("sections", strings.Join(needRestart, ",")),
		)
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notifyStopping()

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

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
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("server", 3*time.Second, func(c context.Context) error { a.srv.Stop(c); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("store", time.Second, func(context.Context) error { return a.st.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}
