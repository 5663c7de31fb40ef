package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"morningbot/internal/config"
	"morningbot/internal/content"
	"morningbot/internal/dispatch"
	"morningbot/internal/eventbus"
	"morningbot/internal/observability/metrics"
	"morningbot/internal/observability/opsserver"
	"morningbot/internal/registry"
	"morningbot/internal/rotator"
	rtsup "morningbot/internal/runtime/supervisor"
	"morningbot/internal/scheduler"
	"morningbot/internal/storage"
	"morningbot/internal/task/engine"
	kit "morningbot/internal/transport"
	telegram "morningbot/internal/transport/telegram/adapter"
	"morningbot/internal/transport/telegram/router"
	logx "morningbot/pkg/logx"
)

// StopReason is used for structured shutdown tracing.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter

	engine *engine.Service
	sched  *scheduler.Service
	reg    *registry.Registry
	rot    *rotator.Rotator
	disp   *dispatch.Dispatcher
	hist   *dispatch.History
	cmdm   *router.CommandManager

	promReg *prometheus.Registry
	metrics *metrics.Metrics
	ops     *opsserver.Server

	updates chan kit.Update
}

type options struct {
	adapter kit.Adapter
	quotes  content.QuoteFetcher
	images  content.ImageFetcher
}

type Option func(*options)

// WithAdapter replaces the Telegram adapter.
func WithAdapter(a kit.Adapter) Option { return func(o *options) { o.adapter = a } }

// WithFetchers replaces the HTTP quote and image sources. A nil argument
// keeps the HTTP source for that side.
func WithFetchers(q content.QuoteFetcher, i content.ImageFetcher) Option {
	return func(o *options) {
		o.quotes = q
		o.images = i
	}
}

// New loads the config and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.NewService(cfg.LogConfig())
	alog := log.With(logx.String("comp", "app"))

	a := &App{
		cfgm:    cfgm,
		log:     alog,
		logs:    logSvc,
		bus:     eventbus.New(),
		updates: make(chan kit.Update, 256),
	}
	ok := false
	defer func() {
		if !ok {
			a.closeEarly()
		}
	}()

	a.promReg = prometheus.NewRegistry()
	a.promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.MustNewMetrics(a.promReg)

	sc := mapStorageConfig(cfg)
	a.store, err = storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	alog.Info("storage opened", logx.String("driver", sc.Driver))

	if err := seedStore(ctx, a.store, cfg.Seed, log.With(logx.String("comp", "seed"))); err != nil {
		return nil, err
	}

	a.rot, err = rotator.Load(ctx, a.store, log.With(logx.String("comp", "rotator")), a.metrics)
	if err != nil {
		return nil, err
	}

	if o.quotes == nil || o.images == nil {
		hf := content.NewHTTPFetcher(cfg.Content.QuoteURL, cfg.Content.ImageURL, cfg.FetchTimeout())
		if o.quotes == nil {
			o.quotes = hf
		}
		if o.images == nil {
			o.images = hf
		}
	}

	a.engine = engine.New(mapTaskEngineConfig(cfg), log.With(logx.String("comp", "taskengine")), a.bus)
	a.metrics.WatchEngine(a.engine.Snapshot)

	a.sched = scheduler.New(mapSchedulerConfig(cfg), a.engine, func(c context.Context, groupID string) error {
		// Outcomes are logged and published by the dispatcher; a failed
		// firing is not an engine failure.
		a.disp.Fire(c, groupID)
		return nil
	}, log.With(logx.String("comp", "scheduler")), a.bus, a.metrics)

	a.reg, err = registry.Load(ctx, a.store, a.sched, log.With(logx.String("comp", "registry")))
	if err != nil {
		return nil, err
	}

	// The quote cache keys on the scheduler's calendar date.
	quotes := content.NewQuoteCache(o.quotes, cfg.Content.QuoteCacheSize, a.sched.Now)
	resolver := content.NewResolver(mapContentConfig(cfg), content.Deps{
		Quotes:   quotes,
		Images:   o.images,
		Fallback: a.rot,
		Logger:   log.With(logx.String("comp", "content")),
		Observer: a.metrics,
	})

	if o.adapter != nil {
		a.adapter = o.adapter
	} else {
		ad, err := telegram.New(mapTelegramConfig(cfg), log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		a.adapter = ad
	}

	a.disp = dispatch.New(dispatch.Deps{
		Registry: a.reg,
		Resolver: resolver,
		Sender:   a.adapter,
		Now:      a.sched.Now,
		Logger:   log.With(logx.String("comp", "dispatch")),
		Bus:      a.bus,
		Observer: a.metrics,
	})
	a.hist = dispatch.NewHistory(0)

	a.cmdm = router.NewCommandManager(router.Config{
		AdminOnlyAll: cfg.Telegram.AdminOnlyAll,
		Location:     a.sched.Location(),
	}, router.Deps{
		Messenger: a.adapter,
		Registry:  a.reg,
		Schedule:  a.sched,
		History:   a.hist,
		Logger:    log.With(logx.String("comp", "commands")),
	})

	a.ops = opsserver.New(mapOpsConfig(cfg), a.promReg, a.health, log.With(logx.String("comp", "ops")))

	ok = true
	return a, nil
}

// closeEarly releases what a failed New already opened.
func (a *App) closeEarly() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
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

// Fire runs one firing for groupID outside the schedule.
func (a *App) Fire(ctx context.Context, groupID string) dispatch.Result {
	return a.disp.Fire(ctx, groupID)
}

func (a *App) health(ctx context.Context) error {
	if a.sup == nil {
		return errors.New("not started")
	}
	if err := a.sup.Err(); err != nil {
		return err
	}
	if a.sup.Context().Err() != nil {
		return errors.New("stopping")
	}
	if !a.engine.Snapshot().Running {
		return errors.New("task engine not running")
	}
	if !a.sched.Snapshot().Running {
		return errors.New("scheduler not running")
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Sections that need a restart are still committed so a logging change
	// in the same edit applies; applyConfig warns about the rest.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	// History must subscribe before anything can fire.
	a.sup.Go0("dispatch.history", a.hist.Attach(a.bus))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.engine.Start(a.sup.Context())
	n := a.reg.RestoreSchedules()
	a.sched.Start(a.sup.Context())
	a.log.Info("schedules restored", logx.Int("groups", n))

	if err := a.ops.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	// Debug trace of every bus event.
	events, unsub := a.bus.Subscribe(128)
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

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
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
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("tz", a.sched.Location().String()),
		logx.Bool("ops", a.ops.Enabled()))
	return nil
}

// applyConfig applies the live part of a reload (logging) and reports the
// sections that only take effect after a restart.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.logs.Apply(next.LogConfig())

	if restart := config.NeedsRestart(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfig, Time: time.Now(), Data: sections})

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// step runs one shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		stepCtx := ctx
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				limit = min(limit, max(time.Until(dl), 0))
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
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
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// fn must honor stepCtx; report when a late step eventually returns.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)))
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Triggers first, then the pool that runs them, then the transport the
	// firings send through.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("ops", 1*time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, command dispatcher, etc.)
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
