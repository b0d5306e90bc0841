// Package app wires the bot together: config, logging, storage, the
// Telegram adapter, and the monitor/broadcast/command services. It owns
// startup order, config hot-reload fan-out, and shutdown sequencing.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/4ndry11/zvnews/internal/broadcast"
	"github.com/4ndry11/zvnews/internal/commands"
	"github.com/4ndry11/zvnews/internal/config"
	"github.com/4ndry11/zvnews/internal/dedup"
	"github.com/4ndry11/zvnews/internal/eventbus"
	"github.com/4ndry11/zvnews/internal/monitor"
	"github.com/4ndry11/zvnews/internal/observability/debug"
	rtsup "github.com/4ndry11/zvnews/internal/runtime/supervisor"
	"github.com/4ndry11/zvnews/internal/source/gnews"
	"github.com/4ndry11/zvnews/internal/storage"
	"github.com/4ndry11/zvnews/internal/subscribers"
	"github.com/4ndry11/zvnews/internal/translate"
	kit "github.com/4ndry11/zvnews/internal/transport"
	telegram "github.com/4ndry11/zvnews/internal/transport/telegram/adapter"
	logx "github.com/4ndry11/zvnews/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter

	subs   *subscribers.Registry
	ledger *dedup.Store
	bc     *broadcast.Service
	proc   *commands.Processor
	mon    *monitor.Service
	debug  *debug.Service

	adminChat atomic.Int64
}

func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))

	pollTimeout, err := parseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// logx.New calls Apply immediately. Bootstrap with the telegram sink
	// disabled, set the target, then Apply the final config so a correct
	// config never trips the missing-target warning.
	baseLogCfg := mapLoggingConfig(cfg)
	wantTelegramLog := baseLogCfg.Telegram.Enabled
	baseLogCfg.Telegram.Enabled = false
	logSvc, log := logx.New(baseLogCfg, ad)
	log = log.With(logx.String("comp", "app"))

	adminChat, _ := parseAdminChat(cfg.Telegram.AdminChat)
	if adminChat != 0 {
		logSvc.SetTelegramTarget(adminChat)
	}
	if wantTelegramLog {
		final := baseLogCfg
		final.Telegram.Enabled = true
		logSvc.Apply(final)
	}

	bus := eventbus.New()

	// Storage. A broken persistent store degrades to in-memory state
	// rather than keeping the bot down; subscriptions and the delivery
	// ledger then live until the next restart.
	slog := log.With(logx.String("comp", "storage"))
	sc, persistent, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(sc, slog)
	if err != nil {
		log.Warn("storage open failed; continuing with in-memory state", logx.Err(err))
		st, err = storage.Open(storage.Config{Driver: "memory"}, slog)
		if err != nil {
			return nil, err
		}
	} else if persistent {
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	subs := subscribers.New(ctx, st, log.With(logx.String("comp", "subscribers")))

	dopt, err := mapDedupOptions(cfg)
	if err != nil {
		return nil, err
	}
	ledger := dedup.New(ctx, st, dopt, log.With(logx.String("comp", "dedup")))

	apiKey, sopt, err := mapSourceConfig(cfg)
	if err != nil {
		return nil, err
	}
	var src monitor.Source
	if apiKey != "" {
		client, err := gnews.NewClient(apiKey, sopt, log.With(logx.String("comp", "source")))
		if err != nil {
			return nil, err
		}
		src = client
	} else if cfg.Monitor.Enabled {
		return nil, fmt.Errorf("source.api_key is required when monitor.enabled is true")
	}

	lang, topt, err := mapTranslateConfig(cfg)
	if err != nil {
		return nil, err
	}
	var trans monitor.Translator
	if cfg.Translate.Enabled {
		trans = translate.New(lang, topt, log.With(logx.String("comp", "translate")))
	}

	bopt, err := mapBroadcastOptions(cfg)
	if err != nil {
		return nil, err
	}
	bc := broadcast.New(ad, subs, ledger, bus, bopt, log.With(logx.String("comp", "broadcast")))

	proc := commands.New(ctx, ad, subs, ledger, st, bus,
		commands.Options{PollTimeout: pollTimeout},
		log.With(logx.String("comp", "commands")))

	mc, err := mapMonitorConfig(cfg)
	if err != nil {
		return nil, err
	}
	mon := monitor.New(mc, src, trans, ledger, bc, bus, log.With(logx.String("comp", "monitor")))

	dc, err := mapDebugConfig(cfg)
	if err != nil {
		return nil, err
	}
	dbg := debug.New(dc, log.With(logx.String("comp", "debug")))

	app := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   st,
		adapter: ad,
		subs:    subs,
		ledger:  ledger,
		bc:      bc,
		proc:    proc,
		mon:     mon,
		debug:   dbg,
	}
	app.adminChat.Store(adminChat)
	return app, nil
}

// Done is closed when the app run context is canceled (fatal error or Stop).
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
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg, a.mon)
	})

	if a.debug.Enabled() {
		a.debug.Start(a.sup.Context())
	}
	if err := a.mon.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.GoRestart("commands.poll", a.proc.Run,
		rtsup.WithRestartBackoff(time.Second, 30*time.Second))

	// Log events for observability (components can also subscribe themselves).
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
				// Debug-level to keep hourly cycles out of operator logs.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// Hot reload config fan-out.
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
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Debug("config change summary", fields...)
				} else {
					a.log.Debug("config reload received, but no effective changes detected")
				}
				prev := lastApplied
				lastApplied = newCfg

				a.applyConfig(c, prev, newCfg)

				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Info("config reloaded", fields...)
				} else {
					a.log.Info("config reloaded (no changes)")
				}
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	// Menu registration and the admin startup notice are best-effort and
	// must not delay startup.
	a.sup.Go0("telegram.hello", func(c context.Context) {
		hctx, cancel := context.WithTimeout(c, 15*time.Second)
		defer cancel()
		if err := a.adapter.SetCommands(hctx, []kit.BotCommand{
			{Command: "start", Description: "Підписатися на розсилку новин"},
			{Command: "stop", Description: "Відписатися від розсилки"},
			{Command: "status", Description: "Стан підписки"},
		}); err != nil {
			a.log.Warn("command menu update failed", logx.Err(err))
		}
		if id := a.adminChat.Load(); id != 0 {
			if err := a.adapter.SendPlain(hctx, id, "🚀 Бот запущено та готовий до роботи."); err != nil {
				a.log.Warn("startup notice failed", logx.Err(err))
			}
		}
	})

	a.log.Info("app started",
		logx.String("bot", a.adapter.Identity().Username),
		logx.Int("subscribers", a.subs.Len()),
		logx.Int("ledger_records", a.ledger.Len()),
	)
	return nil
}

// applyConfig fans one validated config out to the running services.
// Boot-time settings (clients, storage) only get a restart-required
// warning here.
func (a *App) applyConfig(ctx context.Context, prev, cfg *config.Config) {
	if prev != nil {
		if strings.TrimSpace(prev.Telegram.Token) != strings.TrimSpace(cfg.Telegram.Token) ||
			strings.TrimSpace(prev.Telegram.PollTimeout) != strings.TrimSpace(cfg.Telegram.PollTimeout) {
			a.log.Warn("telegram token or poll timeout changed; restart required to take effect")
		}
		if strings.TrimSpace(prev.Source.APIKey) != strings.TrimSpace(cfg.Source.APIKey) ||
			strings.TrimSpace(prev.Source.BaseURL) != strings.TrimSpace(cfg.Source.BaseURL) ||
			strings.TrimSpace(prev.Source.Timeout) != strings.TrimSpace(cfg.Source.Timeout) ||
			prev.Source.MaxResults != cfg.Source.MaxResults {
			a.log.Warn("source client config changed; restart required to take effect")
		}
		if prev.Translate != cfg.Translate {
			a.log.Warn("translate config changed; restart required to take effect")
		}
		if (prev.Storage == nil) != (cfg.Storage == nil) ||
			(prev.Storage != nil && cfg.Storage != nil && *prev.Storage != *cfg.Storage) {
			a.log.Warn("storage config changed; restart required to take effect")
		}
	}

	// Update the log target first so Apply never warns about a missing
	// target when the telegram sink is enabled.
	if id, ok := parseAdminChat(cfg.Telegram.AdminChat); ok {
		a.adminChat.Store(id)
		a.logs.SetTelegramTarget(id)
	} else {
		a.adminChat.Store(0)
		a.logs.SetTelegramTarget(0)
	}
	a.logs.Apply(mapLoggingConfig(cfg))

	if bopt, err := mapBroadcastOptions(cfg); err != nil {
		a.log.Warn("invalid broadcast config; keeping previous", logx.Err(err))
	} else {
		a.bc.Apply(bopt)
	}

	if dopt, err := mapDedupOptions(cfg); err != nil {
		a.log.Warn("invalid dedup config; keeping previous", logx.Err(err))
	} else {
		a.ledger.Apply(dopt)
	}

	if mc, err := mapMonitorConfig(cfg); err != nil {
		a.log.Warn("invalid monitor config; keeping previous", logx.Err(err))
	} else {
		a.mon.Apply(mc)
		if mc.Enabled {
			// Covers enabling the monitor after a disabled boot; a no-op
			// when it is already running.
			if err := a.mon.Start(ctx); err != nil {
				a.log.Warn("monitor start failed", logx.Err(err))
			}
		}
	}

	if dc, err := mapDebugConfig(cfg); err != nil {
		a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
	} else {
		a.debug.Reconfigure(ctx, dc)
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// The admin notice goes out before the run context unwinds.
	if id := a.adminChat.Load(); id != 0 {
		nctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := a.adapter.SendPlain(nctx, id, "🛑 Бот зупинено."); err != nil {
			a.log.Debug("shutdown notice failed", logx.Err(err))
		}
		cancel()
	}

	// Cancel the run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// step runs a shutdown stage with an upper bound so one component
	// cannot stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// Respect the caller's deadline; never extend it.
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
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn must honor stepCtx and return promptly. If it
			// does not, log a leak signal.
			elapsed := time.Since(start)
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", elapsed),
			)
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

	// Order: stop producing first, then wait for the loops, then close
	// what they persist into.
	step("monitor", 3*time.Second, func(c context.Context) error { a.mon.Stop(c); return nil })
	step("debug", 1*time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// scheduleChecker is the slice of the monitor used by config validation.
type scheduleChecker interface {
	ValidateSchedule(spec string) error
}

// validateConfig rejects a config before it is committed or published,
// so a bad edit never reaches the running services.
func validateConfig(cfg *config.Config, sched scheduleChecker) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := parseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if raw := strings.TrimSpace(cfg.Telegram.AdminChat); raw != "" {
		if _, ok := parseAdminChat(raw); !ok {
			return fmt.Errorf("telegram.admin_chat: invalid chat id %q", raw)
		}
	}
	apiKey, _, err := mapSourceConfig(cfg)
	if err != nil {
		return err
	}
	if cfg.Monitor.Enabled && apiKey == "" {
		return fmt.Errorf("source.api_key is required when monitor.enabled is true")
	}
	if _, _, err := mapTranslateConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDedupOptions(cfg); err != nil {
		return err
	}
	if _, err := mapBroadcastOptions(cfg); err != nil {
		return err
	}
	if _, err := mapMonitorConfig(cfg); err != nil {
		return err
	}
	if sched != nil && strings.TrimSpace(cfg.Monitor.Schedule) != "" {
		if err := sched.ValidateSchedule(cfg.Monitor.Schedule); err != nil {
			return err
		}
	}
	if _, err := mapDebugConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}
