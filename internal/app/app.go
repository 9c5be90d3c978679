package app

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"schedbot/internal/bot"
	"schedbot/internal/broadcast"
	"schedbot/internal/config"
	"schedbot/internal/eventbus"
	"schedbot/internal/maintenance"
	rtsup "schedbot/internal/runtime/supervisor"
	"schedbot/internal/schedule"
	"schedbot/internal/storage"
	"schedbot/internal/transport"
	telegram "schedbot/internal/transport/telegram"
	logx "schedbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	adapter *telegram.Adapter
	coord   *broadcast.Coordinator
	bot     *bot.Bot
	sweeper *maintenance.Sweeper

	workers int
	sup     *rtsup.Supervisor
	updates chan transport.Update
}

// CheckConfig loads and validates the file without starting anything.
func CheckConfig(path string) error {
	cfg, err := config.NewManager(path, logx.Nop()).Load()
	if err != nil {
		return err
	}
	_, err = config.Resolve(cfg)
	return err
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.NewConsole("info"))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	r, err := config.Resolve(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	// The chat sink needs the adapter, and the adapter needs a logger.
	logSvc, log := logx.New(logConfig(cfg), nil)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	ad, err := telegram.New(telegramConfig(cfg, r), log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	logSvc.SetSender(ad)

	st, err := storage.Open(storageConfig(cfg, r), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", strings.TrimSpace(cfg.Storage.Driver)))

	bus := eventbus.New()
	coord := broadcast.New(broadcastConfig(cfg, r), ad, schedule.XLSXParser{}, st, bus,
		log.With(logx.String("comp", "broadcast")))
	b := bot.New(ad, st, coord, bus, log.With(logx.String("comp", "bot")), botOptions(cfg, r))
	sw := maintenance.New(maintenanceConfig(r), st, log.With(logx.String("comp", "maintenance")))

	return &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		store:   st,
		adapter: ad,
		coord:   coord,
		bot:     b,
		sweeper: sw,
		workers: dispatchWorkers(cfg),
		updates: make(chan transport.Update, 256),
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
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	bootCtx, cancel := context.WithTimeout(c, 10*time.Second)
	err := ensureAdmins(bootCtx, a.store, a.cfgm.Get().Telegram.BootstrapAdminIDs, a.log)
	cancel()
	if err != nil {
		a.log.Warn("bootstrap admins incomplete", logx.Err(err))
	}

	if err := a.adapter.Start(c, a.updates); err != nil {
		return err
	}
	publishMenu(c, a.adapter, a.bot.MenuCommands(), a.log)

	if err := a.sweeper.Start(c); err != nil {
		a.log.Warn("sweeper not started", logx.Err(err))
	}

	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.bot.Run(c, a.updates, a.workers)
	})

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
				logEvent(a.log, e)
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
				a.reload(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("dispatch_workers", a.workers))
	return nil
}

func (a *App) reload(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range config.RestartRequired(oldCfg, newCfg) {
		a.log.Warn("config change needs a restart to take effect", logx.String("section", s))
	}
	if err := a.applyConfig(newCfg); err != nil {
		a.log.Warn("config not applied; keeping previous", logx.Err(err))
		return
	}
	if !reflect.DeepEqual(oldCfg.Telegram.BootstrapAdminIDs, newCfg.Telegram.BootstrapAdminIDs) {
		c, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := ensureAdmins(c, a.store, newCfg.Telegram.BootstrapAdminIDs, a.log); err != nil {
			a.log.Warn("bootstrap admins incomplete", logx.Err(err))
		}
		cancel()
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

// applyConfig pushes the live-reloadable sections to their components.
func (a *App) applyConfig(cfg *config.Config) error {
	r, err := config.Resolve(cfg)
	if err != nil {
		return err
	}
	a.logs.Apply(logConfig(cfg))
	a.coord.Apply(broadcastConfig(cfg, r))
	a.bot.Apply(botOptions(cfg, r))
	if err := a.sweeper.Apply(maintenanceConfig(r)); err != nil {
		a.log.Warn("maintenance schedule rejected", logx.Err(err))
	}
	return nil
}

func logEvent(log logx.Logger, e eventbus.Event) {
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := []logx.Field{logx.String("type", e.Type)}
	for _, k := range keys {
		fields = append(fields, logx.Any(k, e.Data[k]))
	}
	log.Debug("event", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
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
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("sweeper", 2*time.Second, func(c context.Context) error { a.sweeper.Stop(c); return nil })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
