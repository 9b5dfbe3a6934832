// Package app wires the process together: config, logging, storage,
// the Telegram transport and surface, the notification engine, the
// live alert feed, and periodic maintenance.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"fencewatch/internal/alert"
	"fencewatch/internal/config"
	"fencewatch/internal/engine"
	"fencewatch/internal/eventbus"
	"fencewatch/internal/feed"
	rtsup "fencewatch/internal/runtime/supervisor"
	"fencewatch/internal/storage"
	surface "fencewatch/internal/surface/telegram"
	kit "fencewatch/internal/transport"
	transport "fencewatch/internal/transport/telegram"
	logx "fencewatch/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *transport.Adapter
	surf    *surface.Surface
	eng     *engine.Service
	sched   *cron.Cron

	srcMu sync.Mutex
	src   *feed.Source

	sweepSpec string
	pruneSpec string

	updates chan kit.Update
	events  chan alert.Event
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := transport.New(transport.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap logging with the Telegram sink off: the target chat has to
	// be set before Apply enables it, otherwise Apply warns spuriously.
	baseLogCfg := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    false,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
	logSvc, log := logx.New(baseLogCfg, ad)
	log = log.With(logx.String("comp", "app"))
	applyLogTarget(logSvc, cfg)
	finalLogCfg := baseLogCfg
	finalLogCfg.Telegram.Enabled = cfg.Logging.Telegram.Enabled
	logSvc.Apply(finalLogCfg)

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("journal enabled", logx.String("path", sc.Path))
	}

	surf, err := surface.New(surface.Config{
		ChatID:     cfg.Telegram.ChatID,
		ThreadID:   cfg.Telegram.ThreadID,
		RatePerSec: cfg.Telegram.RatePerSec,
	}, ad, store, log.With(logx.String("comp", "surface")))
	if err != nil {
		return nil, err
	}

	engCfg, sweepSpec, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	eng := engine.New(engCfg, surf, log.With(logx.String("comp", "engine")), bus, store)
	surf.Bind(eng)

	src, err := feed.New(mapFeedConfig(cfg), log.With(logx.String("comp", "feed")))
	if err != nil {
		return nil, err
	}

	feedQueue := cfg.Feed.QueueSize
	if feedQueue <= 0 {
		feedQueue = 256
	}
	pruneSpec := ""
	if store != nil {
		pruneSpec = cfg.Storage.PruneSchedule
		if strings.TrimSpace(pruneSpec) == "" {
			pruneSpec = "@every 10m"
		}
	}

	return &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		adapter:   ad,
		surf:      surf,
		eng:       eng,
		src:       src,
		sched:     cron.New(),
		sweepSpec: sweepSpec,
		pruneSpec: pruneSpec,
		updates:   make(chan kit.Update, 256),
		events:    make(chan alert.Event, feedQueue),
	}, nil
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(true),
	)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if err := a.surf.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if err := a.adapter.SetCommands([]kit.BotCommand{
		{Command: "alerts", Description: "Show recent alerts"},
		{Command: "status", Description: "Engine status"},
	}); err != nil {
		a.log.Debug("command menu update failed", logx.Err(err))
	}

	if err := a.eng.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.src.Start(a.sup.Context(), a.events); err != nil {
		return err
	}

	a.sup.Go0("feed.pump", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case ev := <-a.events:
				switch err := a.eng.Offer(c, ev); {
				case err == nil:
				case errors.Is(err, engine.ErrQueueFull):
					a.log.Warn("engine intake full; alert dropped", logx.String("alert_id", ev.ID))
				case errors.Is(err, engine.ErrStopped):
					return
				}
			}
		}
	})

	if _, err := a.sched.AddFunc(a.sweepSpec, a.eng.SweepLedger); err != nil {
		return fmt.Errorf("engine.sweep_schedule: %w", err)
	}
	if a.store != nil {
		if _, err := a.sched.AddFunc(a.pruneSpec, a.pruneJournal); err != nil {
			return fmt.Errorf("storage.prune_schedule: %w", err)
		}
	}
	a.sched.Start()

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
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: only the latest config matters.
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
				a.applyReload(last, newCfg)
				last = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("started")
	return nil
}

// applyReload applies what can change live (logging sinks, engine
// timing and kinds, feed subscription) and calls out what needs a
// restart (storage, sweep schedule).
func (a *App) applyReload(prev, next *config.Config) {
	sections := config.ChangedSections(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, no effective changes")
		return
	}
	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))

	for _, s := range sections {
		switch s {
		case "logging", "telegram":
			applyLogTarget(a.logs, next)
			a.logs.Apply(logx.Config{
				Level:   next.Logging.Level,
				Console: next.Logging.Console,
				File: logx.FileConfig{
					Enabled: next.Logging.File.Enabled,
					Path:    next.Logging.File.Path,
				},
				Telegram: logx.TelegramConfig{
					Enabled:    next.Logging.Telegram.Enabled,
					ThreadID:   next.Logging.Telegram.ThreadID,
					MinLevel:   next.Logging.Telegram.MinLevel,
					RatePerSec: next.Logging.Telegram.RatePerSec,
				},
			})
		case "engine":
			engCfg, _, err := mapEngineConfig(next)
			if err != nil {
				a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
				continue
			}
			a.eng.Apply(engCfg)
			if next.Engine.SweepSchedule != prev.Engine.SweepSchedule {
				a.log.Warn("sweep schedule changed; restart required to take effect")
			}
		case "feed":
			a.restartFeed(next)
		case "storage":
			a.log.Warn("storage config changed; restart required", logx.String("section", s))
		}
	}
}

// restartFeed tears down and re-establishes the feed subscription with
// the new settings (owner or transport change).
func (a *App) restartFeed(next *config.Config) {
	newSrc, err := feed.New(mapFeedConfig(next), a.log.With(logx.String("comp", "feed")))
	if err != nil {
		a.log.Warn("invalid feed config; keeping previous subscription", logx.Err(err))
		return
	}

	a.srcMu.Lock()
	old := a.src
	a.srcMu.Unlock()

	stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := old.Stop(stopCtx); err != nil {
		a.log.Debug("feed stop during reload", logx.Err(err))
	}
	cancel()

	if err := newSrc.Start(a.sup.Context(), a.events); err != nil {
		a.log.Error("feed restart failed; alerts will not arrive until config is fixed", logx.Err(err))
	}

	a.srcMu.Lock()
	a.src = newSrc
	a.srcMu.Unlock()
	a.log.Info("feed subscription re-established")
}

func (a *App) pruneJournal() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	removed, err := a.store.PruneHistory(ctx)
	if err != nil {
		a.log.Warn("journal prune failed", logx.Err(err))
		return
	}
	if removed > 0 {
		a.log.Debug("journal pruned", logx.Int64("removed", removed))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// Bounded shutdown steps: one stuck component must not stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
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
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached", logx.String("name", name))
		}
	}

	step("cron", 2*time.Second, func(c context.Context) error {
		stopped := a.sched.Stop()
		select {
		case <-stopped.Done():
		case <-c.Done():
		}
		return nil
	})
	step("feed", 2*time.Second, func(c context.Context) error {
		a.srcMu.Lock()
		src := a.src
		a.srcMu.Unlock()
		return src.Stop(c)
	})
	step("engine", 3*time.Second, func(c context.Context) error { return a.eng.Stop(c) })
	step("surface", 2*time.Second, func(c context.Context) error { return a.surf.Stop(c) })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func applyLogTarget(logs *logx.Service, cfg *config.Config) {
	if s := strings.TrimSpace(cfg.Telegram.GroupLog); s != "" {
		if chatID, err := strconv.ParseInt(s, 10, 64); err == nil {
			logs.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
			return
		}
	}
	logs.SetTelegramTarget(0, 0)
}
