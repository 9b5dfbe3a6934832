package app

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"fencewatch/internal/alert"
	"fencewatch/internal/config"
	"fencewatch/internal/engine"
	"fencewatch/internal/feed"
	"fencewatch/internal/storage"
)

func parseNotifyKinds(raw []string) ([]alert.Kind, error) {
	if len(raw) == 0 {
		return []alert.Kind{alert.KindOutOfRange}, nil
	}
	kinds := make([]alert.Kind, 0, len(raw))
	for _, s := range raw {
		k, ok := alert.ParseKind(s)
		if !ok {
			return nil, fmt.Errorf("engine.notify_kinds: unknown kind %q", s)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, string, error) {
	kinds, err := parseNotifyKinds(cfg.Engine.NotifyKinds)
	if err != nil {
		return engine.Config{}, "", err
	}
	dedup, err := config.ParseDurationOrDefault("engine.dedup_window", cfg.Engine.DedupWindow, engine.DefaultDedupWindow)
	if err != nil {
		return engine.Config{}, "", err
	}
	dismiss, err := config.ParseDurationOrDefault("engine.auto_dismiss", cfg.Engine.AutoDismiss, engine.DefaultAutoDismiss)
	if err != nil {
		return engine.Config{}, "", err
	}
	maxAge, err := config.ParseDurationOrDefault("engine.ledger_max_age", cfg.Engine.LedgerMaxAge, 6*dedup)
	if err != nil {
		return engine.Config{}, "", err
	}
	sweep := strings.TrimSpace(cfg.Engine.SweepSchedule)
	if sweep == "" {
		sweep = "@every 1m"
	}
	return engine.Config{
		NotifyKinds:      kinds,
		DedupWindow:      dedup,
		AutoDismiss:      dismiss,
		QueueSize:        cfg.Engine.QueueSize,
		LedgerMaxEntries: cfg.Engine.LedgerMaxEntries,
		LedgerMaxAge:     maxAge,
		PersistDedup:     cfg.Engine.PersistDedup,
	}, sweep, nil
}

func mapFeedConfig(cfg *config.Config) feed.Config {
	return feed.Config{
		Addr:          cfg.Feed.Addr,
		Password:      cfg.Feed.Password,
		DB:            cfg.Feed.DB,
		ChannelPrefix: cfg.Feed.ChannelPrefix,
		OwnerID:       cfg.Feed.OwnerID,
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:         driver,
		Path:           cfg.Storage.Path,
		BusyTimeout:    busy,
		HistoryMaxRows: cfg.Storage.HistoryMaxRows,
	}, true, nil
}

// validateConfig gates hot reloads: a bad edit keeps the previous config.
func validateConfig(cfg *config.Config) error {
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Feed.Addr) == "" {
		return fmt.Errorf("feed.addr must not be empty")
	}
	if strings.TrimSpace(cfg.Feed.OwnerID) == "" {
		return fmt.Errorf("feed.owner_id must not be empty")
	}
	if s := strings.TrimSpace(cfg.Engine.SweepSchedule); s != "" {
		if _, err := cron.ParseStandard(s); err != nil {
			return fmt.Errorf("engine.sweep_schedule: %w", err)
		}
	}
	if cfg.Storage != nil {
		if s := strings.TrimSpace(cfg.Storage.PruneSchedule); s != "" {
			if _, err := cron.ParseStandard(s); err != nil {
				return fmt.Errorf("storage.prune_schedule: %w", err)
			}
		}
	}
	return nil
}
