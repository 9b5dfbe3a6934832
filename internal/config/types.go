package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Feed configures the live alert change feed subscription.
	Feed FeedConfig `json:"feed"`

	// Engine controls notification filtering and presentation timing.
	Engine EngineConfig `json:"engine"`

	// Storage controls the optional local notification journal.
	Storage *StorageConfig `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// ChatID is the owner's chat where alert popups are shown.
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`

	// GroupLog is the chat id (as string) receiving the Telegram log sink.
	GroupLog string `json:"group_log,omitempty"`

	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`

	// RatePerSec caps outbound surface sends.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level    string                `json:"level"`
	Console  bool                  `json:"console"`
	File     LoggingFileConfig     `json:"file"`
	Telegram LoggingTelegramConfig `json:"telegram"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type LoggingTelegramConfig struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// FeedConfig describes the Redis pub/sub change feed.
//
// The backend publishes alert record changes on channel
// "<channel_prefix><owner_id>". OwnerID also drives the adapter's
// defense-in-depth owner check: records for other owners are dropped even
// if the transport failed to scope the subscription.
type FeedConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`

	ChannelPrefix string `json:"channel_prefix,omitempty"` // default "fencewatch:alerts:"
	OwnerID       string `json:"owner_id"`

	QueueSize int `json:"queue_size,omitempty"` // default 256
}

// EngineConfig controls the notification engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - notify_kinds: ["out_of_range"]
//   - dedup_window: "10s"
//   - auto_dismiss: "5s"
//   - queue_size: 64
//   - ledger_max_entries: 2000
//   - ledger_max_age: 6x dedup_window
//   - sweep_schedule: "@every 1m"
type EngineConfig struct {
	// NotifyKinds is the set of canonical alert kinds that trigger popups.
	// Kept configurable rather than hard-coded: product scope may add kinds.
	NotifyKinds []string `json:"notify_kinds,omitempty"`

	DedupWindow string `json:"dedup_window,omitempty"`
	AutoDismiss string `json:"auto_dismiss,omitempty"`

	QueueSize int `json:"queue_size,omitempty"`

	LedgerMaxEntries int    `json:"ledger_max_entries,omitempty"`
	LedgerMaxAge     string `json:"ledger_max_age,omitempty"`
	SweepSchedule    string `json:"sweep_schedule,omitempty"`

	// PersistDedup extends dedup suppression across restarts via storage.
	PersistDedup bool `json:"persist_dedup,omitempty"`
}

// StorageConfig controls the local notification journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./fencewatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string

	HistoryMaxRows int    `json:"history_max_rows,omitempty"` // default 500
	PruneSchedule  string `json:"prune_schedule,omitempty"`   // default "@every 10m"
}
