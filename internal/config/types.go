package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "10s", "2m").
type Config struct {
	Telegram    TelegramConfig     `json:"telegram"`
	Logging     LoggingConfig      `json:"logging"`
	Storage     StorageConfig      `json:"storage"`
	Broadcast   BroadcastConfig    `json:"broadcast"`
	Bot         BotConfig          `json:"bot"`
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout"`
	// APIURL points at a self-hosted Bot API server; empty means the public one.
	APIURL string `json:"api_url,omitempty"`
	// LogChat receives WARN+ records when logging.telegram is enabled.
	LogChat int64 `json:"log_chat,omitempty"`
	// BootstrapAdminIDs are ensured to be admins at startup.
	BootstrapAdminIDs []int64 `json:"bootstrap_admin_ids,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the user directory backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/schedbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// BroadcastConfig controls schedule fan-out. Zero values take the
// broadcast package defaults.
type BroadcastConfig struct {
	Workers     int    `json:"workers,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
	RetryMax    int    `json:"retry_max,omitempty"`
	// MaxFileSize accepts "10MB", "512KiB" or a plain byte count.
	MaxFileSize string `json:"max_file_size,omitempty"`
}

// BotConfig controls request handling.
//
// CompletePendingIntent is a pointer so an omitted key keeps the default
// (true) while an explicit false disables it.
type BotConfig struct {
	HandlerTimeout        string `json:"handler_timeout,omitempty"`
	BroadcastTimeout      string `json:"broadcast_timeout,omitempty"`
	DispatchWorkers       int    `json:"dispatch_workers,omitempty"`
	CompletePendingIntent *bool  `json:"complete_pending_intent,omitempty"`
	LegacyPromoteReply    bool   `json:"legacy_promote_reply,omitempty"`
	IntentTTL             string `json:"intent_ttl,omitempty"`
}

func (b BotConfig) CompletePendingIntentEnabled() bool {
	return b.CompletePendingIntent == nil || *b.CompletePendingIntent
}

// MaintenanceConfig controls the periodic sweeper. Omitting the section
// enables it with defaults.
type MaintenanceConfig struct {
	Enabled bool `json:"enabled"`
	// SweepSpec is a standard 5-field cron expression or a descriptor such as
	// "@every 10m".
	SweepSpec      string `json:"sweep_spec,omitempty"`
	AuditRetention string `json:"audit_retention,omitempty"`
}

func (c *Config) MaintenanceOrDefault() MaintenanceConfig {
	if c == nil || c.Maintenance == nil {
		return MaintenanceConfig{Enabled: true}
	}
	return *c.Maintenance
}
