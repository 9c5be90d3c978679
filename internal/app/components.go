package app

import (
	"schedbot/internal/bot"
	"schedbot/internal/broadcast"
	"schedbot/internal/config"
	"schedbot/internal/maintenance"
	"schedbot/internal/storage"
	telegram "schedbot/internal/transport/telegram"
	logx "schedbot/pkg/logx"
)

const defaultDispatchWorkers = 8

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Telegram.LogChat,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func telegramConfig(cfg *config.Config, r config.Resolved) telegram.Config {
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: r.PollTimeout,
		APIURL:      cfg.Telegram.APIURL,
	}
}

func storageConfig(cfg *config.Config, r config.Resolved) storage.Config {
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: r.StorageBusyTimeout,
	}
}

func broadcastConfig(cfg *config.Config, r config.Resolved) broadcast.Config {
	return broadcast.Config{
		Workers:     cfg.Broadcast.Workers,
		RatePerSec:  cfg.Broadcast.RatePerSec,
		SendTimeout: r.SendTimeout,
		RetryMax:    cfg.Broadcast.RetryMax,
		MaxFileSize: r.MaxFileSize,
	}
}

func botOptions(cfg *config.Config, r config.Resolved) bot.Options {
	return bot.Options{
		CompletePendingIntent: cfg.Bot.CompletePendingIntentEnabled(),
		LegacyPromoteReply:    cfg.Bot.LegacyPromoteReply,
		IntentTTL:             r.IntentTTL,
		HandlerTimeout:        r.HandlerTimeout,
		BroadcastTimeout:      r.BroadcastTimeout,
	}
}

func maintenanceConfig(r config.Resolved) maintenance.Config {
	return maintenance.Config{
		Enabled:        r.Maintenance,
		Spec:           r.SweepSpec,
		AuditRetention: r.AuditRetention,
	}
}

func dispatchWorkers(cfg *config.Config) int {
	if cfg.Bot.DispatchWorkers > 0 {
		return cfg.Bot.DispatchWorkers
	}
	return defaultDispatchWorkers
}
