package app

import (
	"testing"
	"time"

	"schedbot/internal/bot"
	"schedbot/internal/broadcast"
	"schedbot/internal/config"
	"schedbot/internal/maintenance"
	"schedbot/internal/schedule"
	"schedbot/internal/storage"
	logx "schedbot/pkg/logx"
)

func TestComponentMapping(t *testing.T) {
	off := false
	cfg := &config.Config{
		Telegram:  config.TelegramConfig{Token: "x", LogChat: -100},
		Logging:   config.LoggingConfig{Level: "debug", Telegram: config.LoggingTelegram{Enabled: true, ThreadID: 3}},
		Broadcast: config.BroadcastConfig{Workers: 6, MaxFileSize: "1MiB", SendTimeout: "4s"},
		Bot:       config.BotConfig{CompletePendingIntent: &off, IntentTTL: "5m"},
	}
	r, err := config.Resolve(cfg)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	lc := logConfig(cfg)
	if !lc.Chat.Enabled || lc.Chat.ChatID != -100 || lc.Chat.ThreadID != 3 {
		t.Fatalf("log config: %+v", lc)
	}
	bc := broadcastConfig(cfg, r)
	if bc.Workers != 6 || bc.MaxFileSize != 1<<20 || bc.SendTimeout != 4*time.Second {
		t.Fatalf("broadcast config: %+v", bc)
	}
	bo := botOptions(cfg, r)
	if bo.CompletePendingIntent || bo.IntentTTL != 5*time.Minute {
		t.Fatalf("bot options: %+v", bo)
	}
	if mc := maintenanceConfig(r); !mc.Enabled || mc.Spec == "" {
		t.Fatalf("maintenance config: %+v", mc)
	}
	if dispatchWorkers(cfg) != defaultDispatchWorkers {
		t.Fatalf("dispatch workers default not applied")
	}
}

func TestApplyConfigReachesComponents(t *testing.T) {
	st := storage.NewMemory()
	logs, log := logx.New(logx.Config{}, nil)
	defer logs.Close()
	coord := broadcast.New(broadcast.Config{}, nil, schedule.XLSXParser{}, st, nil, log)
	a := &App{
		log:     log,
		logs:    logs,
		store:   st,
		coord:   coord,
		bot:     bot.New(nil, st, coord, nil, log, bot.DefaultOptions()),
		sweeper: maintenance.New(maintenance.Config{}, st, log),
	}

	cfg := &config.Config{
		Telegram:  config.TelegramConfig{Token: "x"},
		Broadcast: config.BroadcastConfig{MaxFileSize: "2MB"},
	}
	if err := a.applyConfig(cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := coord.MaxFileSize(); got != 2_000_000 {
		t.Fatalf("max file size = %d", got)
	}

	cfg.Broadcast.SendTimeout = "never"
	if err := a.applyConfig(cfg); err == nil {
		t.Fatalf("unresolvable config applied")
	}
	if got := coord.MaxFileSize(); got != 2_000_000 {
		t.Fatalf("rejected config changed max file size to %d", got)
	}
}
