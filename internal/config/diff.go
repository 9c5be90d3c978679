package config

import (
	"reflect"
	"sort"
	"strings"

	logx "schedbot/pkg/logx"
)

// SummarizeChange lists the changed top-level sections and safe fields for
// the reload log line. The bot token is never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
	)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.PollTimeout != nt.PollTimeout || ot.APIURL != nt.APIURL ||
		ot.LogChat != nt.LogChat || !reflect.DeepEqual(ot.BootstrapAdminIDs, nt.BootstrapAdminIDs) {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Int("telegram.bootstrap_admins", len(nt.BootstrapAdminIDs)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		fields = append(fields, logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)))
	}
	if oldCfg.Broadcast != newCfg.Broadcast {
		changed = append(changed, "broadcast")
		fields = append(fields,
			logx.Int("broadcast.workers", newCfg.Broadcast.Workers),
			logx.Int("broadcast.rate_per_sec", newCfg.Broadcast.RatePerSec),
		)
	}
	if !reflect.DeepEqual(oldCfg.Bot, newCfg.Bot) {
		changed = append(changed, "bot")
		fields = append(fields,
			logx.Bool("bot.complete_pending_intent", newCfg.Bot.CompletePendingIntentEnabled()),
			logx.Bool("bot.legacy_promote_reply", newCfg.Bot.LegacyPromoteReply),
		)
	}
	if oldCfg.MaintenanceOrDefault() != newCfg.MaintenanceOrDefault() {
		changed = append(changed, "maintenance")
	}
	sort.Strings(changed)
	return changed, fields
}

// RestartRequired reports sections that only take effect after a restart.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.PollTimeout != nt.PollTimeout || ot.APIURL != nt.APIURL {
		out = append(out, "telegram")
	}
	if oldCfg.Storage != newCfg.Storage {
		out = append(out, "storage")
	}
	if oldCfg.Bot.DispatchWorkers != newCfg.Bot.DispatchWorkers {
		out = append(out, "bot.dispatch_workers")
	}
	return out
}
