package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
)

const (
	defaultSweepSpec      = "@every 10m"
	defaultAuditRetention = 90 * 24 * time.Hour
)

// Resolved holds the parsed values of a Config.
type Resolved struct {
	PollTimeout        time.Duration
	StorageBusyTimeout time.Duration

	SendTimeout time.Duration
	MaxFileSize int64

	HandlerTimeout   time.Duration
	BroadcastTimeout time.Duration
	IntentTTL        time.Duration

	Maintenance    bool
	SweepSpec      string
	AuditRetention time.Duration
}

// Resolve parses every duration and size field. Zero or empty values stay
// zero so the owning package applies its own default, except for the
// maintenance fields which are defaulted here.
func Resolve(cfg *Config) (Resolved, error) {
	if cfg == nil {
		return Resolved{}, errors.New("config is nil")
	}
	var (
		r    Resolved
		errs []error
	)
	dur := func(path, raw string, dst *time.Duration) {
		d, err := ParseDurationField(path, raw)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = d
	}

	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout, &r.PollTimeout)
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout, &r.StorageBusyTimeout)
	dur("broadcast.send_timeout", cfg.Broadcast.SendTimeout, &r.SendTimeout)
	dur("bot.handler_timeout", cfg.Bot.HandlerTimeout, &r.HandlerTimeout)
	dur("bot.broadcast_timeout", cfg.Bot.BroadcastTimeout, &r.BroadcastTimeout)
	dur("bot.intent_ttl", cfg.Bot.IntentTTL, &r.IntentTTL)

	if s := strings.TrimSpace(cfg.Broadcast.MaxFileSize); s != "" {
		n, err := humanize.ParseBytes(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("broadcast.max_file_size: %w", err))
		} else {
			r.MaxFileSize = int64(n)
		}
	}

	m := cfg.MaintenanceOrDefault()
	r.Maintenance = m.Enabled
	r.SweepSpec = strings.TrimSpace(m.SweepSpec)
	if r.SweepSpec == "" {
		r.SweepSpec = defaultSweepSpec
	}
	if _, err := cron.ParseStandard(r.SweepSpec); err != nil {
		errs = append(errs, fmt.Errorf("maintenance.sweep_spec: %w", err))
	}
	if d, err := ParseDurationOrDefault("maintenance.audit_retention", m.AuditRetention, defaultAuditRetention); err != nil {
		errs = append(errs, err)
	} else {
		r.AuditRetention = d
	}

	return r, errors.Join(errs...)
}

// Validate checks a config before it is committed.
func Validate(cfg *Config) error {
	if _, err := Resolve(cfg); err != nil {
		return err
	}
	var errs []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if cfg.Broadcast.Workers < 0 || cfg.Broadcast.RatePerSec < 0 || cfg.Broadcast.RetryMax < 0 {
		errs = append(errs, errors.New("broadcast: workers, rate_per_sec and retry_max must be >= 0"))
	}
	if cfg.Bot.DispatchWorkers < 0 {
		errs = append(errs, errors.New("bot.dispatch_workers must be >= 0"))
	}
	if cfg.Logging.Telegram.Enabled && cfg.Telegram.LogChat == 0 {
		errs = append(errs, errors.New("logging.telegram.enabled requires telegram.log_chat"))
	}
	return errors.Join(errs...)
}
