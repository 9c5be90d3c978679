// Package maintenance runs periodic cleanup of expired conversation state
// and old audit rows.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "schedbot/pkg/logx"
)

type Config struct {
	Enabled bool
	// Spec is a 5-field cron expression or descriptor ("@every 10m").
	Spec string
	// AuditRetention keeps audit rows newer than now-AuditRetention; 0 keeps
	// everything.
	AuditRetention time.Duration
	// Timeout bounds one sweep; 0 means 30s.
	Timeout time.Duration
}

// Store is the cleanup surface of storage.Store.
type Store interface {
	PruneIntents(ctx context.Context, now time.Time) (int, error)
	PruneAudit(ctx context.Context, before time.Time) (int, error)
}

type Result struct {
	Intents int
	Audit   int
	Took    time.Duration
}

type Sweeper struct {
	store Store
	log   logx.Logger
	now   func() time.Time

	mu   sync.Mutex
	cfg  Config
	c    *cron.Cron
	base context.Context
}

func New(cfg Config, store Store, log logx.Logger) *Sweeper {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sweeper{cfg: cfg, store: store, log: log, now: time.Now}
}

// Start schedules the sweep. It is a no-op when disabled or already started.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = ctx
	return s.startLocked()
}

func (s *Sweeper) startLocked() error {
	if s.c != nil || !s.cfg.Enabled {
		return nil
	}
	c := cron.New(
		cron.WithLogger(cronLogger{log: s.log}),
		cron.WithChain(cron.Recover(cronLogger{log: s.log}), cron.SkipIfStillRunning(cronLogger{log: s.log})),
	)
	if _, err := c.AddFunc(s.cfg.Spec, s.runScheduled); err != nil {
		return fmt.Errorf("maintenance spec %q: %w", s.cfg.Spec, err)
	}
	c.Start()
	s.c = c
	s.log.Info("sweeper started", logx.String("spec", s.cfg.Spec), logx.Duration("audit_retention", s.cfg.AuditRetention))
	return nil
}

func (s *Sweeper) stopLocked(ctx context.Context) {
	if s.c == nil {
		return
	}
	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
	}
	s.c = nil
}

func (s *Sweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
	s.log.Info("sweeper stopped")
}

// Apply reschedules with cfg when the sweeper is running.
func (s *Sweeper) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.base == nil || (old.Enabled == cfg.Enabled && old.Spec == cfg.Spec) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	s.stopLocked(ctx)
	cancel()
	return s.startLocked()
}

func (s *Sweeper) runScheduled() {
	s.mu.Lock()
	base := s.base
	s.mu.Unlock()
	if base == nil || base.Err() != nil {
		return
	}
	if _, err := s.SweepOnce(base); err != nil {
		s.log.Warn("sweep failed", logx.Err(err))
	}
}

// SweepOnce prunes expired intents and audit rows past retention.
func (s *Sweeper) SweepOnce(ctx context.Context) (Result, error) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := s.now()
	var res Result
	n, err := s.store.PruneIntents(ctx, start)
	if err != nil {
		return res, fmt.Errorf("prune intents: %w", err)
	}
	res.Intents = n

	if cfg.AuditRetention > 0 {
		n, err = s.store.PruneAudit(ctx, start.Add(-cfg.AuditRetention))
		if err != nil {
			return res, fmt.Errorf("prune audit: %w", err)
		}
		res.Audit = n
	}
	res.Took = time.Since(start)

	if res.Intents > 0 || res.Audit > 0 {
		s.log.Info("sweep done", logx.Int("intents", res.Intents), logx.Int("audit", res.Audit), logx.Duration("took", res.Took))
	} else {
		s.log.Debug("sweep done, nothing to prune")
	}
	return res, nil
}

// cronLogger routes cron's own messages into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
