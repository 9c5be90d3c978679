package broadcast

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"schedbot/internal/eventbus"
	"schedbot/internal/schedule"
	"schedbot/internal/storage"
	"schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

type Coordinator struct {
	tr     Transport
	parser schedule.Parser
	dir    Directory
	bus    eventbus.Bus
	log    logx.Logger

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
}

func New(cfg Config, tr Transport, parser schedule.Parser, dir Directory, bus eventbus.Bus, log logx.Logger) *Coordinator {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Coordinator{tr: tr, parser: parser, dir: dir, bus: bus, log: log}
	c.Apply(cfg)
	return c
}

// Apply swaps limits for subsequent broadcasts; a running one keeps its
// snapshot.
func (c *Coordinator) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (c *Coordinator) snapshot() (Config, *rate.Limiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg, c.limiter
}

// MaxFileSize is the current upload limit.
func (c *Coordinator) MaxFileSize() int64 {
	cfg, _ := c.snapshot()
	return cfg.MaxFileSize
}

// ProcessAdminUpload downloads and parses the document, then sends every
// registered chat the schedule of its group. The caller has already checked
// that adminID is an admin.
//
// Download, parse and directory errors abort before any message is sent.
// Delivery errors never abort: they are counted in the Report.
func (c *Coordinator) ProcessAdminUpload(ctx context.Context, adminID int64, fileID string) (Report, error) {
	start := time.Now()
	cfg, lim := c.snapshot()
	rep := Report{JobID: uuid.NewString()}
	log := c.log.With(logx.String("job", rep.JobID), logx.Int64("admin_id", adminID))

	data, err := c.fetch(ctx, fileID, cfg.MaxFileSize)
	if err != nil {
		return rep, err
	}
	log.Info("schedule document received", logx.String("size", humanize.Bytes(uint64(len(data)))))

	idx, err := c.parser.Parse(ctx, bytes.NewReader(data))
	if err != nil {
		return rep, err
	}
	rep.Groups = idx.Len()

	users, err := c.dir.All(ctx)
	if err != nil {
		return rep, fmt.Errorf("load directory: %w", err)
	}
	rep.Total = len(users)
	log.Info("broadcast started", logx.Int("recipients", rep.Total), logx.Int("groups", rep.Groups), logx.Int("workers", cfg.Workers))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(cfg.Workers)
	for _, u := range users {
		g.Go(func() error {
			text := idx.Lookup(u.GroupName)
			err := c.deliver(ctx, cfg, lim, u, text)

			mu.Lock()
			defer mu.Unlock()
			if !idx.Has(u.GroupName) {
				rep.NotFound++
			}
			if err != nil {
				rep.Failed++
				if len(rep.Failures) < maxFailures {
					rep.Failures = append(rep.Failures, Failure{ChatID: u.ChatID, Group: u.GroupName, Err: err.Error()})
				}
				return nil
			}
			rep.Delivered++
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(rep.Failures, func(i, j int) bool { return rep.Failures[i].ChatID < rep.Failures[j].ChatID })
	rep.Took = time.Since(start)

	fields := []logx.Field{
		logx.Int("total", rep.Total),
		logx.Int("delivered", rep.Delivered),
		logx.Int("failed", rep.Failed),
		logx.Int("not_found", rep.NotFound),
		logx.Duration("dur", rep.Took),
	}
	if rep.Failed > 0 {
		log.Warn("broadcast finished with failures", fields...)
	} else {
		log.Info("broadcast finished", fields...)
	}
	eventbus.Publish(c.bus, eventbus.BroadcastFinished, map[string]any{
		"job":       rep.JobID,
		"admin_id":  adminID,
		"total":     rep.Total,
		"delivered": rep.Delivered,
		"failed":    rep.Failed,
	})
	return rep, nil
}

func (c *Coordinator) fetch(ctx context.Context, fileID string, limit int64) ([]byte, error) {
	rc, err := c.tr.DownloadFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("download document: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("download document: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: over %s", ErrFileTooLarge, humanize.Bytes(uint64(limit)))
	}
	return data, nil
}

// deliver sends one message with per-attempt timeout and linear backoff.
func (c *Coordinator) deliver(ctx context.Context, cfg Config, lim *rate.Limiter, u storage.UserRecord, text string) error {
	to := transport.ChatTarget{ChatID: u.ChatID}
	var last error
	for attempt := 0; attempt <= cfg.RetryMax; attempt++ {
		if attempt > 0 {
			delay := time.Duration(200+100*attempt) * time.Millisecond
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return err
			}
		}
		sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := c.tr.SendText(sctx, to, text, &transport.SendOptions{DisablePreview: true})
		cancel()
		if err == nil {
			return nil
		}
		last = err
		c.log.Debug("broadcast send failed", logx.Int64("chat_id", u.ChatID), logx.Int("attempt", attempt+1), logx.Err(err))
	}
	return last
}
