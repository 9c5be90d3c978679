package bot

import (
	"context"
	"runtime/debug"
	"strconv"
	"time"

	rtsup "schedbot/internal/runtime/supervisor"
	"schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

// Run consumes updates with a bounded worker pool until ctx is done or the
// channel is closed. Updates that find the queue full are dropped and logged.
func (b *Bot) Run(ctx context.Context, updates <-chan transport.Update, workers int) error {
	if workers <= 0 {
		workers = 4
	}
	log := b.log.With(logx.String("comp", "bot.dispatch"))
	sup := rtsup.New(ctx,
		rtsup.WithLogger(log),
		rtsup.WithCancelOnError(false),
	)
	jobs := make(chan transport.Update, workers*32)

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("bot.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case up, ok := <-jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if r := recover(); r != nil {
								log.Error("panic in dispatch worker", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						_ = b.Dispatch(c, up)
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
		)
	}
	log.Info("dispatcher started", logx.Int("workers", workers), logx.Int("queue_cap", cap(jobs)))

	defer func() {
		close(jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			select {
			case jobs <- up:
			default:
				log.Warn("dispatch queue full, update dropped", logx.String("kind", string(up.Kind)))
			}
		}
	}
}
