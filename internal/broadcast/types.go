// Package broadcast fans one uploaded schedule out to every registered chat.
package broadcast

import (
	"context"
	"errors"
	"io"
	"time"

	"schedbot/internal/storage"
	"schedbot/internal/transport"
)

var ErrFileTooLarge = errors.New("broadcast: file too large")

type Config struct {
	// Workers bounds concurrent sends; 0 means 4.
	Workers int
	// RatePerSec caps sends across all workers; 0 means 25.
	RatePerSec int
	// SendTimeout bounds one delivery attempt; 0 means 15s.
	SendTimeout time.Duration
	RetryMax    int
	// MaxFileSize bounds the downloaded document; 0 means 10 MiB.
	MaxFileSize int64
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 25
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 10 << 20
	}
	return c
}

// Transport is what a broadcast needs from the chat adapter.
type Transport interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
	DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// Directory is the read-only view of registered users.
type Directory interface {
	All(ctx context.Context) ([]storage.UserRecord, error)
}

type Failure struct {
	ChatID int64
	Group  string
	Err    string
}

// Report summarizes one broadcast. Failures is capped at maxFailures entries;
// Failed always holds the full count.
type Report struct {
	JobID     string
	Total     int
	Delivered int
	Failed    int
	// NotFound counts recipients whose group is absent from the document.
	NotFound int
	Groups   int
	Failures []Failure
	Took     time.Duration
}

const maxFailures = 200
