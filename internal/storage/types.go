// Package storage persists the user directory, pending conversational
// intents and the admin audit trail.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict means the record changed (or appeared) since it was read.
	ErrConflict = errors.New("storage: version conflict")
	ErrClosed   = errors.New("storage: closed")
)

// Config selects the backend.
//
// Driver values:
//   - "sqlite" (default): database file at Path
//   - "memory": process-local maps, lost on restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

// UserRecord is one registered chat. Version is an optimistic concurrency
// token: 0 means "not stored yet", any other value must match the stored row
// for Upsert to succeed.
type UserRecord struct {
	ChatID    int64
	GroupName string
	IsAdmin   bool
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u UserRecord) HasGroup() bool { return u.GroupName != "" }

// Intent is the next free-text input a chat is expected to send.
type Intent string

const (
	IntentNone                Intent = ""
	IntentAwaitingGroupChoice Intent = "awaiting_group_choice"
	IntentAwaitingGroupChange Intent = "awaiting_group_change"
)

// AuditEntry records one admin action.
type AuditEntry struct {
	At       time.Time
	ActorID  int64
	ChatID   int64
	Action   string
	Target   string
	OK       int
	Fail     int
	Error    string
	TookMS   int64
	MetaJSON string
}

type Store interface {
	// FindByIdentity returns ok=false (and no error) when chatID is unknown.
	FindByIdentity(ctx context.Context, chatID int64) (rec UserRecord, ok bool, err error)
	// Upsert inserts (Version 0) or updates (Version = stored version) and
	// bumps rec.Version on success. Any mismatch returns ErrConflict.
	Upsert(ctx context.Context, rec *UserRecord) error
	All(ctx context.Context) ([]UserRecord, error)

	SetIntent(ctx context.Context, chatID int64, intent Intent, expiresAt time.Time) error
	// GetIntent reports IntentNone for missing or expired entries.
	GetIntent(ctx context.Context, chatID int64, now time.Time) (Intent, error)
	ClearIntent(ctx context.Context, chatID int64) error
	PruneIntents(ctx context.Context, now time.Time) (int, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	PruneAudit(ctx context.Context, before time.Time) (int, error)

	Close() error
}
