// Package bot routes inbound chat events to the conversation handlers:
// registration, group changes, admin promotion and schedule uploads.
package bot

import (
	"context"
	"sync/atomic"
	"time"

	"schedbot/internal/broadcast"
	"schedbot/internal/eventbus"
	"schedbot/internal/storage"
	"schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

// Transport is the subset of the chat adapter the handlers reply through.
type Transport interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// Directory is the user table. Upsert is a compare-and-set on Version.
type Directory interface {
	FindByIdentity(ctx context.Context, chatID int64) (storage.UserRecord, bool, error)
	Upsert(ctx context.Context, rec *storage.UserRecord) error
	All(ctx context.Context) ([]storage.UserRecord, error)
}

type Intents interface {
	SetIntent(ctx context.Context, chatID int64, intent storage.Intent, expiresAt time.Time) error
	GetIntent(ctx context.Context, chatID int64, now time.Time) (storage.Intent, error)
	ClearIntent(ctx context.Context, chatID int64) error
}

type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Store is satisfied by storage.Store.
type Store interface {
	Directory
	Intents
	Auditor
}

// Broadcaster runs one schedule upload. The caller has checked admin rights.
type Broadcaster interface {
	ProcessAdminUpload(ctx context.Context, adminID int64, fileID string) (broadcast.Report, error)
	MaxFileSize() int64
}

type Bot struct {
	tr    Transport
	store Store
	bc    Broadcaster
	bus   eventbus.Bus
	log   logx.Logger

	locks *chatLocks
	opts  atomic.Pointer[Options]
	now   func() time.Time
}

func New(tr Transport, store Store, bc Broadcaster, bus eventbus.Bus, log logx.Logger, opts Options) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Bot{
		tr:    tr,
		store: store,
		bc:    bc,
		bus:   bus,
		log:   log,
		locks: newChatLocks(),
		now:   time.Now,
	}
	b.Apply(opts)
	return b
}

// Apply replaces the options; requests already running keep the old ones.
func (b *Bot) Apply(opts Options) {
	o := opts.withDefaults()
	b.opts.Store(&o)
}

func (b *Bot) options() Options { return *b.opts.Load() }

// MenuCommands is the command menu published to the chat platform.
func (b *Bot) MenuCommands() []transport.BotCommand {
	return []transport.BotCommand{
		{Command: "start", Description: "выбрать группу"},
		{Command: "changegroup", Description: "сменить группу: /changegroup <группа>"},
		{Command: "upload", Description: "загрузить расписание (администраторы)"},
		{Command: "promote", Description: "назначить администратора (администраторы)"},
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string, actions ...transport.Action) error {
	opt := &transport.SendOptions{DisablePreview: true, Actions: actions}
	_, err := b.tr.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, opt)
	return err
}
