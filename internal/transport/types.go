package transport

import (
	"context"
	"io"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateDocument UpdateKind = "document"
	UpdateCallback UpdateKind = "callback"
)

// Update is one inbound chat event. Exactly one of Message, Document or
// Callback is set, matching Kind.
type Update struct {
	Kind     UpdateKind
	Message  *Message
	Document *Document
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

type Document struct {
	MessageID int
	ChatID    int64
	FromID    int64
	FileID    string
	FileName  string
	MIME      string
	Size      int64
}

type Callback struct {
	ID        string
	ChatID    int64
	FromID    int64
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int // forum topic, 0 if none
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Action is a quick-reply button; ID comes back as Callback.Data.
type Action struct {
	ID    string
	Label string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Actions        []Action
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	AnswerCallback(ctx context.Context, callbackID string, text string) error
	// DownloadFile streams an uploaded document. The caller closes the reader.
	DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// BotCommand is one entry of the platform command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command
// menu (Telegram setMyCommands).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
