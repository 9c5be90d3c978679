package bot

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

type Route int

const (
	RouteNone Route = iota
	RouteStart
	RouteChooseGroup
	RouteChangeGroupPrompt
	RouteChangeGroup
	RouteUpload
	RouteDocument
	RoutePromote
	// RouteReply is plain text that may answer a pending group prompt.
	RouteReply
)

func (r Route) String() string {
	switch r {
	case RouteStart:
		return "start"
	case RouteChooseGroup:
		return "cb:" + ActionChooseGroup
	case RouteChangeGroupPrompt:
		return "cb:" + ActionChangeGroup
	case RouteChangeGroup:
		return "changegroup"
	case RouteUpload:
		return "upload"
	case RouteDocument:
		return "document"
	case RoutePromote:
		return "promote"
	case RouteReply:
		return "reply"
	default:
		return "none"
	}
}

const (
	cmdStart       = "/start"
	cmdChangeGroup = "/changegroup"
	cmdUpload      = "/upload"
	cmdPromote     = "/promote"
)

// Classify picks the route of an update; the first matching rule wins.
// arg is the text after the command word, or the whole text for RouteReply.
func Classify(up transport.Update) (route Route, arg string) {
	switch up.Kind {
	case transport.UpdateCallback:
		if up.Callback == nil {
			return RouteNone, ""
		}
		switch up.Callback.Data {
		case ActionChooseGroup:
			return RouteChooseGroup, ""
		case ActionChangeGroup:
			return RouteChangeGroupPrompt, ""
		}
		return RouteNone, ""

	case transport.UpdateDocument:
		if up.Document == nil {
			return RouteNone, ""
		}
		return RouteDocument, ""

	case transport.UpdateMessage:
		if up.Message == nil {
			return RouteNone, ""
		}
		text := up.Message.Text
		switch {
		case strings.HasPrefix(text, cmdStart):
			return RouteStart, commandArg(text)
		case strings.HasPrefix(text, cmdChangeGroup):
			return RouteChangeGroup, commandArg(text)
		case strings.HasPrefix(text, cmdUpload):
			return RouteUpload, commandArg(text)
		case strings.HasPrefix(text, cmdPromote):
			return RoutePromote, commandArg(text)
		case strings.HasPrefix(text, "/"):
			return RouteNone, ""
		case strings.TrimSpace(text) != "":
			return RouteReply, text
		}
	}
	return RouteNone, ""
}

// commandArg drops the command word (with any @botname) and returns the rest.
func commandArg(text string) string {
	i := strings.IndexAny(text, " \t\n")
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(text[i+1:])
}

// Request is one routed update.
type Request struct {
	Update transport.Update
	Route  Route
	Arg    string
	ChatID int64
	FromID int64
	ReqID  string
	Logger logx.Logger
}

// Dispatch runs the handler of one update through the middleware chain.
// Unmatched updates return nil without any reply.
func (b *Bot) Dispatch(ctx context.Context, up transport.Update) error {
	route, arg := Classify(up)
	if route == RouteNone {
		return nil
	}
	opts := b.options()
	if route == RouteReply && !opts.CompletePendingIntent {
		return nil
	}

	req := &Request{Update: up, Route: route, Arg: arg, ReqID: newReqID()}
	switch up.Kind {
	case transport.UpdateMessage:
		req.ChatID, req.FromID = up.Message.ChatID, up.Message.FromID
	case transport.UpdateDocument:
		req.ChatID, req.FromID = up.Document.ChatID, up.Document.FromID
	case transport.UpdateCallback:
		req.ChatID, req.FromID = up.Callback.ChatID, up.Callback.FromID
	}
	req.Logger = b.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.ChatID),
		logx.Int64("from_id", req.FromID),
		logx.String("cmd", route.String()),
	)

	timeout := opts.HandlerTimeout
	if route == RouteDocument {
		timeout = opts.BroadcastTimeout
	}
	final := Chain(
		b.handlerFor(route),
		MWPanicRecover(b.log),
		MWRequestLog(b.log),
		MWTimeout(timeout),
	)
	err := final(ctx, req)

	if up.Kind == transport.UpdateCallback {
		actx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if aerr := b.tr.AnswerCallback(actx, up.Callback.ID, ""); aerr != nil {
			req.Logger.Debug("answer callback failed", logx.Err(aerr))
		}
		cancel()
	}
	return err
}

func (b *Bot) handlerFor(route Route) HandlerFunc {
	switch route {
	case RouteStart:
		return func(ctx context.Context, r *Request) error { return b.EntryGreeting(ctx, r.ChatID) }
	case RouteChooseGroup:
		return func(ctx context.Context, r *Request) error { return b.PromptGroupChoice(ctx, r.ChatID) }
	case RouteChangeGroupPrompt:
		return func(ctx context.Context, r *Request) error { return b.PromptGroupChange(ctx, r.ChatID) }
	case RouteChangeGroup:
		return func(ctx context.Context, r *Request) error { return b.ChangeGroup(ctx, r.ChatID, r.Arg) }
	case RouteUpload:
		return func(ctx context.Context, r *Request) error { return b.UploadPrompt(ctx, r.ChatID, r.FromID) }
	case RouteDocument:
		return func(ctx context.Context, r *Request) error { return b.HandleDocument(ctx, *r.Update.Document) }
	case RoutePromote:
		return b.handlePromote
	case RouteReply:
		return func(ctx context.Context, r *Request) error {
			_, err := b.CompleteIntent(ctx, r.ChatID, r.Arg)
			return err
		}
	}
	return func(context.Context, *Request) error { return nil }
}

func (b *Bot) handlePromote(ctx context.Context, r *Request) error {
	if !b.IsAdmin(ctx, r.FromID) {
		if err := b.reply(ctx, r.ChatID, txtNoRights); err != nil {
			return err
		}
		return ErrForbidden
	}
	fields := strings.Fields(r.Arg)
	if len(fields) == 0 {
		return b.promoteUsage(ctx, r.ChatID)
	}
	target, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return b.promoteUsage(ctx, r.ChatID)
	}
	return b.PromoteToAdmin(ctx, r.ChatID, r.FromID, target)
}

func (b *Bot) promoteUsage(ctx context.Context, chatID int64) error {
	if err := b.reply(ctx, chatID, txtPromoteUsage); err != nil {
		return err
	}
	return ErrUsage
}

func newReqID() string {
	return uuid.NewString()[:8]
}
