package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"schedbot/internal/broadcast"
	"schedbot/internal/eventbus"
	"schedbot/internal/schedule"
	"schedbot/internal/storage"
	"schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

var errPromoteRejected = errors.New("bot: target already admin or not registered")

// EntryGreeting offers group selection to new chats and a group change to
// chats that already have one.
func (b *Bot) EntryGreeting(ctx context.Context, chatID int64) error {
	rec, ok, err := b.store.FindByIdentity(ctx, chatID)
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	if !ok || !rec.HasGroup() {
		return b.reply(ctx, chatID, txtWelcome, transport.Action{ID: ActionChooseGroup, Label: txtChooseButton})
	}
	return b.reply(ctx, chatID, fmt.Sprintf(txtAlreadyChosen, rec.GroupName),
		transport.Action{ID: ActionChangeGroup, Label: txtChangeButton})
}

func (b *Bot) PromptGroupChoice(ctx context.Context, chatID int64) error {
	return b.prompt(ctx, chatID, storage.IntentAwaitingGroupChoice, txtAskGroup)
}

func (b *Bot) PromptGroupChange(ctx context.Context, chatID int64) error {
	return b.prompt(ctx, chatID, storage.IntentAwaitingGroupChange, txtAskNewGroup)
}

func (b *Bot) prompt(ctx context.Context, chatID int64, intent storage.Intent, text string) error {
	opts := b.options()
	if err := b.store.SetIntent(ctx, chatID, intent, b.now().Add(opts.IntentTTL)); err != nil {
		// The prompt still goes out; only the reply completion is lost.
		b.log.Warn("set intent failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
	return b.reply(ctx, chatID, text)
}

// ChangeGroup updates the group of an existing record. It never creates one.
func (b *Bot) ChangeGroup(ctx context.Context, chatID int64, name string) error {
	name = cleanGroupName(name)
	if name == "" {
		if err := b.reply(ctx, chatID, txtChangeUsage); err != nil {
			return err
		}
		return fmt.Errorf("%w: empty group name", ErrUsage)
	}

	var prev string
	_, err := b.mutate(ctx, chatID, func(rec *storage.UserRecord, found bool) (bool, error) {
		if !found {
			return false, ErrNotRegistered
		}
		prev = rec.GroupName
		rec.GroupName = name
		return true, nil
	})
	switch {
	case errors.Is(err, ErrNotRegistered):
		if rerr := b.reply(ctx, chatID, txtNotRegistered); rerr != nil {
			return rerr
		}
		return err
	case err != nil:
		return err
	}

	b.clearIntent(ctx, chatID)
	eventbus.Publish(b.bus, eventbus.UserGroupChanged, map[string]any{
		"chat_id": chatID,
		"from":    prev,
		"to":      name,
	})
	return b.reply(ctx, chatID, fmt.Sprintf(txtGroupChanged, name))
}

// RegisterUser creates the record if absent and always confirms. A second
// registration leaves the stored record as it is.
func (b *Bot) RegisterUser(ctx context.Context, chatID int64, group string) error {
	group = cleanGroupName(group)
	if group == "" {
		return fmt.Errorf("%w: empty group name", ErrUsage)
	}

	created := false
	_, err := b.mutate(ctx, chatID, func(rec *storage.UserRecord, found bool) (bool, error) {
		if found {
			return false, nil
		}
		*rec = storage.UserRecord{ChatID: chatID, GroupName: group}
		created = true
		return true, nil
	})
	if err != nil {
		return err
	}

	b.clearIntent(ctx, chatID)
	if created {
		b.log.Info("user registered", logx.Int64("chat_id", chatID), logx.String("group", group))
		eventbus.Publish(b.bus, eventbus.UserRegistered, map[string]any{
			"chat_id": chatID,
			"group":   group,
		})
	}
	return b.reply(ctx, chatID, fmt.Sprintf(txtRegistered, group))
}

// PromoteToAdmin flips IsAdmin on an existing non-admin record. Promotion is
// one-way.
//
// The target is notified on success. The invoking admin gets the outcome
// unless LegacyPromoteReply is set, in which case every outcome goes to the
// target chat only.
func (b *Bot) PromoteToAdmin(ctx context.Context, adminChatID, actorID, targetID int64) error {
	_, err := b.mutate(ctx, targetID, func(rec *storage.UserRecord, found bool) (bool, error) {
		if !found || rec.IsAdmin {
			return false, errPromoteRejected
		}
		rec.IsAdmin = true
		return true, nil
	})
	if err != nil && !errors.Is(err, errPromoteRejected) {
		return err
	}
	ok := err == nil

	entry := storage.AuditEntry{
		ActorID: actorID,
		ChatID:  adminChatID,
		Action:  "promote",
		Target:  strconv.FormatInt(targetID, 10),
	}
	if ok {
		entry.OK = 1
	} else {
		entry.Fail = 1
		entry.Error = err.Error()
	}
	b.audit(ctx, entry)

	if ok {
		b.log.Info("user promoted", logx.Int64("target_id", targetID), logx.Int64("by", actorID))
		eventbus.Publish(b.bus, eventbus.UserPromoted, map[string]any{
			"chat_id": targetID,
			"by":      actorID,
		})
	}

	if b.options().LegacyPromoteReply {
		text := txtPromoteRejected
		if ok {
			text = txtPromoted
		}
		return b.reply(ctx, targetID, text)
	}

	if !ok {
		return b.reply(ctx, adminChatID, txtPromoteRejected)
	}
	// A target that never opened the chat cannot be notified; the promotion
	// itself is already stored.
	if err := b.reply(ctx, targetID, txtPromoted); err != nil {
		b.log.Warn("notify promoted user failed", logx.Int64("target_id", targetID), logx.Err(err))
	}
	if adminChatID == targetID {
		return nil
	}
	return b.reply(ctx, adminChatID, fmt.Sprintf(txtPromoteDone, targetID))
}

// IsAdmin is false for unknown ids. Lookup errors are logged and read as
// false.
func (b *Bot) IsAdmin(ctx context.Context, id int64) bool {
	rec, ok, err := b.store.FindByIdentity(ctx, id)
	if err != nil {
		b.log.Warn("admin lookup failed", logx.Int64("user_id", id), logx.Err(err))
		return false
	}
	return ok && rec.IsAdmin
}

func (b *Bot) UploadPrompt(ctx context.Context, chatID, fromID int64) error {
	if !b.IsAdmin(ctx, fromID) {
		if err := b.reply(ctx, chatID, txtNoRights); err != nil {
			return err
		}
		return fmt.Errorf("%w: upload", ErrForbidden)
	}
	return b.reply(ctx, chatID, txtUploadPrompt)
}

// HandleDocument runs a broadcast for admin uploads and reports the result to
// the uploading chat.
func (b *Bot) HandleDocument(ctx context.Context, doc transport.Document) error {
	if !b.IsAdmin(ctx, doc.FromID) {
		if err := b.reply(ctx, doc.ChatID, txtNoUploadRights); err != nil {
			return err
		}
		return fmt.Errorf("%w: document", ErrForbidden)
	}
	if limit := b.bc.MaxFileSize(); limit > 0 && doc.Size > limit {
		if err := b.reply(ctx, doc.ChatID, formatTooLarge(doc.Size, limit)); err != nil {
			return err
		}
		return fmt.Errorf("%w: document of %d bytes", ErrUsage, doc.Size)
	}

	if err := b.reply(ctx, doc.ChatID, txtBroadcastStarted); err != nil {
		b.log.Debug("upload ack failed", logx.Err(err))
	}

	rep, err := b.bc.ProcessAdminUpload(ctx, doc.FromID, doc.FileID)

	entry := storage.AuditEntry{
		ActorID:  doc.FromID,
		ChatID:   doc.ChatID,
		Action:   "broadcast",
		Target:   doc.FileName,
		OK:       rep.Delivered,
		Fail:     rep.Failed,
		TookMS:   rep.Took.Milliseconds(),
		MetaJSON: reportMeta(rep),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	b.audit(ctx, entry)

	var text string
	switch {
	case err == nil:
		text = formatReport(rep)
	case schedule.IsParseError(err):
		text = fmt.Sprintf(txtParseFailed, err.Error())
	case errors.Is(err, broadcast.ErrFileTooLarge):
		text = formatTooLarge(doc.Size, b.bc.MaxFileSize())
	default:
		text = fmt.Sprintf(txtBroadcastFailed, err.Error())
	}
	if rerr := b.reply(ctx, doc.ChatID, text); rerr != nil && err == nil {
		return fmt.Errorf("send report: %w", rerr)
	}
	return err
}

// CompleteIntent consumes a free-text reply to a group prompt. It reports
// false when no prompt is pending.
func (b *Bot) CompleteIntent(ctx context.Context, chatID int64, text string) (bool, error) {
	intent, err := b.store.GetIntent(ctx, chatID, b.now())
	if err != nil {
		return false, fmt.Errorf("get intent: %w", err)
	}
	if intent == storage.IntentNone {
		return false, nil
	}
	name := cleanGroupName(text)
	if name == "" {
		return true, b.reply(ctx, chatID, txtAskGroup)
	}

	// The record decides the operation: a chat prompted to change its group
	// but never stored must still be able to register, and the reverse.
	_, found, err := b.store.FindByIdentity(ctx, chatID)
	if err != nil {
		return true, fmt.Errorf("find user: %w", err)
	}
	if !found {
		return true, b.RegisterUser(ctx, chatID, name)
	}
	return true, b.ChangeGroup(ctx, chatID, name)
}

// mutate applies fn to the current record under the chat lock and stores it,
// re-reading on version conflicts. fn returns write=false to skip the store.
func (b *Bot) mutate(ctx context.Context, chatID int64, fn func(rec *storage.UserRecord, found bool) (bool, error)) (storage.UserRecord, error) {
	unlock := b.locks.Lock(chatID)
	defer unlock()

	retries := b.options().ConflictRetries
	for attempt := 0; ; attempt++ {
		rec, found, err := b.store.FindByIdentity(ctx, chatID)
		if err != nil {
			return storage.UserRecord{}, fmt.Errorf("find user: %w", err)
		}
		if !found {
			rec = storage.UserRecord{ChatID: chatID}
		}
		write, err := fn(&rec, found)
		if err != nil || !write {
			return rec, err
		}
		err = b.store.Upsert(ctx, &rec)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, storage.ErrConflict) || attempt >= retries {
			return rec, fmt.Errorf("store user %d: %w", chatID, err)
		}
		b.log.Debug("user record conflict, retrying", logx.Int64("chat_id", chatID), logx.Int("attempt", attempt+1))
	}
}

func (b *Bot) clearIntent(ctx context.Context, chatID int64) {
	if err := b.store.ClearIntent(ctx, chatID); err != nil {
		b.log.Debug("clear intent failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

func (b *Bot) audit(ctx context.Context, e storage.AuditEntry) {
	if e.At.IsZero() {
		e.At = b.now()
	}
	if err := b.store.AppendAudit(ctx, e); err != nil {
		b.log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}

func reportMeta(r broadcast.Report) string {
	if r.JobID == "" {
		return ""
	}
	raw, err := json.Marshal(map[string]any{
		"job":       r.JobID,
		"total":     r.Total,
		"not_found": r.NotFound,
		"groups":    r.Groups,
	})
	if err != nil {
		return ""
	}
	return string(raw)
}

// cleanGroupName trims and collapses inner whitespace; matching is done
// later by schedule.NormalizeGroup.
func cleanGroupName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
