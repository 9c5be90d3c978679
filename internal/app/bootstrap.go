package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"schedbot/internal/storage"
	"schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

const bootstrapRetries = 3

// adminStore is the part of storage.Store that admin bootstrap needs.
type adminStore interface {
	FindByIdentity(ctx context.Context, chatID int64) (storage.UserRecord, bool, error)
	Upsert(ctx context.Context, rec *storage.UserRecord) error
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// ensureAdmins makes every configured id an administrator, creating the
// record when the chat never wrote to the bot. Existing groups are kept.
func ensureAdmins(ctx context.Context, st adminStore, ids []int64, log logx.Logger) error {
	var errs []error
	for _, id := range ids {
		if id == 0 {
			continue
		}
		promoted, err := ensureAdmin(ctx, st, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("admin %d: %w", id, err))
			continue
		}
		if !promoted {
			continue
		}
		log.Info("bootstrap admin ensured", logx.Int64("chat_id", id))
		if err := st.AppendAudit(ctx, storage.AuditEntry{
			At:     time.Now(),
			ChatID: id,
			Action: "bootstrap_admin",
			Target: fmt.Sprint(id),
			OK:     1,
		}); err != nil {
			log.Warn("audit append failed", logx.Int64("chat_id", id), logx.Err(err))
		}
	}
	return errors.Join(errs...)
}

func ensureAdmin(ctx context.Context, st adminStore, id int64) (bool, error) {
	var err error
	for attempt := 0; attempt < bootstrapRetries; attempt++ {
		rec, ok, ferr := st.FindByIdentity(ctx, id)
		if ferr != nil {
			return false, ferr
		}
		if ok && rec.IsAdmin {
			return false, nil
		}
		if !ok {
			rec = storage.UserRecord{ChatID: id}
		}
		rec.IsAdmin = true
		if err = st.Upsert(ctx, &rec); err == nil {
			return true, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return false, err
		}
	}
	return false, err
}

// publishMenu pushes the command menu when the adapter supports it.
func publishMenu(ctx context.Context, ad any, cmds []transport.BotCommand, log logx.Logger) {
	mu, ok := ad.(transport.CommandMenuUpdater)
	if !ok {
		return
	}
	c, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := mu.UpdateMenuCommands(c, cmds); err != nil {
		log.Warn("command menu update failed", logx.Err(err))
		return
	}
	log.Debug("command menu updated", logx.Int("commands", len(cmds)))
}
