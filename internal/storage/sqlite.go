package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "schedbot/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Single writer; also keeps ":memory:" on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	log.Info("sqlite store opened", logx.String("path", path))
	return st, nil
}

// migrate runs every embedded script in name order, one transaction each.
// Scripts are idempotent (IF NOT EXISTS).
func (s *sqliteStore) migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		b, err := fs.ReadFile(migrationsFS, "migrations/"+e.Name())
		if err != nil {
			return err
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(b)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const userColumns = `chat_id, group_name, is_admin, version, created_at, updated_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanUser(r rowScanner) (UserRecord, error) {
	var (
		u                UserRecord
		admin            int
		created, updated int64
	)
	if err := r.Scan(&u.ChatID, &u.GroupName, &admin, &u.Version, &created, &updated); err != nil {
		return UserRecord{}, err
	}
	u.IsAdmin = admin != 0
	u.CreatedAt = time.UnixMilli(created).UTC()
	u.UpdatedAt = time.UnixMilli(updated).UTC()
	return u, nil
}

func (s *sqliteStore) FindByIdentity(ctx context.Context, chatID int64) (UserRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE chat_id = ?`, chatID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return UserRecord{}, false, nil
	}
	if err != nil {
		return UserRecord{}, false, err
	}
	return u, true, nil
}

func (s *sqliteStore) Upsert(ctx context.Context, rec *UserRecord) error {
	if rec == nil {
		return errors.New("storage: nil user record")
	}
	now := time.Now().UTC()

	var (
		res sql.Result
		err error
	)
	if rec.Version == 0 {
		created := rec.CreatedAt
		if created.IsZero() {
			created = now
		}
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO users (chat_id, group_name, is_admin, version, created_at, updated_at)
			VALUES (?, ?, ?, 1, ?, ?)
			ON CONFLICT(chat_id) DO NOTHING`,
			rec.ChatID, rec.GroupName, boolToInt(rec.IsAdmin), created.UnixMilli(), now.UnixMilli(),
		)
		rec.CreatedAt = created
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE users
			SET group_name = ?, is_admin = ?, version = version + 1, updated_at = ?
			WHERE chat_id = ? AND version = ?`,
			rec.GroupName, boolToInt(rec.IsAdmin), now.UnixMilli(), rec.ChatID, rec.Version,
		)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	rec.Version++
	rec.UpdatedAt = now
	return nil
}

func (s *sqliteStore) All(ctx context.Context) ([]UserRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UserRecord
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetIntent(ctx context.Context, chatID int64, intent Intent, expiresAt time.Time) error {
	if intent == IntentNone {
		return s.ClearIntent(ctx, chatID)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_intents (chat_id, intent, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET intent = excluded.intent, expires_at = excluded.expires_at`,
		chatID, string(intent), expiresAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) GetIntent(ctx context.Context, chatID int64, now time.Time) (Intent, error) {
	var (
		intent  string
		expires int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT intent, expires_at FROM pending_intents WHERE chat_id = ?`, chatID).
		Scan(&intent, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return IntentNone, nil
	}
	if err != nil {
		return IntentNone, err
	}
	if expires <= now.UnixMilli() {
		return IntentNone, nil
	}
	return Intent(intent), nil
}

func (s *sqliteStore) ClearIntent(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_intents WHERE chat_id = ?`, chatID)
	return err
}

func (s *sqliteStore) PruneIntents(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_intents WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit (at, actor_id, chat_id, action, target, ok, fail, err, took_ms, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.At.UnixMilli(), e.ActorID, e.ChatID, e.Action, e.Target, e.OK, e.Fail,
		nullStr(e.Error), e.TookMS, nullStr(e.MetaJSON),
	)
	return err
}

func (s *sqliteStore) PruneAudit(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit WHERE at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
