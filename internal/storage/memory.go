package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type intentEntry struct {
	intent  Intent
	expires time.Time
}

// Memory is a process-local Store with the same CAS semantics as sqlite.
// Used for the "memory" driver and in tests.
type Memory struct {
	mu      sync.Mutex
	users   map[int64]UserRecord
	intents map[int64]intentEntry
	audit   []AuditEntry
	closed  bool
}

func NewMemory() *Memory {
	return &Memory{
		users:   map[int64]UserRecord{},
		intents: map[int64]intentEntry{},
	}
}

func (m *Memory) FindByIdentity(ctx context.Context, chatID int64) (UserRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return UserRecord{}, false, ErrClosed
	}
	u, ok := m.users[chatID]
	return u, ok, nil
}

func (m *Memory) Upsert(ctx context.Context, rec *UserRecord) error {
	if rec == nil {
		return errors.New("storage: nil user record")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	now := time.Now().UTC()
	cur, exists := m.users[rec.ChatID]
	switch {
	case rec.Version == 0 && exists:
		return ErrConflict
	case rec.Version != 0 && (!exists || cur.Version != rec.Version):
		return ErrConflict
	}
	if rec.Version == 0 && rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if exists {
		rec.CreatedAt = cur.CreatedAt
	}
	rec.Version++
	rec.UpdatedAt = now
	m.users[rec.ChatID] = *rec
	return nil
}

func (m *Memory) All(ctx context.Context) ([]UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]UserRecord, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

func (m *Memory) SetIntent(ctx context.Context, chatID int64, intent Intent, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if intent == IntentNone {
		delete(m.intents, chatID)
		return nil
	}
	m.intents[chatID] = intentEntry{intent: intent, expires: expiresAt}
	return nil
}

func (m *Memory) GetIntent(ctx context.Context, chatID int64, now time.Time) (Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.intents[chatID]
	if !ok || !e.expires.After(now) {
		return IntentNone, nil
	}
	return e.intent, nil
}

func (m *Memory) ClearIntent(ctx context.Context, chatID int64) error {
	m.mu.Lock()
	delete(m.intents, chatID)
	m.mu.Unlock()
	return nil
}

func (m *Memory) PruneIntents(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.intents {
		if !e.expires.After(now) {
			delete(m.intents, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.mu.Lock()
	m.audit = append(m.audit, e)
	m.mu.Unlock()
	return nil
}

func (m *Memory) PruneAudit(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.audit[:0]
	for _, e := range m.audit {
		if !e.At.Before(before) {
			kept = append(kept, e)
		}
	}
	n := len(m.audit) - len(kept)
	m.audit = kept
	return n, nil
}

// Audit returns a copy of the recorded audit entries.
func (m *Memory) Audit() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.audit...)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
