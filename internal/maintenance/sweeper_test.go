package maintenance

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"schedbot/internal/storage"
	logx "schedbot/pkg/logx"
)

func TestSweepOncePrunesExpiredState(t *testing.T) {
	st := storage.NewMemory()
	ctx := context.Background()
	now := time.Now()

	_ = st.SetIntent(ctx, 1, storage.IntentAwaitingGroupChoice, now.Add(-time.Minute))
	_ = st.SetIntent(ctx, 2, storage.IntentAwaitingGroupChange, now.Add(time.Hour))
	_ = st.AppendAudit(ctx, storage.AuditEntry{At: now.Add(-100 * 24 * time.Hour), Action: "broadcast"})
	_ = st.AppendAudit(ctx, storage.AuditEntry{At: now.Add(-time.Hour), Action: "promote"})

	s := New(Config{AuditRetention: 30 * 24 * time.Hour}, st, logx.Nop())
	s.now = func() time.Time { return now }

	res, err := s.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Intents != 1 || res.Audit != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got, _ := st.GetIntent(ctx, 2, now); got != storage.IntentAwaitingGroupChange {
		t.Fatalf("live intent pruned")
	}
	if a := st.Audit(); len(a) != 1 || a[0].Action != "promote" {
		t.Fatalf("unexpected audit left: %+v", a)
	}
}

func TestZeroRetentionKeepsAudit(t *testing.T) {
	st := storage.NewMemory()
	ctx := context.Background()
	_ = st.AppendAudit(ctx, storage.AuditEntry{At: time.Now().Add(-1000 * time.Hour), Action: "broadcast"})

	res, err := New(Config{}, st, logx.Nop()).SweepOnce(ctx)
	if err != nil || res.Audit != 0 || len(st.Audit()) != 1 {
		t.Fatalf("audit pruned without retention: res=%+v err=%v", res, err)
	}
}

func TestStartRejectsBadSpec(t *testing.T) {
	s := New(Config{Enabled: true, Spec: "not a spec"}, storage.NewMemory(), logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected spec error")
	}
}

type countingStore struct {
	Store
	calls atomic.Int32
}

func (c *countingStore) PruneIntents(ctx context.Context, now time.Time) (int, error) {
	c.calls.Add(1)
	return c.Store.PruneIntents(ctx, now)
}

func TestScheduledSweepRuns(t *testing.T) {
	st := &countingStore{Store: storage.NewMemory()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Config{Enabled: true, Spec: "@every 1s"}, st, logx.Nop())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for st.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("scheduled sweep never ran")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
