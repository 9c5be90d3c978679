package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"schedbot/internal/broadcast"
	"schedbot/internal/schedule"
	"schedbot/internal/storage"
	"schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

func TestClassifyOrder(t *testing.T) {
	cases := []struct {
		up    transport.Update
		route Route
		arg   string
	}{
		{textUpdate(1, "/start"), RouteStart, ""},
		{textUpdate(1, "/start@schedbot"), RouteStart, ""},
		{callbackUpdate(1, "choose_group"), RouteChooseGroup, ""},
		{callbackUpdate(1, "change_group"), RouteChangeGroupPrompt, ""},
		{callbackUpdate(1, "something_else"), RouteNone, ""},
		{textUpdate(1, "/changegroup П-2109"), RouteChangeGroup, "П-2109"},
		{textUpdate(1, "/changegroup"), RouteChangeGroup, ""},
		{textUpdate(1, "/upload"), RouteUpload, ""},
		{documentUpdate(1, 10), RouteDocument, ""},
		{textUpdate(1, "/promote 42"), RoutePromote, "42"},
		{textUpdate(1, "/Start"), RouteNone, ""},
		{textUpdate(1, "/help"), RouteNone, ""},
		{textUpdate(1, "П-2109"), RouteReply, "П-2109"},
		{textUpdate(1, "   "), RouteNone, ""},
		{transport.Update{Kind: transport.UpdateMessage}, RouteNone, ""},
	}
	for _, tc := range cases {
		route, arg := Classify(tc.up)
		if route != tc.route || arg != tc.arg {
			t.Fatalf("%+v: got (%s, %q), want (%s, %q)", tc.up, route, arg, tc.route, tc.arg)
		}
	}
}

func TestUnmatchedEventsAreSilent(t *testing.T) {
	fx := newFixture(t, DefaultOptions())
	ctx := context.Background()

	for _, up := range []transport.Update{
		textUpdate(5, "/help"),
		textUpdate(5, "hello"),
		callbackUpdate(5, "unknown"),
	} {
		if err := fx.bot.Dispatch(ctx, up); err != nil {
			t.Fatalf("dispatch %+v: %v", up, err)
		}
	}
	if fx.tr.count() != 0 || len(fx.tr.answered) != 0 {
		t.Fatalf("unexpected output: sent=%d answered=%d", fx.tr.count(), len(fx.tr.answered))
	}
}

func TestPromoteNonNumericIsUsageError(t *testing.T) {
	fx := newFixture(t, DefaultOptions())
	fx.seed(t, storage.UserRecord{ChatID: 1, IsAdmin: true}, storage.UserRecord{ChatID: 7})

	err := fx.bot.Dispatch(context.Background(), textUpdate(1, "/promote abc"))
	if !errors.Is(err, ErrUsage) {
		t.Fatalf("expected ErrUsage, got %v", err)
	}
	if m := fx.tr.last(t, 1); m.Text != txtPromoteUsage {
		t.Fatalf("unexpected reply %q", m.Text)
	}
	all, _ := fx.store.All(context.Background())
	for _, r := range all {
		if r.Version != 1 || (r.ChatID == 7 && r.IsAdmin) {
			t.Fatalf("record mutated: %+v", r)
		}
	}
}

func TestAdminOnlyCommandsDenyOthers(t *testing.T) {
	fx := newFixture(t, DefaultOptions())
	fx.seed(t, storage.UserRecord{ChatID: 5, GroupName: "A"})
	ctx := context.Background()

	_ = fx.bot.Dispatch(ctx, textUpdate(5, "/upload"))
	if m := fx.tr.last(t, 5); m.Text != txtNoRights {
		t.Fatalf("/upload reply %q", m.Text)
	}
	_ = fx.bot.Dispatch(ctx, textUpdate(5, "/promote 5"))
	if m := fx.tr.last(t, 5); m.Text != txtNoRights {
		t.Fatalf("/promote reply %q", m.Text)
	}
	if rec, _ := fx.record(t, 5); rec.IsAdmin {
		t.Fatalf("non-admin promoted itself")
	}
}

func TestPendingIntentCompletion(t *testing.T) {
	fx := newFixture(t, DefaultOptions())
	ctx := context.Background()

	if err := fx.bot.Dispatch(ctx, callbackUpdate(42, ActionChooseGroup)); err != nil {
		t.Fatalf("callback: %v", err)
	}
	if len(fx.tr.answered) != 1 {
		t.Fatalf("callback not answered")
	}
	if err := fx.bot.Dispatch(ctx, textUpdate(42, "П-2109")); err != nil {
		t.Fatalf("reply: %v", err)
	}
	rec, ok := fx.record(t, 42)
	if !ok || rec.GroupName != "П-2109" {
		t.Fatalf("not registered: %+v", rec)
	}

	// The prompt is consumed: another free-text message is ignored.
	before := fx.tr.count()
	_ = fx.bot.Dispatch(ctx, textUpdate(42, "Х-1000"))
	if fx.tr.count() != before {
		t.Fatalf("free text without a prompt got a reply")
	}

	_ = fx.bot.Dispatch(ctx, callbackUpdate(42, ActionChangeGroup))
	_ = fx.bot.Dispatch(ctx, textUpdate(42, "Х-1000"))
	if rec, _ := fx.record(t, 42); rec.GroupName != "Х-1000" {
		t.Fatalf("group not changed: %+v", rec)
	}
}

func TestPendingIntentExpires(t *testing.T) {
	fx := newFixture(t, DefaultOptions())
	ctx := context.Background()
	now := time.Now()
	fx.bot.now = func() time.Time { return now }

	_ = fx.bot.Dispatch(ctx, callbackUpdate(42, ActionChooseGroup))
	fx.bot.now = func() time.Time { return now.Add(DefaultOptions().IntentTTL + time.Second) }
	_ = fx.bot.Dispatch(ctx, textUpdate(42, "П-2109"))

	if _, ok := fx.record(t, 42); ok {
		t.Fatalf("expired prompt still completed")
	}
}

func TestPendingIntentCompletionDisabled(t *testing.T) {
	opts := DefaultOptions()
	opts.CompletePendingIntent = false
	fx := newFixture(t, opts)
	ctx := context.Background()

	_ = fx.bot.Dispatch(ctx, callbackUpdate(42, ActionChooseGroup))
	_ = fx.bot.Dispatch(ctx, textUpdate(42, "П-2109"))
	if _, ok := fx.record(t, 42); ok {
		t.Fatalf("record created with completion disabled")
	}
	if got, _ := fx.store.GetIntent(ctx, 42, time.Now()); got != storage.IntentAwaitingGroupChoice {
		t.Fatalf("intent = %q, want it recorded", got)
	}
}

func TestEndToEndScheduleBroadcast(t *testing.T) {
	tr := &fakeTransport{}
	st := storage.NewMemory()
	admin := storage.UserRecord{ChatID: 1, IsAdmin: true}
	other := storage.UserRecord{ChatID: 99, GroupName: "Х-1000"}
	for _, r := range []*storage.UserRecord{&admin, &other} {
		if err := st.Upsert(context.Background(), r); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	tr.file = scheduleWorkbook(t, [][]any{
		{"Группа", "Mon"},
		{"П-2109", "9:00 Math"},
	})

	coord := broadcast.New(broadcast.Config{Workers: 2, RatePerSec: 1000, SendTimeout: time.Second},
		tr, schedule.XLSXParser{}, st, nil, logx.Nop())
	b := New(tr, st, coord, nil, logx.Nop(), DefaultOptions())
	ctx := context.Background()

	if err := b.Dispatch(ctx, textUpdate(42, "/start")); err != nil {
		t.Fatalf("/start: %v", err)
	}
	if m := tr.last(t, 42); len(m.Actions) != 1 || m.Actions[0].ID != ActionChooseGroup {
		t.Fatalf("/start reply %+v", m)
	}

	if err := b.Dispatch(ctx, documentUpdate(1, int64(len(tr.file)))); err != nil {
		t.Fatalf("first upload: %v", err)
	}

	if err := b.RegisterUser(ctx, 42, "П-2109"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := b.Dispatch(ctx, documentUpdate(1, int64(len(tr.file)))); err != nil {
		t.Fatalf("second upload: %v", err)
	}
	if m := tr.last(t, 42); m.Text != "Mon 9:00 Math" {
		t.Fatalf("chat 42 got %q", m.Text)
	}
	if m := tr.last(t, 99); m.Text != schedule.NotFoundMessage("Х-1000") {
		t.Fatalf("chat 99 got %q", m.Text)
	}
	// Two schedules (one per upload) for 99, only the second for 42.
	if n := len(tr.to(99)); n != 2 {
		t.Fatalf("chat 99 messages = %d, want 2", n)
	}
}
