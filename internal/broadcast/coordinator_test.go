package broadcast

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"schedbot/internal/eventbus"
	"schedbot/internal/schedule"
	"schedbot/internal/storage"
	"schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

type fakeTransport struct {
	mu    sync.Mutex
	sent  map[int64][]string
	calls int
	file  string
	fail  map[int64]bool
	hang  map[int64]bool
}

func newFakeTransport(file string) *fakeTransport {
	return &fakeTransport{sent: map[int64][]string{}, file: file, fail: map[int64]bool{}, hang: map[int64]bool{}}
}

func (f *fakeTransport) SendText(ctx context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	f.calls++
	fail, hang := f.fail[to.ChatID], f.hang[to.ChatID]
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return transport.MessageRef{}, ctx.Err()
	}
	if fail {
		return transport.MessageRef{}, errors.New("chat not found")
	}
	f.mu.Lock()
	f.sent[to.ChatID] = append(f.sent[to.ChatID], text)
	f.mu.Unlock()
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeTransport) DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.file)), nil
}

type parserFunc func(ctx context.Context, r io.Reader) (*schedule.Index, error)

func (p parserFunc) Parse(ctx context.Context, r io.Reader) (*schedule.Index, error) { return p(ctx, r) }

func staticParser(entries map[string][]string) schedule.Parser {
	return parserFunc(func(ctx context.Context, r io.Reader) (*schedule.Index, error) {
		return schedule.NewIndex(entries), nil
	})
}

func seed(t *testing.T, users ...storage.UserRecord) *storage.Memory {
	t.Helper()
	st := storage.NewMemory()
	for _, u := range users {
		u := u
		if err := st.Upsert(context.Background(), &u); err != nil {
			t.Fatalf("seed %d: %v", u.ChatID, err)
		}
	}
	return st
}

func fastConfig() Config {
	return Config{Workers: 3, RatePerSec: 1000, SendTimeout: time.Second}
}

func TestEveryRecordGetsExactlyOneAttempt(t *testing.T) {
	tr := newFakeTransport("doc")
	dir := seed(t,
		storage.UserRecord{ChatID: 42, GroupName: "П-2109"},
		storage.UserRecord{ChatID: 99, GroupName: "Х-1000"},
		storage.UserRecord{ChatID: 7, GroupName: "п-2109"},
		storage.UserRecord{ChatID: 8},
	)
	c := New(fastConfig(), tr, staticParser(map[string][]string{"П-2109": {"Mon 9:00 Math"}}), dir, nil, logx.Nop())

	rep, err := c.ProcessAdminUpload(context.Background(), 1, "file")
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if tr.calls != 4 {
		t.Fatalf("send attempts = %d, want 4", tr.calls)
	}
	if rep.Total != 4 || rep.Delivered != 4 || rep.Failed != 0 || rep.NotFound != 2 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if got := tr.sent[42]; len(got) != 1 || got[0] != "Mon 9:00 Math" {
		t.Fatalf("chat 42 got %q", got)
	}
	if got := tr.sent[7]; len(got) != 1 || got[0] != "Mon 9:00 Math" {
		t.Fatalf("chat 7 got %q", got)
	}
	if got := tr.sent[99]; len(got) != 1 || got[0] != schedule.NotFoundMessage("Х-1000") {
		t.Fatalf("chat 99 got %q", got)
	}
	if got := tr.sent[8]; len(got) != 1 || got[0] != schedule.NoGroupMessage {
		t.Fatalf("chat 8 got %q", got)
	}
}

func TestDeliveryFailureDoesNotAbortSiblings(t *testing.T) {
	tr := newFakeTransport("doc")
	tr.fail[2] = true
	dir := seed(t,
		storage.UserRecord{ChatID: 1, GroupName: "A"},
		storage.UserRecord{ChatID: 2, GroupName: "A"},
		storage.UserRecord{ChatID: 3, GroupName: "A"},
	)
	cfg := fastConfig()
	cfg.Workers = 1
	cfg.RetryMax = 1
	c := New(cfg, tr, staticParser(map[string][]string{"A": {"x"}}), dir, nil, logx.Nop())

	rep, err := c.ProcessAdminUpload(context.Background(), 1, "file")
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if rep.Delivered != 2 || rep.Failed != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if len(rep.Failures) != 1 || rep.Failures[0].ChatID != 2 || rep.Failures[0].Group != "A" {
		t.Fatalf("unexpected failures: %+v", rep.Failures)
	}
	// 3 first attempts + 1 retry for the failing chat.
	if tr.calls != 4 {
		t.Fatalf("send attempts = %d, want 4", tr.calls)
	}
}

func TestSendTimeoutIsolatesStuckRecipient(t *testing.T) {
	tr := newFakeTransport("doc")
	tr.hang[2] = true
	dir := seed(t,
		storage.UserRecord{ChatID: 1, GroupName: "A"},
		storage.UserRecord{ChatID: 2, GroupName: "A"},
	)
	cfg := fastConfig()
	cfg.SendTimeout = 50 * time.Millisecond
	c := New(cfg, tr, staticParser(map[string][]string{"A": {"x"}}), dir, nil, logx.Nop())

	done := make(chan Report, 1)
	go func() {
		rep, _ := c.ProcessAdminUpload(context.Background(), 1, "file")
		done <- rep
	}()
	select {
	case rep := <-done:
		if rep.Delivered != 1 || rep.Failed != 1 {
			t.Fatalf("unexpected report: %+v", rep)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("broadcast stalled on an unreachable recipient")
	}
}

func TestParseErrorAbortsBeforeFanOut(t *testing.T) {
	tr := newFakeTransport("garbage")
	dir := seed(t, storage.UserRecord{ChatID: 1, GroupName: "A"})
	c := New(fastConfig(), tr, schedule.XLSXParser{}, dir, nil, logx.Nop())

	_, err := c.ProcessAdminUpload(context.Background(), 1, "file")
	if !schedule.IsParseError(err) {
		t.Fatalf("expected parse error, got %v", err)
	}
	if tr.calls != 0 {
		t.Fatalf("no sends expected after a parse error, got %d", tr.calls)
	}
}

func TestOversizedDocumentIsRejected(t *testing.T) {
	tr := newFakeTransport(strings.Repeat("x", 64))
	dir := seed(t, storage.UserRecord{ChatID: 1, GroupName: "A"})
	cfg := fastConfig()
	cfg.MaxFileSize = 16
	c := New(cfg, tr, staticParser(nil), dir, nil, logx.Nop())

	_, err := c.ProcessAdminUpload(context.Background(), 1, "file")
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestFinishedEventIsPublished(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	tr := newFakeTransport("doc")
	dir := seed(t, storage.UserRecord{ChatID: 1, GroupName: "A"})
	c := New(fastConfig(), tr, staticParser(map[string][]string{"A": {"x"}}), dir, bus, logx.Nop())
	rep, err := c.ProcessAdminUpload(context.Background(), 5, "file")
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	e := <-events
	if e.Type != eventbus.BroadcastFinished || e.Data["job"] != rep.JobID || e.Data["delivered"] != 1 {
		t.Fatalf("unexpected event: %+v", e)
	}
}
