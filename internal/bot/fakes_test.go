package bot

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/xuri/excelize/v2"

	"schedbot/internal/broadcast"
	"schedbot/internal/storage"
	"schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

type sentMessage struct {
	ChatID  int64
	Text    string
	Actions []transport.Action
}

type fakeTransport struct {
	mu       sync.Mutex
	sent     []sentMessage
	answered []string
	file     []byte
}

func (f *fakeTransport) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := sentMessage{ChatID: to.ChatID, Text: text}
	if opt != nil {
		m.Actions = append(m.Actions, opt.Actions...)
	}
	f.sent = append(f.sent, m)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeTransport) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	f.mu.Lock()
	f.answered = append(f.answered, callbackID)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return io.NopCloser(bytes.NewReader(f.file)), nil
}

func (f *fakeTransport) to(chatID int64) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.sent {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) last(t *testing.T, chatID int64) sentMessage {
	t.Helper()
	msgs := f.to(chatID)
	if len(msgs) == 0 {
		t.Fatalf("no message sent to %d", chatID)
	}
	return msgs[len(msgs)-1]
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeBroadcaster struct {
	calls int
	rep   broadcast.Report
	err   error
	limit int64
}

func (f *fakeBroadcaster) ProcessAdminUpload(ctx context.Context, adminID int64, fileID string) (broadcast.Report, error) {
	f.calls++
	return f.rep, f.err
}

func (f *fakeBroadcaster) MaxFileSize() int64 { return f.limit }

type fixture struct {
	bot   *Bot
	tr    *fakeTransport
	store *storage.Memory
	bc    *fakeBroadcaster
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	tr := &fakeTransport{}
	st := storage.NewMemory()
	bc := &fakeBroadcaster{limit: 10 << 20}
	return &fixture{
		bot:   New(tr, st, bc, nil, logx.Nop(), opts),
		tr:    tr,
		store: st,
		bc:    bc,
	}
}

func (fx *fixture) seed(t *testing.T, recs ...storage.UserRecord) {
	t.Helper()
	for _, r := range recs {
		r := r
		if err := fx.store.Upsert(context.Background(), &r); err != nil {
			t.Fatalf("seed %d: %v", r.ChatID, err)
		}
	}
}

func (fx *fixture) record(t *testing.T, chatID int64) (storage.UserRecord, bool) {
	t.Helper()
	rec, ok, err := fx.store.FindByIdentity(context.Background(), chatID)
	if err != nil {
		t.Fatalf("find %d: %v", chatID, err)
	}
	return rec, ok
}

func textUpdate(chatID int64, text string) transport.Update {
	return transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: chatID, FromID: chatID, Text: text}}
}

func callbackUpdate(chatID int64, data string) transport.Update {
	return transport.Update{Kind: transport.UpdateCallback, Callback: &transport.Callback{ID: "cb-" + data, ChatID: chatID, FromID: chatID, Data: data}}
}

func documentUpdate(chatID int64, size int64) transport.Update {
	return transport.Update{Kind: transport.UpdateDocument, Document: &transport.Document{ChatID: chatID, FromID: chatID, FileID: "file-1", FileName: "schedule.xlsx", Size: size}}
}

func scheduleWorkbook(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	for i, row := range rows {
		addr, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		r := row
		if err := f.SetSheetRow("Sheet1", addr, &r); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}
