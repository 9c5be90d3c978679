package logx

import (
	"context"
	"strings"
	"testing"
	"time"

	"schedbot/internal/transport"
)

type chanSender struct{ got chan string }

func (s chanSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	s.got <- text
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func TestRenderChatLine(t *testing.T) {
	got := renderChatLine([]byte(`{"level":"warn","message":"send failed","time":"x","chat_id":42,"comp":"broadcast"}`))
	want := "[WARN] send failed\n- chat_id=42\n- comp=broadcast"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got := renderChatLine([]byte("not json\n")); got != "not json" {
		t.Fatalf("raw line = %q", got)
	}
}

func TestClip(t *testing.T) {
	if clip("short", 10) != "short" {
		t.Fatalf("short string clipped")
	}
	if got := clip(strings.Repeat("a", 20), 10); got != "aaaaaaa..." {
		t.Fatalf("clip = %q", got)
	}
}

func TestChatSinkForwardsAboveMinLevel(t *testing.T) {
	s := chanSender{got: make(chan string, 4)}
	svc, log := New(Config{Level: "debug"}, nil)
	defer svc.Close()

	svc.Apply(Config{Level: "debug", Chat: ChatConfig{Enabled: true, ChatID: -100, MinLevel: "warn", RatePerSec: 100}})
	// Attaching the sender later starts the sink with the current config.
	svc.SetSender(s)

	log.Info("routine")
	log.Warn("disk low", String("comp", "storage"))

	select {
	case text := <-s.got:
		if !strings.HasPrefix(text, "[WARN] disk low") || !strings.Contains(text, "comp=storage") {
			t.Fatalf("forwarded %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("warn record not forwarded")
	}
	select {
	case text := <-s.got:
		t.Fatalf("unexpected extra message %q", text)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel(" warning ", LevelInfo) != LevelWarn {
		t.Fatalf("warning not parsed")
	}
	if ParseLevel("verbose", LevelError) != LevelError {
		t.Fatalf("fallback not used")
	}
}
