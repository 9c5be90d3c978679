package eventbus

import "testing"

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	Publish(b, UserRegistered, map[string]any{"chat_id": int64(42)})
	Publish(b, UserPromoted, nil)

	e := <-a
	if e.Type != UserRegistered || e.Time.IsZero() {
		t.Fatalf("unexpected first event: %+v", e)
	}
	select {
	case extra := <-a:
		t.Fatalf("full subscriber should have dropped, got %+v", extra)
	default:
	}
	if got := len(c); got != 2 {
		t.Fatalf("roomy subscriber got %d events, want 2", got)
	}

	unsubA()
	unsubA()
	Publish(b, BroadcastFinished, nil)
	if _, ok := <-a; ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}
}

func TestPublishNilBusIsNoop(t *testing.T) {
	Publish(nil, UserRegistered, nil)
}
