package ws

import (
	"testing"

	"parley/internal/models"
)

func TestHub_RegisterSendUnregister(t *testing.T) {
	h := NewHub()

	ch := h.Register("c1")
	if ch == nil {
		t.Fatal("Register returned nil channel")
	}

	h.Send("c1", models.ServerEvent{Type: models.EventMessage, Text: "hi"})
	select {
	case ev := <-ch:
		if ev.Text != "hi" {
			t.Errorf("expected text hi, got %q", ev.Text)
		}
	default:
		t.Fatal("event not delivered")
	}

	h.Unregister("c1")
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unregister")
	}

	// Both are no-ops now.
	h.Send("c1", models.ServerEvent{Type: models.EventMessage})
	h.Unregister("c1")
}

func TestHub_Fanout(t *testing.T) {
	h := NewHub()
	ch1 := h.Register("c1")
	ch2 := h.Register("c2")
	h.Register("c3")

	h.Fanout([]string{"c1", "c2", "c-gone"}, models.ServerEvent{Type: models.EventRoomCounts})

	for name, ch := range map[string]chan models.ServerEvent{"c1": ch1, "c2": ch2} {
		select {
		case ev := <-ch:
			if ev.Type != models.EventRoomCounts {
				t.Errorf("%s: wrong event type %s", name, ev.Type)
			}
		default:
			t.Errorf("%s: event not delivered", name)
		}
	}
}

func TestHub_SlowConsumerDrops(t *testing.T) {
	h := NewHub()
	ch := h.Register("c1")

	// Fill the buffer and one more; the overflow must not block.
	for i := 0; i < outboundBuffer+10; i++ {
		h.Send("c1", models.ServerEvent{Type: models.EventMessage})
	}

	if len(ch) != outboundBuffer {
		t.Errorf("expected a full buffer of %d, got %d", outboundBuffer, len(ch))
	}
}
