package ws

import (
	"context"
	"errors"
	"testing"
	"time"

	"parley/internal/gateway"
	"parley/internal/models"
	"parley/internal/ratelimit"
	"parley/internal/registry"
	"parley/internal/storage"
)

type mockWS struct {
	readCh  chan models.ClientCommand
	writeCh chan models.ServerEvent
	closeCh chan struct{}
	closed  bool
}

func newMockWS() *mockWS {
	return &mockWS{
		readCh:  make(chan models.ClientCommand, 10),
		writeCh: make(chan models.ServerEvent, 100),
		closeCh: make(chan struct{}),
	}
}

func (m *mockWS) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.closeCh)
	return nil
}

func (m *mockWS) WriteJSON(v interface{}) error {
	if ev, ok := v.(models.ServerEvent); ok {
		m.writeCh <- ev
	}
	return nil
}

func (m *mockWS) ReadJSON(v interface{}) error {
	select {
	case cmd, ok := <-m.readCh:
		if !ok {
			return errors.New("closed")
		}
		if ptr, ok := v.(*models.ClientCommand); ok {
			*ptr = cmd
		}
		return nil
	case <-m.closeCh:
		return errors.New("connection closed")
	}
}

func (m *mockWS) expectEvent(t *testing.T, typ models.EventType) models.ServerEvent {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-m.writeCh:
			if ev.Type == typ {
				return ev
			}
			// Skip interleaved broadcasts we are not asserting on.
		case <-deadline:
			t.Fatalf("timeout waiting for event %s", typ)
		}
	}
}

func newTestStack() (*Hub, *gateway.Gateway) {
	reg := registry.New([]string{"general", "random"}, 50)
	limiter := ratelimit.New(ratelimit.Config{
		MessageInterval: 10 * time.Millisecond,
		MaxConnsPerIP:   5,
		NameCheckLimit:  20,
	})
	return NewHub(), gateway.New(reg, limiter, storage.NewMemStore())
}

func startConnection(t *testing.T, hub *Hub, gw *gateway.Gateway, connID string) (*mockWS, func()) {
	t.Helper()
	if !gw.Connect(connID, "203.0.113.1") {
		t.Fatal("connect failed")
	}
	m := newMockWS()
	conn := NewConnection(hub, gw, m, connID)

	done := make(chan struct{})
	go func() {
		_ = conn.Handle(context.Background())
		close(done)
	}()

	return m, func() {
		_ = m.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("connection did not shut down")
		}
	}
}

func TestConnection_Lifecycle(t *testing.T) {
	hub, gw := newTestStack()

	alice, stopAlice := startConnection(t, hub, gw, "c1")
	bob, stopBob := startConnection(t, hub, gw, "c2")
	defer stopBob()

	// Reserve and join.
	alice.readCh <- models.ClientCommand{Type: models.CommandReserveUsername, Username: "alice"}
	ev := alice.expectEvent(t, models.EventUsernameReserved)
	if ev.Username != "alice" {
		t.Errorf("expected username alice, got %q", ev.Username)
	}
	alice.expectEvent(t, models.EventRooms)

	bob.readCh <- models.ClientCommand{Type: models.CommandReserveUsername, Username: "bob"}
	bob.expectEvent(t, models.EventUsernameReserved)

	alice.readCh <- models.ClientCommand{Type: models.CommandJoinRoom, Room: "general"}
	ev = alice.expectEvent(t, models.EventJoinedRoom)
	if ev.Room != "general" {
		t.Errorf("expected room general, got %q", ev.Room)
	}
	alice.expectEvent(t, models.EventHistory)
	alice.expectEvent(t, models.EventUserJoined) // her own arrival

	bob.readCh <- models.ClientCommand{Type: models.CommandJoinRoom, Room: "general"}
	bob.expectEvent(t, models.EventJoinedRoom)

	// Alice sees bob arrive.
	ev = alice.expectEvent(t, models.EventUserJoined)
	if ev.Text != "bob joined general" {
		t.Errorf("unexpected join text %q", ev.Text)
	}

	// A send reaches both members.
	alice.readCh <- models.ClientCommand{Type: models.CommandSendMessage, Body: "hello"}
	for name, m := range map[string]*mockWS{"alice": alice, "bob": bob} {
		ev := m.expectEvent(t, models.EventMessage)
		if ev.Message == nil || ev.Message.Body != "hello" || ev.Message.User != "alice" {
			t.Errorf("%s received wrong message: %+v", name, ev.Message)
		}
	}

	// Disconnect tears down and notifies the room.
	stopAlice()
	ev = bob.expectEvent(t, models.EventUserLeft)
	if ev.Text != "alice left general" {
		t.Errorf("unexpected leave text %q", ev.Text)
	}
	ev = bob.expectEvent(t, models.EventRoomCounts)
	for _, ri := range ev.Rooms {
		if ri.Name == "general" && ri.UserCount != 1 {
			t.Errorf("expected count 1 after alice left, got %d", ri.UserCount)
		}
	}
}

func TestConnection_RejectsPropagate(t *testing.T) {
	hub, gw := newTestStack()

	m, stop := startConnection(t, hub, gw, "c1")
	defer stop()

	// Sending without a reserved user is a conflict.
	m.readCh <- models.ClientCommand{Type: models.CommandSendMessage, Body: "hello"}
	ev := m.expectEvent(t, models.EventMessageFailed)
	if ev.Reason != models.RejectConflict {
		t.Errorf("expected conflict, got %s", ev.Reason)
	}

	// Invalid username shape.
	m.readCh <- models.ClientCommand{Type: models.CommandReserveUsername, Username: "a!"}
	ev = m.expectEvent(t, models.EventUsernameRejected)
	if ev.Reason != models.RejectInvalid {
		t.Errorf("expected invalid, got %s", ev.Reason)
	}

	// Unknown command.
	m.readCh <- models.ClientCommand{Type: "dance"}
	m.expectEvent(t, models.EventError)
}

func TestConnection_LeaveAndSwitch(t *testing.T) {
	hub, gw := newTestStack()

	m, stop := startConnection(t, hub, gw, "c1")
	defer stop()

	m.readCh <- models.ClientCommand{Type: models.CommandReserveUsername, Username: "alice"}
	m.expectEvent(t, models.EventUsernameReserved)
	m.readCh <- models.ClientCommand{Type: models.CommandJoinRoom, Room: "general"}
	m.expectEvent(t, models.EventJoinedRoom)
	m.readCh <- models.ClientCommand{Type: models.CommandJoinRoom, Room: "random"}
	m.expectEvent(t, models.EventJoinedRoom)

	m.readCh <- models.ClientCommand{Type: models.CommandSwitchRoom, Room: "general"}
	ev := m.expectEvent(t, models.EventSwitchedRoom)
	if ev.Room != "general" {
		t.Errorf("expected switch to general, got %q", ev.Room)
	}

	// Leaving the current room falls back to the remaining one.
	m.readCh <- models.ClientCommand{Type: models.CommandLeaveRoom, Room: "general"}
	ev = m.expectEvent(t, models.EventLeftRoom)
	if ev.Room != "general" {
		t.Errorf("expected left room general, got %q", ev.Room)
	}
	ev = m.expectEvent(t, models.EventSwitchedRoom)
	if ev.Room != "random" {
		t.Errorf("expected fallback to random, got %q", ev.Room)
	}

	m.readCh <- models.ClientCommand{Type: models.CommandSwitchRoom, Room: "general"}
	ev = m.expectEvent(t, models.EventSwitchFailed)
	if ev.Reason != models.RejectConflict {
		t.Errorf("expected conflict, got %s", ev.Reason)
	}
}
