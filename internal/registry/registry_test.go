package registry

import (
	"fmt"
	"sync"
	"testing"
)

func newTestRegistry() *Registry {
	return New([]string{"general", "random", "tech"}, 50)
}

func TestReserveUsername(t *testing.T) {
	r := newTestRegistry()

	if !r.ReserveUsername("c1", "alice") {
		t.Fatal("first reservation should succeed")
	}
	if r.ReserveUsername("c2", "alice") {
		t.Error("duplicate reservation from another connection should fail")
	}
	if r.ReserveUsername("c2", "ALICE") {
		t.Error("reservation should be case-insensitive")
	}
	if r.UsernameAvailable("Alice") {
		t.Error("reserved name should not be available")
	}
	if !r.UsernameAvailable("bob") {
		t.Error("unreserved name should be available")
	}
}

func TestReserveUsername_ReplacesPreviousName(t *testing.T) {
	r := newTestRegistry()

	if !r.ReserveUsername("c1", "alice") {
		t.Fatal("reservation failed")
	}
	if !r.JoinRoom("c1", "general") {
		t.Fatal("join failed")
	}

	if !r.ReserveUsername("c1", "alicia") {
		t.Fatal("re-reservation from the same connection should succeed")
	}

	if !r.UsernameAvailable("alice") {
		t.Error("old name should be released")
	}
	if r.UsernameAvailable("alicia") {
		t.Error("new name should be held")
	}

	// The fresh record starts with no memberships.
	users, _ := r.RoomUsers("general")
	if len(users) != 0 {
		t.Errorf("expected empty room after re-reservation, got %v", users)
	}
}

func TestConcurrentReservation_OneWinner(t *testing.T) {
	r := newTestRegistry()

	const claimants = 50
	var wg sync.WaitGroup
	wins := make(chan string, claimants)

	for i := 0; i < claimants; i++ {
		connID := fmt.Sprintf("conn-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.ReserveUsername(connID, "Alice") {
				wins <- connID
			}
		}()
	}
	wg.Wait()
	close(wins)

	if n := len(wins); n != 1 {
		t.Errorf("expected exactly 1 winner, got %d", n)
	}
}

func TestJoinLeaveSymmetry(t *testing.T) {
	r := newTestRegistry()
	r.ReserveUsername("c1", "alice")

	if !r.JoinRoom("c1", "general") {
		t.Fatal("join failed")
	}

	users, _ := r.RoomUsers("general")
	if len(users) != 1 || users[0] != "alice" {
		t.Errorf("expected [alice], got %v", users)
	}
	if joined := r.JoinedRooms("c1"); len(joined) != 1 || joined[0] != "general" {
		t.Errorf("expected [general], got %v", joined)
	}

	if !r.LeaveRoom("c1", "general") {
		t.Fatal("leave failed")
	}

	users, _ = r.RoomUsers("general")
	if len(users) != 0 {
		t.Errorf("expected empty room, got %v", users)
	}
	if joined := r.JoinedRooms("c1"); len(joined) != 0 {
		t.Errorf("expected no joined rooms, got %v", joined)
	}
}

func TestJoinRoom_Idempotent(t *testing.T) {
	r := newTestRegistry()
	r.ReserveUsername("c1", "alice")

	if !r.JoinRoom("c1", "general") {
		t.Fatal("first join failed")
	}
	if !r.JoinRoom("c1", "general") {
		t.Error("repeat join should succeed")
	}

	if joined := r.JoinedRooms("c1"); len(joined) != 1 {
		t.Errorf("expected general exactly once, got %v", joined)
	}
	counts := r.RoomCounts()
	for _, c := range counts {
		if c.Name == "general" && c.UserCount != 1 {
			t.Errorf("expected count 1, got %d", c.UserCount)
		}
	}
}

func TestJoinRoom_Failures(t *testing.T) {
	r := New([]string{"general"}, 1)
	r.ReserveUsername("c1", "alice")
	r.ReserveUsername("c2", "bob")

	if r.JoinRoom("c3", "general") {
		t.Error("join without a reserved user should fail")
	}
	if r.JoinRoom("c1", "nowhere") {
		t.Error("join of an unknown room should fail")
	}

	if !r.JoinRoom("c1", "general") {
		t.Fatal("join failed")
	}
	if r.JoinRoom("c2", "general") {
		t.Error("join beyond capacity should fail")
	}

	// A member re-joining a full room is still idempotent success.
	if !r.JoinRoom("c1", "general") {
		t.Error("member re-join of a full room should succeed")
	}
}

func TestLeaveRoom_CurrentRoomFallback(t *testing.T) {
	r := newTestRegistry()
	r.ReserveUsername("c1", "alice")
	r.JoinRoom("c1", "general")
	r.JoinRoom("c1", "random")

	u, _ := r.User("c1")
	if u.CurrentRoom != "random" {
		t.Fatalf("expected current room random, got %q", u.CurrentRoom)
	}

	if !r.LeaveRoom("c1", "random") {
		t.Fatal("leave failed")
	}
	u, _ = r.User("c1")
	if u.CurrentRoom != "general" {
		t.Errorf("expected fallback to general, got %q", u.CurrentRoom)
	}

	if !r.LeaveRoom("c1", "general") {
		t.Fatal("leave failed")
	}
	u, _ = r.User("c1")
	if u.CurrentRoom != "" {
		t.Errorf("expected empty current room, got %q", u.CurrentRoom)
	}
}

func TestSwitchRoom(t *testing.T) {
	r := newTestRegistry()
	r.ReserveUsername("c1", "alice")
	r.JoinRoom("c1", "general")

	if r.SwitchRoom("c1", "random") {
		t.Error("switch to a room not joined should fail")
	}

	r.JoinRoom("c1", "random")
	if !r.SwitchRoom("c1", "general") {
		t.Fatal("switch to a joined room should succeed")
	}
	u, _ := r.User("c1")
	if u.CurrentRoom != "general" {
		t.Errorf("expected current room general, got %q", u.CurrentRoom)
	}
}

func TestRemoveUser(t *testing.T) {
	r := newTestRegistry()
	r.ReserveUsername("c1", "alice")
	r.JoinRoom("c1", "general")
	r.JoinRoom("c1", "random")

	name, rooms := r.RemoveUser("c1")
	if name != "alice" {
		t.Errorf("expected released name alice, got %q", name)
	}
	if len(rooms) != 2 {
		t.Errorf("expected 2 affected rooms, got %v", rooms)
	}

	if !r.UsernameAvailable("alice") {
		t.Error("name should be available immediately after removal")
	}
	for _, roomName := range []string{"general", "random"} {
		users, _ := r.RoomUsers(roomName)
		if len(users) != 0 {
			t.Errorf("room %s should be empty, got %v", roomName, users)
		}
	}
	if _, ok := r.User("c1"); ok {
		t.Error("user record should be gone")
	}

	// Removing an already-removed connection is a no-op.
	name, rooms = r.RemoveUser("c1")
	if name != "" || rooms != nil {
		t.Errorf("expected no-op, got %q %v", name, rooms)
	}
}

func TestRoomConnIDs(t *testing.T) {
	r := newTestRegistry()
	r.ReserveUsername("c1", "alice")
	r.ReserveUsername("c2", "bob")
	r.ReserveUsername("c3", "carol")
	r.JoinRoom("c1", "general")
	r.JoinRoom("c2", "general")
	r.JoinRoom("c3", "random")

	got := r.RoomConnIDs("general")
	if len(got) != 2 || got[0] != "c1" || got[1] != "c2" {
		t.Errorf("expected [c1 c2], got %v", got)
	}
	if ids := r.RoomConnIDs("nowhere"); ids != nil {
		t.Errorf("expected nil for unknown room, got %v", ids)
	}
}

func TestConcurrentJoinLeave_Consistency(t *testing.T) {
	r := New([]string{"general", "random"}, 100)

	const users = 30
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		connID := fmt.Sprintf("conn-%d", i)
		name := fmt.Sprintf("user%02d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !r.ReserveUsername(connID, name) {
				t.Errorf("reservation failed for %s", name)
				return
			}
			for j := 0; j < 20; j++ {
				r.JoinRoom(connID, "general")
				r.JoinRoom(connID, "random")
				r.LeaveRoom(connID, "general")
				r.LeaveRoom(connID, "random")
			}
		}()
	}
	wg.Wait()

	// After every goroutine finished its leave, both sides must agree: all
	// rooms empty, no joined rooms on any user.
	for _, roomName := range []string{"general", "random"} {
		members, _ := r.RoomUsers(roomName)
		if len(members) != 0 {
			t.Errorf("room %s should be empty, got %v", roomName, members)
		}
	}
	for i := 0; i < users; i++ {
		if joined := r.JoinedRooms(fmt.Sprintf("conn-%d", i)); len(joined) != 0 {
			t.Errorf("conn-%d should have no joined rooms, got %v", i, joined)
		}
	}
}
