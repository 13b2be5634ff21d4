package gateway

import (
	"log/slog"
	"strings"
	"time"

	"parley/internal/content"
	"parley/internal/models"
	"parley/internal/ratelimit"
	"parley/internal/registry"

	"github.com/c-pro/geche"
)

const (
	historyLimit  = 50
	byUserLimit   = 100
	searchLimit   = 50
	maxSearchTerm = 100
)

// MessageStore is the persistence contract the gateway depends on. BboltStore
// is the production implementation, MemStore the test double.
type MessageStore interface {
	SaveMessage(msg models.Message) (int64, error)
	RecentMessages(room string, limit int) ([]models.Message, error)
	MessagesByUser(user string, limit int) ([]models.Message, error)
	SearchMessages(room, term string, limit int) ([]models.Message, error)
}

// Gateway orchestrates every operation a connection can invoke: validation,
// rate limiting, registry mutation, persistence, and working out the fanout
// target set. It is the only boundary that translates internal failures into
// caller-facing reject reasons, and it never lets internal detail leak.
type Gateway struct {
	reg     *registry.Registry
	limiter *ratelimit.Limiter
	store   MessageStore
	allowed map[string]struct{}

	// connID -> source ip, so disconnects release the right counter.
	connIPs *geche.Locker[string, string]

	now func() time.Time
}

func New(reg *registry.Registry, limiter *ratelimit.Limiter, store MessageStore) *Gateway {
	allowed := make(map[string]struct{})
	for _, name := range reg.RoomNames() {
		allowed[name] = struct{}{}
	}
	return &Gateway{
		reg:     reg,
		limiter: limiter,
		store:   store,
		allowed: allowed,
		connIPs: geche.NewLocker[string, string](geche.NewMapCache[string, string]()),
		now:     time.Now,
	}
}

// recoverPanic is deferred by every public method. A panic anywhere in the
// pipeline is logged server-side and surfaced as a bare internal reject.
func recoverPanic(op string, rej *models.Reject) {
	if r := recover(); r != nil {
		slog.Error("panic in gateway operation", "op", op, "panic", r)
		*rej = models.RejectInternal
	}
}

// Connect admits a new transport session, enforcing the per-IP connection
// cap. A rejected connection leaves no state behind.
func (g *Gateway) Connect(connID, ip string) bool {
	if !g.limiter.AllowConnection(ip) {
		slog.Warn("connection rejected, too many from ip", "ip", ip)
		return false
	}
	tx := g.connIPs.Lock()
	tx.Set(connID, ip)
	tx.Unlock()
	return true
}

// Disconnect tears down everything connID held: the username reservation,
// room memberships, rate-limit state, and the IP counter slot. It reports the
// released name and rooms so the transport can notify affected rooms. Safe to
// call for connections that never reserved a name.
func (g *Gateway) Disconnect(connID string) (name string, rooms []string) {
	tx := g.connIPs.Lock()
	if ip, err := tx.Get(connID); err == nil {
		g.limiter.ReleaseConnection(ip)
		_ = tx.Del(connID)
	}
	tx.Unlock()

	g.limiter.ForgetConnection(connID)
	return g.reg.RemoveUser(connID)
}

// ReserveUsername validates and atomically claims a username for connID,
// returning the sanitized echo form.
func (g *Gateway) ReserveUsername(connID, raw string) (name string, rej models.Reject) {
	defer recoverPanic("reserve_username", &rej)

	if !content.ValidUsername(raw) {
		return "", models.RejectInvalid
	}
	if !g.reg.ReserveUsername(connID, strings.TrimSpace(raw)) {
		return "", models.RejectConflict
	}
	return content.Sanitize(raw), models.RejectNone
}

// CheckUsername reports whether raw is available, behind the per-connection
// check cadence limit.
func (g *Gateway) CheckUsername(connID, raw string) (available bool, rej models.Reject) {
	defer recoverPanic("check_username", &rej)

	if !g.limiter.AllowNameCheck(connID) {
		return false, models.RejectRateLimited
	}
	if !content.ValidUsername(raw) {
		return false, models.RejectInvalid
	}
	return g.reg.UsernameAvailable(raw), models.RejectNone
}

// JoinResult carries what a successful join returns to the joining caller
// only: the canonical room name and its recent history, oldest first.
type JoinResult struct {
	Room    string
	User    string
	History []models.Message
}

// JoinRoom validates the room, joins it, and fetches recent history. A
// history read failure degrades to an empty history; the join stands.
func (g *Gateway) JoinRoom(connID, rawRoom string) (res JoinResult, rej models.Reject) {
	defer recoverPanic("join_room", &rej)

	if !content.ValidRoomName(rawRoom, g.allowed) {
		return JoinResult{}, models.RejectInvalid
	}
	room := normalizeRoom(rawRoom)

	u, ok := g.reg.User(connID)
	if !ok {
		return JoinResult{}, models.RejectConflict
	}
	if !g.reg.JoinRoom(connID, room) {
		// Room exists and the user is registered, so this is capacity.
		return JoinResult{}, models.RejectConflict
	}

	history, err := g.store.RecentMessages(room, historyLimit)
	if err != nil {
		slog.Warn("failed to load room history", "room", room, "error", err)
		history = nil
	}
	reverse(history)

	return JoinResult{
		Room:    room,
		User:    content.Sanitize(u.Name),
		History: history,
	}, models.RejectNone
}

// LeaveResult names what a leave released: the canonical left room, the room
// that is current now (possibly empty), and the sanitized username.
type LeaveResult struct {
	Left    string
	Current string
	User    string
}

// LeaveRoom removes connID's user from the room. The caller tells the client
// which room became active and notifies the left room.
func (g *Gateway) LeaveRoom(connID, rawRoom string) (res LeaveResult, rej models.Reject) {
	defer recoverPanic("leave_room", &rej)

	if !content.ValidRoomName(rawRoom, g.allowed) {
		return LeaveResult{}, models.RejectInvalid
	}
	left := normalizeRoom(rawRoom)
	if !g.reg.LeaveRoom(connID, left) {
		return LeaveResult{}, models.RejectConflict
	}

	u, _ := g.reg.User(connID)
	return LeaveResult{
		Left:    left,
		Current: u.CurrentRoom,
		User:    content.Sanitize(u.Name),
	}, models.RejectNone
}

// SwitchRoom makes an already-joined room current.
func (g *Gateway) SwitchRoom(connID, rawRoom string) (room string, rej models.Reject) {
	defer recoverPanic("switch_room", &rej)

	if !content.ValidRoomName(rawRoom, g.allowed) {
		return "", models.RejectInvalid
	}
	room = normalizeRoom(rawRoom)
	if !g.reg.SwitchRoom(connID, room) {
		return "", models.RejectConflict
	}
	return room, models.RejectNone
}

// SendMessage runs the full send pipeline: validation, malicious-content
// check, rate limit, sanitization, persistence, fanout target resolution.
// Persistence failures are logged and swallowed; delivery is not blocked on
// storage. The returned conn IDs are the current room's subscriber set.
func (g *Gateway) SendMessage(connID, rawBody string) (msg models.Message, targets []string, rej models.Reject) {
	defer recoverPanic("send_message", &rej)

	u, ok := g.reg.User(connID)
	if !ok || u.CurrentRoom == "" {
		return models.Message{}, nil, models.RejectConflict
	}

	if !content.ValidMessage(rawBody) {
		if content.Dangerous(rawBody) {
			return models.Message{}, nil, models.RejectMalicious
		}
		return models.Message{}, nil, models.RejectInvalid
	}

	if !g.limiter.AllowMessage(u.Name, u.CurrentRoom) {
		return models.Message{}, nil, models.RejectRateLimited
	}

	msg = models.Message{
		User:      content.Sanitize(u.Name),
		Body:      content.Sanitize(rawBody),
		Room:      u.CurrentRoom,
		Timestamp: g.now().UTC().Unix(),
	}

	id, err := g.store.SaveMessage(msg)
	if err != nil {
		slog.Error("failed to persist message", "room", msg.Room, "error", err)
	} else {
		msg.ID = id
	}

	g.reg.Touch(connID)
	return msg, g.reg.RoomConnIDs(u.CurrentRoom), models.RejectNone
}

// History returns room history in chronological order for read paths outside
// the join flow. Storage errors surface as an empty result.
func (g *Gateway) History(rawRoom string) (msgs []models.Message, rej models.Reject) {
	defer recoverPanic("history", &rej)

	if !content.ValidRoomName(rawRoom, g.allowed) {
		return nil, models.RejectInvalid
	}
	msgs, err := g.store.RecentMessages(normalizeRoom(rawRoom), historyLimit)
	if err != nil {
		slog.Warn("failed to load room history", "room", rawRoom, "error", err)
		return nil, models.RejectNone
	}
	reverse(msgs)
	return msgs, models.RejectNone
}

// MessagesByUser returns a user's messages across rooms, newest first.
func (g *Gateway) MessagesByUser(user string) (msgs []models.Message, rej models.Reject) {
	defer recoverPanic("messages_by_user", &rej)

	if !content.ValidUsername(user) {
		return nil, models.RejectInvalid
	}
	msgs, err := g.store.MessagesByUser(strings.TrimSpace(user), byUserLimit)
	if err != nil {
		slog.Warn("failed to load user messages", "user", user, "error", err)
		return nil, models.RejectNone
	}
	return msgs, models.RejectNone
}

// SearchMessages searches one room's log for a term, newest first. The term
// is trimmed, stripped of markup, and capped before it reaches the store.
func (g *Gateway) SearchMessages(rawRoom, term string) (msgs []models.Message, rej models.Reject) {
	defer recoverPanic("search_messages", &rej)

	if !content.ValidRoomName(rawRoom, g.allowed) {
		return nil, models.RejectInvalid
	}
	term = strings.TrimSpace(content.StripMarkup(term))
	if term == "" {
		return nil, models.RejectInvalid
	}
	if len(term) > maxSearchTerm {
		term = term[:maxSearchTerm]
	}

	msgs, err := g.store.SearchMessages(normalizeRoom(rawRoom), term, searchLimit)
	if err != nil {
		slog.Warn("failed to search messages", "room", rawRoom, "error", err)
		return nil, models.RejectNone
	}
	return msgs, models.RejectNone
}

// RoomCounts is the occupancy snapshot broadcast after membership changes.
func (g *Gateway) RoomCounts() []models.RoomInfo {
	counts := g.reg.RoomCounts()
	infos := make([]models.RoomInfo, len(counts))
	for i, c := range counts {
		infos[i] = models.RoomInfo{Name: c.Name, Capacity: c.Capacity, UserCount: c.UserCount}
	}
	return infos
}

// RoomConnIDs exposes the fanout target set for a room.
func (g *Gateway) RoomConnIDs(room string) []string {
	return g.reg.RoomConnIDs(room)
}

func normalizeRoom(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func reverse(msgs []models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
