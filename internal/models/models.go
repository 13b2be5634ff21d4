package models

import "errors"

var (
	ErrNotFound = errors.New("not found")
)

// Message represents a persisted chat message. It is immutable once stored;
// ID is assigned by the store on insert.
type Message struct {
	ID        int64  `json:"id"`
	User      string `json:"user"`
	Body      string `json:"body"`
	Room      string `json:"room"`
	Timestamp int64  `json:"timestamp"` // Unix timestamp (seconds, UTC)
}

// RoomInfo is a point-in-time view of a room's occupancy.
type RoomInfo struct {
	Name      string `json:"name"`
	Capacity  int    `json:"capacity"`
	UserCount int    `json:"userCount"`
}

// ClientCommand represents a request sent from the client to the server.
type ClientCommand struct {
	Type     CommandType `json:"type"`
	Username string      `json:"username,omitempty"`
	Room     string      `json:"room,omitempty"`
	Body     string      `json:"body,omitempty"`
}

// ServerEvent represents an event delivered to the client.
type ServerEvent struct {
	Type     EventType  `json:"type"`
	Username string     `json:"username,omitempty"`
	Room     string     `json:"room,omitempty"`
	Text     string     `json:"text,omitempty"`
	Reason   Reject     `json:"reason,omitempty"`
	Message  *Message   `json:"message,omitempty"`
	Messages []Message  `json:"messages,omitempty"`
	Rooms    []RoomInfo `json:"rooms,omitempty"`
}

type CommandType string

const (
	CommandReserveUsername CommandType = "reserve_username"
	CommandCheckUsername   CommandType = "check_username"
	CommandJoinRoom        CommandType = "join_room"
	CommandLeaveRoom       CommandType = "leave_room"
	CommandSwitchRoom      CommandType = "switch_room"
	CommandSendMessage     CommandType = "send_message"
)

type EventType string

const (
	EventUsernameReserved EventType = "username_reserved"
	EventUsernameRejected EventType = "username_rejected"
	EventUsernameChecked  EventType = "username_checked"
	EventRooms            EventType = "rooms"
	EventJoinedRoom       EventType = "joined_room"
	EventJoinFailed       EventType = "join_failed"
	EventLeftRoom         EventType = "left_room"
	EventSwitchedRoom     EventType = "switched_room"
	EventSwitchFailed     EventType = "switch_failed"
	EventHistory          EventType = "history"
	EventMessage          EventType = "message"
	EventUserJoined       EventType = "user_joined"
	EventUserLeft         EventType = "user_left"
	EventRoomCounts       EventType = "room_counts"
	EventMessageFailed    EventType = "message_failed"
	EventError            EventType = "error"
)

// Reject classifies an operation failure for the caller. Validation failures
// are terminal (fix the input), rate limits are retryable after a cooldown,
// conflicts require re-querying state first, internal errors carry no detail.
type Reject string

const (
	RejectNone        Reject = ""
	RejectInvalid     Reject = "invalid"
	RejectMalicious   Reject = "malicious"
	RejectRateLimited Reject = "rate_limited"
	RejectConflict    Reject = "conflict"
	RejectInternal    Reject = "internal"
)

// Retryable reports whether the client may retry the same request unchanged
// after backing off.
func (r Reject) Retryable() bool {
	return r == RejectRateLimited
}
