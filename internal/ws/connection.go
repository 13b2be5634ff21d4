package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"parley/internal/gateway"
	"parley/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

// chatGateway is the slice of the gateway the transport layer needs.
type chatGateway interface {
	Connect(connID, ip string) bool
	ReserveUsername(connID, raw string) (string, models.Reject)
	CheckUsername(connID, raw string) (bool, models.Reject)
	JoinRoom(connID, rawRoom string) (gateway.JoinResult, models.Reject)
	LeaveRoom(connID, rawRoom string) (gateway.LeaveResult, models.Reject)
	SwitchRoom(connID, rawRoom string) (string, models.Reject)
	SendMessage(connID, rawBody string) (models.Message, []string, models.Reject)
	Disconnect(connID string) (string, []string)
	RoomCounts() []models.RoomInfo
	RoomConnIDs(room string) []string
}

// Connection drives one websocket session: a reader goroutine pumps client
// commands, the main loop interleaves them with server events bound for this
// client, and teardown runs the disconnect path exactly once.
type Connection struct {
	ws         wsConnection
	hub        *Hub
	gw         chatGateway
	connID     string
	fromClient chan models.ClientCommand
	fromServer chan models.ServerEvent
	errorCh    chan error
}

func NewConnection(hub *Hub, gw chatGateway, ws wsConnection, connID string) *Connection {
	return &Connection{
		ws:         ws,
		hub:        hub,
		gw:         gw,
		connID:     connID,
		fromClient: make(chan models.ClientCommand),
		fromServer: hub.Register(connID),
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.teardown()
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpCommands(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// teardown unregisters this connection, removes its user, and notifies every
// room the user was in. Runs once, after both loops have stopped.
func (c *Connection) teardown() {
	c.hub.Unregister(c.connID)

	name, rooms := c.gw.Disconnect(c.connID)
	if name == "" {
		return
	}
	counts := c.gw.RoomCounts()
	for _, room := range rooms {
		targets := c.gw.RoomConnIDs(room)
		c.hub.Fanout(targets, models.ServerEvent{
			Type: models.EventUserLeft,
			Room: room,
			Text: fmt.Sprintf("%s left %s", name, room),
		})
		c.hub.Fanout(targets, models.ServerEvent{
			Type:  models.EventRoomCounts,
			Rooms: counts,
		})
	}
}

func (c *Connection) pumpCommands(ctx context.Context) error {
	for {
		var cmd models.ClientCommand
		if err := c.ws.ReadJSON(&cmd); err != nil {
			return err
		}
		select {
		case c.fromClient <- cmd:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case cmd := <-c.fromClient:
			c.processCommand(cmd)
		case ev := <-c.fromServer:
			if err := c.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// processCommand dispatches one client command to the gateway and translates
// the result into events. Replies to the issuing client go through its own
// hub channel so they stay ordered with broadcasts.
func (c *Connection) processCommand(cmd models.ClientCommand) {
	switch cmd.Type {
	case models.CommandReserveUsername:
		c.reserveUsername(cmd.Username)
	case models.CommandCheckUsername:
		c.checkUsername(cmd.Username)
	case models.CommandJoinRoom:
		c.joinRoom(cmd.Room)
	case models.CommandLeaveRoom:
		c.leaveRoom(cmd.Room)
	case models.CommandSwitchRoom:
		c.switchRoom(cmd.Room)
	case models.CommandSendMessage:
		c.sendMessage(cmd.Body)
	default:
		c.hub.Send(c.connID, models.ServerEvent{
			Type: models.EventError,
			Text: "unknown command",
		})
	}
}

func (c *Connection) reserveUsername(raw string) {
	name, rej := c.gw.ReserveUsername(c.connID, raw)
	if rej != models.RejectNone {
		c.hub.Send(c.connID, models.ServerEvent{
			Type:   models.EventUsernameRejected,
			Reason: rej,
		})
		return
	}
	c.hub.Send(c.connID, models.ServerEvent{
		Type:     models.EventUsernameReserved,
		Username: name,
	})
	c.hub.Send(c.connID, models.ServerEvent{
		Type:  models.EventRooms,
		Rooms: c.gw.RoomCounts(),
	})
}

func (c *Connection) checkUsername(raw string) {
	available, rej := c.gw.CheckUsername(c.connID, raw)
	if rej != models.RejectNone {
		c.hub.Send(c.connID, models.ServerEvent{
			Type:   models.EventUsernameChecked,
			Reason: rej,
		})
		return
	}
	text := "taken"
	if available {
		text = "available"
	}
	c.hub.Send(c.connID, models.ServerEvent{
		Type: models.EventUsernameChecked,
		Text: text,
	})
}

func (c *Connection) joinRoom(raw string) {
	res, rej := c.gw.JoinRoom(c.connID, raw)
	if rej != models.RejectNone {
		c.hub.Send(c.connID, models.ServerEvent{
			Type:   models.EventJoinFailed,
			Reason: rej,
		})
		return
	}

	c.hub.Send(c.connID, models.ServerEvent{
		Type: models.EventJoinedRoom,
		Room: res.Room,
	})
	// History goes to the joining client only, oldest first.
	c.hub.Send(c.connID, models.ServerEvent{
		Type:     models.EventHistory,
		Room:     res.Room,
		Messages: res.History,
	})

	counts := c.gw.RoomCounts()
	targets := c.gw.RoomConnIDs(res.Room)
	c.hub.Fanout(targets, models.ServerEvent{
		Type: models.EventUserJoined,
		Room: res.Room,
		Text: fmt.Sprintf("%s joined %s", res.User, res.Room),
	})
	c.hub.Fanout(targets, models.ServerEvent{
		Type:  models.EventRoomCounts,
		Rooms: counts,
	})
}

func (c *Connection) leaveRoom(raw string) {
	res, rej := c.gw.LeaveRoom(c.connID, raw)
	if rej != models.RejectNone {
		c.hub.Send(c.connID, models.ServerEvent{
			Type:   models.EventError,
			Reason: rej,
			Text:   "leave failed",
		})
		return
	}

	c.hub.Send(c.connID, models.ServerEvent{
		Type: models.EventLeftRoom,
		Room: res.Left,
	})
	// Tell the client which room is active now, if any.
	if res.Current != "" {
		c.hub.Send(c.connID, models.ServerEvent{
			Type: models.EventSwitchedRoom,
			Room: res.Current,
		})
	}

	targets := c.gw.RoomConnIDs(res.Left)
	c.hub.Fanout(targets, models.ServerEvent{
		Type: models.EventUserLeft,
		Room: res.Left,
		Text: fmt.Sprintf("%s left %s", res.User, res.Left),
	})
	c.hub.Fanout(targets, models.ServerEvent{
		Type:  models.EventRoomCounts,
		Rooms: c.gw.RoomCounts(),
	})
}

func (c *Connection) switchRoom(raw string) {
	room, rej := c.gw.SwitchRoom(c.connID, raw)
	if rej != models.RejectNone {
		c.hub.Send(c.connID, models.ServerEvent{
			Type:   models.EventSwitchFailed,
			Reason: rej,
		})
		return
	}
	c.hub.Send(c.connID, models.ServerEvent{
		Type: models.EventSwitchedRoom,
		Room: room,
	})
}

func (c *Connection) sendMessage(raw string) {
	msg, targets, rej := c.gw.SendMessage(c.connID, raw)
	if rej != models.RejectNone {
		c.hub.Send(c.connID, models.ServerEvent{
			Type:   models.EventMessageFailed,
			Reason: rej,
		})
		return
	}
	c.hub.Fanout(targets, models.ServerEvent{
		Type:    models.EventMessage,
		Room:    msg.Room,
		Message: &msg,
	})
}
