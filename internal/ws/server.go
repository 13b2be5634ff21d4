package ws

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Server upgrades HTTP requests to websocket sessions and hands them to
// Connection. It issues the opaque connection IDs the rest of the system
// keys on.
type Server struct {
	hub      *Hub
	gw       chatGateway
	upgrader *websocket.Upgrader
}

func NewServer(hub *Hub, gw chatGateway) *Server {
	return &Server{
		hub: hub,
		gw:  gw,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // clients connect from anywhere
			},
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	connID := uuid.NewString()
	ip := clientIP(r)

	if !s.gw.Connect(connID, ip) {
		http.Error(w, "Too many connections", http.StatusTooManyRequests)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		// Undo the connection slot we just took.
		_, _ = s.gw.Disconnect(connID)
		return
	}

	conn := NewConnection(s.hub, s.gw, wsConn, connID)
	if err := conn.Handle(r.Context()); err != nil {
		slog.Warn("connection closed with error", "conn_id", connID, "error", err)
	}
}

// clientIP prefers the first hop of X-Forwarded-For, falling back to the
// socket's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
