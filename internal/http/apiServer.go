package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"parley/internal/api"
	"parley/internal/gateway"
	"parley/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(gw *gateway.Gateway, hub *ws.Hub, addr string) *APIServer {
	server := ws.NewServer(hub, gw)
	handlers := api.New(gw)

	mux := http.NewServeMux()

	// REST endpoints
	mux.HandleFunc("GET /api/rooms", handlers.RoomsHandler)
	mux.HandleFunc("GET /api/rooms/{room}/history", handlers.HistoryHandler)
	mux.HandleFunc("GET /api/rooms/{room}/search", handlers.SearchHandler)
	mux.HandleFunc("GET /api/users/{user}/messages", handlers.UserMessagesHandler)

	// WebSocket endpoint
	mux.HandleFunc("/ws", server.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
