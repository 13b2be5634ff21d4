package api

import (
	"encoding/json"
	"log"
	"net/http"

	"parley/internal/content"
	"parley/internal/gateway"
	"parley/internal/models"
)

type API struct {
	gw *gateway.Gateway
}

func New(gw *gateway.Gateway) *API {
	return &API{gw: gw}
}

// htmlMessage is the response shape for ?format=html history requests. Body
// holds rendered markdown instead of the stored escaped text.
type htmlMessage struct {
	ID        int64  `json:"id"`
	User      string `json:"user"`
	Body      string `json:"body"`
	Room      string `json:"room"`
	Timestamp int64  `json:"timestamp"`
}

func (a *API) RoomsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.gw.RoomCounts())
}

func (a *API) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")

	msgs, rej := a.gw.History(room)
	if rej != models.RejectNone {
		http.Error(w, string(rej), statusFor(rej))
		return
	}

	if r.URL.Query().Get("format") != "html" {
		writeJSON(w, msgs)
		return
	}

	rendered := make([]htmlMessage, 0, len(msgs))
	for _, m := range msgs {
		html, err := content.RenderMarkdown(m.Body)
		if err != nil {
			log.Printf("failed to render message %d: %v", m.ID, err)
			html = []byte(m.Body)
		}
		rendered = append(rendered, htmlMessage{
			ID:        m.ID,
			User:      m.User,
			Body:      string(html),
			Room:      m.Room,
			Timestamp: m.Timestamp,
		})
	}
	writeJSON(w, rendered)
}

func (a *API) SearchHandler(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")

	msgs, rej := a.gw.SearchMessages(room, r.URL.Query().Get("q"))
	if rej != models.RejectNone {
		http.Error(w, string(rej), statusFor(rej))
		return
	}
	writeJSON(w, msgs)
}

func (a *API) UserMessagesHandler(w http.ResponseWriter, r *http.Request) {
	msgs, rej := a.gw.MessagesByUser(r.PathValue("user"))
	if rej != models.RejectNone {
		http.Error(w, string(rej), statusFor(rej))
		return
	}
	writeJSON(w, msgs)
}

func statusFor(rej models.Reject) int {
	switch rej {
	case models.RejectInvalid, models.RejectMalicious:
		return http.StatusBadRequest
	case models.RejectRateLimited:
		return http.StatusTooManyRequests
	case models.RejectConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
