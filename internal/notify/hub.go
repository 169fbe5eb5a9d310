package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/olahol/melody"

	"github.com/erazemk/bookswap/internal/model"
)

const userKey = "user_id"

// Hub pushes notifications to connected WebSocket clients. Each session is
// tagged with the user it was opened for and only receives that user's messages.
type Hub struct {
	m *melody.Melody
}

// NewHub creates a hub with keep-alive pings enabled.
func NewHub() *Hub {
	m := melody.New()
	m.Config.MaxMessageSize = 4096
	m.Config.PingPeriod = 30 * time.Second
	m.Config.PongWait = 60 * time.Second

	m.HandleConnect(func(s *melody.Session) {
		userID, _ := s.Get(userKey)
		slog.Info("notification stream opened", "user_id", userID)
	})
	m.HandleDisconnect(func(s *melody.Session) {
		userID, _ := s.Get(userKey)
		slog.Info("notification stream closed", "user_id", userID)
	})
	m.HandleError(func(s *melody.Session, err error) {
		userID, _ := s.Get(userKey)
		slog.Warn("notification stream error", "user_id", userID, "error", err)
	})

	return &Hub{m: m}
}

// ServeUser upgrades the request and subscribes the connection to userID's notifications.
func (h *Hub) ServeUser(w http.ResponseWriter, r *http.Request, userID int64) error {
	return h.m.HandleRequestWithKeys(w, r, map[string]any{userKey: userID})
}

// Push sends n to every open session of its recipient.
func (h *Hub) Push(n *model.Notification) error {
	msg, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	return h.m.BroadcastFilter(msg, func(s *melody.Session) bool {
		id, ok := s.Get(userKey)
		return ok && id == n.UserID
	})
}

// Sessions returns the number of open sessions.
func (h *Hub) Sessions() int {
	return h.m.Len()
}

// Close disconnects every session.
func (h *Hub) Close() error {
	return h.m.Close()
}
