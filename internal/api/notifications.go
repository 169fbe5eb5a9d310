package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/erazemk/bookswap/internal/model"
	"github.com/erazemk/bookswap/internal/notify"
	"github.com/erazemk/bookswap/internal/store"
)

// NotificationsHandler serves the caller's inbox and live stream.
type NotificationsHandler struct {
	DB  *sql.DB
	Hub *notify.Hub
}

// List handles GET /api/notifications?unread=true.
func (h *NotificationsHandler) List(w http.ResponseWriter, r *http.Request) {
	unreadOnly := r.URL.Query().Get("unread") == "true"
	notifications, err := store.ListNotifications(r.Context(), h.DB, caller(r).UserID, unreadOnly)
	if err != nil {
		slog.Error("failed to list notifications", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	if notifications == nil {
		notifications = []model.Notification{}
	}
	jsonResponse(w, http.StatusOK, notifications)
}

// UnreadCount handles GET /api/notifications/unread-count.
func (h *NotificationsHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := store.CountUnreadNotifications(r.Context(), h.DB, caller(r).UserID)
	if err != nil {
		slog.Error("failed to count notifications", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to count notifications")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]int64{"count": count})
}

// MarkRead handles POST /api/notifications/{id}/read.
func (h *NotificationsHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "notification")
	if !ok {
		return
	}
	if err := store.MarkNotificationRead(r.Context(), h.DB, id, caller(r).UserID); err != nil {
		storeError(w, err, "mark notification read")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "notification read"})
}

// MarkAllRead handles POST /api/notifications/read-all.
func (h *NotificationsHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := store.MarkAllNotificationsRead(r.Context(), h.DB, caller(r).UserID)
	if err != nil {
		storeError(w, err, "mark notifications read")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]int64{"updated": n})
}

// Stream handles GET /api/notifications/ws.
func (h *NotificationsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.Hub == nil {
		jsonError(w, http.StatusServiceUnavailable, "live notifications disabled")
		return
	}
	if err := h.Hub.ServeUser(w, r, caller(r).UserID); err != nil {
		slog.Warn("failed to open notification stream", "error", err)
	}
}
