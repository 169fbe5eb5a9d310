package api

import (
	"database/sql"
	"net/http"

	"github.com/erazemk/bookswap/internal/lifecycle"
	"github.com/erazemk/bookswap/internal/model"
	"github.com/erazemk/bookswap/internal/notify"
)

// NewRouter creates the API router with all endpoints registered. hub may be
// nil, in which case the live notification stream is disabled.
func NewRouter(db *sql.DB, jwtSecret string, svc *lifecycle.Service, hub *notify.Hub) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: db, JWTSecret: jwtSecret}
	usersHandler := &UsersHandler{DB: db}
	booksHandler := &BooksHandler{DB: db}
	proposalsHandler := &ProposalsHandler{Service: svc}
	exchangesHandler := &ExchangesHandler{Service: svc}
	notificationsHandler := &NotificationsHandler{DB: db, Hub: hub}

	authMW := AuthMiddleware(jwtSecret, db)
	requireAdmin := RequireRole(model.RoleAdmin)

	// Public: login.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	// Authenticated routes.
	mux.Handle("POST /api/auth/logout", authMW(http.HandlerFunc(authHandler.Logout)))

	// Users: create and list (admin), read profiles (all).
	mux.Handle("POST /api/users", authMW(requireAdmin(http.HandlerFunc(usersHandler.Create))))
	mux.Handle("GET /api/users", authMW(requireAdmin(http.HandlerFunc(usersHandler.List))))
	mux.Handle("GET /api/users/{id}", authMW(http.HandlerFunc(usersHandler.Get)))

	// Books.
	mux.Handle("POST /api/books", authMW(http.HandlerFunc(booksHandler.Create)))
	mux.Handle("GET /api/books", authMW(http.HandlerFunc(booksHandler.List)))
	mux.Handle("GET /api/books/{id}", authMW(http.HandlerFunc(booksHandler.Get)))

	// Proposals.
	mux.Handle("POST /api/proposals", authMW(http.HandlerFunc(proposalsHandler.Create)))
	mux.Handle("GET /api/proposals", authMW(http.HandlerFunc(proposalsHandler.List)))
	mux.Handle("GET /api/proposals/stats", authMW(http.HandlerFunc(proposalsHandler.Stats)))
	mux.Handle("GET /api/proposals/{id}", authMW(http.HandlerFunc(proposalsHandler.Get)))
	mux.Handle("POST /api/proposals/{id}/accept", authMW(http.HandlerFunc(proposalsHandler.Accept)))
	mux.Handle("POST /api/proposals/{id}/reject", authMW(http.HandlerFunc(proposalsHandler.Reject)))
	mux.Handle("POST /api/proposals/{id}/cancel", authMW(http.HandlerFunc(proposalsHandler.Cancel)))
	mux.Handle("DELETE /api/proposals/{id}", authMW(http.HandlerFunc(proposalsHandler.Delete)))

	// Exchanges.
	mux.Handle("GET /api/exchanges", authMW(http.HandlerFunc(exchangesHandler.List)))
	mux.Handle("GET /api/exchanges/stats", authMW(requireAdmin(http.HandlerFunc(exchangesHandler.Stats))))
	mux.Handle("POST /api/exchanges/confirm", authMW(http.HandlerFunc(exchangesHandler.ConfirmByToken)))
	mux.Handle("GET /api/exchanges/{id}", authMW(http.HandlerFunc(exchangesHandler.Get)))
	mux.Handle("GET /api/exchanges/{id}/qr", authMW(http.HandlerFunc(exchangesHandler.QR)))
	mux.Handle("POST /api/exchanges/{id}/confirm", authMW(http.HandlerFunc(exchangesHandler.Confirm)))
	mux.Handle("POST /api/exchanges/{id}/complete", authMW(http.HandlerFunc(exchangesHandler.Complete)))
	mux.Handle("POST /api/exchanges/{id}/cancel", authMW(http.HandlerFunc(exchangesHandler.Cancel)))
	mux.Handle("DELETE /api/exchanges/{id}", authMW(requireAdmin(http.HandlerFunc(exchangesHandler.Delete))))

	// Notifications.
	mux.Handle("GET /api/notifications", authMW(http.HandlerFunc(notificationsHandler.List)))
	mux.Handle("GET /api/notifications/unread-count", authMW(http.HandlerFunc(notificationsHandler.UnreadCount)))
	mux.Handle("POST /api/notifications/read-all", authMW(http.HandlerFunc(notificationsHandler.MarkAllRead)))
	mux.Handle("POST /api/notifications/{id}/read", authMW(http.HandlerFunc(notificationsHandler.MarkRead)))
	mux.Handle("GET /api/notifications/ws", authMW(http.HandlerFunc(notificationsHandler.Stream)))

	return mux
}
