package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/bookswap/internal/auth"
	"github.com/erazemk/bookswap/internal/db"
	"github.com/erazemk/bookswap/internal/lifecycle"
	"github.com/erazemk/bookswap/internal/model"
	"github.com/erazemk/bookswap/internal/notify"
	"github.com/erazemk/bookswap/internal/store"
)

const testJWTSecret = "test-secret"

type testServer struct {
	*httptest.Server
	db         *sql.DB
	hub        *notify.Hub
	dispatcher *notify.Dispatcher
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	database := db.NewTestDB(t)
	hub := notify.NewHub()
	dispatcher := &notify.Dispatcher{DB: database, Hub: hub}
	svc := &lifecycle.Service{DB: database, Notifier: dispatcher}

	server := httptest.NewServer(LoggingMiddleware(NewRouter(database, testJWTSecret, svc, hub)))
	t.Cleanup(func() {
		dispatcher.Flush()
		hub.Close()
		server.Close()
	})

	return &testServer{Server: server, db: database, hub: hub, dispatcher: dispatcher}
}

// createUser adds a user with password "password" and logs them in.
func (s *testServer) createUser(t *testing.T, username, role string) (*model.User, string) {
	t.Helper()
	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	user, err := store.CreateUser(context.Background(), s.db, username, "", string(hash), role)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"username": username, "password": "password"})
	resp, err := http.Post(s.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed: %d", resp.StatusCode)
	}

	var loginResp map[string]string
	json.NewDecoder(resp.Body).Decode(&loginResp)
	token := loginResp["token"]
	if token == "" {
		t.Fatal("empty token from login")
	}
	return user, token
}

func authRequest(method, url, token string, body any) (*http.Request, error) {
	var bodyReader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(data)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do sends an authenticated request, checks the status and decodes the body into out.
func (s *testServer) do(t *testing.T, method, path, token string, body any, wantStatus int, out any) {
	t.Helper()
	req, _ := authRequest(method, s.URL+path, token, body)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		var e map[string]string
		json.NewDecoder(resp.Body).Decode(&e)
		t.Fatalf("%s %s: expected %d, got %d (%s)", method, path, wantStatus, resp.StatusCode, e["error"])
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decoding response: %v", method, path, err)
		}
	}
}

func TestLoginEndpoint(t *testing.T) {
	s := setupTestServer(t)
	s.createUser(t, "admin", model.RoleAdmin)

	// Test invalid credentials.
	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrong"})
	resp, _ := http.Post(s.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestLogoutRevokesToken(t *testing.T) {
	s := setupTestServer(t)
	user, token := s.createUser(t, "alice", model.RoleUser)

	path := fmt.Sprintf("/api/users/%d", user.ID)
	s.do(t, "GET", path, token, nil, http.StatusOK, nil)
	s.do(t, "POST", "/api/auth/logout", token, nil, http.StatusOK, nil)
	s.do(t, "GET", path, token, nil, http.StatusUnauthorized, nil)
}

func TestUnauthenticatedAccess(t *testing.T) {
	s := setupTestServer(t)

	for _, path := range []string{"/api/proposals", "/api/exchanges", "/api/notifications"} {
		resp, _ := http.Get(s.URL + path)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: expected 401 for unauthenticated request, got %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestRoleBasedAccess(t *testing.T) {
	s := setupTestServer(t)
	_, adminToken := s.createUser(t, "admin", model.RoleAdmin)
	_, userToken := s.createUser(t, "user1", model.RoleUser)

	// Regular user should not be able to create users.
	newUser := map[string]string{"username": "u2", "password": "longenough"}
	s.do(t, "POST", "/api/users", userToken, newUser, http.StatusForbidden, nil)
	s.do(t, "GET", "/api/exchanges/stats", userToken, nil, http.StatusForbidden, nil)

	var created model.User
	s.do(t, "POST", "/api/users", adminToken, newUser, http.StatusCreated, &created)
	if created.Role != model.RoleUser {
		t.Errorf("expected default role 'user', got %q", created.Role)
	}
	s.do(t, "POST", "/api/users", adminToken, newUser, http.StatusConflict, nil)
	s.do(t, "GET", "/api/exchanges/stats", adminToken, nil, http.StatusOK, nil)

	s.do(t, "GET", "/api/users", userToken, nil, http.StatusForbidden, nil)
	var users []model.User
	s.do(t, "GET", "/api/users", adminToken, nil, http.StatusOK, &users)
	if len(users) != 3 {
		t.Errorf("expected 3 users, got %d", len(users))
	}

	// Tokens for unknown roles confer nothing.
	odd, _ := auth.GenerateToken(testJWTSecret, 99, "odd", "superuser")
	s.do(t, "GET", "/api/exchanges/stats", odd, nil, http.StatusForbidden, nil)
}

func TestBooksAPIFlow(t *testing.T) {
	s := setupTestServer(t)
	alice, token := s.createUser(t, "alice", model.RoleUser)

	var book model.Book
	s.do(t, "POST", "/api/books", token, map[string]string{"title": "Dune", "author": "Frank Herbert"}, http.StatusCreated, &book)
	if book.OwnerID != alice.ID {
		t.Errorf("expected owner %d, got %d", alice.ID, book.OwnerID)
	}
	s.do(t, "POST", "/api/books", token, map[string]string{"author": "Nobody"}, http.StatusBadRequest, nil)

	var books []model.Book
	s.do(t, "GET", fmt.Sprintf("/api/books?owner=%d", alice.ID), token, nil, http.StatusOK, &books)
	if len(books) != 1 {
		t.Errorf("expected 1 book, got %d", len(books))
	}
	s.do(t, "GET", fmt.Sprintf("/api/books/%d", book.ID), token, nil, http.StatusOK, nil)
	s.do(t, "GET", "/api/books/999", token, nil, http.StatusNotFound, nil)
}

func TestExchangeAPIFlow(t *testing.T) {
	s := setupTestServer(t)
	alice, aliceToken := s.createUser(t, "alice", model.RoleUser)
	bob, bobToken := s.createUser(t, "bob", model.RoleUser)
	_, carolToken := s.createUser(t, "carol", model.RoleUser)

	var p model.Proposal
	s.do(t, "POST", "/api/proposals", aliceToken, map[string]any{
		"recipient_id":  bob.ID,
		"meeting_place": "Library",
		"meeting_at":    time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
	}, http.StatusCreated, &p)
	if p.MeetingAt == nil {
		t.Error("expected meeting time to round-trip")
	}

	// Only the recipient may accept.
	s.do(t, "POST", fmt.Sprintf("/api/proposals/%d/accept", p.ID), aliceToken, nil, http.StatusForbidden, nil)

	var accepted acceptResponse
	s.do(t, "POST", fmt.Sprintf("/api/proposals/%d/accept", p.ID), bobToken, nil, http.StatusOK, &accepted)
	ex := accepted.Exchange
	if ex == nil || !strings.HasPrefix(ex.QRToken, model.QRTokenPrefix) {
		t.Fatalf("expected a pending exchange with a token, got %+v", ex)
	}
	s.do(t, "POST", fmt.Sprintf("/api/proposals/%d/accept", p.ID), bobToken, nil, http.StatusConflict, nil)

	// QR code for the pending exchange.
	req, _ := authRequest("GET", fmt.Sprintf("%s/api/exchanges/%d/qr?size=128", s.URL, ex.ID), aliceToken, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("qr request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Errorf("expected PNG, got %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	confirmPath := fmt.Sprintf("/api/exchanges/%d/confirm", ex.ID)
	s.do(t, "POST", confirmPath, bobToken, map[string]string{"token": model.QRTokenPrefix + "wrong"}, http.StatusUnauthorized, nil)
	s.do(t, "POST", confirmPath, carolToken, map[string]string{"token": ex.QRToken}, http.StatusForbidden, nil)

	var confirmed model.Exchange
	s.do(t, "POST", confirmPath, bobToken, map[string]string{"token": ex.QRToken}, http.StatusOK, &confirmed)
	if confirmed.Status != model.ExchangeConfirmed {
		t.Errorf("expected confirmed, got %q", confirmed.Status)
	}
	if confirmed.QRToken != "" {
		t.Error("expected spent token to be hidden")
	}
	s.do(t, "GET", fmt.Sprintf("/api/exchanges/%d/qr", ex.ID), aliceToken, nil, http.StatusConflict, nil)

	completePath := fmt.Sprintf("/api/exchanges/%d/complete", ex.ID)
	s.do(t, "POST", completePath, aliceToken, map[string]any{"rating": 5.1}, http.StatusBadRequest, nil)
	s.do(t, "POST", completePath, aliceToken, map[string]any{}, http.StatusBadRequest, nil)
	s.do(t, "POST", completePath, aliceToken, map[string]any{"rating": 4.5, "comment": "great"}, http.StatusOK, nil)
	s.do(t, "POST", completePath, aliceToken, map[string]any{"rating": 4.5}, http.StatusConflict, nil)
	s.do(t, "POST", fmt.Sprintf("/api/exchanges/%d/cancel", ex.ID), bobToken, nil, http.StatusConflict, nil)

	for _, id := range []int64{alice.ID, bob.ID} {
		var u model.User
		s.do(t, "GET", fmt.Sprintf("/api/users/%d", id), carolToken, nil, http.StatusOK, &u)
		if u.Rating == nil || *u.Rating != 4.5 {
			t.Errorf("user %d: expected rating 4.5, got %v", id, u.Rating)
		}
		if u.TotalExchanges != 1 {
			t.Errorf("user %d: expected 1 exchange, got %d", id, u.TotalExchanges)
		}
	}

	var list []model.Exchange
	s.do(t, "GET", "/api/exchanges?status=completed", bobToken, nil, http.StatusOK, &list)
	if len(list) != 1 {
		t.Errorf("expected 1 completed exchange, got %d", len(list))
	}
}

func TestConfirmByTokenAPI(t *testing.T) {
	s := setupTestServer(t)
	_, aliceToken := s.createUser(t, "alice", model.RoleUser)
	bob, bobToken := s.createUser(t, "bob", model.RoleUser)

	var p model.Proposal
	s.do(t, "POST", "/api/proposals", aliceToken, map[string]any{"recipient_id": bob.ID}, http.StatusCreated, &p)
	var accepted acceptResponse
	s.do(t, "POST", fmt.Sprintf("/api/proposals/%d/accept", p.ID), bobToken, nil, http.StatusOK, &accepted)

	s.do(t, "POST", "/api/exchanges/confirm", aliceToken, map[string]string{"token": "EXCHANGE:unknown"}, http.StatusUnauthorized, nil)

	var confirmed model.Exchange
	s.do(t, "POST", "/api/exchanges/confirm", aliceToken, map[string]string{"token": accepted.Exchange.QRToken}, http.StatusOK, &confirmed)
	if confirmed.ID != accepted.Exchange.ID || confirmed.Status != model.ExchangeConfirmed {
		t.Errorf("unexpected exchange: %+v", confirmed)
	}
}

func TestProposalMeetingTimeWithOffset(t *testing.T) {
	s := setupTestServer(t)
	_, aliceToken := s.createUser(t, "alice", model.RoleUser)
	bob, bobToken := s.createUser(t, "bob", model.RoleUser)

	const meeting = "2026-11-01T10:00:00+02:00"
	want, _ := time.Parse(time.RFC3339, meeting)

	var p model.Proposal
	s.do(t, "POST", "/api/proposals", aliceToken, map[string]any{
		"recipient_id": bob.ID,
		"meeting_at":   meeting,
	}, http.StatusCreated, &p)
	if p.MeetingAt == nil || !p.MeetingAt.Equal(want) {
		t.Errorf("expected meeting at %v, got %v", want, p.MeetingAt)
	}

	var received []model.Proposal
	s.do(t, "GET", "/api/proposals?role=received", bobToken, nil, http.StatusOK, &received)
	if len(received) != 1 || received[0].MeetingAt == nil || !received[0].MeetingAt.Equal(want) {
		t.Errorf("unexpected proposals %+v", received)
	}

	var accepted acceptResponse
	s.do(t, "POST", fmt.Sprintf("/api/proposals/%d/accept", p.ID), bobToken, nil, http.StatusOK, &accepted)
	if accepted.Exchange.MeetingAt == nil || !accepted.Exchange.MeetingAt.Equal(want) {
		t.Errorf("expected exchange meeting at %v, got %v", want, accepted.Exchange.MeetingAt)
	}
}

func TestProposalErrorMapping(t *testing.T) {
	s := setupTestServer(t)
	alice, aliceToken := s.createUser(t, "alice", model.RoleUser)
	bob, bobToken := s.createUser(t, "bob", model.RoleUser)

	s.do(t, "POST", "/api/proposals", aliceToken, map[string]any{"recipient_id": alice.ID}, http.StatusUnprocessableEntity, nil)
	s.do(t, "POST", "/api/proposals", aliceToken, map[string]any{"recipient_id": 999}, http.StatusNotFound, nil)
	s.do(t, "POST", "/api/proposals/abc/accept", bobToken, nil, http.StatusBadRequest, nil)
	s.do(t, "POST", "/api/proposals/999/accept", bobToken, nil, http.StatusNotFound, nil)
	s.do(t, "GET", "/api/proposals?role=bogus", aliceToken, nil, http.StatusBadRequest, nil)

	var p model.Proposal
	s.do(t, "POST", "/api/proposals", aliceToken, map[string]any{"recipient_id": bob.ID}, http.StatusCreated, &p)
	path := fmt.Sprintf("/api/proposals/%d", p.ID)

	var stats model.ProposalStats
	s.do(t, "GET", "/api/proposals/stats", bobToken, nil, http.StatusOK, &stats)
	if stats.Received[model.ProposalPending] != 1 || stats.Sent[model.ProposalPending] != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}

	s.do(t, "POST", path+"/cancel", bobToken, nil, http.StatusOK, nil)
	s.do(t, "POST", path+"/cancel", bobToken, nil, http.StatusUnprocessableEntity, nil)
	s.do(t, "DELETE", path, bobToken, nil, http.StatusForbidden, nil)
	s.do(t, "DELETE", path, aliceToken, nil, http.StatusOK, nil)
	s.do(t, "GET", path, aliceToken, nil, http.StatusNotFound, nil)
}

func TestNotificationsInbox(t *testing.T) {
	s := setupTestServer(t)
	_, aliceToken := s.createUser(t, "alice", model.RoleUser)
	bob, bobToken := s.createUser(t, "bob", model.RoleUser)

	s.do(t, "POST", "/api/proposals", aliceToken, map[string]any{"recipient_id": bob.ID}, http.StatusCreated, nil)
	s.dispatcher.Flush()

	var count map[string]int64
	s.do(t, "GET", "/api/notifications/unread-count", bobToken, nil, http.StatusOK, &count)
	if count["count"] != 1 {
		t.Errorf("expected 1 unread notification, got %d", count["count"])
	}

	var inbox []model.Notification
	s.do(t, "GET", "/api/notifications?unread=true", bobToken, nil, http.StatusOK, &inbox)
	if len(inbox) != 1 || inbox[0].Kind != model.NotifyProposalReceived {
		t.Fatalf("unexpected inbox: %+v", inbox)
	}

	s.do(t, "POST", fmt.Sprintf("/api/notifications/%d/read", inbox[0].ID), aliceToken, nil, http.StatusNotFound, nil)
	s.do(t, "POST", fmt.Sprintf("/api/notifications/%d/read", inbox[0].ID), bobToken, nil, http.StatusOK, nil)
	s.do(t, "POST", "/api/notifications/read-all", bobToken, nil, http.StatusOK, nil)

	s.do(t, "GET", "/api/notifications/unread-count", bobToken, nil, http.StatusOK, &count)
	if count["count"] != 0 {
		t.Errorf("expected 0 unread notifications, got %d", count["count"])
	}
}

func TestNotificationStream(t *testing.T) {
	s := setupTestServer(t)
	_, aliceToken := s.createUser(t, "alice", model.RoleUser)
	bob, bobToken := s.createUser(t, "bob", model.RoleUser)

	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/api/notifications/ws?token=" + bobToken
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.hub.Sessions() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("stream never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.do(t, "POST", "/api/proposals", aliceToken, map[string]any{"recipient_id": bob.ID}, http.StatusCreated, nil)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	var n model.Notification
	if err := json.Unmarshal(data, &n); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if n.UserID != bob.ID || n.Kind != model.NotifyProposalReceived {
		t.Errorf("unexpected notification: %+v", n)
	}
}

func TestNotificationStreamRequiresToken(t *testing.T) {
	s := setupTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/api/notifications/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", resp)
	}
}
