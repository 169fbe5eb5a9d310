// Package lifecycle runs the proposal and exchange state machines on behalf of
// an authenticated caller and announces every committed transition.
package lifecycle

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/bookswap/internal/model"
	"github.com/erazemk/bookswap/internal/store"
)

// Notifier receives a notification after the transition that caused it has
// committed. Implementations must not block and must not fail the caller.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification)
}

// Caller identifies who is performing an operation.
type Caller struct {
	UserID int64
	Role   string
}

// IsAdmin reports whether the caller has the admin role.
func (c Caller) IsAdmin() bool {
	return model.RoleAtLeast(c.Role, model.RoleAdmin)
}

// Service exposes the exchange lifecycle.
type Service struct {
	DB       *sql.DB
	Notifier Notifier // optional
}

func (s *Service) notify(ctx context.Context, n model.Notification) {
	if s.Notifier != nil {
		s.Notifier.Notify(ctx, n)
	}
}

func requireAdmin(c Caller) error {
	if !c.IsAdmin() {
		return fmt.Errorf("%w: admin only", store.ErrForbidden)
	}
	return nil
}

func ptr(id int64) *int64 {
	return &id
}
