package notify

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/erazemk/bookswap/internal/model"
	"github.com/erazemk/bookswap/internal/store"
)

// DefaultTimeout bounds how long a single delivery may take.
const DefaultTimeout = 5 * time.Second

// Dispatcher delivers notifications in the background: it stores them in the
// recipient's inbox and pushes them to any live stream. Failures are logged and
// never reach the caller.
type Dispatcher struct {
	DB      *sql.DB
	Hub     *Hub // optional
	Timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Notify queues n for delivery and returns immediately. After Close it drops n.
func (d *Dispatcher) Notify(ctx context.Context, n model.Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		slog.Warn("dropping notification after shutdown", "user_id", n.UserID, "kind", n.Kind)
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(context.WithoutCancel(ctx), n)
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, n model.Notification) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stored, err := store.CreateNotification(ctx, d.DB, &n)
	if err != nil {
		slog.Error("failed to store notification", "user_id", n.UserID, "kind", n.Kind, "error", err)
		return
	}

	if d.Hub == nil {
		return
	}
	if err := d.Hub.Push(stored); err != nil {
		slog.Warn("failed to push notification", "user_id", n.UserID, "kind", n.Kind, "error", err)
	}
}

// Flush blocks until every queued notification has been delivered or dropped.
func (d *Dispatcher) Flush() {
	d.wg.Wait()
}

// Close stops accepting notifications and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}
