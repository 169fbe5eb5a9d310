package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/bookswap/internal/model"
)

const notificationColumns = `id, user_id, kind, title, message, proposal_id, exchange_id, read, created_at`

func scanNotification(s rowScanner, n *model.Notification) error {
	return s.Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Message,
		&n.ProposalID, &n.ExchangeID, &n.Read, &n.CreatedAt)
}

// CreateNotification stores a notification in the user's inbox.
func CreateNotification(ctx context.Context, db *sql.DB, n *model.Notification) (*model.Notification, error) {
	result, err := db.ExecContext(ctx,
		`INSERT INTO notifications (user_id, kind, title, message, proposal_id, exchange_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		n.UserID, n.Kind, n.Title, n.Message, n.ProposalID, n.ExchangeID,
	)
	if err != nil {
		return nil, fmt.Errorf("creating notification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting notification id: %w", err)
	}

	stored := &model.Notification{}
	err = scanNotification(db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id,
	), stored)
	if err != nil {
		return nil, fmt.Errorf("reading notification: %w", err)
	}
	return stored, nil
}

// ListNotifications returns a user's notifications, newest first.
func ListNotifications(ctx context.Context, db *sql.DB, userID int64, unreadOnly bool) ([]model.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = ?`
	if unreadOnly {
		query += ` AND read = 0`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := scanNotification(rows, &n); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// CountUnreadNotifications returns how many unread notifications a user has.
func CountUnreadNotifications(ctx context.Context, db *sql.DB, userID int64) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND read = 0`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread notifications: %w", err)
	}
	return count, nil
}

// MarkNotificationRead marks one of the user's notifications as read.
func MarkNotificationRead(ctx context.Context, db *sql.DB, id, userID int64) error {
	result, err := db.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?`, id, userID,
	)
	if err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: notification %d", ErrNotFound, id)
	}
	return nil
}

// MarkAllNotificationsRead marks every unread notification of the user as read
// and returns how many changed.
func MarkAllNotificationsRead(ctx context.Context, db *sql.DB, userID int64) (int64, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE user_id = ? AND read = 0`, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("marking notifications read: %w", err)
	}
	return result.RowsAffected()
}
