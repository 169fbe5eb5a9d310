package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/bookswap/internal/model"
)

// FoldRating merges one completed exchange's rating into a user's running
// average and counts the exchange towards their total.
func FoldRating(ctx context.Context, db *sql.DB, userID int64, rating float64) (*model.User, error) {
	if !model.ValidRating(rating) {
		return nil, fmt.Errorf("%w: rating must be between %.1f and %.1f", ErrInvalidArgument, model.MinRating, model.MaxRating)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := foldRating(ctx, tx, userID, rating); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing rating: %w", err)
	}
	return GetUser(ctx, db, userID)
}

func foldRating(ctx context.Context, tx *sql.Tx, userID int64, rating float64) error {
	var current sql.NullFloat64
	err := tx.QueryRowContext(ctx,
		`SELECT rating FROM users WHERE id = ?`, userID,
	).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: user %d", ErrNotFound, userID)
	}
	if err != nil {
		return fmt.Errorf("reading rating: %w", err)
	}

	var prev *float64
	if current.Valid {
		prev = &current.Float64
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET rating = ?, total_exchanges = total_exchanges + 1 WHERE id = ?`,
		model.FoldRating(prev, rating), userID,
	)
	if err != nil {
		return fmt.Errorf("updating rating: %w", err)
	}
	return nil
}
