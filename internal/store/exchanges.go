package store

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/bookswap/internal/model"
)

const exchangeSelect = `SELECT e.id, e.proposal_id, e.status, e.qr_token, e.confirmed_at, e.rating, e.comment,
        e.created_at, e.updated_at,
        p.proposer_id, p.recipient_id, p.meeting_at, p.meeting_place, p.notes
 FROM exchanges e
 JOIN proposals p ON p.id = e.proposal_id`

func scanExchange(s rowScanner, e *model.Exchange) error {
	var comment sql.NullString
	err := s.Scan(&e.ID, &e.ProposalID, &e.Status, &e.QRToken, &e.ConfirmedAt, &e.Rating, &comment,
		&e.CreatedAt, &e.UpdatedAt,
		&e.ProposerID, &e.RecipientID, &e.MeetingAt, &e.MeetingPlace, &e.Notes)
	if err != nil {
		return err
	}
	e.Comment = comment.String
	return nil
}

// NewQRToken mints an opaque, unguessable exchange token.
func NewQRToken() string {
	return model.QRTokenPrefix + uuid.New().String()
}

// createExchange inserts a pending exchange for an accepted proposal inside tx.
// The unique index on proposal_id turns a second creation into ErrConflict.
func createExchange(ctx context.Context, tx *sql.Tx, proposalID int64) (int64, error) {
	var status string
	err := tx.QueryRowContext(ctx,
		`SELECT status FROM proposals WHERE id = ?`, proposalID,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: proposal %d", ErrNotFound, proposalID)
	}
	if err != nil {
		return 0, fmt.Errorf("checking proposal: %w", err)
	}
	if status != model.ProposalAccepted {
		return 0, fmt.Errorf("%w: proposal is %s, not accepted", ErrInvalidTransition, status)
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO exchanges (proposal_id, qr_token, status) VALUES (?, ?, ?)`,
		proposalID, NewQRToken(), model.ExchangePending,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: proposal %d already has an exchange", ErrConflict, proposalID)
		}
		return 0, fmt.Errorf("creating exchange: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting exchange id: %w", err)
	}
	return id, nil
}

// CreateExchange creates the exchange for an accepted proposal. Acceptance
// already does this; calling it again for the same proposal fails with ErrConflict.
func CreateExchange(ctx context.Context, db *sql.DB, proposalID int64) (*model.Exchange, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := createExchange(ctx, tx, proposalID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing exchange: %w", err)
	}
	return GetExchange(ctx, db, id)
}

// GetExchange returns an exchange by ID.
func GetExchange(ctx context.Context, db *sql.DB, id int64) (*model.Exchange, error) {
	return getExchange(ctx, db, id)
}

func getExchange(ctx context.Context, q querier, id int64) (*model.Exchange, error) {
	return getExchangeWhere(ctx, q, `e.id = ?`, id)
}

// getExchangeByProposal returns the exchange linked to a proposal, if any.
func getExchangeByProposal(ctx context.Context, q querier, proposalID int64) (*model.Exchange, error) {
	return getExchangeWhere(ctx, q, `e.proposal_id = ?`, proposalID)
}

// getExchangeByToken returns the exchange that was issued the given QR token.
func getExchangeByToken(ctx context.Context, q querier, token string) (*model.Exchange, error) {
	return getExchangeWhere(ctx, q, `e.qr_token = ?`, token)
}

func getExchangeWhere(ctx context.Context, q querier, cond string, arg any) (*model.Exchange, error) {
	e := &model.Exchange{}
	err := scanExchange(q.QueryRowContext(ctx, exchangeSelect+` WHERE `+cond, arg), e)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting exchange: %w", err)
	}
	return e, nil
}

// ListExchanges returns exchanges the user takes part in, optionally filtered by status.
func ListExchanges(ctx context.Context, db *sql.DB, userID int64, status string) ([]model.Exchange, error) {
	query := exchangeSelect + ` WHERE (p.proposer_id = ? OR p.recipient_id = ?)`
	args := []any{userID, userID}
	if status != "" {
		query += ` AND e.status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY e.created_at DESC, e.id DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []model.Exchange
	for rows.Next() {
		var e model.Exchange
		if err := scanExchange(rows, &e); err != nil {
			return nil, fmt.Errorf("scanning exchange: %w", err)
		}
		exchanges = append(exchanges, e)
	}
	return exchanges, rows.Err()
}

// setExchangeStatus moves an exchange between statuses, failing if it is no
// longer in the expected one.
func setExchangeStatus(ctx context.Context, tx *sql.Tx, id int64, from, to string) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE exchanges SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, time.Now().UTC(), id, from,
	)
	if err != nil {
		return fmt.Errorf("updating exchange status: %w", err)
	}
	return expectOneRow(result, "exchange")
}

// loadExchangeForParticipant reads an exchange inside tx and checks the actor takes part in it.
func loadExchangeForParticipant(ctx context.Context, tx *sql.Tx, id, actorID int64) (*model.Exchange, error) {
	e, err := getExchange(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("%w: exchange %d", ErrNotFound, id)
	}
	if !e.IsParticipant(actorID) {
		return nil, fmt.Errorf("%w: not a participant of this exchange", ErrForbidden)
	}
	return e, nil
}

// confirmExchange checks state and token, then marks the exchange confirmed.
// The update repeats both checks so only one of two racing confirms can win.
func confirmExchange(ctx context.Context, tx *sql.Tx, e *model.Exchange, token string) error {
	if e.Status != model.ExchangePending {
		return fmt.Errorf("%w: exchange is %s, not pending", ErrInvalidTransition, e.Status)
	}
	if model.PendingExpired(e.CreatedAt, time.Now()) {
		return fmt.Errorf("%w: exchange has expired", ErrInvalidTransition)
	}
	if subtle.ConstantTimeCompare([]byte(e.QRToken), []byte(token)) != 1 {
		return fmt.Errorf("%w: invalid QR code", ErrUnauthorized)
	}

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`UPDATE exchanges SET status = ?, confirmed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND qr_token = ?`,
		model.ExchangeConfirmed, now, now, e.ID, model.ExchangePending, token,
	)
	if err != nil {
		return fmt.Errorf("confirming exchange: %w", err)
	}
	return expectOneRow(result, "exchange")
}

// ConfirmExchange confirms a pending exchange when the presented token matches
// the one issued for it.
func ConfirmExchange(ctx context.Context, db *sql.DB, id, actorID int64, token string) (*model.Exchange, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	e, err := loadExchangeForParticipant(ctx, tx, id, actorID)
	if err != nil {
		return nil, err
	}
	if err := confirmExchange(ctx, tx, e, token); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing confirmation: %w", err)
	}
	return GetExchange(ctx, db, id)
}

// ConfirmExchangeByToken confirms the exchange that a scanned token belongs to.
// An unknown token is reported the same way as a wrong one.
func ConfirmExchangeByToken(ctx context.Context, db *sql.DB, actorID int64, token string) (*model.Exchange, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: invalid QR code", ErrUnauthorized)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	e, err := getExchangeByToken(ctx, tx, token)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("%w: invalid QR code", ErrUnauthorized)
	}
	if !e.IsParticipant(actorID) {
		return nil, fmt.Errorf("%w: not a participant of this exchange", ErrForbidden)
	}
	if err := confirmExchange(ctx, tx, e, token); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing confirmation: %w", err)
	}
	return GetExchange(ctx, db, e.ID)
}

// CompleteExchange closes a confirmed exchange with a rating in [0, 5] and
// folds that rating into both participants in the same transaction.
func CompleteExchange(ctx context.Context, db *sql.DB, id, actorID int64, rating float64, comment string) (*model.Exchange, error) {
	if !model.ValidRating(rating) {
		return nil, fmt.Errorf("%w: rating must be between %.1f and %.1f", ErrInvalidArgument, model.MinRating, model.MaxRating)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	e, err := loadExchangeForParticipant(ctx, tx, id, actorID)
	if err != nil {
		return nil, err
	}
	if e.Status != model.ExchangeConfirmed {
		return nil, fmt.Errorf("%w: exchange is %s, not confirmed", ErrInvalidTransition, e.Status)
	}

	var commentArg any
	if comment != "" {
		commentArg = comment
	}
	result, err := tx.ExecContext(ctx,
		`UPDATE exchanges SET status = ?, rating = ?, comment = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		model.ExchangeCompleted, rating, commentArg, time.Now().UTC(), e.ID, model.ExchangeConfirmed,
	)
	if err != nil {
		return nil, fmt.Errorf("completing exchange: %w", err)
	}
	if err := expectOneRow(result, "exchange"); err != nil {
		return nil, err
	}

	for _, userID := range []int64{e.ProposerID, e.RecipientID} {
		if err := foldRating(ctx, tx, userID, rating); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing completion: %w", err)
	}
	return GetExchange(ctx, db, id)
}

// CancelExchange cancels a pending or confirmed exchange.
func CancelExchange(ctx context.Context, db *sql.DB, id, actorID int64) (*model.Exchange, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	e, err := loadExchangeForParticipant(ctx, tx, id, actorID)
	if err != nil {
		return nil, err
	}
	switch e.Status {
	case model.ExchangeCompleted:
		return nil, fmt.Errorf("%w: cannot cancel a completed exchange", ErrInvalidTransition)
	case model.ExchangeCancelled:
		return nil, fmt.Errorf("%w: exchange is already cancelled", ErrInvalidTransition)
	}

	if err := setExchangeStatus(ctx, tx, e.ID, e.Status, model.ExchangeCancelled); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing cancellation: %w", err)
	}
	return GetExchange(ctx, db, id)
}

// DeleteExchange removes a pending or cancelled exchange. Confirmed and
// completed exchanges are kept.
func DeleteExchange(ctx context.Context, db *sql.DB, id int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	e, err := getExchange(ctx, tx, id)
	if err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("%w: exchange %d", ErrNotFound, id)
	}
	if e.Status == model.ExchangeConfirmed || e.Status == model.ExchangeCompleted {
		return fmt.Errorf("%w: cannot delete a %s exchange", ErrInvalidTransition, e.Status)
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM exchanges WHERE id = ? AND status IN (?, ?)`,
		id, model.ExchangePending, model.ExchangeCancelled,
	)
	if err != nil {
		return fmt.Errorf("deleting exchange: %w", err)
	}
	if err := expectOneRow(result, "exchange"); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing deletion: %w", err)
	}
	return nil
}

// GetExchangeStats counts exchanges per status and averages completed ratings.
func GetExchangeStats(ctx context.Context, db *sql.DB) (*model.ExchangeStats, error) {
	stats := &model.ExchangeStats{ByStatus: map[string]int64{
		model.ExchangePending:   0,
		model.ExchangeConfirmed: 0,
		model.ExchangeCompleted: 0,
		model.ExchangeCancelled: 0,
	}}

	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM exchanges GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting exchanges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning exchange count: %w", err)
		}
		stats.ByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var avg sql.NullFloat64
	err = db.QueryRowContext(ctx,
		`SELECT AVG(rating) FROM exchanges WHERE status = ? AND rating IS NOT NULL`,
		model.ExchangeCompleted,
	).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("averaging ratings: %w", err)
	}
	if avg.Valid {
		stats.AverageRating = &avg.Float64
	}
	return stats, nil
}
