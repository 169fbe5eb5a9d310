package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/bookswap/internal/model"
)

// ProposalInput holds the fields a proposer supplies when creating a proposal.
type ProposalInput struct {
	ProposerID      int64
	RecipientID     int64
	OfferedBookID   *int64
	RequestedBookID *int64
	MeetingAt       *time.Time
	MeetingPlace    string
	Notes           string
}

// Proposal list filters by the caller's role in it.
const (
	RoleSent     = "sent"
	RoleReceived = "received"
)

const proposalSelect = `SELECT p.id, p.proposer_id, p.recipient_id, p.offered_book_id, p.requested_book_id,
        p.meeting_at, p.meeting_place, p.notes, p.status, p.created_at, p.responded_at,
        e.id, pu.username, ru.username, ob.title, rb.title
 FROM proposals p
 JOIN users pu ON pu.id = p.proposer_id
 JOIN users ru ON ru.id = p.recipient_id
 LEFT JOIN books ob ON ob.id = p.offered_book_id
 LEFT JOIN books rb ON rb.id = p.requested_book_id
 LEFT JOIN exchanges e ON e.proposal_id = p.id`

func scanProposal(s rowScanner, p *model.Proposal) error {
	var offeredTitle, requestedTitle sql.NullString
	err := s.Scan(&p.ID, &p.ProposerID, &p.RecipientID, &p.OfferedBookID, &p.RequestedBookID,
		&p.MeetingAt, &p.MeetingPlace, &p.Notes, &p.Status, &p.CreatedAt, &p.RespondedAt,
		&p.ExchangeID, &p.ProposerName, &p.RecipientName, &offeredTitle, &requestedTitle)
	if err != nil {
		return err
	}
	p.OfferedBookTitle = offeredTitle.String
	p.RequestedBookTitle = requestedTitle.String
	return nil
}

// CreateProposal creates a pending proposal after resolving both users and any books.
func CreateProposal(ctx context.Context, db *sql.DB, in ProposalInput) (*model.Proposal, error) {
	if in.ProposerID == in.RecipientID {
		return nil, fmt.Errorf("%w: cannot propose an exchange to yourself", ErrInvalidOperation)
	}
	// The driver only reads back times it wrote in UTC.
	if in.MeetingAt != nil {
		t := in.MeetingAt.UTC()
		in.MeetingAt = &t
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := requireActiveUser(ctx, tx, in.ProposerID, "proposer"); err != nil {
		return nil, err
	}
	if err := requireActiveUser(ctx, tx, in.RecipientID, "recipient"); err != nil {
		return nil, err
	}
	if in.OfferedBookID != nil {
		if err := requireBook(ctx, tx, *in.OfferedBookID, "offered"); err != nil {
			return nil, err
		}
	}
	if in.RequestedBookID != nil {
		if err := requireBook(ctx, tx, *in.RequestedBookID, "requested"); err != nil {
			return nil, err
		}
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO proposals (proposer_id, recipient_id, offered_book_id, requested_book_id,
		                        meeting_at, meeting_place, notes, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ProposerID, in.RecipientID, in.OfferedBookID, in.RequestedBookID,
		in.MeetingAt, in.MeetingPlace, in.Notes, model.ProposalPending,
	)
	if err != nil {
		return nil, fmt.Errorf("creating proposal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing proposal: %w", err)
	}

	id, _ := result.LastInsertId()
	return GetProposal(ctx, db, id)
}

// GetProposal returns a proposal by ID.
func GetProposal(ctx context.Context, db *sql.DB, id int64) (*model.Proposal, error) {
	return getProposal(ctx, db, id)
}

func getProposal(ctx context.Context, q querier, id int64) (*model.Proposal, error) {
	p := &model.Proposal{}
	err := scanProposal(q.QueryRowContext(ctx, proposalSelect+` WHERE p.id = ?`, id), p)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting proposal: %w", err)
	}
	return p, nil
}

// ListProposals returns proposals the user takes part in, optionally filtered
// by the user's role (RoleSent, RoleReceived) and by status.
func ListProposals(ctx context.Context, db *sql.DB, userID int64, role, status string) ([]model.Proposal, error) {
	query := proposalSelect
	var args []any

	switch role {
	case RoleSent:
		query += ` WHERE p.proposer_id = ?`
		args = append(args, userID)
	case RoleReceived:
		query += ` WHERE p.recipient_id = ?`
		args = append(args, userID)
	default:
		query += ` WHERE (p.proposer_id = ? OR p.recipient_id = ?)`
		args = append(args, userID, userID)
	}
	if status != "" {
		query += ` AND p.status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY p.created_at DESC, p.id DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing proposals: %w", err)
	}
	defer rows.Close()

	var proposals []model.Proposal
	for rows.Next() {
		var p model.Proposal
		if err := scanProposal(rows, &p); err != nil {
			return nil, fmt.Errorf("scanning proposal: %w", err)
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

// loadProposalForResponse reads a proposal inside tx and checks that the actor
// is its recipient and that it is still pending.
func loadProposalForResponse(ctx context.Context, tx *sql.Tx, id, actorID int64) (*model.Proposal, error) {
	p, err := getProposal(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: proposal %d", ErrNotFound, id)
	}
	if p.RecipientID != actorID {
		return nil, fmt.Errorf("%w: only the recipient can respond to a proposal", ErrForbidden)
	}
	if p.Status != model.ProposalPending {
		return nil, fmt.Errorf("%w: proposal is %s, not pending", ErrInvalidTransition, p.Status)
	}
	if model.PendingExpired(p.CreatedAt, time.Now()) {
		return nil, fmt.Errorf("%w: proposal has expired", ErrInvalidTransition)
	}
	return p, nil
}

// setProposalStatus moves a proposal from one status to another, failing if
// it is no longer in the expected status.
func setProposalStatus(ctx context.Context, tx *sql.Tx, id int64, from, to string, at time.Time) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE proposals SET status = ?, responded_at = ? WHERE id = ? AND status = ?`,
		to, at, id, from,
	)
	if err != nil {
		return fmt.Errorf("updating proposal status: %w", err)
	}
	return expectOneRow(result, "proposal")
}

// AcceptProposal accepts a pending proposal and creates its exchange in the
// same transaction. Either both happen or neither does.
func AcceptProposal(ctx context.Context, db *sql.DB, id, actorID int64) (*model.Proposal, *model.Exchange, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	p, err := loadProposalForResponse(ctx, tx, id, actorID)
	if err != nil {
		return nil, nil, err
	}

	if err := setProposalStatus(ctx, tx, p.ID, model.ProposalPending, model.ProposalAccepted, time.Now().UTC()); err != nil {
		return nil, nil, err
	}

	exchangeID, err := createExchange(ctx, tx, p.ID)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("committing acceptance: %w", err)
	}

	accepted, err := GetProposal(ctx, db, id)
	if err != nil {
		return nil, nil, err
	}
	exchange, err := GetExchange(ctx, db, exchangeID)
	if err != nil {
		return nil, nil, err
	}
	return accepted, exchange, nil
}

// RejectProposal rejects a pending proposal.
func RejectProposal(ctx context.Context, db *sql.DB, id, actorID int64) (*model.Proposal, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	p, err := loadProposalForResponse(ctx, tx, id, actorID)
	if err != nil {
		return nil, err
	}

	if err := setProposalStatus(ctx, tx, p.ID, model.ProposalPending, model.ProposalRejected, time.Now().UTC()); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing rejection: %w", err)
	}
	return GetProposal(ctx, db, id)
}

// CancelProposal cancels a proposal on behalf of either participant. Only an
// already cancelled proposal is refused. If the proposal was accepted, its
// exchange is cancelled with it unless the exchange has already completed.
func CancelProposal(ctx context.Context, db *sql.DB, id, actorID int64) (*model.Proposal, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	p, err := getProposal(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: proposal %d", ErrNotFound, id)
	}
	if !p.IsParticipant(actorID) {
		return nil, fmt.Errorf("%w: not a participant of this proposal", ErrForbidden)
	}
	if p.Status == model.ProposalCancelled {
		return nil, fmt.Errorf("%w: proposal is already cancelled", ErrInvalidOperation)
	}

	e, err := getExchangeByProposal(ctx, tx, p.ID)
	if err != nil {
		return nil, err
	}
	if e != nil {
		switch e.Status {
		case model.ExchangeCompleted:
			return nil, fmt.Errorf("%w: the exchange for this proposal is already completed", ErrInvalidOperation)
		case model.ExchangePending, model.ExchangeConfirmed:
			if err := setExchangeStatus(ctx, tx, e.ID, e.Status, model.ExchangeCancelled); err != nil {
				return nil, err
			}
		}
	}

	if err := setProposalStatus(ctx, tx, p.ID, p.Status, model.ProposalCancelled, time.Now().UTC()); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing cancellation: %w", err)
	}
	return GetProposal(ctx, db, id)
}

// DeleteProposal removes a proposal. The proposer or an admin may delete it,
// and only while no live exchange references it.
func DeleteProposal(ctx context.Context, db *sql.DB, id, actorID int64, admin bool) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	p, err := getProposal(ctx, tx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: proposal %d", ErrNotFound, id)
	}
	if !admin && p.ProposerID != actorID {
		return fmt.Errorf("%w: only the proposer can delete a proposal", ErrForbidden)
	}

	e, err := getExchangeByProposal(ctx, tx, p.ID)
	if err != nil {
		return err
	}
	if e != nil && e.Status != model.ExchangeCancelled {
		return fmt.Errorf("%w: proposal has a %s exchange", ErrInvalidOperation, e.Status)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM proposals WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting proposal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing deletion: %w", err)
	}
	return nil
}

// GetProposalStats counts the user's sent and received proposals per status.
// Every status is present, zero when the user has none in it.
func GetProposalStats(ctx context.Context, db *sql.DB, userID int64) (*model.ProposalStats, error) {
	stats := &model.ProposalStats{Sent: map[string]int64{}, Received: map[string]int64{}}
	for _, status := range []string{model.ProposalPending, model.ProposalAccepted, model.ProposalRejected, model.ProposalCancelled} {
		stats.Sent[status] = 0
		stats.Received[status] = 0
	}

	rows, err := db.QueryContext(ctx,
		`SELECT CASE WHEN proposer_id = ? THEN 'sent' ELSE 'received' END, status, COUNT(*)
		 FROM proposals
		 WHERE proposer_id = ? OR recipient_id = ?
		 GROUP BY 1, 2`,
		userID, userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("counting proposals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var role, status string
		var n int64
		if err := rows.Scan(&role, &status, &n); err != nil {
			return nil, fmt.Errorf("scanning proposal count: %w", err)
		}
		if role == RoleSent {
			stats.Sent[status] = n
		} else {
			stats.Received[status] = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}
