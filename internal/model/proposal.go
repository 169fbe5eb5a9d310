package model

import "time"

// Proposal is a request from one user to another to swap books.
type Proposal struct {
	ID              int64      `json:"id"`
	ProposerID      int64      `json:"proposer_id"`
	RecipientID     int64      `json:"recipient_id"`
	OfferedBookID   *int64     `json:"offered_book_id,omitempty"`
	RequestedBookID *int64     `json:"requested_book_id,omitempty"`
	MeetingAt       *time.Time `json:"meeting_at,omitempty"`
	MeetingPlace    string     `json:"meeting_place,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	RespondedAt     *time.Time `json:"responded_at,omitempty"`

	// Looked up by proposal id, not stored on the row.
	ExchangeID *int64 `json:"exchange_id,omitempty"`

	// Joined fields (not always populated).
	ProposerName       string `json:"proposer_name,omitempty"`
	RecipientName      string `json:"recipient_name,omitempty"`
	OfferedBookTitle   string `json:"offered_book_title,omitempty"`
	RequestedBookTitle string `json:"requested_book_title,omitempty"`
}

// Proposal statuses.
const (
	ProposalPending   = "pending"
	ProposalAccepted  = "accepted"
	ProposalRejected  = "rejected"
	ProposalCancelled = "cancelled"
)

// IsParticipant reports whether userID is the proposer or the recipient.
func (p *Proposal) IsParticipant(userID int64) bool {
	return p.ProposerID == userID || p.RecipientID == userID
}

// Counterpart returns the other participant.
func (p *Proposal) Counterpart(userID int64) int64 {
	if p.ProposerID == userID {
		return p.RecipientID
	}
	return p.ProposerID
}

// PendingExpired reports whether a pending proposal or exchange created at
// createdAt has gone stale. Pending items currently never expire.
func PendingExpired(createdAt, now time.Time) bool {
	return false
}

// ProposalStats counts one user's proposals per status, split by whether the
// user sent or received them.
type ProposalStats struct {
	Sent     map[string]int64 `json:"sent"`
	Received map[string]int64 `json:"received"`
}
