package model

import (
	"math"
	"time"
)

// Exchange is the in-person handoff created when a proposal is accepted.
type Exchange struct {
	ID          int64      `json:"id"`
	ProposalID  int64      `json:"proposal_id"`
	Status      string     `json:"status"`
	QRToken     string     `json:"qr_token,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	Rating      *float64   `json:"rating,omitempty"`
	Comment     string     `json:"comment,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// Read through the owning proposal.
	ProposerID   int64      `json:"proposer_id"`
	RecipientID  int64      `json:"recipient_id"`
	MeetingAt    *time.Time `json:"meeting_at,omitempty"`
	MeetingPlace string     `json:"meeting_place,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

// Exchange statuses.
const (
	ExchangePending   = "pending"
	ExchangeConfirmed = "confirmed"
	ExchangeCompleted = "completed"
	ExchangeCancelled = "cancelled"
)

// QRTokenPrefix tags every exchange token so a scanned code is recognizable.
const QRTokenPrefix = "EXCHANGE:"

// Rating bounds, inclusive.
const (
	MinRating = 0.0
	MaxRating = 5.0
)

// IsParticipant reports whether userID is one of the two parties.
func (e *Exchange) IsParticipant(userID int64) bool {
	return e.ProposerID == userID || e.RecipientID == userID
}

// Counterpart returns the other participant.
func (e *Exchange) Counterpart(userID int64) int64 {
	if e.ProposerID == userID {
		return e.RecipientID
	}
	return e.ProposerID
}

// Redacted returns a copy safe to show to callers: the token is only
// meaningful while the exchange is pending.
func (e *Exchange) Redacted() *Exchange {
	c := *e
	if c.Status != ExchangePending {
		c.QRToken = ""
	}
	return &c
}

// ValidRating reports whether r lies in [MinRating, MaxRating].
func ValidRating(r float64) bool {
	return !math.IsNaN(r) && r >= MinRating && r <= MaxRating
}

// FoldRating merges a new rating into a running average. An unset or zero
// average is replaced; otherwise the result is the midpoint of the two. This
// weights recent exchanges heavily and is not a mean over the full history.
func FoldRating(current *float64, rating float64) float64 {
	if current == nil || *current == 0 {
		return rating
	}
	return (*current + rating) / 2
}

// ExchangeStats summarizes exchanges across the marketplace.
type ExchangeStats struct {
	ByStatus      map[string]int64 `json:"by_status"`
	AverageRating *float64         `json:"average_rating,omitempty"`
}
