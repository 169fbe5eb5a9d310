package model

import "time"

// Notification is an inbox entry delivered to one user.
type Notification struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	Kind       string    `json:"kind"`
	Title      string    `json:"title"`
	Message    string    `json:"message,omitempty"`
	ProposalID *int64    `json:"proposal_id,omitempty"`
	ExchangeID *int64    `json:"exchange_id,omitempty"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"created_at"`
}

// Notification kinds.
const (
	NotifyProposalReceived  = "proposal_received"
	NotifyProposalAccepted  = "proposal_accepted"
	NotifyProposalRejected  = "proposal_rejected"
	NotifyProposalCancelled = "proposal_cancelled"
	NotifyExchangeConfirmed = "exchange_confirmed"
	NotifyExchangeCompleted = "exchange_completed"
	NotifyExchangeCancelled = "exchange_cancelled"
	NotifyRatingReceived    = "rating_received"
)
