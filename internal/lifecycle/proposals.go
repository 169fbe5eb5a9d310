package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/erazemk/bookswap/internal/model"
	"github.com/erazemk/bookswap/internal/store"
)

// CreateProposal creates a proposal from the caller to in.RecipientID.
func (s *Service) CreateProposal(ctx context.Context, c Caller, in store.ProposalInput) (*model.Proposal, error) {
	in.ProposerID = c.UserID
	p, err := store.CreateProposal(ctx, s.DB, in)
	if err != nil {
		return nil, err
	}

	slog.Info("proposal created", "proposal", p.ID, "proposer", p.ProposerID, "recipient", p.RecipientID)
	s.notify(ctx, model.Notification{
		UserID:     p.RecipientID,
		Kind:       model.NotifyProposalReceived,
		Title:      "New exchange proposal",
		Message:    fmt.Sprintf("%s wants to exchange books with you.", p.ProposerName),
		ProposalID: ptr(p.ID),
	})
	return p, nil
}

// GetProposal returns a proposal visible to the caller.
func (s *Service) GetProposal(ctx context.Context, c Caller, id int64) (*model.Proposal, error) {
	p, err := store.GetProposal(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: proposal %d", store.ErrNotFound, id)
	}
	if !p.IsParticipant(c.UserID) && !c.IsAdmin() {
		return nil, fmt.Errorf("%w: not a participant of this proposal", store.ErrForbidden)
	}
	return p, nil
}

// ListProposals returns the caller's proposals.
func (s *Service) ListProposals(ctx context.Context, c Caller, role, status string) ([]model.Proposal, error) {
	switch role {
	case "", store.RoleSent, store.RoleReceived:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", store.ErrInvalidArgument, role)
	}
	return store.ListProposals(ctx, s.DB, c.UserID, role, status)
}

// AcceptProposal accepts a proposal addressed to the caller and opens its exchange.
func (s *Service) AcceptProposal(ctx context.Context, c Caller, id int64) (*model.Proposal, *model.Exchange, error) {
	p, e, err := store.AcceptProposal(ctx, s.DB, id, c.UserID)
	if err != nil {
		return nil, nil, err
	}

	slog.Info("proposal accepted", "proposal", p.ID, "exchange", e.ID, "user", c.UserID)
	s.notify(ctx, model.Notification{
		UserID:     p.ProposerID,
		Kind:       model.NotifyProposalAccepted,
		Title:      "Proposal accepted",
		Message:    fmt.Sprintf("%s accepted your exchange proposal.", p.RecipientName),
		ProposalID: ptr(p.ID),
		ExchangeID: ptr(e.ID),
	})
	return p, e, nil
}

// RejectProposal rejects a proposal addressed to the caller.
func (s *Service) RejectProposal(ctx context.Context, c Caller, id int64) (*model.Proposal, error) {
	p, err := store.RejectProposal(ctx, s.DB, id, c.UserID)
	if err != nil {
		return nil, err
	}

	slog.Info("proposal rejected", "proposal", p.ID, "user", c.UserID)
	s.notify(ctx, model.Notification{
		UserID:     p.ProposerID,
		Kind:       model.NotifyProposalRejected,
		Title:      "Proposal rejected",
		Message:    fmt.Sprintf("%s declined your exchange proposal.", p.RecipientName),
		ProposalID: ptr(p.ID),
	})
	return p, nil
}

// CancelProposal cancels a proposal the caller takes part in.
func (s *Service) CancelProposal(ctx context.Context, c Caller, id int64) (*model.Proposal, error) {
	p, err := store.CancelProposal(ctx, s.DB, id, c.UserID)
	if err != nil {
		return nil, err
	}

	slog.Info("proposal cancelled", "proposal", p.ID, "user", c.UserID)
	s.notify(ctx, model.Notification{
		UserID:     p.Counterpart(c.UserID),
		Kind:       model.NotifyProposalCancelled,
		Title:      "Proposal cancelled",
		Message:    "An exchange proposal you were part of was cancelled.",
		ProposalID: ptr(p.ID),
		ExchangeID: p.ExchangeID,
	})
	return p, nil
}

// DeleteProposal deletes a proposal owned by the caller, or any proposal for an admin.
func (s *Service) DeleteProposal(ctx context.Context, c Caller, id int64) error {
	if err := store.DeleteProposal(ctx, s.DB, id, c.UserID, c.IsAdmin()); err != nil {
		return err
	}
	slog.Info("proposal deleted", "proposal", id, "user", c.UserID)
	return nil
}

// ProposalStats counts the caller's proposals by role and status.
func (s *Service) ProposalStats(ctx context.Context, c Caller) (*model.ProposalStats, error) {
	return store.GetProposalStats(ctx, s.DB, c.UserID)
}
