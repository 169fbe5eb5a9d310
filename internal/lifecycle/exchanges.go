package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/erazemk/bookswap/internal/imaging"
	"github.com/erazemk/bookswap/internal/model"
	"github.com/erazemk/bookswap/internal/store"
)

// GetExchange returns an exchange visible to the caller.
func (s *Service) GetExchange(ctx context.Context, c Caller, id int64) (*model.Exchange, error) {
	e, err := store.GetExchange(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("%w: exchange %d", store.ErrNotFound, id)
	}
	if !e.IsParticipant(c.UserID) && !c.IsAdmin() {
		return nil, fmt.Errorf("%w: not a participant of this exchange", store.ErrForbidden)
	}
	return e, nil
}

// ListExchanges returns the caller's exchanges.
func (s *Service) ListExchanges(ctx context.Context, c Caller, status string) ([]model.Exchange, error) {
	return store.ListExchanges(ctx, s.DB, c.UserID, status)
}

// ExchangeQR renders the token of a pending exchange as a PNG QR code.
func (s *Service) ExchangeQR(ctx context.Context, c Caller, id int64, size int) ([]byte, error) {
	e, err := store.GetExchange(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("%w: exchange %d", store.ErrNotFound, id)
	}
	if !e.IsParticipant(c.UserID) {
		return nil, fmt.Errorf("%w: not a participant of this exchange", store.ErrForbidden)
	}
	if e.Status != model.ExchangePending {
		return nil, fmt.Errorf("%w: exchange is %s, its QR code is spent", store.ErrInvalidTransition, e.Status)
	}
	return imaging.QRCode(e.QRToken, size)
}

// ConfirmExchange confirms the meeting for an exchange with the scanned token.
func (s *Service) ConfirmExchange(ctx context.Context, c Caller, id int64, token string) (*model.Exchange, error) {
	e, err := store.ConfirmExchange(ctx, s.DB, id, c.UserID, token)
	if err != nil {
		return nil, err
	}
	s.confirmed(ctx, c, e)
	return e, nil
}

// ConfirmExchangeByToken confirms whichever exchange the scanned token belongs to.
func (s *Service) ConfirmExchangeByToken(ctx context.Context, c Caller, token string) (*model.Exchange, error) {
	e, err := store.ConfirmExchangeByToken(ctx, s.DB, c.UserID, token)
	if err != nil {
		return nil, err
	}
	s.confirmed(ctx, c, e)
	return e, nil
}

func (s *Service) confirmed(ctx context.Context, c Caller, e *model.Exchange) {
	slog.Info("exchange confirmed", "exchange", e.ID, "user", c.UserID)
	for _, userID := range []int64{e.ProposerID, e.RecipientID} {
		s.notify(ctx, model.Notification{
			UserID:     userID,
			Kind:       model.NotifyExchangeConfirmed,
			Title:      "Exchange confirmed",
			Message:    "The meeting was confirmed. Rate the exchange once the books have changed hands.",
			ProposalID: ptr(e.ProposalID),
			ExchangeID: ptr(e.ID),
		})
	}
}

// CompleteExchange closes a confirmed exchange with a rating for both participants.
func (s *Service) CompleteExchange(ctx context.Context, c Caller, id int64, rating float64, comment string) (*model.Exchange, error) {
	e, err := store.CompleteExchange(ctx, s.DB, id, c.UserID, rating, comment)
	if err != nil {
		return nil, err
	}

	slog.Info("exchange completed", "exchange", e.ID, "user", c.UserID, "rating", rating)
	for _, userID := range []int64{e.ProposerID, e.RecipientID} {
		s.notify(ctx, model.Notification{
			UserID:     userID,
			Kind:       model.NotifyExchangeCompleted,
			Title:      "Exchange completed",
			Message:    "Your book exchange is complete.",
			ProposalID: ptr(e.ProposalID),
			ExchangeID: ptr(e.ID),
		})
		s.notify(ctx, model.Notification{
			UserID:     userID,
			Kind:       model.NotifyRatingReceived,
			Title:      "New rating",
			Message:    fmt.Sprintf("You received a rating of %.1f.", rating),
			ProposalID: ptr(e.ProposalID),
			ExchangeID: ptr(e.ID),
		})
	}
	return e, nil
}

// CancelExchange cancels a pending or confirmed exchange the caller takes part in.
func (s *Service) CancelExchange(ctx context.Context, c Caller, id int64) (*model.Exchange, error) {
	e, err := store.CancelExchange(ctx, s.DB, id, c.UserID)
	if err != nil {
		return nil, err
	}

	slog.Info("exchange cancelled", "exchange", e.ID, "user", c.UserID)
	s.notify(ctx, model.Notification{
		UserID:     e.Counterpart(c.UserID),
		Kind:       model.NotifyExchangeCancelled,
		Title:      "Exchange cancelled",
		Message:    "An exchange you were part of was cancelled.",
		ProposalID: ptr(e.ProposalID),
		ExchangeID: ptr(e.ID),
	})
	return e, nil
}

// DeleteExchange removes an exchange. Admin only.
func (s *Service) DeleteExchange(ctx context.Context, c Caller, id int64) error {
	if err := requireAdmin(c); err != nil {
		return err
	}
	if err := store.DeleteExchange(ctx, s.DB, id); err != nil {
		return err
	}
	slog.Info("exchange deleted", "exchange", id, "user", c.UserID)
	return nil
}

// ExchangeStats summarizes all exchanges. Admin only.
func (s *Service) ExchangeStats(ctx context.Context, c Caller) (*model.ExchangeStats, error) {
	if err := requireAdmin(c); err != nil {
		return nil, err
	}
	return store.GetExchangeStats(ctx, s.DB)
}
