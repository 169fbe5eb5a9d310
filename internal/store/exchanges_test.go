package store

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/erazemk/bookswap/internal/model"
)

func TestExchangeRoundTrip(t *testing.T) {
	f := newFixture(t)
	_, e := f.accepted(t)

	if !strings.HasPrefix(e.QRToken, model.QRTokenPrefix) {
		t.Fatalf("expected token with %q prefix, got %q", model.QRTokenPrefix, e.QRToken)
	}

	confirmed, err := ConfirmExchange(f.ctx, f.db, e.ID, f.bob.ID, e.QRToken)
	if err != nil {
		t.Fatalf("ConfirmExchange: %v", err)
	}
	if confirmed.Status != model.ExchangeConfirmed {
		t.Errorf("expected confirmed, got %q", confirmed.Status)
	}
	if confirmed.ConfirmedAt == nil {
		t.Error("expected confirmed_at to be set")
	}

	completed, err := CompleteExchange(f.ctx, f.db, e.ID, f.alice.ID, 4.5, "smooth swap")
	if err != nil {
		t.Fatalf("CompleteExchange: %v", err)
	}
	if completed.Status != model.ExchangeCompleted {
		t.Errorf("expected completed, got %q", completed.Status)
	}
	if completed.Rating == nil || *completed.Rating != 4.5 {
		t.Errorf("expected rating 4.5, got %v", completed.Rating)
	}
	if completed.Comment != "smooth swap" {
		t.Errorf("expected comment, got %q", completed.Comment)
	}

	for _, id := range []int64{f.alice.ID, f.bob.ID} {
		u, _ := GetUser(f.ctx, f.db, id)
		if u.Rating == nil || *u.Rating != 4.5 {
			t.Errorf("user %d: expected rating 4.5, got %v", id, u.Rating)
		}
		if u.TotalExchanges != 1 {
			t.Errorf("user %d: expected 1 exchange, got %d", id, u.TotalExchanges)
		}
	}

	carol, _ := GetUser(f.ctx, f.db, f.carol.ID)
	if carol.Rating != nil {
		t.Error("expected outsider rating to stay unset")
	}
}

func TestConfirmExchange_WrongToken(t *testing.T) {
	f := newFixture(t)
	_, e := f.accepted(t)

	_, err := ConfirmExchange(f.ctx, f.db, e.ID, f.bob.ID, model.QRTokenPrefix+"not-the-token")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if strings.Contains(err.Error(), e.QRToken) {
		t.Error("error must not echo the stored token")
	}

	got, _ := GetExchange(f.ctx, f.db, e.ID)
	if got.Status != model.ExchangePending {
		t.Errorf("expected exchange to stay pending, got %q", got.Status)
	}
}

func TestConfirmExchange_Errors(t *testing.T) {
	f := newFixture(t)
	_, e := f.accepted(t)

	if _, err := ConfirmExchange(f.ctx, f.db, e.ID, f.carol.ID, e.QRToken); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for outsider, got %v", err)
	}
	if _, err := ConfirmExchange(f.ctx, f.db, 9999, f.bob.ID, e.QRToken); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if _, err := ConfirmExchange(f.ctx, f.db, e.ID, f.alice.ID, e.QRToken); err != nil {
		t.Fatalf("ConfirmExchange: %v", err)
	}
	// The token is spent once used.
	if _, err := ConfirmExchange(f.ctx, f.db, e.ID, f.bob.ID, e.QRToken); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition confirming twice, got %v", err)
	}
}

func TestConfirmExchangeByToken(t *testing.T) {
	f := newFixture(t)
	_, e := f.accepted(t)

	if _, err := ConfirmExchangeByToken(f.ctx, f.db, f.bob.ID, ""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for empty token, got %v", err)
	}
	if _, err := ConfirmExchangeByToken(f.ctx, f.db, f.bob.ID, model.QRTokenPrefix+"unknown"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for unknown token, got %v", err)
	}
	if _, err := ConfirmExchangeByToken(f.ctx, f.db, f.carol.ID, e.QRToken); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for outsider, got %v", err)
	}

	got, err := ConfirmExchangeByToken(f.ctx, f.db, f.bob.ID, e.QRToken)
	if err != nil {
		t.Fatalf("ConfirmExchangeByToken: %v", err)
	}
	if got.ID != e.ID || got.Status != model.ExchangeConfirmed {
		t.Errorf("expected exchange %d confirmed, got %d %q", e.ID, got.ID, got.Status)
	}
}

func TestConfirmExchange_Concurrent(t *testing.T) {
	f := newFixture(t)
	_, e := f.accepted(t)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := range attempts {
		actor := f.alice.ID
		if i%2 == 1 {
			actor = f.bob.ID
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ConfirmExchange(f.ctx, f.db, e.ID, actor, e.QRToken)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInvalidTransition):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("expected exactly 1 successful confirm, got %d", ok)
	}
}

func TestCreateExchange_Conflict(t *testing.T) {
	f := newFixture(t)
	p, _ := f.accepted(t)

	_, err := CreateExchange(f.ctx, f.db, p.ID)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	pending := f.propose(t)
	if _, err := CreateExchange(f.ctx, f.db, pending.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for a pending proposal, got %v", err)
	}
}

func TestExchangeTokensUnique(t *testing.T) {
	f := newFixture(t)

	seen := make(map[string]bool)
	for range 20 {
		_, e := f.accepted(t)
		if seen[e.QRToken] {
			t.Fatalf("duplicate token %q", e.QRToken)
		}
		seen[e.QRToken] = true
	}
}

func TestCompleteExchange_Errors(t *testing.T) {
	f := newFixture(t)
	_, e := f.accepted(t)

	if _, err := CompleteExchange(f.ctx, f.db, e.ID, f.alice.ID, 4, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition completing a pending exchange, got %v", err)
	}

	ConfirmExchange(f.ctx, f.db, e.ID, f.bob.ID, e.QRToken)

	for _, rating := range []float64{-0.1, 5.1} {
		if _, err := CompleteExchange(f.ctx, f.db, e.ID, f.alice.ID, rating, ""); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("rating %v: expected ErrInvalidArgument, got %v", rating, err)
		}
	}
	if _, err := CompleteExchange(f.ctx, f.db, e.ID, f.carol.ID, 3, ""); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for outsider, got %v", err)
	}

	got, _ := GetExchange(f.ctx, f.db, e.ID)
	if got.Status != model.ExchangeConfirmed {
		t.Errorf("expected exchange to stay confirmed, got %q", got.Status)
	}
	alice, _ := GetUser(f.ctx, f.db, f.alice.ID)
	if alice.Rating != nil || alice.TotalExchanges != 0 {
		t.Errorf("expected no rating change, got %v/%d", alice.Rating, alice.TotalExchanges)
	}

	// Boundary ratings are accepted.
	if _, err := CompleteExchange(f.ctx, f.db, e.ID, f.alice.ID, 0, ""); err != nil {
		t.Errorf("expected rating 0 to be accepted, got %v", err)
	}
	if _, err := CompleteExchange(f.ctx, f.db, e.ID, f.alice.ID, 5, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition completing twice, got %v", err)
	}
}

func TestCancelExchange(t *testing.T) {
	f := newFixture(t)

	t.Run("pending", func(t *testing.T) {
		_, e := f.accepted(t)
		got, err := CancelExchange(f.ctx, f.db, e.ID, f.alice.ID)
		if err != nil {
			t.Fatalf("CancelExchange: %v", err)
		}
		if got.Status != model.ExchangeCancelled {
			t.Errorf("expected cancelled, got %q", got.Status)
		}
		if _, err := CancelExchange(f.ctx, f.db, e.ID, f.alice.ID); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition cancelling twice, got %v", err)
		}
		if _, err := ConfirmExchange(f.ctx, f.db, e.ID, f.bob.ID, e.QRToken); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition confirming a cancelled exchange, got %v", err)
		}
	})

	t.Run("confirmed", func(t *testing.T) {
		_, e := f.accepted(t)
		ConfirmExchange(f.ctx, f.db, e.ID, f.bob.ID, e.QRToken)
		if _, err := CancelExchange(f.ctx, f.db, e.ID, f.bob.ID); err != nil {
			t.Errorf("expected cancel of confirmed exchange to succeed, got %v", err)
		}
	})

	t.Run("completed", func(t *testing.T) {
		_, e := f.accepted(t)
		ConfirmExchange(f.ctx, f.db, e.ID, f.bob.ID, e.QRToken)
		CompleteExchange(f.ctx, f.db, e.ID, f.bob.ID, 3, "")
		if _, err := CancelExchange(f.ctx, f.db, e.ID, f.alice.ID); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("outsider", func(t *testing.T) {
		_, e := f.accepted(t)
		if _, err := CancelExchange(f.ctx, f.db, e.ID, f.carol.ID); !errors.Is(err, ErrForbidden) {
			t.Errorf("expected ErrForbidden, got %v", err)
		}
	})
}

func TestDeleteExchange(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		advance func(e *model.Exchange)
		want    error
	}{
		{"pending", func(e *model.Exchange) {}, nil},
		{"cancelled", func(e *model.Exchange) {
			CancelExchange(f.ctx, f.db, e.ID, f.alice.ID)
		}, nil},
		{"confirmed", func(e *model.Exchange) {
			ConfirmExchange(f.ctx, f.db, e.ID, f.bob.ID, e.QRToken)
		}, ErrInvalidTransition},
		{"completed", func(e *model.Exchange) {
			ConfirmExchange(f.ctx, f.db, e.ID, f.bob.ID, e.QRToken)
			CompleteExchange(f.ctx, f.db, e.ID, f.bob.ID, 5, "")
		}, ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, e := f.accepted(t)
			tt.advance(e)

			err := DeleteExchange(f.ctx, f.db, e.ID)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("DeleteExchange: %v", err)
				}
				got, _ := GetExchange(f.ctx, f.db, e.ID)
				if got != nil {
					t.Error("expected exchange to be gone")
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if err := DeleteExchange(f.ctx, f.db, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListExchangesAndStats(t *testing.T) {
	f := newFixture(t)

	_, e1 := f.accepted(t)
	_, e2 := f.accepted(t)
	f.accepted(t)

	ConfirmExchange(f.ctx, f.db, e1.ID, f.bob.ID, e1.QRToken)
	CompleteExchange(f.ctx, f.db, e1.ID, f.bob.ID, 4, "")
	CancelExchange(f.ctx, f.db, e2.ID, f.alice.ID)

	all, err := ListExchanges(f.ctx, f.db, f.alice.ID, "")
	if err != nil {
		t.Fatalf("ListExchanges: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 exchanges, got %d", len(all))
	}

	pending, _ := ListExchanges(f.ctx, f.db, f.bob.ID, model.ExchangePending)
	if len(pending) != 1 {
		t.Errorf("expected 1 pending exchange, got %d", len(pending))
	}

	none, _ := ListExchanges(f.ctx, f.db, f.carol.ID, "")
	if len(none) != 0 {
		t.Errorf("expected no exchanges for carol, got %d", len(none))
	}

	stats, err := GetExchangeStats(f.ctx, f.db)
	if err != nil {
		t.Fatalf("GetExchangeStats: %v", err)
	}
	want := map[string]int64{
		model.ExchangePending:   1,
		model.ExchangeConfirmed: 0,
		model.ExchangeCompleted: 1,
		model.ExchangeCancelled: 1,
	}
	for status, n := range want {
		if stats.ByStatus[status] != n {
			t.Errorf("%s: expected %d, got %d", status, n, stats.ByStatus[status])
		}
	}
	if stats.AverageRating == nil || *stats.AverageRating != 4 {
		t.Errorf("expected average rating 4, got %v", stats.AverageRating)
	}
}

func TestExchangeLookups(t *testing.T) {
	f := newFixture(t)
	p, e := f.accepted(t)

	byProposal, err := getExchangeByProposal(f.ctx, f.db, p.ID)
	if err != nil || byProposal == nil || byProposal.ID != e.ID {
		t.Errorf("by proposal: got %+v, %v", byProposal, err)
	}
	byToken, err := getExchangeByToken(f.ctx, f.db, e.QRToken)
	if err != nil || byToken == nil || byToken.ID != e.ID {
		t.Errorf("by token: got %+v, %v", byToken, err)
	}

	pending := f.propose(t)
	if got, err := getExchangeByProposal(f.ctx, f.db, pending.ID); got != nil || err != nil {
		t.Errorf("expected no exchange for a pending proposal, got %+v, %v", got, err)
	}
	if got, err := getExchangeByToken(f.ctx, f.db, model.QRTokenPrefix+"unknown"); got != nil || err != nil {
		t.Errorf("expected no exchange for an unknown token, got %+v, %v", got, err)
	}
}
