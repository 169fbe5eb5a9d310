package api

import (
	"net/http"
	"time"

	"github.com/erazemk/bookswap/internal/lifecycle"
	"github.com/erazemk/bookswap/internal/model"
	"github.com/erazemk/bookswap/internal/store"
)

// ProposalsHandler handles proposal endpoints.
type ProposalsHandler struct {
	Service *lifecycle.Service
}

type createProposalRequest struct {
	RecipientID     int64      `json:"recipient_id"`
	OfferedBookID   *int64     `json:"offered_book_id"`
	RequestedBookID *int64     `json:"requested_book_id"`
	MeetingAt       *time.Time `json:"meeting_at"`
	MeetingPlace    string     `json:"meeting_place"`
	Notes           string     `json:"notes"`
}

type acceptResponse struct {
	Proposal *model.Proposal `json:"proposal"`
	Exchange *model.Exchange `json:"exchange"`
}

// Create handles POST /api/proposals.
func (h *ProposalsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createProposalRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RecipientID == 0 {
		jsonError(w, http.StatusBadRequest, "recipient_id required")
		return
	}

	p, err := h.Service.CreateProposal(r.Context(), caller(r), store.ProposalInput{
		RecipientID:     req.RecipientID,
		OfferedBookID:   req.OfferedBookID,
		RequestedBookID: req.RequestedBookID,
		MeetingAt:       req.MeetingAt,
		MeetingPlace:    req.MeetingPlace,
		Notes:           req.Notes,
	})
	if err != nil {
		storeError(w, err, "create proposal")
		return
	}
	jsonResponse(w, http.StatusCreated, p)
}

// List handles GET /api/proposals?role=sent|received&status=.
func (h *ProposalsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	proposals, err := h.Service.ListProposals(r.Context(), caller(r), q.Get("role"), q.Get("status"))
	if err != nil {
		storeError(w, err, "list proposals")
		return
	}
	if proposals == nil {
		proposals = []model.Proposal{}
	}
	jsonResponse(w, http.StatusOK, proposals)
}

// Stats handles GET /api/proposals/stats.
func (h *ProposalsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Service.ProposalStats(r.Context(), caller(r))
	if err != nil {
		storeError(w, err, "get proposal stats")
		return
	}
	jsonResponse(w, http.StatusOK, stats)
}

// Get handles GET /api/proposals/{id}.
func (h *ProposalsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "proposal")
	if !ok {
		return
	}
	p, err := h.Service.GetProposal(r.Context(), caller(r), id)
	if err != nil {
		storeError(w, err, "get proposal")
		return
	}
	jsonResponse(w, http.StatusOK, p)
}

// Accept handles POST /api/proposals/{id}/accept.
func (h *ProposalsHandler) Accept(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "proposal")
	if !ok {
		return
	}
	p, e, err := h.Service.AcceptProposal(r.Context(), caller(r), id)
	if err != nil {
		storeError(w, err, "accept proposal")
		return
	}
	jsonResponse(w, http.StatusOK, acceptResponse{Proposal: p, Exchange: e.Redacted()})
}

// Reject handles POST /api/proposals/{id}/reject.
func (h *ProposalsHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "proposal")
	if !ok {
		return
	}
	p, err := h.Service.RejectProposal(r.Context(), caller(r), id)
	if err != nil {
		storeError(w, err, "reject proposal")
		return
	}
	jsonResponse(w, http.StatusOK, p)
}

// Cancel handles POST /api/proposals/{id}/cancel.
func (h *ProposalsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "proposal")
	if !ok {
		return
	}
	p, err := h.Service.CancelProposal(r.Context(), caller(r), id)
	if err != nil {
		storeError(w, err, "cancel proposal")
		return
	}
	jsonResponse(w, http.StatusOK, p)
}

// Delete handles DELETE /api/proposals/{id}.
func (h *ProposalsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "proposal")
	if !ok {
		return
	}
	if err := h.Service.DeleteProposal(r.Context(), caller(r), id); err != nil {
		storeError(w, err, "delete proposal")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "proposal deleted"})
}
