package api

import (
	"net/http"
	"strconv"

	"github.com/erazemk/bookswap/internal/lifecycle"
	"github.com/erazemk/bookswap/internal/model"
)

// ExchangesHandler handles exchange endpoints.
type ExchangesHandler struct {
	Service *lifecycle.Service
}

type confirmRequest struct {
	Token string `json:"token"`
}

type completeRequest struct {
	Rating  *float64 `json:"rating"`
	Comment string   `json:"comment"`
}

// List handles GET /api/exchanges?status=.
func (h *ExchangesHandler) List(w http.ResponseWriter, r *http.Request) {
	exchanges, err := h.Service.ListExchanges(r.Context(), caller(r), r.URL.Query().Get("status"))
	if err != nil {
		storeError(w, err, "list exchanges")
		return
	}
	out := make([]*model.Exchange, 0, len(exchanges))
	for i := range exchanges {
		out = append(out, exchanges[i].Redacted())
	}
	jsonResponse(w, http.StatusOK, out)
}

// Stats handles GET /api/exchanges/stats.
func (h *ExchangesHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Service.ExchangeStats(r.Context(), caller(r))
	if err != nil {
		storeError(w, err, "get exchange stats")
		return
	}
	jsonResponse(w, http.StatusOK, stats)
}

// Get handles GET /api/exchanges/{id}.
func (h *ExchangesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "exchange")
	if !ok {
		return
	}
	e, err := h.Service.GetExchange(r.Context(), caller(r), id)
	if err != nil {
		storeError(w, err, "get exchange")
		return
	}
	if !e.IsParticipant(caller(r).UserID) {
		// Admins see the exchange but never its token.
		e.QRToken = ""
	}
	jsonResponse(w, http.StatusOK, e.Redacted())
}

// QR handles GET /api/exchanges/{id}/qr?size=.
func (h *ExchangesHandler) QR(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "exchange")
	if !ok {
		return
	}

	var size int
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid size")
			return
		}
		size = n
	}

	data, err := h.Service.ExchangeQR(r.Context(), caller(r), id, size)
	if err != nil {
		storeError(w, err, "render QR code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

// ConfirmByToken handles POST /api/exchanges/confirm.
func (h *ExchangesHandler) ConfirmByToken(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	e, err := h.Service.ConfirmExchangeByToken(r.Context(), caller(r), req.Token)
	if err != nil {
		storeError(w, err, "confirm exchange")
		return
	}
	jsonResponse(w, http.StatusOK, e.Redacted())
}

// Confirm handles POST /api/exchanges/{id}/confirm.
func (h *ExchangesHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "exchange")
	if !ok {
		return
	}
	var req confirmRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	e, err := h.Service.ConfirmExchange(r.Context(), caller(r), id, req.Token)
	if err != nil {
		storeError(w, err, "confirm exchange")
		return
	}
	jsonResponse(w, http.StatusOK, e.Redacted())
}

// Complete handles POST /api/exchanges/{id}/complete.
func (h *ExchangesHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "exchange")
	if !ok {
		return
	}
	var req completeRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Rating == nil {
		jsonError(w, http.StatusBadRequest, "rating required")
		return
	}
	e, err := h.Service.CompleteExchange(r.Context(), caller(r), id, *req.Rating, req.Comment)
	if err != nil {
		storeError(w, err, "complete exchange")
		return
	}
	jsonResponse(w, http.StatusOK, e.Redacted())
}

// Cancel handles POST /api/exchanges/{id}/cancel.
func (h *ExchangesHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "exchange")
	if !ok {
		return
	}
	e, err := h.Service.CancelExchange(r.Context(), caller(r), id)
	if err != nil {
		storeError(w, err, "cancel exchange")
		return
	}
	jsonResponse(w, http.StatusOK, e.Redacted())
}

// Delete handles DELETE /api/exchanges/{id}.
func (h *ExchangesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "exchange")
	if !ok {
		return
	}
	if err := h.Service.DeleteExchange(r.Context(), caller(r), id); err != nil {
		storeError(w, err, "delete exchange")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "exchange deleted"})
}
