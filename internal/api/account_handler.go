package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// OpenAccount открывает счёт с начальным балансом.
// POST /api/v1/accounts
func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req OpenAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	acc, err := h.transfers.OpenAccount(r.Context(), req.UserID, req.InitialBalance)
	if HandleError(w, h.logger, err) {
		return
	}

	Created(w, AccountFromDomain(acc))
}

// GetAccount возвращает счёт по ID.
// GET /api/v1/accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid account id")
		return
	}

	acc, err := h.transfers.GetAccount(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, AccountFromDomain(acc))
}
