package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/shaiso/Wallet/internal/domain"
	"github.com/shaiso/Wallet/internal/repo"
	"github.com/shaiso/Wallet/internal/transfer"
)

// IdempotencyKeyHeader — заголовок с ключом идемпотентности клиента.
// Имеет приоритет над полем idempotency_key в теле.
const IdempotencyKeyHeader = "Idempotency-Key"

// CreateTransfer проводит перевод через сагу.
// POST /api/v1/transfers
//
// 201 — сага завершилась (перевод SUCCESS или FAILED).
// 202 — перевод создан, но сагу не удалось довести; её завершит recovery.
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req CreateTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	key := req.IdempotencyKey
	if v := r.Header.Get(IdempotencyKeyHeader); v != "" {
		key = v
	}

	t, err := h.transfers.InitiateTransfer(r.Context(), transfer.Request{
		SourceAccountID:      req.SourceAccountID,
		DestinationAccountID: req.DestinationAccountID,
		Amount:               req.Amount,
		Description:          req.Description,
		IdempotencyKey:       key,
	})
	if err != nil && t != nil {
		h.logger.Warn("transfer left for recovery",
			"transfer_id", t.ID,
			"saga_id", t.SagaInstanceID,
			"error", err,
		)
		Accepted(w, TransferFromDomain(t))
		return
	}
	if HandleError(w, h.logger, err) {
		return
	}

	Created(w, TransferFromDomain(t))
}

// GetTransfer возвращает перевод по ID.
// GET /api/v1/transfers/{id}
func (h *Handler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid transfer id")
		return
	}

	t, err := h.transfers.GetTransfer(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, TransferFromDomain(t))
}

// ListTransfers возвращает переводы по фильтру, новые первыми.
// GET /api/v1/transfers?account_id=...&source_account_id=...&destination_account_id=...&saga_id=...&status=...&limit=...&offset=...
func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	filter, ok := transferFilter(w, r)
	if !ok {
		return
	}
	h.listTransfers(w, r, filter)
}

// ListAccountTransfers возвращает входящие и исходящие переводы счёта.
// GET /api/v1/accounts/{id}/transfers?status=...&limit=...&offset=...
func (h *Handler) ListAccountTransfers(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid account id")
		return
	}

	filter, ok := transferFilter(w, r)
	if !ok {
		return
	}
	filter.AccountID = id
	h.listTransfers(w, r, filter)
}

// GetSagaTransfer возвращает перевод, который исполняет сага.
// GET /api/v1/sagas/{id}/transfer
func (h *Handler) GetSagaTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid saga id")
		return
	}

	t, err := h.transfers.GetTransferBySaga(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, TransferFromDomain(t))
}

func (h *Handler) listTransfers(w http.ResponseWriter, r *http.Request, filter repo.TransferFilter) {
	transfers, err := h.transfers.ListTransfers(r.Context(), filter)
	if HandleError(w, h.logger, err) {
		return
	}

	result := make([]TransferResponse, len(transfers))
	for i := range transfers {
		result[i] = TransferFromDomain(&transfers[i])
	}
	List(w, result, len(result))
}

// transferFilter разбирает query параметры списка переводов.
// При ошибке отвечает 400 и возвращает false.
func transferFilter(w http.ResponseWriter, r *http.Request) (repo.TransferFilter, bool) {
	var filter repo.TransferFilter

	ids := []struct {
		param string
		dst   *uuid.UUID
	}{
		{"account_id", &filter.AccountID},
		{"source_account_id", &filter.SourceID},
		{"destination_account_id", &filter.DestinationID},
		{"saga_id", &filter.SagaID},
	}
	for _, p := range ids {
		v := r.URL.Query().Get(p.param)
		if v == "" {
			continue
		}
		id, err := uuid.Parse(v)
		if err != nil {
			BadRequest(w, "invalid "+p.param)
			return filter, false
		}
		*p.dst = id
	}

	if v := r.URL.Query().Get("status"); v != "" {
		st, ok := domain.ParseTransferStatus(v)
		if !ok {
			BadRequest(w, "invalid status")
			return filter, false
		}
		filter.Status = st
	}

	limit, ok := queryInt(r, "limit", defaultListLimit)
	if !ok || limit <= 0 {
		BadRequest(w, "invalid limit")
		return filter, false
	}
	offset, ok := queryInt(r, "offset", 0)
	if !ok || offset < 0 {
		BadRequest(w, "invalid offset")
		return filter, false
	}
	filter.Limit, filter.Offset = limit, offset
	return filter, true
}
