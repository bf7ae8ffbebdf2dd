package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Metrics(),
		Logging(h.logger),
	)

	// Transfers
	mux.Handle("POST /api/v1/transfers", chain(http.HandlerFunc(h.CreateTransfer)))
	mux.Handle("GET /api/v1/transfers", chain(http.HandlerFunc(h.ListTransfers)))
	mux.Handle("GET /api/v1/transfers/{id}", chain(http.HandlerFunc(h.GetTransfer)))

	// Sagas
	mux.Handle("GET /api/v1/sagas/{id}", chain(http.HandlerFunc(h.GetSaga)))
	mux.Handle("GET /api/v1/sagas/{id}/steps", chain(http.HandlerFunc(h.ListSagaSteps)))
	mux.Handle("GET /api/v1/sagas/{id}/transfer", chain(http.HandlerFunc(h.GetSagaTransfer)))
	mux.Handle("GET /api/v1/dead-letters", chain(http.HandlerFunc(h.ListDeadLetters)))

	// Accounts
	mux.Handle("POST /api/v1/accounts", chain(http.HandlerFunc(h.OpenAccount)))
	mux.Handle("GET /api/v1/accounts/{id}", chain(http.HandlerFunc(h.GetAccount)))
	mux.Handle("GET /api/v1/accounts/{id}/transfers", chain(http.HandlerFunc(h.ListAccountTransfers)))
}
