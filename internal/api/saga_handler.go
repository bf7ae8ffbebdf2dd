package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

// defaultListLimit — размер страницы по умолчанию.
const defaultListLimit = 50

// GetSaga возвращает сагу по ID.
// GET /api/v1/sagas/{id}
func (h *Handler) GetSaga(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid saga id")
		return
	}

	inst, err := h.sagas.GetSagaInstance(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, SagaFromDomain(inst))
}

// ListSagaSteps возвращает шаги саги по порядку.
// GET /api/v1/sagas/{id}/steps
func (h *Handler) ListSagaSteps(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid saga id")
		return
	}

	steps, err := h.sagas.ListSteps(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	result := make([]StepResponse, len(steps))
	for i, s := range steps {
		result[i] = StepFromDomain(s)
	}
	List(w, result, len(result))
}

// ListDeadLetters возвращает записи dead-letter, новые первыми.
// GET /api/v1/dead-letters?limit=...&offset=...
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", defaultListLimit)
	if !ok || limit <= 0 {
		BadRequest(w, "invalid limit")
		return
	}
	offset, ok := queryInt(r, "offset", 0)
	if !ok || offset < 0 {
		BadRequest(w, "invalid offset")
		return
	}

	records, err := h.sagas.ListDeadLetters(r.Context(), limit, offset)
	if HandleError(w, h.logger, err) {
		return
	}

	result := make([]DeadLetterResponse, len(records))
	for i, d := range records {
		result[i] = DeadLetterFromDomain(d)
	}
	List(w, result, len(result))
}

// queryInt читает целый query параметр; отсутствие параметра — def.
func queryInt(r *http.Request, name string, def int) (int, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, true
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}
