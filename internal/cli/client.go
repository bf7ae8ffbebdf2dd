package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// TransferResponse — перевод из API.
type TransferResponse struct {
	ID                   string `json:"id"`
	SourceAccountID      string `json:"source_account_id"`
	DestinationAccountID string `json:"destination_account_id"`
	Amount               string `json:"amount"`
	Description          string `json:"description,omitempty"`
	Type                 string `json:"type"`
	Status               string `json:"status"`
	SagaID               string `json:"saga_id"`
	IdempotencyKey       string `json:"idempotency_key,omitempty"`
	CreatedAt            string `json:"created_at"`
	UpdatedAt            string `json:"updated_at"`
}

// SagaResponse — сага из API.
type SagaResponse struct {
	ID             string          `json:"id"`
	SagaType       string          `json:"saga_type"`
	Status         string          `json:"status"`
	CurrentStep    string          `json:"current_step,omitempty"`
	ErrorDetails   string          `json:"error_details,omitempty"`
	Context        json.RawMessage `json:"context,omitempty"`
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	TimeoutMinutes int             `json:"timeout_minutes"`
	ExpiryTime     string          `json:"expiry_time,omitempty"`
	CompletedAt    string          `json:"completed_at,omitempty"`
	CompensatedAt  string          `json:"compensated_at,omitempty"`
	Version        int64           `json:"version"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

// StepResponse — шаг саги из API.
type StepResponse struct {
	ID                 string `json:"id"`
	StepName           string `json:"step_name"`
	StepOrder          int    `json:"step_order"`
	Status             string `json:"status"`
	CompensationAction string `json:"compensation_action,omitempty"`
	RetryCount         int    `json:"retry_count"`
	MaxRetries         int    `json:"max_retries"`
	ErrorMessage       string `json:"error_message,omitempty"`
	StartedAt          string `json:"started_at,omitempty"`
	CompletedAt        string `json:"completed_at,omitempty"`
	CreatedAt          string `json:"created_at"`
}

// DeadLetterResponse — запись dead-letter из API.
type DeadLetterResponse struct {
	ID           string `json:"id"`
	SagaID       string `json:"saga_id"`
	SagaType     string `json:"saga_type"`
	LastStatus   string `json:"last_status"`
	ErrorDetails string `json:"error_details,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// AccountResponse — счёт из API.
type AccountResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// --- Request types ---

// CreateTransferRequest — создание перевода.
// IdempotencyKey уходит в заголовок Idempotency-Key.
type CreateTransferRequest struct {
	SourceAccountID      string `json:"source_account_id"`
	DestinationAccountID string `json:"destination_account_id"`
	Amount               string `json:"amount"`
	Description          string `json:"description,omitempty"`
	IdempotencyKey       string `json:"-"`
}

// OpenAccountRequest — открытие счёта.
type OpenAccountRequest struct {
	UserID         string `json:"user_id"`
	InitialBalance string `json:"initial_balance"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Wallet API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Transfers ---

// CreateTransfer проводит перевод. Accepted=true, если сагу доведёт recovery.
func (c *Client) CreateTransfer(req CreateTransferRequest) (tr *TransferResponse, accepted bool, err error) {
	var headers http.Header
	if req.IdempotencyKey != "" {
		headers = http.Header{"Idempotency-Key": {req.IdempotencyKey}}
	}

	var t TransferResponse
	status, err := c.doData(http.MethodPost, "/api/v1/transfers", req, headers, &t)
	if err != nil {
		return nil, false, err
	}
	return &t, status == http.StatusAccepted, nil
}

// GetTransfer возвращает перевод по ID.
func (c *Client) GetTransfer(id string) (*TransferResponse, error) {
	var t TransferResponse
	err := c.get("/api/v1/transfers/"+id, &t)
	return &t, err
}

// TransferListOptions — фильтры списка переводов. Пустые поля не передаются.
type TransferListOptions struct {
	AccountID     string
	SourceID      string
	DestinationID string
	SagaID        string
	Status        string
	Limit         int
	Offset        int
}

// ListTransfers возвращает переводы по фильтру.
func (c *Client) ListTransfers(opts TransferListOptions) ([]TransferResponse, error) {
	params := url.Values{}
	for name, v := range map[string]string{
		"account_id":             opts.AccountID,
		"source_account_id":      opts.SourceID,
		"destination_account_id": opts.DestinationID,
		"saga_id":                opts.SagaID,
		"status":                 opts.Status,
	} {
		if v != "" {
			params.Set(name, v)
		}
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	var transfers []TransferResponse
	err := c.list("/api/v1/transfers", params, &transfers)
	return transfers, err
}

// --- Sagas ---

// GetSaga возвращает сагу по ID.
func (c *Client) GetSaga(id string) (*SagaResponse, error) {
	var s SagaResponse
	err := c.get("/api/v1/sagas/"+id, &s)
	return &s, err
}

// ListSteps возвращает шаги саги.
func (c *Client) ListSteps(sagaID string) ([]StepResponse, error) {
	var steps []StepResponse
	err := c.list("/api/v1/sagas/"+sagaID+"/steps", nil, &steps)
	return steps, err
}

// ListDeadLetters возвращает страницу записей dead-letter.
func (c *Client) ListDeadLetters(limit, offset int) ([]DeadLetterResponse, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}

	var records []DeadLetterResponse
	err := c.list("/api/v1/dead-letters", params, &records)
	return records, err
}

// --- Accounts ---

// OpenAccount открывает счёт.
func (c *Client) OpenAccount(req OpenAccountRequest) (*AccountResponse, error) {
	var acc AccountResponse
	err := c.post("/api/v1/accounts", req, &acc)
	return &acc, err
}

// GetAccount возвращает счёт по ID.
func (c *Client) GetAccount(id string) (*AccountResponse, error) {
	var acc AccountResponse
	err := c.get("/api/v1/accounts/"+id, &acc)
	return &acc, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	_, err := c.doData(http.MethodGet, path, nil, nil, result)
	return err
}

func (c *Client) post(path string, body any, result any) error {
	_, err := c.doData(http.MethodPost, path, body, nil, result)
	return err
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, headers http.Header, result any) (int, error) {
	resp, err := c.do(method, path, body, headers)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return resp.StatusCode, err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return resp.StatusCode, json.Unmarshal(dr.Data, result)
	}
	return resp.StatusCode, nil
}

func (c *Client) do(method, path string, body any, headers http.Header) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
