package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI отвечает заранее заданными конвертами и запоминает запросы.
type fakeAPI struct {
	lastReq  *http.Request
	lastBody map[string]any
}

func newFakeAPI(t *testing.T, routes map[string]func(w http.ResponseWriter)) (*fakeAPI, *Client) {
	t.Helper()

	f := &fakeAPI{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.lastReq = r
		f.lastBody = nil
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&f.lastBody)
		}

		h, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"no route"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		h(w)
	}))
	t.Cleanup(srv.Close)

	return f, NewClient(srv.URL)
}

func respond(status int, body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func run(t *testing.T, client *Client, jsonMode bool, cmd func(func() *Client, func() *Output) *cobra.Command, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	c := cmd(
		func() *Client { return client },
		func() *Output { return NewOutputTo(jsonMode, &stdout, &stderr) },
	)
	c.SetArgs(args)
	c.SetOut(&stderr)
	c.SetErr(&stderr)
	err := c.Execute()
	return stdout.String(), stderr.String(), err
}

const transferJSON = `{"id":"t-1","source_account_id":"a","destination_account_id":"b","amount":"100.50","type":"TRANSFER","status":"SUCCESS","saga_id":"s-1","created_at":"2026-01-01T00:00:00Z"}`

func TestTransferCreate_SendsIdempotencyHeader(t *testing.T) {
	f, client := newFakeAPI(t, map[string]func(http.ResponseWriter){
		"POST /api/v1/transfers": respond(http.StatusCreated, `{"data":`+transferJSON+`}`),
	})

	stdout, stderr, err := run(t, client, false, NewTransferCmd,
		"create", "--from", "a", "--to", "b", "--amount", "100.50", "--idempotency-key", "order-42")
	require.NoError(t, err)

	assert.Equal(t, "order-42", f.lastReq.Header.Get("Idempotency-Key"))
	assert.Equal(t, "100.50", f.lastBody["amount"])
	assert.NotContains(t, f.lastBody, "IdempotencyKey")

	assert.Contains(t, stderr, "Transfer succeeded: t-1")
	assert.Contains(t, stdout, "SUCCESS")
	assert.Contains(t, stdout, "s-1")
}

func TestTransferCreate_Accepted(t *testing.T) {
	_, client := newFakeAPI(t, map[string]func(http.ResponseWriter){
		"POST /api/v1/transfers": respond(http.StatusAccepted, `{"data":`+transferJSON+`}`),
	})

	_, stderr, err := run(t, client, false, NewTransferCmd, "create", "--from", "a", "--to", "b", "--amount", "1")
	require.NoError(t, err)
	assert.Contains(t, stderr, "finished by recovery")
}

func TestTransferCreate_RequiresFlags(t *testing.T) {
	_, client := newFakeAPI(t, nil)

	_, _, err := run(t, client, false, NewTransferCmd, "create", "--from", "a")
	assert.Error(t, err)
}

func TestTransferList_Filters(t *testing.T) {
	f, client := newFakeAPI(t, map[string]func(http.ResponseWriter){
		"GET /api/v1/transfers": respond(http.StatusOK, `{"data":[`+transferJSON+`],"total":1}`),
	})

	stdout, _, err := run(t, client, false, NewTransferCmd,
		"list", "--account", "a", "--status", "success", "--limit", "5")
	require.NoError(t, err)

	q := f.lastReq.URL.Query()
	assert.Equal(t, "a", q.Get("account_id"))
	assert.Equal(t, "SUCCESS", q.Get("status"))
	assert.Equal(t, "5", q.Get("limit"))
	assert.Empty(t, q.Get("source_account_id"))
	assert.Contains(t, stdout, "t-1")
	assert.Contains(t, stdout, "100.50")
}

func TestTransferShow_APIError(t *testing.T) {
	_, client := newFakeAPI(t, map[string]func(http.ResponseWriter){
		"GET /api/v1/transfers/t-404": respond(http.StatusNotFound, `{"error":{"code":"NOT_FOUND","message":"transfer not found"}}`),
	})

	_, _, err := run(t, client, false, NewTransferCmd, "show", "t-404")
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND: transfer not found", err.Error())
}

func TestSagaSteps_Table(t *testing.T) {
	_, client := newFakeAPI(t, map[string]func(http.ResponseWriter){
		"GET /api/v1/sagas/s-1/steps": respond(http.StatusOK, `{"data":[
			{"step_name":"DEBIT_SOURCE_ACCOUNT","step_order":1,"status":"COMPENSATED","retry_count":0,"max_retries":3},
			{"step_name":"CREDIT_DESTINATION_ACCOUNT","step_order":2,"status":"FAILED","retry_count":3,"max_retries":3,"error_message":"account is inactive"}
		],"total":2}`),
	})

	stdout, _, err := run(t, client, false, NewSagaCmd, "steps", "s-1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "DEBIT_SOURCE_ACCOUNT")
	assert.Contains(t, stdout, "3/3")
	assert.Contains(t, stdout, "account is inactive")
}

func TestDeadLetterList_JSON(t *testing.T) {
	f, client := newFakeAPI(t, map[string]func(http.ResponseWriter){
		"GET /api/v1/dead-letters": respond(http.StatusOK, `{"data":[{"id":"d-1","saga_id":"s-1","saga_type":"TRANSFER","last_status":"COMPENSATING"}],"total":1}`),
	})

	stdout, _, err := run(t, client, true, NewDeadLetterCmd, "list", "--limit", "10", "--offset", "20")
	require.NoError(t, err)
	assert.Equal(t, "10", f.lastReq.URL.Query().Get("limit"))
	assert.Equal(t, "20", f.lastReq.URL.Query().Get("offset"))

	var records []DeadLetterResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "COMPENSATING", records[0].LastStatus)
}

func TestAccountOpen(t *testing.T) {
	f, client := newFakeAPI(t, map[string]func(http.ResponseWriter){
		"POST /api/v1/accounts": respond(http.StatusCreated, `{"data":{"id":"acc-1","user_id":"u-1","currency":"USD","balance":"25.00","active":true}}`),
	})

	stdout, stderr, err := run(t, client, false, NewAccountCmd, "open", "--user", "u-1", "--balance", "25")
	require.NoError(t, err)
	assert.Equal(t, "25", f.lastBody["initial_balance"])
	assert.Contains(t, stderr, "Account opened: acc-1")
	assert.Contains(t, stdout, "25.00")
}

func TestOutput_TableFillsEmptyCells(t *testing.T) {
	var buf bytes.Buffer
	NewOutputTo(false, &buf, &buf).Table([]string{"A", "B"}, [][]string{{"x", ""}})
	assert.Contains(t, buf.String(), "x  -")
}
