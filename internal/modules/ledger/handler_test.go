package ledger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(NewService(NewMemoryRepository())).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHandlerDeductFlow(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/api/v1/ledger/resources"

	resp, _ := post(t, base, `{"id":"GC-1","program_id":"gift","program_type":"gift_card","balance":"50000"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := post(t, base+"/GC-1/deduct", `{"amount":"20000","idempotency_key":"k1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "50000", body["old_balance"])
	assert.Equal(t, "30000", body["new_balance"])

	resp, body = post(t, base+"/GC-1/deduct", `{"amount":"20000","idempotency_key":"k1"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_processed", body["kind"])
	assert.Equal(t, "30000", body["new_balance"])
	assert.Equal(t, true, body["replayed"])

	resp, body = post(t, base+"/GC-1/deduct", `{"amount":"40000","idempotency_key":"k2"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "insufficient_balance", body["kind"])
	assert.Equal(t, "InsufficientBalance", body["reason"])

	resp, body = post(t, base+"/GC-1/rollback", `{"amount":"20000","idempotency_key":"nope"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "nothing_to_rollback", body["kind"])

	resp, body = post(t, base+"/GC-1/rollback", `{"amount":"20000","idempotency_key":"k1"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "50000", body["new_balance"])
}

func TestHandlerUnknownResource(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/v1/ledger/resources/missing")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "resource_not_found", body["kind"])
}
