package pos

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/georgemunganga/printa-checkout/internal/modules/auth"
	"github.com/georgemunganga/printa-checkout/internal/modules/user"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "terminal-secret"

func login(t *testing.T, role user.Role, pic bool) string {
	t.Helper()
	repo := user.NewMemoryRepository()
	_, err := user.NewService(repo).RegisterUser(context.Background(), user.RegisterRequest{
		Email:    "operator@printa.test",
		Password: "password-123",
		Role:     role,
		IsPIC:    pic,
	})
	require.NoError(t, err)
	tok, err := auth.NewService(repo, testSecret, time.Hour).Login(context.Background(), "operator@printa.test", "password-123")
	require.NoError(t, err)
	return tok.AccessToken
}

type apiClient struct {
	t     *testing.T
	base  string
	token string
}

func (c *apiClient) do(method, path string, body interface{}, out interface{}) int {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	require.NoError(c.t, err)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func newAPI(t *testing.T) (*terminal, string) {
	t.Helper()
	term := newTerminal(t)
	r := chi.NewRouter()
	r.Use(auth.Middleware(auth.NewVerifier(testSecret)))
	NewHandler(term.service, term.metrics.Handler()).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return term, srv.URL + "/api/v1/terminal"
}

func TestTerminalAPIFlow(t *testing.T) {
	term, base := newAPI(t)
	api := &apiClient{t: t, base: base, token: login(t, user.RoleCashier, false)}

	var opened OrderResponse
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/orders", nil, &opened))
	id := opened.Order.ID

	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/orders/"+id+"/items",
		AddItemRequest{ProductID: "P1", Quantity: d(1), UnitPrice: d(50000)}, nil))

	var failure ierr.Failure
	status := api.do(http.MethodPost, "/orders/"+id+"/redemptions", RedeemRequest{
		ProgramID:  term.points.ID.String(),
		RewardID:   term.points.Rewards[0].ID.String(),
		ResourceID: "card-1",
		Amount:     d(900),
	}, &failure)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "InsufficientBalance", failure.Reason)
	assert.Equal(t, ierr.ActionRetry, failure.Action)

	var redeemed RedeemResponse
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/orders/"+id+"/redemptions", RedeemRequest{
		ProgramID:  term.points.ID.String(),
		RewardID:   term.points.Rewards[0].ID.String(),
		ResourceID: "card-1",
		Amount:     d(200),
	}, &redeemed))
	assert.True(t, redeemed.Order.Order.Total.Equal(d(30000)))

	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/orders/"+id+"/payments",
		AddPaymentRequest{MethodID: "CASH", Amount: d(30000)}, nil))

	var res struct {
		BackendID string `json:"backend_id"`
	}
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/orders/"+id+"/finalize", nil, &res))
	assert.NotEmpty(t, res.BackendID)

	var got OrderResponse
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/orders/"+id, nil, &got))
	assert.Equal(t, "synced", string(got.Order.Status))

	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/reconciliation", nil, nil))
	req, _ := http.NewRequest(http.MethodGet, base+"/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+api.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTerminalAPIRejectsPIC(t *testing.T) {
	_, base := newAPI(t)
	api := &apiClient{t: t, base: base, token: login(t, user.RoleSupervisor, true)}

	var opened OrderResponse
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/orders", nil, &opened))
	id := opened.Order.ID
	api.do(http.MethodPost, "/orders/"+id+"/items", AddItemRequest{ProductID: "P1", Quantity: d(1), UnitPrice: d(100)}, nil)
	api.do(http.MethodPost, "/orders/"+id+"/payments", AddPaymentRequest{MethodID: "CASH", Amount: d(100)}, nil)

	var failure ierr.Failure
	assert.Equal(t, http.StatusForbidden, api.do(http.MethodPost, "/orders/"+id+"/finalize",
		FinalizeRequest{}, &failure))
	assert.Equal(t, "PermissionDenied", failure.Reason)
}

func TestTerminalAPIRequiresToken(t *testing.T) {
	_, base := newAPI(t)
	api := &apiClient{t: t, base: base}
	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodPost, "/orders", nil, nil))
}
