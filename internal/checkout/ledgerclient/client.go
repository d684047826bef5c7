package ledgerclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/georgemunganga/printa-checkout/internal/httpclient"
	"github.com/georgemunganga/printa-checkout/internal/metrics"
	"github.com/georgemunganga/printa-checkout/internal/modules/ledger"
	"github.com/shopspring/decimal"
)

// Balance is a resource's balance as reported by the ledger.
type Balance struct {
	ResourceID  string
	ProgramID   string
	ProgramType string
	Balance     decimal.Decimal
	SingleUse   bool
}

// Mutation is the outcome of a deduct or rollback.
type Mutation struct {
	ResourceID     string
	IdempotencyKey string
	Status         string
	OldBalance     decimal.Decimal
	NewBalance     decimal.Decimal
	Replayed       bool
}

// Client is the terminal's view of the resource ledger. Implementations keep
// no state beyond a short-lived read cache.
type Client interface {
	// CheckBalance fails with ErrResourceNotFound or ErrLedgerUnavailable.
	CheckBalance(ctx context.Context, resourceID string) (*Balance, error)

	// Deduct fails with ErrInsufficientBalance or ErrLedgerUnavailable. A
	// replayed key returns the original result together with
	// ErrAlreadyProcessed.
	Deduct(ctx context.Context, resourceID string, amount decimal.Decimal, key string) (*Mutation, error)

	// Rollback fails with ErrNothingToRollback when the ledger has no
	// deduction for key, which callers treat as already safe.
	Rollback(ctx context.Context, resourceID string, amount decimal.Decimal, key string) (*Mutation, error)

	// Hold reports what key did to the resource. Unknown keys fail with
	// ErrResourceNotFound.
	Hold(ctx context.Context, resourceID, key string) (*Mutation, error)
}

// HTTPClient talks to the ledger routes of the backend of record.
type HTTPClient struct {
	baseURL string
	http    httpclient.Client
	metrics *metrics.Registry
}

// NewHTTPClient creates a ledger client for baseURL. m may be nil.
func NewHTTPClient(baseURL string, hc httpclient.Client, m *metrics.Registry) *HTTPClient {
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), http: hc, metrics: m}
}

func (c *HTTPClient) resourceURL(resourceID, suffix string) string {
	return fmt.Sprintf("%s/api/v1/ledger/resources/%s%s", c.baseURL, url.PathEscape(resourceID), suffix)
}

func (c *HTTPClient) CheckBalance(ctx context.Context, resourceID string) (*Balance, error) {
	defer c.observe("balance", time.Now())

	resp, err := c.http.Send(ctx, &httpclient.Request{Method: http.MethodGet, URL: c.resourceURL(resourceID, "")})
	if err != nil {
		return nil, c.mapError(err, resourceID, nil)
	}
	var body ledger.BalanceResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, ierr.WithError(err).WithHint("Ledger sent an unreadable balance").Mark(ierr.ErrLedgerUnavailable)
	}
	return &Balance{
		ResourceID:  body.ResourceID,
		ProgramID:   body.ProgramID,
		ProgramType: string(body.ProgramType),
		Balance:     body.Balance,
		SingleUse:   body.SingleUse,
	}, nil
}

func (c *HTTPClient) Deduct(ctx context.Context, resourceID string, amount decimal.Decimal, key string) (*Mutation, error) {
	defer c.observe("deduct", time.Now())
	return c.mutate(ctx, resourceID, "/deduct", amount, key)
}

func (c *HTTPClient) Rollback(ctx context.Context, resourceID string, amount decimal.Decimal, key string) (*Mutation, error) {
	defer c.observe("rollback", time.Now())
	return c.mutate(ctx, resourceID, "/rollback", amount, key)
}

func (c *HTTPClient) Hold(ctx context.Context, resourceID, key string) (*Mutation, error) {
	defer c.observe("hold", time.Now())

	resp, err := c.http.Send(ctx, &httpclient.Request{
		Method: http.MethodGet,
		URL:    c.resourceURL(resourceID, "/holds/"+url.PathEscape(key)),
	})
	if err != nil {
		return nil, c.mapError(err, resourceID, nil)
	}
	var body ledger.MutationResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, ierr.WithError(err).WithHint("Ledger sent an unreadable hold").Mark(ierr.ErrLedgerUnavailable)
	}
	return toMutation(&body), nil
}

func (c *HTTPClient) mutate(ctx context.Context, resourceID, suffix string, amount decimal.Decimal, key string) (*Mutation, error) {
	payload, err := json.Marshal(ledger.MutationRequest{Amount: amount, IdempotencyKey: key})
	if err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrSystem)
	}
	resp, err := c.http.Send(ctx, &httpclient.Request{
		Method:  http.MethodPost,
		URL:     c.resourceURL(resourceID, suffix),
		Headers: map[string]string{"Idempotency-Key": key},
		Body:    payload,
	})
	if err != nil {
		var replay *Mutation
		mapped := c.mapError(err, resourceID, &replay)
		return replay, mapped
	}
	var body ledger.MutationResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, ierr.WithError(err).WithHint("Ledger sent an unreadable response").Mark(ierr.ErrLedgerUnavailable)
	}
	return toMutation(&body), nil
}

// mapError turns a transport or HTTP failure into a ledger sentinel. For
// already_processed responses the original result is decoded into replay.
func (c *HTTPClient) mapError(err error, resourceID string, replay **Mutation) error {
	if httpclient.IsTransport(err) {
		return ierr.WithError(err).
			WithHint("Ledger is unavailable, nothing was changed. Try again").
			Mark(ierr.ErrLedgerUnavailable)
	}
	httpErr, ok := httpclient.IsHTTPError(err)
	if !ok {
		return ierr.WithError(err).Mark(ierr.ErrLedgerUnavailable)
	}

	sentinel := httpErr.Sentinel()
	switch {
	case sentinel == ierr.ErrAlreadyProcessed:
		if replay != nil {
			var body ledger.MutationResponse
			if jsonErr := json.Unmarshal(httpErr.Response, &body); jsonErr == nil && body.IdempotencyKey != "" {
				*replay = toMutation(&body)
				(*replay).Replayed = true
			}
		}
	case sentinel == ierr.ErrNotFound:
		sentinel = ierr.ErrResourceNotFound
	case httpErr.StatusCode >= http.StatusInternalServerError:
		sentinel = ierr.ErrLedgerUnavailable
	}

	hint := httpErr.Message()
	if hint == "" {
		hint = fmt.Sprintf("Ledger rejected the request for %s", resourceID)
	}
	return ierr.WithError(httpErr).WithHint(hint).Mark(sentinel)
}

func (c *HTTPClient) observe(op string, start time.Time) {
	if c.metrics != nil {
		c.metrics.LedgerCallSec.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func toMutation(r *ledger.MutationResponse) *Mutation {
	return &Mutation{
		ResourceID:     r.ResourceID,
		IdempotencyKey: r.IdempotencyKey,
		Status:         string(r.Status),
		OldBalance:     r.OldBalance,
		NewBalance:     r.NewBalance,
		Replayed:       r.Replayed,
	}
}
