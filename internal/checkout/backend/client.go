// Package backend holds the terminal's clients for the backend of record:
// order sync, coupon usage, payment methods and loyalty programs.
package backend

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/georgemunganga/printa-checkout/internal/cache"
	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/georgemunganga/printa-checkout/internal/httpclient"
	"github.com/georgemunganga/printa-checkout/internal/modules/payment"
	"github.com/georgemunganga/printa-checkout/internal/modules/program"
)

// Client calls the backend of record.
type Client struct {
	baseURL  string
	http     httpclient.Client
	reserved *cache.Manager[*payment.Method]
	programs *cache.Manager[*program.Program]
}

// Options tunes the client's caches.
type Options struct {
	// MethodsTTL is how long the reserved payment method lookup is reused.
	MethodsTTL time.Duration
	// ProgramsTTL is how long a program definition is reused.
	ProgramsTTL time.Duration
	Clock       cache.Clock
}

// NewClient creates a backend client.
func NewClient(baseURL string, hc httpclient.Client, opts Options) *Client {
	if opts.MethodsTTL <= 0 {
		opts.MethodsTTL = 5 * time.Minute
	}
	if opts.ProgramsTTL <= 0 {
		opts.ProgramsTTL = 5 * time.Minute
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     hc,
		reserved: cache.NewManager[*payment.Method](cache.PrefixReservedMethod, opts.MethodsTTL, opts.Clock),
		programs: cache.NewManager[*program.Program](cache.PrefixProgram, opts.ProgramsTTL, opts.Clock),
	}
}

// send performs a JSON call. unreachable marks transport failures; HTTP
// error responses are marked with the sentinel their kind names.
func (c *Client) send(ctx context.Context, method, path string, in, out interface{}, unreachable error) error {
	req := &httpclient.Request{Method: method, URL: c.baseURL + path}
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return ierr.WithError(err).Mark(ierr.ErrSystem)
		}
		req.Body = body
	}

	resp, err := c.http.Send(ctx, req)
	if err != nil {
		if httpclient.IsTransport(err) {
			return ierr.WithError(err).
				WithHint("Backend could not be reached").
				Mark(unreachable)
		}
		if httpErr, ok := httpclient.IsHTTPError(err); ok {
			b := ierr.WithError(httpErr)
			if msg := httpErr.Message(); msg != "" {
				b = b.WithHint(msg)
			}
			return b.Mark(httpErr.Sentinel())
		}
		return ierr.WithError(err).Mark(ierr.ErrHTTPClient)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return ierr.WithError(err).
			WithHint("Backend sent an unreadable response").
			Mark(ierr.ErrHTTPClient)
	}
	return nil
}
