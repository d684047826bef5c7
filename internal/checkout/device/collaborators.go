package device

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/georgemunganga/printa-checkout/internal/httpclient"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// ReceiptLine is one printed line.
type ReceiptLine struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Amount      decimal.Decimal `json:"amount"`
}

// Receipt is the print job payload.
type Receipt struct {
	OrderID     string          `json:"order_id"`
	Reference   string          `json:"reference"`
	OrderNumber string          `json:"order_number"`
	StoreID     string          `json:"store_id"`
	Currency    string          `json:"currency"`
	Lines       []ReceiptLine   `json:"lines"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
	Paid        decimal.Decimal `json:"paid"`
	Change      decimal.Decimal `json:"change"`
}

// DisplayMessage is what the pole display shows.
type DisplayMessage struct {
	OrderID  string          `json:"order_id"`
	Currency string          `json:"currency"`
	Total    decimal.Decimal `json:"total"`
	Change   decimal.Decimal `json:"change"`
}

// HTTPDrawer opens the cash drawer through the drawer agent.
type HTTPDrawer struct {
	baseURL string
	client  httpclient.Client
}

func NewHTTPDrawer(baseURL string, client httpclient.Client) *HTTPDrawer {
	return &HTTPDrawer{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (d *HTTPDrawer) Open(ctx context.Context, orderID, reason string) error {
	return post(ctx, d.client, d.baseURL+"/drawer/open", map[string]string{
		"order_id": orderID,
		"reason":   reason,
	})
}

// HTTPPrinter submits receipts to the print agent.
type HTTPPrinter struct {
	baseURL string
	client  httpclient.Client
}

func NewHTTPPrinter(baseURL string, client httpclient.Client) *HTTPPrinter {
	return &HTTPPrinter{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (p *HTTPPrinter) Print(ctx context.Context, r Receipt) error {
	return post(ctx, p.client, p.baseURL+"/print/receipt", &r)
}

func post(ctx context.Context, client httpclient.Client, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Device payload could not be encoded").
			Mark(ierr.ErrSystem)
	}
	_, err = client.Send(ctx, &httpclient.Request{
		Method: http.MethodPost,
		URL:    url,
		Body:   body,
	})
	return err
}

// WSPoleDisplay pushes messages to the pole display over a WebSocket. A
// connection is dialed per message; the display keeps no session.
type WSPoleDisplay struct {
	url    string
	dialer *websocket.Dialer
}

func NewWSPoleDisplay(url string) *WSPoleDisplay {
	return &WSPoleDisplay{url: url, dialer: websocket.DefaultDialer}
}

func (p *WSPoleDisplay) Show(ctx context.Context, msg DisplayMessage) error {
	conn, _, err := p.dialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return ierr.WithError(err).
			WithHintf("Could not reach the pole display at %s", p.url).
			Mark(ierr.ErrHTTPClient)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if err := conn.WriteJSON(&msg); err != nil {
		return ierr.WithError(err).
			WithHint("Pole display dropped the message").
			Mark(ierr.ErrHTTPClient)
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return nil
}
