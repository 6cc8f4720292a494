package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"earnsystem/pkg/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Client talks to the gateway's merchant API.
type Client struct {
	BaseURL string
	APIKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type InvoiceRequest struct {
	OrderNumber string          `json:"order_number"`
	OrderName   string          `json:"order_name"`
	Amount      decimal.Decimal `json:"source_amount"`
	Currency    string          `json:"source_currency"`
	// PayCurrency is the crypto asset the payer settles in; empty lets the
	// payer choose on the invoice page.
	PayCurrency string `json:"currency,omitempty"`
	CallbackURL string `json:"callback_url"`
	ExpireMin   int    `json:"expire_min,omitempty"`
}

type Invoice struct {
	TxnID      string `json:"txn_id"`
	InvoiceURL string `json:"invoice_url"`
}

// OperationStatus is the gateway's view of one invoice.
type OperationStatus struct {
	OrderNumber    string `json:"order_number"`
	TxnID          string `json:"txn_id"`
	Status         string `json:"status"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	SourceAmount   string `json:"source_amount"`
	SourceCurrency string `json:"source_currency"`
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func (c *Client) CreateInvoice(ctx context.Context, in InvoiceRequest) (*Invoice, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var out Invoice
	if err := c.do(ctx, http.MethodPost, "/invoices", bytes.NewReader(body), &out); err != nil {
		return nil, fmt.Errorf("create invoice %s: %w", in.OrderNumber, err)
	}
	logger.Info("[Gateway] invoice created", zap.String("order_number", in.OrderNumber), zap.String("txn_id", out.TxnID))
	return &out, nil
}

func (c *Client) GetStatus(ctx context.Context, orderNumber string) (*OperationStatus, error) {
	var out OperationStatus
	if err := c.do(ctx, http.MethodGet, "/operations/"+orderNumber, nil, &out); err != nil {
		return nil, fmt.Errorf("get status %s: %w", orderNumber, err)
	}
	if out.OrderNumber == "" {
		out.OrderNumber = orderNumber
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(respBody))
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Status != "success" {
		return fmt.Errorf("gateway status %q: %s", env.Status, string(env.Data))
	}
	return json.Unmarshal(env.Data, out)
}
