package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"earnsystem/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapStatus_Table(t *testing.T) {
	want := map[string]string{
		"new":       model.PaymentStatusPending,
		"pending":   model.PaymentStatusPending,
		"expired":   model.PaymentStatusExpired,
		"completed": model.PaymentStatusCompleted,
		"error":     model.PaymentStatusFailed,
		"cancelled": model.PaymentStatusCancelled,
		"COMPLETED": model.PaymentStatusCompleted,
	}
	for ext, internal := range want {
		got, err := MapStatus(ext)
		require.NoError(t, err, ext)
		assert.Equal(t, internal, got, ext)
	}

	_, err := MapStatus("mismatch")
	assert.ErrorIs(t, err, ErrUnknownStatus)
	_, err = MapStatus("")
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestMapStatus_EveryTargetIsInternalStatus(t *testing.T) {
	internal := map[string]bool{}
	for _, s := range model.AllPaymentStatuses {
		internal[s] = true
	}
	for _, ext := range KnownStatuses() {
		got, err := MapStatus(ext)
		require.NoError(t, err)
		assert.True(t, internal[got], "%s maps to unknown internal status %s", ext, got)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"order_number":"PAY1","status":"completed"}`)
	sig := Sign("s3cret", body)

	assert.NoError(t, VerifySignature("s3cret", body, sig))
	assert.ErrorIs(t, VerifySignature("other", body, sig), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("s3cret", append(body, ' '), sig), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("s3cret", body, ""), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("", body, Sign("", body)), ErrInvalidSignature)
}

func TestParseWebhook(t *testing.T) {
	p, err := ParseWebhook([]byte(`{"order_number":"PAY1","txn_id":"x9","status":"completed","amount":"0.001","currency":"BTC"}`))
	require.NoError(t, err)
	assert.Equal(t, "PAY1", p.OrderNumber)
	assert.Equal(t, "x9", p.TxnID)

	_, err = ParseWebhook([]byte(`{"status":"completed"}`))
	assert.Error(t, err)
	_, err = ParseWebhook([]byte(`not json`))
	assert.Error(t, err)
}

func TestClient_CreateInvoiceAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/invoices":
			var in InvoiceRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			assert.Equal(t, "PAY1", in.OrderNumber)
			assert.Equal(t, "USD", in.Currency)
			assert.Equal(t, "BTC", in.PayCurrency)
			_, _ = w.Write([]byte(`{"status":"success","data":{"txn_id":"tx1","invoice_url":"https://pay/tx1"}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/operations/PAY1":
			_, _ = w.Write([]byte(`{"status":"success","data":{"txn_id":"tx1","status":"completed"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key")
	inv, err := c.CreateInvoice(context.Background(), InvoiceRequest{OrderNumber: "PAY1", Amount: decimal.NewFromInt(50), Currency: "USD", PayCurrency: "BTC"})
	require.NoError(t, err)
	assert.Equal(t, "tx1", inv.TxnID)
	assert.Equal(t, "https://pay/tx1", inv.InvoiceURL)

	st, err := c.GetStatus(context.Background(), "PAY1")
	require.NoError(t, err)
	assert.Equal(t, "completed", st.Status)
	assert.Equal(t, "PAY1", st.OrderNumber)

	_, err = c.GetStatus(context.Background(), "missing")
	assert.Error(t, err)
}
