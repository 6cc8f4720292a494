package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"earnsystem/internal/gateway"
	"earnsystem/internal/ledger"
	"earnsystem/internal/model"
	"earnsystem/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test"

type fakeGateway struct {
	mu         sync.Mutex
	invoiceErr error
	statuses   map[string]string
	statusErr  error
	invoices   []gateway.InvoiceRequest
}

func (f *fakeGateway) CreateInvoice(_ context.Context, in gateway.InvoiceRequest) (*gateway.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.invoiceErr != nil {
		return nil, f.invoiceErr
	}
	f.invoices = append(f.invoices, in)
	return &gateway.Invoice{TxnID: "txn-" + in.OrderNumber, InvoiceURL: "https://pay.example.com/i/" + in.OrderNumber}, nil
}

func (f *fakeGateway) GetStatus(_ context.Context, orderNumber string) (*gateway.OperationStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &gateway.OperationStatus{OrderNumber: orderNumber, TxnID: "txn-" + orderNumber, Status: f.statuses[orderNumber]}, nil
}

func newPaymentService(t *testing.T, env *testEnv, gw GatewayClient, notifier Dispatcher) *PaymentService {
	t.Helper()
	return NewPaymentService(env.db, env.ledger, gw, staticSettings{}, notifier, PaymentOptions{
		WebhookSecret: testWebhookSecret,
		Currency:      "USD",
		MinDeposit:    testutil.Dec("10"),
		DepositExpiry: time.Hour,
	})
}

func webhookBody(t *testing.T, paymentNo, status string) []byte {
	t.Helper()
	body, err := json.Marshal(gateway.WebhookPayload{
		OrderNumber: paymentNo,
		TxnID:       "txn-" + paymentNo,
		Status:      status,
		Amount:      "0.0021",
		Currency:    "BTC",
	})
	require.NoError(t, err)
	return body
}

func TestCreateDeposit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, 1, nil)
	gw := &fakeGateway{}
	svc := newPaymentService(t, env, gw, nil)

	p, err := svc.CreateDeposit(ctx, 1, testutil.Dec("100"), "BTC")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, p.Status)
	assert.Equal(t, "txn-"+p.PaymentNo, p.ExternalTxnID)
	require.Len(t, gw.invoices, 1)
	assert.Equal(t, p.PaymentNo, gw.invoices[0].OrderNumber)
	assert.Equal(t, "BTC", gw.invoices[0].PayCurrency)
	assert.Equal(t, "USD", gw.invoices[0].Currency)

	stored, err := svc.GetPayment(ctx, p.PaymentNo)
	require.NoError(t, err)
	assert.Equal(t, "BTC", stored.CryptoCurrency)
	assert.NotEmpty(t, stored.InvoiceURL)
	// nothing is credited until the gateway confirms
	assert.True(t, testutil.Account(t, env.db, 1).Balance.IsZero())

	_, err = svc.CreateDeposit(ctx, 1, testutil.Dec("5"), "BTC")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateDeposit_PayCurrencyIsOptional(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, 1, nil)
	gw := &fakeGateway{}
	svc := newPaymentService(t, env, gw, nil)

	chosen, err := svc.CreateDeposit(ctx, 1, testutil.Dec("20"), " usdt ")
	require.NoError(t, err)
	open, err := svc.CreateDeposit(ctx, 1, testutil.Dec("20"), "")
	require.NoError(t, err)

	require.Len(t, gw.invoices, 2)
	assert.Equal(t, "USDT", gw.invoices[0].PayCurrency)
	assert.Empty(t, gw.invoices[1].PayCurrency)
	assert.Equal(t, "USDT", chosen.CryptoCurrency)
	assert.Empty(t, open.CryptoCurrency)
}

func TestCreateDeposit_InvoiceFailureMarksPaymentFailed(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, 1, nil)
	svc := newPaymentService(t, env, &fakeGateway{invoiceErr: errors.New("gateway down")}, nil)

	_, err := svc.CreateDeposit(context.Background(), 1, testutil.Dec("50"), "")
	require.Error(t, err)

	var p model.Payment
	require.NoError(t, env.db.Where("user_id = ?", 1).First(&p).Error)
	assert.Equal(t, model.PaymentStatusFailed, p.Status)
}

func TestHandleWebhook_CreditsOnceUnderConcurrentDelivery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, 1, nil)
	notes := &recordingDispatcher{}
	svc := newPaymentService(t, env, &fakeGateway{}, notes)

	p, err := svc.CreateDeposit(ctx, 1, testutil.Dec("100"), "BTC")
	require.NoError(t, err)

	body := webhookBody(t, p.PaymentNo, "completed")
	sig := gateway.Sign(testWebhookSecret, body)

	const deliveries = 5
	var wg sync.WaitGroup
	var mu sync.Mutex
	credited := 0
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.HandleWebhook(ctx, body, sig)
			if !assert.NoError(t, err) {
				return
			}
			if res.Credited {
				mu.Lock()
				credited++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, credited)
	assert.True(t, testutil.Dec("100").Equal(testutil.Account(t, env.db, 1).Balance))
	assert.Equal(t, int64(1), countRows(t, env.db, &model.AccountTransaction{}, "ref_no = ?", "payment:"+p.PaymentNo))

	stored, err := svc.GetPayment(ctx, p.PaymentNo)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, stored.Status)
	assert.NotNil(t, stored.ProcessedAt)
	assert.Equal(t, "0.0021", stored.CryptoAmount)
	assert.Equal(t, []string{EventDepositConfirmation}, notes.kinds())
}

func TestHandleWebhook_BadSignatureChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, 1, nil)
	svc := newPaymentService(t, env, &fakeGateway{}, nil)

	p, err := svc.CreateDeposit(ctx, 1, testutil.Dec("100"), "BTC")
	require.NoError(t, err)

	body := webhookBody(t, p.PaymentNo, "completed")
	_, err = svc.HandleWebhook(ctx, body, gateway.Sign("other-secret", body))
	assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
	_, err = svc.HandleWebhook(ctx, body, "")
	assert.ErrorIs(t, err, gateway.ErrInvalidSignature)

	stored, err := svc.GetPayment(ctx, p.PaymentNo)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, stored.Status)
	assert.True(t, testutil.Account(t, env.db, 1).Balance.IsZero())
}

func TestReconcileStatus_Transitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, 1, nil)
	svc := newPaymentService(t, env, &fakeGateway{}, nil)

	t.Run("unknown status is rejected", func(t *testing.T) {
		p, err := svc.CreateDeposit(ctx, 1, testutil.Dec("20"), "")
		require.NoError(t, err)
		_, err = svc.ReconcileStatus(ctx, p.PaymentNo, "refunded-ish")
		assert.ErrorIs(t, err, gateway.ErrUnknownStatus)
	})

	t.Run("late pending after completion is ignored", func(t *testing.T) {
		p, err := svc.CreateDeposit(ctx, 1, testutil.Dec("20"), "")
		require.NoError(t, err)
		res, err := svc.ReconcileStatus(ctx, p.PaymentNo, "COMPLETED")
		require.NoError(t, err)
		assert.True(t, res.Credited)

		res, err = svc.ReconcileStatus(ctx, p.PaymentNo, "pending")
		require.NoError(t, err)
		assert.False(t, res.Changed)
		assert.Equal(t, model.PaymentStatusCompleted, res.From)
	})

	t.Run("expired deposit can still complete", func(t *testing.T) {
		p, err := svc.CreateDeposit(ctx, 1, testutil.Dec("30"), "")
		require.NoError(t, err)
		res, err := svc.ReconcileStatus(ctx, p.PaymentNo, "expired")
		require.NoError(t, err)
		assert.True(t, res.Changed)
		assert.False(t, res.Credited)

		res, err = svc.ReconcileStatus(ctx, p.PaymentNo, "completed")
		require.NoError(t, err)
		assert.True(t, res.Credited)
	})

	t.Run("failed deposit is terminal", func(t *testing.T) {
		p, err := svc.CreateDeposit(ctx, 1, testutil.Dec("40"), "")
		require.NoError(t, err)
		_, err = svc.ReconcileStatus(ctx, p.PaymentNo, "error")
		require.NoError(t, err)
		res, err := svc.ReconcileStatus(ctx, p.PaymentNo, "completed")
		require.NoError(t, err)
		assert.False(t, res.Changed)
	})

	t.Run("missing payment", func(t *testing.T) {
		_, err := svc.ReconcileStatus(ctx, "PAY-none", "completed")
		assert.True(t, IsNotFound(err))
	})

	// 20 + 30 credited
	assert.True(t, testutil.Dec("50").Equal(testutil.Account(t, env.db, 1).Balance))
}

func TestPollOpenDeposits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, 1, nil)
	gw := &fakeGateway{statuses: map[string]string{}}
	svc := newPaymentService(t, env, gw, nil)

	done, err := svc.CreateDeposit(ctx, 1, testutil.Dec("25"), "")
	require.NoError(t, err)
	waiting, err := svc.CreateDeposit(ctx, 1, testutil.Dec("35"), "")
	require.NoError(t, err)
	gw.statuses[done.PaymentNo] = "completed"
	gw.statuses[waiting.PaymentNo] = "pending"

	res, err := svc.PollOpenDeposits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 1, res.Changed)
	assert.Equal(t, 0, res.Errors)
	assert.True(t, testutil.Dec("25").Equal(testutil.Account(t, env.db, 1).Balance))

	gw.statusErr = errors.New("timeout")
	res, err = svc.PollOpenDeposits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
	assert.Equal(t, 1, res.Errors)
}

func TestCreateManualPayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, 1, nil)
	svc := newPaymentService(t, env, &fakeGateway{}, nil)

	p, err := svc.CreateManualPayment(ctx, "admin:7", 1, testutil.Dec("12.5"), "bank transfer")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, p.Status)
	assert.Equal(t, model.PaymentMethodManual, p.Method)
	assert.True(t, testutil.Dec("12.5").Equal(testutil.Account(t, env.db, 1).Balance))

	_, err = svc.CreateManualPayment(ctx, "admin:7", 404, testutil.Dec("1"), "nobody")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
	assert.Equal(t, int64(1), countRows(t, env.db, &model.Payment{}, ""))
}
