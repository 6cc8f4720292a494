package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"earnsystem/internal/gateway"
	"earnsystem/internal/ledger"
	"earnsystem/internal/metrics"
	"earnsystem/internal/model"
	"earnsystem/internal/repository"
	"earnsystem/pkg/idgen"
	"earnsystem/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GatewayClient is the part of the payment gateway the service calls.
type GatewayClient interface {
	CreateInvoice(ctx context.Context, in gateway.InvoiceRequest) (*gateway.Invoice, error)
	GetStatus(ctx context.Context, orderNumber string) (*gateway.OperationStatus, error)
}

type PaymentOptions struct {
	WebhookSecret string
	CallbackURL   string
	Currency      string
	MinDeposit    decimal.Decimal
	DepositExpiry time.Duration
	PollBatchSize int
}

// PaymentService creates deposits and reconciles their status with the
// gateway. It is the only path that credits a deposit.
type PaymentService struct {
	db       *gorm.DB
	ledger   *ledger.Ledger
	payments *repository.PaymentRepository
	accounts *repository.AccountRepository
	gateway  GatewayClient
	settings SettingsProvider
	notifier Dispatcher
	opts     PaymentOptions
}

func NewPaymentService(db *gorm.DB, l *ledger.Ledger, gw GatewayClient, settings SettingsProvider, notifier Dispatcher, opts PaymentOptions) *PaymentService {
	if notifier == nil {
		notifier = nopDispatcher{}
	}
	if opts.PollBatchSize <= 0 {
		opts.PollBatchSize = 100
	}
	return &PaymentService{
		db:       db,
		ledger:   l,
		payments: repository.NewPaymentRepository(db),
		accounts: repository.NewAccountRepository(db),
		gateway:  gw,
		settings: settings,
		notifier: notifier,
		opts:     opts,
	}
}

// CreateDeposit opens a pending crypto deposit and asks the gateway for an
// invoice. The payment row exists before the gateway call so an early
// webhook always finds it.
func (s *PaymentService) CreateDeposit(ctx context.Context, userID int64, amount decimal.Decimal, currency string) (*model.Payment, error) {
	minDeposit := s.settings.GetDecimal(ctx, SettingMinDepositAmount, s.opts.MinDeposit)
	if amount.LessThan(minDeposit) {
		return nil, invalid("minimum deposit is %s", minDeposit.StringFixed(2))
	}
	if !amount.Equal(ledger.Money(amount)) {
		return nil, invalid("amount has too many decimal places")
	}
	if _, err := s.accounts.GetByUserID(ctx, nil, userID); err != nil {
		return nil, err
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))

	expires := time.Now().Add(s.opts.DepositExpiry)
	payment := &model.Payment{
		PaymentNo:      idgen.GeneratePaymentNo(),
		UserID:         userID,
		Amount:         amount,
		Currency:       s.opts.Currency,
		Method:         model.PaymentMethodCrypto,
		Provider:       "gateway",
		Type:           model.PaymentTypeDeposit,
		Status:         model.PaymentStatusPending,
		ExpiresAt:      &expires,
		CryptoCurrency: currency,
	}
	if err := s.payments.Create(ctx, nil, payment); err != nil {
		return nil, fmt.Errorf("create deposit: %w", err)
	}

	invoice, err := s.gateway.CreateInvoice(ctx, gateway.InvoiceRequest{
		OrderNumber: payment.PaymentNo,
		OrderName:   "deposit-" + uuid.NewString(),
		Amount:      amount,
		Currency:    s.opts.Currency,
		PayCurrency: currency,
		CallbackURL: s.opts.CallbackURL,
		ExpireMin:   int(s.opts.DepositExpiry / time.Minute),
	})
	if err != nil {
		if uerr := s.payments.UpdateStatus(ctx, nil, payment.PaymentNo, model.PaymentStatusPending, model.PaymentStatusFailed,
			map[string]interface{}{"remark": "invoice creation failed"}); uerr != nil {
			logger.Error("mark deposit failed", zap.String("payment_no", payment.PaymentNo), zap.Error(uerr))
		}
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	payment.ExternalTxnID = invoice.TxnID
	payment.InvoiceURL = invoice.InvoiceURL
	err = s.db.WithContext(ctx).Model(&model.Payment{}).
		Where("payment_no = ?", payment.PaymentNo).
		Updates(map[string]interface{}{
			"external_txn_id": invoice.TxnID,
			"invoice_url":     invoice.InvoiceURL,
		}).Error
	if err != nil {
		return nil, fmt.Errorf("store invoice: %w", err)
	}
	return payment, nil
}

// ReconcileResult says what a reconciliation did.
type ReconcileResult struct {
	PaymentNo string `json:"payment_no"`
	From      string `json:"from"`
	To        string `json:"to"`
	Changed   bool   `json:"changed"`
	Credited  bool   `json:"credited"`
}

// ReconcileStatus applies a gateway status to a payment. The deposit is
// credited only on the transition into completed; the row lock and the
// status compare-and-set make concurrent deliveries of the same status
// credit once. Statuses that are not a legal move from the current one,
// such as a late "pending" after completion, are ignored.
func (s *PaymentService) ReconcileStatus(ctx context.Context, paymentNo, externalStatus string) (*ReconcileResult, error) {
	return s.reconcile(ctx, paymentNo, externalStatus, "api", nil)
}

func (s *PaymentService) reconcile(ctx context.Context, paymentNo, externalStatus, source string, details *gateway.OperationStatus) (*ReconcileResult, error) {
	target, err := gateway.MapStatus(externalStatus)
	if err != nil {
		return nil, err
	}

	res := &ReconcileResult{PaymentNo: paymentNo, To: target}
	var payment *model.Payment

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.payments.GetByPaymentNoForUpdate(ctx, tx, paymentNo)
		if err != nil {
			return err
		}
		payment = p
		res.From = p.Status

		if p.Status == target || !model.CanTransitionPayment(p.Status, target) {
			return nil
		}

		extra := map[string]interface{}{}
		if details != nil {
			if details.TxnID != "" {
				extra["external_txn_id"] = details.TxnID
			}
			if details.Amount != "" {
				extra["crypto_amount"] = details.Amount
			}
			if details.Currency != "" {
				extra["crypto_currency"] = details.Currency
			}
		}
		if err := s.payments.UpdateStatus(ctx, tx, paymentNo, p.Status, target, extra); err != nil {
			return transitionErr(err, "payment", p.Status, target)
		}
		res.Changed = true

		if target == model.PaymentStatusCompleted && p.Type == model.PaymentTypeDeposit {
			err := s.ledger.ApplyInTx(ctx, tx, ledger.Entry{
				Ref:       "payment:" + paymentNo,
				Type:      model.TransactionTypeDeposit,
				Remark:    fmt.Sprintf("deposit via %s", p.Provider),
				Actor:     source,
				Mutations: ledger.Credit(p.UserID, p.Amount, ledger.FieldBalance),
			})
			if err != nil {
				return err
			}
			res.Credited = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !res.Changed {
		logger.Debug("payment status unchanged",
			zap.String("payment_no", paymentNo), zap.String("current", res.From), zap.String("reported", target))
		return res, nil
	}

	metrics.PaymentTransitions.WithLabelValues(res.From, res.To, source).Inc()
	logger.Info("payment status reconciled",
		zap.String("payment_no", paymentNo),
		zap.String("from", res.From),
		zap.String("to", res.To),
		zap.Bool("credited", res.Credited),
		zap.String("source", source),
	)
	if res.Credited {
		amount, _ := payment.Amount.Float64()
		metrics.DepositCreditedAmount.Add(amount)
		s.notifier.Notify(ctx, Event{
			Kind:        EventDepositConfirmation,
			RecipientID: payment.UserID,
			Payload: map[string]interface{}{
				"payment_no": paymentNo,
				"amount":     payment.Amount.StringFixed(2),
				"currency":   payment.Currency,
			},
		})
	}
	return res, nil
}

// HandleWebhook verifies the signature over the raw body before anything
// else, then reconciles the reported status.
func (s *PaymentService) HandleWebhook(ctx context.Context, body []byte, signature string) (*ReconcileResult, error) {
	if err := gateway.VerifySignature(s.opts.WebhookSecret, body, signature); err != nil {
		return nil, err
	}
	payload, err := gateway.ParseWebhook(body)
	if err != nil {
		return nil, invalid("%s", err.Error())
	}
	return s.reconcile(ctx, payload.OrderNumber, payload.Status, "webhook", &gateway.OperationStatus{
		OrderNumber: payload.OrderNumber,
		TxnID:       payload.TxnID,
		Status:      payload.Status,
		Amount:      payload.Amount,
		Currency:    payload.Currency,
	})
}

// PollResult counts one polling pass.
type PollResult struct {
	Checked int
	Changed int
	Errors  int
}

// PollOpenDeposits asks the gateway about deposits still pending or
// processing. A gateway error leaves the payment untouched for the next pass.
func (s *PaymentService) PollOpenDeposits(ctx context.Context) (PollResult, error) {
	var out PollResult
	open, err := s.payments.ListOpenCryptoDeposits(ctx, s.opts.PollBatchSize)
	if err != nil {
		return out, fmt.Errorf("list open deposits: %w", err)
	}

	for _, p := range open {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		out.Checked++

		status, err := s.gateway.GetStatus(ctx, p.PaymentNo)
		if err == nil {
			var res *ReconcileResult
			res, err = s.reconcile(ctx, p.PaymentNo, status.Status, "poll", status)
			if err == nil && res.Changed {
				out.Changed++
			}
		}
		if err != nil {
			out.Errors++
			level := logger.Warn
			if errors.Is(err, gateway.ErrUnknownStatus) {
				level = logger.Error
			}
			level("poll deposit failed", zap.String("payment_no", p.PaymentNo), zap.Error(err))
		}
		if terr := s.payments.Touch(ctx, p.PaymentNo); terr != nil {
			logger.Warn("touch payment failed", zap.String("payment_no", p.PaymentNo), zap.Error(terr))
		}
	}
	return out, nil
}

// CreateManualPayment records an admin-entered deposit and credits it in
// the same transaction.
func (s *PaymentService) CreateManualPayment(ctx context.Context, actor string, userID int64, amount decimal.Decimal, remark string) (*model.Payment, error) {
	if !amount.IsPositive() || !amount.Equal(ledger.Money(amount)) {
		return nil, invalid("amount must be positive with at most %d decimals", ledger.Scale)
	}
	now := time.Now()
	payment := &model.Payment{
		PaymentNo:   idgen.GeneratePaymentNo(),
		UserID:      userID,
		Amount:      amount,
		Currency:    s.opts.Currency,
		Method:      model.PaymentMethodManual,
		Provider:    "admin",
		Type:        model.PaymentTypeDeposit,
		Status:      model.PaymentStatusCompleted,
		Remark:      remark,
		CreatedBy:   actor,
		ProcessedAt: &now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.payments.Create(ctx, tx, payment); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		return s.ledger.ApplyInTx(ctx, tx, ledger.Entry{
			Ref:       "payment:" + payment.PaymentNo,
			Type:      model.TransactionTypeDeposit,
			Remark:    remark,
			Actor:     actor,
			Mutations: ledger.Credit(userID, amount, ledger.FieldBalance),
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info("manual payment created", zap.String("payment_no", payment.PaymentNo), zap.String("actor", actor))
	s.notifier.Notify(ctx, Event{
		Kind:        EventDepositConfirmation,
		RecipientID: userID,
		Payload: map[string]interface{}{
			"payment_no": payment.PaymentNo,
			"amount":     amount.StringFixed(2),
			"currency":   payment.Currency,
		},
	})
	return payment, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, paymentNo string) (*model.Payment, error) {
	return s.payments.GetByPaymentNo(ctx, nil, paymentNo)
}

func (s *PaymentService) ListPayments(ctx context.Context, userID int64, page, pageSize int) ([]*model.Payment, int64, error) {
	return s.payments.ListByUserID(ctx, userID, page, pageSize)
}
