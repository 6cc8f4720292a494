package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"earnsystem/internal/infrastructure/lock"
	"earnsystem/internal/ledger"
	"earnsystem/internal/metrics"
	"earnsystem/internal/model"
	"earnsystem/internal/repository"
	"earnsystem/pkg/idgen"
	"earnsystem/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type WithdrawalOptions struct {
	FeePercent           decimal.Decimal
	MinAmount            decimal.Decimal
	AutoApproveMaxAmount decimal.Decimal
	Currency             string
}

// WithdrawalService moves a withdrawal through its states. The full amount
// is held off the balance at request time; from then on exactly one of
// refund (reject, cancel) or completion happens, guarded by a
// compare-and-set on the request status in the same transaction as the
// money movement.
type WithdrawalService struct {
	db          *gorm.DB
	redis       *redis.Client
	ledger      *ledger.Ledger
	accounts    *repository.AccountRepository
	withdrawals *repository.WithdrawalRepository
	payments    *repository.PaymentRepository
	settings    SettingsProvider
	notifier    Dispatcher
	opts        WithdrawalOptions
}

func NewWithdrawalService(db *gorm.DB, rdb *redis.Client, l *ledger.Ledger, settings SettingsProvider, notifier Dispatcher, opts WithdrawalOptions) *WithdrawalService {
	if notifier == nil {
		notifier = nopDispatcher{}
	}
	return &WithdrawalService{
		db:          db,
		redis:       rdb,
		ledger:      l,
		accounts:    repository.NewAccountRepository(db),
		withdrawals: repository.NewWithdrawalRepository(db),
		payments:    repository.NewPaymentRepository(db),
		settings:    settings,
		notifier:    notifier,
		opts:        opts,
	}
}

type WithdrawalRequestInput struct {
	UserID  int64           `json:"user_id" binding:"required,gt=0"`
	Amount  decimal.Decimal `json:"amount" binding:"required"`
	Method  string          `json:"method"`
	Address string          `json:"address" binding:"required"`
}

// Request validates, computes the fee, holds the full amount and creates a
// pending request. Small requests are approved at once.
func (s *WithdrawalService) Request(ctx context.Context, in *WithdrawalRequestInput) (*model.WithdrawalRequest, error) {
	if !s.settings.GetBool(ctx, SettingWithdrawalsEnabled, true) {
		return nil, invalid("withdrawals are temporarily disabled")
	}
	minAmount := s.settings.GetDecimal(ctx, SettingMinWithdrawalAmount, s.opts.MinAmount)
	feePercent := s.settings.GetDecimal(ctx, SettingWithdrawalFeePercent, s.opts.FeePercent)
	autoMax := s.settings.GetDecimal(ctx, SettingAutoApproveMaxAmount, s.opts.AutoApproveMaxAmount)

	if !in.Amount.IsPositive() || !in.Amount.Equal(ledger.Money(in.Amount)) {
		return nil, invalid("amount must be positive with at most %d decimals", ledger.Scale)
	}
	if in.Amount.LessThan(minAmount) {
		return nil, invalid("minimum withdrawal is %s", minAmount.StringFixed(2))
	}
	if strings.TrimSpace(in.Address) == "" {
		return nil, invalid("address is required")
	}
	fee, net := WithdrawalFee(in.Amount, feePercent)
	if !net.IsPositive() {
		return nil, invalid("amount does not cover the fee")
	}

	account, err := s.accounts.GetByUserID(ctx, nil, in.UserID)
	if err != nil {
		return nil, err
	}
	if account.Status != model.AccountStatusActive {
		return nil, fmt.Errorf("%w: account is %s", ErrForbidden, account.Status)
	}

	if s.redis != nil {
		userLock := lock.NewWithdrawalLock(s.redis, in.UserID, uuid.NewString())
		if err := userLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
			return nil, fmt.Errorf("acquire withdrawal lock: %w", err)
		}
		defer func() {
			if err := userLock.Unlock(context.Background()); err != nil {
				logger.Warn("release withdrawal lock failed", zap.Int64("user_id", in.UserID), zap.Error(err))
			}
		}()
	}

	w := &model.WithdrawalRequest{
		WithdrawalNo: idgen.GenerateWithdrawalNo(),
		UserID:       in.UserID,
		Amount:       in.Amount,
		FeeAmount:    fee,
		NetAmount:    net,
		Method:       in.Method,
		Address:      strings.TrimSpace(in.Address),
		Status:       model.WithdrawalStatusPending,
	}

	autoApprove := autoMax.IsPositive() && !in.Amount.GreaterThan(autoMax)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.withdrawals.Create(ctx, tx, w); err != nil {
			return fmt.Errorf("create withdrawal: %w", err)
		}
		err := s.ledger.ApplyInTx(ctx, tx, ledger.Entry{
			Ref:       "withdrawal:" + w.WithdrawalNo + ":hold",
			Type:      model.TransactionTypeWithdrawalHold,
			Remark:    fmt.Sprintf("withdrawal hold, fee %s", fee.StringFixed(2)),
			Actor:     "user",
			Mutations: []ledger.Mutation{ledger.Debit(in.UserID, in.Amount)},
		})
		if err != nil {
			return err
		}
		if autoApprove {
			now := time.Now()
			if err := s.withdrawals.UpdateStatus(ctx, tx, w.WithdrawalNo, model.WithdrawalStatusPending, model.WithdrawalStatusApproved,
				map[string]interface{}{"processed_by": "auto", "processed_at": &now}); err != nil {
				return transitionErr(err, "withdrawal", model.WithdrawalStatusPending, model.WithdrawalStatusApproved)
			}
			w.Status = model.WithdrawalStatusApproved
			w.ProcessedBy = "auto"
			w.ProcessedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.done(ctx, w)
	return w, nil
}

// Cancel lets the owner withdraw a still-pending request; the hold is
// returned in full.
func (s *WithdrawalService) Cancel(ctx context.Context, userID int64, withdrawalNo string) (*model.WithdrawalRequest, error) {
	return s.transition(ctx, withdrawalNo, model.WithdrawalStatusCancelled, fmt.Sprintf("user:%d", userID), "", func(w *model.WithdrawalRequest) error {
		if w.UserID != userID {
			return ErrForbidden
		}
		return nil
	})
}

func (s *WithdrawalService) Approve(ctx context.Context, actor, withdrawalNo string) (*model.WithdrawalRequest, error) {
	return s.transition(ctx, withdrawalNo, model.WithdrawalStatusApproved, actor, "", nil)
}

// MarkProcessing records that the payout has been handed to the payout rail.
func (s *WithdrawalService) MarkProcessing(ctx context.Context, actor, withdrawalNo string) (*model.WithdrawalRequest, error) {
	return s.transition(ctx, withdrawalNo, model.WithdrawalStatusProcessing, actor, "", nil)
}

// Reject returns the full held amount, fee included.
func (s *WithdrawalService) Reject(ctx context.Context, actor, withdrawalNo, reason string) (*model.WithdrawalRequest, error) {
	return s.transition(ctx, withdrawalNo, model.WithdrawalStatusRejected, actor, reason, nil)
}

// Complete adds the net amount to total_withdrawn and records the payout
// and the fee as payments. The fee stays off the balance.
func (s *WithdrawalService) Complete(ctx context.Context, actor, withdrawalNo string) (*model.WithdrawalRequest, error) {
	return s.transition(ctx, withdrawalNo, model.WithdrawalStatusCompleted, actor, "", nil)
}

func (s *WithdrawalService) transition(ctx context.Context, withdrawalNo, to, actor, remark string, check func(*model.WithdrawalRequest) error) (*model.WithdrawalRequest, error) {
	var w *model.WithdrawalRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.withdrawals.GetByNoForUpdate(ctx, tx, withdrawalNo)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(locked); err != nil {
				return err
			}
		}
		from := locked.Status

		now := time.Now()
		extra := map[string]interface{}{"processed_by": actor, "processed_at": &now}
		if remark != "" {
			extra["remark"] = remark
		}
		if to == model.WithdrawalStatusCompleted {
			extra["completed_at"] = &now
		}
		if err := s.withdrawals.UpdateStatus(ctx, tx, withdrawalNo, from, to, extra); err != nil {
			return transitionErr(err, "withdrawal", from, to)
		}

		switch to {
		case model.WithdrawalStatusRejected, model.WithdrawalStatusCancelled:
			err = s.ledger.ApplyInTx(ctx, tx, ledger.Entry{
				Ref:       "withdrawal:" + withdrawalNo + ":refund",
				Type:      model.TransactionTypeWithdrawalRefund,
				Remark:    fmt.Sprintf("withdrawal %s", to),
				Actor:     actor,
				Mutations: ledger.Credit(locked.UserID, locked.Amount, ledger.FieldBalance),
			})
		case model.WithdrawalStatusCompleted:
			err = s.complete(ctx, tx, locked, actor, now)
		}
		if err != nil {
			return err
		}

		locked.Status = to
		locked.ProcessedBy = actor
		locked.ProcessedAt = &now
		if remark != "" {
			locked.Remark = remark
		}
		if to == model.WithdrawalStatusCompleted {
			locked.CompletedAt = &now
		}
		w = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.done(ctx, w)
	return w, nil
}

func (s *WithdrawalService) complete(ctx context.Context, tx *gorm.DB, w *model.WithdrawalRequest, actor string, now time.Time) error {
	err := s.ledger.ApplyInTx(ctx, tx, ledger.Entry{
		Ref:    "withdrawal:" + w.WithdrawalNo + ":complete",
		Type:   model.TransactionTypeWithdrawalComplete,
		Remark: fmt.Sprintf("withdrawal paid out, fee %s", w.FeeAmount.StringFixed(2)),
		Actor:  actor,
		Mutations: []ledger.Mutation{
			{UserID: w.UserID, Field: ledger.FieldTotalWithdrawn, Delta: w.NetAmount},
		},
	})
	if err != nil {
		return err
	}

	payout := &model.Payment{
		PaymentNo:   idgen.GeneratePaymentNo(),
		UserID:      w.UserID,
		Amount:      w.NetAmount,
		Currency:    s.opts.Currency,
		Method:      w.Method,
		Type:        model.PaymentTypeWithdrawal,
		Status:      model.PaymentStatusCompleted,
		Remark:      w.WithdrawalNo,
		CreatedBy:   actor,
		ProcessedAt: &now,
	}
	if err := s.payments.Create(ctx, tx, payout); err != nil {
		return fmt.Errorf("record payout: %w", err)
	}
	if w.FeeAmount.IsPositive() {
		fee := &model.Payment{
			PaymentNo:   idgen.GeneratePaymentNo(),
			UserID:      w.UserID,
			Amount:      w.FeeAmount,
			Currency:    s.opts.Currency,
			Method:      model.PaymentMethodBalance,
			Type:        model.PaymentTypeFee,
			Status:      model.PaymentStatusCompleted,
			Remark:      w.WithdrawalNo,
			CreatedBy:   actor,
			ProcessedAt: &now,
		}
		if err := s.payments.Create(ctx, tx, fee); err != nil {
			return fmt.Errorf("record fee: %w", err)
		}
	}
	return nil
}

func (s *WithdrawalService) done(ctx context.Context, w *model.WithdrawalRequest) {
	metrics.WithdrawalsTotal.WithLabelValues(w.Status).Inc()
	logger.Info("withdrawal updated",
		zap.String("withdrawal_no", w.WithdrawalNo),
		zap.Int64("user_id", w.UserID),
		zap.String("status", w.Status),
		zap.String("amount", w.Amount.String()),
	)
	s.notifier.Notify(ctx, Event{
		Kind:        EventWithdrawalNotification,
		RecipientID: w.UserID,
		Payload: map[string]interface{}{
			"withdrawal_no": w.WithdrawalNo,
			"status":        w.Status,
			"amount":        w.Amount.StringFixed(2),
			"fee":           w.FeeAmount.StringFixed(2),
			"net_amount":    w.NetAmount.StringFixed(2),
		},
	})
}

func (s *WithdrawalService) Get(ctx context.Context, withdrawalNo string) (*model.WithdrawalRequest, error) {
	return s.withdrawals.GetByNo(ctx, nil, withdrawalNo)
}

func (s *WithdrawalService) ListByStatus(ctx context.Context, status string, page, pageSize int) ([]*model.WithdrawalRequest, int64, error) {
	return s.withdrawals.ListByStatus(ctx, status, page, pageSize)
}

func (s *WithdrawalService) ListByUser(ctx context.Context, userID int64, page, pageSize int) ([]*model.WithdrawalRequest, int64, error) {
	return s.withdrawals.ListByUserID(ctx, userID, page, pageSize)
}
