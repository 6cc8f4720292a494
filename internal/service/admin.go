package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"earnsystem/internal/ledger"
	"earnsystem/internal/model"
	"earnsystem/internal/repository"
	"earnsystem/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SettlementTrigger runs the daily settlement for one day under the same
// guard the scheduler uses. Today is the current day in the settlement
// timezone.
type SettlementTrigger interface {
	RunOnce(ctx context.Context, day time.Time) (*SettlementReport, error)
	Today() time.Time
}

// AdminService holds the operator actions. Every money change goes through
// the ledger with the operator recorded as actor.
type AdminService struct {
	db          *gorm.DB
	ledger      *ledger.Ledger
	payments    *PaymentService
	accounts    *repository.AccountRepository
	subs        *repository.SubscriptionRepository
	accruals    *repository.AccrualRepository
	commissions *repository.CommissionRepository
	journal     *repository.TransactionRepository
	devices     *repository.DeviceRepository
	plans       *repository.PlanRepository
	settings    *repository.SettingRepository
	runs        *repository.SettlementRunRepository
	trigger     SettlementTrigger
}

func NewAdminService(db *gorm.DB, l *ledger.Ledger, payments *PaymentService, trigger SettlementTrigger) *AdminService {
	return &AdminService{
		db:          db,
		ledger:      l,
		payments:    payments,
		accounts:    repository.NewAccountRepository(db),
		subs:        repository.NewSubscriptionRepository(db),
		accruals:    repository.NewAccrualRepository(db),
		commissions: repository.NewCommissionRepository(db),
		journal:     repository.NewTransactionRepository(db),
		devices:     repository.NewDeviceRepository(db),
		plans:       repository.NewPlanRepository(db),
		settings:    repository.NewSettingRepository(db),
		runs:        repository.NewSettlementRunRepository(db),
		trigger:     trigger,
	}
}

// SetTrigger attaches the settlement job once it has been built.
func (s *AdminService) SetTrigger(trigger SettlementTrigger) {
	s.trigger = trigger
}

// AdjustBalance moves delta (either sign) on the user's balance. A
// negative result is rejected like any other debit.
func (s *AdminService) AdjustBalance(ctx context.Context, actor string, userID int64, delta decimal.Decimal, reason string) (*model.Account, error) {
	if delta.IsZero() {
		return nil, invalid("delta must not be zero")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, invalid("reason is required")
	}
	err := s.ledger.ApplyAtomic(ctx, ledger.Entry{
		Ref:       "admin:" + uuid.NewString(),
		Type:      model.TransactionTypeAdminAdjust,
		Remark:    reason,
		Actor:     actor,
		Mutations: []ledger.Mutation{{UserID: userID, Field: ledger.FieldBalance, Delta: delta}},
	})
	if err != nil {
		return nil, err
	}
	logger.Info("balance adjusted",
		zap.String("actor", actor),
		zap.Int64("user_id", userID),
		zap.String("delta", delta.String()),
		zap.String("reason", reason),
	)
	return s.accounts.GetByUserID(ctx, nil, userID)
}

func (s *AdminService) CreateManualPayment(ctx context.Context, actor string, userID int64, amount decimal.Decimal, remark string) (*model.Payment, error) {
	return s.payments.CreateManualPayment(ctx, actor, userID, amount, remark)
}

// SetDeviceUptime changes the uptime used for rental profit from the next
// settlement on.
func (s *AdminService) SetDeviceUptime(ctx context.Context, deviceID int64, uptime decimal.Decimal) error {
	if uptime.IsNegative() || uptime.GreaterThan(decimal.NewFromInt(100)) {
		return invalid("uptime must be within 0-100")
	}
	return s.devices.UpdateUptime(ctx, deviceID, uptime)
}

func (s *AdminService) CreateDevice(ctx context.Context, d *model.Device) error {
	switch {
	case strings.TrimSpace(d.Name) == "":
		return invalid("name is required")
	case !d.RentalPrice.IsPositive():
		return invalid("rental price must be positive")
	case d.DailyRate.IsNegative():
		return invalid("daily rate must not be negative")
	case d.RentalDays <= 0:
		return invalid("rental days must be positive")
	}
	if d.UptimePercentage.IsZero() {
		d.UptimePercentage = decimal.NewFromInt(100)
	}
	if d.Status == "" {
		d.Status = model.DeviceStatusAvailable
	}
	return s.devices.Create(ctx, d)
}

func (s *AdminService) CreatePlan(ctx context.Context, p *model.InvestmentPlan) error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return invalid("name is required")
	case !p.MinAmount.IsPositive():
		return invalid("min amount must be positive")
	case p.MaxAmount.IsPositive() && p.MaxAmount.LessThan(p.MinAmount):
		return invalid("max amount is below min amount")
	case p.DailyRate.IsNegative():
		return invalid("daily rate must not be negative")
	case p.DurationDays <= 0:
		return invalid("duration must be positive")
	}
	if p.Status == "" {
		p.Status = model.PlanStatusActive
	}
	return s.plans.Create(ctx, p)
}

func (s *AdminService) SetSetting(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return invalid("key is required")
	}
	if err := s.settings.Set(ctx, key, value); err != nil {
		return fmt.Errorf("save setting %s: %w", key, err)
	}
	logger.Info("setting changed", zap.String("key", key), zap.String("value", value))
	return nil
}

func (s *AdminService) ListSettings(ctx context.Context) ([]*model.SystemSetting, error) {
	return s.settings.All(ctx)
}

// TriggerSettlement runs the settlement for day now instead of waiting for
// the schedule. Re-running a settled day only picks up what was missed.
func (s *AdminService) TriggerSettlement(ctx context.Context, day time.Time) (*SettlementReport, error) {
	if s.trigger == nil {
		return nil, fmt.Errorf("settlement trigger not configured")
	}
	return s.trigger.RunOnce(ctx, day)
}

// SettlementDay is the day a manual trigger settles when none is given.
func (s *AdminService) SettlementDay() time.Time {
	if s.trigger == nil {
		return model.Day(time.Now().UTC())
	}
	return s.trigger.Today()
}

func (s *AdminService) ListSettlementRuns(ctx context.Context, limit int) ([]*model.SettlementRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.runs.ListRecent(ctx, limit)
}

// SetAccountStatus suspends, closes or reactivates an account. Only active
// accounts may request withdrawals.
func (s *AdminService) SetAccountStatus(ctx context.Context, actor string, userID int64, status string) (*model.Account, error) {
	switch status {
	case model.AccountStatusActive, model.AccountStatusSuspended, model.AccountStatusClosed:
	default:
		return nil, invalid("unknown account status %q", status)
	}
	account, err := s.accounts.GetByUserID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if account.Status == status {
		return account, nil
	}
	if err := s.accounts.UpdateStatus(ctx, userID, account.Status, status); err != nil {
		return nil, err
	}
	logger.Info("account status changed",
		zap.String("actor", actor),
		zap.Int64("user_id", userID),
		zap.String("from", account.Status),
		zap.String("to", status),
	)
	account.Status = status
	return account, nil
}

// SetSubscriptionStatus suspends, resumes or cancels a contract. Only active
// subscriptions are picked up by settlement.
func (s *AdminService) SetSubscriptionStatus(ctx context.Context, actor string, subscriptionID int64, status string) (*model.Subscription, error) {
	sub, err := s.subs.GetByID(ctx, nil, subscriptionID)
	if err != nil {
		return nil, err
	}
	if err := s.subs.UpdateStatus(ctx, sub.ID, sub.Status, status); err != nil {
		return nil, transitionErr(err, "subscription", sub.Status, status)
	}
	logger.Info("subscription status changed",
		zap.String("actor", actor),
		zap.Int64("subscription_id", sub.ID),
		zap.String("from", sub.Status),
		zap.String("to", status),
	)
	sub.Status = status
	return sub, nil
}

type AccrualDetail struct {
	Accrual     *model.AccrualRecord      `json:"accrual"`
	Commissions []*model.CommissionRecord `json:"commissions"`
}

// GetAccrual returns one accrual with the commissions cascaded from it.
func (s *AdminService) GetAccrual(ctx context.Context, accrualID int64) (*AccrualDetail, error) {
	rec, err := s.accruals.GetByID(ctx, accrualID)
	if err != nil {
		return nil, err
	}
	commissions, err := s.commissions.ListByAccrual(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	return &AccrualDetail{Accrual: rec, Commissions: commissions}, nil
}

func (s *AdminService) ListAccrualsByDay(ctx context.Context, day time.Time) ([]*model.AccrualRecord, error) {
	return s.accruals.ListByDay(ctx, model.Day(day))
}

// JournalByRef lists the journal rows written for one business reference,
// e.g. "withdrawal:WDR...:hold" or "accrual:42".
func (s *AdminService) JournalByRef(ctx context.Context, ref string) ([]*model.AccountTransaction, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, invalid("ref is required")
	}
	return s.journal.ListByRef(ctx, ref)
}
