package service

import (
	"context"
	"fmt"
	"time"

	"earnsystem/internal/ledger"
	"earnsystem/internal/model"
	"earnsystem/internal/repository"
	"earnsystem/pkg/idgen"
	"earnsystem/pkg/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PurchaseService buys rentals and investments from the user's balance.
type PurchaseService struct {
	db       *gorm.DB
	ledger   *ledger.Ledger
	devices  *repository.DeviceRepository
	plans    *repository.PlanRepository
	subs     *repository.SubscriptionRepository
	payments *repository.PaymentRepository
	notifier Dispatcher
	currency string
	now      func() time.Time
}

func NewPurchaseService(db *gorm.DB, l *ledger.Ledger, notifier Dispatcher, currency string) *PurchaseService {
	if notifier == nil {
		notifier = nopDispatcher{}
	}
	return &PurchaseService{
		db:       db,
		ledger:   l,
		devices:  repository.NewDeviceRepository(db),
		plans:    repository.NewPlanRepository(db),
		subs:     repository.NewSubscriptionRepository(db),
		payments: repository.NewPaymentRepository(db),
		notifier: notifier,
		currency: currency,
		now:      time.Now,
	}
}

type purchase struct {
	userID    int64
	kind      string
	principal decimal.Decimal
	dailyRate decimal.Decimal
	days      int
	deviceID  *int64
	planID    *int64
	label     string
}

// RentDevice rents a device for its standard term at its rental price.
func (s *PurchaseService) RentDevice(ctx context.Context, userID, deviceID int64) (*model.Subscription, error) {
	device, err := s.devices.GetByID(ctx, nil, deviceID)
	if err != nil {
		return nil, err
	}
	if device.Status != model.DeviceStatusAvailable {
		return nil, invalid("device %d is not available", deviceID)
	}

	sub, err := s.buy(ctx, purchase{
		userID:    userID,
		kind:      model.SubscriptionKindRental,
		principal: device.RentalPrice,
		dailyRate: device.DailyRate,
		days:      device.RentalDays,
		deviceID:  &device.ID,
		label:     device.Name,
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, Event{
		Kind:        EventRentalActivation,
		RecipientID: userID,
		Payload: map[string]interface{}{
			"subscription_no":       sub.SubscriptionNo,
			"device":                device.Name,
			"price":                 sub.Principal.StringFixed(2),
			"expected_daily_profit": sub.ExpectedDailyProfit.StringFixed(2),
			"start_date":            sub.StartDate.Format(model.DateLayout),
			"end_date":              sub.EndDate.Format(model.DateLayout),
		},
	})
	return sub, nil
}

// Invest puts amount into a plan. amount must lie within the plan limits.
func (s *PurchaseService) Invest(ctx context.Context, userID, planID int64, amount decimal.Decimal) (*model.Subscription, error) {
	plan, err := s.plans.GetByID(ctx, nil, planID)
	if err != nil {
		return nil, err
	}
	if plan.Status != model.PlanStatusActive {
		return nil, invalid("plan %d is not open for investment", planID)
	}
	if amount.LessThan(plan.MinAmount) || (plan.MaxAmount.IsPositive() && amount.GreaterThan(plan.MaxAmount)) {
		return nil, invalid("amount must be between %s and %s", plan.MinAmount.StringFixed(2), plan.MaxAmount.StringFixed(2))
	}

	sub, err := s.buy(ctx, purchase{
		userID:    userID,
		kind:      model.SubscriptionKindInvestment,
		principal: amount,
		dailyRate: plan.DailyRate,
		days:      plan.DurationDays,
		planID:    &plan.ID,
		label:     plan.Name,
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, Event{
		Kind:        EventInvestmentConfirmation,
		RecipientID: userID,
		Payload: map[string]interface{}{
			"subscription_no":       sub.SubscriptionNo,
			"plan":                  plan.Name,
			"amount":                sub.Principal.StringFixed(2),
			"expected_daily_profit": sub.ExpectedDailyProfit.StringFixed(2),
			"end_date":              sub.EndDate.Format(model.DateLayout),
		},
	})
	return sub, nil
}

// buy debits the balance, records a completed balance payment and opens an
// active subscription, all in one transaction. The term covers exactly
// p.days accrual days starting today.
func (s *PurchaseService) buy(ctx context.Context, p purchase) (*model.Subscription, error) {
	if !p.principal.IsPositive() {
		return nil, invalid("amount must be positive")
	}
	if !p.principal.Equal(ledger.Money(p.principal)) {
		return nil, invalid("amount has too many decimal places")
	}
	if p.days <= 0 {
		return nil, invalid("term must be at least one day")
	}

	start := model.Day(s.now())
	paymentNo := idgen.GeneratePaymentNo()
	now := s.now()
	paymentType := model.PaymentTypeInvestment
	if p.kind == model.SubscriptionKindRental {
		paymentType = model.PaymentTypeRental
	}

	payment := &model.Payment{
		PaymentNo:   paymentNo,
		UserID:      p.userID,
		Amount:      p.principal,
		Currency:    s.currency,
		Method:      model.PaymentMethodBalance,
		Type:        paymentType,
		Status:      model.PaymentStatusCompleted,
		Remark:      p.label,
		ProcessedAt: &now,
	}
	sub := &model.Subscription{
		SubscriptionNo:      idgen.GenerateSubscriptionNo(),
		UserID:              p.userID,
		Kind:                p.kind,
		DeviceID:            p.deviceID,
		PlanID:              p.planID,
		PaymentNo:           paymentNo,
		Principal:           p.principal,
		DailyRate:           p.dailyRate,
		ExpectedDailyProfit: DailyProfit(p.principal, p.dailyRate),
		Status:              model.SubscriptionStatusActive,
		StartDate:           start,
		EndDate:             start.AddDate(0, 0, p.days-1),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := s.ledger.ApplyInTx(ctx, tx, ledger.Entry{
			Ref:    "payment:" + paymentNo,
			Type:   model.TransactionTypePurchase,
			Remark: fmt.Sprintf("%s purchase: %s", p.kind, p.label),
			Actor:  "user",
			Mutations: []ledger.Mutation{
				ledger.Debit(p.userID, p.principal),
				{UserID: p.userID, Field: ledger.FieldTotalInvested, Delta: p.principal},
			},
		})
		if err != nil {
			return err
		}
		if err := s.payments.Create(ctx, tx, payment); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		if err := s.subs.Create(ctx, tx, sub); err != nil {
			return fmt.Errorf("create subscription: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("subscription purchased",
		zap.String("subscription_no", sub.SubscriptionNo),
		zap.Int64("user_id", p.userID),
		zap.String("kind", p.kind),
		zap.String("principal", p.principal.String()),
	)
	return sub, nil
}
