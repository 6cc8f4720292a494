package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"earnsystem/internal/ledger"
	"earnsystem/internal/metrics"
	"earnsystem/internal/model"
	"earnsystem/internal/repository"
	"earnsystem/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type SettlementOptions struct {
	Workers             int
	BatchSize           int
	CascadeLookbackDays int
}

func (o SettlementOptions) withDefaults() SettlementOptions {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.CascadeLookbackDays <= 0 {
		o.CascadeLookbackDays = 7
	}
	return o
}

// KindStats counts one subscription kind in a run.
type KindStats struct {
	Processed int             `json:"processed"`
	Skipped   int             `json:"skipped"`
	Failed    int             `json:"failed"`
	Profit    decimal.Decimal `json:"profit"`
}

type SettlementFailure struct {
	SubscriptionID int64  `json:"subscription_id"`
	Kind           string `json:"kind"`
	Error          string `json:"error"`
	Invariant      bool   `json:"invariant"` // balance or counter invariant, needs a human
}

type SettlementReport struct {
	RunID              string              `json:"run_id"`
	Day                time.Time           `json:"day"`
	Rental             KindStats           `json:"rental"`
	Investment         KindStats           `json:"investment"`
	CommissionsApplied int                 `json:"commissions_applied"`
	CommissionsSkipped int                 `json:"commissions_skipped"`
	CommissionsFailed  int                 `json:"commissions_failed"`
	CommissionTotal    decimal.Decimal     `json:"commission_total"`
	Recovered          int                 `json:"recovered_accruals"`
	Matured            int64               `json:"matured"`
	Failures           []SettlementFailure `json:"failures,omitempty"`
	StartedAt          time.Time           `json:"started_at"`
	FinishedAt         time.Time           `json:"finished_at"`

	mu       sync.Mutex
	earnings map[int64]*userEarnings
}

type userEarnings struct {
	total decimal.Decimal
	count int
}

func (r *SettlementReport) stats(kind string) *KindStats {
	if kind == model.SubscriptionKindRental {
		return &r.Rental
	}
	return &r.Investment
}

func (r *SettlementReport) addCascade(res CascadeResult) {
	r.CommissionsApplied += res.Applied
	r.CommissionsSkipped += res.Skipped
	r.CommissionsFailed += res.Failed
	r.CommissionTotal = r.CommissionTotal.Add(res.Total)
}

// TotalFailed counts failed subscriptions of both kinds.
func (r *SettlementReport) TotalFailed() int {
	return r.Rental.Failed + r.Investment.Failed
}

// SettlementEngine runs the daily accrual batch.
type SettlementEngine struct {
	db       *gorm.DB
	ledger   *ledger.Ledger
	subs     *repository.SubscriptionRepository
	accruals *repository.AccrualRepository
	devices  *repository.DeviceRepository
	runs     *repository.SettlementRunRepository
	cascade  *CommissionCascade
	notifier Dispatcher
	opts     SettlementOptions
}

func NewSettlementEngine(db *gorm.DB, l *ledger.Ledger, cascade *CommissionCascade, notifier Dispatcher, opts SettlementOptions) *SettlementEngine {
	if notifier == nil {
		notifier = nopDispatcher{}
	}
	return &SettlementEngine{
		db:       db,
		ledger:   l,
		subs:     repository.NewSubscriptionRepository(db),
		accruals: repository.NewAccrualRepository(db),
		devices:  repository.NewDeviceRepository(db),
		runs:     repository.NewSettlementRunRepository(db),
		cascade:  cascade,
		notifier: notifier,
		opts:     opts.withDefaults(),
	}
}

// RunDailySettlement accrues profit for every subscription eligible on day
// and cascades commissions. It is safe to run again for the same day: work
// already committed is skipped through the (subscription, day) unique key
// and the last_profit_date guard. One subscription failing does not stop
// the others; the error return is reserved for failures that prevent the
// run from proceeding at all.
func (e *SettlementEngine) RunDailySettlement(ctx context.Context, day time.Time) (*SettlementReport, error) {
	day = model.Day(day)
	report := &SettlementReport{
		RunID:     uuid.NewString(),
		Day:       day,
		StartedAt: time.Now(),
		earnings:  make(map[int64]*userEarnings),
	}
	log := logger.Log.With(zap.String("run_id", report.RunID), zap.String("day", day.Format(model.DateLayout)))
	log.Info("[Settlement] run started")

	run := &model.SettlementRun{
		ID:        report.RunID,
		Day:       day,
		Status:    model.SettlementRunRunning,
		StartedAt: report.StartedAt,
	}
	if err := e.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create settlement run: %w", err)
	}

	runErr := e.run(ctx, day, report, log)

	report.FinishedAt = time.Now()
	e.finishRun(ctx, run, report, runErr)
	metrics.SettlementDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())

	log.Info("[Settlement] run finished",
		zap.Int("rental_processed", report.Rental.Processed),
		zap.Int("rental_skipped", report.Rental.Skipped),
		zap.Int("rental_failed", report.Rental.Failed),
		zap.Int("investment_processed", report.Investment.Processed),
		zap.Int("investment_skipped", report.Investment.Skipped),
		zap.Int("investment_failed", report.Investment.Failed),
		zap.Int("commissions_applied", report.CommissionsApplied),
		zap.Int("commissions_failed", report.CommissionsFailed),
		zap.Int64("matured", report.Matured),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
		zap.Error(runErr),
	)
	return report, runErr
}

func (e *SettlementEngine) run(ctx context.Context, day time.Time, report *SettlementReport, log *zap.Logger) error {
	lookback := day.AddDate(0, 0, -e.opts.CascadeLookbackDays)

	if err := e.recoverCascades(ctx, lookback, report); err != nil {
		// The sweep is retried by the next run; the day's accruals still go ahead.
		log.Error("[Settlement] cascade recovery failed", zap.Error(err))
	}

	matured, err := e.subs.MatureEnded(ctx, day, lookback)
	if err != nil {
		log.Error("[Settlement] maturity update failed", zap.Error(err))
	}
	report.Matured = matured

	if err := e.settleEligible(ctx, day, report); err != nil {
		return err
	}

	e.notifyEarnings(ctx, day, report)
	return nil
}

// recoverCascades re-runs the cascade for recent accruals whose upline has
// not been fully paid, covering a crash between an accrual commit and its
// cascade.
func (e *SettlementEngine) recoverCascades(ctx context.Context, since time.Time, report *SettlementReport) error {
	var afterID int64
	for {
		pending, err := e.accruals.ListMissingCommissions(ctx, since, afterID, e.opts.BatchSize)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}
		for _, acc := range pending {
			res, err := e.cascade.ApplyCommissions(ctx, acc)
			report.addCascade(res)
			if err != nil {
				logger.Warn("[Settlement] recovery cascade incomplete", zap.Int64("accrual_id", acc.ID), zap.Error(err))
				continue
			}
			report.Recovered++
		}
		afterID = pending[len(pending)-1].ID
	}
}

func (e *SettlementEngine) settleEligible(ctx context.Context, day time.Time, report *SettlementReport) error {
	type job struct {
		sub    *model.Subscription
		uptime *decimal.Decimal
	}
	jobs := make(chan job)

	var wg sync.WaitGroup
	for i := 0; i < e.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				e.settleAndCascade(ctx, j.sub, day, j.uptime, report)
			}
		}()
	}

	var listErr error
	var afterID int64
paging:
	for {
		if err := ctx.Err(); err != nil {
			listErr = err
			break
		}
		page, err := e.subs.ListEligible(ctx, day, afterID, e.opts.BatchSize)
		if err != nil {
			listErr = fmt.Errorf("list eligible subscriptions: %w", err)
			break
		}
		if len(page) == 0 {
			break
		}

		uptimes, err := e.deviceUptimes(ctx, page)
		if err != nil {
			listErr = fmt.Errorf("load device uptime: %w", err)
			break
		}

		for _, sub := range page {
			var uptime *decimal.Decimal
			if sub.DeviceID != nil {
				if u, ok := uptimes[*sub.DeviceID]; ok {
					uptime = &u
				}
			}
			select {
			case jobs <- job{sub: sub, uptime: uptime}:
			case <-ctx.Done():
				listErr = ctx.Err()
				break paging
			}
		}
		afterID = page[len(page)-1].ID
	}
	close(jobs)
	wg.Wait()
	return listErr
}

func (e *SettlementEngine) deviceUptimes(ctx context.Context, subs []*model.Subscription) (map[int64]decimal.Decimal, error) {
	ids := make([]int64, 0, len(subs))
	for _, s := range subs {
		if s.Kind == model.SubscriptionKindRental && s.DeviceID != nil {
			ids = append(ids, *s.DeviceID)
		}
	}
	return e.devices.UptimeByIDs(ctx, ids)
}

// rentalUptime resolves the uptime a rental is weighted by.
func (e *SettlementEngine) rentalUptime(ctx context.Context, tx *gorm.DB, sub *model.Subscription, prefetched *decimal.Decimal) (decimal.Decimal, error) {
	if sub.DeviceID == nil {
		return decimal.Zero, fmt.Errorf("%w: subscription %d", ErrRentalWithoutDevice, sub.ID)
	}
	if prefetched != nil {
		return *prefetched, nil
	}
	device, err := e.devices.GetByID(ctx, tx, *sub.DeviceID)
	if errors.Is(err, repository.ErrDeviceNotFound) {
		return decimal.Zero, fmt.Errorf("%w: subscription %d device %d", ErrRentalWithoutDevice, sub.ID, *sub.DeviceID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("load device %d: %w", *sub.DeviceID, err)
	}
	return device.UptimePercentage, nil
}

// settleAndCascade runs one subscription and records the outcome.
func (e *SettlementEngine) settleAndCascade(ctx context.Context, sub *model.Subscription, day time.Time, uptime *decimal.Decimal, report *SettlementReport) {
	accrual, err := e.SettleSubscription(ctx, sub.ID, day, uptime)

	var cascade CascadeResult
	var cascadeErr error
	if err == nil {
		cascade, cascadeErr = e.cascade.ApplyCommissions(ctx, accrual)
		if cascadeErr != nil {
			logger.Warn("[Settlement] cascade incomplete, next run retries it",
				zap.Int64("accrual_id", accrual.ID), zap.Error(cascadeErr))
		}
	}

	report.mu.Lock()
	defer report.mu.Unlock()

	stats := report.stats(sub.Kind)
	switch {
	case err == nil:
		stats.Processed++
		stats.Profit = stats.Profit.Add(accrual.ProfitAmount)
		report.addCascade(cascade)
		if accrual.ProfitAmount.IsPositive() {
			ue := report.earnings[accrual.UserID]
			if ue == nil {
				ue = &userEarnings{}
				report.earnings[accrual.UserID] = ue
			}
			ue.total = ue.total.Add(accrual.ProfitAmount)
			ue.count++
		}
		metrics.SettlementSubscriptions.WithLabelValues(sub.Kind, "processed").Inc()
	case errors.Is(err, ErrAlreadyProcessed):
		stats.Skipped++
		logger.Debug("[Settlement] already settled", zap.Int64("subscription_id", sub.ID))
		metrics.SettlementSubscriptions.WithLabelValues(sub.Kind, "skipped").Inc()
	default:
		stats.Failed++
		invariant := errors.Is(err, ledger.ErrInvariantViolation) || errors.Is(err, ledger.ErrInsufficientBalance)
		report.Failures = append(report.Failures, SettlementFailure{
			SubscriptionID: sub.ID,
			Kind:           sub.Kind,
			Error:          err.Error(),
			Invariant:      invariant,
		})
		logger.Error("[Settlement] subscription failed",
			zap.Int64("subscription_id", sub.ID),
			zap.Int64("user_id", sub.UserID),
			zap.String("kind", sub.Kind),
			zap.Bool("invariant", invariant),
			zap.Bool("retryable", IsRetryable(err)),
			zap.Error(err),
		)
		metrics.SettlementSubscriptions.WithLabelValues(sub.Kind, "failed").Inc()
	}
}

// SettleSubscription accrues one day for one subscription in a single
// transaction: accrual row, ledger credit and running totals commit
// together. It returns ErrAlreadyProcessed when the day is already settled
// or the subscription is no longer eligible. uptime is the prefetched device
// uptime for rentals; nil loads it from the device row. A rental without a
// device fails with ErrRentalWithoutDevice and is not paid.
func (e *SettlementEngine) SettleSubscription(ctx context.Context, subscriptionID int64, day time.Time, uptime *decimal.Decimal) (*model.AccrualRecord, error) {
	day = model.Day(day)
	var accrual *model.AccrualRecord

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := e.subs.GetByIDForUpdate(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if sub.Status != model.SubscriptionStatusActive || !sub.Covers(day) || sub.SettledOn(day) {
			return ErrAlreadyProcessed
		}

		rec := &model.AccrualRecord{
			SubscriptionID: sub.ID,
			EarningDate:    day,
			UserID:         sub.UserID,
			Kind:           sub.Kind,
			BaseAmount:     sub.ExpectedDailyProfit,
			Rate:           sub.DailyRate,
		}
		switch sub.Kind {
		case model.SubscriptionKindRental:
			u, err := e.rentalUptime(ctx, tx, sub, uptime)
			if err != nil {
				return err
			}
			rec.UptimePercentage = &u
			rec.ProfitAmount = RentalProfit(sub.ExpectedDailyProfit, u)
		case model.SubscriptionKindInvestment:
			rec.ProfitAmount = InvestmentProfit(sub.ExpectedDailyProfit)
		default:
			return fmt.Errorf("unknown subscription kind %q", sub.Kind)
		}

		inserted, err := e.accruals.Insert(ctx, tx, rec)
		if err != nil {
			return fmt.Errorf("insert accrual: %w", err)
		}
		if !inserted {
			return ErrAlreadyProcessed
		}

		if rec.ProfitAmount.IsPositive() {
			entryType, bucket := model.TransactionTypeInvestmentProfit, ledger.FieldInvestmentEarnings
			if sub.Kind == model.SubscriptionKindRental {
				entryType, bucket = model.TransactionTypeRentalProfit, ledger.FieldRentalEarnings
			}
			err = e.ledger.ApplyInTx(ctx, tx, ledger.Entry{
				Ref:       fmt.Sprintf("accrual:%d", rec.ID),
				Type:      entryType,
				Remark:    fmt.Sprintf("%s profit %s for %s", sub.Kind, day.Format(model.DateLayout), sub.SubscriptionNo),
				Actor:     "system",
				Mutations: ledger.Credit(sub.UserID, rec.ProfitAmount, ledger.FieldBalance, ledger.FieldTotalEarnings, bucket),
			})
			if err != nil {
				return err
			}
		}

		if err := e.subs.RecordAccrual(ctx, tx, sub, rec.ProfitAmount, day); err != nil {
			return fmt.Errorf("update subscription totals: %w", err)
		}
		accrual = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accrual, nil
}

func (e *SettlementEngine) notifyEarnings(ctx context.Context, day time.Time, report *SettlementReport) {
	for userID, ue := range report.earnings {
		e.notifier.Notify(ctx, Event{
			Kind:        EventDailyEarnings,
			RecipientID: userID,
			Payload: map[string]interface{}{
				"date":          day.Format(model.DateLayout),
				"total":         ue.total.StringFixed(2),
				"subscriptions": ue.count,
			},
		})
	}
}

func (e *SettlementEngine) finishRun(ctx context.Context, run *model.SettlementRun, report *SettlementReport, runErr error) {
	finished := report.FinishedAt
	run.FinishedAt = &finished
	run.RentalProcessed = report.Rental.Processed
	run.RentalSkipped = report.Rental.Skipped
	run.RentalFailed = report.Rental.Failed
	run.InvestmentProcessed = report.Investment.Processed
	run.InvestmentSkipped = report.Investment.Skipped
	run.InvestmentFailed = report.Investment.Failed
	run.CommissionsApplied = report.CommissionsApplied
	run.CommissionsFailed = report.CommissionsFailed
	run.Matured = int(report.Matured)
	run.TotalProfit = report.Rental.Profit.Add(report.Investment.Profit)
	run.TotalCommission = report.CommissionTotal

	switch {
	case runErr != nil:
		run.Status = model.SettlementRunFailed
		run.Error = runErr.Error()
	case report.TotalFailed() > 0 || report.CommissionsFailed > 0:
		run.Status = model.SettlementRunPartial
	default:
		run.Status = model.SettlementRunCompleted
	}

	// The run row is an audit record; a failure here must not hide the report.
	if err := e.runs.Save(ctx, run); err != nil {
		logger.Error("[Settlement] save run failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}
