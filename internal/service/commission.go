package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"earnsystem/internal/ledger"
	"earnsystem/internal/metrics"
	"earnsystem/internal/model"
	"earnsystem/internal/repository"
	"earnsystem/pkg/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CascadeResult counts what one ApplyCommissions call did.
type CascadeResult struct {
	Applied int
	Skipped int
	Failed  int
	Total   decimal.Decimal
}

func (r *CascadeResult) add(o CascadeResult) {
	r.Applied += o.Applied
	r.Skipped += o.Skipped
	r.Failed += o.Failed
	r.Total = r.Total.Add(o.Total)
}

// CommissionCascade pays an accrual's upline its commission shares.
type CommissionCascade struct {
	db          *gorm.DB
	ledger      *ledger.Ledger
	referrals   *repository.ReferralRepository
	commissions *repository.CommissionRepository
	notifier    Dispatcher
}

func NewCommissionCascade(db *gorm.DB, l *ledger.Ledger, notifier Dispatcher) *CommissionCascade {
	if notifier == nil {
		notifier = nopDispatcher{}
	}
	return &CommissionCascade{
		db:          db,
		ledger:      l,
		referrals:   repository.NewReferralRepository(db),
		commissions: repository.NewCommissionRepository(db),
		notifier:    notifier,
	}
}

// ApplyCommissions pays each active upline edge of the earner its share of
// accrual.ProfitAmount, level 1 first. Each edge is settled in its own
// transaction keyed by (accrual, edge), so calling this again for the same
// accrual only fills in the edges that are still missing.
func (c *CommissionCascade) ApplyCommissions(ctx context.Context, accrual *model.AccrualRecord) (CascadeResult, error) {
	var result CascadeResult

	edges, err := c.referrals.ListActiveByReferred(ctx, nil, accrual.UserID)
	if err != nil {
		return result, fmt.Errorf("load upline of %d: %w", accrual.UserID, err)
	}

	var errs []error
	for _, edge := range edges {
		amount, applied, err := c.applyEdge(ctx, accrual, edge)
		level := strconv.Itoa(edge.Level)
		switch {
		case err != nil:
			result.Failed++
			metrics.CommissionsTotal.WithLabelValues(level, "failed").Inc()
			logger.Error("commission failed",
				zap.Int64("accrual_id", accrual.ID),
				zap.Int64("edge_id", edge.ID),
				zap.Int("level", edge.Level),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("edge %d: %w", edge.ID, err))
		case !applied:
			result.Skipped++
			metrics.CommissionsTotal.WithLabelValues(level, "skipped").Inc()
			logger.Debug("commission already applied", zap.Int64("accrual_id", accrual.ID), zap.Int64("edge_id", edge.ID))
		default:
			result.Applied++
			result.Total = result.Total.Add(amount)
			metrics.CommissionsTotal.WithLabelValues(level, "applied").Inc()
			if amount.IsPositive() {
				c.notifier.Notify(ctx, Event{
					Kind:        EventReferralBonus,
					RecipientID: edge.ReferrerID,
					Payload: map[string]interface{}{
						"amount":       amount.StringFixed(2),
						"level":        edge.Level,
						"referred_id":  accrual.UserID,
						"source":       model.CommissionSourceFor(accrual.Kind),
						"earning_date": accrual.EarningDate.Format(model.DateLayout),
					},
				})
			}
		}
	}
	return result, errors.Join(errs...)
}

func (c *CommissionCascade) applyEdge(ctx context.Context, accrual *model.AccrualRecord, edge *model.ReferralEdge) (decimal.Decimal, bool, error) {
	amount := Commission(accrual.ProfitAmount, edge.CommissionRate)
	applied := false

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := &model.CommissionRecord{
			AccrualID:        accrual.ID,
			EdgeID:           edge.ID,
			ReferrerID:       edge.ReferrerID,
			ReferredID:       edge.ReferredID,
			SourceType:       model.CommissionSourceFor(accrual.Kind),
			Level:            edge.Level,
			Rate:             edge.CommissionRate,
			BaseAmount:       accrual.ProfitAmount,
			CommissionAmount: amount,
			EarningDate:      accrual.EarningDate,
		}
		inserted, err := c.commissions.Insert(ctx, tx, rec)
		if err != nil {
			return fmt.Errorf("insert commission record: %w", err)
		}
		if !inserted {
			return nil
		}
		applied = true

		// A share that truncates to zero is recorded so the recovery sweep
		// sees the edge as done, but moves no money.
		if amount.IsPositive() {
			err = c.ledger.ApplyInTx(ctx, tx, ledger.Entry{
				Ref:    fmt.Sprintf("commission:%d:%d", accrual.ID, edge.ID),
				Type:   model.TransactionTypeReferralCommission,
				Remark: fmt.Sprintf("level %d commission from user %d", edge.Level, accrual.UserID),
				Actor:  "system",
				Mutations: ledger.Credit(edge.ReferrerID, amount,
					ledger.FieldBalance, ledger.FieldTotalEarnings, ledger.FieldReferralEarnings),
			})
			if err != nil {
				return err
			}
		}
		return c.referrals.AddEarnings(ctx, tx, edge.ID, amount, accrual.ProfitAmount)
	})
	if err != nil {
		return decimal.Zero, false, err
	}
	return amount, applied, nil
}
