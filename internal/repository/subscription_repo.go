package repository

import (
	"context"
	"errors"
	"time"

	"earnsystem/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrSubscriptionNotFound = errors.New("subscription not found")

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) Create(ctx context.Context, tx *gorm.DB, sub *model.Subscription) error {
	return conn(r.db, tx).WithContext(ctx).Create(sub).Error
}

func (r *SubscriptionRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Subscription, error) {
	var sub model.Subscription
	err := conn(r.db, tx).WithContext(ctx).First(&sub, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (r *SubscriptionRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Subscription, error) {
	var sub model.Subscription
	err := tx.WithContext(ctx).Clauses(forUpdate).First(&sub, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// ListEligible pages through subscriptions that should earn on day, keyed by
// id so rows settled during the scan do not shift the pages.
func (r *SubscriptionRepository) ListEligible(ctx context.Context, day time.Time, afterID int64, limit int) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	err := r.db.WithContext(ctx).
		Where("status = ? AND start_date <= ? AND end_date >= ?", model.SubscriptionStatusActive, day, day).
		Where("(last_profit_date IS NULL OR last_profit_date <> ?)", day).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

// RecordAccrual stores the running totals after one accrual. The row must be
// locked by the caller. last_profit_date only moves forward, so settling an
// older missed day does not rewind it.
func (r *SubscriptionRepository) RecordAccrual(ctx context.Context, tx *gorm.DB, sub *model.Subscription, profit decimal.Decimal, day time.Time) error {
	values := map[string]interface{}{
		"total_earned":      sub.TotalEarned.Add(profit),
		"total_days_active": sub.TotalDaysActive + 1,
	}
	if sub.LastProfitDate == nil || day.After(model.Day(*sub.LastProfitDate)) {
		values["last_profit_date"] = day
	}
	result := tx.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("id = ? AND status = ?", sub.ID, model.SubscriptionStatusActive).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// MatureEnded closes active subscriptions whose end date is before day.
// A subscription still missing its final accrual is held open until
// graceCutoff so a late run can backfill it.
func (r *SubscriptionRepository) MatureEnded(ctx context.Context, day, graceCutoff time.Time) (int64, error) {
	var total int64
	for kind, status := range map[string]string{
		model.SubscriptionKindRental:     model.SubscriptionStatusCompleted,
		model.SubscriptionKindInvestment: model.SubscriptionStatusMatured,
	} {
		result := r.db.WithContext(ctx).
			Model(&model.Subscription{}).
			Where("status = ? AND kind = ? AND end_date < ?", model.SubscriptionStatusActive, kind, day).
			Where("(last_profit_date >= end_date OR end_date < ?)", graceCutoff).
			Update("status", status)
		if result.Error != nil {
			return total, result.Error
		}
		total += result.RowsAffected
	}
	return total, nil
}

func (r *SubscriptionRepository) UpdateStatus(ctx context.Context, id int64, from, to string) error {
	if !model.CanTransitionSubscription(from, to) {
		return ErrInvalidStatus
	}
	result := r.db.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInvalidStatus
	}
	return nil
}

func (r *SubscriptionRepository) ListByUserID(ctx context.Context, userID int64) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Find(&subs).Error
	return subs, err
}
