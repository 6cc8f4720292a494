package repository

import (
	"context"
	"errors"
	"time"

	"earnsystem/internal/model"

	"gorm.io/gorm"
)

var ErrAccrualNotFound = errors.New("accrual not found")

type AccrualRepository struct {
	db *gorm.DB
}

func NewAccrualRepository(db *gorm.DB) *AccrualRepository {
	return &AccrualRepository{db: db}
}

// Insert reports false when the subscription already has an accrual for
// that earning date.
func (r *AccrualRepository) Insert(ctx context.Context, tx *gorm.DB, rec *model.AccrualRecord) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).
		Clauses(skipOnDupes).
		Create(rec)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *AccrualRepository) GetByID(ctx context.Context, id int64) (*model.AccrualRecord, error) {
	var rec model.AccrualRecord
	err := r.db.WithContext(ctx).First(&rec, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccrualNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// ListMissingCommissions returns accruals since the given day that have
// fewer commission rows than the earner has active upline edges.
func (r *AccrualRepository) ListMissingCommissions(ctx context.Context, since time.Time, afterID int64, limit int) ([]*model.AccrualRecord, error) {
	var recs []*model.AccrualRecord
	err := r.db.WithContext(ctx).
		Table("accrual_record AS a").
		Select("a.*").
		Where("a.earning_date >= ? AND a.id > ?", since, afterID).
		Where(`(SELECT COUNT(*) FROM referral_edge e WHERE e.referred_id = a.user_id AND e.status = ?)
			> (SELECT COUNT(*) FROM commission_record c WHERE c.accrual_id = a.id)`, model.ReferralEdgeActive).
		Order("a.id ASC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

func (r *AccrualRepository) ListBySubscription(ctx context.Context, subscriptionID int64) ([]*model.AccrualRecord, error) {
	var recs []*model.AccrualRecord
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("earning_date ASC").
		Find(&recs).Error
	return recs, err
}

func (r *AccrualRepository) ListByDay(ctx context.Context, day time.Time) ([]*model.AccrualRecord, error) {
	var recs []*model.AccrualRecord
	err := r.db.WithContext(ctx).
		Where("earning_date = ?", day).
		Order("id ASC").
		Find(&recs).Error
	return recs, err
}
