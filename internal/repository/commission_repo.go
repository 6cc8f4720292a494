package repository

import (
	"context"

	"earnsystem/internal/model"

	"gorm.io/gorm"
)

type CommissionRepository struct {
	db *gorm.DB
}

func NewCommissionRepository(db *gorm.DB) *CommissionRepository {
	return &CommissionRepository{db: db}
}

// Insert reports false when this edge was already paid for this accrual.
func (r *CommissionRepository) Insert(ctx context.Context, tx *gorm.DB, rec *model.CommissionRecord) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).
		Clauses(skipOnDupes).
		Create(rec)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *CommissionRepository) ListByAccrual(ctx context.Context, accrualID int64) ([]*model.CommissionRecord, error) {
	var recs []*model.CommissionRecord
	err := r.db.WithContext(ctx).
		Where("accrual_id = ?", accrualID).
		Order("level ASC").
		Find(&recs).Error
	return recs, err
}

func (r *CommissionRepository) ListByReferrer(ctx context.Context, referrerID int64, page, pageSize int) ([]*model.CommissionRecord, int64, error) {
	var recs []*model.CommissionRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&model.CommissionRecord{}).Where("referrer_id = ?", referrerID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := pageBounds(page, pageSize)
	err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&recs).Error
	return recs, total, err
}
