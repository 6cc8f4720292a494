package repository

import (
	"context"

	"earnsystem/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ReferralRepository struct {
	db *gorm.DB
}

func NewReferralRepository(db *gorm.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

// CreateEdge reports false when the referred user already has an edge at
// that level.
func (r *ReferralRepository) CreateEdge(ctx context.Context, tx *gorm.DB, edge *model.ReferralEdge) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).
		Clauses(skipOnDupes).
		Create(edge)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *ReferralRepository) CountByReferred(ctx context.Context, tx *gorm.DB, referredID int64) (int64, error) {
	var n int64
	err := conn(r.db, tx).WithContext(ctx).
		Model(&model.ReferralEdge{}).
		Where("referred_id = ?", referredID).
		Count(&n).Error
	return n, err
}

// ListActiveByReferred returns the upline edges of a user, level 1 first.
func (r *ReferralRepository) ListActiveByReferred(ctx context.Context, tx *gorm.DB, referredID int64) ([]*model.ReferralEdge, error) {
	var edges []*model.ReferralEdge
	err := conn(r.db, tx).WithContext(ctx).
		Where("referred_id = ? AND status = ?", referredID, model.ReferralEdgeActive).
		Order("level ASC").
		Find(&edges).Error
	return edges, err
}

func (r *ReferralRepository) ListByReferrer(ctx context.Context, referrerID int64) ([]*model.ReferralEdge, error) {
	var edges []*model.ReferralEdge
	err := r.db.WithContext(ctx).
		Where("referrer_id = ?", referrerID).
		Order("level ASC, id ASC").
		Find(&edges).Error
	return edges, err
}

// AddEarnings bumps the edge counters in place so concurrent cascades for
// the same earner do not overwrite each other.
func (r *ReferralRepository) AddEarnings(ctx context.Context, tx *gorm.DB, edgeID int64, commission, volume decimal.Decimal) error {
	return conn(r.db, tx).WithContext(ctx).
		Model(&model.ReferralEdge{}).
		Where("id = ?", edgeID).
		Updates(map[string]interface{}{
			"total_earned": gorm.Expr("total_earned + ?", commission),
			"total_volume": gorm.Expr("total_volume + ?", volume),
		}).Error
}
