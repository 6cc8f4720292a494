package repository

import (
	"context"

	"earnsystem/internal/model"

	"gorm.io/gorm"
)

type SettlementRunRepository struct {
	db *gorm.DB
}

func NewSettlementRunRepository(db *gorm.DB) *SettlementRunRepository {
	return &SettlementRunRepository{db: db}
}

func (r *SettlementRunRepository) Create(ctx context.Context, run *model.SettlementRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *SettlementRunRepository) Save(ctx context.Context, run *model.SettlementRun) error {
	return r.db.WithContext(ctx).Save(run).Error
}

func (r *SettlementRunRepository) ListRecent(ctx context.Context, limit int) ([]*model.SettlementRun, error) {
	var runs []*model.SettlementRun
	err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}
