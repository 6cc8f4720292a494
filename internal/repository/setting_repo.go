package repository

import (
	"context"
	"errors"

	"earnsystem/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SettingRepository struct {
	db *gorm.DB
}

func NewSettingRepository(db *gorm.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

// Get reports whether key is set.
func (r *SettingRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var s model.SystemSetting
	err := r.db.WithContext(ctx).Where("setting_key = ?", key).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return s.Value, true, nil
}

func (r *SettingRepository) Set(ctx context.Context, key, value string) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "setting_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&model.SystemSetting{Key: key, Value: value}).Error
}

func (r *SettingRepository) All(ctx context.Context) ([]*model.SystemSetting, error) {
	var rows []*model.SystemSetting
	err := r.db.WithContext(ctx).Order("setting_key ASC").Find(&rows).Error
	return rows, err
}
