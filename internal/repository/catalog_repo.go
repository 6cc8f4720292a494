package repository

import (
	"context"
	"errors"

	"earnsystem/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrPlanNotFound   = errors.New("investment plan not found")
)

type DeviceRepository struct {
	db *gorm.DB
}

func NewDeviceRepository(db *gorm.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

func (r *DeviceRepository) Create(ctx context.Context, device *model.Device) error {
	return r.db.WithContext(ctx).Create(device).Error
}

func (r *DeviceRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Device, error) {
	var device model.Device
	err := conn(r.db, tx).WithContext(ctx).First(&device, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	return &device, nil
}

// UptimeByIDs loads the current uptime of each listed device.
func (r *DeviceRepository) UptimeByIDs(ctx context.Context, ids []int64) (map[int64]decimal.Decimal, error) {
	out := make(map[int64]decimal.Decimal, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var devices []*model.Device
	err := r.db.WithContext(ctx).
		Select("id", "uptime_percentage").
		Where("id IN ?", ids).
		Find(&devices).Error
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		out[d.ID] = d.UptimePercentage
	}
	return out, nil
}

func (r *DeviceRepository) UpdateUptime(ctx context.Context, id int64, uptime decimal.Decimal) error {
	result := r.db.WithContext(ctx).
		Model(&model.Device{}).
		Where("id = ?", id).
		Update("uptime_percentage", uptime)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

type PlanRepository struct {
	db *gorm.DB
}

func NewPlanRepository(db *gorm.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

func (r *PlanRepository) Create(ctx context.Context, plan *model.InvestmentPlan) error {
	return r.db.WithContext(ctx).Create(plan).Error
}

func (r *PlanRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.InvestmentPlan, error) {
	var plan model.InvestmentPlan
	err := conn(r.db, tx).WithContext(ctx).First(&plan, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}
