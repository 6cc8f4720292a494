package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DeviceStatusAvailable   = "available"
	DeviceStatusMaintenance = "maintenance"
	DeviceStatusRetired     = "retired"
)

// Device is a rentable mining/compute unit. Rental profit is weighted by
// UptimePercentage on the day it is settled.
type Device struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name             string          `gorm:"type:varchar(128);not null" json:"name"`
	Model            string          `gorm:"type:varchar(128)" json:"model"`
	RentalPrice      decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"rental_price"`
	DailyRate        decimal.Decimal `gorm:"type:decimal(10,4);not null" json:"daily_rate"`
	RentalDays       int             `gorm:"not null" json:"rental_days"`
	UptimePercentage decimal.Decimal `gorm:"type:decimal(6,2);not null;default:100" json:"uptime_percentage"`
	Status           string          `gorm:"type:varchar(20);not null;default:available" json:"status"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Device) TableName() string {
	return "device"
}

const (
	PlanStatusActive   = "active"
	PlanStatusDisabled = "disabled"
)

// InvestmentPlan is a fixed-term product with a flat daily rate.
type InvestmentPlan struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string          `gorm:"type:varchar(128);not null" json:"name"`
	MinAmount    decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"min_amount"`
	MaxAmount    decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"max_amount"`
	DailyRate    decimal.Decimal `gorm:"type:decimal(10,4);not null" json:"daily_rate"`
	DurationDays int             `gorm:"not null" json:"duration_days"`
	Status       string          `gorm:"type:varchar(20);not null;default:active" json:"status"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (InvestmentPlan) TableName() string {
	return "investment_plan"
}

// SystemSetting is a runtime-editable key/value pair.
type SystemSetting struct {
	Key       string    `gorm:"column:setting_key;type:varchar(64);primaryKey" json:"key"`
	Value     string    `gorm:"type:varchar(512);not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SystemSetting) TableName() string {
	return "system_setting"
}
