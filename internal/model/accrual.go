package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccrualRecord is one day's profit for one subscription.
//
// (SubscriptionID, EarningDate) is unique: it is the idempotency key that
// makes settling the same day twice a no-op. Rows are never updated.
type AccrualRecord struct {
	ID               int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	SubscriptionID   int64            `gorm:"not null;uniqueIndex:uk_accrual_subscription_day,priority:1" json:"subscription_id"`
	EarningDate      time.Time        `gorm:"type:date;not null;uniqueIndex:uk_accrual_subscription_day,priority:2;index" json:"earning_date"`
	UserID           int64            `gorm:"index;not null" json:"user_id"`
	Kind             string           `gorm:"type:varchar(20);not null" json:"kind"`
	BaseAmount       decimal.Decimal  `gorm:"type:decimal(20,8);not null" json:"base_amount"` // expected daily profit
	Rate             decimal.Decimal  `gorm:"type:decimal(10,4);not null" json:"rate"`
	UptimePercentage *decimal.Decimal `gorm:"type:decimal(6,2)" json:"uptime_percentage,omitempty"` // rentals only
	ProfitAmount     decimal.Decimal  `gorm:"type:decimal(20,8);not null" json:"profit_amount"`
	CreatedAt        time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

func (AccrualRecord) TableName() string {
	return "accrual_record"
}
