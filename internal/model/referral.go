package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxReferralDepth is the deepest upline level that earns commission.
const MaxReferralDepth = 3

const (
	ReferralEdgeActive   = "active"
	ReferralEdgeInactive = "inactive"
)

// ReferralEdge links a referred user to one upline member at a fixed level.
//
// (ReferredID, Level) is unique, so a user has at most one edge per level and
// never more than MaxReferralDepth edges. CommissionRate is captured at
// creation and not touched by later rate changes.
type ReferralEdge struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ReferrerID     int64           `gorm:"index;not null" json:"referrer_id"`
	ReferredID     int64           `gorm:"not null;uniqueIndex:uk_edge_referred_level,priority:1" json:"referred_id"`
	Level          int             `gorm:"not null;uniqueIndex:uk_edge_referred_level,priority:2" json:"level"`
	CommissionRate decimal.Decimal `gorm:"type:decimal(10,4);not null" json:"commission_rate"`
	TotalEarned    decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"total_earned"`
	TotalVolume    decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"total_volume"`
	Status         string          `gorm:"type:varchar(20);not null;default:active" json:"status"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ReferralEdge) TableName() string {
	return "referral_edge"
}

const (
	CommissionSourceInvestment = "investment_accrual"
	CommissionSourceRental     = "rental_accrual"
)

// CommissionSourceFor maps a subscription kind to its commission source type.
func CommissionSourceFor(kind string) string {
	if kind == SubscriptionKindRental {
		return CommissionSourceRental
	}
	return CommissionSourceInvestment
}

// CommissionRecord is one edge's share of one accrual. (AccrualID, EdgeID) is
// unique so a retried cascade can never pay the same share twice.
type CommissionRecord struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	AccrualID        int64           `gorm:"not null;uniqueIndex:uk_commission_accrual_edge,priority:1" json:"accrual_id"`
	EdgeID           int64           `gorm:"not null;uniqueIndex:uk_commission_accrual_edge,priority:2" json:"edge_id"`
	ReferrerID       int64           `gorm:"index;not null" json:"referrer_id"`
	ReferredID       int64           `gorm:"not null" json:"referred_id"`
	SourceType       string          `gorm:"type:varchar(32);not null" json:"source_type"`
	Level            int             `gorm:"not null" json:"level"`
	Rate             decimal.Decimal `gorm:"type:decimal(10,4);not null" json:"rate"`
	BaseAmount       decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"base_amount"`
	CommissionAmount decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"commission_amount"`
	EarningDate      time.Time       `gorm:"type:date;not null;index" json:"earning_date"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (CommissionRecord) TableName() string {
	return "commission_record"
}
