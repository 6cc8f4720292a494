package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AccountStatusActive    = "active"
	AccountStatusSuspended = "suspended"
	AccountStatusClosed    = "closed"
)

// Account holds one user's balance and earning counters.
//
// Monetary columns are written only through the ledger package. Every
// counter except Balance and TotalInvested only ever grows.
type Account struct {
	ID                 int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID             int64           `gorm:"uniqueIndex;not null" json:"user_id"`
	Email              string          `gorm:"type:varchar(128)" json:"email"`
	ReferrerID         *int64          `gorm:"index" json:"referrer_id,omitempty"` // set at registration, never changed
	Status             string          `gorm:"type:varchar(20);not null;default:active" json:"status"`
	Balance            decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"balance"`
	TotalEarnings      decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"total_earnings"`
	TotalInvested      decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"total_invested"`
	TotalWithdrawn     decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"total_withdrawn"`
	ReferralEarnings   decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"referral_earnings"`
	RentalEarnings     decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"rental_earnings"`
	InvestmentEarnings decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"investment_earnings"`
	Version            int             `gorm:"not null;default:0" json:"version"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}
