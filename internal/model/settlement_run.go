package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SettlementRunRunning   = "running"
	SettlementRunCompleted = "completed"
	SettlementRunPartial   = "completed_with_errors"
	SettlementRunFailed    = "failed"
)

// SettlementRun is the audit row of one RunDailySettlement call.
type SettlementRun struct {
	ID                  string          `gorm:"type:varchar(64);primaryKey" json:"id"`
	Day                 time.Time       `gorm:"type:date;index;not null" json:"day"`
	Status              string          `gorm:"type:varchar(32);not null" json:"status"`
	RentalProcessed     int             `json:"rental_processed"`
	RentalSkipped       int             `json:"rental_skipped"`
	RentalFailed        int             `json:"rental_failed"`
	InvestmentProcessed int             `json:"investment_processed"`
	InvestmentSkipped   int             `json:"investment_skipped"`
	InvestmentFailed    int             `json:"investment_failed"`
	CommissionsApplied  int             `json:"commissions_applied"`
	CommissionsFailed   int             `json:"commissions_failed"`
	Matured             int             `json:"matured"`
	TotalProfit         decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"total_profit"`
	TotalCommission     decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"total_commission"`
	Error               string          `gorm:"type:text" json:"error,omitempty"`
	StartedAt           time.Time       `json:"started_at"`
	FinishedAt          *time.Time      `json:"finished_at,omitempty"`
}

func (SettlementRun) TableName() string {
	return "settlement_run"
}
