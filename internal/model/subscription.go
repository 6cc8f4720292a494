package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SubscriptionKindRental     = "rental"
	SubscriptionKindInvestment = "investment"
)

const (
	SubscriptionStatusPending   = "pending"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCompleted = "completed" // rental reached its end date
	SubscriptionStatusMatured   = "matured"   // investment reached its end date
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusSuspended = "suspended"
)

var SubscriptionTransitions = map[string][]string{
	SubscriptionStatusPending:   {SubscriptionStatusActive, SubscriptionStatusCancelled},
	SubscriptionStatusActive:    {SubscriptionStatusCompleted, SubscriptionStatusMatured, SubscriptionStatusSuspended, SubscriptionStatusCancelled},
	SubscriptionStatusSuspended: {SubscriptionStatusActive, SubscriptionStatusCancelled},
}

func CanTransitionSubscription(from, to string) bool {
	return allowed(SubscriptionTransitions, from, to)
}

// Subscription is a rental or investment contract. Both kinds share one table.
//
// TotalEarned, LastProfitDate and TotalDaysActive are written only by the
// settlement engine.
type Subscription struct {
	ID                  int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	SubscriptionNo      string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"subscription_no"`
	UserID              int64           `gorm:"index;not null" json:"user_id"`
	Kind                string          `gorm:"type:varchar(20);index:idx_subscription_eligible,priority:2;not null" json:"kind"`
	DeviceID            *int64          `gorm:"index" json:"device_id,omitempty"`
	PlanID              *int64          `gorm:"index" json:"plan_id,omitempty"`
	PaymentNo           string          `gorm:"type:varchar(64);index" json:"payment_no"`
	Principal           decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"principal"`
	DailyRate           decimal.Decimal `gorm:"type:decimal(10,4);not null" json:"daily_rate"` // percent per day
	ExpectedDailyProfit decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"expected_daily_profit"`
	TotalEarned         decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"total_earned"`
	Status              string          `gorm:"type:varchar(20);index:idx_subscription_eligible,priority:1;not null" json:"status"`
	StartDate           time.Time       `gorm:"type:date;not null" json:"start_date"`
	EndDate             time.Time       `gorm:"type:date;not null" json:"end_date"`
	LastProfitDate      *time.Time      `gorm:"type:date" json:"last_profit_date,omitempty"`
	TotalDaysActive     int             `gorm:"not null;default:0" json:"total_days_active"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscription"
}

// SettledOn reports whether day has already been recorded as the last profit day.
func (s *Subscription) SettledOn(day time.Time) bool {
	return s.LastProfitDate != nil && Day(*s.LastProfitDate).Equal(Day(day))
}

// Covers reports whether day falls inside [StartDate, EndDate].
func (s *Subscription) Covers(day time.Time) bool {
	d := Day(day)
	return !d.Before(Day(s.StartDate)) && !d.After(Day(s.EndDate))
}

func allowed(table map[string][]string, from, to string) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}
