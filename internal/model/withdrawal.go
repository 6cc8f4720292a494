package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	WithdrawalStatusPending    = "pending"
	WithdrawalStatusApproved   = "approved"
	WithdrawalStatusProcessing = "processing"
	WithdrawalStatusCompleted  = "completed"
	WithdrawalStatusRejected   = "rejected"
	WithdrawalStatusCancelled  = "cancelled"
)

var WithdrawalTransitions = map[string][]string{
	WithdrawalStatusPending:    {WithdrawalStatusApproved, WithdrawalStatusRejected, WithdrawalStatusCancelled},
	WithdrawalStatusApproved:   {WithdrawalStatusProcessing, WithdrawalStatusCompleted, WithdrawalStatusRejected},
	WithdrawalStatusProcessing: {WithdrawalStatusCompleted, WithdrawalStatusRejected},
}

func CanTransitionWithdrawal(from, to string) bool {
	return allowed(WithdrawalTransitions, from, to)
}

// WithdrawalRequest holds Amount off the balance from creation. The hold ends
// exactly once: refunded in full on reject/cancel, or NetAmount added to
// total_withdrawn on completion.
type WithdrawalRequest struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	WithdrawalNo string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"withdrawal_no"`
	UserID       int64           `gorm:"index;not null" json:"user_id"`
	Amount       decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount"`
	FeeAmount    decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"fee_amount"`
	NetAmount    decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"net_amount"`
	Method       string          `gorm:"type:varchar(32)" json:"method"`
	Address      string          `gorm:"type:varchar(256)" json:"address"`
	Status       string          `gorm:"type:varchar(20);index;not null" json:"status"`
	ProcessedBy  string          `gorm:"type:varchar(64)" json:"processed_by,omitempty"`
	Remark       string          `gorm:"type:varchar(256)" json:"remark,omitempty"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	CreatedAt    time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WithdrawalRequest) TableName() string {
	return "withdrawal_request"
}
