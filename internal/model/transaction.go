package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionTypeDeposit            = "DEPOSIT"
	TransactionTypePurchase           = "PURCHASE"
	TransactionTypeRentalProfit       = "RENTAL_PROFIT"
	TransactionTypeInvestmentProfit   = "INVESTMENT_PROFIT"
	TransactionTypeReferralCommission = "REFERRAL_COMMISSION"
	TransactionTypeWithdrawalHold     = "WITHDRAWAL_HOLD"
	TransactionTypeWithdrawalRefund   = "WITHDRAWAL_REFUND"
	TransactionTypeWithdrawalComplete = "WITHDRAWAL_COMPLETE"
	TransactionTypeAdminAdjust        = "ADMIN_ADJUST"
)

// AccountTransaction is the ledger journal: one row per account per applied
// entry.
//
// Rows are append-only. (RefNo, UserID) is unique, so an entry keyed by the
// business event it settles cannot land twice on the same account.
// BalanceBefore/BalanceAfter allow replaying the balance column.
type AccountTransaction struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID        int64           `gorm:"index;not null;uniqueIndex:uk_ledger_ref_user,priority:2" json:"user_id"`
	RefNo         string          `gorm:"type:varchar(128);not null;uniqueIndex:uk_ledger_ref_user,priority:1" json:"ref_no"`
	Type          string          `gorm:"type:varchar(32);index;not null" json:"type"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount"` // balance delta, signed
	BalanceBefore decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"balance_after"`
	Changes       string          `gorm:"type:text" json:"changes"` // JSON field->delta for every column touched
	Actor         string          `gorm:"type:varchar(64)" json:"actor,omitempty"`
	Remark        string          `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AccountTransaction) TableName() string {
	return "account_transaction"
}
