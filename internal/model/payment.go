package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusPending    = "pending"
	PaymentStatusProcessing = "processing"
	PaymentStatusCompleted  = "completed"
	PaymentStatusFailed     = "failed"
	PaymentStatusCancelled  = "cancelled"
	PaymentStatusRefunded   = "refunded"
	PaymentStatusExpired    = "expired"
)

// AllPaymentStatuses is the internal status vocabulary.
var AllPaymentStatuses = []string{
	PaymentStatusPending,
	PaymentStatusProcessing,
	PaymentStatusCompleted,
	PaymentStatusFailed,
	PaymentStatusCancelled,
	PaymentStatusRefunded,
	PaymentStatusExpired,
}

// PaymentTransitions lists the legal moves. An expired deposit may still
// complete when the gateway confirms a late transfer. Completed is final;
// refunded stays in the vocabulary but no flow moves a payment into it.
var PaymentTransitions = map[string][]string{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusExpired},
	PaymentStatusProcessing: {PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusExpired},
	PaymentStatusExpired:    {PaymentStatusCompleted},
}

func CanTransitionPayment(from, to string) bool {
	return allowed(PaymentTransitions, from, to)
}

const (
	PaymentTypeDeposit    = "deposit"
	PaymentTypeWithdrawal = "withdrawal"
	PaymentTypeRental     = "rental"
	PaymentTypeInvestment = "investment"
	PaymentTypeFee        = "fee"
	PaymentTypeRefund     = "refund"
)

const (
	PaymentMethodBalance = "balance"
	PaymentMethodCrypto  = "crypto"
	PaymentMethodManual  = "manual"
)

// Payment records money entering or leaving the platform, and balance-funded
// purchases. ExternalTxnID is the gateway's reference for crypto deposits.
type Payment struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentNo      string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"payment_no"`
	UserID         int64           `gorm:"index;not null" json:"user_id"`
	ExternalTxnID  string          `gorm:"type:varchar(128);index" json:"external_txn_id,omitempty"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount"`
	Currency       string          `gorm:"type:varchar(16);not null" json:"currency"`
	CryptoAmount   string          `gorm:"type:varchar(64)" json:"crypto_amount,omitempty"`
	CryptoCurrency string          `gorm:"type:varchar(16)" json:"crypto_currency,omitempty"`
	Method         string          `gorm:"type:varchar(20);not null" json:"method"`
	Provider       string          `gorm:"type:varchar(32)" json:"provider,omitempty"`
	Type           string          `gorm:"type:varchar(20);index;not null" json:"type"`
	Status         string          `gorm:"type:varchar(20);index;not null" json:"status"`
	InvoiceURL     string          `gorm:"type:varchar(512)" json:"invoice_url,omitempty"`
	Remark         string          `gorm:"type:varchar(256)" json:"remark,omitempty"`
	CreatedBy      string          `gorm:"type:varchar(64)" json:"created_by,omitempty"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Payment) TableName() string {
	return "payment"
}
