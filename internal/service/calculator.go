package service

import (
	"earnsystem/internal/ledger"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// DailyProfit is the expected profit per day of principal at a daily
// percentage rate.
func DailyProfit(principal, dailyRate decimal.Decimal) decimal.Decimal {
	return ledger.Money(principal.Mul(dailyRate).Div(hundred))
}

// RentalProfit weights the expected profit by device uptime. Uptime is
// clamped to [0, 100].
func RentalProfit(expected, uptimePercentage decimal.Decimal) decimal.Decimal {
	uptime := decimal.Min(decimal.Max(uptimePercentage, decimal.Zero), hundred)
	return ledger.Money(expected.Mul(uptime).Div(hundred))
}

// InvestmentProfit is not weighted.
func InvestmentProfit(expected decimal.Decimal) decimal.Decimal {
	return ledger.Money(expected)
}

// Commission is one level's share of a profit. Truncation means the sum of
// all shares never exceeds profit times the sum of the rates.
func Commission(profit, ratePercent decimal.Decimal) decimal.Decimal {
	return ledger.Money(profit.Mul(ratePercent).Div(hundred))
}

// WithdrawalFee returns the fee and the amount that leaves the platform.
func WithdrawalFee(amount, feePercent decimal.Decimal) (fee, net decimal.Decimal) {
	fee = ledger.Money(amount.Mul(feePercent).Div(hundred))
	return fee, amount.Sub(fee)
}
