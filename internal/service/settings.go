package service

import (
	"context"
	"strconv"

	"earnsystem/internal/config"
	"earnsystem/internal/repository"
	"earnsystem/pkg/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Setting keys editable at runtime through the system_setting table.
const (
	SettingReferralLevel1Rate    = "referral_level1_rate"
	SettingReferralLevel2Rate    = "referral_level2_rate"
	SettingReferralLevel3Rate    = "referral_level3_rate"
	SettingWithdrawalFeePercent  = "withdrawal_fee_percent"
	SettingMinWithdrawalAmount   = "min_withdrawal_amount"
	SettingAutoApproveMaxAmount  = "auto_approve_max_amount"
	SettingMinDepositAmount      = "min_deposit_amount"
	SettingWithdrawalsEnabled    = "withdrawals_enabled"
	SettingSettlementWorkerCount = "settlement_workers"
)

// SettingsProvider gives typed access to runtime settings. Missing or
// malformed values fall back to the given default.
type SettingsProvider interface {
	GetDecimal(ctx context.Context, key string, fallback decimal.Decimal) decimal.Decimal
	GetInt(ctx context.Context, key string, fallback int) int
	GetString(ctx context.Context, key string, fallback string) string
	GetBool(ctx context.Context, key string, fallback bool) bool
}

// DBSettings reads settings from the system_setting table on every call.
type DBSettings struct {
	repo *repository.SettingRepository
}

func NewDBSettings(repo *repository.SettingRepository) *DBSettings {
	return &DBSettings{repo: repo}
}

func (s *DBSettings) GetString(ctx context.Context, key string, fallback string) string {
	v, ok, err := s.repo.Get(ctx, key)
	if err != nil {
		logger.Warn("read setting failed, using default", zap.String("key", key), zap.Error(err))
		return fallback
	}
	if !ok {
		return fallback
	}
	return v
}

func (s *DBSettings) GetDecimal(ctx context.Context, key string, fallback decimal.Decimal) decimal.Decimal {
	raw := s.GetString(ctx, key, "")
	if raw == "" {
		return fallback
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		logger.Warn("malformed decimal setting", zap.String("key", key), zap.String("value", raw))
		return fallback
	}
	return d
}

func (s *DBSettings) GetInt(ctx context.Context, key string, fallback int) int {
	raw := s.GetString(ctx, key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		logger.Warn("malformed int setting", zap.String("key", key), zap.String("value", raw))
		return fallback
	}
	return n
}

func (s *DBSettings) GetBool(ctx context.Context, key string, fallback bool) bool {
	raw := s.GetString(ctx, key, "")
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return b
}

// CommissionRates are the percentages captured onto new referral edges.
type CommissionRates struct {
	Level1 decimal.Decimal
	Level2 decimal.Decimal
	Level3 decimal.Decimal
}

// ForLevel returns the rate of a 1-based level.
func (r CommissionRates) ForLevel(level int) decimal.Decimal {
	switch level {
	case 1:
		return r.Level1
	case 2:
		return r.Level2
	case 3:
		return r.Level3
	}
	return decimal.Zero
}

func (r CommissionRates) Sum() decimal.Decimal {
	return r.Level1.Add(r.Level2).Add(r.Level3)
}

// RatesFromConfig uses the config file values.
func RatesFromConfig(cfg config.ReferralConfig) CommissionRates {
	return CommissionRates{
		Level1: decimal.NewFromFloat(cfg.Level1Rate),
		Level2: decimal.NewFromFloat(cfg.Level2Rate),
		Level3: decimal.NewFromFloat(cfg.Level3Rate),
	}
}

// LoadCommissionRates overlays runtime settings on the configured defaults.
func LoadCommissionRates(ctx context.Context, settings SettingsProvider, defaults CommissionRates) CommissionRates {
	return CommissionRates{
		Level1: settings.GetDecimal(ctx, SettingReferralLevel1Rate, defaults.Level1),
		Level2: settings.GetDecimal(ctx, SettingReferralLevel2Rate, defaults.Level2),
		Level3: settings.GetDecimal(ctx, SettingReferralLevel3Rate, defaults.Level3),
	}
}
