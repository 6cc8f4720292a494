package service

import (
	"context"
	"testing"

	"earnsystem/internal/ledger"
	"earnsystem/internal/model"
	"earnsystem/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWithdrawalService(t *testing.T, env *testEnv, settings SettingsProvider) *WithdrawalService {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	if settings == nil {
		settings = staticSettings{}
	}
	return NewWithdrawalService(env.db, rdb, env.ledger, settings, nil, WithdrawalOptions{
		FeePercent: decimal.NewFromInt(5),
		MinAmount:  decimal.NewFromInt(10),
		Currency:   "USD",
	})
}

func withdraw(t *testing.T, svc *WithdrawalService, userID int64, amount string) *model.WithdrawalRequest {
	t.Helper()
	w, err := svc.Request(context.Background(), &WithdrawalRequestInput{
		UserID:  userID,
		Amount:  testutil.Dec(amount),
		Method:  "usdt_trc20",
		Address: "TXyz123",
	})
	require.NoError(t, err)
	return w
}

func TestWithdrawal_RequestHoldsFullAmount(t *testing.T) {
	env := newTestEnv(t)
	testutil.SeedAccount(t, env.db, 1, "150", nil)
	svc := newWithdrawalService(t, env, nil)

	w := withdraw(t, svc, 1, "100")
	assert.Equal(t, model.WithdrawalStatusPending, w.Status)
	assert.True(t, testutil.Dec("5").Equal(w.FeeAmount))
	assert.True(t, testutil.Dec("95").Equal(w.NetAmount))
	assert.True(t, testutil.Dec("50").Equal(testutil.Account(t, env.db, 1).Balance))

	var hold model.AccountTransaction
	require.NoError(t, env.db.Where("ref_no = ?", "withdrawal:"+w.WithdrawalNo+":hold").First(&hold).Error)
	assert.True(t, testutil.Dec("-100").Equal(hold.Amount))
}

func TestWithdrawal_RequestValidation(t *testing.T) {
	env := newTestEnv(t)
	testutil.SeedAccount(t, env.db, 1, "50", nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		settings staticSettings
		amount   string
		address  string
		wantErr  error
	}{
		{name: "below minimum", amount: "5", address: "T1", wantErr: ErrValidation},
		{name: "no address", amount: "20", address: " ", wantErr: ErrValidation},
		{name: "more than balance", amount: "60", address: "T1", wantErr: ledger.ErrInsufficientBalance},
		{name: "disabled", settings: staticSettings{SettingWithdrawalsEnabled: "false"}, amount: "20", address: "T1", wantErr: ErrValidation},
		{name: "fee eats everything", settings: staticSettings{SettingWithdrawalFeePercent: "100"}, amount: "20", address: "T1", wantErr: ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newWithdrawalService(t, env, tt.settings)
			_, err := svc.Request(ctx, &WithdrawalRequestInput{UserID: 1, Amount: testutil.Dec(tt.amount), Address: tt.address})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.True(t, testutil.Dec("50").Equal(testutil.Account(t, env.db, 1).Balance))
	assert.Equal(t, int64(0), countRows(t, env.db, &model.WithdrawalRequest{}, ""))
}

func TestWithdrawal_RejectRefundsFullAmount(t *testing.T) {
	env := newTestEnv(t)
	testutil.SeedAccount(t, env.db, 1, "100", nil)
	svc := newWithdrawalService(t, env, nil)
	ctx := context.Background()

	w := withdraw(t, svc, 1, "100")
	assert.True(t, testutil.Account(t, env.db, 1).Balance.IsZero())

	rejected, err := svc.Reject(ctx, "admin:1", w.WithdrawalNo, "address blacklisted")
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalStatusRejected, rejected.Status)
	assert.Equal(t, "address blacklisted", rejected.Remark)

	acc := testutil.Account(t, env.db, 1)
	assert.True(t, testutil.Dec("100").Equal(acc.Balance), acc.Balance.String())
	assert.True(t, acc.TotalWithdrawn.IsZero())

	// a second rejection or a completion after rejection does nothing
	_, err = svc.Reject(ctx, "admin:1", w.WithdrawalNo, "again")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.Complete(ctx, "admin:1", w.WithdrawalNo)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.True(t, testutil.Dec("100").Equal(testutil.Account(t, env.db, 1).Balance))
}

func TestWithdrawal_CompleteRecordsNetAndFee(t *testing.T) {
	env := newTestEnv(t)
	testutil.SeedAccount(t, env.db, 1, "100", nil)
	svc := newWithdrawalService(t, env, nil)
	ctx := context.Background()

	w := withdraw(t, svc, 1, "100")
	_, err := svc.Approve(ctx, "admin:1", w.WithdrawalNo)
	require.NoError(t, err)
	_, err = svc.MarkProcessing(ctx, "admin:1", w.WithdrawalNo)
	require.NoError(t, err)
	done, err := svc.Complete(ctx, "admin:1", w.WithdrawalNo)
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalStatusCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)

	acc := testutil.Account(t, env.db, 1)
	assert.True(t, acc.Balance.IsZero())
	assert.True(t, testutil.Dec("95").Equal(acc.TotalWithdrawn), acc.TotalWithdrawn.String())

	var payout, fee model.Payment
	require.NoError(t, env.db.Where("type = ?", model.PaymentTypeWithdrawal).First(&payout).Error)
	assert.True(t, testutil.Dec("95").Equal(payout.Amount))
	require.NoError(t, env.db.Where("type = ?", model.PaymentTypeFee).First(&fee).Error)
	assert.True(t, testutil.Dec("5").Equal(fee.Amount))

	_, err = svc.Reject(ctx, "admin:1", w.WithdrawalNo, "too late")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestWithdrawal_CancelOnlyByOwnerWhilePending(t *testing.T) {
	env := newTestEnv(t)
	testutil.SeedAccount(t, env.db, 1, "40", nil)
	testutil.SeedAccount(t, env.db, 2, "0", nil)
	svc := newWithdrawalService(t, env, nil)
	ctx := context.Background()

	w := withdraw(t, svc, 1, "40")

	_, err := svc.Cancel(ctx, 2, w.WithdrawalNo)
	assert.ErrorIs(t, err, ErrForbidden)

	cancelled, err := svc.Cancel(ctx, 1, w.WithdrawalNo)
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalStatusCancelled, cancelled.Status)
	assert.True(t, testutil.Dec("40").Equal(testutil.Account(t, env.db, 1).Balance))

	approved := withdraw(t, svc, 1, "20")
	_, err = svc.Approve(ctx, "admin:1", approved.WithdrawalNo)
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, 1, approved.WithdrawalNo)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestWithdrawal_AutoApproveSmallAmounts(t *testing.T) {
	env := newTestEnv(t)
	testutil.SeedAccount(t, env.db, 1, "500", nil)
	svc := newWithdrawalService(t, env, staticSettings{SettingAutoApproveMaxAmount: "50"})

	small := withdraw(t, svc, 1, "50")
	assert.Equal(t, model.WithdrawalStatusApproved, small.Status)
	assert.Equal(t, "auto", small.ProcessedBy)

	large := withdraw(t, svc, 1, "51")
	assert.Equal(t, model.WithdrawalStatusPending, large.Status)
}
