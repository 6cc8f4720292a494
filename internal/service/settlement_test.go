package service

import (
	"context"
	"sync"
	"testing"

	"earnsystem/internal/model"
	"earnsystem/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettlement_RentalWeightedByUptime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.register(t, 1, nil)
	env.register(t, 2, nil)
	device := seedDevice(t, env.db, "95")
	rental := seedSubscription(t, env.db, 1, subOpts{kind: model.SubscriptionKindRental, expected: "10", deviceID: &device.ID})
	investment := seedSubscription(t, env.db, 2, subOpts{expected: "10"})

	report, err := env.engine.RunDailySettlement(ctx, testDay)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Rental.Processed)
	assert.Equal(t, 1, report.Investment.Processed)
	assert.Equal(t, 0, report.TotalFailed())

	renter := testutil.Account(t, env.db, 1)
	assert.True(t, testutil.Dec("9.5").Equal(renter.Balance), renter.Balance.String())
	assert.True(t, testutil.Dec("9.5").Equal(renter.RentalEarnings))
	assert.True(t, testutil.Dec("9.5").Equal(renter.TotalEarnings))

	investor := testutil.Account(t, env.db, 2)
	assert.True(t, testutil.Dec("10").Equal(investor.Balance), investor.Balance.String())
	assert.True(t, testutil.Dec("10").Equal(investor.InvestmentEarnings))

	sub := reloadSubscription(t, env.db, rental.ID)
	require.NotNil(t, sub.LastProfitDate)
	assert.True(t, model.Day(*sub.LastProfitDate).Equal(testDay))
	assert.Equal(t, 1, sub.TotalDaysActive)
	assert.True(t, testutil.Dec("9.5").Equal(sub.TotalEarned))

	var acc model.AccrualRecord
	require.NoError(t, env.db.Where("subscription_id = ?", rental.ID).First(&acc).Error)
	require.NotNil(t, acc.UptimePercentage)
	assert.True(t, testutil.Dec("95").Equal(*acc.UptimePercentage))

	assert.True(t, testutil.Dec("10").Equal(reloadSubscription(t, env.db, investment.ID).TotalEarned))

	var run model.SettlementRun
	require.NoError(t, env.db.First(&run, "id = ?", report.RunID).Error)
	assert.Equal(t, model.SettlementRunCompleted, run.Status)
	assert.True(t, testutil.Dec("19.5").Equal(run.TotalProfit))
}

func TestSettlement_ThreeLevelCascade(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 1 referred 2, 2 referred 3, 3 referred 4
	env.register(t, 1, nil)
	env.register(t, 2, testutil.Int64(1))
	env.register(t, 3, testutil.Int64(2))
	env.register(t, 4, testutil.Int64(3))
	seedSubscription(t, env.db, 4, subOpts{expected: "5"})

	report, err := env.engine.RunDailySettlement(ctx, testDay)
	require.NoError(t, err)
	assert.Equal(t, 3, report.CommissionsApplied)
	assert.True(t, testutil.Dec("0.75").Equal(report.CommissionTotal), report.CommissionTotal.String())

	assert.True(t, testutil.Dec("5").Equal(testutil.Account(t, env.db, 4).Balance))
	for userID, want := range map[int64]string{3: "0.35", 2: "0.25", 1: "0.15"} {
		acc := testutil.Account(t, env.db, userID)
		assert.True(t, testutil.Dec(want).Equal(acc.Balance), "user %d balance %s", userID, acc.Balance)
		assert.True(t, testutil.Dec(want).Equal(acc.ReferralEarnings), "user %d referral earnings", userID)
		assert.True(t, testutil.Dec(want).Equal(acc.TotalEarnings), "user %d total earnings", userID)
	}

	var edges []*model.ReferralEdge
	require.NoError(t, env.db.Where("referred_id = ?", 4).Order("level").Find(&edges).Error)
	require.Len(t, edges, 3)
	assert.True(t, testutil.Dec("0.35").Equal(edges[0].TotalEarned))
	assert.True(t, testutil.Dec("5").Equal(edges[0].TotalVolume))

	assert.Equal(t, int64(3), countRows(t, env.db, &model.CommissionRecord{}, ""))
}

func TestSettlement_RerunSameDayChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.register(t, 1, nil)
	env.register(t, 2, testutil.Int64(1))
	sub := seedSubscription(t, env.db, 2, subOpts{expected: "5"})

	_, err := env.engine.RunDailySettlement(ctx, testDay)
	require.NoError(t, err)

	again, err := env.engine.RunDailySettlement(ctx, testDay)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Investment.Processed)
	assert.Equal(t, 0, again.CommissionsApplied)
	assert.Equal(t, 0, again.Recovered)

	// calling the unit directly is also refused
	_, err = env.engine.SettleSubscription(ctx, sub.ID, testDay, nil)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	assert.True(t, testutil.Dec("5").Equal(testutil.Account(t, env.db, 2).Balance))
	assert.True(t, testutil.Dec("0.35").Equal(testutil.Account(t, env.db, 1).Balance))
	assert.Equal(t, int64(1), countRows(t, env.db, &model.AccrualRecord{}, ""))
	assert.Equal(t, int64(1), countRows(t, env.db, &model.CommissionRecord{}, ""))
	assert.Equal(t, 1, reloadSubscription(t, env.db, sub.ID).TotalDaysActive)
}

func TestSettlement_NextDayAccruesAgain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.register(t, 1, nil)
	sub := seedSubscription(t, env.db, 1, subOpts{expected: "5"})

	_, err := env.engine.RunDailySettlement(ctx, testDay)
	require.NoError(t, err)
	_, err = env.engine.RunDailySettlement(ctx, testDay.AddDate(0, 0, 1))
	require.NoError(t, err)

	assert.True(t, testutil.Dec("10").Equal(testutil.Account(t, env.db, 1).Balance))
	reloaded := reloadSubscription(t, env.db, sub.ID)
	assert.Equal(t, 2, reloaded.TotalDaysActive)
	assert.True(t, model.Day(*reloaded.LastProfitDate).Equal(testDay.AddDate(0, 0, 1)))
}

func TestSettlement_OneFailureDoesNotStopOthers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.register(t, 1, nil)
	good := seedSubscription(t, env.db, 1, subOpts{expected: "5"})
	// no account for user 99
	orphan := seedSubscription(t, env.db, 99, subOpts{expected: "5"})
	device := seedDevice(t, env.db, "100")
	other := seedSubscription(t, env.db, 1, subOpts{kind: model.SubscriptionKindRental, expected: "2", deviceID: &device.ID})

	report, err := env.engine.RunDailySettlement(ctx, testDay)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Investment.Processed)
	assert.Equal(t, 1, report.Investment.Failed)
	assert.Equal(t, 1, report.Rental.Processed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, orphan.ID, report.Failures[0].SubscriptionID)

	assert.True(t, testutil.Dec("7").Equal(testutil.Account(t, env.db, 1).Balance))
	assert.Equal(t, int64(0), countRows(t, env.db, &model.AccrualRecord{}, "subscription_id = ?", orphan.ID))
	assert.Nil(t, reloadSubscription(t, env.db, orphan.ID).LastProfitDate)
	assert.NotNil(t, reloadSubscription(t, env.db, good.ID).LastProfitDate)
	assert.NotNil(t, reloadSubscription(t, env.db, other.ID).LastProfitDate)

	var run model.SettlementRun
	require.NoError(t, env.db.First(&run, "id = ?", report.RunID).Error)
	assert.Equal(t, model.SettlementRunPartial, run.Status)
	assert.Equal(t, 1, run.InvestmentFailed)
}

func TestSettlement_RecoversCascadeMissedAfterCommit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.register(t, 1, nil)
	env.register(t, 2, testutil.Int64(1))
	sub := seedSubscription(t, env.db, 2, subOpts{expected: "5"})

	// accrual committed, cascade never ran
	_, err := env.engine.SettleSubscription(ctx, sub.ID, testDay, nil)
	require.NoError(t, err)
	assert.True(t, testutil.Account(t, env.db, 1).Balance.IsZero())

	report, err := env.engine.RunDailySettlement(ctx, testDay)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Recovered)
	assert.Equal(t, 1, report.CommissionsApplied)
	assert.Equal(t, 0, report.Investment.Processed)

	assert.True(t, testutil.Dec("0.35").Equal(testutil.Account(t, env.db, 1).Balance))
	assert.True(t, testutil.Dec("5").Equal(testutil.Account(t, env.db, 2).Balance))

	again, err := env.engine.RunDailySettlement(ctx, testDay)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Recovered)
	assert.True(t, testutil.Dec("0.35").Equal(testutil.Account(t, env.db, 1).Balance))
}

func TestSettlement_ClosesEndedSubscriptions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.register(t, 1, nil)
	end := testDay.AddDate(0, 0, -1)
	ended := seedSubscription(t, env.db, 1, subOpts{expected: "5", start: testDay.AddDate(0, 0, -10), end: end})
	require.NoError(t, env.db.Model(&model.Subscription{}).Where("id = ?", ended.ID).Update("last_profit_date", end).Error)
	rental := seedSubscription(t, env.db, 1, subOpts{kind: model.SubscriptionKindRental, expected: "1", start: testDay.AddDate(0, 0, -10), end: end})
	require.NoError(t, env.db.Model(&model.Subscription{}).Where("id = ?", rental.ID).Update("last_profit_date", end).Error)
	// missed its final day and still inside the lookback window
	lagging := seedSubscription(t, env.db, 1, subOpts{expected: "5", start: testDay.AddDate(0, 0, -10), end: end})

	report, err := env.engine.RunDailySettlement(ctx, testDay)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Matured)

	assert.Equal(t, model.SubscriptionStatusMatured, reloadSubscription(t, env.db, ended.ID).Status)
	assert.Equal(t, model.SubscriptionStatusCompleted, reloadSubscription(t, env.db, rental.ID).Status)
	assert.Equal(t, model.SubscriptionStatusActive, reloadSubscription(t, env.db, lagging.ID).Status)
	assert.True(t, testutil.Account(t, env.db, 1).Balance.IsZero())
}

func TestSettlement_ZeroUptimeRecordsZeroProfit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.register(t, 1, nil)
	env.register(t, 2, testutil.Int64(1))
	device := seedDevice(t, env.db, "0")
	sub := seedSubscription(t, env.db, 2, subOpts{kind: model.SubscriptionKindRental, expected: "10", deviceID: &device.ID})

	report, err := env.engine.RunDailySettlement(ctx, testDay)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rental.Processed)

	assert.True(t, testutil.Account(t, env.db, 2).Balance.IsZero())
	assert.True(t, testutil.Account(t, env.db, 1).Balance.IsZero())
	assert.Equal(t, int64(1), countRows(t, env.db, &model.AccrualRecord{}, "subscription_id = ?", sub.ID))
	// the zero commission is still recorded so recovery does not retry it
	assert.Equal(t, int64(1), countRows(t, env.db, &model.CommissionRecord{}, ""))
	assert.Equal(t, int64(0), countRows(t, env.db, &model.AccountTransaction{}, "type = ?", model.TransactionTypeRentalProfit))
}

func TestSettlement_RentalWithoutDeviceIsNotPaid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.register(t, 1, nil)
	device := seedDevice(t, env.db, "80")
	gone := seedSubscription(t, env.db, 1, subOpts{kind: model.SubscriptionKindRental, expected: "10", deviceID: testutil.Int64(999)})
	bare := seedSubscription(t, env.db, 1, subOpts{kind: model.SubscriptionKindRental, expected: "10"})
	ok := seedSubscription(t, env.db, 1, subOpts{kind: model.SubscriptionKindRental, expected: "10", deviceID: &device.ID})

	report, err := env.engine.RunDailySettlement(ctx, testDay)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rental.Processed)
	assert.Equal(t, 2, report.Rental.Failed)

	failed := map[int64]bool{}
	for _, f := range report.Failures {
		failed[f.SubscriptionID] = true
		assert.Contains(t, f.Error, ErrRentalWithoutDevice.Error())
	}
	assert.Equal(t, map[int64]bool{gone.ID: true, bare.ID: true}, failed)

	assert.True(t, testutil.Dec("8").Equal(testutil.Account(t, env.db, 1).Balance))
	assert.Equal(t, int64(0), countRows(t, env.db, &model.AccrualRecord{}, "subscription_id IN ?", []int64{gone.ID, bare.ID}))
	assert.NotNil(t, reloadSubscription(t, env.db, ok.ID).LastProfitDate)

	_, err = env.engine.SettleSubscription(ctx, gone.ID, testDay, nil)
	assert.ErrorIs(t, err, ErrRentalWithoutDevice)
	assert.False(t, IsRetryable(err))
}

func TestSettlement_ConcurrentRunsSettleOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.register(t, 1, nil)
	env.register(t, 2, testutil.Int64(1))
	for i := 0; i < 6; i++ {
		seedSubscription(t, env.db, 2, subOpts{expected: "5"})
	}

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.engine.RunDailySettlement(ctx, testDay)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	assert.True(t, testutil.Dec("30").Equal(testutil.Account(t, env.db, 2).Balance))
	assert.True(t, testutil.Dec("2.1").Equal(testutil.Account(t, env.db, 1).Balance))
	assert.Equal(t, int64(6), countRows(t, env.db, &model.AccrualRecord{}, ""))
	assert.Equal(t, int64(6), countRows(t, env.db, &model.CommissionRecord{}, ""))
}

func TestCommissionCascade_RepeatedCallsPayOncePerEdge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.register(t, 1, nil)
	env.register(t, 2, testutil.Int64(1))
	env.register(t, 3, testutil.Int64(2))
	sub := seedSubscription(t, env.db, 3, subOpts{expected: "10"})

	accrual, err := env.engine.SettleSubscription(ctx, sub.ID, testDay, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]CascadeResult, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.cascade.ApplyCommissions(ctx, accrual)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	applied := 0
	for _, r := range results {
		applied += r.Applied
		assert.Equal(t, 0, r.Failed)
	}
	assert.Equal(t, 2, applied)

	assert.Equal(t, int64(1), countRows(t, env.db, &model.CommissionRecord{}, "accrual_id = ? AND referrer_id = ?", accrual.ID, 2))
	assert.Equal(t, int64(1), countRows(t, env.db, &model.CommissionRecord{}, "accrual_id = ? AND referrer_id = ?", accrual.ID, 1))
	assert.True(t, testutil.Dec("0.7").Equal(testutil.Account(t, env.db, 2).Balance))
	assert.True(t, testutil.Dec("0.5").Equal(testutil.Account(t, env.db, 1).Balance))

	edges, err := env.graph.Edges(ctx, 3)
	require.NoError(t, err)
	for _, e := range edges {
		assert.True(t, e.TotalVolume.Equal(testutil.Dec("10")), "edge %d volume %s", e.ID, e.TotalVolume)
	}
}

func TestSettlement_AccrualRacingWithdrawalHoldLosesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	testutil.SeedAccount(t, env.db, 1, "100", nil)
	seedSubscription(t, env.db, 1, subOpts{expected: "5"})
	withdrawals := newWithdrawalService(t, env, nil)

	var wg sync.WaitGroup
	var settleErr, holdErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, settleErr = env.engine.RunDailySettlement(ctx, testDay)
	}()
	go func() {
		defer wg.Done()
		_, holdErr = withdrawals.Request(ctx, &WithdrawalRequestInput{UserID: 1, Amount: testutil.Dec("100"), Method: "usdt_trc20", Address: "TXyz123"})
	}()
	wg.Wait()
	require.NoError(t, settleErr)
	require.NoError(t, holdErr)

	acc := testutil.Account(t, env.db, 1)
	assert.True(t, testutil.Dec("5").Equal(acc.Balance), acc.Balance.String())
	assert.True(t, testutil.Dec("5").Equal(acc.TotalEarnings))

	// the journal replays from the seeded 100 to the stored balance
	var rows []*model.AccountTransaction
	require.NoError(t, env.db.Where("user_id = ?", 1).Order("id ASC").Find(&rows).Error)
	sum := decimal.Zero
	for _, r := range rows {
		sum = sum.Add(r.Amount)
	}
	assert.True(t, sum.Equal(acc.Balance.Sub(testutil.Dec("100"))), "journal %s balance %s", sum, acc.Balance)
	assert.Equal(t, int64(1), countRows(t, env.db, &model.WithdrawalRequest{}, "user_id = ?", 1))
}

func TestSettlement_DayConservesMoney(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.register(t, 1, nil)
	env.register(t, 2, testutil.Int64(1))
	env.register(t, 3, testutil.Int64(2))
	env.register(t, 4, testutil.Int64(3))
	env.register(t, 5, testutil.Int64(4))
	device := seedDevice(t, env.db, "92.5")
	seedSubscription(t, env.db, 5, subOpts{expected: "7.77"})
	seedSubscription(t, env.db, 4, subOpts{kind: model.SubscriptionKindRental, expected: "13", deviceID: &device.ID})
	seedSubscription(t, env.db, 2, subOpts{expected: "1.01"})

	report, err := env.engine.RunDailySettlement(ctx, testDay)
	require.NoError(t, err)
	require.Equal(t, 0, report.TotalFailed())

	var accruals []*model.AccrualRecord
	require.NoError(t, env.db.Find(&accruals).Error)
	profit := decimal.Zero
	for _, a := range accruals {
		profit = profit.Add(a.ProfitAmount)

		var shares []*model.CommissionRecord
		require.NoError(t, env.db.Where("accrual_id = ?", a.ID).Find(&shares).Error)
		paid := decimal.Zero
		for _, c := range shares {
			paid = paid.Add(c.CommissionAmount)
		}
		ceiling := a.ProfitAmount.Mul(testRates.Sum()).Div(decimal.NewFromInt(100))
		assert.True(t, paid.LessThanOrEqual(ceiling), "accrual %d pays %s over %s", a.ID, paid, ceiling)
	}

	var commissions []*model.CommissionRecord
	require.NoError(t, env.db.Find(&commissions).Error)
	commission := decimal.Zero
	for _, c := range commissions {
		commission = commission.Add(c.CommissionAmount)
	}

	var accounts []*model.Account
	require.NoError(t, env.db.Find(&accounts).Error)
	credited := decimal.Zero
	for _, a := range accounts {
		credited = credited.Add(a.Balance)
	}

	assert.True(t, credited.Equal(profit.Add(commission)), "credited %s, profit %s, commission %s", credited, profit, commission)
	assert.True(t, report.CommissionTotal.Equal(commission))
}
