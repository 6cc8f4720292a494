package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"earnsystem/internal/model"
	"earnsystem/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestApplyAtomic_CreditsEveryFieldAndJournals(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedAccount(t, db, 1, "0", nil)
	l := New(db)

	err := l.ApplyAtomic(context.Background(), Entry{
		Ref:       "accrual:1",
		Type:      model.TransactionTypeRentalProfit,
		Actor:     "system",
		Mutations: Credit(1, testutil.Dec("9.5"), FieldBalance, FieldTotalEarnings, FieldRentalEarnings),
	})
	require.NoError(t, err)

	acc := testutil.Account(t, db, 1)
	assert.True(t, acc.Balance.Equal(testutil.Dec("9.5")))
	assert.True(t, acc.TotalEarnings.Equal(testutil.Dec("9.5")))
	assert.True(t, acc.RentalEarnings.Equal(testutil.Dec("9.5")))
	assert.True(t, acc.InvestmentEarnings.IsZero())
	assert.Equal(t, 1, acc.Version)

	var rows []model.AccountTransaction
	require.NoError(t, db.Where("ref_no = ?", "accrual:1").Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].BalanceBefore.IsZero())
	assert.True(t, rows[0].BalanceAfter.Equal(testutil.Dec("9.5")))
	assert.Contains(t, rows[0].Changes, "rental_earnings")
}

func TestApplyAtomic_SameRefTwiceIsRejected(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedAccount(t, db, 1, "0", nil)
	l := New(db)
	entry := Entry{Ref: "payment:PAY1", Type: model.TransactionTypeDeposit, Mutations: Credit(1, testutil.Dec("50"), FieldBalance)}

	require.NoError(t, l.ApplyAtomic(context.Background(), entry))
	err := l.ApplyAtomic(context.Background(), entry)
	assert.ErrorIs(t, err, ErrDuplicateEntry)

	assert.True(t, testutil.Account(t, db, 1).Balance.Equal(testutil.Dec("50")))
}

func TestApplyAtomic_RejectsNegativeBalanceWholeEntry(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedAccount(t, db, 1, "100", nil)
	testutil.SeedAccount(t, db, 2, "10", nil)
	l := New(db)

	// user 1 would be fine, user 2 goes negative: neither may change
	err := l.ApplyAtomic(context.Background(), Entry{
		Ref:  "transfer:1",
		Type: model.TransactionTypeAdminAdjust,
		Mutations: []Mutation{
			Debit(1, testutil.Dec("5")),
			Debit(2, testutil.Dec("20")),
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	var insufficient *InsufficientBalanceError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, int64(2), insufficient.UserID)

	assert.True(t, testutil.Account(t, db, 1).Balance.Equal(testutil.Dec("100")))
	assert.True(t, testutil.Account(t, db, 2).Balance.Equal(testutil.Dec("10")))

	var count int64
	require.NoError(t, db.Model(&model.AccountTransaction{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestApplyAtomic_RejectsDecreasingLifetimeCounter(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedAccount(t, db, 1, "100", nil)
	l := New(db)

	err := l.ApplyAtomic(context.Background(), Entry{
		Ref:       "bad:1",
		Type:      model.TransactionTypeAdminAdjust,
		Mutations: []Mutation{{UserID: 1, Field: FieldTotalEarnings, Delta: testutil.Dec("-1")}},
	})
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestApplyAtomic_ValidatesEntry(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedAccount(t, db, 1, "0", nil)
	l := New(db)
	ctx := context.Background()

	cases := map[string]Entry{
		"no ref":       {Type: "X", Mutations: Credit(1, testutil.Dec("1"), FieldBalance)},
		"no mutations": {Ref: "r", Type: "X"},
		"bad field":    {Ref: "r", Type: "X", Mutations: []Mutation{{UserID: 1, Field: "version", Delta: testutil.Dec("1")}}},
		"too precise":  {Ref: "r", Type: "X", Mutations: Credit(1, testutil.Dec("0.000000001"), FieldBalance)},
	}
	for name, entry := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, l.ApplyAtomic(ctx, entry), ErrInvalidEntry)
		})
	}

	err := l.ApplyAtomic(ctx, Entry{Ref: "r", Type: "X", Mutations: Credit(99, testutil.Dec("1"), FieldBalance)})
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestApplyInTx_RollsBackWithCaller(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedAccount(t, db, 1, "0", nil)
	l := New(db)
	ctx := context.Background()

	boom := errors.New("caller failed")
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := l.ApplyInTx(ctx, tx, Entry{Ref: "r1", Type: "X", Mutations: Credit(1, testutil.Dec("5"), FieldBalance)}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, testutil.Account(t, db, 1).Balance.IsZero())
}

func TestApplyAtomic_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedAccount(t, db, 1, "100", nil)
	l := New(db)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := l.ApplyAtomic(context.Background(), Entry{
				Ref:       "hold:" + string(rune('a'+i)),
				Type:      model.TransactionTypeWithdrawalHold,
				Mutations: []Mutation{Debit(1, testutil.Dec("30"))},
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.True(t, testutil.Account(t, db, 1).Balance.Equal(testutil.Dec("10")))
}
