// Package ledger is the only writer of Account money columns.
//
// Every change is an Entry: a set of per-account field deltas keyed by a
// reference string. An entry is applied all-or-nothing inside one database
// transaction, with each touched account row locked FOR UPDATE and then
// written under an optimistic version check. Each applied entry leaves one
// journal row per account, unique on (ref, user), so the same reference can
// never be applied twice to the same account.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"earnsystem/internal/model"
	"earnsystem/internal/repository"
	"earnsystem/pkg/idgen"
	"earnsystem/pkg/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Scale is the number of decimal places stored for money.
const Scale = 8

type Field string

const (
	FieldBalance            Field = "balance"
	FieldTotalEarnings      Field = "total_earnings"
	FieldTotalInvested      Field = "total_invested"
	FieldTotalWithdrawn     Field = "total_withdrawn"
	FieldReferralEarnings   Field = "referral_earnings"
	FieldRentalEarnings     Field = "rental_earnings"
	FieldInvestmentEarnings Field = "investment_earnings"
)

// monotonic fields only grow.
var monotonic = map[Field]bool{
	FieldTotalEarnings:      true,
	FieldTotalWithdrawn:     true,
	FieldReferralEarnings:   true,
	FieldRentalEarnings:     true,
	FieldInvestmentEarnings: true,
}

func (f Field) valid() bool {
	switch f {
	case FieldBalance, FieldTotalInvested:
		return true
	}
	return monotonic[f]
}

func (f Field) get(a *model.Account) decimal.Decimal {
	switch f {
	case FieldBalance:
		return a.Balance
	case FieldTotalEarnings:
		return a.TotalEarnings
	case FieldTotalInvested:
		return a.TotalInvested
	case FieldTotalWithdrawn:
		return a.TotalWithdrawn
	case FieldReferralEarnings:
		return a.ReferralEarnings
	case FieldRentalEarnings:
		return a.RentalEarnings
	default:
		return a.InvestmentEarnings
	}
}

func (f Field) set(a *model.Account, v decimal.Decimal) {
	switch f {
	case FieldBalance:
		a.Balance = v
	case FieldTotalEarnings:
		a.TotalEarnings = v
	case FieldTotalInvested:
		a.TotalInvested = v
	case FieldTotalWithdrawn:
		a.TotalWithdrawn = v
	case FieldReferralEarnings:
		a.ReferralEarnings = v
	case FieldRentalEarnings:
		a.RentalEarnings = v
	case FieldInvestmentEarnings:
		a.InvestmentEarnings = v
	}
}

// Mutation changes one field of one account by Delta.
type Mutation struct {
	UserID int64
	Field  Field
	Delta  decimal.Decimal
}

// Entry is one atomic ledger operation.
type Entry struct {
	Ref       string // idempotency reference, e.g. "accrual:17"
	Type      string // model.TransactionType*
	Remark    string
	Actor     string // "system" or an admin identity
	Mutations []Mutation
}

// Credit builds the mutations that add amount to every listed field.
func Credit(userID int64, amount decimal.Decimal, fields ...Field) []Mutation {
	out := make([]Mutation, 0, len(fields))
	for _, f := range fields {
		out = append(out, Mutation{UserID: userID, Field: f, Delta: amount})
	}
	return out
}

// Debit builds a balance decrease.
func Debit(userID int64, amount decimal.Decimal) Mutation {
	return Mutation{UserID: userID, Field: FieldBalance, Delta: amount.Neg()}
}

// Money truncates v to the stored precision.
func Money(v decimal.Decimal) decimal.Decimal {
	return v.Truncate(Scale)
}

type Ledger struct {
	db       *gorm.DB
	accounts *repository.AccountRepository
	journal  *repository.TransactionRepository
}

func New(db *gorm.DB) *Ledger {
	return &Ledger{
		db:       db,
		accounts: repository.NewAccountRepository(db),
		journal:  repository.NewTransactionRepository(db),
	}
}

// ApplyAtomic applies entry in its own transaction.
func (l *Ledger) ApplyAtomic(ctx context.Context, entry Entry) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return l.ApplyInTx(ctx, tx, entry)
	})
}

// ApplyInTx applies entry inside the caller's transaction, so the money
// movement commits or rolls back together with the caller's own writes.
// Any error must abort tx.
func (l *Ledger) ApplyInTx(ctx context.Context, tx *gorm.DB, entry Entry) error {
	if err := validate(entry); err != nil {
		return err
	}

	// Lock accounts in ascending user order so two entries touching the same
	// pair of accounts cannot deadlock.
	byUser := make(map[int64][]Mutation)
	users := make([]int64, 0, 2)
	for _, m := range entry.Mutations {
		if _, ok := byUser[m.UserID]; !ok {
			users = append(users, m.UserID)
		}
		byUser[m.UserID] = append(byUser[m.UserID], m)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

	for _, userID := range users {
		if err := l.applyAccount(ctx, tx, entry, userID, byUser[userID]); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) applyAccount(ctx context.Context, tx *gorm.DB, entry Entry, userID int64, muts []Mutation) error {
	account, err := l.accounts.GetByUserIDForUpdate(ctx, tx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return fmt.Errorf("%w: user %d", ErrAccountNotFound, userID)
		}
		return fmt.Errorf("lock account %d: %w", userID, err)
	}

	before := account.Balance
	next := *account
	deltas := make(map[Field]decimal.Decimal, len(muts))
	for _, m := range muts {
		deltas[m.Field] = deltas[m.Field].Add(m.Delta)
	}

	values := make(map[string]interface{}, len(deltas)+1)
	changes := make(map[string]string, len(deltas))
	for field, delta := range deltas {
		v := field.get(&next).Add(delta)
		field.set(&next, v)
		values[string(field)] = v
		changes[string(field)] = delta.String()
	}

	if err := checkInvariants(userID, account, &next, deltas); err != nil {
		logger.Error("ledger entry rejected",
			zap.String("ref", entry.Ref),
			zap.String("type", entry.Type),
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		return err
	}

	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("encode changes: %w", err)
	}

	row := &model.AccountTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        userID,
		RefNo:         entry.Ref,
		Type:          entry.Type,
		Amount:        deltas[FieldBalance],
		BalanceBefore: before,
		BalanceAfter:  next.Balance,
		Changes:       string(changesJSON),
		Actor:         entry.Actor,
		Remark:        entry.Remark,
	}
	inserted, err := l.journal.Insert(ctx, tx, row)
	if err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	if !inserted {
		return fmt.Errorf("%w: ref %s user %d", ErrDuplicateEntry, entry.Ref, userID)
	}

	if err := l.accounts.UpdateMoney(ctx, tx, userID, account.Version, values); err != nil {
		if errors.Is(err, repository.ErrOptimisticLock) {
			return fmt.Errorf("%w: user %d", ErrConcurrentUpdate, userID)
		}
		return fmt.Errorf("update account %d: %w", userID, err)
	}
	return nil
}

func validate(entry Entry) error {
	if entry.Ref == "" {
		return fmt.Errorf("%w: empty ref", ErrInvalidEntry)
	}
	if entry.Type == "" {
		return fmt.Errorf("%w: empty type", ErrInvalidEntry)
	}
	if len(entry.Mutations) == 0 {
		return fmt.Errorf("%w: no mutations", ErrInvalidEntry)
	}
	for _, m := range entry.Mutations {
		if m.UserID <= 0 {
			return fmt.Errorf("%w: user id %d", ErrInvalidEntry, m.UserID)
		}
		if !m.Field.valid() {
			return fmt.Errorf("%w: unknown field %q", ErrInvalidEntry, m.Field)
		}
		if !m.Delta.Equal(Money(m.Delta)) {
			return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidEntry, m.Delta, Scale)
		}
	}
	return nil
}

func checkInvariants(userID int64, before, after *model.Account, deltas map[Field]decimal.Decimal) error {
	if after.Balance.IsNegative() {
		return &InsufficientBalanceError{
			UserID:    userID,
			Balance:   before.Balance,
			Requested: deltas[FieldBalance].Neg(),
		}
	}
	for field, delta := range deltas {
		if monotonic[field] && delta.IsNegative() {
			return &InvariantError{UserID: userID, Field: field, Value: field.get(after), Reason: "lifetime counter cannot decrease"}
		}
	}
	if after.TotalInvested.IsNegative() {
		return &InvariantError{UserID: userID, Field: FieldTotalInvested, Value: after.TotalInvested, Reason: "total invested below zero"}
	}
	return nil
}
