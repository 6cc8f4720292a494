package ledger

import (
	"errors"
	"fmt"

	"earnsystem/internal/repository"

	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound     = repository.ErrAccountNotFound
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvariantViolation  = errors.New("ledger invariant violation")
	ErrConcurrentUpdate    = errors.New("account changed concurrently, retry")
	ErrDuplicateEntry      = errors.New("ledger entry already applied")
	ErrInvalidEntry        = errors.New("invalid ledger entry")
)

// InsufficientBalanceError is returned when an entry would take a balance
// below zero. The whole entry is rejected.
type InsufficientBalanceError struct {
	UserID    int64
	Balance   decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for user %d: have %s, need %s",
		e.UserID, e.Balance.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// InvariantError reports a mutation that would break an account invariant,
// such as decreasing a lifetime counter.
type InvariantError struct {
	UserID int64
	Field  Field
	Value  decimal.Decimal
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("ledger invariant violated for user %d field %s (value %s): %s",
		e.UserID, e.Field, e.Value.String(), e.Reason)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariantViolation
}
