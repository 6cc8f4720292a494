package service

import (
	"errors"
	"fmt"

	"earnsystem/internal/gateway"
	"earnsystem/internal/ledger"
	"earnsystem/internal/repository"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrAlreadyProcessed  = errors.New("already processed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = errors.New("not allowed for this user")

	ErrRentalWithoutDevice = errors.New("rental has no resolvable device")
)

// ValidationError is a request rejected before any state change. Reason is
// safe to show to the user.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsRetryable reports errors that may succeed on a later attempt without any
// change to the input: transient storage errors and lost races. Validation
// failures, invariant violations and duplicates are not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrAlreadyProcessed),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrRentalWithoutDevice),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInvariantViolation),
		errors.Is(err, ledger.ErrInvalidEntry),
		errors.Is(err, ledger.ErrDuplicateEntry),
		errors.Is(err, gateway.ErrInvalidSignature),
		errors.Is(err, gateway.ErrUnknownStatus),
		IsNotFound(err):
		return false
	}
	return true
}

// IsNotFound reports whether err names a missing entity.
func IsNotFound(err error) bool {
	for _, target := range []error{
		repository.ErrAccountNotFound,
		repository.ErrSubscriptionNotFound,
		repository.ErrAccrualNotFound,
		repository.ErrPaymentNotFound,
		repository.ErrWithdrawalNotFound,
		repository.ErrDeviceNotFound,
		repository.ErrPlanNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// transitionErr turns a failed compare-and-set into ErrInvalidTransition.
func transitionErr(err error, what string, from, to string) error {
	if errors.Is(err, repository.ErrInvalidStatus) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, what, from, to)
	}
	return err
}
