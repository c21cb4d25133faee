package domain

import "errors"

// Stable failure taxonomy. Validation errors are reported with no state
// change; ErrConcurrencyConflict is retried internally before it surfaces.
var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrAmountOutOfRange       = errors.New("amount out of range")
	ErrDailyLimitExceeded     = errors.New("daily transfer limit exceeded")
	ErrAmountMismatch         = errors.New("amount does not match allowed share of investment")
	ErrNoActiveInvestment     = errors.New("no active investment")
	ErrSelfTransferNotAllowed = errors.New("self transfer not allowed")
	ErrAccountNotFound        = errors.New("account not found")
	ErrConcurrencyConflict    = errors.New("concurrent update conflict")
	ErrPersistenceFailure     = errors.New("persistence failure")
)

// ErrorCode maps a failure to its stable wire code, or "internal_error"
// for anything outside the taxonomy.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrAmountOutOfRange):
		return "amount_out_of_range"
	case errors.Is(err, ErrDailyLimitExceeded):
		return "daily_limit_exceeded"
	case errors.Is(err, ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, ErrNoActiveInvestment):
		return "no_active_investment"
	case errors.Is(err, ErrSelfTransferNotAllowed):
		return "self_transfer_not_allowed"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, ErrPersistenceFailure):
		return "persistence_failure"
	}
	return "internal_error"
}
