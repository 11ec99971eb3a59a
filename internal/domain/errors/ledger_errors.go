package errors

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/helgykoin/hkn_ledger/pkg/retry"
)

// Ledger errors
var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrAlreadyWithdrawn  = errors.New("stake already withdrawn")
	ErrPrivilegeDenied   = errors.New("privilege denied")
	ErrUnknownBooster    = errors.New("unknown booster kind")
	ErrDuplicateRequest  = errors.New("duplicate request")

	// Storage errors, retried by the bounded retry policy
	ErrPoolExhausted = errors.New("connection pool exhausted")
	ErrStoreFailure  = errors.New("store failure")

	// ErrMaxRetriesExceeded is returned once retryable failures exhaust the policy.
	ErrMaxRetriesExceeded = retry.ErrMaxRetriesExceeded
)

const (
	CodeInvalidAmount      = "INVALID_AMOUNT"
	CodeInsufficientFunds  = "INSUFFICIENT_FUNDS"
	CodeWalletNotFound     = "WALLET_NOT_FOUND"
	CodeNotFound           = "NOT_FOUND"
	CodeAlreadyWithdrawn   = "ALREADY_WITHDRAWN"
	CodePrivilegeDenied    = "PRIVILEGE_DENIED"
	CodeUnknownBooster     = "UNKNOWN_BOOSTER"
	CodeDuplicateRequest   = "DUPLICATE_REQUEST"
	CodePoolExhausted      = "POOL_EXHAUSTED"
	CodeStoreError         = "STORE_ERROR"
	CodeMaxRetriesExceeded = "MAX_RETRIES_EXCEEDED"
)

// InvalidAmountError reports a non-positive, malformed or out-of-range value.
func InvalidAmountError(field, reason string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidAmount,
		Code:    CodeInvalidAmount,
		Message: fmt.Sprintf("invalid %s: %s", field, reason),
		Details: map[string]interface{}{
			"field": field,
		},
	}
}

// InsufficientFundsError creates an insufficient funds error
func InsufficientFundsError(accountID int64, available, requested decimal.Decimal) *DomainError {
	return &DomainError{
		Err:     ErrInsufficientFunds,
		Code:    CodeInsufficientFunds,
		Message: "insufficient funds",
		Details: map[string]interface{}{
			"account_id": accountID,
			"available":  available.String(),
			"requested":  requested.String(),
		},
	}
}

// WalletNotFoundError creates a wallet not found error
func WalletNotFoundError(accountID int64) *DomainError {
	return &DomainError{
		Err:     ErrWalletNotFound,
		Code:    CodeWalletNotFound,
		Message: "wallet not found",
		Details: map[string]interface{}{
			"account_id": accountID,
		},
	}
}

// StakeNotFoundError creates a not found error for a stake id.
func StakeNotFoundError(stakeID fmt.Stringer) *DomainError {
	return NotFoundError("stake", stakeID)
}

func AlreadyWithdrawnError(stakeID fmt.Stringer) *DomainError {
	return &DomainError{
		Err:     ErrAlreadyWithdrawn,
		Code:    CodeAlreadyWithdrawn,
		Message: "stake already withdrawn",
		Details: map[string]interface{}{
			"stake_id": stakeID.String(),
		},
	}
}

// PrivilegeDeniedError is returned when a non-admin invokes a privileged operation.
func PrivilegeDeniedError(actor int64, action string) *DomainError {
	return &DomainError{
		Err:     ErrPrivilegeDenied,
		Code:    CodePrivilegeDenied,
		Message: fmt.Sprintf("%s requires admin privileges", action),
		Details: map[string]interface{}{
			"actor":  actor,
			"action": action,
		},
	}
}

func UnknownBoosterError(kind string) *DomainError {
	return &DomainError{
		Err:     ErrUnknownBooster,
		Code:    CodeUnknownBooster,
		Message: fmt.Sprintf("unknown booster kind %q", kind),
		Details: map[string]interface{}{
			"kind": kind,
		},
	}
}

// DuplicateRequestError reports an idempotency key that was already committed
// by a different kind of operation.
func DuplicateRequestError(key string) *DomainError {
	return &DomainError{
		Err:     ErrDuplicateRequest,
		Code:    CodeDuplicateRequest,
		Message: "request with this idempotency key was already applied",
		Details: map[string]interface{}{
			"idempotency_key": key,
		},
	}
}

// PoolExhaustedError creates a retryable pool timeout error.
func PoolExhaustedError(waited time.Duration) *DomainError {
	return &DomainError{
		Err:       ErrPoolExhausted,
		Code:      CodePoolExhausted,
		Message:   "no storage connection available",
		Retryable: true,
		Details: map[string]interface{}{
			"waited": waited.String(),
		},
	}
}

// StoreError wraps an underlying storage failure as a retryable error. The
// driver error stays in the chain behind ErrStoreFailure.
func StoreError(op string, err error) *DomainError {
	cause := ErrStoreFailure
	if err != nil {
		cause = fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	de := &DomainError{
		Err:       cause,
		Code:      CodeStoreError,
		Message:   fmt.Sprintf("store failure during %s", op),
		Retryable: true,
		Details: map[string]interface{}{
			"operation": op,
		},
	}
	if err != nil {
		de.Details["cause"] = err.Error()
	}
	return de
}

func IsInsufficientFunds(err error) bool { return errors.Is(err, ErrInsufficientFunds) }

func IsInvalidAmount(err error) bool { return errors.Is(err, ErrInvalidAmount) }

func IsWalletNotFound(err error) bool { return errors.Is(err, ErrWalletNotFound) }

func IsPrivilegeDenied(err error) bool { return errors.Is(err, ErrPrivilegeDenied) }
