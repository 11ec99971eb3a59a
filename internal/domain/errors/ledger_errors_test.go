package errors_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	domainerrors "github.com/helgykoin/hkn_ledger/internal/domain/errors"
	"github.com/helgykoin/hkn_ledger/pkg/retry"
)

func TestStoreError_KeepsCause(t *testing.T) {
	tests := []struct {
		name  string
		cause error
	}{
		{"deadline", context.DeadlineExceeded},
		{"bad connection", driver.ErrBadConn},
		{"wrapped", fmt.Errorf("commit transaction: %w", driver.ErrBadConn)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := domainerrors.StoreError("commit", tt.cause)

			assert.ErrorIs(t, err, domainerrors.ErrStoreFailure)
			assert.ErrorIs(t, err, tt.cause)
			assert.Equal(t, domainerrors.CodeStoreError, domainerrors.GetErrorCode(err))
			assert.True(t, retry.IsRetryable(err))
			assert.Equal(t, "store failure during commit", err.Error())
			assert.Equal(t, tt.cause.Error(), err.Details["cause"])

			// still matches after the retrier gives up
			exhausted := fmt.Errorf("%w: %w", retry.ErrMaxRetriesExceeded, err)
			assert.ErrorIs(t, exhausted, tt.cause)
		})
	}
}

func TestStoreError_NilCause(t *testing.T) {
	err := domainerrors.StoreError("ping", nil)
	assert.ErrorIs(t, err, domainerrors.ErrStoreFailure)
	assert.NotContains(t, err.Details, "cause")
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
}
