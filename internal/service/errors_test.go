package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"debitledger/internal/testutil"

	"github.com/stretchr/testify/assert"
)

func TestLedgerError_Message(t *testing.T) {
	err := newError(CodeInsufficientFunds, "", fields{
		"merchant_scope_id": int64(3),
		"amount":            testutil.Amount("12.50"),
	})
	assert.Equal(t, "INSUFFICIENT_FUNDS (amount=12.5, merchant_scope_id=3)", err.Error())

	wrapped := &LedgerError{Code: CodeTransientStorage, Message: "reserve payment", Err: errors.New("database is locked")}
	assert.Equal(t, "TRANSIENT_STORAGE_ERROR: reserve payment: database is locked", wrapped.Error())
}

func TestLedgerError_IsByCode(t *testing.T) {
	err := fmt.Errorf("handler: %w", newError(CodeCardInUse, "", fields{"gift_card_id": int64(1)}))

	assert.ErrorIs(t, err, ErrCardInUse)
	assert.NotErrorIs(t, err, ErrCardNotFound)

	le, ok := AsLedgerError(err)
	assert.True(t, ok)
	assert.Equal(t, CodeCardInUse, le.Code)
	assert.False(t, le.Retryable())
}

func TestStorageError(t *testing.T) {
	assert.NoError(t, storageError("op", nil))

	business := newError(CodePaymentNotFound, "", nil)
	assert.Same(t, business, storageError("op", business))

	assert.ErrorIs(t, storageError("op", context.Canceled), context.Canceled)
	_, ok := AsLedgerError(storageError("op", context.DeadlineExceeded))
	assert.False(t, ok)

	cause := errors.New("driver: bad connection")
	err := storageError("confirm payment", cause)
	le, ok := AsLedgerError(err)
	assert.True(t, ok)
	assert.True(t, le.Retryable())
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrTransientStorage)
}

func TestValidateAmount(t *testing.T) {
	for _, ok := range []string{"0.01", "1", "10.5", "99999.99"} {
		assert.NoError(t, validateAmount(testutil.Amount(ok)), ok)
	}
	for _, bad := range []string{"0", "-0.01", "0.001", "12.345"} {
		assert.ErrorIs(t, validateAmount(testutil.Amount(bad)), ErrInvalidAmount, bad)
	}
}
