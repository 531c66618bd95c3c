package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

type ErrorCode string

const (
	CodeInsufficientFunds       ErrorCode = "INSUFFICIENT_FUNDS"
	CodeCardNotFound            ErrorCode = "CARD_NOT_FOUND"
	CodeCardExpiredOrRedeemed   ErrorCode = "CARD_EXPIRED_OR_REDEEMED"
	CodeCardInUse               ErrorCode = "CARD_IN_USE"
	CodeCardScopeMismatch       ErrorCode = "CARD_SCOPE_MISMATCH"
	CodePaymentNotFound         ErrorCode = "PAYMENT_NOT_FOUND"
	CodeDepositNotFound         ErrorCode = "DEPOSIT_NOT_FOUND"
	CodeInvalidStateTransition  ErrorCode = "INVALID_STATE_TRANSITION"
	CodeAmountExceedsReserved   ErrorCode = "AMOUNT_EXCEEDS_RESERVED"
	CodeMerchantScopeNotFound   ErrorCode = "MERCHANT_SCOPE_NOT_FOUND"
	CodeCustomerNotFound        ErrorCode = "CUSTOMER_NOT_FOUND"
	CodeInvalidAmount           ErrorCode = "INVALID_AMOUNT"
	CodeInvalidFundingSource    ErrorCode = "INVALID_FUNDING_SOURCE"
	CodeInvalidDateRange        ErrorCode = "INVALID_DATE_RANGE"
	CodeCaptureDeclined         ErrorCode = "CAPTURE_DECLINED"
	CodeCaptureUnavailable      ErrorCode = "CAPTURE_UNAVAILABLE"
	CodeReconciliationShortfall ErrorCode = "RECONCILIATION_SHORTFALL"
	CodeTransientStorage        ErrorCode = "TRANSIENT_STORAGE_ERROR"
)

// LedgerError 账本的业务错误，Fields 携带金额、范围、标识等上下文
// 与哨兵错误按 Code 比较：errors.Is(err, ErrInsufficientFunds)
type LedgerError struct {
	Code    ErrorCode
	Message string
	Fields  map[string]interface{}
	Err     error
}

var (
	ErrInsufficientFunds       = &LedgerError{Code: CodeInsufficientFunds}
	ErrCardNotFound            = &LedgerError{Code: CodeCardNotFound}
	ErrCardExpiredOrRedeemed   = &LedgerError{Code: CodeCardExpiredOrRedeemed}
	ErrCardInUse               = &LedgerError{Code: CodeCardInUse}
	ErrCardScopeMismatch       = &LedgerError{Code: CodeCardScopeMismatch}
	ErrPaymentNotFound         = &LedgerError{Code: CodePaymentNotFound}
	ErrDepositNotFound         = &LedgerError{Code: CodeDepositNotFound}
	ErrInvalidStateTransition  = &LedgerError{Code: CodeInvalidStateTransition}
	ErrAmountExceedsReserved   = &LedgerError{Code: CodeAmountExceedsReserved}
	ErrMerchantScopeNotFound   = &LedgerError{Code: CodeMerchantScopeNotFound}
	ErrCustomerNotFound        = &LedgerError{Code: CodeCustomerNotFound}
	ErrInvalidAmount           = &LedgerError{Code: CodeInvalidAmount}
	ErrInvalidFundingSource    = &LedgerError{Code: CodeInvalidFundingSource}
	ErrInvalidDateRange        = &LedgerError{Code: CodeInvalidDateRange}
	ErrCaptureDeclined         = &LedgerError{Code: CodeCaptureDeclined}
	ErrCaptureUnavailable      = &LedgerError{Code: CodeCaptureUnavailable}
	ErrReconciliationShortfall = &LedgerError{Code: CodeReconciliationShortfall}
	ErrTransientStorage        = &LedgerError{Code: CodeTransientStorage}
)

func (e *LedgerError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Fields[k])
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

func (e *LedgerError) Is(target error) bool {
	t, ok := target.(*LedgerError)
	return ok && t.Code == e.Code
}

// Retryable 只有存储层的瞬时错误调用方可以直接重试
func (e *LedgerError) Retryable() bool {
	return e.Code == CodeTransientStorage
}

type fields map[string]interface{}

func newError(code ErrorCode, message string, f fields) *LedgerError {
	return &LedgerError{Code: code, Message: message, Fields: f}
}

// storageError 已经是 LedgerError 的原样返回，其余视为可重试的存储错误
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var le *LedgerError
	if errors.As(err, &le) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &LedgerError{Code: CodeTransientStorage, Message: op, Err: err}
}

// AsLedgerError 提取错误链中的 LedgerError
func AsLedgerError(err error) (*LedgerError, bool) {
	var le *LedgerError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// validateAmount 金额必须为正且最多两位小数
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return newError(CodeInvalidAmount, "amount must be positive", fields{"amount": amount})
	}
	if !amount.Round(2).Equal(amount) {
		return newError(CodeInvalidAmount, "amount has more than two decimal places", fields{"amount": amount})
	}
	return nil
}
