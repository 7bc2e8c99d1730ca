package domain

import (
	"context"
	"errors"
)

var (
	ErrValidation         = errors.New("invalid request")
	ErrNotFound           = errors.New("not found")
	ErrCouponNotUsable    = errors.New("coupon is not usable")
	ErrRuleViolation      = errors.New("coupon rules not satisfied")
	ErrInsufficientBudget = errors.New("insufficient budget")
	ErrAlreadyReserved    = errors.New("budget usage already registered")
	ErrLockContention     = errors.New("budget is being processed by another request")
	ErrInternal           = errors.New("internal error")
	ErrNoApplicableCoupon = errors.New("no applicable coupon")
	ErrDuplicate          = errors.New("already exists")
)

type ErrorCode string

const (
	CodeNone               ErrorCode = ""
	CodeValidation         ErrorCode = "VALIDATION"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeNotUsable          ErrorCode = "NOT_USABLE"
	CodeRuleViolation      ErrorCode = "RULE_VIOLATION"
	CodeInsufficientBudget ErrorCode = "INSUFFICIENT_BUDGET"
	CodeAlreadyReserved    ErrorCode = "ALREADY_RESERVED"
	CodeLockContention     ErrorCode = "LOCK_CONTENTION"
	CodeNoApplicableCoupon ErrorCode = "NO_APPLICABLE_COUPON"
	CodeDuplicate          ErrorCode = "DUPLICATE"
	CodeInternal           ErrorCode = "INTERNAL"
)

var codeTable = []struct {
	err  error
	code ErrorCode
}{
	{ErrValidation, CodeValidation},
	{ErrNotFound, CodeNotFound},
	{ErrCouponNotUsable, CodeNotUsable},
	{ErrRuleViolation, CodeRuleViolation},
	{ErrInsufficientBudget, CodeInsufficientBudget},
	{ErrAlreadyReserved, CodeAlreadyReserved},
	{ErrLockContention, CodeLockContention},
	{ErrNoApplicableCoupon, CodeNoApplicableCoupon},
	{ErrDuplicate, CodeDuplicate},
}

// CodeOf maps an error onto its wire code. Anything unrecognised is INTERNAL.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeNone
	}
	for _, entry := range codeTable {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeInternal
}

// ErrorOf is the inverse of CodeOf, used when an error crosses a transport.
func ErrorOf(code ErrorCode, message string) error {
	if code == CodeNone {
		return nil
	}
	for _, entry := range codeTable {
		if entry.code == code {
			return entry.err
		}
	}
	if message == "" {
		return ErrInternal
	}
	return errors.Join(ErrInternal, errors.New(message))
}

// Transient reports whether the caller may retry the same request later.
func Transient(err error) bool {
	return errors.Is(err, ErrLockContention) ||
		errors.Is(err, context.DeadlineExceeded)
}
