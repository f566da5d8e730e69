package game

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	MinListingFee      = int64(100)
	MinTransactionFee  = int64(50)
	DefaultListingTTL  = 7 * 24 * time.Hour
	WeeklyRetention    = 12
	MaxListingTitleLen = 80
	MaxListingDescLen  = 500
)

var (
	listingFeeRate     = decimal.RequireFromString("0.05")
	transactionFeeRate = decimal.RequireFromString("0.02")
	cancelRefundRate   = decimal.RequireFromString("0.5")
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidState      = errors.New("invalid state")
	ErrSelfTrade         = errors.New("self trade rejected")
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidInput      = errors.New("invalid input")
	ErrTxConflict        = errors.New("transaction conflict, retry later")
	ErrDuplicateRequest  = errors.New("duplicate idempotency key")
)

// Code is the stable, client-facing name of an error class.
type Code string

const (
	CodeOK                Code = ""
	CodeInsufficientFunds Code = "insufficient_funds"
	CodeInvalidState      Code = "invalid_state"
	CodeSelfTrade         Code = "self_trade_rejected"
	CodeNotFound          Code = "not_found"
	CodeUnauthorized      Code = "unauthorized"
	CodeInvalidInput      Code = "invalid_input"
	CodeConflict          Code = "conflict"
	CodeDuplicate         Code = "duplicate_request"
	CodeInternal          Code = "internal"
)

func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrInsufficientFunds):
		return CodeInsufficientFunds
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrSelfTrade):
		return CodeSelfTrade
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrTxConflict):
		return CodeConflict
	case errors.Is(err, ErrDuplicateRequest):
		return CodeDuplicate
	default:
		return CodeInternal
	}
}

// Result is the tagged success/failure envelope returned at API boundaries.
type Result[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    Code   `json:"code,omitempty"`
}

func Ok[T any](v T) Result[T] {
	return Result[T]{Success: true, Data: v}
}

func Fail[T any](err error) Result[T] {
	return Result[T]{Error: strings.TrimSpace(err.Error()), Code: CodeOf(err)}
}

func ResultOf[T any](v T, err error) Result[T] {
	if err != nil {
		return Fail[T](err)
	}
	return Ok(v)
}

// roundRate returns round(amount*rate), rounding halves away from zero.
func roundRate(amount int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(rate).Round(0).IntPart()
}

func ListingFee(price int64) int64 {
	return max(MinListingFee, roundRate(price, listingFeeRate))
}

func TransactionFee(price int64) int64 {
	return max(MinTransactionFee, roundRate(price, transactionFeeRate))
}

func CancelRefund(listingFee int64) int64 {
	if listingFee <= 0 {
		return 0
	}
	return roundRate(listingFee, cancelRefundRate)
}

// WeekStart returns Monday 00:00 UTC of the ISO week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	y, m, d := t.Date()
	return time.Date(y, m, d-offset, 0, 0, 0, 0, time.UTC)
}

func ValidateListingType(t ListingType) error {
	switch t {
	case ListingItem, ListingService, ListingFavor, ListingIntel:
		return nil
	default:
		return fmt.Errorf("%w: unknown listing type %q", ErrInvalidInput, t)
	}
}

func validateText(field, v string, maxLen int, required bool) error {
	v = strings.TrimSpace(v)
	if required && v == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	if len(v) > maxLen {
		return fmt.Errorf("%w: %s too long (max %d chars)", ErrInvalidInput, field, maxLen)
	}
	return nil
}

func ValidateListingText(title, description string) error {
	if err := validateText("title", title, MaxListingTitleLen, true); err != nil {
		return err
	}
	return validateText("description", description, MaxListingDescLen, false)
}
