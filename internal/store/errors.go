package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"posengine/backend/internal/domain"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrProductNotFound        = errors.New("product not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInsufficientPayment    = errors.New("insufficient payment")
	ErrStockConflict          = errors.New("stock conflict")
	ErrCommitTimeout          = errors.New("commit timed out")
	ErrSaleNotFound           = errors.New("sale not found")
	ErrSaleLineNotFound       = errors.New("sale line not found")
	ErrRefundExceedsAvailable = errors.New("refund exceeds available quantity")
	ErrInvalidStatus          = errors.New("invalid sale status transition")
	ErrPersistence            = errors.New("persistence failure")
)

// IsRetryable reports whether err came from a concurrent writer winning
// the race. Rebuilding against fresh catalog data and retrying is safe.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStockConflict) || errors.Is(err, ErrCommitTimeout)
}

// Persistence wraps a storage fault so callers can match ErrPersistence
// while the driver error stays reachable.
func Persistence(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

type FieldError struct {
	Field   string
	Message string
}

func Invalid(field string, format string, args ...any) *FieldError {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error {
	return ErrValidation
}

type ProductError struct {
	ProductID string
}

func (e *ProductError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

func (e *ProductError) Unwrap() error {
	return ErrProductNotFound
}

// StockError wraps ErrInsufficientStock when detected while building and
// ErrStockConflict when detected under lock at commit time.
type StockError struct {
	ProductID string
	Requested int
	Available int
	Err       error
}

func (e *StockError) Error() string {
	return fmt.Sprintf("%v for product %s: requested %d, available %d", e.Err, e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error {
	return e.Err
}

type PaymentError struct {
	Total    decimal.Decimal
	Tendered decimal.Decimal
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("insufficient payment: total %s, tendered %s", e.Total.StringFixed(domain.MoneyPlaces), e.Tendered.StringFixed(domain.MoneyPlaces))
}

func (e *PaymentError) Unwrap() error {
	return ErrInsufficientPayment
}

// LineError wraps ErrSaleLineNotFound or ErrRefundExceedsAvailable.
type LineError struct {
	SaleLineID string
	Requested  int
	Available  int
	Err        error
}

func (e *LineError) Error() string {
	if errors.Is(e.Err, ErrSaleLineNotFound) {
		return fmt.Sprintf("sale line %s not found", e.SaleLineID)
	}
	return fmt.Sprintf("%v on line %s: requested %d, available %d", e.Err, e.SaleLineID, e.Requested, e.Available)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// CartError carries every failing line of a cart.
type CartError struct {
	Results []domain.LineResult
}

func (e *CartError) Error() string {
	parts := make([]string, 0, len(e.Results))
	for _, result := range e.Results {
		parts = append(parts, fmt.Sprintf("item %d: %v", result.Index, result.Err))
	}
	return fmt.Sprintf("cart rejected: %s", strings.Join(parts, "; "))
}

func (e *CartError) Unwrap() []error {
	errs := make([]error, 0, len(e.Results))
	for _, result := range e.Results {
		errs = append(errs, result.Err)
	}
	return errs
}
