package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"posengine/backend/internal/domain"
	"posengine/backend/internal/store"
)

const (
	maxReasonLength = 500
	// maxLineQuantity bounds one cart entry or one refunded line so
	// quantity sums over a whole request stay far from int overflow.
	maxLineQuantity = 1_000_000
)

func validateCart(req domain.CartRequest) error {
	switch {
	case strings.TrimSpace(req.CompanyID) == "":
		return store.Invalid("company_id", "is required")
	case strings.TrimSpace(req.CashierID) == "":
		return store.Invalid("cashier_id", "is required")
	case len(req.Items) == 0:
		return store.Invalid("items", "cart is empty")
	case len(req.Items) > maxCartItems:
		return store.Invalid("items", "cart has %d entries, limit is %d", len(req.Items), maxCartItems)
	case !req.PaymentMethod.Valid():
		return store.Invalid("payment_method", "unsupported payment method %q", req.PaymentMethod)
	case req.AmountTendered.Valid && req.AmountTendered.Decimal.IsNegative():
		return store.Invalid("amount_tendered", "must not be negative")
	}
	return nil
}

func validateEntry(index int, entry domain.CartEntry) error {
	field := func(name string) string {
		return fmt.Sprintf("items[%d].%s", index, name)
	}

	if entry.ProductID == "" {
		return store.Invalid(field("product_id"), "is required")
	}
	if entry.Quantity < 1 {
		return store.Invalid(field("quantity"), "must be greater than zero, got %d", entry.Quantity)
	}
	if !entry.DiscountType.Valid() {
		return store.Invalid(field("discount_type"), "unknown discount type")
	}
	if entry.DiscountValue.IsNegative() {
		return store.Invalid(field("discount_value"), "must not be negative")
	}
	if !entry.DiscountValue.Equal(entry.DiscountValue.Round(domain.MoneyPlaces)) {
		return store.Invalid(field("discount_value"), "must have at most %d decimal places", domain.MoneyPlaces)
	}
	switch entry.DiscountType {
	case domain.DiscountNone:
		if !entry.DiscountValue.IsZero() {
			return store.Invalid(field("discount_value"), "must be zero when discount_type is none")
		}
	case domain.DiscountPercentage:
		if entry.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
			return store.Invalid(field("discount_value"), "percentage must be at most 100")
		}
	}
	return nil
}

// normalizeRefundLines validates a refund request and folds repeated
// line ids into one entry, keeping first-seen order.
func normalizeRefundLines(req domain.RefundRequest) ([]domain.RefundLineRequest, error) {
	switch {
	case strings.TrimSpace(req.CompanyID) == "":
		return nil, store.Invalid("company_id", "is required")
	case strings.TrimSpace(req.SaleID) == "":
		return nil, store.Invalid("sale_id", "is required")
	case len(req.Lines) == 0:
		return nil, store.Invalid("lines", "at least one line is required")
	case len(req.Reason) > maxReasonLength:
		return nil, store.Invalid("reason", "must be at most %d characters", maxReasonLength)
	}

	merged := make([]domain.RefundLineRequest, 0, len(req.Lines))
	position := make(map[string]int, len(req.Lines))
	for i, line := range req.Lines {
		id := strings.TrimSpace(line.SaleLineID)
		if id == "" {
			return nil, store.Invalid(fmt.Sprintf("lines[%d].sale_line_id", i), "is required")
		}
		if line.Quantity < 0 {
			return nil, store.Invalid(fmt.Sprintf("lines[%d].quantity", i), "must not be negative, got %d", line.Quantity)
		}
		if line.Quantity > maxLineQuantity {
			return nil, store.Invalid(fmt.Sprintf("lines[%d].quantity", i), "must be at most %d, got %d", maxLineQuantity, line.Quantity)
		}
		if at, seen := position[id]; seen {
			merged[at].Quantity += line.Quantity
			if merged[at].Quantity > maxLineQuantity {
				return nil, store.Invalid(fmt.Sprintf("lines[%d].quantity", i), "total for sale line %s must be at most %d", id, maxLineQuantity)
			}
			continue
		}
		position[id] = len(merged)
		merged = append(merged, domain.RefundLineRequest{SaleLineID: id, Quantity: line.Quantity})
	}
	return merged, nil
}

var engineErrors = []error{
	store.ErrValidation,
	store.ErrProductNotFound,
	store.ErrInsufficientStock,
	store.ErrInsufficientPayment,
	store.ErrStockConflict,
	store.ErrCommitTimeout,
	store.ErrSaleNotFound,
	store.ErrSaleLineNotFound,
	store.ErrRefundExceedsAvailable,
	store.ErrInvalidStatus,
}

// classify maps an error leaving a unit of work onto the taxonomy. A
// deadline hit anywhere inside the unit becomes ErrCommitTimeout.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range engineErrors {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, store.ErrCommitTimeout)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, store.ErrPersistence) {
		return err
	}
	return store.Persistence(op, err)
}

func withDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
