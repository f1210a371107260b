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
	"posengine/backend/internal/xid"
)

// RefundProcessor applies partial, per-line refunds against committed
// sales. Refunds never touch stock.
type RefundProcessor struct {
	uow     store.UnitOfWork
	timeout time.Duration
	now     func() time.Time
}

func NewRefundProcessor(uow store.UnitOfWork, timeout time.Duration) *RefundProcessor {
	return &RefundProcessor{
		uow:     uow,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Apply refunds every requested line or none of them. The sale row is
// locked for the whole unit so concurrent refunds on one sale cannot
// both read the same refunded quantity.
func (p *RefundProcessor) Apply(ctx context.Context, req domain.RefundRequest) (*domain.RefundResult, error) {
	lines, err := normalizeRefundLines(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withDeadline(ctx, p.timeout)
	defer cancel()

	var result *domain.RefundResult
	err = p.uow.Run(ctx, func(tx store.Tx) error {
		result = nil

		sale, err := tx.LockSale(ctx, req.CompanyID, req.SaleID)
		if err != nil {
			return err
		}

		refund, err := planRefund(sale, lines)
		if err != nil {
			return err
		}
		if refund == nil {
			result = &domain.RefundResult{Sale: sale, Amount: decimal.Zero}
			return nil
		}

		next := domain.SalePartiallyRefunded
		if sale.FullyRefunded() {
			next = domain.SaleRefunded
		}
		if !sale.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: sale %s cannot move from %s to %s", store.ErrInvalidStatus, sale.ID, sale.Status, next)
		}
		sale.Status = next

		refund.ID = xid.New("refund")
		refund.SaleID = sale.ID
		refund.CompanyID = sale.CompanyID
		refund.ActorID = req.ActorID
		refund.Reason = strings.TrimSpace(req.Reason)
		refund.CreatedAt = p.now()

		if err := tx.ApplyRefund(ctx, sale, refund); err != nil {
			return err
		}
		result = &domain.RefundResult{Refund: refund, Sale: sale, Amount: refund.Amount}
		return nil
	})
	if err != nil {
		return nil, classify(ctx, "apply refund", err)
	}
	return result, nil
}

// planRefund applies lines to sale in memory and returns the refund
// record, or nil when every requested quantity is zero. Every bad line is
// reported, not just the first.
func planRefund(sale *domain.Sale, lines []domain.RefundLineRequest) (*domain.Refund, error) {
	var problems []error
	for _, req := range lines {
		if req.Quantity < 0 {
			return nil, store.Invalid("quantity", "must not be negative on line %s, got %d", req.SaleLineID, req.Quantity)
		}
		line, ok := sale.Line(req.SaleLineID)
		if !ok {
			problems = append(problems, &store.LineError{SaleLineID: req.SaleLineID, Requested: req.Quantity, Err: store.ErrSaleLineNotFound})
			continue
		}
		if req.Quantity > line.RefundableQuantity() {
			problems = append(problems, &store.LineError{
				SaleLineID: req.SaleLineID,
				Requested:  req.Quantity,
				Available:  line.RefundableQuantity(),
				Err:        store.ErrRefundExceedsAvailable,
			})
		}
	}
	if len(problems) > 0 {
		return nil, errors.Join(problems...)
	}

	refund := &domain.Refund{Amount: decimal.Zero}
	for _, req := range lines {
		if req.Quantity == 0 {
			continue
		}
		if sale.Status == domain.SaleVoided {
			return nil, fmt.Errorf("%w: sale %s is voided", store.ErrInvalidStatus, sale.ID)
		}

		line, _ := sale.Line(req.SaleLineID)
		// Differencing cumulative amounts keeps the sum of all refunds on
		// a line equal to its total once fully refunded.
		before := domain.ProportionalAmount(line.LineTotal, line.RefundedQuantity, line.Quantity)
		after := domain.ProportionalAmount(line.LineTotal, line.RefundedQuantity+req.Quantity, line.Quantity)
		amount := after.Sub(before)

		line.RefundedQuantity += req.Quantity
		line.IsRefunded = line.RefundedQuantity == line.Quantity

		refund.Lines = append(refund.Lines, domain.RefundLine{
			SaleLineID: line.ID,
			Quantity:   req.Quantity,
			Amount:     amount,
		})
		refund.Amount = refund.Amount.Add(amount)
	}
	if len(refund.Lines) == 0 {
		return nil, nil
	}
	return refund, nil
}
