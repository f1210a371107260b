package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"posengine/backend/internal/domain"
	"posengine/backend/internal/store"
	"posengine/backend/internal/xid"
)

// Coordinator commits built sales. Header, lines, stock decrements and
// the sale number are written in one unit of work or not at all.
type Coordinator struct {
	uow     store.UnitOfWork
	timeout time.Duration
	now     func() time.Time
}

func NewCoordinator(uow store.UnitOfWork, timeout time.Duration) *Coordinator {
	return &Coordinator{
		uow:     uow,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Commit persists built. Stock is re-read under lock before each
// decrement; losing a race to another terminal yields ErrStockConflict,
// and running past the commit timeout yields ErrCommitTimeout. Both are
// safe to retry after rebuilding.
func (c *Coordinator) Commit(ctx context.Context, built *domain.BuiltSale) (*domain.CommitResult, error) {
	if built == nil || len(built.Lines) == 0 {
		return nil, store.Invalid("sale", "nothing to commit")
	}

	ctx, cancel := withDeadline(ctx, c.timeout)
	defer cancel()

	var result *domain.CommitResult
	err := c.uow.Run(ctx, func(tx store.Tx) error {
		result = nil

		if built.IdempotencyKey != "" {
			existing, err := tx.FindSaleByIdempotencyKey(ctx, built.CompanyID, built.IdempotencyKey)
			if err == nil {
				result = &domain.CommitResult{Sale: existing, Duplicate: true}
				return nil
			}
			if !errors.Is(err, store.ErrSaleNotFound) {
				return err
			}
		}

		levels, err := decrementDemand(ctx, tx, built)
		if err != nil {
			return err
		}

		number, err := tx.NextSaleNumber(ctx, built.CompanyID)
		if err != nil {
			return err
		}

		sale := materialize(built, number, c.now())
		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}

		result = &domain.CommitResult{Sale: sale, Stock: levels}
		return nil
	})
	if err != nil {
		return nil, classify(ctx, "commit sale", err)
	}
	return result, nil
}

// Void moves a completed sale with no refunds to voided. Stock is left
// as it is.
func (c *Coordinator) Void(ctx context.Context, req domain.VoidRequest) (*domain.Sale, error) {
	if strings.TrimSpace(req.CompanyID) == "" {
		return nil, store.Invalid("company_id", "is required")
	}
	if strings.TrimSpace(req.SaleID) == "" {
		return nil, store.Invalid("sale_id", "is required")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "unspecified"
	}
	if len(reason) > maxReasonLength {
		return nil, store.Invalid("reason", "must be at most %d characters", maxReasonLength)
	}

	ctx, cancel := withDeadline(ctx, c.timeout)
	defer cancel()

	var voided *domain.Sale
	err := c.uow.Run(ctx, func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, req.CompanyID, req.SaleID)
		if err != nil {
			return err
		}
		if sale.Status != domain.SaleCompleted || sale.HasRefunds() {
			return fmt.Errorf("%w: sale %s is %s and cannot be voided", store.ErrInvalidStatus, sale.ID, sale.Status)
		}

		at := c.now()
		sale.Status = domain.SaleVoided
		sale.VoidReason = reason
		sale.VoidedAt = &at
		if err := tx.MarkVoided(ctx, sale); err != nil {
			return err
		}
		voided = sale
		return nil
	})
	if err != nil {
		return nil, classify(ctx, "void sale", err)
	}
	return voided, nil
}

// decrementDemand walks demand in product-id order so concurrent commits
// always acquire stock locks in the same sequence.
func decrementDemand(ctx context.Context, tx store.Tx, built *domain.BuiltSale) ([]domain.StockLevel, error) {
	levels := make([]domain.StockLevel, 0, len(built.Demand))
	for _, demand := range built.Demand {
		snapshot, err := tx.LockStock(ctx, built.CompanyID, demand.ProductID)
		if err != nil {
			if errors.Is(err, store.ErrProductNotFound) {
				return nil, &store.StockError{ProductID: demand.ProductID, Requested: demand.Quantity, Available: 0, Err: store.ErrStockConflict}
			}
			return nil, err
		}
		if !snapshot.TrackInventory {
			continue
		}
		if snapshot.Quantity < demand.Quantity {
			return nil, &store.StockError{
				ProductID: demand.ProductID,
				Requested: demand.Quantity,
				Available: snapshot.Quantity,
				Err:       store.ErrStockConflict,
			}
		}

		next, err := tx.DecrementStock(ctx, built.CompanyID, demand.ProductID, demand.Quantity)
		if err != nil {
			return nil, err
		}
		levels = append(levels, domain.StockLevel{
			ProductID: demand.ProductID,
			Quantity:  next,
			LowStock:  next <= snapshot.LowStockThreshold,
		})
	}
	return levels, nil
}

func materialize(built *domain.BuiltSale, number int64, at time.Time) *domain.Sale {
	sale := &domain.Sale{
		ID:             xid.New("sale"),
		SaleNumber:     number,
		CompanyID:      built.CompanyID,
		CashierID:      built.CashierID,
		IdempotencyKey: built.IdempotencyKey,
		Subtotal:       built.Subtotal,
		TaxAmount:      built.TaxAmount,
		Total:          built.Total,
		PaymentMethod:  built.PaymentMethod,
		AmountTendered: built.AmountTendered,
		ChangeGiven:    built.ChangeGiven,
		Status:         domain.SaleCompleted,
		CreatedAt:      at,
		Lines:          make([]domain.SaleLine, len(built.Lines)),
	}
	for i, line := range built.Lines {
		line.ID = xid.New("line")
		line.SaleID = sale.ID
		line.RefundedQuantity = 0
		line.IsRefunded = false
		sale.Lines[i] = line
	}
	return sale
}
