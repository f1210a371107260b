package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"posengine/backend/internal/domain"
	"posengine/backend/internal/store"
)

// unit binds store.Tx to one pgx transaction.
type unit struct {
	tx pgx.Tx
}

var _ store.Tx = (*unit)(nil)

func (u *unit) ResolveProduct(ctx context.Context, companyID string, productID string) (*domain.Product, error) {
	return resolveProduct(ctx, u.tx, companyID, productID, false)
}

func (u *unit) CompanyTaxRate(ctx context.Context, companyID string) (decimal.Decimal, error) {
	return companyTaxRate(ctx, u.tx, companyID)
}

func (u *unit) LockStock(ctx context.Context, companyID string, productID string) (domain.StockSnapshot, error) {
	product, err := resolveProduct(ctx, u.tx, companyID, productID, true)
	if err != nil {
		return domain.StockSnapshot{}, err
	}
	return domain.StockSnapshot{
		ProductID:         product.ID,
		TrackInventory:    product.TrackInventory,
		Quantity:          product.StockQuantity,
		LowStockThreshold: product.LowStockThreshold,
	}, nil
}

// DecrementStock is conditional on enough stock remaining, so even a
// caller that skipped LockStock cannot take the counter below zero.
func (u *unit) DecrementStock(ctx context.Context, companyID string, productID string, delta int) (int, error) {
	if delta < 1 {
		return 0, store.Invalid("quantity", "decrement must be positive, got %d", delta)
	}

	var next int
	err := u.tx.QueryRow(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity - $3
		WHERE company_id = $1 AND id = $2 AND stock_quantity >= $3
		RETURNING stock_quantity
	`, companyID, productID, delta).Scan(&next)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			available := 0
			if snapshot, lookupErr := u.LockStock(ctx, companyID, productID); lookupErr == nil {
				available = snapshot.Quantity
			}
			return 0, &store.StockError{ProductID: productID, Requested: delta, Available: available, Err: store.ErrStockConflict}
		}
		return 0, mapError("decrement stock", err)
	}
	return next, nil
}

// NextSaleNumber bumps the per-company counter. The row lock it takes is
// held until the unit ends, which serialises numbering per company.
func (u *unit) NextSaleNumber(ctx context.Context, companyID string) (int64, error) {
	var number int64
	err := u.tx.QueryRow(ctx, `
		INSERT INTO companies (id, last_sale_number)
		VALUES ($1, 1)
		ON CONFLICT (id) DO UPDATE SET last_sale_number = companies.last_sale_number + 1
		RETURNING last_sale_number
	`, companyID).Scan(&number)
	if err != nil {
		return 0, mapError("next sale number", err)
	}
	return number, nil
}

func (u *unit) FindSaleByIdempotencyKey(ctx context.Context, companyID string, key string) (*domain.Sale, error) {
	var saleID string
	err := u.tx.QueryRow(ctx, `
		SELECT id FROM sales WHERE company_id = $1 AND idempotency_key = $2
	`, companyID, key).Scan(&saleID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrSaleNotFound
		}
		return nil, mapError("find sale by idempotency key", err)
	}
	return loadSale(ctx, u.tx, companyID, saleID, false)
}

func (u *unit) InsertSale(ctx context.Context, sale *domain.Sale) error {
	var idem any
	if sale.IdempotencyKey != "" {
		idem = sale.IdempotencyKey
	}

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO sales (
			id, company_id, sale_number, cashier_id, idempotency_key,
			subtotal, tax_amount, total, payment_method, amount_tendered, change_given,
			status, void_reason, voided_at, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, sale.ID, sale.CompanyID, sale.SaleNumber, sale.CashierID, idem,
		sale.Subtotal, sale.TaxAmount, sale.Total, string(sale.PaymentMethod), sale.AmountTendered, sale.ChangeGiven,
		string(sale.Status), sale.VoidReason, sale.VoidedAt, sale.CreatedAt)
	for _, l := range sale.Lines {
		batch.Queue(`
			INSERT INTO sale_lines (
				id, sale_id, line_no, product_id, product_name, sku, quantity, original_price,
				discount_type, discount_value, discount_amount, tax_rate,
				line_subtotal, line_tax, line_total, refunded_quantity, is_refunded
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		`, l.ID, l.SaleID, l.LineNo, l.ProductID, l.ProductName, l.SKU, l.Quantity, l.OriginalPrice,
			l.DiscountType, l.DiscountValue, l.DiscountAmount, l.TaxRate,
			l.LineSubtotal, l.LineTax, l.LineTotal, l.RefundedQuantity, l.IsRefunded)
	}

	if err := u.tx.SendBatch(ctx, batch).Close(); err != nil {
		return mapError("insert sale", err)
	}
	return nil
}

func (u *unit) LockSale(ctx context.Context, companyID string, saleID string) (*domain.Sale, error) {
	return loadSale(ctx, u.tx, companyID, saleID, true)
}

func (u *unit) ApplyRefund(ctx context.Context, sale *domain.Sale, refund *domain.Refund) error {
	batch := &pgx.Batch{}
	batch.Queue(`UPDATE sales SET status = $2 WHERE id = $1`, sale.ID, string(sale.Status))
	batch.Queue(`
		INSERT INTO refunds (id, sale_id, company_id, actor_id, reason, amount, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, refund.ID, refund.SaleID, refund.CompanyID, refund.ActorID, refund.Reason, refund.Amount, refund.CreatedAt)
	for _, rl := range refund.Lines {
		line, ok := sale.Line(rl.SaleLineID)
		if !ok {
			return &store.LineError{SaleLineID: rl.SaleLineID, Requested: rl.Quantity, Err: store.ErrSaleLineNotFound}
		}
		batch.Queue(`
			UPDATE sale_lines
			SET refunded_quantity = $3, is_refunded = $4
			WHERE id = $1 AND sale_id = $2
		`, line.ID, sale.ID, line.RefundedQuantity, line.IsRefunded)
		batch.Queue(`
			INSERT INTO refund_lines (refund_id, sale_line_id, quantity, amount)
			VALUES ($1,$2,$3,$4)
		`, refund.ID, rl.SaleLineID, rl.Quantity, rl.Amount)
	}

	if err := u.tx.SendBatch(ctx, batch).Close(); err != nil {
		return mapError("apply refund", err)
	}
	return nil
}

func (u *unit) MarkVoided(ctx context.Context, sale *domain.Sale) error {
	tag, err := u.tx.Exec(ctx, `
		UPDATE sales
		SET status = $2, void_reason = $3, voided_at = $4
		WHERE id = $1 AND status = $5
	`, sale.ID, string(sale.Status), sale.VoidReason, sale.VoidedAt, string(domain.SaleCompleted))
	if err != nil {
		return mapError("mark voided", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrInvalidStatus
	}
	return nil
}
