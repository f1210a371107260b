package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posengine/backend/internal/domain"
	"posengine/backend/internal/store"
)

func newIntegrationStore(t *testing.T) (*Store, string) {
	t.Helper()
	databaseURL := os.Getenv("POSENGINE_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POSENGINE_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL, 4)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Migrate(ctx))

	companyID := fmt.Sprintf("it-company-%d", time.Now().UnixNano())
	_, err = s.pool.Exec(ctx, `INSERT INTO companies (id, tax_rate) VALUES ($1, 8)`, companyID)
	require.NoError(t, err)
	_, err = s.pool.Exec(ctx, `
		INSERT INTO products (company_id, id, sku, name, price, track_inventory, stock_quantity, low_stock_threshold)
		VALUES ($1, 'p-1', 'SKU-1', 'Item', 10.00, true, 1, 0)
	`, companyID)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = s.pool.Exec(ctx, `DELETE FROM refund_lines WHERE refund_id IN (SELECT id FROM refunds WHERE company_id = $1)`, companyID)
		_, _ = s.pool.Exec(ctx, `DELETE FROM refunds WHERE company_id = $1`, companyID)
		_, _ = s.pool.Exec(ctx, `DELETE FROM sale_lines WHERE sale_id IN (SELECT id FROM sales WHERE company_id = $1)`, companyID)
		_, _ = s.pool.Exec(ctx, `DELETE FROM sales WHERE company_id = $1`, companyID)
		_, _ = s.pool.Exec(ctx, `DELETE FROM products WHERE company_id = $1`, companyID)
		_, _ = s.pool.Exec(ctx, `DELETE FROM companies WHERE id = $1`, companyID)
	})
	return s, companyID
}

func TestUnitOfWorkRollsBackOnError(t *testing.T) {
	s, companyID := newIntegrationStore(t)
	ctx := context.Background()

	err := s.Run(ctx, func(tx store.Tx) error {
		if _, err := tx.DecrementStock(ctx, companyID, "p-1", 1); err != nil {
			return err
		}
		return store.ErrStockConflict
	})
	require.ErrorIs(t, err, store.ErrStockConflict)

	product, err := s.ResolveProduct(ctx, companyID, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 1, product.StockQuantity)
}

func TestDecrementStockNeverGoesNegative(t *testing.T) {
	s, companyID := newIntegrationStore(t)
	ctx := context.Background()

	err := s.Run(ctx, func(tx store.Tx) error {
		_, err := tx.DecrementStock(ctx, companyID, "p-1", 2)
		return err
	})
	require.ErrorIs(t, err, store.ErrStockConflict)
}

func TestSaleRoundTripAndRefund(t *testing.T) {
	s, companyID := newIntegrationStore(t)
	ctx := context.Background()

	rate, err := s.CompanyTaxRate(ctx, companyID)
	require.NoError(t, err)
	assert.Equal(t, "8", rate.String())

	now := time.Now().UTC().Truncate(time.Microsecond)
	sale := &domain.Sale{
		ID:             "sale_it_" + companyID,
		CompanyID:      companyID,
		CashierID:      "cashier",
		IdempotencyKey: "idem-1",
		Subtotal:       decimal.RequireFromString("10.00"),
		TaxAmount:      decimal.RequireFromString("0.80"),
		Total:          decimal.RequireFromString("10.80"),
		PaymentMethod:  domain.PaymentCard,
		AmountTendered: decimal.RequireFromString("10.80"),
		ChangeGiven:    decimal.Zero,
		Status:         domain.SaleCompleted,
		CreatedAt:      now,
		Lines: []domain.SaleLine{{
			ID:            "line_it_" + companyID,
			LineNo:        1,
			ProductID:     "p-1",
			ProductName:   "Item",
			SKU:           "SKU-1",
			Quantity:      1,
			OriginalPrice: decimal.RequireFromString("10.00"),
			DiscountType:  domain.DiscountNone,
			DiscountValue: decimal.Zero,
			TaxRate:       decimal.NewFromInt(8),
			LineSubtotal:  decimal.RequireFromString("10.00"),
			LineTax:       decimal.RequireFromString("0.80"),
			LineTotal:     decimal.RequireFromString("10.80"),
		}},
	}
	sale.Lines[0].SaleID = sale.ID

	err = s.Run(ctx, func(tx store.Tx) error {
		number, err := tx.NextSaleNumber(ctx, companyID)
		if err != nil {
			return err
		}
		sale.SaleNumber = number
		if _, err := tx.DecrementStock(ctx, companyID, "p-1", 1); err != nil {
			return err
		}
		return tx.InsertSale(ctx, sale)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), sale.SaleNumber)

	stored, err := s.FindSale(ctx, companyID, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.8", stored.Total.String())
	require.Len(t, stored.Lines, 1)
	assert.Equal(t, domain.DiscountNone, stored.Lines[0].DiscountType)

	err = s.Run(ctx, func(tx store.Tx) error {
		locked, err := tx.LockSale(ctx, companyID, sale.ID)
		if err != nil {
			return err
		}
		locked.Lines[0].RefundedQuantity = 1
		locked.Lines[0].IsRefunded = true
		locked.Status = domain.SaleRefunded
		return tx.ApplyRefund(ctx, locked, &domain.Refund{
			ID:        "refund_it_" + companyID,
			SaleID:    sale.ID,
			CompanyID: companyID,
			ActorID:   "manager",
			Amount:    decimal.RequireFromString("10.80"),
			CreatedAt: now,
			Lines:     []domain.RefundLine{{SaleLineID: sale.Lines[0].ID, Quantity: 1, Amount: decimal.RequireFromString("10.80")}},
		})
	})
	require.NoError(t, err)

	refunds, err := s.ListRefunds(ctx, companyID, sale.ID)
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	require.Len(t, refunds[0].Lines, 1)

	sales, err := s.ListSales(ctx, domain.SaleListQuery{CompanyID: companyID, From: now.Add(-time.Minute), To: now.Add(time.Minute), Limit: 10})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, domain.SaleRefunded, sales[0].Status)
	assert.Equal(t, 1, sales[0].Lines[0].RefundedQuantity)

	dup, err := func() (*domain.Sale, error) {
		var found *domain.Sale
		err := s.Run(ctx, func(tx store.Tx) error {
			var err error
			found, err = tx.FindSaleByIdempotencyKey(ctx, companyID, "idem-1")
			return err
		})
		return found, err
	}()
	require.NoError(t, err)
	assert.Equal(t, sale.ID, dup.ID)
}
