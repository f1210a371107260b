package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"posengine/backend/internal/domain"
	"posengine/backend/internal/store"
)

//go:embed schema.sql
var schema string

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
}

var _ store.Repository = (*Store)(nil)

func New(ctx context.Context, databaseURL string, maxConns int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 10 * time.Minute
	cfg.HealthCheckPeriod = time.Minute
	cfg.AfterConnect = func(_ context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return store.Persistence("migrate", err)
	}
	return nil
}

// Run executes fn inside one database transaction. The transaction rolls
// back unless fn returns nil and the commit succeeds.
func (s *Store) Run(ctx context.Context, fn func(tx store.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapError("begin transaction", err)
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	if err := fn(&unit{tx: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return mapError("commit transaction", err)
	}
	return nil
}

func (s *Store) ResolveProduct(ctx context.Context, companyID string, productID string) (*domain.Product, error) {
	return resolveProduct(ctx, s.pool, companyID, productID, false)
}

func (s *Store) CompanyTaxRate(ctx context.Context, companyID string) (decimal.Decimal, error) {
	return companyTaxRate(ctx, s.pool, companyID)
}

func (s *Store) FindSale(ctx context.Context, companyID string, saleID string) (*domain.Sale, error) {
	return loadSale(ctx, s.pool, companyID, saleID, false)
}

func (s *Store) ListSales(ctx context.Context, query domain.SaleListQuery) ([]domain.Sale, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE company_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY sale_number
		LIMIT NULLIF($4::int, 0)
	`, query.CompanyID, query.From, query.To, query.Limit)
	if err != nil {
		return nil, mapError("list sales", err)
	}
	sales, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Sale, error) {
		sale, err := scanSale(row)
		if err != nil {
			return domain.Sale{}, err
		}
		return *sale, nil
	})
	if err != nil {
		return nil, mapError("scan sales", err)
	}
	if len(sales) == 0 {
		return sales, nil
	}

	ids := make([]string, len(sales))
	index := make(map[string]int, len(sales))
	for i, sale := range sales {
		ids[i] = sale.ID
		index[sale.ID] = i
	}
	lines, err := loadLines(ctx, s.pool, ids)
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		i := index[line.SaleID]
		sales[i].Lines = append(sales[i].Lines, line)
	}
	return sales, nil
}

func (s *Store) ListRefunds(ctx context.Context, companyID string, saleID string) ([]domain.Refund, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM sales WHERE company_id = $1 AND id = $2)
	`, companyID, saleID).Scan(&exists)
	if err != nil {
		return nil, mapError("find sale", err)
	}
	if !exists {
		return nil, store.ErrSaleNotFound
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, sale_id, company_id, actor_id, reason, amount, created_at
		FROM refunds
		WHERE sale_id = $1
		ORDER BY created_at, id
	`, saleID)
	if err != nil {
		return nil, mapError("list refunds", err)
	}
	refunds, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Refund, error) {
		var r domain.Refund
		err := row.Scan(&r.ID, &r.SaleID, &r.CompanyID, &r.ActorID, &r.Reason, &r.Amount, &r.CreatedAt)
		r.CreatedAt = r.CreatedAt.UTC()
		return r, err
	})
	if err != nil {
		return nil, mapError("scan refunds", err)
	}
	if len(refunds) == 0 {
		return refunds, nil
	}

	index := make(map[string]int, len(refunds))
	ids := make([]string, len(refunds))
	for i, r := range refunds {
		index[r.ID] = i
		ids[i] = r.ID
	}
	lineRows, err := s.pool.Query(ctx, `
		SELECT refund_id, sale_line_id, quantity, amount
		FROM refund_lines
		WHERE refund_id = ANY($1)
		ORDER BY refund_id, sale_line_id
	`, ids)
	if err != nil {
		return nil, mapError("list refund lines", err)
	}
	defer lineRows.Close()
	for lineRows.Next() {
		var refundID string
		var line domain.RefundLine
		if err := lineRows.Scan(&refundID, &line.SaleLineID, &line.Quantity, &line.Amount); err != nil {
			return nil, mapError("scan refund line", err)
		}
		i := index[refundID]
		refunds[i].Lines = append(refunds[i].Lines, line)
	}
	if err := lineRows.Err(); err != nil {
		return nil, mapError("scan refund lines", err)
	}
	return refunds, nil
}

func resolveProduct(ctx context.Context, q querier, companyID string, productID string, lock bool) (*domain.Product, error) {
	sql := `
		SELECT id, company_id, sku, name, price, tax_rate, track_inventory, stock_quantity, low_stock_threshold
		FROM products
		WHERE company_id = $1 AND id = $2`
	if lock {
		sql += ` FOR UPDATE`
	}

	var p domain.Product
	err := q.QueryRow(ctx, sql, companyID, productID).Scan(
		&p.ID, &p.CompanyID, &p.SKU, &p.Name, &p.Price, &p.TaxRate,
		&p.TrackInventory, &p.StockQuantity, &p.LowStockThreshold,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &store.ProductError{ProductID: productID}
		}
		return nil, mapError("resolve product", err)
	}
	return &p, nil
}

func companyTaxRate(ctx context.Context, q querier, companyID string) (decimal.Decimal, error) {
	var rate decimal.Decimal
	err := q.QueryRow(ctx, `SELECT tax_rate FROM companies WHERE id = $1`, companyID).Scan(&rate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, mapError("resolve company tax rate", err)
	}
	return rate, nil
}

const saleColumns = `id, sale_number, company_id, cashier_id, COALESCE(idempotency_key, ''),
	subtotal, tax_amount, total, payment_method, amount_tendered, change_given,
	status, void_reason, voided_at, created_at`

func scanSale(row pgx.Row) (*domain.Sale, error) {
	var sale domain.Sale
	err := row.Scan(
		&sale.ID, &sale.SaleNumber, &sale.CompanyID, &sale.CashierID, &sale.IdempotencyKey,
		&sale.Subtotal, &sale.TaxAmount, &sale.Total, &sale.PaymentMethod, &sale.AmountTendered, &sale.ChangeGiven,
		&sale.Status, &sale.VoidReason, &sale.VoidedAt, &sale.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	if sale.VoidedAt != nil {
		at := sale.VoidedAt.UTC()
		sale.VoidedAt = &at
	}
	return &sale, nil
}

func loadSale(ctx context.Context, q querier, companyID string, saleID string, lock bool) (*domain.Sale, error) {
	sql := `SELECT ` + saleColumns + ` FROM sales WHERE company_id = $1 AND id = $2`
	if lock {
		sql += ` FOR UPDATE`
	}
	sale, err := scanSale(q.QueryRow(ctx, sql, companyID, saleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrSaleNotFound
		}
		return nil, mapError("load sale", err)
	}

	lines, err := loadLines(ctx, q, []string{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.Lines = lines
	return sale, nil
}

func loadLines(ctx context.Context, q querier, saleIDs []string) ([]domain.SaleLine, error) {
	rows, err := q.Query(ctx, `
		SELECT id, sale_id, line_no, product_id, product_name, sku, quantity, original_price,
			discount_type, discount_value, discount_amount, tax_rate,
			line_subtotal, line_tax, line_total, refunded_quantity, is_refunded
		FROM sale_lines
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no
	`, saleIDs)
	if err != nil {
		return nil, mapError("load sale lines", err)
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.SaleLine, error) {
		var l domain.SaleLine
		err := row.Scan(
			&l.ID, &l.SaleID, &l.LineNo, &l.ProductID, &l.ProductName, &l.SKU, &l.Quantity, &l.OriginalPrice,
			&l.DiscountType, &l.DiscountValue, &l.DiscountAmount, &l.TaxRate,
			&l.LineSubtotal, &l.LineTax, &l.LineTotal, &l.RefundedQuantity, &l.IsRefunded,
		)
		return l, err
	})
	if err != nil {
		return nil, mapError("scan sale lines", err)
	}
	return lines, nil
}

// mapError translates driver errors onto the engine taxonomy. Lost races
// (unique or check violations, serialization failures, deadlocks) are
// conflicts; lock waits and cancelled statements are timeouts.
func mapError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23514", "40001", "40P01":
			return fmt.Errorf("%s: %w: %s", op, store.ErrStockConflict, pgErr.Message)
		case "55P03", "57014":
			return fmt.Errorf("%s: %w: %s", op, store.ErrCommitTimeout, pgErr.Message)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, store.ErrCommitTimeout)
	}
	return store.Persistence(op, err)
}
