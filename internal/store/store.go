package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"posengine/backend/internal/domain"
)

// Catalog resolves products for cart validation. Implementations return
// a *ProductError wrapping ErrProductNotFound for unknown ids.
type Catalog interface {
	ResolveProduct(ctx context.Context, companyID string, productID string) (*domain.Product, error)
	CompanyTaxRate(ctx context.Context, companyID string) (decimal.Decimal, error)
}

// Tx is one atomic unit of work. Nothing written through a Tx is visible
// to other readers until the enclosing Run returns nil.
type Tx interface {
	Catalog

	// LockStock re-reads the stock row for productID and holds it until
	// the unit ends.
	LockStock(ctx context.Context, companyID string, productID string) (domain.StockSnapshot, error)
	// DecrementStock lowers a tracked product's stock by delta and returns
	// the new quantity. It fails with ErrStockConflict rather than go
	// below zero.
	DecrementStock(ctx context.Context, companyID string, productID string, delta int) (int, error)
	NextSaleNumber(ctx context.Context, companyID string) (int64, error)
	FindSaleByIdempotencyKey(ctx context.Context, companyID string, key string) (*domain.Sale, error)
	InsertSale(ctx context.Context, sale *domain.Sale) error

	// LockSale loads a sale with its lines and holds the sale row until
	// the unit ends, serialising refunds and voids per sale.
	LockSale(ctx context.Context, companyID string, saleID string) (*domain.Sale, error)
	ApplyRefund(ctx context.Context, sale *domain.Sale, refund *domain.Refund) error
	MarkVoided(ctx context.Context, sale *domain.Sale) error
}

type UnitOfWork interface {
	Run(ctx context.Context, fn func(tx Tx) error) error
}

// SaleReader is the read-only view handed to reporting and receipt
// consumers.
type SaleReader interface {
	FindSale(ctx context.Context, companyID string, saleID string) (*domain.Sale, error)
	ListSales(ctx context.Context, query domain.SaleListQuery) ([]domain.Sale, error)
	ListRefunds(ctx context.Context, companyID string, saleID string) ([]domain.Refund, error)
}

type Repository interface {
	Catalog
	SaleReader
	UnitOfWork
}

// DefaultListWindow bounds ListSales when the caller gives no range.
const DefaultListWindow = 24 * time.Hour
