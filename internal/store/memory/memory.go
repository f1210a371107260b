package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"posengine/backend/internal/domain"
	"posengine/backend/internal/store"
)

const DemoCompanyID = "demo-company"

// Store keeps everything in process. Units of work run one at a time and
// stage their writes, which are applied under the write lock only when
// the unit succeeds.
type Store struct {
	// sem admits one unit of work at a time; unlike a mutex it can be
	// abandoned when the caller's context expires.
	sem chan struct{}

	mu            sync.RWMutex
	products      map[string]map[string]domain.Product
	taxRates      map[string]decimal.Decimal
	saleCounters  map[string]int64
	salesByID     map[string]*domain.Sale
	salesByIdem   map[string]string
	refundsBySale map[string][]domain.Refund
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		sem:           make(chan struct{}, 1),
		products:      make(map[string]map[string]domain.Product),
		taxRates:      make(map[string]decimal.Decimal),
		saleCounters:  make(map[string]int64),
		salesByID:     make(map[string]*domain.Sale),
		salesByIdem:   make(map[string]string),
		refundsBySale: make(map[string][]domain.Refund),
	}
}

// NewSeeded returns a store with a demo company for local runs.
func NewSeeded() *Store {
	s := New()
	s.SetCompanyTaxRate(DemoCompanyID, decimal.NewFromInt(11))

	for _, p := range []struct {
		id, sku, name string
		price         int64
		stock         int
		tracked       bool
	}{
		{"prd_mie", "SKU-MIE-01", "Mie Goreng Instan", 3500, 120, true},
		{"prd_telur", "SKU-TELUR-01", "Telur 10 Butir", 26500, 60, true},
		{"prd_susu", "SKU-SUSU-01", "Susu UHT 1L", 18900, 80, true},
		{"prd_roti", "SKU-ROTI-01", "Roti Tawar", 17800, 40, true},
		{"prd_kopi", "SKU-KOPI-01", "Kopi Sachet", 2600, 200, true},
		{"prd_air", "SKU-AIR-01", "Air Mineral 600ml", 3900, 150, true},
		{"prd_bungkus", "SKU-BUNGKUS-01", "Jasa Bungkus Kado", 5000, 0, false},
	} {
		s.PutProduct(domain.Product{
			ID:                p.id,
			CompanyID:         DemoCompanyID,
			SKU:               p.sku,
			Name:              p.name,
			Price:             decimal.NewFromInt(p.price),
			TrackInventory:    p.tracked,
			StockQuantity:     p.stock,
			LowStockThreshold: 10,
		})
	}
	return s
}

// PutProduct inserts or replaces a catalog entry. Catalog maintenance
// lives outside the engine; this exists for seeding and tests.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.products[product.CompanyID]
	if !ok {
		byID = make(map[string]domain.Product)
		s.products[product.CompanyID] = byID
	}
	byID[product.ID] = product
}

func (s *Store) SetCompanyTaxRate(companyID string, rate decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taxRates[companyID] = rate
}

func (s *Store) ResolveProduct(_ context.Context, companyID string, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.productLocked(companyID, productID)
}

func (s *Store) productLocked(companyID string, productID string) (*domain.Product, error) {
	product, ok := s.products[companyID][productID]
	if !ok {
		return nil, &store.ProductError{ProductID: productID}
	}
	return &product, nil
}

func (s *Store) CompanyTaxRate(_ context.Context, companyID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.taxRates[companyID], nil
}

func (s *Store) FindSale(_ context.Context, companyID string, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[saleID]
	if !ok || sale.CompanyID != companyID {
		return nil, store.ErrSaleNotFound
	}
	return sale.Clone(), nil
}

func (s *Store) ListSales(_ context.Context, query domain.SaleListQuery) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, 16)
	for _, sale := range s.salesByID {
		if sale.CompanyID != query.CompanyID {
			continue
		}
		if sale.CreatedAt.Before(query.From) || !sale.CreatedAt.Before(query.To) {
			continue
		}
		sales = append(sales, *sale.Clone())
	}
	sort.Slice(sales, func(i, j int) bool {
		return sales[i].SaleNumber < sales[j].SaleNumber
	})
	if query.Limit > 0 && len(sales) > query.Limit {
		sales = sales[:query.Limit]
	}
	return sales, nil
}

func (s *Store) ListRefunds(_ context.Context, companyID string, saleID string) ([]domain.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[saleID]
	if !ok || sale.CompanyID != companyID {
		return nil, store.ErrSaleNotFound
	}
	refunds := make([]domain.Refund, 0, len(s.refundsBySale[saleID]))
	for _, refund := range s.refundsBySale[saleID] {
		refunds = append(refunds, cloneRefund(refund))
	}
	return refunds, nil
}

// Run executes fn as one unit of work. If fn fails or ctx ends before fn
// returns, none of the staged writes are applied.
func (s *Store) Run(ctx context.Context, fn func(tx store.Tx) error) error {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()

	unit := newUnit(s)
	if err := fn(unit); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	unit.apply()
	s.mu.Unlock()
	return nil
}

func idemKey(companyID string, key string) string {
	return companyID + "\x00" + key
}

func cloneRefund(src domain.Refund) domain.Refund {
	dup := src
	dup.Lines = make([]domain.RefundLine, len(src.Lines))
	copy(dup.Lines, src.Lines)
	return dup
}
