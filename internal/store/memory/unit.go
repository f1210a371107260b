package memory

import (
	"context"

	"github.com/shopspring/decimal"

	"posengine/backend/internal/domain"
	"posengine/backend/internal/store"
)

type stockKey struct {
	companyID string
	productID string
}

// unit stages the writes of one Run. Reads see committed state overlaid
// with the unit's own staged writes.
type unit struct {
	s        *Store
	stock    map[stockKey]int
	counters map[string]int64
	inserted []*domain.Sale
	updated  map[string]*domain.Sale
	idem     map[string]string
	refunds  []domain.Refund
}

var _ store.Tx = (*unit)(nil)

func newUnit(s *Store) *unit {
	return &unit{
		s:        s,
		stock:    make(map[stockKey]int),
		counters: make(map[string]int64),
		updated:  make(map[string]*domain.Sale),
		idem:     make(map[string]string),
	}
}

func (u *unit) ResolveProduct(ctx context.Context, companyID string, productID string) (*domain.Product, error) {
	product, err := u.s.ResolveProduct(ctx, companyID, productID)
	if err != nil {
		return nil, err
	}
	if qty, ok := u.stock[stockKey{companyID, productID}]; ok {
		product.StockQuantity = qty
	}
	return product, nil
}

func (u *unit) CompanyTaxRate(ctx context.Context, companyID string) (decimal.Decimal, error) {
	return u.s.CompanyTaxRate(ctx, companyID)
}

func (u *unit) LockStock(ctx context.Context, companyID string, productID string) (domain.StockSnapshot, error) {
	product, err := u.ResolveProduct(ctx, companyID, productID)
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

func (u *unit) DecrementStock(ctx context.Context, companyID string, productID string, delta int) (int, error) {
	if delta < 1 {
		return 0, store.Invalid("quantity", "decrement must be positive, got %d", delta)
	}
	snapshot, err := u.LockStock(ctx, companyID, productID)
	if err != nil {
		return 0, err
	}
	if snapshot.Quantity < delta {
		return 0, &store.StockError{ProductID: productID, Requested: delta, Available: snapshot.Quantity, Err: store.ErrStockConflict}
	}
	next := snapshot.Quantity - delta
	u.stock[stockKey{companyID, productID}] = next
	return next, nil
}

func (u *unit) NextSaleNumber(_ context.Context, companyID string) (int64, error) {
	current, ok := u.counters[companyID]
	if !ok {
		u.s.mu.RLock()
		current = u.s.saleCounters[companyID]
		u.s.mu.RUnlock()
	}
	current++
	u.counters[companyID] = current
	return current, nil
}

func (u *unit) FindSaleByIdempotencyKey(ctx context.Context, companyID string, key string) (*domain.Sale, error) {
	k := idemKey(companyID, key)
	if id, ok := u.idem[k]; ok {
		return u.saleLocked(ctx, companyID, id)
	}
	u.s.mu.RLock()
	id, ok := u.s.salesByIdem[k]
	u.s.mu.RUnlock()
	if !ok {
		return nil, store.ErrSaleNotFound
	}
	return u.saleLocked(ctx, companyID, id)
}

func (u *unit) InsertSale(ctx context.Context, sale *domain.Sale) error {
	if sale.IdempotencyKey != "" {
		if _, err := u.FindSaleByIdempotencyKey(ctx, sale.CompanyID, sale.IdempotencyKey); err == nil {
			return store.ErrStockConflict
		}
		u.idem[idemKey(sale.CompanyID, sale.IdempotencyKey)] = sale.ID
	}
	u.inserted = append(u.inserted, sale.Clone())
	return nil
}

func (u *unit) LockSale(ctx context.Context, companyID string, saleID string) (*domain.Sale, error) {
	return u.saleLocked(ctx, companyID, saleID)
}

func (u *unit) saleLocked(ctx context.Context, companyID string, saleID string) (*domain.Sale, error) {
	if sale, ok := u.updated[saleID]; ok {
		return sale.Clone(), nil
	}
	for _, sale := range u.inserted {
		if sale.ID == saleID && sale.CompanyID == companyID {
			return sale.Clone(), nil
		}
	}
	return u.s.FindSale(ctx, companyID, saleID)
}

func (u *unit) ApplyRefund(_ context.Context, sale *domain.Sale, refund *domain.Refund) error {
	u.updated[sale.ID] = sale.Clone()
	u.refunds = append(u.refunds, cloneRefund(*refund))
	return nil
}

func (u *unit) MarkVoided(_ context.Context, sale *domain.Sale) error {
	u.updated[sale.ID] = sale.Clone()
	return nil
}

// apply publishes the staged writes. Caller holds s.mu for writing.
func (u *unit) apply() {
	s := u.s
	for key, qty := range u.stock {
		product := s.products[key.companyID][key.productID]
		product.StockQuantity = qty
		s.products[key.companyID][key.productID] = product
	}
	for companyID, counter := range u.counters {
		s.saleCounters[companyID] = counter
	}
	for _, sale := range u.inserted {
		s.salesByID[sale.ID] = sale
		if sale.IdempotencyKey != "" {
			s.salesByIdem[idemKey(sale.CompanyID, sale.IdempotencyKey)] = sale.ID
		}
	}
	for id, sale := range u.updated {
		s.salesByID[id] = sale
	}
	for _, refund := range u.refunds {
		s.refundsBySale[refund.SaleID] = append(s.refundsBySale[refund.SaleID], refund)
	}
}
