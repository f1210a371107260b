package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"posengine/backend/internal/domain"
	"posengine/backend/internal/store"
)

const maxCartItems = 500

// Builder turns a cart into a priced, unpersisted sale. It only reads
// through the Catalog it is handed.
type Builder struct {
	now func() time.Time
}

func NewBuilder() *Builder {
	return &Builder{now: func() time.Time { return time.Now().UTC() }}
}

// Evaluate prices every cart entry on its own and returns one result per
// entry, in cart order. The returned error is reserved for request-level
// problems and storage faults; per-entry failures live in the results.
func (b *Builder) Evaluate(ctx context.Context, catalog store.Catalog, req domain.CartRequest) ([]domain.LineResult, decimal.Decimal, error) {
	if err := validateCart(req); err != nil {
		return nil, decimal.Zero, err
	}

	// Resolved once so every line in the cart is taxed against the same
	// company rate.
	companyRate, err := catalog.CompanyTaxRate(ctx, req.CompanyID)
	if err != nil {
		return nil, decimal.Zero, classify(ctx, "resolve company tax rate", err)
	}

	products := make(map[string]*domain.Product, len(req.Items))
	requested := make(map[string]int, len(req.Items))
	results := make([]domain.LineResult, 0, len(req.Items))

	for i, entry := range req.Items {
		entry.ProductID = strings.TrimSpace(entry.ProductID)
		result := domain.LineResult{Index: i, ProductID: entry.ProductID}
		if err := validateEntry(i, entry); err != nil {
			result.Err = err
			results = append(results, result)
			continue
		}

		product, ok := products[entry.ProductID]
		if !ok {
			product, err = catalog.ResolveProduct(ctx, req.CompanyID, entry.ProductID)
			if err != nil {
				if errors.Is(err, store.ErrProductNotFound) {
					result.Err = err
					results = append(results, result)
					continue
				}
				return nil, decimal.Zero, classify(ctx, "resolve product", err)
			}
			products[entry.ProductID] = product
		}

		total := addQuantity(requested[entry.ProductID], entry.Quantity)
		requested[entry.ProductID] = total
		if product.TrackInventory && product.StockQuantity < total {
			result.Err = &store.StockError{
				ProductID: entry.ProductID,
				Requested: total,
				Available: product.StockQuantity,
				Err:       store.ErrInsufficientStock,
			}
			results = append(results, result)
			continue
		}
		if entry.Quantity > maxLineQuantity {
			result.Err = store.Invalid(fmt.Sprintf("items[%d].quantity", i), "must be at most %d, got %d", maxLineQuantity, entry.Quantity)
			results = append(results, result)
			continue
		}

		line := priceLine(i+1, entry, product, companyRate)
		result.Line = &line
		results = append(results, result)
	}

	return results, companyRate, nil
}

// Build evaluates the cart and, when every line priced cleanly, totals
// it and settles payment. A cart with failing lines yields a *CartError
// listing all of them.
func (b *Builder) Build(ctx context.Context, catalog store.Catalog, req domain.CartRequest) (*domain.BuiltSale, error) {
	results, companyRate, err := b.Evaluate(ctx, catalog, req)
	if err != nil {
		return nil, err
	}

	failed := make([]domain.LineResult, 0)
	for _, result := range results {
		if !result.OK() {
			failed = append(failed, result)
		}
	}
	if len(failed) > 0 {
		return nil, &store.CartError{Results: failed}
	}

	built := &domain.BuiltSale{
		CompanyID:      req.CompanyID,
		CashierID:      req.CashierID,
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
		CompanyTaxRate: companyRate,
		Lines:          make([]domain.SaleLine, 0, len(results)),
		Subtotal:       decimal.Zero,
		TaxAmount:      decimal.Zero,
		PaymentMethod:  req.PaymentMethod,
		BuiltAt:        b.now(),
	}

	demand := make(map[string]int, len(results))
	for _, result := range results {
		line := *result.Line
		built.Lines = append(built.Lines, line)
		built.Subtotal = built.Subtotal.Add(line.LineSubtotal)
		built.TaxAmount = built.TaxAmount.Add(line.LineTax)
		demand[line.ProductID] += line.Quantity
	}
	built.Total = built.Subtotal.Add(built.TaxAmount)
	built.Demand = sortedDemand(demand)

	if err := settlePayment(built, req.AmountTendered); err != nil {
		return nil, err
	}
	return built, nil
}

// addQuantity saturates at math.MaxInt instead of wrapping.
func addQuantity(a, b int) int {
	if b > math.MaxInt-a {
		return math.MaxInt
	}
	return a + b
}

func priceLine(lineNo int, entry domain.CartEntry, product *domain.Product, companyRate decimal.Decimal) domain.SaleLine {
	taxRate := companyRate
	if product.TaxRate.Valid {
		taxRate = product.TaxRate.Decimal
	}

	gross := product.Price.Mul(decimal.NewFromInt(int64(entry.Quantity)))
	discount := decimal.Zero
	switch entry.DiscountType {
	case domain.DiscountPercentage:
		discount = domain.PercentOf(gross, entry.DiscountValue)
	case domain.DiscountFixed:
		discount = decimal.Min(entry.DiscountValue, gross)
	}
	discount = domain.RoundMoney(discount)

	subtotal := domain.RoundMoney(decimal.Max(decimal.Zero, gross.Sub(discount)))
	tax := domain.RoundMoney(domain.PercentOf(subtotal, taxRate))

	return domain.SaleLine{
		LineNo:         lineNo,
		ProductID:      product.ID,
		ProductName:    product.Name,
		SKU:            product.SKU,
		Quantity:       entry.Quantity,
		OriginalPrice:  product.Price,
		DiscountType:   entry.DiscountType,
		DiscountValue:  entry.DiscountValue,
		DiscountAmount: discount,
		TaxRate:        taxRate,
		LineSubtotal:   subtotal,
		LineTax:        tax,
		LineTotal:      subtotal.Add(tax),
	}
}

// settlePayment fills tendered and change. Only cash can over-tender;
// other methods are charged the exact total.
func settlePayment(built *domain.BuiltSale, tendered decimal.NullDecimal) error {
	if built.PaymentMethod != domain.PaymentCash {
		built.AmountTendered = built.Total
		built.ChangeGiven = decimal.Zero
		return nil
	}
	if !tendered.Valid {
		return store.Invalid("amount_tendered", "is required for cash payments")
	}
	change := tendered.Decimal.Sub(built.Total)
	if change.IsNegative() {
		return &store.PaymentError{Total: built.Total, Tendered: tendered.Decimal}
	}
	built.AmountTendered = tendered.Decimal
	built.ChangeGiven = change
	return nil
}

func sortedDemand(demand map[string]int) []domain.StockDemand {
	out := make([]domain.StockDemand, 0, len(demand))
	for productID, qty := range demand {
		out = append(out, domain.StockDemand{ProductID: productID, Quantity: qty})
	}
	// Fixed lock order across concurrent commits.
	sort.Slice(out, func(i, j int) bool {
		return out[i].ProductID < out[j].ProductID
	})
	return out
}
