package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Actor struct {
	UserID    string `json:"user_id"`
	CompanyID string `json:"company_id"`
	Role      string `json:"role"`
}

// Product is the catalog view of an item. A null TaxRate means the
// company rate applies.
type Product struct {
	ID                string              `json:"id"`
	CompanyID         string              `json:"company_id"`
	SKU               string              `json:"sku"`
	Name              string              `json:"name"`
	Price             decimal.Decimal     `json:"price"`
	TaxRate           decimal.NullDecimal `json:"tax_rate"`
	TrackInventory    bool                `json:"track_inventory"`
	StockQuantity     int                 `json:"stock_quantity"`
	LowStockThreshold int                 `json:"low_stock_threshold"`
}

type StockSnapshot struct {
	ProductID         string
	TrackInventory    bool
	Quantity          int
	LowStockThreshold int
}

type StockLevel struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	LowStock  bool   `json:"low_stock"`
}

type CartEntry struct {
	ProductID     string          `json:"product_id"`
	Quantity      int             `json:"quantity"`
	DiscountType  DiscountType    `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
}

type CartRequest struct {
	CompanyID      string              `json:"-"`
	CashierID      string              `json:"-"`
	IdempotencyKey string              `json:"idempotency_key,omitempty"`
	Items          []CartEntry         `json:"items"`
	PaymentMethod  PaymentMethod       `json:"payment_method"`
	AmountTendered decimal.NullDecimal `json:"amount_tendered"`
}

type SaleLine struct {
	ID               string          `json:"id"`
	SaleID           string          `json:"sale_id"`
	LineNo           int             `json:"line_no"`
	ProductID        string          `json:"product_id"`
	ProductName      string          `json:"product_name"`
	SKU              string          `json:"sku"`
	Quantity         int             `json:"quantity"`
	OriginalPrice    decimal.Decimal `json:"original_price"`
	DiscountType     DiscountType    `json:"discount_type"`
	DiscountValue    decimal.Decimal `json:"discount_value"`
	DiscountAmount   decimal.Decimal `json:"discount_amount"`
	TaxRate          decimal.Decimal `json:"tax_rate"`
	LineSubtotal     decimal.Decimal `json:"line_subtotal"`
	LineTax          decimal.Decimal `json:"line_tax"`
	LineTotal        decimal.Decimal `json:"line_total"`
	RefundedQuantity int             `json:"refunded_quantity"`
	IsRefunded       bool            `json:"is_refunded"`
}

func (l SaleLine) RefundableQuantity() int {
	return l.Quantity - l.RefundedQuantity
}

type Sale struct {
	ID             string          `json:"id"`
	SaleNumber     int64           `json:"sale_number"`
	CompanyID      string          `json:"company_id"`
	CashierID      string          `json:"cashier_id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	Total          decimal.Decimal `json:"total"`
	PaymentMethod  PaymentMethod   `json:"payment_method"`
	AmountTendered decimal.Decimal `json:"amount_tendered"`
	ChangeGiven    decimal.Decimal `json:"change_given"`
	Status         SaleStatus      `json:"status"`
	VoidReason     string          `json:"void_reason,omitempty"`
	VoidedAt       *time.Time      `json:"voided_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	Lines          []SaleLine      `json:"lines"`
}

func (s *Sale) Line(id string) (*SaleLine, bool) {
	for i := range s.Lines {
		if s.Lines[i].ID == id {
			return &s.Lines[i], true
		}
	}
	return nil, false
}

func (s *Sale) HasRefunds() bool {
	for _, line := range s.Lines {
		if line.RefundedQuantity > 0 {
			return true
		}
	}
	return false
}

func (s *Sale) FullyRefunded() bool {
	for _, line := range s.Lines {
		if line.RefundedQuantity < line.Quantity {
			return false
		}
	}
	return len(s.Lines) > 0
}

func (s *Sale) Clone() *Sale {
	if s == nil {
		return nil
	}
	dup := *s
	dup.Lines = make([]SaleLine, len(s.Lines))
	copy(dup.Lines, s.Lines)
	if s.VoidedAt != nil {
		at := *s.VoidedAt
		dup.VoidedAt = &at
	}
	return &dup
}

// StockDemand is the total quantity a built sale takes from one product.
type StockDemand struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// LineResult is the outcome of pricing one cart entry. Exactly one of
// Line and Err is set.
type LineResult struct {
	Index     int       `json:"index"`
	ProductID string    `json:"product_id"`
	Line      *SaleLine `json:"line,omitempty"`
	Err       error     `json:"-"`
}

func (r LineResult) OK() bool {
	return r.Err == nil
}

// BuiltSale is a fully priced, unpersisted sale.
type BuiltSale struct {
	CompanyID      string          `json:"company_id"`
	CashierID      string          `json:"cashier_id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CompanyTaxRate decimal.Decimal `json:"company_tax_rate"`
	Lines          []SaleLine      `json:"lines"`
	Demand         []StockDemand   `json:"demand"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	Total          decimal.Decimal `json:"total"`
	PaymentMethod  PaymentMethod   `json:"payment_method"`
	AmountTendered decimal.Decimal `json:"amount_tendered"`
	ChangeGiven    decimal.Decimal `json:"change_given"`
	BuiltAt        time.Time       `json:"built_at"`
}

type CommitResult struct {
	Sale      *Sale        `json:"sale"`
	Stock     []StockLevel `json:"stock"`
	Duplicate bool         `json:"duplicate"`
}

type RefundLineRequest struct {
	SaleLineID string `json:"sale_line_id"`
	Quantity   int    `json:"quantity"`
}

type RefundRequest struct {
	CompanyID string              `json:"-"`
	SaleID    string              `json:"-"`
	ActorID   string              `json:"-"`
	Lines     []RefundLineRequest `json:"lines"`
	Reason    string              `json:"reason"`
}

type Refund struct {
	ID        string          `json:"id"`
	SaleID    string          `json:"sale_id"`
	CompanyID string          `json:"company_id"`
	ActorID   string          `json:"actor_id"`
	Reason    string          `json:"reason"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
	Lines     []RefundLine    `json:"lines"`
}

type RefundLine struct {
	SaleLineID string          `json:"sale_line_id"`
	Quantity   int             `json:"quantity"`
	Amount     decimal.Decimal `json:"amount"`
}

// RefundResult reports the refunded amount and the sale after the
// refund. Refund is nil when the request changed nothing.
type RefundResult struct {
	Refund *Refund         `json:"refund,omitempty"`
	Sale   *Sale           `json:"sale"`
	Amount decimal.Decimal `json:"amount"`
}

type VoidRequest struct {
	CompanyID string `json:"-"`
	SaleID    string `json:"-"`
	ActorID   string `json:"-"`
	Reason    string `json:"reason"`
}

type ReceiptItem struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type ReceiptView struct {
	SaleID         string          `json:"sale_id"`
	SaleNumber     int64           `json:"sale_number"`
	CreatedAt      time.Time       `json:"created_at"`
	Items          []ReceiptItem   `json:"items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	Total          decimal.Decimal `json:"total"`
	PaymentMethod  PaymentMethod   `json:"payment_method"`
	AmountTendered decimal.Decimal `json:"amount_tendered"`
	ChangeGiven    decimal.Decimal `json:"change_given"`
}

type SaleListQuery struct {
	CompanyID string
	From      time.Time
	To        time.Time
	Limit     int
}
