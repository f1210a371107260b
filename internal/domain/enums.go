package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// DiscountType is the closed set of per-line discount kinds.
type DiscountType uint8

const (
	DiscountNone DiscountType = iota
	DiscountPercentage
	DiscountFixed
)

var discountTypeNames = [...]string{"none", "percentage", "fixed"}

func ParseDiscountType(raw string) (DiscountType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none":
		return DiscountNone, nil
	case "percentage":
		return DiscountPercentage, nil
	case "fixed":
		return DiscountFixed, nil
	}
	return DiscountNone, fmt.Errorf("unknown discount type %q", raw)
}

func (d DiscountType) Valid() bool {
	return int(d) < len(discountTypeNames)
}

func (d DiscountType) String() string {
	if !d.Valid() {
		return fmt.Sprintf("DiscountType(%d)", uint8(d))
	}
	return discountTypeNames[d]
}

func (d DiscountType) MarshalJSON() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid discount type %d", uint8(d))
	}
	return json.Marshal(d.String())
}

func (d *DiscountType) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = DiscountNone
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("discount_type must be a string: %w", err)
	}
	parsed, err := ParseDiscountType(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d DiscountType) Value() (driver.Value, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid discount type %d", uint8(d))
	}
	return d.String(), nil
}

func (d *DiscountType) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*d = DiscountNone
		return nil
	case string:
		parsed, err := ParseDiscountType(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	case []byte:
		return d.Scan(string(v))
	}
	return fmt.Errorf("cannot scan %T into DiscountType", value)
}

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentQRIS     PaymentMethod = "qris"
	PaymentEWallet  PaymentMethod = "ewallet"
	PaymentTransfer PaymentMethod = "transfer"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentQRIS, PaymentEWallet, PaymentTransfer:
		return true
	default:
		return false
	}
}

type SaleStatus string

const (
	SaleCompleted         SaleStatus = "completed"
	SalePartiallyRefunded SaleStatus = "partially_refunded"
	SaleRefunded          SaleStatus = "refunded"
	SaleVoided            SaleStatus = "voided"
)

var saleTransitions = map[SaleStatus][]SaleStatus{
	SaleCompleted:         {SalePartiallyRefunded, SaleRefunded, SaleVoided},
	SalePartiallyRefunded: {SaleRefunded},
}

func (s SaleStatus) Valid() bool {
	switch s {
	case SaleCompleted, SalePartiallyRefunded, SaleRefunded, SaleVoided:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether next is reachable from s. Staying in
// partially_refunded across successive partial refunds is allowed.
func (s SaleStatus) CanTransitionTo(next SaleStatus) bool {
	if s == next {
		return s == SalePartiallyRefunded
	}
	for _, allowed := range saleTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
