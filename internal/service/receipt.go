package service

import "posengine/backend/internal/domain"

// ReceiptFor projects a committed sale onto the fields a receipt printer
// needs. Only immutable sale data is used, so the view never changes
// after commit.
func ReceiptFor(sale *domain.Sale) *domain.ReceiptView {
	view := &domain.ReceiptView{
		SaleID:         sale.ID,
		SaleNumber:     sale.SaleNumber,
		CreatedAt:      sale.CreatedAt,
		Items:          make([]domain.ReceiptItem, 0, len(sale.Lines)),
		Subtotal:       sale.Subtotal,
		TaxAmount:      sale.TaxAmount,
		Total:          sale.Total,
		PaymentMethod:  sale.PaymentMethod,
		AmountTendered: sale.AmountTendered,
		ChangeGiven:    sale.ChangeGiven,
	}
	for _, line := range sale.Lines {
		view.Items = append(view.Items, domain.ReceiptItem{
			Name:      line.ProductName,
			Quantity:  line.Quantity,
			UnitPrice: line.OriginalPrice,
			LineTotal: line.LineTotal,
		})
	}
	return view
}
