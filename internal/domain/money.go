package domain

import "github.com/shopspring/decimal"

const MoneyPlaces = 2

var hundred = decimal.NewFromInt(100)

func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// PercentOf returns base*rate/100 without rounding.
func PercentOf(base, rate decimal.Decimal) decimal.Decimal {
	return base.Mul(rate).Div(hundred)
}

// ProportionalAmount returns round(total*part/whole). It multiplies before
// dividing so repeating fractions only appear in the last step.
func ProportionalAmount(total decimal.Decimal, part, whole int) decimal.Decimal {
	if whole <= 0 || part <= 0 {
		return decimal.Zero
	}
	return RoundMoney(total.Mul(decimal.NewFromInt(int64(part))).Div(decimal.NewFromInt(int64(whole))))
}
