package domain

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ToCents converts a major-unit amount to integer minor units for the payment gateway.
// Amounts are rounded half away from zero to the cent.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromCents converts gateway minor units back to a major-unit decimal.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// RoundMoney rounds to the cent, the precision stored in the ledger.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// Percent returns part/whole*100 rounded to 8 places; zero when whole is zero.
func Percent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred).Round(8)
}

// Allocate splits total across weights to the cent with the largest-remainder method, so the
// parts always sum to the rounded total. Ties go to the earlier weight. Zero or negative
// weights receive nothing; when no weight is positive every part is zero.
func Allocate(total decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	parts := make([]decimal.Decimal, len(weights))
	sum := decimal.Zero
	for _, w := range weights {
		if w.IsPositive() {
			sum = sum.Add(w)
		}
	}
	if !sum.IsPositive() {
		for i := range parts {
			parts[i] = decimal.Zero
		}
		return parts
	}

	cents := decimal.NewFromInt(ToCents(total))
	floors := make([]int64, len(weights))
	rems := make([]decimal.Decimal, len(weights))
	left := cents.IntPart()
	for i, w := range weights {
		if !w.IsPositive() {
			rems[i] = decimal.NewFromInt(-1)
			continue
		}
		exact := cents.Mul(w).DivRound(sum, 16)
		floors[i] = exact.Floor().IntPart()
		rems[i] = exact.Sub(exact.Floor())
		left -= floors[i]
	}
	for ; left > 0; left-- {
		best := -1
		for i := range rems {
			if best < 0 || rems[i].GreaterThan(rems[best]) {
				best = i
			}
		}
		floors[best]++
		rems[best] = decimal.NewFromInt(-1)
	}
	for i := range parts {
		parts[i] = FromCents(floors[i])
	}
	return parts
}
