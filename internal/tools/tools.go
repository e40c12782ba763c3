package tools

import (
	"math"

	investapi "github.com/russianinvestments/invest-api-go-sdk/proto"
	"github.com/shopspring/decimal"
)

const BILLION int64 = 1000000000

func FloatToQuotation(number float64, step float64) *investapi.Quotation {
	if step <= 0 {
		step = 0.01
	}
	// round to the nearest multiple of step
	k := math.Round(number / step)
	roundedNumber := step * k
	decNumber := decimal.NewFromFloat(roundedNumber)

	intPart := decNumber.IntPart()
	fracPart := decNumber.Sub(decimal.NewFromInt(intPart))

	nano := fracPart.Mul(decimal.NewFromInt(BILLION)).IntPart()
	return &investapi.Quotation{
		Units: intPart,
		Nano:  int32(nano),
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// TruncateQuantity drops the fractional part of q toward zero.
func TruncateQuantity(q float64) float64 {
	if !finite(q) {
		return 0
	}
	return decimal.NewFromFloat(q).Truncate(0).InexactFloat64()
}

// Notional is quantity * price computed in decimal.
func Notional(quantity, price float64) float64 {
	if !finite(quantity) || !finite(price) {
		return math.Inf(1)
	}
	return decimal.NewFromFloat(quantity).Mul(decimal.NewFromFloat(price)).InexactFloat64()
}

// SettleCash returns cash after trading quantity (signed) at price and paying fee.
func SettleCash(cash, quantity, price, fee float64) float64 {
	return decimal.NewFromFloat(cash).
		Sub(decimal.NewFromFloat(quantity).Mul(decimal.NewFromFloat(price))).
		Sub(decimal.NewFromFloat(fee)).
		InexactFloat64()
}

// Sum adds values in decimal to keep mark-to-market totals stable across runs.
func Sum(values ...float64) float64 {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(decimal.NewFromFloat(v))
	}
	return total.InexactFloat64()
}
