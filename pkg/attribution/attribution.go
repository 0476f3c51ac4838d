// Package attribution implements AttributionCalc of SPEC_FULL.md §4.4:
// proportional distribution of a single transaction's SOL flow across
// concurrent token deltas.
package attribution

import "github.com/shopspring/decimal"

// Result holds the per-mint SOL attribution for one side of a trade.
type Result struct {
	// BuySOL attributes cost across mints with a positive delta when
	// sol_change < 0 (the transaction was a net spend).
	BuySOL map[string]decimal.Decimal
	// SellSOL attributes proceeds across mints with a negative delta
	// when sol_change > 0 (the transaction was a net receipt).
	SellSOL map[string]decimal.Decimal
}

// negligible is the threshold below which sol_change is treated as zero.
var negligible = decimal.New(1, -9)

// Calculate distributes solChange across tokenChanges per spec.md §4.4:
// mixed-sign tokens in one tx are allowed; each side uses its own
// denominator (sum of positive deltas for buys, sum of |negative|
// deltas for sells).
func Calculate(solChange decimal.Decimal, tokenChanges map[string]decimal.Decimal) Result {
	result := Result{
		BuySOL:  make(map[string]decimal.Decimal),
		SellSOL: make(map[string]decimal.Decimal),
	}

	if solChange.Abs().LessThan(negligible) {
		return result
	}

	if solChange.IsNegative() {
		sumPositive := decimal.Zero
		for _, delta := range tokenChanges {
			if delta.IsPositive() {
				sumPositive = sumPositive.Add(delta)
			}
		}
		if sumPositive.IsZero() {
			return result
		}
		costPerUnit := solChange.Abs().Div(sumPositive)
		for mint, delta := range tokenChanges {
			if delta.IsPositive() {
				result.BuySOL[mint] = costPerUnit.Mul(delta)
			}
		}
	} else {
		sumNegative := decimal.Zero
		for _, delta := range tokenChanges {
			if delta.IsNegative() {
				sumNegative = sumNegative.Add(delta.Abs())
			}
		}
		if sumNegative.IsZero() {
			return result
		}
		gainPerUnit := solChange.Div(sumNegative)
		for mint, delta := range tokenChanges {
			if delta.IsNegative() {
				result.SellSOL[mint] = gainPerUnit.Mul(delta.Abs())
			}
		}
	}

	return result
}

// Float64Map converts a float64-keyed token-delta map (as produced by
// pkg/txparser) into decimal.Decimal for Calculate.
func Float64Map(deltas map[string]float64) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(deltas))
	for mint, d := range deltas {
		out[mint] = decimal.NewFromFloat(d)
	}
	return out
}
