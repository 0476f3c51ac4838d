package attribution

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestCalculateBuySplitsProportionally(t *testing.T) {
	solChange := decimal.NewFromFloat(-2.0)
	tokenChanges := map[string]decimal.Decimal{
		"mintA": decimal.NewFromFloat(300),
		"mintB": decimal.NewFromFloat(100),
	}

	result := Calculate(solChange, tokenChanges)

	if len(result.SellSOL) != 0 {
		t.Fatalf("expected no sell attribution, got %v", result.SellSOL)
	}

	sum := result.BuySOL["mintA"].Add(result.BuySOL["mintB"])
	if !sum.Sub(solChange.Abs()).Abs().LessThan(decimal.New(1, -8)) {
		t.Fatalf("expected per-mint sum to equal |sol_change|, got %v", sum)
	}

	// mintA has 3x the delta of mintB, so should get 3x the cost.
	ratio := result.BuySOL["mintA"].Div(result.BuySOL["mintB"])
	if !ratio.Sub(decimal.NewFromInt(3)).Abs().LessThan(decimal.New(1, -6)) {
		t.Fatalf("expected 3:1 cost ratio, got %v", ratio)
	}
}

func TestCalculateSellSplitsProportionally(t *testing.T) {
	solChange := decimal.NewFromFloat(1.5)
	tokenChanges := map[string]decimal.Decimal{
		"mintA": decimal.NewFromFloat(-400),
		"mintB": decimal.NewFromFloat(-200),
	}

	result := Calculate(solChange, tokenChanges)

	if len(result.BuySOL) != 0 {
		t.Fatalf("expected no buy attribution, got %v", result.BuySOL)
	}

	sum := result.SellSOL["mintA"].Add(result.SellSOL["mintB"])
	if !sum.Sub(solChange).Abs().LessThan(decimal.New(1, -8)) {
		t.Fatalf("expected per-mint sum to equal sol_change, got %v", sum)
	}
}

func TestCalculateMixedSignUsesIndependentDenominators(t *testing.T) {
	// One mint bought, another sold, in the same transaction: each side
	// uses its own denominator per spec.md §4.4.
	solChange := decimal.NewFromFloat(-0.5)
	tokenChanges := map[string]decimal.Decimal{
		"bought": decimal.NewFromFloat(1000),
		"sold":   decimal.NewFromFloat(-500),
	}

	result := Calculate(solChange, tokenChanges)

	if _, ok := result.SellSOL["sold"]; ok {
		t.Fatal("sol_change < 0 means this tx is a net buy; sold mint should not appear in SellSOL")
	}
	if got := result.BuySOL["bought"]; !got.Sub(decimal.NewFromFloat(0.5)).Abs().LessThan(decimal.New(1, -8)) {
		t.Fatalf("expected full 0.5 SOL attributed to the only positive-delta mint, got %v", got)
	}
}

func TestCalculateZeroSolChangeIsEmpty(t *testing.T) {
	result := Calculate(decimal.Zero, map[string]decimal.Decimal{"mintA": decimal.NewFromFloat(100)})
	if len(result.BuySOL) != 0 || len(result.SellSOL) != 0 {
		t.Fatal("expected no attribution for zero sol_change")
	}
}

func TestCalculateIsDeterministic(t *testing.T) {
	solChange := decimal.NewFromFloat(-3.25)
	tokenChanges := map[string]decimal.Decimal{
		"mintA": decimal.NewFromFloat(700),
		"mintB": decimal.NewFromFloat(300),
		"mintC": decimal.NewFromFloat(50),
	}

	first := Calculate(solChange, tokenChanges)
	second := Calculate(solChange, tokenChanges)

	for mint, v := range first.BuySOL {
		if !second.BuySOL[mint].Equal(v) {
			t.Fatalf("non-deterministic attribution for %s: %v vs %v", mint, v, second.BuySOL[mint])
		}
	}
}

func TestFloat64MapConverts(t *testing.T) {
	out := Float64Map(map[string]float64{"mintA": 1.5, "mintB": -2.25})
	if !out["mintA"].Equal(decimal.NewFromFloat(1.5)) {
		t.Fatalf("unexpected conversion for mintA: %v", out["mintA"])
	}
	if !out["mintB"].Equal(decimal.NewFromFloat(-2.25)) {
		t.Fatalf("unexpected conversion for mintB: %v", out["mintB"])
	}
}
