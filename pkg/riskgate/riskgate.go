// Package riskgate implements RiskGate of SPEC_FULL.md §4.10: a thin
// capability wrapper over an injected TokenSafetyOracle, applied before
// every position entry.
package riskgate

import (
	"context"
	"strings"
)

// Risk is one flagged condition on a token, as returned by the oracle.
type Risk struct {
	Name  string
	Level string // "danger", "warning", "info"
}

// Holder is a single non-LP token holder's share of supply.
type Holder struct {
	Address    string
	PctSupply  float64
	IsLPLocked bool
}

// Report is the safety snapshot returned by TokenSafetyOracle for a mint.
type Report struct {
	SafetyScore     float64
	MintAuthority   string // empty means renounced
	FreezeAuthority string // empty means renounced
	Risks           []Risk
	TopHolders      []Holder
	Markets         []string
	LiquidityUSD    float64
	FDVUsd          float64
	BuyTaxPct       float64
	LPLockedPct     float64
	HasTwitter      bool
	HasTelegram     bool
}

// TokenSafetyOracle is the external collaborator named in spec.md §1;
// only its interface is specified here.
type TokenSafetyOracle interface {
	Assess(ctx context.Context, mint string) (Report, error)
}

// Limits holds the configurable ceilings/floors for the deny rules.
type Limits struct {
	MaxSafetyScore        float64
	MaxBuyTaxPct          float64
	MinLiquidityUSD       float64
	MaxFDVUsd             float64
	MinLiquidityToFDVRatio float64
	MinLPLockedPct         float64
	MaxTop2To10PctSupply   float64
	MaxSingleHolderPct     float64
}

// DefaultLimits mirrors the ceilings named in spec.md §4.10.
func DefaultLimits() Limits {
	return Limits{
		MaxSafetyScore:         70,
		MaxBuyTaxPct:           25,
		MinLiquidityUSD:        1000,
		MaxFDVUsd:              10_000_000,
		MinLiquidityToFDVRatio: 0.03,
		MinLPLockedPct:         70,
		MaxTop2To10PctSupply:   40,
		MaxSingleHolderPct:     10,
	}
}

// Gate evaluates a mint against an injected oracle and the configured
// limits. A non-empty deny reason means the caller must silently skip
// the entry (logged by the caller, not here).
type Gate struct {
	oracle TokenSafetyOracle
	limits Limits
}

// New builds a Gate over oracle with the given limits.
func New(oracle TokenSafetyOracle, limits Limits) *Gate {
	return &Gate{oracle: oracle, limits: limits}
}

// Check returns ("", nil) when the mint passes every deny rule, or a
// human-readable deny reason when any rule fires. An oracle error is
// propagated as-is (treated as transient by the caller).
func (g *Gate) Check(ctx context.Context, mint string) (string, error) {
	report, err := g.oracle.Assess(ctx, mint)
	if err != nil {
		return "", err
	}

	if reason := evaluate(report, g.limits); reason != "" {
		return reason, nil
	}
	return "", nil
}

func evaluate(r Report, limits Limits) string {
	switch {
	case r.SafetyScore > limits.MaxSafetyScore:
		return "safety score exceeds ceiling"
	case r.MintAuthority != "":
		return "mint authority not renounced"
	case r.FreezeAuthority != "":
		return "freeze authority not renounced"
	case hasDangerRisk(r.Risks):
		return "danger-level risk flagged"
	case hasHoneypotRisk(r.Risks):
		return "honeypot/unsellable risk flagged"
	case r.BuyTaxPct > limits.MaxBuyTaxPct:
		return "buy tax exceeds ceiling"
	case r.LiquidityUSD < limits.MinLiquidityUSD:
		return "liquidity below floor"
	case r.FDVUsd > limits.MaxFDVUsd:
		return "fdv exceeds ceiling"
	case r.FDVUsd > 0 && r.LiquidityUSD/r.FDVUsd < limits.MinLiquidityToFDVRatio:
		return "liquidity/fdv ratio too low"
	case r.LPLockedPct < limits.MinLPLockedPct:
		return "lp locked percentage too low"
	case top2to10Pct(r.TopHolders) > limits.MaxTop2To10PctSupply:
		return "top 2-10 holders combined supply too high"
	case maxSingleHolderPct(r.TopHolders) > limits.MaxSingleHolderPct:
		return "single holder supply too high"
	case !r.HasTwitter && !r.HasTelegram:
		return "missing social links"
	default:
		return ""
	}
}

func hasDangerRisk(risks []Risk) bool {
	for _, r := range risks {
		if strings.EqualFold(r.Level, "danger") {
			return true
		}
	}
	return false
}

func hasHoneypotRisk(risks []Risk) bool {
	for _, r := range risks {
		name := strings.ToLower(r.Name)
		if strings.Contains(name, "honeypot") || strings.Contains(name, "unsellable") {
			return true
		}
	}
	return false
}

// top2to10Pct sums the percentage supply held by non-LP holders ranked
// 2nd through 10th, assuming TopHolders is sorted descending by share.
func top2to10Pct(holders []Holder) float64 {
	var sum float64
	rank := 0
	for _, h := range holders {
		if h.IsLPLocked {
			continue
		}
		rank++
		if rank == 1 {
			continue
		}
		if rank > 10 {
			break
		}
		sum += h.PctSupply
	}
	return sum
}

func maxSingleHolderPct(holders []Holder) float64 {
	var max float64
	for _, h := range holders {
		if h.IsLPLocked {
			continue
		}
		if h.PctSupply > max {
			max = h.PctSupply
		}
	}
	return max
}
