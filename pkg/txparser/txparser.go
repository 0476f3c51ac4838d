// Package txparser implements TxParser of SPEC_FULL.md §4.3: a pure
// function over a chain.TxView producing the wallet's net SOL change
// and per-mint token deltas for a single transaction.
package txparser

import (
	"github.com/algonius/hunter-copytrader/pkg/chain"
)

// WSOLMint and stable-coin mints ignored from token_changes (their
// value is folded into sol_change instead).
const (
	WSOLMint = "So11111111111111111111111111111111111111112"
	USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMint = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

var ignoredMints = map[string]bool{
	WSOLMint: true,
	USDCMint: true,
	USDTMint: true,
}

// Result is the parsed per-wallet view of a transaction.
type Result struct {
	Timestamp    int64
	SOLChange    float64            // net SOL-equivalent change, signed
	TokenChanges map[string]float64 // mint -> signed UI delta
}

// Parse computes (sol_change, token_changes, timestamp) for wallet from
// view, per spec.md §4.3. usdcPerSOL is the USDC/SOL conversion rate;
// pass 0 to disable USDC-equivalent folding (per the spec's "only when
// price is known and nonzero" rule).
func Parse(view chain.TxView, wallet string, usdcPerSOL float64) Result {
	var nativeChange, wsolChange, usdcSOLEquivalent float64

	for _, nt := range view.NativeTransfers {
		solAmt := float64(nt.Amount) / 1e9
		if nt.FromUserAccount == wallet {
			nativeChange -= solAmt
		}
		if nt.ToUserAccount == wallet {
			nativeChange += solAmt
		}
	}

	tokenChanges := make(map[string]float64)
	for _, tt := range view.TokenTransfers {
		amt := tt.TokenAmount.Float()
		var signed float64
		if tt.FromUserAccount == wallet {
			signed -= amt
		}
		if tt.ToUserAccount == wallet {
			signed += amt
		}
		if signed == 0 {
			continue
		}

		switch tt.Mint {
		case WSOLMint:
			wsolChange += signed
		case USDCMint, USDTMint:
			if usdcPerSOL > 0 {
				usdcSOLEquivalent += signed / usdcPerSOL
			}
		default:
			tokenChanges[tt.Mint] += signed
		}
	}

	solChange := combineSOLChange(nativeChange, wsolChange) + usdcSOLEquivalent

	return Result{
		Timestamp:    view.Timestamp,
		SOLChange:    solChange,
		TokenChanges: tokenChanges,
	}
}

// combineSOLChange implements spec.md §4.3's combination rule: if
// exactly one of {native, wsol} is nonzero, use it; if both are nonzero
// with the same sign, use the larger magnitude (the other is the
// wrap/unwrap leg of the same swap); if opposite signs, sum them.
func combineSOLChange(native, wsol float64) float64 {
	const epsilon = 1e-9
	nativeNonzero := abs(native) > epsilon
	wsolNonzero := abs(wsol) > epsilon

	switch {
	case nativeNonzero && !wsolNonzero:
		return native
	case wsolNonzero && !nativeNonzero:
		return wsol
	case !nativeNonzero && !wsolNonzero:
		return 0
	case sameSign(native, wsol):
		if abs(native) >= abs(wsol) {
			return native
		}
		return wsol
	default:
		return native + wsol
	}
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// IsIgnoredMint reports whether mint is excluded from token_changes
// (WSOL/USDC/USDT).
func IsIgnoredMint(mint string) bool {
	return ignoredMints[mint]
}
