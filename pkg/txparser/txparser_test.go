package txparser

import (
	"testing"

	"github.com/algonius/hunter-copytrader/pkg/chain"
)

func TestParseSimpleBuy(t *testing.T) {
	view := chain.TxView{
		Timestamp: 1000,
		NativeTransfers: []chain.NativeTransfer{
			{FromUserAccount: "wallet1", Amount: 2_000_000_000}, // -2 SOL
		},
		TokenTransfers: []chain.TokenTransfer{
			{ToUserAccount: "wallet1", Mint: "Mmint1", TokenAmount: chain.RawAmount{Scalar: 1000}},
		},
	}

	result := Parse(view, "wallet1", 0)
	if result.SOLChange != -2.0 {
		t.Fatalf("expected sol_change -2.0, got %v", result.SOLChange)
	}
	if result.TokenChanges["Mmint1"] != 1000 {
		t.Fatalf("expected token delta 1000, got %v", result.TokenChanges["Mmint1"])
	}
}

func TestParseNativeAndWSOLSameSignUsesLargerMagnitude(t *testing.T) {
	view := chain.TxView{
		NativeTransfers: []chain.NativeTransfer{
			{FromUserAccount: "wallet1", Amount: 1_000_000_000}, // -1 SOL
		},
		TokenTransfers: []chain.TokenTransfer{
			{FromUserAccount: "wallet1", Mint: WSOLMint, TokenAmount: chain.RawAmount{Scalar: 1.5}},
		},
	}
	result := Parse(view, "wallet1", 0)
	if result.SOLChange != -1.5 {
		t.Fatalf("expected -1.5 (larger magnitude leg), got %v", result.SOLChange)
	}
}

func TestParseNativeAndWSOLOppositeSignsSum(t *testing.T) {
	view := chain.TxView{
		NativeTransfers: []chain.NativeTransfer{
			{FromUserAccount: "wallet1", Amount: 1_000_000_000}, // -1 SOL
		},
		TokenTransfers: []chain.TokenTransfer{
			{ToUserAccount: "wallet1", Mint: WSOLMint, TokenAmount: chain.RawAmount{Scalar: 0.3}},
		},
	}
	result := Parse(view, "wallet1", 0)
	if result.SOLChange != -0.7 {
		t.Fatalf("expected -0.7 (summed opposite-sign legs), got %v", result.SOLChange)
	}
}

func TestParseUSDCEquivalentOnlyWhenPriceKnown(t *testing.T) {
	view := chain.TxView{
		TokenTransfers: []chain.TokenTransfer{
			{FromUserAccount: "wallet1", Mint: USDCMint, TokenAmount: chain.RawAmount{Scalar: 150}},
		},
	}

	result := Parse(view, "wallet1", 0)
	if result.SOLChange != 0 {
		t.Fatalf("expected 0 sol_change with no price, got %v", result.SOLChange)
	}

	result = Parse(view, "wallet1", 150)
	if result.SOLChange != -1.0 {
		t.Fatalf("expected -1.0 SOL equivalent at 150 USDC/SOL, got %v", result.SOLChange)
	}
}

func TestParseIgnoresStableAndWSOLFromTokenChanges(t *testing.T) {
	view := chain.TxView{
		TokenTransfers: []chain.TokenTransfer{
			{ToUserAccount: "wallet1", Mint: USDCMint, TokenAmount: chain.RawAmount{Scalar: 10}},
			{ToUserAccount: "wallet1", Mint: WSOLMint, TokenAmount: chain.RawAmount{Scalar: 1}},
			{ToUserAccount: "wallet1", Mint: "Mmint1", TokenAmount: chain.RawAmount{Scalar: 500}},
		},
	}
	result := Parse(view, "wallet1", 100)
	if _, ok := result.TokenChanges[USDCMint]; ok {
		t.Fatal("expected USDC excluded from token_changes")
	}
	if _, ok := result.TokenChanges[WSOLMint]; ok {
		t.Fatal("expected WSOL excluded from token_changes")
	}
	if result.TokenChanges["Mmint1"] != 500 {
		t.Fatalf("expected Mmint1 delta 500, got %v", result.TokenChanges["Mmint1"])
	}
}

func TestRawAmountObjectForm(t *testing.T) {
	ra := chainRawAmountFromObj("1500000", 6)
	if ra.Float() != 1.5 {
		t.Fatalf("expected 1.5, got %v", ra.Float())
	}
}

func chainRawAmountFromObj(amount string, decimals int) chain.RawAmount {
	return chain.RawAmount{Amount: amount, Decimals: decimals}
}
