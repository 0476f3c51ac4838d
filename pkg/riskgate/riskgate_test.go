package riskgate

import (
	"context"
	"errors"
	"testing"
)

type fakeOracle struct {
	report Report
	err    error
}

func (f fakeOracle) Assess(ctx context.Context, mint string) (Report, error) {
	return f.report, f.err
}

func cleanReport() Report {
	return Report{
		SafetyScore:  10,
		LiquidityUSD: 50_000,
		FDVUsd:       500_000,
		LPLockedPct:  90,
		BuyTaxPct:    1,
		HasTwitter:   true,
		TopHolders: []Holder{
			{Address: "lp", PctSupply: 50, IsLPLocked: true},
			{Address: "h1", PctSupply: 5},
			{Address: "h2", PctSupply: 3},
		},
	}
}

func TestCheckPassesCleanReport(t *testing.T) {
	gate := New(fakeOracle{report: cleanReport()}, DefaultLimits())
	reason, err := gate.Check(context.Background(), "mint1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != "" {
		t.Fatalf("expected pass, got deny reason %q", reason)
	}
}

func TestCheckDeniesUnrenouncedMintAuthority(t *testing.T) {
	r := cleanReport()
	r.MintAuthority = "someauthority"
	gate := New(fakeOracle{report: r}, DefaultLimits())
	reason, _ := gate.Check(context.Background(), "mint1")
	if reason == "" {
		t.Fatal("expected deny for unrenounced mint authority")
	}
}

func TestCheckDeniesHoneypotRisk(t *testing.T) {
	r := cleanReport()
	r.Risks = []Risk{{Name: "Honeypot detected", Level: "warning"}}
	gate := New(fakeOracle{report: r}, DefaultLimits())
	reason, _ := gate.Check(context.Background(), "mint1")
	if reason == "" {
		t.Fatal("expected deny for honeypot risk")
	}
}

func TestCheckDeniesMissingSocialLinks(t *testing.T) {
	r := cleanReport()
	r.HasTwitter = false
	r.HasTelegram = false
	gate := New(fakeOracle{report: r}, DefaultLimits())
	reason, _ := gate.Check(context.Background(), "mint1")
	if reason == "" {
		t.Fatal("expected deny for missing social links")
	}
}

func TestCheckDeniesHighSingleHolderConcentration(t *testing.T) {
	r := cleanReport()
	r.TopHolders = []Holder{{Address: "whale", PctSupply: 15}}
	gate := New(fakeOracle{report: r}, DefaultLimits())
	reason, _ := gate.Check(context.Background(), "mint1")
	if reason == "" {
		t.Fatal("expected deny for single holder over ceiling")
	}
}

func TestCheckPropagatesOracleError(t *testing.T) {
	gate := New(fakeOracle{err: errors.New("oracle down")}, DefaultLimits())
	_, err := gate.Check(context.Background(), "mint1")
	if err == nil {
		t.Fatal("expected propagated oracle error")
	}
}
