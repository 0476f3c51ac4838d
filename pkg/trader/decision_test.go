package trader

import (
	"math"
	"testing"

	"github.com/algonius/hunter-copytrader/pkg/config"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAddPlanClampsToHeadroom(t *testing.T) {
	pos := &Position{TotalCostSOL: 0.10}
	tier := config.Tier{AddSOL: 0.04, MaxSOL: 0.12}

	amount, skip := addPlan(pos, tier)
	if skip {
		t.Fatal("expected add to proceed")
	}
	if !almostEqual(amount, 0.02) {
		t.Fatalf("expected headroom-clamped amount 0.02, got %v", amount)
	}
}

func TestAddPlanSkipsBelowDustFloor(t *testing.T) {
	pos := &Position{TotalCostSOL: 0.119}
	tier := config.Tier{AddSOL: 0.04, MaxSOL: 0.12}

	_, skip := addPlan(pos, tier)
	if !skip {
		t.Fatal("expected add to be skipped below the 0.01 SOL floor")
	}
}

func TestFollowSellPlanSkipsBelowThreshold(t *testing.T) {
	share := VirtualShare{TokenAmount: 1000}
	_, skip := followSellPlan(share, 0.04, 0.05, 0.30, 0.001, 0.01)
	if !skip {
		t.Fatal("expected a sell ratio below FOLLOW_SELL_THRESHOLD to be skipped")
	}
}

func TestFollowSellPlanFloorsRatioAtMinSellRatio(t *testing.T) {
	share := VirtualShare{TokenAmount: 1000}
	amount, skip := followSellPlan(share, 0.10, 0.05, 0.30, 0.001, 0.01)
	if skip {
		t.Fatal("expected sell to proceed")
	}
	if !almostEqual(amount, 300) {
		t.Fatalf("expected ratio floored to 30%%, sell amount 300, got %v", amount)
	}
}

func TestFollowSellPlanPromotesToFullSellOnDust(t *testing.T) {
	share := VirtualShare{TokenAmount: 1000}
	// 30% sell leaves 700 tokens at price 0.00001 SOL = 0.007 SOL, under the 0.01 floor.
	amount, skip := followSellPlan(share, 0.30, 0.05, 0.30, 0.00001, 0.01)
	if skip {
		t.Fatal("expected sell to proceed")
	}
	if amount != 1000 {
		t.Fatalf("expected dust promotion to a full sell of 1000, got %v", amount)
	}
}

func TestReconcileClampScalesDownOnChainShortfall(t *testing.T) {
	clamped, scale, corrected := reconcileClamp(300, 1000, 900)
	if !corrected {
		t.Fatal("expected a >1%% shortfall to trigger correction")
	}
	if clamped != 300 {
		t.Fatalf("expected sell amount unclamped at 300 (under chain balance), got %v", clamped)
	}
	if scale != 0.9 {
		t.Fatalf("expected scale factor 0.9, got %v", scale)
	}
}

func TestReconcileClampNoCorrectionWithinTolerance(t *testing.T) {
	_, scale, corrected := reconcileClamp(100, 1000, 995)
	if corrected {
		t.Fatal("expected a sub-1%% shortfall to not trigger correction")
	}
	if scale != 1 {
		t.Fatalf("expected scale 1, got %v", scale)
	}
}

func TestCrossValidatedPnLReplacesOracleSpike(t *testing.T) {
	got := crossValidatedPnL(3.0, 0.2)
	if got != 0.2 {
		t.Fatalf("expected implied pnl 0.2 to replace the oracle spike, got %v", got)
	}
}

func TestCrossValidatedPnLKeepsOracleWhenImpliedAgrees(t *testing.T) {
	got := crossValidatedPnL(3.0, 2.8)
	if got != 3.0 {
		t.Fatalf("expected oracle pnl retained when implied pnl also confirms the gain, got %v", got)
	}
}

func TestStopLossShouldFireAtExactThreshold(t *testing.T) {
	if !stopLossShouldFire(-0.85, 0.85) {
		t.Fatal("expected a pnl exactly at -stop_loss_pct to fire")
	}
	if stopLossShouldFire(-0.84, 0.85) {
		t.Fatal("expected a shallower loss to not fire")
	}
}

func TestStopLossRescuedBySecondOpinion(t *testing.T) {
	if !stopLossRescued(-0.30, 0.85) {
		t.Fatal("expected a much shallower second-oracle loss to rescue the position")
	}
	if stopLossRescued(-0.90, 0.85) {
		t.Fatal("expected a second opinion confirming the deep loss to not rescue")
	}
}

func TestTPLevelsToFireSkipsAlreadyFired(t *testing.T) {
	pos := &Position{TPHitLevels: []float64{1.0}}
	ladder := []config.TPLevel{{PnLThreshold: 1.0, SellFraction: 0.5}, {PnLThreshold: 4.0, SellFraction: 0.5}}

	due := tpLevelsToFire(pos, 5.0, ladder)
	if len(due) != 1 || due[0].PnLThreshold != 4.0 {
		t.Fatalf("expected only the unfired 4.0 rung due, got %+v", due)
	}
}

func TestTPSellAmountPromotesToFullOnDust(t *testing.T) {
	amount, full := tpSellAmount(1000, config.TPLevel{SellFraction: 0.10}, 0.00001, 0.01)
	if !full {
		t.Fatal("expected dust promotion to a full sell")
	}
	if amount != 1000 {
		t.Fatalf("expected full sell of 1000, got %v", amount)
	}
}

func TestTPSellAmountPartialWhenRemainderIsHealthy(t *testing.T) {
	amount, full := tpSellAmount(1000, config.TPLevel{SellFraction: 0.50}, 1.0, 0.01)
	if full {
		t.Fatal("expected a partial sell")
	}
	if amount != 500 {
		t.Fatalf("expected 500, got %v", amount)
	}
}

func TestRebalanceSharesSingleHolderTakesAll(t *testing.T) {
	shares := rebalanceShares(map[string]int{"H1": 80}, 1000)
	if shares["H1"].TokenAmount != 1000 {
		t.Fatalf("expected sole holder to take the full 1000, got %+v", shares)
	}
}

func TestRebalanceSharesTwoHoldersProportionalToScore(t *testing.T) {
	shares := rebalanceShares(map[string]int{"H1": 75, "H2": 25}, 1000)
	if shares["H1"].TokenAmount != 750 {
		t.Fatalf("expected H1 at 750, got %v", shares["H1"].TokenAmount)
	}
	if shares["H2"].TokenAmount != 250 {
		t.Fatalf("expected H2 at 250, got %v", shares["H2"].TokenAmount)
	}
}

func TestRebalanceSharesTwoHoldersZeroScoresSplitEvenly(t *testing.T) {
	shares := rebalanceShares(map[string]int{"H1": 0, "H2": 0}, 1000)
	if shares["H1"].TokenAmount != 500 || shares["H2"].TokenAmount != 500 {
		t.Fatalf("expected an even split when both scores are zero, got %+v", shares)
	}
}

func TestRebalanceSharesFourHoldersSplitTopThreeEvenly(t *testing.T) {
	shares := rebalanceShares(map[string]int{"H1": 90, "H2": 80, "H3": 70, "H4": 60}, 900)
	if len(shares) != 3 {
		t.Fatalf("expected only the top 3 holders to retain a share, got %d", len(shares))
	}
	if _, ok := shares["H4"]; ok {
		t.Fatal("expected the lowest-scored 4th holder to be excluded")
	}
	for h, s := range shares {
		if s.TokenAmount != 300 {
			t.Fatalf("expected an even 300 split for %s, got %v", h, s.TokenAmount)
		}
	}
}

func TestScaleSharesAppliesFactorToEveryHolder(t *testing.T) {
	shares := map[string]VirtualShare{"H1": {TokenAmount: 1000}, "H2": {TokenAmount: 500}}
	scaled := scaleShares(shares, 0.5)
	if scaled["H1"].TokenAmount != 500 || scaled["H2"].TokenAmount != 250 {
		t.Fatalf("expected both shares halved, got %+v", scaled)
	}
}

func TestClosurePnLSumsReceivedMinusSpent(t *testing.T) {
	records := []TradeRecord{
		{Type: "buy", SolSpent: 0.08},
		{Type: "sell", SolReceived: 0.05},
		{Type: "sell", SolReceived: 0.10},
	}
	pnl := closurePnL(records)
	if !almostEqual(pnl, 0.07) {
		t.Fatalf("expected total pnl 0.07, got %v", pnl)
	}
}
