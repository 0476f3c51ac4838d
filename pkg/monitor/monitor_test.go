package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/algonius/hunter-copytrader/pkg/hunter"
)

type fakeTrader struct {
	hasPosition map[string]bool
	signals     []Signal
}

func (f *fakeTrader) HasPosition(mint string) bool { return f.hasPosition[mint] }
func (f *fakeTrader) Resonance(ctx context.Context, sig Signal) {
	f.signals = append(f.signals, sig)
}

type fakeAgent struct {
	observed int
}

func (f *fakeAgent) Observe(ctx context.Context, wallet, mint string, delta, priceSOL float64, timestamp int64) {
	f.observed++
}

func newTestMonitor(t *testing.T, trader *fakeTrader) (*Monitor, *hunter.Pool) {
	t.Helper()
	pool := hunter.NewPool(10)
	pool.Insert(hunter.Hunter{Address: "hunterA", Score: 80, CreatedAt: time.Now().Unix(), LastActive: time.Now().Unix()})
	knobs := DefaultKnobs()
	m := New(nil, pool, trader, &fakeAgent{}, knobs, nil, nil)
	return m, pool
}

func TestResonanceFiresOnFirstQualifyingBuy(t *testing.T) {
	trader := &fakeTrader{hasPosition: map[string]bool{}}
	m, _ := newTestMonitor(t, trader)

	m.onBuy(context.Background(), "MINT1", "hunterA", 1.0, 1000)

	if len(trader.signals) != 1 {
		t.Fatalf("expected resonance to fire once, got %d signals", len(trader.signals))
	}
	if trader.signals[0].LeadHunter != "hunterA" {
		t.Fatalf("expected lead hunter hunterA, got %s", trader.signals[0].LeadHunter)
	}
}

func TestResonanceDoesNotFireTwice(t *testing.T) {
	trader := &fakeTrader{hasPosition: map[string]bool{}}
	m, _ := newTestMonitor(t, trader)

	m.onBuy(context.Background(), "MINT1", "hunterA", 1.0, 1000)
	m.onBuy(context.Background(), "MINT1", "hunterA", 1.0, 1001)

	if len(trader.signals) != 1 {
		t.Fatalf("expected exactly one signal, got %d", len(trader.signals))
	}
}

func TestResonanceSkippedWhenPriceExceedsPumpMultiplier(t *testing.T) {
	trader := &fakeTrader{hasPosition: map[string]bool{}}
	m, _ := newTestMonitor(t, trader)

	m.mu.Lock()
	m.mints["MINT1"] = &mintState{
		holders:       map[string]bool{"hunterA": true},
		firstBuyer:    "hunterA",
		firstBuyPrice: 1.0,
	}
	m.mu.Unlock()

	m.evaluateResonance(context.Background(), "MINT1", 5.0, 2000)

	if len(trader.signals) != 0 {
		t.Fatal("expected resonance to not fire when price exceeds 4x the first buy price")
	}
}

func TestResonanceSkippedWhenPositionAlreadyExists(t *testing.T) {
	trader := &fakeTrader{hasPosition: map[string]bool{"MINT1": true}}
	m, _ := newTestMonitor(t, trader)

	m.onBuy(context.Background(), "MINT1", "hunterA", 1.0, 1000)

	if len(trader.signals) != 0 {
		t.Fatal("expected resonance to not fire when a follower position already exists")
	}
}

func TestSellByFirstBuyerBeforeResonanceBlacklistsMint(t *testing.T) {
	trader := &fakeTrader{hasPosition: map[string]bool{}}
	m, _ := newTestMonitor(t, trader)

	m.mu.Lock()
	m.mints["MINT1"] = &mintState{
		holders:    map[string]bool{"hunterA": true},
		firstBuyer: "hunterA",
	}
	m.mu.Unlock()

	m.onSell(context.Background(), "MINT1", "hunterA", 3000)

	m.mu.Lock()
	blacklisted := m.blacklistedMints["MINT1"]
	m.mu.Unlock()
	if !blacklisted {
		t.Fatal("expected mint to be blacklisted after its first buyer sold before resonance fired")
	}

	m.evaluateResonance(context.Background(), "MINT1", 1.0, 3001)
	if len(trader.signals) != 0 {
		t.Fatal("expected a blacklisted mint to never emit a resonance signal")
	}
}

func TestDedupeDropsRepeatedSignaturesWithinTTL(t *testing.T) {
	trader := &fakeTrader{hasPosition: map[string]bool{}}
	m, _ := newTestMonitor(t, trader)

	first := m.dedupe([]string{"sigA", "sigB"})
	if len(first) != 2 {
		t.Fatalf("expected both new signatures to pass dedup, got %d", len(first))
	}

	second := m.dedupe([]string{"sigA", "sigC"})
	if len(second) != 1 || second[0] != "sigC" {
		t.Fatalf("expected only the unseen signature to pass, got %v", second)
	}
}

func TestPruneHoldingsDropsStaleUnheldMints(t *testing.T) {
	trader := &fakeTrader{hasPosition: map[string]bool{}}
	m, _ := newTestMonitor(t, trader)
	m.knobs.HoldingsTTL = time.Millisecond

	m.onBuy(context.Background(), "MINT1", "hunterA", 1.0, 1000)
	time.Sleep(5 * time.Millisecond)
	m.PruneHoldings()

	m.mu.Lock()
	_, exists := m.mints["MINT1"]
	m.mu.Unlock()
	if exists {
		t.Fatal("expected stale unheld mint to be pruned")
	}
}

func TestPruneHoldingsKeepsMintsWithOpenPosition(t *testing.T) {
	trader := &fakeTrader{hasPosition: map[string]bool{"MINT1": true}}
	m, _ := newTestMonitor(t, trader)
	m.knobs.HoldingsTTL = time.Millisecond

	m.onBuy(context.Background(), "MINT1", "hunterA", 1.0, 1000)
	time.Sleep(5 * time.Millisecond)
	m.PruneHoldings()

	m.mu.Lock()
	_, exists := m.mints["MINT1"]
	m.mu.Unlock()
	if !exists {
		t.Fatal("expected a mint with an open follower position to survive the prune")
	}
}
