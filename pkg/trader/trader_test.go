package trader

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/algonius/hunter-copytrader/pkg/agent"
	"github.com/algonius/hunter-copytrader/pkg/config"
	"github.com/algonius/hunter-copytrader/pkg/event"
)

// traderSinkStub satisfies agent.TradeSink without exercising any swap/oracle I/O.
type traderSinkStub struct{}

func (traderSinkStub) OnHunterEvent(ctx context.Context, evt agent.Event) {}

func newTestTrader(t *testing.T) *Trader {
	t.Helper()
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "positions.json"), nil)
	events := event.NewPositionEvents(nil)
	tracker := agent.New(nil, traderSinkStub{}, agent.Knobs{}, nil)
	return New(nil, nil, nil, nil, events, tracker, store, &config.Config{}, "OWNER", nil)
}

func TestHasPositionReflectsSetAndDelete(t *testing.T) {
	tr := newTestTrader(t)
	if tr.HasPosition("MINT1") {
		t.Fatal("expected no position before set")
	}
	tr.setPosition("MINT1", &Position{Mint: "MINT1", TotalTokens: 100})
	if !tr.HasPosition("MINT1") {
		t.Fatal("expected position after set")
	}
	tr.deletePosition("MINT1")
	if tr.HasPosition("MINT1") {
		t.Fatal("expected no position after delete")
	}
}

func TestMintsHeldByFindsPositionsWithHolder(t *testing.T) {
	tr := newTestTrader(t)
	tr.setPosition("MINT1", &Position{Mint: "MINT1", Shares: map[string]VirtualShare{"H1": {TokenAmount: 100}}})
	tr.setPosition("MINT2", &Position{Mint: "MINT2", Shares: map[string]VirtualShare{"H2": {TokenAmount: 50}}})
	tr.setPosition("MINT3", &Position{Mint: "MINT3", Shares: map[string]VirtualShare{"H1": {TokenAmount: 10}, "H2": {TokenAmount: 10}}})

	mints := tr.mintsHeldBy("H1")
	if len(mints) != 2 {
		t.Fatalf("expected H1 held in 2 mints, got %v", mints)
	}
}

func TestOpenMintsListsAllTrackedPositions(t *testing.T) {
	tr := newTestTrader(t)
	tr.setPosition("MINT1", &Position{Mint: "MINT1"})
	tr.setPosition("MINT2", &Position{Mint: "MINT2"})

	mints := tr.openMints()
	if len(mints) != 2 {
		t.Fatalf("expected 2 open mints, got %v", mints)
	}
}

func TestClosePositionRemovesAndEmitsClosureEvent(t *testing.T) {
	tr := newTestTrader(t)
	pos := &Position{
		Mint:        "MINT1",
		EntryTime:   1000,
		TotalTokens: 500,
		TradeRecords: []TradeRecord{
			{Type: "buy", SolSpent: 0.05},
			{Type: "sell", SolReceived: 0.08},
		},
	}
	tr.setPosition("MINT1", pos)
	tr.agentCtl.StartTracking("MINT1", map[string]float64{"H1": 0})

	sub := tr.events.Subscribe("test")
	defer tr.events.Unsubscribe("test")

	tr.closePosition("MINT1", pos, "take_profit")

	if tr.HasPosition("MINT1") {
		t.Fatal("expected position removed after close")
	}

	select {
	case evt := <-sub:
		if evt.Type != event.EventTypePositionClosed {
			t.Fatalf("expected a position_closed event, got %s", evt.Type)
		}
		if evt.Data["note"] != "take_profit" {
			t.Fatalf("expected note take_profit, got %v", evt.Data["note"])
		}
		pnl, ok := evt.Data["total_pnl_sol"].(float64)
		if !ok || pnl < 0.0299 || pnl > 0.0301 {
			t.Fatalf("expected total_pnl_sol near 0.03, got %v", evt.Data["total_pnl_sol"])
		}
	default:
		t.Fatal("expected a position_closed event to be broadcast")
	}
}

func TestDefaultSlippageBpsFallsBackWhenScheduleEmpty(t *testing.T) {
	tr := newTestTrader(t)
	if got := tr.defaultSlippageBps(); got != 100 {
		t.Fatalf("expected fallback 100 bps, got %d", got)
	}
	tr.cfg.Slippage.ScheduleBps = []int{50, 150, 300}
	if got := tr.defaultSlippageBps(); got != 50 {
		t.Fatalf("expected first schedule entry 50, got %d", got)
	}
}
