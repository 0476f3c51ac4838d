// Package agent implements Agent of SPEC_FULL.md §4.7: a per-mission
// hunter token-balance tracker that turns Monitor's forwarded deltas
// into HUNTER_BUY/HUNTER_SELL events for the Trader, backstopped by a
// periodic on-chain reconciliation loop.
package agent

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/algonius/hunter-copytrader/pkg/chain"
)

// EventType distinguishes a hunter buy from a hunter sell.
type EventType string

const (
	HunterBuy  EventType = "HUNTER_BUY"
	HunterSell EventType = "HUNTER_SELL"
)

// Event is one hunter-activity notification forwarded to the Trader.
type Event struct {
	Type      EventType
	Mint      string
	Hunter    string
	Delta     float64 // HUNTER_BUY only
	Ratio     float64 // HUNTER_SELL only: |delta| / old_balance
	Remaining float64 // new balance after the observed change
	Note      string  // "reconciliation" for synthesized sells
	Timestamp int64
}

// TradeSink is the Trader-side collaborator that consumes hunter events.
type TradeSink interface {
	OnHunterEvent(ctx context.Context, evt Event)
}

// Knobs holds Agent's tunables from spec.md §4.7.
type Knobs struct {
	SyncInterval      time.Duration
	SyncProtection    time.Duration
	SyncMinDeltaRatio float64
}

// DefaultKnobs mirrors spec.md's named defaults.
func DefaultKnobs() Knobs {
	return Knobs{
		SyncInterval:      30 * time.Second,
		SyncProtection:    60 * time.Second,
		SyncMinDeltaRatio: 0.01,
	}
}

type mission struct {
	startedAt time.Time
	balances  map[string]float64 // hunter -> last_seen_token_balance
}

// Tracker is the Agent: one mission per actively-traded mint.
type Tracker struct {
	chainClient *chain.Chain
	sink        TradeSink
	knobs       Knobs
	logger      *zap.Logger

	mu       sync.Mutex
	missions map[string]*mission
}

// New builds a Tracker.
func New(c *chain.Chain, sink TradeSink, knobs Knobs, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		chainClient: c,
		sink:        sink,
		knobs:       knobs,
		logger:      logger,
		missions:    make(map[string]*mission),
	}
}

// StartTracking opens a mission for mint, seeded with each hunter's
// balance at entry (typically the lead hunter's pre-buy balance plus any
// share holders admitted since).
func (t *Tracker) StartTracking(mint string, initialBalances map[string]float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	balances := make(map[string]float64, len(initialBalances))
	for h, b := range initialBalances {
		balances[h] = b
	}
	t.missions[mint] = &mission{startedAt: time.Now(), balances: balances}
}

// StopTracking closes mint's mission (the Trader position closed).
func (t *Tracker) StopTracking(mint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.missions, mint)
}

// Observe implements monitor.AgentSink: every hunter/mint delta Monitor
// sees is forwarded here, and Agent filters to the mints it is tracking.
func (t *Tracker) Observe(ctx context.Context, wallet, mint string, delta, priceSOL float64, timestamp int64) {
	if delta == 0 {
		return
	}

	t.mu.Lock()
	m, ok := t.missions[mint]
	if !ok {
		t.mu.Unlock()
		return
	}
	oldBal := m.balances[wallet]
	newBal := oldBal + delta
	if newBal < 0 {
		newBal = 0
	}
	m.balances[wallet] = newBal
	t.mu.Unlock()

	if delta > 0 {
		t.emit(ctx, Event{Type: HunterBuy, Mint: mint, Hunter: wallet, Delta: delta, Remaining: newBal, Timestamp: timestamp})
		return
	}

	ratio := 1.0
	if oldBal > 0 {
		ratio = math.Abs(delta) / oldBal
	}
	t.emit(ctx, Event{Type: HunterSell, Mint: mint, Hunter: wallet, Ratio: ratio, Remaining: newBal, Timestamp: timestamp})
}

func (t *Tracker) emit(ctx context.Context, evt Event) {
	if t.sink != nil {
		t.sink.OnHunterEvent(ctx, evt)
	}
}

// RunSyncLoop ticks the reconciliation pass every SyncInterval until ctx
// is cancelled.
func (t *Tracker) RunSyncLoop(ctx context.Context) {
	ticker := time.NewTicker(t.knobs.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.reconcile(ctx)
		}
	}
}

// reconcile pulls each tracked hunter's on-chain token balance per mint
// and emits a synthesized HUNTER_SELL on a downward divergence beyond
// SyncMinDeltaRatio, for missions older than SyncProtection.
func (t *Tracker) reconcile(ctx context.Context) {
	type pending struct {
		mint, hunter string
		oldBal       float64
	}

	now := time.Now()
	t.mu.Lock()
	var work []pending
	for mint, m := range t.missions {
		if now.Sub(m.startedAt) < t.knobs.SyncProtection {
			continue
		}
		for hunter, bal := range m.balances {
			work = append(work, pending{mint: mint, hunter: hunter, oldBal: bal})
		}
	}
	t.mu.Unlock()

	for _, w := range work {
		chainBal, err := t.fetchBalance(ctx, w.hunter, w.mint)
		if err != nil {
			t.logger.Warn("reconciliation balance fetch failed", zap.String("mint", w.mint), zap.String("hunter", w.hunter), zap.Error(err))
			continue
		}

		t.mu.Lock()
		m, ok := t.missions[w.mint]
		if !ok {
			t.mu.Unlock()
			continue
		}
		m.balances[w.hunter] = chainBal
		t.mu.Unlock()

		if w.oldBal <= 0 {
			continue
		}
		divergence := (w.oldBal - chainBal) / w.oldBal
		if divergence <= t.knobs.SyncMinDeltaRatio {
			continue
		}

		t.emit(ctx, Event{
			Type:      HunterSell,
			Mint:      w.mint,
			Hunter:    w.hunter,
			Ratio:     divergence,
			Remaining: chainBal,
			Note:      "reconciliation",
			Timestamp: now.Unix(),
		})
	}
}

func (t *Tracker) fetchBalance(ctx context.Context, hunterAddr, mint string) (float64, error) {
	ownerPK, err := solana.PublicKeyFromBase58(hunterAddr)
	if err != nil {
		return 0, err
	}
	mintPK, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, err
	}
	raw, decimals, err := t.chainClient.TokenBalanceAnyProgram(ctx, ownerPK, mintPK)
	if err != nil {
		return 0, err
	}
	return float64(raw) / math.Pow10(decimals), nil
}
