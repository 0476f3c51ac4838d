// Package monitor implements Monitor of SPEC_FULL.md §4.6: a single
// transactionSubscribe stream over the hunter pool's addresses, fanned
// out through a deduplicated, batched consumer loop into per-hunter
// attribution and the resonance predicate of §4.6.1.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/algonius/hunter-copytrader/pkg/attribution"
	"github.com/algonius/hunter-copytrader/pkg/chain"
	coperrors "github.com/algonius/hunter-copytrader/pkg/errors"
	"github.com/algonius/hunter-copytrader/pkg/hunter"
	"github.com/algonius/hunter-copytrader/pkg/txparser"
)

// Signal is the resonance output handed to the Trader.
type Signal struct {
	Mint       string
	LeadHunter string
	Score      int
	Timestamp  int64
}

// TraderSink is the Trader-side collaborator Monitor drives: a position
// check (to honor "no follower position already exists for mint") and
// the resonance signal itself.
type TraderSink interface {
	HasPosition(mint string) bool
	Resonance(ctx context.Context, sig Signal)
}

// AgentSink receives every observed hunter/mint delta, regardless of
// whether it intersects a Trader position; Agent itself filters to the
// mints it tracks.
type AgentSink interface {
	Observe(ctx context.Context, wallet, mint string, delta, priceSOL float64, timestamp int64)
}

// Knobs holds Monitor's tunables from spec.md §4.6/§4.6.1/§6.
type Knobs struct {
	WSURL                  string
	BatchSize              int
	DrainTimeout           time.Duration
	DedupTTL               time.Duration
	HoldingsPruneInterval  time.Duration
	HoldingsTTL            time.Duration
	MaxEntryPumpMultiplier float64
	ResubscribeInterval    time.Duration
	USDCPerSOL             float64
}

// DefaultKnobs mirrors spec.md's named defaults.
func DefaultKnobs() Knobs {
	return Knobs{
		BatchSize:              15,
		DrainTimeout:           300 * time.Millisecond,
		DedupTTL:               90 * time.Second,
		HoldingsPruneInterval:  12 * time.Hour,
		HoldingsTTL:            2 * time.Hour,
		MaxEntryPumpMultiplier: 4.0,
		ResubscribeInterval:    5 * time.Minute,
		USDCPerSOL:             150.0,
	}
}

type mintState struct {
	holders       map[string]bool
	firstBuyer    string
	firstBuyPrice float64
	lastActivity  time.Time
}

// Monitor fans a single transaction-stream subscription out into
// per-hunter attribution and the resonance predicate.
type Monitor struct {
	chainClient *chain.Chain
	pool        *hunter.Pool
	trader      TraderSink
	agent       AgentSink
	logger      *zap.Logger
	knobs       Knobs

	onCreditExhausted     func()
	creditExhaustedFired sync.Once

	sigQueue chan string

	mu               sync.Mutex
	dedup            map[string]time.Time
	mints            map[string]*mintState
	blacklistedMints map[string]bool
	resonanceEmitted map[string]bool
}

// New builds a Monitor. onCreditExhausted is invoked exactly once, the
// first time a bulk parsed-transaction fetch reports credit exhaustion.
func New(c *chain.Chain, pool *hunter.Pool, trader TraderSink, agent AgentSink, knobs Knobs, logger *zap.Logger, onCreditExhausted func()) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		chainClient:      c,
		pool:             pool,
		trader:           trader,
		agent:            agent,
		logger:           logger,
		knobs:            knobs,
		onCreditExhausted: onCreditExhausted,
		sigQueue:         make(chan string, 4096),
		dedup:            make(map[string]time.Time),
		mints:            make(map[string]*mintState),
		blacklistedMints: make(map[string]bool),
		resonanceEmitted: make(map[string]bool),
	}
}

// Run drives the subscribe/reconnect loop until ctx is cancelled. The
// reconnect-with-backoff shape follows the teacher-adjacent
// SandQuattro solana blockchain worker's subscribeViaWebsocket retry loop.
func (m *Monitor) Run(ctx context.Context) error {
	go m.consumeLoop(ctx)

	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := m.subscribeOnce(ctx); err != nil {
			m.logger.Warn("transaction stream subscription failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
	}
}

func (m *Monitor) subscribeOnce(ctx context.Context) error {
	addresses := m.pool.Addresses()
	if len(addresses) == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
		return nil
	}

	stream, err := chain.SubscribeTransactions(ctx, m.knobs.WSURL, addresses)
	if err != nil {
		return err
	}
	defer stream.Close()

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resubscribe := time.NewTicker(m.knobs.ResubscribeInterval)
	defer resubscribe.Stop()

	errCh := make(chan error, 1)
	go func() {
		for {
			notif, err := stream.Recv(subCtx)
			if err != nil {
				errCh <- err
				return
			}
			m.enqueueSignature(notif.Signature)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-resubscribe.C:
		// pool membership changes over time (discovery/maintenance); a
		// periodic resubscribe keeps accountInclude current.
		return nil
	case err := <-errCh:
		return err
	}
}

func (m *Monitor) enqueueSignature(sig string) {
	select {
	case m.sigQueue <- sig:
	default:
		m.logger.Warn("transaction signature queue full, dropping notification", zap.String("signature", sig))
	}
}

// consumeLoop drains up to BatchSize signatures per cycle with a small
// drain timeout, dedups, and issues one bulk parsed-transaction fetch.
func (m *Monitor) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case first := <-m.sigQueue:
			batch := []string{first}
			timer := time.NewTimer(m.knobs.DrainTimeout)
		drain:
			for len(batch) < m.knobs.BatchSize {
				select {
				case sig := <-m.sigQueue:
					batch = append(batch, sig)
				case <-timer.C:
					break drain
				case <-ctx.Done():
					timer.Stop()
					return
				}
			}
			timer.Stop()

			unique := m.dedupe(batch)
			if len(unique) == 0 {
				continue
			}
			m.processBatch(ctx, unique)
		}
	}
}

func (m *Monitor) dedupe(sigs []string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for sig, seenAt := range m.dedup {
		if now.Sub(seenAt) > m.knobs.DedupTTL {
			delete(m.dedup, sig)
		}
	}

	out := make([]string, 0, len(sigs))
	for _, sig := range sigs {
		if _, seen := m.dedup[sig]; seen {
			continue
		}
		m.dedup[sig] = now
		out = append(out, sig)
	}
	return out
}

func (m *Monitor) processBatch(ctx context.Context, sigs []string) {
	parsed, err := m.chainClient.ParsedTransactionsBulk(ctx, sigs)
	if err != nil {
		if ce, ok := err.(*coperrors.Error); ok && ce.Code == coperrors.ErrCreditExhausted {
			m.creditExhaustedFired.Do(func() {
				m.logger.Error("bulk parsed-transaction fetch exhausted all credit; firing emergency hook")
				if m.onCreditExhausted != nil {
					m.onCreditExhausted()
				}
			})
			return
		}
		m.logger.Warn("bulk parsed-transaction fetch failed", zap.Error(err))
		return
	}

	for _, ep := range parsed {
		m.processTx(ctx, chain.FromEnhanced(ep))
	}
}

func (m *Monitor) processTx(ctx context.Context, view chain.TxView) {
	if len(view.NativeTransfers) == 0 && len(view.TokenTransfers) == 0 {
		return
	}

	var hunters []string
	for addr := range view.InvolvedAccounts {
		if h, ok := m.pool.Get(addr); ok {
			hunters = append(hunters, h.Address)
		}
	}
	if len(hunters) == 0 {
		return
	}

	for _, addr := range hunters {
		m.pool.UpdateLastActive(addr, view.Timestamp)

		result := txparser.Parse(view, addr, m.knobs.USDCPerSOL)
		for mint, delta := range result.TokenChanges {
			if delta == 0 {
				continue
			}

			price := m.deltaPrice(result, mint, delta)
			m.agent.Observe(ctx, addr, mint, delta, price, result.Timestamp)

			isBuy := result.SOLChange < 0 && delta > 0
			isSell := result.SOLChange > 0 && delta < 0
			switch {
			case isBuy:
				m.onBuy(ctx, mint, addr, price, view.Timestamp)
			case isSell:
				m.onSell(ctx, mint, addr, view.Timestamp)
			}
		}
	}
}

// deltaPrice derives a per-token SOL price from the same-tx attribution
// split. The result is passed to Agent.Observe, snapshotted as
// first_buy_price on a BUY, and used as the current price in the
// resonance pump check.
func (m *Monitor) deltaPrice(result txparser.Result, mint string, delta float64) float64 {
	if delta <= 0 {
		return 0
	}
	attr := attribution.Calculate(decimal.NewFromFloat(result.SOLChange), attribution.Float64Map(result.TokenChanges))
	buySOL, ok := attr.BuySOL[mint]
	if !ok {
		return 0
	}
	buySOLFloat, _ := buySOL.Float64()
	return buySOLFloat / delta
}

func (m *Monitor) onBuy(ctx context.Context, mint, hunterAddr string, price float64, ts int64) {
	m.mu.Lock()
	ms, ok := m.mints[mint]
	if !ok {
		ms = &mintState{holders: make(map[string]bool)}
		m.mints[mint] = ms
	}
	if ms.firstBuyer == "" {
		ms.firstBuyer = hunterAddr
		ms.firstBuyPrice = price
	}
	ms.holders[hunterAddr] = true
	ms.lastActivity = time.Now()
	m.mu.Unlock()

	m.evaluateResonance(ctx, mint, price, ts)
}

func (m *Monitor) onSell(ctx context.Context, mint, hunterAddr string, ts int64) {
	m.mu.Lock()
	ms, ok := m.mints[mint]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(ms.holders, hunterAddr)

	departedWasFirstBuyer := ms.firstBuyer == hunterAddr
	resonanceFired := m.resonanceEmitted[mint]
	if departedWasFirstBuyer && !resonanceFired {
		m.blacklistedMints[mint] = true
	}
	m.mu.Unlock()
}

// evaluateResonance implements spec.md §4.6.1's predicate.
func (m *Monitor) evaluateResonance(ctx context.Context, mint string, currentPrice float64, ts int64) {
	m.mu.Lock()
	if m.blacklistedMints[mint] {
		m.mu.Unlock()
		return
	}
	if m.resonanceEmitted[mint] {
		m.mu.Unlock()
		return
	}
	ms, ok := m.mints[mint]
	if !ok {
		m.mu.Unlock()
		return
	}
	firstBuyer := ms.firstBuyer
	firstBuyPrice := ms.firstBuyPrice
	stillHolding := firstBuyer != "" && ms.holders[firstBuyer]
	m.mu.Unlock()

	if firstBuyer == "" || !stillHolding {
		return
	}
	if m.trader.HasPosition(mint) {
		return
	}
	h, ok := m.pool.Get(firstBuyer)
	if !ok {
		return
	}
	if firstBuyPrice > 0 && currentPrice > firstBuyPrice*m.knobs.MaxEntryPumpMultiplier {
		return
	}

	m.mu.Lock()
	if m.resonanceEmitted[mint] {
		m.mu.Unlock()
		return
	}
	m.resonanceEmitted[mint] = true
	m.mu.Unlock()

	m.trader.Resonance(ctx, Signal{
		Mint:       mint,
		LeadHunter: firstBuyer,
		Score:      h.Score,
		Timestamp:  ts,
	})
}

// PruneHoldings runs spec.md §4.6's periodic holdings sweep: drop a
// mint's tracked holdings if it has no open Trader position and has
// seen no new hunter buy within HoldingsTTL.
func (m *Monitor) PruneHoldings() {
	cutoff := time.Now().Add(-m.knobs.HoldingsTTL)

	m.mu.Lock()
	defer m.mu.Unlock()
	for mint, ms := range m.mints {
		if m.trader.HasPosition(mint) {
			continue
		}
		if ms.lastActivity.After(cutoff) {
			continue
		}
		delete(m.mints, mint)
	}
}

// RunHoldingsPruneLoop ticks PruneHoldings every HoldingsPruneInterval
// until ctx is cancelled.
func (m *Monitor) RunHoldingsPruneLoop(ctx context.Context) {
	ticker := time.NewTicker(m.knobs.HoldingsPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.PruneHoldings()
		}
	}
}
