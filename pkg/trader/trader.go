package trader

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/algonius/hunter-copytrader/pkg/agent"
	"github.com/algonius/hunter-copytrader/pkg/chain"
	"github.com/algonius/hunter-copytrader/pkg/config"
	coperrors "github.com/algonius/hunter-copytrader/pkg/errors"
	"github.com/algonius/hunter-copytrader/pkg/event"
	"github.com/algonius/hunter-copytrader/pkg/monitor"
	"github.com/algonius/hunter-copytrader/pkg/priceoracle"
	"github.com/algonius/hunter-copytrader/pkg/riskgate"
	"github.com/algonius/hunter-copytrader/pkg/swap"
)

const wsolMint = "So11111111111111111111111111111111111111112"

// Trader is the position FSM of spec.md §4.8: a map mint → Position,
// with every trigger serialized onto a per-mint actor lock (the
// "async mutex map keyed by mint" named in spec.md §9).
type Trader struct {
	chainClient *chain.Chain
	swapExec    *swap.Executor
	riskGate    *riskgate.Gate
	oracle      *priceoracle.Oracle
	events      *event.PositionEvents
	agentCtl    *agent.Tracker
	store       *Store
	cfg         *config.Config
	ownerAddr   string
	logger      *zap.Logger

	mintLocksMu sync.Mutex
	mintLocks   map[string]*sync.Mutex

	positionsMu sync.RWMutex
	positions   map[string]*Position
}

// New builds a Trader. ownerAddress is the copytrading wallet's
// base58 public key, used for on-chain balance reconciliation and
// sell execution.
func New(chainClient *chain.Chain, swapExec *swap.Executor, riskGate *riskgate.Gate, oracle *priceoracle.Oracle, events *event.PositionEvents, agentCtl *agent.Tracker, store *Store, cfg *config.Config, ownerAddress string, logger *zap.Logger) *Trader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trader{
		chainClient: chainClient,
		swapExec:    swapExec,
		riskGate:    riskGate,
		oracle:      oracle,
		events:      events,
		agentCtl:    agentCtl,
		store:       store,
		cfg:         cfg,
		ownerAddr:   ownerAddress,
		logger:      logger,
		mintLocks:   make(map[string]*sync.Mutex),
		positions:   make(map[string]*Position),
	}
}

// LoadState restores positions from the durable store (spec.md §4.8:
// "on startup, reload and keep only positions with total_tokens > 0",
// already enforced by Store.Load).
func (t *Trader) LoadState() error {
	positions, err := t.store.Load()
	if err != nil {
		return err
	}
	t.positionsMu.Lock()
	t.positions = positions
	t.positionsMu.Unlock()
	for mint, pos := range positions {
		t.agentCtl.StartTracking(mint, missionBalances(pos))
	}
	return nil
}

func missionBalances(pos *Position) map[string]float64 {
	out := make(map[string]float64, len(pos.Shares))
	for h := range pos.Shares {
		out[h] = 0
	}
	return out
}

func (t *Trader) mintLock(mint string) *sync.Mutex {
	t.mintLocksMu.Lock()
	defer t.mintLocksMu.Unlock()
	l, ok := t.mintLocks[mint]
	if !ok {
		l = &sync.Mutex{}
		t.mintLocks[mint] = l
	}
	return l
}

// HasPosition implements monitor.TraderSink.
func (t *Trader) HasPosition(mint string) bool {
	t.positionsMu.RLock()
	defer t.positionsMu.RUnlock()
	_, ok := t.positions[mint]
	return ok
}

func (t *Trader) getPosition(mint string) (*Position, bool) {
	t.positionsMu.RLock()
	defer t.positionsMu.RUnlock()
	p, ok := t.positions[mint]
	return p, ok
}

func (t *Trader) setPosition(mint string, pos *Position) {
	t.positionsMu.Lock()
	t.positions[mint] = pos
	t.positionsMu.Unlock()
}

func (t *Trader) deletePosition(mint string) {
	t.positionsMu.Lock()
	delete(t.positions, mint)
	t.positionsMu.Unlock()
}

// persist snapshots the full positions map and hands it to the store
// on a background goroutine, matching spec.md §4.8's "every mutating
// transition serializes... via a background thread, with a mutex
// preventing interleaved writes" (the mutex is Store's own).
func (t *Trader) persist() {
	t.positionsMu.RLock()
	snapshot := make(map[string]*Position, len(t.positions))
	for mint, pos := range t.positions {
		snapshot[mint] = pos.clone()
	}
	t.positionsMu.RUnlock()

	go func() {
		if err := t.store.Save(snapshot); err != nil {
			t.logger.Warn("trader state save failed", zap.Error(err))
		}
	}()
}

// Resonance implements monitor.TraderSink: fires the ENTRY trigger.
func (t *Trader) Resonance(ctx context.Context, sig monitor.Signal) {
	lock := t.mintLock(sig.Mint)
	lock.Lock()
	defer lock.Unlock()
	t.entry(ctx, sig.Mint, sig.LeadHunter, sig.Score)
}

// entry implements spec.md §4.8's ENTRY trigger.
func (t *Trader) entry(ctx context.Context, mint, leadHunter string, score int) {
	if _, exists := t.getPosition(mint); exists {
		return
	}
	if score < 60 {
		return
	}
	tier, ok := t.cfg.TierFor(score)
	if !ok {
		return
	}

	if reason, err := t.riskGate.Check(ctx, mint); err != nil {
		t.logger.Warn("risk gate check failed", zap.String("mint", mint), zap.Error(err))
		return
	} else if reason != "" {
		t.logger.Info("entry skipped by risk gate", zap.String("mint", mint), zap.String("reason", reason))
		return
	}

	decimals := t.decimalsFor(ctx, mint)
	result, err := t.swapExec.Swap(ctx, wsolMint, mint, tier.EntrySOL, t.defaultSlippageBps(), false, decimals)
	if err != nil {
		t.logger.Warn("entry swap failed", zap.String("mint", mint), zap.Error(err))
		return
	}

	tokensUI := result.OutAmount / pow10(decimals)
	observedPrice, _ := t.priceSOL(ctx, mint)
	avgPrice := observedPrice
	if tokensUI > 0 {
		avgPrice = tier.EntrySOL / tokensUI
	}

	now := time.Now().Unix()
	pos := &Position{
		Mint:            mint,
		AveragePrice:    avgPrice,
		Decimals:        decimals,
		TotalTokens:     tokensUI,
		TotalCostSOL:    tier.EntrySOL,
		LeadHunter:      leadHunter,
		LeadHunterScore: score,
		EntryTime:       now,
		Shares:          map[string]VirtualShare{leadHunter: {Score: score, TokenAmount: tokensUI}},
	}
	pos.TradeRecords = append(pos.TradeRecords, TradeRecord{Timestamp: now, Type: "buy", SolSpent: tier.EntrySOL, TokenAmount: tokensUI})

	t.setPosition(mint, pos)
	t.agentCtl.StartTracking(mint, map[string]float64{leadHunter: 0})
	t.events.PositionOpened(mint, leadHunter, tier.EntrySOL)
	t.persist()
}

// OnHunterEvent implements agent.TradeSink, dispatching ADD and
// FOLLOW_SELL.
func (t *Trader) OnHunterEvent(ctx context.Context, evt agent.Event) {
	lock := t.mintLock(evt.Mint)
	lock.Lock()
	defer lock.Unlock()

	switch evt.Type {
	case agent.HunterBuy:
		t.add(ctx, evt.Mint, evt.Hunter)
	case agent.HunterSell:
		price, err := t.priceSOL(ctx, evt.Mint)
		if err != nil {
			t.logger.Warn("price lookup failed for follow-sell", zap.String("mint", evt.Mint), zap.Error(err))
			return
		}
		t.followSell(ctx, evt.Mint, evt.Hunter, evt.Ratio, price)
	}
}

// add implements spec.md §4.8's ADD trigger.
func (t *Trader) add(ctx context.Context, mint, hunterAddr string) {
	pos, ok := t.getPosition(mint)
	if !ok {
		return
	}
	if _, isHolder := pos.Shares[hunterAddr]; !isHolder {
		return
	}
	if len(pos.TPHitLevels) > 0 {
		return
	}
	tier, ok := t.cfg.TierFor(pos.LeadHunterScore)
	if !ok {
		return
	}
	amount, skip := addPlan(pos, tier)
	if skip {
		return
	}

	result, err := t.swapExec.Swap(ctx, wsolMint, mint, amount, t.defaultSlippageBps(), false, pos.Decimals)
	if err != nil {
		t.logger.Warn("add swap failed", zap.String("mint", mint), zap.Error(err))
		return
	}

	newTokens := result.OutAmount / pow10(pos.Decimals)
	newTotal := pos.TotalTokens + newTokens
	if newTotal > 0 {
		pos.AveragePrice = (pos.TotalTokens*pos.AveragePrice + amount) / newTotal
	}
	pos.TotalTokens = newTotal
	pos.TotalCostSOL += amount
	now := time.Now().Unix()
	pos.TradeRecords = append(pos.TradeRecords, TradeRecord{Timestamp: now, Type: "buy", SolSpent: amount, TokenAmount: newTokens})

	share := pos.Shares[hunterAddr]
	share.TokenAmount += newTokens
	pos.Shares[hunterAddr] = share

	t.events.PositionAdded(mint, hunterAddr, amount)
	t.persist()
}

// followSell implements spec.md §4.8's FOLLOW_SELL trigger.
func (t *Trader) followSell(ctx context.Context, mint, hunterAddr string, ratio, price float64) {
	pos, ok := t.getPosition(mint)
	if !ok {
		return
	}
	share, isHolder := pos.Shares[hunterAddr]
	if !isHolder {
		return
	}

	sellAmount, skip := followSellPlan(share, ratio, t.cfg.Policy.FollowSellThreshold, t.cfg.Policy.MinSellRatio, price, t.cfg.Policy.MinShareValueSOL)
	if skip {
		return
	}

	if chainBalance, err := t.fetchOwnerBalance(ctx, mint, pos.Decimals); err == nil {
		clamped, scale, corrected := reconcileClamp(sellAmount, pos.TotalTokens, chainBalance)
		if corrected {
			t.logger.Warn("trader book exceeds chain balance, scaling down",
				zap.String("mint", mint), zap.Float64("book", pos.TotalTokens), zap.Float64("chain", chainBalance))
			pos.Shares = scaleShares(pos.Shares, scale)
			pos.TotalTokens = chainBalance
			share = pos.Shares[hunterAddr]
			sellAmount = clamped
		}
	}

	result, err := t.swapExec.SellWithRetry(ctx, mint, t.ownerAddr, sellAmount, pos.Decimals, t.cfg.Slippage.ScheduleBps)
	if err != nil {
		t.logger.Warn("follow-sell failed", zap.String("mint", mint), zap.String("hunter", hunterAddr), zap.Error(err))
		return
	}

	pnl := result.OutAmount - sellAmount*pos.AveragePrice
	now := time.Now().Unix()
	pos.TradeRecords = append(pos.TradeRecords, TradeRecord{Timestamp: now, Type: "sell", SolReceived: result.OutAmount, TokenAmount: sellAmount, PnLSOL: pnl, HasPnL: true})

	share.TokenAmount -= sellAmount
	pos.TotalTokens -= sellAmount
	remainingValue := share.TokenAmount * price
	if share.TokenAmount <= 0 || remainingValue < t.cfg.Policy.MinShareValueSOL {
		delete(pos.Shares, hunterAddr)
	} else {
		pos.Shares[hunterAddr] = share
	}

	t.events.FollowSellHit(mint, hunterAddr, ratio)

	if pos.TotalTokens <= 0 {
		t.closePosition(mint, pos, "follow_sell")
		return
	}
	t.persist()
}

// RunPnLLoop ticks PNL_CHECK over every open position every
// PnLCheck interval, per spec.md §5 task 7.
func (t *Trader) RunPnLLoop(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.Intervals.PnLCheck)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, mint := range t.openMints() {
				t.pnlCheck(ctx, mint)
			}
		}
	}
}

func (t *Trader) openMints() []string {
	t.positionsMu.RLock()
	defer t.positionsMu.RUnlock()
	mints := make([]string, 0, len(t.positions))
	for mint := range t.positions {
		mints = append(mints, mint)
	}
	return mints
}

// pnlCheck implements spec.md §4.8's PNL_CHECK trigger.
func (t *Trader) pnlCheck(ctx context.Context, mint string) {
	lock := t.mintLock(mint)
	lock.Lock()
	defer lock.Unlock()

	pos, ok := t.getPosition(mint)
	if !ok {
		return
	}

	price, err := t.priceSOL(ctx, mint)
	if err != nil || pos.AveragePrice <= 0 {
		return
	}
	pnlPct := (price - pos.AveragePrice) / pos.AveragePrice

	if pnlPct > 2.0 {
		if impliedPnL, err := t.impliedSellPnL(ctx, pos); err == nil {
			pnlPct = crossValidatedPnL(pnlPct, impliedPnL)
		}
	}

	tier, ok := t.cfg.TierFor(pos.LeadHunterScore)
	if ok && stopLossShouldFire(pnlPct, tier.StopLossPct/100) {
		if t.stopLossInsured(ctx, mint, pos, tier.StopLossPct/100) {
			return
		}
		t.stopLoss(ctx, mint, pos, pnlPct)
		return
	}

	due := tpLevelsToFire(pos, pnlPct, t.cfg.TakeProfit)
	for _, level := range due {
		if !t.takeProfit(ctx, mint, pos, level, price) {
			break
		}
		if pos.TotalTokens <= 0 {
			return
		}
	}
	t.persist()
}

func (t *Trader) stopLossInsured(ctx context.Context, mint string, pos *Position, stopLossPct float64) bool {
	quote, err := t.oracle.SecondOpinion(ctx, mint, t.cfg.Policy.USDCPerSOLDefault)
	if err != nil || quote.PriceSOL <= 0 || pos.AveragePrice <= 0 {
		return false
	}
	secondPnL := (quote.PriceSOL - pos.AveragePrice) / pos.AveragePrice
	return stopLossRescued(secondPnL, stopLossPct)
}

func (t *Trader) stopLoss(ctx context.Context, mint string, pos *Position, pnlPct float64) {
	chainBalance, err := t.fetchOwnerBalance(ctx, mint, pos.Decimals)
	if err != nil || chainBalance <= 0 {
		chainBalance = pos.TotalTokens * t.cfg.Policy.SellBuffer
	}
	result, err := t.swapExec.SellWithRetry(ctx, mint, t.ownerAddr, chainBalance, pos.Decimals, t.cfg.Slippage.ScheduleBps)
	if err != nil {
		t.logger.Error("stop-loss sell failed", zap.String("mint", mint), zap.Error(err))
		return
	}
	now := time.Now().Unix()
	pos.TradeRecords = append(pos.TradeRecords, TradeRecord{
		Timestamp: now, Type: "sell", SolReceived: result.OutAmount, TokenAmount: chainBalance,
		PnLSOL: result.OutAmount - chainBalance*pos.AveragePrice, HasPnL: true, Note: "stop_loss",
	})
	pos.TotalTokens = 0
	t.events.StopLossTriggered(mint, pnlPct)
	t.closePosition(mint, pos, "stop_loss")
}

// takeProfit fires one ladder rung. Returns false if the sell failed
// (the caller should stop iterating further rungs this pass).
func (t *Trader) takeProfit(ctx context.Context, mint string, pos *Position, level config.TPLevel, price float64) bool {
	sellAmount, _ := tpSellAmount(pos.TotalTokens, level, price, t.cfg.Policy.MinShareValueSOL)
	if sellAmount <= 0 {
		return true
	}

	result, err := t.swapExec.SellWithRetry(ctx, mint, t.ownerAddr, sellAmount, pos.Decimals, t.cfg.Slippage.ScheduleBps)
	if err != nil {
		t.logger.Warn("take-profit sell failed", zap.String("mint", mint), zap.Float64("level", level.PnLThreshold), zap.Error(err))
		return false
	}

	actualPct := sellAmount / pos.TotalTokens
	now := time.Now().Unix()
	pos.TradeRecords = append(pos.TradeRecords, TradeRecord{
		Timestamp: now, Type: "sell", SolReceived: result.OutAmount, TokenAmount: sellAmount,
		PnLSOL: result.OutAmount - sellAmount*pos.AveragePrice, HasPnL: true,
	})
	pos.markFiredTP(level.PnLThreshold)
	pos.Shares = scaleShares(pos.Shares, 1-actualPct)
	pos.TotalTokens -= sellAmount

	t.events.TakeProfitHit(mint, level.PnLThreshold, level.SellFraction)
	if pos.TotalTokens <= 0 {
		t.closePosition(mint, pos, "take_profit")
	}
	return true
}

// EvictHunter implements spec.md §3's and §4.5's eviction callback:
// any position this hunter holds a share of is force-closed, using
// on-chain balance as source of truth.
func (t *Trader) EvictHunter(ctx context.Context, hunterAddr string) {
	for _, mint := range t.mintsHeldBy(hunterAddr) {
		lock := t.mintLock(mint)
		lock.Lock()
		pos, ok := t.getPosition(mint)
		if ok {
			t.closeOnChain(ctx, mint, pos, "hunter_evicted")
		}
		lock.Unlock()
	}
	t.events.HunterEvicted(hunterAddr)
}

func (t *Trader) mintsHeldBy(hunterAddr string) []string {
	t.positionsMu.RLock()
	defer t.positionsMu.RUnlock()
	var mints []string
	for mint, pos := range t.positions {
		if _, ok := pos.Shares[hunterAddr]; ok {
			mints = append(mints, mint)
		}
	}
	return mints
}

// EmergencyCloseAll implements spec.md §4.8's EMERGENCY_CLOSE_ALL
// trigger, fired from Monitor's credit-exhausted callback.
func (t *Trader) EmergencyCloseAll(ctx context.Context) {
	t.logger.Error("emergency close-all triggered (credit exhausted)")
	t.events.CreditExhausted()
	for _, mint := range t.openMints() {
		lock := t.mintLock(mint)
		lock.Lock()
		pos, ok := t.getPosition(mint)
		if ok {
			t.closeOnChain(ctx, mint, pos, "emergency (credit exhausted)")
		}
		lock.Unlock()
	}
}

func (t *Trader) closeOnChain(ctx context.Context, mint string, pos *Position, note string) {
	amount, err := t.fetchOwnerBalance(ctx, mint, pos.Decimals)
	if err != nil || amount <= 0 {
		amount = pos.TotalTokens * t.cfg.Policy.SellBuffer
	}
	if amount <= 0 {
		t.closePosition(mint, pos, note)
		return
	}
	result, err := t.swapExec.SellWithRetry(ctx, mint, t.ownerAddr, amount, pos.Decimals, t.cfg.Slippage.ScheduleBps)
	if err != nil {
		t.logger.Error("emergency sell failed", zap.String("mint", mint), zap.Error(err))
		return
	}
	now := time.Now().Unix()
	pos.TradeRecords = append(pos.TradeRecords, TradeRecord{
		Timestamp: now, Type: "sell", SolReceived: result.OutAmount, TokenAmount: amount, Note: note,
	})
	pos.TotalTokens = 0
	t.closePosition(mint, pos, note)
}

// closePosition implements spec.md §4.8's closure event: emitted
// exactly once before the Position is removed.
func (t *Trader) closePosition(mint string, pos *Position, note string) {
	pos.TotalTokens = 0
	t.deletePosition(mint)
	t.agentCtl.StopTracking(mint)
	t.events.PositionClosed(mint, note, pos.EntryTime, len(pos.TradeRecords), closurePnL(pos.TradeRecords))
	t.persist()
}

func (t *Trader) defaultSlippageBps() int {
	if len(t.cfg.Slippage.ScheduleBps) == 0 {
		return 100
	}
	return t.cfg.Slippage.ScheduleBps[0]
}

func (t *Trader) priceSOL(ctx context.Context, mint string) (float64, error) {
	quote, err := t.oracle.Price(ctx, mint, t.cfg.Policy.USDCPerSOLDefault)
	if err != nil {
		return 0, err
	}
	return quote.PriceSOL, nil
}

// impliedSellPnL cross-validates the oracle price via a small sell
// quote in the opposite direction (mint → WSOL), per spec.md §4.8.
func (t *Trader) impliedSellPnL(ctx context.Context, pos *Position) (float64, error) {
	if pos.TotalTokens <= 0 || pos.AveragePrice <= 0 {
		return 0, coperrors.ValidationError("total_tokens", "position has no tokens to quote")
	}
	quote, err := t.swapExec.Quote(ctx, pos.Mint, wsolMint, pos.TotalTokens, pos.Decimals, true, t.defaultSlippageBps())
	if err != nil {
		return 0, err
	}
	impliedOutSOL := float64(quote.OutAmountRaw) / 1e9
	impliedPrice := impliedOutSOL / pos.TotalTokens
	return (impliedPrice - pos.AveragePrice) / pos.AveragePrice, nil
}

func (t *Trader) decimalsFor(ctx context.Context, mint string) int {
	mintPK, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 9
	}
	supply, err := t.chainClient.TokenSupply(ctx, mintPK)
	if err != nil || supply == nil || supply.Value == nil {
		return 9
	}
	return int(supply.Value.Decimals)
}

func (t *Trader) fetchOwnerBalance(ctx context.Context, mint string, decimals int) (float64, error) {
	ownerPK, err := solana.PublicKeyFromBase58(t.ownerAddr)
	if err != nil {
		return 0, err
	}
	mintPK, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, err
	}
	raw, rawDecimals, err := t.chainClient.TokenBalanceAnyProgram(ctx, ownerPK, mintPK)
	if err != nil {
		return 0, err
	}
	if rawDecimals > 0 {
		decimals = rawDecimals
	}
	return float64(raw) / pow10(decimals), nil
}

func pow10(n int) float64 {
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}
