package trader

import "github.com/algonius/hunter-copytrader/pkg/config"

// addPlan computes ADD's clamped spend, per spec.md §4.8: the add
// amount is tier.AddSOL clamped to the remaining headroom under
// tier.MaxSOL; skip if the result is below 0.01 SOL.
func addPlan(pos *Position, tier config.Tier) (amountSOL float64, skip bool) {
	headroom := tier.MaxSOL - pos.TotalCostSOL
	if headroom <= 0 {
		return 0, true
	}
	amount := tier.AddSOL
	if amount > headroom {
		amount = headroom
	}
	if amount < 0.01 {
		return 0, true
	}
	return amount, false
}

// followSellPlan computes FOLLOW_SELL's sell amount, per spec.md
// §4.8: skip below FOLLOW_SELL_THRESHOLD, floor the ratio at
// MIN_SELL_RATIO, promote to a full liquidation when the remaining
// share value would be dust.
func followSellPlan(share VirtualShare, ratio, followSellThreshold, minSellRatio, price, minShareValueSOL float64) (sellAmount float64, skip bool) {
	if ratio < followSellThreshold {
		return 0, true
	}
	effective := ratio
	if effective < minSellRatio {
		effective = minSellRatio
	}
	sellAmount = share.TokenAmount * effective
	remaining := share.TokenAmount - sellAmount
	if remaining*price < minShareValueSOL {
		sellAmount = share.TokenAmount
	}
	return sellAmount, false
}

// reconcileClamp implements spec.md §7's data-inconsistency rule: if
// the chain balance is below the internal total_tokens book by more
// than 1%, the sell amount is clamped to the chain balance and every
// other share is scaled down proportionally to keep the sum
// invariant. scale==1 means no correction was necessary.
func reconcileClamp(sellAmount, totalTokens, chainBalance float64) (clampedSellAmount, scale float64, corrected bool) {
	if totalTokens <= 0 || chainBalance >= totalTokens*0.99 {
		return sellAmount, 1, false
	}
	scale = chainBalance / totalTokens
	clamped := sellAmount
	if clamped > chainBalance {
		clamped = chainBalance
	}
	return clamped, scale, true
}

// crossValidatedPnL implements spec.md §4.8's PNL_CHECK oracle-spike
// mitigation: above 2.0 pnl, a sell-quote-implied pnl under 0.5
// replaces the oracle-derived figure used for downstream decisions.
func crossValidatedPnL(oraclePnL, impliedPnL float64) float64 {
	if oraclePnL > 2.0 && impliedPnL < 0.5 {
		return impliedPnL
	}
	return oraclePnL
}

// stopLossShouldFire reports whether pnlPct breaches -stopLossPct.
func stopLossShouldFire(pnlPct, stopLossPct float64) bool {
	return pnlPct <= -stopLossPct
}

// stopLossRescued implements the second-oracle insurance check: a
// strictly shallower loss on the cross-check source cancels the
// stop-loss (guards against a single-oracle flash dip).
func stopLossRescued(secondOpinionPnLPct, stopLossPct float64) bool {
	return secondOpinionPnLPct > -stopLossPct
}

// tpLevelsToFire returns, in ladder order, the take-profit rungs that
// are unfired and whose threshold is met by pnlPct.
func tpLevelsToFire(pos *Position, pnlPct float64, ladder []config.TPLevel) []config.TPLevel {
	var due []config.TPLevel
	for _, lvl := range ladder {
		if pos.hasFiredTP(lvl.PnLThreshold) {
			continue
		}
		if pnlPct >= lvl.PnLThreshold {
			due = append(due, lvl)
		}
	}
	return due
}

// tpSellAmount computes one rung's sell amount against the position's
// *current* total_tokens (already reduced by any earlier rung fired
// in the same pass), promoting to a full sell when the remainder
// would be dust.
func tpSellAmount(totalTokens float64, level config.TPLevel, price, minShareValueSOL float64) (sellAmount float64, fullSell bool) {
	sellAmount = totalTokens * level.SellFraction
	remaining := totalTokens - sellAmount
	if remaining*price < minShareValueSOL {
		return totalTokens, true
	}
	return sellAmount, false
}
