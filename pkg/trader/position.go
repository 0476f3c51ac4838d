// Package trader implements Trader of SPEC_FULL.md §4.8: the position
// FSM. ENTRY/ADD/FOLLOW_SELL/PNL_CHECK/EMERGENCY_CLOSE_ALL triggers
// mutate a map of mint → Position, serialized per-mint, with every
// mutating transition persisted through a background-writer store.
//
// Following the design note in spec.md §9 ("the FSM transitions are
// functions (Position, Trigger) → (Position, Vec<Effect>) to enable
// unit testing"), the sizing/share/threshold decisions below are pure
// functions taking only already-fetched values; the Trader type wraps
// them with the actual swap/oracle/risk-gate I/O.
package trader

// VirtualShare is one hunter's bookkeeping slice of a Position.
type VirtualShare struct {
	Score       int     `json:"score"`
	TokenAmount float64 `json:"token_amount"`
}

// TradeRecord is one append-only leg of a Position's trade history.
type TradeRecord struct {
	Timestamp   int64   `json:"ts"`
	Type        string  `json:"type"` // "buy" or "sell"
	SolSpent    float64 `json:"sol_spent,omitempty"`
	SolReceived float64 `json:"sol_received,omitempty"`
	TokenAmount float64 `json:"token_amount"`
	Note        string  `json:"note,omitempty"`
	PnLSOL      float64 `json:"pnl_sol,omitempty"`
	HasPnL      bool    `json:"has_pnl,omitempty"`
}

// Position is the full bookkeeping state for one mint, identity =
// mint. See spec.md §3 for the invariants this type must uphold:
// total_tokens ≥ 0, sum(shares.token_amount) ≈ total_tokens after
// every rebalance, and a tp level once fired is never revisited.
type Position struct {
	Mint            string                  `json:"mint"`
	AveragePrice    float64                 `json:"average_price"`
	Decimals        int                     `json:"decimals"`
	TotalTokens     float64                 `json:"total_tokens"`
	TotalCostSOL    float64                 `json:"total_cost_sol"`
	LeadHunter      string                  `json:"lead_hunter"`
	LeadHunterScore int                     `json:"lead_hunter_score"`
	TPHitLevels     []float64               `json:"tp_hit_levels"`
	EntryTime       int64                   `json:"entry_time"`
	TradeRecords    []TradeRecord           `json:"trade_records"`
	Shares          map[string]VirtualShare `json:"shares"`
}

// hasFiredTP reports whether threshold is already in TPHitLevels.
func (p *Position) hasFiredTP(threshold float64) bool {
	for _, t := range p.TPHitLevels {
		if t == threshold {
			return true
		}
	}
	return false
}

func (p *Position) markFiredTP(threshold float64) {
	p.TPHitLevels = append(p.TPHitLevels, threshold)
}

// clone deep-copies a Position for safe handoff to the persistence
// layer and to event snapshots outside the mint lock.
func (p *Position) clone() *Position {
	cp := *p
	cp.TPHitLevels = append([]float64(nil), p.TPHitLevels...)
	cp.TradeRecords = append([]TradeRecord(nil), p.TradeRecords...)
	cp.Shares = make(map[string]VirtualShare, len(p.Shares))
	for h, s := range p.Shares {
		cp.Shares[h] = s
	}
	return &cp
}

// rebalanceShares applies spec.md §4.8's share rebalance rule: one
// hunter keeps the full amount, two split proportional to score
// (falling back to an even split when both scores are zero, per the
// "total_score=1" branch spec.md's open question resolves this way),
// three or more split the top three evenly. totalTokens is the
// position's current total_tokens, the amount being distributed.
func rebalanceShares(holders map[string]int, totalTokens float64) map[string]VirtualShare {
	out := make(map[string]VirtualShare, len(holders))
	switch len(holders) {
	case 0:
		return out
	case 1:
		for h, score := range holders {
			out[h] = VirtualShare{Score: score, TokenAmount: totalTokens}
		}
	case 2:
		var total int
		for _, score := range holders {
			total += score
		}
		if total == 0 {
			total = 1
			for h := range holders {
				out[h] = VirtualShare{Score: holders[h], TokenAmount: totalTokens / 2}
			}
			return out
		}
		for h, score := range holders {
			out[h] = VirtualShare{Score: score, TokenAmount: totalTokens * float64(score) / float64(total)}
		}
	default:
		top := topThree(holders)
		even := totalTokens / float64(len(top))
		for _, h := range top {
			out[h] = VirtualShare{Score: holders[h], TokenAmount: even}
		}
	}
	return out
}

// topThree returns up to three hunter addresses ranked by score
// descending; ties broken by address for determinism.
func topThree(holders map[string]int) []string {
	addrs := make([]string, 0, len(holders))
	for h := range holders {
		addrs = append(addrs, h)
	}
	for i := 1; i < len(addrs); i++ {
		for j := i; j > 0; j-- {
			a, b := addrs[j-1], addrs[j]
			if holders[a] < holders[b] || (holders[a] == holders[b] && a > b) {
				addrs[j-1], addrs[j] = addrs[j], addrs[j-1]
			} else {
				break
			}
		}
	}
	if len(addrs) > 3 {
		addrs = addrs[:3]
	}
	return addrs
}

// scaleShares multiplies every share's token amount by factor, used
// after a partial sell (TP rung, FOLLOW_SELL reconciliation clamp).
func scaleShares(shares map[string]VirtualShare, factor float64) map[string]VirtualShare {
	out := make(map[string]VirtualShare, len(shares))
	for h, s := range shares {
		out[h] = VirtualShare{Score: s.Score, TokenAmount: s.TokenAmount * factor}
	}
	return out
}

// closurePnL computes total_pnl_sol = Σ sold − Σ spent over a
// Position's full trade history, per spec.md §4.8's closure event.
func closurePnL(records []TradeRecord) float64 {
	var pnl float64
	for _, r := range records {
		pnl += r.SolReceived - r.SolSpent
	}
	return pnl
}
