// Package hunter implements the Hunter/HunterPool/HunterStore of
// SPEC_FULL.md §3 and §4.5: the durable record of wallets under
// surveillance, bounded by score, with zombie eviction.
package hunter

import (
	"sort"
	"sync"
	"time"
)

const (
	// ZombieThreshold is the idle window after which a hunter is swept
	// from the pool unless it was recently admitted.
	ZombieThreshold = 15 * 24 * time.Hour

	// minAgeBeforeZombieSweep protects brand-new hunters from being
	// swept before they have had a chance to show activity.
	minAgeBeforeZombieSweep = 2 * 24 * time.Hour
)

// ScoreDetail carries the dimensional subscores behind the aggregate
// score, kept numeric (never pre-formatted strings) per the design note
// in spec.md §9.
type ScoreDetail struct {
	ProfitDim      float64 `json:"profit_dim"`
	PersistDim     float64 `json:"persist_dim"`
	AuthenticityDim float64 `json:"authenticity_dim"`
}

// Hunter is a wallet admitted into the monitored pool.
type Hunter struct {
	Address     string      `json:"address"`
	Score       int         `json:"score"`
	ScoreDetail ScoreDetail `json:"score_detail"`

	WinRate     float64 `json:"win_rate"`
	PnLRatio    float64 `json:"pnl_ratio"`
	TotalProfit float64 `json:"total_profit_sol"`
	AvgROIPct   float64 `json:"avg_roi_pct"`
	MaxROI30d   float64 `json:"max_roi_30d"`
	TradeCount  int     `json:"trade_count"`

	LastActive int64  `json:"last_active"`
	LastAudit  int64  `json:"last_audit"`
	CreatedAt  int64  `json:"created_at"`
	Source     string `json:"source"` // "mode_a" or "mode_b"
}

// IsZombie reports whether h should be swept by the Maintenance loop at
// reference time now: idle beyond ZombieThreshold, and old enough that
// the idle window isn't just "brand new, no activity yet".
func (h *Hunter) IsZombie(now time.Time) bool {
	created := time.Unix(h.CreatedAt, 0)
	if now.Sub(created) < minAgeBeforeZombieSweep {
		return false
	}
	lastActive := time.Unix(h.LastActive, 0)
	return now.Sub(lastActive) >= ZombieThreshold
}

// Pool is a bounded, score-ordered set of hunters. A hunter is either in
// the pool or in the trash set, never both (callers enforce that by
// routing all inserts/evictions through Pool and Store together).
type Pool struct {
	mu    sync.RWMutex
	limit int
	byKey map[string]*Hunter
}

// NewPool creates an empty pool bounded at limit entries.
func NewPool(limit int) *Pool {
	return &Pool{limit: limit, byKey: make(map[string]*Hunter)}
}

// Get returns the hunter at address, if present.
func (p *Pool) Get(address string) (*Hunter, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.byKey[address]
	return h, ok
}

// Len returns the current pool size.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byKey)
}

// Addresses returns a snapshot of every address currently in the pool.
func (p *Pool) Addresses() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.byKey))
	for addr := range p.byKey {
		out = append(out, addr)
	}
	return out
}

// Snapshot returns a copy of every hunter currently in the pool.
func (p *Pool) Snapshot() []Hunter {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Hunter, 0, len(p.byKey))
	for _, h := range p.byKey {
		out = append(out, *h)
	}
	return out
}

// Insert admits a candidate hunter, evicting the lowest-scored existing
// entry if the pool is at capacity and the candidate strictly beats it.
// Ties keep the incumbent. Duplicate inserts in the same batch keep the
// higher score. Returns whether the candidate was admitted.
func (p *Pool) Insert(candidate Hunter) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.byKey[candidate.Address]; ok {
		if candidate.Score > existing.Score {
			*existing = candidate
		}
		return true
	}

	if len(p.byKey) < p.limit {
		c := candidate
		p.byKey[candidate.Address] = &c
		return true
	}

	lowestAddr, lowest := p.lowestScoredLocked()
	if lowest == nil || candidate.Score <= lowest.Score {
		return false
	}
	delete(p.byKey, lowestAddr)
	c := candidate
	p.byKey[candidate.Address] = &c
	return true
}

// Remove evicts address from the pool, returning the removed hunter.
func (p *Pool) Remove(address string) (*Hunter, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.byKey[address]
	if ok {
		delete(p.byKey, address)
	}
	return h, ok
}

// UpdateLastActive bumps a hunter's last-active timestamp; a no-op if
// the hunter is not in the pool (e.g. raced with an eviction).
func (p *Pool) UpdateLastActive(address string, ts int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.byKey[address]; ok {
		h.LastActive = ts
	}
}

// SweepZombies removes every hunter whose IsZombie(now) is true,
// returning the evicted addresses for the caller to add to the trash set.
func (p *Pool) SweepZombies(now time.Time) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var evicted []string
	for addr, h := range p.byKey {
		if h.IsZombie(now) {
			evicted = append(evicted, addr)
			delete(p.byKey, addr)
		}
	}
	return evicted
}

// MinScore returns the current lowest score in the pool, used in tests
// to verify that eviction at capacity never lowers the minimum pool
// score (the lowest hunter is replaced only by a strictly higher one).
func (p *Pool) MinScore() (int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, lowest := p.lowestScoredLocked()
	if lowest == nil {
		return 0, false
	}
	return lowest.Score, true
}

func (p *Pool) lowestScoredLocked() (string, *Hunter) {
	var lowestAddr string
	var lowest *Hunter
	addrs := make([]string, 0, len(p.byKey))
	for addr := range p.byKey {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs) // deterministic tie-break
	for _, addr := range addrs {
		h := p.byKey[addr]
		if lowest == nil || h.Score < lowest.Score {
			lowest = h
			lowestAddr = addr
		}
	}
	return lowestAddr, lowest
}
