package discovery

import "github.com/algonius/hunter-copytrader/pkg/hunter"

// scoring ceiling constants named but left unconfigured in spec.md §4.5
// ("a configured ceiling"); fixed here at conservative defaults.
const (
	avgROICeilingPct  = 500.0 // P reaches 1.0 at +500% avg ROI
	pnlRatioCeiling   = 5.0   // R reaches 1.0 at pnl_ratio=5
	modeBDustRatioCap = 0.5
)

// meetsEntryCriteria applies spec.md §4.5's mode-specific entry
// requirements on top of the mode-agnostic audit tail.
func (d *Discoverer) meetsEntryCriteria(source string, m Metrics) bool {
	if m.PnLRatio < d.knobs.MinPnLRatio {
		return false
	}
	if m.WinRate < d.knobs.MinWinRate {
		return false
	}
	if m.TradeCount < d.knobs.MinTradeCount {
		return false
	}
	if m.TotalProfit <= 0 {
		return false
	}
	if m.MaxROI30d/100 < d.knobs.TierThreeROI {
		return false
	}

	if source == "mode_b" {
		if m.DustCount >= d.knobs.ModeBDustThreshold {
			return false
		}
		if m.AvgHoldSec <= d.knobs.ModeBAvgHoldThreshold.Seconds() {
			return false
		}
	}
	return true
}

// scoreModeA implements the profit-centric formula of spec.md §4.5:
// score = 30*H + 40*P + 30*R, multiplied by an ROI-bucket factor.
func scoreModeA(m Metrics) (int, hunter.ScoreDetail) {
	h := winRateComponent(m.WinRate)
	p := clamp01(m.AvgROIPct / avgROICeilingPct)
	r := pnlRatioComponent(m.PnLRatio)

	base := 30*h + 40*p + 30*r
	bucket := roiBucket(m.MaxROI30d)

	score := base * bucket
	detail := hunter.ScoreDetail{
		ProfitDim:       40 * p,
		PersistDim:      30 * h,
		AuthenticityDim: 30 * r,
	}
	return clampScore(score), detail
}

func winRateComponent(winRate float64) float64 {
	if winRate <= 0.20 {
		return 0
	}
	if winRate >= 0.60 {
		return 1.0
	}
	return (winRate - 0.20) / 0.40
}

func pnlRatioComponent(pnlRatio float64) float64 {
	if pnlRatio < 1 {
		return 0
	}
	if pnlRatio >= pnlRatioCeiling || pnlRatio >= 1e8 {
		return 1.0
	}
	return (pnlRatio - 1) / (pnlRatioCeiling - 1)
}

func roiBucket(maxROI30dPct float64) float64 {
	switch {
	case maxROI30dPct >= 200:
		return 1.0
	case maxROI30dPct >= 100:
		return 0.9
	case maxROI30dPct >= 50:
		return 0.75
	default:
		return 0.5
	}
}

// scoreModeB implements the three-axis formula of spec.md §4.5.
func scoreModeB(m Metrics) (int, hunter.ScoreDetail) {
	profit := profitDim(m)
	persist := persistDim(m)
	authenticity := authenticityDim(m)

	score := profit + persist + authenticity
	detail := hunter.ScoreDetail{
		ProfitDim:       profit,
		PersistDim:      persist,
		AuthenticityDim: authenticity,
	}
	return clampScore(score), detail
}

func profitDim(m Metrics) float64 {
	v := minF(25, 12.5*m.PnLRatio) + minF(10, m.AvgROIPct/5) + minF(10, m.MaxROI30d/10)
	if m.AnyLossOver99Pct {
		v -= 10
	}
	return maxF(0, v)
}

func persistDim(m Metrics) float64 {
	var wrComponent float64
	wrPct := m.WinRate * 100
	switch {
	case wrPct < 40:
		wrComponent = 10 * wrPct / 40
	case wrPct < 80:
		wrComponent = 10 + 20*(wrPct-40)/40
	default:
		wrComponent = 30
	}

	activity := 0.0
	if m.TxPerDay >= 1 {
		activity = 5
	}

	dustRatio := 0.0
	if m.TradeCount > 0 {
		dustRatio = float64(m.DustCount) / float64(m.TradeCount)
	}
	var dustPenalty float64
	switch {
	case dustRatio < 0.10:
		dustPenalty = 0
	case dustRatio < 0.50:
		dustPenalty = 5 + 15*(dustRatio-0.10)/0.40
	default:
		dustPenalty = 20
	}

	return maxF(0, wrComponent+activity-dustPenalty)
}

func authenticityDim(m Metrics) float64 {
	holdTime := 0.0
	if m.AvgHoldSec <= 86400 {
		holdTime = 5
	}

	holdRatio := 0.0
	if m.LossAvgHold > 0 {
		switch {
		case m.ProfitableAvgHold > 2*m.LossAvgHold:
			holdRatio = 10
		case m.ProfitableAvgHold > m.LossAvgHold:
			holdRatio = 5
		}
	}

	closedPct := m.ClosedRatio * 100
	var closedComponent float64
	switch {
	case closedPct > 90:
		closedComponent = 5
	case closedPct > 70:
		closedComponent = 3
	case closedPct > 50:
		closedComponent = 1
	default:
		closedComponent = 0
	}

	return holdTime + holdRatio + closedComponent
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampScore(v float64) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(v)
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
