package signal

import (
	"fmt"
	"math"
	"strconv"

	"perpflow/internal/metrics"
	"perpflow/internal/model"
)

const (
	historyCap   = 60 // ~30s of imbalance samples at book cadence
	metricDepth  = 20
	pressureTop  = 30
	decayRate    = 0.1
	whaleWallUSD = 100000
)

// Component weights for the final score.
var weights = Components{
	Imbalance:        0.25,
	WeightedPressure: 0.20,
	Walls:            0.15,
	Spread:           0.10,
	Flow:             0.20,
	Momentum:         0.10,
}

// Engine scores one instrument's order flow. It is stateful: the imbalance
// history feeds momentum and the cumulative delta survives across book
// updates. Not safe for concurrent use; each watcher owns one engine.
type Engine struct {
	symbol string

	history  []float64
	cumDelta float64
}

func NewEngine(symbol string) *Engine {
	return &Engine{symbol: symbol}
}

// CumulativeDelta is the running buy minus sell quote volume observed via
// Analyze's trade flow input.
func (e *Engine) CumulativeDelta() float64 { return e.cumDelta }

// Analyze scores the book and recent trade flow. An empty side yields a
// NEUTRAL result with zero confidence.
func (e *Engine) Analyze(bids, asks []model.PriceLevel, trades []model.FlowTrade) *Result {
	res := &Result{
		Signal:  Neutral,
		Reasons: []string{},
		Metrics: Metrics{ImbalanceRatio: 1.0},
		LiquidityZones: ZoneSet{
			Support:    []Zone{},
			Resistance: []Zone{},
		},
	}
	if len(bids) == 0 || len(asks) == 0 {
		res.Reasons = append(res.Reasons, "Insufficient data")
		metrics.Signals.WithLabelValues(res.Signal).Inc()
		return res
	}

	mid := (bids[0].Price + asks[0].Price) / 2

	imbScore, bidVol, askVol, ratio := calcImbalance(bids, asks)
	res.Components.Imbalance = imbScore
	res.Metrics.BidVolume = round(bidVol, 0)
	res.Metrics.AskVolume = round(askVol, 0)
	res.Metrics.ImbalanceRatio = round(ratio, 3)

	res.Components.WeightedPressure = calcWeightedPressure(bids, asks, mid)

	wallScore, largestBid, largestAsk := calcWallScore(bids, asks, bidVol, askVol)
	res.Components.Walls = wallScore
	res.Metrics.LargestBidUSD = round(largestBid, 0)
	res.Metrics.LargestAskUSD = round(largestAsk, 0)

	spreadScore, spreadBps := calcSpreadScore(bids, asks)
	res.Components.Spread = spreadScore
	res.Metrics.SpreadBps = round(spreadBps, 2)

	if len(trades) > 0 {
		res.Components.Flow = e.calcFlow(trades)
	}

	// Momentum sees the current sample: append first, then score.
	e.push(ratio)
	res.Components.Momentum = e.calcMomentum()

	score := res.Components.Imbalance*weights.Imbalance +
		res.Components.WeightedPressure*weights.WeightedPressure +
		res.Components.Walls*weights.Walls +
		res.Components.Spread*weights.Spread +
		res.Components.Flow*weights.Flow +
		res.Components.Momentum*weights.Momentum

	res.Signal, res.Confidence = scoreToSignal(score)
	res.Score = round(score, 1)
	res.Metrics.MidPrice = mid

	support, resistance := findLiquidityZones(bids, asks, mid)
	res.Suggestions.Scalp, res.Suggestions.Reversal = e.suggest(res, mid, support, resistance)
	res.LiquidityZones.Support = capZones(support)
	res.LiquidityZones.Resistance = capZones(resistance)

	res.Reasons = buildReasons(res)
	roundComponents(&res.Components)

	metrics.Signals.WithLabelValues(res.Signal).Inc()
	return res
}

// calcImbalance compares quote volume on the top levels of each side.
// Ratio 1.0 scores 0; 2.0 scores +50; 0.5 scores -50.
func calcImbalance(bids, asks []model.PriceLevel) (score, bidVol, askVol, ratio float64) {
	bidVol = sideVolume(bids, metricDepth)
	askVol = sideVolume(asks, metricDepth)

	switch {
	case askVol == 0:
		ratio = 2.0
	case bidVol == 0:
		ratio = 0.5
	default:
		ratio = bidVol / askVol
	}

	if ratio >= 1 {
		score = math.Min(100, (ratio-1)*50)
	} else {
		score = math.Max(-100, (ratio-1)*100)
	}
	return score, bidVol, askVol, ratio
}

func sideVolume(levels []model.PriceLevel, depth int) float64 {
	if len(levels) > depth {
		levels = levels[:depth]
	}
	var total float64
	for _, lvl := range levels {
		total += lvl.ValueQuote()
	}
	return total
}

// calcWeightedPressure weights each level by exponential decay in its
// distance from mid, so near orders dominate.
func calcWeightedPressure(bids, asks []model.PriceLevel, mid float64) float64 {
	var bidPressure, askPressure float64

	for i, bid := range bids {
		if i >= pressureTop {
			break
		}
		distPct := (mid - bid.Price) / mid
		bidPressure += bid.ValueQuote() * math.Exp(-decayRate*distPct*100)
	}
	for i, ask := range asks {
		if i >= pressureTop {
			break
		}
		distPct := (ask.Price - mid) / mid
		askPressure += ask.ValueQuote() * math.Exp(-decayRate*distPct*100)
	}

	total := bidPressure + askPressure
	if total == 0 {
		return 0
	}
	return (bidPressure - askPressure) / total * 100
}

// calcWallScore scores the largest resting order per side. A wall above 15%
// of its side's visible liquidity counts proportionally (capped at 50), and
// a wall above $100k adds a flat 20 either way.
func calcWallScore(bids, asks []model.PriceLevel, totalBid, totalAsk float64) (score, largestBid, largestAsk float64) {
	largestBid = largestValue(bids, metricDepth)
	largestAsk = largestValue(asks, metricDepth)

	var bidWallPct, askWallPct float64
	if totalBid > 0 {
		bidWallPct = largestBid / totalBid * 100
	}
	if totalAsk > 0 {
		askWallPct = largestAsk / totalAsk * 100
	}

	if bidWallPct > 15 {
		score += math.Min(50, bidWallPct)
	}
	if askWallPct > 15 {
		score -= math.Min(50, askWallPct)
	}
	if largestBid > whaleWallUSD {
		score += 20
	}
	if largestAsk > whaleWallUSD {
		score -= 20
	}
	return clamp(score), largestBid, largestAsk
}

func largestValue(levels []model.PriceLevel, depth int) float64 {
	if len(levels) > depth {
		levels = levels[:depth]
	}
	var largest float64
	for _, lvl := range levels {
		if v := lvl.ValueQuote(); v > largest {
			largest = v
		}
	}
	return largest
}

// calcSpreadScore nudges the score for liquidity quality: tight spread
// (<5 bps) +10, wide spread (>50 bps) -10, neutral otherwise.
func calcSpreadScore(bids, asks []model.PriceLevel) (score, spreadBps float64) {
	spread := asks[0].Price - bids[0].Price
	mid := (asks[0].Price + bids[0].Price) / 2
	spreadBps = spread / mid * 10000

	switch {
	case spreadBps < 5:
		score = 10
	case spreadBps > 50:
		score = -10
	}
	return score, spreadBps
}

// calcFlow scores the recent taker flow and accumulates the running delta.
func (e *Engine) calcFlow(trades []model.FlowTrade) float64 {
	var buyVol, sellVol float64
	for _, t := range trades {
		if t.Side == model.Buy {
			buyVol += t.ValueQuote
		} else {
			sellVol += t.ValueQuote
		}
	}

	total := buyVol + sellVol
	if total == 0 {
		return 0
	}
	delta := buyVol - sellVol
	e.cumDelta += delta
	return delta / total * 100
}

func (e *Engine) push(ratio float64) {
	e.history = append(e.history, ratio)
	if len(e.history) > historyCap {
		e.history = e.history[1:]
	}
}

// calcMomentum compares the mean of the last ten imbalance samples to the
// mean of the first ten. A 10% rise in the ratio scores +30.
func (e *Engine) calcMomentum() float64 {
	if len(e.history) < 10 {
		return 0
	}

	recent := mean(e.history[len(e.history)-10:])
	older := recent
	if len(e.history) >= 20 {
		older = mean(e.history[:10])
	}
	if older == 0 {
		return 0
	}

	roc := (recent - older) / older
	return clamp(roc * 300)
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// scoreToSignal buckets the weighted score and derives confidence from its
// magnitude.
func scoreToSignal(score float64) (string, float64) {
	confidence := math.Min(100, math.Abs(score)*2)

	switch {
	case score >= 40:
		return StrongBuy, round(confidence, 1)
	case score >= 20:
		return Buy, round(confidence, 1)
	case score <= -40:
		return StrongSell, round(confidence, 1)
	case score <= -20:
		return Sell, round(confidence, 1)
	}
	return Neutral, round(confidence, 1)
}

func buildReasons(res *Result) []string {
	var reasons []string

	if r := res.Metrics.ImbalanceRatio; r > 1.3 {
		reasons = append(reasons, fmt.Sprintf("Strong bid imbalance (%.2fx more bids)", r))
	} else if r < 0.7 {
		reasons = append(reasons, fmt.Sprintf("Strong ask imbalance (%.2fx more asks)", 1/r))
	}

	if res.Metrics.LargestBidUSD > 50000 {
		reasons = append(reasons, fmt.Sprintf("Large bid wall: $%s", dollars(res.Metrics.LargestBidUSD)))
	}
	if res.Metrics.LargestAskUSD > 50000 {
		reasons = append(reasons, fmt.Sprintf("Large ask wall: $%s", dollars(res.Metrics.LargestAskUSD)))
	}

	if res.Components.Momentum > 30 {
		reasons = append(reasons, "Bullish momentum building")
	} else if res.Components.Momentum < -30 {
		reasons = append(reasons, "Bearish momentum building")
	}

	if res.Metrics.SpreadBps > 30 {
		reasons = append(reasons, fmt.Sprintf("Wide spread (%.0f bps), low liquidity", res.Metrics.SpreadBps))
	}

	if res.Components.Flow > 40 {
		reasons = append(reasons, "Heavy buy flow detected")
	} else if res.Components.Flow < -40 {
		reasons = append(reasons, "Heavy sell flow detected")
	}

	if len(reasons) == 0 {
		reasons = append(reasons, "No strong signals detected")
	}

	if s := res.LiquidityZones.Support; len(s) > 0 && s[0].IsMajor {
		reasons = append(reasons, fmt.Sprintf("Major support at $%.6f (%.1f%% below)", s[0].Price, s[0].DistancePct))
	}
	if r := res.LiquidityZones.Resistance; len(r) > 0 && r[0].IsMajor {
		reasons = append(reasons, fmt.Sprintf("Major resistance at $%.6f (%.1f%% above)", r[0].Price, r[0].DistancePct))
	}

	return reasons
}

func roundComponents(c *Components) {
	c.Imbalance = round(c.Imbalance, 1)
	c.WeightedPressure = round(c.WeightedPressure, 1)
	c.Walls = round(c.Walls, 1)
	c.Spread = round(c.Spread, 1)
	c.Flow = round(c.Flow, 1)
	c.Momentum = round(c.Momentum, 1)
}

func clamp(x float64) float64 {
	return math.Max(-100, math.Min(100, x))
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

// dollars renders a value with thousands separators and no cents.
func dollars(v float64) string {
	s := strconv.FormatFloat(math.Round(v), 'f', 0, 64)
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	if neg {
		return "-" + s
	}
	return s
}
