// Package signal turns order book depth and trade flow into a scored
// buy/sell signal with component breakdown, liquidity zones, and trade
// suggestions.
package signal

// Classification buckets for the weighted score.
const (
	StrongBuy  = "STRONG_BUY"
	Buy        = "BUY"
	Neutral    = "NEUTRAL"
	Sell       = "SELL"
	StrongSell = "STRONG_SELL"
)

// Components are the per-factor scores, each clamped to [-100, 100].
type Components struct {
	Imbalance        float64 `json:"imbalance"`
	WeightedPressure float64 `json:"weighted_pressure"`
	Walls            float64 `json:"walls"`
	Spread           float64 `json:"spread"`
	Flow             float64 `json:"flow"`
	Momentum         float64 `json:"momentum"`
}

// Metrics are the raw book measurements behind the component scores.
type Metrics struct {
	BidVolume      float64 `json:"bid_volume"`
	AskVolume      float64 `json:"ask_volume"`
	ImbalanceRatio float64 `json:"imbalance_ratio"`
	SpreadBps      float64 `json:"spread_bps"`
	LargestBidUSD  float64 `json:"largest_bid_usd"`
	LargestAskUSD  float64 `json:"largest_ask_usd"`
	MidPrice       float64 `json:"mid_price"`
}

// Zone is a cluster of resting orders at a price area.
type Zone struct {
	Price       float64 `json:"price"`
	VolumeUSD   float64 `json:"volume_usd"`
	Side        string  `json:"side"` // "bid" or "ask"
	DistancePct float64 `json:"distance_pct"`
	OrderCount  int     `json:"order_count"`
	IsMajor     bool    `json:"is_major"`
	Type        string  `json:"type"` // "support" or "resistance"
}

// ZoneSet carries at most five zones per side, strongest first.
type ZoneSet struct {
	Support    []Zone `json:"support"`
	Resistance []Zone `json:"resistance"`
}

// Suggestion is a suggested entry derived from the analysis.
type Suggestion struct {
	Action      string  `json:"action"` // "LONG" or "SHORT"
	Mode        string  `json:"mode"`   // "scalp" or "reversal"
	EntryPrice  float64 `json:"entry_price"`
	TargetPrice float64 `json:"target_price"`
	StopPrice   float64 `json:"stop_price"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason"`
}

// Suggestions holds the two suggestion modes; either may be nil.
type Suggestions struct {
	Scalp    *Suggestion `json:"scalp"`
	Reversal *Suggestion `json:"reversal"`
}

// Result is one full analysis of a book snapshot.
type Result struct {
	Signal         string      `json:"signal"`
	Confidence     float64     `json:"confidence"`
	Score          float64     `json:"score"`
	Components     Components  `json:"components"`
	Metrics        Metrics     `json:"metrics"`
	LiquidityZones ZoneSet     `json:"liquidity_zones"`
	Suggestions    Suggestions `json:"suggestions"`
	Reasons        []string    `json:"reasons"`
}
