package model

// StatsSnapshot is the serialized copy of a watcher's instrument state
// pushed to broadcast clients and returned by GET /watching. The embedded
// signal payload is produced by the signal engine.
type StatsSnapshot struct {
	Symbol          string  `json:"symbol"`
	Venue           string  `json:"venue"`
	LastPrice       float64 `json:"last_price"`
	MidPrice        float64 `json:"mid_price"`
	BidDepthQuote   float64 `json:"bid_depth_quote"`
	AskDepthQuote   float64 `json:"ask_depth_quote"`
	ImbalanceRatio  float64 `json:"imbalance_ratio"`
	SpreadBps       float64 `json:"spread_bps"`
	LargestBidQuote float64 `json:"largest_bid_quote"`
	LargestAskQuote float64 `json:"largest_ask_quote"`
	CumulativeDelta float64 `json:"cumulative_delta"`
	Pressure        string  `json:"pressure"`
	LastUpdate      int64   `json:"last_update"`
	Error           string  `json:"error,omitempty"`
	Signal          any     `json:"signal,omitempty"`
}
