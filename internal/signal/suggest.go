package signal

import (
	"fmt"
	"math"
)

const (
	scalpThreshold     = 20
	scalpMinStop       = 0.005 // at least 0.5%
	scalpMaxConfidence = 80
	reversalMaxDistPct = 10
	reversalMaxConf    = 70
)

// suggest produces the scalp and reversal entries. Scalp follows near-price
// pressure; reversal targets major liquidity zones within 10% of mid, longs
// taking priority over shorts.
func (e *Engine) suggest(res *Result, mid float64, support, resistance []Zone) (scalp, reversal *Suggestion) {
	if mid == 0 {
		return nil, nil
	}

	if res.Score >= scalpThreshold {
		stop := math.Max(res.Metrics.SpreadBps*3/10000, scalpMinStop)
		target := stop * 2
		scalp = &Suggestion{
			Action:      "LONG",
			Mode:        "scalp",
			EntryPrice:  round(mid, 8),
			TargetPrice: round(mid*(1+target), 8),
			StopPrice:   round(mid*(1-stop), 8),
			Confidence:  math.Min(res.Confidence, scalpMaxConfidence),
			Reason:      fmt.Sprintf("Near-price buying pressure (%.2fx bid imbalance)", res.Metrics.ImbalanceRatio),
		}
	} else if res.Score <= -scalpThreshold {
		stop := math.Max(res.Metrics.SpreadBps*3/10000, scalpMinStop)
		target := stop * 2
		scalp = &Suggestion{
			Action:      "SHORT",
			Mode:        "scalp",
			EntryPrice:  round(mid, 8),
			TargetPrice: round(mid*(1-target), 8),
			StopPrice:   round(mid*(1+stop), 8),
			Confidence:  math.Min(res.Confidence, scalpMaxConfidence),
			Reason:      fmt.Sprintf("Near-price selling pressure (%.2fx ask imbalance)", 1/res.Metrics.ImbalanceRatio),
		}
	}

	majorSupport := firstMajor(support)
	majorResistance := firstMajor(resistance)

	if majorSupport != nil && majorSupport.DistancePct < reversalMaxDistPct {
		target := mid * (1 + majorSupport.DistancePct/100)
		if majorResistance != nil {
			target = majorResistance.Price
		}
		reversal = &Suggestion{
			Action:      "LONG",
			Mode:        "reversal",
			EntryPrice:  majorSupport.Price,
			TargetPrice: round(target, 8),
			StopPrice:   round(majorSupport.Price*0.97, 8),
			Confidence:  round(math.Min(reversalMaxConf, majorSupport.VolumeUSD/10000), 1),
			Reason: fmt.Sprintf("Major support zone at $%.6f ($%s in bids)",
				majorSupport.Price, dollars(majorSupport.VolumeUSD)),
		}
	}

	if reversal == nil && majorResistance != nil && majorResistance.DistancePct < reversalMaxDistPct {
		target := mid * (1 - majorResistance.DistancePct/100)
		if majorSupport != nil {
			target = majorSupport.Price
		}
		reversal = &Suggestion{
			Action:      "SHORT",
			Mode:        "reversal",
			EntryPrice:  majorResistance.Price,
			TargetPrice: round(target, 8),
			StopPrice:   round(majorResistance.Price*1.03, 8),
			Confidence:  round(math.Min(reversalMaxConf, majorResistance.VolumeUSD/10000), 1),
			Reason: fmt.Sprintf("Major resistance zone at $%.6f ($%s in asks)",
				majorResistance.Price, dollars(majorResistance.VolumeUSD)),
		}
	}

	return scalp, reversal
}

// firstMajor returns the strongest major zone, relying on the volume sort.
func firstMajor(zones []Zone) *Zone {
	for i := range zones {
		if zones[i].IsMajor {
			return &zones[i]
		}
	}
	return nil
}
