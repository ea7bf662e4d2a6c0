package signal

import (
	"math"
	"sort"

	"perpflow/internal/model"
)

const (
	maxZoneDistancePct  = 50.0
	clusterThresholdPct = 0.15
	majorZoneUSD        = 100000
	majorZoneShare      = 0.2
	zonesPerSide        = 5
)

type cluster struct {
	volume float64
	count  int
	prices []float64
}

// findLiquidityZones groups resting orders into price clusters on each side
// and ranks them by quote volume. The full book feeds in, not just the
// metric depth, so far-out whale clusters are visible.
func findLiquidityZones(bids, asks []model.PriceLevel, mid float64) (support, resistance []Zone) {
	if mid == 0 {
		return nil, nil
	}

	step := mid * clusterThresholdPct / 100

	bidClusters := clusterSide(bids, func(price float64) float64 {
		return (mid - price) / mid * 100
	}, step)
	askClusters := clusterSide(asks, func(price float64) float64 {
		return (price - mid) / mid * 100
	}, step)

	support = toZones(bidClusters, "bid", func(avg float64) float64 {
		return (mid - avg) / mid * 100
	})
	resistance = toZones(askClusters, "ask", func(avg float64) float64 {
		return (avg - mid) / mid * 100
	})
	return support, resistance
}

func clusterSide(levels []model.PriceLevel, distance func(price float64) float64, step float64) map[float64]*cluster {
	clusters := make(map[float64]*cluster)
	for _, lvl := range levels {
		d := distance(lvl.Price)
		if d < 0 || d > maxZoneDistancePct {
			continue
		}
		key := math.Round(lvl.Price/step) * step
		c, ok := clusters[key]
		if !ok {
			c = &cluster{}
			clusters[key] = c
		}
		c.volume += lvl.ValueQuote()
		c.count++
		c.prices = append(c.prices, lvl.Price)
	}
	return clusters
}

// toZones converts clusters into zones. A zone is major when it holds more
// than 20% of its side's clustered volume or $100k outright.
func toZones(clusters map[float64]*cluster, side string, distance func(avg float64) float64) []Zone {
	var sideTotal float64
	for _, c := range clusters {
		sideTotal += c.volume
	}
	if sideTotal == 0 {
		sideTotal = 1
	}

	zoneType := "support"
	if side == "ask" {
		zoneType = "resistance"
	}

	zones := make([]Zone, 0, len(clusters))
	for _, c := range clusters {
		avg := mean(c.prices)
		zones = append(zones, Zone{
			Price:       round(avg, 8),
			VolumeUSD:   round(c.volume, 0),
			Side:        side,
			DistancePct: round(distance(avg), 2),
			OrderCount:  c.count,
			IsMajor:     c.volume > sideTotal*majorZoneShare || c.volume > majorZoneUSD,
			Type:        zoneType,
		})
	}

	sort.Slice(zones, func(i, j int) bool {
		return zones[i].VolumeUSD > zones[j].VolumeUSD
	})
	return zones
}

func capZones(zones []Zone) []Zone {
	if zones == nil {
		return []Zone{}
	}
	if len(zones) > zonesPerSide {
		zones = zones[:zonesPerSide]
	}
	return zones
}
