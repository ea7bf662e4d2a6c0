package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuggestScalpLong(t *testing.T) {
	e := NewEngine("TEST")
	res := &Result{
		Score:      25,
		Confidence: 50,
		Metrics:    Metrics{SpreadBps: 2, ImbalanceRatio: 1.52},
	}

	scalp, _ := e.suggest(res, 100, nil, nil)
	require.NotNil(t, scalp)

	assert.Equal(t, "LONG", scalp.Action)
	assert.Equal(t, "scalp", scalp.Mode)
	assert.Equal(t, 100.0, scalp.EntryPrice)
	// Spread-derived stop is below the 0.5% floor.
	assert.InDelta(t, 99.5, scalp.StopPrice, 0.001)
	assert.InDelta(t, 101.0, scalp.TargetPrice, 0.001) // 2:1 reward/risk
	assert.Equal(t, 50.0, scalp.Confidence)
	assert.Contains(t, scalp.Reason, "1.52x bid imbalance")
}

func TestSuggestScalpShortWideSpread(t *testing.T) {
	e := NewEngine("TEST")
	res := &Result{
		Score:      -30,
		Confidence: 95,
		Metrics:    Metrics{SpreadBps: 40, ImbalanceRatio: 0.5},
	}

	scalp, _ := e.suggest(res, 100, nil, nil)
	require.NotNil(t, scalp)

	assert.Equal(t, "SHORT", scalp.Action)
	// 40 bps * 3 = 1.2%, above the floor.
	assert.InDelta(t, 101.2, scalp.StopPrice, 0.001)
	assert.InDelta(t, 97.6, scalp.TargetPrice, 0.001)
	assert.Equal(t, 80.0, scalp.Confidence) // capped
	assert.Contains(t, scalp.Reason, "2.00x ask imbalance")
}

func TestSuggestNoScalpInsideBand(t *testing.T) {
	e := NewEngine("TEST")
	res := &Result{Score: 10, Metrics: Metrics{ImbalanceRatio: 1.1}}

	scalp, _ := e.suggest(res, 100, nil, nil)
	assert.Nil(t, scalp)
}

func TestSuggestReversalLongAtSupport(t *testing.T) {
	e := NewEngine("TEST")
	res := &Result{Metrics: Metrics{ImbalanceRatio: 1}}
	support := []Zone{
		{Price: 97, VolumeUSD: 800000, DistancePct: 3, IsMajor: true},
	}
	resistance := []Zone{
		{Price: 104, VolumeUSD: 150000, DistancePct: 4, IsMajor: true},
	}

	_, rev := e.suggest(res, 100, support, resistance)
	require.NotNil(t, rev)

	assert.Equal(t, "LONG", rev.Action)
	assert.Equal(t, "reversal", rev.Mode)
	assert.Equal(t, 97.0, rev.EntryPrice)
	assert.Equal(t, 104.0, rev.TargetPrice) // nearest major resistance
	assert.InDelta(t, 94.09, rev.StopPrice, 0.001)
	assert.Equal(t, 70.0, rev.Confidence) // capped at 70
}

func TestSuggestReversalShortOnlyWithoutLong(t *testing.T) {
	e := NewEngine("TEST")
	res := &Result{Metrics: Metrics{ImbalanceRatio: 1}}
	resistance := []Zone{
		{Price: 103, VolumeUSD: 120000, DistancePct: 3, IsMajor: true},
	}

	_, rev := e.suggest(res, 100, nil, resistance)
	require.NotNil(t, rev)

	assert.Equal(t, "SHORT", rev.Action)
	assert.Equal(t, 103.0, rev.EntryPrice)
	assert.InDelta(t, 97.0, rev.TargetPrice, 0.001) // mirror of the 3% distance
	assert.InDelta(t, 106.09, rev.StopPrice, 0.001)
	assert.InDelta(t, 12.0, rev.Confidence, 0.001) // 120k / 10k
}

func TestSuggestReversalIgnoresFarZones(t *testing.T) {
	e := NewEngine("TEST")
	res := &Result{Metrics: Metrics{ImbalanceRatio: 1}}
	support := []Zone{
		{Price: 85, VolumeUSD: 500000, DistancePct: 15, IsMajor: true},
	}

	_, rev := e.suggest(res, 100, support, nil)
	assert.Nil(t, rev)
}

func TestSuggestSkipsMinorZones(t *testing.T) {
	e := NewEngine("TEST")
	res := &Result{Metrics: Metrics{ImbalanceRatio: 1}}
	support := []Zone{
		{Price: 99, VolumeUSD: 5000, DistancePct: 1, IsMajor: false},
	}

	_, rev := e.suggest(res, 100, support, nil)
	assert.Nil(t, rev)
}

func TestSuggestZeroMid(t *testing.T) {
	e := NewEngine("TEST")
	scalp, rev := e.suggest(&Result{Score: 50}, 0, nil, nil)
	assert.Nil(t, scalp)
	assert.Nil(t, rev)
}
