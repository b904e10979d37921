package candidates

// ScoreConfig holds priority scoring parameters.
type ScoreConfig struct {
	// MidpointProgress is the bonding-curve completion percent where the
	// base score peaks at 100.
	MidpointProgress float64
	// SlopeBelow is score lost per progress point below the midpoint.
	// Shallower than SlopeAbove: early tokens still have room to run.
	SlopeBelow float64
	// SlopeAbove is score lost per progress point above the midpoint.
	// Steep: tokens close to graduation are nearly done moving.
	SlopeAbove float64

	// Additive boosts, applied after the base parabola.
	MarketCapTier1    float64 // boost when market cap >= MarketCapTier1Min
	MarketCapTier1Min float64
	MarketCapTier2    float64 // larger boost when >= MarketCapTier2Min
	MarketCapTier2Min float64
	TradeCountTier1   float64
	TradeCountT1Min   int
	TradeCountTier2   float64
	TradeCountT2Min   int
	SocialsBoost      float64
}

// DefaultScoreConfig returns scoring defaults. The midpoint and slopes are
// empirically tuned values carried as-is.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		MidpointProgress:  47.5,
		SlopeBelow:        1.5,
		SlopeAbove:        4.0,
		MarketCapTier1:    5,
		MarketCapTier1Min: 15_000,
		MarketCapTier2:    10,
		MarketCapTier2Min: 30_000,
		TradeCountTier1:   5,
		TradeCountT1Min:   20,
		TradeCountTier2:   10,
		TradeCountT2Min:   50,
		SocialsBoost:      5,
	}
}

// BaseScore returns the progress-only component of the priority score:
// 100 exactly at the midpoint, decaying linearly with distance in each
// direction, clamped to [0, 100].
func (c ScoreConfig) BaseScore(progress float64) float64 {
	var score float64
	if progress <= c.MidpointProgress {
		score = 100 - (c.MidpointProgress-progress)*c.SlopeBelow
	} else {
		score = 100 - (progress-c.MidpointProgress)*c.SlopeAbove
	}
	return clampScore(score)
}

// Score computes the full priority score for a candidate.
func (c ScoreConfig) Score(progress, marketCap float64, tradeCount int, hasSocials bool) float64 {
	score := c.BaseScore(progress)

	switch {
	case marketCap >= c.MarketCapTier2Min:
		score += c.MarketCapTier2
	case marketCap >= c.MarketCapTier1Min:
		score += c.MarketCapTier1
	}

	switch {
	case tradeCount >= c.TradeCountT2Min:
		score += c.TradeCountTier2
	case tradeCount >= c.TradeCountT1Min:
		score += c.TradeCountTier1
	}

	if hasSocials {
		score += c.SocialsBoost
	}

	return clampScore(score)
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
