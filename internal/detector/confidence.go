package detector

import "github.com/shopspring/decimal"

// confidenceScore combines spread size, pool liquidity, and hop count into
// a single [0,1] score (§4.4.3): wider spreads, deeper liquidity, and fewer
// hops are all evidence the opportunity is real rather than a stale-price
// or thin-liquidity artifact.
func confidenceScore(spreadBps int64, liquidityUSD decimal.Decimal, hopCount int) float64 {
	spreadScore := clamp01(float64(spreadBps) / 200.0)

	liquidityScore := 0.0
	if f, ok := liquidityUSD.Float64(); ok {
		liquidityScore = clamp01(f / 250_000.0)
	}

	hopPenalty := 1.0
	if hopCount > 2 {
		hopPenalty = 1.0 / float64(hopCount-1)
	}

	return clamp01((0.5*spreadScore + 0.35*liquidityScore + 0.15) * hopPenalty)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// decimalFromBps converts a signed basis-point quantity to a fractional
// decimal (e.g. 150 -> 0.015), for scaling a USD liquidity figure into a
// USD profit estimate.
func decimalFromBps(bps int64) decimal.Decimal {
	return decimal.NewFromInt(bps).Div(decimal.NewFromInt(10000))
}

// usdToBps expresses a USD cost as basis points of a USD reference amount,
// the inverse of decimalFromBps, used to fold gas cost into the same bps
// scale as the gross spread.
func usdToBps(costUSD, referenceUSD decimal.Decimal) int64 {
	if referenceUSD.Sign() <= 0 {
		return 0
	}
	bps := costUSD.Mul(decimal.NewFromInt(10000)).Div(referenceUSD)
	return bps.IntPart()
}
