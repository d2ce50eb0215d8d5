package detector

import (
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/r3e-network/arb-engine/internal/domain"
)

// detectPairwise implements §4.4.1: for every two pools sharing the
// updated pool's token pair (different venues quoting the same two tokens;
// pairs that do not include the updated pool are evaluated too), compare
// exact prices and build a round-trip path through whichever side is
// cheaper.
func (d *Detector) detectPairwise(pool domain.Pool) ([]domain.ArbitragePath, error) {
	if !pool.Active {
		return nil, nil
	}

	peers := d.registry.PoolsByPair(pool.Token0Symbol, pool.Token1Symbol)
	if len(peers) < 2 {
		return nil, nil
	}

	priceOf := func(p domain.Pool) (domain.Price, bool) {
		price, err := domain.ComputePrice(&p)
		if err != nil {
			return domain.Price{}, false
		}
		return price, true
	}

	var out []domain.ArbitragePath
	for i := 0; i < len(peers); i++ {
		for j := i + 1; j < len(peers); j++ {
			a, b := peers[i], peers[j]
			if a.PoolID == b.PoolID || !a.Active || !b.Active {
				continue
			}

			priceA, ok := priceOf(a)
			if !ok {
				continue
			}
			priceB, ok := priceOf(b)
			if !ok {
				continue
			}

			spreadBps := domain.SpreadBps(priceA.Price0, priceB.Price0)
			if spreadBps < int64(d.params.MinSpreadBps) || spreadBps > int64(d.params.MaxSpreadBps) {
				continue
			}

			cheap, expensive := a, b
			if priceA.Price0.Cmp(priceB.Price0) > 0 {
				cheap, expensive = b, a
			}

			path, ok := d.buildPairwisePath(cheap, expensive, spreadBps)
			if !ok {
				continue
			}
			out = append(out, path)
		}
	}
	return out, nil
}

// buildPairwisePath constructs the two-hop round trip: buy tokenA on the
// cheap venue, sell it back on the expensive venue, both quoted in tokenB.
func (d *Detector) buildPairwisePath(cheap, expensive domain.Pool, spreadBps int64) (domain.ArbitragePath, bool) {
	cheapLiquidity, err := d.registry.LiquidityUSD(cheap.PoolID)
	if err != nil {
		return domain.ArbitragePath{}, false
	}
	expensiveLiquidity, err := d.registry.LiquidityUSD(expensive.PoolID)
	if err != nil {
		return domain.ArbitragePath{}, false
	}
	minLiquidity := d.registry.MinLiquidityUSD()
	if cheapLiquidity.LessThan(minLiquidity) || expensiveLiquidity.LessThan(minLiquidity) {
		return domain.ArbitragePath{}, false
	}

	cheapEdges := domain.EdgesForPool(&cheap)
	expensiveEdges := domain.EdgesForPool(&expensive)
	if cheapEdges == nil || expensiveEdges == nil {
		return domain.ArbitragePath{}, false
	}

	tokenB := cheap.Token1Symbol
	legIn := findEdge(cheapEdges, tokenB, cheap.Token0Symbol)
	legOut := findEdge(expensiveEdges, cheap.Token0Symbol, tokenB)
	if legIn == nil || legOut == nil {
		// token0/token1 order differs between venues; retry with the other side.
		tokenB = cheap.Token0Symbol
		legIn = findEdge(cheapEdges, tokenB, cheap.Token1Symbol)
		legOut = findEdge(expensiveEdges, cheap.Token1Symbol, tokenB)
		if legIn == nil || legOut == nil {
			return domain.ArbitragePath{}, false
		}
	}

	amountIn := positionSize(legIn.ReserveIn, d.params.PositionFraction)
	if amountIn.IsZero() {
		return domain.ArbitragePath{}, false
	}
	mid := legIn.SimulateSwap(amountIn)
	amountOut := legOut.SimulateSwap(mid)

	grossBps := bpsDelta(amountIn, amountOut)
	if grossBps <= 0 {
		return domain.ArbitragePath{}, false
	}

	gasUSD := d.gasCostUSD(2)
	gasBps := usdToBps(gasUSD, cheapLiquidity)
	netBps := grossBps - gasBps

	minLiq := cheapLiquidity
	if expensiveLiquidity.LessThan(minLiq) {
		minLiq = expensiveLiquidity
	}
	confidence := confidenceScore(spreadBps, minLiq, 2)

	now := time.Now()
	edges := []domain.Edge{*legIn, *legOut}
	path := domain.ArbitragePath{
		Chain:              d.chain,
		Edges:              edges,
		HopCount:           2,
		GrossProfitBps:     grossBps,
		GasCostNative:      gasUSD,
		NetProfitBps:       netBps,
		EstimatedProfitUSD: minLiq.Mul(decimalFromBps(netBps)),
		Confidence:         confidence,
		ConfidenceLabel:    domain.LabelForScore(confidence),
		DetectedAt:         now,
		ValidUntil:         now.Add(d.params.PairwiseValid),
		Kind:               "pairwise",
	}
	path.ID = domain.CanonicalCycleID(edges)
	return path, true
}

func findEdge(edges []domain.Edge, tokenIn, tokenOut string) *domain.Edge {
	for i := range edges {
		if edges[i].TokenIn == tokenIn && edges[i].TokenOut == tokenOut {
			return &edges[i]
		}
	}
	return nil
}

// positionSize sizes a candidate trade as a fraction of the given reserve
// (the pairwise path passes its first leg's input reserve). It returns zero
// when the fraction rounds to zero millionths or the scaled amount is below
// one unit.
func positionSize(reserveIn *uint256.Int, fraction decimal.Decimal) *uint256.Int {
	if reserveIn == nil || reserveIn.IsZero() || fraction.Sign() <= 0 {
		return new(uint256.Int)
	}
	micros := fraction.Mul(decimal.New(1_000_000, 0)).IntPart()
	if micros <= 0 {
		return new(uint256.Int)
	}
	scaled := new(uint256.Int).Mul(reserveIn, uint256.NewInt(uint64(micros)))
	return scaled.Div(scaled, uint256.NewInt(1_000_000))
}

// bpsDelta returns (out-in)*10000/in as a signed integer, the gross profit
// in basis points of a round trip.
func bpsDelta(in, out *uint256.Int) int64 {
	if in.IsZero() {
		return 0
	}
	if out.Cmp(in) >= 0 {
		diff := new(uint256.Int).Sub(out, in)
		diff.Mul(diff, uint256.NewInt(10000))
		diff.Div(diff, in)
		return int64(diff.Uint64())
	}
	diff := new(uint256.Int).Sub(in, out)
	diff.Mul(diff, uint256.NewInt(10000))
	diff.Div(diff, in)
	return -int64(diff.Uint64())
}
