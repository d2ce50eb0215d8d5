package domain

import "github.com/holiman/uint256"

const feeDenominatorBps = 10000

// Edge is one directed leg of a pool, for graph search over the multigraph
// whose vertices are tokens (§3). A pool contributes exactly two edges.
type Edge struct {
	PoolID   string
	Venue    string
	TokenIn  string
	TokenOut string

	// Rate is rate_out_per_in = (1 - fee_bps/10000) * reserves_out/reserves_in,
	// kept as an exact ratio.
	Rate Ratio

	ReserveIn  *uint256.Int
	ReserveOut *uint256.Int
	FeeBps     int
}

// EdgesForPool derives the two directed edges of an active pool. Returns
// nil if the pool is inactive (either reserve is zero), per §3's "an
// inactive pool ... contributes neither prices nor edges" invariant.
func EdgesForPool(p *Pool) []Edge {
	if p.Reserve0 == nil || p.Reserve1 == nil || p.Reserve0.IsZero() || p.Reserve1.IsZero() {
		return nil
	}

	feeFactor := uint256.NewInt(uint64(feeDenominatorBps - p.FeeBps))
	feeDen := uint256.NewInt(feeDenominatorBps)

	forward := Edge{
		PoolID:     p.PoolID,
		Venue:      p.Venue,
		TokenIn:    p.Token0Symbol,
		TokenOut:   p.Token1Symbol,
		ReserveIn:  p.Reserve0,
		ReserveOut: p.Reserve1,
		FeeBps:     p.FeeBps,
		Rate: newRatio(
			new(uint256.Int).Mul(feeFactor, p.Reserve1),
			new(uint256.Int).Mul(feeDen, p.Reserve0),
		),
	}
	backward := Edge{
		PoolID:     p.PoolID,
		Venue:      p.Venue,
		TokenIn:    p.Token1Symbol,
		TokenOut:   p.Token0Symbol,
		ReserveIn:  p.Reserve1,
		ReserveOut: p.Reserve0,
		FeeBps:     p.FeeBps,
		Rate: newRatio(
			new(uint256.Int).Mul(feeFactor, p.Reserve0),
			new(uint256.Int).Mul(feeDen, p.Reserve1),
		),
	}
	return []Edge{forward, backward}
}

// SimulateSwap applies the constant-product output formula exactly:
// out = reserve_out * in_with_fee / (reserve_in * 10000 + in_with_fee), where
// in_with_fee = in * (10000 - fee_bps). Used to re-simulate candidate cycles
// with discrete reserves rather than log-rates (§4.4.2).
func (e Edge) SimulateSwap(amountIn *uint256.Int) *uint256.Int {
	feeFactor := uint256.NewInt(uint64(feeDenominatorBps - e.FeeBps))
	inWithFee := new(uint256.Int).Mul(amountIn, feeFactor)

	numerator := new(uint256.Int).Mul(e.ReserveOut, inWithFee)
	denominator := new(uint256.Int).Mul(e.ReserveIn, uint256.NewInt(feeDenominatorBps))
	denominator.Add(denominator, inWithFee)

	if denominator.IsZero() {
		return new(uint256.Int)
	}
	return new(uint256.Int).Div(numerator, denominator)
}
