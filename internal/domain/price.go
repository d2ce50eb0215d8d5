package domain

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

// ErrPoolInactive is returned when a price or edge is requested for a pool
// with a zero reserve on either side.
var ErrPoolInactive = errors.New("pool is inactive")

// Ratio is an exact rational number (Num/Den) backed by 256-bit integers,
// used for every profitability-relevant computation so decimals cancel
// exactly rather than through floating-point rounding (§9).
type Ratio struct {
	Num *uint256.Int
	Den *uint256.Int
}

func newRatio(num, den *uint256.Int) Ratio {
	return Ratio{Num: num, Den: den}
}

// Reciprocal returns 1/r. Because it simply swaps numerator and
// denominator, r times r.Reciprocal() is exactly 1 with no rounding.
func (r Ratio) Reciprocal() Ratio {
	return Ratio{Num: r.Den, Den: r.Num}
}

// IsOne reports whether the ratio is exactly 1 (num == den, both non-zero).
func (r Ratio) IsOne() bool {
	if r.Num == nil || r.Den == nil || r.Den.IsZero() {
		return false
	}
	return r.Num.Eq(r.Den)
}

// Cmp compares r to o via cross-multiplication, avoiding any division.
// The cross-products are computed in math/big: a price ratio built from
// 112-bit reserves scaled by up to 10^18 is ~172 bits wide, so the product
// of two such values can exceed 256 bits.
func (r Ratio) Cmp(o Ratio) int {
	left := new(big.Int).Mul(r.Num.ToBig(), o.Den.ToBig())
	right := new(big.Int).Mul(o.Num.ToBig(), r.Den.ToBig())
	return left.Cmp(right)
}

// Float64 converts the ratio to a float64, losing precision. Used only for
// confidence scoring and log-weight graph search (§9), never for
// profitability decisions.
func (r Ratio) Float64() float64 {
	if r.Den == nil || r.Den.IsZero() {
		return 0
	}
	n, _ := new(big.Float).SetInt(r.Num.ToBig()).Float64()
	d, _ := new(big.Float).SetInt(r.Den.ToBig()).Float64()
	if d == 0 {
		return 0
	}
	return n / d
}

// Price holds a pool's two directional mid-prices as exact reciprocal
// ratios: price0 is the price of token0 in units of token1.
type Price struct {
	Price0 Ratio
	Price1 Ratio
}

var pow10Table = buildPow10Table()

func buildPow10Table() [19]*uint256.Int {
	var table [19]*uint256.Int
	ten := uint256.NewInt(10)
	v := uint256.NewInt(1)
	for i := 0; i <= 18; i++ {
		table[i] = new(uint256.Int).Set(v)
		v = new(uint256.Int).Mul(v, ten)
	}
	return table
}

func pow10(n int) *uint256.Int {
	if n < 0 || n > 18 {
		n = 18
	}
	return pow10Table[n]
}

// ComputePrice derives the pool's price pair from its current reserves and
// decimals. Returns ErrPoolInactive if either reserve is zero.
func ComputePrice(p *Pool) (Price, error) {
	if p.Reserve0 == nil || p.Reserve1 == nil || p.Reserve0.IsZero() || p.Reserve1.IsZero() {
		return Price{}, ErrPoolInactive
	}

	// price0 = reserve1 * 10^decimals0 / (reserve0 * 10^decimals1)
	num0 := new(uint256.Int).Mul(p.Reserve1, pow10(p.Decimals0))
	den0 := new(uint256.Int).Mul(p.Reserve0, pow10(p.Decimals1))

	price0 := newRatio(num0, den0)
	price1 := price0.Reciprocal()

	return Price{Price0: price0, Price1: price1}, nil
}
