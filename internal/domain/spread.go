package domain

import "math/big"

// SpreadBps computes round(|a-b| * 10000 / min(a,b)) for two price ratios,
// exactly, via arbitrary-precision cross-multiplication (§4.4.1). uint256
// is wide enough for any single reserve-derived ratio but a naive
// cross-multiply of two such ratios can exceed 256 bits, so the comparison
// itself is done in math/big rather than the fixed-width domain used
// elsewhere — still exact integer arithmetic, never floating point.
func SpreadBps(a, b Ratio) int64 {
	aNum, aDen := a.Num.ToBig(), a.Den.ToBig()
	bNum, bDen := b.Num.ToBig(), b.Den.ToBig()

	// diff = |aNum/aDen - bNum/bDen| = |aNum*bDen - bNum*aDen| / (aDen*bDen)
	left := new(big.Int).Mul(aNum, bDen)
	right := new(big.Int).Mul(bNum, aDen)
	diffNum := new(big.Int).Sub(left, right)
	diffNum.Abs(diffNum)
	diffDen := new(big.Int).Mul(aDen, bDen)

	// min(a,b)
	minNum, minDen := aNum, aDen
	if left.Cmp(right) > 0 {
		minNum, minDen = bNum, bDen
	}

	if diffDen.Sign() == 0 || minNum.Sign() == 0 {
		return 0
	}

	// bps = diffNum * minDen * 10000 / (diffDen * minNum), rounded to nearest.
	numerator := new(big.Int).Mul(diffNum, minDen)
	numerator.Mul(numerator, big.NewInt(10000))
	denominator := new(big.Int).Mul(diffDen, minNum)

	halfDen := new(big.Int).Rsh(denominator, 1)
	numerator.Add(numerator, halfDen)

	result := new(big.Int).Div(numerator, denominator)
	return result.Int64()
}
