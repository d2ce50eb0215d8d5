package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/r3e-network/arb-engine/infrastructure/chains"
)

// ArbitragePath is the detector's output unit (§3): a cycle of edges whose
// start and end token coincide, annotated with profitability estimates.
type ArbitragePath struct {
	ID    string
	Chain chains.ChainID
	Edges []Edge

	HopCount int

	GrossProfitBps     int64
	GasCostNative      decimal.Decimal
	NetProfitBps       int64
	EstimatedProfitUSD decimal.Decimal

	Confidence      float64
	ConfidenceLabel ConfidenceLabel

	DetectedAt  time.Time
	ValidUntil  time.Time

	// Kind distinguishes the originating algorithm ("pairwise" or
	// "multi_hop") for metrics and for the sink's validity window. It is not
	// part of the dedup key, which pairwise and multi-hop paths share.
	Kind string
}

// CanonicalCycleID computes the cyclic rotation of the path's pool-id
// sequence with the lexicographically smallest starting point, so that two
// paths differing only by rotation (§9 open question 3, §8 property 6/S6)
// dedup to the same key.
func CanonicalCycleID(path []Edge) string {
	if len(path) == 0 {
		return ""
	}
	ids := make([]string, len(path))
	for i, e := range path {
		ids[i] = e.PoolID
	}

	bestStart := 0
	for i := 1; i < len(ids); i++ {
		if rotationLess(ids, i, bestStart) {
			bestStart = i
		}
	}

	rotated := make([]string, len(ids))
	for i := range ids {
		rotated[i] = ids[(bestStart+i)%len(ids)]
	}
	return strings.Join(rotated, ">")
}

// rotationLess reports whether the rotation starting at a is
// lexicographically smaller than the rotation starting at b.
func rotationLess(ids []string, a, b int) bool {
	n := len(ids)
	for i := 0; i < n; i++ {
		va := ids[(a+i)%n]
		vb := ids[(b+i)%n]
		if va != vb {
			return va < vb
		}
	}
	return false
}
