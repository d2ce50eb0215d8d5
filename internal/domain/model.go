// Package domain holds the engine's core runtime entities: pools, derived
// prices and edges, and the arbitrage paths the detector emits. Venue and
// token configuration live in infrastructure/chains; domain describes the
// mutable, in-memory state built on top of that configuration.
package domain

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/r3e-network/arb-engine/infrastructure/chains"
)

// Sequence is a per-pool monotone ordinal derived from (block_number,
// log_index), compared lexicographically per §4.2.
type Sequence struct {
	BlockNumber uint64
	LogIndex    uint64
}

// Compare returns -1, 0, or 1 as s is less than, equal to, or greater than o.
func (s Sequence) Compare(o Sequence) int {
	switch {
	case s.BlockNumber < o.BlockNumber:
		return -1
	case s.BlockNumber > o.BlockNumber:
		return 1
	case s.LogIndex < o.LogIndex:
		return -1
	case s.LogIndex > o.LogIndex:
		return 1
	default:
		return 0
	}
}

func (s Sequence) String() string {
	return fmt.Sprintf("%d:%d", s.BlockNumber, s.LogIndex)
}

// ReserveUpdate is the Event Decoder's (C2) output: a decoded reserve-sync
// event tagged with pool identity and logical timestamp.
type ReserveUpdate struct {
	PoolID   string
	Reserve0 *uint256.Int
	Reserve1 *uint256.Int
	Sequence Sequence
}

// Pool is the core registry entity (§3). Token order and decimals are fixed
// at registration; reserves, sequence, and last-update time mutate under the
// registry's apply discipline.
type Pool struct {
	PoolID  string
	Chain   chains.ChainID
	Venue   string
	Address string

	Token0Symbol string
	Token1Symbol string
	Token0Addr   string
	Token1Addr   string
	Decimals0    int
	Decimals1    int

	FeeBps int

	Reserve0 *uint256.Int
	Reserve1 *uint256.Int

	LastSequence   Sequence
	LastUpdateWall time.Time
	Active         bool
}

// Clone returns a value copy of the pool safe to read without holding the
// registry's per-pool lock (reserves are copied, not aliased).
func (p *Pool) Clone() Pool {
	out := *p
	if p.Reserve0 != nil {
		out.Reserve0 = new(uint256.Int).Set(p.Reserve0)
	}
	if p.Reserve1 != nil {
		out.Reserve1 = new(uint256.Int).Set(p.Reserve1)
	}
	return out
}

// UnorderedPairKey identifies pools sharing the same token pair regardless
// of on-chain token0/token1 order, for pairwise-spread grouping.
func (p *Pool) UnorderedPairKey() string {
	a, b := p.Token0Symbol, p.Token1Symbol
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%s:%s/%s", p.Chain, a, b)
}

// ConfidenceLabel is the categorical bucket downstream filters consume.
type ConfidenceLabel string

const (
	ConfidenceLow       ConfidenceLabel = "low"
	ConfidenceMedium    ConfidenceLabel = "medium"
	ConfidenceHigh      ConfidenceLabel = "high"
	ConfidenceVeryHigh  ConfidenceLabel = "very_high"
)

// LabelForScore buckets a continuous [0,1] confidence score.
func LabelForScore(score float64) ConfidenceLabel {
	switch {
	case score >= 0.85:
		return ConfidenceVeryHigh
	case score >= 0.6:
		return ConfidenceHigh
	case score >= 0.3:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
