// Package registry implements the Pool Registry (C3): the authoritative,
// concurrency-safe snapshot of every monitored pool, and the price/edge/
// liquidity queries the Arbitrage Detector (C4) reads on every pass.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/r3e-network/arb-engine/infrastructure/chains"
	"github.com/r3e-network/arb-engine/infrastructure/logging"
	"github.com/r3e-network/arb-engine/internal/domain"
	"github.com/r3e-network/arb-engine/pkg/metrics"
)

// ErrUnknownPool is returned for queries against a pool_id the registry has
// never registered.
var ErrUnknownPool = errors.New("registry: unknown pool")

// TokenUSDInfo carries the reference data LiquidityUSD needs per token.
type TokenUSDInfo struct {
	ReferenceUSD decimal.Decimal
	Stable       bool
	HasReference bool
}

// poolSlot owns one pool's mutable state behind its own lock, so that a
// writer applying an update and a reader computing a price never interleave
// on the same pool (§4.3, §5) while unrelated pools stay fully concurrent.
type poolSlot struct {
	mu   sync.RWMutex
	pool domain.Pool
}

func (s *poolSlot) snapshot() domain.Pool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool.Clone()
}

// Registry is the per-chain Pool Registry.
type Registry struct {
	chain  chains.ChainID
	logger *logging.Logger

	mu        sync.RWMutex
	slots     map[string]*poolSlot
	pairIndex map[string][]string // unordered pair key -> pool ids
	tokenUSD  map[string]TokenUSDInfo

	edgeCache *lru.Cache[string, []domain.Edge]

	minLiquidityUSD decimal.Decimal

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// Config configures a Registry for one chain.
type Config struct {
	Chain           chains.ChainID
	MinLiquidityUSD decimal.Decimal
	TokenUSD        map[string]TokenUSDInfo
	EdgeCacheSize   int
	Logger          *logging.Logger
}

// New creates an empty Pool Registry for a chain.
func New(cfg Config) (*Registry, error) {
	size := cfg.EdgeCacheSize
	if size <= 0 {
		size = 4096
	}
	cache, err := lru.New[string, []domain.Edge](size)
	if err != nil {
		return nil, fmt.Errorf("registry: create edge cache: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewFromEnv("registry")
	}

	tokenUSD := cfg.TokenUSD
	if tokenUSD == nil {
		tokenUSD = make(map[string]TokenUSDInfo)
	}

	return &Registry{
		chain:           cfg.Chain,
		logger:          logger,
		slots:           make(map[string]*poolSlot),
		pairIndex:       make(map[string][]string),
		tokenUSD:        tokenUSD,
		edgeCache:       cache,
		minLiquidityUSD: cfg.MinLiquidityUSD,
	}, nil
}

// Register adds a pool resolved during startup discovery (config.Seeder).
// It is not part of the hot apply path and is called once per pool at
// startup; a pool_id that is already registered is left unchanged.
func (r *Registry) Register(pool domain.Pool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.slots[pool.PoolID]; exists {
		return
	}
	r.slots[pool.PoolID] = &poolSlot{pool: pool}

	key := pool.UnorderedPairKey()
	r.pairIndex[key] = append(r.pairIndex[key], pool.PoolID)
}

// Apply applies a reserve update idempotently on (pool_id, sequence). It
// returns true if the update was applied, false if it was discarded as
// stale or duplicate (§4.2, §4.3).
func (r *Registry) Apply(update domain.ReserveUpdate) (bool, error) {
	r.mu.RLock()
	slot, ok := r.slots[update.PoolID]
	r.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownPool, update.PoolID)
	}

	slot.mu.Lock()
	if update.Sequence.Compare(slot.pool.LastSequence) <= 0 && !slot.pool.LastUpdateWall.IsZero() {
		slot.mu.Unlock()
		return false, nil
	}

	slot.pool.Reserve0 = update.Reserve0
	slot.pool.Reserve1 = update.Reserve1
	slot.pool.LastSequence = update.Sequence
	slot.pool.LastUpdateWall = time.Now()
	slot.pool.Active = !update.Reserve0.IsZero() && !update.Reserve1.IsZero()
	slot.mu.Unlock()

	r.edgeCache.Remove(r.tokenCacheKey(slot.pool.Token0Symbol))
	r.edgeCache.Remove(r.tokenCacheKey(slot.pool.Token1Symbol))

	metrics.RecordDecodeApplied(string(r.chain))
	return true, nil
}

// Get returns a consistent snapshot of one pool.
func (r *Registry) Get(poolID string) (domain.Pool, bool) {
	r.mu.RLock()
	slot, ok := r.slots[poolID]
	r.mu.RUnlock()
	if !ok {
		return domain.Pool{}, false
	}
	return slot.snapshot(), true
}

// Price returns the pool's current price pair, or ErrPoolInactive if either
// reserve is zero.
func (r *Registry) Price(poolID string) (domain.Price, error) {
	pool, ok := r.Get(poolID)
	if !ok {
		return domain.Price{}, fmt.Errorf("%w: %s", ErrUnknownPool, poolID)
	}
	return domain.ComputePrice(&pool)
}

func (r *Registry) tokenCacheKey(token string) string {
	return string(r.chain) + ":" + token
}

// EdgesTouching returns every edge (from every active pool) whose in-token
// or out-token is the given symbol, serving the detector's per-anchor graph
// search. Results are cached per token and invalidated on any pool mutation
// touching that token.
func (r *Registry) EdgesTouching(token string) []domain.Edge {
	key := r.tokenCacheKey(token)
	if cached, ok := r.edgeCache.Get(key); ok {
		return cached
	}

	r.mu.RLock()
	slots := make([]*poolSlot, 0, len(r.slots))
	for _, s := range r.slots {
		slots = append(slots, s)
	}
	r.mu.RUnlock()

	var edges []domain.Edge
	for _, slot := range slots {
		pool := slot.snapshot()
		if pool.Token0Symbol != token && pool.Token1Symbol != token {
			continue
		}
		edges = append(edges, domain.EdgesForPool(&pool)...)
	}

	r.edgeCache.Add(key, edges)
	return edges
}

// AllEdges returns every directed edge of every active pool, for a full
// graph build (used when seeding a fresh detection pass from all anchors).
func (r *Registry) AllEdges() []domain.Edge {
	r.mu.RLock()
	slots := make([]*poolSlot, 0, len(r.slots))
	for _, s := range r.slots {
		slots = append(slots, s)
	}
	r.mu.RUnlock()

	var edges []domain.Edge
	for _, slot := range slots {
		pool := slot.snapshot()
		edges = append(edges, domain.EdgesForPool(&pool)...)
	}
	return edges
}

// PoolsByPair returns every pool (across venues) sharing the unordered
// token pair, for the pairwise cross-venue spread path (§4.4.1).
func (r *Registry) PoolsByPair(tokenA, tokenB string) []domain.Pool {
	a, b := tokenA, tokenB
	if a > b {
		a, b = b, a
	}
	key := fmt.Sprintf("%s:%s/%s", r.chain, a, b)

	r.mu.RLock()
	ids := append([]string(nil), r.pairIndex[key]...)
	r.mu.RUnlock()

	pools := make([]domain.Pool, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.Get(id); ok {
			pools = append(pools, p)
		}
	}
	return pools
}

// LiquidityUSD computes reserve0*decimals-adjusted*usd(token0) +
// reserve1*decimals-adjusted*usd(token1). When a token has no reference USD
// price, a best-effort heuristic applies: double the USD side of a known
// stablecoin leg when present, else zero (§4.3). A stablecoin leg counts
// only when it carries a reference USD price.
func (r *Registry) LiquidityUSD(poolID string) (decimal.Decimal, error) {
	pool, ok := r.Get(poolID)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownPool, poolID)
	}
	if !pool.Active {
		return decimal.Zero, nil
	}

	usd0 := r.tokenUSD[r.tokenCacheKey(pool.Token0Symbol)]
	usd1 := r.tokenUSD[r.tokenCacheKey(pool.Token1Symbol)]

	side0 := decimalSide(pool.Reserve0, pool.Decimals0, usd0)
	side1 := decimalSide(pool.Reserve1, pool.Decimals1, usd1)

	switch {
	case usd0.HasReference && usd1.HasReference:
		return side0.Add(side1), nil
	case usd0.Stable && usd0.HasReference:
		return side0.Mul(decimal.NewFromInt(2)), nil
	case usd1.Stable && usd1.HasReference:
		return side1.Mul(decimal.NewFromInt(2)), nil
	default:
		return decimal.Zero, nil
	}
}

func decimalSide(reserve *uint256.Int, decimals int, info TokenUSDInfo) decimal.Decimal {
	if reserve == nil || reserve.IsZero() || !info.HasReference {
		return decimal.Zero
	}
	raw := decimal.NewFromBigInt(reserve.ToBig(), 0)
	scale := decimal.New(1, int32(-decimals))
	return raw.Mul(scale).Mul(info.ReferenceUSD)
}

// MinLiquidityUSD returns the chain's configured liquidity floor.
func (r *Registry) MinLiquidityUSD() decimal.Decimal {
	return r.minLiquidityUSD
}

// ActivePoolCount returns the number of pools currently marked active
// (non-zero reserves and not quarantined by the liveness sweep), published
// as a gauge for observability.
func (r *Registry) ActivePoolCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, slot := range r.slots {
		if slot.snapshot().Active {
			count++
		}
	}
	return count
}
