// Package config resolves the engine's static chain/venue/token/pair
// configuration into live, on-chain-verified Pool Registry records at
// startup (§6, §9 Open Question 2): every configured pair is matched
// against each chain's venues via the venue's factory, and the factory's
// answer is treated as authoritative over anything configured by hand.
package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/r3e-network/arb-engine/infrastructure/chain"
	"github.com/r3e-network/arb-engine/infrastructure/chains"
	"github.com/r3e-network/arb-engine/infrastructure/logging"
	"github.com/r3e-network/arb-engine/internal/domain"
	"github.com/r3e-network/arb-engine/internal/registry"
)

// seedRPCRate bounds factory/pool RPC calls issued while seeding a chain at
// startup, so a long pair/venue matrix doesn't hammer a provider's rate
// limit before the Chain Subscriber has even started.
const seedRPCRate = 20 // requests per second, burst 20

// zeroAddress is what a factory returns for getPair when no pool exists
// for the requested tokens yet.
const zeroAddress = "0x0000000000000000000000000000000000000000"

// Seeder resolves configuration into registry-ready pools for one chain.
type Seeder struct {
	client        *chain.Client
	logger        *logging.Logger
	limiter       *rate.Limiter
	decimalsCache map[string]int // normalized token address -> on-chain decimals
}

// NewSeeder creates a Seeder using client for on-chain reads.
func NewSeeder(client *chain.Client, logger *logging.Logger) *Seeder {
	if logger == nil {
		logger = logging.NewFromEnv("config")
	}
	return &Seeder{
		client:        client,
		logger:        logger,
		limiter:       rate.NewLimiter(rate.Limit(seedRPCRate), seedRPCRate),
		decimalsCache: make(map[string]int),
	}
}

// resolveDecimals returns a token's on-chain decimals() value, querying it
// once per address and caching the result across the whole chain's
// seeding pass (§9 Open Question 1: the chain is authoritative, never a
// configured default). configured, if >0, is asserted against the on-chain
// value: a mismatch is a configuration error (§13 item 1, §7), not a
// silent skip, since it means the token list itself is wrong.
func (s *Seeder) resolveDecimals(ctx context.Context, addr string, configured int) (int, error) {
	key := chain.NormalizeAddress(addr)
	if d, ok := s.decimalsCache[key]; ok {
		if configured > 0 && configured != d {
			return 0, fmt.Errorf("config: token %s: configured decimals %d does not match on-chain value %d", addr, configured, d)
		}
		return d, nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("config: rate limiter: %w", err)
	}
	d, err := s.client.Decimals(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("config: decimals %s: %w", addr, err)
	}
	if configured > 0 && configured != d {
		return 0, fmt.Errorf("config: token %s: configured decimals %d does not match on-chain value %d", addr, configured, d)
	}
	s.decimalsCache[key] = d
	return d, nil
}

// SeedResult is everything a chain's Pool Registry and Event Decoder need
// to start from a warm state.
type SeedResult struct {
	Pools        []domain.Pool
	TokenUSD     map[string]registry.TokenUSDInfo
	AddressToID  map[string]string // normalized pool address -> pool_id
	SkippedPairs []string          // pairs or pair/venue combinations skipped: unconfigured token, no on-chain pool, or token0/token1 mismatch
}

// Seed resolves every configured pair against every venue on chainID,
// querying the venue's factory and pool contracts directly rather than
// trusting any pool address supplied out of band.
func (s *Seeder) Seed(ctx context.Context, cfg *chains.Config, chainID chains.ChainID) (*SeedResult, error) {
	tokensBySymbol := make(map[string]chains.TokenConfig)
	for _, t := range cfg.Tokens {
		if t.Chain == chainID {
			tokensBySymbol[t.Symbol] = t
		}
	}

	var venues []chains.VenueConfig
	for _, v := range cfg.Venues {
		if v.Chain == chainID {
			venues = append(venues, v)
		}
	}

	result := &SeedResult{
		TokenUSD:    make(map[string]registry.TokenUSDInfo),
		AddressToID: make(map[string]string),
	}
	for symbol, t := range tokensBySymbol {
		result.TokenUSD[string(chainID)+":"+symbol] = tokenUSDInfo(t)
	}

	for _, pair := range cfg.Pairs {
		if pair.Chain != chainID {
			continue
		}
		tokenA, ok := tokensBySymbol[pair.SymbolA]
		if !ok {
			s.logger.WithFields(map[string]interface{}{
				"pair": pair.SymbolA + "/" + pair.SymbolB,
			}).Warn("pair references unconfigured token, skipping")
			result.SkippedPairs = append(result.SkippedPairs, fmt.Sprintf("%s/%s: unconfigured token %s", pair.SymbolA, pair.SymbolB, pair.SymbolA))
			continue
		}
		tokenB, ok := tokensBySymbol[pair.SymbolB]
		if !ok {
			s.logger.WithFields(map[string]interface{}{
				"pair": pair.SymbolA + "/" + pair.SymbolB,
			}).Warn("pair references unconfigured token, skipping")
			result.SkippedPairs = append(result.SkippedPairs, fmt.Sprintf("%s/%s: unconfigured token %s", pair.SymbolA, pair.SymbolB, pair.SymbolB))
			continue
		}

		for _, venue := range venues {
			pool, skipped, err := s.seedOne(ctx, chainID, venue, tokenA, tokenB)
			if err != nil {
				return nil, err
			}
			if skipped {
				result.SkippedPairs = append(result.SkippedPairs, fmt.Sprintf("%s/%s on %s", pair.SymbolA, pair.SymbolB, venue.Name))
				continue
			}
			result.Pools = append(result.Pools, pool)
			result.AddressToID[chain.NormalizeAddress(pool.Address)] = pool.PoolID
		}
	}

	return result, nil
}

// seedOne resolves a single (venue, token pair) combination: asks the
// factory for the pool address, cross-checks the factory's own token0/
// token1 against the configured pair (Open Question 2), and reads the
// starting reserves.
func (s *Seeder) seedOne(ctx context.Context, chainID chains.ChainID, venue chains.VenueConfig, tokenA, tokenB chains.TokenConfig) (domain.Pool, bool, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return domain.Pool{}, false, fmt.Errorf("config: rate limiter: %w", err)
	}
	poolAddr, err := s.client.GetPair(ctx, venue.FactoryAddress, tokenA.Address, tokenB.Address)
	if err != nil {
		return domain.Pool{}, false, fmt.Errorf("config: getPair %s/%s on %s: %w", tokenA.Symbol, tokenB.Symbol, venue.Name, err)
	}
	if strings.EqualFold(poolAddr, zeroAddress) {
		return domain.Pool{}, true, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return domain.Pool{}, false, fmt.Errorf("config: rate limiter: %w", err)
	}
	info, err := s.client.ResolvePair(ctx, poolAddr)
	if err != nil {
		return domain.Pool{}, false, fmt.Errorf("config: resolve pair at %s: %w", poolAddr, err)
	}

	var token0Symbol, token1Symbol string
	var token0Configured, token1Configured int
	switch {
	case sameAddress(info.Token0, tokenA.Address) && sameAddress(info.Token1, tokenB.Address):
		token0Symbol, token1Symbol = tokenA.Symbol, tokenB.Symbol
		token0Configured, token1Configured = tokenA.Decimals, tokenB.Decimals
	case sameAddress(info.Token0, tokenB.Address) && sameAddress(info.Token1, tokenA.Address):
		token0Symbol, token1Symbol = tokenB.Symbol, tokenA.Symbol
		token0Configured, token1Configured = tokenB.Decimals, tokenA.Decimals
	default:
		s.logger.WithFields(map[string]interface{}{
			"pool":   poolAddr,
			"token0": info.Token0,
			"token1": info.Token1,
			"pair":   tokenA.Symbol + "/" + tokenB.Symbol,
		}).Warn("factory pool token0/token1 does not match configured pair, skipping")
		return domain.Pool{}, true, nil
	}

	decimals0, err := s.resolveDecimals(ctx, info.Token0, token0Configured)
	if err != nil {
		return domain.Pool{}, false, err
	}
	decimals1, err := s.resolveDecimals(ctx, info.Token1, token1Configured)
	if err != nil {
		return domain.Pool{}, false, err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return domain.Pool{}, false, fmt.Errorf("config: rate limiter: %w", err)
	}
	reserve0, reserve1, _, err := s.client.GetReserves(ctx, poolAddr)
	if err != nil {
		return domain.Pool{}, false, fmt.Errorf("config: getReserves %s: %w", poolAddr, err)
	}

	pool := domain.Pool{
		PoolID:       fmt.Sprintf("%s:%s:%s", chainID, venue.Name, chain.NormalizeAddress(poolAddr)),
		Chain:        chainID,
		Venue:        venue.Name,
		Address:      poolAddr,
		Token0Symbol: token0Symbol,
		Token1Symbol: token1Symbol,
		Token0Addr:   info.Token0,
		Token1Addr:   info.Token1,
		Decimals0:    decimals0,
		Decimals1:    decimals1,
		FeeBps:       venue.FeeBps,
		Reserve0:     reserve0,
		Reserve1:     reserve1,
		Active:       !reserve0.IsZero() && !reserve1.IsZero(),
	}
	return pool, false, nil
}

func sameAddress(a, b string) bool {
	return strings.EqualFold(chain.NormalizeAddress(a), chain.NormalizeAddress(b))
}

func tokenUSDInfo(t chains.TokenConfig) registry.TokenUSDInfo {
	if t.ReferenceUSD == "" {
		return registry.TokenUSDInfo{Stable: t.Stable}
	}
	usd, err := decimal.NewFromString(t.ReferenceUSD)
	if err != nil {
		return registry.TokenUSDInfo{Stable: t.Stable}
	}
	return registry.TokenUSDInfo{ReferenceUSD: usd, Stable: t.Stable, HasReference: true}
}
