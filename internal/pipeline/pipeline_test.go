package pipeline_test

// Scenario-level tests exercising the Pool Registry, Arbitrage Detector, and
// Opportunity Sink wired together the way pipeline.Build wires them,
// covering the engine's invariant scenarios.

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/arb-engine/infrastructure/chains"
	"github.com/r3e-network/arb-engine/internal/detector"
	"github.com/r3e-network/arb-engine/internal/domain"
	"github.com/r3e-network/arb-engine/internal/registry"
	"github.com/r3e-network/arb-engine/internal/sink"
)

func newScenarioRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(registry.Config{
		Chain:           chains.ChainBSC,
		MinLiquidityUSD: decimal.NewFromInt(1000),
		TokenUSD: map[string]registry.TokenUSDInfo{
			"bsc:WBNB": {ReferenceUSD: decimal.NewFromInt(500), HasReference: true},
			"bsc:BUSD": {ReferenceUSD: decimal.NewFromInt(1), HasReference: true, Stable: true},
			"bsc:USDT": {ReferenceUSD: decimal.NewFromInt(1), HasReference: true, Stable: true},
		},
	})
	require.NoError(t, err)
	return reg
}

var oneToken = uint256.NewInt(1_000_000_000_000_000_000)

func tokenAmount(whole uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(whole), oneToken)
}

// wbnbBusdPool builds a WBNB/BUSD test pool from whole-token reserve
// counts, scaled to 18 decimals so call sites stay within uint64.
func wbnbBusdPool(id, venue string, wholeR0, wholeR1 uint64) domain.Pool {
	return domain.Pool{
		PoolID: id, Chain: chains.ChainBSC, Venue: venue,
		Token0Symbol: "WBNB", Token1Symbol: "BUSD",
		Decimals0: 18, Decimals1: 18, FeeBps: 25,
		Reserve0: tokenAmount(wholeR0), Reserve1: tokenAmount(wholeR1), Active: true,
	}
}

func scenarioParams(anchors ...string) detector.Params {
	return detector.Params{
		MinSpreadBps:     10,
		MaxSpreadBps:     100000,
		MaxHops:          4,
		TopKPerPass:      10,
		PairwiseValid:    30 * time.Second,
		MultiHopValid:    15 * time.Second,
		NativeUSDPrice:   decimal.NewFromInt(500),
		GasPerHop:        150000,
		GasPriceWei:      decimal.NewFromInt(5_000_000_000),
		AnchorTokens:     anchors,
		PositionFraction: decimal.NewFromFloat(0.01),
	}
}

func newSinkOver(t *testing.T, pub sink.Publisher) *sink.Sink {
	t.Helper()
	s, err := sink.New(sink.Config{
		Chain:         string(chains.ChainBSC),
		DedupWindow:   time.Minute,
		PairwiseValid: 30 * time.Second,
		MultiHopValid: 15 * time.Second,
		Publisher:     pub,
	})
	require.NoError(t, err)
	return s
}

// S1: a cross-venue spread on the same pair is detected and published.
func TestScenarioPairwiseSpreadPublished(t *testing.T) {
	reg := newScenarioRegistry(t)
	cheap := wbnbBusdPool("p1", "pancakeswap", 1_000, 500_000)
	rich := wbnbBusdPool("p2", "biswap", 1_000, 560_000)
	reg.Register(cheap)
	reg.Register(rich)

	publisher := sink.NewChannelPublisher(8)
	s := newSinkOver(t, publisher)
	d := detector.New(chains.ChainBSC, reg, scenarioParams(), s, nil)

	d.HandleUpdate(cheap)

	select {
	case opp := <-publisher.Opportunities():
		require.Equal(t, "pairwise", opp.Kind)
		require.NotEmpty(t, opp.ID)
	default:
		t.Fatal("expected a published opportunity")
	}
	require.Equal(t, detector.StateIdle, d.State())
}

// S2: a triangular mispricing across three pools is found by the multi-hop
// search and survives the exact re-simulation gate.
func TestScenarioTriangularCycleDetected(t *testing.T) {
	reg := newScenarioRegistry(t)

	wbnbBusd := domain.Pool{
		PoolID: "wbnb-busd", Chain: chains.ChainBSC, Venue: "pancakeswap",
		Token0Symbol: "WBNB", Token1Symbol: "BUSD", Decimals0: 18, Decimals1: 18, FeeBps: 25,
		Reserve0: tokenAmount(1_000),
		Reserve1: tokenAmount(500_000),
		Active:   true,
	}
	busdUsdt := domain.Pool{
		PoolID: "busd-usdt", Chain: chains.ChainBSC, Venue: "pancakeswap",
		Token0Symbol: "BUSD", Token1Symbol: "USDT", Decimals0: 18, Decimals1: 18, FeeBps: 25,
		Reserve0: tokenAmount(1_000_000),
		Reserve1: tokenAmount(2_000_000),
		Active:   true,
	}
	usdtWbnb := domain.Pool{
		PoolID: "usdt-wbnb", Chain: chains.ChainBSC, Venue: "pancakeswap",
		Token0Symbol: "USDT", Token1Symbol: "WBNB", Decimals0: 18, Decimals1: 18, FeeBps: 25,
		Reserve0: tokenAmount(500_000),
		Reserve1: tokenAmount(1_000),
		Active:   true,
	}
	reg.Register(wbnbBusd)
	reg.Register(busdUsdt)
	reg.Register(usdtWbnb)

	publisher := sink.NewChannelPublisher(8)
	s := newSinkOver(t, publisher)
	d := detector.New(chains.ChainBSC, reg, scenarioParams("WBNB"), s, nil)

	d.HandleUpdate(usdtWbnb)

	select {
	case opp := <-publisher.Opportunities():
		require.Equal(t, "multi_hop", opp.Kind)
		require.GreaterOrEqual(t, opp.HopCount, 3)
		require.Greater(t, opp.NetProfitBps, int64(0))
	default:
		t.Fatal("expected a published multi-hop opportunity")
	}
}

// S3: an update with a sequence at or behind the pool's current sequence is
// discarded, leaving reserves and state untouched.
func TestScenarioStaleSequenceRejected(t *testing.T) {
	reg := newScenarioRegistry(t)
	p := wbnbBusdPool("p1", "pancakeswap", 1_000, 500_000)
	reg.Register(p)

	applied, err := reg.Apply(domain.ReserveUpdate{
		PoolID: "p1", Reserve0: tokenAmount(900), Reserve1: p.Reserve1,
		Sequence: domain.Sequence{BlockNumber: 10, LogIndex: 2},
	})
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = reg.Apply(domain.ReserveUpdate{
		PoolID: "p1", Reserve0: uint256.NewInt(1), Reserve1: uint256.NewInt(1),
		Sequence: domain.Sequence{BlockNumber: 10, LogIndex: 1},
	})
	require.NoError(t, err)
	require.False(t, applied)

	got, ok := reg.Get("p1")
	require.True(t, ok)
	require.True(t, got.Reserve0.Eq(tokenAmount(900)))
}

// S4: a pool that drains to zero reserves goes inactive (no edges, no
// price), and reactivates cleanly once reserves return.
func TestScenarioZeroReserveDeactivatesAndReactivates(t *testing.T) {
	reg := newScenarioRegistry(t)
	p := wbnbBusdPool("p1", "pancakeswap", 1_000, 500_000)
	reg.Register(p)

	_, err := reg.Apply(domain.ReserveUpdate{
		PoolID: "p1", Reserve0: uint256.NewInt(0), Reserve1: uint256.NewInt(0),
		Sequence: domain.Sequence{BlockNumber: 1},
	})
	require.NoError(t, err)

	drained, ok := reg.Get("p1")
	require.True(t, ok)
	require.False(t, drained.Active)
	require.Empty(t, domain.EdgesForPool(&drained))

	_, err = reg.Apply(domain.ReserveUpdate{
		PoolID: "p1", Reserve0: tokenAmount(1_000), Reserve1: tokenAmount(500_000),
		Sequence: domain.Sequence{BlockNumber: 2},
	})
	require.NoError(t, err)

	revived, ok := reg.Get("p1")
	require.True(t, ok)
	require.True(t, revived.Active)
	require.Len(t, domain.EdgesForPool(&revived), 2)
}

// S5: once the publisher backs up, the detector reports StateBackpressured
// and drops the remaining batch; a detector whose sink has publisher room
// (a fresh sink and publisher here) ends its pass back in StateIdle.
func TestScenarioBackpressureThenResume(t *testing.T) {
	reg := newScenarioRegistry(t)
	cheap := wbnbBusdPool("p1", "pancakeswap", 1_000, 500_000)
	rich := wbnbBusdPool("p2", "biswap", 1_000, 560_000)
	reg.Register(cheap)
	reg.Register(rich)

	publisher := sink.NewChannelPublisher(1)
	require.NoError(t, publisher.Publish(domain.ArbitragePath{})) // fill the one slot so the next publish backs up
	s := newSinkOver(t, publisher)
	d := detector.New(chains.ChainBSC, reg, scenarioParams(), s, nil)

	d.HandleUpdate(cheap)
	require.Equal(t, detector.StateBackpressured, d.State())

	drainedPublisher := sink.NewChannelPublisher(8)
	s2 := newSinkOver(t, drainedPublisher)
	d2 := detector.New(chains.ChainBSC, reg, scenarioParams(), s2, nil)
	d2.HandleUpdate(cheap)
	require.Equal(t, detector.StateIdle, d2.State())
}

// S6: the same cycle discovered starting from a different pool in the
// rotation still dedups to one opportunity at the sink.
func TestScenarioRotationDuplicateDeduped(t *testing.T) {
	edgesA := []domain.Edge{
		{PoolID: "p1", TokenIn: "WBNB", TokenOut: "BUSD"},
		{PoolID: "p2", TokenIn: "BUSD", TokenOut: "USDT"},
		{PoolID: "p3", TokenIn: "USDT", TokenOut: "WBNB"},
	}
	edgesB := []domain.Edge{ // same cycle, rotated to start at p2
		{PoolID: "p2", TokenIn: "BUSD", TokenOut: "USDT"},
		{PoolID: "p3", TokenIn: "USDT", TokenOut: "WBNB"},
		{PoolID: "p1", TokenIn: "WBNB", TokenOut: "BUSD"},
	}
	require.Equal(t, domain.CanonicalCycleID(edgesA), domain.CanonicalCycleID(edgesB))

	publisher := sink.NewChannelPublisher(8)
	s := newSinkOver(t, publisher)

	base := domain.ArbitragePath{
		Chain: chains.ChainBSC, Kind: "multi_hop",
		NetProfitBps: 50, EstimatedProfitUSD: decimal.NewFromInt(5), DetectedAt: time.Now(),
	}
	first := base
	first.Edges = edgesA
	second := base
	second.Edges = edgesB

	require.NoError(t, s.Submit(first))
	require.NoError(t, s.Submit(second))

	count := 0
	for {
		select {
		case <-publisher.Opportunities():
			count++
		default:
			require.Equal(t, 1, count)
			return
		}
	}
}
