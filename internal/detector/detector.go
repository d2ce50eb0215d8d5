// Package detector implements the Arbitrage Detector (C4): on every
// reserve update it evaluates pairwise cross-venue spreads and bounded
// multi-hop cycles, scores confidence, and hands candidates to an emitter.
package detector

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/r3e-network/arb-engine/infrastructure/chains"
	"github.com/r3e-network/arb-engine/internal/domain"
	"github.com/r3e-network/arb-engine/internal/registry"
	"github.com/r3e-network/arb-engine/pkg/metrics"
)

// State is the per-chain detector state machine (§4.4.4).
type State string

const (
	StateIdle          State = "idle"
	StateEvaluating    State = "evaluating"
	StateBackpressured State = "backpressured"
)

// Emitter is the abstract downstream the detector hands candidate paths
// to (the Opportunity Sink, C5). ErrBackpressure signals the sink cannot
// accept more right now.
type Emitter interface {
	Submit(path domain.ArbitragePath) error
}

// ErrBackpressure is returned by Emitter.Submit when the sink is saturated.
type ErrBackpressureType struct{}

func (ErrBackpressureType) Error() string { return "detector: emitter signaled backpressure" }

// ErrBackpressure is the sentinel value Emitter implementations return.
var ErrBackpressure error = ErrBackpressureType{}

// Params holds the detector's tunable parameters, resolved from
// infrastructure/chains.Config at startup.
type Params struct {
	MinSpreadBps     int
	MaxSpreadBps     int
	MaxHops          int
	TopKPerPass      int
	PairwiseValid    time.Duration
	MultiHopValid    time.Duration
	NativeUSDPrice   decimal.Decimal
	GasPerHop        uint64
	GasPriceWei      decimal.Decimal
	AnchorTokens     []string
	PositionFraction decimal.Decimal
}

// DefaultPositionFraction sizes a candidate cycle's input at 1% of the
// bottleneck reserve absent an explicit configuration.
var DefaultPositionFraction = decimal.NewFromFloat(0.01)

// Detector runs both detection algorithms for one chain.
type Detector struct {
	chain    chains.ChainID
	registry *registry.Registry
	params   Params
	emitter  Emitter
	logger   *zap.Logger

	mu    sync.Mutex
	state State
}

// New creates a Detector for one chain.
func New(chain chains.ChainID, reg *registry.Registry, params Params, emitter Emitter, logger *zap.Logger) *Detector {
	if params.PositionFraction.IsZero() {
		params.PositionFraction = DefaultPositionFraction
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		chain:    chain,
		registry: reg,
		params:   params,
		emitter:  emitter,
		logger:   logger.Named("detector").With(zap.String("chain", string(chain))),
		state:    StateIdle,
	}
}

// State returns the detector's current state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Detector) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
	metrics.SetDetectorState(string(d.chain), string(s))
}

// HandleUpdate runs a full detection pass triggered by a reserve update
// already applied to the registry. It must not suspend (§5): every
// registry read is a non-blocking snapshot and every RPC-free computation
// runs to completion before returning.
func (d *Detector) HandleUpdate(pool domain.Pool) {
	defer d.recoverPanic()

	// A prior pass may have left the detector backpressured; re-attempt
	// rather than dropping this update, so a single transient sink
	// rejection doesn't starve detection until an unrelated pool updates.
	d.setState(StateEvaluating)
	start := time.Now()

	var candidates []domain.ArbitragePath

	pairwise, err := d.detectPairwise(pool)
	if err != nil {
		metrics.RecordDetectionError(string(d.chain), "pairwise")
		d.logger.Warn("pairwise detection error", zap.Error(err))
	}
	candidates = append(candidates, pairwise...)
	metrics.RecordDetectionPass(string(d.chain), "pairwise", time.Since(start))

	hopStart := time.Now()
	multihop, err := d.detectMultiHop(pool)
	if err != nil {
		metrics.RecordDetectionError(string(d.chain), "multi_hop")
		d.logger.Warn("multi-hop detection error", zap.Error(err))
	}
	candidates = append(candidates, multihop...)
	metrics.RecordDetectionPass(string(d.chain), "multi_hop", time.Since(hopStart))

	top := topK(candidates, d.params.TopKPerPass)

	backpressured := false
	for _, path := range top {
		if err := d.emitter.Submit(path); err != nil {
			if err == ErrBackpressure {
				backpressured = true
				break
			}
			d.logger.Warn("emit failed", zap.Error(err), zap.String("kind", path.Kind))
			continue
		}
		metrics.RecordOpportunityEmitted(string(d.chain), path.Kind)
	}

	if backpressured {
		d.setState(StateBackpressured)
	} else {
		d.setState(StateIdle)
	}
}

// recoverPanic contains a panic inside a single detection pass to this
// chain's detector, per §4.4.4: it never propagates across chains.
func (d *Detector) recoverPanic() {
	if r := recover(); r != nil {
		metrics.RecordDetectorPanic(string(d.chain))
		d.logger.Error("detector panic recovered, restarting from current snapshot", zap.Any("panic", r))
		d.setState(StateIdle)
	}
}

// topK sorts candidates by net profit descending and returns the top K.
func topK(paths []domain.ArbitragePath, k int) []domain.ArbitragePath {
	sort.SliceStable(paths, func(i, j int) bool {
		return paths[i].NetProfitBps > paths[j].NetProfitBps
	})
	if k <= 0 || k >= len(paths) {
		return paths
	}
	return paths[:k]
}

// gasCostUSD estimates the gas cost in USD of a path with the given hop
// count: gas_per_hop · hops · gas_price · native_usd_price.
func (d *Detector) gasCostUSD(hops int) decimal.Decimal {
	gasUnits := decimal.NewFromInt(int64(d.params.GasPerHop * uint64(hops)))
	return gasUnits.Mul(d.params.GasPriceWei).Mul(d.params.NativeUSDPrice).Div(decimal.New(1, 18))
}

