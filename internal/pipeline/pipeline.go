// Package pipeline wires the five components (C1-C5) together for one
// chain: Chain Subscriber -> Event Decoder -> Pool Registry -> Arbitrage
// Detector -> Opportunity Sink, matching the dataflow in spec.md §2.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/r3e-network/arb-engine/infrastructure/chain"
	"github.com/r3e-network/arb-engine/infrastructure/chains"
	"github.com/r3e-network/arb-engine/infrastructure/logging"
	"github.com/r3e-network/arb-engine/internal/config"
	"github.com/r3e-network/arb-engine/internal/detector"
	"github.com/r3e-network/arb-engine/internal/ingest"
	"github.com/r3e-network/arb-engine/internal/registry"
	"github.com/r3e-network/arb-engine/internal/sink"
	"github.com/r3e-network/arb-engine/pkg/metrics"
)

// rpcTimeout bounds every outstanding RPC call per §5's cancellation rules.
const rpcTimeout = 10 * time.Second

// livenessSweepSpec and livenessStaleAfter drive the Pool Registry's
// staleness quarantine: a pool whose last applied update is older than
// livenessStaleAfter is marked inactive until a fresh update revives it.
// Pools with no applied update since seeding are not swept.
const (
	livenessSweepSpec  = "@every 30s"
	livenessStaleAfter = 5 * time.Minute
)

// Pipeline is one chain's fully wired pipeline.
type Pipeline struct {
	chain       chains.ChainID
	subscriber  *chain.Subscriber
	registry    *registry.Registry
	decoder     *ingest.Decoder
	detector    *detector.Detector
	sink        *sink.Sink
	logger      *logging.Logger
	livenessJob *cron.Cron
}

// Options configures one chain's pipeline construction.
type Options struct {
	ChainConfig chains.ChainConfig
	FullConfig  *chains.Config
	Publisher   sink.Publisher
	Logger      *logging.Logger
	ZapLogger   *zap.Logger
}

// Build constructs a chain's pipeline: it dials an RPC client, seeds the
// Pool Registry from on-chain truth, and wires the decoder, detector, and
// sink around it. The Chain Subscriber is constructed but not started;
// call Run to start streaming.
func Build(ctx context.Context, opts Options) (*Pipeline, error) {
	chainID := opts.ChainConfig.ID
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewFromEnv("pipeline")
	}

	if len(opts.ChainConfig.RPCEndpoints) == 0 {
		return nil, fmt.Errorf("pipeline: chain %s has no rpc endpoints", chainID)
	}
	client, err := chain.NewClient(chain.Config{
		Endpoints: opts.ChainConfig.RPCEndpoints,
		Timeout:   rpcTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: create rpc client: %w", err)
	}

	seedCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	seeded, err := config.NewSeeder(client, logger).Seed(seedCtx, opts.FullConfig, chainID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: seed pools: %w", err)
	}
	for _, skipped := range seeded.SkippedPairs {
		logger.WithFields(map[string]interface{}{"chain": string(chainID), "pair": skipped}).
			Info("configured pair skipped during seeding")
	}

	reg, err := registry.New(registry.Config{
		Chain:           chainID,
		MinLiquidityUSD: mustDecimal(opts.ChainConfig.MinLiquidityUSD),
		TokenUSD:        seeded.TokenUSD,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: create registry: %w", err)
	}
	for _, pool := range seeded.Pools {
		reg.Register(pool)
	}
	metrics.SetActivePoolCount(string(chainID), reg.ActivePoolCount())

	resolver := func(address string) (string, bool) {
		id, ok := seeded.AddressToID[chain.NormalizeAddress(address)]
		return id, ok
	}
	decoder := ingest.NewDecoder(string(chainID), resolver)

	sinkInstance, err := sink.New(sink.Config{
		Chain:         string(chainID),
		DedupWindow:   time.Duration(opts.FullConfig.Detector.DedupWindowSec) * time.Second,
		PairwiseValid: time.Duration(opts.FullConfig.Detector.PairwiseValidSec) * time.Second,
		MultiHopValid: time.Duration(opts.FullConfig.Detector.MultiHopValidSec) * time.Second,
		Publisher:     opts.Publisher,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: create sink: %w", err)
	}

	det := detector.New(chainID, reg, detector.Params{
		MinSpreadBps:     opts.FullConfig.Detector.MinSpreadBps,
		MaxSpreadBps:     opts.FullConfig.Detector.MaxSpreadBps,
		MaxHops:          opts.FullConfig.Detector.MaxHops,
		TopKPerPass:      opts.FullConfig.Detector.TopKPerPass,
		PairwiseValid:    time.Duration(opts.FullConfig.Detector.PairwiseValidSec) * time.Second,
		MultiHopValid:    time.Duration(opts.FullConfig.Detector.MultiHopValidSec) * time.Second,
		NativeUSDPrice:   mustDecimal(opts.ChainConfig.NativeUSDPrice),
		GasPerHop:        opts.ChainConfig.GasPerHop,
		GasPriceWei:      mustDecimal(opts.ChainConfig.GasPriceWei),
		AnchorTokens:     opts.ChainConfig.AnchorTokens,
		PositionFraction: detector.DefaultPositionFraction,
	}, sinkInstance, opts.ZapLogger)

	var addresses []string
	for addr := range seeded.AddressToID {
		addresses = append(addresses, "0x"+addr)
	}

	subscriber, err := chain.NewSubscriber(chain.SubscriberConfig{
		ChainID:   string(chainID),
		Endpoints: opts.ChainConfig.StreamingEndpoint,
		Addresses: addresses,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: create subscriber: %w", err)
	}

	p := &Pipeline{
		chain:      chainID,
		subscriber: subscriber,
		registry:   reg,
		decoder:    decoder,
		detector:   det,
		sink:       sinkInstance,
		logger:     logger,
	}

	subscriber.OnLog(p.handleLog)
	subscriber.OnFatal(func(err error) {
		logger.WithError(err).Error("chain subscriber exhausted reconnect attempts")
	})

	livenessJob, err := reg.StartLivenessSweep(livenessSweepSpec, livenessStaleAfter)
	if err != nil {
		return nil, fmt.Errorf("pipeline: start liveness sweep: %w", err)
	}
	p.livenessJob = livenessJob

	return p, nil
}

// handleLog is the Chain Subscriber's per-log callback: decode, apply,
// then let the detector re-evaluate synchronously (§5: per-pool updates
// are serialized, so handling one log fully before the next preserves the
// sequence-order guarantee end to end).
func (p *Pipeline) handleLog(log chain.RawLog) error {
	update, err := p.decoder.Decode(log)
	if err != nil {
		return nil // already recorded via metrics; malformed logs never reach the registry
	}

	applied, err := p.registry.Apply(update)
	if err != nil || !applied {
		return nil
	}

	pool, ok := p.registry.Get(update.PoolID)
	if !ok {
		return nil
	}
	p.detector.HandleUpdate(pool)
	metrics.SetActivePoolCount(string(p.chain), p.registry.ActivePoolCount())
	return nil
}

// Run starts the chain's streaming subscription. It blocks until ctx is
// canceled, then stops the subscriber and returns.
func (p *Pipeline) Run(ctx context.Context) error {
	metrics.SetChainConnected(string(p.chain), false)
	if err := p.subscriber.Start(ctx); err != nil {
		return fmt.Errorf("pipeline: start subscriber: %w", err)
	}
	metrics.SetChainConnected(string(p.chain), true)

	<-ctx.Done()
	p.subscriber.Stop()
	if p.livenessJob != nil {
		p.livenessJob.Stop()
	}
	metrics.SetChainConnected(string(p.chain), false)
	return nil
}

// mustDecimal parses a configured decimal-string field, defaulting to zero
// on an empty or malformed value rather than failing startup over a
// secondary parameter like native-asset USD price.
func mustDecimal(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return v
}
