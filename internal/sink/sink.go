// Package sink implements the Opportunity Sink (C5): deduplicates detected
// arbitrage paths within a short window, assigns opaque IDs and validity
// windows, and hands them to an abstract publisher, signaling backpressure
// back to the detector when the publisher cannot keep up.
package sink

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/arb-engine/infrastructure/cache"
	"github.com/r3e-network/arb-engine/infrastructure/logging"
	"github.com/r3e-network/arb-engine/internal/detector"
	"github.com/r3e-network/arb-engine/internal/domain"
	"github.com/r3e-network/arb-engine/pkg/metrics"
)

// ErrPublisherBackpressure is returned by a Publisher when it cannot accept
// another opportunity right now.
var ErrPublisherBackpressure = errors.New("sink: publisher backpressure")

// Publisher is the abstract, asynchronous one-way outbound interface (§6).
// Implementations must not block the caller for longer than their own
// internal queueing allows; a full queue returns ErrPublisherBackpressure.
type Publisher interface {
	Publish(opportunity domain.ArbitragePath) error
}

// Config configures a Sink for one chain.
type Config struct {
	Chain         string
	DedupWindow   time.Duration
	PairwiseValid time.Duration
	MultiHopValid time.Duration
	Publisher     Publisher
	Logger        *logging.Logger
}

const (
	defaultDedupWindow   = 15 * time.Second
	defaultPairwiseValid = 30 * time.Second
	defaultMultiHopValid = 15 * time.Second
)

// Sink is the per-chain Opportunity Sink.
type Sink struct {
	chain     string
	dedup     *cache.Cache
	window    time.Duration
	pairwise  time.Duration
	multihop  time.Duration
	publisher Publisher
	logger    *logging.Logger
}

// New creates a Sink for one chain.
func New(cfg Config) (*Sink, error) {
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("sink: publisher is required")
	}
	window := cfg.DedupWindow
	if window <= 0 {
		window = defaultDedupWindow
	}
	pairwise := cfg.PairwiseValid
	if pairwise <= 0 {
		pairwise = defaultPairwiseValid
	}
	multihop := cfg.MultiHopValid
	if multihop <= 0 {
		multihop = defaultMultiHopValid
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewFromEnv("sink")
	}

	return &Sink{
		chain:     cfg.Chain,
		dedup:     cache.NewCache(cache.CacheConfig{DefaultTTL: window}),
		window:    window,
		pairwise:  pairwise,
		multihop:  multihop,
		publisher: cfg.Publisher,
		logger:    logger,
	}, nil
}

// Submit implements detector.Emitter: it deduplicates by (chain,
// canonical-cycle-id), stamps ID and validity window, and hands the
// opportunity to the publisher.
func (s *Sink) Submit(path domain.ArbitragePath) error {
	dedupKey := s.chain + ":" + domain.CanonicalCycleID(path.Edges)
	if !s.dedup.SetIfAbsent(dedupKey, struct{}{}, s.window) {
		metrics.RecordOpportunityDeduped(s.chain)
		return nil
	}

	path.ID = uuid.NewString()
	validity := s.pairwise
	if path.Kind == "multi_hop" {
		validity = s.multihop
	}
	path.ValidUntil = path.DetectedAt.Add(validity)

	if err := s.publisher.Publish(path); err != nil {
		if errors.Is(err, ErrPublisherBackpressure) {
			metrics.SetPublisherBackpressure(s.chain, true)
			s.logger.WithField("path_id", path.ID).Warn("publisher backpressure")
			return detector.ErrBackpressure
		}
		s.logger.WithField("path_id", path.ID).WithError(err).Warn("publish failed")
		return fmt.Errorf("sink: publish: %w", err)
	}

	metrics.SetPublisherBackpressure(s.chain, false)
	return nil
}
