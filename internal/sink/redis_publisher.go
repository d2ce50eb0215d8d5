package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/r3e-network/arb-engine/internal/domain"
)

// RedisPublisher hands opportunities off via Redis Pub/Sub: transient
// fan-out to any number of external consumers, not persistence (§6's
// "Persisted state: none" carries through to the publisher boundary too).
type RedisPublisher struct {
	client  *redis.Client
	channel string
	timeout time.Duration
}

// RedisPublisherConfig configures a RedisPublisher.
type RedisPublisherConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	Timeout  time.Duration
}

// NewRedisPublisher dials a Redis client and wraps it as a Publisher.
func NewRedisPublisher(cfg RedisPublisherConfig) *RedisPublisher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	channel := cfg.Channel
	if channel == "" {
		channel = "arb_engine.opportunities"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisPublisher{client: client, channel: channel, timeout: timeout}
}

// opportunityMessage is the wire shape published to the channel: enough to
// reconstruct the decision without forcing consumers onto the engine's
// internal uint256/Ratio types.
type opportunityMessage struct {
	ID                 string    `json:"id"`
	Chain              string    `json:"chain"`
	Kind               string    `json:"kind"`
	HopCount           int       `json:"hop_count"`
	PoolIDs            []string  `json:"pool_ids"`
	GrossProfitBps     int64     `json:"gross_profit_bps"`
	NetProfitBps       int64     `json:"net_profit_bps"`
	EstimatedProfitUSD string    `json:"estimated_profit_usd"`
	Confidence         float64   `json:"confidence"`
	ConfidenceLabel    string    `json:"confidence_label"`
	DetectedAt         time.Time `json:"detected_at"`
	ValidUntil         time.Time `json:"valid_until"`
}

// Publish implements Publisher. A Redis command error or timeout is
// reported as backpressure: the sink treats downstream unavailability the
// same way regardless of cause, per §4.5's "if the publisher rejects, the
// sink signals backpressure to C4".
func (p *RedisPublisher) Publish(opportunity domain.ArbitragePath) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	poolIDs := make([]string, len(opportunity.Edges))
	for i, e := range opportunity.Edges {
		poolIDs[i] = e.PoolID
	}

	payload, err := json.Marshal(opportunityMessage{
		ID:                 opportunity.ID,
		Chain:              string(opportunity.Chain),
		Kind:               opportunity.Kind,
		HopCount:           opportunity.HopCount,
		PoolIDs:            poolIDs,
		GrossProfitBps:     opportunity.GrossProfitBps,
		NetProfitBps:       opportunity.NetProfitBps,
		EstimatedProfitUSD: opportunity.EstimatedProfitUSD.String(),
		Confidence:         opportunity.Confidence,
		ConfidenceLabel:    string(opportunity.ConfidenceLabel),
		DetectedAt:         opportunity.DetectedAt,
		ValidUntil:         opportunity.ValidUntil,
	})
	if err != nil {
		return fmt.Errorf("sink: marshal opportunity: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return ErrPublisherBackpressure
	}
	return nil
}

// Close releases the underlying Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
