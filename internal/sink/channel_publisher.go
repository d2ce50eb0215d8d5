package sink

import (
	"github.com/r3e-network/arb-engine/internal/domain"
)

// ChannelPublisher is the default Publisher: a bounded in-process channel,
// suitable when the consumer lives in the same process (tests, the CLI's
// built-in opportunity log). A full channel reports backpressure rather
// than blocking the sink.
type ChannelPublisher struct {
	out chan domain.ArbitragePath
}

// NewChannelPublisher creates a ChannelPublisher with the given queue depth.
func NewChannelPublisher(depth int) *ChannelPublisher {
	if depth <= 0 {
		depth = 256
	}
	return &ChannelPublisher{out: make(chan domain.ArbitragePath, depth)}
}

// Publish implements Publisher.
func (p *ChannelPublisher) Publish(opportunity domain.ArbitragePath) error {
	select {
	case p.out <- opportunity:
		return nil
	default:
		return ErrPublisherBackpressure
	}
}

// Opportunities returns the read side of the channel for a consumer to range over.
func (p *ChannelPublisher) Opportunities() <-chan domain.ArbitragePath {
	return p.out
}
