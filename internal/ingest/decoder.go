// Package ingest implements the Event Decoder (C2): it turns a RawLog from
// the Chain Subscriber into a typed ReserveUpdate, dropping anything
// malformed before it ever reaches the Pool Registry. Stale sequences are
// not checked here; the Pool Registry's Apply discards them.
package ingest

import (
	"fmt"
	"strings"

	"github.com/r3e-network/arb-engine/infrastructure/chain"
	"github.com/r3e-network/arb-engine/internal/domain"
	"github.com/r3e-network/arb-engine/pkg/metrics"
)

// maxUint112Bits is the bit width of a Solidity uint112; reserves decoded
// above this width are out of range and the payload is malformed.
const maxUint112Bits = 112

// PoolResolver maps a pool's on-chain address to its registry pool_id.
type PoolResolver func(address string) (poolID string, ok bool)

// Decoder decodes RawLog records into ReserveUpdate records for one chain.
type Decoder struct {
	chain   string
	resolve PoolResolver
}

// NewDecoder creates a Decoder for the given chain, resolving addresses to
// pool IDs via resolve.
func NewDecoder(chainID string, resolve PoolResolver) *Decoder {
	return &Decoder{chain: chainID, resolve: resolve}
}

// Decode maps one RawLog to a ReserveUpdate. Malformed or unrecognized
// payloads are reported via metrics and returned as an error; callers must
// not propagate a decode error to the Pool Registry (§4.2, §7).
func (d *Decoder) Decode(log chain.RawLog) (domain.ReserveUpdate, error) {
	if len(log.Topics) == 0 || !strings.EqualFold(log.Topics[0], chainSyncTopic) {
		metrics.RecordDecodeError(d.chain, "bad_topic")
		return domain.ReserveUpdate{}, fmt.Errorf("ingest: log topic0 is not the sync event")
	}

	words, err := chain.SplitWords(log.Data, 2)
	if err != nil {
		metrics.RecordDecodeError(d.chain, "bad_length")
		return domain.ReserveUpdate{}, fmt.Errorf("ingest: decode sync data: %w", err)
	}

	reserve0, err := chain.WordToUint256(words[0])
	if err != nil {
		metrics.RecordDecodeError(d.chain, "bad_length")
		return domain.ReserveUpdate{}, fmt.Errorf("ingest: decode reserve0: %w", err)
	}
	reserve1, err := chain.WordToUint256(words[1])
	if err != nil {
		metrics.RecordDecodeError(d.chain, "bad_length")
		return domain.ReserveUpdate{}, fmt.Errorf("ingest: decode reserve1: %w", err)
	}

	if reserve0.BitLen() > maxUint112Bits || reserve1.BitLen() > maxUint112Bits {
		metrics.RecordDecodeError(d.chain, "out_of_range")
		return domain.ReserveUpdate{}, fmt.Errorf("ingest: reserve exceeds uint112 range")
	}

	poolID, ok := d.resolve(log.Address)
	if !ok {
		metrics.RecordDecodeError(d.chain, "unknown_pool")
		return domain.ReserveUpdate{}, fmt.Errorf("ingest: no registered pool for address %s", log.Address)
	}

	return domain.ReserveUpdate{
		PoolID:   poolID,
		Reserve0: reserve0,
		Reserve1: reserve1,
		Sequence: domain.Sequence{BlockNumber: log.BlockNumber, LogIndex: log.LogIndex},
	}, nil
}

// chainSyncTopic aliases the subscriber's topic constant so the decoder
// does not need to depend on subscriber construction, only the wire
// constant both sides agree on.
const chainSyncTopic = chain.SyncEventTopic0
