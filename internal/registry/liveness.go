package registry

import (
	"time"

	"github.com/robfig/cron/v3"
)

// StartLivenessSweep runs a periodic job (cron spec, e.g. "@every 30s")
// that quarantines pools with no applied update inside staleAfter by
// marking them inactive, so a stalled feed cannot leave a stale price
// eligible for detection. Only pools with at least one applied update are
// swept; a pool with none since registration keeps its state. Mirrors the scheduling idiom the teacher uses for
// price-feed heartbeats (internal/app/services/pricefeed).
func (r *Registry) StartLivenessSweep(spec string, staleAfter time.Duration) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		r.sweepStale(staleAfter)
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

func (r *Registry) sweepStale(staleAfter time.Duration) {
	cutoff := time.Now().Add(-staleAfter)

	r.mu.RLock()
	slots := make([]*poolSlot, 0, len(r.slots))
	for _, s := range r.slots {
		slots = append(slots, s)
	}
	r.mu.RUnlock()

	for _, slot := range slots {
		slot.mu.Lock()
		if !slot.pool.LastUpdateWall.IsZero() && slot.pool.LastUpdateWall.Before(cutoff) && slot.pool.Active {
			slot.pool.Active = false
			token0, token1 := slot.pool.Token0Symbol, slot.pool.Token1Symbol
			slot.mu.Unlock()
			r.edgeCache.Remove(r.tokenCacheKey(token0))
			r.edgeCache.Remove(r.tokenCacheKey(token1))
			continue
		}
		slot.mu.Unlock()
	}
}
