package resilience

import (
	"time"

	"github.com/r3e-network/arb-engine/infrastructure/logging"
)

// ChainCircuitBreakerConfig provides preconfigured circuit breaker settings
// for a chain's subscriber/detector pipeline.
type ChainCircuitBreakerConfig struct {
	MaxFailures    int
	TimeoutSeconds int
	HalfOpenMax    int
	Logger         *logging.Logger
}

// DefaultChainCBConfig returns a circuit breaker configuration suitable for
// most chain pipelines: MaxFailures 5, Timeout 30s, HalfOpenMax 3.
func DefaultChainCBConfig(logger *logging.Logger) Config {
	return ChainCBConfig(ChainCircuitBreakerConfig{
		MaxFailures:    5,
		TimeoutSeconds: 30,
		HalfOpenMax:    3,
		Logger:         logger,
	})
}

// StrictChainCBConfig fails fast: MaxFailures 3, Timeout 60s, HalfOpenMax 1.
// Nothing in the engine uses it; the detector's per-chain panic containment
// (§4.4.4) does not go through a circuit breaker.
func StrictChainCBConfig(logger *logging.Logger) Config {
	return ChainCBConfig(ChainCircuitBreakerConfig{
		MaxFailures:    3,
		TimeoutSeconds: 60,
		HalfOpenMax:    1,
		Logger:         logger,
	})
}

// ChainCBConfig creates a Config from ChainCircuitBreakerConfig.
func ChainCBConfig(cfg ChainCircuitBreakerConfig) Config {
	cbConfig := Config{
		MaxFailures: cfg.MaxFailures,
		Timeout:     SecondsToDuration(cfg.TimeoutSeconds),
		HalfOpenMax: cfg.HalfOpenMax,
	}

	if cbConfig.MaxFailures <= 0 {
		cbConfig.MaxFailures = 5
	}
	if cbConfig.Timeout <= 0 {
		cbConfig.Timeout = 30 * time.Second
	}
	if cbConfig.HalfOpenMax <= 0 {
		cbConfig.HalfOpenMax = 3
	}

	if cfg.Logger != nil {
		cbConfig.OnStateChange = func(from, to State) {
			cfg.Logger.WithFields(map[string]interface{}{
				"from_state": from.String(),
				"to_state":   to.String(),
			}).Warn("circuit breaker state changed")
		}
	}

	return cbConfig
}

// SecondsToDuration converts seconds to a Duration.
func SecondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
