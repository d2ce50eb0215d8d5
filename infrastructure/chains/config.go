// Package chains loads and validates the engine's per-chain, per-venue,
// per-token, and per-pair configuration (§6 of the engine's external
// interfaces).
package chains

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ChainID identifies a chain from the engine's closed set.
type ChainID string

const (
	ChainBSC      ChainID = "bsc"
	ChainEthereum ChainID = "ethereum"
	ChainArbitrum ChainID = "arbitrum"
	ChainBase     ChainID = "base"
)

var validChainIDs = map[ChainID]bool{
	ChainBSC:      true,
	ChainEthereum: true,
	ChainArbitrum: true,
	ChainBase:     true,
}

// ChainConfig is the per-chain configuration: endpoints, liquidity floor,
// and the parameters the Detector needs to estimate gas cost in USD.
type ChainConfig struct {
	ID                ChainID  `json:"id"`
	NativeSymbol      string   `json:"native_symbol"`
	NativeUSDPrice    string   `json:"native_usd_price"`
	StreamingEndpoint []string `json:"streaming_endpoints"`
	RPCEndpoints      []string `json:"rpc_endpoints"`
	MinLiquidityUSD   string   `json:"min_liquidity_usd"`
	GasPerHop         uint64   `json:"gas_per_hop"`
	GasPriceWei       string   `json:"gas_price_wei"`
	AnchorTokens      []string `json:"anchor_tokens"`
}

// VenueConfig is a named DEX on a chain, immutable for the engine's lifetime.
type VenueConfig struct {
	Chain          ChainID `json:"chain"`
	Name           string  `json:"name"`
	FactoryAddress string  `json:"factory_address"`
	RouterAddress  string  `json:"router_address"`
	FeeBps         int     `json:"fee_bps"`
}

// TokenConfig is a per-chain token record.
type TokenConfig struct {
	Chain         ChainID `json:"chain"`
	Address       string  `json:"address"`
	Symbol        string  `json:"symbol"`
	Decimals      int     `json:"decimals"`
	Stable        bool    `json:"stable"`
	ReferenceUSD  string  `json:"reference_usd_price,omitempty"`
}

// PairConfig names a token pair to monitor on a chain across all configured
// venues. The pool address for each (venue, pair) is discovered at startup
// via the venue factory, not configured directly.
type PairConfig struct {
	Chain   ChainID `json:"chain"`
	SymbolA string  `json:"symbol_a"`
	SymbolB string  `json:"symbol_b"`
}

// DetectorConfig holds the tunable parameters of the Arbitrage Detector (C4).
type DetectorConfig struct {
	MinSpreadBps      int `json:"min_spread_bps"`
	MaxSpreadBps      int `json:"max_spread_bps"`
	MaxHops           int `json:"max_hops"`
	TopKPerPass       int `json:"top_k_per_pass"`
	DedupWindowSec    int `json:"dedup_window_sec"`
	PairwiseValidSec  int `json:"pairwise_valid_sec"`
	MultiHopValidSec  int `json:"multi_hop_valid_sec"`
}

// DefaultDetectorConfig returns the values named in §6.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		MinSpreadBps:     5,
		MaxSpreadBps:     500,
		MaxHops:          8,
		TopKPerPass:      16,
		DedupWindowSec:   15,
		PairwiseValidSec: 30,
		MultiHopValidSec: 15,
	}
}

// Config is the full engine configuration, loaded once at startup.
type Config struct {
	Chains   []ChainConfig   `json:"chains"`
	Venues   []VenueConfig   `json:"venues"`
	Tokens   []TokenConfig   `json:"tokens"`
	Pairs    []PairConfig    `json:"pairs"`
	Detector DetectorConfig  `json:"detector"`
}

func DefaultConfigPath() string {
	return filepath.Join("config", "chains.json")
}

// LoadConfig resolves the configuration source in priority order: an inline
// JSON document in CHAINS_CONFIG_JSON, a file path in CHAINS_CONFIG_PATH,
// or the default path.
func LoadConfig() (*Config, error) {
	if raw := strings.TrimSpace(os.Getenv("CHAINS_CONFIG_JSON")); raw != "" {
		return LoadConfigFromBytes([]byte(raw))
	}
	if path := strings.TrimSpace(os.Getenv("CHAINS_CONFIG_PATH")); path != "" {
		return LoadConfigFromPath(path)
	}
	return LoadConfigFromPath(DefaultConfigPath())
}

func LoadConfigFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chains config: %w", err)
	}
	return LoadConfigFromBytes(data)
}

func LoadConfigFromBytes(data []byte) (*Config, error) {
	if len(data) == 0 {
		return nil, errors.New("chains config is empty")
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse chains config: %w", err)
	}
	cfg.applyDetectorDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDetectorDefaults() {
	defaults := DefaultDetectorConfig()
	if c.Detector.MinSpreadBps == 0 {
		c.Detector.MinSpreadBps = defaults.MinSpreadBps
	}
	if c.Detector.MaxSpreadBps == 0 {
		c.Detector.MaxSpreadBps = defaults.MaxSpreadBps
	}
	if c.Detector.MaxHops == 0 {
		c.Detector.MaxHops = defaults.MaxHops
	}
	if c.Detector.TopKPerPass == 0 {
		c.Detector.TopKPerPass = defaults.TopKPerPass
	}
	if c.Detector.DedupWindowSec == 0 {
		c.Detector.DedupWindowSec = defaults.DedupWindowSec
	}
	if c.Detector.PairwiseValidSec == 0 {
		c.Detector.PairwiseValidSec = defaults.PairwiseValidSec
	}
	if c.Detector.MultiHopValidSec == 0 {
		c.Detector.MultiHopValidSec = defaults.MultiHopValidSec
	}
}

// Validate checks the closed chain-id set, required fields, and that every
// venue/token/pair references a configured chain.
func (c *Config) Validate() error {
	if c == nil || len(c.Chains) == 0 {
		return errors.New("no chains configured")
	}

	chainIDs := make(map[ChainID]bool, len(c.Chains))
	for _, chain := range c.Chains {
		if err := chain.Validate(); err != nil {
			return err
		}
		if chainIDs[chain.ID] {
			return fmt.Errorf("duplicate chain id %q", chain.ID)
		}
		chainIDs[chain.ID] = true
	}

	for _, venue := range c.Venues {
		if !chainIDs[venue.Chain] {
			return fmt.Errorf("venue %s references unconfigured chain %q", venue.Name, venue.Chain)
		}
		if err := venue.Validate(); err != nil {
			return err
		}
	}

	for _, token := range c.Tokens {
		if !chainIDs[token.Chain] {
			return fmt.Errorf("token %s references unconfigured chain %q", token.Symbol, token.Chain)
		}
		if err := token.Validate(); err != nil {
			return err
		}
	}

	for _, pair := range c.Pairs {
		if !chainIDs[pair.Chain] {
			return fmt.Errorf("pair %s/%s references unconfigured chain %q", pair.SymbolA, pair.SymbolB, pair.Chain)
		}
	}

	if c.Detector.MaxHops < 2 || c.Detector.MaxHops > 8 {
		return fmt.Errorf("detector max_hops must be within [2,8], got %d", c.Detector.MaxHops)
	}

	return nil
}

func (c ChainConfig) Validate() error {
	if strings.TrimSpace(string(c.ID)) == "" {
		return errors.New("chain id is required")
	}
	if !validChainIDs[c.ID] {
		return fmt.Errorf("chain id %q is not in the supported set (bsc, ethereum, arbitrum, base)", c.ID)
	}
	if len(c.RPCEndpoints) == 0 {
		return fmt.Errorf("chain %s must have at least one rpc endpoint", c.ID)
	}
	if len(c.StreamingEndpoint) == 0 {
		return fmt.Errorf("chain %s must have at least one streaming endpoint", c.ID)
	}
	if len(c.AnchorTokens) == 0 {
		return fmt.Errorf("chain %s must have at least one anchor token", c.ID)
	}
	return nil
}

func (v VenueConfig) Validate() error {
	if strings.TrimSpace(v.Name) == "" {
		return errors.New("venue name is required")
	}
	if strings.TrimSpace(v.FactoryAddress) == "" {
		return fmt.Errorf("venue %s requires a factory address", v.Name)
	}
	if v.FeeBps < 0 || v.FeeBps > 10000 {
		return fmt.Errorf("venue %s has invalid fee_bps %d", v.Name, v.FeeBps)
	}
	return nil
}

func (t TokenConfig) Validate() error {
	if strings.TrimSpace(t.Address) == "" {
		return fmt.Errorf("token %s requires an address", t.Symbol)
	}
	if t.Decimals < 0 || t.Decimals > 18 {
		return fmt.Errorf("token %s has invalid decimals %d", t.Symbol, t.Decimals)
	}
	return nil
}

// GetChain looks up a chain's configuration by ID.
func (c *Config) GetChain(id ChainID) (*ChainConfig, bool) {
	if c == nil {
		return nil, false
	}
	for i := range c.Chains {
		if c.Chains[i].ID == id {
			return &c.Chains[i], true
		}
	}
	return nil, false
}

// VenuesForChain returns all venues configured on the given chain.
func (c *Config) VenuesForChain(id ChainID) []VenueConfig {
	if c == nil {
		return nil
	}
	var out []VenueConfig
	for _, v := range c.Venues {
		if v.Chain == id {
			out = append(out, v)
		}
	}
	return out
}

// TokenBySymbol looks up a token by chain and symbol (case-insensitive).
func (c *Config) TokenBySymbol(chain ChainID, symbol string) (*TokenConfig, bool) {
	if c == nil {
		return nil, false
	}
	for i := range c.Tokens {
		t := &c.Tokens[i]
		if t.Chain == chain && strings.EqualFold(t.Symbol, symbol) {
			return t, true
		}
	}
	return nil, false
}
