package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Function selectors for the constant-product pool and factory ABI used
// throughout the engine (Uniswap-V2-compatible: getReserves, token0,
// token1, and the factory's getPair).
const (
	selectorGetReserves = "0x0902f1ac"
	selectorToken0      = "0x0dfe1671"
	selectorToken1      = "0xd21220a7"
	selectorGetPair     = "0xe6a43905"
	selectorDecimals    = "0x313ce567"
)

// GetReserves calls pool.getReserves() and decodes reserve0/reserve1.
func (c *Client) GetReserves(ctx context.Context, pool string) (*uint256.Int, *uint256.Int, uint32, error) {
	raw, err := c.ethCall(ctx, pool, selectorGetReserves)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("getReserves call: %w", err)
	}

	words, err := SplitWords(raw, 3)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("getReserves decode: %w", err)
	}

	reserve0, err := WordToUint256(words[0])
	if err != nil {
		return nil, nil, 0, fmt.Errorf("getReserves reserve0: %w", err)
	}
	reserve1, err := WordToUint256(words[1])
	if err != nil {
		return nil, nil, 0, fmt.Errorf("getReserves reserve1: %w", err)
	}
	timestampWord, err := WordToUint256(words[2])
	if err != nil {
		return nil, nil, 0, fmt.Errorf("getReserves timestamp: %w", err)
	}

	return reserve0, reserve1, uint32(timestampWord.Uint64()), nil
}

// Token0 calls pool.token0() and returns the token address.
func (c *Client) Token0(ctx context.Context, pool string) (string, error) {
	raw, err := c.ethCall(ctx, pool, selectorToken0)
	if err != nil {
		return "", fmt.Errorf("token0 call: %w", err)
	}
	return addressFromWord(raw)
}

// Token1 calls pool.token1() and returns the token address.
func (c *Client) Token1(ctx context.Context, pool string) (string, error) {
	raw, err := c.ethCall(ctx, pool, selectorToken1)
	if err != nil {
		return "", fmt.Errorf("token1 call: %w", err)
	}
	return addressFromWord(raw)
}

// GetPair calls factory.getPair(token0, token1) and returns the pool
// address the factory considers authoritative, used at startup to
// cross-check a configured pool address (Open Question 2).
func (c *Client) GetPair(ctx context.Context, factory, token0, token1 string) (string, error) {
	data := selectorGetPair + encodeAddressArg(token0) + encodeAddressArg(token1)
	raw, err := c.ethCall(ctx, factory, data)
	if err != nil {
		return "", fmt.Errorf("getPair call: %w", err)
	}
	return addressFromWord(raw)
}

// Decimals calls token.decimals() and returns it as an int, used at startup
// to resolve a token's true on-chain decimals rather than trusting a
// configured default (Open Question 1).
func (c *Client) Decimals(ctx context.Context, token string) (int, error) {
	raw, err := c.ethCall(ctx, token, selectorDecimals)
	if err != nil {
		return 0, fmt.Errorf("decimals call: %w", err)
	}
	words, err := SplitWords(raw, 1)
	if err != nil {
		return 0, fmt.Errorf("decimals decode: %w", err)
	}
	v, err := WordToUint256(words[0])
	if err != nil {
		return 0, fmt.Errorf("decimals value: %w", err)
	}
	return int(v.Uint64()), nil
}

// ResolvePair fetches both tokens of a pool in one helper, used by pool
// registration to populate the domain Pool record.
func (c *Client) ResolvePair(ctx context.Context, pool string) (PairInfo, error) {
	token0, err := c.Token0(ctx, pool)
	if err != nil {
		return PairInfo{}, err
	}
	token1, err := c.Token1(ctx, pool)
	if err != nil {
		return PairInfo{}, err
	}
	return PairInfo{PoolAddress: pool, Token0: token0, Token1: token1}, nil
}

// =============================================================================
// ABI encode/decode helpers
//
// These cover exactly the fixed-size word layouts this engine's calls
// produce (static return tuples, no dynamic types); a general ABI codec is
// unnecessary for the fixed set of selectors above.
// =============================================================================

func encodeAddressArg(address string) string {
	addr := NormalizeAddress(address)
	return strings.Repeat("0", 24) + addr
}

// SplitWords splits a hex-encoded ABI return payload into its fixed-size
// 32-byte words. Shared by the pool/factory query helpers above and by the
// Event Decoder (C2), which uses the same two-word layout for Sync events.
func SplitWords(hexData string, expected int) ([]string, error) {
	data := strings.TrimPrefix(strings.TrimPrefix(hexData, "0x"), "0X")
	if len(data) < expected*64 {
		return nil, fmt.Errorf("short return data: got %d hex chars, want at least %d", len(data), expected*64)
	}
	words := make([]string, expected)
	for i := 0; i < expected; i++ {
		words[i] = data[i*64 : i*64+64]
	}
	return words, nil
}

// WordToUint256 decodes a 32-byte ABI word as an unsigned integer.
func WordToUint256(word string) (*uint256.Int, error) {
	v, err := uint256.FromHex("0x" + word)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func addressFromWord(hexData string) (string, error) {
	words, err := SplitWords(hexData, 1)
	if err != nil {
		return "", err
	}
	addr := NormalizeAddress(words[0][24:])
	if addr == "" {
		return "", fmt.Errorf("invalid address in return word")
	}
	return "0x" + addr, nil
}
