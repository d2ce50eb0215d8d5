package config_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/r3e-network/arb-engine/infrastructure/chain"
	"github.com/r3e-network/arb-engine/infrastructure/chains"
	"github.com/r3e-network/arb-engine/internal/config"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(id int, result string) *http.Response {
	body, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	})
	return &http.Response{StatusCode: http.StatusOK, Header: make(http.Header), Body: io.NopCloser(bytes.NewReader(body))}
}

func word(hex string) string {
	return strings.Repeat("0", 64-len(hex)) + hex
}

func addressWord(addr string) string {
	return word(strings.TrimPrefix(addr, "0x"))
}

const (
	factoryAddr = "0x0000000000000000000000000000000000facc00"
	poolAddr    = "0x0000000000000000000000000000000000000001"
	wbnbAddr    = "0x0000000000000000000000000000000000000002"
	busdAddr    = "0x0000000000000000000000000000000000000003"
)

func fakeRPCTransport(t *testing.T) roundTripperFunc {
	t.Helper()
	return func(req *http.Request) (*http.Response, error) {
		var rpcReq chain.RPCRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&rpcReq))

		if rpcReq.Method != "eth_call" {
			return jsonResponse(rpcReq.ID, "0x"), nil
		}
		call := rpcReq.Params[0].(map[string]interface{})
		data := call["data"].(string)

		switch {
		case strings.HasPrefix(data, "0xe6a43905"): // getPair
			return jsonResponse(rpcReq.ID, "0x"+addressWord(poolAddr)), nil
		case data == "0x0dfe1671": // token0
			return jsonResponse(rpcReq.ID, "0x"+addressWord(wbnbAddr)), nil
		case data == "0xd21220a7": // token1
			return jsonResponse(rpcReq.ID, "0x"+addressWord(busdAddr)), nil
		case data == "0x313ce567": // decimals
			return jsonResponse(rpcReq.ID, "0x"+word("12")), nil // 18
		case data == "0x0902f1ac": // getReserves
			payload := "0x" + word("3b9aca00") + word("77359400") + word("0")
			return jsonResponse(rpcReq.ID, payload), nil
		default:
			t.Fatalf("unexpected eth_call data: %s", data)
			return nil, nil
		}
	}
}

func TestSeederResolvesConfiguredPair(t *testing.T) {
	client, err := chain.NewClient(chain.Config{
		RPCURL:     "http://rpc.example",
		HTTPClient: &http.Client{Transport: fakeRPCTransport(t)},
	})
	require.NoError(t, err)

	cfg := &chains.Config{
		Chains: []chains.ChainConfig{{ID: chains.ChainBSC}},
		Venues: []chains.VenueConfig{{Chain: chains.ChainBSC, Name: "pancakeswap", FactoryAddress: factoryAddr, FeeBps: 25}},
		Tokens: []chains.TokenConfig{
			{Chain: chains.ChainBSC, Address: wbnbAddr, Symbol: "WBNB", Decimals: 18},
			{Chain: chains.ChainBSC, Address: busdAddr, Symbol: "BUSD", Decimals: 18, Stable: true, ReferenceUSD: "1"},
		},
		Pairs: []chains.PairConfig{{Chain: chains.ChainBSC, SymbolA: "WBNB", SymbolB: "BUSD"}},
	}

	seeder := config.NewSeeder(client, nil)
	result, err := seeder.Seed(context.Background(), cfg, chains.ChainBSC)
	require.NoError(t, err)
	require.Len(t, result.Pools, 1)

	pool := result.Pools[0]
	require.Equal(t, "WBNB", pool.Token0Symbol)
	require.Equal(t, "BUSD", pool.Token1Symbol)
	require.Equal(t, 18, pool.Decimals0)
	require.Equal(t, 18, pool.Decimals1)
	require.True(t, pool.Active)
	require.Equal(t, "pancakeswap", pool.Venue)

	require.Contains(t, result.AddressToID, chain.NormalizeAddress(poolAddr))
	require.True(t, result.TokenUSD["bsc:BUSD"].HasReference)
}

func TestSeederSkipsUnlistedPair(t *testing.T) {
	client, err := chain.NewClient(chain.Config{
		RPCURL: "http://rpc.example",
		HTTPClient: &http.Client{Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			var rpcReq chain.RPCRequest
			require.NoError(t, json.NewDecoder(req.Body).Decode(&rpcReq))
			return jsonResponse(rpcReq.ID, "0x"+addressWord("0x0000000000000000000000000000000000000000")), nil
		})},
	})
	require.NoError(t, err)

	cfg := &chains.Config{
		Chains: []chains.ChainConfig{{ID: chains.ChainBSC}},
		Venues: []chains.VenueConfig{{Chain: chains.ChainBSC, Name: "pancakeswap", FactoryAddress: factoryAddr}},
		Tokens: []chains.TokenConfig{
			{Chain: chains.ChainBSC, Address: wbnbAddr, Symbol: "WBNB", Decimals: 18},
			{Chain: chains.ChainBSC, Address: busdAddr, Symbol: "BUSD", Decimals: 18},
		},
		Pairs: []chains.PairConfig{{Chain: chains.ChainBSC, SymbolA: "WBNB", SymbolB: "BUSD"}},
	}

	seeder := config.NewSeeder(client, nil)
	result, err := seeder.Seed(context.Background(), cfg, chains.ChainBSC)
	require.NoError(t, err)
	require.Empty(t, result.Pools)
	require.Len(t, result.SkippedPairs, 1)
}
