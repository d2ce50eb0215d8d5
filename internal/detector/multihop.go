package detector

import (
	"math"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/r3e-network/arb-engine/internal/domain"
)

// graphEdge augments a domain.Edge with its log-weight for Bellman-Ford
// search, per §4.4.2: searching on -ln(rate_after_fee) turns "product of
// rates > 1" into "sum of weights < 0", a negative cycle.
type graphEdge struct {
	domain.Edge
	weight float64
}

// detectMultiHop runs a bounded modified Bellman-Ford search from each
// configured anchor token, looking for negative-weight cycles reachable
// through the pool that just updated. Candidate cycles are re-simulated
// with exact uint256 arithmetic before being accepted (§4.4.2).
func (d *Detector) detectMultiHop(pool domain.Pool) ([]domain.ArbitragePath, error) {
	if !pool.Active || len(d.params.AnchorTokens) == 0 || d.params.MaxHops < 3 {
		return nil, nil
	}

	edges := d.registry.AllEdges()
	if len(edges) == 0 {
		return nil, nil
	}
	graph := buildGraph(edges)

	var out []domain.ArbitragePath
	for _, anchor := range d.params.AnchorTokens {
		cycle := bellmanFordCycle(graph, anchor, d.params.MaxHops)
		if cycle == nil {
			continue
		}
		path, ok := d.buildMultiHopPath(cycle)
		if ok {
			out = append(out, path)
		}
	}
	return out, nil
}

func buildGraph(edges []domain.Edge) map[string][]graphEdge {
	graph := make(map[string][]graphEdge)
	for _, e := range edges {
		rate := e.Rate.Float64()
		if rate <= 0 {
			continue
		}
		graph[e.TokenIn] = append(graph[e.TokenIn], graphEdge{Edge: e, weight: -math.Log(rate)})
	}
	return graph
}

// bellmanFordCycle runs a hop-bounded Bellman-Ford relaxation from source
// and returns the edge sequence of a negative-weight cycle reachable within
// maxHops relaxations, or nil if none is found.
func bellmanFordCycle(graph map[string][]graphEdge, source string, maxHops int) []domain.Edge {
	if _, ok := graph[source]; !ok {
		return nil
	}

	dist := map[string]float64{source: 0}
	pred := map[string]graphEdge{}

	var relaxedLast string
	for i := 0; i < maxHops; i++ {
		relaxedAny := false
		for token, distU := range snapshotDist(dist) {
			for _, e := range graph[token] {
				cand := distU + e.weight
				if existing, ok := dist[e.TokenOut]; !ok || cand < existing-1e-12 {
					dist[e.TokenOut] = cand
					pred[e.TokenOut] = e
					relaxedAny = true
					relaxedLast = e.TokenOut
				}
			}
		}
		if !relaxedAny {
			return nil
		}
	}

	// One more relaxation pass: any vertex that still improves sits on (or
	// downstream of) a negative cycle. Walk predecessors from there to
	// recover the cycle's edges.
	cycleVertex := ""
	for token, distU := range snapshotDist(dist) {
		for _, e := range graph[token] {
			if cand := distU + e.weight; cand < dist[e.TokenOut]-1e-12 {
				cycleVertex = e.TokenOut
				break
			}
		}
		if cycleVertex != "" {
			break
		}
	}
	if cycleVertex == "" {
		cycleVertex = relaxedLast
	}
	if cycleVertex == "" {
		return nil
	}

	return extractCycle(pred, cycleVertex, len(graph)+1)
}

func snapshotDist(dist map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(dist))
	for k, v := range dist {
		out[k] = v
	}
	return out
}

// extractCycle walks predecessor edges backward from v until a token
// repeats, then returns that repeated segment in forward order.
func extractCycle(pred map[string]graphEdge, v string, maxSteps int) []domain.Edge {
	visited := make(map[string]int)
	order := []string{v}
	cur := v
	for step := 0; step < maxSteps; step++ {
		e, ok := pred[cur]
		if !ok {
			return nil
		}
		cur = e.TokenIn
		if idx, seen := visited[cur]; seen {
			edges := make([]domain.Edge, 0, len(order)-idx)
			for i := idx; i >= 0; i-- {
				token := order[i]
				edges = append(edges, pred[token].Edge)
			}
			reverseEdges(edges)
			return edges
		}
		visited[cur] = len(order)
		order = append(order, cur)
	}
	return nil
}

func reverseEdges(edges []domain.Edge) {
	for i, j := 0, len(edges)-1; i < j; i, j = i+1, j-1 {
		edges[i], edges[j] = edges[j], edges[i]
	}
}

// buildMultiHopPath re-simulates a candidate cycle with exact reserves and
// accepts it only if the exact output still exceeds the input (§4.4.2's
// discrete re-simulation gate against log-weight search's rounding).
func (d *Detector) buildMultiHopPath(cycle []domain.Edge) (domain.ArbitragePath, bool) {
	if len(cycle) < 2 || len(cycle) > d.params.MaxHops {
		return domain.ArbitragePath{}, false
	}

	var minLiquidity decimal.Decimal
	haveMin := false
	for _, e := range cycle {
		liquidity, err := d.registry.LiquidityUSD(e.PoolID)
		if err != nil {
			return domain.ArbitragePath{}, false
		}
		if liquidity.LessThan(d.registry.MinLiquidityUSD()) {
			return domain.ArbitragePath{}, false
		}
		if !haveMin || liquidity.LessThan(minLiquidity) {
			minLiquidity = liquidity
			haveMin = true
		}
	}

	bottleneck := cycle[0].ReserveIn
	for _, e := range cycle[1:] {
		if e.ReserveIn.Cmp(bottleneck) < 0 {
			bottleneck = e.ReserveIn
		}
	}
	amountIn := positionSizeUint(bottleneck, d.params.PositionFraction.InexactFloat64())
	if amountIn.IsZero() {
		return domain.ArbitragePath{}, false
	}

	amount := amountIn
	for _, e := range cycle {
		amount = e.SimulateSwap(amount)
		if amount.IsZero() {
			return domain.ArbitragePath{}, false
		}
	}

	grossBps := bpsDelta(amountIn, amount)
	if grossBps <= 0 {
		return domain.ArbitragePath{}, false
	}

	gasUSD := d.gasCostUSD(len(cycle))
	gasBps := usdToBps(gasUSD, minLiquidity)
	netBps := grossBps - gasBps
	if netBps <= 0 {
		return domain.ArbitragePath{}, false
	}

	spreadBps := grossBps
	confidence := confidenceScore(spreadBps, minLiquidity, len(cycle))

	now := time.Now()
	path := domain.ArbitragePath{
		Chain:              d.chain,
		Edges:              cycle,
		HopCount:           len(cycle),
		GrossProfitBps:     grossBps,
		GasCostNative:      gasUSD,
		NetProfitBps:       netBps,
		EstimatedProfitUSD: minLiquidity.Mul(decimalFromBps(netBps)),
		Confidence:         confidence,
		ConfidenceLabel:    domain.LabelForScore(confidence),
		DetectedAt:         now,
		ValidUntil:         now.Add(d.params.MultiHopValid),
		Kind:               "multi_hop",
	}
	path.ID = domain.CanonicalCycleID(cycle)
	return path, true
}

func positionSizeUint(reserveIn *uint256.Int, fraction float64) *uint256.Int {
	if reserveIn == nil || reserveIn.IsZero() || fraction <= 0 {
		return new(uint256.Int)
	}
	micros := uint64(fraction * 1_000_000)
	if micros == 0 {
		return new(uint256.Int)
	}
	scaled := new(uint256.Int).Mul(reserveIn, uint256.NewInt(micros))
	return scaled.Div(scaled, uint256.NewInt(1_000_000))
}
