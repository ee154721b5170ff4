package router

import (
	"container/heap"
	"fmt"
	"math"
	"time"
)

// FindBestPath answers the cached (source, destination) query with the
// configured algorithm. On a miss it computes, stores a copy and returns;
// a hit is impossible after a mutation invalidated the stored route.
// Timeout is never swallowed on the miss path
func (r *Router) FindBestPath(source, destination string) (Path, error) {
	key := cacheKey{src: source, dst: destination}

	r.mu.RLock()
	cached, hit := r.cache[key]
	r.mu.RUnlock()
	if hit {
		return clonePath(cached), nil
	}

	var (
		path Path
		err  error
	)
	switch r.cfg.Algorithm {
	case AlgorithmBellmanFord:
		path, err = r.BellmanFord(source, destination)
	default:
		path, err = r.Dijkstra(source, destination)
	}
	if err != nil {
		return Path{}, err
	}

	r.mu.Lock()
	r.cache[key] = clonePath(path)
	r.mu.Unlock()

	return path, nil
}

// dijkstraItem orders the frontier by cumulative transformed weight
type dijkstraItem struct {
	token  string
	weight float64
}

type dijkstraHeap []dijkstraItem

func (h dijkstraHeap) Len() int            { return len(h) }
func (h dijkstraHeap) Less(i, j int) bool  { return h[i].weight < h[j].weight }
func (h dijkstraHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *dijkstraHeap) Push(x any)         { *h = append(*h, x.(dijkstraItem)) }
func (h *dijkstraHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Dijkstra finds the minimum-weight path on the log-transformed graph.
// Requires every edge weight to be non-negative; arbitrage-grade edges
// belong to BellmanFord
func (r *Router) Dijkstra(source, destination string) (Path, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	deadline := r.deadline()

	for _, edges := range r.graph {
		for _, e := range edges {
			if e.weight() < 0 {
				return Path{}, fmt.Errorf("%w: %s->%s on %s", ErrNegativeWeight, e.From, e.To, e.DEX)
			}
		}
	}

	dist := map[string]float64{source: 0}
	prev := map[string]Edge{}
	done := map[string]bool{}

	frontier := &dijkstraHeap{{token: source, weight: 0}}
	heap.Init(frontier)

	for frontier.Len() > 0 {
		if expired(deadline) {
			return Path{}, fmt.Errorf("%w: dijkstra %s->%s", ErrTimeout, source, destination)
		}

		cur := heap.Pop(frontier).(dijkstraItem)
		if done[cur.token] {
			continue
		}
		done[cur.token] = true

		if cur.token == destination {
			return r.reconstruct(source, destination, prev)
		}

		for _, e := range r.graph[cur.token] {
			if done[e.To] {
				continue
			}
			next := cur.weight + e.weight()
			if old, seen := dist[e.To]; !seen || next < old {
				dist[e.To] = next
				prev[e.To] = e
				heap.Push(frontier, dijkstraItem{token: e.To, weight: next})
			}
		}
	}

	return Path{}, fmt.Errorf("%w: %s->%s", ErrNoPath, source, destination)
}

// ArbitrageCycleError carries the offending cycle's edge list
type ArbitrageCycleError struct {
	Cycle []Edge
}

func (e *ArbitrageCycleError) Error() string {
	return fmt.Sprintf("arbitrage cycle detected over %d edges", len(e.Cycle))
}

func (e *ArbitrageCycleError) Unwrap() error { return ErrArbitrageCycle }

// BellmanFord finds the minimum-weight path while tolerating negative
// transformed weights. A negative cycle is surfaced with its edge list;
// there is no silent fallback to another algorithm
func (r *Router) BellmanFord(source, destination string) (Path, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	deadline := r.deadline()

	dist := make(map[string]float64, len(r.tokens))
	for _, t := range r.tokens {
		dist[t] = math.Inf(1)
	}
	dist[source] = 0
	prev := map[string]Edge{}

	for i := 1; i < len(r.tokens); i++ {
		if expired(deadline) {
			return Path{}, fmt.Errorf("%w: bellman-ford %s->%s", ErrTimeout, source, destination)
		}

		relaxed := false
		for from, edges := range r.graph {
			if math.IsInf(dist[from], 1) {
				continue
			}
			for _, e := range edges {
				if next := dist[from] + e.weight(); next < dist[e.To] {
					dist[e.To] = next
					prev[e.To] = e
					relaxed = true
				}
			}
		}
		if !relaxed {
			break
		}
	}

	// one more relaxation round finds a vertex inside or reachable from a
	// negative cycle
	for from, edges := range r.graph {
		if math.IsInf(dist[from], 1) {
			continue
		}
		for _, e := range edges {
			if dist[from]+e.weight() < dist[e.To] {
				prev[e.To] = e
				return Path{}, &ArbitrageCycleError{Cycle: r.extractCycle(e.To, prev)}
			}
		}
	}

	if math.IsInf(dist[destination], 1) {
		return Path{}, fmt.Errorf("%w: %s->%s", ErrNoPath, source, destination)
	}
	return r.reconstruct(source, destination, prev)
}

// extractCycle walks predecessors from a relaxable vertex until it lands on
// the cycle, then collects it
func (r *Router) extractCycle(start string, prev map[string]Edge) []Edge {
	// |V| predecessor steps are guaranteed to end inside the cycle
	cur := start
	for i := 0; i < len(r.tokens); i++ {
		cur = prev[cur].From
	}

	var cycle []Edge
	for at := cur; ; {
		e := prev[at]
		cycle = append([]Edge{e}, cycle...)
		at = e.From
		if at == cur {
			break
		}
	}
	return cycle
}

func (r *Router) reconstruct(source, destination string, prev map[string]Edge) (Path, error) {
	var edges []Edge
	for at := destination; at != source; {
		e, ok := prev[at]
		if !ok {
			return Path{}, fmt.Errorf("%w: %s->%s", ErrNoPath, source, destination)
		}
		edges = append([]Edge{e}, edges...)
		at = e.From
	}
	return makePath(edges), nil
}

// EnumeratePaths collects every acyclic path up to maxHops by bounded DFS.
// When nothing reaches the destination: ErrHopLimitExceeded if the search
// was cut by the bound, ErrNoPath if the graph is simply disconnected
func (r *Router) EnumeratePaths(source, destination string, maxHops int) ([]Path, error) {
	if maxHops <= 0 {
		maxHops = r.cfg.MaxHops
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	deadline := r.deadline()

	var (
		paths     []Path
		truncated bool
	)
	visited := map[string]bool{source: true}
	var stack []Edge

	var dfs func(token string, depth int) error
	dfs = func(token string, depth int) error {
		if expired(deadline) {
			return fmt.Errorf("%w: enumeration %s->%s", ErrTimeout, source, destination)
		}

		for _, e := range r.graph[token] {
			if visited[e.To] {
				continue
			}
			stack = append(stack, e)

			if e.To == destination {
				paths = append(paths, makePath(append([]Edge(nil), stack...)))
			} else if depth+1 < maxHops {
				visited[e.To] = true
				if err := dfs(e.To, depth+1); err != nil {
					return err
				}
				delete(visited, e.To)
			} else {
				truncated = true
			}

			stack = stack[:len(stack)-1]
		}
		return nil
	}

	if err := dfs(source, 0); err != nil {
		return nil, err
	}

	if len(paths) == 0 {
		if truncated {
			return nil, fmt.Errorf("%w: %s->%s within %d hops", ErrHopLimitExceeded, source, destination, maxHops)
		}
		return nil, fmt.Errorf("%w: %s->%s", ErrNoPath, source, destination)
	}
	return paths, nil
}

// routeHeap is a max-heap over candidate paths keyed by composite rate.
// Equal rates break ties by fewer hops, then lower total fee, then the
// lexicographically smaller DEX-tag sequence
type routeHeap []Path

func (h routeHeap) Len() int { return len(h) }

func (h routeHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.Rate != b.Rate {
		return a.Rate > b.Rate
	}
	if a.Hops() != b.Hops() {
		return a.Hops() < b.Hops()
	}
	if a.TotalFee != b.TotalFee {
		return a.TotalFee < b.TotalFee
	}
	return dexSequence(a) < dexSequence(b)
}

func (h routeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *routeHeap) Push(x any)   { *h = append(*h, x.(Path)) }
func (h *routeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func dexSequence(p Path) string {
	s := ""
	for _, e := range p.Edges {
		s += e.DEX + "|"
	}
	return s
}

// BestRoute enumerates candidate paths into a max-heap and returns the top
// entry
func (r *Router) BestRoute(source, destination string) (Path, error) {
	paths, err := r.EnumeratePaths(source, destination, r.cfg.MaxHops)
	if err != nil {
		return Path{}, err
	}

	h := routeHeap(paths)
	heap.Init(&h)
	return heap.Pop(&h).(Path), nil
}

// QuoteAmount pushes amountIn through the path left to right, clipping each
// hop to its liquidity. Clipped quotes carry the LiquidityExceeded signal
func QuoteAmount(p Path, amountIn uint64) Quote {
	q := Quote{Path: p, AmountIn: amountIn}

	amt := amountIn
	for _, e := range p.Edges {
		if amt > e.Liquidity {
			amt = e.Liquidity
			q.Clipped = true
		}
		amt = uint64(float64(amt) * e.Rate * (1 - e.Fee)) // round down
	}

	q.AmountOut = amt
	return q
}

func makePath(edges []Edge) Path {
	p := Path{Edges: edges, Rate: 1, MinLiquidity: math.MaxUint64}
	for _, e := range edges {
		p.Rate *= e.Rate
		p.TotalFee += e.Fee
		if e.Liquidity < p.MinLiquidity {
			p.MinLiquidity = e.Liquidity
		}
	}
	if len(edges) == 0 {
		p.MinLiquidity = 0
	}
	return p
}

func clonePath(p Path) Path {
	cp := p
	cp.Edges = make([]Edge, len(p.Edges))
	copy(cp.Edges, p.Edges)
	return cp
}

func (r *Router) deadline() time.Time {
	if r.cfg.SearchBudget <= 0 {
		return time.Time{}
	}
	return time.Now().Add(r.cfg.SearchBudget)
}

func expired(deadline time.Time) bool {
	return !deadline.IsZero() && time.Now().After(deadline)
}
