package router

import (
	"errors"
	"math"
	"sync"
	"time"

	"gitlab.com/nevasik7/alerting/logger"
)

var (
	ErrNoPath           = errors.New("no path between tokens")
	ErrHopLimitExceeded = errors.New("hop limit exceeded before destination")
	ErrArbitrageCycle   = errors.New("arbitrage cycle detected")
	ErrNegativeWeight   = errors.New("negative edge weight in non-negative search")
	ErrTimeout          = errors.New("search budget exhausted")
)

// Edge is one tradable hop: an ordered token pair on a specific DEX.
// Parallel edges (same pair, different DEX) are kept distinct
type Edge struct {
	From      string
	To        string
	DEX       string
	Rate      float64 // multiplicative gain, to-units per from-unit
	Fee       float64 // fraction in [0,1)
	Liquidity uint64  // available depth in from-token units
}

// weight transforms the multiplicative gain into additive log space:
// w = -ln(rate) + ln(1/(1-fee)); lower total weight = higher product gain
func (e Edge) weight() float64 {
	return -math.Log(e.Rate) + math.Log(1/(1-e.Fee))
}

// Path is a route from source to destination held by value; evicting a
// cache entry can never dangle into the graph
type Path struct {
	Edges        []Edge
	Rate         float64 // product of edge rates
	TotalFee     float64
	MinLiquidity uint64
}

// Hops in the path
func (p Path) Hops() int { return len(p.Edges) }

// Quote is the effective outcome of pushing an amount through a path
type Quote struct {
	Path      Path
	AmountIn  uint64
	AmountOut uint64
	Clipped   bool // LiquidityExceeded: at least one hop clipped the amount
}

// Algorithm selects the shortest-path variant for cached queries
type Algorithm string

const (
	AlgorithmDijkstra    Algorithm = "dijkstra"
	AlgorithmBellmanFord Algorithm = "bellman-ford"
)

// Config for the router
type Config struct {
	Algorithm    Algorithm     // default dijkstra
	MaxHops      int           // DFS enumeration bound, default 4
	SearchBudget time.Duration // wall-clock budget per search, 0 = unbounded
}

type cacheKey struct{ src, dst string }

// Router owns the token liquidity graph and the route cache. The graph has
// a single writer (the market-data ingest); searches are read-only and
// never mutate graph or cache on the error path
type Router struct {
	log logger.Logger
	cfg Config

	mu     sync.RWMutex
	graph  map[string][]Edge
	tokens []string
	cache  map[cacheKey]Path
}

func New(log logger.Logger, cfg Config) *Router {
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = 4
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmDijkstra
	}

	return &Router{
		log:   log,
		cfg:   cfg,
		graph: make(map[string][]Edge, 64),
		cache: make(map[cacheKey]Path, 64),
	}
}

// AddEdge registers a hop, creating tokens as needed
func (r *Router) AddEdge(e Edge) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.invalidateTouching(e.From, e.To)
	r.ensureToken(e.From)
	r.ensureToken(e.To)
	r.graph[e.From] = append(r.graph[e.From], e)

	r.log.Debugf("Edge added %s->%s dex=%s rate=%f", e.From, e.To, e.DEX, e.Rate)
}

// UpdateEdge re-rates an existing (from, to, dex) edge
func (r *Router) UpdateEdge(from, to, dex string, rate, fee float64, liquidity uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.graph[from] {
		if e.To == to && e.DEX == dex {
			r.invalidateTouching(from, to)
			r.graph[from][i].Rate = rate
			r.graph[from][i].Fee = fee
			r.graph[from][i].Liquidity = liquidity
			return true
		}
	}
	return false
}

// RemoveEdge drops one (from, to, dex) edge
func (r *Router) RemoveEdge(from, to, dex string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	edges := r.graph[from]
	for i, e := range edges {
		if e.To == to && e.DEX == dex {
			r.invalidateTouching(from, to)
			r.graph[from] = append(edges[:i], edges[i+1:]...)
			if len(r.graph[from]) == 0 {
				delete(r.graph, from)
			}
			return true
		}
	}
	return false
}

// RemoveDEX drops every edge carrying the DEX tag. The whole cache is
// cleared; over-invalidation is allowed, stale hits are not
func (r *Router) RemoveDEX(dex string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache = make(map[cacheKey]Path, 64)
	for from, edges := range r.graph {
		kept := edges[:0]
		for _, e := range edges {
			if e.DEX != dex {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(r.graph, from)
		} else {
			r.graph[from] = kept
		}
	}
}

// invalidateTouching evicts every cached route containing an edge that
// touches either mutated endpoint. Deliberately conservative: it may evict
// routes the mutation did not affect, never the reverse
func (r *Router) invalidateTouching(from, to string) {
	for key, path := range r.cache {
		for _, e := range path.Edges {
			if e.From == from || e.From == to || e.To == from || e.To == to {
				delete(r.cache, key)
				break
			}
		}
	}
}

func (r *Router) ensureToken(token string) {
	if _, ok := r.graph[token]; ok {
		return
	}
	for _, t := range r.tokens {
		if t == token {
			return
		}
	}
	r.tokens = append(r.tokens, token)
}

// Tokens in the graph
func (r *Router) Tokens() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.tokens))
	copy(out, r.tokens)
	return out
}

// EdgesFrom returns the outgoing edges of a token
func (r *Router) EdgesFrom(token string) []Edge {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Edge, len(r.graph[token]))
	copy(out, r.graph[token])
	return out
}

func (r *Router) TokenCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}

func (r *Router) EdgeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, edges := range r.graph {
		n += len(edges)
	}
	return n
}

// CacheLen reports the number of live cache entries
func (r *Router) CacheLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
