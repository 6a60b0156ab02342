// Package pagerank ranks entities by global importance over the weighted
// co-occurrence graph of a news corpus.
package pagerank

import (
	"context"
	"math"
	"runtime"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/kennylajara/news/pkg/entity"
	"github.com/kennylajara/news/pkg/logger"
)

// Config tunes a ranking run.
type Config struct {
	Damping      float64       `yaml:"damping"`
	Tolerance    float64       `yaml:"tolerance"`
	MaxIter      int           `yaml:"max_iter"`
	Timeout      time.Duration `yaml:"timeout"`
	HalfLifeDays float64       `yaml:"half_life_days"` // zero disables time decay
	MinRelevance float64       `yaml:"min_relevance"`  // pairs with both ends below are noise
	RankedTypes  []entity.Type `yaml:"ranked_types"`   // empty ranks every type
	Workers      int           `yaml:"workers"`
}

// DefaultConfig returns the standard run parameters.
func DefaultConfig() Config {
	return Config{
		Damping:      0.85,
		Tolerance:    1e-6,
		MaxIter:      1000,
		Timeout:      30 * time.Second,
		MinRelevance: 0.1,
		RankedTypes:  slices.Clone(entity.DefaultRankedTypes),
	}
}

// Occurrence is one entity's local relevance within an article.
type Occurrence struct {
	EntityID  int64
	Type      entity.Type
	Relevance float64
}

// ArticleEntities lists the entities of one article.
type ArticleEntities struct {
	ArticleID   int64
	PublishedAt time.Time
	Entities    []Occurrence
}

// Snapshot is the corpus as seen by one run. Now anchors article ages.
type Snapshot struct {
	Articles []ArticleEntities
	Now      time.Time
}

// Score is the result for one entity.
type Score struct {
	Raw        float64
	Normalized float64
}

// Metrics are the per-entity corpus statistics computed alongside ranking.
type Metrics struct {
	ArticleCount   int
	TotalRelevance float64
	AvgRelevance   float64
	Diversity      int // distinct co-mentioned entities
}

// Result is the output of Rank.
type Result struct {
	Scores  map[int64]Score
	Metrics map[int64]Metrics
	Stats   Stats
}

type edgeKey struct{ src, dst int64 }

type inEdge struct {
	src    int
	weight float64 // already divided by the source's total out weight
}

// graph is the column-normalized transition structure indexed by position.
type graph struct {
	ids      []int64
	in       [][]inEdge // per target
	dangling []int
	edges    int
}

// Rank runs PageRank over the snapshot. previous holds raw scores of an
// earlier run for warm start and may be nil. Hitting the timeout is not an
// error: the result is returned with Stats.Converged false. Only context
// cancellation fails the run.
func Rank(ctx context.Context, snap Snapshot, cfg Config, previous map[int64]float64) (*Result, error) {
	cfg = withDefaults(cfg)
	start := time.Now()
	if snap.Now.IsZero() {
		snap.Now = start
	}

	g, metrics := build(snap, cfg)
	n := len(g.ids)
	stats := Stats{
		RunID:     uuid.NewString(),
		StartedAt: start,
		Nodes:     n,
		Edges:     g.edges,
	}
	if n > 1 {
		stats.Density = float64(g.edges) / float64(n*(n-1))
	}
	res := &Result{
		Scores:  make(map[int64]Score, n),
		Metrics: metrics,
	}
	if n == 0 {
		stats.Converged = true
		stats.Duration = time.Since(start)
		res.Stats = stats
		return res, nil
	}

	pr := initial(g.ids, previous)
	next := make([]float64, n)
	teleport := (1 - cfg.Damping) / float64(n)

	for stats.Iterations < cfg.MaxIter {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Since(start) > cfg.Timeout {
			stats.TimedOut = true
			logger.Warn("[PageRank] Timeout reached, returning partial scores",
				"iterations", stats.Iterations, "delta", stats.Delta)
			break
		}

		danglingMass := 0.0
		for _, i := range g.dangling {
			danglingMass += pr[i]
		}
		spread := danglingMass / float64(n)

		if err := g.multiply(next, pr, cfg.Workers); err != nil {
			return nil, err
		}
		for j := range next {
			next[j] = teleport + cfg.Damping*(next[j]+spread)
		}
		floats.Scale(1/floats.Sum(next), next)

		stats.Iterations++
		stats.Delta = floats.Distance(next, pr, 1)
		pr, next = next, pr
		if stats.Delta < cfg.Tolerance {
			stats.Converged = true
			break
		}
	}

	norm := normalize(pr)
	for i, id := range g.ids {
		res.Scores[id] = Score{Raw: pr[i], Normalized: norm[i]}
	}
	stats.Distribution = distribution(norm)
	stats.Duration = time.Since(start)
	res.Stats = stats

	logger.Info("[PageRank] Run finished",
		"run", stats.RunID, "nodes", n, "edges", g.edges,
		"iterations", stats.Iterations, "converged", stats.Converged, "duration", stats.Duration)
	return res, nil
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Damping <= 0 || cfg.Damping >= 1 {
		cfg.Damping = def.Damping
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = def.Tolerance
	}
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = def.MaxIter
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return cfg
}

// build collects ranked nodes, weighted edges and per-entity metrics in a
// single pass over the articles.
func build(snap Snapshot, cfg Config) (*graph, map[int64]Metrics) {
	ranked := func(t entity.Type) bool {
		return len(cfg.RankedTypes) == 0 || slices.Contains(cfg.RankedTypes, t)
	}

	index := make(map[int64]int)
	var ids []int64
	metrics := make(map[int64]Metrics)
	partners := make(map[int64]map[int64]struct{})
	weights := make(map[edgeKey]float64)

	for _, a := range snap.Articles {
		occ := make([]Occurrence, 0, len(a.Entities))
		for _, o := range a.Entities {
			if ranked(o.Type) {
				occ = append(occ, o)
			}
		}
		if len(occ) == 0 {
			continue
		}

		for _, o := range occ {
			if _, ok := index[o.EntityID]; !ok {
				index[o.EntityID] = -1
				ids = append(ids, o.EntityID)
			}
			m := metrics[o.EntityID]
			if o.Relevance > 0 {
				m.ArticleCount++
				m.TotalRelevance += o.Relevance
			}
			metrics[o.EntityID] = m
		}

		decay := 1.0
		if cfg.HalfLifeDays > 0 {
			age := max(snap.Now.Sub(a.PublishedAt).Hours()/24, 0)
			decay = math.Exp(-age / cfg.HalfLifeDays)
		}
		share := 1 / float64(len(occ))

		for _, src := range occ {
			for _, dst := range occ {
				if src.EntityID == dst.EntityID {
					continue
				}
				p, ok := partners[src.EntityID]
				if !ok {
					p = make(map[int64]struct{})
					partners[src.EntityID] = p
				}
				p[dst.EntityID] = struct{}{}

				if src.Relevance < cfg.MinRelevance && dst.Relevance < cfg.MinRelevance {
					continue
				}
				if w := dst.Relevance * share * decay; w > 0 {
					weights[edgeKey{src.EntityID, dst.EntityID}] += w
				}
			}
		}
	}

	slices.Sort(ids)
	for i, id := range ids {
		index[id] = i
	}
	for id, m := range metrics {
		if m.ArticleCount > 0 {
			m.AvgRelevance = m.TotalRelevance / float64(m.ArticleCount)
		}
		m.Diversity = len(partners[id])
		metrics[id] = m
	}

	g := &graph{ids: ids, in: make([][]inEdge, len(ids))}
	out := make([]float64, len(ids))
	type edge struct {
		src, dst int
		w        float64
	}
	edges := make([]edge, 0, len(weights))
	for k, w := range weights {
		edges = append(edges, edge{src: index[k.src], dst: index[k.dst], w: w})
	}
	// Stable order keeps floating point sums identical between runs.
	slices.SortFunc(edges, func(a, b edge) int {
		if a.dst != b.dst {
			return a.dst - b.dst
		}
		return a.src - b.src
	})
	for _, e := range edges {
		out[e.src] += e.w
	}
	for _, e := range edges {
		g.in[e.dst] = append(g.in[e.dst], inEdge{src: e.src, weight: e.w / out[e.src]})
	}
	for i, w := range out {
		if w == 0 {
			g.dangling = append(g.dangling, i)
		}
	}
	g.edges = len(edges)
	return g, metrics
}

// parallelThreshold is the node count below which multiply stays serial.
const parallelThreshold = 2048

// multiply sets dst = M·src. Each goroutine owns a contiguous target range
// and sums its in-edges in a fixed order, so results do not depend on
// scheduling.
func (g *graph) multiply(dst, src []float64, workers int) error {
	n := len(dst)
	if n < parallelThreshold || workers <= 1 {
		g.multiplyRange(dst, src, 0, n)
		return nil
	}
	chunk := (n + workers - 1) / workers
	var eg errgroup.Group
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		eg.Go(func() error {
			g.multiplyRange(dst, src, lo, hi)
			return nil
		})
	}
	return eg.Wait()
}

func (g *graph) multiplyRange(dst, src []float64, lo, hi int) {
	for j := lo; j < hi; j++ {
		sum := 0.0
		for _, e := range g.in[j] {
			sum += e.weight * src[e.src]
		}
		dst[j] = sum
	}
}

// initial seeds the iteration. Entities from the previous run resume from
// their raw score; new ones start at the midpoint of the previous range.
func initial(ids []int64, previous map[int64]float64) []float64 {
	n := len(ids)
	pr := make([]float64, n)
	if len(previous) == 0 {
		for i := range pr {
			pr[i] = 1 / float64(n)
		}
		return pr
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range previous {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	mid := (lo + hi) / 2
	for i, id := range ids {
		if v, ok := previous[id]; ok {
			pr[i] = v
		} else {
			pr[i] = mid
		}
	}

	sum := floats.Sum(pr)
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		for i := range pr {
			pr[i] = 1 / float64(n)
		}
		return pr
	}
	floats.Scale(1/sum, pr)
	return pr
}

// normalize maps scores to [0,1] by min-max. Equal scores all map to 1.
func normalize(pr []float64) []float64 {
	out := make([]float64, len(pr))
	lo, hi := floats.Min(pr), floats.Max(pr)
	if hi-lo == 0 {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	for i, v := range pr {
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}
