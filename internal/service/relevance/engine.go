// Package relevance selects the personas most similar to a product and groups
// them into representative customer segments.
package relevance

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/zhouzirui/persona-lens/backend/internal/apperr"
	"github.com/zhouzirui/persona-lens/backend/internal/model/persona"
)

// Defaults used when Config leaves a field at zero.
const (
	DefaultTopK          = 50
	DefaultClusterCount  = 3
	DefaultSeed          = 42
	DefaultMaxIterations = 100
	DefaultMaxTags       = 5
)

// Config holds the clustering knobs that are not part of a single request.
type Config struct {
	Seed          uint64
	MaxIterations int
	MaxTags       int
}

// Match is one persona selected for a product.
type Match struct {
	PersonaID string  `json:"pid"`
	Score     float64 `json:"score"`
	// Index is the persona position in corpus order.
	Index int `json:"-"`
}

// Result is the ordered top-K selection, best match first.
type Result struct {
	Matches []Match `json:"matches"`
}

// Len returns the number of selected personas.
func (r Result) Len() int {
	return len(r.Matches)
}

// Cluster is one customer segment of a Result.
type Cluster struct {
	ID               string              `json:"cluster_id"`
	MemberIDs        []string            `json:"member_pids"`
	RepresentativeID string              `json:"pid"`
	Percentage       float64             `json:"percentage"`
	Tags             []string            `json:"tags"`
	Demographics     persona.Demographics `json:"demographics"`
}

// Engine ranks and clusters personas. It holds no mutable state and is safe
// for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine returns an Engine with zero fields of cfg replaced by defaults.
func NewEngine(cfg Config) *Engine {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.MaxTags <= 0 {
		cfg.MaxTags = DefaultMaxTags
	}
	return &Engine{cfg: cfg}
}

// RankAndCluster selects the top k personas for vector and partitions them
// into clusterCount segments.
func (e *Engine) RankAndCluster(vector []float64, store persona.Store, k, clusterCount int) (Result, []Cluster, error) {
	result, err := e.Rank(vector, store, k)
	if err != nil {
		return Result{}, nil, err
	}
	clusters, err := e.Cluster(result, store, clusterCount)
	if err != nil {
		return Result{}, nil, err
	}
	return result, clusters, nil
}

// Rank returns the k personas with the highest cosine similarity to vector.
// Ties keep corpus order. A corpus smaller than k yields every persona.
func (e *Engine) Rank(vector []float64, store persona.Store, k int) (Result, error) {
	if store == nil || store.Len() == 0 {
		return Result{}, goerr.Wrap(apperr.ErrEmptyCorpus, "no persona to rank")
	}
	if k <= 0 {
		return Result{}, apperr.Validation("top-k must be positive", goerr.V("k", k))
	}
	if len(vector) != store.Dimension() {
		return Result{}, apperr.Validation("product vector dimension does not match corpus",
			goerr.V("expected", store.Dimension()),
			goerr.V("actual", len(vector)),
		)
	}

	records := store.All()
	matches := make([]Match, len(records))
	for i, rec := range records {
		matches[i] = Match{
			PersonaID: rec.ID,
			Score:     CosineSimilarity(vector, rec.Embedding),
			Index:     i,
		}
	}

	slices.SortStableFunc(matches, func(a, b Match) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return a.Index - b.Index
		}
	})

	if k > len(matches) {
		k = len(matches)
	}
	return Result{Matches: slices.Clip(matches[:k])}, nil
}

// Cluster partitions result into at most clusterCount non-empty segments.
// Segments are numbered by descending size, ties by the representative's
// corpus position.
func (e *Engine) Cluster(result Result, store persona.Store, clusterCount int) ([]Cluster, error) {
	if result.Len() == 0 {
		return nil, goerr.Wrap(apperr.ErrEmptyCorpus, "no persona to cluster")
	}
	if clusterCount <= 0 {
		return nil, apperr.Validation("cluster count must be positive", goerr.V("clusterCount", clusterCount))
	}
	if clusterCount > result.Len() {
		clusterCount = result.Len()
	}

	// Cluster in corpus order so that index order is the tie-breaker.
	members := slices.Clone(result.Matches)
	slices.SortFunc(members, func(a, b Match) int { return a.Index - b.Index })

	records := make([]persona.Record, len(members))
	points := make([][]float64, len(members))
	for i, m := range members {
		rec, err := store.Get(m.PersonaID)
		if err != nil {
			return nil, goerr.Wrap(err, "ranked persona missing from store")
		}
		records[i] = rec
		points[i] = normalize(rec.Embedding)
	}

	labels, centroids := kmeans(points, clusterCount, e.cfg.Seed, e.cfg.MaxIterations)

	type group struct {
		idx []int
		rep int
	}
	groups := make([]group, len(centroids))
	for i, label := range labels {
		groups[label].idx = append(groups[label].idx, i)
	}
	for c := range groups {
		rep, repDist := -1, math.Inf(1)
		for _, i := range groups[c].idx {
			if d := squaredDistance(points[i], centroids[c]); d < repDist {
				rep, repDist = i, d
			}
		}
		groups[c].rep = rep
	}

	slices.SortStableFunc(groups, func(a, b group) int {
		if len(a.idx) != len(b.idx) {
			return len(b.idx) - len(a.idx)
		}
		return a.rep - b.rep
	})

	total := float64(result.Len())
	clusters := make([]Cluster, 0, len(groups))
	for c, g := range groups {
		ids := make([]string, len(g.idx))
		groupRecords := make([]persona.Record, len(g.idx))
		for j, i := range g.idx {
			ids[j] = records[i].ID
			groupRecords[j] = records[i]
		}
		rep := records[g.rep]
		clusters = append(clusters, Cluster{
			ID:               fmt.Sprintf("cluster%d", c),
			MemberIDs:        ids,
			RepresentativeID: rep.ID,
			Percentage:       math.Round(float64(len(g.idx)) / total * 100),
			Tags:             topTags(groupRecords, e.cfg.MaxTags),
			Demographics:     rep.Demographics,
		})
	}
	return clusters, nil
}

// topTags returns the most frequent tags of records, ties by first
// appearance.
func topTags(records []persona.Record, limit int) []string {
	counts := make(map[string]int)
	var order []string
	for _, rec := range records {
		for _, tag := range rec.Tags {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			if _, seen := counts[tag]; !seen {
				order = append(order, tag)
			}
			counts[tag]++
		}
	}

	slices.SortStableFunc(order, func(a, b string) int {
		return counts[b] - counts[a]
	})
	if len(order) > limit {
		order = order[:limit]
	}
	if order == nil {
		return []string{}
	}
	return order
}
