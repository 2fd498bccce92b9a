// Package search fuses vector KNN and full-text results with Reciprocal
// Rank Fusion, optionally enriching the top hit with a graph subgraph.
package search

import (
	"context"
	"sort"

	"github.com/borjamoskv/cortex/internal/debug"
	"github.com/borjamoskv/cortex/internal/graph"
	"github.com/borjamoskv/cortex/internal/storage/sqlite"
	"github.com/borjamoskv/cortex/internal/types"
)

// RRFK is the rank-smoothing constant; rank-only fusion is robust to the
// score-scale mismatch between BM25 and cosine similarity.
const RRFK = 60

// Default fusion weights.
const (
	DefaultVectorWeight = 0.6
	DefaultTextWeight   = 0.4
)

// overFetchFactor widens both candidate lists before fusion.
const overFetchFactor = 2

// Request carries hybrid search inputs.
type Request struct {
	Query          string
	QueryEmbedding []float32
	TopK           int
	Project        string
	AsOf           string
	GraphDepth     int
	VectorWeight   float64
	TextWeight     float64
}

func (r *Request) normalize() {
	if r.TopK <= 0 {
		r.TopK = 10
	}
	if r.VectorWeight == 0 && r.TextWeight == 0 {
		r.VectorWeight = DefaultVectorWeight
		r.TextWeight = DefaultTextWeight
	}
}

// Hybrid runs vector and text search independently with a 2× over-fetch,
// fuses by RRF, and returns the top K. Vector errors degrade silently to
// pure FTS; no results is an empty list, not an error.
func Hybrid(ctx context.Context, engine *sqlite.Engine, req Request) ([]*types.SearchResult, error) {
	req.normalize()
	fetch := req.TopK * overFetchFactor

	var vecResults []*types.SearchResult
	if len(req.QueryEmbedding) > 0 {
		var err error
		vecResults, err = engine.VectorSearch(ctx, req.QueryEmbedding, fetch, req.Project, req.AsOf)
		if err != nil {
			debug.Logf("cortex: vector search degraded to FTS: %v\n", err)
			vecResults = nil
		}
	}

	txtResults, err := engine.TextSearch(ctx, req.Query, req.Project, "", fetch, req.AsOf)
	if err != nil {
		return nil, err
	}

	fused := fuse(vecResults, txtResults, req.VectorWeight, req.TextWeight, req.TopK)

	if len(fused) > 0 && req.GraphDepth > 0 {
		attachGraphContext(ctx, engine, fused, req.GraphDepth)
	}
	return fused, nil
}

// fuse merges two ranked lists: each result at 0-indexed rank r contributes
// weight/(K + r + 1) to its fact's score.
func fuse(vecResults, txtResults []*types.SearchResult, vectorWeight, textWeight float64, topK int) []*types.SearchResult {
	scores := make(map[int64]float64)
	byID := make(map[int64]*types.SearchResult)

	for rank, res := range vecResults {
		scores[res.FactID] += vectorWeight / float64(RRFK+rank+1)
		byID[res.FactID] = res
	}
	for rank, res := range txtResults {
		scores[res.FactID] += textWeight / float64(RRFK+rank+1)
		if _, ok := byID[res.FactID]; !ok {
			byID[res.FactID] = res
		}
	}

	ids := make([]int64, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > topK {
		ids = ids[:topK]
	}

	merged := make([]*types.SearchResult, 0, len(ids))
	for _, id := range ids {
		res := byID[id]
		res.Score = scores[id]
		merged = append(merged, res)
	}
	return merged
}

// attachGraphContext extracts entities from the top results and attaches
// the expanded subgraph to the first result.
func attachGraphContext(ctx context.Context, engine *sqlite.Engine, results []*types.SearchResult, depth int) {
	var seeds []string
	seen := make(map[string]bool)
	for _, res := range results {
		for _, ent := range graph.ExtractEntities(res.Content) {
			if !seen[ent.Name] {
				seen[ent.Name] = true
				seeds = append(seeds, ent.Name)
			}
		}
	}
	if len(seeds) == 0 {
		return
	}
	sub, err := engine.GetContextSubgraph(ctx, seeds, depth, 50)
	if err != nil {
		debug.Logf("cortex: graph enrichment failed: %v\n", err)
		return
	}
	if len(sub.Nodes) > 0 {
		results[0].GraphContext = sub
	}
}
