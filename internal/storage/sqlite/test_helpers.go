package sqlite

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"testing"
)

// newTestEngine creates an Engine backed by a temp-dir database.
//
// File-based databases are more reliable than in-memory for connection pool
// scenarios; each test gets its own directory for isolation.
func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()

	ctx := context.Background()
	engine, err := New(ctx, t.TempDir()+"/test.db", opts)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		if cerr := engine.Close(); cerr != nil {
			t.Fatalf("Failed to close test database: %v", cerr)
		}
	})
	return engine
}

// hashEmbedder is a deterministic bag-of-words embedder for tests: tokens
// hash into buckets, the vector is L2-normalized. Shared tokens yield
// nonzero cosine similarity, which is all the search tests need.
type hashEmbedder struct {
	dim int
}

func (h *hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	dim := h.dim
	if dim <= 0 {
		dim = 64
	}
	vec := make([]float32, dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		f := fnv.New32a()
		f.Write([]byte(tok))
		vec[f.Sum32()%uint32(dim)] += 1
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec, nil
}

func (h *hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}
