package sqlite

import (
	"context"
	"testing"
)

func TestTextSearchFindsStoredFact(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	id, err := e.Store(ctx, StoreRequest{Project: "alpha", Content: "Python supports async/await"})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	results, err := e.TextSearch(ctx, "async Python", "alpha", "", 10, "")
	if err != nil {
		t.Fatalf("TextSearch failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("stored fact not found by text search")
	}
	if results[0].FactID != id {
		t.Errorf("top result = %d, want %d", results[0].FactID, id)
	}
	if results[0].Score <= 0 {
		t.Errorf("score = %v, want > 0", results[0].Score)
	}
}

func TestTextSearchExcludesDeprecated(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	id, _ := e.Store(ctx, StoreRequest{Project: "alpha", Content: "ephemeral knowledge"})
	if _, err := e.Deprecate(ctx, id, "gone"); err != nil {
		t.Fatal(err)
	}

	results, err := e.TextSearch(ctx, "ephemeral", "alpha", "", 10, "")
	if err != nil {
		t.Fatalf("TextSearch failed: %v", err)
	}
	for _, r := range results {
		if r.FactID == id {
			t.Error("deprecated fact surfaced in active search")
		}
	}
}

func TestSanitizeFTSQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"async Python", `"async" "Python"`},
		{`"quoted" input`, `"quoted" "input"`},
		{"a AND b", `"a" "b"`},
		{"AND OR NOT", ""},
		{"not NOT nOt", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SanitizeFTSQuery(tt.in); got != tt.want {
			t.Errorf("SanitizeFTSQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// A query containing only operators matches nothing instead of erroring.
func TestTextSearchOperatorOnlyQuery(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})
	if _, err := e.Store(ctx, StoreRequest{Project: "alpha", Content: "AND OR NOT are operators"}); err != nil {
		t.Fatal(err)
	}

	results, err := e.TextSearch(ctx, "AND OR NOT", "alpha", "", 10, "")
	if err != nil {
		t.Fatalf("TextSearch failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("operator-only query matched %d facts, want 0", len(results))
	}
}

func TestVectorSearchRanksRelevantFirst(t *testing.T) {
	ctx := context.Background()
	emb := &hashEmbedder{dim: 64}
	e := newTestEngine(t, Options{AutoEmbed: true, Embedder: emb})

	pyID, err := e.Store(ctx, StoreRequest{Project: "alpha", Content: "Python is great for ML"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Store(ctx, StoreRequest{Project: "alpha", Content: "Docker simplifies deployment"}); err != nil {
		t.Fatal(err)
	}

	qvec, _ := emb.Embed(ctx, "Python ML")
	results, err := e.VectorSearch(ctx, qvec, 2, "alpha", "")
	if err != nil {
		t.Fatalf("VectorSearch failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("vector search returned nothing")
	}
	if results[0].FactID != pyID {
		t.Errorf("top vector hit = %d, want the Python fact %d", results[0].FactID, pyID)
	}
	if results[0].Score <= 0 {
		t.Errorf("top score = %v, want > 0", results[0].Score)
	}
}

func TestVectorSearchUnavailableWithoutEmbedding(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})
	if _, err := e.VectorSearch(ctx, nil, 5, "", ""); err == nil {
		t.Error("expected ErrBackendUnavailable for empty query embedding")
	}
}

func TestUpsertEmbeddingBackfill(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	id, err := e.Store(ctx, StoreRequest{Project: "alpha", Content: "fact without vector"})
	if err != nil {
		t.Fatal(err)
	}

	emb := &hashEmbedder{dim: 16}
	vec, _ := emb.Embed(ctx, "fact without vector")
	if err := e.UpsertEmbedding(ctx, id, vec); err != nil {
		t.Fatalf("UpsertEmbedding failed: %v", err)
	}

	results, err := e.VectorSearch(ctx, vec, 1, "alpha", "")
	if err != nil {
		t.Fatalf("VectorSearch failed: %v", err)
	}
	if len(results) != 1 || results[0].FactID != id {
		t.Errorf("back-filled embedding not searchable: %v", results)
	}
}
