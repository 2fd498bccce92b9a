package federation

import (
	"context"
	"testing"

	"github.com/borjamoskv/cortex/internal/search"
	"github.com/borjamoskv/cortex/internal/storage/sqlite"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	r := NewRouter(t.TempDir(), sqlite.Options{})
	t.Cleanup(func() {
		if err := r.CloseAll(); err != nil {
			t.Fatalf("CloseAll failed: %v", err)
		}
	})
	return r
}

func TestSanitizeTenantID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"acme", "acme", false},
		{"Acme-Corp_2", "Acme-Corp_2", false},
		{"a/b\\c", "a_b_c", false},
		{"tenant id", "tenant_id", false},
		{"", "", true},
		{"   ", "", true},
		{"///", "", true},
	}
	for _, tt := range tests {
		got, err := SanitizeTenantID(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("SanitizeTenantID(%q) should fail", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("SanitizeTenantID(%q) errored: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("SanitizeTenantID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeTenantIDTruncates(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	got, err := SanitizeTenantID(string(long))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 128 {
		t.Errorf("sanitized length = %d, want 128", len(got))
	}
}

func TestGetShardLazyAndCached(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t)

	s1, err := r.GetShard(ctx, "acme")
	if err != nil {
		t.Fatalf("GetShard failed: %v", err)
	}
	s2, err := r.GetShard(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Error("same tenant must reuse the cached shard engine")
	}
	if r.ShardCount() != 1 {
		t.Errorf("shard count = %d, want 1", r.ShardCount())
	}
}

// Federation isolation: content stored only in tenant A never appears in
// tenant B's recall, on any project.
func TestTenantIsolation(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t)

	secret := "the launch code is 0000"
	if _, err := r.Store(ctx, "tenant-a", sqlite.StoreRequest{Project: "ops", Content: secret}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	for _, project := range []string{"ops", "other"} {
		facts, err := r.Recall(ctx, "tenant-b", project, 0, 0)
		if err != nil {
			t.Fatalf("Recall failed: %v", err)
		}
		for _, f := range facts {
			if f.Content == secret {
				t.Fatalf("tenant B recalled tenant A's content in project %q", project)
			}
		}
	}
}

func TestSearchSingleTenant(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t)

	if _, err := r.Store(ctx, "acme", sqlite.StoreRequest{Project: "ops", Content: "Python supports async/await"}); err != nil {
		t.Fatal(err)
	}

	results, err := r.Search(ctx, "acme", search.Request{Query: "Python", TopK: 5})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 {
		t.Error("tenant-scoped search found nothing")
	}
}

func TestCrossShardSearchMerges(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t)

	if _, err := r.Store(ctx, "tenant-a", sqlite.StoreRequest{Project: "p", Content: "Python in tenant a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Store(ctx, "tenant-b", sqlite.StoreRequest{Project: "p", Content: "Python in tenant b"}); err != nil {
		t.Fatal(err)
	}

	results, err := r.Search(ctx, "", search.Request{Query: "Python", TopK: 10})
	if err != nil {
		t.Fatalf("cross-shard Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("merged results = %d, want 2", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Error("merged results not sorted by descending score")
		}
	}
}

func TestCrossShardSearchEmptyRouter(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t)
	results, err := r.Search(ctx, "", search.Request{Query: "anything", TopK: 5})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty result from empty router, got %d", len(results))
	}
}

func TestTenantsListing(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t)
	if _, err := r.GetShard(ctx, "beta"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.GetShard(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}
	tenants := r.Tenants()
	if len(tenants) != 2 || tenants[0] != "alpha" || tenants[1] != "beta" {
		t.Errorf("tenants = %v", tenants)
	}
}
