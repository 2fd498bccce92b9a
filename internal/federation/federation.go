// Package federation routes operations to per-tenant shard databases. Each
// shard is a full engine over its own file under the shard directory;
// cross-shard search fans out in parallel and merges by score. Shards never
// share connections or rows, so tenant isolation holds by construction.
package federation

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/borjamoskv/cortex/internal/debug"
	"github.com/borjamoskv/cortex/internal/search"
	"github.com/borjamoskv/cortex/internal/storage/sqlite"
	"github.com/borjamoskv/cortex/internal/types"
)

// maxTenantIDLength bounds sanitized tenant ids.
const maxTenantIDLength = 128

// Router owns the shard map. Shards open lazily on first access and stay
// cached until CloseAll.
type Router struct {
	shardDir string
	opts     sqlite.Options

	mu     sync.Mutex
	shards map[string]*sqlite.Engine
}

// NewRouter creates a router over shardDir. Engine options apply to every
// shard.
func NewRouter(shardDir string, opts sqlite.Options) *Router {
	return &Router{
		shardDir: shardDir,
		opts:     opts,
		shards:   make(map[string]*sqlite.Engine),
	}
}

// SanitizeTenantID maps a tenant id to a safe filesystem name: only
// [A-Za-z0-9_-] survive, everything else becomes '_'; the result is capped
// at 128 chars. An id that sanitizes to nothing is rejected.
func SanitizeTenantID(tenantID string) (string, error) {
	trimmed := strings.TrimSpace(tenantID)
	var b strings.Builder
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	safe := b.String()
	if safe == "" || strings.Trim(safe, "_") == "" {
		return "", fmt.Errorf("invalid tenant_id: %q", tenantID)
	}
	if len(safe) > maxTenantIDLength {
		safe = safe[:maxTenantIDLength]
	}
	return safe, nil
}

// GetShard returns the tenant's engine, opening it on first access. Lazy
// creation is race-free under the router lock.
func (r *Router) GetShard(ctx context.Context, tenantID string) (*sqlite.Engine, error) {
	safe, err := SanitizeTenantID(tenantID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if engine, ok := r.shards[safe]; ok {
		return engine, nil
	}

	dbPath := filepath.Join(r.shardDir, safe+".db")
	engine, err := sqlite.New(ctx, dbPath, r.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open shard %q: %w", tenantID, err)
	}
	r.shards[safe] = engine
	debug.Logf("cortex: federation initialized shard for tenant %q at %s\n", tenantID, dbPath)
	return engine, nil
}

// Store delegates to the tenant's shard.
func (r *Router) Store(ctx context.Context, tenantID string, req sqlite.StoreRequest) (int64, error) {
	engine, err := r.GetShard(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return engine.Store(ctx, req)
}

// Recall delegates to the tenant's shard.
func (r *Router) Recall(ctx context.Context, tenantID, project string, limit, offset int) ([]*types.Fact, error) {
	engine, err := r.GetShard(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return engine.Recall(ctx, project, limit, offset)
}

// Search queries one shard when tenantID is given, else fans out to every
// open shard in parallel and merges results by descending score. Each
// shard is queried independently; no cross-shard joins exist, so rows never
// leak between tenants.
func (r *Router) Search(ctx context.Context, tenantID string, req search.Request) ([]*types.SearchResult, error) {
	if tenantID != "" {
		engine, err := r.GetShard(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		return search.Hybrid(ctx, engine, req)
	}

	r.mu.Lock()
	engines := make([]*sqlite.Engine, 0, len(r.shards))
	for _, engine := range r.shards {
		engines = append(engines, engine)
	}
	r.mu.Unlock()

	if len(engines) == 0 {
		return nil, nil
	}

	results := make([][]*types.SearchResult, len(engines))
	g, gctx := errgroup.WithContext(ctx)
	for i, engine := range engines {
		i, engine := i, engine
		g.Go(func() error {
			res, err := search.Hybrid(gctx, engine, req)
			if err != nil {
				// A failing shard degrades the merged result instead
				// of failing the fan-out.
				debug.Logf("cortex: cross-shard search error: %v\n", err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []*types.SearchResult
	for _, res := range results {
		merged = append(merged, res...)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}

// ShardCount returns the number of open shards.
func (r *Router) ShardCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shards)
}

// Tenants lists the open tenant ids.
func (r *Router) Tenants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	tenants := make([]string, 0, len(r.shards))
	for id := range r.shards {
		tenants = append(tenants, id)
	}
	sort.Strings(tenants)
	return tenants
}

// CloseAll closes every shard and empties the map.
func (r *Router) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for id, engine := range r.shards {
		if err := engine.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close shard %q: %w", id, err)
		}
	}
	r.shards = make(map[string]*sqlite.Engine)
	return firstErr
}
