package graph

import (
	"context"

	"github.com/borjamoskv/cortex/internal/types"
)

// Backend is the graph mutation contract. The engine's local SQLite store
// implements it; a remote backend (e.g. a Neo4j adapter supplied by the
// host) may implement it too. Every mutation goes to the local backend
// synchronously; remote failures are demoted to the CDC outbox rather than
// propagated.
type Backend interface {
	UpsertEntity(ctx context.Context, name, entityType, project, ts string) (int64, error)
	UpsertRelation(ctx context.Context, sourceID, targetID int64, relationType string, factID int64, ts string) (int64, error)
	DeleteFactElements(ctx context.Context, factID int64) error
}

// RemoteBackend extends Backend with the read operations a remote graph
// service exposes. Path finding on remote backends is directed shortest
// path, unlike the local undirected BFS.
type RemoteBackend interface {
	Backend
	FindPath(ctx context.Context, source, target string, maxDepth int) ([]types.PathStep, error)
	FindContextSubgraph(ctx context.Context, seeds []string, depth, maxNodes int) (*types.Subgraph, error)
}
