// Package cortex provides a local-first memory engine for AI agents: typed,
// project-scoped facts in an append-only store with temporal validity, a
// hash-chained ledger with Merkle checkpoints, hybrid semantic + lexical
// retrieval, and an extracted entity graph.
//
// Most callers open an Engine and work with Store / Search / Recall /
// Deprecate. Servers and CLIs adapt onto this API; they are not part of the
// core.
package cortex

import (
	"context"

	"github.com/borjamoskv/cortex/internal/compact"
	"github.com/borjamoskv/cortex/internal/config"
	"github.com/borjamoskv/cortex/internal/federation"
	"github.com/borjamoskv/cortex/internal/graph"
	"github.com/borjamoskv/cortex/internal/guard"
	"github.com/borjamoskv/cortex/internal/search"
	"github.com/borjamoskv/cortex/internal/snapshot"
	"github.com/borjamoskv/cortex/internal/storage/sqlite"
	"github.com/borjamoskv/cortex/internal/types"
)

// Core types for working with facts
type (
	Fact         = types.Fact
	FactType     = types.FactType
	Confidence   = types.Confidence
	SearchResult = types.SearchResult
	Transaction  = types.Transaction
	Checkpoint   = types.Checkpoint
	Entity       = types.Entity
	Relation     = types.Relation
	Ghost        = types.Ghost
	Subgraph     = types.Subgraph
	PathStep     = types.PathStep
	EntityView   = types.EntityView
	GraphView    = types.GraphView
	VerifyReport = types.VerifyReport
	Violation    = types.Violation
	Stats        = types.Stats
)

// FactType constants
const (
	TypeKnowledge = types.TypeKnowledge
	TypeDecision  = types.TypeDecision
	TypeError     = types.TypeError
	TypeRule      = types.TypeRule
	TypeAxiom     = types.TypeAxiom
	TypeSchema    = types.TypeSchema
	TypeIdea      = types.TypeIdea
	TypeGhost     = types.TypeGhost
	TypeBridge    = types.TypeBridge
)

// Confidence constants
const (
	ConfidenceStated     = types.ConfidenceStated
	ConfidenceVerified   = types.ConfidenceVerified
	ConfidenceDisputed   = types.ConfidenceDisputed
	ConfidenceDeprecated = types.ConfidenceDeprecated
)

// Sentinel errors
var (
	ErrNotFound           = sqlite.ErrNotFound
	ErrInvalidInput       = guard.ErrInvalidInput
	ErrResourceExhausted  = sqlite.ErrResourceExhausted
	ErrBackendUnavailable = sqlite.ErrBackendUnavailable
)

// Embedder produces fixed-dimension vectors for fact content. Supplied by
// the host application; the engine treats it as best effort.
type Embedder = sqlite.Embedder

// RemoteGraphBackend is an optional second graph backend (e.g. a Neo4j
// adapter). Write failures route through the CDC outbox.
type RemoteGraphBackend = graph.RemoteBackend

// StoreRequest carries the inputs of a Store operation.
type StoreRequest = sqlite.StoreRequest

// SearchRequest carries the inputs of a hybrid Search.
type SearchRequest = search.Request

// CompactionStrategy selects a compaction pass.
type CompactionStrategy = compact.Strategy

// Compaction strategies
const (
	StrategyDedup          = compact.Dedup
	StrategyMergeErrors    = compact.MergeErrors
	StrategyStalenessPrune = compact.StalenessPrune
)

// CompactionResult is the outcome of a Compact run.
type CompactionResult = compact.Result

// SnapshotRecord is the sidecar metadata of one snapshot.
type SnapshotRecord = snapshot.Record

// Config holds the recognized engine options; see config.Load for the
// CORTEX_* environment mapping.
type Config = config.Config

// Options configures an Engine beyond the environment: the embedder and
// the optional remote graph backend are host-supplied.
type Options struct {
	Embedder Embedder
	Remote   RemoteGraphBackend
}

// Engine is the embedded CORTEX engine over one database file.
type Engine struct {
	store     *sqlite.Engine
	snapshots *snapshot.Manager
}

// Open creates an Engine from the environment configuration.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return OpenWithConfig(ctx, cfg, opts)
}

// OpenWithConfig creates an Engine from an explicit configuration.
func OpenWithConfig(ctx context.Context, cfg Config, opts Options) (*Engine, error) {
	store, err := sqlite.New(ctx, cfg.DatabasePath, engineOptions(cfg, opts))
	if err != nil {
		return nil, err
	}
	snapshots, err := snapshot.NewManager(cfg.DatabasePath)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &Engine{store: store, snapshots: snapshots}, nil
}

func engineOptions(cfg Config, opts Options) sqlite.Options {
	return sqlite.Options{
		AutoEmbed:           cfg.AutoEmbed,
		EmbeddingsDimension: cfg.EmbeddingsDimension,
		CheckpointMin:       cfg.CheckpointMin,
		CheckpointMax:       cfg.CheckpointMax,
		Limits: guard.Limits{
			MaxContentLength: cfg.ContentMaxLength,
			MaxQueryLength:   cfg.QueryMaxLength,
			MaxTags:          cfg.TagsMaxCount,
		},
		Embedder: opts.Embedder,
		Remote:   opts.Remote,
	}
}

// Close releases the engine's resources.
func (e *Engine) Close() error {
	return e.store.Close()
}

// ─── Fact lifecycle ──────────────────────────────────────────────

// Store persists a fact and returns its id.
func (e *Engine) Store(ctx context.Context, req StoreRequest) (int64, error) {
	return e.store.Store(ctx, req)
}

// StoreMany persists a batch of facts in one commit.
func (e *Engine) StoreMany(ctx context.Context, reqs []StoreRequest) ([]int64, error) {
	return e.store.StoreMany(ctx, reqs)
}

// Update emits a new revision of a fact and deprecates the old one.
func (e *Engine) Update(ctx context.Context, factID int64, content *string, tags []string, meta map[string]any) (int64, error) {
	return e.store.Update(ctx, factID, content, tags, meta)
}

// Deprecate closes a fact's validity window. Returns false if the fact was
// already deprecated.
func (e *Engine) Deprecate(ctx context.Context, factID int64, reason string) (bool, error) {
	return e.store.Deprecate(ctx, factID, reason)
}

// GetFact fetches one fact by id.
func (e *Engine) GetFact(ctx context.Context, factID int64) (*Fact, error) {
	return e.store.GetFact(ctx, factID)
}

// Recall returns a project's active facts, consensus-and-recency ranked.
func (e *Engine) Recall(ctx context.Context, project string, limit, offset int) ([]*Fact, error) {
	return e.store.Recall(ctx, project, limit, offset)
}

// History returns every revision of a project's facts; asOf narrows to the
// facts valid at that instant.
func (e *Engine) History(ctx context.Context, project, asOf string) ([]*Fact, error) {
	return e.store.History(ctx, project, asOf)
}

// TimeTravel reconstructs the active fact set as of a transaction.
func (e *Engine) TimeTravel(ctx context.Context, txID int64, project string) ([]*Fact, error) {
	return e.store.ReconstructState(ctx, txID, project)
}

// RegisterGhost records a dangling reference; idempotent per open
// (reference, project).
func (e *Engine) RegisterGhost(ctx context.Context, reference, ghostContext, project string) (int64, error) {
	return e.store.RegisterGhost(ctx, reference, ghostContext, project)
}

// ResolveGhost binds a ghost to its target entity.
func (e *Engine) ResolveGhost(ctx context.Context, ghostID, targetEntityID int64, confidence float64) (bool, error) {
	return e.store.ResolveGhost(ctx, ghostID, targetEntityID, confidence)
}

// ─── Retrieval ───────────────────────────────────────────────────

// Search runs the hybrid retrieval pipeline: vector KNN + FTS fused by
// RRF, optionally enriched with a graph subgraph. The query is validated
// against the boundary limits; the embedding is computed when an embedder
// is configured and none was supplied.
func (e *Engine) Search(ctx context.Context, req SearchRequest) ([]*SearchResult, error) {
	if err := guard.ValidateQuery(e.store.Limits(), req.Query); err != nil {
		return nil, err
	}
	if len(req.QueryEmbedding) == 0 && e.store.Embedder() != nil {
		if vec, err := e.store.Embedder().Embed(ctx, req.Query); err == nil {
			req.QueryEmbedding = vec
		}
	}
	return search.Hybrid(ctx, e.store, req)
}

// QueryEntity returns an entity with its strongest connections.
func (e *Engine) QueryEntity(ctx context.Context, name, project string) (*EntityView, error) {
	return e.store.QueryEntity(ctx, name, project)
}

// Graph returns the top entities and their relations for a project.
func (e *Engine) Graph(ctx context.Context, project string, limit int) (*GraphView, error) {
	return e.store.GetGraph(ctx, project, limit)
}

// FindPath finds the first undirected path between two entities.
func (e *Engine) FindPath(ctx context.Context, source, target string, maxDepth int) ([]PathStep, error) {
	return e.store.FindPath(ctx, source, target, maxDepth)
}

// GetContextSubgraph expands the graph around seed entities.
func (e *Engine) GetContextSubgraph(ctx context.Context, seeds []string, depth, maxNodes int) (*Subgraph, error) {
	return e.store.GetContextSubgraph(ctx, seeds, depth, maxNodes)
}

// ─── Trust ───────────────────────────────────────────────────────

// Vote casts a v1 consensus vote; value ∈ {-1, 0, +1}.
func (e *Engine) Vote(ctx context.Context, factID int64, agent string, value int) (float64, error) {
	return e.store.Vote(ctx, factID, agent, value)
}

// RegisterAgent creates a consensus agent and returns its UUID.
func (e *Engine) RegisterAgent(ctx context.Context, name, agentType, publicKey, tenantID string) (string, error) {
	return e.store.RegisterAgent(ctx, name, agentType, publicKey, tenantID)
}

// VoteV2 casts a reputation-weighted vote by a registered agent.
func (e *Engine) VoteV2(ctx context.Context, factID int64, agentID string, value int, reason string) (float64, error) {
	return e.store.VoteV2(ctx, factID, agentID, value, reason)
}

// VerifyLedger checks the hash chain and every Merkle checkpoint.
func (e *Engine) VerifyLedger(ctx context.Context) (*VerifyReport, error) {
	return e.store.VerifyIntegrity(ctx)
}

// ─── Ops ─────────────────────────────────────────────────────────

// Stats summarizes the engine.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	return e.store.Stats(ctx)
}

// CreateSnapshot takes a consistent physical copy at the current ledger
// position.
func (e *Engine) CreateSnapshot(ctx context.Context, name string) (*SnapshotRecord, error) {
	txID, err := e.store.LatestTxID(ctx)
	if err != nil {
		return nil, err
	}
	root, err := e.store.LatestCheckpointRoot(ctx)
	if err != nil {
		return nil, err
	}
	return e.snapshots.Create(ctx, e.store.DB(), name, txID, root)
}

// ListSnapshots enumerates available snapshots, newest first.
func (e *Engine) ListSnapshots() ([]SnapshotRecord, error) {
	return e.snapshots.List()
}

// RestoreSnapshot overwrites the live database with the snapshot sealed at
// txID. The engine must be re-opened afterwards.
func (e *Engine) RestoreSnapshot(txID int64) error {
	if err := e.store.Close(); err != nil {
		return err
	}
	return e.snapshots.Restore(txID)
}

// Compact runs the selected compaction strategies over a project.
func (e *Engine) Compact(ctx context.Context, project string, strategies []CompactionStrategy, dryRun bool) (*CompactionResult, error) {
	c := compact.New(e.store, compact.Config{DryRun: dryRun})
	return c.Compact(ctx, project, strategies)
}

// ProcessOutbox drains up to limit pending CDC entries to the remote graph
// backend.
func (e *Engine) ProcessOutbox(ctx context.Context, limit int) (int, error) {
	return e.store.ProcessOutbox(ctx, limit, nil)
}

// ─── Federation ──────────────────────────────────────────────────

// FederatedRouter is the per-tenant shard router.
type FederatedRouter = federation.Router

// NewFederatedRouter creates a router over cfg.ShardDir with per-shard
// engine options derived from cfg.
func NewFederatedRouter(cfg Config, opts Options) *FederatedRouter {
	return federation.NewRouter(cfg.ShardDir, engineOptions(cfg, opts))
}
