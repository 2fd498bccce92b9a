// Package types defines the core data model for the CORTEX memory engine:
// facts, ledger transactions, graph entities, ghosts, and the closed enums
// used across the storage and search layers.
package types

import (
	"fmt"
	"time"
)

// FactType classifies a stored fact.
type FactType string

const (
	TypeKnowledge FactType = "knowledge"
	TypeDecision  FactType = "decision"
	TypeError     FactType = "error"
	TypeRule      FactType = "rule"
	TypeAxiom     FactType = "axiom"
	TypeSchema    FactType = "schema"
	TypeIdea      FactType = "idea"
	TypeGhost     FactType = "ghost"
	TypeBridge    FactType = "bridge"
)

// ValidFactTypes is the closed set accepted at the input boundary.
var ValidFactTypes = map[FactType]bool{
	TypeKnowledge: true,
	TypeDecision:  true,
	TypeError:     true,
	TypeRule:      true,
	TypeAxiom:     true,
	TypeSchema:    true,
	TypeIdea:      true,
	TypeGhost:     true,
	TypeBridge:    true,
}

// Confidence is the trust level of a fact.
type Confidence string

const (
	ConfidenceStated     Confidence = "stated"
	ConfidenceVerified   Confidence = "verified"
	ConfidenceDisputed   Confidence = "disputed"
	ConfidenceDeprecated Confidence = "deprecated"
)

// ValidConfidences is the closed set accepted at the input boundary.
var ValidConfidences = map[Confidence]bool{
	ConfidenceStated:     true,
	ConfidenceVerified:   true,
	ConfidenceDisputed:   true,
	ConfidenceDeprecated: true,
}

// TxAction names a ledger transaction action.
type TxAction string

const (
	ActionStore     TxAction = "store"
	ActionDeprecate TxAction = "deprecate"
	ActionVote      TxAction = "vote"
	ActionUnvote    TxAction = "unvote"
	ActionVoteV2    TxAction = "vote_v2"
	ActionUnvoteV2  TxAction = "unvote_v2"
	ActionCompact   TxAction = "compact"
)

// GhostStatus is the lifecycle state of a dangling reference.
type GhostStatus string

const (
	GhostOpen     GhostStatus = "open"
	GhostResolved GhostStatus = "resolved"
)

// OutboxStatus is the CDC outbox entry state.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxProcessed OutboxStatus = "processed"
	OutboxFailed    OutboxStatus = "failed"
)

// Reserved meta keys the engine itself writes. Everything else in Meta is
// caller-owned and opaque to the core.
const (
	MetaPreviousFactID    = "previous_fact_id"
	MetaDeprecationReason = "deprecation_reason"
)

// Fact is the atomic unit of memory: a typed, tagged, project-scoped
// statement with a half-open validity interval [ValidFrom, ValidUntil).
type Fact struct {
	ID             int64          `json:"id"`
	Project        string         `json:"project"`
	Content        string         `json:"content"`
	FactType       FactType       `json:"fact_type"`
	Tags           []string       `json:"tags"`
	Confidence     Confidence     `json:"confidence"`
	ConsensusScore float64        `json:"consensus_score"`
	ValidFrom      string         `json:"valid_from"`
	ValidUntil     *string        `json:"valid_until,omitempty"`
	Source         string         `json:"source,omitempty"`
	Meta           map[string]any `json:"meta,omitempty"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at"`
	TxID           *int64         `json:"tx_id,omitempty"`
	Hash           string         `json:"hash,omitempty"`
}

// Active reports whether the fact has not been deprecated.
func (f *Fact) Active() bool {
	return f.ValidUntil == nil
}

// Validate checks the fact against input contracts. It does not touch the
// database; size limits are enforced separately by the guard.
func (f *Fact) Validate() error {
	if f.Project == "" {
		return fmt.Errorf("project is required")
	}
	if f.Content == "" {
		return fmt.Errorf("content is required")
	}
	if !ValidFactTypes[f.FactType] {
		return fmt.Errorf("invalid fact_type %q", f.FactType)
	}
	if !ValidConfidences[f.Confidence] {
		return fmt.Errorf("invalid confidence %q", f.Confidence)
	}
	if f.ValidUntil != nil && *f.ValidUntil <= f.ValidFrom {
		return fmt.Errorf("valid_until must be after valid_from")
	}
	return nil
}

// Transaction is one append-only ledger entry. Hash chains to the previous
// entry via PrevHash; the first entry chains to the GENESIS sentinel.
type Transaction struct {
	ID        int64    `json:"id"`
	Project   string   `json:"project"`
	Action    TxAction `json:"action"`
	Detail    string   `json:"detail"`
	PrevHash  string   `json:"prev_hash"`
	Hash      string   `json:"hash"`
	Timestamp string   `json:"timestamp"`
}

// Checkpoint seals a contiguous transaction range under a Merkle root.
type Checkpoint struct {
	ID        int64  `json:"id"`
	RootHash  string `json:"root_hash"`
	TxStartID int64  `json:"tx_start_id"`
	TxEndID   int64  `json:"tx_end_id"`
	TxCount   int64  `json:"tx_count"`
	CreatedAt string `json:"created_at"`
}

// Entity is a node in the extracted knowledge graph, unique per
// (name, project).
type Entity struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	EntityType   string `json:"type"`
	Project      string `json:"project"`
	FirstSeen    string `json:"first_seen"`
	LastSeen     string `json:"last_seen"`
	MentionCount int64  `json:"mentions"`
}

// Relation is a weighted directed edge between two entities, tagged with the
// fact that first asserted it.
type Relation struct {
	ID           int64   `json:"id"`
	SourceID     int64   `json:"source"`
	TargetID     int64   `json:"target"`
	RelationType string  `json:"type"`
	Weight       float64 `json:"weight"`
	FirstSeen    string  `json:"first_seen"`
	SourceFactID int64   `json:"source_fact_id"`
}

// Ghost is a named but unresolved reference waiting to be bound to an
// entity.
type Ghost struct {
	ID         int64       `json:"id"`
	Reference  string      `json:"reference"`
	Context    string      `json:"context"`
	Project    string      `json:"project"`
	Status     GhostStatus `json:"status"`
	DetectedAt string      `json:"detected_at"`
	ResolvedAt *string     `json:"resolved_at,omitempty"`
	TargetID   *int64      `json:"target_id,omitempty"`
	Confidence float64     `json:"confidence"`
}

// OutboxEntry is a queued graph mutation awaiting downstream propagation.
type OutboxEntry struct {
	ID          int64        `json:"id"`
	FactID      int64        `json:"fact_id"`
	Action      string       `json:"action"`
	Status      OutboxStatus `json:"status"`
	RetryCount  int          `json:"retry_count"`
	CreatedAt   string       `json:"created_at"`
	ProcessedAt *string      `json:"processed_at,omitempty"`
}

// SearchResult is one hit from hybrid, vector, or text search.
type SearchResult struct {
	FactID       int64          `json:"id"`
	Content      string         `json:"content"`
	Project      string         `json:"project"`
	FactType     FactType       `json:"type"`
	Confidence   Confidence     `json:"confidence"`
	ValidFrom    string         `json:"valid_from"`
	ValidUntil   *string        `json:"valid_until,omitempty"`
	Tags         []string       `json:"tags"`
	Source       string         `json:"source,omitempty"`
	Meta         map[string]any `json:"meta,omitempty"`
	Score        float64        `json:"score"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
	TxID         *int64         `json:"tx_id,omitempty"`
	Hash         string         `json:"hash,omitempty"`
	GraphContext *Subgraph      `json:"graph_context,omitempty"`
}

// Subgraph is a deduplicated node/edge set returned by graph expansion.
type Subgraph struct {
	Nodes []SubgraphNode `json:"nodes"`
	Edges []SubgraphEdge `json:"edges"`
}

// SubgraphNode is a node in a Subgraph.
type SubgraphNode struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	EntityType string `json:"type"`
}

// SubgraphEdge is an edge in a Subgraph, keyed by entity names for
// portability across backends.
type SubgraphEdge struct {
	Source       string  `json:"source"`
	Target       string  `json:"target"`
	RelationType string  `json:"type"`
	Weight       float64 `json:"weight"`
}

// PathStep is one hop in a path returned by FindPath.
type PathStep struct {
	Source       string  `json:"source"`
	Target       string  `json:"target"`
	RelationType string  `json:"type"`
	Weight       float64 `json:"weight"`
}

// EntityView is an entity plus its strongest connections.
type EntityView struct {
	Entity      Entity             `json:"entity"`
	Connections []EntityConnection `json:"connections"`
}

// EntityConnection is one neighbor of an entity.
type EntityConnection struct {
	Name         string  `json:"name"`
	EntityType   string  `json:"type"`
	RelationType string  `json:"relation"`
	Weight       float64 `json:"weight"`
}

// GraphView is the top-N entity graph for a project.
type GraphView struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
	Stats     GraphStats `json:"stats"`
}

// GraphStats summarizes graph size.
type GraphStats struct {
	TotalEntities  int64 `json:"total_entities"`
	TotalRelations int64 `json:"total_relations"`
}

// Agent is a registered voter in the consensus layer.
type Agent struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	AgentType  string  `json:"agent_type"`
	PublicKey  string  `json:"public_key"`
	TenantID   string  `json:"tenant_id"`
	Reputation float64 `json:"reputation_score"`
	IsActive   bool    `json:"is_active"`
}

// Violation is one integrity failure found during ledger verification.
type Violation struct {
	Type     string `json:"type"` // hash_mismatch, chain_break, merkle_mismatch
	TxID     int64  `json:"tx_id,omitempty"`
	MerkleID int64  `json:"merkle_id,omitempty"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// VerifyReport is the result of a full ledger verification.
type VerifyReport struct {
	Valid        bool        `json:"valid"`
	Violations   []Violation `json:"violations"`
	TxChecked    int         `json:"tx_checked"`
	RootsChecked int         `json:"roots_checked"`
}

// Stats is the engine-level summary returned by Stats().
type Stats struct {
	TotalFacts      int64            `json:"total_facts"`
	ActiveFacts     int64            `json:"active_facts"`
	DeprecatedFacts int64            `json:"deprecated_facts"`
	Projects        []string         `json:"projects"`
	Types           map[string]int64 `json:"types"`
	Transactions    int64            `json:"transactions"`
	Embeddings      int64            `json:"embeddings"`
	OutboxPending   int64            `json:"outbox_pending"`
	DBPath          string           `json:"db_path"`
	DBSizeMB        float64          `json:"db_size_mb"`
}

// NowISO returns the current UTC time in RFC 3339 format with nanosecond
// precision, the canonical timestamp format for all persisted times.
func NowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}
