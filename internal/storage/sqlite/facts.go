package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/borjamoskv/cortex/internal/debug"
	"github.com/borjamoskv/cortex/internal/guard"
	"github.com/borjamoskv/cortex/internal/metrics"
	"github.com/borjamoskv/cortex/internal/temporal"
	"github.com/borjamoskv/cortex/internal/types"
)

// factColumns is the shared column list for fact queries, joined with the
// creating transaction's hash.
const factColumns = `f.id, f.project, f.content, f.fact_type, f.tags, f.confidence,
	f.consensus_score, f.valid_from, f.valid_until, f.source, f.meta,
	f.created_at, f.updated_at, f.tx_id, COALESCE(t.hash, '')`

const factJoin = `FROM facts f LEFT JOIN transactions t ON f.tx_id = t.id`

// StoreRequest carries the inputs of a store operation.
type StoreRequest struct {
	Project    string
	Content    string
	FactType   types.FactType
	Tags       []string
	Confidence types.Confidence
	Source     string
	Meta       map[string]any
	ValidFrom  string
}

func (r *StoreRequest) normalize() {
	if r.FactType == "" {
		r.FactType = types.TypeKnowledge
	}
	if r.Confidence == "" {
		r.Confidence = types.ConfidenceStated
	}
}

// Store persists a fact through the full pipeline: row insert, best-effort
// embedding, graph extraction, ledger append, tx_id back-fill, CDC outbox.
// The embedder runs before the write transaction; every write, the
// embedding row included, shares one commit.
func (e *Engine) Store(ctx context.Context, req StoreRequest) (int64, error) {
	req.normalize()
	if err := guard.ValidateStore(e.opts.Limits, req.Project, req.Content, req.FactType, req.Tags); err != nil {
		return 0, err
	}
	if !types.ValidConfidences[req.Confidence] {
		return 0, fmt.Errorf("%w: invalid confidence %q", ErrInvalidInput, req.Confidence)
	}

	// Embedding happens outside the transaction: a slow or failing
	// embedder must not hold the write lock or roll back the fact.
	var embedding []float32
	if e.opts.AutoEmbed && e.opts.Embedder != nil {
		vec, err := e.opts.Embedder.Embed(ctx, req.Content)
		if err != nil {
			debug.Logf("cortex: embedding failed: %v\n", err)
			metrics.EmbeddingFailure(ctx)
		} else {
			embedding = vec
		}
	}

	tx, release, err := e.beginWrite(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	factID, err := e.storeInTx(ctx, tx, req, embedding)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit store: %w", err)
	}
	debug.LogEvent(e.path, "STORE", req.Project, fmt.Sprintf("fact_id=%d type=%s", factID, req.FactType))
	return factID, nil
}

func (e *Engine) storeInTx(ctx context.Context, tx *sql.Tx, req StoreRequest, embedding []float32) (int64, error) {
	ts := req.ValidFrom
	if ts == "" {
		ts = temporal.NowISO()
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO facts (project, content, fact_type, tags, confidence, valid_from, source, meta, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.Project, req.Content, string(req.FactType), formatJSONStringArray(req.Tags),
		string(req.Confidence), ts, nullString(optional(req.Source)), formatJSONMap(req.Meta), ts, ts)
	if err != nil {
		return 0, fmt.Errorf("failed to insert fact: %w", err)
	}
	factID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read fact id: %w", err)
	}

	if embedding != nil {
		if err := upsertEmbedding(ctx, tx, factID, embedding); err != nil {
			// Index write shares the transaction but is still best
			// effort: the fact commits without its vector.
			debug.Logf("cortex: embedding upsert failed for fact %d: %v\n", factID, err)
		}
	}

	e.processFactGraph(ctx, tx, factID, req.Content, req.Project, ts)

	txID, err := e.logTransaction(ctx, tx, req.Project, types.ActionStore,
		map[string]any{"fact_id": factID, "fact_type": string(req.FactType)})
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE facts SET tx_id = ? WHERE id = ?", txID, factID); err != nil {
		return 0, fmt.Errorf("failed to link fact to transaction: %w", err)
	}

	if err := enqueueOutbox(ctx, tx, factID, "store_fact"); err != nil {
		return 0, err
	}
	return factID, nil
}

// StoreMany stores a batch of facts in a single commit. All rows land or
// none do.
func (e *Engine) StoreMany(ctx context.Context, reqs []StoreRequest) ([]int64, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: facts list cannot be empty", ErrInvalidInput)
	}
	for i := range reqs {
		reqs[i].normalize()
		if err := guard.ValidateStore(e.opts.Limits, reqs[i].Project, reqs[i].Content, reqs[i].FactType, reqs[i].Tags); err != nil {
			return nil, err
		}
	}

	embeddings := make([][]float32, len(reqs))
	if e.opts.AutoEmbed && e.opts.Embedder != nil {
		texts := make([]string, len(reqs))
		for i, r := range reqs {
			texts[i] = r.Content
		}
		vecs, err := e.opts.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			debug.Logf("cortex: batch embedding failed: %v\n", err)
			metrics.EmbeddingFailure(ctx)
		} else if len(vecs) == len(reqs) {
			embeddings = vecs
		}
	}

	tx, release, err := e.beginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ids := make([]int64, 0, len(reqs))
	for i, req := range reqs {
		id, err := e.storeInTx(ctx, tx, req, embeddings[i])
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch store: %w", err)
	}
	return ids, nil
}

// Update emits a new fact carrying the merged fields, then deprecates the
// old one. Both rows and their ledger entries share one commit; the new
// fact records its ancestry in meta.previous_fact_id.
func (e *Engine) Update(ctx context.Context, factID int64, content *string, tags []string, meta map[string]any) (int64, error) {
	if factID <= 0 {
		return 0, fmt.Errorf("%w: invalid fact_id %d", ErrInvalidInput, factID)
	}

	old, err := e.GetFact(ctx, factID)
	if err != nil {
		return 0, err
	}
	if !old.Active() {
		return 0, fmt.Errorf("%w: fact %d is deprecated", ErrInvalidInput, factID)
	}

	newContent := old.Content
	if content != nil {
		newContent = *content
	}
	newTags := old.Tags
	if tags != nil {
		newTags = tags
	}
	newMeta := map[string]any{}
	for k, v := range old.Meta {
		newMeta[k] = v
	}
	for k, v := range meta {
		newMeta[k] = v
	}
	newMeta[types.MetaPreviousFactID] = factID

	req := StoreRequest{
		Project:    old.Project,
		Content:    newContent,
		FactType:   old.FactType,
		Tags:       newTags,
		Confidence: old.Confidence,
		Source:     old.Source,
		Meta:       newMeta,
	}
	req.normalize()
	if err := guard.ValidateStore(e.opts.Limits, req.Project, req.Content, req.FactType, req.Tags); err != nil {
		return 0, err
	}

	var embedding []float32
	if e.opts.AutoEmbed && e.opts.Embedder != nil {
		if vec, embErr := e.opts.Embedder.Embed(ctx, req.Content); embErr == nil {
			embedding = vec
		} else {
			debug.Logf("cortex: embedding failed: %v\n", embErr)
			metrics.EmbeddingFailure(ctx)
		}
	}

	tx, release, err := e.beginWrite(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	newID, err := e.storeInTx(ctx, tx, req, embedding)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if _, err := e.deprecateInTx(ctx, tx, factID, fmt.Sprintf("updated_by_%d", newID)); err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit update: %w", err)
	}
	return newID, nil
}

// Deprecate closes the fact's validity window. No-op (false) if the fact is
// already deprecated; ErrNotFound if it does not exist.
func (e *Engine) Deprecate(ctx context.Context, factID int64, reason string) (bool, error) {
	if factID <= 0 {
		return false, fmt.Errorf("%w: invalid fact_id %d", ErrInvalidInput, factID)
	}

	tx, release, err := e.beginWrite(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	ok, err := e.deprecateInTx(ctx, tx, factID, reason)
	if err != nil {
		tx.Rollback()
		return false, err
	}
	if !ok {
		tx.Rollback()
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit deprecate: %w", err)
	}
	return true, nil
}

func (e *Engine) deprecateInTx(ctx context.Context, tx *sql.Tx, factID int64, reason string) (bool, error) {
	if reason == "" {
		reason = "deprecated"
	}
	ts := temporal.NowISO()

	res, err := tx.ExecContext(ctx,
		`UPDATE facts SET valid_until = ?, updated_at = ?,
		 meta = json_set(COALESCE(meta, '{}'), '$.deprecation_reason', ?)
		 WHERE id = ? AND valid_until IS NULL`,
		ts, ts, reason, factID)
	if err != nil {
		return false, fmt.Errorf("failed to deprecate fact %d: %w", factID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM facts WHERE id = ?", factID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("deprecate fact %d: %w", factID, ErrNotFound)
		}
		if err != nil {
			return false, wrapDBErrorf(err, "deprecate fact %d", factID)
		}
		return false, nil // already deprecated
	}

	var project string
	if err := tx.QueryRowContext(ctx, "SELECT project FROM facts WHERE id = ?", factID).Scan(&project); err != nil {
		return false, wrapDBErrorf(err, "deprecate fact %d", factID)
	}

	if _, err := e.logTransaction(ctx, tx, project, types.ActionDeprecate,
		map[string]any{"fact_id": factID, "reason": reason}); err != nil {
		return false, err
	}
	if err := enqueueOutbox(ctx, tx, factID, "deprecate_fact"); err != nil {
		return false, err
	}
	return true, nil
}

// GetFact fetches a single fact by id.
func (e *Engine) GetFact(ctx context.Context, factID int64) (*types.Fact, error) {
	row := e.db.QueryRowContext(ctx,
		"SELECT "+factColumns+" "+factJoin+" WHERE f.id = ?", factID)
	f, err := scanFact(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "get fact %d", factID)
	}
	return f, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFact(row rowScanner) (*types.Fact, error) {
	var (
		f          types.Fact
		factType   string
		confidence string
		tags       string
		meta       string
		validUntil sql.NullString
		source     sql.NullString
		txID       sql.NullInt64
	)
	err := row.Scan(&f.ID, &f.Project, &f.Content, &factType, &tags, &confidence,
		&f.ConsensusScore, &f.ValidFrom, &validUntil, &source, &meta,
		&f.CreatedAt, &f.UpdatedAt, &txID, &f.Hash)
	if err != nil {
		return nil, err
	}
	f.FactType = types.FactType(factType)
	f.Confidence = types.Confidence(confidence)
	f.Tags = parseJSONStringArray(tags)
	f.Meta = parseJSONMap(meta)
	f.ValidUntil = stringPtr(validUntil)
	if source.Valid {
		f.Source = source.String
	}
	f.TxID = int64Ptr(txID)
	return &f, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
