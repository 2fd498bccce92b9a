package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/borjamoskv/cortex/internal/debug"
	"github.com/borjamoskv/cortex/internal/temporal"
	"github.com/borjamoskv/cortex/internal/types"
)

// searchColumns matches scanSearchResult.
const searchColumns = `f.id, f.content, f.project, f.fact_type, f.confidence,
	f.valid_from, f.valid_until, f.tags, f.source, f.meta,
	f.created_at, f.updated_at, f.tx_id, COALESCE(t.hash, '')`

// SanitizeFTSQuery neutralizes FTS5 operator syntax in user input: every
// token is stripped of quotes and emitted as a quoted phrase; bare
// AND/OR/NOT tokens are dropped. A query of only operators matches nothing.
func SanitizeFTSQuery(query string) string {
	var safe []string
	for _, token := range strings.Fields(query) {
		cleaned := strings.ReplaceAll(strings.ReplaceAll(token, `"`, ""), "'", "")
		if cleaned == "" {
			continue
		}
		switch strings.ToUpper(cleaned) {
		case "AND", "OR", "NOT":
			continue
		}
		safe = append(safe, `"`+cleaned+`"`)
	}
	return strings.Join(safe, " ")
}

// TextSearch runs an FTS5 query over active facts (or the as-of window),
// ranked by BM25. Query and scan errors degrade to an empty result set;
// an error from the final row iteration is returned.
func (e *Engine) TextSearch(ctx context.Context, query, project string, factType types.FactType, limit int, asOf string) ([]*types.SearchResult, error) {
	ftsQuery := SanitizeFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	sqlText := `SELECT ` + searchColumns + `, bm25(facts_fts) AS rank
		FROM facts_fts fts
		JOIN facts f ON f.id = fts.rowid
		LEFT JOIN transactions t ON f.tx_id = t.id
		WHERE fts.content MATCH ?`
	args := []any{ftsQuery}

	if asOf != "" {
		clause, params, err := temporal.Filter(asOf, "f")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		sqlText += " AND " + clause
		args = append(args, params...)
	} else {
		sqlText += " AND f.valid_until IS NULL"
	}
	if project != "" {
		sqlText += " AND f.project = ?"
		args = append(args, project)
	}
	if factType != "" {
		sqlText += " AND f.fact_type = ?"
		args = append(args, string(factType))
	}
	sqlText += " ORDER BY rank ASC LIMIT ?"
	args = append(args, limit)

	rows, err := e.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		debug.Logf("cortex: text search failed: %v\n", err)
		return nil, nil
	}
	defer rows.Close()

	var results []*types.SearchResult
	for rows.Next() {
		res, rank, err := scanSearchResult(rows, true)
		if err != nil {
			debug.Logf("cortex: text search scan failed: %v\n", err)
			return nil, nil
		}
		// BM25 rank is negative-is-better in FTS5; flip so higher
		// score means more relevant.
		res.Score = -rank
		if res.Score <= 0 {
			res.Score = 0.5
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// VectorSearch performs KNN over the embedding index with cosine distance,
// honoring project and temporal filters. Deprecated facts stay in the index
// but are filtered by the query's predicate. Returns
// ErrBackendUnavailable when the query embedding is empty.
func (e *Engine) VectorSearch(ctx context.Context, queryEmbedding []float32, topK int, project, asOf string) ([]*types.SearchResult, error) {
	if len(queryEmbedding) == 0 {
		return nil, fmt.Errorf("vector search: %w", ErrBackendUnavailable)
	}
	if topK <= 0 {
		topK = 5
	}

	sqlText := `SELECT ` + searchColumns + `, ve.embedding
		FROM fact_embeddings ve
		JOIN facts f ON f.id = ve.fact_id
		LEFT JOIN transactions t ON f.tx_id = t.id
		WHERE 1=1`
	var args []any

	if asOf != "" {
		clause, params, err := temporal.Filter(asOf, "f")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		sqlText += " AND " + clause
		args = append(args, params...)
	} else {
		sqlText += " AND f.valid_until IS NULL"
	}
	if project != "" {
		sqlText += " AND f.project = ?"
		args = append(args, project)
	}

	rows, err := e.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, wrapDBError("vector search", err)
	}
	defer rows.Close()

	type scored struct {
		res      *types.SearchResult
		distance float64
	}
	var candidates []scored
	for rows.Next() {
		res, raw, err := scanSearchResultWithEmbedding(rows)
		if err != nil {
			return nil, wrapDBError("vector search scan", err)
		}
		var vec []float32
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			continue
		}
		dist, ok := cosineDistance(queryEmbedding, vec)
		if !ok {
			continue
		}
		candidates = append(candidates, scored{res: res, distance: dist})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].distance < candidates[j].distance
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	results := make([]*types.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		c.res.Score = 1.0 - c.distance
		results = append(results, c.res)
	}
	return results, nil
}

// cosineDistance returns 1 − cosine similarity; ok is false for
// zero-length or mismatched vectors.
func cosineDistance(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return 1.0 - dot/(math.Sqrt(normA)*math.Sqrt(normB)), true
}

// upsertEmbedding writes a fact's vector into the index.
func upsertEmbedding(ctx context.Context, tx execer, factID int64, vec []float32) error {
	raw, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("failed to encode embedding: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO fact_embeddings (fact_id, embedding, dim) VALUES (?, ?, ?)
		 ON CONFLICT(fact_id) DO UPDATE SET embedding = excluded.embedding, dim = excluded.dim`,
		factID, string(raw), len(vec))
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}
	return nil
}

// UpsertEmbedding stores or replaces a fact's vector outside the store
// pipeline (back-fill of facts predating embedding support).
func (e *Engine) UpsertEmbedding(ctx context.Context, factID int64, vec []float32) error {
	if factID <= 0 {
		return fmt.Errorf("%w: invalid fact_id %d", ErrInvalidInput, factID)
	}
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty embedding", ErrInvalidInput)
	}
	return upsertEmbedding(ctx, e.db, factID, vec)
}

func scanSearchResult(row rowScanner, withRank bool) (*types.SearchResult, float64, error) {
	var (
		res        types.SearchResult
		factType   string
		confidence string
		tags       string
		meta       string
		validUntil sql.NullString
		source     sql.NullString
		txID       sql.NullInt64
		rank       float64
	)
	dest := []any{&res.FactID, &res.Content, &res.Project, &factType, &confidence,
		&res.ValidFrom, &validUntil, &tags, &source, &meta,
		&res.CreatedAt, &res.UpdatedAt, &txID, &res.Hash}
	if withRank {
		dest = append(dest, &rank)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, 0, err
	}
	res.FactType = types.FactType(factType)
	res.Confidence = types.Confidence(confidence)
	res.Tags = parseJSONStringArray(tags)
	res.Meta = parseJSONMap(meta)
	res.ValidUntil = stringPtr(validUntil)
	if source.Valid {
		res.Source = source.String
	}
	res.TxID = int64Ptr(txID)
	return &res, rank, nil
}

func scanSearchResultWithEmbedding(row rowScanner) (*types.SearchResult, string, error) {
	var (
		res        types.SearchResult
		factType   string
		confidence string
		tags       string
		meta       string
		validUntil sql.NullString
		source     sql.NullString
		txID       sql.NullInt64
		embedding  string
	)
	err := row.Scan(&res.FactID, &res.Content, &res.Project, &factType, &confidence,
		&res.ValidFrom, &validUntil, &tags, &source, &meta,
		&res.CreatedAt, &res.UpdatedAt, &txID, &res.Hash, &embedding)
	if err != nil {
		return nil, "", err
	}
	res.FactType = types.FactType(factType)
	res.Confidence = types.Confidence(confidence)
	res.Tags = parseJSONStringArray(tags)
	res.Meta = parseJSONMap(meta)
	res.ValidUntil = stringPtr(validUntil)
	if source.Valid {
		res.Source = source.String
	}
	res.TxID = int64Ptr(txID)
	return &res, embedding, nil
}
