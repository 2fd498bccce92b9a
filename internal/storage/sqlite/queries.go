package sqlite

import (
	"context"
	"fmt"
	"os"

	"github.com/borjamoskv/cortex/internal/temporal"
	"github.com/borjamoskv/cortex/internal/types"
)

// Recall returns a project's active facts ranked by
// consensus_score*0.8 + recency_decay*0.2, then fact_type, then newest
// first. recency_decay = 1 / (1 + days_since_created).
func (e *Engine) Recall(ctx context.Context, project string, limit, offset int) ([]*types.Fact, error) {
	if project == "" {
		return nil, fmt.Errorf("%w: project cannot be empty", ErrInvalidInput)
	}

	query := "SELECT " + factColumns + " " + factJoin + `
		WHERE f.project = ? AND f.valid_until IS NULL
		ORDER BY (
			f.consensus_score * 0.8
			+ (1.0 / (1.0 + (julianday('now') - julianday(f.created_at)))) * 0.2
		) DESC, f.fact_type, f.created_at DESC`
	args := []any{project}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	}

	return e.queryFacts(ctx, query, args...)
}

// History returns every revision of a project's facts, active and
// deprecated, newest validity first. A non-empty asOf narrows to the facts
// valid at that instant.
func (e *Engine) History(ctx context.Context, project, asOf string) ([]*types.Fact, error) {
	if project == "" {
		return nil, fmt.Errorf("%w: project cannot be empty", ErrInvalidInput)
	}

	if asOf == "" {
		return e.queryFacts(ctx,
			"SELECT "+factColumns+" "+factJoin+" WHERE f.project = ? ORDER BY f.valid_from DESC",
			project)
	}

	clause, params, err := temporal.Filter(asOf, "f")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	args := append([]any{project}, params...)
	return e.queryFacts(ctx,
		"SELECT "+factColumns+" "+factJoin+" WHERE f.project = ? AND "+clause+" ORDER BY f.valid_from DESC",
		args...)
}

// ReconstructState returns the active fact set as of the target
// transaction: rows created at or before it and not yet deprecated at its
// timestamp.
func (e *Engine) ReconstructState(ctx context.Context, targetTxID int64, project string) ([]*types.Fact, error) {
	if _, err := e.GetTransaction(ctx, targetTxID); err != nil {
		return nil, err
	}

	clause, params, err := temporal.TimeTravelFilter(targetTxID, "f")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	query := "SELECT " + factColumns + " " + factJoin + " WHERE " + clause
	args := params
	if project != "" {
		query += " AND f.project = ?"
		args = append(args, project)
	}
	query += " ORDER BY f.id ASC"
	return e.queryFacts(ctx, query, args...)
}

func (e *Engine) queryFacts(ctx context.Context, query string, args ...any) ([]*types.Fact, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("query facts", err)
	}
	defer rows.Close()

	var facts []*types.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, wrapDBError("scan fact", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// Stats summarizes the engine: fact counts, projects, per-type breakdown,
// ledger and index sizes.
func (e *Engine) Stats(ctx context.Context) (*types.Stats, error) {
	s := &types.Stats{Types: map[string]int64{}, DBPath: e.path}

	if err := e.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM facts").Scan(&s.TotalFacts); err != nil {
		return nil, wrapDBError("stats: total facts", err)
	}
	if err := e.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM facts WHERE valid_until IS NULL").Scan(&s.ActiveFacts); err != nil {
		return nil, wrapDBError("stats: active facts", err)
	}
	s.DeprecatedFacts = s.TotalFacts - s.ActiveFacts

	rows, err := e.db.QueryContext(ctx, "SELECT DISTINCT project FROM facts WHERE valid_until IS NULL ORDER BY project")
	if err != nil {
		return nil, wrapDBError("stats: projects", err)
	}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, wrapDBError("stats: scan project", err)
		}
		s.Projects = append(s.Projects, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	typeRows, err := e.db.QueryContext(ctx,
		"SELECT fact_type, COUNT(*) FROM facts WHERE valid_until IS NULL GROUP BY fact_type")
	if err != nil {
		return nil, wrapDBError("stats: types", err)
	}
	for typeRows.Next() {
		var t string
		var n int64
		if err := typeRows.Scan(&t, &n); err != nil {
			typeRows.Close()
			return nil, wrapDBError("stats: scan type", err)
		}
		s.Types[t] = n
	}
	if err := typeRows.Err(); err != nil {
		typeRows.Close()
		return nil, err
	}
	typeRows.Close()

	if err := e.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions").Scan(&s.Transactions); err != nil {
		return nil, wrapDBError("stats: transactions", err)
	}
	if err := e.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fact_embeddings").Scan(&s.Embeddings); err != nil {
		return nil, wrapDBError("stats: embeddings", err)
	}
	if err := e.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM graph_outbox WHERE status = 'pending'").Scan(&s.OutboxPending); err != nil {
		return nil, wrapDBError("stats: outbox", err)
	}

	if info, err := os.Stat(e.path); err == nil {
		s.DBSizeMB = float64(info.Size()) / (1024 * 1024)
	}
	return s, nil
}
