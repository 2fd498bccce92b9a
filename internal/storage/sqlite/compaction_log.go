package sqlite

import (
	"context"
	"encoding/json"

	"github.com/borjamoskv/cortex/internal/temporal"
	"github.com/borjamoskv/cortex/internal/types"
)

// CompactionRecord is one persisted compaction run.
type CompactionRecord struct {
	ID            int64    `json:"id"`
	Project       string   `json:"project"`
	Strategies    []string `json:"strategies"`
	DeprecatedIDs []int64  `json:"deprecated_ids"`
	NewFactIDs    []int64  `json:"new_fact_ids"`
	FactsBefore   int64    `json:"facts_before"`
	FactsAfter    int64    `json:"facts_after"`
	CreatedAt     string   `json:"created_at"`
}

// LogCompaction records a completed compaction run.
func (e *Engine) LogCompaction(ctx context.Context, rec CompactionRecord) error {
	strategies, _ := json.Marshal(rec.Strategies)
	deprecated, _ := json.Marshal(rec.DeprecatedIDs)
	newIDs, _ := json.Marshal(rec.NewFactIDs)
	_, err := e.db.ExecContext(ctx,
		`INSERT INTO compaction_log (project, strategies, deprecated_ids, new_fact_ids, facts_before, facts_after, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Project, string(strategies), string(deprecated), string(newIDs),
		rec.FactsBefore, rec.FactsAfter, temporal.NowISO())
	return wrapDBError("log compaction", err)
}

// CompactionHistory returns past runs, newest first. Empty project returns
// all.
func (e *Engine) CompactionHistory(ctx context.Context, project string, limit int) ([]CompactionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := "SELECT id, project, strategies, deprecated_ids, new_fact_ids, facts_before, facts_after, created_at FROM compaction_log"
	var args []any
	if project != "" {
		query += " WHERE project = ?"
		args = append(args, project)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("compaction history", err)
	}
	defer rows.Close()

	var out []CompactionRecord
	for rows.Next() {
		var rec CompactionRecord
		var strategies, deprecated, newIDs string
		if err := rows.Scan(&rec.ID, &rec.Project, &strategies, &deprecated, &newIDs,
			&rec.FactsBefore, &rec.FactsAfter, &rec.CreatedAt); err != nil {
			return nil, wrapDBError("scan compaction record", err)
		}
		json.Unmarshal([]byte(strategies), &rec.Strategies)
		json.Unmarshal([]byte(deprecated), &rec.DeprecatedIDs)
		json.Unmarshal([]byte(newIDs), &rec.NewFactIDs)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ActiveFacts returns a project's active facts ordered oldest first, the
// scan order compaction strategies expect.
func (e *Engine) ActiveFacts(ctx context.Context, project string) ([]*types.Fact, error) {
	return e.queryFacts(ctx,
		"SELECT "+factColumns+" "+factJoin+" WHERE f.project = ? AND f.valid_until IS NULL ORDER BY f.created_at ASC, f.id ASC",
		project)
}

// CountActiveFacts counts a project's active facts.
func (e *Engine) CountActiveFacts(ctx context.Context, project string) (int64, error) {
	var n int64
	err := e.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM facts WHERE project = ? AND valid_until IS NULL", project).Scan(&n)
	if err != nil {
		return 0, wrapDBError("count active facts", err)
	}
	return n, nil
}

// StaleFactIDs returns active facts older than the cutoff whose consensus
// score is below minConsensus.
func (e *Engine) StaleFactIDs(ctx context.Context, project, cutoff string, minConsensus float64) ([]int64, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT id FROM facts
		 WHERE project = ? AND valid_until IS NULL AND created_at < ? AND consensus_score < ?
		 ORDER BY created_at ASC`,
		project, cutoff, minConsensus)
	if err != nil {
		return nil, wrapDBError("find stale facts", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBError("scan stale fact", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
