package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/borjamoskv/cortex/internal/canonical"
	"github.com/borjamoskv/cortex/internal/debug"
	"github.com/borjamoskv/cortex/internal/ledger"
	"github.com/borjamoskv/cortex/internal/metrics"
	"github.com/borjamoskv/cortex/internal/temporal"
	"github.com/borjamoskv/cortex/internal/types"
)

// execer covers both *sql.Tx and *sql.DB for code shared between
// transactional and direct paths.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// logTransaction appends a hash-chained ledger entry inside the caller's
// transaction and returns the new tx id. The caller commits.
func (e *Engine) logTransaction(ctx context.Context, tx execer, project string, action types.TxAction, detail map[string]any) (int64, error) {
	detailJSON := canonical.MustJSON(detail)
	ts := temporal.NowISO()

	var prevHash string
	err := tx.QueryRowContext(ctx, "SELECT hash FROM transactions ORDER BY id DESC LIMIT 1").Scan(&prevHash)
	if errors.Is(err, sql.ErrNoRows) {
		prevHash = canonical.Genesis
	} else if err != nil {
		return 0, fmt.Errorf("failed to read ledger tail: %w", err)
	}

	hash := canonical.TxHash(prevHash, project, string(action), detailJSON, ts)

	res, err := tx.ExecContext(ctx,
		"INSERT INTO transactions (project, action, detail, prev_hash, hash, timestamp) VALUES (?, ?, ?, ?, ?, ?)",
		project, string(action), detailJSON, prevHash, hash, ts)
	if err != nil {
		return 0, fmt.Errorf("failed to append transaction: %w", err)
	}
	txID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read transaction id: %w", err)
	}

	e.batcher.RecordWrite()
	if _, err := e.maybeCheckpoint(ctx, tx); err != nil {
		// Checkpoint failures never fail the write; the next append
		// retries.
		debug.Logf("cortex: auto-checkpoint failed: %v\n", err)
		metrics.CheckpointFailure(ctx)
	}
	return txID, nil
}

// maybeCheckpoint seals a checkpoint when the pending count reaches the
// adaptive batch size. Returns the checkpoint id, or 0 when below
// threshold.
func (e *Engine) maybeCheckpoint(ctx context.Context, tx execer) (int64, error) {
	batchSize := e.batcher.BatchSize()

	var lastSealed int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(tx_end_id), 0) FROM merkle_roots").Scan(&lastSealed); err != nil {
		return 0, fmt.Errorf("failed to locate last checkpoint: %w", err)
	}

	var pending int64
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions WHERE id > ?", lastSealed).Scan(&pending); err != nil {
		return 0, fmt.Errorf("failed to count pending transactions: %w", err)
	}
	if pending < int64(batchSize) {
		return 0, nil
	}

	startID := lastSealed + 1
	var endID int64
	err := tx.QueryRowContext(ctx,
		"SELECT id FROM transactions WHERE id >= ? ORDER BY id LIMIT 1 OFFSET ?",
		startID, batchSize-1).Scan(&endID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to select checkpoint range: %w", err)
	}

	root, err := e.merkleRoot(ctx, tx, startID, endID)
	if err != nil {
		return 0, err
	}
	if root == "" {
		return 0, nil
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO merkle_roots (root_hash, tx_start_id, tx_end_id, tx_count, created_at) VALUES (?, ?, ?, ?, ?)",
		root, startID, endID, batchSize, temporal.NowISO())
	if err != nil {
		return 0, fmt.Errorf("failed to store checkpoint: %w", err)
	}
	id, _ := res.LastInsertId()
	debug.Logf("cortex: created Merkle checkpoint #%d (TX %d-%d)\n", id, startID, endID)
	return id, nil
}

// CreateCheckpoint attempts a checkpoint outside the write path, e.g.
// before a snapshot. Returns 0 when the pending count is below the adaptive
// threshold.
func (e *Engine) CreateCheckpoint(ctx context.Context) (int64, error) {
	tx, release, err := e.beginWrite(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	id, err := e.maybeCheckpoint(ctx, tx)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return id, nil
}

// merkleRoot builds the tree over the ordered transaction hashes in
// [startID, endID]. Empty range yields "".
func (e *Engine) merkleRoot(ctx context.Context, q execer, startID, endID int64) (string, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT hash FROM transactions WHERE id >= ? AND id <= ? ORDER BY id", startID, endID)
	if err != nil {
		return "", fmt.Errorf("failed to read transaction hashes: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return "", fmt.Errorf("failed to scan hash: %w", err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(hashes) == 0 {
		return "", nil
	}
	return ledger.NewMerkleTree(hashes).Root(), nil
}

// LatestCheckpointRoot returns the newest sealed root hash, or "".
func (e *Engine) LatestCheckpointRoot(ctx context.Context) (string, error) {
	var root string
	err := e.db.QueryRowContext(ctx,
		"SELECT root_hash FROM merkle_roots ORDER BY id DESC LIMIT 1").Scan(&root)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", wrapDBError("latest checkpoint", err)
	}
	return root, nil
}

// LatestTxID returns the current ledger tail id, or 0 for an empty ledger.
func (e *Engine) LatestTxID(ctx context.Context) (int64, error) {
	var id int64
	err := e.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM transactions").Scan(&id)
	if err != nil {
		return 0, wrapDBError("latest tx", err)
	}
	return id, nil
}

// VerifyIntegrity walks the full chain and every checkpoint. Hash
// recomputation accepts either the canonical v2 hash or the legacy v1 hash,
// so pre-migration chains still verify. The audit is persisted to
// integrity_checks.
func (e *Engine) VerifyIntegrity(ctx context.Context) (*types.VerifyReport, error) {
	startedAt := temporal.NowISO()
	var violations []types.Violation

	rows, err := e.db.QueryContext(ctx,
		"SELECT id, prev_hash, hash, project, action, COALESCE(detail, ''), timestamp FROM transactions ORDER BY id")
	if err != nil {
		return nil, wrapDBError("verify: read transactions", err)
	}

	txChecked := 0
	currentPrev := canonical.Genesis
	for rows.Next() {
		var (
			id                                  int64
			prevHash, hash, project, action, ts string
			detail                              string
		)
		if err := rows.Scan(&id, &prevHash, &hash, &project, &action, &detail, &ts); err != nil {
			rows.Close()
			return nil, wrapDBError("verify: scan transaction", err)
		}
		txChecked++

		if prevHash != currentPrev {
			violations = append(violations, types.Violation{
				Type:     "chain_break",
				TxID:     id,
				Expected: currentPrev,
				Actual:   prevHash,
			})
		}

		v2 := canonical.TxHash(prevHash, project, action, detail, ts)
		v1 := canonical.TxHashV1(prevHash, project, action, detail, ts)
		if v2 != hash && v1 != hash {
			violations = append(violations, types.Violation{
				Type:     "hash_mismatch",
				TxID:     id,
				Expected: v2,
				Actual:   hash,
			})
		}
		currentPrev = hash
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	cpRows, err := e.db.QueryContext(ctx,
		"SELECT id, root_hash, tx_start_id, tx_end_id FROM merkle_roots ORDER BY id")
	if err != nil {
		return nil, wrapDBError("verify: read checkpoints", err)
	}

	type cp struct {
		id         int64
		root       string
		start, end int64
	}
	var cps []cp
	for cpRows.Next() {
		var c cp
		if err := cpRows.Scan(&c.id, &c.root, &c.start, &c.end); err != nil {
			cpRows.Close()
			return nil, wrapDBError("verify: scan checkpoint", err)
		}
		cps = append(cps, c)
	}
	if err := cpRows.Err(); err != nil {
		cpRows.Close()
		return nil, err
	}
	cpRows.Close()

	for _, c := range cps {
		computed, err := e.merkleRoot(ctx, e.db, c.start, c.end)
		if err != nil {
			return nil, err
		}
		if computed != c.root {
			violations = append(violations, types.Violation{
				Type:     "merkle_mismatch",
				MerkleID: c.id,
				Expected: c.root,
				Actual:   computed,
			})
		}
	}

	report := &types.VerifyReport{
		Valid:        len(violations) == 0,
		Violations:   violations,
		TxChecked:    txChecked,
		RootsChecked: len(cps),
	}

	status := "ok"
	if !report.Valid {
		status = "violation"
		byKind := map[string]int64{}
		for _, v := range violations {
			byKind[v.Type]++
		}
		for kind, n := range byKind {
			metrics.IntegrityViolations(ctx, n, kind)
		}
		debug.Logf("cortex: integrity check failed: %d violations\n", len(violations))
	}

	details, _ := json.Marshal(violations)
	if _, err := e.db.ExecContext(ctx,
		"INSERT INTO integrity_checks (check_type, status, details, started_at, completed_at) VALUES ('full', ?, ?, ?, ?)",
		status, string(details), startedAt, temporal.NowISO()); err != nil {
		return nil, wrapDBError("verify: persist audit", err)
	}
	return report, nil
}

// Checkpoints lists all sealed checkpoints in order.
func (e *Engine) Checkpoints(ctx context.Context) ([]types.Checkpoint, error) {
	rows, err := e.db.QueryContext(ctx,
		"SELECT id, root_hash, tx_start_id, tx_end_id, tx_count, created_at FROM merkle_roots ORDER BY id")
	if err != nil {
		return nil, wrapDBError("list checkpoints", err)
	}
	defer rows.Close()

	var out []types.Checkpoint
	for rows.Next() {
		var c types.Checkpoint
		if err := rows.Scan(&c.ID, &c.RootHash, &c.TxStartID, &c.TxEndID, &c.TxCount, &c.CreatedAt); err != nil {
			return nil, wrapDBError("scan checkpoint", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetTransaction fetches one ledger entry.
func (e *Engine) GetTransaction(ctx context.Context, id int64) (*types.Transaction, error) {
	var t types.Transaction
	var action string
	err := e.db.QueryRowContext(ctx,
		"SELECT id, project, action, COALESCE(detail, ''), COALESCE(prev_hash, ''), hash, timestamp FROM transactions WHERE id = ?",
		id).Scan(&t.ID, &t.Project, &action, &t.Detail, &t.PrevHash, &t.Hash, &t.Timestamp)
	if err != nil {
		return nil, wrapDBErrorf(err, "get transaction %d", id)
	}
	t.Action = types.TxAction(action)
	return &t, nil
}
