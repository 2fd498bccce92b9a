package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/borjamoskv/cortex/internal/debug"
	"github.com/borjamoskv/cortex/internal/graph"
	"github.com/borjamoskv/cortex/internal/metrics"
	"github.com/borjamoskv/cortex/internal/temporal"
	"github.com/borjamoskv/cortex/internal/types"
)

// enqueueOutbox appends a CDC entry inside the caller's transaction. Local
// correctness never depends on the outbox draining.
func enqueueOutbox(ctx context.Context, tx execer, factID int64, action string) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO graph_outbox (fact_id, action, status, created_at) VALUES (?, ?, 'pending', ?)",
		factID, action, temporal.NowISO())
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox entry: %w", err)
	}
	return nil
}

// OutboxConsumer propagates one entry downstream. Returning an error marks
// the entry failed and bumps its retry count.
type OutboxConsumer func(ctx context.Context, entry types.OutboxEntry) error

// ProcessOutbox leases up to limit pending entries and hands each to the
// consumer, retrying transient failures with exponential backoff before
// marking the entry failed. Returns the number processed successfully.
//
// When no consumer is given and a remote graph backend is configured, the
// default consumer re-syncs the fact's graph elements to the remote.
func (e *Engine) ProcessOutbox(ctx context.Context, limit int, consumer OutboxConsumer) (int, error) {
	if limit <= 0 {
		limit = 10
	}
	if consumer == nil {
		if e.opts.Remote == nil {
			return 0, fmt.Errorf("process outbox: %w", ErrBackendUnavailable)
		}
		consumer = e.remoteOutboxConsumer
	}

	rows, err := e.db.QueryContext(ctx,
		`SELECT id, fact_id, action, status, retry_count, created_at, processed_at
		 FROM graph_outbox WHERE status = 'pending' ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return 0, wrapDBError("lease outbox", err)
	}

	var entries []types.OutboxEntry
	for rows.Next() {
		var entry types.OutboxEntry
		var status string
		var processedAt *string
		if err := rows.Scan(&entry.ID, &entry.FactID, &entry.Action, &status, &entry.RetryCount, &entry.CreatedAt, &processedAt); err != nil {
			rows.Close()
			return 0, wrapDBError("scan outbox entry", err)
		}
		entry.Status = types.OutboxStatus(status)
		entry.ProcessedAt = processedAt
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	processed := 0
	for _, entry := range entries {
		policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(100*time.Millisecond),
			backoff.WithMaxInterval(2*time.Second),
		), 3), ctx)

		err := backoff.Retry(func() error {
			return consumer(ctx, entry)
		}, policy)

		if err != nil {
			debug.Logf("cortex: outbox entry %d failed: %v\n", entry.ID, err)
			if _, uerr := e.db.ExecContext(ctx,
				"UPDATE graph_outbox SET status = 'failed', retry_count = retry_count + 1 WHERE id = ?",
				entry.ID); uerr != nil {
				return processed, wrapDBError("mark outbox failed", uerr)
			}
			metrics.OutboxFailed(ctx, 1)
			continue
		}
		if _, uerr := e.db.ExecContext(ctx,
			"UPDATE graph_outbox SET status = 'processed', processed_at = ? WHERE id = ?",
			temporal.NowISO(), entry.ID); uerr != nil {
			return processed, wrapDBError("mark outbox processed", uerr)
		}
		metrics.OutboxProcessed(ctx, 1)
		processed++
	}
	return processed, nil
}

// remoteOutboxConsumer replays a fact's graph mutations against the remote
// backend.
func (e *Engine) remoteOutboxConsumer(ctx context.Context, entry types.OutboxEntry) error {
	switch entry.Action {
	case "deprecate_fact":
		return e.opts.Remote.DeleteFactElements(ctx, entry.FactID)
	default:
		fact, err := e.GetFact(ctx, entry.FactID)
		if err != nil {
			return err
		}
		return e.remoteWriteFromContent(ctx, fact)
	}
}

func (e *Engine) remoteWriteFromContent(ctx context.Context, fact *types.Fact) error {
	entities, relations := graph.Extract(fact.Content)
	return e.remoteWrite(ctx, fact.ID, fact.Project, fact.CreatedAt, entities, relations)
}

// OutboxBacklog returns the pending entry count.
func (e *Engine) OutboxBacklog(ctx context.Context) (int64, error) {
	var n int64
	err := e.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM graph_outbox WHERE status = 'pending'").Scan(&n)
	if err != nil {
		return 0, wrapDBError("outbox backlog", err)
	}
	return n, nil
}
