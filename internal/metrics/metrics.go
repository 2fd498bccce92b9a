// Package metrics exposes the engine's OpenTelemetry counters. The host
// application wires exporters; the engine only records.
package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const scope = "github.com/borjamoskv/cortex"

var (
	once sync.Once

	embeddingFailures   metric.Int64Counter
	checkpointFailures  metric.Int64Counter
	integrityViolations metric.Int64Counter
	outboxProcessed     metric.Int64Counter
	outboxFailed        metric.Int64Counter
)

func initInstruments() {
	meter := otel.Meter(scope)
	embeddingFailures, _ = meter.Int64Counter(
		"cortex.embedding.failures",
		metric.WithDescription("Facts stored without an embedding due to embedder errors"),
	)
	checkpointFailures, _ = meter.Int64Counter(
		"cortex.ledger.checkpoint.failures",
		metric.WithDescription("Merkle checkpoint attempts that failed"),
	)
	integrityViolations, _ = meter.Int64Counter(
		"cortex.ledger.integrity.violations",
		metric.WithDescription("Violations found by ledger verification"),
	)
	outboxProcessed, _ = meter.Int64Counter(
		"cortex.outbox.processed",
		metric.WithDescription("CDC outbox entries marked processed"),
	)
	outboxFailed, _ = meter.Int64Counter(
		"cortex.outbox.failed",
		metric.WithDescription("CDC outbox entries marked failed"),
	)
}

// EmbeddingFailure records a skipped embedding on store.
func EmbeddingFailure(ctx context.Context) {
	once.Do(initInstruments)
	embeddingFailures.Add(ctx, 1)
}

// CheckpointFailure records a failed auto-checkpoint attempt.
func CheckpointFailure(ctx context.Context) {
	once.Do(initInstruments)
	checkpointFailures.Add(ctx, 1)
}

// IntegrityViolations records violations found by a verification run.
func IntegrityViolations(ctx context.Context, n int64, kind string) {
	once.Do(initInstruments)
	integrityViolations.Add(ctx, n, metric.WithAttributes(attribute.String("kind", kind)))
}

// OutboxProcessed records successfully drained outbox entries.
func OutboxProcessed(ctx context.Context, n int64) {
	once.Do(initInstruments)
	outboxProcessed.Add(ctx, n)
}

// OutboxFailed records outbox entries whose propagation failed.
func OutboxFailed(ctx context.Context, n int64) {
	once.Do(initInstruments)
	outboxFailed.Add(ctx, n)
}
