package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/borjamoskv/cortex/internal/types"
)

func TestStoreEnqueuesOutboxEntry(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	if _, err := e.Store(ctx, StoreRequest{Project: "p", Content: "tracked fact"}); err != nil {
		t.Fatal(err)
	}

	backlog, err := e.OutboxBacklog(ctx)
	if err != nil {
		t.Fatalf("OutboxBacklog failed: %v", err)
	}
	if backlog != 1 {
		t.Errorf("backlog = %d, want 1", backlog)
	}
}

func TestDeprecateEnqueuesOutboxEntry(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	id, _ := e.Store(ctx, StoreRequest{Project: "p", Content: "to deprecate"})
	if _, err := e.Deprecate(ctx, id, ""); err != nil {
		t.Fatal(err)
	}

	backlog, _ := e.OutboxBacklog(ctx)
	if backlog != 2 {
		t.Errorf("backlog = %d, want 2 (store + deprecate)", backlog)
	}
}

func TestProcessOutboxDrainsPending(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	for i := 0; i < 3; i++ {
		if _, err := e.Store(ctx, StoreRequest{Project: "p", Content: contentFor(i)}); err != nil {
			t.Fatal(err)
		}
	}

	var seen []int64
	consumer := func(_ context.Context, entry types.OutboxEntry) error {
		seen = append(seen, entry.FactID)
		return nil
	}

	processed, err := e.ProcessOutbox(ctx, 10, consumer)
	if err != nil {
		t.Fatalf("ProcessOutbox failed: %v", err)
	}
	if processed != 3 {
		t.Errorf("processed = %d, want 3", processed)
	}
	if len(seen) != 3 {
		t.Errorf("consumer saw %d entries, want 3", len(seen))
	}

	backlog, _ := e.OutboxBacklog(ctx)
	if backlog != 0 {
		t.Errorf("backlog after drain = %d, want 0", backlog)
	}
}

func TestProcessOutboxMarksFailures(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	if _, err := e.Store(ctx, StoreRequest{Project: "p", Content: "will fail downstream"}); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("remote down")
	processed, err := e.ProcessOutbox(ctx, 10, func(context.Context, types.OutboxEntry) error {
		return boom
	})
	if err != nil {
		t.Fatalf("ProcessOutbox errored: %v", err)
	}
	if processed != 0 {
		t.Errorf("processed = %d, want 0", processed)
	}

	var status string
	var retries int
	if err := e.DB().QueryRowContext(ctx,
		"SELECT status, retry_count FROM graph_outbox ORDER BY id LIMIT 1").Scan(&status, &retries); err != nil {
		t.Fatal(err)
	}
	if status != "failed" {
		t.Errorf("status = %q, want failed", status)
	}
	if retries == 0 {
		t.Error("retry_count not incremented")
	}
}

func TestProcessOutboxRespectsLimit(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	for i := 0; i < 5; i++ {
		if _, err := e.Store(ctx, StoreRequest{Project: "p", Content: contentFor(i)}); err != nil {
			t.Fatal(err)
		}
	}

	processed, err := e.ProcessOutbox(ctx, 2, func(context.Context, types.OutboxEntry) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if processed != 2 {
		t.Errorf("processed = %d, want 2", processed)
	}
	backlog, _ := e.OutboxBacklog(ctx)
	if backlog != 3 {
		t.Errorf("backlog = %d, want 3", backlog)
	}
}

func TestProcessOutboxWithoutRemote(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})
	if _, err := e.ProcessOutbox(ctx, 10, nil); !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("expected ErrBackendUnavailable without remote, got %v", err)
	}
}
