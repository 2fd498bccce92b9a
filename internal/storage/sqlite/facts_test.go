package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/borjamoskv/cortex/internal/types"
)

func TestStoreAndGetFact(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	id, err := e.Store(ctx, StoreRequest{
		Project: "alpha",
		Content: "Python supports async/await",
		Tags:    []string{"python", "async"},
	})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive fact id, got %d", id)
	}

	fact, err := e.GetFact(ctx, id)
	if err != nil {
		t.Fatalf("GetFact failed: %v", err)
	}
	if fact.Content != "Python supports async/await" {
		t.Errorf("content = %q", fact.Content)
	}
	if fact.FactType != types.TypeKnowledge {
		t.Errorf("default fact type = %q, want knowledge", fact.FactType)
	}
	if fact.Confidence != types.ConfidenceStated {
		t.Errorf("default confidence = %q, want stated", fact.Confidence)
	}
	if fact.ConsensusScore != 1.0 {
		t.Errorf("default consensus = %v, want 1.0", fact.ConsensusScore)
	}
	if !fact.Active() {
		t.Error("new fact should be active")
	}
	if fact.TxID == nil || *fact.TxID <= 0 {
		t.Error("fact should be linked to its creating transaction")
	}
	if fact.Hash == "" {
		t.Error("fact should carry its transaction hash")
	}
}

func TestStoreRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	if _, err := e.Store(ctx, StoreRequest{Project: "", Content: "c"}); !errors.Is(err, errInvalidInputAlias) {
		t.Errorf("empty project: expected invalid input, got %v", err)
	}
	if _, err := e.Store(ctx, StoreRequest{Project: "p", Content: ""}); !errors.Is(err, errInvalidInputAlias) {
		t.Errorf("empty content: expected invalid input, got %v", err)
	}
	if _, err := e.Store(ctx, StoreRequest{Project: "p", Content: "c", FactType: "bogus"}); !errors.Is(err, errInvalidInputAlias) {
		t.Errorf("bad fact type: expected invalid input, got %v", err)
	}
	if _, err := e.Store(ctx, StoreRequest{Project: "p", Content: "x; DROP TABLE facts"}); !errors.Is(err, errInvalidInputAlias) {
		t.Errorf("poisoned content: expected invalid input, got %v", err)
	}
}

func TestDeprecateLifecycle(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	id, err := e.Store(ctx, StoreRequest{Project: "alpha", Content: "soon outdated"})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	ok, err := e.Deprecate(ctx, id, "outdated")
	if err != nil {
		t.Fatalf("Deprecate failed: %v", err)
	}
	if !ok {
		t.Fatal("Deprecate returned false for active fact")
	}

	fact, err := e.GetFact(ctx, id)
	if err != nil {
		t.Fatalf("GetFact failed: %v", err)
	}
	if fact.Active() {
		t.Error("deprecated fact should not be active")
	}
	if fact.ValidUntil == nil || *fact.ValidUntil <= fact.ValidFrom {
		t.Error("valid_until must be set strictly after valid_from")
	}
	if reason, _ := fact.Meta[types.MetaDeprecationReason].(string); reason != "outdated" {
		t.Errorf("deprecation reason = %q, want outdated", reason)
	}

	// Second deprecation is a no-op, not an error.
	ok, err = e.Deprecate(ctx, id, "again")
	if err != nil {
		t.Fatalf("second Deprecate errored: %v", err)
	}
	if ok {
		t.Error("second Deprecate should return false")
	}

	// valid_until never changes once set.
	after, _ := e.GetFact(ctx, id)
	if *after.ValidUntil != *fact.ValidUntil {
		t.Error("valid_until changed after second deprecation")
	}

	if _, err := e.Deprecate(ctx, 99999, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing fact: expected ErrNotFound, got %v", err)
	}
}

func TestRecallExcludesDeprecated(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	keep, _ := e.Store(ctx, StoreRequest{Project: "alpha", Content: "keep me"})
	drop, _ := e.Store(ctx, StoreRequest{Project: "alpha", Content: "drop me"})
	if _, err := e.Deprecate(ctx, drop, "outdated"); err != nil {
		t.Fatalf("Deprecate failed: %v", err)
	}

	facts, err := e.Recall(ctx, "alpha", 0, 0)
	if err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	ids := make(map[int64]bool)
	for _, f := range facts {
		ids[f.ID] = true
	}
	if !ids[keep] {
		t.Error("active fact missing from recall")
	}
	if ids[drop] {
		t.Error("deprecated fact leaked into recall")
	}

	history, err := e.History(ctx, "alpha", "")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	found := false
	for _, f := range history {
		if f.ID == drop {
			found = true
			if f.ValidUntil == nil {
				t.Error("deprecated fact in history should carry valid_until")
			}
		}
	}
	if !found {
		t.Error("deprecated fact missing from history")
	}
}

func TestUpdateCreatesNewRevision(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	oldID, err := e.Store(ctx, StoreRequest{
		Project: "alpha",
		Content: "v1 of the fact",
		Tags:    []string{"keep"},
		Meta:    map[string]any{"origin": "test"},
	})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	newContent := "v2 of the fact"
	newID, err := e.Update(ctx, oldID, &newContent, nil, map[string]any{"edited": true})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if newID == oldID {
		t.Fatal("update must create a new fact id")
	}

	oldFact, _ := e.GetFact(ctx, oldID)
	newFact, _ := e.GetFact(ctx, newID)

	if oldFact.Active() {
		t.Error("old revision should be deprecated in the same commit")
	}
	if newFact.Content != newContent {
		t.Errorf("new content = %q", newFact.Content)
	}
	// JSON numbers decode as float64.
	if prev, _ := newFact.Meta[types.MetaPreviousFactID].(float64); int64(prev) != oldID {
		t.Errorf("previous_fact_id = %v, want %d", newFact.Meta[types.MetaPreviousFactID], oldID)
	}
	if got := newFact.Meta["origin"]; got != "test" {
		t.Errorf("inherited meta lost: %v", got)
	}
	if len(newFact.Tags) != 1 || newFact.Tags[0] != "keep" {
		t.Errorf("inherited tags lost: %v", newFact.Tags)
	}

	reason, _ := oldFact.Meta[types.MetaDeprecationReason].(string)
	want := "updated_by_"
	if len(reason) < len(want) || reason[:len(want)] != want {
		t.Errorf("deprecation reason = %q, want updated_by_<id>", reason)
	}
}

func TestStoreMany(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	ids, err := e.StoreMany(ctx, []StoreRequest{
		{Project: "alpha", Content: "first"},
		{Project: "alpha", Content: "second"},
		{Project: "beta", Content: "third"},
	})
	if err != nil {
		t.Fatalf("StoreMany failed: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}

	// A bad batch stores nothing.
	if _, err := e.StoreMany(ctx, []StoreRequest{
		{Project: "alpha", Content: "ok"},
		{Project: "", Content: "bad"},
	}); err == nil {
		t.Fatal("expected batch validation failure")
	}
	facts, _ := e.Recall(ctx, "alpha", 0, 0)
	if len(facts) != 2 {
		t.Errorf("failed batch must not store partial rows; alpha has %d facts", len(facts))
	}
}

func TestGetFactNotFound(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})
	if _, err := e.GetFact(ctx, 12345); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// errInvalidInputAlias lets fact tests assert on the guard sentinel without
// importing it everywhere.
var errInvalidInputAlias = ErrInvalidInput
