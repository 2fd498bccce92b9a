package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/borjamoskv/cortex/internal/storage/sqlite"
)

func newSnapshotFixture(t *testing.T) (*sqlite.Engine, *Manager, string) {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "cortex.db")

	engine, err := sqlite.New(ctx, dbPath, sqlite.Options{})
	if err != nil {
		t.Fatalf("failed to open engine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })

	mgr, err := NewManager(dbPath)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	return engine, mgr, dbPath
}

func TestCreateSnapshotWritesSidecar(t *testing.T) {
	ctx := context.Background()
	engine, mgr, _ := newSnapshotFixture(t)

	if _, err := engine.Store(ctx, sqlite.StoreRequest{Project: "p", Content: "persisted fact"}); err != nil {
		t.Fatal(err)
	}
	txID, _ := engine.LatestTxID(ctx)

	rec, err := mgr.Create(ctx, engine.DB(), "before-migration", txID, "roothash")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if rec.TxID != txID {
		t.Errorf("record tx_id = %d, want %d", rec.TxID, txID)
	}
	if rec.MerkleRoot != "roothash" {
		t.Errorf("record merkle_root = %q", rec.MerkleRoot)
	}
	if _, err := os.Stat(rec.Path); err != nil {
		t.Errorf("snapshot file missing: %v", err)
	}

	sidecar := rec.Path[:len(rec.Path)-3] + ".json"
	if _, err := os.Stat(sidecar); err != nil {
		t.Errorf("sidecar missing: %v", err)
	}
}

func TestListSkipsOrphanedSidecars(t *testing.T) {
	ctx := context.Background()
	engine, mgr, _ := newSnapshotFixture(t)

	rec, err := mgr.Create(ctx, engine.DB(), "snap-one", 1, "r1")
	if err != nil {
		t.Fatal(err)
	}

	records, err := mgr.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("listed %d snapshots, want 1", len(records))
	}

	// Remove the data file; the sidecar alone must not list.
	os.Remove(rec.Path)
	records, err = mgr.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("orphaned sidecar listed: %v", records)
	}
}

func TestRestoreSnapshot(t *testing.T) {
	ctx := context.Background()
	engine, mgr, dbPath := newSnapshotFixture(t)

	if _, err := engine.Store(ctx, sqlite.StoreRequest{Project: "p", Content: "first era"}); err != nil {
		t.Fatal(err)
	}
	txID, _ := engine.LatestTxID(ctx)
	if _, err := mgr.Create(ctx, engine.DB(), "era-one", txID, "root"); err != nil {
		t.Fatal(err)
	}

	// Write more facts, then roll back to the snapshot.
	if _, err := engine.Store(ctx, sqlite.StoreRequest{Project: "p", Content: "second era"}); err != nil {
		t.Fatal(err)
	}
	if err := engine.Close(); err != nil {
		t.Fatal(err)
	}

	if err := mgr.Restore(txID); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	restored, err := sqlite.New(ctx, dbPath, sqlite.Options{})
	if err != nil {
		t.Fatalf("failed to reopen restored db: %v", err)
	}
	defer restored.Close()

	latest, err := restored.LatestTxID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest != txID {
		t.Errorf("restored ledger tail = %d, want %d", latest, txID)
	}

	// The pre-restore state is preserved as .bak.
	if _, err := os.Stat(dbPath + ".bak"); err != nil {
		t.Errorf(".bak of the previous database missing: %v", err)
	}
}

func TestRestoreUnknownTx(t *testing.T) {
	_, mgr, _ := newSnapshotFixture(t)
	if err := mgr.Restore(424242); err == nil {
		t.Error("expected error for unknown snapshot tx")
	}
}

func TestCreateRejectsEmptyName(t *testing.T) {
	ctx := context.Background()
	engine, mgr, _ := newSnapshotFixture(t)
	if _, err := mgr.Create(ctx, engine.DB(), "  ", 0, ""); err == nil {
		t.Error("expected error for empty snapshot name")
	}
}
