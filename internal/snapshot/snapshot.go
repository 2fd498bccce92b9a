// Package snapshot creates, lists, and restores consistent physical copies
// of the engine database. Copies are taken with VACUUM INTO (safe against a
// live WAL database); each snapshot carries a JSON sidecar with the ledger
// position it captured.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/borjamoskv/cortex/internal/debug"
)

// Record is the sidecar metadata for one snapshot.
type Record struct {
	Name       string  `json:"name"`
	Path       string  `json:"path"`
	TxID       int64   `json:"tx_id"`
	MerkleRoot string  `json:"merkle_root"`
	CreatedAt  string  `json:"created_at"`
	SizeMB     float64 `json:"size_mb"`
}

// Manager operates on the snapshots/ directory next to the database.
type Manager struct {
	dbPath string
	dir    string
}

// NewManager creates the snapshot directory if needed.
func NewManager(dbPath string) (*Manager, error) {
	dir := filepath.Join(filepath.Dir(dbPath), "snapshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &Manager{dbPath: dbPath, dir: dir}, nil
}

// Dir returns the snapshot directory.
func (m *Manager) Dir() string { return m.dir }

// Create copies the live database into the snapshot directory and writes
// the JSON sidecar. txID and merkleRoot record the ledger position being
// sealed.
func (m *Manager) Create(ctx context.Context, db *sql.DB, name string, txID int64, merkleRoot string) (*Record, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("snapshot name cannot be empty")
	}
	safe := sanitizeName(name)
	ts := time.Now().UTC().Format("20060102_150405")
	destPath := filepath.Join(m.dir, fmt.Sprintf("cortex_snap_%s_%s.db", ts, safe))

	// VACUUM INTO takes no bind parameters; escape the path inline.
	escaped := strings.ReplaceAll(destPath, "'", "''")
	if _, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", escaped)); err != nil {
		return nil, fmt.Errorf("failed to snapshot database: %w", err)
	}
	debug.Logf("cortex: snapshot created at %s\n", destPath)

	info, err := os.Stat(destPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}

	rec := &Record{
		Name:       name,
		Path:       destPath,
		TxID:       txID,
		MerkleRoot: merkleRoot,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
		SizeMB:     round2(float64(info.Size()) / (1024 * 1024)),
	}

	sidecar := strings.TrimSuffix(destPath, ".db") + ".json"
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot metadata: %w", err)
	}
	if err := os.WriteFile(sidecar, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write snapshot metadata: %w", err)
	}
	return rec, nil
}

// List enumerates sidecars whose data file still exists, newest first.
func (m *Manager) List() ([]Record, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	var records []Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, entry.Name()))
		if err != nil {
			debug.Logf("cortex: failed to read snapshot metadata %s: %v\n", entry.Name(), err)
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			debug.Logf("cortex: invalid snapshot metadata %s: %v\n", entry.Name(), err)
			continue
		}
		if _, err := os.Stat(rec.Path); err != nil {
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt > records[j].CreatedAt
	})
	return records, nil
}

// Restore overwrites the live database with the snapshot sealed at txID.
// The current database is copied to .bak first; on failure the backup is
// restored. WAL side files are removed so the restored file is read clean.
// The engine must be closed before calling.
func (m *Manager) Restore(txID int64) error {
	records, err := m.List()
	if err != nil {
		return err
	}
	var match *Record
	for i := range records {
		if records[i].TxID == txID {
			match = &records[i]
			break
		}
	}
	if match == nil {
		return fmt.Errorf("no snapshot found for tx %d", txID)
	}
	debug.Logf("cortex: restoring snapshot from %s\n", match.Path)

	backupPath := m.dbPath + ".bak"
	if err := copyFile(m.dbPath, backupPath); err != nil {
		return fmt.Errorf("failed to back up current database: %w", err)
	}

	if err := copyFile(match.Path, m.dbPath); err != nil {
		if rerr := copyFile(backupPath, m.dbPath); rerr != nil {
			return fmt.Errorf("restore failed (%v) and rollback failed: %w", err, rerr)
		}
		return fmt.Errorf("failed to restore snapshot: %w", err)
	}

	for _, suffix := range []string{"-wal", "-shm"} {
		os.Remove(m.dbPath + suffix)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	s := b.String()
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}
