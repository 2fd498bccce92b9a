package sqlite

import (
	"context"
	"database/sql"
	"errors"
)

// SetMeta stores a key-value pair in the cortex_meta table.
func (e *Engine) SetMeta(ctx context.Context, key, value string) error {
	_, err := e.db.ExecContext(ctx,
		"INSERT INTO cortex_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	return wrapDBError("set meta", err)
}

// GetMeta retrieves a value from the cortex_meta table.
func (e *Engine) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := e.db.QueryRowContext(ctx,
		"SELECT value FROM cortex_meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", wrapDBError("get meta", err)
	}
	return value, nil
}

// AllMeta returns every cortex_meta key-value pair.
func (e *Engine) AllMeta(ctx context.Context) (map[string]string, error) {
	rows, err := e.db.QueryContext(ctx, "SELECT key, value FROM cortex_meta")
	if err != nil {
		return nil, wrapDBError("get all meta", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, wrapDBError("scan meta", err)
		}
		meta[k] = v
	}
	return meta, rows.Err()
}
