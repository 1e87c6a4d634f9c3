package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// StateGet returns the raw JSON value for key in butler's state table, or
// nil if absent.
func (s *Store) StateGet(ctx context.Context, butler, key string) (json []byte, found bool, err error) {
	if !validSchemaName.MatchString(butler) {
		return nil, false, fmt.Errorf("invalid butler schema name %q", butler)
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT value FROM %s.state WHERE key = $1`, butler), key)
	var value []byte
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("state get: %w", err)
	}
	return value, true, nil
}

// StateSet is a write-through UPSERT, per spec.md §4.6.
func (s *Store) StateSet(ctx context.Context, butler, key string, value []byte) error {
	if !validSchemaName.MatchString(butler) {
		return fmt.Errorf("invalid butler schema name %q", butler)
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.state (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, butler), key, value)
	if err != nil {
		return fmt.Errorf("state set: %w", err)
	}
	return nil
}

// StateDelete is idempotent: deleting an absent key is not an error.
func (s *Store) StateDelete(ctx context.Context, butler, key string) error {
	if !validSchemaName.MatchString(butler) {
		return fmt.Errorf("invalid butler schema name %q", butler)
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s.state WHERE key = $1`, butler), key)
	if err != nil {
		return fmt.Errorf("state delete: %w", err)
	}
	return nil
}

// StateList returns every key with the given prefix (empty prefix lists
// everything), sorted lexically.
func (s *Store) StateList(ctx context.Context, butler, prefix string) ([]string, error) {
	if !validSchemaName.MatchString(butler) {
		return nil, fmt.Errorf("invalid butler schema name %q", butler)
	}
	pattern := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix) + "%"
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT key FROM %s.state WHERE key LIKE $1 ORDER BY key`, butler), pattern)
	if err != nil {
		return nil, fmt.Errorf("state list: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan state key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
