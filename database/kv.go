package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// GetItem returns the value stored under key. The bool is false when the
// key is absent.
func (d *Database) GetItem(key string) (string, bool, error) {
	var value string
	err := d.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return value, true, nil
}

func (d *Database) SetItem(key, value string) error {
	_, err := d.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}
	return nil
}

func (d *Database) RemoveItem(key string) error {
	if _, err := d.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to remove %q: %w", key, err)
	}
	return nil
}

// MultiRemove deletes keys in one transaction.
func (d *Database) MultiRemove(keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.Prepare(`DELETE FROM kv WHERE key = ?`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare delete: %w", err)
	}
	defer stmt.Close()

	for _, key := range keys {
		if _, err := stmt.Exec(key); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to remove %q: %w", key, err)
		}
	}
	return tx.Commit()
}

func (d *Database) GetAllKeys() ([]string, error) {
	return d.keys(`SELECT key FROM kv ORDER BY key`)
}

// KeysWithPrefix is GetAllKeys narrowed to one namespace.
func (d *Database) KeysWithPrefix(prefix string) ([]string, error) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	return d.keys(`SELECT key FROM kv WHERE key LIKE ? ESCAPE '\' ORDER BY key`, escaped+"%")
}

func (d *Database) keys(query string, args ...any) ([]string, error) {
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
