package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/haldis/accountd/pkg/variant"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS account_keys (
	account TEXT NOT NULL,
	key     TEXT NOT NULL,
	value   TEXT NOT NULL,
	secret  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (account, key)
);
`

// SQLiteProvider implements the Port contract on a single SQLite database.
// Reads and writes go against an in-memory overlay; Commit flushes an
// account's pending changes in one transaction.
type SQLiteProvider struct {
	db *sql.DB

	mu       sync.Mutex
	accounts map[string]map[string]entry
	dirty    map[string]bool
}

// NewSQLiteProvider opens (or creates) the database at path and loads all
// stored account keys.
func NewSQLiteProvider(path string) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	p := &SQLiteProvider{
		db:       db,
		accounts: make(map[string]map[string]entry),
		dirty:    make(map[string]bool),
	}
	if err := p.loadAll(); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func (p *SQLiteProvider) loadAll() error {
	rows, err := p.db.Query("SELECT account, key, value, secret FROM account_keys")
	if err != nil {
		return fmt.Errorf("failed to load account keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var account, key, raw string
		var secret bool
		if err := rows.Scan(&account, &key, &raw, &secret); err != nil {
			return fmt.Errorf("failed to scan account key: %w", err)
		}
		var value variant.Value
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			log.Warn().
				Str("account", account).
				Str("key", key).
				Err(err).
				Msg("Skipping undecodable stored value")
			continue
		}
		keys, ok := p.accounts[account]
		if !ok {
			keys = make(map[string]entry)
			p.accounts[account] = keys
		}
		keys[key] = entry{Value: value, Secret: secret}
	}
	return rows.Err()
}

// Close closes the underlying database.
func (p *SQLiteProvider) Close() error {
	return p.db.Close()
}

// Get returns the stored value for a key.
func (p *SQLiteProvider) Get(account, key string) (variant.Value, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.accounts[account][key]
	if !ok {
		return variant.Value{}, false
	}
	return e.Value, true
}

// Set stores a typed value, reporting whether stored state changed.
func (p *SQLiteProvider) Set(account, key string, value variant.Value, secret bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys, ok := p.accounts[account]
	if !ok {
		keys = make(map[string]entry)
		p.accounts[account] = keys
	}
	if old, ok := keys[key]; ok && old.Secret == secret && variant.Equal(old.Value, value) {
		return false
	}
	keys[key] = entry{Value: value, Secret: secret}
	p.dirty[account] = true
	return true
}

// SetString stores a string value.
func (p *SQLiteProvider) SetString(account, key, value string, secret bool) bool {
	return p.Set(account, key, variant.String(value), secret)
}

// GetBool returns the stored boolean, or false when absent.
func (p *SQLiteProvider) GetBool(account, key string) bool {
	v, ok := p.Get(account, key)
	if !ok {
		return false
	}
	return v.Boolean()
}

// GetInt returns the stored integer payload, or 0 when absent.
func (p *SQLiteProvider) GetInt(account, key string) int64 {
	v, ok := p.Get(account, key)
	if !ok {
		return 0
	}
	switch v.Kind() {
	case variant.KindUint8, variant.KindUint16, variant.KindUint32, variant.KindUint64:
		return int64(v.Uint())
	default:
		return v.Int()
	}
}

// Unset removes a key, reporting whether it was present.
func (p *SQLiteProvider) Unset(account, key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys, ok := p.accounts[account]
	if !ok {
		return false
	}
	if _, ok := keys[key]; !ok {
		return false
	}
	delete(keys, key)
	p.dirty[account] = true
	return true
}

// DeleteAccount drops every key for an account, in memory and on disk.
func (p *SQLiteProvider) DeleteAccount(account string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.accounts, account)
	delete(p.dirty, account)

	if _, err := p.db.Exec("DELETE FROM account_keys WHERE account = ?", account); err != nil {
		log.Warn().Str("account", account).Err(err).Msg("Failed to delete account rows")
	}
}

// Commit flushes one account's keys in a transaction, or every dirty
// account when the name is empty.
func (p *SQLiteProvider) Commit(account string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if account != "" {
		return p.commitLocked(account)
	}
	for name := range p.dirty {
		if err := p.commitLocked(name); err != nil {
			return err
		}
	}
	return nil
}

func (p *SQLiteProvider) commitLocked(account string) error {
	keys, ok := p.accounts[account]
	if !ok {
		delete(p.dirty, account)
		return nil
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin commit transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM account_keys WHERE account = ?", account); err != nil {
		return fmt.Errorf("failed to clear account rows: %w", err)
	}
	for key, e := range keys {
		raw, err := json.Marshal(e.Value)
		if err != nil {
			return fmt.Errorf("failed to marshal value for %s/%s: %w", account, key, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO account_keys (account, key, value, secret) VALUES (?, ?, ?, ?)",
			account, key, string(raw), e.Secret,
		); err != nil {
			return fmt.Errorf("failed to store %s/%s: %w", account, key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit account %s: %w", account, err)
	}
	delete(p.dirty, account)
	return nil
}

// ListAccounts returns every account present in memory or in the database.
func (p *SQLiteProvider) ListAccounts() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0, len(p.accounts))
	for name := range p.accounts {
		names = append(names, name)
	}
	return names, nil
}
