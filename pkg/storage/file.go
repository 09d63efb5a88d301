package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/haldis/accountd/pkg/variant"
)

// entry is one stored key with its secrecy flag.
type entry struct {
	Value  variant.Value `json:"value"`
	Secret bool          `json:"secret,omitempty"`
}

// FileProvider keeps one JSON document per account under a base directory.
// Mutations are held in memory and written atomically (temp file + rename)
// on Commit.
type FileProvider struct {
	baseDir string

	mu       sync.Mutex
	accounts map[string]map[string]entry
	dirty    map[string]bool
}

// NewFileProvider creates a file-backed provider rooted at baseDir and
// loads any existing account documents.
func NewFileProvider(baseDir string) (*FileProvider, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	p := &FileProvider{
		baseDir:  baseDir,
		accounts: make(map[string]map[string]entry),
		dirty:    make(map[string]bool),
	}
	if err := p.loadAll(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *FileProvider) accountPath(account string) string {
	return filepath.Join(p.baseDir, account+".json")
}

func validAccountName(account string) bool {
	if account == "" || strings.Contains(account, "..") {
		return false
	}
	return !strings.HasPrefix(account, "/")
}

func (p *FileProvider) loadAll() error {
	err := filepath.Walk(p.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		rel, err := filepath.Rel(p.baseDir, path)
		if err != nil {
			return err
		}
		account := strings.TrimSuffix(rel, ".json")

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read account file %s: %w", path, err)
		}
		keys := make(map[string]entry)
		if err := json.Unmarshal(data, &keys); err != nil {
			log.Warn().Str("path", path).Err(err).Msg("Skipping unreadable account file")
			return nil
		}
		p.accounts[account] = keys
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan storage directory: %w", err)
	}
	return nil
}

// Get returns the stored value for a key.
func (p *FileProvider) Get(account, key string) (variant.Value, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.accounts[account][key]
	if !ok {
		return variant.Value{}, false
	}
	return e.Value, true
}

// Set stores a typed value, reporting whether stored state changed.
func (p *FileProvider) Set(account, key string, value variant.Value, secret bool) bool {
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
func (p *FileProvider) SetString(account, key, value string, secret bool) bool {
	return p.Set(account, key, variant.String(value), secret)
}

// GetBool returns the stored boolean, or false when absent.
func (p *FileProvider) GetBool(account, key string) bool {
	v, ok := p.Get(account, key)
	if !ok {
		return false
	}
	return v.Boolean()
}

// GetInt returns the stored integer payload, or 0 when absent.
func (p *FileProvider) GetInt(account, key string) int64 {
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
func (p *FileProvider) Unset(account, key string) bool {
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

// DeleteAccount drops every key for an account and removes its document.
func (p *FileProvider) DeleteAccount(account string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.accounts, account)
	delete(p.dirty, account)

	if !validAccountName(account) {
		return
	}
	if err := os.Remove(p.accountPath(account)); err != nil && !os.IsNotExist(err) {
		log.Warn().Str("account", account).Err(err).Msg("Failed to remove account file")
	}
}

// Commit writes the pending state of one account, or of all dirty accounts
// when the name is empty.
func (p *FileProvider) Commit(account string) error {
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

func (p *FileProvider) commitLocked(account string) error {
	if !validAccountName(account) {
		return fmt.Errorf("invalid account name %q", account)
	}
	keys, ok := p.accounts[account]
	if !ok {
		delete(p.dirty, account)
		return nil
	}

	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal account %s: %w", account, err)
	}

	path := p.accountPath(account)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create account directory: %w", err)
	}

	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	delete(p.dirty, account)

	log.Debug().
		Str("account", account).
		Int("keyCount", len(keys)).
		Msg("Account keys committed")

	return nil
}

// ListAccounts returns every account present in memory or on disk.
func (p *FileProvider) ListAccounts() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0, len(p.accounts))
	for name := range p.accounts {
		names = append(names, name)
	}
	return names, nil
}
