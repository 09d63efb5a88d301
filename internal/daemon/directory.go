package daemon

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/haldis/accountd/internal/metrics"
	"github.com/haldis/accountd/pkg/account"
	"github.com/haldis/accountd/pkg/presence"
	"github.com/haldis/accountd/pkg/storage"
	"github.com/haldis/accountd/pkg/variant"
)

// Storage keys the directory seeds at account creation. The account engine
// reads the same keys during load.
const (
	keyManager     = "manager"
	keyProtocol    = "protocol"
	keyDisplayName = "DisplayName"

	paramPrefix = "param-"
)

// DirectoryConfig carries the collaborators shared by every account the
// directory manages.
type DirectoryConfig struct {
	Storage  storage.Port
	Managers account.ManagerProvider

	// Transport optionally gates automatic connection attempts.
	Transport account.TransportGate

	// DataDir is the base directory for per-account binary data.
	DataDir string

	// AlwaysOn reports whether an account name is pinned online. Nil
	// means no account is.
	AlwaysOn func(uniqueName string) bool

	// DebounceDelay overrides the per-account property coalescing window.
	DebounceDelay time.Duration

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Directory owns the set of configured accounts: it creates them with
// generated unique names, restores them from storage at startup and
// removes them on request.
type Directory struct {
	mu       sync.Mutex
	accounts map[string]*account.Account

	cfg    DirectoryConfig
	logger zerolog.Logger
}

// NewDirectory creates an empty account directory
func NewDirectory(cfg DirectoryConfig) (*Directory, error) {
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage port is required")
	}
	if cfg.Managers == nil {
		return nil, fmt.Errorf("manager provider is required")
	}
	return &Directory{
		accounts: make(map[string]*account.Account),
		cfg:      cfg,
		logger:   cfg.Logger,
	}, nil
}

// Create makes a new account for the given manager and protocol, seeds its
// settings and parameters into storage and starts its load. The generated
// unique name is <manager>/<protocol>/<id>.
func (d *Directory) Create(managerName, protocolName, displayName string, params map[string]variant.Value) (*account.Account, error) {
	if managerName == "" || protocolName == "" {
		return nil, fmt.Errorf("manager and protocol names are required")
	}
	if _, ok := d.cfg.Managers.LookupManager(managerName); !ok {
		return nil, fmt.Errorf("unknown protocol manager %q", managerName)
	}

	uniqueName := fmt.Sprintf("%s/%s/%s", managerName, protocolName, uuid.NewString())

	store := d.cfg.Storage
	store.SetString(uniqueName, keyManager, managerName, false)
	store.SetString(uniqueName, keyProtocol, protocolName, false)
	if displayName != "" {
		store.SetString(uniqueName, keyDisplayName, displayName, false)
	}
	for name, value := range params {
		store.Set(uniqueName, paramPrefix+name, value, false)
	}
	if err := store.Commit(uniqueName); err != nil {
		store.DeleteAccount(uniqueName)
		return nil, fmt.Errorf("failed to persist new account: %w", err)
	}

	acct, err := d.build(uniqueName)
	if err != nil {
		store.DeleteAccount(uniqueName)
		return nil, err
	}

	d.mu.Lock()
	d.accounts[uniqueName] = acct
	d.mu.Unlock()

	acct.Load()
	d.updateGauges()
	d.logger.Info().Str("account", uniqueName).Msg("Account created")
	return acct, nil
}

// LoadAll restores every account present in durable storage. Accounts
// already managed are left alone. Returns the number of accounts restored.
func (d *Directory) LoadAll() (int, error) {
	names, err := d.cfg.Storage.ListAccounts()
	if err != nil {
		return 0, fmt.Errorf("failed to list stored accounts: %w", err)
	}

	restored := 0
	for _, name := range names {
		d.mu.Lock()
		_, exists := d.accounts[name]
		d.mu.Unlock()
		if exists {
			continue
		}

		acct, err := d.build(name)
		if err != nil {
			d.logger.Warn().Err(err).Str("account", name).Msg("Failed to restore account")
			continue
		}

		d.mu.Lock()
		d.accounts[name] = acct
		d.mu.Unlock()

		acct.Load()
		restored++
	}

	d.updateGauges()
	d.logger.Info().Int("count", restored).Msg("Accounts restored from storage")
	return restored, nil
}

// Get returns a managed account by unique name
func (d *Directory) Get(uniqueName string) (*account.Account, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	acct, ok := d.accounts[uniqueName]
	return acct, ok
}

// List returns every managed account, sorted by unique name
func (d *Directory) List() []*account.Account {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.accounts))
	for name := range d.accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	accounts := make([]*account.Account, 0, len(names))
	for _, name := range names {
		accounts = append(accounts, d.accounts[name])
	}
	return accounts
}

// Remove deletes an account: its stored keys are dropped, the removed
// event fires and the account leaves the directory.
func (d *Directory) Remove(uniqueName string) error {
	d.mu.Lock()
	acct, ok := d.accounts[uniqueName]
	if ok {
		delete(d.accounts, uniqueName)
	}
	d.mu.Unlock()

	if !ok {
		return fmt.Errorf("no such account %q", uniqueName)
	}
	if err := acct.Remove(); err != nil {
		return err
	}
	acct.Dispose()
	d.updateGauges()
	return nil
}

// DisposeAll releases every account without removing stored state. Used
// during shutdown.
func (d *Directory) DisposeAll() {
	d.mu.Lock()
	accounts := make([]*account.Account, 0, len(d.accounts))
	for _, acct := range d.accounts {
		accounts = append(accounts, acct)
	}
	d.accounts = make(map[string]*account.Account)
	d.mu.Unlock()

	for _, acct := range accounts {
		acct.Dispose()
	}
}

func (d *Directory) build(uniqueName string) (*account.Account, error) {
	m := d.cfg.Metrics
	events := account.Events{}
	if m != nil {
		events.PropertiesChanged = func(changes map[string]variant.Value) {
			m.PropertyFlushesTotal.Inc()
			m.PropertiesChangedTotal.Add(float64(len(changes)))
		}
		events.StatusChanged = func(status account.ConnectionStatus, reason account.StatusReason) {
			m.StatusTransitionsTotal.WithLabelValues(status.String()).Inc()
		}
		events.PresenceChanged = func(p presence.Presence) {
			m.PresenceChangesTotal.WithLabelValues(p.Kind.String()).Inc()
		}
		events.ValidityChanged = func(valid bool) {
			d.updateGauges()
		}
	}

	alwaysOn := false
	if d.cfg.AlwaysOn != nil {
		alwaysOn = d.cfg.AlwaysOn(uniqueName)
	}

	return account.New(account.Config{
		UniqueName:    uniqueName,
		Storage:       d.cfg.Storage,
		Managers:      d.cfg.Managers,
		Transport:     d.cfg.Transport,
		DataDir:       d.cfg.DataDir,
		AlwaysOn:      alwaysOn,
		DebounceDelay: d.cfg.DebounceDelay,
		Logger:        d.logger,
		Events:        events,
	})
}

func (d *Directory) updateGauges() {
	m := d.cfg.Metrics
	if m == nil {
		return
	}

	d.mu.Lock()
	total, valid, enabled := 0, 0, 0
	for _, acct := range d.accounts {
		total++
		if acct.IsValid() {
			valid++
		}
		if acct.IsEnabled() {
			enabled++
		}
	}
	d.mu.Unlock()

	m.AccountsTotal.Set(float64(total))
	m.AccountsValid.Set(float64(valid))
	m.AccountsEnabled.Set(float64(enabled))
}
