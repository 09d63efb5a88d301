package daemon

import (
	"sort"
	"sync"

	"github.com/haldis/accountd/pkg/account"
)

// ManagerRegistry is the daemon's set of protocol managers, keyed by
// manager name. Managers are registered by the embedding process before
// the daemon starts; accounts resolve them lazily during load.
type ManagerRegistry struct {
	mu       sync.RWMutex
	managers map[string]account.Manager
}

// NewManagerRegistry creates an empty manager registry
func NewManagerRegistry() *ManagerRegistry {
	return &ManagerRegistry{
		managers: make(map[string]account.Manager),
	}
}

// Register adds or replaces a manager under the given name
func (r *ManagerRegistry) Register(name string, mgr account.Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.managers[name] = mgr
}

// LookupManager resolves a manager by name
func (r *ManagerRegistry) LookupManager(name string) (account.Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mgr, ok := r.managers[name]
	return mgr, ok
}

// Names returns the registered manager names, sorted
func (r *ManagerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.managers))
	for name := range r.managers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
