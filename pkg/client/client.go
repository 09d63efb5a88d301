// Package client models the remote approver/observer/handler processes the
// channel dispatcher routes work to: their bus identity and readiness, the
// channel-filter predicates they declare and their handler capability
// tokens. Filters arrive either from on-disk descriptor files or from live
// property pushes; both replace the current lists wholesale.
package client

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/haldis/accountd/pkg/variant"
)

// BusNameBase prefixes every client well-known bus name; the descriptor
// file name is the well-known name with this prefix stripped.
const BusNameBase = "org.freedesktop.Telepathy.Client."

const (
	clientInterface   = "org.freedesktop.Telepathy.Client"
	approverInterface = clientInterface + ".Approver"
	observerInterface = clientInterface + ".Observer"
	handlerInterface  = clientInterface + ".Handler"
)

// NameResolver asynchronously maps a well-known bus name to the unique
// name of its current owner. An error or empty result means nobody owns
// the name right now.
type NameResolver interface {
	ResolveUniqueName(wellKnownName string, cb func(uniqueName string, err error))
}

// HandlerCapabilities is the immutable snapshot the dispatcher consumes
// when ranking handlers. Later mutation of the client does not affect a
// snapshot already taken.
type HandlerCapabilities struct {
	BusName string
	Filters []Filter
	Tokens  []string
}

// Config carries the collaborators a client needs.
type Config struct {
	// WellKnownName is the full bus name, including BusNameBase.
	WellKnownName string

	// UniqueName, when non-empty, skips name resolution at introspection
	// time.
	UniqueName string

	Activatable bool
	Resolver    NameResolver
	Pool        *Pool
	Logger      zerolog.Logger
}

// Client is the local representation of one remote client process.
type Client struct {
	mu sync.Mutex

	wellKnownName string
	uniqueName    string
	nameKnown     bool
	activatable   bool
	resolving     bool

	ready          bool
	readyCallbacks []func()

	interfaces map[string]struct{}

	approverFilters []Filter
	observerFilters []Filter
	handlerFilters  []Filter

	capabilityTokens map[string]struct{}
	bypassApproval   bool

	resolver NameResolver
	pool     *Pool
	logger   zerolog.Logger
}

// New constructs a client for one well-known bus name. Call Introspect to
// run the readiness protocol.
func New(cfg Config) *Client {
	pool := cfg.Pool
	if pool == nil {
		pool = NewPool()
	}
	c := &Client{
		wellKnownName:    cfg.WellKnownName,
		activatable:      cfg.Activatable,
		resolver:         cfg.Resolver,
		pool:             pool,
		logger:           cfg.Logger.With().Str("client", cfg.WellKnownName).Logger(),
		interfaces:       make(map[string]struct{}),
		capabilityTokens: make(map[string]struct{}),
	}
	if cfg.UniqueName != "" {
		c.uniqueName = cfg.UniqueName
		c.nameKnown = true
	}
	return c
}

// WellKnownName returns the client's well-known bus name.
func (c *Client) WellKnownName() string { return c.wellKnownName }

// Name returns the short client name, the well-known name without the
// common prefix.
func (c *Client) Name() string {
	if len(c.wellKnownName) > len(BusNameBase) && c.wellKnownName[:len(BusNameBase)] == BusNameBase {
		return c.wellKnownName[len(BusNameBase):]
	}
	return c.wellKnownName
}

// Introspect runs the readiness protocol: resolve the unique bus name if
// unknown, then emit ready exactly once. Safe to call repeatedly.
func (c *Client) Introspect() {
	c.mu.Lock()
	if c.ready || c.resolving {
		c.mu.Unlock()
		return
	}
	if c.nameKnown {
		c.mu.Unlock()
		c.emitReady()
		return
	}
	if c.resolver == nil {
		c.mu.Unlock()
		c.SetInactive()
		c.emitReady()
		return
	}
	c.resolving = true
	resolver := c.resolver
	name := c.wellKnownName
	c.mu.Unlock()

	resolver.ResolveUniqueName(name, func(uniqueName string, err error) {
		if err != nil {
			c.logger.Debug().Err(err).Msg("Unique name resolution failed, assuming not active")
			c.SetInactive()
		} else {
			c.SetActive(uniqueName)
		}
		c.emitReady()
	})
}

// SetActive records the resolved unique bus name.
func (c *Client) SetActive(uniqueName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uniqueName = uniqueName
	c.nameKnown = true
	c.resolving = false
}

// SetInactive records that the well-known name currently has no owner.
func (c *Client) SetInactive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uniqueName = ""
	c.nameKnown = true
	c.resolving = false
}

func (c *Client) emitReady() {
	c.mu.Lock()
	if c.ready {
		c.mu.Unlock()
		return
	}
	c.ready = true
	callbacks := c.readyCallbacks
	c.readyCallbacks = nil
	c.mu.Unlock()

	c.logger.Debug().Msg("Client ready")
	for _, cb := range callbacks {
		cb()
	}
}

// WhenReady invokes cb once readiness has been reached, immediately if it
// already has. Each callback fires exactly once.
func (c *Client) WhenReady(cb func()) {
	c.mu.Lock()
	if c.ready {
		c.mu.Unlock()
		cb()
		return
	}
	c.readyCallbacks = append(c.readyCallbacks, cb)
	c.mu.Unlock()
}

// IsReady reports whether the readiness protocol has completed. Activity
// and the unique name are only trustworthy afterwards.
func (c *Client) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// IsActive reports whether the client currently owns its bus name. Only
// meaningful once ready.
func (c *Client) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready && c.uniqueName != ""
}

// IsActivatable reports whether the bus can start the client on demand.
func (c *Client) IsActivatable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activatable
}

// UniqueName returns the resolved unique bus name, empty when the client
// is not running or not yet ready.
func (c *Client) UniqueName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return ""
	}
	return c.uniqueName
}

// AddInterfaces records the interfaces the client declares.
func (c *Client) AddInterfaces(names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range names {
		if name == "" {
			continue
		}
		c.interfaces[name] = struct{}{}
	}
}

// HasInterface reports whether the client declared the interface.
func (c *Client) HasInterface(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.interfaces[name]
	return ok
}

// IsApprover reports whether the client declared the approver interface.
func (c *Client) IsApprover() bool { return c.HasInterface(approverInterface) }

// IsObserver reports whether the client declared the observer interface.
func (c *Client) IsObserver() bool { return c.HasInterface(observerInterface) }

// IsHandler reports whether the client declared the handler interface.
func (c *Client) IsHandler() bool { return c.HasInterface(handlerInterface) }

// TakeFilters installs a role's filter list wholesale, discarding the
// previous one. A nil list clears the role.
func (c *Client) TakeFilters(role Role, filters []Filter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.takeFiltersLocked(role, filters)
}

func (c *Client) takeFiltersLocked(role Role, filters []Filter) {
	switch role {
	case RoleApprover:
		c.approverFilters = filters
	case RoleObserver:
		c.observerFilters = filters
	case RoleHandler:
		c.handlerFilters = filters
	}
}

// SetFilters ingests live predicates for one role, re-normalizing each
// value into the closed filter type set. A predicate carrying any other
// type is discarded whole.
func (c *Client) SetFilters(role Role, filters []Filter) {
	normalized := make([]Filter, 0, len(filters))
	for _, f := range filters {
		nf, ok := normalizeFilter(f)
		if !ok {
			c.logger.Warn().
				Str("role", role.String()).
				Msg("Discarding filter predicate with unsupported value type")
			continue
		}
		normalized = append(normalized, nf)
	}
	if len(normalized) == 0 {
		normalized = nil
	}
	c.TakeFilters(role, normalized)
}

// ApproverFilters returns a copy of the approver filter list.
func (c *Client) ApproverFilters() []Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyFilters(c.approverFilters)
}

// ObserverFilters returns a copy of the observer filter list.
func (c *Client) ObserverFilters() []Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyFilters(c.observerFilters)
}

// HandlerFilters returns a copy of the handler filter list.
func (c *Client) HandlerFilters() []Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyFilters(c.handlerFilters)
}

// AddCapTokens interns each token and adds it to the capability set.
// Duplicates collapse.
func (c *Client) AddCapTokens(tokens []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, token := range tokens {
		if token == "" {
			continue
		}
		c.capabilityTokens[c.pool.Intern(token)] = struct{}{}
	}
}

// CapabilityTokens returns the declared tokens in sorted order.
func (c *Client) CapabilityTokens() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokensLocked()
}

func (c *Client) tokensLocked() []string {
	tokens := make([]string, 0, len(c.capabilityTokens))
	for token := range c.capabilityTokens {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}

// SetBypassApproval records the handler's bypass-approval flag.
func (c *Client) SetBypassApproval(bypass bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bypassApproval = bypass
}

// BypassesApproval reports whether channels handled by this client skip
// the approval step.
func (c *Client) BypassesApproval() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bypassApproval
}

// BecomeIncapable clears all three filter lists and the capability token
// set. Used when the client vanishes from the bus but must be kept as an
// activatable placeholder.
func (c *Client) BecomeIncapable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.approverFilters = nil
	c.observerFilters = nil
	c.handlerFilters = nil
	c.capabilityTokens = make(map[string]struct{})
}

// DupHandlerCapabilities snapshots the handler-facing state. The copies
// are deep: mutating the client afterwards leaves the snapshot untouched.
func (c *Client) DupHandlerCapabilities() HandlerCapabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return HandlerCapabilities{
		BusName: c.wellKnownName,
		Filters: copyFilters(c.handlerFilters),
		Tokens:  c.tokensLocked(),
	}
}

// MatchesHandlerFilter reports whether any handler filter accepts the
// candidate property map.
func (c *Client) MatchesHandlerFilter(candidate map[string]variant.Value) bool {
	c.mu.Lock()
	filters := c.handlerFilters
	c.mu.Unlock()
	for _, f := range filters {
		if f.Matches(candidate) {
			return true
		}
	}
	return false
}
