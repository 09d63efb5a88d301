package client

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// RegistryConfig carries the collaborators a registry needs.
type RegistryConfig struct {
	// DescriptorDirs are probed in order for `<name>.client` files: an
	// override directory first, then the user data directory, then each
	// system data directory.
	DescriptorDirs []string

	Resolver NameResolver
	Logger   zerolog.Logger

	// StabilityThreshold debounces descriptor-file events so a client is
	// re-ingested once per burst of writes. Zero selects a default.
	StabilityThreshold time.Duration

	// OnClientReady fires once per client when its readiness protocol
	// completes. Optional.
	OnClientReady func(c *Client)

	// OnDescriptorReload fires after a watched descriptor has been
	// re-ingested into its client. Optional.
	OnDescriptorReload func(clientName string)
}

// Registry owns the set of known clients, keyed by well-known bus name,
// and keeps their descriptors fresh by watching the descriptor
// directories.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*Client

	pool     *Pool
	dirs     []string
	resolver NameResolver
	logger   zerolog.Logger
	onReady  func(c *Client)
	onReload func(clientName string)

	watcher        *fsnotify.Watcher
	stability      time.Duration
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer
	done           chan struct{}
	stopOnce       sync.Once
}

// NewRegistry creates an empty registry. Call Watch to start descriptor
// re-ingestion.
func NewRegistry(cfg RegistryConfig) *Registry {
	stability := cfg.StabilityThreshold
	if stability == 0 {
		stability = 100 * time.Millisecond
	}
	return &Registry{
		clients:        make(map[string]*Client),
		pool:           NewPool(),
		dirs:           cfg.DescriptorDirs,
		resolver:       cfg.Resolver,
		logger:         cfg.Logger,
		onReady:        cfg.OnClientReady,
		onReload:       cfg.OnDescriptorReload,
		stability:      stability,
		debounceTimers: make(map[string]*time.Timer),
		done:           make(chan struct{}),
	}
}

// Pool returns the shared capability-token interning pool.
func (r *Registry) Pool() *Pool { return r.pool }

// EnsureClient returns the client for a well-known bus name, creating it
// on first sight: the descriptor is ingested if one exists and the
// readiness protocol is started.
func (r *Registry) EnsureClient(wellKnownName, uniqueName string, activatable bool) *Client {
	r.mu.Lock()
	if existing, ok := r.clients[wellKnownName]; ok {
		r.mu.Unlock()
		return existing
	}

	c := New(Config{
		WellKnownName: wellKnownName,
		UniqueName:    uniqueName,
		Activatable:   activatable,
		Resolver:      r.resolver,
		Pool:          r.pool,
		Logger:        r.logger,
	})
	r.clients[wellKnownName] = c
	r.mu.Unlock()

	if path, ok := FindDescriptor(c.Name(), r.dirs); ok {
		if err := c.LoadDescriptor(path); err != nil {
			r.logger.Warn().Err(err).Str("path", path).Msg("Failed to load client descriptor")
		}
	}
	if r.onReady != nil {
		c.WhenReady(func() { r.onReady(c) })
	}
	c.Introspect()
	return c
}

// Client looks up a known client by well-known bus name.
func (r *Registry) Client(wellKnownName string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[wellKnownName]
	return c, ok
}

// Remove discards a client. An activatable client should instead be kept
// and sent BecomeIncapable when its process exits.
func (r *Registry) Remove(wellKnownName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, wellKnownName)
}

// Clients returns a snapshot of the known clients.
func (r *Registry) Clients() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Watch starts monitoring the descriptor directories; a changed or newly
// created `.client` file is re-ingested into its client after the write
// burst settles.
func (r *Registry) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create descriptor watcher: %w", err)
	}
	r.watcher = watcher

	watched := 0
	for _, dir := range r.dirs {
		if dir == "" {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			r.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to watch descriptor directory")
			continue
		}
		watched++
	}

	go r.eventLoop()

	r.logger.Info().Int("dirs", watched).Msg("Client descriptor watcher started")
	return nil
}

// Stop shuts down the descriptor watcher.
func (r *Registry) Stop() error {
	r.stopOnce.Do(func() {
		close(r.done)
	})

	r.debounceMu.Lock()
	for _, timer := range r.debounceTimers {
		timer.Stop()
	}
	clear(r.debounceTimers)
	r.debounceMu.Unlock()

	if r.watcher != nil {
		if err := r.watcher.Close(); err != nil {
			return fmt.Errorf("failed to close descriptor watcher: %w", err)
		}
	}
	return nil
}

func (r *Registry) eventLoop() {
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			r.handleEvent(event)

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error().Err(err).Msg("Descriptor watcher error")

		case <-r.done:
			return
		}
	}
}

func (r *Registry) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, DescriptorSuffix) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	r.debounceEvent(event.Name)
}

// debounceEvent delays re-ingestion until the file has been quiet for the
// stability threshold, one timer per path.
func (r *Registry) debounceEvent(path string) {
	r.debounceMu.Lock()
	defer r.debounceMu.Unlock()

	if timer, exists := r.debounceTimers[path]; exists {
		timer.Stop()
	}
	r.debounceTimers[path] = time.AfterFunc(r.stability, func() {
		r.debounceMu.Lock()
		delete(r.debounceTimers, path)
		r.debounceMu.Unlock()

		select {
		case <-r.done:
			return
		default:
			r.reingest(path)
		}
	})
}

func (r *Registry) reingest(path string) {
	name := strings.TrimSuffix(filepath.Base(path), DescriptorSuffix)
	c, ok := r.Client(BusNameBase + name)
	if !ok {
		return
	}
	if err := c.LoadDescriptor(path); err != nil {
		r.logger.Warn().Err(err).Str("path", path).Msg("Failed to re-ingest client descriptor")
		return
	}
	if r.onReload != nil {
		r.onReload(name)
	}
	r.logger.Info().Str("client", name).Msg("Client descriptor reloaded")
}
