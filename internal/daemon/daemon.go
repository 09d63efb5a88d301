package daemon

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/haldis/accountd/internal/config"
	"github.com/haldis/accountd/internal/logger"
	"github.com/haldis/accountd/internal/metrics"
	"github.com/haldis/accountd/pkg/client"
	"github.com/haldis/accountd/pkg/storage"
)

// Daemon wires the account directory, the client registry and the
// maintenance jobs on top of one storage backend.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	store       storage.Port
	storeCloser io.Closer
	managers    *ManagerRegistry
	metrics     *metrics.Metrics

	directory   *Directory
	clients     *client.Registry
	maintenance *Maintenance

	startTime time.Time
	running   bool
	mu        sync.RWMutex
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	d := &Daemon{
		config:   cfg,
		logger:   log,
		managers: NewManagerRegistry(),
		metrics:  metrics.NewMetrics(),
	}

	if err := d.initializeStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	directory, err := NewDirectory(DirectoryConfig{
		Storage:       d.store,
		Managers:      d.managers,
		DataDir:       cfg.DataDir,
		AlwaysOn:      cfg.IsAlwaysOn,
		DebounceDelay: cfg.Debounce(),
		Logger:        log.GetZerolog(),
		Metrics:       d.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create account directory: %w", err)
	}
	d.directory = directory
	log.Info().Msg("Account directory initialized")

	d.clients = client.NewRegistry(client.RegistryConfig{
		DescriptorDirs:     cfg.Clients.Dirs,
		Logger:             log.GetZerolog(),
		StabilityThreshold: cfg.Stability(),
		OnClientReady: func(c *client.Client) {
			outcome := "inactive"
			if c.IsActive() {
				outcome = "active"
			}
			d.metrics.ClientReadinessTotal.WithLabelValues(outcome).Inc()
			d.metrics.ClientsRegistered.Set(float64(len(d.clients.Clients())))
		},
		OnDescriptorReload: func(string) {
			d.metrics.DescriptorReloadsTotal.Inc()
		},
	})
	log.Info().Strs("dirs", cfg.Clients.Dirs).Msg("Client registry initialized")

	maintenance, err := NewMaintenance(MaintenanceConfig{
		CommitSchedule:      cfg.Maintenance.CommitSchedule,
		AutoconnectSchedule: cfg.Maintenance.AutoconnectSchedule,
		Directory:           d.directory,
		Storage:             d.store,
		Logger:              log.GetZerolog(),
		Metrics:             d.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create maintenance service: %w", err)
	}
	d.maintenance = maintenance

	return d, nil
}

// initializeStorage opens the configured storage backend
func (d *Daemon) initializeStorage() error {
	switch d.config.Storage.Backend {
	case "sqlite":
		provider, err := storage.NewSQLiteProvider(d.config.StoragePath())
		if err != nil {
			return err
		}
		d.store = provider
		d.storeCloser = provider
	default:
		provider, err := storage.NewFileProvider(d.config.StoragePath())
		if err != nil {
			return err
		}
		d.store = provider
	}
	d.logger.Info().
		Str("backend", d.config.Storage.Backend).
		Str("path", d.config.StoragePath()).
		Msg("Storage initialized")
	return nil
}

// Managers returns the protocol manager registry. Managers must be
// registered before Start so restored accounts can resolve them.
func (d *Daemon) Managers() *ManagerRegistry {
	return d.managers
}

// Start restores stored accounts and begins the recurring work
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	d.logger.Info().Msg("Starting account daemon")

	if _, err := d.directory.LoadAll(); err != nil {
		return fmt.Errorf("failed to restore accounts: %w", err)
	}

	if d.config.Clients.Watch && len(d.config.Clients.Dirs) > 0 {
		if err := d.clients.Watch(); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to watch client descriptor directories")
		} else {
			d.logger.Info().Msg("Client descriptor watcher started")
		}
	}

	d.maintenance.Start()

	d.logger.Info().Msg("Daemon started successfully")
	return nil
}

// Stop stops the daemon gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info().Msg("Stopping account daemon")

	d.maintenance.Stop()

	if err := d.clients.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop client registry")
	}

	d.directory.DisposeAll()

	if err := d.store.Commit(""); err != nil {
		d.logger.Error().Err(err).Msg("Failed to commit storage on shutdown")
	}
	if d.storeCloser != nil {
		if err := d.storeCloser.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close storage backend")
		}
	}

	d.logger.Info().Msg("Daemon stopped successfully")
	return nil
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:  d.running,
		Accounts: len(d.directory.List()),
		Clients:  len(d.clients.Clients()),
	}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}
	return status
}

// Wait blocks until the process receives an interrupt or termination
// signal, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// Directory returns the account directory
func (d *Daemon) Directory() *Directory {
	return d.directory
}

// Clients returns the client registry
func (d *Daemon) Clients() *client.Registry {
	return d.clients
}

// Metrics returns the daemon metrics
func (d *Daemon) Metrics() *metrics.Metrics {
	return d.metrics
}

// Status represents daemon status
type Status struct {
	Running   bool
	Accounts  int
	Clients   int
	Uptime    time.Duration
	StartTime time.Time
}
