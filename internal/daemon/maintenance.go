package daemon

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/haldis/accountd/internal/metrics"
	"github.com/haldis/accountd/pkg/storage"
)

// MaintenanceConfig carries the schedules and collaborators for the
// daemon's periodic work.
type MaintenanceConfig struct {
	// CommitSchedule is the cron spec for the storage commit sweep.
	CommitSchedule string

	// AutoconnectSchedule is the cron spec for re-trying automatic
	// connections on eligible accounts.
	AutoconnectSchedule string

	Directory *Directory
	Storage   storage.Port
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

// Maintenance runs the daemon's recurring jobs: a periodic commit of all
// pending storage changes and an autoconnect sweep that retries accounts
// that should be online but are not.
type Maintenance struct {
	cron    *cron.Cron
	dir     *Directory
	store   storage.Port
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewMaintenance creates the maintenance service and registers its jobs
func NewMaintenance(cfg MaintenanceConfig) (*Maintenance, error) {
	if cfg.Directory == nil {
		return nil, fmt.Errorf("account directory is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage port is required")
	}

	m := &Maintenance{
		cron:    cron.New(),
		dir:     cfg.Directory,
		store:   cfg.Storage,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}

	if _, err := m.cron.AddFunc(cfg.CommitSchedule, m.commitSweep); err != nil {
		return nil, fmt.Errorf("invalid commit schedule %q: %w", cfg.CommitSchedule, err)
	}
	if _, err := m.cron.AddFunc(cfg.AutoconnectSchedule, m.autoconnectSweep); err != nil {
		return nil, fmt.Errorf("invalid autoconnect schedule %q: %w", cfg.AutoconnectSchedule, err)
	}

	return m, nil
}

// Start begins running the scheduled jobs
func (m *Maintenance) Start() {
	m.cron.Start()
	m.logger.Info().Msg("Maintenance jobs scheduled")
}

// Stop stops the scheduler and waits for any running job to finish
func (m *Maintenance) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.logger.Info().Msg("Maintenance jobs stopped")
}

// commitSweep flushes pending storage changes for every account.
func (m *Maintenance) commitSweep() {
	runID, _ := gonanoid.New()
	logger := m.logger.With().Str("run_id", runID).Logger()

	if err := m.store.Commit(""); err != nil {
		logger.Warn().Err(err).Msg("Storage commit sweep failed")
		if m.metrics != nil {
			m.metrics.StorageCommitErrorsTotal.Inc()
		}
		return
	}
	if m.metrics != nil {
		m.metrics.StorageCommitsTotal.Inc()
	}
	logger.Debug().Msg("Storage commit sweep completed")
}

// autoconnectSweep retries automatic connections. Accounts that are not
// eligible ignore the nudge.
func (m *Maintenance) autoconnectSweep() {
	runID, _ := gonanoid.New()
	logger := m.logger.With().Str("run_id", runID).Logger()

	accounts := m.dir.List()
	for _, acct := range accounts {
		acct.MaybeAutoconnect()
	}
	if m.metrics != nil {
		m.metrics.AutoconnectAttemptsTotal.Add(float64(len(accounts)))
	}
	logger.Debug().Int("accounts", len(accounts)).Msg("Autoconnect sweep completed")
}
