package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the daemon
type Metrics struct {
	registry *prometheus.Registry

	// Account metrics
	AccountsTotal            prometheus.Gauge
	AccountsValid            prometheus.Gauge
	AccountsEnabled          prometheus.Gauge
	StatusTransitionsTotal   *prometheus.CounterVec
	PresenceChangesTotal     *prometheus.CounterVec
	PropertyFlushesTotal     prometheus.Counter
	PropertiesChangedTotal   prometheus.Counter
	AutoconnectAttemptsTotal prometheus.Counter

	// Storage metrics
	StorageCommitsTotal      prometheus.Counter
	StorageCommitErrorsTotal prometheus.Counter

	// Client registry metrics
	ClientsRegistered      prometheus.Gauge
	ClientReadinessTotal   *prometheus.CounterVec
	DescriptorReloadsTotal prometheus.Counter
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		// Account metrics
		AccountsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "accounts_total",
				Help: "Number of accounts currently managed",
			},
		),
		AccountsValid: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "accounts_valid",
				Help: "Number of accounts whose parameters satisfy their protocol",
			},
		),
		AccountsEnabled: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "accounts_enabled",
				Help: "Number of accounts currently enabled",
			},
		),
		StatusTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "account_status_transitions_total",
				Help: "Total number of connection status transitions",
			},
			[]string{"status"},
		),
		PresenceChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "account_presence_changes_total",
				Help: "Total number of self presence changes",
			},
			[]string{"presence"},
		),
		PropertyFlushesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "account_property_flushes_total",
				Help: "Total number of coalesced property change batches emitted",
			},
		),
		PropertiesChangedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "account_properties_changed_total",
				Help: "Total number of individual property changes emitted",
			},
		),
		AutoconnectAttemptsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "account_autoconnect_attempts_total",
				Help: "Total number of automatic connection attempts",
			},
		),

		// Storage metrics
		StorageCommitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "storage_commits_total",
				Help: "Total number of storage commits",
			},
		),
		StorageCommitErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "storage_commit_errors_total",
				Help: "Total number of failed storage commits",
			},
		),

		// Client registry metrics
		ClientsRegistered: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "clients_registered",
				Help: "Number of clients currently known to the registry",
			},
		),
		ClientReadinessTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "client_readiness_total",
				Help: "Total number of client readiness outcomes",
			},
			[]string{"outcome"},
		),
		DescriptorReloadsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "client_descriptor_reloads_total",
				Help: "Total number of client descriptor reloads",
			},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	// Account metrics
	m.registry.MustRegister(m.AccountsTotal)
	m.registry.MustRegister(m.AccountsValid)
	m.registry.MustRegister(m.AccountsEnabled)
	m.registry.MustRegister(m.StatusTransitionsTotal)
	m.registry.MustRegister(m.PresenceChangesTotal)
	m.registry.MustRegister(m.PropertyFlushesTotal)
	m.registry.MustRegister(m.PropertiesChangedTotal)
	m.registry.MustRegister(m.AutoconnectAttemptsTotal)

	// Storage metrics
	m.registry.MustRegister(m.StorageCommitsTotal)
	m.registry.MustRegister(m.StorageCommitErrorsTotal)

	// Client registry metrics
	m.registry.MustRegister(m.ClientsRegistered)
	m.registry.MustRegister(m.ClientReadinessTotal)
	m.registry.MustRegister(m.DescriptorReloadsTotal)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
