package scopesync

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "sync"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of completed scope-sync conversations.
	SyncsCompleted metrics.Counter
	// Number of scope-sync conversations that aborted.
	SyncsAborted metrics.Counter
	// Number of reconciliation rounds across all conversations.
	Rounds metrics.Counter
	// Number of full records sent to peers.
	ItemsSent metrics.Counter
	// Number of full records received and admitted.
	ItemsReceived metrics.Counter
	// Number of received records rejected by validation.
	ItemsRejected metrics.Counter
}

// PrometheusMetrics returns Metrics built using the Prometheus client
// library. Optionally, labels can be provided along with their values
// ("foo", "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		SyncsCompleted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "syncs_completed",
			Help:      "Number of completed scope-sync conversations.",
		}, labels).With(labelsAndValues...),
		SyncsAborted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "syncs_aborted",
			Help:      "Number of scope-sync conversations that aborted.",
		}, labels).With(labelsAndValues...),
		Rounds: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "rounds",
			Help:      "Number of reconciliation rounds across all conversations.",
		}, labels).With(labelsAndValues...),
		ItemsSent: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "items_sent",
			Help:      "Number of full records sent to peers.",
		}, labels).With(labelsAndValues...),
		ItemsReceived: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "items_received",
			Help:      "Number of full records received and admitted.",
		}, labels).With(labelsAndValues...),
		ItemsRejected: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "items_rejected",
			Help:      "Number of received records rejected by validation.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		SyncsCompleted: discard.NewCounter(),
		SyncsAborted:   discard.NewCounter(),
		Rounds:         discard.NewCounter(),
		ItemsSent:      discard.NewCounter(),
		ItemsReceived:  discard.NewCounter(),
		ItemsRejected:  discard.NewCounter(),
	}
}
