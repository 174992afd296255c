package store

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "store"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of records admitted.
	RecordsStored metrics.Counter
	// Number of records rejected by digest or signature validation.
	PutRejected metrics.Counter
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
		RecordsStored: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "records_stored",
			Help:      "Number of records admitted to the store.",
		}, labels).With(labelsAndValues...),
		PutRejected: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "put_rejected",
			Help:      "Number of records rejected by digest or signature validation.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		RecordsStored: discard.NewCounter(),
		PutRejected:   discard.NewCounter(),
	}
}
