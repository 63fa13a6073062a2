// Package metrics exposes per-run counters for the pipeline stages.
package metrics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"StatVid/internal/domain"
	"StatVid/internal/ports"
)

const namespace = "statvid"

// Recorder implements ports.RunRecorder on a private Prometheus registry.
type Recorder struct {
	registry *prometheus.Registry

	apiRequests    *prometheus.CounterVec
	appended       prometheus.Counter
	skipped        *prometheus.CounterVec
	excluded       *prometheus.CounterVec
	stageDuration  *prometheus.GaugeVec
	stageFailures  *prometheus.CounterVec
	lastSuccessful *prometheus.GaugeVec
}

var _ ports.RunRecorder = (*Recorder)(nil)

// NewRecorder registers every collector on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		apiRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "catalog",
				Name:      "requests_total",
				Help:      "Catalog API requests by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		appended: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "records_appended_total",
			Help:      "Raw records appended to the bronze layer",
		}),
		skipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "records_skipped_total",
				Help:      "API items skipped during ingestion",
			},
			[]string{"reason"},
		),
		excluded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transform",
				Name:      "entities_excluded_total",
				Help:      "Entities excluded from the feature table by reason",
			},
			[]string{"reason"},
		),
		stageDuration: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stage",
				Name:      "duration_seconds",
				Help:      "Wall time of the last execution of each stage",
			},
			[]string{"stage"},
		),
		stageFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stage",
				Name:      "failures_total",
				Help:      "Stage failures by error kind",
			},
			[]string{"stage", "kind"},
		),
		lastSuccessful: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stage",
				Name:      "last_success",
				Help:      "1 when the last execution of the stage succeeded, 0 otherwise",
			},
			[]string{"stage"},
		),
	}
}

func (r *Recorder) APIRequest(endpoint, outcome string) {
	r.apiRequests.WithLabelValues(endpoint, outcome).Inc()
}

func (r *Recorder) RecordsAppended(n int) {
	r.appended.Add(float64(n))
}

func (r *Recorder) RecordSkipped(reason string) {
	r.skipped.WithLabelValues(reason).Inc()
}

func (r *Recorder) RowsExcluded(reason string, n int) {
	r.excluded.WithLabelValues(reason).Add(float64(n))
}

func (r *Recorder) StageFinished(stage domain.Stage, seconds float64, err error) {
	r.stageDuration.WithLabelValues(string(stage)).Set(seconds)
	if err != nil {
		r.stageFailures.WithLabelValues(string(stage), ErrorKind(err)).Inc()
		r.lastSuccessful.WithLabelValues(string(stage)).Set(0)
		return
	}
	r.lastSuccessful.WithLabelValues(string(stage)).Set(1)
}

// Gatherer exposes the registry, mostly for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile dumps the registry in node-exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// ErrorKind buckets an error into a low-cardinality label.
func ErrorKind(err error) string {
	var (
		insufficient *domain.InsufficientDataError
		schema       *domain.SchemaValidationError
		transient    *domain.TransientFetchError
	)
	switch {
	case errors.Is(err, domain.ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.As(err, &insufficient):
		return "insufficient_data"
	case errors.As(err, &schema):
		return "schema_validation"
	case errors.As(err, &transient):
		return "transient_fetch"
	default:
		return "other"
	}
}
