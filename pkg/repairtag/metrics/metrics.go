// Package metrics exposes Prometheus collectors for tagging runs, LLM
// batches, dictionary learning and anomaly detection.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels batches whose extractor call succeeded.
	OutcomeSuccess = "success"
	// OutcomeError labels batches that failed after retries.
	OutcomeError = "error"
)

var (
	tagAssignmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repairtag",
			Name:      "tag_assignments_total",
			Help:      "Case-tag assignments written, partitioned by source and match method.",
		},
		[]string{"source", "method"},
	)

	llmBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repairtag",
			Name:      "llm_batches_total",
			Help:      "Extractor batches processed, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	llmBatchSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "repairtag",
			Name:      "llm_batch_seconds",
			Help:      "Extractor batch latency in seconds, retries included.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 15, 30, 60},
		},
	)

	llmRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "repairtag",
			Name:      "llm_retries_total",
			Help:      "Extractor calls retried after a transient failure.",
		},
	)

	candidatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "repairtag",
			Name:      "new_tag_candidates_total",
			Help:      "New-tag candidates registered for review.",
		},
	)

	synonymsLearnedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "repairtag",
			Name:      "synonyms_learned_total",
			Help:      "Synonyms added from user feedback.",
		},
	)

	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repairtag",
			Name:      "anomalies_detected_total",
			Help:      "Anomalies reported by trend analysis, partitioned by type.",
		},
		[]string{"type"},
	)
)

// Register attaches repairtag collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		tagAssignmentsTotal,
		llmBatchesTotal,
		llmBatchSeconds,
		llmRetriesTotal,
		candidatesTotal,
		synonymsLearnedTotal,
		anomaliesTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAssignment counts one case-tag write.
func ObserveAssignment(source, method string) {
	tagAssignmentsTotal.WithLabelValues(source, method).Inc()
}

// ObserveBatch records an extractor batch duration and outcome label.
func ObserveBatch(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	llmBatchesTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	llmBatchSeconds.Observe(duration.Seconds())
}

// ObserveRetry counts one retried extractor call.
func ObserveRetry() { llmRetriesTotal.Inc() }

// ObserveCandidate counts one registered new-tag candidate.
func ObserveCandidate() { candidatesTotal.Inc() }

// ObserveSynonymLearned counts one synonym added from feedback.
func ObserveSynonymLearned() { synonymsLearnedTotal.Inc() }

// ObserveAnomaly counts one reported anomaly.
func ObserveAnomaly(kind string) { anomaliesTotal.WithLabelValues(kind).Inc() }
