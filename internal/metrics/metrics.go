// Package metrics holds the Prometheus collectors exported by the pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline groups the pipeline collectors. A nil *Pipeline is valid and records nothing.
type Pipeline struct {
	jobAttempts    *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	deadLetters    *prometheus.CounterVec
	dedupDecisions *prometheus.CounterVec
	partitionOps   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Pipeline {
	f := promauto.With(reg)
	return &Pipeline{
		jobAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_job_attempts_total",
			Help: "Job handler attempts by queue, kind and outcome.",
		}, []string{"queue", "kind", "outcome"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_job_duration_seconds",
			Help:    "Job handler duration.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"queue", "kind"}),
		deadLetters: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_dead_letters_total",
			Help: "Jobs that exhausted their attempts.",
		}, []string{"queue"}),
		dedupDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dedup_decisions_total",
			Help: "Duplicate check results.",
		}, []string{"result"}),
		partitionOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "content_partition_operations_total",
			Help: "Partition housekeeping operations.",
		}, []string{"op"}),
	}
}

func (p *Pipeline) ObserveAttempt(queue, kind, outcome string, d time.Duration) {
	if p == nil {
		return
	}
	p.jobAttempts.WithLabelValues(queue, kind, outcome).Inc()
	p.jobDuration.WithLabelValues(queue, kind).Observe(d.Seconds())
}

func (p *Pipeline) DeadLetter(queue string) {
	if p == nil {
		return
	}
	p.deadLetters.WithLabelValues(queue).Inc()
}

func (p *Pipeline) DedupDecision(result string) {
	if p == nil {
		return
	}
	p.dedupDecisions.WithLabelValues(result).Inc()
}

func (p *Pipeline) PartitionOp(op string) {
	if p == nil {
		return
	}
	p.partitionOps.WithLabelValues(op).Inc()
}
