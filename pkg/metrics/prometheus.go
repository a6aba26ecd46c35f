package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all prometheus metrics
type Metrics struct {
	CallsIssued        *prometheus.CounterVec
	Recalls            prometheus.Counter
	Misses             *prometheus.CounterVec
	Attended           prometheus.Counter
	TransitionErrors   *prometheus.CounterVec
	SynthesisRequests  *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	SynthesisTime      prometheus.Histogram
	Superseded         prometheus.Counter
	BackgroundTaskRuns *prometheus.CounterVec
	WaitingPatients    *prometheus.GaugeVec
}

// NewMetrics creates new prometheus metrics on the default registerer
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates metrics registered on reg
func NewMetricsWithRegisterer(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CallsIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_issued_total",
			Help:      "The total number of patient calls issued",
		}, []string{"stage"}),
		Recalls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recalls_total",
			Help:      "The total number of recalls",
		}),
		Misses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "misses_total",
			Help:      "The total number of patients marked missed",
		}, []string{"stage"}),
		Attended: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_completions_total",
			Help:      "The total number of stages marked attended",
		}),
		TransitionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transition_errors_total",
			Help:      "Rejected or failed transitions",
		}, []string{"operation"}),
		SynthesisRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_requests_total",
			Help:      "Speech synthesis requests by outcome",
		}, []string{"outcome"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_cache_lookups_total",
			Help:      "Audio cache lookups by result",
		}, []string{"result"}),
		SynthesisTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_time_seconds",
			Help:      "Time taken by the speech synthesis provider",
			Buckets:   prometheus.DefBuckets,
		}),
		Superseded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcements_superseded_total",
			Help:      "Announcements dropped because a newer one superseded them",
		}),
		BackgroundTaskRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "background_task_runs_total",
			Help:      "Background task runs by task and outcome",
		}, []string{"task", "outcome"}),
		WaitingPatients: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "waiting_patients",
			Help:      "Patients currently waiting per status",
		}, []string{"status"}),
	}
}
