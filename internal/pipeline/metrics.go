package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/leadwatch/internal/lead"
)

// Metrics holds Prometheus metrics for pipeline runs.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	LastRunTime     prometheus.Gauge
	RunEvents       prometheus.Gauge
	SourcesTotal    *prometheus.CounterVec
	ArticlesTotal   *prometheus.CounterVec
	ResolutionTotal *prometheus.CounterVec
	PersistTotal    *prometheus.CounterVec
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadwatch_runs_total",
			Help: "Total pipeline runs by result.",
		}, []string{"result"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "leadwatch_run_duration_seconds",
			Help:    "Duration of pipeline runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~512s
		}),
		LastRunTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leadwatch_last_run_timestamp_seconds",
			Help: "Unix time the last pipeline run finished.",
		}),
		RunEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leadwatch_last_run_events",
			Help: "Trigger events found by the last pipeline run.",
		}),
		SourcesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadwatch_source_fetches_total",
			Help: "Source fetches by source and result.",
		}, []string{"source", "result"}),
		ArticlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadwatch_articles_total",
			Help: "Extracted articles by source and trigger category (none when unmatched).",
		}, []string{"source", "category"}),
		ResolutionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadwatch_company_resolutions_total",
			Help: "Company name resolutions by path.",
		}, []string{"path"}),
		PersistTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadwatch_persist_total",
			Help: "Event persistence attempts by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.LastRunTime,
		m.RunEvents,
		m.SourcesTotal,
		m.ArticlesTotal,
		m.ResolutionTotal,
		m.PersistTotal,
	)

	return m
}

// Hooks returns pipeline Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnSource: func(source string, _, _ int, err error) {
			result := "success"
			if err != nil {
				result = "error"
			}
			m.SourcesTotal.WithLabelValues(source, result).Inc()
		},
		OnArticle: func(source string, category lead.Category, matched bool) {
			label := string(category)
			if !matched {
				label = "none"
			}
			m.ArticlesTotal.WithLabelValues(source, label).Inc()
		},
		OnResolve: func(path lead.Resolution) {
			m.ResolutionTotal.WithLabelValues(string(path)).Inc()
		},
		OnPersist: func(outcome string) {
			m.PersistTotal.WithLabelValues(outcome).Inc()
		},
		OnRun: func(r *Report) {
			result := "success"
			switch {
			case r.Error != "":
				result = "error"
			case r.FailedSources() > 0 || r.Persist.Failed > 0:
				result = "partial"
			}
			m.RunsTotal.WithLabelValues(result).Inc()
			m.RunDuration.Observe(r.Duration().Seconds())
			m.LastRunTime.Set(float64(r.FinishedAt.Unix()))
			m.RunEvents.Set(float64(len(r.Events)))
		},
	}
}
