package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once              sync.Once
	syncDuration      prom.Histogram
	entryDuration     *prom.HistogramVec
	entryResults      *prom.CounterVec
	uncheckedEntries  prom.Counter
	bytesFetched      prom.Counter
	workerConcurrency prom.Gauge
	runOutcomes       *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.syncDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "kernelsync",
			Name:      "sync_duration_seconds",
			Help:      "Total duration of a full sync pass",
			Buckets:   prom.DefBuckets,
		})
		pr.entryDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "kernelsync",
			Name:      "entry_duration_seconds",
			Help:      "Duration of individual entry processing by outcome",
			Buckets:   prom.DefBuckets,
		}, []string{"result"})
		pr.entryResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "kernelsync",
			Name:      "entry_results_total",
			Help:      "Per-entry sync outcomes",
		}, []string{"result"})
		pr.uncheckedEntries = prom.NewCounter(prom.CounterOpts{
			Namespace: "kernelsync",
			Name:      "unchecked_entries_total",
			Help:      "Entries fetched without an integrity check",
		})
		pr.bytesFetched = prom.NewCounter(prom.CounterOpts{
			Namespace: "kernelsync",
			Name:      "bytes_fetched_total",
			Help:      "Total bytes downloaded",
		})
		pr.workerConcurrency = prom.NewGauge(prom.GaugeOpts{
			Namespace: "kernelsync",
			Name:      "worker_concurrency",
			Help:      "Observed worker concurrency for the last sync pass",
		})
		pr.runOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "kernelsync",
			Name:      "run_outcomes_total",
			Help:      "Sync run outcomes by final status",
		}, []string{"outcome"})
		reg.MustRegister(pr.syncDuration, pr.entryDuration, pr.entryResults, pr.uncheckedEntries, pr.bytesFetched, pr.workerConcurrency, pr.runOutcomes)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveSyncDuration(d time.Duration) {
	if p == nil || p.syncDuration == nil {
		return
	}
	p.syncDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveEntryDuration(result ResultLabel, d time.Duration) {
	if p == nil || p.entryDuration == nil {
		return
	}
	p.entryDuration.WithLabelValues(string(result)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncEntryResult(result ResultLabel) {
	if p == nil || p.entryResults == nil {
		return
	}
	p.entryResults.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) IncUnchecked() {
	if p == nil || p.uncheckedEntries == nil {
		return
	}
	p.uncheckedEntries.Inc()
}

func (p *PrometheusRecorder) AddBytesFetched(n int64) {
	if p == nil || p.bytesFetched == nil || n <= 0 {
		return
	}
	p.bytesFetched.Add(float64(n))
}

func (p *PrometheusRecorder) SetWorkerConcurrency(n int) {
	if p == nil || p.workerConcurrency == nil {
		return
	}
	p.workerConcurrency.Set(float64(n))
}

func (p *PrometheusRecorder) IncRunOutcome(success bool) {
	if p == nil || p.runOutcomes == nil {
		return
	}
	outcome := "failed"
	if success {
		outcome = "success"
	}
	p.runOutcomes.WithLabelValues(outcome).Inc()
}
