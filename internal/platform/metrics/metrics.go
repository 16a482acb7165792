package metrics

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ehr/triage/internal/domain/triage"
)

const namespace = "triage"

// Registry owns every collector the server exports. It is not a global so
// tests can build as many as they like.
type Registry struct {
	reg *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	queueByLevel *prometheus.GaugeVec
	events       *prometheus.CounterVec

	scoringDuration *prometheus.HistogramVec

	monitorPasses   prometheus.Counter
	monitorAssessed prometheus.Counter
	monitorFailed   prometheus.Counter
	monitorDuration prometheus.Histogram

	systemCPUUsage    prometheus.Gauge
	systemMemoryUsage *prometheus.GaugeVec

	queueMu  sync.Mutex
	queueSeq uint64
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		queueByLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_patients",
			Help:      "Patients waiting, by triage level",
		}, []string{"level"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Domain events published, by type",
		}, []string{"type"}),
		scoringDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scoring_request_duration_seconds",
			Help:      "Latency of scoring engine calls",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),
		monitorPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_passes_total",
			Help:      "Completed reassessment passes",
		}),
		monitorAssessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_assessed_total",
			Help:      "Patients reassessed by the monitor",
		}),
		monitorFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_failed_total",
			Help:      "Reassessments that failed and were retried later",
		}),
		monitorDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "monitor_pass_duration_seconds",
			Help:      "Duration of a reassessment pass",
			Buckets:   prometheus.DefBuckets,
		}),
		systemCPUUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "system_cpu_usage_percent",
			Help: "Current host CPU usage percentage",
		}),
		systemMemoryUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "system_memory_usage_bytes",
			Help: "Current host memory usage in bytes",
		}, []string{"type"}),
	}

	r.reg.MustRegister(
		r.httpRequests,
		r.httpDuration,
		r.queueByLevel,
		r.events,
		r.scoringDuration,
		r.monitorPasses,
		r.monitorAssessed,
		r.monitorFailed,
		r.monitorDuration,
		r.systemCPUUsage,
		r.systemMemoryUsage,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

func (r *Registry) ObserveHTTP(method, route string, status int, d time.Duration) {
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObservePass records a monitor pass; pass it as AlertMonitor.OnPass.
func (r *Registry) ObservePass(res triage.PassResult) {
	r.monitorPasses.Inc()
	r.monitorAssessed.Add(float64(res.Assessed))
	r.monitorFailed.Add(float64(res.Failed))
	r.monitorDuration.Observe(res.Duration.Seconds())
}

// WatchQueue exports the queue summary as gauges read at scrape time.
func (r *Registry) WatchQueue(summary func() triage.QueueSummary) {
	gauge := func(name, help string, read func(triage.QueueSummary) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return read(summary()) })
	}
	r.reg.MustRegister(
		gauge("queue_length", "Patients currently queued", func(s triage.QueueSummary) float64 {
			return float64(s.Length)
		}),
		gauge("queue_tombstones", "Stale heap entries awaiting compaction", func(s triage.QueueSummary) float64 {
			return float64(s.Tombstones)
		}),
		gauge("alerts_pending", "Re-triage alerts awaiting a decision", func(s triage.QueueSummary) float64 {
			return float64(s.PendingAlerts)
		}),
		gauge("intakes_pending", "Intakes awaiting admission", func(s triage.QueueSummary) float64 {
			return float64(s.PendingIntakes)
		}),
		gauge("queue_wait_minutes", "Estimated minutes to clear the queue", func(s triage.QueueSummary) float64 {
			return s.TotalWaitMin
		}),
	)
}

// Publish implements triage.EventSink.
func (r *Registry) Publish(_ context.Context, evt triage.Event) error {
	r.events.WithLabelValues(string(evt.Type)).Inc()
	if evt.Type != triage.EventQueueChanged {
		return nil
	}
	counts := make(map[triage.Level]int, 5)
	for _, v := range evt.Queue {
		counts[v.Patient.TriageLevel]++
	}

	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	if evt.Seq != 0 && evt.Seq <= r.queueSeq {
		return nil
	}
	r.queueSeq = max(r.queueSeq, evt.Seq)
	for l := triage.LevelResuscitation; l <= triage.LevelNonUrgent; l++ {
		r.queueByLevel.WithLabelValues(strconv.Itoa(int(l))).Set(float64(counts[l]))
	}
	return nil
}

// InstrumentScorer times every call made through engine.
func (r *Registry) InstrumentScorer(engine triage.ScoringEngine) triage.ScoringEngine {
	return triage.ScoringFunc(func(ctx context.Context, req triage.ScoreRequest) (triage.Assessment, error) {
		start := time.Now()
		a, err := engine.Score(ctx, req)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		r.scoringDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		return a, err
	})
}
