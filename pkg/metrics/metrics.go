// Package metrics exports pipeline counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/siqueiraa/LiftFlow/pkg/admission"
	"github.com/siqueiraa/LiftFlow/pkg/logger"
	"github.com/siqueiraa/LiftFlow/pkg/monitor"
	"github.com/siqueiraa/LiftFlow/pkg/pipeline"
	"github.com/siqueiraa/LiftFlow/pkg/worker"
)

const (
	Namespace       = "liftflow"
	shutdownTimeout = 5 * time.Second
)

var latencyBuckets = []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Recorder collects the metrics of one pipeline ("loadgen" or "consumer").
// It implements worker.Observer and sink.Observer.
type Recorder struct {
	registry *prometheus.Registry

	attempts      *prometheus.CounterVec
	attemptTime   prometheus.Histogram
	items         *prometheus.CounterVec
	poolTarget    prometheus.Gauge
	flushes       *prometheus.CounterVec
	flushSize     prometheus.Histogram
	flushTime     prometheus.Histogram
	throughput    prometheus.Gauge
	backlog       prometheus.Gauge
	uniqueEntries prometheus.Gauge
}

// NewRecorder registers the pipeline's collectors on a private registry.
func NewRecorder(pipelineName string) *Recorder {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"pipeline": pipelineName}

	r := &Recorder{
		registry: reg,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "downstream_attempts_total", ConstLabels: labels,
			Help: "Downstream calls grouped by retry class of the result",
		}, []string{"class"}),
		attemptTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace, Name: "downstream_attempt_seconds", ConstLabels: labels,
			Help: "Latency of one downstream call", Buckets: latencyBuckets,
		}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "items_total", ConstLabels: labels,
			Help: "Work items grouped by terminal outcome",
		}, []string{"outcome"}),
		poolTarget: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Name: "pool_target_workers", ConstLabels: labels,
			Help: "Target size of the worker pool",
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "sink_flushes_total", ConstLabels: labels,
			Help: "Bulk store writes grouped by result",
		}, []string{"result"}),
		flushSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace, Name: "sink_flush_records", ConstLabels: labels,
			Help: "Records per bulk store write", Buckets: prometheus.LinearBuckets(5, 5, 10),
		}),
		flushTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace, Name: "sink_flush_seconds", ConstLabels: labels,
			Help: "Latency of one bulk store write", Buckets: latencyBuckets,
		}),
		throughput: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Name: "throughput_per_second", ConstLabels: labels,
			Help: "Completions per second over the last monitor interval",
		}),
		backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Name: "backlog_items", ConstLabels: labels,
			Help: "Backlog depth at the last monitor report",
		}),
		uniqueEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Name: "unique_skiers", ConstLabels: labels,
			Help: "Distinct skiers seen by the sink",
		}),
	}
	reg.MustRegister(
		r.attempts, r.attemptTime, r.items, r.poolTarget,
		r.flushes, r.flushSize, r.flushTime,
		r.throughput, r.backlog, r.uniqueEntries,
	)
	return r
}

func (r *Recorder) AttemptFinished(class pipeline.Class, took time.Duration) {
	r.attempts.WithLabelValues(class.String()).Inc()
	r.attemptTime.Observe(took.Seconds())
}

func (r *Recorder) ItemFinished(outcome worker.Outcome) {
	r.items.WithLabelValues(outcome.String()).Inc()
}

func (r *Recorder) PoolResized(target int) {
	r.poolTarget.Set(float64(target))
}

func (r *Recorder) BatchFlushed(size int, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.flushes.WithLabelValues(result).Inc()
	r.flushSize.Observe(float64(size))
	r.flushTime.Observe(took.Seconds())
}

// ObserveReport copies a monitor report into gauges.
func (r *Recorder) ObserveReport(rep monitor.Report) {
	r.throughput.Set(rep.Rate)
	r.backlog.Set(float64(rep.Backlog))
	r.uniqueEntries.Set(float64(rep.Unique))
}

// WatchAdmission exports the breaker and bucket state, sampled at scrape time.
func (r *Recorder) WatchAdmission(snapshot func() admission.Snapshot) {
	r.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace, Name: "breaker_open", Help: "1 while the circuit breaker is open",
		}, func() float64 {
			if snapshot().State == admission.Open {
				return 1
			}
			return 0
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: Namespace, Name: "breaker_trips_total", Help: "Times the circuit breaker opened",
		}, func() float64 { return float64(snapshot().Trips) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace, Name: "bucket_tokens", Help: "Tokens left in the admission bucket",
		}, func() float64 { return float64(snapshot().Available) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: Namespace, Name: "admission_denied_total", Help: "Acquire calls refused for lack of tokens",
		}, func() float64 { return float64(snapshot().Denied) }),
	)
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (r *Recorder) Serve(ctx context.Context, addr string, log logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: shutdownTimeout}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	log.WithFields(logger.Fields{"listen": addr}).Info("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
