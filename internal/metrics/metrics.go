// Package metrics exposes Prometheus instrumentation for the executor
// and replication subsystems on a side HTTP listener. No component in
// spec.md's core requires it (metrics are an ambient concern, not a
// protocol feature), but the teacher's go.mod already depends directly
// on client_golang with no consuming file in the retrieved slice; this
// gives that dependency its home.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every gauge/counter/histogram this process reports.
// WaitLatency is registered and exported, but nothing in this repository
// observes into it (internal/engine.Metrics has no method for it), so it
// stays empty.
type Metrics struct {
	CommandsProcessed  *prometheus.CounterVec
	ReplicaCount       prometheus.Gauge
	MasterReplOffset   prometheus.Gauge
	WaitLatency        prometheus.Histogram
	ExecutorQueueDepth prometheus.Gauge

	srv *http.Server
}

// New registers every metric against a dedicated registry (not the
// global default one, so tests can construct more than one Metrics
// without a "duplicate metrics collector registration" panic).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		CommandsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvnode",
			Name:      "commands_processed_total",
			Help:      "Commands dispatched by the executor, by command name.",
		}, []string{"command"}),
		ReplicaCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "kvnode",
			Name:      "replicas_attached",
			Help:      "Number of currently attached replicas.",
		}),
		MasterReplOffset: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "kvnode",
			Name:      "master_repl_offset",
			Help:      "Current master replication offset in bytes.",
		}),
		WaitLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kvnode",
			Name:      "wait_latency_seconds",
			Help:      "Time spent in the WAIT barrier before responding.",
			Buckets:   prometheus.DefBuckets,
		}),
		ExecutorQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "kvnode",
			Name:      "executor_queue_depth",
			Help:      "Pending messages in the executor's inbound queue.",
		}),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	m.srv = &http.Server{Handler: mux}
	return m
}

// Serve starts the metrics HTTP server on addr in the background.
// Errors other than a graceful Shutdown are logged by the caller via
// the returned channel.
func (m *Metrics) Serve(addr string) <-chan error {
	errCh := make(chan error, 1)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		errCh <- err
		return errCh
	}
	go func() {
		if err := m.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	return errCh
}

// Shutdown gracefully stops the metrics server.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

// ObserveCommand increments the per-command-name counter. Satisfies
// internal/engine.Metrics.
func (m *Metrics) ObserveCommand(name string) {
	m.CommandsProcessed.WithLabelValues(name).Inc()
}

// SetReplicaCount reports the current attached-replica count.
func (m *Metrics) SetReplicaCount(n int) {
	m.ReplicaCount.Set(float64(n))
}

// SetMasterReplOffset reports the current replication offset.
func (m *Metrics) SetMasterReplOffset(n uint64) {
	m.MasterReplOffset.Set(float64(n))
}

// SetExecutorQueueDepth reports the executor's pending inbound queue
// depth.
func (m *Metrics) SetExecutorQueueDepth(n int) {
	m.ExecutorQueueDepth.Set(float64(n))
}
