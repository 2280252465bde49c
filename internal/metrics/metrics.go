// Package metrics exposes lookup and conversion queue metrics for Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Digital-Shane/reel-tidy/internal/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const namespace = "reeltidy"

// Manager owns a private registry. It satisfies resolve.LookupObserver and
// queue.Observer.
type Manager struct {
	registry *prometheus.Registry

	lookups        *prometheus.CounterVec
	lookupDuration *prometheus.HistogramVec
	jobs           *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	retries        prometheus.Counter
	depth          *prometheus.GaugeVec
}

// NewManager registers every collector on a fresh registry.
func NewManager() *Manager {
	m := &Manager{
		registry: prometheus.NewRegistry(),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Metadata source lookups by source and outcome",
		}, []string{"source", "outcome"}),
		lookupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lookup_duration_seconds",
			Help:      "Metadata source lookup latency",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"source"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversion_jobs_total",
			Help:      "Finished conversion jobs by outcome",
		}, []string{"outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_duration_seconds",
			Help:      "Duration of the final conversion attempt by outcome",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversion_retries_total",
			Help:      "Conversion attempts that failed and were scheduled again",
		}),
		depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_jobs",
			Help:      "Jobs in the conversion queue by status",
		}, []string{"status"}),
	}

	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m.registry.MustRegister(m.lookups, m.lookupDuration, m.jobs, m.jobDuration, m.retries, m.depth)
	return m
}

// Registry returns the registry the collectors live in.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Manager) ObserveLookup(source, outcome string, elapsed time.Duration) {
	m.lookups.WithLabelValues(source, outcome).Inc()
	m.lookupDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

func (m *Manager) ObserveJob(outcome queue.Outcome, _ int, elapsed time.Duration) {
	m.jobs.WithLabelValues(string(outcome)).Inc()
	m.jobDuration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
}

func (m *Manager) ObserveRetry() {
	m.retries.Inc()
}

func (m *Manager) ObserveDepth(counts map[queue.Status]int) {
	for status, n := range counts {
		m.depth.WithLabelValues(string(status)).Set(float64(n))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve listens on addr until ctx is done.
func (m *Manager) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("metrics listener started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// WriteTextfile writes the current values to path in the exposition format,
// for the node exporter textfile collector.
func (m *Manager) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
