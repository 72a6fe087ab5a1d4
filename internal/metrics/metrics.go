// Package metrics buffers hibernate pipeline samples to a preallocated
// file across the freeze boundary, and exposes them to Prometheus once
// they can be read back — nothing can scrape live metrics while
// userspace is frozen, so samples taken during that window are staged
// to disk and replayed afterward.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DurationSeconds records capped-duration samples, e.g. "SetupLVMFiles".
	DurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hiberman_duration_seconds",
			Help:    "Duration of a named hibernate pipeline phase",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	// IOBytes records the byte count of a named I/O sample.
	IOBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hiberman_io_bytes",
			Help:    "Bytes transferred during a named hibernate I/O phase",
			Buckets: prometheus.ExponentialBuckets(1<<20, 2, 12), // 1MiB .. 2GiB
		},
		[]string{"phase"},
	)

	// IOSeconds records the elapsed time of the same I/O samples.
	IOSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hiberman_io_seconds",
			Help:    "Elapsed time of a named hibernate I/O phase",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	// AttemptsTotal counts hibernate attempts by outcome.
	AttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hiberman_attempts_total",
			Help: "Total hibernate attempts by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(DurationSeconds, IOBytes, IOSeconds, AttemptsTotal)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler { return promhttp.Handler() }

// StartServer starts a standalone HTTP server serving /metrics on addr. It
// only makes sense outside the freeze window, since nothing can reach it
// while userspace is frozen.
func StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}

// DurationSample is a capped-duration observation, e.g. how long a setup
// phase took, with MaxSeconds bounding the value recorded so one
// pathological attempt doesn't skew buckets sized for the common case.
type DurationSample struct {
	Name       string
	Seconds    float64
	MaxSeconds float64
}

// IOSample is a byte-count/elapsed-time observation for a named I/O phase.
type IOSample struct {
	Name    string
	Bytes   int64
	Seconds float64
}

func capped(v, max float64) float64 {
	if max > 0 && v > max {
		return max
	}
	return v
}

// Observe pushes d (capped at maxSeconds) into the Prometheus histogram
// for phase.
func Observe(phase string, d time.Duration, maxSeconds float64) {
	DurationSeconds.WithLabelValues(phase).Observe(capped(d.Seconds(), maxSeconds))
}

// ObserveIO pushes a byte-count/duration pair into the Prometheus
// histograms for phase.
func ObserveIO(phase string, bytes int64, d time.Duration) {
	IOBytes.WithLabelValues(phase).Observe(float64(bytes))
	IOSeconds.WithLabelValues(phase).Observe(d.Seconds())
}

// ObserveAttempt bumps the attempt counter for outcome (e.g. "success",
// "low_disk", "snapshot_error").
func ObserveAttempt(outcome string) {
	AttemptsTotal.WithLabelValues(outcome).Inc()
}
