// Package mzmetrics exposes Prometheus instrumentation for Merkle tree builds.
package mzmetrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for [Metrics.ObserveBuild].
const (
	OutcomeOK           = "ok"
	OutcomeInvalid      = "invalid_argument"
	OutcomeDeviceError  = "device_error"
	OutcomeTimingError  = "timing_error"
	OutcomeCanceled     = "canceled"
	OutcomeReleaseError = "release_error"
)

const namespace = "merklize"

// Metrics holds the collectors for one builder.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	builds *prometheus.CounterVec

	compute      prometheus.Histogram
	hostToDevice prometheus.Histogram
	deviceToHost prometheus.Histogram

	rounds prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Number of tree builds, by outcome.",
		}, []string{"outcome"}),

		compute: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compute_seconds",
			Help:      "Device compute time summed across all dispatches of a build.",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 12),
		}),
		hostToDevice: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "host_to_device_seconds",
			Help:      "Host to device transfer time of a build.",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 12),
		}),
		deviceToHost: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "device_to_host_seconds",
			Help:      "Device to host transfer time of a build.",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 12),
		}),

		rounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rounds",
			Help:      "Number of dispatches following the leaf round of a build.",
			Buckets:   prometheus.LinearBuckets(0, 4, 9),
		}),
	}

	for _, c := range []prometheus.Collector{
		m.builds, m.compute, m.hostToDevice, m.deviceToHost, m.rounds,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register merklize collector: %w", err)
		}
	}

	// Expose every outcome from the start, so rates are defined before the first failure.
	for _, o := range []string{
		OutcomeOK, OutcomeInvalid, OutcomeDeviceError,
		OutcomeTimingError, OutcomeCanceled, OutcomeReleaseError,
	} {
		m.builds.WithLabelValues(o)
	}

	return m, nil
}

// ObserveBuild counts one build with the given outcome.
func (m *Metrics) ObserveBuild(outcome string) {
	if m == nil {
		return
	}
	m.builds.WithLabelValues(outcome).Inc()
}

// ObserveTiming records the device timing of a successful build.
func (m *Metrics) ObserveTiming(compute, h2d, d2h time.Duration, rounds int) {
	if m == nil {
		return
	}
	m.compute.Observe(compute.Seconds())
	m.hostToDevice.Observe(h2d.Seconds())
	m.deviceToHost.Observe(d2h.Seconds())
	m.rounds.Observe(float64(rounds))
}
