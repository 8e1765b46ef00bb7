package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pthm-cable/wavefield/renderer"
)

// Metrics exports loop counters for one session on its own registry, so
// sessions never share collectors.
type Metrics struct {
	Registry *prometheus.Registry

	Frames       prometheus.Counter
	Presented    prometheus.Counter
	SurfaceLost  prometheus.Counter
	DeviceAborts prometheus.Counter
	Reacquires   prometheus.Counter
	PhaseSeconds *prometheus.HistogramVec
	Landmarks    prometheus.Gauge
	ProbePeak    prometheus.Gauge
}

// NewMetrics registers the session's collectors, labelled with its id.
func NewMetrics(session string) *Metrics {
	labels := prometheus.Labels{"session": session}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "wavefield",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "wavefield",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	m := &Metrics{
		Registry:     prometheus.NewRegistry(),
		Frames:       counter("frames_total", "Completed render ticks"),
		Presented:    counter("presented_total", "Frames that reached the surface"),
		SurfaceLost:  counter("surface_lost_total", "Ticks that reconfigured a lost surface"),
		DeviceAborts: counter("device_aborts_total", "Ticks aborted by device loss"),
		Reacquires:   counter("reacquire_attempts_total", "Evaluator reacquisition attempts"),
		PhaseSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   "wavefield",
				Name:        "phase_duration_seconds",
				Help:        "Time spent in each tick phase",
				Buckets:     prometheus.ExponentialBuckets(0.00005, 2, 14),
				ConstLabels: labels,
			},
			[]string{"phase"},
		),
		Landmarks: gauge("landmarks", "Landmarks in the store"),
		ProbePeak: gauge("probe_peak_probability", "Peak reference probability on the probe grid"),
	}
	m.Registry.MustRegister(
		m.Frames, m.Presented, m.SurfaceLost, m.DeviceAborts, m.Reacquires,
		m.PhaseSeconds, m.Landmarks, m.ProbePeak,
	)
	return m
}

// Observe records one Render call and the driver time that preceded it.
// Frames and render phase timings only count calls that dispatched.
func (m *Metrics) Observe(res renderer.Result, driver time.Duration) {
	if m == nil {
		return
	}
	m.PhaseSeconds.WithLabelValues(PhaseDriver).Observe(driver.Seconds())
	if res.Aborted {
		m.DeviceAborts.Inc()
	}
	if res.Dispatched {
		m.Frames.Inc()
		m.PhaseSeconds.WithLabelValues(PhaseUpload).Observe(res.Upload.Seconds())
		m.PhaseSeconds.WithLabelValues(PhaseDispatch).Observe(res.Dispatch.Seconds())
		m.PhaseSeconds.WithLabelValues(PhasePresent).Observe(res.Present.Seconds())
	}
	if res.Presented {
		m.Presented.Inc()
	}
	if res.SurfaceLost {
		m.SurfaceLost.Inc()
	}
	m.Reacquires.Add(float64(res.Reacquires))
}

// Handler serves the session registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve runs a /metrics endpoint on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
