package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StepperCollector exposes integration-loop metrics.
type StepperCollector struct {
	StepDuration     prometheus.Histogram
	TicksTotal       prometheus.Counter
	SimulatedSeconds prometheus.Counter
	EvictionsTotal   *prometheus.CounterVec
}

// NewStepperCollector registers stepper metrics against the provided registerer.
func NewStepperCollector(reg prometheus.Registerer) (*StepperCollector, error) {
	reg, _ = resolveRegistry(reg)

	duration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orbitsim_step_duration_seconds",
		Help:    "Wall-clock duration of one simulation tick.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	}), "orbitsim_step_duration_seconds")
	if err != nil {
		return nil, err
	}

	ticks, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitsim_ticks_total",
		Help: "Ticks in which at least one primary was in the scene.",
	}), "orbitsim_ticks_total")
	if err != nil {
		return nil, err
	}

	simulated, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitsim_simulated_seconds_total",
		Help: "Simulated time advanced by stepping ticks.",
	}), "orbitsim_simulated_seconds_total")
	if err != nil {
		return nil, err
	}

	evictions, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orbitsim_evictions_total",
		Help: "Bodies removed from the scene by a physics failure, labeled by reason.",
	}, []string{"reason"}), "orbitsim_evictions_total")
	if err != nil {
		return nil, err
	}

	return &StepperCollector{
		StepDuration:     duration,
		TicksTotal:       ticks,
		SimulatedSeconds: simulated,
		EvictionsTotal:   evictions,
	}, nil
}

// ObserveStep records one tick. stepped is false for ticks with no
// primary in the scene; their duration is still observed.
func (c *StepperCollector) ObserveStep(d time.Duration, dt float64, stepped bool) {
	if c == nil {
		return
	}
	if c.StepDuration != nil {
		c.StepDuration.Observe(d.Seconds())
	}
	if !stepped {
		return
	}
	if c.TicksTotal != nil {
		c.TicksTotal.Inc()
	}
	if c.SimulatedSeconds != nil && dt > 0 {
		c.SimulatedSeconds.Add(dt)
	}
}

// IncEvictions counts an evicted body.
func (c *StepperCollector) IncEvictions(reason string) {
	if c == nil || c.EvictionsTotal == nil {
		return
	}
	c.EvictionsTotal.WithLabelValues(reason).Inc()
}
