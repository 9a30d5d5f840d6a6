// Package metrics provides Prometheus metrics for the kiosk and the dispenser.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Device command results.
const (
	DeviceConfirmed   = "confirmed"
	DeviceSimulated   = "simulated"
	DeviceRejected    = "rejected"
	DeviceUnavailable = "unavailable"
	DeviceAbandoned   = "abandoned"
)

// Metrics holds all application metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	DispenseRequests   *prometheus.CounterVec
	DispenseDuration   prometheus.Histogram
	DeviceCommands     *prometheus.CounterVec
	SlotStock          *prometheus.GaugeVec
	CircuitBreaker     *prometheus.GaugeVec
	DeviceUp           prometheus.Gauge
	MotorCycles        *prometheus.CounterVec
	MotorCycleDuration prometheus.Histogram
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DispenseRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispense_requests_total",
			Help: "Dispense requests by medicine kind and outcome",
		}, []string{"kind", "outcome"}),
		DispenseDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispense_duration_seconds",
			Help:    "End-to-end dispense request duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 3, 5, 10},
		}),
		DeviceCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "device_commands_total",
			Help: "Dispense commands sent to the device by result",
		}, []string{"result"}),
		SlotStock: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "slot_stock",
			Help: "Remaining units per medicine slot",
		}, []string{"kind"}),
		CircuitBreaker: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
		DeviceUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "device_up",
			Help: "Whether the last liveness probe reached the dispensing device",
		}),
		MotorCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "motor_cycles_total",
			Help: "Motor dispense cycles by motor number and result",
		}, []string{"motor", "result"}),
		MotorCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "motor_cycle_duration_seconds",
			Help:    "Duration of a full motor dispense cycle",
			Buckets: []float64{.5, 1, 1.5, 2, 3, 5},
		}),
	}

	reg.MustRegister(
		m.DispenseRequests,
		m.DispenseDuration,
		m.DeviceCommands,
		m.SlotStock,
		m.CircuitBreaker,
		m.DeviceUp,
		m.MotorCycles,
		m.MotorCycleDuration,
	)
	return m
}

// ObserveDispense records the outcome of one orchestrated dispense request.
func (m *Metrics) ObserveDispense(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.DispenseRequests.WithLabelValues(kind, outcome).Inc()
	m.DispenseDuration.Observe(d.Seconds())
}

// DeviceResult counts one device command by result.
func (m *Metrics) DeviceResult(result string) {
	if m == nil {
		return
	}
	m.DeviceCommands.WithLabelValues(result).Inc()
}

// SetStock publishes the current stock of a slot.
func (m *Metrics) SetStock(kind string, count int) {
	if m == nil {
		return
	}
	m.SlotStock.WithLabelValues(kind).Set(float64(count))
}

// SetBreakerState publishes a breaker state (gobreaker numbering).
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreaker.WithLabelValues(name).Set(float64(state))
}

// SetDeviceUp publishes the result of the last device probe.
func (m *Metrics) SetDeviceUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.DeviceUp.Set(1)
	} else {
		m.DeviceUp.Set(0)
	}
}

// MotorCycle records one finished motor cycle. motorNumber is 1-based.
func (m *Metrics) MotorCycle(motorNumber int, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.MotorCycles.WithLabelValues(strconv.Itoa(motorNumber), result).Inc()
	m.MotorCycleDuration.Observe(d.Seconds())
}

// Handler returns the Prometheus HTTP handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
