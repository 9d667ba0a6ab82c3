// Package metrics exports the simulation's device activity to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pete/internal/net/plc"
	"pete/internal/sim"
)

const (
	NAMESPACE = "pete"
	SUBSYSTEM = "sim"

	SHUTDOWN_TIMEOUT = 5 * time.Second
)

// Metrics is a sim.Observer that keeps per device counters and gauges.
type Metrics struct {
	ticks        *prometheus.CounterVec
	tickErrors   *prometheus.CounterVec
	tickDuration *prometheus.HistogramVec
	analogValue  *prometheus.GaugeVec
	valveValue   *prometheus.GaugeVec
	valvePos     *prometheus.GaugeVec
	devices      *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: NAMESPACE, Subsystem: SUBSYSTEM,
			Name: "ticks_total",
			Help: "Device loop ticks run.",
		}, []string{"kind", "tag"}),
		tickErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: NAMESPACE, Subsystem: SUBSYSTEM,
			Name: "tick_errors_total",
			Help: "Device loop ticks that failed.",
		}, []string{"kind", "tag"}),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: NAMESPACE, Subsystem: SUBSYSTEM,
			Name:    "tick_duration_seconds",
			Help:    "Duration of one device tick, valve travel included.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"kind"}),
		analogValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: NAMESPACE, Subsystem: SUBSYSTEM,
			Name: "analog_value",
			Help: "Last raw value written by an analog transmitter.",
		}, []string{"tag"}),
		valveValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: NAMESPACE, Subsystem: SUBSYSTEM,
			Name: "control_valve_value",
			Help: "Last openness mirrored by a control valve.",
		}, []string{"tag"}),
		valvePos: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: NAMESPACE, Subsystem: SUBSYSTEM,
			Name: "valve_position",
			Help: "Solenoid valve position: 0 closed, 0.5 moving, 1 open.",
		}, []string{"tag"}),
		devices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: NAMESPACE, Subsystem: SUBSYSTEM,
			Name: "devices",
			Help: "Devices found by discovery.",
		}, []string{"kind"}),
	}

	for _, c := range []prometheus.Collector{
		m.ticks, m.tickErrors, m.tickDuration, m.analogValue, m.valveValue, m.valvePos, m.devices,
	} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "[metrics.New] registering collector")
		}
	}
	return m, nil
}

func (m *Metrics) Observe(ev sim.Event) {
	switch ev.Type {
	case sim.EVENT_TICK:
		kind := ev.Kind.String()
		m.ticks.WithLabelValues(kind, ev.Tag).Inc()
		if ev.Err != nil {
			m.tickErrors.WithLabelValues(kind, ev.Tag).Inc()
		}
		m.tickDuration.WithLabelValues(kind).Observe(ev.Duration.Seconds())

	case sim.EVENT_SAMPLE:
		if v, ok := plc.AsFloat(ev.Value); ok {
			m.analogValue.WithLabelValues(ev.Tag).Set(v)
		}

	case sim.EVENT_FOLLOW:
		if v, ok := plc.AsFloat(ev.Value); ok {
			m.valveValue.WithLabelValues(ev.Tag).Set(v)
		}

	case sim.EVENT_VALVE_STATE:
		if state, ok := ev.Value.(sim.ValveState); ok {
			m.valvePos.WithLabelValues(ev.Tag).Set(state.Openness())
		}
	}
}

// SetInventory records how many devices of each kind are simulated.
func (m *Metrics) SetInventory(inv *sim.Inventory) {
	for _, kind := range []sim.Kind{sim.KIND_ANALOG_TRANSMITTER, sim.KIND_CONTROL_VALVE, sim.KIND_SOLENOID_VALVE} {
		m.devices.WithLabelValues(kind.String()).Set(float64(inv.Count(kind)))
	}
}

var _ sim.Observer = (*Metrics)(nil)

// Handler serves /metrics from gatherer and a /healthz liveness probe.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// Serve runs the metrics endpoint on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           Handler(gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return errors.Wrapf(err, "[metrics.Serve] %s", addr)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), SHUTDOWN_TIMEOUT)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "[metrics.Serve] shutdown")
	}
	return nil
}
