package metrics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CAN frame results.
const (
	FrameSent    = "sent"
	FrameFailed  = "failed"
	FrameDropped = "dropped"
)

// Metrics holds the monitor's Prometheus collectors.
// All methods are safe to call on a nil *Metrics and then do nothing.
type Metrics struct {
	registry *prometheus.Registry

	pollOutcomes    *prometheus.CounterVec
	transportErrors *prometheus.CounterVec
	canFrames       *prometheus.CounterVec
	overrides       prometheus.Counter

	pressure      *prometheus.GaugeVec
	temperature   *prometheus.GaugeVec
	busVoltage    prometheus.Gauge
	concentration prometheus.Gauge
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pollOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "o2mon_sensor_polls_total",
			Help: "Sensor poll cycles by channel and outcome.",
		}, []string{"channel", "outcome"}),
		transportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "o2mon_transport_errors_total",
			Help: "Transport write/read failures by peripheral.",
		}, []string{"peripheral"}),
		canFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "o2mon_can_frames_total",
			Help: "CAN frames by identifier and result.",
		}, []string{"id", "result"}),
		overrides: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "o2mon_can_overrides_total",
			Help: "Concentration overrides received on the bus.",
		}),
		pressure: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "o2mon_pressure_kpa",
			Help: "Latest pressure per sensor channel.",
		}, []string{"channel"}),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "o2mon_temperature_raw",
			Help: "Latest raw temperature code per sensor channel.",
		}, []string{"channel"}),
		busVoltage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "o2mon_bus_voltage_volts",
			Help: "Latest bus voltage.",
		}),
		concentration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "o2mon_concentration_percent",
			Help: "Latest derived oxygen concentration.",
		}),
	}

	m.registry.MustRegister(
		m.pollOutcomes,
		m.transportErrors,
		m.canFrames,
		m.overrides,
		m.pressure,
		m.temperature,
		m.busVoltage,
		m.concentration,
	)

	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("metrics: shutdown: %v", err)
		}
	}()

	log.Printf("metrics: listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: serve %s: %w", addr, err)
	}
	return nil
}

// PollOutcome counts one sensor poll cycle.
func (m *Metrics) PollOutcome(channel, outcome string) {
	if m == nil {
		return
	}
	m.pollOutcomes.WithLabelValues(channel, outcome).Inc()
}

// TransportError counts one failed transport operation.
func (m *Metrics) TransportError(peripheral string) {
	if m == nil {
		return
	}
	m.transportErrors.WithLabelValues(peripheral).Inc()
}

// CANFrame counts one CAN frame by identifier and result.
func (m *Metrics) CANFrame(id uint32, result string) {
	if m == nil {
		return
	}
	m.canFrames.WithLabelValues(fmt.Sprintf("0x%08X", id), result).Inc()
}

// OverrideReceived counts one received concentration override.
func (m *Metrics) OverrideReceived() {
	if m == nil {
		return
	}
	m.overrides.Inc()
}

// SetPressure records the latest pressure of a sensor channel.
func (m *Metrics) SetPressure(channel string, kpa float32) {
	if m == nil {
		return
	}
	m.pressure.WithLabelValues(channel).Set(float64(kpa))
}

// SetTemperature records the latest raw temperature of a sensor channel.
func (m *Metrics) SetTemperature(channel string, raw int16) {
	if m == nil {
		return
	}
	m.temperature.WithLabelValues(channel).Set(float64(raw))
}

// SetBusVoltage records the latest bus voltage.
func (m *Metrics) SetBusVoltage(volts float32) {
	if m == nil {
		return
	}
	m.busVoltage.Set(float64(volts))
}

// SetConcentration records the latest derived concentration.
func (m *Metrics) SetConcentration(percent float32) {
	if m == nil {
		return
	}
	m.concentration.Set(float64(percent))
}
