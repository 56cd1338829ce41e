package fleet

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fleetup/fleetup/pkg/device"
	"github.com/fleetup/fleetup/pkg/report"
)

// Metrics collects per-run counters for export to a node_exporter
// textfile. Each Metrics owns its registry.
type Metrics struct {
	registry *prometheus.Registry

	DeviceTotal    *prometheus.CounterVec
	StepTotal      *prometheus.CounterVec
	DeviceDuration *prometheus.HistogramVec
	LastRun        *prometheus.GaugeVec
}

// NewMetrics creates and registers the fleet metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		DeviceTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetup_devices_total",
				Help: "Devices processed, by operation and final status.",
			},
			[]string{"operation", "status"},
		),
		StepTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetup_upgrade_steps_total",
				Help: "Upgrade steps executed, by step and result.",
			},
			[]string{"step", "result"},
		),
		DeviceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fleetup_device_duration_seconds",
				Help:    "Wall time of one device worker.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
			},
			[]string{"operation"},
		),
		LastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fleetup_last_run_timestamp_seconds",
				Help: "Completion time of the last run, by operation.",
			},
			[]string{"operation"},
		),
	}
	m.registry.MustRegister(m.DeviceTotal, m.StepTotal, m.DeviceDuration, m.LastRun)
	return m
}

// Registry returns the registry holding the fleet metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe records one finished device. Safe for concurrent use.
func (m *Metrics) Observe(kind Kind, rec *report.DeviceRecord) {
	m.DeviceTotal.WithLabelValues(string(kind), deviceLabel(rec)).Inc()
	m.DeviceDuration.WithLabelValues(string(kind)).Observe(rec.Duration.Seconds())
	for _, s := range rec.Steps {
		m.StepTotal.WithLabelValues(s.Step, StepResult(s.Status)).Inc()
	}
}

// ObserveRun records the completion of a run.
func (m *Metrics) ObserveRun(run *report.Run) {
	m.LastRun.WithLabelValues(run.Operation).Set(float64(run.Finished.Unix()))
}

// WriteTextfile writes the registry in text exposition format, atomically
// replacing path.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}

func deviceLabel(rec *report.DeviceRecord) string {
	switch {
	case rec.Failed():
		return "error"
	case rec.Status == "":
		return "unknown"
	}
	return rec.Status
}

// StepResult folds a step status into a bounded label value. Statuses that
// name an image or region all count as "failed".
func StepResult(status string) string {
	switch status {
	case device.StatusDone:
		return "done"
	case device.StatusAlreadyUpgraded:
		return "already_upgraded"
	case string(device.StatusNotInScope):
		return "not_in_scope"
	case device.StatusChecksumMismatch:
		return "checksum_mismatch"
	case device.StatusNoSpace:
		return "no_space"
	case "":
		return "skipped"
	}
	if device.Status(status).Terminal() {
		return "unreachable"
	}
	return "failed"
}
