// Package metrics exposes Prometheus instrumentation for the NTS-KE and NTP
// servers and the key rotator.
//
// All methods follow the nil-receiver pattern: every exported method is safe
// to call on a nil *Metrics, so a server configured without metrics pays no
// overhead and needs no conditional checks at call sites.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every counter/gauge/histogram this module exports.
type Metrics struct {
	KeExchangesTotal   *prometheus.CounterVec
	KeExchangeDuration prometheus.Histogram

	NtpRequestsTotal  *prometheus.CounterVec
	NtpMangledTotal   prometheus.Counter
	NtpKissOfDeathTotal prometheus.Counter

	RotationsTotal  *prometheus.CounterVec
	KeyRingSize     prometheus.Gauge
}

// New creates and registers the module's metrics. Pass nil reg to build an
// unregistered (but still usable) Metrics, e.g. for tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		KeExchangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nts_ke_exchanges_total",
				Help: "Total NTS-KE exchanges by result (success, protocol_error, tls_error)",
			},
			[]string{"result"},
		),
		KeExchangeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nts_ke_exchange_duration_seconds",
				Help:    "NTS-KE exchange duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		NtpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nts_ntp_requests_total",
				Help: "Total NTS-authenticated NTP requests by result (success, kiss_of_death)",
			},
			[]string{"result"},
		),
		NtpMangledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "nts_ntp_mangled_packets_total",
				Help: "Total datagrams dropped for failing to parse as an NTP header",
			},
		),
		NtpKissOfDeathTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "nts_ntp_kiss_of_death_total",
				Help: "Total kiss-of-death responses sent for bad cookies",
			},
		),
		RotationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nts_key_rotations_total",
				Help: "Total key rotation cycles by result (complete, partial)",
			},
			[]string{"result"},
		),
		KeyRingSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "nts_key_ring_size",
				Help: "Current number of epochs held in the key ring",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.KeExchangesTotal,
			m.KeExchangeDuration,
			m.NtpRequestsTotal,
			m.NtpMangledTotal,
			m.NtpKissOfDeathTotal,
			m.RotationsTotal,
			m.KeyRingSize,
		)
	}

	return m
}

// RecordKeExchange is safe to call on a nil receiver.
func (m *Metrics) RecordKeExchange(result string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.KeExchangesTotal.WithLabelValues(result).Inc()
	m.KeExchangeDuration.Observe(durationSeconds)
}

// RecordNtpRequest is safe to call on a nil receiver.
func (m *Metrics) RecordNtpRequest(result string) {
	if m == nil {
		return
	}
	m.NtpRequestsTotal.WithLabelValues(result).Inc()
}

// RecordMangledPacket is safe to call on a nil receiver.
func (m *Metrics) RecordMangledPacket() {
	if m == nil {
		return
	}
	m.NtpMangledTotal.Inc()
}

// RecordKissOfDeath is safe to call on a nil receiver.
func (m *Metrics) RecordKissOfDeath() {
	if m == nil {
		return
	}
	m.NtpKissOfDeathTotal.Inc()
}

// RecordRotation is safe to call on a nil receiver.
func (m *Metrics) RecordRotation(result string) {
	if m == nil {
		return
	}
	m.RotationsTotal.WithLabelValues(result).Inc()
}

// SetKeyRingSize is safe to call on a nil receiver.
func (m *Metrics) SetKeyRingSize(size int) {
	if m == nil {
		return
	}
	m.KeyRingSize.Set(float64(size))
}
