package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"lancast/internal/core/domain"
)

type PrometheusCollector struct {
	// Engine side
	packetsSentTotal     *prometheus.CounterVec
	packetsReceivedTotal *prometheus.CounterVec
	bytesSentTotal       prometheus.Counter
	bytesReceivedTotal   prometheus.Counter
	framesLostTotal      prometheus.Counter
	framesRecoveredTotal prometheus.Counter
	sessionStatus        *prometheus.GaugeVec
	devicesDiscovered    prometheus.Gauge

	// Relay side
	relayStreamsActive     prometheus.Gauge
	relaySubscriberCount   *prometheus.GaugeVec
	relayForwardedBytes    *prometheus.CounterVec
	relayHandshakesTotal   *prometheus.CounterVec
	relayAuthFailuresTotal prometheus.Counter
}

func NewPrometheusCollector() *PrometheusCollector {
	return NewPrometheusCollectorWith(prometheus.DefaultRegisterer)
}

// NewPrometheusCollectorWith registers the metrics on a caller-owned
// registry.
func NewPrometheusCollectorWith(reg prometheus.Registerer) *PrometheusCollector {
	promauto := promauto.With(reg)
	return &PrometheusCollector{
		packetsSentTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lancast_packets_sent_total",
			Help: "Total packets written to the transport",
		}, []string{"stream"}),

		packetsReceivedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lancast_packets_received_total",
			Help: "Total packets read from the transport",
		}, []string{"stream"}),

		bytesSentTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lancast_bytes_sent_total",
			Help: "Total payload bytes sent",
		}),

		bytesReceivedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lancast_bytes_received_total",
			Help: "Total payload bytes received",
		}),

		framesLostTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lancast_frames_lost_total",
			Help: "Frames declared unrecoverable by the reassembly window",
		}),

		framesRecoveredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lancast_fragments_recovered_total",
			Help: "Fragments repaired from parity packets",
		}),

		sessionStatus: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lancast_session_status",
			Help: "Current session state, one-hot across status labels",
		}, []string{"status"}),

		devicesDiscovered: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lancast_devices_discovered",
			Help: "Peers currently present in the discovery table",
		}),

		relayStreamsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lancast_relay_streams_active",
			Help: "Streams with a live publisher on this relay",
		}),

		relaySubscriberCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lancast_relay_subscribers",
			Help: "Subscribers attached to each relayed stream",
		}, []string{"stream_id"}),

		relayForwardedBytes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lancast_relay_forwarded_bytes_total",
			Help: "Bytes forwarded from publishers to subscribers",
		}, []string{"stream_id"}),

		relayHandshakesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lancast_relay_handshakes_total",
			Help: "Stream handshakes by role and outcome",
		}, []string{"role", "outcome"}),

		relayAuthFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lancast_relay_auth_failures_total",
			Help: "Publisher handshakes rejected for bad credentials",
		}),
	}
}

func (p *PrometheusCollector) RecordPacketSent(streamID uint8, payloadBytes int) {
	p.packetsSentTotal.WithLabelValues(streamLabel(streamID)).Inc()
	p.bytesSentTotal.Add(float64(payloadBytes))
}

func (p *PrometheusCollector) RecordPacketReceived(streamID uint8, payloadBytes int) {
	p.packetsReceivedTotal.WithLabelValues(streamLabel(streamID)).Inc()
	p.bytesReceivedTotal.Add(float64(payloadBytes))
}

func (p *PrometheusCollector) RecordFramesLost(n uint64) {
	p.framesLostTotal.Add(float64(n))
}

func (p *PrometheusCollector) RecordFragmentsRecovered(n uint64) {
	p.framesRecoveredTotal.Add(float64(n))
}

// RecordSessionStatus keeps the status gauge one-hot so dashboards can
// read the current state directly.
func (p *PrometheusCollector) RecordSessionStatus(status domain.Status) {
	for _, s := range []domain.Status{domain.StatusIdle, domain.StatusSending, domain.StatusReceiving} {
		value := 0.0
		if s == status {
			value = 1.0
		}
		p.sessionStatus.WithLabelValues(string(s)).Set(value)
	}
}

func (p *PrometheusCollector) RecordDevicesDiscovered(count int) {
	p.devicesDiscovered.Set(float64(count))
}

func (p *PrometheusCollector) RecordStreamPublished(streamID domain.StreamID) {
	p.relayStreamsActive.Inc()
}

func (p *PrometheusCollector) RecordStreamEnded(streamID domain.StreamID) {
	p.relayStreamsActive.Dec()
	p.relaySubscriberCount.DeleteLabelValues(string(streamID))
	p.relayForwardedBytes.DeleteLabelValues(string(streamID))
}

func (p *PrometheusCollector) RecordSubscriberAttached(streamID domain.StreamID) {
	p.relaySubscriberCount.WithLabelValues(string(streamID)).Inc()
}

func (p *PrometheusCollector) RecordSubscriberDetached(streamID domain.StreamID) {
	p.relaySubscriberCount.WithLabelValues(string(streamID)).Dec()
}

func (p *PrometheusCollector) RecordForwardedBytes(streamID domain.StreamID, n int) {
	p.relayForwardedBytes.WithLabelValues(string(streamID)).Add(float64(n))
}

func (p *PrometheusCollector) RecordHandshake(publisher bool, outcome string) {
	role := "subscriber"
	if publisher {
		role = "publisher"
	}
	p.relayHandshakesTotal.WithLabelValues(role, outcome).Inc()
}

func (p *PrometheusCollector) RecordAuthFailure() {
	p.relayAuthFailuresTotal.Inc()
}

func streamLabel(streamID uint8) string {
	if streamID == 0 {
		return "video"
	}
	return "audio"
}
