// Package metrics exposes Prometheus collectors for the game server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "dotgame"

// Broadcast delivery results.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// Metrics holds the server's collectors. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	sessionsActive    *prometheus.GaugeVec
	playersActive     prometheus.Gauge
	pointsStored      prometheus.Gauge
	packetsReceived   *prometheus.CounterVec
	packetsMalformed  prometheus.Counter
	broadcastWrites   *prometheus.CounterVec
	sessionsTotal     *prometheus.CounterVec
	bytesReceived     prometheus.Counter
	colorStoreErrors  prometheus.Counter
	disconnectsPurged prometheus.Counter
}

// New registers the collectors with reg under namespace. An empty namespace
// selects DefaultNamespace.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Metrics{
		sessionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Open client connections by transport",
		}, []string{"transport"}),

		playersActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "players_active",
			Help:      "Sessions that have announced a username",
		}),

		pointsStored: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "points_stored",
			Help:      "Points currently held in the shared list",
		}),

		packetsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Decoded packets received from clients by event kind",
		}, []string{"kind"}),

		packetsMalformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_malformed_total",
			Help:      "Packets dropped because they could not be decoded",
		}),

		broadcastWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_writes_total",
			Help:      "Per-peer packet writes performed by broadcasts",
		}, []string{"result"}),

		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Connections accepted by transport",
		}, []string{"transport"}),

		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Raw bytes read from client connections",
		}),

		colorStoreErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "color_store_errors_total",
			Help:      "Failures of the color memory backend",
		}),

		disconnectsPurged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_purged_total",
			Help:      "Points removed because their owner disconnected",
		}),
	}
}

// SessionOpened records a new connection on transport.
func (m *Metrics) SessionOpened(transport string) {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues(transport).Inc()
	m.sessionsActive.WithLabelValues(transport).Inc()
}

// SessionClosed records a connection ending on transport.
func (m *Metrics) SessionClosed(transport string) {
	if m == nil {
		return
	}
	m.sessionsActive.WithLabelValues(transport).Dec()
}

// SetPlayers sets the number of identified sessions.
func (m *Metrics) SetPlayers(n int) {
	if m == nil {
		return
	}
	m.playersActive.Set(float64(n))
}

// SetPoints sets the size of the shared point list.
func (m *Metrics) SetPoints(n int) {
	if m == nil {
		return
	}
	m.pointsStored.Set(float64(n))
}

// PacketReceived counts one decoded packet of the given kind.
func (m *Metrics) PacketReceived(kind string) {
	if m == nil {
		return
	}
	m.packetsReceived.WithLabelValues(kind).Inc()
}

// PacketMalformed counts one dropped packet.
func (m *Metrics) PacketMalformed() {
	if m == nil {
		return
	}
	m.packetsMalformed.Inc()
}

// BytesReceived adds n raw bytes read.
func (m *Metrics) BytesReceived(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesReceived.Add(float64(n))
}

// BroadcastWrites counts delivered and failed per-peer writes.
func (m *Metrics) BroadcastWrites(delivered, failed int) {
	if m == nil {
		return
	}
	m.broadcastWrites.WithLabelValues(ResultOK).Add(float64(delivered))
	m.broadcastWrites.WithLabelValues(ResultFailed).Add(float64(failed))
}

// ColorStoreError counts one failure of the color memory.
func (m *Metrics) ColorStoreError() {
	if m == nil {
		return
	}
	m.colorStoreErrors.Inc()
}

// PointsPurged adds n points removed on disconnect.
func (m *Metrics) PointsPurged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.disconnectsPurged.Add(float64(n))
}
