// Package telemetry registers the service's Prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "aura_live"

var (
	// OperationCounter counts live-session operations by outcome.
	OperationCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "operation_total",
			Help:      "Live-session operations by type, status and error category.",
		},
		[]string{"type", "status", "error_type"},
	)

	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "room",
		Name:      "active_connections",
		Help:      "Room connections currently held by this process.",
	})

	connectedClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "connected_clients",
		Help:      "Websocket clients connected to the realtime hub.",
	}, []string{"role"})
)

// Success records a successful operation.
func Success(op string) {
	OperationCounter.WithLabelValues(op, "success", "").Inc()
}

// Failure records a failed operation with its error category.
func Failure(op, errorType string) {
	OperationCounter.WithLabelValues(op, "error", errorType).Inc()
}

// ConnectionOpened and ConnectionClosed track room connections held by the manager.
func ConnectionOpened() { activeConnections.Inc() }

func ConnectionClosed() { activeConnections.Dec() }

// ClientConnected and ClientDisconnected track realtime websocket clients.
func ClientConnected(role string) { connectedClients.WithLabelValues(role).Inc() }

func ClientDisconnected(role string) { connectedClients.WithLabelValues(role).Dec() }
