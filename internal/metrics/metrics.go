package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WebhookEvents counts webhook outcomes by result
// (accepted, ignored, duplicate_event, duplicate_scan, error).
var WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "webhook_events_total",
	Help: "Webhook events processed, labelled by outcome.",
}, []string{"result"})

// SnapshotRecomputes counts aggregation runs by trigger (debounce, sweep).
var SnapshotRecomputes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "snapshot_recomputes_total",
	Help: "Snapshot recomputations, labelled by trigger.",
}, []string{"trigger"})

// SSEConnections tracks open streaming connections by stream kind.
var SSEConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "sse_connections",
	Help: "Currently open SSE connections, labelled by stream kind.",
}, []string{"kind"})
