package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"schoolgate/internal/auth"
	"schoolgate/internal/metrics"
	"schoolgate/internal/stats"
)

// ConnTracker counts live SSE connections by stream kind.
type ConnTracker struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewConnTracker creates an empty tracker.
func NewConnTracker() *ConnTracker {
	return &ConnTracker{counts: make(map[string]int)}
}

func (t *ConnTracker) add(kind string) {
	t.mu.Lock()
	t.counts[kind]++
	t.mu.Unlock()
	metrics.SSEConnections.WithLabelValues(kind).Inc()
}

func (t *ConnTracker) remove(kind string) {
	t.mu.Lock()
	t.counts[kind]--
	t.mu.Unlock()
	metrics.SSEConnections.WithLabelValues(kind).Dec()
}

// Stats snapshots the per-kind connection counts.
func (t *ConnTracker) Stats() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}

// StreamHandler serves the SSE endpoints. One goroutine per connection; the
// request context cancels the subscription and heartbeat on disconnect.
type StreamHandler struct {
	bus        Bus
	engine     *stats.Engine
	tracker    *ConnTracker
	log        *zap.Logger
	signingKey string
	issuer     string
	heartbeat  time.Duration
}

// NewStreamHandler wires the SSE layer.
func NewStreamHandler(bus Bus, engine *stats.Engine, tracker *ConnTracker, log *zap.Logger, signingKey, issuer string) *StreamHandler {
	return &StreamHandler{
		bus:        bus,
		engine:     engine,
		tracker:    tracker,
		log:        log,
		signingKey: signingKey,
		issuer:     issuer,
		heartbeat:  30 * time.Second,
	}
}

// Register mounts the stream routes and the admin connection-stats endpoint.
func (h *StreamHandler) Register(r gin.IRouter) {
	r.GET("/v1/schools/:schoolID/events/stream", h.SchoolEvents)
	r.GET("/v1/schools/:schoolID/snapshots/stream", h.SchoolSnapshots)
	r.GET("/v1/schools/:schoolID/classes/:classID/events/stream", h.ClassEvents)
	r.GET("/v1/schools/:schoolID/classes/:classID/snapshots/stream", h.ClassSnapshots)
	r.GET("/v1/admin/events/stream", h.Admin)
	r.GET("/v1/admin/connection-stats", h.ConnectionStats)
}

// authorize validates the token query parameter. EventSource cannot set
// request headers, so streams authenticate by query string only.
func (h *StreamHandler) authorize(c *gin.Context, schoolID string) (auth.Claims, bool) {
	claims, err := auth.Parse(c.Query("token"), h.signingKey, h.issuer)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return auth.Claims{}, false
	}
	if schoolID != "" && claims.Role != auth.RoleSuperAdmin && claims.SchoolID != schoolID {
		c.JSON(http.StatusForbidden, gin.H{"error": "school scope mismatch"})
		return auth.Claims{}, false
	}
	return claims, true
}

// SchoolEvents streams every accepted scan for one school.
func (h *StreamHandler) SchoolEvents(c *gin.Context) {
	schoolID := c.Param("schoolID")
	if _, ok := h.authorize(c, schoolID); !ok {
		return
	}
	h.stream(c, "school_events", TopicAttendance(schoolID), nil, nil)
}

// SchoolSnapshots streams debounced school snapshots, preceded by one
// synchronously computed snapshot so dashboards render without waiting for
// the next write.
func (h *StreamHandler) SchoolSnapshots(c *gin.Context) {
	schoolID := c.Param("schoolID")
	if _, ok := h.authorize(c, schoolID); !ok {
		return
	}
	initial := func() ([]any, error) {
		var payloads []any
		for _, scope := range []stats.Scope{stats.ScopeStarted, stats.ScopeActive} {
			snap, err := h.engine.SchoolSnapshot(c.Request.Context(), schoolID, scope, true)
			if err != nil {
				return nil, err
			}
			payloads = append(payloads, SchoolSnapshotPayload{Type: "school_snapshot", Snapshot: snap})
		}
		return payloads, nil
	}
	h.stream(c, "school_snapshots", TopicSchoolSnapshot(schoolID), initial, nil)
}

// ClassEvents streams accepted scans for students of one class.
func (h *StreamHandler) ClassEvents(c *gin.Context) {
	schoolID := c.Param("schoolID")
	classID := c.Param("classID")
	claims, ok := h.authorize(c, schoolID)
	if !ok {
		return
	}
	if !claims.HasClass(classID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "class scope mismatch"})
		return
	}
	filter := func(data []byte) bool {
		var payload AttendanceEventPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return false
		}
		return payload.Student != nil && payload.Student.ClassID == classID
	}
	h.stream(c, "class_events", TopicAttendance(schoolID), nil, filter)
}

// ClassSnapshots streams debounced class snapshots with a synchronous
// initial snapshot.
func (h *StreamHandler) ClassSnapshots(c *gin.Context) {
	schoolID := c.Param("schoolID")
	classID := c.Param("classID")
	claims, ok := h.authorize(c, schoolID)
	if !ok {
		return
	}
	if !claims.HasClass(classID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "class scope mismatch"})
		return
	}
	initial := func() ([]any, error) {
		var payloads []any
		for _, scope := range []stats.Scope{stats.ScopeStarted, stats.ScopeActive} {
			snap, err := h.engine.ClassSnapshot(c.Request.Context(), schoolID, classID, scope, true)
			if err != nil {
				return nil, err
			}
			if snap == nil {
				continue
			}
			payloads = append(payloads, ClassSnapshotPayload{Type: "class_snapshot", Snapshot: snap})
		}
		return payloads, nil
	}
	h.stream(c, "class_snapshots", TopicClassSnapshot(schoolID, classID), initial, nil)
}

// Admin streams every message across all tenants. Heartbeats on this stream
// carry the current connection counts as a data frame.
func (h *StreamHandler) Admin(c *gin.Context) {
	claims, ok := h.authorize(c, "")
	if !ok {
		return
	}
	if claims.Role != auth.RoleSuperAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin only"})
		return
	}
	h.stream(c, "admin", TopicAdmin, nil, nil)
}

// ConnectionStats reports live SSE connection counts.
func (h *StreamHandler) ConnectionStats(c *gin.Context) {
	claims, ok := h.authorize(c, "")
	if !ok {
		return
	}
	if claims.Role != auth.RoleSuperAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin only"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": h.tracker.Stats()})
}

func (h *StreamHandler) stream(c *gin.Context, kind, topic string, initial func() ([]any, error), filter func([]byte) bool) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	h.tracker.add(kind)
	defer h.tracker.remove(kind)

	sub := h.bus.Subscribe(topic)
	defer sub.Close()

	writeData := func(v any) bool {
		data, err := json.Marshal(v)
		if err != nil {
			h.log.Error("sse: marshal failed", zap.String("kind", kind), zap.Error(err))
			return true
		}
		return h.writeRaw(c, flusher, data)
	}

	if !writeData(gin.H{"type": "connected"}) {
		return
	}
	if initial != nil {
		payloads, err := initial()
		if err != nil {
			h.log.Warn("sse: initial snapshot failed", zap.String("kind", kind), zap.Error(err))
		}
		for _, payload := range payloads {
			if !writeData(payload) {
				return
			}
		}
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	ctx := c.Request.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case data, open := <-sub.C:
			if !open {
				return
			}
			if filter != nil && !filter(data) {
				continue
			}
			if !h.writeRaw(c, flusher, data) {
				return
			}
		case now := <-ticker.C:
			frame := ": heartbeat " + strconv.FormatInt(now.UnixMilli(), 10) + "\n\n"
			if _, err := fmt.Fprint(c.Writer, frame); err != nil {
				return
			}
			flusher.Flush()
			if kind == "admin" {
				if !writeData(gin.H{"type": "connection_stats", "connections": h.tracker.Stats()}) {
					return
				}
			}
		}
	}
}

// writeRaw emits one data frame, reporting false once the client is gone.
func (h *StreamHandler) writeRaw(c *gin.Context, flusher http.Flusher, data []byte) bool {
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
