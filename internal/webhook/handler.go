package webhook

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"schoolgate/internal/attendance"
	"schoolgate/internal/metrics"
	"schoolgate/internal/tenant"
)

// Form field names used by different device firmware revisions for the
// event JSON inside a multipart POST.
var eventFieldNames = []string{"AccessControllerEvent", "event_log", "event"}

// Picture part names seen in the wild.
var pictureFieldNames = []string{"Picture", "picture"}

// Handler terminates device webhook posts.
type Handler struct {
	tenants      *tenant.Repository
	svc          *Service
	log          *zap.Logger
	enforce      bool
	secretHeader string
	uploadsDir   string
}

// NewHandler wires the webhook ingress.
func NewHandler(tenants *tenant.Repository, svc *Service, log *zap.Logger, enforce bool, secretHeader, uploadsDir string) *Handler {
	return &Handler{
		tenants:      tenants,
		svc:          svc,
		log:          log,
		enforce:      enforce,
		secretHeader: secretHeader,
		uploadsDir:   uploadsDir,
	}
}

// Register mounts the webhook route.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/webhook/:school/:direction", h.Handle)
}

// Handle accepts one device POST. The device firmware retries on non-2xx,
// so every per-event rejection after authentication answers 200 with a
// status body; only infrastructure failures surface as 5xx.
func (h *Handler) Handle(c *gin.Context) {
	direction, ok := parseDirection(c.Param("direction"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown direction"})
		return
	}

	school, err := h.tenants.ResolveSchool(c.Request.Context(), c.Param("school"))
	if err != nil {
		h.log.Error("school resolve failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if school == nil {
		metrics.WebhookEvents.WithLabelValues("unknown_school").Inc()
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown school"})
		return
	}

	if !h.checkSecret(c, school, direction) {
		metrics.WebhookEvents.WithLabelValues("bad_secret").Inc()
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid webhook secret"})
		return
	}

	raw, err := h.extractBody(c)
	if err != nil {
		h.log.Warn("webhook body read failed", zap.String("school_id", school.ID), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"ok": true, "ignored": true, "reason": "unreadable body"})
		return
	}

	norm, ok := attendance.Normalize(raw)
	if !ok {
		// Heartbeats, door alarms, card swipes. Acknowledged so the device
		// does not queue them for redelivery.
		metrics.WebhookEvents.WithLabelValues("ignored").Inc()
		h.log.Debug("webhook payload ignored",
			zap.String("school_id", school.ID), zap.Int("bytes", len(raw)))
		c.JSON(http.StatusOK, gin.H{"ok": true, "ignored": true})
		return
	}

	res, err := h.svc.HandleEvent(c.Request.Context(), school, direction, norm)
	if err != nil {
		if errors.Is(err, ErrBadTimestamp) {
			c.JSON(http.StatusOK, gin.H{"ok": true, "ignored": true, "reason": "bad timestamp"})
			return
		}
		h.log.Error("event processing failed", zap.String("school_id", school.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "processing failed"})
		return
	}

	body := gin.H{"ok": true, "result": string(res.Kind)}
	if res.Event != nil {
		body["event"] = res.Event
	}
	c.JSON(http.StatusOK, body)
}

// checkSecret compares the configured per-direction secret against the query
// parameter or header. A school with no secret configured accepts anything
// unless enforcement is on.
func (h *Handler) checkSecret(c *gin.Context, school *tenant.School, direction attendance.EventType) bool {
	expected := school.WebhookSecretIn
	if direction == attendance.EventOut {
		expected = school.WebhookSecretOut
	}
	if expected == "" {
		return !h.enforce
	}
	provided := c.Query("secret")
	if provided == "" {
		provided = c.GetHeader(h.secretHeader)
	}
	return provided == expected
}

// extractBody returns the event JSON from either a multipart form or a plain
// JSON body. A Picture part, when present, is persisted as a side effect.
func (h *Handler) extractBody(c *gin.Context) ([]byte, error) {
	contentType := c.ContentType()
	if !strings.HasPrefix(contentType, "multipart/") {
		return io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	}

	form, err := c.MultipartForm()
	if err != nil {
		return nil, err
	}

	for _, name := range pictureFieldNames {
		if files := form.File[name]; len(files) > 0 {
			h.savePicture(files[0])
			break
		}
	}

	for _, name := range eventFieldNames {
		if vals := form.Value[name]; len(vals) > 0 && vals[0] != "" {
			return []byte(vals[0]), nil
		}
	}
	// Some firmware posts the JSON as the only unnamed field.
	for _, vals := range form.Value {
		if len(vals) > 0 && strings.HasPrefix(strings.TrimSpace(vals[0]), "{") {
			return []byte(vals[0]), nil
		}
	}
	return nil, errors.New("no event field in multipart form")
}

// savePicture writes the face capture to the uploads directory. Failures are
// logged and ignored; the scan itself matters more than its snapshot.
func (h *Handler) savePicture(file *multipart.FileHeader) {
	if h.uploadsDir == "" {
		return
	}
	if err := os.MkdirAll(h.uploadsDir, 0o755); err != nil {
		h.log.Warn("uploads dir create failed", zap.Error(err))
		return
	}
	src, err := file.Open()
	if err != nil {
		h.log.Warn("picture open failed", zap.Error(err))
		return
	}
	defer src.Close()

	name := time.Now().UTC().Format("20060102T150405") + "-" + uuid.NewString() + ".jpg"
	dst, err := os.Create(filepath.Join(h.uploadsDir, name))
	if err != nil {
		h.log.Warn("picture create failed", zap.Error(err))
		return
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		h.log.Warn("picture write failed", zap.Error(err))
	}
}

func parseDirection(s string) (attendance.EventType, bool) {
	switch strings.ToLower(s) {
	case "in":
		return attendance.EventIn, true
	case "out":
		return attendance.EventOut, true
	default:
		return "", false
	}
}
