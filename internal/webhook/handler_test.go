package webhook

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"schoolgate/internal/attendance"
	"schoolgate/internal/tenant"
)

func TestParseDirection(t *testing.T) {
	typ, ok := parseDirection("in")
	assert.True(t, ok)
	assert.Equal(t, attendance.EventIn, typ)

	typ, ok = parseDirection("OUT")
	assert.True(t, ok)
	assert.Equal(t, attendance.EventOut, typ)

	_, ok = parseDirection("sideways")
	assert.False(t, ok)
}

func testContext(req *http.Request) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = req
	return c
}

func TestCheckSecret(t *testing.T) {
	school := &tenant.School{ID: "s1", WebhookSecretIn: "in-secret", WebhookSecretOut: "out-secret"}

	h := &Handler{log: zap.NewNop(), secretHeader: "x-webhook-secret"}

	c := testContext(httptest.NewRequest(http.MethodPost, "/webhook/s1/in?secret=in-secret", nil))
	assert.True(t, h.checkSecret(c, school, attendance.EventIn))

	c = testContext(httptest.NewRequest(http.MethodPost, "/webhook/s1/in?secret=wrong", nil))
	assert.False(t, h.checkSecret(c, school, attendance.EventIn))

	// Direction picks the matching secret.
	c = testContext(httptest.NewRequest(http.MethodPost, "/webhook/s1/out?secret=in-secret", nil))
	assert.False(t, h.checkSecret(c, school, attendance.EventOut))

	// Header fallback for firmware that cannot set query strings.
	req := httptest.NewRequest(http.MethodPost, "/webhook/s1/in", nil)
	req.Header.Set("x-webhook-secret", "in-secret")
	assert.True(t, h.checkSecret(testContext(req), school, attendance.EventIn))
}

func TestCheckSecretUnconfigured(t *testing.T) {
	school := &tenant.School{ID: "s1"}

	open := &Handler{log: zap.NewNop(), secretHeader: "x-webhook-secret"}
	c := testContext(httptest.NewRequest(http.MethodPost, "/webhook/s1/in", nil))
	assert.True(t, open.checkSecret(c, school, attendance.EventIn))

	enforced := &Handler{log: zap.NewNop(), secretHeader: "x-webhook-secret", enforce: true}
	assert.False(t, enforced.checkSecret(c, school, attendance.EventIn))
}

func TestExtractBodyJSON(t *testing.T) {
	h := &Handler{log: zap.NewNop()}
	req := httptest.NewRequest(http.MethodPost, "/webhook/s1/in", bytes.NewBufferString(`{"subEventType":75}`))
	req.Header.Set("Content-Type", "application/json")

	raw, err := h.extractBody(testContext(req))
	require.NoError(t, err)
	assert.JSONEq(t, `{"subEventType":75}`, string(raw))
}

func multipartRequest(t *testing.T, field, value string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField(field, value))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/webhook/s1/in", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestExtractBodyMultipartVariants(t *testing.T) {
	h := &Handler{log: zap.NewNop()}
	payload := `{"subEventType":75,"employeeNoString":"1042"}`

	for _, field := range []string{"AccessControllerEvent", "event_log", "event"} {
		raw, err := h.extractBody(testContext(multipartRequest(t, field, payload)))
		require.NoError(t, err, field)
		assert.JSONEq(t, payload, string(raw), field)
	}

	// Unknown field name still works when the value looks like JSON.
	raw, err := h.extractBody(testContext(multipartRequest(t, "whatever", payload)))
	require.NoError(t, err)
	assert.JSONEq(t, payload, string(raw))

	_, err = h.extractBody(testContext(multipartRequest(t, "whatever", "not json")))
	assert.Error(t, err)
}
