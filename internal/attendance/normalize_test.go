package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeFlatPayload(t *testing.T) {
	raw := []byte(`{
		"subEventType": 75,
		"employeeNoString": "1042",
		"deviceID": "gate-1",
		"dateTime": "2026-03-02T08:05:00+05:30",
		"name": "Asha"
	}`)

	norm, ok := Normalize(raw)
	require.True(t, ok)
	assert.Equal(t, "1042", norm.EmployeeNo)
	assert.Equal(t, "gate-1", norm.DeviceExternalID)
	assert.Equal(t, "2026-03-02T08:05:00+05:30", norm.DateTime)
	assert.Equal(t, "Asha", norm.StudentName)
}

func TestNormalizeNestedEnvelope(t *testing.T) {
	raw := []byte(`{
		"dateTime": "2026-03-02T08:05:00+05:30",
		"deviceID": "gate-1",
		"AccessControllerEvent": {
			"subEventType": 75,
			"employeeNoString": "1042",
			"name": "Asha"
		}
	}`)

	norm, ok := Normalize(raw)
	require.True(t, ok)
	assert.Equal(t, "1042", norm.EmployeeNo)
	assert.Equal(t, "gate-1", norm.DeviceExternalID)
}

func TestNormalizeRejectsNonFaceMatch(t *testing.T) {
	raw := []byte(`{"subEventType": 21, "employeeNoString": "1042", "deviceID": "gate-1", "dateTime": "2026-03-02T08:05:00Z"}`)
	_, ok := Normalize(raw)
	assert.False(t, ok)
}

func TestNormalizeRejectsIncomplete(t *testing.T) {
	cases := map[string]string{
		"no employee": `{"subEventType": 75, "deviceID": "gate-1", "dateTime": "2026-03-02T08:05:00Z"}`,
		"no device":   `{"subEventType": 75, "employeeNoString": "1042", "dateTime": "2026-03-02T08:05:00Z"}`,
		"no time":     `{"subEventType": 75, "employeeNoString": "1042", "deviceID": "gate-1"}`,
		"not json":    `heartbeat`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, ok := Normalize([]byte(raw))
			assert.False(t, ok)
		})
	}
}

func TestEventKeyDeterministic(t *testing.T) {
	a := EventKey("gate-1", "1042", "2026-03-02T08:05:00Z", "IN")
	b := EventKey("gate-1", "1042", "2026-03-02T08:05:00Z", "IN")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	assert.NotEqual(t, a, EventKey("gate-1", "1042", "2026-03-02T08:05:00Z", "OUT"))
	assert.NotEqual(t, a, EventKey("gate-2", "1042", "2026-03-02T08:05:00Z", "IN"))
}

func TestParseEventTimeFormats(t *testing.T) {
	zone, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	withOffset, ok := ParseEventTime("2026-03-02T08:05:00+05:30", zone)
	require.True(t, ok)

	bare, ok := ParseEventTime("2026-03-02T08:05:00", zone)
	require.True(t, ok)
	assert.True(t, withOffset.Equal(bare))

	spaced, ok := ParseEventTime("2026-03-02 08:05:00", zone)
	require.True(t, ok)
	assert.True(t, withOffset.Equal(spaced))

	_, ok = ParseEventTime("yesterday", zone)
	assert.False(t, ok)
}

func TestDateOnlyInZone(t *testing.T) {
	zone, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	// 23:30 UTC is already the next morning in Kolkata.
	at := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), DateOnlyInZone(at, zone))
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), DateOnlyInZone(at, time.UTC))
}

func TestParseHHMM(t *testing.T) {
	m, ok := ParseHHMM("08:30")
	assert.True(t, ok)
	assert.Equal(t, 510, m)

	for _, bad := range []string{"", "8", "25:00", "08:75", "ab:cd"} {
		_, ok := ParseHHMM(bad)
		assert.False(t, ok, bad)
	}
}
