package attendance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// faceMatchSubEventType is the access-controller sub-event code for a
// successful face recognition. Everything else (card swipes, tamper alarms,
// door state changes) is ignored.
const faceMatchSubEventType = 75

// accessControllerEvent mirrors the device payload. Hikvision-style
// controllers nest the interesting fields one level down: the outer object
// carries dateTime/deviceID, the inner AccessControllerEvent carries
// subEventType/employeeNoString.
type accessControllerEvent struct {
	SubEventType     int                    `json:"subEventType"`
	EmployeeNoString string                 `json:"employeeNoString"`
	DeviceID         string                 `json:"deviceID"`
	DateTime         string                 `json:"dateTime"`
	Name             string                 `json:"name"`
	Inner            *accessControllerEvent `json:"AccessControllerEvent"`
}

// NormalizedEvent is a device payload reduced to the fields the pipeline uses.
type NormalizedEvent struct {
	EmployeeNo       string
	DeviceExternalID string
	DateTime         string
	StudentName      string
	Raw              json.RawMessage
}

// Normalize parses a raw device payload. It returns ok=false for anything
// that is not a complete face-match record; such payloads are acknowledged
// and dropped by the caller, never retried.
func Normalize(raw []byte) (*NormalizedEvent, bool) {
	var outer accessControllerEvent
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, false
	}

	inner := &outer
	if outer.Inner != nil {
		inner = outer.Inner
	}

	if inner.SubEventType != faceMatchSubEventType {
		return nil, false
	}

	employeeNo := inner.EmployeeNoString
	deviceID := firstNonEmpty(outer.DeviceID, inner.DeviceID)
	dateTime := firstNonEmpty(outer.DateTime, inner.DateTime)
	if employeeNo == "" || deviceID == "" || dateTime == "" {
		return nil, false
	}

	return &NormalizedEvent{
		EmployeeNo:       employeeNo,
		DeviceExternalID: deviceID,
		DateTime:         dateTime,
		StudentName:      inner.Name,
		Raw:              json.RawMessage(raw),
	}, true
}

// EventKey derives the idempotency key identifying one physical scan.
// Re-delivery of a byte-identical payload produces the same key and collides
// on the event log's unique index.
func EventKey(deviceExternalID, employeeNo, dateTime, direction string) string {
	sum := sha256.Sum256([]byte(deviceExternalID + ":" + employeeNo + ":" + dateTime + ":" + direction))
	return hex.EncodeToString(sum[:])
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
