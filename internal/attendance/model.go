package attendance

import "time"

// EventType is the scan direction derived from the webhook route.
type EventType string

const (
	EventIn  EventType = "IN"
	EventOut EventType = "OUT"
)

// Status is a stored daily attendance status. The daily row's status stays
// NULL until the first accepted scan (or the cutoff job) sets it.
type Status string

const (
	StatusPresent Status = "PRESENT"
	StatusLate    Status = "LATE"
	StatusAbsent  Status = "ABSENT"
	StatusExcused Status = "EXCUSED"
)

// Event is one accepted scan in the append-only event log.
type Event struct {
	ID         string     `json:"id"`
	EventKey   string     `json:"-"`
	StudentID  *string    `json:"studentId"`
	SchoolID   string     `json:"schoolId"`
	DeviceID   *string    `json:"deviceId,omitempty"`
	Type       EventType  `json:"eventType"`
	Timestamp  time.Time  `json:"timestamp"`
	RawPayload []byte     `json:"-"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// DailyRecord is the per-(student, date) state machine row. Date is the
// tenant-local calendar day stored as UTC midnight.
type DailyRecord struct {
	ID                string
	StudentID         string
	SchoolID          string
	Date              time.Time
	Status            *Status
	FirstScanTime     *time.Time
	LastScanTime      *time.Time
	LastInTime        *time.Time
	LastOutTime       *time.Time
	CurrentlyInSchool bool
	ScanCount         int
	LateMinutes       *int
	TotalTimeMinutes  int
	Notes             *string
}
