package tenant

import (
	"errors"
	"time"
)

// ErrNotFound reports a lookup against a tenant record that does not exist.
var ErrNotFound = errors.New("tenant: not found")

// School is the tenant record the pipeline consumes. It is read once per
// event and treated as immutable for the duration of that call.
type School struct {
	ID                   string
	Name                 string
	Slug                 string
	Timezone             string
	LateThresholdMinutes int
	AbsenceCutoffMinutes int
	WebhookSecretIn      string
	WebhookSecretOut     string
}

// Class carries the schedule fields the pipeline needs. Times are "HH:mm"
// in the school's local timezone.
type Class struct {
	ID        string
	SchoolID  string
	Name      string
	StartTime string
	EndTime   string
}

// Student is identified on access-control devices by DeviceStudentID.
type Student struct {
	ID              string
	SchoolID        string
	ClassID         *string
	Name            string
	DeviceStudentID string
	IsActive        bool
}

// Device is an access controller. LastSeenAt is refreshed as a side effect
// of event processing.
type Device struct {
	ID         string
	SchoolID   string
	DeviceID   string
	Name       string
	Type       string
	Location   string
	IsActive   bool
	LastSeenAt *time.Time
}
