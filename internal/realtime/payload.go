package realtime

import (
	"schoolgate/internal/attendance"
	"schoolgate/internal/stats"
)

// StudentRef is the student identity attached to a live event message.
type StudentRef struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ClassID   string `json:"classId,omitempty"`
	ClassName string `json:"className,omitempty"`
}

// AttendanceEventPayload is one accepted scan as pushed to subscribers.
type AttendanceEventPayload struct {
	Type     string             `json:"type"`
	SchoolID string             `json:"schoolId"`
	Event    *attendance.Event  `json:"event"`
	Student  *StudentRef        `json:"student,omitempty"`
	Status   *attendance.Status `json:"status,omitempty"`
}

// SchoolSnapshotPayload wraps a school snapshot for the wire.
type SchoolSnapshotPayload struct {
	Type     string                `json:"type"`
	Snapshot *stats.SchoolSnapshot `json:"snapshot"`
}

// ClassSnapshotPayload wraps a class snapshot for the wire.
type ClassSnapshotPayload struct {
	Type     string               `json:"type"`
	Snapshot *stats.ClassSnapshot `json:"snapshot"`
}
