package attendance

import (
	"math"
	"time"
)

// Session lengths at or above this bound are treated as clock skew or a
// missed boundary event and excluded from time-on-premises.
const maxSessionMinutes = 720

// Status reasons recorded with a transition for audit logging.
const (
	ReasonPresent        = "present"
	ReasonLateThreshold  = "late_threshold"
	ReasonAbsentCutoff   = "absent_cutoff"
	ReasonExistingAbsent = "existing_absent"
)

// TransitionInput is one scan evaluated against the student's current daily
// row. EventMinutes is the scan time as minutes from tenant-local midnight.
type TransitionInput struct {
	Existing             *DailyRecord
	Type                 EventType
	EventTime            time.Time
	EventMinutes         int
	ClassStartTime       string
	LateThresholdMinutes int
	AbsenceCutoffMinutes int
	MinScanInterval      time.Duration
}

// TransitionOutcome is the state-machine step result. When Suppressed is
// set nothing may be persisted, including the event row.
type TransitionOutcome struct {
	Suppressed   bool
	Created      bool
	Row          DailyRecord
	StatusReason string
}

// ApplyTransition advances the per-(student, date) state machine by one
// event. Pure: callers persist Row inside the same transaction that read
// Existing.
func ApplyTransition(in TransitionInput) TransitionOutcome {
	if in.Existing == nil {
		return createRecord(in)
	}
	if suppressed(in) {
		return TransitionOutcome{Suppressed: true, Row: *in.Existing}
	}
	return updateRecord(in)
}

// suppressed applies the same-direction scan-interval rule that keeps a
// flapping door sensor from creating spurious session boundaries.
func suppressed(in TransitionInput) bool {
	ex := in.Existing
	if in.Type == EventIn && ex.CurrentlyInSchool && ex.LastInTime != nil {
		return in.EventTime.Sub(*ex.LastInTime) < in.MinScanInterval
	}
	if in.Type == EventOut && !ex.CurrentlyInSchool && ex.LastOutTime != nil {
		return in.EventTime.Sub(*ex.LastOutTime) < in.MinScanInterval
	}
	return false
}

func createRecord(in TransitionInput) TransitionOutcome {
	t := in.EventTime
	row := DailyRecord{
		LastScanTime: &t,
		ScanCount:    1,
	}

	status := StatusPresent
	reason := ReasonPresent
	var lateMinutes *int

	if in.Type == EventIn {
		if startMinutes, ok := ParseHHMM(in.ClassStartTime); ok {
			status, lateMinutes, reason = classify(in.EventMinutes-startMinutes, in.LateThresholdMinutes, in.AbsenceCutoffMinutes)
		}
		row.FirstScanTime = &t
		row.LastInTime = &t
		row.CurrentlyInSchool = true
	} else {
		// Accepted but anomalous: the student left before any recorded entry.
		notes := "OUT before first IN"
		row.Notes = &notes
		row.LastOutTime = &t
	}

	row.Status = &status
	row.LateMinutes = lateMinutes
	return TransitionOutcome{Created: true, Row: row, StatusReason: reason}
}

func updateRecord(in TransitionInput) TransitionOutcome {
	t := in.EventTime
	row := *in.Existing
	row.LastScanTime = &t
	row.ScanCount++

	var reason string

	if in.Type == EventIn {
		if row.FirstScanTime == nil {
			if startMinutes, ok := ParseHHMM(in.ClassStartTime); ok {
				if row.Status != nil && *row.Status == StatusAbsent {
					// Monotonic-absent: arrival after the cutoff job (or a
					// prior cutoff classification) is recorded as scan
					// activity but never upgrades the day.
					reason = ReasonExistingAbsent
					row.LateMinutes = nil
				} else {
					status, lateMinutes, r := classify(in.EventMinutes-startMinutes, in.LateThresholdMinutes, in.AbsenceCutoffMinutes)
					row.Status = &status
					row.LateMinutes = lateMinutes
					reason = r
				}
			}
			row.FirstScanTime = &t
		}
		row.LastInTime = &t
		row.CurrentlyInSchool = true
	} else {
		if row.CurrentlyInSchool && row.LastInTime != nil {
			session := int(math.Round(t.Sub(*row.LastInTime).Minutes()))
			if session > 0 && session < maxSessionMinutes {
				row.TotalTimeMinutes += session
			}
		}
		row.LastOutTime = &t
		row.CurrentlyInSchool = false
	}

	return TransitionOutcome{Row: row, StatusReason: reason}
}

// classify maps minutes-past-class-start onto a stored status.
func classify(diffMinutes, lateThreshold, absenceCutoff int) (Status, *int, string) {
	switch {
	case diffMinutes >= absenceCutoff:
		return StatusAbsent, nil, ReasonAbsentCutoff
	case diffMinutes >= lateThreshold:
		late := diffMinutes - lateThreshold
		return StatusLate, &late, ReasonLateThreshold
	default:
		return StatusPresent, nil, ReasonPresent
	}
}
