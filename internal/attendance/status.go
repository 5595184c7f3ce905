package attendance

// EffectiveStatus is the status a read path reports: either the stored
// status or a time-based projection when no scan exists yet.
type EffectiveStatus string

const (
	EffectivePresent      EffectiveStatus = "PRESENT"
	EffectiveLate         EffectiveStatus = "LATE"
	EffectiveAbsent       EffectiveStatus = "ABSENT"
	EffectiveExcused      EffectiveStatus = "EXCUSED"
	EffectivePendingEarly EffectiveStatus = "PENDING_EARLY"
	EffectivePendingLate  EffectiveStatus = "PENDING_LATE"
)

// Project computes the effective status for one student. Pure: all read
// paths must call it with minute values normalized to the tenant's zone so
// list views and dashboards never disagree.
//
// A stored status passes through untouched. Without one: PENDING_EARLY
// before class start (or when the schedule is unknown), PENDING_LATE inside
// the cutoff window, ABSENT once the cutoff has elapsed.
func Project(stored *Status, classStartTime string, absenceCutoffMinutes, nowMinutes int) EffectiveStatus {
	if stored != nil {
		return EffectiveStatus(*stored)
	}

	startMinutes, ok := ParseHHMM(classStartTime)
	if !ok {
		return EffectivePendingEarly
	}
	if nowMinutes < startMinutes {
		return EffectivePendingEarly
	}
	if nowMinutes < startMinutes+absenceCutoffMinutes {
		return EffectivePendingLate
	}
	return EffectiveAbsent
}

// ClassWindow is the schedule slice of a class used by scope and no-scan math.
type ClassWindow struct {
	ID        string
	StartTime string
	EndTime   string
}

// NoScanSplit buckets students that have no scan today.
type NoScanSplit struct {
	PendingEarly int
	PendingLate  int
	Absent       int
}

// SplitNoScan distributes each class's not-yet-arrived remainder
// (enrolled - attended) into pending/absent buckets using the same
// start/cutoff comparison as Project.
func SplitNoScan(classes []ClassWindow, enrolled, attended map[string]int, absenceCutoffMinutes, nowMinutes int) NoScanSplit {
	var split NoScanSplit
	for _, cls := range classes {
		notArrived := enrolled[cls.ID] - attended[cls.ID]
		if notArrived <= 0 {
			continue
		}

		startMinutes, ok := ParseHHMM(cls.StartTime)
		if !ok {
			split.PendingEarly += notArrived
			continue
		}
		switch {
		case nowMinutes < startMinutes:
			split.PendingEarly += notArrived
		case nowMinutes < startMinutes+absenceCutoffMinutes:
			split.PendingLate += notArrived
		default:
			split.Absent += notArrived
		}
	}
	return split
}

// StartedClassIDs returns classes whose schedule has begun. Classes without
// a parseable start time count as started so they are never invisible on
// the started scope.
func StartedClassIDs(classes []ClassWindow, nowMinutes int) []string {
	var started []string
	for _, cls := range classes {
		startMinutes, ok := ParseHHMM(cls.StartTime)
		if !ok || nowMinutes >= startMinutes {
			started = append(started, cls.ID)
		}
	}
	return started
}

// ActiveClassIDs returns started classes still inside
// [start, max(end, start+cutoff)). Schedule-less classes are never active.
func ActiveClassIDs(classes []ClassWindow, nowMinutes, absenceCutoffMinutes int) []string {
	var active []string
	for _, cls := range classes {
		startMinutes, ok := ParseHHMM(cls.StartTime)
		if !ok {
			continue
		}
		end := startMinutes
		if endMinutes, ok := ParseHHMM(cls.EndTime); ok {
			end = endMinutes
		}
		if cutoffEnd := startMinutes + absenceCutoffMinutes; cutoffEnd > end {
			end = cutoffEnd
		}
		if nowMinutes >= startMinutes && nowMinutes < end {
			active = append(active, cls.ID)
		}
	}
	return active
}

// AttendancePercent reports (present+late)/total as a rounded percentage.
func AttendancePercent(present, late, total int) int {
	if total <= 0 {
		return 0
	}
	return int(float64(present+late)/float64(total)*100 + 0.5)
}
