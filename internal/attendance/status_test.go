package attendance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProjectStoredStatusPassesThrough(t *testing.T) {
	for _, stored := range []Status{StatusPresent, StatusLate, StatusAbsent, StatusExcused} {
		s := stored
		assert.Equal(t, EffectiveStatus(stored), Project(&s, "08:00", 60, 600))
	}
}

func TestProjectNoScan(t *testing.T) {
	cases := []struct {
		name       string
		nowMinutes int
		want       EffectiveStatus
	}{
		{"before start", 7 * 60, EffectivePendingEarly},
		{"at start", 8 * 60, EffectivePendingLate},
		{"inside cutoff", 8*60 + 59, EffectivePendingLate},
		{"at cutoff", 9 * 60, EffectiveAbsent},
		{"after cutoff", 11 * 60, EffectiveAbsent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Project(nil, "08:00", 60, tc.nowMinutes))
		})
	}
}

func TestProjectUnknownSchedule(t *testing.T) {
	assert.Equal(t, EffectivePendingEarly, Project(nil, "", 60, 23*60))
	assert.Equal(t, EffectivePendingEarly, Project(nil, "late-ish", 60, 23*60))
}

func TestSplitNoScan(t *testing.T) {
	classes := []ClassWindow{
		{ID: "a", StartTime: "08:00"},
		{ID: "b", StartTime: "10:00"},
		{ID: "c", StartTime: "06:00"},
		{ID: "u"},
	}
	enrolled := map[string]int{"a": 10, "b": 5, "c": 8, "u": 2}
	attended := map[string]int{"a": 6, "c": 8}

	// 08:30: a inside cutoff, b not started, c past cutoff (but fully arrived).
	split := SplitNoScan(classes, enrolled, attended, 60, 8*60+30)
	assert.Equal(t, 4, split.PendingLate)
	assert.Equal(t, 7, split.PendingEarly) // b's 5 plus the schedule-less 2
	assert.Equal(t, 0, split.Absent)

	// 12:00: every scheduled class past cutoff.
	split = SplitNoScan(classes, enrolled, attended, 60, 12*60)
	assert.Equal(t, 9, split.Absent)
	assert.Equal(t, 2, split.PendingEarly)
}

func TestStartedClassIDs(t *testing.T) {
	classes := []ClassWindow{
		{ID: "a", StartTime: "08:00"},
		{ID: "b", StartTime: "10:00"},
		{ID: "u"},
	}
	assert.ElementsMatch(t, []string{"a", "u"}, StartedClassIDs(classes, 9*60))
	assert.ElementsMatch(t, []string{"u"}, StartedClassIDs(classes, 7*60))
}

func TestActiveClassIDs(t *testing.T) {
	classes := []ClassWindow{
		{ID: "a", StartTime: "08:00", EndTime: "09:00"},
		{ID: "short", StartTime: "08:00", EndTime: "08:10"},
		{ID: "u"},
	}

	// The cutoff extends a window that ends before start+cutoff.
	assert.ElementsMatch(t, []string{"a", "short"}, ActiveClassIDs(classes, 8*60+30, 60))
	assert.Empty(t, ActiveClassIDs(classes, 9*60, 60))
	assert.Empty(t, ActiveClassIDs(classes, 7*60, 60))
}

func TestAttendancePercent(t *testing.T) {
	assert.Equal(t, 0, AttendancePercent(0, 0, 0))
	assert.Equal(t, 100, AttendancePercent(10, 0, 10))
	assert.Equal(t, 70, AttendancePercent(5, 2, 10))
	assert.Equal(t, 33, AttendancePercent(1, 0, 3))
}
