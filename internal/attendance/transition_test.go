package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transitionInput(existing *DailyRecord, typ EventType, at time.Time) TransitionInput {
	return TransitionInput{
		Existing:             existing,
		Type:                 typ,
		EventTime:            at,
		EventMinutes:         at.Hour()*60 + at.Minute(),
		ClassStartTime:       "08:00",
		LateThresholdMinutes: 15,
		AbsenceCutoffMinutes: 60,
		MinScanInterval:      120 * time.Second,
	}
}

func TestFirstInOnTime(t *testing.T) {
	at := time.Date(2026, 3, 2, 8, 5, 0, 0, time.UTC)
	out := ApplyTransition(transitionInput(nil, EventIn, at))

	require.True(t, out.Created)
	require.False(t, out.Suppressed)
	require.NotNil(t, out.Row.Status)
	assert.Equal(t, StatusPresent, *out.Row.Status)
	assert.Nil(t, out.Row.LateMinutes)
	assert.True(t, out.Row.CurrentlyInSchool)
	assert.Equal(t, 1, out.Row.ScanCount)
	require.NotNil(t, out.Row.FirstScanTime)
	assert.Equal(t, at, *out.Row.FirstScanTime)
	assert.Equal(t, ReasonPresent, out.StatusReason)
}

func TestFirstInLate(t *testing.T) {
	at := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	out := ApplyTransition(transitionInput(nil, EventIn, at))

	require.NotNil(t, out.Row.Status)
	assert.Equal(t, StatusLate, *out.Row.Status)
	require.NotNil(t, out.Row.LateMinutes)
	assert.Equal(t, 15, *out.Row.LateMinutes)
	assert.Equal(t, ReasonLateThreshold, out.StatusReason)
}

func TestFirstInPastCutoff(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	out := ApplyTransition(transitionInput(nil, EventIn, at))

	require.NotNil(t, out.Row.Status)
	assert.Equal(t, StatusAbsent, *out.Row.Status)
	assert.Nil(t, out.Row.LateMinutes)
	assert.Equal(t, ReasonAbsentCutoff, out.StatusReason)
}

func TestLateThresholdBoundary(t *testing.T) {
	// Exactly at the threshold counts as late, exactly at the cutoff as absent.
	atThreshold := time.Date(2026, 3, 2, 8, 15, 0, 0, time.UTC)
	out := ApplyTransition(transitionInput(nil, EventIn, atThreshold))
	assert.Equal(t, StatusLate, *out.Row.Status)
	assert.Equal(t, 0, *out.Row.LateMinutes)

	atCutoff := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	out = ApplyTransition(transitionInput(nil, EventIn, atCutoff))
	assert.Equal(t, StatusAbsent, *out.Row.Status)
}

func TestNoScheduleNoClassification(t *testing.T) {
	at := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	in := transitionInput(nil, EventIn, at)
	in.ClassStartTime = ""
	out := ApplyTransition(in)

	require.NotNil(t, out.Row.Status)
	assert.Equal(t, StatusPresent, *out.Row.Status)
}

func TestRepeatInSuppressed(t *testing.T) {
	first := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	existing := ApplyTransition(transitionInput(nil, EventIn, first)).Row

	out := ApplyTransition(transitionInput(&existing, EventIn, first.Add(30*time.Second)))
	assert.True(t, out.Suppressed)

	out = ApplyTransition(transitionInput(&existing, EventIn, first.Add(120*time.Second)))
	assert.False(t, out.Suppressed)
	assert.Equal(t, 2, out.Row.ScanCount)
}

func TestRepeatOutSuppressed(t *testing.T) {
	first := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	row := ApplyTransition(transitionInput(nil, EventIn, first)).Row
	row = ApplyTransition(transitionInput(&row, EventOut, first.Add(3*time.Hour))).Row

	out := ApplyTransition(transitionInput(&row, EventOut, first.Add(3*time.Hour+time.Minute)))
	assert.True(t, out.Suppressed)
}

func TestOppositeDirectionNeverSuppressed(t *testing.T) {
	first := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	row := ApplyTransition(transitionInput(nil, EventIn, first)).Row

	out := ApplyTransition(transitionInput(&row, EventOut, first.Add(10*time.Second)))
	assert.False(t, out.Suppressed)
	assert.False(t, out.Row.CurrentlyInSchool)
}

func TestMonotonicAbsent(t *testing.T) {
	absent := StatusAbsent
	existing := DailyRecord{Status: &absent, ScanCount: 0}

	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	out := ApplyTransition(transitionInput(&existing, EventIn, at))

	require.NotNil(t, out.Row.Status)
	assert.Equal(t, StatusAbsent, *out.Row.Status)
	assert.Nil(t, out.Row.LateMinutes)
	assert.Equal(t, ReasonExistingAbsent, out.StatusReason)
	assert.True(t, out.Row.CurrentlyInSchool)
	require.NotNil(t, out.Row.FirstScanTime)
}

func TestSessionAccumulation(t *testing.T) {
	in := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	row := ApplyTransition(transitionInput(nil, EventIn, in)).Row

	out := ApplyTransition(transitionInput(&row, EventOut, in.Add(45*time.Minute)))
	assert.Equal(t, 45, out.Row.TotalTimeMinutes)
	assert.False(t, out.Row.CurrentlyInSchool)
}

func TestSessionBoundExcluded(t *testing.T) {
	in := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	row := ApplyTransition(transitionInput(nil, EventIn, in)).Row

	out := ApplyTransition(transitionInput(&row, EventOut, in.Add(900*time.Minute)))
	assert.Equal(t, 0, out.Row.TotalTimeMinutes)
	assert.False(t, out.Row.CurrentlyInSchool)
	require.NotNil(t, out.Row.LastOutTime)
}

func TestOutBeforeFirstIn(t *testing.T) {
	at := time.Date(2026, 3, 2, 7, 50, 0, 0, time.UTC)
	out := ApplyTransition(transitionInput(nil, EventOut, at))

	require.True(t, out.Created)
	require.NotNil(t, out.Row.Status)
	assert.Equal(t, StatusPresent, *out.Row.Status)
	assert.Nil(t, out.Row.FirstScanTime)
	require.NotNil(t, out.Row.Notes)
	assert.Equal(t, "OUT before first IN", *out.Row.Notes)
	assert.False(t, out.Row.CurrentlyInSchool)
}

func TestLateOnlyClassifiedOnFirstIn(t *testing.T) {
	in := time.Date(2026, 3, 2, 8, 5, 0, 0, time.UTC)
	row := ApplyTransition(transitionInput(nil, EventIn, in)).Row
	row = ApplyTransition(transitionInput(&row, EventOut, in.Add(2*time.Hour))).Row

	// Re-entry in the afternoon must not reclassify the day as late.
	out := ApplyTransition(transitionInput(&row, EventIn, in.Add(5*time.Hour)))
	require.NotNil(t, out.Row.Status)
	assert.Equal(t, StatusPresent, *out.Row.Status)
	assert.Nil(t, out.Row.LateMinutes)
	assert.True(t, out.Row.CurrentlyInSchool)
}
