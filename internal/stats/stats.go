package stats

import (
	"context"
	"time"

	"schoolgate/internal/attendance"
	"schoolgate/internal/tenant"
)

// UnassignedClassID keys the pseudo-class holding students without a class
// assignment. It participates in school-wide aggregation but has no schedule,
// so its no-scan students always count as pending.
const UnassignedClassID = "__unassigned__"

// Scope selects which classes a school snapshot aggregates over.
type Scope string

const (
	ScopeAll     Scope = "all"
	ScopeStarted Scope = "started"
	ScopeActive  Scope = "active"
)

// ParseScope maps a query value onto a scope, defaulting to all.
func ParseScope(s string) Scope {
	switch Scope(s) {
	case ScopeStarted, ScopeActive:
		return Scope(s)
	default:
		return ScopeAll
	}
}

// ReadPort is the aggregation engine's view of storage. The engine itself
// stays pure enough to test against an in-memory port.
type ReadPort interface {
	School(ctx context.Context, id string) (*tenant.School, error)
	Classes(ctx context.Context, schoolID string) ([]tenant.Class, error)
	EnrolledCounts(ctx context.Context, schoolID string) (map[string]int, error)
	AttendedCounts(ctx context.Context, schoolID string, date time.Time) (map[string]int, error)
	StatusCounts(ctx context.Context, schoolID string, date time.Time, classIDs []string, includeUnassigned bool) (map[attendance.Status]int, error)
	CurrentlyIn(ctx context.Context, schoolID string, date time.Time, classIDs []string, includeUnassigned bool) (int, error)
	RangeStatusCounts(ctx context.Context, schoolID string, from, to time.Time) (map[attendance.Status]int, int, error)
	DailyStatusCounts(ctx context.Context, schoolID, classID string, from, to time.Time) ([]DayCounts, error)
}

// DayCounts is one day of the weekly trend. An empty classID at the port
// level means school-wide.
type DayCounts struct {
	Date    string `json:"date"`
	Present int    `json:"present"`
	Late    int    `json:"late"`
	Absent  int    `json:"absent"`
	Excused int    `json:"excused"`
}

// SchoolSnapshot is the school-wide roll-up pushed to dashboards. Every
// enrolled student in scope lands in exactly one status bucket.
type SchoolSnapshot struct {
	SchoolID          string      `json:"schoolId"`
	Date              string      `json:"date"`
	Scope             Scope       `json:"scope"`
	TotalStudents     int         `json:"totalStudents"`
	Present           int         `json:"present"`
	Late              int         `json:"late"`
	Absent            int         `json:"absent"`
	Excused           int         `json:"excused"`
	PendingEarly      int         `json:"pendingEarly"`
	PendingLate       int         `json:"pendingLate"`
	CurrentlyIn       int         `json:"currentlyIn"`
	AttendancePercent int         `json:"attendancePercent"`
	Weekly            []DayCounts `json:"weekly,omitempty"`
	GeneratedAt       time.Time   `json:"generatedAt"`
}

// ClassSnapshot is the per-class roll-up.
type ClassSnapshot struct {
	SchoolID          string      `json:"schoolId"`
	ClassID           string      `json:"classId"`
	ClassName         string      `json:"className"`
	Date              string      `json:"date"`
	Scope             Scope       `json:"scope"`
	TotalStudents     int         `json:"totalStudents"`
	Present           int         `json:"present"`
	Late              int         `json:"late"`
	Absent            int         `json:"absent"`
	Excused           int         `json:"excused"`
	PendingEarly      int         `json:"pendingEarly"`
	PendingLate       int         `json:"pendingLate"`
	CurrentlyIn       int         `json:"currentlyIn"`
	AttendancePercent int         `json:"attendancePercent"`
	Weekly            []DayCounts `json:"weekly,omitempty"`
	GeneratedAt       time.Time   `json:"generatedAt"`
}

// RangeStats summarizes a date range for dashboard history views.
type RangeStats struct {
	SchoolID          string `json:"schoolId"`
	From              string `json:"from"`
	To                string `json:"to"`
	Days              int    `json:"days"`
	Present           int    `json:"present"`
	Late              int    `json:"late"`
	Absent            int    `json:"absent"`
	Excused           int    `json:"excused"`
	AvgPresentPerDay  int    `json:"avgPresentPerDay"`
	AttendancePercent int    `json:"attendancePercent"`
}

// Engine computes snapshots. The clock is injected so projection boundaries
// can be pinned in tests.
type Engine struct {
	port ReadPort
	now  func() time.Time
}

// NewEngine creates an engine reading through port.
func NewEngine(port ReadPort) *Engine {
	return &Engine{port: port, now: time.Now}
}

// NewEngineAt creates an engine with a fixed clock source.
func NewEngineAt(port ReadPort, now func() time.Time) *Engine {
	return &Engine{port: port, now: now}
}

// SchoolSnapshot aggregates today's attendance for one school. Scope
// semantics: all covers every class plus unassigned students; started covers
// classes whose day has begun, falling back to all when none has; active
// covers classes still inside their arrival window and never includes
// unassigned students. includeWeekly attaches the trailing seven-day trend.
func (e *Engine) SchoolSnapshot(ctx context.Context, schoolID string, scope Scope, includeWeekly bool) (*SchoolSnapshot, error) {
	school, err := e.port.School(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	classes, err := e.port.Classes(ctx, schoolID)
	if err != nil {
		return nil, err
	}

	zone := attendance.LoadZone(school.Timezone)
	now := e.now()
	nowMinutes := attendance.MinutesInZone(now, zone)
	date := attendance.DateOnlyInZone(now, zone)
	windows := classWindows(classes)

	classIDs, includeUnassigned := e.scopeClasses(windows, scope, nowMinutes, school.AbsenceCutoffMinutes)

	enrolled, err := e.port.EnrolledCounts(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	attended, err := e.port.AttendedCounts(ctx, schoolID, date)
	if err != nil {
		return nil, err
	}
	statuses, err := e.port.StatusCounts(ctx, schoolID, date, classIDs, includeUnassigned)
	if err != nil {
		return nil, err
	}
	currentlyIn, err := e.port.CurrentlyIn(ctx, schoolID, date, classIDs, includeUnassigned)
	if err != nil {
		return nil, err
	}

	scoped := scopedWindows(windows, classIDs, includeUnassigned)
	split := attendance.SplitNoScan(scoped, enrolled, attended, school.AbsenceCutoffMinutes, nowMinutes)

	total := 0
	for _, w := range scoped {
		total += enrolled[w.ID]
	}

	snap := &SchoolSnapshot{
		SchoolID:      schoolID,
		Date:          date.Format("2006-01-02"),
		Scope:         scope,
		TotalStudents: total,
		Present:       statuses[attendance.StatusPresent],
		Late:          statuses[attendance.StatusLate],
		Absent:        statuses[attendance.StatusAbsent] + split.Absent,
		Excused:       statuses[attendance.StatusExcused],
		PendingEarly:  split.PendingEarly,
		PendingLate:   split.PendingLate,
		CurrentlyIn:   currentlyIn,
		GeneratedAt:   now,
	}
	snap.AttendancePercent = attendance.AttendancePercent(snap.Present, snap.Late, snap.TotalStudents)
	if includeWeekly {
		if snap.Weekly, err = e.weekly(ctx, schoolID, "", date); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

// ClassSnapshot aggregates today's attendance for one class. A class outside
// its scope window (not yet started, or past its active window) yields no
// snapshot: the result is nil with a nil error.
func (e *Engine) ClassSnapshot(ctx context.Context, schoolID, classID string, scope Scope, includeWeekly bool) (*ClassSnapshot, error) {
	school, err := e.port.School(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	classes, err := e.port.Classes(ctx, schoolID)
	if err != nil {
		return nil, err
	}

	var cls *tenant.Class
	for i := range classes {
		if classes[i].ID == classID {
			cls = &classes[i]
			break
		}
	}
	if cls == nil {
		return nil, tenant.ErrNotFound
	}

	zone := attendance.LoadZone(school.Timezone)
	now := e.now()
	nowMinutes := attendance.MinutesInZone(now, zone)
	date := attendance.DateOnlyInZone(now, zone)

	window := attendance.ClassWindow{ID: cls.ID, StartTime: cls.StartTime, EndTime: cls.EndTime}
	switch scope {
	case ScopeStarted:
		if len(attendance.StartedClassIDs([]attendance.ClassWindow{window}, nowMinutes)) == 0 {
			return nil, nil
		}
	case ScopeActive:
		if len(attendance.ActiveClassIDs([]attendance.ClassWindow{window}, nowMinutes, school.AbsenceCutoffMinutes)) == 0 {
			return nil, nil
		}
	}

	enrolled, err := e.port.EnrolledCounts(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	attended, err := e.port.AttendedCounts(ctx, schoolID, date)
	if err != nil {
		return nil, err
	}
	statuses, err := e.port.StatusCounts(ctx, schoolID, date, []string{classID}, false)
	if err != nil {
		return nil, err
	}
	currentlyIn, err := e.port.CurrentlyIn(ctx, schoolID, date, []string{classID}, false)
	if err != nil {
		return nil, err
	}

	split := attendance.SplitNoScan([]attendance.ClassWindow{window}, enrolled, attended, school.AbsenceCutoffMinutes, nowMinutes)

	snap := &ClassSnapshot{
		SchoolID:      schoolID,
		ClassID:       cls.ID,
		ClassName:     cls.Name,
		Date:          date.Format("2006-01-02"),
		Scope:         scope,
		TotalStudents: enrolled[cls.ID],
		Present:       statuses[attendance.StatusPresent],
		Late:          statuses[attendance.StatusLate],
		Absent:        statuses[attendance.StatusAbsent] + split.Absent,
		Excused:       statuses[attendance.StatusExcused],
		PendingEarly:  split.PendingEarly,
		PendingLate:   split.PendingLate,
		CurrentlyIn:   currentlyIn,
		GeneratedAt:   now,
	}
	snap.AttendancePercent = attendance.AttendancePercent(snap.Present, snap.Late, snap.TotalStudents)
	if includeWeekly {
		if snap.Weekly, err = e.weekly(ctx, schoolID, classID, date); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

// weekly builds the trailing seven-day trend ending on date, zero-filling
// days with no stored rows so the series always has seven entries.
func (e *Engine) weekly(ctx context.Context, schoolID, classID string, date time.Time) ([]DayCounts, error) {
	from := date.AddDate(0, 0, -6)
	stored, err := e.port.DailyStatusCounts(ctx, schoolID, classID, from, date)
	if err != nil {
		return nil, err
	}
	byDate := make(map[string]DayCounts, len(stored))
	for _, d := range stored {
		byDate[d.Date] = d
	}
	week := make([]DayCounts, 0, 7)
	for i := 0; i < 7; i++ {
		day := from.AddDate(0, 0, i).Format("2006-01-02")
		dc := byDate[day]
		dc.Date = day
		week = append(week, dc)
	}
	return week, nil
}

// Range summarizes stored statuses across an inclusive date range. Pending
// projections do not apply to past days; only stored rows count.
func (e *Engine) Range(ctx context.Context, schoolID string, from, to time.Time) (*RangeStats, error) {
	statuses, days, err := e.port.RangeStatusCounts(ctx, schoolID, from, to)
	if err != nil {
		return nil, err
	}

	rs := &RangeStats{
		SchoolID: schoolID,
		From:     from.Format("2006-01-02"),
		To:       to.Format("2006-01-02"),
		Days:     days,
		Present:  statuses[attendance.StatusPresent],
		Late:     statuses[attendance.StatusLate],
		Absent:   statuses[attendance.StatusAbsent],
		Excused:  statuses[attendance.StatusExcused],
	}
	if days > 0 {
		rs.AvgPresentPerDay = (rs.Present + days/2) / days
	}
	rs.AttendancePercent = attendance.AttendancePercent(rs.Present, rs.Late, rs.Present+rs.Late+rs.Absent+rs.Excused)
	return rs, nil
}

// scopeClasses resolves a scope to concrete class IDs plus whether the
// unassigned pseudo-class participates.
func (e *Engine) scopeClasses(windows []attendance.ClassWindow, scope Scope, nowMinutes, cutoff int) ([]string, bool) {
	switch scope {
	case ScopeStarted:
		started := attendance.StartedClassIDs(windows, nowMinutes)
		if len(started) == 0 {
			return allIDs(windows), true
		}
		return started, false
	case ScopeActive:
		return attendance.ActiveClassIDs(windows, nowMinutes, cutoff), false
	default:
		return allIDs(windows), true
	}
}

func classWindows(classes []tenant.Class) []attendance.ClassWindow {
	windows := make([]attendance.ClassWindow, 0, len(classes))
	for _, c := range classes {
		windows = append(windows, attendance.ClassWindow{ID: c.ID, StartTime: c.StartTime, EndTime: c.EndTime})
	}
	return windows
}

func allIDs(windows []attendance.ClassWindow) []string {
	ids := make([]string, 0, len(windows))
	for _, w := range windows {
		ids = append(ids, w.ID)
	}
	return ids
}

// scopedWindows returns the windows the no-scan split runs over, appending
// the schedule-less unassigned pseudo-class when in scope.
func scopedWindows(windows []attendance.ClassWindow, classIDs []string, includeUnassigned bool) []attendance.ClassWindow {
	inScope := make(map[string]bool, len(classIDs))
	for _, id := range classIDs {
		inScope[id] = true
	}
	var scoped []attendance.ClassWindow
	for _, w := range windows {
		if inScope[w.ID] {
			scoped = append(scoped, w)
		}
	}
	if includeUnassigned {
		scoped = append(scoped, attendance.ClassWindow{ID: UnassignedClassID})
	}
	return scoped
}
