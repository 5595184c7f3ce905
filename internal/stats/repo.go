package stats

import (
	"context"
	"database/sql"
	"time"

	"schoolgate/internal/attendance"
	"schoolgate/internal/tenant"
)

// PostgresPort implements ReadPort against the primary database.
type PostgresPort struct {
	db     *sql.DB
	tenant *tenant.Repository
}

// NewPostgresPort creates a port sharing the service's connection pool.
func NewPostgresPort(db *sql.DB, tenants *tenant.Repository) *PostgresPort {
	return &PostgresPort{db: db, tenant: tenants}
}

func (p *PostgresPort) School(ctx context.Context, id string) (*tenant.School, error) {
	school, err := p.tenant.GetSchool(ctx, id)
	if err != nil {
		return nil, err
	}
	if school == nil {
		return nil, tenant.ErrNotFound
	}
	return school, nil
}

func (p *PostgresPort) Classes(ctx context.Context, schoolID string) ([]tenant.Class, error) {
	return p.tenant.ListClasses(ctx, schoolID)
}

// EnrolledCounts groups active students by class, with NULL class ids folded
// into the unassigned pseudo-class.
func (p *PostgresPort) EnrolledCounts(ctx context.Context, schoolID string) (map[string]int, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT COALESCE(class_id, $2), COUNT(*)
		FROM students
		WHERE school_id = $1 AND is_active = TRUE
		GROUP BY COALESCE(class_id, $2)
	`, schoolID, UnassignedClassID)
	if err != nil {
		return nil, err
	}
	return scanCounts(rows)
}

// AttendedCounts groups today's daily rows by the student's class.
func (p *PostgresPort) AttendedCounts(ctx context.Context, schoolID string, date time.Time) (map[string]int, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT COALESCE(s.class_id, $3), COUNT(*)
		FROM daily_attendance da
		JOIN students s ON s.id = da.student_id
		WHERE da.school_id = $1 AND da.date = $2
		GROUP BY COALESCE(s.class_id, $3)
	`, schoolID, date, UnassignedClassID)
	if err != nil {
		return nil, err
	}
	return scanCounts(rows)
}

func (p *PostgresPort) StatusCounts(ctx context.Context, schoolID string, date time.Time, classIDs []string, includeUnassigned bool) (map[attendance.Status]int, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT da.status, COUNT(*)
		FROM daily_attendance da
		JOIN students s ON s.id = da.student_id
		WHERE da.school_id = $1 AND da.date = $2 AND da.status IS NOT NULL
		  AND (s.class_id = ANY($3) OR ($4 AND s.class_id IS NULL))
		GROUP BY da.status
	`, schoolID, date, classIDs, includeUnassigned)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[attendance.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[attendance.Status(status)] = n
	}
	return counts, rows.Err()
}

func (p *PostgresPort) CurrentlyIn(ctx context.Context, schoolID string, date time.Time, classIDs []string, includeUnassigned bool) (int, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM daily_attendance da
		JOIN students s ON s.id = da.student_id
		WHERE da.school_id = $1 AND da.date = $2 AND da.currently_in_school = TRUE
		  AND (s.class_id = ANY($3) OR ($4 AND s.class_id IS NULL))
	`, schoolID, date, classIDs, includeUnassigned)
	var n int
	err := row.Scan(&n)
	return n, err
}

func (p *PostgresPort) RangeStatusCounts(ctx context.Context, schoolID string, from, to time.Time) (map[attendance.Status]int, int, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM daily_attendance
		WHERE school_id = $1 AND date BETWEEN $2 AND $3 AND status IS NOT NULL
		GROUP BY status
	`, schoolID, from, to)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	counts := make(map[attendance.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, 0, err
		}
		counts[attendance.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	row := p.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT date)
		FROM daily_attendance
		WHERE school_id = $1 AND date BETWEEN $2 AND $3
	`, schoolID, from, to)
	var days int
	if err := row.Scan(&days); err != nil {
		return nil, 0, err
	}
	return counts, days, nil
}

// DailyStatusCounts groups stored statuses per day for the weekly trend. An
// empty classID aggregates the whole school.
func (p *PostgresPort) DailyStatusCounts(ctx context.Context, schoolID, classID string, from, to time.Time) ([]DayCounts, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT da.date, da.status, COUNT(*)
		FROM daily_attendance da
		JOIN students s ON s.id = da.student_id
		WHERE da.school_id = $1 AND da.date BETWEEN $2 AND $3 AND da.status IS NOT NULL
		  AND ($4 = '' OR s.class_id = $4)
		GROUP BY da.date, da.status
		ORDER BY da.date
	`, schoolID, from, to, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byDate := make(map[string]*DayCounts)
	var order []string
	for rows.Next() {
		var day time.Time
		var status string
		var n int
		if err := rows.Scan(&day, &status, &n); err != nil {
			return nil, err
		}
		key := day.Format("2006-01-02")
		dc, ok := byDate[key]
		if !ok {
			dc = &DayCounts{Date: key}
			byDate[key] = dc
			order = append(order, key)
		}
		switch attendance.Status(status) {
		case attendance.StatusPresent:
			dc.Present = n
		case attendance.StatusLate:
			dc.Late = n
		case attendance.StatusAbsent:
			dc.Absent = n
		case attendance.StatusExcused:
			dc.Excused = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]DayCounts, 0, len(order))
	for _, key := range order {
		out = append(out, *byDate[key])
	}
	return out, nil
}

func scanCounts(rows *sql.Rows) (map[string]int, error) {
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		counts[key] = n
	}
	return counts, rows.Err()
}
