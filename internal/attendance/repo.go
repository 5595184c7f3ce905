package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"schoolgate/internal/tenant"
)

// ResultKind classifies the outcome of one processed event.
type ResultKind string

const (
	ResultAccepted       ResultKind = "accepted"
	ResultEventOnly      ResultKind = "event_only"
	ResultDuplicateEvent ResultKind = "duplicate_event"
	ResultDuplicateScan  ResultKind = "duplicate_scan"
)

// ProcessInput carries one normalized event plus the resolved tenant context
// into the transactional state machine.
type ProcessInput struct {
	School          *tenant.School
	Student         *tenant.Student
	Class           *tenant.Class
	DeviceRowID     *string
	EventKey        string
	Type            EventType
	EventTime       time.Time
	Date            time.Time
	EventMinutes    int
	RawPayload      []byte
	MinScanInterval time.Duration
}

// ProcessResult reports what the transaction did.
type ProcessResult struct {
	Kind         ResultKind
	Event        *Event
	Record       *DailyRecord
	Created      bool
	StatusReason string
}

// Repository persists the attendance event log and daily state rows.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const dailyColumns = `id, student_id, school_id, date, status, first_scan_time, last_scan_time,
	last_in_time, last_out_time, currently_in_school, scan_count, late_minutes,
	COALESCE(total_time_minutes, 0), notes`

func scanDaily(scanner interface{ Scan(...any) error }) (*DailyRecord, error) {
	var rec DailyRecord
	var status sql.NullString
	err := scanner.Scan(&rec.ID, &rec.StudentID, &rec.SchoolID, &rec.Date, &status,
		&rec.FirstScanTime, &rec.LastScanTime, &rec.LastInTime, &rec.LastOutTime,
		&rec.CurrentlyInSchool, &rec.ScanCount, &rec.LateMinutes, &rec.TotalTimeMinutes, &rec.Notes)
	if err != nil {
		return nil, err
	}
	if status.Valid {
		s := Status(status.String)
		rec.Status = &s
	}
	return &rec, nil
}

// ProcessEvent runs one state-machine transition atomically: the event-log
// insert and the daily-row upsert commit together or not at all. The daily
// row is read FOR UPDATE so the suppression check and the update cannot race
// across concurrent deliveries for the same student.
func (r *Repository) ProcessEvent(ctx context.Context, in ProcessInput) (*ProcessResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var existing *DailyRecord
	if in.Student != nil {
		row := tx.QueryRowContext(ctx, `
			SELECT `+dailyColumns+`
			FROM daily_attendance
			WHERE student_id = $1 AND date = $2
			FOR UPDATE
		`, in.Student.ID, in.Date)
		rec, err := scanDaily(row)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		existing = rec
	}

	var outcome TransitionOutcome
	if in.Student != nil {
		outcome = ApplyTransition(TransitionInput{
			Existing:             existing,
			Type:                 in.Type,
			EventTime:            in.EventTime,
			EventMinutes:         in.EventMinutes,
			ClassStartTime:       classStart(in.Class),
			LateThresholdMinutes: in.School.LateThresholdMinutes,
			AbsenceCutoffMinutes: in.School.AbsenceCutoffMinutes,
			MinScanInterval:      in.MinScanInterval,
		})
		if outcome.Suppressed {
			return &ProcessResult{Kind: ResultDuplicateScan, Record: existing}, nil
		}
	}

	evt := Event{
		ID:         uuid.NewString(),
		EventKey:   in.EventKey,
		SchoolID:   in.School.ID,
		DeviceID:   in.DeviceRowID,
		Type:       in.Type,
		Timestamp:  in.EventTime,
		RawPayload: in.RawPayload,
	}
	if in.Student != nil {
		evt.StudentID = &in.Student.ID
	}
	row := tx.QueryRowContext(ctx, `
		INSERT INTO attendance_events (id, event_key, student_id, school_id, device_id, event_type, timestamp, raw_payload)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at
	`, evt.ID, evt.EventKey, evt.StudentID, evt.SchoolID, evt.DeviceID, evt.Type, evt.Timestamp, evt.RawPayload)
	if err := row.Scan(&evt.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return &ProcessResult{Kind: ResultDuplicateEvent}, nil
		}
		return nil, err
	}

	if in.Student == nil {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return &ProcessResult{Kind: ResultEventOnly, Event: &evt}, nil
	}

	rec := outcome.Row
	if outcome.Created {
		rec.ID = uuid.NewString()
		rec.StudentID = in.Student.ID
		rec.SchoolID = in.School.ID
		rec.Date = in.Date
		_, err = tx.ExecContext(ctx, `
			INSERT INTO daily_attendance (id, student_id, school_id, date, status, first_scan_time,
				last_scan_time, last_in_time, last_out_time, currently_in_school, scan_count,
				late_minutes, total_time_minutes, notes)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		`, rec.ID, rec.StudentID, rec.SchoolID, rec.Date, rec.Status, rec.FirstScanTime,
			rec.LastScanTime, rec.LastInTime, rec.LastOutTime, rec.CurrentlyInSchool,
			rec.ScanCount, rec.LateMinutes, rec.TotalTimeMinutes, rec.Notes)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE daily_attendance
			SET status = $2, first_scan_time = $3, last_scan_time = $4, last_in_time = $5,
				last_out_time = $6, currently_in_school = $7, scan_count = $8,
				late_minutes = $9, total_time_minutes = $10, updated_at = NOW()
			WHERE id = $1
		`, rec.ID, rec.Status, rec.FirstScanTime, rec.LastScanTime, rec.LastInTime,
			rec.LastOutTime, rec.CurrentlyInSchool, rec.ScanCount, rec.LateMinutes, rec.TotalTimeMinutes)
	}
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a create race on (student_id, date); the concurrent
			// transaction owns this scan's effect.
			return &ProcessResult{Kind: ResultDuplicateEvent}, nil
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &ProcessResult{
		Kind:         ResultAccepted,
		Event:        &evt,
		Record:       &rec,
		Created:      outcome.Created,
		StatusReason: outcome.StatusReason,
	}, nil
}

// StudentDay is one row of the effective-status student list.
type StudentDay struct {
	StudentID      string  `json:"studentId"`
	Name           string  `json:"name"`
	ClassName      string  `json:"className,omitempty"`
	ClassStartTime string  `json:"-"`
	Status         *Status `json:"-"`
}

// StudentsForDay lists a school's active students with their class schedule
// and stored status for the given day. Read paths project the effective
// status on top of this.
func (r *Repository) StudentsForDay(ctx context.Context, schoolID string, date time.Time) ([]StudentDay, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.name, COALESCE(c.name, ''), COALESCE(c.start_time, ''), da.status
		FROM students s
		LEFT JOIN classes c ON c.id = s.class_id
		LEFT JOIN daily_attendance da ON da.student_id = s.id AND da.date = $2
		WHERE s.school_id = $1 AND s.is_active = TRUE
		ORDER BY s.name
	`, schoolID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []StudentDay
	for rows.Next() {
		var sd StudentDay
		var status sql.NullString
		if err := rows.Scan(&sd.StudentID, &sd.Name, &sd.ClassName, &sd.ClassStartTime, &status); err != nil {
			return nil, err
		}
		if status.Valid {
			s := Status(status.String)
			sd.Status = &s
		}
		res = append(res, sd)
	}
	return res, rows.Err()
}

// MarkClassAbsent inserts ABSENT rows for every active student of a class
// who has no daily row for the date. Used by the cutoff sweep once the
// class's arrival window has closed.
func (r *Repository) MarkClassAbsent(ctx context.Context, schoolID, classID string, date time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO daily_attendance (id, student_id, school_id, date, status, scan_count, total_time_minutes, notes)
		SELECT gen_random_uuid()::text, s.id, s.school_id, $3, 'ABSENT', 0, 0, 'No scan by cutoff'
		FROM students s
		WHERE s.school_id = $1 AND s.class_id = $2 AND s.is_active = TRUE
		  AND NOT EXISTS (
			SELECT 1 FROM daily_attendance da WHERE da.student_id = s.id AND da.date = $3
		  )
		ON CONFLICT (student_id, date) DO NOTHING
	`, schoolID, classID, date)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CloseOpenDays flips currently_in_school off for rows older than the given
// day. Students who never badged out stop counting as on premises.
func (r *Repository) CloseOpenDays(ctx context.Context, schoolID string, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE daily_attendance
		SET currently_in_school = FALSE, updated_at = NOW()
		WHERE school_id = $1 AND date < $2 AND currently_in_school = TRUE
	`, schoolID, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// TrimEvents deletes event-log rows older than the cutoff. Daily rows are
// the durable record; the raw log only backs recent debugging.
func (r *Repository) TrimEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM attendance_events WHERE created_at < $1
	`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func classStart(cls *tenant.Class) string {
	if cls == nil {
		return ""
	}
	return cls.StartTime
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
