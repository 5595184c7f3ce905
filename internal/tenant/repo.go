package tenant

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository reads the tenant records (schools, classes, students, devices)
// the event pipeline depends on.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const schoolColumns = `id, name, slug, timezone, late_threshold_minutes, absence_cutoff_minutes, webhook_secret_in, webhook_secret_out`

func scanSchool(row *sql.Row) (*School, error) {
	var s School
	if err := row.Scan(&s.ID, &s.Name, &s.Slug, &s.Timezone, &s.LateThresholdMinutes, &s.AbsenceCutoffMinutes, &s.WebhookSecretIn, &s.WebhookSecretOut); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// GetSchool returns a school by id.
func (r *Repository) GetSchool(ctx context.Context, id string) (*School, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+schoolColumns+` FROM schools WHERE id = $1`, id)
	return scanSchool(row)
}

// ResolveSchool finds a school by id first, then by slug or name. Webhook
// URLs configured on devices often carry the slug rather than the UUID.
func (r *Repository) ResolveSchool(ctx context.Context, idOrSlug string) (*School, error) {
	school, err := r.GetSchool(ctx, idOrSlug)
	if err != nil || school != nil {
		return school, err
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT `+schoolColumns+`
		FROM schools
		WHERE slug = $1 OR LOWER(name) = LOWER($1)
		ORDER BY created_at
		LIMIT 1
	`, strings.TrimSpace(idOrSlug))
	return scanSchool(row)
}

// ListSchoolIDs returns all tenant ids, used by the fallback sweep and jobs.
func (r *Repository) ListSchoolIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM schools ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListClasses returns a school's classes with schedule fields.
func (r *Repository) ListClasses(ctx context.Context, schoolID string) ([]Class, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, school_id, name, start_time, COALESCE(end_time, '')
		FROM classes
		WHERE school_id = $1
		ORDER BY name
	`, schoolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var classes []Class
	for rows.Next() {
		var c Class
		if err := rows.Scan(&c.ID, &c.SchoolID, &c.Name, &c.StartTime, &c.EndTime); err != nil {
			return nil, err
		}
		classes = append(classes, c)
	}
	return classes, rows.Err()
}

// GetClass returns a single class by id, nil when unknown.
func (r *Repository) GetClass(ctx context.Context, id string) (*Class, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, school_id, name, start_time, COALESCE(end_time, '')
		FROM classes WHERE id = $1
	`, id)
	var c Class
	if err := row.Scan(&c.ID, &c.SchoolID, &c.Name, &c.StartTime, &c.EndTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// FindStudentByDeviceID resolves the opaque employee number reported by the
// access controller to a student of the given school.
func (r *Repository) FindStudentByDeviceID(ctx context.Context, schoolID, deviceStudentID string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, school_id, class_id, name, device_student_id, is_active
		FROM students
		WHERE school_id = $1 AND device_student_id = $2
		LIMIT 1
	`, schoolID, deviceStudentID)
	var s Student
	if err := row.Scan(&s.ID, &s.SchoolID, &s.ClassID, &s.Name, &s.DeviceStudentID, &s.IsActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// FindDevice resolves an external device identifier within a school.
func (r *Repository) FindDevice(ctx context.Context, schoolID, deviceExternalID string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, school_id, device_id, name, type, location, is_active, last_seen_at
		FROM devices
		WHERE school_id = $1 AND device_id = $2
		LIMIT 1
	`, schoolID, deviceExternalID)
	var d Device
	if err := row.Scan(&d.ID, &d.SchoolID, &d.DeviceID, &d.Name, &d.Type, &d.Location, &d.IsActive, &d.LastSeenAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// DeviceSchool returns the owning school of an external device id regardless
// of tenant, used to detect cross-school conflicts during auto-registration.
func (r *Repository) DeviceSchool(ctx context.Context, deviceExternalID string) (string, error) {
	row := r.db.QueryRowContext(ctx, `SELECT school_id FROM devices WHERE device_id = $1 LIMIT 1`, deviceExternalID)
	var schoolID string
	if err := row.Scan(&schoolID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return schoolID, nil
}

// AutoRegisterDevice creates a device record for an unknown sender.
func (r *Repository) AutoRegisterDevice(ctx context.Context, schoolID, deviceExternalID, deviceType string, seenAt time.Time) (*Device, error) {
	d := Device{
		ID:       uuid.NewString(),
		SchoolID: schoolID,
		DeviceID: deviceExternalID,
		Name:     "Auto " + deviceExternalID,
		Type:     deviceType,
		Location: "Auto-discovered",
		IsActive: true,
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (id, school_id, device_id, name, type, location, is_active, last_seen_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, d.ID, d.SchoolID, d.DeviceID, d.Name, d.Type, d.Location, d.IsActive, seenAt)
	if err != nil {
		return nil, err
	}
	d.LastSeenAt = &seenAt
	return &d, nil
}

// TouchDevice records a liveness heartbeat.
func (r *Repository) TouchDevice(ctx context.Context, id string, seenAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices SET last_seen_at = $2, is_active = TRUE WHERE id = $1
	`, id, seenAt)
	return err
}

// DeactivateStaleDevices flips is_active off for devices silent since the
// threshold. Returns how many were flipped.
func (r *Repository) DeactivateStaleDevices(ctx context.Context, silentSince time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET is_active = FALSE
		WHERE is_active = TRUE AND (last_seen_at IS NULL OR last_seen_at < $1)
	`, silentSince)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// IsHoliday reports whether the given (school-local) date is a holiday.
func (r *Repository) IsHoliday(ctx context.Context, schoolID string, date time.Time) (bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM holidays WHERE school_id = $1 AND date = $2
	`, schoolID, date)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}
