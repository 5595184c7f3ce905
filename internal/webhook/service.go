package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"schoolgate/internal/attendance"
	"schoolgate/internal/metrics"
	"schoolgate/internal/realtime"
	"schoolgate/internal/tenant"
)

// ErrBadTimestamp marks a device payload whose dateTime could not be parsed.
var ErrBadTimestamp = errors.New("webhook: unparseable event timestamp")

// DirtyMarker is the scheduler surface the ingest path needs.
type DirtyMarker interface {
	MarkSchoolDirty(schoolID string)
	MarkClassDirty(schoolID, classID string)
}

// EventStore is the transactional write path for one event.
type EventStore interface {
	ProcessEvent(ctx context.Context, in attendance.ProcessInput) (*attendance.ProcessResult, error)
}

// TenantDirectory covers the tenant lookups the ingest path performs.
type TenantDirectory interface {
	FindStudentByDeviceID(ctx context.Context, schoolID, deviceStudentID string) (*tenant.Student, error)
	GetClass(ctx context.Context, id string) (*tenant.Class, error)
	FindDevice(ctx context.Context, schoolID, deviceExternalID string) (*tenant.Device, error)
	DeviceSchool(ctx context.Context, deviceExternalID string) (string, error)
	AutoRegisterDevice(ctx context.Context, schoolID, deviceExternalID, deviceType string, seenAt time.Time) (*tenant.Device, error)
	TouchDevice(ctx context.Context, id string, seenAt time.Time) error
}

// Service orchestrates one normalized event through the tenant lookups, the
// transactional state machine, and the fan-out side effects.
type Service struct {
	repo         EventStore
	tenants      TenantDirectory
	bus          realtime.Bus
	scheduler    DirtyMarker
	log          *zap.Logger
	scanInterval time.Duration
	autoRegister bool
	now          func() time.Time
}

// NewService wires the ingest pipeline.
func NewService(repo EventStore, tenants TenantDirectory, bus realtime.Bus, scheduler DirtyMarker, log *zap.Logger, scanInterval time.Duration, autoRegister bool) *Service {
	return &Service{
		repo:         repo,
		tenants:      tenants,
		bus:          bus,
		scheduler:    scheduler,
		log:          log,
		scanInterval: scanInterval,
		autoRegister: autoRegister,
		now:          time.Now,
	}
}

// HandleEvent processes one normalized device event for a resolved school.
// Unparseable timestamps and other per-event failures are the caller's to
// acknowledge; the device never retries on our behalf.
func (s *Service) HandleEvent(ctx context.Context, school *tenant.School, direction attendance.EventType, norm *attendance.NormalizedEvent) (*attendance.ProcessResult, error) {
	zone := attendance.LoadZone(school.Timezone)
	eventTime, ok := attendance.ParseEventTime(norm.DateTime, zone)
	if !ok {
		metrics.WebhookEvents.WithLabelValues("bad_timestamp").Inc()
		return nil, ErrBadTimestamp
	}

	date := attendance.DateOnlyInZone(eventTime, zone)
	eventKey := attendance.EventKey(norm.DeviceExternalID, norm.EmployeeNo, norm.DateTime, string(direction))

	device := s.resolveDevice(ctx, school, norm.DeviceExternalID)

	var deviceRowID *string
	if device != nil {
		deviceRowID = &device.ID
	}

	student, err := s.tenants.FindStudentByDeviceID(ctx, school.ID, norm.EmployeeNo)
	if err != nil {
		return nil, err
	}
	if student != nil && !student.IsActive {
		// Withdrawn students keep their device enrollment for a while; their
		// scans land in the event log only.
		student = nil
	}

	var class *tenant.Class
	if student != nil && student.ClassID != nil {
		class, err = s.tenants.GetClass(ctx, *student.ClassID)
		if err != nil {
			return nil, err
		}
	}

	res, err := s.repo.ProcessEvent(ctx, attendance.ProcessInput{
		School:          school,
		Student:         student,
		Class:           class,
		DeviceRowID:     deviceRowID,
		EventKey:        eventKey,
		Type:            direction,
		EventTime:       eventTime,
		Date:            date,
		EventMinutes:    attendance.MinutesInZone(eventTime, zone),
		RawPayload:      norm.Raw,
		MinScanInterval: s.scanInterval,
	})
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.WebhookEvents.WithLabelValues(string(res.Kind)).Inc()

	fields := []zap.Field{
		zap.String("school_id", school.ID),
		zap.String("employee_no", norm.EmployeeNo),
		zap.String("device_id", norm.DeviceExternalID),
		zap.String("direction", string(direction)),
		zap.String("result", string(res.Kind)),
	}
	if res.StatusReason != "" {
		fields = append(fields, zap.String("status_reason", res.StatusReason))
	}
	s.log.Info("event processed", fields...)

	if s.isToday(date, zone) {
		switch res.Kind {
		case attendance.ResultAccepted:
			s.publishEvent(ctx, school, student, class, res)
			s.scheduler.MarkSchoolDirty(school.ID)
			if class != nil {
				s.scheduler.MarkClassDirty(school.ID, class.ID)
			}
		case attendance.ResultEventOnly:
			// An event row landed even without a student match, so live
			// feeds still see the scan. No daily row changed, so snapshots
			// stay clean.
			s.publishEvent(ctx, school, student, class, res)
		}
	}
	return res, nil
}

// resolveDevice finds or auto-registers the sending device, refreshing its
// liveness either way. Lookup failures degrade to processing without a
// device reference.
func (s *Service) resolveDevice(ctx context.Context, school *tenant.School, externalID string) *tenant.Device {
	device, err := s.tenants.FindDevice(ctx, school.ID, externalID)
	if err != nil {
		s.log.Warn("device lookup failed", zap.String("device_id", externalID), zap.Error(err))
		return nil
	}
	if device == nil && s.autoRegister {
		owner, err := s.tenants.DeviceSchool(ctx, externalID)
		if err != nil {
			s.log.Warn("device owner lookup failed", zap.String("device_id", externalID), zap.Error(err))
			return nil
		}
		if owner != "" && owner != school.ID {
			s.log.Warn("device already registered to another school",
				zap.String("device_id", externalID), zap.String("owner_school_id", owner))
			return nil
		}
		device, err = s.tenants.AutoRegisterDevice(ctx, school.ID, externalID, "FACE", s.now())
		if err != nil {
			s.log.Warn("device auto-register failed", zap.String("device_id", externalID), zap.Error(err))
			return nil
		}
		s.log.Info("device auto-registered", zap.String("device_id", externalID), zap.String("school_id", school.ID))
		return device
	}
	if device != nil {
		if err := s.tenants.TouchDevice(ctx, device.ID, s.now()); err != nil {
			s.log.Warn("device touch failed", zap.String("device_id", device.ID), zap.Error(err))
		}
	}
	return device
}

// publishEvent pushes one stored event to the school and admin topics.
// Only today's events move live feeds; backfilled history stays quiet.
func (s *Service) publishEvent(ctx context.Context, school *tenant.School, student *tenant.Student, class *tenant.Class, res *attendance.ProcessResult) {
	payload := realtime.AttendanceEventPayload{
		Type:     "attendance_event",
		SchoolID: school.ID,
		Event:    res.Event,
	}
	if student != nil {
		ref := &realtime.StudentRef{ID: student.ID, Name: student.Name}
		if class != nil {
			ref.ClassID = class.ID
			ref.ClassName = class.Name
		}
		payload.Student = ref
	}
	if res.Record != nil {
		payload.Status = res.Record.Status
	}

	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("event payload marshal failed", zap.Error(err))
		return
	}
	if err := s.bus.Publish(ctx, realtime.TopicAttendance(school.ID), data); err != nil {
		s.log.Warn("event publish failed", zap.String("school_id", school.ID), zap.Error(err))
	}
	_ = s.bus.Publish(ctx, realtime.TopicAdmin, data)
}

func (s *Service) isToday(date time.Time, zone *time.Location) bool {
	return date.Equal(attendance.DateOnlyInZone(s.now(), zone))
}
