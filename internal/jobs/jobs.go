package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"schoolgate/internal/attendance"
	"schoolgate/internal/tenant"
)

// DirtyMarker lets jobs trigger snapshot recomputes after batch writes.
type DirtyMarker interface {
	MarkSchoolDirty(schoolID string)
	MarkClassDirty(schoolID, classID string)
}

// Runner owns the periodic maintenance loops. Each loop is a plain ticker;
// the cadence guards inside decide whether this tick does work.
type Runner struct {
	attendance *attendance.Repository
	tenants    *tenant.Repository
	scheduler  DirtyMarker
	log        *zap.Logger
	retention  time.Duration
	now        func() time.Time

	lastCleanup time.Time
}

// NewRunner wires the maintenance jobs. retention bounds the raw event log.
func NewRunner(att *attendance.Repository, tenants *tenant.Repository, scheduler DirtyMarker, log *zap.Logger, retention time.Duration) *Runner {
	return &Runner{
		attendance: att,
		tenants:    tenants,
		scheduler:  scheduler,
		log:        log,
		retention:  retention,
		now:        time.Now,
	}
}

// Start launches all loops. They stop when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	go r.loop(ctx, time.Minute, r.markAbsentSweep)
	go r.loop(ctx, 30*time.Minute, r.deviceHealth)
	go r.loop(ctx, time.Hour, r.endOfDayClose)
	go r.loop(ctx, time.Hour, r.eventCleanup)
}

func (r *Runner) loop(ctx context.Context, every time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// markAbsentSweep inserts ABSENT rows for students of classes past their
// arrival cutoff who have not scanned. Holidays are skipped entirely.
func (r *Runner) markAbsentSweep(ctx context.Context) {
	ids, err := r.tenants.ListSchoolIDs(ctx)
	if err != nil {
		r.log.Error("absent sweep: school listing failed", zap.Error(err))
		return
	}
	for _, schoolID := range ids {
		r.sweepSchool(ctx, schoolID)
	}
}

func (r *Runner) sweepSchool(ctx context.Context, schoolID string) {
	school, err := r.tenants.GetSchool(ctx, schoolID)
	if err != nil || school == nil {
		if err != nil {
			r.log.Error("absent sweep: school lookup failed", zap.String("school_id", schoolID), zap.Error(err))
		}
		return
	}

	zone := attendance.LoadZone(school.Timezone)
	now := r.now()
	date := attendance.DateOnlyInZone(now, zone)
	nowMinutes := attendance.MinutesInZone(now, zone)

	holiday, err := r.tenants.IsHoliday(ctx, schoolID, date)
	if err != nil {
		r.log.Error("absent sweep: holiday lookup failed", zap.String("school_id", schoolID), zap.Error(err))
		return
	}
	if holiday {
		return
	}

	classes, err := r.tenants.ListClasses(ctx, schoolID)
	if err != nil {
		r.log.Error("absent sweep: class listing failed", zap.String("school_id", schoolID), zap.Error(err))
		return
	}

	var total int64
	for _, cls := range classes {
		start, ok := attendance.ParseHHMM(cls.StartTime)
		if !ok || nowMinutes < start+school.AbsenceCutoffMinutes {
			continue
		}
		n, err := r.attendance.MarkClassAbsent(ctx, schoolID, cls.ID, date)
		if err != nil {
			r.log.Error("absent sweep: insert failed",
				zap.String("school_id", schoolID), zap.String("class_id", cls.ID), zap.Error(err))
			continue
		}
		if n > 0 {
			total += n
			r.scheduler.MarkClassDirty(schoolID, cls.ID)
		}
	}
	if total > 0 {
		r.log.Info("absent sweep: marked students absent",
			zap.String("school_id", schoolID), zap.Int64("count", total))
		r.scheduler.MarkSchoolDirty(schoolID)
	}
}

// deviceHealth deactivates devices silent for over two hours.
func (r *Runner) deviceHealth(ctx context.Context) {
	n, err := r.tenants.DeactivateStaleDevices(ctx, r.now().Add(-2*time.Hour))
	if err != nil {
		r.log.Error("device health: update failed", zap.Error(err))
		return
	}
	if n > 0 {
		r.log.Warn("device health: devices went silent", zap.Int64("count", n))
	}
}

// endOfDayClose clears currently_in_school on past days once a school's
// local clock passes midnight.
func (r *Runner) endOfDayClose(ctx context.Context) {
	ids, err := r.tenants.ListSchoolIDs(ctx)
	if err != nil {
		r.log.Error("end of day: school listing failed", zap.Error(err))
		return
	}
	for _, schoolID := range ids {
		school, err := r.tenants.GetSchool(ctx, schoolID)
		if err != nil || school == nil {
			continue
		}
		zone := attendance.LoadZone(school.Timezone)
		if r.now().In(zone).Hour() != 0 {
			continue
		}
		today := attendance.DateOnlyInZone(r.now(), zone)
		n, err := r.attendance.CloseOpenDays(ctx, schoolID, today)
		if err != nil {
			r.log.Error("end of day: close failed", zap.String("school_id", schoolID), zap.Error(err))
			continue
		}
		if n > 0 {
			r.log.Info("end of day: closed open sessions",
				zap.String("school_id", schoolID), zap.Int64("count", n))
			r.scheduler.MarkSchoolDirty(schoolID)
		}
	}
}

// eventCleanup trims the raw event log early Monday morning.
func (r *Runner) eventCleanup(ctx context.Context) {
	now := r.now()
	if now.Weekday() != time.Monday || now.Hour() != 3 {
		return
	}
	if now.Sub(r.lastCleanup) < 2*time.Hour {
		return
	}
	r.lastCleanup = now

	n, err := r.attendance.TrimEvents(ctx, now.Add(-r.retention))
	if err != nil {
		r.log.Error("event cleanup: delete failed", zap.Error(err))
		return
	}
	r.log.Info("event cleanup: trimmed event log", zap.Int64("count", n))
}
