package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"schoolgate/internal/metrics"
	"schoolgate/internal/stats"
)

// Key identifies one snapshot scope. An empty ClassID means the school-wide
// snapshot.
type Key struct {
	SchoolID string
	ClassID  string
}

// SchoolLister is the tenant enumeration the fallback sweep needs.
type SchoolLister interface {
	ListSchoolIDs(ctx context.Context) ([]string, error)
}

// Scheduler turns write-path dirty marks into debounced snapshot publishes.
// Marks arriving while a recompute runs are not lost: the completing
// recompute re-checks the dirty flag and schedules exactly one more pass.
type Scheduler struct {
	bus      Bus
	engine   *stats.Engine
	schools  SchoolLister
	log      *zap.Logger
	debounce time.Duration
	interval time.Duration

	mu       sync.Mutex
	timers   map[Key]*time.Timer
	dirty    map[Key]bool
	inFlight map[Key]bool
}

// NewScheduler wires the scheduler. debounce is the coalescing window after
// a dirty mark; interval paces the fallback sweep that repairs missed marks.
func NewScheduler(bus Bus, engine *stats.Engine, schools SchoolLister, log *zap.Logger, debounce, interval time.Duration) *Scheduler {
	return &Scheduler{
		bus:      bus,
		engine:   engine,
		schools:  schools,
		log:      log,
		debounce: debounce,
		interval: interval,
		timers:   make(map[Key]*time.Timer),
		dirty:    make(map[Key]bool),
		inFlight: make(map[Key]bool),
	}
}

// MarkSchoolDirty requests a school snapshot recompute.
func (s *Scheduler) MarkSchoolDirty(schoolID string) {
	s.mark(Key{SchoolID: schoolID}, "debounce")
}

// MarkClassDirty requests a class snapshot recompute.
func (s *Scheduler) MarkClassDirty(schoolID, classID string) {
	s.mark(Key{SchoolID: schoolID, ClassID: classID}, "debounce")
}

func (s *Scheduler) mark(key Key, trigger string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty[key] = true
	if _, pending := s.timers[key]; pending {
		return
	}
	s.timers[key] = time.AfterFunc(s.debounce, func() { s.fire(key, trigger) })
}

func (s *Scheduler) fire(key Key, trigger string) {
	s.mu.Lock()
	delete(s.timers, key)
	if s.inFlight[key] || !s.dirty[key] {
		// A running recompute will pick the dirty flag up on completion.
		s.mu.Unlock()
		return
	}
	s.dirty[key] = false
	s.inFlight[key] = true
	s.mu.Unlock()

	s.recompute(key, trigger)

	s.mu.Lock()
	s.inFlight[key] = false
	if s.dirty[key] {
		if _, pending := s.timers[key]; !pending {
			s.timers[key] = time.AfterFunc(s.debounce, func() { s.fire(key, trigger) })
		}
	}
	s.mu.Unlock()
}

func (s *Scheduler) recompute(key Key, trigger string) {
	metrics.SnapshotRecomputes.WithLabelValues(trigger).Inc()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Both scopes are pushed; subscribers pick the one they render.
	for _, scope := range []stats.Scope{stats.ScopeStarted, stats.ScopeActive} {
		if key.ClassID == "" {
			snap, err := s.engine.SchoolSnapshot(ctx, key.SchoolID, scope, true)
			if err != nil {
				s.log.Error("snapshot: school recompute failed",
					zap.String("school_id", key.SchoolID), zap.String("scope", string(scope)), zap.Error(err))
				continue
			}
			s.publish(ctx, TopicSchoolSnapshot(key.SchoolID), SchoolSnapshotPayload{Type: "school_snapshot", Snapshot: snap})
			continue
		}

		snap, err := s.engine.ClassSnapshot(ctx, key.SchoolID, key.ClassID, scope, true)
		if err != nil {
			s.log.Error("snapshot: class recompute failed",
				zap.String("school_id", key.SchoolID), zap.String("class_id", key.ClassID),
				zap.String("scope", string(scope)), zap.Error(err))
			continue
		}
		if snap == nil {
			// Class outside the scope window; nothing to push.
			continue
		}
		s.publish(ctx, TopicClassSnapshot(key.SchoolID, key.ClassID), ClassSnapshotPayload{Type: "class_snapshot", Snapshot: snap})
	}
}

func (s *Scheduler) publish(ctx context.Context, topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("snapshot: marshal failed", zap.String("topic", topic), zap.Error(err))
		return
	}
	if err := s.bus.Publish(ctx, topic, data); err != nil {
		s.log.Warn("snapshot: publish failed", zap.String("topic", topic), zap.Error(err))
	}
	_ = s.bus.Publish(ctx, TopicAdmin, data)
}

// Run sweeps every school (and every class snapshot someone is watching) on
// the fallback interval, so a missed dirty mark is at worst interval stale.
// Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	ids, err := s.schools.ListSchoolIDs(ctx)
	if err != nil {
		s.log.Error("snapshot: sweep school listing failed", zap.Error(err))
		return
	}
	for _, id := range ids {
		s.mark(Key{SchoolID: id}, "sweep")
	}
	for _, topic := range s.bus.ActiveTopics("snapshot:class:") {
		rest := strings.TrimPrefix(topic, "snapshot:class:")
		schoolID, classID, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		s.mark(Key{SchoolID: schoolID, ClassID: classID}, "sweep")
	}
}
