package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"schoolgate/internal/attendance"
	"schoolgate/internal/stats"
	"schoolgate/internal/tenant"
)

type fakePort struct {
	mu          sync.Mutex
	delay       time.Duration
	schoolCalls int
}

func (f *fakePort) School(context.Context, string) (*tenant.School, error) {
	f.mu.Lock()
	f.schoolCalls++
	delay := f.delay
	f.mu.Unlock()
	time.Sleep(delay)
	return &tenant.School{ID: "s1", Timezone: "UTC", LateThresholdMinutes: 15, AbsenceCutoffMinutes: 60}, nil
}

func (f *fakePort) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.schoolCalls
}

func (f *fakePort) Classes(context.Context, string) ([]tenant.Class, error) {
	return []tenant.Class{{ID: "c1", SchoolID: "s1", Name: "5A", StartTime: "08:00", EndTime: "13:00"}}, nil
}

func (f *fakePort) EnrolledCounts(context.Context, string) (map[string]int, error) {
	return map[string]int{"c1": 10}, nil
}

func (f *fakePort) AttendedCounts(context.Context, string, time.Time) (map[string]int, error) {
	return map[string]int{"c1": 4}, nil
}

func (f *fakePort) StatusCounts(context.Context, string, time.Time, []string, bool) (map[attendance.Status]int, error) {
	return map[attendance.Status]int{attendance.StatusPresent: 4}, nil
}

func (f *fakePort) CurrentlyIn(context.Context, string, time.Time, []string, bool) (int, error) {
	return 4, nil
}

func (f *fakePort) RangeStatusCounts(context.Context, string, time.Time, time.Time) (map[attendance.Status]int, int, error) {
	return nil, 0, nil
}

func (f *fakePort) DailyStatusCounts(context.Context, string, string, time.Time, time.Time) ([]stats.DayCounts, error) {
	return nil, nil
}

// testEngine pins the clock inside class c1's morning window so scope
// filtering is deterministic regardless of when the tests run.
func testEngine(port stats.ReadPort) *stats.Engine {
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	return stats.NewEngineAt(port, func() time.Time { return at })
}

type fakeLister struct{ ids []string }

func (f fakeLister) ListSchoolIDs(context.Context) ([]string, error) { return f.ids, nil }

func drain(c <-chan []byte) int {
	n := 0
	for {
		select {
		case <-c:
			n++
		default:
			return n
		}
	}
}

func TestDebounceCoalescesBurst(t *testing.T) {
	bus := NewLocalBus()
	port := &fakePort{}
	s := NewScheduler(bus, testEngine(port), fakeLister{}, zap.NewNop(), 20*time.Millisecond, time.Hour)

	sub := bus.Subscribe(TopicSchoolSnapshot("s1"))
	defer sub.Close()

	for i := 0; i < 5; i++ {
		s.MarkSchoolDirty("s1")
	}
	time.Sleep(200 * time.Millisecond)

	// One recompute: a started and an active snapshot, nothing more.
	assert.Equal(t, 2, drain(sub.C))
	assert.Equal(t, 2, port.calls())
}

func TestMarkDuringRecomputeRunsAgain(t *testing.T) {
	bus := NewLocalBus()
	port := &fakePort{delay: 100 * time.Millisecond}
	s := NewScheduler(bus, testEngine(port), fakeLister{}, zap.NewNop(), 20*time.Millisecond, time.Hour)

	sub := bus.Subscribe(TopicSchoolSnapshot("s1"))
	defer sub.Close()

	s.MarkSchoolDirty("s1")
	time.Sleep(50 * time.Millisecond) // first recompute is in flight
	s.MarkSchoolDirty("s1")

	time.Sleep(800 * time.Millisecond)

	// The second mark must produce exactly one more recompute, not zero
	// (lost update) and not several (no coalescing).
	assert.Equal(t, 4, drain(sub.C))
	assert.Equal(t, 4, port.calls())
}

func TestClassDirtyPublishesBothScopes(t *testing.T) {
	bus := NewLocalBus()
	port := &fakePort{}
	s := NewScheduler(bus, testEngine(port), fakeLister{}, zap.NewNop(), 10*time.Millisecond, time.Hour)

	sub := bus.Subscribe(TopicClassSnapshot("s1", "c1"))
	defer sub.Close()

	s.MarkClassDirty("s1", "c1")
	time.Sleep(200 * time.Millisecond)

	scopes := map[stats.Scope]bool{}
	for {
		select {
		case data := <-sub.C:
			var payload ClassSnapshotPayload
			require.NoError(t, json.Unmarshal(data, &payload))
			require.NotNil(t, payload.Snapshot)
			scopes[payload.Snapshot.Scope] = true
		default:
			assert.Equal(t, map[stats.Scope]bool{stats.ScopeStarted: true, stats.ScopeActive: true}, scopes)
			return
		}
	}
}

func TestClassOutsideScopeWindowPublishesNothing(t *testing.T) {
	bus := NewLocalBus()
	port := &fakePort{}
	// Before the class day begins, neither scope covers c1.
	at := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	engine := stats.NewEngineAt(port, func() time.Time { return at })
	s := NewScheduler(bus, engine, fakeLister{}, zap.NewNop(), 10*time.Millisecond, time.Hour)

	sub := bus.Subscribe(TopicClassSnapshot("s1", "c1"))
	defer sub.Close()

	s.MarkClassDirty("s1", "c1")
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, drain(sub.C))
}

func TestFallbackSweep(t *testing.T) {
	bus := NewLocalBus()
	port := &fakePort{}
	s := NewScheduler(bus, testEngine(port), fakeLister{ids: []string{"s1"}}, zap.NewNop(), 5*time.Millisecond, 30*time.Millisecond)

	school := bus.Subscribe(TopicSchoolSnapshot("s1"))
	defer school.Close()
	class := bus.Subscribe(TopicClassSnapshot("s1", "c1"))
	defer class.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// No explicit marks: the sweep alone must refresh both subscriptions.
	deadline := time.After(2 * time.Second)
	gotSchool, gotClass := false, false
	for !gotSchool || !gotClass {
		select {
		case <-school.C:
			gotSchool = true
		case <-class.C:
			gotClass = true
		case <-deadline:
			t.Fatalf("sweep incomplete: school=%v class=%v", gotSchool, gotClass)
		}
	}
}

func TestAdminTopicReceivesSnapshots(t *testing.T) {
	bus := NewLocalBus()
	port := &fakePort{}
	s := NewScheduler(bus, testEngine(port), fakeLister{}, zap.NewNop(), 10*time.Millisecond, time.Hour)

	admin := bus.Subscribe(TopicAdmin)
	defer admin.Close()

	s.MarkSchoolDirty("s1")
	select {
	case <-admin.C:
	case <-time.After(time.Second):
		t.Fatal("admin topic missed snapshot")
	}
	require.GreaterOrEqual(t, port.calls(), 1)
}
