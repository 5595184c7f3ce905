package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Topic helpers. SSE handlers subscribe to exactly one of these per
// connection; the admin topic carries a copy of everything.
func TopicAttendance(schoolID string) string { return "attendance:" + schoolID }

func TopicSchoolSnapshot(schoolID string) string { return "snapshot:school:" + schoolID }

func TopicClassSnapshot(schoolID, classID string) string {
	return "snapshot:class:" + schoolID + ":" + classID
}

const TopicAdmin = "admin"

// Redis channels carrying the cross-instance copies of each topic family.
const (
	channelAttendance  = "attendance_events"
	channelSchoolSnaps = "school_snapshot_events"
	channelClassSnaps  = "class_snapshot_events"
)

// Bus is the fan-out layer between the write path and SSE subscribers.
// Publishing to a topic with no subscribers is a no-op.
type Bus interface {
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(topic string) *Subscription
	ActiveTopics(prefix string) []string
}

// Subscription is one subscriber's receive side. C is closed by Close and
// only by Close; slow consumers lose messages rather than block publishers.
type Subscription struct {
	C      <-chan []byte
	cancel func()
	once   sync.Once
}

// Close unregisters the subscription and closes C.
func (s *Subscription) Close() { s.once.Do(s.cancel) }

// LocalBus is the in-process Bus. Single-instance deployments use it
// directly; the Redis bus uses it for final delivery.
type LocalBus struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

// NewLocalBus creates an empty in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]map[chan []byte]struct{})}
}

// Publish delivers to every current subscriber of topic. A subscriber whose
// buffer is full is skipped so one stalled SSE client cannot back up the
// webhook path.
func (b *LocalBus) Publish(_ context.Context, topic string, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[topic] {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

// Subscribe registers a new subscriber for topic.
func (b *LocalBus) Subscribe(topic string) *Subscription {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	set, ok := b.subs[topic]
	if !ok {
		set = make(map[chan []byte]struct{})
		b.subs[topic] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	return &Subscription{
		C: ch,
		cancel: func() {
			b.mu.Lock()
			if set, ok := b.subs[topic]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(b.subs, topic)
				}
			}
			b.mu.Unlock()
			close(ch)
		},
	}
}

// ActiveTopics lists topics with at least one subscriber, filtered by prefix.
// The fallback sweep uses it to recompute only class snapshots someone is
// actually watching.
func (b *LocalBus) ActiveTopics(prefix string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var topics []string
	for topic, set := range b.subs {
		if len(set) > 0 && strings.HasPrefix(topic, prefix) {
			topics = append(topics, topic)
		}
	}
	return topics
}

// redisEnvelope wraps a published message with its topic so the receiving
// instance can redispatch it locally.
type redisEnvelope struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// RedisBus fans out across instances over Redis pub/sub. Messages loop back
// through the subscription and are delivered by the embedded local bus, so
// the publishing instance sees its own messages exactly once. When Redis is
// down it degrades to local-only delivery.
type RedisBus struct {
	local *LocalBus
	rdb   *redis.Client
	log   *zap.Logger
}

// NewRedisBus connects the bus to Redis and starts the receive loop. The
// loop exits when ctx is cancelled.
func NewRedisBus(ctx context.Context, rdb *redis.Client, log *zap.Logger) *RedisBus {
	b := &RedisBus{local: NewLocalBus(), rdb: rdb, log: log}
	sub := rdb.Subscribe(ctx, channelAttendance, channelSchoolSnaps, channelClassSnaps)
	go b.receive(ctx, sub)
	return b
}

func (b *RedisBus) receive(ctx context.Context, sub *redis.PubSub) {
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env redisEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Warn("bus: dropping malformed message", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			_ = b.local.Publish(ctx, env.Topic, env.Data)
		}
	}
}

// Publish sends over Redis, falling back to in-process delivery if the
// publish fails so single-instance behavior survives a Redis outage.
func (b *RedisBus) Publish(ctx context.Context, topic string, data []byte) error {
	env, err := json.Marshal(redisEnvelope{Topic: topic, Data: data})
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, channelFor(topic), env).Err(); err != nil {
		b.log.Warn("bus: redis publish failed, delivering locally", zap.String("topic", topic), zap.Error(err))
		return b.local.Publish(ctx, topic, data)
	}
	return nil
}

// Subscribe registers on the local delivery bus.
func (b *RedisBus) Subscribe(topic string) *Subscription { return b.local.Subscribe(topic) }

// ActiveTopics reports this instance's subscribers only.
func (b *RedisBus) ActiveTopics(prefix string) []string { return b.local.ActiveTopics(prefix) }

func channelFor(topic string) string {
	switch {
	case strings.HasPrefix(topic, "snapshot:school:"):
		return channelSchoolSnaps
	case strings.HasPrefix(topic, "snapshot:class:"):
		return channelClassSnaps
	default:
		return channelAttendance
	}
}
