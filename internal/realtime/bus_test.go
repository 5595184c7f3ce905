package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBusDelivers(t *testing.T) {
	bus := NewLocalBus()
	sub := bus.Subscribe(TopicAttendance("s1"))
	defer sub.Close()

	require.NoError(t, bus.Publish(context.Background(), TopicAttendance("s1"), []byte("hello")))

	select {
	case msg := <-sub.C:
		assert.Equal(t, []byte("hello"), msg)
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
}

func TestLocalBusPublishWithoutSubscribers(t *testing.T) {
	bus := NewLocalBus()
	assert.NoError(t, bus.Publish(context.Background(), "nobody", []byte("x")))
}

func TestLocalBusTopicIsolation(t *testing.T) {
	bus := NewLocalBus()
	a := bus.Subscribe(TopicAttendance("s1"))
	defer a.Close()
	b := bus.Subscribe(TopicAttendance("s2"))
	defer b.Close()

	require.NoError(t, bus.Publish(context.Background(), TopicAttendance("s1"), []byte("one")))

	select {
	case <-a.C:
	case <-time.After(time.Second):
		t.Fatal("subscriber missed its topic")
	}
	select {
	case <-b.C:
		t.Fatal("message leaked across topics")
	default:
	}
}

func TestLocalBusSlowSubscriberDrops(t *testing.T) {
	bus := NewLocalBus()
	sub := bus.Subscribe("t")
	defer sub.Close()

	// Publishing past the buffer must not block the publisher.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			_ = bus.Publish(context.Background(), "t", []byte{byte(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}

	received := 0
	for {
		select {
		case <-sub.C:
			received++
		default:
			assert.Less(t, received, 100)
			assert.Greater(t, received, 0)
			return
		}
	}
}

func TestSubscriptionClose(t *testing.T) {
	bus := NewLocalBus()
	sub := bus.Subscribe("t")
	sub.Close()
	sub.Close() // idempotent

	_, open := <-sub.C
	assert.False(t, open)
	assert.Empty(t, bus.ActiveTopics(""))
}

func TestActiveTopicsPrefix(t *testing.T) {
	bus := NewLocalBus()
	a := bus.Subscribe(TopicClassSnapshot("s1", "c1"))
	defer a.Close()
	b := bus.Subscribe(TopicSchoolSnapshot("s1"))
	defer b.Close()

	assert.ElementsMatch(t, []string{"snapshot:class:s1:c1"}, bus.ActiveTopics("snapshot:class:"))
	assert.Len(t, bus.ActiveTopics("snapshot:"), 2)
}
