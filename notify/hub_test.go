package notify_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/track-engine/notify"
	"github.com/warp/track-engine/timeclock"
)

func receive(t *testing.T, sub *notify.Subscriber) timeclock.Event {
	t.Helper()
	select {
	case event := <-sub.Events():
		return event
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return timeclock.Event{}
	}
}

func TestHub_DeliversToEverySubscriberOfOwner(t *testing.T) {
	hub := notify.NewHub()
	first := hub.Subscribe(1)
	second := hub.Subscribe(1)
	defer hub.Unsubscribe(first)
	defer hub.Unsubscribe(second)

	hub.Publish(1, timeclock.EventEntryStarted, "payload")

	for _, sub := range []*notify.Subscriber{first, second} {
		event := receive(t, sub)
		assert.Equal(t, int64(1), event.OwnerID)
		assert.Equal(t, timeclock.EventEntryStarted, event.Type)
		assert.Equal(t, "payload", event.Payload)
	}
}

func TestHub_OwnersAreIsolated(t *testing.T) {
	hub := notify.NewHub()
	ada := hub.Subscribe(1)
	bob := hub.Subscribe(2)
	defer hub.Unsubscribe(ada)
	defer hub.Unsubscribe(bob)

	hub.Publish(1, timeclock.EventEntryStarted, nil)

	receive(t, ada)
	select {
	case event := <-bob.Events():
		t.Fatalf("event leaked across owners: %+v", event)
	default:
	}
}

func TestHub_PublishWithoutSubscribersIsFireAndForget(t *testing.T) {
	hub := notify.NewHub()
	// Must neither block nor panic.
	hub.Publish(42, timeclock.EventEntryDeleted, nil)
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := notify.NewHub()
	sub := hub.Subscribe(1)

	hub.Unsubscribe(sub)
	_, ok := <-sub.Events()
	assert.False(t, ok, "channel must be closed on unsubscribe")

	// Safe to repeat, and the owner no longer receives anything.
	hub.Unsubscribe(sub)
	hub.Publish(1, timeclock.EventEntryStarted, nil)
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	// GIVEN: A subscriber that never drains its buffer
	// WHEN: Publishing past the buffer capacity
	// THEN: Publish returns immediately every time; the overflow is lost

	hub := notify.NewHub()
	stuck := hub.Subscribe(1)
	defer hub.Unsubscribe(stuck)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			hub.Publish(1, timeclock.EventEntryUpdated, i)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	delivered := 0
	for {
		select {
		case <-stuck.Events():
			delivered++
			continue
		default:
		}
		break
	}
	require.Greater(t, delivered, 0)
	assert.Less(t, delivered, 100, "overflow must be dropped, not queued")
}
