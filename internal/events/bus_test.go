// ABOUTME: Tests for the notification bus
// ABOUTME: Validates fan-out per event name, drop-on-full, and subscription lifetime

package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palaver-im/palaver/internal/entity"
)

func TestBus_PublishReachesSubscribers(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ctx := context.Background()
	ch1, _ := bus.Subscribe(ctx, ConversationUpdated)
	ch2, _ := bus.Subscribe(ctx, ConversationUpdated)
	other, _ := bus.Subscribe(ctx, ContactsUpdated)

	bus.Publish(Event{
		Name:   ConversationUpdated,
		Action: ActionUpdate,
		ID:     entity.GroupID("dev"),
		SN:     7,
	})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, ActionUpdate, ev.Action)
			assert.Equal(t, entity.GroupID("dev"), ev.ID)
			assert.Equal(t, uint64(7), ev.SN)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}

	select {
	case <-other:
		t.Fatal("event leaked to a different stream")
	default:
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ch, subID := bus.Subscribe(context.Background(), MetaSaved)
	bus.Unsubscribe(MetaSaved, subID)

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.Publish(Event{Name: MetaSaved, ID: entity.UserID("alice")})
}

func TestBus_ContextCancelUnsubscribes(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := bus.Subscribe(ctx, DocumentUpdated)
	cancel()

	// The cleanup goroutine closes the channel shortly after cancellation.
	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscription was not cleaned up")
	}
}

func TestBus_PublishDuringUnsubscribeChurn(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			bus.Publish(Event{Name: ConversationUpdated, SN: uint64(i)})
		}
	}()

	// Churn subscriptions while the publisher runs; closing a channel must
	// never race a delivery.
	for i := 0; i < 200; i++ {
		_, subID := bus.Subscribe(context.Background(), ConversationUpdated)
		bus.Unsubscribe(ConversationUpdated, subID)
	}
	<-done
}

func TestBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ch, _ := bus.Subscribe(context.Background(), MessageUpdated)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBufferSize*2; i++ {
			bus.Publish(Event{Name: MessageUpdated, SN: uint64(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	require.Len(t, ch, subscriberBufferSize)
}
