// Package bus provides unit tests for the notification bus.
package bus

import (
	"testing"
	"time"

	"github.com/habitsync/habitsync/internal/models"
)

func TestSubscribeReceivesPublished(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe(TopicRecordUpdated)
	defer unsubscribe()

	b.Publish(Event{
		Topic:    TopicRecordUpdated,
		Table:    models.TableHabits,
		RecordID: "r1",
	})

	select {
	case event := <-ch:
		if event.RecordID != "r1" || event.Table != models.TableHabits {
			t.Errorf("Unexpected event: %+v", event)
		}
		if event.Timestamp == 0 {
			t.Error("Expected timestamp to be stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}
}

func TestTopicsAreIsolated(t *testing.T) {
	b := New()
	statusCh, unsub := b.Subscribe(TopicSyncStatus)
	defer unsub()

	b.Publish(Event{Topic: TopicRecordUpdated, RecordID: "r1"})

	select {
	case event := <-statusCh:
		t.Fatalf("Status subscriber received foreign event: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe(TopicSyncComplete)

	unsubscribe()

	if _, open := <-ch; open {
		t.Error("Expected channel closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Topic: TopicSyncComplete})
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	drops := 0
	b.OnDrop(func() { drops++ })

	_, unsubscribe := b.Subscribe(TopicRecordUpdated)
	defer unsubscribe()

	// Overflow the subscriber buffer; Publish must return regardless.
	for i := 0; i < 40; i++ {
		b.Publish(Event{Topic: TopicRecordUpdated, RecordID: "r"})
	}

	if drops == 0 {
		t.Error("Expected drops for overflowed subscriber")
	}
}
