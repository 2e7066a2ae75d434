// Package bus provides the in-process notification bus the sync core uses
// to tell UI layers about record and sync state changes. Publishing never
// blocks: slow subscribers drop events rather than stalling sync.
package bus

import (
	"sync"
	"time"

	"github.com/habitsync/habitsync/internal/models"
)

// Topic names the event streams UI layers can subscribe to.
type Topic string

const (
	TopicRecordUpdated Topic = "record-updated"
	TopicSyncComplete  Topic = "sync-complete"
	TopicSyncStatus    Topic = "sync-status"
)

// Event is one bus notification.
type Event struct {
	Topic     Topic                  `json:"topic"`
	EventType string                 `json:"event_type,omitempty"`
	Table     models.Table           `json:"table,omitempty"`
	RecordID  string                 `json:"record_id,omitempty"`
	Timestamp int64                  `json:"timestamp"` // epoch ms
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Bus fans events out to per-topic subscribers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Topic]map[int]chan Event
	nextID  int
	dropped func() // optional drop counter hook
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[Topic]map[int]chan Event)}
}

// OnDrop installs a hook invoked whenever a subscriber drops an event.
func (b *Bus) OnDrop(fn func()) {
	b.mu.Lock()
	b.dropped = fn
	b.mu.Unlock()
}

// Subscribe returns a channel receiving events for the topic and an
// unsubscribe function. The channel is buffered; events beyond the buffer
// are dropped for that subscriber.
func (b *Bus) Subscribe(topic Topic) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan Event)
	}
	id := b.nextID
	b.nextID++

	ch := make(chan Event, 32)
	b.subs[topic][id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[topic][id]; ok {
			delete(b.subs[topic], id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

// Publish delivers the event to every subscriber of its topic without
// blocking.
func (b *Bus) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[event.Topic] {
		select {
		case ch <- event:
		default:
			if b.dropped != nil {
				b.dropped()
			}
		}
	}
}
