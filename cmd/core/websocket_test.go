package main

import (
	"encoding/json"
	"testing"
	"time"
)

func TestClientWantsFiltersBySubscription(t *testing.T) {
	c := &WSClient{subscriptions: make(map[string]bool)}

	if !c.wants(EventRecordUpdated) {
		t.Error("Expected unsubscribed client to receive every event")
	}

	c.subscriptions[EventSyncCompleted] = true
	if c.wants(EventRecordUpdated) {
		t.Error("Expected unsubscribed event filtered out")
	}
	if !c.wants(EventSyncCompleted) {
		t.Error("Expected subscribed event delivered")
	}
}

func TestHubBroadcastHonorsSubscriptions(t *testing.T) {
	hub := NewWSHub("127.0.0.1:0")
	client := &WSClient{
		id:            "c1",
		send:          make(chan []byte, 4),
		hub:           hub,
		subscriptions: map[string]bool{EventSyncCompleted: true},
	}
	hub.register <- client

	hub.Broadcast(EventRecordUpdated, map[string]interface{}{"record_id": "r1"})
	hub.Broadcast(EventSyncCompleted, map[string]interface{}{"user_id": "u1"})

	select {
	case raw := <-client.send:
		var env WSEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("Bad envelope: %v", err)
		}
		if env.Type != EventSyncCompleted {
			t.Errorf("Expected only the subscribed event, got %s", env.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected subscribed event delivered")
	}

	select {
	case raw := <-client.send:
		t.Errorf("Unexpected extra message: %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}
