package main

import (
	"sync"
	"testing"
	"time"
)

func newHubClient(hub *WSHub, id string, buffer int) *WSClient {
	return &WSClient{
		id:            id,
		send:          make(chan []byte, buffer),
		done:          make(chan struct{}),
		hub:           hub,
		subscriptions: make(map[string]bool),
	}
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func (h *WSHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TestAckRacesDisconnect verifies queueing acks while the hub drops the
// client never panics: the hub closes done, not the send channel.
func TestAckRacesDisconnect(t *testing.T) {
	hub := NewWSHub()
	client := newHubClient(hub, "c-1", 1)

	hub.register <- client
	waitForCondition(t, func() bool { return hub.clientCount() == 1 })

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			client.sendAck("subscribe_ack", nil)
			client.sendPong()
		}
	}()

	hub.unregister <- client
	wg.Wait()

	select {
	case <-client.done:
	default:
		t.Error("done should be closed after unregister")
	}

	// Late acks after the drop are silently discarded.
	client.sendPong()
	if hub.clientCount() != 0 {
		t.Errorf("clients = %d, want 0", hub.clientCount())
	}
}

// TestHubDropsSlowClient verifies a client with a full send buffer is removed
// on broadcast and its done channel closed exactly once, even when the read
// side unregisters afterwards.
func TestHubDropsSlowClient(t *testing.T) {
	hub := NewWSHub()
	client := newHubClient(hub, "c-slow", 1)

	hub.register <- client
	waitForCondition(t, func() bool { return hub.clientCount() == 1 })

	// Two frames against a one-slot buffer: the second drops the client.
	hub.Broadcast("songs:changed", map[string]interface{}{"record_id": "s-1"})
	hub.Broadcast("songs:changed", map[string]interface{}{"record_id": "s-2"})
	waitForCondition(t, func() bool { return hub.clientCount() == 0 })

	select {
	case <-client.done:
	default:
		t.Fatal("done should be closed for a dropped client")
	}

	// The usual disconnect path still runs when the reader exits; the hub
	// must not close done a second time.
	hub.unregister <- client
	waitForCondition(t, func() bool { return hub.clientCount() == 0 })
	client.sendAck("subscribe_ack", nil)
}
