// Package realtime implements the in-process fan-out of row-level changes to
// subscribed websocket sessions. Delivery is at-least-once while a session is
// connected; a session that falls behind is dropped and must reconnect and
// re-fetch full state, so no event is ever silently skipped for a live
// subscriber.
package realtime

import (
	"fmt"
	"sync"
)

// Topics the dashboard subscribes to.
const TopicConversations = "conversations"

// TopicMessages returns the per-conversation message topic.
func TopicMessages(conversationID uint) string {
	return fmt.Sprintf("messages:%d", conversationID)
}

// Event is one change notification. Type is "insert" or "update"; Data is
// the affected row as it will be serialized to the client.
type Event struct {
	Topic string      `json:"topic"`
	Type  string      `json:"type"`
	Data  interface{} `json:"data"`
}

const subscriberBuffer = 64

// Subscription is one client session's registration. Events arrive on
// Events() in publish order per topic. After Close (or after the hub drops a
// slow subscriber) the channel is closed.
type Subscription struct {
	topics map[string]struct{}
	ch     chan Event

	hub      *Hub
	closedMu sync.Mutex
	closed   bool
}

func (s *Subscription) Events() <-chan Event {
	return s.ch
}

func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Hub routes published events to the subscriptions interested in their topic.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[*Subscription]struct{}),
	}
}

// Subscribe registers interest in one or more topics.
func (h *Hub) Subscribe(topics ...string) *Subscription {
	sub := &Subscription{
		topics: make(map[string]struct{}, len(topics)),
		ch:     make(chan Event, subscriberBuffer),
		hub:    h,
	}
	for _, t := range topics {
		sub.topics[t] = struct{}{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for t := range sub.topics {
		if h.subs[t] == nil {
			h.subs[t] = make(map[*Subscription]struct{})
		}
		h.subs[t][sub] = struct{}{}
	}
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	for t := range sub.topics {
		delete(h.subs[t], sub)
		if len(h.subs[t]) == 0 {
			delete(h.subs, t)
		}
	}
	h.mu.Unlock()

	sub.closedMu.Lock()
	defer sub.closedMu.Unlock()
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// Publish delivers ev to every subscription on its topic. A subscriber whose
// buffer is full is evicted rather than skipped: its channel closes and the
// websocket layer terminates the session, forcing a reconnect + full re-fetch.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	var lagged []*Subscription
	for sub := range h.subs[ev.Topic] {
		select {
		case sub.ch <- ev:
		default:
			lagged = append(lagged, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range lagged {
		h.unsubscribe(sub)
	}
}

// SubscriberCount reports how many sessions are registered on a topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}
