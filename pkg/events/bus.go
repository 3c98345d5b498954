// Package events provides the in-process pub/sub bus plus a synchronous
// query/reply pattern used for cross-component coordination.
package events

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Well-known topics published by the scheduler.
const (
	TopicScheduleUpdated  = "schedule_updated"
	TopicAgentFileUpdated = "agent_file_updated"
	TopicAgentReloaded    = "agent_reloaded"
)

// Handler receives published payloads.
type Handler func(payload interface{})

// Responder answers a synchronous query.
type Responder func(payload interface{}) (interface{}, error)

type subscription struct {
	id      int
	handler Handler
}

// Bus broadcasts events to subscribers and routes queries to responders.
type Bus struct {
	mu         sync.RWMutex
	nextID     int
	listeners  map[string][]subscription
	responders map[string]Responder
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		listeners:  make(map[string][]subscription),
		responders: make(map[string]Responder),
	}
}

// On registers a handler for a topic and returns an unsubscribe function.
func (b *Bus) On(topic string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.listeners[topic] = append(b.listeners[topic], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.listeners[topic]
		for i, sub := range subs {
			if sub.id == id {
				b.listeners[topic] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Emit publishes a payload to all handlers for the topic. Handlers run
// asynchronously so a slow subscriber never blocks the publisher.
func (b *Bus) Emit(topic string, payload interface{}) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.listeners[topic]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		go sub.handler(payload)
	}
}

// HandleQuery registers the responder for a query topic. Exactly one
// responder may be active per topic.
func (b *Bus) HandleQuery(topic string, responder Responder) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.responders[topic]; exists {
		return fmt.Errorf("query topic %q already has a responder", topic)
	}
	b.responders[topic] = responder

	return nil
}

// Query sends a synchronous request to the topic's responder and returns its
// reply.
func (b *Bus) Query(topic string, payload interface{}) (interface{}, error) {
	b.mu.RLock()
	responder := b.responders[topic]
	b.mu.RUnlock()

	if responder == nil {
		return nil, fmt.Errorf("no responder for query topic %q", topic)
	}

	reply, err := responder(payload)
	if err != nil {
		log.Debug().Str("topic", topic).Err(err).Msg("Query responder returned error")
	}

	return reply, err
}

// RemoveAllListeners drops every subscription and responder.
func (b *Bus) RemoveAllListeners() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.listeners = make(map[string][]subscription)
	b.responders = make(map[string]Responder)
}
