// Package events carries run lifecycle notifications from the engine to SSE
// clients. Ordinary subscribers get a bounded ring buffer that drops the
// oldest event when full; priority subscribers block the publisher instead.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is implemented by every run lifecycle event.
type Event interface {
	EventType() string
	Timestamp() time.Time
	RunID() string
	ProjectID() string
}

// BaseEvent holds the fields shared by all events.
type BaseEvent struct {
	Type    string    `json:"type"`
	Time    time.Time `json:"timestamp"`
	Run     string    `json:"run_id"`
	Project string    `json:"project_id,omitempty"`
}

func (e BaseEvent) EventType() string    { return e.Type }
func (e BaseEvent) Timestamp() time.Time { return e.Time }
func (e BaseEvent) RunID() string        { return e.Run }
func (e BaseEvent) ProjectID() string    { return e.Project }

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType, runID, projectID string, at time.Time) BaseEvent {
	return BaseEvent{Type: eventType, Time: at, Run: runID, Project: projectID}
}

// subscription is one consumer's channel plus its filters.
type subscription struct {
	ch        chan Event
	types     map[string]struct{}
	projectID string
	blocking  bool
}

func (s *subscription) wants(event Event) bool {
	if len(s.types) > 0 {
		if _, ok := s.types[event.EventType()]; !ok {
			return false
		}
	}
	return s.projectID == "" || s.projectID == event.ProjectID()
}

// offer delivers without blocking, evicting the oldest buffered event when
// the channel is full. It returns the number of events lost.
func (s *subscription) offer(event Event) int64 {
	select {
	case s.ch <- event:
		return 0
	default:
	}
	var lost int64
	select {
	case <-s.ch:
		lost++
	default:
	}
	select {
	case s.ch <- event:
	default:
		lost++
	}
	return lost
}

const priorityBuffer = 50

// EventBus fans events out to subscribers.
type EventBus struct {
	mu         sync.RWMutex
	subs       []*subscription
	bufferSize int
	dropped    atomic.Int64
	closed     bool
}

// New creates an EventBus whose ordinary subscribers buffer bufferSize
// events. Non-positive sizes fall back to 100.
func New(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &EventBus{bufferSize: bufferSize}
}

func (eb *EventBus) add(sub *subscription) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		close(sub.ch)
	} else {
		eb.subs = append(eb.subs, sub)
	}
	return sub.ch
}

// Subscribe receives every event whose type is listed, or every event when
// no types are given.
func (eb *EventBus) Subscribe(types ...string) <-chan Event {
	return eb.SubscribeForProject("", types...)
}

// SubscribeForProject is Subscribe restricted to one project's runs.
// An empty projectID receives events for every project.
func (eb *EventBus) SubscribeForProject(projectID string, types ...string) <-chan Event {
	sub := &subscription{
		ch:        make(chan Event, eb.bufferSize),
		projectID: projectID,
	}
	if len(types) > 0 {
		sub.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	return eb.add(sub)
}

// SubscribePriority receives every event published with PublishPriority and
// never loses one of them. The consumer must keep draining the channel.
func (eb *EventBus) SubscribePriority() <-chan Event {
	return eb.add(&subscription{ch: make(chan Event, priorityBuffer), blocking: true})
}

// Unsubscribe closes and removes the subscription owning ch.
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	kept := eb.subs[:0]
	for _, sub := range eb.subs {
		if sub.ch == ch {
			close(sub.ch)
			continue
		}
		kept = append(kept, sub)
	}
	clear(eb.subs[len(kept):])
	eb.subs = kept
}

// Publish delivers event to matching ordinary subscribers, dropping their
// oldest buffered event if needed. Priority subscribers are skipped.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}
	eb.fanOut(event)
}

// PublishPriority behaves like Publish and additionally blocks until every
// priority subscriber has accepted the event.
func (eb *EventBus) PublishPriority(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}
	eb.fanOut(event)
	for _, sub := range eb.subs {
		if sub.blocking {
			sub.ch <- event
		}
	}
}

func (eb *EventBus) fanOut(event Event) {
	for _, sub := range eb.subs {
		if sub.blocking || !sub.wants(event) {
			continue
		}
		if lost := sub.offer(event); lost > 0 {
			eb.dropped.Add(lost)
		}
	}
}

// DroppedCount returns how many events ordinary subscribers have lost.
func (eb *EventBus) DroppedCount() int64 {
	return eb.dropped.Load()
}

// Close closes every subscriber channel. Later publishes are ignored and
// later subscriptions receive an already closed channel.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}
	eb.closed = true
	for _, sub := range eb.subs {
		close(sub.ch)
	}
	eb.subs = nil
}

// SubscriberCount returns the number of active subscriptions.
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs)
}
