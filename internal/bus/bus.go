// Package bus implements a per-run publish/subscribe hub for log events.
package bus

import (
	"log"
	"sync"

	"github.com/fundmatch/orchestrator/internal/domain"
)

const subscriberBuffer = 64

// Subscription is a live feed of events for a single run. The channel is
// closed when the run's channel shuts down or the subscriber falls behind.
type Subscription struct {
	C  <-chan domain.LogEvent
	ch chan domain.LogEvent
}

// runChannel holds the subscribers and replay buffer for one run.
type runChannel struct {
	subscribers map[*Subscription]struct{}
	history     []domain.LogEvent
	closed      bool
}

// Bus fans events out to subscribers keyed by run ID. Publishing never
// blocks: a subscriber whose buffer is full is dropped and must fall back
// to polling.
type Bus struct {
	mu   sync.Mutex
	runs map[string]*runChannel
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{
		runs: make(map[string]*runChannel),
	}
}

// Publish delivers an event to all subscribers of the run, appending it to
// the replay buffer first. Events published after Close are discarded.
func (b *Bus) Publish(runID string, event domain.LogEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rc := b.runs[runID]
	if rc == nil {
		rc = &runChannel{subscribers: make(map[*Subscription]struct{})}
		b.runs[runID] = rc
	}
	if rc.closed {
		return
	}
	rc.history = append(rc.history, event)

	for sub := range rc.subscribers {
		select {
		case sub.ch <- event:
		default:
			// Slow consumer. Drop it rather than stall the pipeline.
			delete(rc.subscribers, sub)
			close(sub.ch)
			log.Printf("WARN: dropped slow event subscriber for run %s", runID)
		}
	}
}

// Subscribe returns the replay of events published so far plus a live
// subscription for the run. If the run's channel is already closed, the
// returned subscription channel is closed immediately after replay.
func (b *Bus) Subscribe(runID string) ([]domain.LogEvent, *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rc := b.runs[runID]
	if rc == nil {
		rc = &runChannel{subscribers: make(map[*Subscription]struct{})}
		b.runs[runID] = rc
	}

	replay := make([]domain.LogEvent, len(rc.history))
	copy(replay, rc.history)

	ch := make(chan domain.LogEvent, subscriberBuffer)
	sub := &Subscription{C: ch, ch: ch}
	if rc.closed {
		close(ch)
		return replay, sub
	}
	rc.subscribers[sub] = struct{}{}
	return replay, sub
}

// Unsubscribe detaches a subscription from the run and closes its channel.
func (b *Bus) Unsubscribe(runID string, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rc := b.runs[runID]
	if rc == nil {
		return
	}
	if _, ok := rc.subscribers[sub]; ok {
		delete(rc.subscribers, sub)
		close(sub.ch)
	}
}

// Close marks the run's channel closed and disconnects all subscribers.
// The replay buffer is kept so late subscribers still see the history.
func (b *Bus) Close(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rc := b.runs[runID]
	if rc == nil || rc.closed {
		return
	}
	rc.closed = true
	for sub := range rc.subscribers {
		delete(rc.subscribers, sub)
		close(sub.ch)
	}
}

// Drop removes all state for a run, including the replay buffer.
func (b *Bus) Drop(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rc := b.runs[runID]
	if rc == nil {
		return
	}
	for sub := range rc.subscribers {
		delete(rc.subscribers, sub)
		close(sub.ch)
	}
	delete(b.runs, runID)
}
