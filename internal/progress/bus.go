// Package progress implements the per-job publish/subscribe channel that
// carries stage updates from the orchestrator to live observers. Events are
// ephemeral: a subscriber that attaches late only receives the last-known
// state, never a replay of older events.
package progress

import (
	"sync"
	"time"
)

// Terminal stage names. The bus tears a channel down once one of these is
// published; the names match the job stage values persisted by the
// orchestrator.
const (
	StageComplete = "complete"
	StageFailed   = "failed"
)

// Event is one stage update for one job.
type Event struct {
	JobID     string    `json:"job_id"`
	Stage     string    `json:"stage"`
	Percent   int       `json:"percent"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	// Payload optionally carries the final persisted record on terminal
	// events so observers see completion and verdict as one message.
	Payload any `json:"payload,omitempty"`
}

// Terminal reports whether the event ends its job's channel.
func (e Event) Terminal() bool {
	return e.Stage == StageComplete || e.Stage == StageFailed
}

const subscriberBuffer = 16

// Bus fans events out to any number of subscribers per job. Publishing never
// blocks: a subscriber that cannot keep up drops events (at-most-once
// delivery). Per-job ordering is guaranteed because publishes for a job are
// serialized under one lock; there is no cross-job ordering.
type Bus struct {
	mu       sync.Mutex
	channels map[string]*channel
	grace    time.Duration
}

type channel struct {
	subs     map[uint64]chan Event
	nextSub  uint64
	last     *Event
	terminal bool
}

// NewBus builds a bus. grace is how long a channel lingers after its terminal
// event so slow subscribers can drain before teardown.
func NewBus(grace time.Duration) *Bus {
	return &Bus{
		channels: make(map[string]*channel),
		grace:    grace,
	}
}

// CreateChannel registers a job channel ahead of its first publish.
func (b *Bus) CreateChannel(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.getOrCreate(jobID)
}

// Publish delivers an event to the job's current subscribers. Publishing to
// an unknown or already-terminal channel is a no-op.
func (b *Bus) Publish(jobID, stage string, percent int, message string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.channels[jobID]
	if !ok || ch.terminal {
		return
	}

	event := Event{
		JobID:     jobID,
		Stage:     stage,
		Percent:   percent,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	ch.last = &event

	for _, sub := range ch.subs {
		select {
		case sub <- event:
		default: // slow subscriber, drop rather than block the job
		}
	}

	if event.Terminal() {
		ch.terminal = true
		time.AfterFunc(b.grace, func() { b.teardown(jobID) })
	}
}

// Subscription is one observer's attachment to a job channel.
type Subscription struct {
	bus   *Bus
	jobID string
	id    uint64
	ch    chan Event
}

// Subscribe attaches an observer to a job. If the job already published, the
// last-known event is delivered immediately so the observer can render
// current state; anything older is gone.
func (b *Bus) Subscribe(jobID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := b.getOrCreate(jobID)
	id := ch.nextSub
	ch.nextSub++

	events := make(chan Event, subscriberBuffer)
	ch.subs[id] = events
	if ch.last != nil {
		events <- *ch.last
	}

	return &Subscription{bus: b, jobID: jobID, id: id, ch: events}
}

// Events returns the subscriber's event stream. The channel closes when the
// subscription is closed or the job channel is torn down after its terminal
// event.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close detaches the observer. Safe to call after teardown.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	ch, ok := s.bus.channels[s.jobID]
	if !ok {
		return
	}
	if _, attached := ch.subs[s.id]; !attached {
		return
	}
	delete(ch.subs, s.id)
	close(s.ch)
}

func (b *Bus) getOrCreate(jobID string) *channel {
	if ch, ok := b.channels[jobID]; ok {
		return ch
	}
	ch := &channel{subs: make(map[uint64]chan Event)}
	b.channels[jobID] = ch
	return ch
}

func (b *Bus) teardown(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.channels[jobID]
	if !ok {
		return
	}
	for id, sub := range ch.subs {
		delete(ch.subs, id)
		close(sub)
	}
	delete(b.channels, jobID)
}
