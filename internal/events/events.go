// Package events carries job progress notifications to pollers and
// subscribers.
package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

type Type string

const (
	TypeCreated        Type = "job.created"
	TypeStarted        Type = "job.started"
	TypeProgress       Type = "job.progress"
	TypeCompleted      Type = "job.completed"
	TypeFailed         Type = "job.failed"
	TypeCancelRequest  Type = "job.cancel_requested"
	TypeSegmentUpdated Type = "job.segment_updated"
	TypeApproved       Type = "job.approved"
)

// Event is a sequenced progress notification for one job.
type Event struct {
	Seq               int64     `json:"seq"`
	Timestamp         time.Time `json:"timestamp"`
	JobID             string    `json:"job_id"`
	Type              Type      `json:"type"`
	Status            string    `json:"status,omitempty"`
	CompletedSegments int       `json:"completed_segments"`
	TotalSegments     int       `json:"total_segments"`
	Message           string    `json:"message,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// MemoryBus stores recent events and provides incremental reads.
type MemoryBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

func NewMemoryBus(maxEvents int) *MemoryBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}
	return &MemoryBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

func (b *MemoryBus) Publish(_ context.Context, event Event) error {
	b.Record(event)
	return nil
}

// Record appends one event and assigns sequence and timestamp.
func (b *MemoryBus) Record(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}
	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *MemoryBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// Fanout records every event on the memory bus first, then forwards the
// sequenced event to the remaining publishers.
type Fanout struct {
	memory *MemoryBus
	others []Publisher
}

func NewFanout(memory *MemoryBus, others ...Publisher) *Fanout {
	kept := make([]Publisher, 0, len(others))
	for _, p := range others {
		if p != nil {
			kept = append(kept, p)
		}
	}
	return &Fanout{memory: memory, others: kept}
}

func (f *Fanout) Publish(ctx context.Context, event Event) error {
	if f.memory != nil {
		event = f.memory.Record(event)
	}
	var errs []error
	for _, p := range f.others {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
