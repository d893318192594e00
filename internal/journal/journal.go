// Package journal keeps a bounded history of pipeline events and streams
// new ones to a single consumer.
package journal

import (
	"sync"
	"time"
)

// Kind classifies an event.
type Kind string

const (
	KindTransition    Kind = "transition"
	KindGameFinished  Kind = "game_finished"
	KindGameDiscarded Kind = "game_discarded"
	KindRoster        Kind = "roster"
	KindWarning       Kind = "warning"
	KindSource        Kind = "source"
)

// Event is one journal entry. Data carries a kind specific payload.
type Event struct {
	Time    time.Time `json:"time"`
	Kind    Kind      `json:"type"`
	Source  string    `json:"source"`
	Message string    `json:"message,omitempty"`
	Data    any       `json:"data,omitempty"`
}

// Journal is an in-memory event log.
type Journal struct {
	mu       sync.RWMutex
	entries  []Event
	maxSize  int
	eventsCh chan Event
	dropped  uint64
	now      func() time.Time
}

// New creates a journal holding maxEntries events.
func New(maxEntries, eventBuffer int) *Journal {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if eventBuffer < 0 {
		eventBuffer = 0
	}
	return &Journal{
		entries:  make([]Event, 0, maxEntries),
		maxSize:  maxEntries,
		eventsCh: make(chan Event, eventBuffer),
		now:      time.Now,
	}
}

// Add records e, stamping it if its time is zero, and emits it.
func (j *Journal) Add(e Event) Event {
	if e.Time.IsZero() {
		e.Time = j.now()
	}

	j.mu.Lock()
	j.entries = append(j.entries, e)
	if len(j.entries) > j.maxSize {
		j.entries = j.entries[len(j.entries)-j.maxSize:]
	}
	j.mu.Unlock()

	j.Emit(e)
	return e
}

// Recent returns up to n most recent events, oldest first. n <= 0 returns all.
func (j *Journal) Recent(n int) []Event {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if n <= 0 || n > len(j.entries) {
		n = len(j.entries)
	}
	result := make([]Event, n)
	copy(result, j.entries[len(j.entries)-n:])
	return result
}

// Since returns events newer than d, optionally filtered by source.
func (j *Journal) Since(d time.Duration, source string) []Event {
	j.mu.RLock()
	defer j.mu.RUnlock()

	cutoff := j.now().Add(-d)
	var result []Event
	for _, e := range j.entries {
		if e.Time.After(cutoff) && (source == "" || e.Source == source) {
			result = append(result, e)
		}
	}
	return result
}

// Events returns the channel of new events.
func (j *Journal) Events() <-chan Event {
	return j.eventsCh
}

// Emit sends an event without recording it (non-blocking).
func (j *Journal) Emit(e Event) {
	select {
	case j.eventsCh <- e:
	default:
		j.mu.Lock()
		j.dropped++
		j.mu.Unlock()
	}
}

// Dropped returns how many events the consumer missed.
func (j *Journal) Dropped() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.dropped
}
