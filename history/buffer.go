// Package history keeps a bounded in-memory record of control ticks and an
// optional CSV log for offline analysis. Nothing here survives a restart.
package history

import (
	"sync"
	"time"
)

// TickRecord captures one control evaluation for one cover.
type TickRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Controller string    `json:"controller"`
	EntityID   string    `json:"entity_id"`

	SunAzimuth   float64 `json:"sun_azimuth"`
	SunElevation float64 `json:"sun_elevation"`
	Gamma        float64 `json:"gamma"`
	SunInView    bool    `json:"sun_in_view"`

	Strategy string `json:"strategy"`
	Computed int    `json:"computed"`
	Final    int    `json:"final"`

	Dispatched bool   `json:"dispatched"`
	Reason     string `json:"reason,omitempty"`
	CommandID  string `json:"command_id,omitempty"`
}

// Buffer is a fixed-capacity ring of tick records with a latest-per-entity
// index.
type Buffer struct {
	mu       sync.RWMutex
	data     []TickRecord
	head     int
	size     int
	capacity int

	indexMu        sync.RWMutex
	latestByEntity map[string]TickRecord
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		data:           make([]TickRecord, capacity),
		capacity:       capacity,
		latestByEntity: make(map[string]TickRecord),
	}
}

// Push appends a record, evicting the oldest when full.
func (b *Buffer) Push(rec TickRecord) {
	b.mu.Lock()
	b.data[b.head] = rec
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
	b.mu.Unlock()

	b.indexMu.Lock()
	b.latestByEntity[rec.EntityID] = rec
	b.indexMu.Unlock()
}

// Recent returns up to n records, newest first.
func (b *Buffer) Recent(n int) []TickRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n > b.size {
		n = b.size
	}
	result := make([]TickRecord, n)
	for i := 0; i < n; i++ {
		idx := (b.head - 1 - i + b.capacity) % b.capacity
		result[i] = b.data[idx]
	}
	return result
}

// ByTimeRange returns records with timestamps inside [start, end].
func (b *Buffer) ByTimeRange(start, end time.Time) []TickRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]TickRecord, 0)
	for i := 0; i < b.size; i++ {
		rec := b.data[i]
		if !rec.Timestamp.Before(start) && !rec.Timestamp.After(end) {
			result = append(result, rec)
		}
	}
	return result
}

// Latest returns the newest record for an entity.
func (b *Buffer) Latest(entityID string) (TickRecord, bool) {
	b.indexMu.RLock()
	defer b.indexMu.RUnlock()
	rec, ok := b.latestByEntity[entityID]
	return rec, ok
}

func (b *Buffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

func (b *Buffer) Capacity() int { return b.capacity }

// Stats summarizes the retained ticks for diagnostics.
type Stats struct {
	Records    int       `json:"records"`
	Capacity   int       `json:"capacity"`
	Dispatched int       `json:"dispatched"`
	Gated      int       `json:"gated"`
	Entities   int       `json:"entities"`
	OldestTick time.Time `json:"oldest_tick,omitempty"`
	NewestTick time.Time `json:"newest_tick,omitempty"`
}

// Stats walks the retained records and counts dispatch outcomes.
func (b *Buffer) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Stats{Records: b.size, Capacity: b.capacity}
	entities := make(map[string]struct{})
	for i := 0; i < b.size; i++ {
		idx := (b.head - b.size + i + b.capacity) % b.capacity
		rec := b.data[idx]
		entities[rec.EntityID] = struct{}{}
		if rec.Dispatched {
			st.Dispatched++
		} else if rec.Reason != "" {
			st.Gated++
		}
	}
	st.Entities = len(entities)
	if b.size > 0 {
		oldestIdx := (b.head - b.size + b.capacity) % b.capacity
		st.OldestTick = b.data[oldestIdx].Timestamp
		newestIdx := (b.head - 1 + b.capacity) % b.capacity
		st.NewestTick = b.data[newestIdx].Timestamp
	}
	return st
}
