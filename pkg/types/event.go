// Package types defines the record shapes shared by every pipeline stage:
// raw events, bronze records, silver rows, and the key helpers derived from them.
package types

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event carried by an Event.
type EventType string

const (
	EventOrderCreated   EventType = "order.created"
	EventStageChanged   EventType = "order.stage_changed"
	EventOrderCompleted EventType = "order.completed"
	EventHeartbeat      EventType = "heartbeat"
)

// Event is an immutable record produced by an event source. Sequence is a
// per-stream monotonic ordinal used for ordering and deduplication; EventTime
// is producer-assigned and may be out of order across streams. Body stays an
// opaque blob so payload schema evolution never invalidates ingested records.
type Event struct {
	StreamID  string          `json:"stream_id"`
	Sequence  uint64          `json:"sequence"`
	Type      EventType       `json:"event_type"`
	EventTime time.Time       `json:"event_time"`
	Body      json.RawMessage `json:"body"`
}

// BronzeRecord is an Event plus ingestion metadata. Offset is the record's
// position in the bronze log, assigned at append time and used by downstream
// stages as their checkpoint position. SourceOffset is the replay position
// (the event's sequence) the upstream checkpoint protects.
type BronzeRecord struct {
	Event
	Offset       uint64    `json:"offset"`
	SourceOffset uint64    `json:"source_offset"`
	IngestTime   time.Time `json:"ingest_time"`
}

// Identity returns the dedup identity of the underlying event.
func (r *BronzeRecord) Identity() (string, uint64) {
	return r.StreamID, r.Sequence
}
