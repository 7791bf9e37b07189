package telemetry

import (
	"context"
	"time"

	"codeberg.org/mutker/sawctl/internal/snapshot"
	"codeberg.org/mutker/sawctl/internal/state"
	"github.com/google/uuid"
)

// Collector defines the core domain interface
type Collector interface {
	Record(ctx context.Context, rec *Record) error
	Close() error
}

// Repository persists records. Implementations may buffer.
type Repository interface {
	Record(rec *Record) error
	Close() error
}

// Record is one persisted row: a processed snapshot with the state and
// cut session it was published under.
type Record struct {
	Timestamp time.Time
	Session   uuid.UUID
	State     state.SystemState
	Snapshot  *snapshot.Snapshot
}

// NewRecord builds a record from a published view. It returns nil before
// the first snapshot is published.
func NewRecord(v state.View) *Record {
	if v.Snapshot == nil {
		return nil
	}
	return &Record{
		Timestamp: v.Snapshot.CapturedAt(),
		Session:   v.Session,
		State:     v.State,
		Snapshot:  v.Snapshot,
	}
}
