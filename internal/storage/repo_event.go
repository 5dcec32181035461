package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StreamEvent is one classified event of an archived stream.
type StreamEvent struct {
	Index       int // position among the session's events
	FrameIndex  int
	Kind        string
	OperationID string
	Status      string
	Text        string
	Raw         string
}

var streamEventColumns = []string{
	"ts", "session_id", "event_index", "frame_index", "kind", "operation_id", "status", "text", "raw",
}

// StreamEventsInsert copies a batch of events with the COPY protocol.
type StreamEventsInsert struct {
	SessionID uuid.UUID
	Timestamp time.Time
	Events    []StreamEvent
}

func InsertStreamEventsJob(sessionID uuid.UUID, ts time.Time, events []StreamEvent) WriteJob {
	return &StreamEventsInsert{SessionID: sessionID, Timestamp: ts, Events: events}
}

func (j *StreamEventsInsert) Execute(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.CopyFrom(ctx,
		pgx.Identifier{"stream_events"},
		streamEventColumns,
		pgx.CopyFromRows(j.rows()),
	)
	return err
}

func (j *StreamEventsInsert) rows() [][]any {
	rows := make([][]any, len(j.Events))
	for i, ev := range j.Events {
		rows[i] = []any{
			j.Timestamp,
			j.SessionID,
			ev.Index,
			ev.FrameIndex,
			ev.Kind,
			nilIfEmpty(ev.OperationID),
			nilIfEmpty(ev.Status),
			nilIfEmpty(ev.Text),
			ev.Raw,
		}
	}
	return rows
}
