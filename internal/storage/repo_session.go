package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRecord is written when a completion starts.
type SessionRecord struct {
	ID           uuid.UUID
	Timestamp    time.Time
	Message      string
	MessageChars int
}

// SessionSummary is written once the session has ended.
type SessionSummary struct {
	ID           uuid.UUID
	Timestamp    time.Time // start time, part of the key
	State        string
	Frames       int
	Events       int
	FinalSeen    bool
	TextLength   int
	RawBytes     int64
	ErrorMessage string
	DurationMs   int
}

// SessionInsert records the start of a session.
type SessionInsert struct {
	Session SessionRecord
}

func InsertSessionJob(r SessionRecord) WriteJob {
	return &SessionInsert{Session: r}
}

func (j *SessionInsert) Execute(ctx context.Context, pool *pgxpool.Pool) error {
	r := j.Session
	_, err := pool.Exec(ctx, `
		INSERT INTO sessions (id, ts, message, message_chars)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id, ts) DO NOTHING`,
		r.ID, r.Timestamp, r.Message, r.MessageChars,
	)
	return err
}

// SessionCompletion stores the outcome of a session. The row is created if
// the start record was never archived.
type SessionCompletion struct {
	Summary SessionSummary
}

func CompleteSessionJob(s SessionSummary) WriteJob {
	return &SessionCompletion{Summary: s}
}

func (j *SessionCompletion) Execute(ctx context.Context, pool *pgxpool.Pool) error {
	s := j.Summary
	_, err := pool.Exec(ctx, `
		INSERT INTO sessions (
			id, ts, message, state, frames, events, final_seen,
			text_length, raw_bytes, error_message, duration_ms
		) VALUES ($1, $2, '', $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id, ts) DO UPDATE SET
			state = EXCLUDED.state,
			frames = EXCLUDED.frames,
			events = EXCLUDED.events,
			final_seen = EXCLUDED.final_seen,
			text_length = EXCLUDED.text_length,
			raw_bytes = EXCLUDED.raw_bytes,
			error_message = EXCLUDED.error_message,
			duration_ms = EXCLUDED.duration_ms`,
		s.ID, s.Timestamp, s.State, s.Frames, s.Events, s.FinalSeen,
		s.TextLength, s.RawBytes, nilIfEmpty(s.ErrorMessage), s.DurationMs,
	)
	return err
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
