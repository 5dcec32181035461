package session

import (
	"context"
	"sync"
)

// Streamer owns at most one active session.
type Streamer struct {
	opener   Opener
	recorder Recorder

	mu     sync.Mutex
	active *Session
}

type Option func(*Streamer)

// WithRecorder taps the raw bytes of every session into r.
func WithRecorder(r Recorder) Option {
	return func(st *Streamer) { st.recorder = r }
}

func New(opener Opener, opts ...Option) *Streamer {
	st := &Streamer{opener: opener}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// Start cancels the previous session, if still active, and streams the
// completion of message. ctx bounds the whole session.
func (st *Streamer) Start(ctx context.Context, message string, h Handlers) *Session {
	sctx, cancel := context.WithCancel(ctx)
	s := newSession(message, h, cancel)

	st.mu.Lock()
	prev := st.active
	st.active = s
	st.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}

	go s.run(sctx, st.opener, st.recorder)
	return s
}

// Cancel aborts the active session and reports whether there was one.
func (st *Streamer) Cancel() bool {
	st.mu.Lock()
	s := st.active
	st.mu.Unlock()

	return s != nil && s.Cancel()
}

// Active returns the current session while it is still streaming.
func (st *Streamer) Active() *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.active == nil || st.active.State() != Active {
		return nil
	}
	return st.active
}
