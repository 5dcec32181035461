package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/namikmesic/crewchat/internal/stream"
)

// readBufferSize matches the chunk size used when relaying server streams.
const readBufferSize = 32 * 1024

type State int32

const (
	Idle State = iota
	Active
	Completed
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

// Opener opens the byte stream of one completion. Cancelling ctx must abort
// the stream.
type Opener interface {
	OpenCompletion(ctx context.Context, message string) (io.ReadCloser, error)
}

// Recorder receives a copy of every raw byte a session reads. Record runs on
// its own goroutine and must drain r until it returns an error or EOF; the
// outcome is available from s once s.Done() is closed.
type Recorder interface {
	Record(s *Session, r io.Reader)
}

// Handlers are invoked on the session goroutine, in decode order. They must
// not call Cancel or Streamer.Start synchronously.
type Handlers struct {
	OnEvent func(stream.Event)
	OnError func(error)
}

// Session is one request/response cycle of a completion.
type Session struct {
	ID      uuid.UUID
	Message string
	Started time.Time

	state    atomic.Int32
	handlers Handlers
	cancel   context.CancelFunc

	// mu serialises delivery with Cancel: once Cancel returns true no
	// handler of this session runs again.
	mu   sync.Mutex
	done chan struct{}
	err  error

	frames atomic.Int64
}

func newSession(message string, h Handlers, cancel context.CancelFunc) *Session {
	s := &Session{
		ID:       uuid.New(),
		Message:  message,
		Started:  time.Now(),
		handlers: h,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.state.Store(int32(Active))
	return s
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Cancel aborts an active session. It returns false when the session had
// already ended; a session is cancelled at most once.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.CompareAndSwap(int32(Active), int32(Cancelled)) {
		return false
	}
	s.cancel()
	log.Debug().Str("session_id", s.ID.String()).Msg("session cancelled")
	return true
}

// Done is closed once the read loop has exited and the transport is released.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session ends and returns its failure, if any.
// Cancellation is not a failure.
func (s *Session) Wait() error {
	<-s.done
	return s.err
}

// Frames returns the number of data frames decoded so far.
func (s *Session) Frames() int {
	return int(s.frames.Load())
}

func (s *Session) run(ctx context.Context, opener Opener, rec Recorder) {
	defer close(s.done)
	defer s.cancel()

	body, err := opener.OpenCompletion(ctx, s.Message)
	if err != nil {
		s.fail(ctx, err)
		return
	}

	var rc io.ReadCloser = body
	if rec != nil {
		tee, tap := stream.TeeBody(body)
		rc = tee
		go rec.Record(s, tap)
	}
	defer rc.Close()

	dec := stream.NewDecoder()
	buf := make([]byte, readBufferSize)
	for {
		n, err := rc.Read(buf)
		if n > 0 {
			for _, f := range dec.Feed(buf[:n]) {
				if !s.handle(f) {
					return
				}
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.fail(ctx, fmt.Errorf("read stream: %w", err))
			return
		}
	}

	if f, ok := dec.Flush(); ok {
		if !s.handle(f) {
			return
		}
	}

	// The server closed the stream without a final chunk.
	s.deliver(stream.MessageChunk{Final: true}, true)
}

// handle delivers the events of one frame. It returns false once the
// session is no longer active.
func (s *Session) handle(f stream.Frame) bool {
	s.frames.Add(1)

	for _, ev := range stream.Classify(f) {
		if u, ok := ev.(stream.Unparseable); ok {
			log.Warn().
				Err(u.Err).
				Str("session_id", s.ID.String()).
				Int("frame", f.Index).
				Str("raw", u.Raw).
				Msg("skipping unparseable frame")
			continue
		}

		chunk, isChunk := ev.(stream.MessageChunk)
		final := isChunk && chunk.Final
		if !s.deliver(ev, final) || final {
			return false
		}
	}
	return true
}

// deliver hands ev to OnEvent while the session is active. When final is
// set the session completes under the same lock.
func (s *Session) deliver(ev stream.Event, final bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != Active {
		return false
	}
	if s.handlers.OnEvent != nil {
		s.handlers.OnEvent(ev)
	}
	if final && s.state.CompareAndSwap(int32(Active), int32(Completed)) {
		log.Debug().
			Str("session_id", s.ID.String()).
			Int("frames", s.Frames()).
			Dur("duration", time.Since(s.Started)).
			Msg("session completed")
	}
	return true
}

// fail ends the session. Cancellation, local or from the parent context,
// is silent; anything else is reported once through OnError.
func (s *Session) fail(ctx context.Context, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		if s.state.CompareAndSwap(int32(Active), int32(Cancelled)) {
			log.Debug().Str("session_id", s.ID.String()).Msg("session cancelled by context")
		}
		return
	}

	if !s.state.CompareAndSwap(int32(Active), int32(Failed)) {
		return
	}
	s.err = err
	log.Error().Err(err).Str("session_id", s.ID.String()).Msg("session failed")
	if s.handlers.OnError != nil {
		s.handlers.OnError(err)
	}
}
