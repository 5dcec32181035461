package processor

import (
	"encoding/json"
	"io"
	"time"

	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/namikmesic/crewchat/internal/jetstream"
	"github.com/namikmesic/crewchat/internal/session"
)

const tapBufferSize = 32 * 1024

// Outcome is published on a session's done subject.
type Outcome struct {
	TS         int64  `json:"ts"`
	State      string `json:"state"`
	Frames     int    `json:"frames"`
	RawBytes   int64  `json:"raw_bytes"`
	DurationMs int    `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Recorder publishes every session to JetStream: the request, each raw
// chunk as read, then the outcome.
type Recorder struct {
	js nats.JetStreamContext
}

func NewRecorder(js nats.JetStreamContext) *Recorder {
	return &Recorder{js: js}
}

func (r *Recorder) Record(s *session.Session, tap io.Reader) {
	id := s.ID.String()
	r.publish(jetstream.StartSubject(id), EncodeCompletionRequest(s.Message))

	buf := make([]byte, tapBufferSize)
	var total int64
	for {
		n, err := tap.Read(buf)
		if n > 0 {
			total += int64(n)
			r.publish(jetstream.ChunkSubject(id), buf[:n])
		}
		if err != nil {
			break
		}
	}

	out := Outcome{TS: s.Started.UnixNano(), RawBytes: total}
	if err := s.Wait(); err != nil {
		out.Error = err.Error()
	}
	out.State = s.State().String()
	out.Frames = s.Frames()
	out.DurationMs = int(time.Since(s.Started).Milliseconds())

	done, _ := json.Marshal(out)
	r.publish(jetstream.DoneSubject(id), done)

	log.Debug().
		Str("session_id", id).
		Str("state", out.State).
		Int64("raw_bytes", total).
		Msg("session recorded")
}

func (r *Recorder) publish(subject string, data []byte) {
	if _, err := r.js.Publish(subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("archive publish failed")
	}
}
