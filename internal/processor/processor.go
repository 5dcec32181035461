package processor

import (
	"encoding/json"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/namikmesic/crewchat/internal/jetstream"
	"github.com/namikmesic/crewchat/internal/storage"
	"github.com/namikmesic/crewchat/internal/stream"
)

const ConsumerName = "crewchat-archiver"

// Writer accepts database jobs; *storage.BatchWriter implements it.
type Writer interface {
	Enqueue(job storage.WriteJob) bool
}

// Processor decodes archived streams into session and event rows.
type Processor struct {
	writer Writer

	mu       sync.Mutex
	sessions map[uuid.UUID]*sessionState
}

type sessionState struct {
	ts      time.Time
	dec     *stream.Decoder
	frames  int
	events  int
	final   bool
	textLen int
}

func New(writer Writer) *Processor {
	return &Processor{writer: writer, sessions: make(map[uuid.UUID]*sessionState)}
}

// StartConsumer subscribes a durable consumer to every archive subject.
func (p *Processor) StartConsumer(js nats.JetStreamContext) (*nats.Subscription, error) {
	return js.Subscribe(jetstream.SubjectAll, p.handleMsg,
		nats.Durable(ConsumerName),
		nats.ManualAck(),
	)
}

func (p *Processor) handleMsg(msg *nats.Msg) {
	ts := time.Now()
	if md, err := msg.Metadata(); err == nil {
		ts = md.Timestamp
	}
	p.Process(msg.Subject, msg.Data, ts)
	if err := msg.Ack(); err != nil {
		log.Warn().Err(err).Str("subject", msg.Subject).Msg("archive ack failed")
	}
}

// Process applies one archive message published at ts.
func (p *Processor) Process(subject string, data []byte, ts time.Time) {
	rawID, kind := jetstream.ParseSubject(subject)
	id, err := uuid.Parse(rawID)
	if kind == jetstream.KindUnknown || err != nil {
		log.Warn().Str("subject", subject).Msg("ignoring unexpected archive subject")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch kind {
	case jetstream.KindStart:
		p.start(id, data, ts)
	case jetstream.KindChunk:
		p.chunk(id, data, ts)
	case jetstream.KindDone:
		p.done(id, data, ts)
	}
}

// state returns the decoder state of a session, creating it when the start
// message was lost.
func (p *Processor) state(id uuid.UUID, ts time.Time) *sessionState {
	st, ok := p.sessions[id]
	if !ok {
		st = &sessionState{ts: ts, dec: stream.NewDecoder()}
		p.sessions[id] = st
	}
	return st
}

func (p *Processor) start(id uuid.UUID, body []byte, ts time.Time) {
	st := p.state(id, ts)
	req := ParseCompletionRequest(body)
	p.writer.Enqueue(storage.InsertSessionJob(storage.SessionRecord{
		ID:           id,
		Timestamp:    st.ts,
		Message:      req.Message,
		MessageChars: req.Chars,
	}))
}

func (p *Processor) chunk(id uuid.UUID, data []byte, ts time.Time) {
	st := p.state(id, ts)
	p.enqueueEvents(id, st, st.dec.Feed(data))
}

func (p *Processor) done(id uuid.UUID, data []byte, ts time.Time) {
	st := p.state(id, ts)
	if f, ok := st.dec.Flush(); ok {
		p.enqueueEvents(id, st, []stream.Frame{f})
	}
	delete(p.sessions, id)

	var out Outcome
	if err := json.Unmarshal(data, &out); err != nil {
		log.Warn().Err(err).Str("session_id", id.String()).Msg("malformed session outcome")
	}

	p.writer.Enqueue(storage.CompleteSessionJob(storage.SessionSummary{
		ID:           id,
		Timestamp:    st.ts,
		State:        out.State,
		Frames:       st.frames,
		Events:       st.events,
		FinalSeen:    st.final,
		TextLength:   st.textLen,
		RawBytes:     out.RawBytes,
		ErrorMessage: out.Error,
		DurationMs:   out.DurationMs,
	}))

	log.Debug().
		Str("session_id", id.String()).
		Int("frames", st.frames).
		Int("events", st.events).
		Bool("final", st.final).
		Msg("stream processing complete")
}

func (p *Processor) enqueueEvents(id uuid.UUID, st *sessionState, frames []stream.Frame) {
	if len(frames) == 0 {
		return
	}
	var rows []storage.StreamEvent
	for _, f := range frames {
		st.frames++
		for _, ev := range stream.Classify(f) {
			st.events++
			rows = append(rows, st.row(f, ev))
		}
	}
	if len(rows) > 0 {
		p.writer.Enqueue(storage.InsertStreamEventsJob(id, st.ts, rows))
	}
}

func (st *sessionState) row(f stream.Frame, ev stream.Event) storage.StreamEvent {
	row := storage.StreamEvent{
		Index:      st.events,
		FrameIndex: f.Index,
		Kind:       stream.Kind(ev),
		Raw:        f.Raw,
	}
	switch e := ev.(type) {
	case stream.MessageChunk:
		row.Text = e.Text
		st.textLen += utf8.RuneCountInString(e.Text)
		if e.Final {
			st.final = true
			row.Status = "final"
		}
	case stream.ToolCallNotice:
		row.OperationID = e.OperationID
		row.Status = string(e.Status)
		row.Text = e.Message
	case stream.InformationNotice:
		row.Text = e.Content
		if e.Final {
			row.Status = "final"
		}
	case stream.AgentSwitch:
		row.Text = e.AgentID
	case stream.Unparseable:
		if e.Err != nil {
			row.Text = e.Err.Error()
		}
	}
	return row
}
