package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/namikmesic/crewchat/internal/api"
	"github.com/namikmesic/crewchat/internal/session"
	"github.com/namikmesic/crewchat/internal/stream"
)

const (
	DefaultGrace        = 3 * time.Second
	DefaultPollInterval = 2 * time.Second

	msgOperationValidated = "Operation validated"
	msgOperationCancelled = "Operation cancelled"
)

var ErrEmptyMessage = errors.New("message cannot be empty")

// Backend is the crew server as seen by the controller. *api.Client
// implements it.
type Backend interface {
	session.Opener
	StopCompletion(ctx context.Context) (api.Status, error)
	ResetMemory(ctx context.Context) (api.Status, error)
	Messages(ctx context.Context) ([]api.Message, error)
	ContextSize(ctx context.Context) (api.ContextSize, error)
	ValidateOperation(ctx context.Context, operationID string) (api.OperationResult, error)
	CancelOperation(ctx context.Context, operationID string) (api.OperationResult, error)
	ResetOperations(ctx context.Context) (api.OperationResult, error)
	Models(ctx context.Context) (api.Models, error)
	Health(ctx context.Context) (api.Health, error)
	CurrentAgent(ctx context.Context) (api.Agent, error)
}

// Change tells observers which part of the state moved.
type Change int

const (
	ChangeTranscript Change = iota + 1
	ChangeOperations
	ChangeStatus
	ChangeError
)

func (c Change) String() string {
	switch c {
	case ChangeTranscript:
		return "transcript"
	case ChangeOperations:
		return "operations"
	case ChangeStatus:
		return "status"
	case ChangeError:
		return "error"
	default:
		return "unknown"
	}
}

// Snapshot is a copy of the controller state.
type Snapshot struct {
	Messages    []RenderState      `json:"messages"`
	Operations  []PendingOperation `json:"operations"`
	Agent       api.Agent          `json:"agent"`
	ContextSize *api.ContextSize   `json:"context_size,omitempty"`
	Error       string             `json:"error,omitempty"`
	Loading     bool               `json:"loading"`
}

// Listener receives every delivered stream event with the id of the
// assistant message it belongs to, so a line-oriented front end can print
// chunks as they arrive.
type Listener func(messageID int, ev stream.Event)

// Controller owns the chat state. Stream callbacks, timers and callers all
// mutate it through the methods below.
type Controller struct {
	backend  Backend
	streamer *session.Streamer
	grace    time.Duration

	mu          sync.Mutex
	transcript  Transcript
	ops         Operations
	timers      *graceTimers
	agent       api.Agent
	contextSize *api.ContextSize
	errBanner   string
	loading     bool
	streamingID int

	obsMu     sync.Mutex
	observers map[int]func(Change)
	listeners map[int]Listener
	nextObsID int
}

type Option func(*Controller)

// WithGrace sets how long terminal notices stay visible.
func WithGrace(d time.Duration) Option {
	return func(c *Controller) { c.grace = d }
}

// WithStreamer replaces the session streamer, e.g. to attach a recorder.
func WithStreamer(st *session.Streamer) Option {
	return func(c *Controller) { c.streamer = st }
}

func NewController(backend Backend, opts ...Option) *Controller {
	c := &Controller{
		backend:   backend,
		grace:     DefaultGrace,
		observers: make(map[int]func(Change)),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.streamer == nil {
		c.streamer = session.New(backend)
	}
	c.timers = newGraceTimers(&c.mu, c.grace, c.notify)
	return c
}

// Subscribe registers fn for every state change. fn runs without the
// controller lock held and may call Snapshot, but must not call Send or
// Stop synchronously since it can run on a session goroutine.
func (c *Controller) Subscribe(fn func(Change)) (unsubscribe func()) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.nextObsID++
	id := c.nextObsID
	c.observers[id] = fn
	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

// Listen registers fn for every delivered stream event.
func (c *Controller) Listen(fn Listener) (unsubscribe func()) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.nextObsID++
	id := c.nextObsID
	c.listeners[id] = fn
	return func() {
		c.obsMu.Lock()
		delete(c.listeners, id)
		c.obsMu.Unlock()
	}
}

func (c *Controller) notify(change Change) {
	c.obsMu.Lock()
	fns := make([]func(Change), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.obsMu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}

func (c *Controller) forward(messageID int, ev stream.Event) {
	c.obsMu.Lock()
	fns := make([]Listener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.obsMu.Unlock()

	for _, fn := range fns {
		fn(messageID, ev)
	}
}

// Send appends the user message and streams the assistant reply. Any
// session still streaming is cancelled first.
func (c *Controller) Send(ctx context.Context, message string) (*session.Session, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.streamingID != 0 {
		c.transcript.Interrupt(c.streamingID)
	}
	c.transcript.Append(RoleUser, message, false)
	msgID := c.transcript.Append(RoleAssistant, "", true)
	c.streamingID = msgID
	c.loading = true
	c.mu.Unlock()
	c.notify(ChangeTranscript)

	// The streamer must be called without c.mu: cancelling the previous
	// session waits for its in-flight delivery, which takes c.mu.
	s := c.streamer.Start(ctx, message, session.Handlers{
		OnEvent: func(ev stream.Event) { c.onEvent(msgID, ev) },
		OnError: func(err error) { c.onError(msgID, err) },
	})
	log.Debug().Str("session_id", s.ID.String()).Int("message_id", msgID).Msg("message sent")
	go c.settleOnDone(s, msgID)
	return s, nil
}

// settleOnDone clears the streaming state of a message whose session was
// cancelled before its final chunk.
func (c *Controller) settleOnDone(s *session.Session, msgID int) {
	<-s.Done()
	if s.State() != session.Cancelled {
		return
	}

	c.mu.Lock()
	changed := c.transcript.Interrupt(msgID)
	if c.streamingID == msgID {
		c.streamingID = 0
		c.loading = false
		changed = true
	}
	c.mu.Unlock()

	if changed {
		c.notify(ChangeTranscript)
	}
}

func (c *Controller) onEvent(msgID int, ev stream.Event) {
	var change Change

	c.mu.Lock()
	switch e := ev.(type) {
	case stream.MessageChunk:
		c.transcript.AppendText(msgID, e.Text)
		if e.Final {
			c.transcript.Finish(msgID)
			if c.streamingID == msgID {
				c.streamingID = 0
				c.loading = false
			}
		}
		change = ChangeTranscript

	case stream.ToolCallNotice:
		c.applyToolCall(e)
		change = ChangeOperations

	case stream.InformationNotice:
		c.applyInformation(e)
		change = ChangeTranscript

	case stream.AgentSwitch:
		if c.agent.AgentID != e.AgentID {
			log.Info().Str("agent_id", e.AgentID).Msg("agent switched")
		}
		c.agent.AgentID = e.AgentID
		change = ChangeStatus
	}
	c.mu.Unlock()

	if change != 0 {
		c.notify(change)
	}
	c.forward(msgID, ev)
}

func (c *Controller) onError(msgID int, err error) {
	c.mu.Lock()
	c.transcript.Interrupt(msgID)
	if c.streamingID == msgID {
		c.streamingID = 0
		c.loading = false
	}
	c.errBanner = bannerText("An error occurred during streaming", err)
	c.mu.Unlock()

	c.notify(ChangeError)
}

// applyToolCall must be called with c.mu held.
func (c *Controller) applyToolCall(n stream.ToolCallNotice) {
	key := operationKey(n.OperationID)
	c.timers.cancel(key)
	c.ops.Upsert(PendingOperation{OperationID: n.OperationID, Status: n.Status, Message: n.Message})
	if n.Status.IsTerminal() {
		c.scheduleOperationRemoval(n.OperationID)
	}
}

func (c *Controller) scheduleOperationRemoval(id string) {
	c.timers.schedule(operationKey(id), func() Change {
		c.ops.Remove(id)
		return ChangeOperations
	})
}

// applyInformation updates the open information message in place, or
// appends a new one. Final notices are removed after the grace period.
func (c *Controller) applyInformation(n stream.InformationNotice) {
	id, open := c.transcript.OpenInformation()
	if open {
		c.transcript.SetContent(id, n.Content)
	} else {
		id = c.transcript.Append(RoleInformation, n.Content, false)
	}
	if !n.Final {
		return
	}

	c.transcript.Finish(id)
	c.timers.schedule(informationKey(id), func() Change {
		c.transcript.Remove(id)
		return ChangeTranscript
	})
}

func operationKey(id string) string { return "op:" + id }

func informationKey(id int) string { return "info:" + strconv.Itoa(id) }

// Stop cancels the local session, then asks the server to stop generating.
func (c *Controller) Stop(ctx context.Context) error {
	cancelled := c.streamer.Cancel()

	c.mu.Lock()
	c.transcript.Interrupt(c.streamingID)
	c.streamingID = 0
	c.loading = false
	c.mu.Unlock()
	c.notify(ChangeTranscript)

	st, err := c.backend.StopCompletion(ctx)
	if err != nil {
		c.setError("Failed to stop completion", err)
		return err
	}
	log.Info().Bool("local_cancelled", cancelled).Str("server", st.Message).Msg("completion stopped")
	return nil
}

// ResetMemory clears the server memory, then the local state.
func (c *Controller) ResetMemory(ctx context.Context) error {
	if _, err := c.backend.ResetMemory(ctx); err != nil {
		c.setError("Failed to reset memory", err)
		return err
	}
	c.streamer.Cancel()

	c.mu.Lock()
	c.timers.stopAll()
	c.transcript.Clear()
	c.ops.Clear()
	c.contextSize = nil
	c.errBanner = ""
	c.streamingID = 0
	c.loading = false
	c.mu.Unlock()

	c.notify(ChangeTranscript)
	c.notify(ChangeOperations)
	c.notify(ChangeStatus)
	return nil
}

// Validate approves a pending tool call.
func (c *Controller) Validate(ctx context.Context, operationID string) (api.OperationResult, error) {
	res, err := c.backend.ValidateOperation(ctx, operationID)
	if err != nil {
		c.setError("Failed to validate operation", err)
		return res, err
	}
	c.settleOperation(operationID, stream.StatusCompleted, msgOperationValidated)
	return res, nil
}

// CancelOperation denies a pending tool call.
func (c *Controller) CancelOperation(ctx context.Context, operationID string) (api.OperationResult, error) {
	res, err := c.backend.CancelOperation(ctx, operationID)
	if err != nil {
		c.setError("Failed to cancel operation", err)
		return res, err
	}
	c.settleOperation(operationID, stream.StatusCancelled, msgOperationCancelled)
	return res, nil
}

func (c *Controller) settleOperation(id string, status stream.OperationStatus, message string) {
	c.mu.Lock()
	found := c.ops.Update(id, status, message)
	if found {
		c.scheduleOperationRemoval(id)
	}
	c.mu.Unlock()

	if found {
		c.notify(ChangeOperations)
	}
}

// ResetOperations drops every pending operation on the server and locally.
func (c *Controller) ResetOperations(ctx context.Context) (api.OperationResult, error) {
	res, err := c.backend.ResetOperations(ctx)
	if err != nil {
		c.setError("Failed to reset operations", err)
		return res, err
	}

	c.mu.Lock()
	for _, op := range c.ops.List() {
		c.timers.cancel(operationKey(op.OperationID))
	}
	c.ops.Clear()
	c.mu.Unlock()

	c.notify(ChangeOperations)
	return res, nil
}

// RefreshStatus fetches the context size and the current agent. Failures
// are logged, not shown: the next poll tries again.
func (c *Controller) RefreshStatus(ctx context.Context) error {
	size, sizeErr := c.backend.ContextSize(ctx)
	agent, agentErr := c.backend.CurrentAgent(ctx)

	c.mu.Lock()
	if sizeErr == nil {
		c.contextSize = &size
	}
	if agentErr == nil {
		c.agent = agent
	}
	c.mu.Unlock()

	err := errors.Join(sizeErr, agentErr)
	if err != nil && ctx.Err() == nil {
		log.Debug().Err(err).Msg("status refresh failed")
	}
	if sizeErr == nil || agentErr == nil {
		c.notify(ChangeStatus)
	}
	return err
}

// PollStatus refreshes the status every interval until ctx is done.
func (c *Controller) PollStatus(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	_ = c.RefreshStatus(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.RefreshStatus(ctx)
		}
	}
}

func (c *Controller) Messages(ctx context.Context) ([]api.Message, error) {
	msgs, err := c.backend.Messages(ctx)
	if err != nil {
		c.setError("Failed to fetch messages", err)
	}
	return msgs, err
}

func (c *Controller) Models(ctx context.Context) (api.Models, error) {
	m, err := c.backend.Models(ctx)
	if err != nil {
		c.setError("Failed to fetch models", err)
	}
	return m, err
}

func (c *Controller) Health(ctx context.Context) (api.Health, error) {
	return c.backend.Health(ctx)
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Messages:   c.transcript.Messages(),
		Operations: c.ops.List(),
		Agent:      c.agent,
		Error:      c.errBanner,
		Loading:    c.loading,
	}
	if c.contextSize != nil {
		cs := *c.contextSize
		snap.ContextSize = &cs
	}
	return snap
}

// FirstUserMessage returns the opening message of the conversation.
func (c *Controller) FirstUserMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.FirstUserMessage()
}

func (c *Controller) DismissError() {
	c.mu.Lock()
	c.errBanner = ""
	c.mu.Unlock()
	c.notify(ChangeError)
}

// Close cancels the active session and every pending removal.
func (c *Controller) Close() {
	c.streamer.Cancel()
	c.mu.Lock()
	c.timers.stopAll()
	c.mu.Unlock()
}

func (c *Controller) setError(prefix string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	c.mu.Lock()
	c.errBanner = bannerText(prefix, err)
	c.mu.Unlock()
	c.notify(ChangeError)
}

func bannerText(prefix string, err error) string {
	if err == nil {
		return prefix
	}
	return fmt.Sprintf("%s: %v", prefix, err)
}
