package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namikmesic/crewchat/internal/api"
	"github.com/namikmesic/crewchat/internal/session"
	"github.com/namikmesic/crewchat/internal/stream"
)

const testGrace = 30 * time.Millisecond

type fakeBackend struct {
	open func(ctx context.Context, message string) (io.ReadCloser, error)

	mu          sync.Mutex
	calls       []string
	validateErr error
	resetErr    error
}

func streamOf(body string) func(context.Context, string) (io.ReadCloser, error) {
	return func(context.Context, string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}
}

// blockingStream never ends until its context is cancelled.
func blockingStream(ctx context.Context, _ string) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	go func() {
		<-ctx.Done()
		pw.CloseWithError(ctx.Err())
	}()
	return pr, nil
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeBackend) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (f *fakeBackend) OpenCompletion(ctx context.Context, message string) (io.ReadCloser, error) {
	f.record("completion")
	return f.open(ctx, message)
}

func (f *fakeBackend) StopCompletion(context.Context) (api.Status, error) {
	f.record("stop")
	return api.Status{Status: "ok", Message: "Stream stopped"}, nil
}

func (f *fakeBackend) ResetMemory(context.Context) (api.Status, error) {
	f.record("reset")
	return api.Status{Status: "ok"}, f.resetErr
}

func (f *fakeBackend) Messages(context.Context) ([]api.Message, error) {
	return []api.Message{{Role: "user", Content: "hi"}}, nil
}

func (f *fakeBackend) ContextSize(context.Context) (api.ContextSize, error) {
	return api.ContextSize{MessagesCount: 2, CharactersCount: 42, Limit: 8000}, nil
}

func (f *fakeBackend) ValidateOperation(_ context.Context, id string) (api.OperationResult, error) {
	f.record("validate:" + id)
	return api.OperationResult{Message: "✅ Operation " + id + " validated"}, f.validateErr
}

func (f *fakeBackend) CancelOperation(_ context.Context, id string) (api.OperationResult, error) {
	f.record("cancel:" + id)
	return api.OperationResult{Message: "⛔️ Operation " + id + " cancelled"}, nil
}

func (f *fakeBackend) ResetOperations(context.Context) (api.OperationResult, error) {
	f.record("reset-ops")
	return api.OperationResult{Message: "ℹ️ All pending operations cancelled"}, nil
}

func (f *fakeBackend) Models(context.Context) (api.Models, error) {
	return api.Models{Status: "ok", ChatModel: "qwen"}, nil
}

func (f *fakeBackend) Health(context.Context) (api.Health, error) {
	return api.Health{Status: "ok"}, nil
}

func (f *fakeBackend) CurrentAgent(context.Context) (api.Agent, error) {
	return api.Agent{AgentID: "generic", ModelID: "qwen", AgentName: "Bob"}, nil
}

func newTestController(t *testing.T, b *fakeBackend) *Controller {
	t.Helper()
	c := NewController(b, WithGrace(testGrace))
	t.Cleanup(c.Close)
	return c
}

func TestSend_StreamsIntoTranscript(t *testing.T) {
	b := &fakeBackend{open: streamOf(
		"data: {\"message\":\"Hel\"}\n" +
			"data: {\"message\":\"lo\",\"finish_reason\":\"stop\"}\n")}
	c := newTestController(t, b)

	s, err := c.Send(context.Background(), "  hi  ")
	require.NoError(t, err)
	require.NoError(t, s.Wait())

	snap := c.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, RoleUser, snap.Messages[0].Role)
	assert.Equal(t, "hi", snap.Messages[0].Content)
	assert.Equal(t, RoleAssistant, snap.Messages[1].Role)
	assert.Equal(t, "Hello", snap.Messages[1].Content)
	assert.False(t, snap.Messages[1].Streaming)
	assert.True(t, snap.Messages[1].Completed)
	assert.False(t, snap.Loading)
	assert.Equal(t, "hi", c.FirstUserMessage())
}

func TestSend_EmptyMessage(t *testing.T) {
	c := newTestController(t, &fakeBackend{open: streamOf("")})
	_, err := c.Send(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, c.Snapshot().Messages)
}

func TestSend_StreamFailureSetsBanner(t *testing.T) {
	b := &fakeBackend{open: func(context.Context, string) (io.ReadCloser, error) {
		return nil, &api.Error{Kind: api.KindTransport, Op: "/completion", Message: "request failed"}
	}}
	c := newTestController(t, b)

	s, err := c.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.Error(t, s.Wait())

	snap := c.Snapshot()
	assert.Contains(t, snap.Error, "request failed")
	assert.False(t, snap.Loading)
	assert.False(t, snap.Messages[1].Streaming)

	c.DismissError()
	assert.Empty(t, c.Snapshot().Error)
}

func TestSend_AgentSwitch(t *testing.T) {
	b := &fakeBackend{open: streamOf(
		"data: {\"message\":\"<b>Switched to agent: coder.</b><br>\"}\n" +
			"data: {\"message\":\"ok\",\"finish_reason\":\"stop\"}\n")}
	c := newTestController(t, b)

	s, err := c.Send(context.Background(), "write code")
	require.NoError(t, err)
	require.NoError(t, s.Wait())

	assert.Equal(t, "coder", c.Snapshot().Agent.AgentID)
}

func TestSend_CancelsPreviousSession(t *testing.T) {
	var opened atomic.Int32
	b := &fakeBackend{open: func(ctx context.Context, msg string) (io.ReadCloser, error) {
		if opened.Add(1) == 1 {
			return blockingStream(ctx, msg)
		}
		return io.NopCloser(strings.NewReader("data: {\"message\":\"second\",\"finish_reason\":\"stop\"}\n")), nil
	}}
	c := newTestController(t, b)

	first, err := c.Send(context.Background(), "one")
	require.NoError(t, err)
	second, err := c.Send(context.Background(), "two")
	require.NoError(t, err)

	<-first.Done()
	require.NoError(t, second.Wait())
	assert.Equal(t, session.Cancelled, first.State())

	require.Eventually(t, func() bool {
		snap := c.Snapshot()
		return len(snap.Messages) == 4 && !snap.Messages[1].Streaming
	}, time.Second, 5*time.Millisecond)

	snap := c.Snapshot()
	assert.Equal(t, "second", snap.Messages[3].Content)
	assert.Empty(t, snap.Error)
	assert.False(t, snap.Loading)
}

func TestStop(t *testing.T) {
	b := &fakeBackend{open: blockingStream}
	c := newTestController(t, b)

	s, err := c.Send(context.Background(), "long task")
	require.NoError(t, err)
	assert.True(t, c.Snapshot().Loading)

	require.NoError(t, c.Stop(context.Background()))
	<-s.Done()

	snap := c.Snapshot()
	assert.Equal(t, session.Cancelled, s.State())
	assert.False(t, snap.Loading)
	assert.False(t, snap.Messages[1].Streaming)
	assert.Empty(t, snap.Error)
	assert.True(t, b.called("stop"))
}

func TestToolCall_ValidateThenRemovedAfterGrace(t *testing.T) {
	b := &fakeBackend{open: streamOf(
		"data: {\"kind\":\"tool_call\",\"operation_id\":\"op_1\",\"status\":\"pending\",\"message\":\"Run calculate_sum?\"}\n" +
			"data: {\"message\":\"\",\"finish_reason\":\"stop\"}\n")}
	c := newTestController(t, b)

	s, err := c.Send(context.Background(), "add 2 and 3")
	require.NoError(t, err)
	require.NoError(t, s.Wait())

	ops := c.Snapshot().Operations
	require.Len(t, ops, 1)
	assert.Equal(t, PendingOperation{OperationID: "op_1", Status: stream.StatusPending, Message: "Run calculate_sum?"}, ops[0])

	_, err = c.Validate(context.Background(), "op_1")
	require.NoError(t, err)
	assert.True(t, b.called("validate:op_1"))

	ops = c.Snapshot().Operations
	require.Len(t, ops, 1)
	assert.Equal(t, stream.StatusCompleted, ops[0].Status)
	assert.Equal(t, "Operation validated", ops[0].Message)

	require.Eventually(t, func() bool {
		return len(c.Snapshot().Operations) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestToolCall_CancelOperation(t *testing.T) {
	c := newTestController(t, &fakeBackend{})
	c.onEvent(1, stream.ToolCallNotice{OperationID: "op_2", Status: stream.StatusPending})

	_, err := c.CancelOperation(context.Background(), "op_2")
	require.NoError(t, err)

	ops := c.Snapshot().Operations
	require.Len(t, ops, 1)
	assert.Equal(t, stream.StatusCancelled, ops[0].Status)
	assert.Equal(t, "Operation cancelled", ops[0].Message)
}

func TestToolCall_NewerNoticeCancelsRemoval(t *testing.T) {
	c := newTestController(t, &fakeBackend{})

	c.onEvent(1, stream.ToolCallNotice{OperationID: "op_3", Status: stream.StatusCompleted, Message: "done"})
	c.onEvent(1, stream.ToolCallNotice{OperationID: "op_3", Status: stream.StatusPending, Message: "again"})

	time.Sleep(4 * testGrace)
	ops := c.Snapshot().Operations
	require.Len(t, ops, 1)
	assert.Equal(t, "again", ops[0].Message)
}

func TestToolCall_UpdatedInPlace(t *testing.T) {
	c := newTestController(t, &fakeBackend{})

	c.onEvent(1, stream.ToolCallNotice{OperationID: "a", Status: stream.StatusPending})
	c.onEvent(1, stream.ToolCallNotice{OperationID: "b", Status: stream.StatusPending})
	c.onEvent(1, stream.ToolCallNotice{OperationID: "a", Status: stream.StatusPending, Message: "updated"})

	ops := c.Snapshot().Operations
	require.Len(t, ops, 2)
	assert.Equal(t, "a", ops[0].OperationID)
	assert.Equal(t, "updated", ops[0].Message)
}

func TestValidate_ErrorSetsBanner(t *testing.T) {
	b := &fakeBackend{validateErr: errors.New("boom")}
	c := newTestController(t, b)
	c.onEvent(1, stream.ToolCallNotice{OperationID: "op_1", Status: stream.StatusPending})

	_, err := c.Validate(context.Background(), "op_1")
	require.Error(t, err)

	snap := c.Snapshot()
	assert.Equal(t, "Failed to validate operation: boom", snap.Error)
	assert.Equal(t, stream.StatusPending, snap.Operations[0].Status)
}

func TestResetOperations(t *testing.T) {
	c := newTestController(t, &fakeBackend{})
	c.onEvent(1, stream.ToolCallNotice{OperationID: "x", Status: stream.StatusCompleted})
	c.onEvent(1, stream.ToolCallNotice{OperationID: "y", Status: stream.StatusPending})

	_, err := c.ResetOperations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, c.Snapshot().Operations)
}

func TestInformationNotices(t *testing.T) {
	c := newTestController(t, &fakeBackend{})

	c.onEvent(1, stream.InformationNotice{Content: "Compressing context..."})
	c.onEvent(1, stream.InformationNotice{Content: "Still compressing..."})

	msgs := c.Snapshot().Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleInformation, msgs[0].Role)
	assert.Equal(t, "Still compressing...", msgs[0].Content)
	assert.False(t, msgs[0].Completed)

	c.onEvent(1, stream.InformationNotice{Content: "✅ Compression completed", Final: true})
	msgs = c.Snapshot().Messages
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Completed)

	require.Eventually(t, func() bool {
		return len(c.Snapshot().Messages) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestResetMemory(t *testing.T) {
	b := &fakeBackend{open: streamOf("data: {\"message\":\"hello\",\"finish_reason\":\"stop\"}\n")}
	c := newTestController(t, b)

	s, err := c.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.NoError(t, s.Wait())
	c.onEvent(1, stream.ToolCallNotice{OperationID: "op", Status: stream.StatusPending})
	require.NoError(t, c.RefreshStatus(context.Background()))

	require.NoError(t, c.ResetMemory(context.Background()))

	snap := c.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.Operations)
	assert.Nil(t, snap.ContextSize)
	assert.Empty(t, snap.Error)
}

func TestResetMemory_FailureKeepsState(t *testing.T) {
	b := &fakeBackend{resetErr: errors.New("nope")}
	c := newTestController(t, b)
	c.onEvent(1, stream.ToolCallNotice{OperationID: "op", Status: stream.StatusPending})

	require.Error(t, c.ResetMemory(context.Background()))

	snap := c.Snapshot()
	assert.Len(t, snap.Operations, 1)
	assert.Equal(t, "Failed to reset memory: nope", snap.Error)
}

func TestRefreshStatus(t *testing.T) {
	c := newTestController(t, &fakeBackend{})

	require.NoError(t, c.RefreshStatus(context.Background()))

	snap := c.Snapshot()
	require.NotNil(t, snap.ContextSize)
	assert.Equal(t, 42, snap.ContextSize.CharactersCount)
	assert.Equal(t, "generic", snap.Agent.AgentID)
	assert.Equal(t, "qwen", snap.Agent.ModelID)
}

func TestPollStatus_StopsWithContext(t *testing.T) {
	c := newTestController(t, &fakeBackend{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.PollStatus(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return c.Snapshot().ContextSize != nil }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestSubscribeAndListen(t *testing.T) {
	b := &fakeBackend{open: streamOf("data: {\"message\":\"a\",\"finish_reason\":\"stop\"}\n")}
	c := newTestController(t, b)

	var changes atomic.Int32
	unsubscribe := c.Subscribe(func(Change) { changes.Add(1) })

	var events []stream.Event
	var mu sync.Mutex
	c.Listen(func(_ int, ev stream.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	s, err := c.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.NoError(t, s.Wait())

	assert.GreaterOrEqual(t, changes.Load(), int32(2))
	mu.Lock()
	assert.Equal(t, []stream.Event{stream.MessageChunk{Text: "a", Final: true}}, events)
	mu.Unlock()

	unsubscribe()
	before := changes.Load()
	c.DismissError()
	assert.Equal(t, before, changes.Load())
}

func TestPassthroughs(t *testing.T) {
	c := newTestController(t, &fakeBackend{})
	ctx := context.Background()

	msgs, err := c.Messages(ctx)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	m, err := c.Models(ctx)
	require.NoError(t, err)
	assert.Equal(t, "qwen", m.ChatModel)

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.True(t, h.OK())
}
