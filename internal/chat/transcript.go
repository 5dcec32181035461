package chat

import (
	"github.com/namikmesic/crewchat/internal/render"
)

type Role string

const (
	RoleUser        Role = "user"
	RoleAssistant   Role = "assistant"
	RoleInformation Role = "information"
)

// RenderState is one displayed message.
type RenderState struct {
	ID        int    `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Streaming bool   `json:"streaming"`
	Completed bool   `json:"completed"`
}

// HTML renders the message content; an open code block gets a cursor
// while the message is streaming.
func (m RenderState) HTML() string {
	return render.Render(m.Content, m.Streaming)
}

// Transcript is the ordered list of displayed messages. It is not safe for
// concurrent use; the Controller guards it.
type Transcript struct {
	messages []RenderState
	nextID   int
}

// Append adds a message and returns its id.
func (t *Transcript) Append(role Role, content string, streaming bool) int {
	t.nextID++
	t.messages = append(t.messages, RenderState{
		ID:        t.nextID,
		Role:      role,
		Content:   content,
		Streaming: streaming,
	})
	return t.nextID
}

// get returns a pointer that stays valid until the next Append or Remove.
func (t *Transcript) get(id int) *RenderState {
	for i := range t.messages {
		if t.messages[i].ID == id {
			return &t.messages[i]
		}
	}
	return nil
}

func (t *Transcript) Get(id int) (RenderState, bool) {
	if m := t.get(id); m != nil {
		return *m, true
	}
	return RenderState{}, false
}

func (t *Transcript) AppendText(id int, text string) bool {
	m := t.get(id)
	if m == nil {
		return false
	}
	m.Content += text
	return true
}

// Finish marks a message as fully received.
func (t *Transcript) Finish(id int) bool {
	m := t.get(id)
	if m == nil {
		return false
	}
	m.Streaming = false
	m.Completed = true
	return true
}

// Interrupt stops the streaming indicator without completing the message.
func (t *Transcript) Interrupt(id int) bool {
	m := t.get(id)
	if m == nil || !m.Streaming {
		return false
	}
	m.Streaming = false
	return true
}

func (t *Transcript) SetContent(id int, content string) bool {
	m := t.get(id)
	if m == nil {
		return false
	}
	m.Content = content
	return true
}

func (t *Transcript) Remove(id int) bool {
	for i := range t.messages {
		if t.messages[i].ID == id {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			return true
		}
	}
	return false
}

// OpenInformation returns the id of the latest information message that
// is still in progress.
func (t *Transcript) OpenInformation() (int, bool) {
	for i := len(t.messages) - 1; i >= 0; i-- {
		m := t.messages[i]
		if m.Role == RoleInformation && !m.Completed {
			return m.ID, true
		}
	}
	return 0, false
}

// FirstUserMessage is used to name exports.
func (t *Transcript) FirstUserMessage() string {
	for _, m := range t.messages {
		if m.Role == RoleUser {
			return m.Content
		}
	}
	return ""
}

func (t *Transcript) Messages() []RenderState {
	return append([]RenderState(nil), t.messages...)
}

func (t *Transcript) Len() int {
	return len(t.messages)
}

// Clear drops every message. Ids keep increasing.
func (t *Transcript) Clear() {
	t.messages = nil
}
