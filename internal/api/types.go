package api

// Status is the generic acknowledgement of the control endpoints.
type Status struct {
	Status  string `json:"status" yaml:"status"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

type Message struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
}

type messageList struct {
	Messages []Message `json:"messages" yaml:"messages"`
}

// ContextSize reports the agent's conversation memory usage.
type ContextSize struct {
	MessagesCount   int `json:"messages_count" yaml:"messages_count"`
	CharactersCount int `json:"characters_count" yaml:"characters_count"`
	Limit           int `json:"limit" yaml:"limit"`
	// Older servers report a token estimate instead of characters.
	Tokens int `json:"tokens,omitempty" yaml:"tokens,omitempty"`
}

// Size returns the best available measure of context usage.
func (c ContextSize) Size() int {
	if c.CharactersCount > 0 {
		return c.CharactersCount
	}
	return c.Tokens
}

// Usage returns the fraction of Limit in use, or 0 without a limit.
func (c ContextSize) Usage() float64 {
	if c.Limit <= 0 {
		return 0
	}
	return float64(c.Size()) / float64(c.Limit)
}

type Models struct {
	Status          string `json:"status" yaml:"status"`
	ChatModel       string `json:"chat_model" yaml:"chat_model"`
	EmbeddingsModel string `json:"embeddings_model" yaml:"embeddings_model"`
	ToolsModel      string `json:"tools_model" yaml:"tools_model"`
}

// Fields lists the model roles in display order, skipping blanks.
func (m Models) Fields() [][2]string {
	var out [][2]string
	for _, kv := range [][2]string{
		{"chat_model", m.ChatModel},
		{"embeddings_model", m.EmbeddingsModel},
		{"tools_model", m.ToolsModel},
	} {
		if kv[1] != "" {
			out = append(out, kv)
		}
	}
	return out
}

type Health struct {
	Status string `json:"status" yaml:"status"`
}

func (h Health) OK() bool {
	return h.Status == "ok"
}

type Agent struct {
	AgentID   string `json:"agent_id" yaml:"agent_id"`
	ModelID   string `json:"model_id" yaml:"model_id"`
	AgentName string `json:"agent_name" yaml:"agent_name"`
}

// OperationResult is the server reply to validate, cancel and reset of
// pending tool-call operations.
type OperationResult struct {
	Message string `json:"message" yaml:"message"`
	Status  string `json:"status,omitempty" yaml:"status,omitempty"`
}

type completionRequest struct {
	Data completionData `json:"data" yaml:"data"`
}

type completionData struct {
	Message string `json:"message" yaml:"message"`
}

type operationRequest struct {
	OperationID string `json:"operation_id" yaml:"operation_id"`
}
