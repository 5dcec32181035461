package stream

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// agentSwitchPattern matches the directive the crew server injects into the
// chunk text when the orchestrator routes to another agent.
var agentSwitchPattern = regexp.MustCompile(`<b>Switched to agent: (\w+)\.</b>`)

// completionMarkers flag an information notice as the last of its series.
var completionMarkers = []string{"✅", "completed", "failed"}

// Classify turns one frame into zero, one or two events. Record shapes are
// tested in a fixed order: tool call, information, message chunk.
func Classify(f Frame) []Event {
	data := strings.TrimSpace(strings.TrimPrefix(f.Raw, DataPrefix))
	if data == "" {
		return nil
	}

	var p payload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return []Event{Unparseable{Raw: f.Raw, Err: err}}
	}

	if p.Kind == "tool_call" {
		msg, _ := messageText(p.Message)
		return []Event{ToolCallNotice{
			OperationID: p.OperationID,
			Status:      ParseOperationStatus(p.Status),
			Message:     msg,
		}}
	}

	if p.Role == "information" {
		return []Event{InformationNotice{
			Content: p.Content,
			Final:   hasCompletionMarker(p.Content),
		}}
	}

	if len(p.Message) > 0 {
		text, err := messageText(p.Message)
		if err != nil {
			return []Event{Unparseable{Raw: f.Raw, Err: err}}
		}
		chunk := MessageChunk{Text: text, Final: p.FinishReason == "stop"}
		if m := agentSwitchPattern.FindStringSubmatch(text); m != nil {
			return []Event{AgentSwitch{AgentID: m[1]}, chunk}
		}
		return []Event{chunk}
	}

	return []Event{Unparseable{Raw: f.Raw, Err: errUnknownRecord}}
}

var errUnknownRecord = fmt.Errorf("record matches no known event shape")

func messageText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("message field is not a string: %w", err)
	}
	return s, nil
}

func hasCompletionMarker(content string) bool {
	for _, m := range completionMarkers {
		if strings.Contains(content, m) {
			return true
		}
	}
	return false
}
