package processor

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// CompletionRequest is the body posted to the crew server's completion
// endpoint. The recorder archives it as the start of every session.
type CompletionRequest struct {
	Data CompletionData `json:"data"`
}

type CompletionData struct {
	Message string `json:"message"`
}

// ParsedRequest holds the fields extracted for the session row.
type ParsedRequest struct {
	Message string
	Chars   int
	Lines   int
}

func EncodeCompletionRequest(message string) []byte {
	body, _ := json.Marshal(CompletionRequest{Data: CompletionData{Message: message}})
	return body
}

// ParseCompletionRequest extracts what it can from a request body; a body
// that does not decode yields a zero ParsedRequest.
func ParseCompletionRequest(body []byte) ParsedRequest {
	var req CompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return ParsedRequest{}
	}

	msg := req.Data.Message
	p := ParsedRequest{Message: msg, Chars: utf8.RuneCountInString(msg)}
	if msg != "" {
		p.Lines = strings.Count(msg, "\n") + 1
	}
	return p
}
