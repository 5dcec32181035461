package api

import (
	"net/http"
	"strings"
)

func prepareRequestHeaders(apiKey string, hasBody, streaming bool) http.Header {
	h := make(http.Header)
	if hasBody {
		h.Set("Content-Type", "application/json")
	}

	if streaming {
		h.Set("Accept", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		// Compressed SSE is buffered by intermediaries; ask for the raw stream
		h.Set("Accept-Encoding", "identity")
	} else {
		h.Set("Accept", "application/json, text/event-stream")
	}

	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
	return h
}

// redactedHeaders returns a copy of h that is safe to log.
func redactedHeaders(h http.Header) map[string][]string {
	m := make(map[string][]string, len(h))
	for k, v := range h {
		lower := strings.ToLower(k)
		if lower == "authorization" || lower == "x-api-key" {
			m[k] = []string{"[REDACTED]"}
		} else {
			m[k] = v
		}
	}
	return m
}
