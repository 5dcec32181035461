package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/namikmesic/crewchat/internal/stream"
)

var errEmptyBody = errors.New("empty response body")

// decodeMaybeFramed decodes a JSON body that the server may have wrapped
// in a single SSE data frame.
func decodeMaybeFramed(body []byte, v any) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return errEmptyBody
	}

	if bytes.HasPrefix(body, []byte(strings.TrimSpace(stream.DataPrefix))) {
		payload, ok := firstFramePayload(body)
		if !ok {
			return errEmptyBody
		}
		body = payload
	}

	return json.Unmarshal(body, v)
}

func firstFramePayload(body []byte) ([]byte, bool) {
	d := stream.NewDecoder()
	frames := d.Feed(body)
	if f, ok := d.Flush(); ok {
		frames = append(frames, f)
	}
	for _, f := range frames {
		payload := strings.TrimSpace(strings.TrimPrefix(f.Raw, stream.DataPrefix))
		if payload != "" {
			return []byte(payload), true
		}
	}
	return nil, false
}
