package jetstream

import (
	"strings"
	"time"

	nats "github.com/nats-io/nats.go"
)

const (
	StreamName    = "CREWCHAT"
	SubjectAll    = "crewchat.>"
	SubjectPrefix = "crewchat.session."

	suffixStart = ".start"
	suffixDone  = ".done"
)

// Kind of an archive message, derived from its subject.
type Kind int

const (
	KindUnknown Kind = iota
	KindStart        // completion request body
	KindChunk        // raw response bytes
	KindDone         // session outcome
)

func EnsureStream(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectAll},
		Storage:   nats.FileStorage,
		MaxAge:    24 * time.Hour,
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return err
	}
	return nil
}

func StartSubject(sessionID string) string {
	return SubjectPrefix + sessionID + suffixStart
}

func ChunkSubject(sessionID string) string {
	return SubjectPrefix + sessionID
}

func DoneSubject(sessionID string) string {
	return SubjectPrefix + sessionID + suffixDone
}

// ParseSubject splits an archive subject into its session id and kind.
func ParseSubject(subject string) (sessionID string, kind Kind) {
	rest, ok := strings.CutPrefix(subject, SubjectPrefix)
	if !ok || rest == "" {
		return "", KindUnknown
	}
	if id, ok := strings.CutSuffix(rest, suffixStart); ok {
		return id, KindStart
	}
	if id, ok := strings.CutSuffix(rest, suffixDone); ok {
		return id, KindDone
	}
	if strings.Contains(rest, ".") {
		return "", KindUnknown
	}
	return rest, KindChunk
}
