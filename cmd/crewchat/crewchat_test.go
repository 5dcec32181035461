package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/namikmesic/crewchat/internal/api"
	"github.com/namikmesic/crewchat/internal/chat"
	"github.com/namikmesic/crewchat/internal/stream"
)

func fakeCrew(t *testing.T) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /completion", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"kind\":\"tool_call\",\"operation_id\":\"op_1\",\"status\":\"pending\",\"message\":\"Run ls?\"}\n\n")
		io.WriteString(w, "data: {\"message\":\"Hello \"}\n\n")
		io.WriteString(w, "data: {\"message\":\"**crew**\",\"finish_reason\":\"stop\"}\n\n")
	})
	mux.HandleFunc("GET /models", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"ok","chat_model":"qwen2.5","tools_model":"jan-nano"}`)
	})
	mux.HandleFunc("POST /operation/validate", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "data: {\"message\":\"✅ Operation op_1 validated\"}\n\n")
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"ok"}`)
	})
	return mux
}

func newTestController(t *testing.T, h http.Handler) *chat.Controller {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cl, err := api.New(srv.URL)
	require.NoError(t, err)
	ctrl := chat.NewController(cl, chat.WithGrace(20*time.Millisecond))
	t.Cleanup(ctrl.Close)
	return ctrl
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]outputFormat{"": formatText, "JSON": formatJSON, " yaml ": formatYAML, "text": formatText} {
		got, err := parseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseFormat("xml")
	assert.Error(t, err)
}

func TestWriteOutput(t *testing.T) {
	m := api.Models{Status: "ok", ChatModel: "qwen2.5", ToolsModel: "jan-nano"}

	var text bytes.Buffer
	require.NoError(t, writeOutput(&text, formatText, m, func(w io.Writer) { printModels(w, m) }))
	assert.Contains(t, text.String(), "chat_model")
	assert.NotContains(t, text.String(), "embeddings_model")

	var js bytes.Buffer
	require.NoError(t, writeOutput(&js, formatJSON, m, nil))
	assert.Contains(t, js.String(), `"chat_model": "qwen2.5"`)

	var y bytes.Buffer
	require.NoError(t, writeOutput(&y, formatYAML, m, nil))
	var back map[string]string
	require.NoError(t, yaml.Unmarshal(y.Bytes(), &back))
	assert.Equal(t, "jan-nano", back["tools_model"])
}

func TestPrintContextSize(t *testing.T) {
	var buf bytes.Buffer
	printContextSize(&buf, api.ContextSize{MessagesCount: 4, CharactersCount: 2500, Limit: 10000})
	assert.Contains(t, buf.String(), "2500 / 10000 (25%)")

	buf.Reset()
	printContextSize(&buf, api.ContextSize{MessagesCount: 1, Tokens: 42})
	assert.Contains(t, buf.String(), "characters  42")
}

func TestExportName(t *testing.T) {
	assert.Equal(t, "deploy-the-app-to-staging.html", exportName("Deploy the app to staging!"))
	assert.Equal(t, "conversation.html", exportName("   "))

	long := exportName(strings.Repeat("word ", 40))
	assert.LessOrEqual(t, len(long), exportNameMax+len(".html"))
	assert.False(t, strings.HasSuffix(strings.TrimSuffix(long, ".html"), "-"))
}

func TestSendOnce(t *testing.T) {
	ctrl := newTestController(t, fakeCrew(t))

	var out, notices bytes.Buffer
	err := sendOnce(context.Background(), ctrl, "hello", &out, &notices, sendOptions{width: 80})
	require.NoError(t, err)

	assert.Equal(t, "Hello **crew**\n", out.String())
	assert.Contains(t, notices.String(), "tool call op_1 pending: Run ls?")

	snap := ctrl.Snapshot()
	require.Len(t, snap.Operations, 1)
	assert.Equal(t, stream.StatusPending, snap.Operations[0].Status)
	assert.Equal(t, "Hello **crew**", lastAssistant(snap))
}

func TestSendOnce_Pretty(t *testing.T) {
	ctrl := newTestController(t, fakeCrew(t))

	var out bytes.Buffer
	err := sendOnce(context.Background(), ctrl, "hello", &out, io.Discard, sendOptions{pretty: true, width: 80})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "crew")
	assert.NotContains(t, out.String(), "**")
}

func TestREPL_Commands(t *testing.T) {
	ctrl := newTestController(t, fakeCrew(t))

	var out, errOut bytes.Buffer
	r := newREPL(ctrl, &out, &errOut)
	defer r.detach()

	in := strings.NewReader("/models\n/validate\n/validate op_1\n/health\n/ops\n/bogus\n/quit\n/models\n")
	require.NoError(t, r.run(context.Background(), in))

	assert.Contains(t, out.String(), "qwen2.5")
	assert.Contains(t, out.String(), "✅ Operation op_1 validated")
	assert.Contains(t, out.String(), "server is healthy")
	assert.Contains(t, out.String(), "no pending operations")
	assert.Contains(t, errOut.String(), "usage: /validate <operation-id>")
	assert.Contains(t, errOut.String(), "unknown command /bogus")
	assert.Equal(t, 1, strings.Count(out.String(), "qwen2.5"), "nothing runs after /quit")
}

func TestREPL_ErrorBanner(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /models", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	ctrl := newTestController(t, mux)

	var out, errOut bytes.Buffer
	r := newREPL(ctrl, &out, &errOut)
	defer r.detach()

	require.NoError(t, r.run(context.Background(), strings.NewReader("/models\n")))

	assert.Contains(t, errOut.String(), "Failed to fetch models")
	assert.Empty(t, ctrl.Snapshot().Error, "printed banners are dismissed")
}

func TestREPL_Export(t *testing.T) {
	ctrl := newTestController(t, fakeCrew(t))
	require.NoError(t, sendOnce(context.Background(), ctrl, "List the files", io.Discard, io.Discard, sendOptions{}))

	var out, errOut bytes.Buffer
	r := newREPL(ctrl, &out, &errOut)
	defer r.detach()
	r.exportDir = t.TempDir()

	r.handle(context.Background(), "/export")
	require.Empty(t, errOut.String())

	path := filepath.Join(r.exportDir, "list-the-files.html")
	assert.Contains(t, out.String(), path)

	page, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(page), "<strong>crew</strong>")
	assert.Contains(t, string(page), "List the files")
}

func TestExportTranscript_Empty(t *testing.T) {
	_, err := exportTranscript(t.TempDir(), "t", "", chat.Snapshot{})
	assert.Error(t, err)
}
