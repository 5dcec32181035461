package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/namikmesic/crewchat/internal/api"
	"github.com/namikmesic/crewchat/internal/chat"
)

type outputFormat string

const (
	formatText outputFormat = "text"
	formatJSON outputFormat = "json"
	formatYAML outputFormat = "yaml"
)

func parseFormat(s string) (outputFormat, error) {
	switch f := outputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case formatText, formatJSON, formatYAML:
		return f, nil
	case "":
		return formatText, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", s)
	}
}

// writeOutput prints v in the requested format. text renders the
// human-readable form.
func writeOutput(w io.Writer, format outputFormat, v any, text func(io.Writer)) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		text(w)
		return nil
	}
}

func printModels(w io.Writer, m api.Models) {
	fields := m.Fields()
	if len(fields) == 0 {
		fmt.Fprintln(w, "no models reported")
		return
	}
	for _, kv := range fields {
		fmt.Fprintf(w, "%-18s %s\n", kv[0], kv[1])
	}
}

func printMessages(w io.Writer, msgs []api.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "memory is empty")
		return
	}
	for i, m := range msgs {
		role := m.Role
		if m.Name != "" {
			role += " (" + m.Name + ")"
		}
		fmt.Fprintf(w, "[%d] %s\n%s\n", i+1, role, indent(m.Content, "    "))
	}
}

func printContextSize(w io.Writer, cs api.ContextSize) {
	fmt.Fprintf(w, "messages    %d\n", cs.MessagesCount)
	if cs.Limit > 0 {
		fmt.Fprintf(w, "characters  %d / %d (%.0f%%)\n", cs.Size(), cs.Limit, cs.Usage()*100)
		return
	}
	fmt.Fprintf(w, "characters  %d\n", cs.Size())
}

func printAgent(w io.Writer, a api.Agent) {
	name := a.AgentName
	if name == "" {
		name = a.AgentID
	}
	fmt.Fprintf(w, "agent  %s\n", name)
	if a.AgentName != "" && a.AgentID != "" && a.AgentID != a.AgentName {
		fmt.Fprintf(w, "id     %s\n", a.AgentID)
	}
	if a.ModelID != "" {
		fmt.Fprintf(w, "model  %s\n", a.ModelID)
	}
}

func printHealth(w io.Writer, h api.Health) {
	if h.OK() {
		fmt.Fprintln(w, "server is healthy")
		return
	}
	fmt.Fprintf(w, "server status: %s\n", h.Status)
}

func printOperations(w io.Writer, ops []chat.PendingOperation) {
	if len(ops) == 0 {
		fmt.Fprintln(w, "no pending operations")
		return
	}
	for _, op := range ops {
		fmt.Fprintf(w, "%-12s %-10s %s\n", op.OperationID, op.Status, op.Message)
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
