package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/namikmesic/crewchat/internal/chat"
	"github.com/namikmesic/crewchat/internal/render"
	"github.com/namikmesic/crewchat/internal/stream"
	"github.com/namikmesic/crewchat/internal/viewer"
)

const (
	prompt        = "> "
	maxInputBytes = 1024 * 1024
)

const helpText = `Plain lines are sent to the crew. Commands:
  /stop            stop the reply in progress
  /reset           clear the agent's memory and this conversation
  /messages        list the messages in the agent's memory
  /models          show the models in use
  /ctx             show the context size
  /agent           show the current agent
  /health          check the server
  /ops             list pending tool calls
  /validate <id>   approve a tool call
  /cancel <id>     deny a tool call
  /reset-ops       drop every pending tool call
  /export          save the conversation as HTML
  /quit            leave
`

var chatFlags struct {
	viewer bool
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the crew interactively",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&chatFlags.viewer, "viewer", false, "serve the live transcript viewer (default: from CREW_VIEWER_ENABLED)")
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	go rt.ctrl.PollStatus(ctx, cfg.PollInterval)
	if cfg.ViewerEnabled || chatFlags.viewer {
		startViewer(ctx, rt.ctrl)
	}

	r := newREPL(rt.ctrl, cmd.OutOrStdout(), cmd.ErrOrStderr())
	r.width = cfg.TermWidth
	r.exportDir = cfg.ExportDir
	r.title = viewerTitle()
	defer r.detach()

	r.printf("connected to %s, /help lists commands\n", client.BaseURL())
	return r.run(ctx, cmd.InOrStdin())
}

func viewerTitle() string {
	return "crewchat · " + client.BaseURL()
}

func startViewer(ctx context.Context, ctrl *chat.Controller) {
	srv := viewer.New(ctrl, viewerTitle())
	go func() {
		if err := srv.ListenAndServe(ctx, cfg.ViewerAddr); err != nil {
			log.Error().Err(err).Str("addr", cfg.ViewerAddr).Msg("viewer stopped")
		}
	}()
}

// repl is the line-oriented chat front end. Stream events print as they
// arrive; commands run on the input goroutine.
type repl struct {
	ctrl      *chat.Controller
	width     int
	exportDir string
	title     string

	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer

	// set while a slash command runs; that command prints the prompt
	inCommand atomic.Bool

	detachFns []func()
}

func newREPL(ctrl *chat.Controller, out, errOut io.Writer) *repl {
	r := &repl{
		ctrl:      ctrl,
		width:     100,
		exportDir: ".",
		title:     "crewchat",
		out:       out,
		errOut:    errOut,
	}
	r.detachFns = append(r.detachFns, ctrl.Listen(r.onEvent), ctrl.Subscribe(r.onChange))
	return r
}

func (r *repl) detach() {
	for _, fn := range r.detachFns {
		fn()
	}
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func (r *repl) errorf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.errOut, "✖ "+format+"\n", args...)
}

func (r *repl) write(fn func(io.Writer)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.out)
}

func (r *repl) prompt() {
	r.printf(prompt)
}

// onEvent runs on the session goroutine.
func (r *repl) onEvent(msgID int, ev stream.Event) {
	switch e := ev.(type) {
	case stream.MessageChunk:
		r.printf("%s", e.Text)
		if e.Final {
			r.printf("\n")
			r.renderFinal(msgID)
			r.prompt()
		}

	case stream.ToolCallNotice:
		if e.Status == stream.StatusPending {
			r.printf("\n⚙ tool call %s: %s\n  approve with /validate %s, deny with /cancel %s\n",
				e.OperationID, e.Message, e.OperationID, e.OperationID)
			return
		}
		r.printf("\n⚙ tool call %s %s: %s\n", e.OperationID, e.Status, e.Message)

	case stream.InformationNotice:
		r.printf("\nℹ %s\n", e.Content)

	case stream.AgentSwitch:
		r.printf("\n→ now talking to %s\n", e.AgentID)
	}
}

// renderFinal reprints a finished reply through glamour when it carries
// code blocks worth highlighting.
func (r *repl) renderFinal(msgID int) {
	for _, m := range r.ctrl.Snapshot().Messages {
		if m.ID != msgID {
			continue
		}
		if render.HasCodeBlocks(m.Content) {
			r.printf("%s\n", render.Terminal(m.Content, r.width))
		}
		return
	}
}

func (r *repl) onChange(change chat.Change) {
	if change != chat.ChangeError {
		return
	}
	if msg := r.ctrl.Snapshot().Error; msg != "" {
		r.errorf("%s", msg)
		r.ctrl.DismissError()
		if !r.inCommand.Load() {
			r.prompt()
		}
	}
}

// run reads commands from in until /quit, EOF or ctx is done.
func (r *repl) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), maxInputBytes)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	r.prompt()
	for {
		select {
		case <-ctx.Done():
			r.printf("\n")
			return nil
		case line, ok := <-lines:
			if !ok {
				r.printf("\n")
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			if quit := r.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// handle runs one input line and reports whether the user asked to quit.
func (r *repl) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		r.prompt()
		return false
	}

	if !strings.HasPrefix(line, "/") {
		// The prompt comes back with the final chunk or the error.
		if _, err := r.ctrl.Send(ctx, line); err != nil {
			r.errorf("%v", err)
			r.prompt()
		}
		return false
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	if name == "/quit" || name == "/exit" {
		return true
	}
	r.inCommand.Store(true)
	r.command(ctx, name, arg)
	r.inCommand.Store(false)
	r.prompt()
	return false
}

// command runs a slash command. Controller failures surface through the
// error banner, so only the other failures are printed here.
func (r *repl) command(ctx context.Context, name, arg string) {
	switch name {
	case "/help":
		r.printf("%s", helpText)

	case "/stop":
		if err := r.ctrl.Stop(ctx); err == nil {
			r.printf("\nstopped\n")
		}

	case "/reset":
		if err := r.ctrl.ResetMemory(ctx); err == nil {
			r.printf("memory cleared\n")
		}

	case "/messages":
		if msgs, err := r.ctrl.Messages(ctx); err == nil {
			r.write(func(w io.Writer) { printMessages(w, msgs) })
		}

	case "/models":
		if m, err := r.ctrl.Models(ctx); err == nil {
			r.write(func(w io.Writer) { printModels(w, m) })
		}

	case "/ctx":
		err := r.ctrl.RefreshStatus(ctx)
		cs := r.ctrl.Snapshot().ContextSize
		if cs == nil {
			r.errorf("context size unavailable: %v", err)
			return
		}
		r.write(func(w io.Writer) { printContextSize(w, *cs) })

	case "/agent":
		err := r.ctrl.RefreshStatus(ctx)
		agent := r.ctrl.Snapshot().Agent
		if agent.AgentID == "" && agent.AgentName == "" {
			r.errorf("current agent unavailable: %v", err)
			return
		}
		r.write(func(w io.Writer) { printAgent(w, agent) })

	case "/health":
		h, err := r.ctrl.Health(ctx)
		if err != nil {
			r.errorf("health check failed: %v", err)
			return
		}
		r.write(func(w io.Writer) { printHealth(w, h) })

	case "/ops":
		ops := r.ctrl.Snapshot().Operations
		r.write(func(w io.Writer) { printOperations(w, ops) })

	case "/validate", "/cancel":
		if arg == "" {
			r.errorf("usage: %s <operation-id>", name)
			return
		}
		op := r.ctrl.Validate
		if name == "/cancel" {
			op = r.ctrl.CancelOperation
		}
		if res, err := op(ctx, arg); err == nil {
			r.printf("%s\n", res.Message)
		}

	case "/reset-ops":
		if res, err := r.ctrl.ResetOperations(ctx); err == nil {
			r.printf("%s\n", res.Message)
		}

	case "/export":
		path, err := exportTranscript(r.exportDir, r.title, r.ctrl.FirstUserMessage(), r.ctrl.Snapshot())
		if err != nil {
			r.errorf("export failed: %v", err)
			return
		}
		r.printf("saved %s\n", path)

	default:
		r.errorf("unknown command %s, /help lists commands", name)
	}
}
