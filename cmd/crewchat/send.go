package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/namikmesic/crewchat/internal/chat"
	"github.com/namikmesic/crewchat/internal/render"
	"github.com/namikmesic/crewchat/internal/session"
	"github.com/namikmesic/crewchat/internal/stream"
)

var sendFlags struct {
	pretty bool
}

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send one message and print the streamed reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		opts := sendOptions{pretty: sendFlags.pretty, width: cfg.TermWidth}
		return sendOnce(ctx, rt.ctrl, strings.Join(args, " "), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
	},
}

func init() {
	sendCmd.Flags().BoolVar(&sendFlags.pretty, "pretty", false, "print the finished reply as rendered markdown instead of streaming it")
}

type sendOptions struct {
	pretty bool
	width  int
}

// sendOnce streams one exchange to out. Notices go to errOut so that out
// carries only the reply.
func sendOnce(ctx context.Context, ctrl *chat.Controller, message string, out, errOut io.Writer, opts sendOptions) error {
	unlisten := ctrl.Listen(func(_ int, ev stream.Event) {
		switch e := ev.(type) {
		case stream.MessageChunk:
			if !opts.pretty {
				fmt.Fprint(out, e.Text)
			}
		case stream.ToolCallNotice:
			fmt.Fprintf(errOut, "tool call %s %s: %s\n", e.OperationID, e.Status, e.Message)
		case stream.InformationNotice:
			fmt.Fprintf(errOut, "%s\n", e.Content)
		case stream.AgentSwitch:
			fmt.Fprintf(errOut, "agent: %s\n", e.AgentID)
		}
	})
	defer unlisten()

	s, err := ctrl.Send(ctx, message)
	if err != nil {
		return err
	}
	if err := s.Wait(); err != nil {
		return err
	}
	if s.State() == session.Cancelled {
		return ctx.Err()
	}

	if !opts.pretty {
		fmt.Fprintln(out)
		return nil
	}
	reply := lastAssistant(ctrl.Snapshot())
	fmt.Fprintln(out, render.Terminal(reply, opts.width))
	return nil
}

func lastAssistant(snap chat.Snapshot) string {
	for i := len(snap.Messages) - 1; i >= 0; i-- {
		if snap.Messages[i].Role == chat.RoleAssistant {
			return snap.Messages[i].Content
		}
	}
	return ""
}
