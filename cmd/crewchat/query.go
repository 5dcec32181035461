package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/namikmesic/crewchat/internal/api"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Show the models the server agents use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		m, err := client.Models(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to fetch models: %w", err)
		}
		return output(cmd, m, func(w io.Writer) { printModels(w, m) })
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "List the messages in the agent's conversation memory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		msgs, err := client.Messages(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to fetch messages: %w", err)
		}
		if msgs == nil {
			msgs = []api.Message{}
		}
		return output(cmd, msgs, func(w io.Writer) { printMessages(w, msgs) })
	},
}

var contextSizeCmd = &cobra.Command{
	Use:     "context-size",
	Aliases: []string{"ctx"},
	Short:   "Show how much of the context window is in use",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cs, err := client.ContextSize(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to fetch context size: %w", err)
		}
		return output(cmd, cs, func(w io.Writer) { printContextSize(w, cs) })
	},
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Show the agent currently answering",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := client.CurrentAgent(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to fetch current agent: %w", err)
		}
		return output(cmd, a, func(w io.Writer) { printAgent(w, a) })
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the server is up",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		h, err := client.Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		if err := output(cmd, h, func(w io.Writer) { printHealth(w, h) }); err != nil {
			return err
		}
		if !h.OK() {
			return fmt.Errorf("server reported status %q", h.Status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(contextSizeCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(healthCmd)
}

// output writes v to the command's stdout in the --output format.
func output(cmd *cobra.Command, v any, text func(io.Writer)) error {
	format, err := parseFormat(rootFlags.output)
	if err != nil {
		return err
	}
	return writeOutput(cmd.OutOrStdout(), format, v, text)
}
