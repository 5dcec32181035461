package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/namikmesic/crewchat/internal/api"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the agent's conversation memory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := client.ResetMemory(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to reset memory: %w", err)
		}
		return output(cmd, st, func(w io.Writer) { printStatus(w, st, "memory cleared") })
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask the server to stop the completion in progress",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := client.StopCompletion(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to stop completion: %w", err)
		}
		return output(cmd, st, func(w io.Writer) { printStatus(w, st, "stopped") })
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <operation-id>",
	Short: "Approve a pending tool call",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := client.ValidateOperation(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to validate operation: %w", err)
		}
		return output(cmd, res, func(w io.Writer) { fmt.Fprintln(w, res.Message) })
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <operation-id>",
	Short: "Deny a pending tool call",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := client.CancelOperation(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to cancel operation: %w", err)
		}
		return output(cmd, res, func(w io.Writer) { fmt.Fprintln(w, res.Message) })
	},
}

var resetOpsCmd = &cobra.Command{
	Use:   "reset-ops",
	Short: "Drop every pending tool call on the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		res, err := client.ResetOperations(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to reset operations: %w", err)
		}
		return output(cmd, res, func(w io.Writer) { fmt.Fprintln(w, res.Message) })
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(resetOpsCmd)
}

func printStatus(w io.Writer, st api.Status, fallback string) {
	if st.Message != "" {
		fmt.Fprintln(w, st.Message)
		return
	}
	fmt.Fprintln(w, fallback)
}
