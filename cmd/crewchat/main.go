package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/namikmesic/crewchat/internal/api"
	"github.com/namikmesic/crewchat/internal/config"
)

// Version set via ldflags during build
var version = "dev"

var (
	cfg    *config.Config
	client *api.Client
)

var rootFlags struct {
	server string
	output string
}

var rootCmd = &cobra.Command{
	Use:   "crewchat",
	Short: "Streaming chat client for a crew agent server",
	Long: `crewchat talks to a crew agent server: it streams completions, shows
tool calls waiting for approval, and exposes the server's memory, model and
health endpoints.

Without a subcommand it starts the interactive chat.`,
	Version:           version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	RunE:              runChat,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.server, "server", "", "crew server URL (default: from CREW_SERVER_URL)")
	rootCmd.PersistentFlags().StringVarP(&rootFlags.output, "output", "o", string(formatText), "output format: text, json or yaml")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(serveCmd)
}

// setup loads the configuration, configures logging and builds the API
// client shared by every command.
func setup(cmd *cobra.Command, _ []string) error {
	c, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	if rootFlags.server != "" {
		c.ServerURL = rootFlags.server
	}
	if _, err := parseFormat(rootFlags.output); err != nil {
		return err
	}

	cl, err := api.New(c.ServerURL, api.WithAPIKey(c.APIKey), api.WithTimeout(c.RequestTimeout))
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	cfg = c
	client = cl
	log.Debug().Str("server", cl.BaseURL()).Bool("archive", c.ArchiveEnabled()).Msg("configured")
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
