// Package cmd implements the segplay command line client.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"segment-transcoder/internal/client"
	"segment-transcoder/internal/platform/config"
	"segment-transcoder/internal/platform/logger"
)

var (
	serverURL string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "segplay",
	Short: "Adaptive segment playback client",
	Long: `segplay plays a video from a segment server by requesting short,
individually transcoded segments matched to this host's capabilities.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	_ = config.Load()

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", config.GetEnv("SEGPLAY_SERVER", "http://localhost:8080"), "segment server base URL")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.GetEnv("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", config.GetEnv("LOG_FORMAT", "text"), "log format (text, json)")

	rootCmd.AddCommand(newPlayCmd(), newThumbnailsCmd(), newUploadCmd())
}

func newLogger() *slog.Logger {
	return logger.NewWithWriter(os.Stderr, logLevel, logFormat)
}

func newClient(log *slog.Logger, opts ...client.Option) *client.Client {
	return client.New(serverURL, append([]client.Option{client.WithLogger(log)}, opts...)...)
}
