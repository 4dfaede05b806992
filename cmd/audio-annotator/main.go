package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"audio-annotator/internal/config"
	"audio-annotator/internal/logging"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "audio-annotator",
		Short:         "Step through a directory of audio files and label each one",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(newServeCommand(), newTableCommand())
	return root
}

// bootstrap loads .env and settings and builds the logger shared by all
// commands.
func bootstrap() (config.Settings, *zap.Logger, error) {
	if err := config.LoadDotEnv(); err != nil {
		return config.Settings{}, nil, fmt.Errorf("load .env: %w", err)
	}

	settings, err := config.ResolveSettings()
	if err != nil {
		return config.Settings{}, nil, fmt.Errorf("resolve settings: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:      settings.LogLevel,
		OutputPath: settings.LogFile,
	})
	if err != nil {
		return config.Settings{}, nil, fmt.Errorf("initialise logger: %w", err)
	}
	return settings, logger, nil
}
