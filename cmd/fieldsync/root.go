package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"fieldsync/internal/app"
	"fieldsync/internal/config"
	"fieldsync/internal/logging"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	ConfigPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "fieldsync",
		Short:         "Offline action queue and sync engine for field agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "configs/config.yaml"
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", defaultConfig, "path to config file")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newQueueCommand(opts))
	cmd.AddCommand(newDeadLettersCommand(opts))

	return cmd
}

func loadConfigAndLogger(opts *rootOptions, component string) (*config.Config, zerolog.Logger, io.Closer, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, *logging.Component(baseLogger, component), closer, nil
}

// withApp builds the application for one-shot commands and releases it after fn.
func withApp(ctx context.Context, opts *rootOptions, fn func(a *app.App) error) error {
	cfg, logger, closer, err := loadConfigAndLogger(opts, "cli")
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	a, err := app.New(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a)
}
