package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jm33-m0/linux-bof-loader/internal/beacon"
	"github.com/jm33-m0/linux-bof-loader/internal/hostsym"
	"github.com/jm33-m0/linux-bof-loader/internal/loader"
)

var errUnknownLogConfig = errors.New("unknown log level or format")

type rootOptions struct {
	config *config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	configPath := ""
	logLevel := ""
	logFormat := ""

	cmd := &cobra.Command{
		Use:   "bofld <object_file> <function_name> [kind:value ...]",
		Short: "Load an ELF64 x86-64 relocatable object in-process and invoke a function from it",
		Long: "bofld loads a BOF (a single relocatable .o shipped to be invoked by name)\n" +
			"into a private executable region, resolves its symbols against the host\n" +
			"process, applies relocations, and calls the named function with a packed\n" +
			"argument buffer. Recognized argument kinds: int, short, str, bin.",
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			config, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			// Flags win over the config file
			if logLevel != "" {
				config.Log.Level = logLevel
			}
			if logFormat != "" {
				config.Log.Format = logFormat
			}

			logger, err := newLogger(&config.Log)
			if err != nil {
				return err
			}

			slog.SetDefault(logger)

			opts.config = config
			opts.logger = logger

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("could not read object file: %w", err)
			}

			argBuf, err := beacon.Pack(args[2:])
			if err != nil {
				return fmt.Errorf("failed to pack arguments: %w", err)
			}

			bof, err := loader.Load(opts.logger, data, args[1], hostsym.Dlsym{}, &loader.Options{
				CheckOverflow: opts.config.Loader.CheckOverflow,
			})
			if err != nil {
				return fmt.Errorf("failed to load object: %w", err)
			}
			defer bof.Release()

			result, err := bof.Invoke(argBuf)
			if err != nil {
				return fmt.Errorf("invocation failed: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), result)

			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (optional)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text, json")

	return cmd
}

func newLogger(config *logConfig) (*slog.Logger, error) {
	var level slog.Level

	switch config.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("log level '%s': %w", config.Level, errUnknownLogConfig)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch config.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		return nil, fmt.Errorf("log format '%s': %w", config.Format, errUnknownLogConfig)
	}

	return slog.New(handler), nil
}
