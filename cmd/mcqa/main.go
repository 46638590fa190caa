// Package main provides the mcqa command line.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ricesearch/mcqa/internal/config"
	"github.com/ricesearch/mcqa/internal/pipeline"
	"github.com/ricesearch/mcqa/internal/pkg/logger"
	"github.com/ricesearch/mcqa/internal/pkg/security"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mcqa",
		Short: "mcqa - multiple-choice answer selection",
		Long: `mcqa picks the most plausible of three candidate answers for a
context and question. Texts are embedded, each answer is paired with the
context+question vector and a bagged regression-tree scorer ranks the pairs.

Run 'mcqa run' for the batch train, predict and evaluate flow.
Run 'mcqa --help' for available commands.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("format", "text", "output format (text, json)")

	rootCmd.AddCommand(
		runCmd(),
		trainCmd(),
		predictCmd(),
		classifyCmd(),
		evaluateCmd(),
		serveCmd(),
		cacheCmd(),
		versionCmd(),
	)

	return rootCmd
}

// app holds what every pipeline command needs.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	pipeline *pipeline.Pipeline
	format   string
	logFile  io.Closer
}

// setup loads config, builds the logger and the pipeline.
func setup(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")
	format, _ := cmd.Flags().GetString("format")

	if format != "text" && format != "json" {
		return nil, fmt.Errorf("invalid format %q (must be text or json)", format)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	a := &app{cfg: cfg, format: format}

	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		a.logFile = f
		a.log = logger.NewWithWriter(f, cfg.Log.Level, cfg.Log.Format)
	} else {
		a.log = logger.NewWithWriter(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	}

	a.log.Debug("Loaded config", security.LogArgs(security.MaskSensitiveMap(cfg.Fields()))...)

	p, err := pipeline.NewFromConfig(cmd.Context(), cfg, a.log)
	if err != nil {
		a.closeLog()
		return nil, err
	}
	a.pipeline = p

	return a, nil
}

// Close flushes the metrics textfile and releases the pipeline.
func (a *app) Close() {
	if m := a.pipeline.Metrics(); m != nil && a.cfg.Metrics.TextfilePath != "" {
		if err := m.WriteTextfile(a.cfg.Metrics.TextfilePath); err != nil {
			a.log.Warn("Failed to write metrics textfile", "path", a.cfg.Metrics.TextfilePath, "error", err)
		}
	}
	if err := a.pipeline.Close(); err != nil {
		a.log.Warn("Error closing pipeline", "error", err)
	}
	a.closeLog()
}

func (a *app) closeLog() {
	if a.logFile != nil {
		a.logFile.Close()
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mcqa %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}
