package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/dudu/deepswap/internal/config"
	"github.com/dudu/deepswap/internal/inference"
	"github.com/dudu/deepswap/internal/jobs"
	"github.com/dudu/deepswap/internal/log"
	"github.com/dudu/deepswap/internal/pipeline"
)

// Version is the application version.
const Version = "0.1.0"

var (
	cfg *config.Config

	flagWorkers   int
	flagAdaptive  bool
	flagProviders string
	flagLogLevel  string
	flagNoBar     bool
)

var rootCmd = &cobra.Command{
	Use:          "deepswap",
	Short:        "Face swapping for pre-recorded video",
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(); err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("workers") {
			cfg.Workers = flagWorkers
		}
		if flags.Changed("adaptive") {
			cfg.Adaptive = flagAdaptive
		}
		if flags.Changed("providers") {
			cfg.Providers = flagProviders
		}
		if flags.Changed("log-level") {
			cfg.LogLevel = flagLogLevel
		}
		cfg.Validate()

		log.Init(cfg.LogLevel)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if err := inference.Shutdown(); err != nil {
			log.Warn("failed to shut down ONNX Runtime", "error", err)
		}
	},
}

// Execute runs the root command with a context cancelled by SIGINT or SIGTERM
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.IntVarP(&flagWorkers, "workers", "w", config.DefaultWorkers, "Number of pipeline workers")
	pf.BoolVar(&flagAdaptive, "adaptive", false, "Size the pipeline from host CPU, memory and disk load")
	pf.StringVar(&flagProviders, "providers", "", "Comma separated execution providers (cuda,tensorrt,directml,coreml,cpu)")
	pf.StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.BoolVar(&flagNoBar, "no-progress", false, "Disable the progress bar")
}

// newEngine loads the configured models and attaches a progress bar
func newEngine() (*jobs.Engine, error) {
	engine, err := jobs.NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	if !flagNoBar {
		engine.Progress = progressBar
	}
	return engine, nil
}

func progressBar(desc string, total int) pipeline.ProgressFunc {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	return func() {
		bar.Add(1)
	}
}

func report(res pipeline.Result) {
	fmt.Fprintf(os.Stderr, "Processed %d/%d frames with %d workers (batch %d) in %s\n",
		res.Completed, res.Total, res.Workers, res.BatchSize, res.Duration.Round(time.Millisecond))
}
