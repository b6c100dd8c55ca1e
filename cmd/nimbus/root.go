package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/yairfalse/nimbus/internal/config"
)

var version = "0.1.0"

// globalFlags override values from the config file.
type globalFlags struct {
	configPath   string
	envFile      string
	region       string
	profile      string
	output       string
	debug        bool
	jsonLogs     bool
	metricsAddr  string
	policyFile   string
	concurrency  int
	pollInterval time.Duration
	maxAttempts  int
	maxElapsed   time.Duration
}

var flags globalFlags

var rootCmd = &cobra.Command{
	Use:   "nimbus",
	Short: "Cloud operations orchestrator",
	Long: `Nimbus - cloud operations orchestrator

Nimbus drives multi-step operations against AWS: instance lifecycle
transitions with bounded waits, bucket drains, log retrieval and
sentiment classification, cost reports and deployments.

The cloud is the only state. Every command reads it fresh.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// usageError marks a command line that could not be parsed.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }

func (e *usageError) Unwrap() error { return e.err }

// Execute runs the root command and exits with a code derived from the error.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	var uerr *usageError
	if errors.As(err, &uerr) {
		fmt.Fprintln(os.Stderr, "Run 'nimbus --help' for usage.")
	}
	os.Exit(exitCode(err))
}

func init() {
	rootCmd.SetVersionTemplate(`Nimbus {{.Version}} - cloud operations orchestrator
`)
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Path to TOML config file")
	pf.StringVar(&flags.envFile, "env-file", ".env", "Load environment variables from this file if it exists")
	pf.StringVar(&flags.region, "region", "", "AWS region (overrides config and AWS_REGION)")
	pf.StringVar(&flags.profile, "profile", "", "AWS shared config profile")
	pf.StringVarP(&flags.output, "output", "o", formatText, "Output format: text, json, yaml")
	pf.BoolVar(&flags.debug, "debug", false, "Enable debug logging")
	pf.BoolVar(&flags.jsonLogs, "json-logs", false, "Write logs as JSON even on a terminal")
	pf.StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the command runs")
	pf.StringVar(&flags.policyFile, "policy", "", "Rego policy consulted before destructive operations")
	pf.IntVar(&flags.concurrency, "concurrency", 0, "Classification batches in flight")
	pf.DurationVar(&flags.pollInterval, "poll-interval", 0, "Delay between state observations")
	pf.IntVar(&flags.maxAttempts, "max-attempts", 0, "State observations before a wait times out")
	pf.DurationVar(&flags.maxElapsed, "max-elapsed", 0, "Time before a wait times out")
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(fs *pflag.FlagSet, f globalFlags) (*config.Config, error) {
	if err := config.LoadEnvFile(f.envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	if f.region != "" {
		cfg.AWS.Region = f.region
	}
	if f.profile != "" {
		cfg.AWS.Profile = f.profile
	}
	if f.metricsAddr != "" {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if f.policyFile != "" {
		cfg.Policy.File = f.policyFile
	}
	if f.debug {
		cfg.Log.Level = "debug"
	}
	if fs.Changed("concurrency") {
		cfg.Batch.Concurrency = f.concurrency
	}
	if fs.Changed("poll-interval") {
		cfg.Wait.PollInterval = f.pollInterval
	}
	// An explicit budget on the command line replaces both configured budgets.
	if fs.Changed("max-attempts") || fs.Changed("max-elapsed") {
		cfg.Wait.MaxAttempts = f.maxAttempts
		cfg.Wait.MaxElapsed = f.maxElapsed
	}

	if err := cfg.Validate(); err != nil {
		return nil, &usageError{err: fmt.Errorf("invalid configuration: %w", err)}
	}
	return cfg, nil
}
