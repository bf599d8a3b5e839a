// Package cli holds the command-line plumbing shared by the LiftFlow
// binaries: persistent flags, config loading and signal handling.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/siqueiraa/LiftFlow/pkg/config"
	"github.com/siqueiraa/LiftFlow/pkg/logger"
)

// Options are the flags every binary accepts.
type Options struct {
	ConfigPath string
	Verbose    int
	LogFormat  string
	Brokers    []string
	Topic      string
}

// Bind registers the persistent flags on cmd.
func (o *Options) Bind(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVarP(&o.ConfigPath, "config", "c", "", "path to config.yaml (defaults only when empty)")
	flags.CountVarP(&o.Verbose, "verbose", "v", "increase log verbosity (-v debug, -vv trace)")
	flags.StringVar(&o.LogFormat, "log-format", "", "log encoding: json or console")
	flags.StringSliceVar(&o.Brokers, "brokers", nil, "kafka bootstrap servers")
	flags.StringVar(&o.Topic, "topic", "", "kafka topic carrying lift rides")
}

// Load reads the configuration, applies the shared flags on top, lets
// override apply binary-specific flags, then validates the result and
// builds the logger.
func (o *Options) Load(override func(*config.AppConfig)) (config.AppConfig, logger.Logger, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	if len(o.Brokers) > 0 {
		cfg.Kafka.Brokers = o.Brokers
	}
	if o.Topic != "" {
		cfg.Kafka.Topic = o.Topic
	}
	if o.LogFormat != "" {
		cfg.Logging.Format = o.LogFormat
	}
	cfg.Logging.Verbosity = max(cfg.Logging.Verbosity, o.Verbose)
	if override != nil {
		override(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return config.AppConfig{}, nil, fmt.Errorf("invalid config: %w", err)
	}

	log := logger.New(logger.Config{Verbosity: cfg.Logging.Verbosity, Format: cfg.Logging.Format})
	return cfg, log, nil
}

// SignalContext is cancelled on SIGINT or SIGTERM. A second signal kills the
// process.
func SignalContext(parent context.Context, log logger.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stopped := make(chan struct{})
	var once sync.Once
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigs:
			log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutting down")
			cancel()
		case <-stopped:
			return
		}
		select {
		case sig := <-sigs:
			log.WithFields(logger.Fields{"signal": sig.String()}).Warn("forced shutdown")
			_ = log.Sync()
			os.Exit(1)
		case <-stopped:
		}
	}()

	return ctx, func() {
		once.Do(func() {
			signal.Stop(sigs)
			close(stopped)
		})
		cancel()
	}
}

// Execute runs root and exits non-zero on error.
func Execute(root *cobra.Command) {
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
