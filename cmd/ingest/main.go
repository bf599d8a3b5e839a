// Command ingest serves the lift ride write endpoint and publishes every
// accepted ride to Kafka.
package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/siqueiraa/LiftFlow/internal/cli"
	"github.com/siqueiraa/LiftFlow/pkg/config"
	"github.com/siqueiraa/LiftFlow/pkg/faker"
	"github.com/siqueiraa/LiftFlow/pkg/ingest"
	"github.com/siqueiraa/LiftFlow/pkg/kafka"
	"github.com/siqueiraa/LiftFlow/pkg/logger"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func main() {
	cli.Execute(newRootCommand())
}

func newRootCommand() *cobra.Command {
	var (
		opts   cli.Options
		listen string
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Accept lift rides over HTTP and publish them to Kafka",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.Load(func(c *config.AppConfig) {
				if cmd.Flags().Changed("listen") {
					c.Ingest.Listen = listen
				}
			})
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := cli.SignalContext(cmd.Context(), log)
			defer stop()
			return run(ctx, cfg, log)
		},
		SilenceUsage: true,
	}
	opts.Bind(cmd)
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address")
	return cmd
}

func run(ctx context.Context, cfg config.AppConfig, log logger.Logger) error {
	codec, err := kafka.NewCodec(cfg.Kafka)
	if err != nil {
		return err
	}
	producer := kafka.NewProducer(cfg.Kafka, codec)

	router := mux.NewRouter()
	ingest.NewWriteHandler(producer, faker.DefaultRanges(), cfg.Ingest.PublishTimeout, log).Register(router)
	router.Use(ingest.AccessLog(log))

	srv := &http.Server{Addr: cfg.Ingest.Listen, Handler: router, ReadHeaderTimeout: readHeaderTimeout}
	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logger.Fields{"listen": cfg.Ingest.Listen, "topic": cfg.Kafka.Topic}).Info("serving write endpoint")
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.WithFields(logger.Fields{"error": err}).Warn("http shutdown")
	}
	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}
	return errors.Join(serveErr, producer.Close())
}
