// Command loadgen drives synthetic lift rides through the worker pool
// against the write endpoint and prints a run summary.
package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/siqueiraa/LiftFlow/internal/cli"
	"github.com/siqueiraa/LiftFlow/pkg/admission"
	"github.com/siqueiraa/LiftFlow/pkg/config"
	"github.com/siqueiraa/LiftFlow/pkg/downstream"
	"github.com/siqueiraa/LiftFlow/pkg/faker"
	"github.com/siqueiraa/LiftFlow/pkg/logger"
	"github.com/siqueiraa/LiftFlow/pkg/metrics"
	"github.com/siqueiraa/LiftFlow/pkg/model"
	"github.com/siqueiraa/LiftFlow/pkg/monitor"
	"github.com/siqueiraa/LiftFlow/pkg/pipeline"
	"github.com/siqueiraa/LiftFlow/pkg/queue"
	"github.com/siqueiraa/LiftFlow/pkg/worker"
)

type flags struct {
	cli.Options
	server     string
	total      int
	threads    int
	maxThreads int
	rate       float64
}

func main() {
	cli.Execute(newRootCommand())
}

func newRootCommand() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Post synthetic lift rides to the write endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := f.Load(func(c *config.AppConfig) { f.apply(cmd, c) })
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
	f.Bind(cmd)
	cmd.Flags().StringVar(&f.server, "server", "", "write endpoint base URL")
	cmd.Flags().IntVar(&f.total, "total", 0, "number of lift rides to send")
	cmd.Flags().IntVar(&f.threads, "threads", 0, "initial worker count")
	cmd.Flags().IntVar(&f.maxThreads, "max-threads", 0, "upper bound for the scaler")
	cmd.Flags().Float64Var(&f.rate, "rate", 0, "events per second, 0 for unpaced")
	return cmd
}

func (f *flags) apply(cmd *cobra.Command, c *config.AppConfig) {
	lg := &c.LoadGen
	if cmd.Flags().Changed("server") {
		lg.Server = f.server
	}
	if cmd.Flags().Changed("total") {
		lg.Total = f.total
	}
	if cmd.Flags().Changed("threads") {
		lg.Pool.Initial = f.threads
		lg.Pool.Min = min(lg.Pool.Min, f.threads)
		lg.Pool.Max = max(lg.Pool.Max, f.threads)
	}
	if cmd.Flags().Changed("max-threads") {
		lg.Pool.Max = f.maxThreads
	}
	if cmd.Flags().Changed("rate") {
		lg.Rate = f.rate
	}
}

func run(ctx context.Context, cfg config.AppConfig, log logger.Logger) error {
	lg := cfg.LoadGen
	clk := clock.RealClock{}
	log.WithFields(logger.Fields{
		"server":  lg.Server,
		"total":   lg.Total,
		"threads": lg.Pool.Initial,
		"min":     lg.Pool.Min,
		"max":     lg.Pool.Max,
		"rate":    lg.Rate,
	}).Info("starting load generator")

	q := queue.New[model.LiftRideEvent](lg.QueueCapacity)
	gate, err := admission.New(lg.Admission, clk, log)
	if err != nil {
		return err
	}
	rec := metrics.NewRecorder("loadgen")
	rec.WatchAdmission(gate.Snapshot)

	pool, err := worker.New(lg.Pool, q, gate,
		downstream.Connector(lg.Server, lg.RequestTimeout, lg.Pool.Max),
		worker.WithLogger(log), worker.WithObserver(rec), worker.WithClock(clk))
	if err != nil {
		return err
	}
	scaler, err := worker.NewScaler(pool, worker.QueueBacklog[model.LiftRideEvent](q), lg.Scaler, clk, log)
	if err != nil {
		return err
	}

	var limiter *rate.Limiter
	if lg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(lg.Rate), 1)
	}
	producer := faker.NewProducer(faker.NewGenerator(lg.Seed, lg.Ranges), q, lg.Total,
		faker.ProducerOptions{Limiter: limiter, Logger: log})

	mon := monitor.New(monitor.SourceFunc(func() monitor.Counters {
		s := pool.Stats()
		return monitor.Counters{
			Succeeded: s.Succeeded,
			Failed:    s.Failures(),
			Backlog:   int64(q.Len()),
			Workers:   s.Live,
		}
	}), lg.ReportInterval, lg.Total, clk, log)
	mon.OnReport(rec.ObserveReport)

	pool.Start(ctx)

	bgCtx, stopBackground := context.WithCancel(ctx)
	var bg errgroup.Group
	bg.Go(func() error { scaler.Run(bgCtx); return nil })
	bg.Go(func() error { mon.Run(bgCtx); return nil })
	if cfg.Metrics.Enabled {
		bg.Go(func() error { return rec.Serve(bgCtx, cfg.Metrics.Listen, log) })
	}

	emitted, err := producer.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pipeline.ErrShutdown) {
		log.WithFields(logger.Fields{"error": err}).Warn("producer failed")
	}
	q.Close()
	pool.Wait()
	stopBackground()
	bgErr := bg.Wait()

	summary := mon.Summary()
	stats := pool.Stats()
	log.WithFields(logger.Fields{
		"emitted":     emitted,
		"succeeded":   stats.Succeeded,
		"failed":      stats.Failed,
		"rejected":    stats.Rejected,
		"interrupted": stats.Interrupted,
		"attempts":    stats.Attempts,
		"unsent":      q.Len(),
		"wallTime":    summary.Elapsed.Round(time.Millisecond).String(),
		"throughput":  summary.Throughput,
		"breaker":     gate.Snapshot().State.String(),
	}).Info("load generation finished")
	return bgErr
}
