// Command consumer reads lift rides from Kafka, persists them in batches
// and serves read-only queries over the stored data.
package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/siqueiraa/LiftFlow/internal/cli"
	"github.com/siqueiraa/LiftFlow/pkg/admission"
	"github.com/siqueiraa/LiftFlow/pkg/config"
	"github.com/siqueiraa/LiftFlow/pkg/ingest"
	"github.com/siqueiraa/LiftFlow/pkg/kafka"
	"github.com/siqueiraa/LiftFlow/pkg/logger"
	"github.com/siqueiraa/LiftFlow/pkg/metrics"
	"github.com/siqueiraa/LiftFlow/pkg/model"
	"github.com/siqueiraa/LiftFlow/pkg/monitor"
	"github.com/siqueiraa/LiftFlow/pkg/queue"
	"github.com/siqueiraa/LiftFlow/pkg/sink"
	"github.com/siqueiraa/LiftFlow/pkg/worker"
)

const shutdownTimeout = 30 * time.Second

type flags struct {
	cli.Options
	threads    int
	maxThreads int
	backend    string
	batchSize  int
	listen     string
}

func main() {
	cli.Execute(newRootCommand())
}

func newRootCommand() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "consumer",
		Short: "Consume lift rides from Kafka into the bulk store",
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
	cmd.Flags().IntVar(&f.threads, "threads", 0, "initial worker count")
	cmd.Flags().IntVar(&f.maxThreads, "max-threads", 0, "upper bound for the scaler")
	cmd.Flags().StringVar(&f.backend, "backend", "", "bulk store: badger, duckdb or dynamodb")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "records per bulk write")
	cmd.Flags().StringVar(&f.listen, "listen", "", "query API listen address")
	return cmd
}

func (f *flags) apply(cmd *cobra.Command, c *config.AppConfig) {
	cc := &c.Consumer
	if cmd.Flags().Changed("threads") {
		cc.Pool.Initial = f.threads
		cc.Pool.Min = min(cc.Pool.Min, f.threads)
		cc.Pool.Max = max(cc.Pool.Max, f.threads)
	}
	if cmd.Flags().Changed("max-threads") {
		cc.Pool.Max = f.maxThreads
	}
	if cmd.Flags().Changed("backend") {
		c.Sink.Backend = f.backend
	}
	if cmd.Flags().Changed("batch-size") {
		c.Sink.BatchSize = f.batchSize
	}
	if cmd.Flags().Changed("listen") {
		cc.QueryListen = f.listen
	}
}

// persistHandler turns a delivery into a record and appends it to the sink.
func persistHandler(bs *sink.BatchSink, delay time.Duration, clk clock.Clock) worker.Handler[*kafka.Delivery] {
	return worker.HandlerFunc[*kafka.Delivery](func(ctx context.Context, d *kafka.Delivery) error {
		if delay > 0 {
			select {
			case <-clk.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return bs.Append(ctx, model.NewRecord(d.Event, clk.Now()))
	})
}

// workers groups what sits between the fetch loop and the sink.
type workers struct {
	queue  *queue.Queue[*kafka.Delivery]
	gate   *admission.Controller
	pool   *worker.Pool[*kafka.Delivery]
	scaler *worker.Scaler
}

func buildWorkers(cc config.ConsumerConfig, bs *sink.BatchSink, backlog worker.Backlog,
	clk clock.WithTicker, rec *metrics.Recorder, log logger.Logger) (*workers, error) {
	q := queue.New[*kafka.Delivery](cc.QueueCapacity)
	gate, err := admission.New(cc.Admission, clk, log)
	if err != nil {
		return nil, err
	}
	pool, err := worker.New(cc.Pool, q, gate,
		worker.Static(persistHandler(bs, cc.ProcessingDelay, clk)),
		worker.WithLogger(log), worker.WithObserver(rec), worker.WithClock(clk))
	if err != nil {
		return nil, err
	}
	scaler, err := worker.NewScaler(pool, backlog, cc.Scaler, clk, log)
	if err != nil {
		return nil, err
	}
	return &workers{queue: q, gate: gate, pool: pool, scaler: scaler}, nil
}

// closeOnError releases the store and the broker client when startup fails
// after both were opened.
func closeOnError(ctx context.Context, err error, bs *sink.BatchSink, cons io.Closer) error {
	return errors.Join(err, bs.Close(ctx), cons.Close())
}

func run(ctx context.Context, cfg config.AppConfig, log logger.Logger) error {
	cc := cfg.Consumer
	clk := clock.RealClock{}
	log.WithFields(logger.Fields{
		"topic":   cfg.Kafka.Topic,
		"group":   cfg.Kafka.GroupID,
		"backend": cfg.Sink.Backend,
		"batch":   cfg.Sink.BatchSize,
		"threads": cc.Pool.Initial,
	}).Info("starting consumer")

	be, err := openBackend(ctx, cfg.Sink, log)
	if err != nil {
		return err
	}
	rec := metrics.NewRecorder("consumer")
	bs := sink.New(be.store, cfg.Sink.BatchSize, log)
	bs.SetObserver(rec)

	codec, err := kafka.NewCodec(cfg.Kafka)
	if err != nil {
		_ = bs.Close(ctx)
		return err
	}
	cons, err := kafka.NewConsumer(cfg.Kafka, codec, log)
	if err != nil {
		_ = bs.Close(ctx)
		return err
	}
	cons.BeforeCommit(func() error {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return bs.Flush(fctx)
	})

	parts, err := buildWorkers(cc, bs, cons, clk, rec, log)
	if err != nil {
		return closeOnError(ctx, err, bs, cons)
	}
	q, pool, scaler := parts.queue, parts.pool, parts.scaler
	rec.WatchAdmission(parts.gate.Snapshot)

	mon := monitor.New(monitor.SourceFunc(func() monitor.Counters {
		s := pool.Stats()
		return monitor.Counters{
			Succeeded: bs.TotalProcessed(),
			Failed:    s.Failures(),
			Unique:    bs.UniqueKeys(),
			Backlog:   int64(q.Len()),
			Workers:   s.Live,
		}
	}), cc.ReportInterval, 0, clk, log)
	mon.OnReport(rec.ObserveReport)

	router := mux.NewRouter()
	ingest.RegisterQueries(router, bs, log)
	router.Use(ingest.AccessLog(log))
	api := &http.Server{Addr: cc.QueryListen, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	pool.Start(ctx)

	bgCtx, stopBackground := context.WithCancel(ctx)
	var bg errgroup.Group
	bg.Go(func() error { scaler.Run(bgCtx); return nil })
	bg.Go(func() error { mon.Run(bgCtx); return nil })
	bg.Go(func() error { be.runSnapshots(bgCtx, cfg.Sink); return nil })
	bg.Go(func() error {
		log.WithFields(logger.Fields{"listen": cc.QueryListen}).Info("serving query api")
		if err := api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.Metrics.Enabled {
		bg.Go(func() error { return rec.Serve(bgCtx, cfg.Metrics.Listen, log) })
	}

	fetchErr := cons.Run(ctx, q)
	if fetchErr != nil {
		log.WithFields(logger.Fields{"error": fetchErr}).Error("fetch loop stopped")
	}

	// Workers finish their current item; queued deliveries stay uncommitted.
	q.Close()
	pool.Wait()

	shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	// Persist before committing: a failed flush leaves the offsets pending
	// so the broker redelivers those rides.
	var errs []error
	if err := bs.Flush(shutCtx); err != nil {
		log.WithFields(logger.Fields{"error": err}).Warn("final flush failed, offsets left uncommitted")
		errs = append(errs, err)
	} else if err := cons.Commit(); err != nil {
		errs = append(errs, err)
	}
	if err := be.finalSnapshot(shutCtx); err != nil {
		errs = append(errs, err)
	}

	_ = api.Shutdown(shutCtx)
	stopBackground()
	errs = append(errs, bg.Wait())

	mon.Summary()
	log.WithFields(logger.Fields{
		"consumer": cons.Stats(),
		"sink":     bs.Stats(),
	}).Info("consumer stopped")

	errs = append(errs, bs.Close(shutCtx), cons.Close(), fetchErr)
	return errors.Join(errs...)
}
