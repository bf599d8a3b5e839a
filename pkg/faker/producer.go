package faker

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/siqueiraa/LiftFlow/pkg/logger"
	"github.com/siqueiraa/LiftFlow/pkg/model"
)

const progressEvery = 10000 // Events between producer progress lines

// Sink is where produced events go; *queue.Queue satisfies it.
type Sink interface {
	Enqueue(ctx context.Context, ev model.LiftRideEvent) error
}

// ProducerOptions tune a Producer. The zero value emits as fast as the sink
// accepts.
type ProducerOptions struct {
	// Limiter paces emission when set.
	Limiter *rate.Limiter
	Logger  logger.Logger
}

// Producer emits a fixed number of generated events into a sink. A Producer
// runs once; calling Run again returns an error.
type Producer struct {
	gen   *Generator
	sink  Sink
	count int
	opts  ProducerOptions
	ran   bool
}

// NewProducer creates a producer that will emit exactly count events.
func NewProducer(gen *Generator, sink Sink, count int, opts ProducerOptions) *Producer {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Producer{gen: gen, sink: sink, count: count, opts: opts}
}

// Run emits events until count is reached, the sink shuts down, or ctx is
// cancelled. It returns the number of events accepted by the sink.
func (p *Producer) Run(ctx context.Context) (int, error) {
	if p.ran {
		return 0, fmt.Errorf("producer already ran")
	}
	p.ran = true

	log := p.opts.Logger.WithFields(logger.Fields{"component": "producer", "count": p.count})
	log.Info("producing events")

	for emitted := 0; emitted < p.count; emitted++ {
		if p.opts.Limiter != nil {
			if err := p.opts.Limiter.Wait(ctx); err != nil {
				return emitted, fmt.Errorf("pace producer: %w", err)
			}
		}
		if err := p.sink.Enqueue(ctx, p.gen.Next()); err != nil {
			log.WithFields(logger.Fields{"emitted": emitted, "error": err}).Warn("producer stopped early")
			return emitted, err
		}
		if (emitted+1)%progressEvery == 0 {
			log.WithFields(logger.Fields{"emitted": emitted + 1}).Debug("producer progress")
		}
	}

	log.Info("producer finished")
	return p.count, nil
}
