package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/kafka"
	"k8s.io/utils/clock"

	"github.com/siqueiraa/LiftFlow/pkg/config"
	"github.com/siqueiraa/LiftFlow/pkg/logger"
	"github.com/siqueiraa/LiftFlow/pkg/model"
)

const (
	pollTimeout     = 100 * time.Millisecond
	metadataTimeout = 5000 // milliseconds, for committed/watermark lookups
)

// client is the subset of *ck.Consumer the consumer uses.
type client interface {
	ReadMessage(timeout time.Duration) (*ck.Message, error)
	CommitOffsets(offsets []ck.TopicPartition) ([]ck.TopicPartition, error)
	Assignment() ([]ck.TopicPartition, error)
	Committed(partitions []ck.TopicPartition, timeoutMs int) ([]ck.TopicPartition, error)
	QueryWatermarkOffsets(topic string, partition int32, timeoutMs int) (int64, int64, error)
	Close() error
}

// Enqueuer receives decoded deliveries. *queue.Queue[*Delivery] satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, d *Delivery) error
}

// Delivery is one broker message handed to the worker pool. It must be
// settled exactly once with Ack or Nack; later calls are ignored. A Delivery
// built outside a Consumer settles as a no-op.
type Delivery struct {
	Event     model.LiftRideEvent
	Partition int32
	Offset    int64

	c       *Consumer
	settled atomic.Bool
}

// Ack marks the message processed; its offset becomes committable.
func (d *Delivery) Ack() {
	if d.settled.CompareAndSwap(false, true) && d.c != nil {
		d.c.acked(d)
	}
}

// Nack with requeue hands the event back to the fetch loop, ahead of new
// messages. Without requeue the message is dropped and its offset released.
func (d *Delivery) Nack(requeue bool) {
	if !d.settled.CompareAndSwap(false, true) || d.c == nil {
		return
	}
	if requeue {
		d.c.requeue(d)
		return
	}
	d.c.acked(d)
}

func (d *Delivery) String() string {
	return fmt.Sprintf("%s@%d/%d", d.Event, d.Partition, d.Offset)
}

// ConsumerStats are the fetch loop counters.
type ConsumerStats struct {
	Received  int64
	Malformed int64
	Requeued  int64
	Commits   int64
	InFlight  int
}

// Consumer reads lift ride events with manual commits. Offsets are committed
// only up to the lowest unsettled delivery of each partition.
type Consumer struct {
	client      client
	topic       string
	codec       Codec
	commitEvery int
	commitEach  time.Duration
	clock       clock.PassiveClock
	log         logger.Logger

	tracker *offsetTracker
	persist func() error

	mu      sync.Mutex
	retries []*Delivery

	sinceCommit atomic.Int64
	lastCommit  time.Time

	received  atomic.Int64
	malformed atomic.Int64
	requeued  atomic.Int64
	commits   atomic.Int64
}

// NewConsumer connects to the brokers and subscribes to cfg.Topic. Revoked
// partitions get a final commit before they are released.
func NewConsumer(cfg config.KafkaConfig, codec Codec, log logger.Logger) (*Consumer, error) {
	cm := &ck.ConfigMap{
		"bootstrap.servers":               strings.Join(cfg.Brokers, ","),
		"group.id":                        cfg.GroupID,
		"enable.auto.commit":              false,
		"auto.offset.reset":               "earliest",
		"go.application.rebalance.enable": true,
	}
	kc, err := ck.NewConsumer(cm)
	if err != nil {
		return nil, fmt.Errorf("create confluent consumer: %w", err)
	}

	c := newConsumer(kc, cfg, codec, clock.RealClock{}, log)

	err = kc.SubscribeTopics([]string{cfg.Topic}, func(con *ck.Consumer, ev ck.Event) error {
		switch e := ev.(type) {
		case ck.AssignedPartitions:
			c.log.WithFields(logger.Fields{"partitions": len(e.Partitions)}).Info("partitions assigned")
			return con.Assign(e.Partitions)
		case ck.RevokedPartitions:
			c.revoke(e.Partitions)
			return con.Unassign()
		default:
			return nil
		}
	})
	if err != nil {
		_ = kc.Close()
		return nil, fmt.Errorf("subscribe %s: %w", cfg.Topic, err)
	}
	return c, nil
}

func newConsumer(cl client, cfg config.KafkaConfig, codec Codec, clk clock.PassiveClock, log logger.Logger) *Consumer {
	if log == nil {
		log = logger.Nop()
	}
	if codec == nil {
		codec = JSONCodec{}
	}
	return &Consumer{
		client:      cl,
		topic:       cfg.Topic,
		codec:       codec,
		commitEvery: cfg.CommitEvery,
		commitEach:  cfg.CommitInterval,
		clock:       clk,
		log:         log.WithFields(logger.Fields{"component": "kafka", "topic": cfg.Topic}),
		tracker:     newOffsetTracker(),
		lastCommit:  clk.Now(),
	}
}

// Run fetches messages into q until ctx is cancelled or q refuses an item,
// then commits what has been settled. Requeued deliveries go first.
func (c *Consumer) Run(ctx context.Context, q Enqueuer) error {
	defer func() {
		if err := c.Commit(); err != nil {
			c.log.WithFields(logger.Fields{"error": err}).Warn("final commit failed")
		}
	}()

	for ctx.Err() == nil {
		c.maybeCommit()

		if d := c.nextRetry(); d != nil {
			if err := q.Enqueue(ctx, d); err != nil {
				return nil
			}
			continue
		}

		msg, err := c.client.ReadMessage(pollTimeout)
		if err != nil {
			var ke ck.Error
			if errors.As(err, &ke) {
				if ke.Code() == ck.ErrTimedOut {
					continue
				}
				if ke.IsFatal() {
					return fmt.Errorf("consumer fatal error: %w", err)
				}
			}
			c.log.WithFields(logger.Fields{"error": err}).Warn("read failed")
			continue
		}

		d, ok := c.decode(msg)
		if !ok {
			continue
		}
		if err := q.Enqueue(ctx, d); err != nil {
			// Left pending: the offset is not committed and will be redelivered.
			return nil
		}
	}
	return nil
}

func (c *Consumer) decode(msg *ck.Message) (*Delivery, bool) {
	c.received.Add(1)
	partition := msg.TopicPartition.Partition
	offset := int64(msg.TopicPartition.Offset)
	c.tracker.track(partition, offset)

	ev, err := c.codec.Decode(msg.Value)
	if err != nil {
		c.malformed.Add(1)
		c.tracker.done(partition, offset)
		c.log.WithFields(logger.Fields{"partition": partition, "offset": offset, "error": err}).
			Warn("skipping malformed message")
		return nil, false
	}
	return &Delivery{Event: ev, Partition: partition, Offset: offset, c: c}, true
}

func (c *Consumer) acked(d *Delivery) {
	c.tracker.done(d.Partition, d.Offset)
	c.sinceCommit.Add(1)
}

func (c *Consumer) requeue(d *Delivery) {
	c.requeued.Add(1)
	c.mu.Lock()
	c.retries = append(c.retries, &Delivery{Event: d.Event, Partition: d.Partition, Offset: d.Offset, c: c})
	c.mu.Unlock()
}

func (c *Consumer) nextRetry() *Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.retries) == 0 {
		return nil
	}
	d := c.retries[0]
	c.retries[0] = nil
	c.retries = c.retries[1:]
	return d
}

func (c *Consumer) maybeCommit() {
	due := c.commitEvery > 0 && c.sinceCommit.Load() >= int64(c.commitEvery)
	if !due && c.commitEach > 0 && c.clock.Since(c.lastCommit) >= c.commitEach {
		due = true
	}
	if !due {
		return
	}
	if err := c.Commit(); err != nil {
		c.log.WithFields(logger.Fields{"error": err}).Warn("commit failed")
	}
}

// BeforeCommit registers fn to run on every commit, after the offsets are
// chosen and before they are sent. Acked deliveries may still sit in a write
// buffer; fn is where that buffer reaches durable storage. When fn fails the
// commit is skipped and the offsets stay pending. Call it before Run.
func (c *Consumer) BeforeCommit(fn func() error) { c.persist = fn }

// Commit sends the committable offsets of every partition in one request.
func (c *Consumer) Commit() error {
	c.lastCommit = c.clock.Now()
	offsets := c.tracker.committable()
	if len(offsets) == 0 {
		return nil
	}
	if c.persist != nil {
		if err := c.persist(); err != nil {
			return fmt.Errorf("persist before commit, offsets left pending: %w", err)
		}
	}
	c.sinceCommit.Store(0)

	tps := make([]ck.TopicPartition, 0, len(offsets))
	for p, off := range offsets {
		tps = append(tps, ck.TopicPartition{Topic: &c.topic, Partition: p, Offset: ck.Offset(off)})
	}
	if _, err := c.client.CommitOffsets(tps); err != nil {
		return fmt.Errorf("commit batch failed: %w", err)
	}
	c.tracker.markCommitted(offsets)
	c.commits.Add(1)
	c.log.WithFields(logger.Fields{"partitions": len(tps)}).Trace("offsets committed")
	return nil
}

func (c *Consumer) revoke(parts []ck.TopicPartition) {
	if err := c.Commit(); err != nil {
		c.log.WithFields(logger.Fields{"error": err}).Warn("commit on revoke failed")
	}
	ids := make([]int32, 0, len(parts))
	for _, p := range parts {
		ids = append(ids, p.Partition)
	}
	c.tracker.forget(ids...)
	c.log.WithFields(logger.Fields{"partitions": len(ids)}).Info("partitions revoked")
}

// Backlog is the broker-side depth: high watermark minus committed offset,
// summed over the assigned partitions.
func (c *Consumer) Backlog(_ context.Context) (int64, error) {
	assigned, err := c.client.Assignment()
	if err != nil {
		return 0, fmt.Errorf("assignment: %w", err)
	}
	if len(assigned) == 0 {
		return 0, nil
	}
	committed, err := c.client.Committed(assigned, metadataTimeout)
	if err != nil {
		return 0, fmt.Errorf("committed offsets: %w", err)
	}

	var total int64
	for _, tp := range committed {
		topic := c.topic
		if tp.Topic != nil {
			topic = *tp.Topic
		}
		low, high, err := c.client.QueryWatermarkOffsets(topic, tp.Partition, metadataTimeout)
		if err != nil {
			return 0, fmt.Errorf("watermarks %s/%d: %w", topic, tp.Partition, err)
		}
		from := int64(tp.Offset)
		if from < 0 {
			from = low
		}
		if lag := high - from; lag > 0 {
			total += lag
		}
	}
	return total, nil
}

// Stats returns the fetch loop counters.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Received:  c.received.Load(),
		Malformed: c.malformed.Load(),
		Requeued:  c.requeued.Load(),
		Commits:   c.commits.Load(),
		InFlight:  c.tracker.inFlight(),
	}
}

func (c *Consumer) Close() error { return c.client.Close() }
