package kafka

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/siqueiraa/LiftFlow/pkg/config"
	"github.com/siqueiraa/LiftFlow/pkg/model"
)

const (
	batchTimeoutMillis = 10 // Batch timeout in milliseconds
	intKeyCapacity     = 12 // Buffer capacity for int keys
	decimalBase        = 10 // Base for decimal number conversion
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes lift ride events keyed by skier, so one skier's rides
// land on one partition.
type Producer struct {
	writer messageWriter
	topic  string
	codec  Codec
}

// NewProducer creates a writer for cfg.Topic.
func NewProducer(cfg config.KafkaConfig, codec Codec) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: batchTimeoutMillis * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return newProducer(w, cfg.Topic, codec)
}

func newProducer(w messageWriter, topic string, codec Codec) *Producer {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &Producer{writer: w, topic: topic, codec: codec}
}

// PublishEvent encodes ev and writes it synchronously.
func (p *Producer) PublishEvent(ctx context.Context, ev model.LiftRideEvent) error {
	payload, err := p.codec.Encode(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := kafka.Message{
		Key:   strconv.AppendInt(make([]byte, 0, intKeyCapacity), int64(ev.SkierID), decimalBase),
		Value: payload,
		Time:  time.Now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	return nil
}

// Close shuts down the writer cleanly.
func (p *Producer) Close() error {
	return p.writer.Close()
}
