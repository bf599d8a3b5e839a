package kafka

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/riferrei/srclient"

	"github.com/siqueiraa/LiftFlow/pkg/avro"
	"github.com/siqueiraa/LiftFlow/pkg/config"
	"github.com/siqueiraa/LiftFlow/pkg/model"
)

var jsonFast = jsoniter.ConfigFastest

// Codec turns events into message values and back.
type Codec interface {
	Encode(ev model.LiftRideEvent) ([]byte, error)
	Decode(payload []byte) (model.LiftRideEvent, error)
}

// JSONCodec is the default value format.
type JSONCodec struct{}

func (JSONCodec) Encode(ev model.LiftRideEvent) ([]byte, error) {
	b, err := jsonFast.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("json marshal failed: %w", err)
	}
	return b, nil
}

func (JSONCodec) Decode(payload []byte) (model.LiftRideEvent, error) {
	var ev model.LiftRideEvent
	if err := jsonFast.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("json unmarshal failed: %w", err)
	}
	return ev, nil
}

// NewCodec picks JSON or registry-backed Avro. With Avro the value schema is
// registered when the subject is still empty.
func NewCodec(cfg config.KafkaConfig) (Codec, error) {
	if !cfg.UseAvro {
		return JSONCodec{}, nil
	}
	client := srclient.CreateSchemaRegistryClient(cfg.SchemaRegistry)
	subject := avro.Subject(cfg.Topic)
	if _, _, err := avro.EnsureSchema(client, subject, avro.LiftRideEventSchema); err != nil {
		return nil, err
	}
	return avro.NewCodec(client, subject), nil
}
