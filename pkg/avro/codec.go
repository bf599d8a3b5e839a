// Package avro encodes lift ride events in the Confluent wire format:
// a zero magic byte, a 4-byte big-endian schema ID, then the Avro body.
package avro

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"

	"github.com/hamba/avro/v2"
	"github.com/riferrei/srclient"
	"golang.org/x/sync/singleflight"

	"github.com/siqueiraa/LiftFlow/pkg/model"
)

const (
	magicByte  = 0
	headerSize = 5 // Magic byte (1) + Schema ID (4)
)

type writerSchema struct {
	id     int
	schema avro.Schema
}

// Codec encodes with the latest schema of its subject and decodes with
// whatever schema ID a payload carries. Parsed schemas are cached.
type Codec struct {
	client  srclient.ISchemaRegistryClient
	subject string

	writer sync.Map // subject -> writerSchema
	byID   sync.Map // int -> avro.Schema
	group  singleflight.Group
}

// NewCodec builds a codec for subject.
func NewCodec(client srclient.ISchemaRegistryClient, subject string) *Codec {
	return &Codec{client: client, subject: subject}
}

func (c *Codec) latest() (writerSchema, error) {
	if v, ok := c.writer.Load(c.subject); ok {
		return v.(writerSchema), nil
	}
	v, err, _ := c.group.Do("subject:"+c.subject, func() (any, error) {
		meta, err := c.client.GetLatestSchema(c.subject)
		if err != nil {
			return nil, fmt.Errorf("fetch schema %s: %w", c.subject, err)
		}
		schema, err := avro.Parse(meta.Schema())
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", c.subject, err)
		}
		ws := writerSchema{id: meta.ID(), schema: schema}
		c.writer.Store(c.subject, ws)
		c.byID.Store(meta.ID(), schema)
		return ws, nil
	})
	if err != nil {
		return writerSchema{}, err
	}
	return v.(writerSchema), nil
}

func (c *Codec) schemaByID(id int) (avro.Schema, error) {
	if v, ok := c.byID.Load(id); ok {
		return v.(avro.Schema), nil
	}
	v, err, _ := c.group.Do("id:"+strconv.Itoa(id), func() (any, error) {
		meta, err := c.client.GetSchema(id)
		if err != nil {
			return nil, fmt.Errorf("fetch schema id %d: %w", id, err)
		}
		schema, err := avro.Parse(meta.Schema())
		if err != nil {
			return nil, fmt.Errorf("parse schema id %d: %w", id, err)
		}
		c.byID.Store(id, schema)
		return schema, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(avro.Schema), nil
}

// Encode returns the wire-format payload for ev.
func (c *Codec) Encode(ev model.LiftRideEvent) ([]byte, error) {
	ws, err := c.latest()
	if err != nil {
		return nil, err
	}
	if ws.id < 0 || int64(ws.id) > 0xFFFFFFFF {
		return nil, fmt.Errorf("schema id %d out of uint32 range", ws.id)
	}
	body, err := avro.Marshal(ws.schema, ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	out := make([]byte, headerSize+len(body))
	out[0] = magicByte
	binary.BigEndian.PutUint32(out[1:headerSize], uint32(ws.id)) //nolint:gosec // range checked above
	copy(out[headerSize:], body)
	return out, nil
}

// Decode parses a wire-format payload.
func (c *Codec) Decode(payload []byte) (model.LiftRideEvent, error) {
	var ev model.LiftRideEvent
	if len(payload) < headerSize || payload[0] != magicByte {
		return ev, fmt.Errorf("invalid wire format: missing magic byte or too short")
	}
	id := int(binary.BigEndian.Uint32(payload[1:headerSize]))
	schema, err := c.schemaByID(id)
	if err != nil {
		return ev, err
	}
	if err := avro.Unmarshal(schema, payload[headerSize:], &ev); err != nil {
		return ev, fmt.Errorf("unmarshal with schema id %d: %w", id, err)
	}
	return ev, nil
}
