package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/liftflow/config.yaml", []byte(content), 0o600))
	return fs
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadFs(afero.NewMemMapFs(), "")
	require.NoError(t, err)

	assert.Equal(t, "ski-rides", cfg.Kafka.Topic)
	assert.Equal(t, 200000, cfg.LoadGen.Total)
	assert.Equal(t, 48, cfg.LoadGen.Pool.Initial)
	assert.Equal(t, 200, cfg.LoadGen.Pool.Max)
	assert.Equal(t, 3, cfg.LoadGen.Pool.Retry.Attempts)
	assert.Equal(t, 10000, cfg.LoadGen.Admission.BucketCapacity)
	assert.Equal(t, 20, cfg.LoadGen.Admission.FailureThreshold)
	assert.Equal(t, 64, cfg.Consumer.Pool.Initial)
	assert.Equal(t, 32, cfg.Consumer.Pool.Min)
	assert.Equal(t, 128, cfg.Consumer.Pool.Max)
	assert.Equal(t, 30*time.Second, cfg.Consumer.Scaler.Interval)
	assert.Equal(t, 25, cfg.Sink.BatchSize)
	assert.Equal(t, BackendBadger, cfg.Sink.Backend)
	assert.Equal(t, 100000, cfg.LoadGen.Ranges.Skier.Max)
}

func TestLoadOverlaysYAML(t *testing.T) {
	fs := writeConfig(t, `
kafka:
  brokers:
    - kafka-1:9092
    - kafka-2:9092
  topic: rides
  useAvro: true
  schemaRegistry: http://registry:8081

loadgen:
  server: http://api:8080
  total: 5000
  pool:
    initial: 8
    min: 4
    max: 16
    failurePolicy: log
  admission:
    coolDown: 500ms

consumer:
  processingDelay: 20ms

sink:
  backend: dynamodb
  batchSize: 10
  dynamodb:
    table: Rides
    endpoint: http://localhost:8000
`)

	cfg, err := LoadFs(fs, "/etc/liftflow/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "rides", cfg.Kafka.Topic)
	assert.True(t, cfg.Kafka.UseAvro)
	assert.Equal(t, "http://api:8080", cfg.LoadGen.Server)
	assert.Equal(t, 5000, cfg.LoadGen.Total)
	assert.Equal(t, 8, cfg.LoadGen.Pool.Initial)
	assert.Equal(t, "log", string(cfg.LoadGen.Pool.FailurePolicy))
	// Untouched nested fields keep their defaults.
	assert.Equal(t, 3, cfg.LoadGen.Pool.Retry.Attempts)
	assert.Equal(t, 500*time.Millisecond, cfg.LoadGen.Admission.CoolDown)
	assert.Equal(t, 20, cfg.LoadGen.Admission.FailureThreshold)
	assert.Equal(t, 20*time.Millisecond, cfg.Consumer.ProcessingDelay)
	assert.Equal(t, BackendDynamoDB, cfg.Sink.Backend)
	assert.Equal(t, "Rides", cfg.Sink.DynamoDB.Table)
	assert.Equal(t, "ResortDayIndex", cfg.Sink.DynamoDB.ResortDayIndex)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("LIFTFLOW_KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("LIFTFLOW_KAFKA_TOPIC", "env-rides")
	t.Setenv("LIFTFLOW_LOADGEN_TOTAL", "42")
	t.Setenv("LIFTFLOW_CONSUMER_PROCESSINGDELAY", "250ms")
	t.Setenv("LIFTFLOW_SINK_BACKEND", "duckdb")

	fs := writeConfig(t, "kafka:\n  topic: file-rides\n")
	cfg, err := LoadFs(fs, "/etc/liftflow/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "env-rides", cfg.Kafka.Topic)
	assert.Equal(t, 42, cfg.LoadGen.Total)
	assert.Equal(t, 250*time.Millisecond, cfg.Consumer.ProcessingDelay)
	assert.Equal(t, BackendDuckDB, cfg.Sink.Backend)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		path    string
	}{
		{name: "missing file", path: "/nope.yaml"},
		{name: "bad yaml", content: "kafka: [", path: "/etc/liftflow/config.yaml"},
		{name: "unknown backend", content: "sink:\n  backend: mongo\n", path: "/etc/liftflow/config.yaml"},
		{name: "pool bounds", content: "consumer:\n  pool:\n    min: 200\n", path: "/etc/liftflow/config.yaml"},
		{name: "dynamo batch limit", content: "sink:\n  backend: dynamodb\n  batchSize: 50\n", path: "/etc/liftflow/config.yaml"},
		{name: "no brokers", content: "kafka:\n  brokers: []\n", path: "/etc/liftflow/config.yaml"},
		{name: "s3 without bucket", content: "sink:\n  badger:\n    snapshot:\n      s3:\n        enabled: true\n", path: "/etc/liftflow/config.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := writeConfig(t, tt.content)
			_, err := LoadFs(fs, tt.path)
			assert.Error(t, err)
		})
	}
}
