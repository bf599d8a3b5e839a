package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/siqueiraa/LiftFlow/pkg/admission"
	"github.com/siqueiraa/LiftFlow/pkg/faker"
	"github.com/siqueiraa/LiftFlow/pkg/sink"
	"github.com/siqueiraa/LiftFlow/pkg/worker"
)

const (
	EnvPrefix = "LIFTFLOW" // Prefix for environment overrides, e.g. LIFTFLOW_KAFKA_TOPIC

	defaultTopic           = "ski-rides"
	defaultGroupID         = "liftflow-consumer"
	defaultServer          = "http://localhost:8080"
	defaultTotal           = 200000 // Events per load generator run
	defaultClientQueue     = 100000 // Load generator queue capacity
	defaultConsumerQueue   = 10000  // Consumer queue capacity
	defaultRequestTimeout  = time.Second
	defaultClientReport    = time.Second
	defaultConsumerReport  = 10 * time.Second
	defaultCommitEvery     = 100 // Acked messages between offset commits
	defaultCommitInterval  = 5 * time.Second
	defaultSnapshotEvery   = 5 * time.Minute
	maxDynamoBatch         = 25 // BatchWriteItem hard limit
	defaultResortDayIndex  = "ResortDayIndex"
	defaultTable           = "LiftRides"
	defaultBadgerPath      = "./data/badger"
	defaultDuckDBPath      = "./data/liftflow.duckdb"
	defaultIngestListen    = ":8080"
	defaultQueryListen     = ":8082"
	defaultMetricsListen   = ":9090"
	defaultPublishTimeout  = 2 * time.Second
	defaultClientPoolStart = 48
	defaultClientPoolMax   = 200
	defaultConsumerStart   = 64
	defaultConsumerMin     = 32
	defaultConsumerMax     = 128
)

// Sink backends.
const (
	BackendBadger   = "badger"
	BackendDuckDB   = "duckdb"
	BackendDynamoDB = "dynamodb"
)

// KafkaConfig is shared by the ingest server and the consumer.
type KafkaConfig struct {
	Brokers        []string      `yaml:"brokers"`
	Topic          string        `yaml:"topic"`
	GroupID        string        `yaml:"groupID"`
	SchemaRegistry string        `yaml:"schemaRegistry"`
	UseAvro        bool          `yaml:"useAvro"`
	CommitEvery    int           `yaml:"commitEvery"`
	CommitInterval time.Duration `yaml:"commitInterval"`
}

// LoadGenConfig drives the client pipeline.
type LoadGenConfig struct {
	Server         string              `yaml:"server"`
	Total          int                 `yaml:"total"`
	QueueCapacity  int                 `yaml:"queueCapacity"`
	RequestTimeout time.Duration       `yaml:"requestTimeout"`
	Seed           int64               `yaml:"seed"`
	Rate           float64             `yaml:"rate"` // events per second, 0 = unpaced
	ReportInterval time.Duration       `yaml:"reportInterval"`
	Ranges         faker.Ranges        `yaml:"ranges"`
	Pool           worker.Config       `yaml:"pool"`
	Scaler         worker.ScalerConfig `yaml:"scaler"`
	Admission      admission.Config    `yaml:"admission"`
}

// ConsumerConfig drives the consumer pipeline.
type ConsumerConfig struct {
	QueueCapacity   int                 `yaml:"queueCapacity"`
	ProcessingDelay time.Duration       `yaml:"processingDelay"`
	ReportInterval  time.Duration       `yaml:"reportInterval"`
	QueryListen     string              `yaml:"queryListen"`
	Pool            worker.Config       `yaml:"pool"`
	Scaler          worker.ScalerConfig `yaml:"scaler"`
	Admission       admission.Config    `yaml:"admission"`
}

// IngestConfig is the write endpoint server.
type IngestConfig struct {
	Listen         string        `yaml:"listen"`
	PublishTimeout time.Duration `yaml:"publishTimeout"`
}

// S3Config locates snapshot archives.
type S3Config struct {
	Enabled   bool   `yaml:"enabled"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Endpoint  string `yaml:"endpoint"`
	Prefix    string `yaml:"prefix"`
}

type BadgerConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"inMemory"`
	Snapshot struct {
		Enabled  bool          `yaml:"enabled"`
		Interval time.Duration `yaml:"interval"`
		S3       S3Config      `yaml:"s3"`
	} `yaml:"snapshot"`
}

type DuckDBConfig struct {
	Path string `yaml:"path"` // empty means in-memory
}

type DynamoDBConfig struct {
	Table          string `yaml:"table"`
	ResortDayIndex string `yaml:"resortDayIndex"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	AccessKey      string `yaml:"accessKey"`
	SecretKey      string `yaml:"secretKey"`
}

// SinkConfig selects and configures the bulk store.
type SinkConfig struct {
	Backend   string         `yaml:"backend"`
	BatchSize int            `yaml:"batchSize"`
	Badger    BadgerConfig   `yaml:"badger"`
	DuckDB    DuckDBConfig   `yaml:"duckdb"`
	DynamoDB  DynamoDBConfig `yaml:"dynamodb"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type LoggingConfig struct {
	Verbosity int    `yaml:"verbosity"`
	Format    string `yaml:"format"`
}

type AppConfig struct {
	Kafka    KafkaConfig    `yaml:"kafka"`
	LoadGen  LoadGenConfig  `yaml:"loadgen"`
	Consumer ConsumerConfig `yaml:"consumer"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Sink     SinkConfig     `yaml:"sink"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// Default returns a configuration that runs against a local stack.
func Default() AppConfig {
	clientScaler := worker.DefaultScalerConfig()
	clientScaler.Interval = 5 * time.Second

	cfg := AppConfig{
		Kafka: KafkaConfig{
			Brokers:        []string{"localhost:9092"},
			Topic:          defaultTopic,
			GroupID:        defaultGroupID,
			CommitEvery:    defaultCommitEvery,
			CommitInterval: defaultCommitInterval,
		},
		LoadGen: LoadGenConfig{
			Server:         defaultServer,
			Total:          defaultTotal,
			QueueCapacity:  defaultClientQueue,
			RequestTimeout: defaultRequestTimeout,
			Seed:           1,
			ReportInterval: defaultClientReport,
			Ranges:         faker.DefaultRanges(),
			Pool: worker.Config{
				Initial:       defaultClientPoolStart,
				Min:           defaultClientPoolStart,
				Max:           defaultClientPoolMax,
				Retry:         worker.DefaultRetryConfig(),
				FailurePolicy: worker.DropSilently,
			},
			Scaler:    clientScaler,
			Admission: admission.DefaultConfig(),
		},
		Consumer: ConsumerConfig{
			QueueCapacity:  defaultConsumerQueue,
			ReportInterval: defaultConsumerReport,
			QueryListen:    defaultQueryListen,
			Pool: worker.Config{
				Initial:       defaultConsumerStart,
				Min:           defaultConsumerMin,
				Max:           defaultConsumerMax,
				Retry:         worker.DefaultRetryConfig(),
				FailurePolicy: worker.LogDropped,
			},
			Scaler:    worker.DefaultScalerConfig(),
			Admission: admission.DefaultConfig(),
		},
		Ingest: IngestConfig{
			Listen:         defaultIngestListen,
			PublishTimeout: defaultPublishTimeout,
		},
		Sink: SinkConfig{
			Backend:   BackendBadger,
			BatchSize: sink.DefaultThreshold,
			Badger:    BadgerConfig{Path: defaultBadgerPath},
			DuckDB:    DuckDBConfig{Path: defaultDuckDBPath},
			DynamoDB: DynamoDBConfig{
				Table:          defaultTable,
				ResortDayIndex: defaultResortDayIndex,
				Region:         "us-west-2",
			},
		},
		Metrics: MetricsConfig{Enabled: true, Listen: defaultMetricsListen},
		Logging: LoggingConfig{Format: "json"},
	}
	cfg.Sink.Badger.Snapshot.Interval = defaultSnapshotEvery
	return cfg
}

// Load reads path from the OS filesystem. See LoadFs.
func Load(path string) (AppConfig, error) {
	return LoadFs(afero.NewOsFs(), path)
}

// LoadFs fills the defaults, overlays the YAML file at path (skipped when
// path is empty), applies LIFTFLOW_* environment overrides and validates.
func LoadFs(fs afero.Fs, path string) (AppConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return AppConfig{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides the settings most often changed per deployment.
func applyEnv(cfg *AppConfig) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v.IsSet(key) {
			*dst = v.GetDuration(key)
		}
	}

	if v.IsSet("kafka.brokers") {
		cfg.Kafka.Brokers = splitList(v.GetString("kafka.brokers"))
	}
	setString("kafka.topic", &cfg.Kafka.Topic)
	setString("kafka.groupid", &cfg.Kafka.GroupID)
	setString("kafka.schemaregistry", &cfg.Kafka.SchemaRegistry)
	if v.IsSet("kafka.useavro") {
		cfg.Kafka.UseAvro = v.GetBool("kafka.useavro")
	}

	setString("loadgen.server", &cfg.LoadGen.Server)
	setInt("loadgen.total", &cfg.LoadGen.Total)
	setInt("loadgen.pool.initial", &cfg.LoadGen.Pool.Initial)
	setInt("loadgen.pool.max", &cfg.LoadGen.Pool.Max)

	setInt("consumer.pool.initial", &cfg.Consumer.Pool.Initial)
	setInt("consumer.pool.min", &cfg.Consumer.Pool.Min)
	setInt("consumer.pool.max", &cfg.Consumer.Pool.Max)
	setDuration("consumer.processingdelay", &cfg.Consumer.ProcessingDelay)
	setString("consumer.querylisten", &cfg.Consumer.QueryListen)

	setString("ingest.listen", &cfg.Ingest.Listen)

	setString("sink.backend", &cfg.Sink.Backend)
	setInt("sink.batchsize", &cfg.Sink.BatchSize)
	setString("sink.badger.path", &cfg.Sink.Badger.Path)
	setString("sink.duckdb.path", &cfg.Sink.DuckDB.Path)
	setString("sink.dynamodb.table", &cfg.Sink.DynamoDB.Table)
	setString("sink.dynamodb.endpoint", &cfg.Sink.DynamoDB.Endpoint)
	setString("sink.dynamodb.region", &cfg.Sink.DynamoDB.Region)

	setString("metrics.listen", &cfg.Metrics.Listen)
	setInt("logging.verbosity", &cfg.Logging.Verbosity)
	setString("logging.format", &cfg.Logging.Format)
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks cross-field consistency.
func (c AppConfig) Validate() error {
	var errs []error
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers must not be empty"))
	}
	if c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic must not be empty"))
	}
	if c.LoadGen.Total < 0 {
		errs = append(errs, fmt.Errorf("loadgen.total must not be negative, got %d", c.LoadGen.Total))
	}
	if c.LoadGen.QueueCapacity < 1 || c.Consumer.QueueCapacity < 1 {
		errs = append(errs, errors.New("queueCapacity must be at least 1"))
	}
	for name, pool := range map[string]worker.Config{"loadgen.pool": c.LoadGen.Pool, "consumer.pool": c.Consumer.Pool} {
		if err := pool.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	for name, sc := range map[string]worker.ScalerConfig{"loadgen.scaler": c.LoadGen.Scaler, "consumer.scaler": c.Consumer.Scaler} {
		if err := sc.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	for name, ac := range map[string]admission.Config{"loadgen.admission": c.LoadGen.Admission, "consumer.admission": c.Consumer.Admission} {
		if err := ac.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	switch c.Sink.Backend {
	case BackendBadger, BackendDuckDB:
	case BackendDynamoDB:
		if c.Sink.DynamoDB.Table == "" {
			errs = append(errs, errors.New("sink.dynamodb.table must not be empty"))
		}
		if c.Sink.BatchSize > maxDynamoBatch {
			errs = append(errs, fmt.Errorf("sink.batchSize %d exceeds the DynamoDB limit of %d", c.Sink.BatchSize, maxDynamoBatch))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sink.backend %q", c.Sink.Backend))
	}
	if c.Sink.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("sink.batchSize must be at least 1, got %d", c.Sink.BatchSize))
	}
	if c.Sink.Badger.Snapshot.S3.Enabled && c.Sink.Badger.Snapshot.S3.Bucket == "" {
		errs = append(errs, errors.New("sink.badger.snapshot.s3.bucket is required when s3 is enabled"))
	}
	return errors.Join(errs...)
}
