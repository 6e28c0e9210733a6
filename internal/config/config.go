// Package config loads Scouter's server configuration from the environment
// variables, following the convention of a
// struct with a Default() plus a Load() that applies env overrides
// (see the historical infrastructure/db.Config this is adapted from).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TransportKind selects which message bus backs the ingestion pipeline.
type TransportKind string

const (
	TransportKafka    TransportKind = "kafka"
	TransportRabbitMQ TransportKind = "rabbitmq"
	TransportRedis    TransportKind = "redis"
	TransportHTTP     TransportKind = "http" // internal MPMC channel only, no external bus
)

// StorageScheme selects the archival object-store driver by URI prefix.
type StorageScheme string

const (
	StorageGCS   StorageScheme = "gs"
	StorageS3    StorageScheme = "s3"
	StorageAzure StorageScheme = "az"
	StorageLocal StorageScheme = "local"
)

// DatabaseConfig holds relational-store connection settings.
type DatabaseConfig struct {
	URI            string
	MaxConnections int
}

// KafkaConfig mirrors the KAFKA_* environment variables.
type KafkaConfig struct {
	Brokers          []string
	Topic            string
	Group            string
	WorkerCount      int
	SASLUsername     string
	SASLPassword     string
	SecurityProtocol string
	SASLMechanism    string
}

// RabbitMQConfig mirrors the RABBITMQ_* environment variables.
type RabbitMQConfig struct {
	Addr          string
	Queue         string
	ConsumerCount int
	PrefetchCount int
}

// RedisConfig mirrors the REDIS_* environment variables.
type RedisConfig struct {
	Addr    string
	Channel string
}

// StorageConfig describes the archival object store.
type StorageConfig struct {
	URI       string
	Scheme    StorageScheme
	AWSRegion string
}

// Config is Scouter's full server configuration.
type Config struct {
	Database         DatabaseConfig
	Transport        TransportKind
	Kafka            KafkaConfig
	RabbitMQ         RabbitMQConfig
	Redis            RedisConfig
	Storage          StorageConfig
	ServerPort       int
	GRPCPort         int
	PollingWorkers   int
	Username         string
	Password         string
	AuthToken        string
	RetentionDays    int
	MaxRetries       int
	HTTPTimeout      time.Duration
	ShutdownGrace    time.Duration
	PSIPublishPeriod time.Duration
}

// Default returns production-sane defaults, overridden field-by-field by
// Load.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			MaxConnections: 10,
		},
		Transport:        TransportHTTP,
		ServerPort:       8000,
		GRPCPort:         8001,
		PollingWorkers:   4,
		RetentionDays:    30,
		MaxRetries:       3,
		HTTPTimeout:      60 * time.Second,
		ShutdownGrace:    30 * time.Second,
		PSIPublishPeriod: 30 * time.Second,
	}
}

// fileConfig is the optional YAML overlay applied between Default() and
// the environment; env vars always win.
type fileConfig struct {
	DatabaseURI    string `yaml:"database_uri"`
	MaxConnections int    `yaml:"max_sql_connections"`
	ServerPort     int    `yaml:"server_port"`
	GRPCPort       int    `yaml:"grpc_port"`
	PollingWorkers int    `yaml:"polling_worker_count"`
	RetentionDays  int    `yaml:"retention_days"`
	StorageURI     string `yaml:"storage_uri"`
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if fc.DatabaseURI != "" {
		cfg.Database.URI = fc.DatabaseURI
	}
	if fc.MaxConnections > 0 {
		cfg.Database.MaxConnections = fc.MaxConnections
	}
	if fc.ServerPort > 0 {
		cfg.ServerPort = fc.ServerPort
	}
	if fc.GRPCPort > 0 {
		cfg.GRPCPort = fc.GRPCPort
	}
	if fc.PollingWorkers > 0 {
		cfg.PollingWorkers = fc.PollingWorkers
	}
	if fc.RetentionDays > 0 {
		cfg.RetentionDays = fc.RetentionDays
	}
	if fc.StorageURI != "" {
		cfg.Storage.URI = fc.StorageURI
	}
	return nil
}

// Load reads the optional SCOUTER_CONFIG_FILE overlay, then environment
// variables, on top of Default(). It returns a plain error since config
// problems are reported at startup before any classified-error plumbing
// exists.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("SCOUTER_CONFIG_FILE"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return cfg, err
		}
	}

	if v := os.Getenv("DATABASE_URI"); v != "" {
		cfg.Database.URI = v
	}
	if v := os.Getenv("MAX_SQL_CONNECTIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("MAX_SQL_CONNECTIONS: %w", err)
		}
		cfg.Database.MaxConnections = n
	}

	if v := os.Getenv("SCOUTER_SERVER_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("SCOUTER_SERVER_PORT: %w", err)
		}
		cfg.ServerPort = n
	}
	if v := os.Getenv("SCOUTER_GRPC_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("SCOUTER_GRPC_PORT: %w", err)
		}
		cfg.GRPCPort = n
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Transport = TransportKafka
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	cfg.Kafka.Topic = os.Getenv("KAFKA_TOPIC")
	cfg.Kafka.Group = os.Getenv("KAFKA_GROUP")
	if v := os.Getenv("KAFKA_WORKER_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("KAFKA_WORKER_COUNT: %w", err)
		}
		cfg.Kafka.WorkerCount = n
	}
	cfg.Kafka.SASLUsername = os.Getenv("KAFKA_SASL_USERNAME")
	cfg.Kafka.SASLPassword = os.Getenv("KAFKA_SASL_PASSWORD")
	cfg.Kafka.SecurityProtocol = os.Getenv("KAFKA_SECURITY_PROTOCOL")
	cfg.Kafka.SASLMechanism = os.Getenv("KAFKA_SASL_MECHANISM")

	if addr := os.Getenv("RABBITMQ_ADDR"); addr != "" {
		cfg.Transport = TransportRabbitMQ
		cfg.RabbitMQ.Addr = addr
	}
	cfg.RabbitMQ.Queue = os.Getenv("RABBITMQ_QUEUE")
	if v := os.Getenv("RABBITMQ_CONSUMER_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("RABBITMQ_CONSUMER_COUNT: %w", err)
		}
		cfg.RabbitMQ.ConsumerCount = n
	}
	if v := os.Getenv("RABBITMQ_PREFETCH_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("RABBITMQ_PREFETCH_COUNT: %w", err)
		}
		cfg.RabbitMQ.PrefetchCount = n
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Transport = TransportRedis
		cfg.Redis.Addr = addr
	}
	cfg.Redis.Channel = os.Getenv("REDIS_CHANNEL")

	if v := os.Getenv("SCOUTER_STORAGE_URI"); v != "" {
		cfg.Storage.URI = v
	}
	cfg.Storage.Scheme = parseStorageScheme(cfg.Storage.URI)
	cfg.Storage.AWSRegion = os.Getenv("AWS_REGION")

	if v := os.Getenv("POLLING_WORKER_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("POLLING_WORKER_COUNT: %w", err)
		}
		cfg.PollingWorkers = n
	}

	cfg.Username = os.Getenv("SCOUTER_USERNAME")
	cfg.Password = os.Getenv("SCOUTER_PASSWORD")
	cfg.AuthToken = os.Getenv("SCOUTER_AUTH_TOKEN")

	return cfg, nil
}

func parseStorageScheme(uri string) StorageScheme {
	switch {
	case strings.HasPrefix(uri, "gs://"):
		return StorageGCS
	case strings.HasPrefix(uri, "s3://"):
		return StorageS3
	case strings.HasPrefix(uri, "az://"):
		return StorageAzure
	default:
		return StorageLocal
	}
}
