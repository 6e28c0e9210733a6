package config

import (
	"os"
	"testing"
)

func TestParseStorageScheme(t *testing.T) {
	cases := map[string]StorageScheme{
		"gs://bucket/path":   StorageGCS,
		"s3://bucket/path":   StorageS3,
		"az://bucket/path":   StorageAzure,
		"/var/lib/scouter":   StorageLocal,
		"":                   StorageLocal,
	}
	for uri, want := range cases {
		if got := parseStorageScheme(uri); got != want {
			t.Errorf("parseStorageScheme(%q) = %v, want %v", uri, got, want)
		}
	}
}

func TestLoadAppliesKafkaOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "b1:9092,b2:9092")
	t.Setenv("KAFKA_TOPIC", "scouter-records")
	t.Setenv("KAFKA_WORKER_COUNT", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Transport != TransportKafka {
		t.Errorf("Transport = %v, want kafka", cfg.Transport)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("Brokers = %v, want 2 entries", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.WorkerCount != 5 {
		t.Errorf("WorkerCount = %d, want 5", cfg.Kafka.WorkerCount)
	}
}

func TestLoadDefaultTransportIsHTTP(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Transport != TransportHTTP {
		t.Errorf("Transport = %v, want http (no broker env set)", cfg.Transport)
	}
}

func TestLoadAppliesFileOverlayUnderEnv(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/scouter.yaml"
	body := []byte("server_port: 9100\nretention_days: 7\ndatabase_uri: postgres://file/db\n")
	if err := os.WriteFile(path, body, 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SCOUTER_CONFIG_FILE", path)
	t.Setenv("SCOUTER_SERVER_PORT", "9200") // env wins over file

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != 9200 {
		t.Errorf("ServerPort = %d, want env override 9200", cfg.ServerPort)
	}
	if cfg.RetentionDays != 7 {
		t.Errorf("RetentionDays = %d, want 7 from file", cfg.RetentionDays)
	}
	if cfg.Database.URI != "postgres://file/db" {
		t.Errorf("Database.URI = %q, want file value", cfg.Database.URI)
	}
}
