// Package config provides runtime configuration loaded from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// BackendMemory keeps all records in process memory.
	BackendMemory = "memory"
	// BackendRedis stores records in Redis with script-based conditional updates.
	BackendRedis = "redis"
)

// Config holds configuration knobs for the HTTP server, the record store, and
// the fulfillment event intake.
type Config struct {
	ServiceName     string
	Env             string
	HTTPAddr        string
	ShutdownTimeout time.Duration

	StoreBackend string
	RedisAddr    string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// MutationRetryLimit bounds the conditional-update loop per operation.
	MutationRetryLimit int
	// IngestRetryLimit bounds retries of transient contention per event.
	IngestRetryLimit   int
	IngestRetryBackoff time.Duration
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func durenvms(key string, defMs int) time.Duration {
	return time.Duration(atoienv(key, defMs)) * time.Millisecond
}

func durenvs(key string, defSec int) time.Duration {
	return time.Duration(atoienv(key, defSec)) * time.Second
}

func listenv(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load collects configuration from environment with defaults.
func Load() Config {
	return Config{
		ServiceName:        getenv("SERVICE_NAME", "stock-service"),
		Env:                getenv("ENV", "dev"),
		HTTPAddr:           getenv("HTTP_ADDR", ":8080"),
		ShutdownTimeout:    durenvs("SHUTDOWN_TIMEOUT", 10),
		StoreBackend:       getenv("STORE_BACKEND", BackendMemory),
		RedisAddr:          getenv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:       listenv("KAFKA_BROKERS"),
		KafkaTopic:         getenv("KAFKA_TOPIC", "order.fulfilled"),
		KafkaGroupID:       getenv("KAFKA_GROUP_ID", "stock-service"),
		MutationRetryLimit: atoienv("MUTATION_RETRY_LIMIT", 5),
		IngestRetryLimit:   atoienv("INGEST_RETRY_LIMIT", 3),
		IngestRetryBackoff: durenvms("INGEST_RETRY_BACKOFF_MS", 25),
	}
}
