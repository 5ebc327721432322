package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// HTTP
	HTTPPort string

	// Rule configuration document (JSON or YAML), empty for the default rule
	RuleConfigPath string

	// Kafka
	KafkaBrokers     []string
	KafkaInputTopic  string
	KafkaGroupID     string
	KafkaNotifyTopic string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string
}

// Load reads the process configuration from the environment. Values in a
// .env file in the working directory are loaded first and never override
// variables that are already set.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		RuleConfigPath:   getEnv("RULE_CONFIG", ""),
		KafkaBrokers:     splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaInputTopic:  getEnv("KAFKA_INPUT_TOPIC", ""),
		KafkaGroupID:     getEnv("KAFKA_GROUP_ID", "simpleexpr"),
		KafkaNotifyTopic: getEnv("KAFKA_NOTIFY_TOPIC", ""),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		RedisChannel:     getEnv("REDIS_CHANNEL", "simpleexpr:notifications"),
	}
}

// LoadFile reads additional KEY=value pairs from path into the environment
func LoadFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// IngestEnabled reports whether evaluation batches are consumed from Kafka
func (c *Config) IngestEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.KafkaInputTopic != ""
}

// KafkaNotifyEnabled reports whether transitions are published to Kafka
func (c *Config) KafkaNotifyEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.KafkaNotifyTopic != ""
}

// RedisNotifyEnabled reports whether transitions are published to Redis
func (c *Config) RedisNotifyEnabled() bool {
	return c.RedisAddr != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
