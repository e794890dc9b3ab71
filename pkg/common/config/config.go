package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers       []string
	KafkaGroupID       string
	SMSInboundTopic    string
	SubmissionTopic    string
	SubmissionDLQTopic string

	// Form model
	FormCacheTTL time.Duration
	FormSeedFile string
	PollFormCode string

	// Entities
	ReporterEntityType string

	// Submission
	ShortCodeRetries int
	CSRFTokenKey     string
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 8*1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "fieldscope"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "fieldscope123"),
		PostgresDB:       getEnv("POSTGRES_DB", "fieldscope"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:       getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "fieldscope-collect"),
		SMSInboundTopic:    getEnv("SMS_INBOUND_TOPIC", "sms-inbound"),
		SubmissionTopic:    getEnv("SUBMISSION_TOPIC", "submission-events"),
		SubmissionDLQTopic: getEnv("SUBMISSION_DLQ_TOPIC", "submission-events-dlq"),

		FormCacheTTL: getDuration("FORM_CACHE_TTL", 10*time.Minute),
		FormSeedFile: getEnv("FORM_SEED_FILE", ""),
		PollFormCode: getEnv("POLL_FORM_CODE", "poll"),

		ReporterEntityType: getEnv("REPORTER_ENTITY_TYPE", "reporter"),

		ShortCodeRetries: getIntEnv("SHORT_CODE_RETRIES", 3),
		CSRFTokenKey:     getEnv("CSRF_TOKEN_KEY", "csrfmiddlewaretoken"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return []string{value}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
