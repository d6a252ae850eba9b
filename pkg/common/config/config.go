package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Course
	CourseName    string
	OperatorEmail string

	// Intake
	FetchLabel      string
	FetchKeyword    string
	AcceptedFormats []string
	DownloadDir     string
	PollInterval    time.Duration

	// Grading
	GraderCommand    string
	GraderArgs       []string
	InvokeTimeout    time.Duration
	MaxAttempts      int
	GradeWorkers     int
	FeedbackTemplate string

	// Outgoing mail identity
	SenderName  string
	SenderEmail string

	// Gmail OAuth
	GmailClientID     string
	GmailClientSecret string
	GmailRefreshToken string

	// Ops server
	ServerHost   string
	ServerPort   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

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
	DedupCacheTTL time.Duration

	// Kafka
	KafkaBrokers    []string
	KafkaAuditTopic string
}

func Load() *Config {
	return &Config{
		CourseName:    getEnv("COURSE_NAME", "Course"),
		OperatorEmail: getEnv("OPERATOR_EMAIL", ""),

		FetchLabel:      getEnv("FETCH_LABEL", "submissions"),
		FetchKeyword:    getEnv("FETCH_KEYWORD", "SUBMIT"),
		AcceptedFormats: getStringSliceEnv("ACCEPTED_FORMATS", []string{".ipynb", ".zip"}),
		DownloadDir:     getEnv("DOWNLOAD_DIR", "downloaded"),
		PollInterval:    getDuration("POLL_INTERVAL", 1*time.Minute),

		GraderCommand:    getEnv("GRADER_COMMAND", "autograde"),
		GraderArgs:       getStringSliceEnv("GRADER_ARGS", nil),
		InvokeTimeout:    getDuration("INVOKE_TIMEOUT", 10*time.Minute),
		MaxAttempts:      getIntEnv("MAX_ATTEMPTS", 3),
		GradeWorkers:     getIntEnv("GRADE_WORKERS", 4),
		FeedbackTemplate: getEnv("FEEDBACK_TEMPLATES_PATH", ""),

		SenderName:  getEnv("SENDER_NAME", "Course Grader"),
		SenderEmail: getEnv("SENDER_EMAIL", ""),

		GmailClientID:     getEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: getEnv("GMAIL_CLIENT_SECRET", ""),
		GmailRefreshToken: getEnv("GMAIL_REFRESH_TOKEN", ""),

		ServerHost:   getEnv("SERVER_HOST", "0.0.0.0"),
		ServerPort:   getEnv("SERVER_PORT", "8080"),
		ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "grader"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "grader123"),
		PostgresDB:       getEnv("POSTGRES_DB", "grader"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		DedupCacheTTL: getDuration("DEDUP_CACHE_TTL", 72*time.Hour),

		KafkaBrokers:    getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaAuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "grading-audit"),
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
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
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
