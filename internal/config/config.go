package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Storage    StorageConfig
	Queue      QueueConfig
	Upload     UploadConfig
	Pipeline   PipelineConfig
	Classifier ClassifierConfig
	Auth       AuthConfig
	Metrics    MetricsConfig
	Tracing    TracingConfig
	Logging    LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
}

// UploadConfig holds ingestion configuration
type UploadConfig struct {
	MaxSizeBytes        int64
	ChunkSizeBytes      int64
	StallTimeout        time.Duration
	ReaperInterval      time.Duration
	AllowedContentTypes []string
}

// PipelineConfig holds classification pipeline configuration
type PipelineConfig struct {
	WorkerCount         int
	MaxAttempts         int
	LeaseTimeout        time.Duration
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	ProgressInterval    time.Duration
	ConfidenceThreshold float64
	JobMarkerTTL        time.Duration
}

// ClassifierConfig holds the external scorer configuration
type ClassifierConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret   string
	TokenExpiry time.Duration
}

// MetricsConfig holds metrics server configuration
type MetricsConfig struct {
	Port int
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled        bool
	JaegerEndpoint string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.readTimeout", "30s")
	viper.SetDefault("server.writeTimeout", "30s")
	viper.SetDefault("server.shutdownTimeout", "10s")

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "vidsecure")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.maxConns", 25)
	viper.SetDefault("database.minConns", 5)

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Storage defaults
	viper.SetDefault("storage.endpoint", "localhost:9000")
	viper.SetDefault("storage.accessKeyID", "minioadmin")
	viper.SetDefault("storage.secretAccessKey", "minioadmin")
	viper.SetDefault("storage.bucketName", "videos")
	viper.SetDefault("storage.region", "us-east-1")
	viper.SetDefault("storage.useSSL", false)

	// Queue defaults
	viper.SetDefault("queue.host", "localhost")
	viper.SetDefault("queue.port", 5672)
	viper.SetDefault("queue.user", "guest")
	viper.SetDefault("queue.password", "guest")
	viper.SetDefault("queue.vhost", "/")

	// Upload defaults
	viper.SetDefault("upload.maxSizeBytes", 4*1024*1024*1024) // 4GB
	viper.SetDefault("upload.chunkSizeBytes", 8*1024*1024)    // 8MB
	viper.SetDefault("upload.stallTimeout", "10m")
	viper.SetDefault("upload.reaperInterval", "1m")
	viper.SetDefault("upload.allowedContentTypes", []string{
		"video/mp4", "video/quicktime", "video/x-msvideo",
		"video/x-matroska", "video/webm",
	})

	// Pipeline defaults
	viper.SetDefault("pipeline.workerCount", 4)
	viper.SetDefault("pipeline.maxAttempts", 5)
	viper.SetDefault("pipeline.leaseTimeout", "5m")
	viper.SetDefault("pipeline.retryBaseDelay", "1m")
	viper.SetDefault("pipeline.retryMaxDelay", "1h")
	viper.SetDefault("pipeline.progressInterval", "2s")
	viper.SetDefault("pipeline.confidenceThreshold", 0.7)
	viper.SetDefault("pipeline.jobMarkerTTL", "1h")

	// Classifier defaults
	viper.SetDefault("classifier.endpoint", "http://localhost:9100/v1/score")
	viper.SetDefault("classifier.timeout", "3m")

	// Auth defaults
	viper.SetDefault("auth.jwtSecret", "")
	viper.SetDefault("auth.tokenExpiry", "24h")

	// Metrics defaults
	viper.SetDefault("metrics.port", 9090)

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.jaegerEndpoint", "http://localhost:14268/api/traces")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}
