package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Emotion  EmotionConfig  `json:"emotion"`
	ML       MLConfig       `json:"ml"`
	Chat     ChatConfig     `json:"chat"`
	Security SecurityConfig `json:"security"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Logging  LoggingConfig  `json:"logging"`
}

type ServerConfig struct {
	Host         string        `json:"host" validate:"required"`
	Port         int           `json:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	Environment  string        `json:"environment" validate:"oneof=development production test"`
}

type EmotionConfig struct {
	CascadePath       string        `json:"cascade_path" validate:"required"`
	ModelPath         string        `json:"model_path" validate:"required"`
	ModelConfigPath   string        `json:"model_config_path"`
	LogPath           string        `json:"log_path" validate:"required"`
	ScaleFactor       float64       `json:"scale_factor" validate:"gt=1"`
	MinNeighbors      int           `json:"min_neighbors" validate:"min=0"`
	MinFaceSize       int           `json:"min_face_size" validate:"min=1"`
	Workers           int           `json:"workers" validate:"min=1"`
	QueueSize         int           `json:"queue_size" validate:"min=1"`
	ProcessingTimeout time.Duration `json:"processing_timeout"`
}

type MLConfig struct {
	BaseURL             string        `json:"base_url" validate:"required,url"`
	Timeout             time.Duration `json:"timeout"`
	MaxRetries          int           `json:"max_retries" validate:"min=0"`
	RetryDelay          time.Duration `json:"retry_delay"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	CacheTTL            time.Duration `json:"cache_ttl"`
}

type ChatConfig struct {
	APIKey          string        `json:"-"`
	BaseURL         string        `json:"base_url" validate:"omitempty,url"`
	Model           string        `json:"model"`
	EmbeddingAPIKey string        `json:"-"`
	EmbeddingURL    string        `json:"embedding_url" validate:"omitempty,url"`
	EmbeddingModel  string        `json:"embedding_model"`
	EmbeddingDims   int           `json:"embedding_dimensions" validate:"min=1"`
	TopK            int           `json:"top_k" validate:"min=1"`
	CacheTTL        time.Duration `json:"cache_ttl"`
}

type SecurityConfig struct {
	AllowedOrigins []string      `json:"allowed_origins"`
	RateLimitRPS   int           `json:"rate_limit_rps" validate:"min=1"`
	RateLimitBurst int           `json:"rate_limit_burst" validate:"min=1"`
	MaxRequestSize int64         `json:"max_request_size"`
	RequestTimeout time.Duration `json:"request_timeout"`
	EnableHTTPS    bool          `json:"enable_https"`
	CertFile       string        `json:"cert_file"`
	KeyFile        string        `json:"key_file"`
}

// DatabaseConfig points at the Postgres instance holding the chatbot's
// pgvector knowledge base. An empty host disables retrieval.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
	MaxConns int    `json:"max_connections"`
	MinConns int    `json:"min_connections"`
}

// DSN renders the connection string for pgx.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d&pool_min_conns=%d",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode, d.MaxConns, d.MinConns)
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type LoggingConfig struct {
	Level      string `json:"level" validate:"oneof=debug info warn error"`
	Format     string `json:"format" validate:"oneof=json console"`
	Output     string `json:"output" validate:"oneof=stdout file both"`
	File       string `json:"file"`
	MaxSize    int    `json:"max_size"`
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"`
}

// LoadEnvFile reads a .env file into the process environment. A missing
// file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func LoadConfig() *Config {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 5000),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
		},
		Emotion: EmotionConfig{
			CascadePath:       getEnv("EMOTION_CASCADE_PATH", "models/haarcascade_frontalface_default.xml"),
			ModelPath:         getEnv("EMOTION_MODEL_PATH", "models/emotion.onnx"),
			ModelConfigPath:   getEnv("EMOTION_MODEL_CONFIG_PATH", ""),
			LogPath:           getEnv("EMOTION_LOG_PATH", "emotion_log.csv"),
			ScaleFactor:       getEnvAsFloat("EMOTION_SCALE_FACTOR", 1.1),
			MinNeighbors:      getEnvAsInt("EMOTION_MIN_NEIGHBORS", 5),
			MinFaceSize:       getEnvAsInt("EMOTION_MIN_FACE_SIZE", 30),
			Workers:           getEnvAsInt("EMOTION_WORKERS", 2),
			QueueSize:         getEnvAsInt("EMOTION_QUEUE_SIZE", 64),
			ProcessingTimeout: getEnvAsDuration("EMOTION_PROCESSING_TIMEOUT", 30*time.Second),
		},
		ML: MLConfig{
			BaseURL:             getEnv("ML_BASE_URL", "http://localhost:8000"),
			Timeout:             getEnvAsDuration("ML_TIMEOUT", 30*time.Second),
			MaxRetries:          getEnvAsInt("ML_MAX_RETRIES", 3),
			RetryDelay:          getEnvAsDuration("ML_RETRY_DELAY", 1*time.Second),
			HealthCheckInterval: getEnvAsDuration("ML_HEALTH_CHECK_INTERVAL", 30*time.Second),
			CacheTTL:            getEnvAsDuration("ML_CACHE_TTL", 5*time.Minute),
		},
		Chat: ChatConfig{
			APIKey:          getEnv("GROQ_API_KEY", ""),
			BaseURL:         getEnv("CHAT_BASE_URL", "https://api.groq.com/openai/v1"),
			Model:           getEnv("CHAT_MODEL", "llama-3.3-70b-versatile"),
			EmbeddingAPIKey: getEnv("EMBEDDING_API_KEY", ""),
			EmbeddingURL:    getEnv("EMBEDDING_BASE_URL", "http://localhost:11434/v1"),
			EmbeddingModel:  getEnv("EMBEDDING_MODEL", "all-minilm"),
			EmbeddingDims:   getEnvAsInt("EMBEDDING_DIMENSIONS", 384),
			TopK:            getEnvAsInt("CHAT_TOP_K", 4),
			CacheTTL:        getEnvAsDuration("CHAT_CACHE_TTL", 10*time.Minute),
		},
		Security: SecurityConfig{
			AllowedOrigins: getEnvAsStringSlice("ALLOWED_ORIGINS", []string{"*"}),
			RateLimitRPS:   getEnvAsInt("RATE_LIMIT_RPS", 20),
			RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 40),
			MaxRequestSize: getEnvAsInt64("MAX_REQUEST_SIZE", 10*1024*1024), // 10MB
			RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 60*time.Second),
			EnableHTTPS:    getEnvAsBool("ENABLE_HTTPS", false),
			CertFile:       getEnv("CERT_FILE", ""),
			KeyFile:        getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "calmify"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns: getEnvAsInt("DB_MIN_CONNS", 1),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			Output:     getEnv("LOG_OUTPUT", "stdout"),
			File:       getEnv("LOG_FILE", "./storage/logs/server.log"),
			MaxSize:    getEnvAsInt("LOG_MAX_SIZE", 100),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 3),
			MaxAge:     getEnvAsInt("LOG_MAX_AGE", 28),
		},
	}

	return config
}

func (c *Config) ValidateConfig(logger *zap.Logger) error {
	var errors []string

	if err := validator.New().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !asValidationErrors(err, &fieldErrs) {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		for _, fe := range fieldErrs {
			errors = append(errors, fmt.Sprintf("%s failed %q validation", fe.Namespace(), fe.Tag()))
		}
	}

	if c.Security.MaxRequestSize <= 0 {
		errors = append(errors, "max request size must be positive")
	}

	if c.Security.EnableHTTPS && (c.Security.CertFile == "" || c.Security.KeyFile == "") {
		errors = append(errors, "HTTPS requires cert and key files")
	}

	if c.Database.Host != "" && (c.Database.Port < 1 || c.Database.Port > 65535) {
		errors = append(errors, "database port must be between 1 and 65535")
	}

	if c.Redis.Host != "" && (c.Redis.Port < 1 || c.Redis.Port > 65535) {
		errors = append(errors, "Redis port must be between 1 and 65535")
	}

	if c.Logging.Output != "stdout" && c.Logging.File == "" {
		errors = append(errors, "log file is required when logging to a file")
	}

	if c.Chat.APIKey == "" {
		logger.Warn("GROQ_API_KEY not set, chatbot disabled")
	}

	if c.Database.Host == "" {
		logger.Warn("DB_HOST not set, chatbot answers without retrieval context")
	}

	if c.Redis.Host == "" {
		logger.Info("REDIS_HOST not set, using memory cache")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, ", "))
	}

	return nil
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	return errors.As(err, target)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
