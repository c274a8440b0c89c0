// Package config provides configuration management and environment variable handling for the application
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ReZill392/Thesit-sub000/utils"
	"github.com/joho/godotenv"
)

// ProductionConfig holds all configuration for production environment
type ProductionConfig struct {
	Database   DatabaseConfig   `json:"database"`
	Server     ServerConfig     `json:"server"`
	Security   SecurityConfig   `json:"security"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
	Cache      CacheConfig      `json:"cache"`
	Facebook   FacebookConfig   `json:"facebook"`
	Assets     AssetConfig      `json:"assets"`
	LLM        LLMConfig        `json:"llm"`
	Classifier ClassifierConfig `json:"classifier"`
	Ingestor   IngestorConfig   `json:"ingestor"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Mining     MiningConfig     `json:"mining"`
}

type DatabaseConfig struct {
	URL             string        `json:"-"`
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"-"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	SlowQueryTime   time.Duration `json:"slow_query_time"`
	AutoMigrate     bool          `json:"auto_migrate"`
}

// DSN returns DATABASE_URL when set, otherwise a key/value DSN from the parts
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	BodyLimit       int           `json:"body_limit"`
}

type SecurityConfig struct {
	AllowedOrigins   []string      `json:"allowed_origins"`
	AllowedMethods   []string      `json:"allowed_methods"`
	AllowedHeaders   []string      `json:"allowed_headers"`
	AllowCredentials bool          `json:"allow_credentials"`
	GlobalRateLimit  int           `json:"global_rate_limit"` // requests per window
	RateLimitWindow  time.Duration `json:"rate_limit_window"`
}

type LoggingConfig struct {
	Level      string `json:"level"`  // debug, info, warn, error
	Format     string `json:"format"` // json, text
	Output     string `json:"output"` // stdout, file, both
	Dir        string `json:"dir"`
	MaxSize    int    `json:"max_size"` // MB
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type CacheConfig struct {
	RedisHost     string        `json:"redis_host"`
	RedisPort     int           `json:"redis_port"`
	RedisDB       int           `json:"redis_db"`
	RedisPassword string        `json:"-"`
	RedisPrefix   string        `json:"redis_prefix"`
	TokenTTL      time.Duration `json:"token_ttl"`
}

// Addr returns host:port of the token store
func (c CacheConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

type FacebookConfig struct {
	AppID       string        `json:"app_id"`
	AppSecret   string        `json:"-"`
	RedirectURI string        `json:"redirect_uri"`
	GraphAPIURL string        `json:"graph_api_url"`
	HTTPTimeout time.Duration `json:"http_timeout"`
	MaxAttempts int           `json:"max_attempts"`
}

type AssetConfig struct {
	ImageDir string `json:"image_dir"`
	VideoDir string `json:"video_dir"`
	S3Bucket string `json:"s3_bucket"`
	S3Prefix string `json:"s3_prefix"`
	Region   string `json:"region"`
}

type LLMConfig struct {
	Provider          string        `json:"provider"` // gemini, bedrock
	GeminiAPIKey      string        `json:"-"`
	GeminiAPIURL      string        `json:"gemini_api_url"`
	TextModel         string        `json:"text_model"`
	VisionModel       string        `json:"vision_model"`
	BedrockModelID    string        `json:"bedrock_model_id"`
	Region            string        `json:"region"`
	MaxOutputTokens   int           `json:"max_output_tokens"`
	RequestsPerMinute int           `json:"requests_per_minute"`
	Timeout           time.Duration `json:"timeout"`
}

type ClassifierConfig struct {
	Interval  time.Duration `json:"interval"`
	Cooldown  time.Duration `json:"cooldown"`
	CacheSize int           `json:"cache_size"`
	MaxImage  int           `json:"max_image"` // longest edge in px before the vision call
}

type IngestorConfig struct {
	Interval      time.Duration `json:"interval"`
	QuickWindow   time.Duration `json:"quick_window"`
	FlushInterval time.Duration `json:"flush_interval"`
	QueueSize     int           `json:"queue_size"`
}

type SchedulerConfig struct {
	PollInterval   time.Duration `json:"poll_interval"`
	MessageDelay   time.Duration `json:"message_delay"`
	RecipientDelay time.Duration `json:"recipient_delay"`
	Timezone       string        `json:"timezone"`
	CommandBuffer  int           `json:"command_buffer"`
	CommandTimeout time.Duration `json:"command_timeout"`
	LeaderLockTTL  time.Duration `json:"leader_lock_ttl"`
}

type MiningConfig struct {
	CompactionCron       string `json:"compaction_cron"`
	KnowledgeCatalogFile string `json:"knowledge_catalog_file"`
}

// LoadProductionConfig loads and validates configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	// .env is optional; variables already in the environment win
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &ProductionConfig{
		Database: DatabaseConfig{
			URL:             getEnvString("DATABASE_URL", ""),
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "postgres"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			SlowQueryTime:   getEnvDuration("DB_SLOW_QUERY_TIME", time.Second),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8000),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
			BodyLimit:       getEnvInt("SERVER_BODY_LIMIT", 4*1024*1024), // 4MB
		},
		Security: SecurityConfig{
			AllowedOrigins:   getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods:   getEnvStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders:   getEnvStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"}),
			AllowCredentials: getEnvBool("CORS_ALLOW_CREDENTIALS", false),
			GlobalRateLimit:  getEnvInt("GLOBAL_RATE_LIMIT", 600),
			RateLimitWindow:  getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Logging: LoggingConfig{
			Level:      getEnvString("LOG_LEVEL", "info"),
			Format:     getEnvString("LOG_FORMAT", "json"),
			Output:     getEnvString("LOG_OUTPUT", "stdout"),
			Dir:        getEnvString("LOG_DIR", "./logs"),
			MaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 10),
			MaxAge:     getEnvInt("LOG_MAX_AGE", 30),
			Compress:   getEnvBool("LOG_COMPRESS", true),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnvString("METRICS_PATH", "/metrics"),
		},
		Cache: CacheConfig{
			RedisHost:     getEnvString("REDIS_HOST", "localhost"),
			RedisPort:     getEnvInt("REDIS_PORT", 6379),
			RedisDB:       getEnvInt("REDIS_DB", 0),
			RedisPassword: getEnvString("REDIS_PASSWORD", ""),
			RedisPrefix:   getEnvString("REDIS_PREFIX", "fbauto:"),
			TokenTTL:      getEnvDuration("TOKEN_TTL", 720*time.Hour),
		},
		Facebook: FacebookConfig{
			AppID:       getEnvString("FB_APP_ID", ""),
			AppSecret:   getEnvString("FB_APP_SECRET", ""),
			RedirectURI: getEnvString("FB_REDIRECT_URI", ""),
			GraphAPIURL: strings.TrimRight(getEnvString("FB_GRAPH_API_URL", "https://graph.facebook.com/v18.0"), "/"),
			HTTPTimeout: getEnvDuration("FB_HTTP_TIMEOUT", 30*time.Second),
			MaxAttempts: getEnvInt("FB_MAX_ATTEMPTS", 3),
		},
		Assets: AssetConfig{
			ImageDir: getEnvString("IMAGE_ASSET_DIR", "./images"),
			VideoDir: getEnvString("VIDEO_ASSET_DIR", "./videos"),
			S3Bucket: getEnvString("ASSET_S3_BUCKET", ""),
			S3Prefix: getEnvString("ASSET_S3_PREFIX", ""),
			Region:   getEnvString("AWS_REGION", "ap-southeast-1"),
		},
		LLM: LLMConfig{
			Provider:          getEnvString("LLM_PROVIDER", "gemini"),
			GeminiAPIKey:      getEnvString("GEMINI_API_KEY", ""),
			GeminiAPIURL:      strings.TrimRight(getEnvString("GEMINI_API_URL", "https://generativelanguage.googleapis.com/v1beta"), "/"),
			TextModel:         getEnvString("GEMINI_TEXT_MODEL", "gemini-1.5-flash"),
			VisionModel:       getEnvString("GEMINI_VISION_MODEL", "gemini-1.5-flash"),
			BedrockModelID:    getEnvString("BEDROCK_MODEL_ID", "anthropic.claude-3-haiku-20240307-v1:0"),
			Region:            getEnvString("AWS_REGION", "ap-southeast-1"),
			MaxOutputTokens:   getEnvInt("LLM_MAX_OUTPUT_TOKENS", 20),
			RequestsPerMinute: getEnvInt("LLM_REQUESTS_PER_MINUTE", 60),
			Timeout:           getEnvDuration("LLM_TIMEOUT", 30*time.Second),
		},
		Classifier: ClassifierConfig{
			Interval:  getEnvDuration("CLASSIFIER_INTERVAL", 3*time.Minute),
			Cooldown:  getEnvDuration("CLASSIFIER_COOLDOWN", utils.ClassificationCooldown),
			CacheSize: getEnvInt("CLASSIFIER_CACHE_SIZE", 4096),
			MaxImage:  getEnvInt("CLASSIFIER_MAX_IMAGE_EDGE", 1024),
		},
		Ingestor: IngestorConfig{
			Interval:      getEnvDuration("INGESTOR_INTERVAL", 15*time.Second),
			QuickWindow:   getEnvDuration("INGESTOR_QUICK_WINDOW", 10*time.Second),
			FlushInterval: getEnvDuration("INGESTOR_FLUSH_INTERVAL", 5*time.Second),
			QueueSize:     getEnvInt("INGESTOR_QUEUE_SIZE", 10000),
		},
		Scheduler: SchedulerConfig{
			PollInterval:   getEnvDuration("SCHEDULER_POLL_INTERVAL", 30*time.Second),
			MessageDelay:   getEnvDuration("SCHEDULER_MESSAGE_DELAY", 500*time.Millisecond),
			RecipientDelay: getEnvDuration("SCHEDULER_RECIPIENT_DELAY", time.Second),
			Timezone:       getEnvString("SCHEDULER_TIMEZONE", "Asia/Bangkok"),
			CommandBuffer:  getEnvInt("SCHEDULER_COMMAND_BUFFER", 64),
			CommandTimeout: getEnvDuration("SCHEDULER_COMMAND_TIMEOUT", 10*time.Second),
			LeaderLockTTL:  getEnvDuration("SCHEDULER_LEADER_LOCK_TTL", 2*time.Minute),
		},
		Mining: MiningConfig{
			CompactionCron:       getEnvString("MINING_COMPACTION_CRON", "@daily"),
			KnowledgeCatalogFile: getEnvString("KNOWLEDGE_CATALOG_FILE", ""),
		},
	}

	// Validate the loaded configuration
	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// ValidateProductionConfig validates the production configuration
func ValidateProductionConfig(cfg *ProductionConfig) error {
	var errors []string

	// Validate database configuration
	if cfg.Database.URL == "" {
		if cfg.Database.Host == "" {
			errors = append(errors, "DATABASE_URL or DB_HOST is required")
		}
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errors = append(errors, "DB_PORT must be between 1 and 65535")
		}
		if cfg.Database.Name == "" {
			errors = append(errors, "DB_NAME is required")
		}
	}

	// Validate server configuration
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errors = append(errors, "SERVER_PORT must be between 1 and 65535")
	}

	// Validate token store configuration
	if cfg.Cache.RedisHost == "" {
		errors = append(errors, "REDIS_HOST is required")
	}
	if cfg.Cache.TokenTTL <= 0 {
		errors = append(errors, "TOKEN_TTL must be positive")
	}

	// Validate facebook configuration
	if cfg.Facebook.GraphAPIURL == "" {
		errors = append(errors, "FB_GRAPH_API_URL is required")
	}
	if cfg.Facebook.MaxAttempts < 1 {
		errors = append(errors, "FB_MAX_ATTEMPTS must be at least 1")
	}

	// Validate LLM configuration
	switch cfg.LLM.Provider {
	case "gemini":
		if cfg.LLM.GeminiAPIKey == "" {
			errors = append(errors, "GEMINI_API_KEY is required when LLM_PROVIDER=gemini")
		}
	case "bedrock":
		if cfg.LLM.BedrockModelID == "" {
			errors = append(errors, "BEDROCK_MODEL_ID is required when LLM_PROVIDER=bedrock")
		}
	default:
		errors = append(errors, "LLM_PROVIDER must be one of: [gemini bedrock]")
	}
	if cfg.LLM.RequestsPerMinute <= 0 {
		errors = append(errors, "LLM_REQUESTS_PER_MINUTE must be positive")
	}

	// Validate periodic task configuration
	if cfg.Ingestor.Interval <= 0 || cfg.Ingestor.FlushInterval <= 0 {
		errors = append(errors, "INGESTOR_INTERVAL and INGESTOR_FLUSH_INTERVAL must be positive")
	}
	if cfg.Ingestor.QueueSize <= 0 {
		errors = append(errors, "INGESTOR_QUEUE_SIZE must be positive")
	}
	if cfg.Classifier.Interval <= 0 {
		errors = append(errors, "CLASSIFIER_INTERVAL must be positive")
	}
	if cfg.Classifier.CacheSize <= 0 {
		errors = append(errors, "CLASSIFIER_CACHE_SIZE must be positive")
	}
	if cfg.Scheduler.PollInterval <= 0 {
		errors = append(errors, "SCHEDULER_POLL_INTERVAL must be positive")
	}
	if _, err := time.LoadLocation(cfg.Scheduler.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("SCHEDULER_TIMEZONE is invalid: %v", err))
	}

	// Validate logging configuration
	if cfg.Logging.Level != "" {
		validLevels := []string{"debug", "info", "warn", "error"}
		valid := false
		for _, level := range validLevels {
			if cfg.Logging.Level == level {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %v", validLevels))
		}
	}

	// Return validation errors if any
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}
