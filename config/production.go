// Package config provides configuration management and environment variable handling for the application
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/Pythia/utils"
)

// ProductionConfig holds all configuration for production environment
type ProductionConfig struct {
	Database     DatabaseConfig     `json:"database"`
	Server       ServerConfig       `json:"server"`
	Redis        RedisConfig        `json:"redis"`
	Identity     IdentityConfig     `json:"identity"`
	JWT          JWTConfig          `json:"jwt"`
	Admin        AdminConfig        `json:"admin"`
	Verification VerificationConfig `json:"verification"`
	Challenge    ChallengeConfig    `json:"challenge"`
	Capacity     CapacityConfig     `json:"capacity"`
	Queue        QueueConfig        `json:"queue"`
	RateLimit    RateLimitConfig    `json:"rate_limit"`
	Logging      LoggingConfig      `json:"logging"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	SlowQueryLog    bool          `json:"slow_query_log"`
	SlowQueryTime   time.Duration `json:"slow_query_time"`
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

// RedisConfig configures the shared redis instance backing the capacity
// counter, the overflow queue, the drain lock and the aggregate cache.
type RedisConfig struct {
	URL                 string        `json:"url"`
	DB                  int           `json:"db"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
}

// IdentityConfig holds the secret salt used to fingerprint submissions.
type IdentityConfig struct {
	Salt        string `json:"-"`
	SaltVersion string `json:"salt_version"`
}

type JWTConfig struct {
	SecretKey      string        `json:"-"`
	AccessTokenTTL time.Duration `json:"access_token_ttl"`
	Issuer         string        `json:"issuer"`
	Audience       string        `json:"audience"`
}

// AdminConfig holds the single operator account. The password is supplied
// pre-hashed so the plaintext never touches the environment.
type AdminConfig struct {
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}

// VerificationConfig configures the external bot-verification provider.
type VerificationConfig struct {
	Enabled        bool          `json:"enabled"`
	ProviderURL    string        `json:"provider_url"`
	APIKey         string        `json:"-"`
	Timeout        time.Duration `json:"timeout"`
	ScoreThreshold float64       `json:"score_threshold"`
}

// ChallengeConfig configures the self-hosted rotate captcha.
type ChallengeConfig struct {
	TTL       time.Duration `json:"ttl"`
	Padding   int           `json:"padding"`
	ImageSize int           `json:"image_size"`
}

// CapacityConfig configures daily admission control and the stats sample floor.
type CapacityConfig struct {
	DailyLimit  int64 `json:"daily_limit"`
	SampleFloor int   `json:"sample_floor"`
}

// QueueConfig configures the overflow queue drainer.
type QueueConfig struct {
	DrainEnabled   bool          `json:"drain_enabled"`
	DrainInterval  time.Duration `json:"drain_interval"`
	DrainBatchSize int64         `json:"drain_batch_size"`
}

// RateLimitConfig configures the per-IP limiter on the public API group.
type RateLimitConfig struct {
	Max    int           `json:"max"`
	Window time.Duration `json:"window"`
}

type LoggingConfig struct {
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size"` // MB
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`
}

// LoadProductionConfig loads and validates configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	// Load environment variables from .env file
	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "postgres"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 100),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			SlowQueryLog:    getEnvBool("DB_SLOW_QUERY_LOG", true),
			SlowQueryTime:   getEnvDuration("DB_SLOW_QUERY_TIME", 1*time.Second),
		},
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:       getEnvInt("SERVER_BODY_LIMIT", 1*1024*1024), // 1MB
		},
		Redis: RedisConfig{
			URL:                 getEnvString("REDIS_URL", "redis://localhost:6379"),
			DB:                  getEnvInt("REDIS_DB", 0),
			HealthCheckInterval: getEnvDuration("REDIS_HEALTHCHECK_INTERVAL", 30*time.Second),
		},
		Identity: IdentityConfig{
			Salt:        getEnvString("IDENTITY_SALT", ""),
			SaltVersion: getEnvString("IDENTITY_SALT_VERSION", "v1"),
		},
		JWT: JWTConfig{
			SecretKey:      getEnvString("JWT_SECRET_KEY", ""),
			AccessTokenTTL: getEnvDuration("JWT_ACCESS_TOKEN_TTL", utils.AdminAccessTokenTTL),
			Issuer:         getEnvString("JWT_ISSUER", "pythia"),
			Audience:       getEnvString("JWT_AUDIENCE", "pythia-api"),
		},
		Admin: AdminConfig{
			Username:     getEnvString("ADMIN_USERNAME", "admin"),
			PasswordHash: getEnvString("ADMIN_PASSWORD_HASH", ""),
		},
		Verification: VerificationConfig{
			Enabled:        getEnvBool("VERIFICATION_ENABLED", false),
			ProviderURL:    getEnvString("VERIFICATION_PROVIDER_URL", ""),
			APIKey:         getEnvString("VERIFICATION_API_KEY", ""),
			Timeout:        getEnvDuration("VERIFICATION_TIMEOUT", 5*time.Second),
			ScoreThreshold: getEnvFloat("VERIFICATION_SCORE_THRESHOLD", 0.5),
		},
		Challenge: ChallengeConfig{
			TTL:       getEnvDuration("CHALLENGE_TTL", 2*time.Minute),
			Padding:   getEnvInt("CHALLENGE_PADDING", 15),
			ImageSize: getEnvInt("CHALLENGE_IMAGE_SIZE", 300),
		},
		Capacity: CapacityConfig{
			DailyLimit:  getEnvInt64("CAPACITY_DAILY_LIMIT", 10000),
			SampleFloor: getEnvInt("CAPACITY_SAMPLE_FLOOR", 5),
		},
		Queue: QueueConfig{
			DrainEnabled:   getEnvBool("QUEUE_DRAIN_ENABLED", true),
			DrainInterval:  getEnvDuration("QUEUE_DRAIN_INTERVAL", 1*time.Minute),
			DrainBatchSize: getEnvInt64("QUEUE_DRAIN_BATCH_SIZE", 100),
		},
		RateLimit: RateLimitConfig{
			Max:    getEnvInt("RATE_LIMIT_MAX", 2000),
			Window: getEnvDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
		},
		Logging: LoggingConfig{
			FilePath:   getEnvString("LOG_FILE_PATH", "/var/log/pythia/app.log"),
			MaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 10),
			MaxAge:     getEnvInt("LOG_MAX_AGE", 30),
			Compress:   getEnvBool("LOG_COMPRESS", true),
		},
	}

	// Validate the loaded configuration
	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadEnvFile loads environment variables from .env file if it exists
func loadEnvFile() error {
	envFile := ".env"

	// Check if .env file exists
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		// .env file doesn't exist, continue with environment variables
		return nil
	}

	// Open .env file
	file, err := os.Open(envFile)
	if err != nil {
		return fmt.Errorf("failed to open .env file: %w", err)
	}
	defer file.Close()

	// Read file line by line
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse key=value pairs
		if strings.Contains(line, "=") {
			parts := strings.SplitN(line, "=", 2)
			if len(parts) == 2 {
				key := strings.TrimSpace(parts[0])
				value := strings.TrimSpace(parts[1])

				// Remove quotes if present
				if (strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`)) ||
					(strings.HasPrefix(value, `'`) && strings.HasSuffix(value, `'`)) {
					value = value[1 : len(value)-1]
				}

				// Set environment variable if not already set
				if os.Getenv(key) == "" {
					os.Setenv(key, value)
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading .env file: %w", err)
	}

	return nil
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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
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

// ValidateProductionConfig validates the production configuration
func ValidateProductionConfig(cfg *ProductionConfig) error {
	var errors []string

	// Validate database configuration
	if cfg.Database.Host == "" {
		errors = append(errors, "DB_HOST is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errors = append(errors, "DB_PORT must be between 1 and 65535")
	}
	if cfg.Database.Name == "" {
		errors = append(errors, "DB_NAME is required")
	}
	if cfg.Database.User == "" {
		errors = append(errors, "DB_USER is required")
	}
	if cfg.Database.Password == "" {
		errors = append(errors, "DB_PASSWORD is required")
	}

	// Validate server configuration
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errors = append(errors, "SERVER_PORT must be between 1 and 65535")
	}
	if cfg.Server.ReadTimeout <= 0 {
		errors = append(errors, "SERVER_READ_TIMEOUT must be positive")
	}
	if cfg.Server.WriteTimeout <= 0 {
		errors = append(errors, "SERVER_WRITE_TIMEOUT must be positive")
	}
	if cfg.Server.IdleTimeout <= 0 {
		errors = append(errors, "SERVER_IDLE_TIMEOUT must be positive")
	}

	// Validate redis configuration
	if cfg.Redis.URL == "" {
		errors = append(errors, "REDIS_URL is required")
	}

	// Validate identity configuration
	if cfg.Identity.Salt == "" {
		errors = append(errors, "IDENTITY_SALT is required")
	}
	if len(cfg.Identity.Salt) > 0 && len(cfg.Identity.Salt) < 16 {
		errors = append(errors, "IDENTITY_SALT must be at least 16 characters long")
	}
	if cfg.Identity.SaltVersion == "" {
		errors = append(errors, "IDENTITY_SALT_VERSION is required")
	}

	// Validate JWT configuration
	if cfg.JWT.SecretKey == "" {
		errors = append(errors, "JWT_SECRET_KEY is required")
	}
	if len(cfg.JWT.SecretKey) > 0 && len(cfg.JWT.SecretKey) < 32 {
		errors = append(errors, "JWT_SECRET_KEY must be at least 32 characters long")
	}
	if cfg.JWT.AccessTokenTTL <= 0 {
		errors = append(errors, "JWT_ACCESS_TOKEN_TTL must be positive")
	}
	if cfg.JWT.Issuer == "" {
		errors = append(errors, "JWT_ISSUER is required")
	}
	if cfg.JWT.Audience == "" {
		errors = append(errors, "JWT_AUDIENCE is required")
	}

	// Validate admin configuration
	if cfg.Admin.Username == "" {
		errors = append(errors, "ADMIN_USERNAME is required")
	}
	if cfg.Admin.PasswordHash == "" {
		errors = append(errors, "ADMIN_PASSWORD_HASH is required")
	}

	// Validate verification configuration if enabled
	if cfg.Verification.Enabled {
		if cfg.Verification.ProviderURL == "" {
			errors = append(errors, "VERIFICATION_PROVIDER_URL is required when verification is enabled")
		}
		if cfg.Verification.Timeout <= 0 {
			errors = append(errors, "VERIFICATION_TIMEOUT must be positive")
		}
		if cfg.Verification.ScoreThreshold <= 0 || cfg.Verification.ScoreThreshold > 1 {
			errors = append(errors, "VERIFICATION_SCORE_THRESHOLD must be in (0, 1]")
		}
	}

	// Validate challenge configuration
	if cfg.Challenge.TTL <= 0 {
		errors = append(errors, "CHALLENGE_TTL must be positive")
	}
	if cfg.Challenge.ImageSize <= 0 {
		errors = append(errors, "CHALLENGE_IMAGE_SIZE must be positive")
	}

	// Validate capacity configuration
	if cfg.Capacity.DailyLimit <= 0 {
		errors = append(errors, "CAPACITY_DAILY_LIMIT must be positive")
	}
	if cfg.Capacity.SampleFloor < 1 {
		errors = append(errors, "CAPACITY_SAMPLE_FLOOR must be at least 1")
	}

	// Validate queue configuration if drain is enabled
	if cfg.Queue.DrainEnabled {
		if cfg.Queue.DrainInterval <= 0 {
			errors = append(errors, "QUEUE_DRAIN_INTERVAL must be positive")
		}
		if cfg.Queue.DrainBatchSize <= 0 {
			errors = append(errors, "QUEUE_DRAIN_BATCH_SIZE must be positive")
		}
	}

	// Validate rate limit configuration
	if cfg.RateLimit.Max <= 0 {
		errors = append(errors, "RATE_LIMIT_MAX must be positive")
	}
	if cfg.RateLimit.Window <= 0 {
		errors = append(errors, "RATE_LIMIT_WINDOW must be positive")
	}

	// Return validation errors if any
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}
