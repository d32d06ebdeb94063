package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Auth        AuthConfig
	Lock        LockConfig
	SmartGroups SmartGroupConfig
	Share       ShareConfig
	Sweeper     SweeperConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Host         string
	Port         string
	Username     string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

type RedisConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers []string
}

type AuthConfig struct {
	// Issuer is the OIDC issuer URL,
	// e.g. http://auth.grouply.com:8080/realms/tours-marketplace
	Issuer string
}

// LockConfig tunes the per-group Redis lease that serializes membership
// changes.
type LockConfig struct {
	TTL         time.Duration
	AcquireWait time.Duration
	RetryDelay  time.Duration
}

// SmartGroupConfig carries the anti-spam throttles and the lifetime of
// spontaneous groups.
type SmartGroupConfig struct {
	MaxActivePerCreator int
	CreationCooldown    time.Duration
	GroupTTL            time.Duration
}

// ShareConfig points invite links at the public web app.
type ShareConfig struct {
	BaseURL string
}

type SweeperConfig struct {
	Interval time.Duration
	Port     string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			Username:     getEnv("DB_USERNAME", "grouping_user"),
			Password:     getEnv("DB_PASSWORD", "grouping_pass"),
			Database:     getEnv("DB_NAME", "grouping"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Kafka: KafkaConfig{
			Brokers: []string{getEnv("KAFKA_ADDR", "localhost:9092")},
		},
		Auth: AuthConfig{
			Issuer: getEnv("OIDC_ISSUER", ""),
		},
		Lock: LockConfig{
			TTL:         time.Duration(getEnvInt("LOCK_TTL_SECONDS", 30)) * time.Second,
			AcquireWait: time.Duration(getEnvInt("LOCK_ACQUIRE_WAIT_MS", 3000)) * time.Millisecond,
			RetryDelay:  time.Duration(getEnvInt("LOCK_RETRY_DELAY_MS", 50)) * time.Millisecond,
		},
		SmartGroups: SmartGroupConfig{
			MaxActivePerCreator: getEnvInt("SMART_GROUP_MAX_ACTIVE", 3),
			CreationCooldown:    time.Duration(getEnvInt("SMART_GROUP_COOLDOWN_HOURS", 24)) * time.Hour,
			GroupTTL:            time.Duration(getEnvInt("SMART_GROUP_TTL_HOURS", 72)) * time.Hour,
		},
		Share: ShareConfig{
			BaseURL: getEnv("SHARE_BASE_URL", "https://app.grouply.com"),
		},
		Sweeper: SweeperConfig{
			Interval: time.Duration(getEnvInt("SWEEP_INTERVAL_MINUTES", 5)) * time.Minute,
			Port:     getEnv("SWEEPER_PORT", ":8081"),
		},
	}
}

func getEnv(key, defaultValue string) string {
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
