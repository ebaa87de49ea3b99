package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
// It follows the 12-factor app methodology by prioritizing environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Chat     ChatConfig
	Cache    CacheConfig
	Storage  StorageConfig
}

type ServerConfig struct {
	Port        string
	Environment string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret string
	// VerifyTTL bounds how long a verified bearer credential may be reused
	// without re-validation (reconnect bursts).
	VerifyTTL time.Duration
}

// ChatConfig carries the tunables of the messaging core. The edit window and
// send rate limit are deliberately injectable rather than hard-coded.
type ChatConfig struct {
	MessageEditWindow time.Duration
	SendRateLimit     int
	SendRateWindow    time.Duration
	TypingQuietPeriod time.Duration
	// PersistTimeout bounds the detached background persistence task so a
	// hung transaction cannot leave a message pending forever.
	PersistTimeout time.Duration
	MaxMessageLen  int
}

type CacheConfig struct {
	UserTTL            time.Duration
	ConversationTTL    time.Duration
	ParticipantTTL     time.Duration
	ParticipantListTTL time.Duration
	MessageTTL         time.Duration
	MessagePageTTL     time.Duration
	MessagePageMaxTTL  time.Duration
	SearchTTL          time.Duration
}

type StorageConfig struct {
	Region     string
	Bucket     string
	AccessKey  string
	SecretKey  string
	Endpoint   string
	PublicBase string
	PresignTTL time.Duration
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			Environment: getEnv("APP_ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			Name:     getEnv("DB_NAME", "spacechat"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret"),
			VerifyTTL: getEnvAsDuration("AUTH_VERIFY_TTL", 30*time.Second),
		},
		Chat: ChatConfig{
			MessageEditWindow: getEnvAsDuration("MESSAGE_EDIT_WINDOW", 24*time.Hour),
			SendRateLimit:     getEnvAsInt("SEND_RATE_LIMIT", 60),
			SendRateWindow:    getEnvAsDuration("SEND_RATE_WINDOW", time.Minute),
			TypingQuietPeriod: getEnvAsDuration("TYPING_QUIET_PERIOD", 5*time.Second),
			PersistTimeout:    getEnvAsDuration("PERSIST_TIMEOUT", 15*time.Second),
			MaxMessageLen:     getEnvAsInt("MAX_MESSAGE_LEN", 10000),
		},
		Cache: CacheConfig{
			UserTTL:            getEnvAsDuration("CACHE_USER_TTL", 5*time.Minute),
			ConversationTTL:    getEnvAsDuration("CACHE_CONVERSATION_TTL", 5*time.Minute),
			ParticipantTTL:     getEnvAsDuration("CACHE_PARTICIPANT_TTL", time.Minute),
			ParticipantListTTL: getEnvAsDuration("CACHE_PARTICIPANT_LIST_TTL", 2*time.Minute),
			MessageTTL:         getEnvAsDuration("CACHE_MESSAGE_TTL", 5*time.Minute),
			MessagePageTTL:     getEnvAsDuration("CACHE_MESSAGE_PAGE_TTL", 30*time.Second),
			MessagePageMaxTTL:  getEnvAsDuration("CACHE_MESSAGE_PAGE_MAX_TTL", 5*time.Minute),
			SearchTTL:          getEnvAsDuration("CACHE_SEARCH_TTL", time.Minute),
		},
		Storage: StorageConfig{
			Region:     getEnv("S3_REGION", ""),
			Bucket:     getEnv("S3_BUCKET", ""),
			AccessKey:  getEnv("S3_ACCESS_KEY", ""),
			SecretKey:  getEnv("S3_SECRET_KEY", ""),
			Endpoint:   getEnv("S3_ENDPOINT", ""),
			PublicBase: getEnv("S3_PUBLIC_BASE", ""),
			PresignTTL: getEnvAsDuration("S3_PRESIGN_TTL", 15*time.Minute),
		},
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
