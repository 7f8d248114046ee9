package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvDuration returns the duration value (e.g. "30s", "5m") of the
// environment variable named by key, or fallback if the variable is unset,
// empty, or not a valid duration.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return fallback
}

// Settings is the relay configuration read from the environment.
type Settings struct {
	Port      string
	LogLevel  string
	LogFormat string

	ContentHost           string
	APIBaseURL            string
	UpstreamTimeout       time.Duration
	UpstreamHeaderTimeout time.Duration
	ChunkSize             int
	MaxManifestBytes      int
	AcceptLanguage        string
	Origin                string
	RequestedWith         string
	UpstreamUserAgent     string

	CredentialStore  string
	CredentialExpiry string
	CredentialTTL    time.Duration
	SweepInterval    time.Duration
	RedisAddr        string
	RedisPassword    string
	RedisDB          int

	PostRateLimit  int
	PostRateWindow time.Duration
}

// FromEnv reads Settings, applying defaults for unset keys.
func FromEnv() Settings {
	return Settings{
		Port:      GetEnv("PORT", "8080"),
		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "json"),

		ContentHost:           GetEnv("CONTENT_HOST", "channel-contents.frommyarti.com"),
		APIBaseURL:            GetEnv("API_BASE_URL", "https://channel-api.frommyarti.com"),
		UpstreamTimeout:       GetEnvDuration("UPSTREAM_TIMEOUT", 30*time.Second),
		UpstreamHeaderTimeout: GetEnvDuration("UPSTREAM_HEADER_TIMEOUT", 10*time.Second),
		ChunkSize:             GetEnvInt("RELAY_CHUNK_SIZE", 8192),
		MaxManifestBytes:      GetEnvInt("MAX_MANIFEST_BYTES", 4<<20),
		AcceptLanguage:        GetEnv("ACCEPT_LANGUAGE", "fr-FR,fr;q=0.9,en-US;q=0.8,en;q=0.7"),
		Origin:                GetEnv("UPSTREAM_ORIGIN", "https://channel.frommyarti.com"),
		RequestedWith:         GetEnv("REQUESTED_WITH", "com.knowmerce.fromm.fan"),
		UpstreamUserAgent:     GetEnv("UPSTREAM_USER_AGENT", ""),

		CredentialStore:  GetEnv("CREDENTIAL_STORE", "memory"),
		CredentialExpiry: GetEnv("CREDENTIAL_EXPIRY", "none"),
		CredentialTTL:    GetEnvDuration("CREDENTIAL_TTL", 0),
		SweepInterval:    GetEnvDuration("SWEEP_INTERVAL", time.Minute),
		RedisAddr:        GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    GetEnv("REDIS_PASSWORD", ""),
		RedisDB:          GetEnvInt("REDIS_DB", 0),

		PostRateLimit:  GetEnvInt("POST_RATE_LIMIT", 60),
		PostRateWindow: GetEnvDuration("POST_RATE_WINDOW", time.Minute),
	}
}
