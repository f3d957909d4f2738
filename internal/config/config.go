package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTP         HTTPConfig
	API          APIConfig
	TokenStore   TokenStoreConfig
	DatabaseURL  string
	RedisURL     string
	RoutesFile   string
	AuditLogFile string
	Log          LogConfig
}

type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type APIConfig struct {
	BaseURL string
	// Timeout bounds each outbound call. Zero leaves it to the transport.
	Timeout         time.Duration
	CoalesceRefresh bool
}

type TokenStoreConfig struct {
	Backend   string
	File      string
	Namespace string
}

type LogConfig struct {
	Level  string
	Format string
}

const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Load reads the environment, after merging in the dotenv file named by
// ENV_FILE. Variables already set in the environment are never overridden.
func Load() (Config, error) {
	if err := loadEnvFile(getEnv("ENV_FILE", ".env")); err != nil {
		return Config{}, err
	}

	coalesce, err := getEnvBool("AUTH_COALESCE_REFRESH", true)
	if err != nil {
		return Config{}, err
	}
	ints := map[string]int{}
	for key, fallback := range map[string]int{
		"HTTP_READ_TIMEOUT_SEC":     10,
		"HTTP_WRITE_TIMEOUT_SEC":    15,
		"HTTP_SHUTDOWN_TIMEOUT_SEC": 20,
		"INVENTORY_API_TIMEOUT_SEC": 0,
	} {
		n, err := getEnvInt(key, fallback)
		if err != nil {
			return Config{}, err
		}
		ints[key] = n
	}

	cfg := Config{
		HTTP: HTTPConfig{
			Addr:            getEnv("HTTP_ADDR", ":8080"),
			ReadTimeout:     time.Duration(ints["HTTP_READ_TIMEOUT_SEC"]) * time.Second,
			WriteTimeout:    time.Duration(ints["HTTP_WRITE_TIMEOUT_SEC"]) * time.Second,
			ShutdownTimeout: time.Duration(ints["HTTP_SHUTDOWN_TIMEOUT_SEC"]) * time.Second,
		},
		API: APIConfig{
			BaseURL:         getEnv("INVENTORY_API_URL", "http://localhost:5000/api"),
			Timeout:         time.Duration(ints["INVENTORY_API_TIMEOUT_SEC"]) * time.Second,
			CoalesceRefresh: coalesce,
		},
		TokenStore: TokenStoreConfig{
			Backend:   strings.ToLower(getEnv("TOKEN_STORE_BACKEND", BackendFile)),
			File:      getEnv("TOKEN_STORE_FILE", "./data/dashboard_session.json"),
			Namespace: getEnv("TOKEN_STORE_NAMESPACE", "dashboard"),
		},
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RoutesFile:   getEnv("ROUTES_FILE", ""),
		AuditLogFile: getEnv("AUDIT_LOG_FILE", "./data/audit.log"),
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
	}

	if cfg.HTTP.Addr == "" {
		return Config{}, fmt.Errorf("HTTP_ADDR must not be empty")
	}
	if cfg.HTTP.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("HTTP_READ_TIMEOUT_SEC must be > 0")
	}
	if cfg.HTTP.WriteTimeout <= 0 {
		return Config{}, fmt.Errorf("HTTP_WRITE_TIMEOUT_SEC must be > 0")
	}
	if cfg.HTTP.ShutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("HTTP_SHUTDOWN_TIMEOUT_SEC must be > 0")
	}
	if cfg.API.Timeout < 0 {
		return Config{}, fmt.Errorf("INVENTORY_API_TIMEOUT_SEC must be >= 0")
	}
	if !strings.HasPrefix(cfg.API.BaseURL, "http://") && !strings.HasPrefix(cfg.API.BaseURL, "https://") {
		return Config{}, fmt.Errorf("INVENTORY_API_URL must be an http(s) url")
	}
	if cfg.TokenStore.Namespace == "" {
		return Config{}, fmt.Errorf("TOKEN_STORE_NAMESPACE must not be empty")
	}
	switch cfg.TokenStore.Backend {
	case BackendMemory:
	case BackendFile:
		if cfg.TokenStore.File == "" {
			return Config{}, fmt.Errorf("TOKEN_STORE_FILE must not be empty")
		}
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL is required when TOKEN_STORE_BACKEND=postgres")
		}
	case BackendRedis:
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL is required when TOKEN_STORE_BACKEND=redis")
		}
	default:
		return Config{}, fmt.Errorf("TOKEN_STORE_BACKEND must be one of memory, file, postgres, redis")
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		return Config{}, fmt.Errorf("LOG_FORMAT must be json or text")
	}

	return cfg, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load ENV_FILE %s: %w", path, err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) (int, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", key)
	}
	return b, nil
}
