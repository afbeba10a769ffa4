package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName        = "FileFortress"
	defaultAppEnv         = "development"
	defaultAPIURL         = "http://127.0.0.1:3000/api"
	defaultRequestTimeout = 5 * time.Second
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultSessionBackend = BackendFile
	defaultProxyPort      = "3000"
	defaultProxyTarget    = "http://127.0.0.1:8000"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour

	timeoutMillisEnvVar    = "FILEFORTRESS_TIMEOUT_MS"
	timeoutDurEnvVar       = "FILEFORTRESS_TIMEOUT"
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
)

// Session storage backends understood by SESSION_BACKEND.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config captures client and dev proxy configuration loaded from environment variables.
type Config struct {
	AppName          string
	AppEnv           string
	APIURL           string
	RequestTimeout   time.Duration
	LogLevel         string
	LogFormat        string
	SessionBackend   string
	SessionFile      string
	SessionNamespace string
	RedisURL         string
	DatabaseURL      string
	ProxyPort        string
	ProxyTarget      string
	ShutdownPeriod   time.Duration
	IdempotencyTTL   time.Duration
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:          getEnv("APP_NAME", defaultAppName),
		AppEnv:           getEnv("APP_ENV", defaultAppEnv),
		APIURL:           strings.TrimRight(getEnv("FILEFORTRESS_API_URL", defaultAPIURL), "/"),
		RequestTimeout:   defaultRequestTimeout,
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:        strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		SessionBackend:   strings.ToLower(getEnv("SESSION_BACKEND", defaultSessionBackend)),
		SessionFile:      os.Getenv("SESSION_FILE"),
		SessionNamespace: os.Getenv("SESSION_NAMESPACE"),
		RedisURL:         os.Getenv("REDIS_URL"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		ProxyPort:        getEnv("PROXY_PORT", defaultProxyPort),
		ProxyTarget:      strings.TrimRight(getEnv("PROXY_TARGET", defaultProxyTarget), "/"),
		ShutdownPeriod:   defaultShutdownDelay,
		IdempotencyTTL:   defaultIdempotencyTTL,
	}

	if v := os.Getenv(timeoutMillisEnvVar); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", timeoutMillisEnvVar, err)
		}
		cfg.RequestTimeout = time.Duration(ms) * time.Millisecond
	} else if v := os.Getenv(timeoutDurEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", timeoutDurEnvVar, err)
		}
		cfg.RequestTimeout = d
	}
	if cfg.RequestTimeout <= 0 {
		return Config{}, fmt.Errorf("request timeout must be positive")
	}

	if v := os.Getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(shutdownDurationEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownDurationEnvVar, err)
		}
		cfg.ShutdownPeriod = d
	}

	if v := os.Getenv(idemTTLSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLSecondsEnvVar, err)
		}
		cfg.IdempotencyTTL = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(idemTTLDurEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLDurEnvVar, err)
		}
		cfg.IdempotencyTTL = d
	}

	apiURL, err := url.Parse(cfg.APIURL)
	if err != nil || apiURL.Scheme == "" || apiURL.Host == "" {
		return Config{}, fmt.Errorf("invalid FILEFORTRESS_API_URL %q", cfg.APIURL)
	}
	if cfg.SessionNamespace == "" {
		cfg.SessionNamespace = apiURL.Host
	}

	switch cfg.SessionBackend {
	case BackendFile:
		if cfg.SessionFile == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return Config{}, fmt.Errorf("resolve home directory for SESSION_FILE: %w", err)
			}
			cfg.SessionFile = filepath.Join(home, ".filefortress", "session.json")
		}
	case BackendMemory:
	case BackendRedis:
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when SESSION_BACKEND=redis")
		}
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when SESSION_BACKEND=postgres")
		}
	default:
		return Config{}, fmt.Errorf("unknown SESSION_BACKEND %q", cfg.SessionBackend)
	}

	return cfg, nil
}

// ProxyAddress returns the dev proxy listen address in the format Fiber expects.
func (c Config) ProxyAddress() string {
	if strings.HasPrefix(c.ProxyPort, ":") {
		return c.ProxyPort
	}
	return fmt.Sprintf(":%s", c.ProxyPort)
}

// IsDev reports whether the configuration targets a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
