package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "TYUST"

// DevelopmentBaseURL is the API root used in development when none is set.
const DevelopmentBaseURL = "http://localhost:3000/api"

// Config holds all application configuration.
type Config struct {
	// Application
	App AppConfig

	// Campus API
	API APIConfig

	// Local persistent store
	Store StoreConfig

	// Session lifecycle
	Session SessionConfig

	// Observability
	Observability ObservabilityConfig
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string
	Environment Environment
	Version     string

	// Timezone used for week and weekday arithmetic (default: Asia/Shanghai)
	Timezone string
	Location *time.Location
}

// APIConfig holds campus API settings.
type APIConfig struct {
	// Root every request path is appended to.
	// Example: http://192.168.0.233:3000/api
	BaseURL string

	// Default per-request timeout
	RequestTimeout time.Duration

	// Circuit breaker settings
	CircuitBreakerThreshold int           // transport failures before opening
	CircuitBreakerCooldown  time.Duration // time before half-open
}

// StoreConfig selects the persistent key-value driver.
type StoreConfig struct {
	// memory, sqlite, redis or postgres
	Driver string

	SQLitePath  string
	RedisURL    string
	PostgresDSN string

	// Namespace in shared backends
	KeyPrefix string

	DialTimeout time.Duration
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	// Delay between the expiry notice and the redirect to login
	RedirectDelay time.Duration

	// Semester length when the server omits it
	DefaultTotalWeeks int
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, console
}

// Load reads configuration from ./.env and the environment.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile reads configuration from the given dotenv file, if it exists, and
// the environment. Variables already set in the environment win over the file.
func LoadFile(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{}

	// Load App config
	cfg.App = loadAppConfig(v)

	// Load API config
	cfg.API = loadAPIConfig(v, cfg.App.Environment)

	// Load Store config
	cfg.Store = StoreConfig{
		Driver:      strings.ToLower(v.GetString("STORE_DRIVER")),
		SQLitePath:  v.GetString("STORE_SQLITE_PATH"),
		RedisURL:    v.GetString("STORE_REDIS_URL"),
		PostgresDSN: v.GetString("STORE_POSTGRES_DSN"),
		KeyPrefix:   v.GetString("STORE_KEY_PREFIX"),
		DialTimeout: v.GetDuration("STORE_DIAL_TIMEOUT"),
	}

	// Load Session config
	cfg.Session = SessionConfig{
		RedirectDelay:     v.GetDuration("SESSION_REDIRECT_DELAY"),
		DefaultTotalWeeks: v.GetInt("SESSION_DEFAULT_TOTAL_WEEKS"),
	}

	// Load Observability config
	cfg.Observability = ObservabilityConfig{
		LogLevel:  strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat: strings.ToLower(v.GetString("LOG_FORMAT")),
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "tyust-client")
	v.SetDefault("APP_ENV", string(EnvDevelopment))
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("APP_TIMEZONE", "Asia/Shanghai")

	v.SetDefault("API_REQUEST_TIMEOUT", 20*time.Second)
	v.SetDefault("API_CB_THRESHOLD", 3)
	v.SetDefault("API_CB_COOLDOWN", 30*time.Second)

	v.SetDefault("STORE_DRIVER", "sqlite")
	v.SetDefault("STORE_SQLITE_PATH", defaultSQLitePath())
	v.SetDefault("STORE_KEY_PREFIX", "tyust:")
	v.SetDefault("STORE_DIAL_TIMEOUT", 5*time.Second)

	v.SetDefault("SESSION_REDIRECT_DELAY", 2*time.Second)
	v.SetDefault("SESSION_DEFAULT_TOTAL_WEEKS", 20)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
}

func loadAppConfig(v *viper.Viper) AppConfig {
	env := Environment(strings.ToLower(v.GetString("APP_ENV")))
	timezone := v.GetString("APP_TIMEZONE")

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		// campus time is UTC+8 without DST
		loc = time.FixedZone(timezone, 8*60*60)
	}

	return AppConfig{
		Name:        v.GetString("APP_NAME"),
		Environment: env,
		Version:     v.GetString("APP_VERSION"),
		Timezone:    timezone,
		Location:    loc,
	}
}

func loadAPIConfig(v *viper.Viper, env Environment) APIConfig {
	baseURL := strings.TrimRight(v.GetString("API_BASE_URL"), "/")
	if baseURL == "" && env == EnvDevelopment {
		baseURL = DevelopmentBaseURL
	}

	return APIConfig{
		BaseURL:                 baseURL,
		RequestTimeout:          v.GetDuration("API_REQUEST_TIMEOUT"),
		CircuitBreakerThreshold: v.GetInt("API_CB_THRESHOLD"),
		CircuitBreakerCooldown:  v.GetDuration("API_CB_COOLDOWN"),
	}
}

func defaultSQLitePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "tyust.db"
	}
	return filepath.Join(dir, "tyust", "tyust.db")
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	switch c.App.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		errs = append(errs, fmt.Sprintf("TYUST_APP_ENV must be development or production, got %q", c.App.Environment))
	}

	// Development falls back to the local backend; production has no default.
	if c.API.BaseURL == "" {
		if c.IsProduction() {
			errs = append(errs, "TYUST_API_BASE_URL is required in production")
		} else {
			errs = append(errs, "TYUST_API_BASE_URL must not be empty")
		}
	} else if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "TYUST_API_BASE_URL must be an absolute URL")
	}

	if c.API.RequestTimeout <= 0 {
		errs = append(errs, "TYUST_API_REQUEST_TIMEOUT must be positive")
	}
	if c.API.CircuitBreakerThreshold < 1 {
		errs = append(errs, "TYUST_API_CB_THRESHOLD must be at least 1")
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "TYUST_STORE_SQLITE_PATH is required for the sqlite driver")
		}
	case "redis":
		if c.Store.RedisURL == "" {
			errs = append(errs, "TYUST_STORE_REDIS_URL is required for the redis driver")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			errs = append(errs, "TYUST_STORE_POSTGRES_DSN is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("TYUST_STORE_DRIVER %q is not supported", c.Store.Driver))
	}

	// Validate ranges
	if c.Session.RedirectDelay < 0 {
		errs = append(errs, "TYUST_SESSION_REDIRECT_DELAY must not be negative")
	}
	if c.Session.DefaultTotalWeeks < 1 || c.Session.DefaultTotalWeeks > 60 {
		errs = append(errs, "TYUST_SESSION_DEFAULT_TOTAL_WEEKS must be 1-60")
	}

	switch c.Observability.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, "TYUST_LOG_FORMAT must be json or console")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}
