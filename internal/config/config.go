package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config carries every setting a connector binary needs. It is built once at
// startup; no stage reads the environment after Load returns.
type Config struct {
	APIKey        string `validate:"required"`
	BaseURL       string `validate:"required,url"`
	City          string `validate:"required"`
	ConnectorName string

	MongoURI   string `validate:"required"`
	DBName     string `validate:"required"`
	Collection string `validate:"required"`

	HTTPTimeout    time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	MongoConnectTimeout time.Duration
	MongoWriteTimeout   time.Duration

	// Pagination bounds for the pulses feed.
	PageLimit int
	MaxPages  int

	// RunInterval > 0 switches the binary from one-shot mode into interval
	// mode with the status API.
	RunInterval time.Duration
	Port        string
}

var validate = validator.New()

// ConfigurationError names every missing required setting and every
// unparsable value found in one pass, so a misconfigured deployment is fixed
// in one round trip.
type ConfigurationError struct {
	Missing []string
	Invalid []string
}

func (e *ConfigurationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required settings: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid settings: "+strings.Join(e.Invalid, ", "))
	}
	return strings.Join(parts, "; ")
}

// weatherEnv maps Config fields to the weather connector's environment keys.
var weatherEnv = map[string]string{
	"APIKey":     "OPENWEATHER_API_KEY",
	"BaseURL":    "BASE_URL",
	"City":       "CITY",
	"MongoURI":   "MONGO_URI",
	"DBName":     "DB_NAME",
	"Collection": "COLLECTION_NAME",
}

// otxEnv maps Config fields to the pulses connector's environment keys.
var otxEnv = map[string]string{
	"APIKey":     "OTX_API_KEY",
	"BaseURL":    "BASE_URL",
	"MongoURI":   "MONGO_URI",
	"DBName":     "DB_NAME",
	"Collection": "COLLECTION_NAME",
}

// LoadWeather reads the weather connector configuration from the environment.
func LoadWeather() (*Config, error) {
	cfg, invalid := loadCommon()

	cfg.APIKey = os.Getenv("OPENWEATHER_API_KEY")
	cfg.BaseURL = getenvDefault("BASE_URL", "https://api.openweathermap.org/data/2.5/weather")
	cfg.City = os.Getenv("CITY")
	cfg.Collection = getenvDefault("COLLECTION_NAME", "weather_reports")
	cfg.ConnectorName = getenvDefault("CONNECTOR_NAME", "weather_connector")

	if err := check(validate.Struct(cfg), weatherEnv, invalid); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOTX reads the pulses connector configuration from the environment. CITY
// has no meaning for this connector and is not required.
func LoadOTX() (*Config, error) {
	cfg, invalid := loadCommon()

	cfg.APIKey = os.Getenv("OTX_API_KEY")
	cfg.BaseURL = getenvDefault("BASE_URL", "https://otx.alienvault.com/api/v1")
	cfg.Collection = getenvDefault("COLLECTION_NAME", "otx_pulses_raw")
	cfg.ConnectorName = getenvDefault("CONNECTOR_NAME", "otx_pulses_connector")
	cfg.PageLimit = getenvInt("OTX_PAGE_LIMIT", 50, &invalid)
	cfg.MaxPages = getenvInt("OTX_MAX_PAGES", 100, &invalid)
	if cfg.PageLimit <= 0 {
		invalid = append(invalid, "OTX_PAGE_LIMIT")
	}
	if cfg.MaxPages <= 0 {
		invalid = append(invalid, "OTX_MAX_PAGES")
	}

	if err := check(validate.StructExcept(cfg, "City"), otxEnv, invalid); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadCommon reads the settings shared by both connectors. MONGO_URI
// deliberately has no default; a connector must never write into a database
// nobody chose.
func loadCommon() (*Config, []string) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	var invalid []string

	cfg := &Config{
		MongoURI: os.Getenv("MONGO_URI"),
		DBName:   getenvDefault("DB_NAME", "api_testing"),
		Port:     getenvDefault("PORT", "8080"),
	}

	cfg.HTTPTimeout = getenvDuration("HTTP_TIMEOUT", 30*time.Second, &invalid)
	cfg.MaxRetries = getenvInt("MAX_RETRIES", 5, &invalid)
	cfg.RetryBaseDelay = getenvDuration("RETRY_BASE_DELAY", 1*time.Second, &invalid)
	cfg.RetryMaxDelay = getenvDuration("RETRY_MAX_DELAY", 30*time.Second, &invalid)
	cfg.MongoConnectTimeout = getenvDuration("MONGO_CONNECT_TIMEOUT", 5*time.Second, &invalid)
	cfg.MongoWriteTimeout = getenvDuration("MONGO_WRITE_TIMEOUT", 10*time.Second, &invalid)
	cfg.RunInterval = getenvDuration("RUN_INTERVAL", 0, &invalid)

	// Values no stage can work with.
	if cfg.HTTPTimeout <= 0 {
		invalid = append(invalid, "HTTP_TIMEOUT")
	}
	if cfg.MaxRetries < 0 {
		invalid = append(invalid, "MAX_RETRIES")
	}
	if cfg.RetryBaseDelay <= 0 {
		invalid = append(invalid, "RETRY_BASE_DELAY")
	}
	if cfg.RetryMaxDelay <= 0 {
		invalid = append(invalid, "RETRY_MAX_DELAY")
	}
	if cfg.MongoConnectTimeout <= 0 {
		invalid = append(invalid, "MONGO_CONNECT_TIMEOUT")
	}
	if cfg.MongoWriteTimeout <= 0 {
		invalid = append(invalid, "MONGO_WRITE_TIMEOUT")
	}
	if cfg.RunInterval < 0 {
		invalid = append(invalid, "RUN_INTERVAL")
	}

	return cfg, invalid
}

// check folds validator failures and parse failures into a single
// ConfigurationError keyed by environment variable name.
func check(err error, envNames map[string]string, invalid []string) error {
	var missing []string
	if err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		for _, fe := range verrs {
			name := envNames[fe.StructField()]
			if name == "" {
				name = fe.StructField()
			}
			if fe.Tag() == "required" {
				missing = append(missing, name)
			} else {
				invalid = append(invalid, name)
			}
		}
	}
	if len(missing) > 0 || len(invalid) > 0 {
		return &ConfigurationError{Missing: missing, Invalid: invalid}
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getenvInt parses an integer setting, recording the key as invalid when the
// value does not parse.
func getenvInt(key string, def int, invalid *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*invalid = append(*invalid, key)
		return def
	}
	return n
}

// getenvDuration parses a duration setting such as "30s" or "2m".
func getenvDuration(key string, def time.Duration, invalid *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*invalid = append(*invalid, key)
		return def
	}
	return d
}
