// Package config reads process settings from the environment and the list
// of configured searches from an entries file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Defaults for unset environment variables
const (
	DefaultScraperURL     = "http://jupiter:1880"
	DefaultScraperTimeout = 20 * time.Second
	DefaultAPIPort        = 8081
	DefaultEntriesFile    = "entries.yaml"
	DefaultMinInterval    = 30
	DefaultMaxInterval    = 90
	DefaultMongoDB        = "ek_scraper"
)

// Settings holds everything read from the environment
type Settings struct {
	ScraperURL     string
	ScraperTimeout time.Duration
	ScraperToken   string

	HAURL     string
	HARESTURL string
	HAToken   string
	ReadOnly  bool

	APIPort         int
	CallbackBaseURL string
	EntriesFile     string

	MinInterval time.Duration
	MaxInterval time.Duration

	MongoURI    string
	MongoDB     string
	PostgresDSN string

	LogLevel zapcore.Level
}

// LoadEnv reads a .env file if one exists. A missing file is not an error.
func LoadEnv(logger *zap.Logger, files ...string) {
	if err := godotenv.Load(files...); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}
}

// FromEnv builds Settings from the process environment
func FromEnv() (*Settings, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (*Settings, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	s := &Settings{
		ScraperURL:      get("SCRAPER_URL", DefaultScraperURL),
		ScraperToken:    get("SCRAPER_TOKEN", ""),
		HAURL:           get("HA_URL", ""),
		HARESTURL:       get("HA_REST_URL", ""),
		HAToken:         get("HA_TOKEN", ""),
		ReadOnly:        get("READ_ONLY", "") == "true",
		CallbackBaseURL: strings.TrimSuffix(get("CALLBACK_BASE_URL", ""), "/"),
		EntriesFile:     get("ENTRIES_FILE", DefaultEntriesFile),
		MongoURI:        get("MONGODB_URI", ""),
		MongoDB:         get("MONGODB_DB", DefaultMongoDB),
		PostgresDSN:     get("POSTGRES_DSN", ""),
	}

	var err error
	if s.ScraperTimeout, err = time.ParseDuration(get("SCRAPER_TIMEOUT", DefaultScraperTimeout.String())); err != nil {
		return nil, fmt.Errorf("SCRAPER_TIMEOUT: %w", err)
	}
	if s.APIPort, err = strconv.Atoi(get("API_PORT", strconv.Itoa(DefaultAPIPort))); err != nil {
		return nil, fmt.Errorf("API_PORT: %w", err)
	}

	minutes := func(key string, def int) (time.Duration, error) {
		n, err := strconv.Atoi(get(key, strconv.Itoa(def)))
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return time.Duration(n) * time.Minute, nil
	}
	if s.MinInterval, err = minutes("MIN_INTERVAL", DefaultMinInterval); err != nil {
		return nil, err
	}
	if s.MaxInterval, err = minutes("MAX_INTERVAL", DefaultMaxInterval); err != nil {
		return nil, err
	}

	if s.LogLevel, err = zapcore.ParseLevel(get("LOG_LEVEL", "info")); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	if s.HARESTURL == "" && s.HAURL != "" {
		s.HARESTURL = restURLFromWebSocket(s.HAURL)
	}
	if s.CallbackBaseURL == "" {
		s.CallbackBaseURL = fmt.Sprintf("http://localhost:%d", s.APIPort)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks cross-field constraints
func (s *Settings) Validate() error {
	if s.ScraperTimeout <= 0 {
		return fmt.Errorf("SCRAPER_TIMEOUT must be positive")
	}
	if s.APIPort <= 0 || s.APIPort > 65535 {
		return fmt.Errorf("API_PORT %d out of range", s.APIPort)
	}
	if s.MinInterval <= 0 || s.MaxInterval < s.MinInterval {
		return fmt.Errorf("interval bounds [%s, %s] are invalid", s.MinInterval, s.MaxInterval)
	}
	if (s.HAURL == "") != (s.HAToken == "") {
		return fmt.Errorf("HA_URL and HA_TOKEN must be set together")
	}
	return nil
}

// HAEnabled reports whether Home Assistant credentials are configured
func (s *Settings) HAEnabled() bool {
	return s.HAURL != "" && s.HAToken != ""
}

// WebhookURL is the callback address handed to the scraper for webhookID
func (s *Settings) WebhookURL(webhookID string) string {
	return s.CallbackBaseURL + "/api/webhook/" + webhookID
}

// restURLFromWebSocket turns ws://host:8123/api/websocket into http://host:8123
func restURLFromWebSocket(wsURL string) string {
	u := strings.TrimSuffix(wsURL, "/api/websocket")
	switch {
	case strings.HasPrefix(u, "wss://"):
		return "https://" + strings.TrimPrefix(u, "wss://")
	case strings.HasPrefix(u, "ws://"):
		return "http://" + strings.TrimPrefix(u, "ws://")
	}
	return u
}
