package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoader_YAML(t *testing.T) {
	path := writeFile(t, "entries.yaml", `entries:
  - id: dubai
    title: London to Dubai
    origin: LON
    destination: DXB
    departure_date: "2025-01-01"
    return_date: "2025-01-10"
    class: economy
    max_legs: 2
    max_duration: 15.5
    webhook_id: abc123
    refresh_entity: input_boolean.refresh_flights
    options:
      class: business
  - id: sydney
    origin: LON
    destination: SYD
    departure_date: "2025-03-01"
    return_date: "2025-03-20"
    class: first
`)

	entries, err := NewLoader(path, zap.NewNop()).Load()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	e := entries[0]
	assert.Equal(t, "dubai", e.ID)
	assert.Equal(t, "London to Dubai", e.Title)
	assert.Equal(t, "LON", e.Config.Origin)
	assert.Equal(t, "DXB", e.Config.Destination)
	assert.Equal(t, "2025-01-10", e.Config.ReturnDate)
	assert.Equal(t, 2, e.Config.MaxLegs)
	assert.InDelta(t, 15.5, e.Config.MaxDuration, 1e-9)
	assert.Equal(t, "abc123", e.WebhookID)
	assert.Equal(t, "input_boolean.refresh_flights", e.RefreshEntity)
	require.NotNil(t, e.Options.Class)
	assert.Equal(t, "business", *e.Options.Class)
	assert.Nil(t, e.Options.Origin)

	assert.Equal(t, "SYD", entries[1].Config.Destination)
	assert.True(t, entries[1].Options.IsZero())
}

func TestLoader_TOML(t *testing.T) {
	path := writeFile(t, "entries.toml", `
[[entries]]
id = "dubai"
title = "London to Dubai"
origin = "LON"
destination = "DXB"
departure_date = "2025-01-01"
return_date = "2025-01-10"
class = "economy"
max_legs = 1
webhook_id = "abc123"

[entries.options]
max_duration = 20.25

[[entries]]
id = "sydney"
origin = "LON"
destination = "SYD"
departure_date = "2025-03-01"
return_date = "2025-03-20"
class = "first"
webhook_id = "abc123"
`)

	entries, err := NewLoader(path, zap.NewNop()).Load()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "dubai", entries[0].ID)
	assert.Equal(t, "London to Dubai", entries[0].Title)
	assert.Equal(t, "LON", entries[0].Config.Origin)
	assert.Equal(t, "DXB", entries[0].Config.Destination)
	assert.Equal(t, "2025-01-10", entries[0].Config.ReturnDate)
	assert.Equal(t, 1, entries[0].Config.MaxLegs)
	require.NotNil(t, entries[0].Options.MaxDuration)
	assert.InDelta(t, 20.25, *entries[0].Options.MaxDuration, 1e-9)

	assert.Equal(t, "first", entries[1].Config.Class)
	assert.Equal(t, entries[0].WebhookID, entries[1].WebhookID)
}

func TestLoader_SameShapeInBothFormats(t *testing.T) {
	yamlPath := writeFile(t, "entries.yaml", `entries:
  - id: dubai
    origin: LON
    destination: DXB
    departure_date: "2025-01-01"
    return_date: "2025-01-10"
    class: economy
    max_legs: 2
    max_duration: 15.5
    webhook_id: abc123
`)
	tomlPath := writeFile(t, "entries.toml", `
[[entries]]
id = "dubai"
origin = "LON"
destination = "DXB"
departure_date = "2025-01-01"
return_date = "2025-01-10"
class = "economy"
max_legs = 2
max_duration = 15.5
webhook_id = "abc123"
`)

	fromYAML, err := NewLoader(yamlPath, zap.NewNop()).Load()
	require.NoError(t, err)
	fromTOML, err := NewLoader(tomlPath, zap.NewNop()).Load()
	require.NoError(t, err)
	assert.Equal(t, fromYAML, fromTOML)
}

func TestLoader_MissingFile(t *testing.T) {
	entries, err := NewLoader(filepath.Join(t.TempDir(), "nope.yaml"), zap.NewNop()).Load()
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NotNil(t, entries)
}

func TestLoader_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"invalid yaml", "e.yaml", "entries: [\n"},
		{"invalid toml", "e.toml", "[[entries]\n"},
		{"missing id", "e.yaml", "entries:\n  - origin: LON\n"},
		{"duplicate id", "e.yaml", "entries:\n  - id: a\n  - id: a\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(writeFile(t, tt.file, tt.content), zap.NewNop()).Load()
			assert.Error(t, err)
		})
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SCRAPER_URL", "SCRAPER_TIMEOUT", "SCRAPER_TOKEN", "HA_URL", "HA_REST_URL", "HA_TOKEN",
		"READ_ONLY", "API_PORT", "CALLBACK_BASE_URL", "ENTRIES_FILE", "MIN_INTERVAL",
		"MAX_INTERVAL", "MONGODB_URI", "MONGODB_DB", "POSTGRES_DSN", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	s, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultScraperURL, s.ScraperURL)
	assert.Equal(t, 20*time.Second, s.ScraperTimeout)
	assert.Equal(t, 8081, s.APIPort)
	assert.Equal(t, "http://localhost:8081", s.CallbackBaseURL)
	assert.Equal(t, DefaultEntriesFile, s.EntriesFile)
	assert.Equal(t, 30*time.Minute, s.MinInterval)
	assert.Equal(t, 90*time.Minute, s.MaxInterval)
	assert.Equal(t, DefaultMongoDB, s.MongoDB)
	assert.Equal(t, zapcore.InfoLevel, s.LogLevel)
	assert.False(t, s.ReadOnly)
	assert.False(t, s.HAEnabled())
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SCRAPER_URL", "http://scraper:9000")
	t.Setenv("SCRAPER_TIMEOUT", "5s")
	t.Setenv("HA_URL", "wss://ha.local:8123/api/websocket")
	t.Setenv("HA_TOKEN", "secret")
	t.Setenv("READ_ONLY", "true")
	t.Setenv("API_PORT", "9090")
	t.Setenv("CALLBACK_BASE_URL", "http://hooks.local:9090/")
	t.Setenv("MIN_INTERVAL", "10")
	t.Setenv("MAX_INTERVAL", "20")
	t.Setenv("LOG_LEVEL", "debug")

	s, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "http://scraper:9000", s.ScraperURL)
	assert.Equal(t, 5*time.Second, s.ScraperTimeout)
	assert.Equal(t, "https://ha.local:8123", s.HARESTURL)
	assert.True(t, s.HAEnabled())
	assert.True(t, s.ReadOnly)
	assert.Equal(t, 9090, s.APIPort)
	assert.Equal(t, "http://hooks.local:9090/api/webhook/abc", s.WebhookURL("abc"))
	assert.Equal(t, 10*time.Minute, s.MinInterval)
	assert.Equal(t, 20*time.Minute, s.MaxInterval)
	assert.Equal(t, zapcore.DebugLevel, s.LogLevel)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad timeout", map[string]string{"SCRAPER_TIMEOUT": "soon"}},
		{"bad port", map[string]string{"API_PORT": "http"}},
		{"port out of range", map[string]string{"API_PORT": "70000"}},
		{"inverted intervals", map[string]string{"MIN_INTERVAL": "60", "MAX_INTERVAL": "30"}},
		{"bad level", map[string]string{"LOG_LEVEL": "loud"}},
		{"token without url", map[string]string{"HA_TOKEN": "secret"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestRestURLFromWebSocket(t *testing.T) {
	assert.Equal(t, "http://homeassistant:8123", restURLFromWebSocket("ws://homeassistant:8123/api/websocket"))
	assert.Equal(t, "https://ha.example.com", restURLFromWebSocket("wss://ha.example.com/api/websocket"))
	assert.Equal(t, "http://plain", restURLFromWebSocket("http://plain"))
}
