package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dpktjf/dpk-ek-scraper/internal/search"

	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// EntryConfig is one configured search in the entries file. The search
// fields sit next to id and title in both YAML and TOML.
type EntryConfig struct {
	ID    string `yaml:"id" toml:"id"`
	Title string `yaml:"title,omitempty" toml:"title,omitempty"`

	search.Config `yaml:",inline"`

	WebhookID     string         `yaml:"webhook_id,omitempty" toml:"webhook_id,omitempty"`
	RefreshEntity string         `yaml:"refresh_entity,omitempty" toml:"refresh_entity,omitempty"`
	Options       search.Options `yaml:"options,omitempty" toml:"options,omitempty"`
}

// EntriesFile is the root of the entries file
type EntriesFile struct {
	Entries []EntryConfig `yaml:"entries" toml:"entries"`
}

// Loader reads the entries file
type Loader struct {
	path   string
	logger *zap.Logger
}

// NewLoader creates a loader for path. The format follows the extension:
// .toml is TOML, anything else is YAML.
func NewLoader(path string, logger *zap.Logger) *Loader {
	return &Loader{path: path, logger: logger.Named("config")}
}

// Path returns the file the loader reads
func (l *Loader) Path() string {
	return l.path
}

// Load parses the entries file. A missing file yields no entries.
func (l *Loader) Load() ([]EntryConfig, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.logger.Warn("Entries file not found, starting with no entries", zap.String("path", l.path))
			return []EntryConfig{}, nil
		}
		return nil, fmt.Errorf("read entries file: %w", err)
	}

	var file EntriesFile
	if isTOML(l.path) {
		err = toml.Unmarshal(data, &file)
	} else {
		err = yaml.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", l.path, err)
	}

	seen := make(map[string]bool, len(file.Entries))
	for i := range file.Entries {
		e := &file.Entries[i]
		e.ID = strings.TrimSpace(e.ID)
		if e.ID == "" {
			return nil, fmt.Errorf("entry %d: id is required", i)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("entry %q: duplicate id", e.ID)
		}
		seen[e.ID] = true
	}

	l.logger.Info("Loaded entries file",
		zap.String("path", l.path),
		zap.Int("entries", len(file.Entries)))
	if file.Entries == nil {
		return []EntryConfig{}, nil
	}
	return file.Entries, nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
