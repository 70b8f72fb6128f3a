// Package integration owns the lifecycle of configured flight searches:
// setting an entry up, routing webhook callbacks to it, reloading it when
// its options change and tearing it down again.
package integration

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/dpktjf/dpk-ek-scraper/internal/config"
	"github.com/dpktjf/dpk-ek-scraper/internal/search"
)

// Entry is one configured search
type Entry struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Search        search.Config  `json:"search"`
	WebhookID     string         `json:"webhook_id"`
	RefreshEntity string         `json:"refresh_entity,omitempty"`
	Options       search.Options `json:"options,omitzero"`
}

// FromConfig converts an entries file record
func FromConfig(c config.EntryConfig) Entry {
	return Entry{
		ID:            c.ID,
		Title:         c.Title,
		Search:        c.Config,
		WebhookID:     c.WebhookID,
		RefreshEntity: c.RefreshEntity,
		Options:       c.Options,
	}
}

// Effective returns the search the entry runs: options take precedence over
// the data the entry was created with, and unset fields fall back to defaults.
func (e Entry) Effective(now time.Time) search.Config {
	return e.Options.Apply(e.Search).WithDefaults(now)
}

// normalize fills the generated parts of an entry
func (e Entry) normalize(now time.Time) Entry {
	cfg := e.Effective(now)
	e.ID = strings.TrimSpace(e.ID)
	if e.ID == "" {
		e.ID = cfg.JobID()
	}
	if strings.TrimSpace(e.Title) == "" {
		e.Title = cfg.Title()
	}
	if e.WebhookID == "" {
		e.WebhookID = GenerateWebhookID()
	}
	return e
}

// GenerateWebhookID returns a random 32 byte hex identifier
func GenerateWebhookID() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
