// Package search describes one configured flight search and derives the job
// identifier used to correlate a triggered scrape with its asynchronous result.
package search

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid search config")

// DateLayout is the format of departure and return dates
const DateLayout = "2006-01-02"

// Ticket classes accepted by the scraper
const (
	ClassEconomy  = "economy"
	ClassPremium  = "premium"
	ClassBusiness = "business"
	ClassFirst    = "first"
)

// Classes lists the ticket classes in display order
var Classes = []string{ClassEconomy, ClassPremium, ClassBusiness, ClassFirst}

// Tuning bounds
const (
	MinLegs         = 1
	MaxLegs         = 3
	MinDuration     = 5.0
	MaxDuration     = 35.0
	DurationStep    = 0.25
	DefaultLegs     = 2
	DefaultDuration = 15.5
	DefaultOrigin   = "LON"
	DefaultDest     = "DXB"
)

var nonWord = regexp.MustCompile(`[^A-Za-z0-9_]`)

// Config is an immutable set of search parameters. Origin, Destination,
// Class, DepartureDate and ReturnDate form the identity of the search;
// MaxLegs and MaxDuration only tune it.
type Config struct {
	Origin        string  `json:"origin" yaml:"origin" toml:"origin"`
	Destination   string  `json:"destination" yaml:"destination" toml:"destination"`
	DepartureDate string  `json:"departure_date" yaml:"departure_date" toml:"departure_date"`
	ReturnDate    string  `json:"return_date" yaml:"return_date" toml:"return_date"`
	Class         string  `json:"class" yaml:"class" toml:"class"`
	MaxLegs       int     `json:"max_legs,omitempty" yaml:"max_legs,omitempty" toml:"max_legs,omitempty"`
	MaxDuration   float64 `json:"max_duration,omitempty" yaml:"max_duration,omitempty" toml:"max_duration,omitempty"`
}

// Key is the identity tuple of a search
type Key struct {
	Origin        string
	Destination   string
	Class         string
	DepartureDate string
	ReturnDate    string
}

// Defaults returns the configuration used when an entry leaves fields unset
func Defaults(now time.Time) Config {
	today := now.UTC().Format(DateLayout)
	return Config{
		Origin:        DefaultOrigin,
		Destination:   DefaultDest,
		DepartureDate: today,
		ReturnDate:    today,
		Class:         ClassEconomy,
		MaxLegs:       DefaultLegs,
		MaxDuration:   DefaultDuration,
	}
}

// WithDefaults fills zero fields from Defaults(now)
func (c Config) WithDefaults(now time.Time) Config {
	d := Defaults(now)
	if strings.TrimSpace(c.Origin) == "" {
		c.Origin = d.Origin
	}
	if strings.TrimSpace(c.Destination) == "" {
		c.Destination = d.Destination
	}
	if strings.TrimSpace(c.DepartureDate) == "" {
		c.DepartureDate = d.DepartureDate
	}
	if strings.TrimSpace(c.ReturnDate) == "" {
		c.ReturnDate = d.ReturnDate
	}
	if strings.TrimSpace(c.Class) == "" {
		c.Class = d.Class
	}
	if c.MaxLegs == 0 {
		c.MaxLegs = d.MaxLegs
	}
	if c.MaxDuration == 0 {
		c.MaxDuration = d.MaxDuration
	}
	return c
}

// JobID derives the correlation key for this search. Every character
// outside [A-Za-z0-9_] becomes '_' and the result is lowercased, so two
// configs differing only in case or punctuation share a job id.
func (c Config) JobID() string {
	base := fmt.Sprintf("%s-%s-%s-%s-%s",
		c.Origin, c.Destination, c.Class, c.DepartureDate, c.ReturnDate)
	return strings.ToLower(nonWord.ReplaceAllString(base, "_"))
}

// Equals reports whether both configs describe the same search. Tuning
// fields are ignored.
func (c Config) Equals(other Config) bool {
	return c.Key() == other.Key()
}

// Key returns the identity tuple
func (c Config) Key() Key {
	return Key{
		Origin:        c.Origin,
		Destination:   c.Destination,
		Class:         c.Class,
		DepartureDate: c.DepartureDate,
		ReturnDate:    c.ReturnDate,
	}
}

// Title is the default human-readable entry name
func (c Config) Title() string {
	return fmt.Sprintf("%s → %s", c.Origin, c.Destination)
}

// Validate checks the config against the bounds the scraper accepts
func (c Config) Validate() error {
	if strings.TrimSpace(c.Origin) == "" {
		return fmt.Errorf("%w: origin is required", ErrInvalid)
	}
	if strings.TrimSpace(c.Destination) == "" {
		return fmt.Errorf("%w: destination is required", ErrInvalid)
	}
	if !ValidClass(c.Class) {
		return fmt.Errorf("%w: class %q must be one of %s", ErrInvalid, c.Class, strings.Join(Classes, ", "))
	}

	depart, err := time.Parse(DateLayout, c.DepartureDate)
	if err != nil {
		return fmt.Errorf("%w: departure_date %q: %v", ErrInvalid, c.DepartureDate, err)
	}
	ret, err := time.Parse(DateLayout, c.ReturnDate)
	if err != nil {
		return fmt.Errorf("%w: return_date %q: %v", ErrInvalid, c.ReturnDate, err)
	}
	if ret.Before(depart) {
		return fmt.Errorf("%w: return_date %s is before departure_date %s", ErrInvalid, c.ReturnDate, c.DepartureDate)
	}

	if c.MaxLegs < MinLegs || c.MaxLegs > MaxLegs {
		return fmt.Errorf("%w: max_legs %d outside %d-%d", ErrInvalid, c.MaxLegs, MinLegs, MaxLegs)
	}
	if c.MaxDuration < MinDuration || c.MaxDuration > MaxDuration {
		return fmt.Errorf("%w: max_duration %.2f outside %.1f-%.1f", ErrInvalid, c.MaxDuration, MinDuration, MaxDuration)
	}
	if steps := c.MaxDuration / DurationStep; math.Abs(steps-math.Round(steps)) > 1e-9 {
		return fmt.Errorf("%w: max_duration %.2f is not a multiple of %.2f", ErrInvalid, c.MaxDuration, DurationStep)
	}
	return nil
}

// ValidClass reports whether class names a known ticket class, ignoring case
func ValidClass(class string) bool {
	for _, known := range Classes {
		if strings.EqualFold(known, strings.TrimSpace(class)) {
			return true
		}
	}
	return false
}

// Query encodes the search for the scraper's HTTP endpoint
func (c Config) Query() url.Values {
	values := url.Values{}
	values.Set("origin", c.Origin)
	values.Set("destination", c.Destination)
	values.Set("depart", c.DepartureDate)
	values.Set("return", c.ReturnDate)
	values.Set("class", c.Class)
	if c.MaxLegs > 0 {
		values.Set("max_legs", strconv.Itoa(c.MaxLegs))
	}
	if c.MaxDuration > 0 {
		values.Set("max_duration", strconv.FormatFloat(c.MaxDuration, 'f', -1, 64))
	}
	return values
}
