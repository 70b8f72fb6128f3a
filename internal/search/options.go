package search

import "strings"

// Options are per-entry overrides edited after setup. A nil field keeps the
// value the entry was created with.
type Options struct {
	Origin        *string  `json:"origin,omitempty" yaml:"origin,omitempty" toml:"origin,omitempty"`
	Destination   *string  `json:"destination,omitempty" yaml:"destination,omitempty" toml:"destination,omitempty"`
	DepartureDate *string  `json:"departure_date,omitempty" yaml:"departure_date,omitempty" toml:"departure_date,omitempty"`
	ReturnDate    *string  `json:"return_date,omitempty" yaml:"return_date,omitempty" toml:"return_date,omitempty"`
	Class         *string  `json:"class,omitempty" yaml:"class,omitempty" toml:"class,omitempty"`
	MaxLegs       *int     `json:"max_legs,omitempty" yaml:"max_legs,omitempty" toml:"max_legs,omitempty"`
	MaxDuration   *float64 `json:"max_duration,omitempty" yaml:"max_duration,omitempty" toml:"max_duration,omitempty"`
}

// Apply returns c with every set option taking precedence
func (o Options) Apply(c Config) Config {
	if o.Origin != nil {
		c.Origin = strings.TrimSpace(*o.Origin)
	}
	if o.Destination != nil {
		c.Destination = strings.TrimSpace(*o.Destination)
	}
	if o.DepartureDate != nil {
		c.DepartureDate = strings.TrimSpace(*o.DepartureDate)
	}
	if o.ReturnDate != nil {
		c.ReturnDate = strings.TrimSpace(*o.ReturnDate)
	}
	if o.Class != nil {
		c.Class = strings.TrimSpace(*o.Class)
	}
	if o.MaxLegs != nil {
		c.MaxLegs = *o.MaxLegs
	}
	if o.MaxDuration != nil {
		c.MaxDuration = *o.MaxDuration
	}
	return c
}

// Merge returns o with every field set in next replacing its counterpart
func (o Options) Merge(next Options) Options {
	if next.Origin != nil {
		o.Origin = next.Origin
	}
	if next.Destination != nil {
		o.Destination = next.Destination
	}
	if next.DepartureDate != nil {
		o.DepartureDate = next.DepartureDate
	}
	if next.ReturnDate != nil {
		o.ReturnDate = next.ReturnDate
	}
	if next.Class != nil {
		o.Class = next.Class
	}
	if next.MaxLegs != nil {
		o.MaxLegs = next.MaxLegs
	}
	if next.MaxDuration != nil {
		o.MaxDuration = next.MaxDuration
	}
	return o
}

// IsZero reports whether no option is set
func (o Options) IsZero() bool {
	return o == (Options{})
}
