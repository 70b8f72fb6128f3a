package flight

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ErrMalformed is returned when a payload cannot be turned into a SearchResult.
var ErrMalformed = errors.New("malformed search result")

// Number is a float that decodes from either a JSON number or a numeric
// string; the scraper is not consistent about which it sends.
type Number float64

// Float returns the value as float64
func (n Number) Float() float64 {
	return float64(n)
}

// UnmarshalJSON implements json.Unmarshaler
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*n = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("number %q: %w", s, err)
		}
		*n = Number(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = Number(f)
	return nil
}

// UnmarshalJSON reads the nested legs object of a combined flight
func (f *ReturnFlight) UnmarshalJSON(data []byte) error {
	type alias ReturnFlight
	var raw struct {
		alias
		Legs returnLegs `json:"legs"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = ReturnFlight(raw.alias)
	f.OutboundLegs = nonNil(raw.Legs.Outbound)
	f.ReturnLegs = nonNil(raw.Legs.Return)
	return nil
}

// timestampLayouts are tried in order. Values without a zone are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses the ISO-8601 variants the scraper emits
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// UnmarshalJSON implements json.Unmarshaler
func (s *TrackerStep) UnmarshalJSON(data []byte) error {
	var raw struct {
		Step      string `json:"step"`
		Timestamp string `json:"timestamp"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ts, err := ParseTimestamp(raw.Timestamp)
	if err != nil {
		return err
	}
	*s = TrackerStep{Step: raw.Step, Timestamp: ts, Message: raw.Message}
	return nil
}

// Decode parses a scraper payload. Missing lists decode as empty, but every
// flight must carry an id.
func Decode(r io.Reader) (*SearchResult, error) {
	var result SearchResult
	if err := json.NewDecoder(r).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := result.normalize(); err != nil {
		return nil, err
	}
	return &result, nil
}

// DecodeBytes is Decode for an in-memory payload
func DecodeBytes(data []byte) (*SearchResult, error) {
	return Decode(bytes.NewReader(data))
}

func (r *SearchResult) normalize() error {
	if r.Outbound == nil {
		r.Outbound = []Flight{}
	}
	if r.Return == nil {
		r.Return = []Flight{}
	}
	if r.Combined == nil {
		r.Combined = []ReturnFlight{}
	}
	if r.Tracker == nil {
		r.Tracker = []TrackerStep{}
	}

	for i := range r.Outbound {
		if err := r.Outbound[i].normalize("outbound", i); err != nil {
			return err
		}
	}
	for i := range r.Return {
		if err := r.Return[i].normalize("return", i); err != nil {
			return err
		}
	}
	for i, f := range r.Combined {
		if strings.TrimSpace(f.ID) == "" {
			return fmt.Errorf("%w: combined[%d] has no id", ErrMalformed, i)
		}
	}
	return nil
}

func (f *Flight) normalize(list string, i int) error {
	if strings.TrimSpace(f.ID) == "" {
		return fmt.Errorf("%w: %s[%d] has no id", ErrMalformed, list, i)
	}
	if f.Legs == nil {
		f.Legs = []Leg{}
	}
	return nil
}
