// Package flight holds the records produced by the external EK scraper and
// the rules for decoding them from its loosely-typed JSON payloads.
package flight

import (
	"encoding/json"
	"time"
)

// ResultOK is the result code of a scrape that completed successfully.
const ResultOK = 0

// AirportInfo is one direction of a round-trip schedule
type AirportInfo struct {
	Depart  string `json:"depart"`
	Airport string `json:"airport"`
	Arrive  string `json:"arrive"`
}

// LocationInfoReturn pairs the outbound and return schedules
type LocationInfoReturn struct {
	Outbound AirportInfo `json:"outbound"`
	Return   AirportInfo `json:"return"`
}

// LocationInfo is a departure or arrival point of a one-way flight
type LocationInfo struct {
	Time        string `json:"time"`
	Airport     string `json:"airport"`
	AirportName string `json:"airport_name"`
}

// Duration is the length of a one-way flight. Length is the scraper's
// display form (e.g. "7h 10m"), Hours the same value as a number.
type Duration struct {
	Length string `json:"length"`
	Hours  Number `json:"hours"`
}

// DurationReturn holds outbound, return and total hours of a round trip
type DurationReturn struct {
	Outbound Number `json:"outbound"`
	Return   Number `json:"return"`
	Total    Number `json:"total"`
}

// Price of a one-way flight
type Price struct {
	Currency string `json:"currency"`
	Amount   Number `json:"amount"`
}

// PriceReturn holds the per-direction and total price of a round trip
type PriceReturn struct {
	Outbound Number `json:"outbound"`
	Return   Number `json:"return"`
	Total    Number `json:"total"`
	Currency string `json:"currency"`
}

// Leg is a single segment of a flight
type Leg struct {
	FlightNumber string `json:"flight_number"`
	Aircraft     string `json:"aircraft"`
}

// Flight is one priced one-way itinerary. ID is assigned by the scraper.
type Flight struct {
	ID        string       `json:"id"`
	Departure LocationInfo `json:"departure"`
	Arrival   LocationInfo `json:"arrival"`
	Duration  Duration     `json:"duration"`
	Price     Price        `json:"price"`
	Legs      []Leg        `json:"legs"`
}

// ReturnFlight is a combined round-trip itinerary with aggregate price and
// duration. Legs are flight numbers per direction.
type ReturnFlight struct {
	ID           string             `json:"id"`
	Schedule     LocationInfoReturn `json:"schedule"`
	Duration     DurationReturn     `json:"duration"`
	Price        PriceReturn        `json:"price"`
	OutboundLegs []string           `json:"-"`
	ReturnLegs   []string           `json:"-"`
}

type returnLegs struct {
	Outbound []string `json:"outbound"`
	Return   []string `json:"return"`
}

// TrackerStep is a progress entry appended by the scraper during a long scrape
type TrackerStep struct {
	Step      string    `json:"step"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// SearchResult is the outcome of one completed scrape. A new result always
// replaces the previous one; results are never merged.
type SearchResult struct {
	JobID    string         `json:"job_id"`
	Result   int            `json:"result"`
	Outbound []Flight       `json:"outbound"`
	Return   []Flight       `json:"return"`
	Combined []ReturnFlight `json:"combined"`
	Tracker  []TrackerStep  `json:"tracker"`
}

// OK reports whether the scrape finished with the ok result code
func (r *SearchResult) OK() bool {
	return r != nil && r.Result == ResultOK
}

// AllFlights returns the outbound flights followed by the return flights
func (r *SearchResult) AllFlights() []Flight {
	if r == nil {
		return []Flight{}
	}
	all := make([]Flight, 0, len(r.Outbound)+len(r.Return))
	all = append(all, r.Outbound...)
	all = append(all, r.Return...)
	return all
}

// FindFlight looks a one-way flight up by id in both directions
func (r *SearchResult) FindFlight(id string) (Flight, bool) {
	if r == nil {
		return Flight{}, false
	}
	for _, list := range [][]Flight{r.Outbound, r.Return} {
		for _, f := range list {
			if f.ID == id {
				return f, true
			}
		}
	}
	return Flight{}, false
}

// FindCombined looks a round-trip flight up by id
func (r *SearchResult) FindCombined(id string) (ReturnFlight, bool) {
	if r == nil {
		return ReturnFlight{}, false
	}
	for _, f := range r.Combined {
		if f.ID == id {
			return f, true
		}
	}
	return ReturnFlight{}, false
}

// MarshalJSON writes the combined flight back in the scraper's shape, with
// legs nested under a single object.
func (f ReturnFlight) MarshalJSON() ([]byte, error) {
	type alias ReturnFlight
	return json.Marshal(struct {
		alias
		Legs returnLegs `json:"legs"`
	}{
		alias: alias(f),
		Legs:  returnLegs{Outbound: nonNil(f.OutboundLegs), Return: nonNil(f.ReturnLegs)},
	})
}

// MarshalJSON writes the timestamp as RFC 3339
func (s TrackerStep) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"step":      s.Step,
		"timestamp": s.Timestamp.Format(time.RFC3339Nano),
		"message":   s.Message,
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
