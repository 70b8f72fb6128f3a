// Package sensor exposes each flight of a search result as a Home Assistant
// sensor whose state is the flight's price.
package sensor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dpktjf/dpk-ek-scraper/internal/coordinator"
	"github.com/dpktjf/dpk-ek-scraper/internal/flight"
)

// Entity constants shared by every sensor
const (
	Domain      = "dpk_ek_scraper"
	Attribution = "DPK"
	Icon        = "mdi:airplane"

	StateUnavailable = "unavailable"
	StateUnknown     = "unknown"
)

// Source is the coordinator surface entities read from
type Source interface {
	Data() *flight.SearchResult
	LastUpdateSuccess() bool
	AddListener(fn coordinator.Listener) (remove func())
}

// Ensure the coordinator satisfies Source at compile time.
var _ Source = (*coordinator.Coordinator)(nil)

// Entity is a sensor backed by one flight of the coordinator's result
type Entity interface {
	UniqueID() string
	EntityID() string
	Name() string
	FlightID() string
	NativeValue() *float64
	Available() bool
	Attributes() map[string]any
}

// State is what gets written to Home Assistant for an entity
type State struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// StateOf renders e the way Home Assistant displays it
func StateOf(e Entity) State {
	attrs := map[string]any{
		"friendly_name": e.Name(),
		"icon":          Icon,
		"attribution":   Attribution,
		"unique_id":     e.UniqueID(),
		"flight_id":     e.FlightID(),
	}

	if !e.Available() {
		return State{EntityID: e.EntityID(), State: StateUnavailable, Attributes: attrs}
	}
	for k, v := range e.Attributes() {
		attrs[k] = v
	}
	if currency, ok := attrs["currency"].(string); ok && currency != "" {
		attrs["unit_of_measurement"] = currency
	}

	value := e.NativeValue()
	if value == nil {
		return State{EntityID: e.EntityID(), State: StateUnknown, Attributes: attrs}
	}
	return State{
		EntityID:   e.EntityID(),
		State:      strconv.FormatFloat(*value, 'f', -1, 64),
		Attributes: attrs,
	}
}

// combinedPrefix keeps combined itineraries apart from one-way flights that
// carry the same id
const combinedPrefix = "rt_"

type base struct {
	source   Source
	entryID  string
	flightID string
	prefix   string
}

func (b base) UniqueID() string {
	return Domain + "_" + b.entryID + "_" + b.prefix + b.flightID
}

func (b base) EntityID() string {
	return "sensor." + Slugify(b.UniqueID())
}

func (b base) Name() string {
	return "Flight " + b.flightID
}

func (b base) FlightID() string {
	return b.flightID
}

// FlightSensor tracks one one-way flight, outbound or return
type FlightSensor struct {
	base
}

// NewFlightSensor creates a sensor for the one-way flight with flightID
func NewFlightSensor(src Source, entryID, flightID string) *FlightSensor {
	return &FlightSensor{base{source: src, entryID: entryID, flightID: flightID}}
}

func (s *FlightSensor) lookup() (flight.Flight, bool) {
	return s.source.Data().FindFlight(s.flightID)
}

// NativeValue is the flight's price, or nil once it is no longer in the result
func (s *FlightSensor) NativeValue() *float64 {
	f, ok := s.lookup()
	if !ok {
		return nil
	}
	v := f.Price.Amount.Float()
	return &v
}

// Available reports whether the last update succeeded and the flight is still offered
func (s *FlightSensor) Available() bool {
	if !s.source.LastUpdateSuccess() {
		return false
	}
	_, ok := s.lookup()
	return ok
}

// Attributes describes the itinerary
func (s *FlightSensor) Attributes() map[string]any {
	f, ok := s.lookup()
	if !ok {
		return map[string]any{}
	}
	flightNumbers := make([]string, 0, len(f.Legs))
	aircraft := make([]string, 0, len(f.Legs))
	for _, leg := range f.Legs {
		flightNumbers = append(flightNumbers, leg.FlightNumber)
		aircraft = append(aircraft, leg.Aircraft)
	}
	return map[string]any{
		"origin":           f.Departure.Airport,
		"origin_name":      f.Departure.AirportName,
		"destination":      f.Arrival.Airport,
		"destination_name": f.Arrival.AirportName,
		"departure_time":   f.Departure.Time,
		"arrival_time":     f.Arrival.Time,
		"duration":         f.Duration.Length,
		"duration_hours":   f.Duration.Hours.Float(),
		"legs":             flightNumbers,
		"aircraft":         aircraft,
		"stops":            max(len(f.Legs)-1, 0),
		"price":            f.Price.Amount.Float(),
		"currency":         f.Price.Currency,
	}
}

// ReturnFlightSensor tracks one combined round-trip itinerary
type ReturnFlightSensor struct {
	base
}

// NewReturnFlightSensor creates a sensor for the combined flight with flightID
func NewReturnFlightSensor(src Source, entryID, flightID string) *ReturnFlightSensor {
	return &ReturnFlightSensor{base{source: src, entryID: entryID, flightID: flightID, prefix: combinedPrefix}}
}

func (s *ReturnFlightSensor) lookup() (flight.ReturnFlight, bool) {
	return s.source.Data().FindCombined(s.flightID)
}

// NativeValue is the round-trip total, or nil once it is no longer in the result
func (s *ReturnFlightSensor) NativeValue() *float64 {
	f, ok := s.lookup()
	if !ok {
		return nil
	}
	v := f.Price.Total.Float()
	return &v
}

// Available reports whether the last update succeeded and the itinerary is still offered
func (s *ReturnFlightSensor) Available() bool {
	if !s.source.LastUpdateSuccess() {
		return false
	}
	_, ok := s.lookup()
	return ok
}

// Attributes describes both directions and the totals
func (s *ReturnFlightSensor) Attributes() map[string]any {
	f, ok := s.lookup()
	if !ok {
		return map[string]any{}
	}
	return map[string]any{
		"outbound_airport":  f.Schedule.Outbound.Airport,
		"outbound_depart":   f.Schedule.Outbound.Depart,
		"outbound_arrive":   f.Schedule.Outbound.Arrive,
		"outbound_duration": f.Duration.Outbound.Float(),
		"outbound_price":    f.Price.Outbound.Float(),
		"outbound_legs":     nonNil(f.OutboundLegs),
		"return_airport":    f.Schedule.Return.Airport,
		"return_depart":     f.Schedule.Return.Depart,
		"return_arrive":     f.Schedule.Return.Arrive,
		"return_duration":   f.Duration.Return.Float(),
		"return_price":      f.Price.Return.Float(),
		"return_legs":       nonNil(f.ReturnLegs),
		"total_duration":    f.Duration.Total.Float(),
		"total_price":       f.Price.Total.Float(),
		"currency":          f.Price.Currency,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and collapses every run of other characters into a
// single underscore, the way Home Assistant builds object ids
func Slugify(s string) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(s), "_")
	return strings.Trim(slug, "_")
}
