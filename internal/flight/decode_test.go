package flight

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePayload = `{
  "job_id": "lon_dxb_economy_2025_01_01_2025_01_10",
  "result": 0,
  "outbound": [{
    "id": "EK2-out",
    "departure": {"time": "2025-01-01T14:15", "airport": "LHR", "airport_name": "London Heathrow"},
    "arrival": {"time": "2025-01-02T00:25", "airport": "DXB", "airport_name": "Dubai"},
    "duration": {"length": "7h 10m", "hours": "7.17"},
    "price": {"currency": "GBP", "amount": 412.5},
    "legs": [{"flight_number": "EK2", "aircraft": "A380"}]
  }],
  "return": [{
    "id": "EK1-ret",
    "departure": {"time": "2025-01-10T07:45", "airport": "DXB", "airport_name": "Dubai"},
    "arrival": {"time": "2025-01-10T11:40", "airport": "LHR", "airport_name": "London Heathrow"},
    "duration": {"length": "7h 55m", "hours": 7.92},
    "price": {"currency": "GBP", "amount": "398"},
    "legs": [{"flight_number": "EK1", "aircraft": "A380"}]
  }],
  "combined": [{
    "id": "EK2-EK1",
    "schedule": {
      "outbound": {"depart": "14:15", "airport": "LHR", "arrive": "00:25"},
      "return": {"depart": "07:45", "airport": "DXB", "arrive": "11:40"}
    },
    "duration": {"outbound": 7.17, "return": 7.92, "total": "15.09"},
    "price": {"outbound": 412.5, "return": 398, "total": 810.5, "currency": "GBP"},
    "legs": {"outbound": ["EK2"], "return": ["EK1"]}
  }],
  "tracker": [
    {"step": "start", "timestamp": "2025-01-01T09:00:00.123456+00:00", "message": "scrape started"},
    {"step": "done", "timestamp": "2025-01-01T09:04:10", "message": "3 flights"}
  ]
}`

func TestDecode_FullPayload(t *testing.T) {
	result, err := DecodeBytes([]byte(samplePayload))
	require.NoError(t, err)

	assert.Equal(t, "lon_dxb_economy_2025_01_01_2025_01_10", result.JobID)
	assert.True(t, result.OK())

	require.Len(t, result.Outbound, 1)
	out := result.Outbound[0]
	assert.Equal(t, "EK2-out", out.ID)
	assert.Equal(t, "LHR", out.Departure.Airport)
	assert.Equal(t, "Dubai", out.Arrival.AirportName)
	assert.Equal(t, "7h 10m", out.Duration.Length)
	assert.InDelta(t, 7.17, out.Duration.Hours.Float(), 1e-9)
	assert.InDelta(t, 412.5, out.Price.Amount.Float(), 1e-9)
	assert.Equal(t, []Leg{{FlightNumber: "EK2", Aircraft: "A380"}}, out.Legs)

	require.Len(t, result.Return, 1)
	assert.Equal(t, "EK1-ret", result.Return[0].ID)
	assert.InDelta(t, 398, result.Return[0].Price.Amount.Float(), 1e-9)

	require.Len(t, result.Combined, 1)
	rt := result.Combined[0]
	assert.Equal(t, "EK2-EK1", rt.ID)
	assert.Equal(t, "DXB", rt.Schedule.Return.Airport)
	assert.InDelta(t, 15.09, rt.Duration.Total.Float(), 1e-9)
	assert.InDelta(t, 810.5, rt.Price.Total.Float(), 1e-9)
	assert.Equal(t, "GBP", rt.Price.Currency)
	assert.Equal(t, []string{"EK2"}, rt.OutboundLegs)
	assert.Equal(t, []string{"EK1"}, rt.ReturnLegs)

	require.Len(t, result.Tracker, 2)
	assert.Equal(t, "start", result.Tracker[0].Step)
	assert.Equal(t, time.Date(2025, 1, 1, 9, 0, 0, 123456000, time.UTC), result.Tracker[0].Timestamp.UTC())
	assert.Equal(t, time.Date(2025, 1, 1, 9, 4, 10, 0, time.UTC), result.Tracker[1].Timestamp)
}

func TestDecode_EncodeKeepsWireShape(t *testing.T) {
	first, err := DecodeBytes([]byte(samplePayload))
	require.NoError(t, err)

	encoded, err := json.Marshal(first)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"legs":{"outbound":["EK2"],"return":["EK1"]}`)

	second, err := DecodeBytes(encoded)
	require.NoError(t, err)
	assert.Equal(t, first.Combined, second.Combined)
	assert.Equal(t, first.Outbound, second.Outbound)
	assert.True(t, first.Tracker[0].Timestamp.Equal(second.Tracker[0].Timestamp))
}

func TestDecode_MissingListsAreEmpty(t *testing.T) {
	result, err := DecodeBytes([]byte(`{"result": 3}`))
	require.NoError(t, err)

	assert.Equal(t, "", result.JobID)
	assert.False(t, result.OK())
	assert.NotNil(t, result.Outbound)
	assert.NotNil(t, result.Return)
	assert.NotNil(t, result.Combined)
	assert.NotNil(t, result.Tracker)
	assert.Empty(t, result.AllFlights())
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{"job_id": `},
		{"flight without id", `{"outbound": [{"price": {"amount": 1}}]}`},
		{"combined without id", `{"combined": [{"legs": {"outbound": [], "return": []}}]}`},
		{"bad number", `{"outbound": [{"id": "x", "price": {"amount": "cheap"}}]}`},
		{"bad timestamp", `{"tracker": [{"step": "s", "timestamp": "yesterday", "message": ""}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.payload))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
		})
	}
}

func TestSearchResult_Lookups(t *testing.T) {
	result, err := DecodeBytes([]byte(samplePayload))
	require.NoError(t, err)

	all := result.AllFlights()
	require.Len(t, all, 2)
	assert.Equal(t, "EK2-out", all[0].ID)
	assert.Equal(t, "EK1-ret", all[1].ID)

	f, ok := result.FindFlight("EK1-ret")
	assert.True(t, ok)
	assert.Equal(t, "DXB", f.Departure.Airport)

	_, ok = result.FindFlight("gone")
	assert.False(t, ok)

	rt, ok := result.FindCombined("EK2-EK1")
	assert.True(t, ok)
	assert.InDelta(t, 810.5, rt.Price.Total.Float(), 1e-9)

	var nilResult *SearchResult
	_, ok = nilResult.FindCombined("EK2-EK1")
	assert.False(t, ok)
	assert.False(t, nilResult.OK())
}
