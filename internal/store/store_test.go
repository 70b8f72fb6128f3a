package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dpktjf/dpk-ek-scraper/internal/flight"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult(jobID string) *flight.SearchResult {
	return &flight.SearchResult{
		JobID:    jobID,
		Result:   flight.ResultOK,
		Outbound: []flight.Flight{{ID: "EK2-out", Price: flight.Price{Currency: "GBP", Amount: 412.5}, Legs: []flight.Leg{}}},
		Return:   []flight.Flight{},
		Combined: []flight.ReturnFlight{{
			ID:           "EK2-EK1",
			Price:        flight.PriceReturn{Total: 810.5, Currency: "GBP"},
			OutboundLegs: []string{"EK2"},
			ReturnLegs:   []string{"EK1"},
		}},
		Tracker: []flight.TrackerStep{{
			Step:      "done",
			Timestamp: time.Date(2025, 1, 1, 9, 4, 10, 0, time.UTC),
			Message:   "3 flights",
		}},
	}
}

// memHistory is an in-memory History for exercising Multi
type memHistory struct {
	saved     map[string]*flight.SearchResult
	saveErr   error
	latestErr error
	closed    bool
}

func newMemHistory() *memHistory {
	return &memHistory{saved: map[string]*flight.SearchResult{}}
}

func (m *memHistory) Save(_ context.Context, _ string, r *flight.SearchResult) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved[r.JobID] = r
	return nil
}

func (m *memHistory) Latest(_ context.Context, jobID string) (*flight.SearchResult, error) {
	if m.latestErr != nil {
		return nil, m.latestErr
	}
	r, ok := m.saved[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func (m *memHistory) Close(context.Context) error {
	m.closed = true
	return nil
}

func TestRecord_RoundTrip(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.FixedZone("GST", 4*3600))
	rec, err := newRecord("entry1", sampleResult("job_a"), now)
	require.NoError(t, err)

	assert.Equal(t, "entry1", rec.EntryID)
	assert.Equal(t, "job_a", rec.JobID)
	assert.Equal(t, 1, rec.Flights)
	assert.Equal(t, 1, rec.Combined)
	assert.Equal(t, time.UTC, rec.ReceivedAt.Location())

	result, err := rec.Result()
	require.NoError(t, err)
	assert.Equal(t, "job_a", result.JobID)
	assert.Equal(t, []string{"EK1"}, result.Combined[0].ReturnLegs)
	assert.InDelta(t, 810.5, result.Combined[0].Price.Total.Float(), 1e-9)
	assert.True(t, result.Tracker[0].Timestamp.Equal(time.Date(2025, 1, 1, 9, 4, 10, 0, time.UTC)))

	_, err = newRecord("entry1", nil, now)
	assert.Error(t, err)
}

func TestRecord_BackendConversions(t *testing.T) {
	rec, err := newRecord("entry1", sampleResult("job_a"), time.Now())
	require.NoError(t, err)

	assert.Equal(t, rec, fromMongo(toMongo(rec)))
	assert.Equal(t, rec, fromModel(toModel(rec)))
	assert.Equal(t, "search_results", SearchResults{}.TableName())
}

func TestNop(t *testing.T) {
	var h History = Nop{}
	assert.NoError(t, h.Save(context.Background(), "e", sampleResult("j")))
	_, err := h.Latest(context.Background(), "j")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, h.Close(context.Background()))
}

func TestMulti(t *testing.T) {
	ctx := context.Background()

	t.Run("empty is nop", func(t *testing.T) {
		assert.IsType(t, Nop{}, Multi())
		assert.IsType(t, Nop{}, Multi(nil))
	})

	t.Run("single is unwrapped", func(t *testing.T) {
		h := newMemHistory()
		assert.Same(t, h, Multi(h))
	})

	t.Run("fan out and fall through", func(t *testing.T) {
		a, b := newMemHistory(), newMemHistory()
		h := Multi(a, b)

		require.NoError(t, h.Save(ctx, "e", sampleResult("job_a")))
		assert.Contains(t, a.saved, "job_a")
		assert.Contains(t, b.saved, "job_a")

		delete(a.saved, "job_a")
		got, err := h.Latest(ctx, "job_a")
		require.NoError(t, err)
		assert.Equal(t, "job_a", got.JobID)

		_, err = h.Latest(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, h.Close(ctx))
		assert.True(t, a.closed)
		assert.True(t, b.closed)
	})

	t.Run("errors are joined", func(t *testing.T) {
		a, b := newMemHistory(), newMemHistory()
		a.saveErr = errors.New("mongo down")
		a.latestErr = errors.New("mongo down")
		h := Multi(a, b)

		err := h.Save(ctx, "e", sampleResult("job_a"))
		assert.ErrorContains(t, err, "mongo down")
		assert.Contains(t, b.saved, "job_a")

		_, err = h.Latest(ctx, "job_a")
		assert.NoError(t, err)

		_, err = h.Latest(ctx, "missing")
		assert.ErrorContains(t, err, "mongo down")
	})
}

func TestHandoffCache(t *testing.T) {
	c, err := NewHandoffCache(2)
	require.NoError(t, err)

	c.Put(sampleResult("a"))
	c.Put(sampleResult("b"))
	c.Put(nil)
	c.Put(&flight.SearchResult{})
	assert.Equal(t, 2, c.Len())

	_, ok := c.Get("a")
	assert.True(t, ok)

	// "b" is now the least recently used entry.
	c.Put(sampleResult("c"))
	_, ok = c.Get("b")
	assert.False(t, ok)

	c.Remove("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestHandoffCache_DefaultSize(t *testing.T) {
	c, err := NewHandoffCache(0)
	require.NoError(t, err)
	for i := 0; i < DefaultHandoffSize+5; i++ {
		c.Put(sampleResult(string(rune('a' + i))))
	}
	assert.Equal(t, DefaultHandoffSize, c.Len())
}
