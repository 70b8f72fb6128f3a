package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dpktjf/dpk-ek-scraper/internal/search"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseURL = "http://scraper.test"

const resultBody = `{
  "job_id": "lon_dxb_economy_2025_01_01_2025_01_10",
  "result": 0,
  "outbound": [{
    "id": "EK2-out",
    "departure": {"time": "2025-01-01T14:15", "airport": "LHR", "airport_name": "London Heathrow"},
    "arrival": {"time": "2025-01-02T00:25", "airport": "DXB", "airport_name": "Dubai"},
    "duration": {"length": "7h 10m", "hours": 7.17},
    "price": {"currency": "GBP", "amount": 412.5},
    "legs": [{"flight_number": "EK2", "aircraft": "A380"}]
  }],
  "return": [],
  "combined": [],
  "tracker": []
}`

func testConfig() search.Config {
	return search.Config{
		Origin:        "LON",
		Destination:   "DXB",
		Class:         "Economy",
		DepartureDate: "2025-01-01",
		ReturnDate:    "2025-01-10",
		MaxLegs:       2,
		MaxDuration:   15.5,
	}
}

func newMockedClient(t *testing.T, opts ...Option) (*Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	opts = append([]Option{WithHTTPClient(&http.Client{Transport: transport})}, opts...)
	c, err := NewClient(baseURL, opts...)
	require.NoError(t, err)
	return c, transport
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recordingObserver) ObserveRequest(op, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, op+":"+outcome)
}

func TestNewClient_BaseURL(t *testing.T) {
	c, err := NewClient("jupiter:1880/")
	require.NoError(t, err)
	assert.Equal(t, "http://jupiter:1880", c.baseURL.String())
	assert.Equal(t, DefaultTimeout, c.http.Timeout)

	_, err = NewClient("  ")
	assert.Error(t, err)
}

func TestFetchFlights_Success(t *testing.T) {
	obs := &recordingObserver{}
	c, transport := newMockedClient(t, WithToken("secret"), WithObserver(obs))

	var got *http.Request
	transport.RegisterResponder(http.MethodGet, baseURL+fetchPath,
		func(req *http.Request) (*http.Response, error) {
			got = req
			return httpmock.NewStringResponse(http.StatusOK, resultBody), nil
		})

	result, err := c.FetchFlights(context.Background(), testConfig())
	require.NoError(t, err)

	assert.Equal(t, "lon_dxb_economy_2025_01_01_2025_01_10", result.JobID)
	require.Len(t, result.Outbound, 1)
	assert.Equal(t, "EK2-out", result.Outbound[0].ID)
	assert.Empty(t, result.Combined)

	require.NotNil(t, got)
	q := got.URL.Query()
	assert.Equal(t, "LON", q.Get("origin"))
	assert.Equal(t, "DXB", q.Get("destination"))
	assert.Equal(t, "2025-01-01", q.Get("depart"))
	assert.Equal(t, "2025-01-10", q.Get("return"))
	assert.Equal(t, "Economy", q.Get("class"))
	assert.Equal(t, "2", q.Get("max_legs"))
	assert.Equal(t, "15.5", q.Get("max_duration"))
	assert.Equal(t, "Bearer secret", got.Header.Get("Authorization"))
	assert.Equal(t, defaultUserAgent, got.Header.Get("User-Agent"))

	assert.Equal(t, []string{"fetch:ok"}, obs.outcomes)
}

func TestTriggerScrape_Success(t *testing.T) {
	c, transport := newMockedClient(t)

	var got *http.Request
	transport.RegisterResponder(http.MethodGet, baseURL+triggerPath,
		func(req *http.Request) (*http.Response, error) {
			got = req
			return httpmock.NewStringResponse(http.StatusAccepted, "queued, not json"), nil
		})

	callback := "http://ha.local:8081/api/webhook/abc123"
	err := c.TriggerScrape(context.Background(), testConfig(), callback)
	require.NoError(t, err)

	require.NotNil(t, got)
	q := got.URL.Query()
	assert.Equal(t, "lon_dxb_economy_2025_01_01_2025_01_10", q.Get("job_id"))
	assert.Equal(t, callback, q.Get("callback"))
	assert.Equal(t, "LON", q.Get("origin"))
	assert.Empty(t, got.Header.Get("Authorization"))
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestTriggerScrape_RequiresCallback(t *testing.T) {
	c, transport := newMockedClient(t)

	err := c.TriggerScrape(context.Background(), testConfig(), "")
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.Equal(t, 0, transport.GetTotalCallCount())
}

func TestClient_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrAuthentication},
		{http.StatusForbidden, ErrAuthentication},
		{http.StatusBadRequest, ErrBadRequest},
		{http.StatusNotFound, ErrBadRequest},
		{http.StatusInternalServerError, ErrBadRequest},
		{http.StatusBadGateway, ErrBadRequest},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			c, transport := newMockedClient(t)
			responder := httpmock.NewStringResponder(tt.status, `{"error":"nope"}`)
			transport.RegisterResponder(http.MethodGet, baseURL+fetchPath, responder)
			transport.RegisterResponder(http.MethodGet, baseURL+triggerPath, responder)

			_, err := c.FetchFlights(context.Background(), testConfig())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)

			err = c.TriggerScrape(context.Background(), testConfig(), "http://cb")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFetchFlights_UndecodableBody(t *testing.T) {
	obs := &recordingObserver{}
	c, transport := newMockedClient(t, WithObserver(obs))
	transport.RegisterResponder(http.MethodGet, baseURL+fetchPath,
		httpmock.NewStringResponder(http.StatusOK, "<html>maintenance</html>"))

	result, err := c.FetchFlights(context.Background(), testConfig())
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.False(t, errors.Is(err, ErrCommunication))
	assert.Equal(t, []string{"fetch:" + KindBadRequest}, obs.outcomes)
}

func TestClient_TransportErrorIsCommunication(t *testing.T) {
	c, transport := newMockedClient(t)
	transport.RegisterResponder(http.MethodGet, baseURL+triggerPath,
		httpmock.NewErrorResponder(errors.New("connection reset by peer")))

	err := c.TriggerScrape(context.Background(), testConfig(), "http://cb")
	assert.ErrorIs(t, err, ErrCommunication)
	assert.Equal(t, KindCommunication, KindOf(err))
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c, err := NewClient(server.URL, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	_, err = c.FetchFlights(context.Background(), testConfig())
	assert.ErrorIs(t, err, ErrCommunication)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestClient_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	c, err := NewClient(addr)
	require.NoError(t, err)

	err = c.TriggerScrape(context.Background(), testConfig(), "http://cb")
	assert.ErrorIs(t, err, ErrCommunication)
}

func TestClient_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(resultBody))
	}))
	defer server.Close()

	c, err := NewClient(server.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.FetchFlights(ctx, testConfig())
	assert.ErrorIs(t, err, ErrCommunication)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, "other", KindOf(errors.New("plain")))
	assert.Equal(t, KindAuthentication, KindOf(fmt.Errorf("wrapped: %w", statusError("fetch", 401))))
	assert.Equal(t, KindBadRequest, KindOf(statusError("fetch", 500)))
}
