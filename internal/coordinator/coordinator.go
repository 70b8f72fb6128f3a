// Package coordinator owns the latest search result of one configured search
// and the randomised schedule on which new scrapes are triggered.
//
// A refresh only asks the scraper to start work; the result arrives later
// through HandleWebhook and is accepted when its job id matches the one the
// coordinator is tracking.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dpktjf/dpk-ek-scraper/internal/clock"
	"github.com/dpktjf/dpk-ek-scraper/internal/flight"
	"github.com/dpktjf/dpk-ek-scraper/internal/metrics"
	"github.com/dpktjf/dpk-ek-scraper/internal/scraper"
	"github.com/dpktjf/dpk-ek-scraper/internal/search"

	"go.uber.org/zap"
)

// Default bounds for the delay between triggers
const (
	DefaultMinInterval = 30 * time.Minute
	DefaultMaxInterval = 90 * time.Minute
)

// ErrNilResult is returned when a webhook delivers no result
var ErrNilResult = errors.New("nil search result")

// State is the coordinator's position in the trigger/result cycle
type State int

const (
	// Idle means no scrape is in flight
	Idle State = iota
	// Triggered means a scrape was requested and its result is pending
	Triggered
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Triggered:
		return "triggered"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// UpdateFailed wraps the client error of a failed refresh
type UpdateFailed struct {
	Err error
}

func (e *UpdateFailed) Error() string {
	return fmt.Sprintf("update failed: %v", e.Err)
}

func (e *UpdateFailed) Unwrap() error {
	return e.Err
}

// Listener is called after every change observers care about
type Listener func()

type listenerEntry struct {
	id int
	fn Listener
}

// Coordinator schedules scrapes for one search and holds its latest result
type Coordinator struct {
	name        string
	client      scraper.API
	cfg         search.Config
	callbackURL string
	clock       clock.Clock
	rnd         *rand.Rand
	minInterval time.Duration
	maxInterval time.Duration
	logger      *zap.Logger
	metrics     *metrics.Metrics

	mu           sync.Mutex
	data         *flight.SearchResult
	jobID        string
	state        State
	lastSuccess  bool
	lastErr      error
	nextInterval time.Duration
	triggeredAt  time.Time
	receivedAt   time.Time

	listeners      []listenerEntry
	nextListenerID int

	running bool
	runCtx  context.Context
	timer   clock.Timer
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithName labels logs and metrics, usually with the entry id
func WithName(name string) Option {
	return func(c *Coordinator) { c.name = name }
}

// WithClock replaces the wall clock, for tests
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithRand sets the random source used to draw intervals
func WithRand(r *rand.Rand) Option {
	return func(c *Coordinator) { c.rnd = r }
}

// WithIntervalBounds sets the inclusive range the next trigger delay is drawn from
func WithIntervalBounds(minInterval, maxInterval time.Duration) Option {
	return func(c *Coordinator) {
		c.minInterval = minInterval
		c.maxInterval = maxInterval
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records triggers, failures and result sizes
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithInitialData seeds the coordinator with a previously stored result.
// It is only used when its job id belongs to this search.
func WithInitialData(result *flight.SearchResult) Option {
	return func(c *Coordinator) { c.data = result }
}

// New creates a coordinator for cfg. callbackURL is handed to the scraper on
// every trigger.
func New(client scraper.API, cfg search.Config, callbackURL string, opts ...Option) (*Coordinator, error) {
	if client == nil {
		return nil, errors.New("scraper client is required")
	}
	c := &Coordinator{
		client:      client,
		cfg:         cfg,
		callbackURL: callbackURL,
		clock:       clock.NewRealClock(),
		minInterval: DefaultMinInterval,
		maxInterval: DefaultMaxInterval,
		logger:      zap.NewNop(),
		jobID:       cfg.JobID(),
		state:       Idle,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.name == "" {
		c.name = c.jobID
	}
	if c.minInterval <= 0 || c.maxInterval < c.minInterval {
		return nil, fmt.Errorf("invalid interval bounds [%s, %s]", c.minInterval, c.maxInterval)
	}
	c.logger = c.logger.Named("coordinator").With(zap.String("entry", c.name))

	if c.data != nil && c.data.JobID != c.jobID {
		c.logger.Info("Ignoring stored result for a different search",
			zap.String("stored_job_id", c.data.JobID),
			zap.String("job_id", c.jobID))
		c.data = nil
	}
	if c.data != nil {
		c.metrics.SetFlights(c.name, len(c.data.AllFlights()), len(c.data.Combined))
	}
	return c, nil
}

// Config returns the search this coordinator runs
func (c *Coordinator) Config() search.Config {
	return c.cfg
}

// Start runs the first refresh immediately and keeps triggering on the drawn
// interval until Stop is called or ctx is cancelled. The error of the first
// refresh is returned; scheduling continues regardless.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.runCtx = ctx
	c.mu.Unlock()

	c.logger.Info("Starting coordinator",
		zap.String("job_id", c.jobID),
		zap.Duration("min_interval", c.minInterval),
		zap.Duration("max_interval", c.maxInterval))

	return c.tick()
}

// Stop cancels the pending scheduled refresh
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.running = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	c.logger.Info("Coordinator stopped")
}

// Running reports whether the schedule is active
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// RequestRefresh triggers a scrape now and restarts the schedule from the
// newly drawn interval
func (c *Coordinator) RequestRefresh(ctx context.Context) error {
	c.logger.Info("Manual refresh requested")
	err := c.Refresh(ctx)
	c.reschedule(err)
	return err
}

// tick is one scheduled cycle
func (c *Coordinator) tick() error {
	c.mu.Lock()
	ctx := c.runCtx
	running := c.running
	c.mu.Unlock()
	if !running {
		return nil
	}
	if ctx.Err() != nil {
		c.Stop()
		return ctx.Err()
	}

	err := c.Refresh(ctx)
	c.reschedule(err)
	return err
}

func (c *Coordinator) reschedule(refreshErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	delay := c.nextInterval
	if refreshErr != nil || delay <= 0 {
		delay = c.maxInterval
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = c.clock.AfterFunc(delay, func() { _ = c.tick() })
	c.logger.Debug("Next refresh scheduled", zap.Duration("in", delay))
}

// Refresh triggers one scrape. A failed trigger keeps the current result,
// marks the last update as failed and returns *UpdateFailed.
func (c *Coordinator) Refresh(ctx context.Context) error {
	err := c.client.TriggerScrape(ctx, c.cfg, c.callbackURL)
	if err != nil {
		return c.fail(err)
	}

	c.mu.Lock()
	interval := c.drawInterval()
	wasSuccess := c.lastSuccess
	c.state = Triggered
	c.jobID = c.cfg.JobID()
	c.lastSuccess = true
	c.lastErr = nil
	c.nextInterval = interval
	c.triggeredAt = c.clock.Now()
	jobID := c.jobID
	c.mu.Unlock()

	c.metrics.IncTrigger(c.name)
	c.metrics.SetNextInterval(c.name, interval)
	c.logger.Info("Scrape triggered",
		zap.String("job_id", jobID),
		zap.Duration("next_interval", interval))

	if !wasSuccess {
		c.notify()
	}
	return nil
}

// FetchNow runs a synchronous scrape and accepts its result the same way a
// webhook delivery would
func (c *Coordinator) FetchNow(ctx context.Context) error {
	result, err := c.client.FetchFlights(ctx, c.cfg)
	if err != nil {
		return c.fail(err)
	}
	if result.JobID == "" {
		result.JobID = c.JobID()
	}
	if !c.accept(result) {
		return fmt.Errorf("fetched result for job %q does not match %q", result.JobID, c.JobID())
	}
	return nil
}

func (c *Coordinator) fail(err error) error {
	c.mu.Lock()
	c.lastSuccess = false
	c.lastErr = err
	c.state = Idle
	c.mu.Unlock()

	c.metrics.IncUpdateFailure(c.name, scraper.KindOf(err))
	c.logger.Warn("Refresh failed",
		zap.String("kind", scraper.KindOf(err)),
		zap.Error(err))

	c.notify()
	return &UpdateFailed{Err: err}
}

// HandleWebhook offers a pushed result. A result for another job is logged
// and discarded without error; accepted reports whether it replaced the data.
func (c *Coordinator) HandleWebhook(result *flight.SearchResult) (accepted bool, err error) {
	if result == nil {
		return false, ErrNilResult
	}
	return c.accept(result), nil
}

func (c *Coordinator) accept(result *flight.SearchResult) bool {
	c.mu.Lock()
	if result.JobID != c.jobID {
		tracked := c.jobID
		c.mu.Unlock()
		c.logger.Warn("Discarding result for a different job",
			zap.String("received_job_id", result.JobID),
			zap.String("tracked_job_id", tracked))
		return false
	}
	c.data = result
	c.state = Idle
	c.lastSuccess = true
	c.lastErr = nil
	c.receivedAt = c.clock.Now()
	c.mu.Unlock()

	c.metrics.SetFlights(c.name, len(result.AllFlights()), len(result.Combined))
	c.logger.Info("Result received",
		zap.String("job_id", result.JobID),
		zap.Int("result", result.Result),
		zap.Int("outbound", len(result.Outbound)),
		zap.Int("return", len(result.Return)),
		zap.Int("combined", len(result.Combined)))

	c.notify()
	return true
}

// drawInterval picks a whole number of seconds in [min, max]. Caller holds mu.
func (c *Coordinator) drawInterval() time.Duration {
	lo := int64(c.minInterval / time.Second)
	hi := int64(c.maxInterval / time.Second)
	span := hi - lo + 1
	var n int64
	if c.rnd != nil {
		n = c.rnd.Int64N(span)
	} else {
		n = rand.Int64N(span)
	}
	return time.Duration(lo+n) * time.Second
}

// AddListener registers fn and returns a function that removes it
func (c *Coordinator) AddListener(fn Listener) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextListenerID++
	id := c.nextListenerID
	c.listeners = append(c.listeners, listenerEntry{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

func (c *Coordinator) notify() {
	c.mu.Lock()
	listeners := make([]Listener, len(c.listeners))
	for i, l := range c.listeners {
		listeners[i] = l.fn
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// Data returns the latest accepted result, or nil
func (c *Coordinator) Data() *flight.SearchResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

// Flights returns every one-way flight of the latest result
func (c *Coordinator) Flights() []flight.Flight {
	data := c.Data()
	if data == nil {
		return []flight.Flight{}
	}
	return data.AllFlights()
}

// ReturnFlights returns the combined itineraries of the latest result
func (c *Coordinator) ReturnFlights() []flight.ReturnFlight {
	data := c.Data()
	if data == nil || data.Combined == nil {
		return []flight.ReturnFlight{}
	}
	return data.Combined
}

// Tracker returns the progress log of the latest result
func (c *Coordinator) Tracker() []flight.TrackerStep {
	data := c.Data()
	if data == nil || data.Tracker == nil {
		return []flight.TrackerStep{}
	}
	return data.Tracker
}

// IsOK reports whether the latest result carries the ok result code
func (c *Coordinator) IsOK() bool {
	return c.Data().OK()
}

// LastUpdateSuccess reports whether the most recent refresh or delivery succeeded
func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSuccess
}

// LastError returns the error of the most recent failed refresh
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// JobID returns the job id results must carry to be accepted
func (c *Coordinator) JobID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobID
}

// NextInterval returns the delay drawn after the last successful trigger
func (c *Coordinator) NextInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextInterval
}

// State returns the current cycle state
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot is a point-in-time view for the HTTP API
type Snapshot struct {
	Name              string    `json:"name"`
	JobID             string    `json:"job_id"`
	State             string    `json:"state"`
	LastUpdateSuccess bool      `json:"last_update_success"`
	LastError         string    `json:"last_error,omitempty"`
	NextInterval      string    `json:"next_interval,omitempty"`
	TriggeredAt       time.Time `json:"triggered_at,omitzero"`
	ReceivedAt        time.Time `json:"received_at,omitzero"`
	Flights           int       `json:"flights"`
	ReturnFlights     int       `json:"return_flights"`
	OK                bool      `json:"ok"`
}

// Snapshot returns the coordinator's current status
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Name:              c.name,
		JobID:             c.jobID,
		State:             c.state.String(),
		LastUpdateSuccess: c.lastSuccess,
		TriggeredAt:       c.triggeredAt,
		ReceivedAt:        c.receivedAt,
		OK:                c.data.OK(),
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	if c.nextInterval > 0 {
		s.NextInterval = c.nextInterval.String()
	}
	if c.data != nil {
		s.Flights = len(c.data.AllFlights())
		s.ReturnFlights = len(c.data.Combined)
	}
	return s
}
