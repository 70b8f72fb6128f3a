package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dpktjf/dpk-ek-scraper/internal/clock"
	"github.com/dpktjf/dpk-ek-scraper/internal/coordinator"
	"github.com/dpktjf/dpk-ek-scraper/internal/flight"
	"github.com/dpktjf/dpk-ek-scraper/internal/ha"
	"github.com/dpktjf/dpk-ek-scraper/internal/metrics"
	"github.com/dpktjf/dpk-ek-scraper/internal/scraper"
	"github.com/dpktjf/dpk-ek-scraper/internal/search"
	"github.com/dpktjf/dpk-ek-scraper/internal/sensor"
	"github.com/dpktjf/dpk-ek-scraper/internal/store"

	"go.uber.org/zap"
)

var (
	// ErrAlreadyConfigured is returned when an entry repeats the identity of
	// an existing one
	ErrAlreadyConfigured = errors.New("search already configured")
	// ErrUnknownEntry is returned for an entry id that is not set up
	ErrUnknownEntry = errors.New("unknown entry")
	// ErrUnknownWebhook is returned for a webhook id no entry registered
	ErrUnknownWebhook = errors.New("unknown webhook")
	// ErrNotReady is returned when the scraper rejects the entry's credentials
	// during setup
	ErrNotReady = errors.New("entry not ready")
)

// CallbackURLFunc builds the webhook address handed to the scraper
type CallbackURLFunc func(webhookID string) string

// Manager sets up, reloads and unloads entries
type Manager struct {
	client      scraper.API
	writer      sensor.Writer
	callbackURL CallbackURLFunc

	haClient    ha.HAClient
	history     store.History
	cache       *store.HandoffCache
	metrics     *metrics.Metrics
	clock       clock.Clock
	minInterval time.Duration
	maxInterval time.Duration
	logger      *zap.Logger
	readOnly    bool

	registry *Registry

	// serializes setup, reload and unload
	lifecycleMu sync.Mutex
}

// Option configures a Manager
type Option func(*Manager)

// WithHAClient enables refresh helpers and failure notifications
func WithHAClient(c ha.HAClient) Option {
	return func(m *Manager) { m.haClient = c }
}

// WithHistory records accepted results and seeds new coordinators
func WithHistory(h store.History) Option {
	return func(m *Manager) {
		if h != nil {
			m.history = h
		}
	}
}

// WithHandoffCache keeps results across reloads
func WithHandoffCache(c *store.HandoffCache) Option {
	return func(m *Manager) { m.cache = c }
}

// WithMetrics records webhook outcomes and coordinator activity
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock sets the clock coordinators schedule on
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithIntervalBounds sets the re-trigger interval range
func WithIntervalBounds(minInterval, maxInterval time.Duration) Option {
	return func(m *Manager) {
		m.minInterval = minInterval
		m.maxInterval = maxInterval
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithReadOnly stops the manager from writing to Home Assistant helpers
func WithReadOnly(readOnly bool) Option {
	return func(m *Manager) { m.readOnly = readOnly }
}

// NewManager creates a manager. writer receives sensor states; callbackURL
// maps an entry's webhook id to the address the scraper posts results to.
func NewManager(client scraper.API, writer sensor.Writer, callbackURL CallbackURLFunc, opts ...Option) (*Manager, error) {
	if client == nil {
		return nil, errors.New("scraper client is required")
	}
	if writer == nil {
		return nil, errors.New("sensor writer is required")
	}
	if callbackURL == nil {
		return nil, errors.New("callback url builder is required")
	}

	m := &Manager{
		client:      client,
		writer:      writer,
		callbackURL: callbackURL,
		history:     store.Nop{},
		clock:       clock.NewRealClock(),
		minInterval: coordinator.DefaultMinInterval,
		maxInterval: coordinator.DefaultMaxInterval,
		logger:      zap.NewNop(),
		registry:    NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("integration")
	return m, nil
}

// Registry exposes the set-up entries
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Entries returns the set-up entries ordered by id
func (m *Manager) Entries() []Entry {
	runtimes := m.registry.List()
	out := make([]Entry, 0, len(runtimes))
	for _, rt := range runtimes {
		out = append(out, rt.Entry)
	}
	return out
}

// LoadAll sets up every entry. Failures are logged and joined; the remaining
// entries are still set up.
func (m *Manager) LoadAll(ctx context.Context, entries []Entry) error {
	var errs []error
	for _, e := range entries {
		if _, err := m.Setup(ctx, e); err != nil {
			m.logger.Error("Failed to set up entry", zap.String("entry", e.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("entry %q: %w", e.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Setup validates entry, builds its coordinator and sensors and runs the
// first refresh. The runtime outlives ctx; only Unload stops it.
func (m *Manager) Setup(ctx context.Context, entry Entry) (*Runtime, error) {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	return m.setupLocked(ctx, entry)
}

func (m *Manager) setupLocked(ctx context.Context, entry Entry) (*Runtime, error) {
	entry = entry.normalize(m.clock.Now())
	cfg := entry.Effective(m.clock.Now())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, exists := m.registry.Get(entry.ID); exists {
		return nil, fmt.Errorf("%w: entry id %q", ErrAlreadyConfigured, entry.ID)
	}
	if other, exists := m.registry.findKey(cfg.Key()); exists {
		return nil, fmt.Errorf("%w: %s matches entry %q", ErrAlreadyConfigured, cfg.JobID(), other.Entry.ID)
	}

	logger := m.logger.With(zap.String("entry", entry.ID))
	logger.Info("Setting up entry",
		zap.String("title", entry.Title),
		zap.String("job_id", cfg.JobID()),
		zap.String("webhook_id", entry.WebhookID))

	opts := []coordinator.Option{
		coordinator.WithName(entry.ID),
		coordinator.WithClock(m.clock),
		coordinator.WithIntervalBounds(m.minInterval, m.maxInterval),
		coordinator.WithLogger(m.logger),
		coordinator.WithMetrics(m.metrics),
	}
	if seed := m.seed(ctx, cfg.JobID(), logger); seed != nil {
		opts = append(opts, coordinator.WithInitialData(seed))
	}
	coord, err := coordinator.New(m.client, cfg, m.callbackURL(entry.WebhookID), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rt := &Runtime{
		Entry:       entry,
		Search:      cfg,
		Coordinator: coord,
		cancel:      cancel,
	}

	// The runtime is complete before it is registered: readers of the
	// registry never see it half built
	rt.Platform = sensor.SetupPlatform(runCtx, entry.ID, coord, m.writer, m.logger)
	if m.haClient != nil {
		rt.removeNotification = m.watchFailures(rt)
		if entry.RefreshEntity != "" {
			w := NewRefreshWatcher(m.haClient, entry.RefreshEntity, coord.RequestRefresh, logger, m.readOnly)
			if err := w.Start(runCtx); err != nil {
				logger.Warn("Refresh helper not watched", zap.Error(err))
			} else {
				rt.watcher = w
			}
		}
	}

	// Registered before the first trigger so the scraper's callback finds it
	m.registry.add(rt)

	if err := coord.Start(runCtx); err != nil {
		if errors.Is(err, scraper.ErrAuthentication) {
			m.registry.remove(entry.ID)
			m.metrics.Forget(entry.ID)
			if terr := m.teardown(ctx, rt); terr != nil {
				logger.Warn("Rollback after rejected credentials was incomplete", zap.Error(terr))
			}
			return nil, fmt.Errorf("%w: %w", ErrNotReady, err)
		}
		logger.Warn("First refresh failed, entry set up anyway", zap.Error(err))
	}

	logger.Info("Entry set up", zap.Int("entities", len(rt.Platform.Entities())))
	return rt, nil
}

// seed looks for a result to start the coordinator with: first the hand-off
// cache, then the history store
func (m *Manager) seed(ctx context.Context, jobID string, logger *zap.Logger) *flight.SearchResult {
	if m.cache != nil {
		if result, ok := m.cache.Get(jobID); ok {
			logger.Debug("Seeding coordinator from hand-off cache")
			return result
		}
	}
	result, err := m.history.Latest(ctx, jobID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Warn("Failed to read result history", zap.Error(err))
		}
		return nil
	}
	logger.Debug("Seeding coordinator from result history")
	return result
}

// watchFailures raises a persistent notification while the entry's updates
// fail and dismisses it once they recover
func (m *Manager) watchFailures(rt *Runtime) func() {
	notificationID := fmt.Sprintf("%s_%s", sensor.Domain, rt.Entry.ID)
	var failing atomic.Bool
	coord := rt.Coordinator
	logger := m.logger.With(zap.String("entry", rt.Entry.ID))

	return coord.AddListener(func() {
		if coord.LastUpdateSuccess() {
			if !failing.CompareAndSwap(true, false) {
				return
			}
			if m.readOnly {
				logger.Info("READ-ONLY: Would dismiss failure notification")
				return
			}
			if err := ha.DismissNotification(m.haClient, notificationID); err != nil {
				logger.Warn("Failed to dismiss notification", zap.Error(err))
			}
			return
		}

		if !failing.CompareAndSwap(false, true) {
			return
		}
		msg := fmt.Sprintf("Updating %s failed: %v", rt.Entry.Title, coord.LastError())
		if m.readOnly {
			logger.Info("READ-ONLY: Would raise failure notification", zap.String("message", msg))
			return
		}
		if err := ha.CreateNotification(m.haClient, notificationID, "Flight scraper", msg); err != nil {
			logger.Warn("Failed to raise notification", zap.Error(err))
		}
	})
}

// Unload stops the entry and removes its sensors
func (m *Manager) Unload(ctx context.Context, entryID string) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	return m.unloadLocked(ctx, entryID)
}

func (m *Manager) unloadLocked(ctx context.Context, entryID string) error {
	rt, ok := m.registry.remove(entryID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEntry, entryID)
	}
	m.logger.Info("Unloading entry", zap.String("entry", entryID))

	err := m.teardown(ctx, rt)
	if m.cache != nil {
		m.cache.Put(rt.Coordinator.Data())
	}
	m.metrics.Forget(entryID)
	return err
}

// teardown stops everything a runtime started and removes its sensors
func (m *Manager) teardown(ctx context.Context, rt *Runtime) error {
	if rt.watcher != nil {
		rt.watcher.Stop()
	}
	if rt.removeNotification != nil {
		rt.removeNotification()
	}
	rt.Coordinator.Stop()
	rt.cancel()

	if rt.Platform != nil {
		if err := rt.Platform.Unload(ctx); err != nil {
			return fmt.Errorf("failed to remove sensors: %w", err)
		}
	}
	return nil
}

// UpdateOptions merges opts into the entry's options and reloads it
func (m *Manager) UpdateOptions(ctx context.Context, entryID string, opts search.Options) (*Runtime, error) {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	rt, ok := m.registry.Get(entryID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntry, entryID)
	}
	next := rt.Entry
	next.Options = rt.Entry.Options.Merge(opts)
	return m.reloadLocked(ctx, rt, next)
}

// Reload tears the entry down and sets it up again with its current entry
func (m *Manager) Reload(ctx context.Context, entryID string) (*Runtime, error) {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	rt, ok := m.registry.Get(entryID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntry, entryID)
	}
	return m.reloadLocked(ctx, rt, rt.Entry)
}

func (m *Manager) reloadLocked(ctx context.Context, rt *Runtime, next Entry) (*Runtime, error) {
	cfg := next.Effective(m.clock.Now())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if other, exists := m.registry.findKey(cfg.Key()); exists && other.Entry.ID != rt.Entry.ID {
		return nil, fmt.Errorf("%w: %s matches entry %q", ErrAlreadyConfigured, cfg.JobID(), other.Entry.ID)
	}

	m.logger.Info("Reloading entry", zap.String("entry", rt.Entry.ID))
	if err := m.unloadLocked(ctx, rt.Entry.ID); err != nil {
		m.logger.Warn("Unload during reload was incomplete", zap.Error(err))
	}
	return m.setupLocked(ctx, next)
}

// Refresh triggers a manual refresh of one entry
func (m *Manager) Refresh(ctx context.Context, entryID string) error {
	rt, ok := m.registry.Get(entryID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEntry, entryID)
	}
	return rt.Coordinator.RequestRefresh(ctx)
}

// Fetch polls the scraper synchronously and accepts the result the way a
// webhook delivery would
func (m *Manager) Fetch(ctx context.Context, entryID string) error {
	rt, ok := m.registry.Get(entryID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEntry, entryID)
	}
	if err := rt.Coordinator.FetchNow(ctx); err != nil {
		return err
	}
	m.record(ctx, rt, rt.Coordinator.Data())
	return nil
}

// record keeps an accepted result for hand-off and history
func (m *Manager) record(ctx context.Context, rt *Runtime, result *flight.SearchResult) {
	if m.cache != nil {
		m.cache.Put(result)
	}
	if err := m.history.Save(ctx, rt.Entry.ID, result); err != nil {
		m.logger.Warn("Failed to record result history",
			zap.String("entry", rt.Entry.ID),
			zap.Error(err))
	}
}

// HandleWebhook decodes a scraper callback and offers it to every entry
// registered under the webhook. Entries tracking another job discard it; a
// result no entry accepts is reported as not accepted without an error.
func (m *Manager) HandleWebhook(ctx context.Context, webhookID string, body []byte) (accepted bool, err error) {
	runtimes := m.registry.ByWebhook(webhookID)
	if len(runtimes) == 0 {
		m.metrics.IncWebhook(metrics.WebhookUnknown)
		return false, fmt.Errorf("%w: %q", ErrUnknownWebhook, webhookID)
	}

	result, err := flight.DecodeBytes(body)
	if err != nil {
		m.metrics.IncWebhook(metrics.WebhookMalformed)
		return false, err
	}

	for _, rt := range runtimes {
		if rt.Coordinator.JobID() != result.JobID {
			continue
		}
		ok, err := rt.Coordinator.HandleWebhook(result)
		if err != nil {
			m.metrics.IncWebhook(metrics.WebhookMalformed)
			return false, err
		}
		if ok {
			accepted = true
			m.record(ctx, rt, result)
		}
	}

	if !accepted {
		m.logger.Warn("Discarding webhook result no entry is tracking",
			zap.String("webhook_id", webhookID),
			zap.String("job_id", result.JobID),
			zap.Int("entries", len(runtimes)))
		m.metrics.IncWebhook(metrics.WebhookMismatch)
		return false, nil
	}
	m.metrics.IncWebhook(metrics.WebhookAccepted)
	return true, nil
}

// States returns the current sensor states of every entry
func (m *Manager) States() []sensor.State {
	var out []sensor.State
	for _, rt := range m.registry.List() {
		if rt.Platform != nil {
			out = append(out, rt.Platform.States()...)
		}
	}
	return out
}

// Close unloads every entry
func (m *Manager) Close(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	var errs []error
	for _, rt := range m.registry.List() {
		if err := m.unloadLocked(ctx, rt.Entry.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
