package sensor

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Writer publishes entity states to Home Assistant
type Writer interface {
	PublishState(ctx context.Context, entityID, state string, attributes map[string]any) error
	RemoveState(ctx context.Context, entityID string) error
}

// BuildEntities creates one sensor per one-way flight and one per combined
// flight present in src right now. Later results do not add or remove
// entities; flights that disappear become unavailable.
func BuildEntities(entryID string, src Source) []Entity {
	data := src.Data()
	if data == nil {
		return []Entity{}
	}
	entities := make([]Entity, 0, len(data.Outbound)+len(data.Return)+len(data.Combined))
	// A flight id listed twice resolves to its first occurrence, so it gets
	// a single sensor
	seen := make(map[string]bool)
	for _, f := range data.AllFlights() {
		if seen[f.ID] {
			continue
		}
		seen[f.ID] = true
		entities = append(entities, NewFlightSensor(src, entryID, f.ID))
	}
	seenCombined := make(map[string]bool)
	for _, f := range data.Combined {
		if seenCombined[f.ID] {
			continue
		}
		seenCombined[f.ID] = true
		entities = append(entities, NewReturnFlightSensor(src, entryID, f.ID))
	}
	return entities
}

// Platform keeps one entry's entities in sync with its coordinator
type Platform struct {
	entryID  string
	source   Source
	writer   Writer
	logger   *zap.Logger
	entities []Entity

	mu       sync.Mutex
	ctx      context.Context
	remove   func()
	unloaded bool
}

// SetupPlatform builds the entry's entities, writes their initial states and
// rewrites them on every coordinator notification until Unload
func SetupPlatform(ctx context.Context, entryID string, src Source, w Writer, logger *zap.Logger) *Platform {
	p := &Platform{
		entryID:  entryID,
		source:   src,
		writer:   w,
		logger:   logger.Named("sensor").With(zap.String("entry", entryID)),
		entities: BuildEntities(entryID, src),
		ctx:      context.WithoutCancel(ctx),
	}

	p.logger.Info("Setting up sensor platform", zap.Int("entities", len(p.entities)))
	p.remove = src.AddListener(p.handleUpdate)

	if err := p.WriteAll(ctx); err != nil {
		p.logger.Warn("Failed to write initial sensor states", zap.Error(err))
	}
	return p
}

// Entities returns the platform's sensors
func (p *Platform) Entities() []Entity {
	out := make([]Entity, len(p.entities))
	copy(out, p.entities)
	return out
}

// States renders every entity's current state
func (p *Platform) States() []State {
	states := make([]State, 0, len(p.entities))
	for _, e := range p.entities {
		states = append(states, StateOf(e))
	}
	return states
}

func (p *Platform) handleUpdate() {
	p.mu.Lock()
	ctx := p.ctx
	unloaded := p.unloaded
	p.mu.Unlock()
	if unloaded {
		return
	}

	if err := p.WriteAll(ctx); err != nil {
		p.logger.Warn("Failed to write sensor states", zap.Error(err))
	}
}

// WriteAll publishes every entity's state, continuing past failures
func (p *Platform) WriteAll(ctx context.Context) error {
	var errs []error
	for _, state := range p.States() {
		if err := p.writer.PublishState(ctx, state.EntityID, state.State, state.Attributes); err != nil {
			errs = append(errs, err)
			continue
		}
		p.logger.Debug("Wrote sensor state",
			zap.String("entity_id", state.EntityID),
			zap.String("state", state.State))
	}
	return errors.Join(errs...)
}

// Unload stops following the coordinator and removes the entities from
// Home Assistant
func (p *Platform) Unload(ctx context.Context) error {
	p.mu.Lock()
	if p.unloaded {
		p.mu.Unlock()
		return nil
	}
	p.unloaded = true
	remove := p.remove
	p.remove = nil
	p.mu.Unlock()

	if remove != nil {
		remove()
	}

	var errs []error
	for _, e := range p.entities {
		if err := p.writer.RemoveState(ctx, e.EntityID()); err != nil {
			errs = append(errs, err)
		}
	}
	p.logger.Info("Sensor platform unloaded", zap.Int("entities", len(p.entities)))
	return errors.Join(errs...)
}
