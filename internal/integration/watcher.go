package integration

import (
	"context"
	"fmt"

	"github.com/dpktjf/dpk-ek-scraper/internal/ha"

	"go.uber.org/zap"
)

// RefreshFunc triggers a manual refresh
type RefreshFunc func(ctx context.Context) error

// RefreshWatcher watches a Home Assistant helper and requests a refresh when
// it is pressed. An input_boolean is turned back off after it goes on; an
// input_button fires on every state change.
type RefreshWatcher struct {
	client   ha.HAClient
	entityID string
	refresh  RefreshFunc
	logger   *zap.Logger
	readOnly bool

	ctx          context.Context
	subscription ha.Subscription
}

// NewRefreshWatcher creates a watcher for entityID
func NewRefreshWatcher(client ha.HAClient, entityID string, refresh RefreshFunc, logger *zap.Logger, readOnly bool) *RefreshWatcher {
	return &RefreshWatcher{
		client:   client,
		entityID: entityID,
		refresh:  refresh,
		logger:   logger.Named("refresh").With(zap.String("entity_id", entityID)),
		readOnly: readOnly,
	}
}

// Start subscribes to the helper's state changes
func (w *RefreshWatcher) Start(ctx context.Context) error {
	switch ha.EntityDomain(w.entityID) {
	case "input_boolean", "input_button":
	default:
		return fmt.Errorf("refresh entity %q must be an input_boolean or input_button", w.entityID)
	}

	w.logger.Info("Starting refresh watcher", zap.Bool("read_only", w.readOnly))
	w.ctx = ctx

	sub, err := w.client.SubscribeStateChanges(w.entityID, w.handleChange)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", w.entityID, err)
	}
	w.subscription = sub
	return nil
}

// Stop removes the subscription
func (w *RefreshWatcher) Stop() {
	if w.subscription != nil {
		w.subscription.Unsubscribe()
		w.subscription = nil
	}
	w.logger.Info("Refresh watcher stopped")
}

func (w *RefreshWatcher) handleChange(entityID string, oldState, newState *ha.State) {
	if newState == nil {
		return
	}

	switch ha.EntityDomain(entityID) {
	case "input_boolean":
		// Only act when the helper goes from off to on
		if newState.State != "on" {
			return
		}
		if !w.readOnly {
			if err := ha.TurnOff(w.client, entityID); err != nil {
				w.logger.Error("Failed to turn refresh helper off", zap.Error(err))
			}
		} else {
			w.logger.Info("READ-ONLY: Would turn refresh helper off")
		}
	case "input_button":
		if newState.State == "unavailable" || newState.State == "unknown" {
			return
		}
		if oldState != nil && oldState.State == newState.State {
			return
		}
	default:
		return
	}

	w.logger.Info("Refresh requested from Home Assistant")
	if err := w.refresh(w.ctx); err != nil {
		w.logger.Warn("Manual refresh failed", zap.Error(err))
	}
}
