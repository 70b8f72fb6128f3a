package ha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// StatePublisher writes entity states through Home Assistant's REST API.
// The WebSocket API has no command for setting arbitrary states.
type StatePublisher struct {
	baseURL  string
	token    string
	http     *http.Client
	logger   *zap.Logger
	readOnly bool
}

// NewStatePublisher creates a publisher for the REST API rooted at baseURL
// (for example http://homeassistant.local:8123). In read-only mode writes are
// logged and skipped.
func NewStatePublisher(baseURL, token string, logger *zap.Logger, readOnly bool) *StatePublisher {
	return &StatePublisher{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		token:    token,
		http:     &http.Client{Timeout: 10 * time.Second},
		logger:   logger.Named("ha.rest"),
		readOnly: readOnly,
	}
}

type statePayload struct {
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// PublishState creates or updates entityID
func (p *StatePublisher) PublishState(ctx context.Context, entityID, state string, attributes map[string]any) error {
	if p.readOnly {
		p.logger.Info("READ-ONLY: Would publish state",
			zap.String("entity_id", entityID),
			zap.String("state", state))
		return nil
	}

	body, err := json.Marshal(statePayload{State: state, Attributes: attributes})
	if err != nil {
		return fmt.Errorf("encode state for %s: %w", entityID, err)
	}
	return p.do(ctx, http.MethodPost, entityID, body)
}

// RemoveState deletes entityID. A state that does not exist is not an error.
func (p *StatePublisher) RemoveState(ctx context.Context, entityID string) error {
	if p.readOnly {
		p.logger.Info("READ-ONLY: Would remove state", zap.String("entity_id", entityID))
		return nil
	}
	return p.do(ctx, http.MethodDelete, entityID, nil)
}

func (p *StatePublisher) do(ctx context.Context, method, entityID string, body []byte) error {
	endpoint := p.baseURL + "/api/states/" + url.PathEscape(entityID)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, entityID, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if method == http.MethodDelete && resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: unexpected status %d", method, entityID, resp.StatusCode)
	}
	return nil
}
