package ha

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ServiceCall records a service call for testing
type ServiceCall struct {
	Domain  string
	Service string
	Data    map[string]any
	Time    time.Time
}

// MockClient implements HAClient in memory for tests
type MockClient struct {
	states   map[string]*State
	statesMu sync.RWMutex

	subs   *subscriberSet
	subsMu sync.Mutex

	connected bool
	connMu    sync.RWMutex

	serviceCalls []ServiceCall
	callErr      error
	callsMu      sync.Mutex
}

// Ensure MockClient implements HAClient at compile time.
var _ HAClient = (*MockClient)(nil)

// NewMockClient creates a disconnected mock client
func NewMockClient() *MockClient {
	return &MockClient{
		states: make(map[string]*State),
		subs:   newSubscriberSet(),
	}
}

// Connect simulates connecting
func (m *MockClient) Connect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.connected {
		return fmt.Errorf("already connected")
	}
	m.connected = true
	return nil
}

// Disconnect simulates disconnecting and drops subscriptions
func (m *MockClient) Disconnect() error {
	m.connMu.Lock()
	m.connected = false
	m.connMu.Unlock()

	m.subsMu.Lock()
	m.subs = newSubscriberSet()
	m.subsMu.Unlock()
	return nil
}

// IsConnected returns the simulated connection status
func (m *MockClient) IsConnected() bool {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.connected
}

// GetState returns a state set with SetState
func (m *MockClient) GetState(entityID string) (*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()
	state, ok := m.states[entityID]
	if !ok {
		return nil, fmt.Errorf("entity %s not found", entityID)
	}
	return state, nil
}

// CallService records the call. Toggle services update the target's state.
func (m *MockClient) CallService(domain, service string, data map[string]any) error {
	m.callsMu.Lock()
	m.serviceCalls = append(m.serviceCalls, ServiceCall{
		Domain:  domain,
		Service: service,
		Data:    data,
		Time:    time.Now(),
	})
	err := m.callErr
	m.callsMu.Unlock()
	if err != nil {
		return err
	}

	entityID, _ := data["entity_id"].(string)
	switch {
	case entityID == "":
	case service == "turn_on":
		m.SetState(entityID, "on", nil)
	case service == "turn_off":
		m.SetState(entityID, "off", nil)
	}
	return nil
}

// SubscribeStateChanges registers handler for entityID
func (m *MockClient) SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error) {
	m.subsMu.Lock()
	subs := m.subs
	subID := subs.add(entityID, handler)
	m.subsMu.Unlock()

	return &funcSubscription{fn: func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		subs.remove(entityID, subID)
	}}, nil
}

// SetState stores a state and notifies subscribers. Nil attributes keep the
// previous ones.
func (m *MockClient) SetState(entityID, value string, attributes map[string]any) {
	m.statesMu.Lock()
	oldState := m.states[entityID]
	if attributes == nil {
		attributes = map[string]any{}
		if oldState != nil {
			attributes = oldState.Attributes
		}
	}
	now := time.Now()
	newState := &State{
		EntityID:    entityID,
		State:       value,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
	m.states[entityID] = newState
	m.statesMu.Unlock()

	m.subsMu.Lock()
	handlers := m.subs.handlers(entityID)
	m.subsMu.Unlock()
	for _, handler := range handlers {
		handler(entityID, oldState, newState)
	}
}

// SetCallError makes every following CallService fail with err
func (m *MockClient) SetCallError(err error) {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.callErr = err
}

// GetServiceCalls returns all recorded service calls
func (m *MockClient) GetServiceCalls() []ServiceCall {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	calls := make([]ServiceCall, len(m.serviceCalls))
	copy(calls, m.serviceCalls)
	return calls
}

// ClearServiceCalls clears the service call history
func (m *MockClient) ClearServiceCalls() {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.serviceCalls = nil
}

// PublishedState is a state written through MockPublisher
type PublishedState struct {
	State      string
	Attributes map[string]any
}

// MockPublisher records published and removed states in memory
type MockPublisher struct {
	mu      sync.Mutex
	states  map[string]PublishedState
	writes  int
	removed []string
	err     error
}

// NewMockPublisher creates an empty MockPublisher
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{states: make(map[string]PublishedState)}
}

// PublishState records the state
func (p *MockPublisher) PublishState(_ context.Context, entityID, state string, attributes map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.writes++
	p.states[entityID] = PublishedState{State: state, Attributes: attributes}
	return nil
}

// RemoveState forgets the state
func (p *MockPublisher) RemoveState(_ context.Context, entityID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	delete(p.states, entityID)
	p.removed = append(p.removed, entityID)
	return nil
}

// SetError makes every following call fail with err
func (p *MockPublisher) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// State returns the last published state of entityID
func (p *MockPublisher) State(entityID string) (PublishedState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.states[entityID]
	return s, ok
}

// EntityIDs returns every entity currently published
func (p *MockPublisher) EntityIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.states))
	for id := range p.states {
		ids = append(ids, id)
	}
	return ids
}

// Writes returns the number of successful PublishState calls
func (p *MockPublisher) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

// Removed returns the entity ids passed to RemoveState
func (p *MockPublisher) Removed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.removed))
	copy(out, p.removed)
	return out
}
