package ha

import (
	"encoding/json"
	"sync"
	"time"
)

// Message is the envelope of every WebSocket frame exchanged with Home Assistant
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	Event   *Event          `json:"event,omitempty"`
}

// Error is an error response from Home Assistant
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthMessage is the authentication request
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

// Event is an event pushed on a subscription
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChangedEvent is the payload of a state_changed event
type StateChangedEvent struct {
	EntityID string `json:"entity_id"`
	NewState *State `json:"new_state"`
	OldState *State `json:"old_state"`
}

// State is an entity state as Home Assistant reports it
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// request is any command that carries a message id
type request interface {
	messageID() int
}

// CallServiceRequest is a call_service command
type CallServiceRequest struct {
	ID          int            `json:"id"`
	Type        string         `json:"type"`
	Domain      string         `json:"domain"`
	Service     string         `json:"service"`
	ServiceData map[string]any `json:"service_data,omitempty"`
}

func (r *CallServiceRequest) messageID() int { return r.ID }

// GetStatesRequest is a get_states command
type GetStatesRequest struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
}

func (r *GetStatesRequest) messageID() int { return r.ID }

// SubscribeEventsRequest is a subscribe_events command
type SubscribeEventsRequest struct {
	ID        int    `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
}

func (r *SubscribeEventsRequest) messageID() int { return r.ID }

// StateChangeHandler is called for every state change of a watched entity
type StateChangeHandler func(entityID string, oldState, newState *State)

// Subscription is an active per-entity watch
type Subscription interface {
	Unsubscribe()
}

// subscriberEntry holds a handler with its subscription id
type subscriberEntry struct {
	subID   int
	handler StateChangeHandler
}

// subscriberSet tracks handlers per entity. It is shared by the real and
// mock clients.
type subscriberSet struct {
	entries map[string][]subscriberEntry
	nextID  int
}

func newSubscriberSet() *subscriberSet {
	return &subscriberSet{entries: make(map[string][]subscriberEntry)}
}

func (s *subscriberSet) add(entityID string, handler StateChangeHandler) int {
	s.nextID++
	s.entries[entityID] = append(s.entries[entityID], subscriberEntry{subID: s.nextID, handler: handler})
	return s.nextID
}

func (s *subscriberSet) remove(entityID string, subID int) {
	entries := s.entries[entityID]
	for i, entry := range entries {
		if entry.subID == subID {
			s.entries[entityID] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(s.entries[entityID]) == 0 {
		delete(s.entries, entityID)
	}
}

func (s *subscriberSet) handlers(entityID string) []StateChangeHandler {
	entries := s.entries[entityID]
	out := make([]StateChangeHandler, len(entries))
	for i, entry := range entries {
		out[i] = entry.handler
	}
	return out
}

// funcSubscription runs an unsubscribe callback once
type funcSubscription struct {
	once sync.Once
	fn   func()
}

func (s *funcSubscription) Unsubscribe() {
	s.once.Do(s.fn)
}
