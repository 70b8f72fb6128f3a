// Package ha talks to Home Assistant: a WebSocket client for watching entities
// and calling services, and a REST publisher for writing sensor states.
package ha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 10 * time.Second
	maxReconnectBackoff   = 30 * time.Second
)

// ErrNotConnected is returned by commands issued while disconnected
var ErrNotConnected = errors.New("not connected to home assistant")

// HAClient is the WebSocket surface used by the bridge
type HAClient interface {
	Connect() error
	Disconnect() error
	IsConnected() bool
	GetState(entityID string) (*State, error)
	CallService(domain, service string, data map[string]any) error
	SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error)
}

// Ensure Client implements HAClient at compile time.
var _ HAClient = (*Client)(nil)

// Client is a Home Assistant WebSocket client. Subscriptions survive
// reconnects; they are dropped by Disconnect.
type Client struct {
	url            string
	token          string
	logger         *zap.Logger
	dialer         *websocket.Dialer
	requestTimeout time.Duration

	conn      *websocket.Conn
	connected bool
	reconnect bool
	ctx       context.Context
	cancel    context.CancelFunc
	connMu    sync.RWMutex
	writeMu   sync.Mutex

	msgID   int
	msgIDMu sync.Mutex

	pending   map[int]chan Message
	pendingMu sync.Mutex

	subs   *subscriberSet
	subsMu sync.Mutex
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithRequestTimeout bounds how long a command waits for its result
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithDialer replaces the WebSocket dialer
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// NewClient creates a client for the WebSocket API at url
func NewClient(url, token string, logger *zap.Logger, opts ...ClientOption) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		url:            url,
		token:          token,
		logger:         logger.Named("ha"),
		dialer:         &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		requestTimeout: defaultRequestTimeout,
		ctx:            ctx,
		cancel:         cancel,
		reconnect:      true,
		pending:        make(map[int]chan Message),
		subs:           newSubscriberSet(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials, authenticates and subscribes to state_changed events
func (c *Client) Connect() error {
	c.connMu.Lock()
	if c.connected {
		c.connMu.Unlock()
		return fmt.Errorf("already connected")
	}

	conn, err := c.authenticate()
	if err != nil {
		c.connMu.Unlock()
		return err
	}

	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.conn = conn
	c.connected = true
	c.reconnect = true
	ctx := c.ctx
	c.connMu.Unlock()

	c.logger.Info("Connected to Home Assistant", zap.String("url", c.url))
	go c.receiveMessages(ctx, conn)

	if _, err := c.send(&SubscribeEventsRequest{
		ID:        c.nextMsgID(),
		Type:      "subscribe_events",
		EventType: "state_changed",
	}); err != nil {
		c.logger.Warn("Failed to subscribe to state changes", zap.Error(err))
	}
	return nil
}

// authenticate runs the auth_required / auth / auth_ok handshake
func (c *Client) authenticate() (*websocket.Conn, error) {
	conn, _, err := c.dialer.Dial(c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	fail := func(err error) (*websocket.Conn, error) {
		_ = conn.Close()
		return nil, err
	}

	var hello Message
	if err := conn.ReadJSON(&hello); err != nil {
		return fail(fmt.Errorf("failed to read auth_required: %w", err))
	}
	if hello.Type != "auth_required" {
		return fail(fmt.Errorf("expected auth_required, got %s", hello.Type))
	}

	if err := conn.WriteJSON(AuthMessage{Type: "auth", AccessToken: c.token}); err != nil {
		return fail(fmt.Errorf("failed to send auth: %w", err))
	}

	var reply Message
	if err := conn.ReadJSON(&reply); err != nil {
		return fail(fmt.Errorf("failed to read auth response: %w", err))
	}
	switch reply.Type {
	case "auth_ok":
		return conn, nil
	case "auth_invalid":
		return fail(fmt.Errorf("authentication failed: invalid token"))
	default:
		return fail(fmt.Errorf("expected auth_ok, got %s", reply.Type))
	}
}

// Disconnect closes the connection, stops reconnecting and drops subscriptions
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.reconnect = false
	c.cancel()
	if !c.connected {
		return nil
	}
	c.connected = false

	if c.conn != nil {
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		_ = c.conn.Close()
		c.conn = nil
	}

	c.subsMu.Lock()
	c.subs = newSubscriberSet()
	c.subsMu.Unlock()

	c.logger.Info("Disconnected from Home Assistant")
	return nil
}

// IsConnected reports whether the socket is authenticated and open
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

func (c *Client) nextMsgID() int {
	c.msgIDMu.Lock()
	defer c.msgIDMu.Unlock()
	c.msgID++
	return c.msgID
}

// send writes req and waits for its result frame
func (c *Client) send(req request) (*Message, error) {
	c.connMu.RLock()
	conn := c.conn
	ctx := c.ctx
	connected := c.connected
	c.connMu.RUnlock()
	if !connected || conn == nil {
		return nil, ErrNotConnected
	}

	id := req.messageID()
	respChan := make(chan Message, 1)
	c.pendingMu.Lock()
	c.pending[id] = respChan
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	err := conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case resp := <-respChan:
		if resp.Success != nil && !*resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("HA error: %s - %s", resp.Error.Code, resp.Error.Message)
			}
			return nil, fmt.Errorf("request %d failed", id)
		}
		return &resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("timeout waiting for response to request %d", id)
	case <-ctx.Done():
		return nil, ErrNotConnected
	}
}

// receiveMessages routes results to waiting callers and events to subscribers
func (c *Client) receiveMessages(ctx context.Context, conn *websocket.Conn) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("Failed to read message", zap.Error(err))
			c.handleDisconnect(conn)
			return
		}

		if msg.Type == "event" {
			c.handleEvent(&msg)
			continue
		}

		if msg.ID > 0 {
			c.pendingMu.Lock()
			if ch, ok := c.pending[msg.ID]; ok {
				select {
				case ch <- msg:
				default:
					c.logger.Warn("Response channel full", zap.Int("msg_id", msg.ID))
				}
			}
			c.pendingMu.Unlock()
		}
	}
}

func (c *Client) handleEvent(msg *Message) {
	if msg.Event == nil || msg.Event.EventType != "state_changed" {
		return
	}

	var data StateChangedEvent
	if err := json.Unmarshal(msg.Event.Data, &data); err != nil {
		c.logger.Error("Failed to unmarshal state_changed event", zap.Error(err))
		return
	}

	c.subsMu.Lock()
	handlers := c.subs.handlers(data.EntityID)
	c.subsMu.Unlock()

	for _, handler := range handlers {
		handler(data.EntityID, data.OldState, data.NewState)
	}
}

// handleDisconnect marks the connection lost and starts reconnecting
func (c *Client) handleDisconnect(conn *websocket.Conn) {
	c.connMu.Lock()
	if c.conn != conn {
		c.connMu.Unlock()
		return
	}
	c.connected = false
	c.conn = nil
	_ = conn.Close()
	reconnect := c.reconnect
	c.cancel()
	c.connMu.Unlock()

	c.logger.Warn("Connection lost")
	if reconnect {
		go c.attemptReconnect()
	}
}

// attemptReconnect retries Connect with exponential backoff
func (c *Client) attemptReconnect() {
	backoff := time.Second
	for {
		time.Sleep(backoff)

		c.connMu.RLock()
		reconnect := c.reconnect
		c.connMu.RUnlock()
		if !reconnect {
			return
		}

		c.logger.Info("Attempting to reconnect...", zap.Duration("backoff", backoff))
		if err := c.Connect(); err != nil {
			c.logger.Error("Reconnection failed", zap.Error(err))
			backoff = min(backoff*2, maxReconnectBackoff)
			continue
		}
		c.logger.Info("Reconnected successfully")
		return
	}
}

// GetState fetches one entity's state
func (c *Client) GetState(entityID string) (*State, error) {
	resp, err := c.send(&GetStatesRequest{ID: c.nextMsgID(), Type: "get_states"})
	if err != nil {
		return nil, err
	}

	var states []*State
	if err := json.Unmarshal(resp.Result, &states); err != nil {
		return nil, fmt.Errorf("failed to unmarshal states: %w", err)
	}
	for _, state := range states {
		if state.EntityID == entityID {
			return state, nil
		}
	}
	return nil, fmt.Errorf("entity %s not found", entityID)
}

// CallService calls a Home Assistant service
func (c *Client) CallService(domain, service string, data map[string]any) error {
	_, err := c.send(&CallServiceRequest{
		ID:          c.nextMsgID(),
		Type:        "call_service",
		Domain:      domain,
		Service:     service,
		ServiceData: data,
	})
	return err
}

// SubscribeStateChanges calls handler for every state change of entityID
func (c *Client) SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error) {
	c.subsMu.Lock()
	subs := c.subs
	subID := subs.add(entityID, handler)
	c.subsMu.Unlock()

	return &funcSubscription{fn: func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		subs.remove(entityID, subID)
	}}, nil
}
