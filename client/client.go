// Package client is the Go SDK for the gateway: a websocket client with
// request/response correlation, event listeners, heartbeats, and
// automatic reconnection.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/realsync/gateway/internal/proto"
)

// State is the connection lifecycle state. StateError is terminal: a
// client that exhausted its reconnect attempts must be replaced.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateAuthenticated State = "authenticated"
	StateReconnecting  State = "reconnecting"
	StateError         State = "error"
)

var (
	ErrNotConnected   = errors.New("client: not connected")
	ErrClosed         = errors.New("client: closed")
	ErrRequestTimeout = errors.New("client: request timed out")
)

// ServerError is a protocol-level error response.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

// Options configure a Client. URL, APIKey, and UserToken are required.
type Options struct {
	URL       string
	APIKey    string
	UserToken string

	RequestTimeout       time.Duration // default 10s
	HeartbeatInterval    time.Duration // default 30s
	ReconnectDelay       time.Duration // default 3s
	MaxReconnectAttempts int           // default 5

	Logger *zerolog.Logger
}

func (o *Options) withDefaults() {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 3 * time.Second
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
}

type pendingCall struct {
	ch chan inbound
}

type inbound struct {
	RequestID string          `json:"requestId"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Event     json.RawMessage `json:"event"`
}

// Client is a gateway connection. All methods are safe for concurrent
// use.
type Client struct {
	opts Options
	log  *zerolog.Logger

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	pending  map[string]*pendingCall
	closed   bool
	loopDone chan struct{}

	listeners listenerRegistry
}

// New builds a client in the disconnected state. Call Connect to dial.
func New(opts Options) *Client {
	opts.withDefaults()
	return &Client{
		opts:    opts,
		log:     opts.Logger,
		state:   StateDisconnected,
		pending: make(map[string]*pendingCall),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the gateway and authenticates. On success the client is
// in StateAuthenticated with heartbeats running.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("client: connect from state %s", c.state)
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		c.mu.Lock()
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return err
	}

	if err := c.authenticate(ctx); err != nil {
		c.teardownConn()
		c.mu.Lock()
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Close shuts the client down. Pending requests fail and no reconnect is
// attempted.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.setStateLocked(StateDisconnected)
	c.failPendingLocked(ErrClosed)
	c.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client closed")
	}
	return nil
}

// dial opens the websocket and starts the read and heartbeat loops.
func (c *Client) dial(ctx context.Context) error {
	c.mu.Lock()
	url := c.opts.URL
	c.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.loopDone = make(chan struct{})
	c.setStateLocked(StateConnected)
	loopDone := c.loopDone
	c.mu.Unlock()

	go c.readLoop(conn, loopDone)
	go c.heartbeatLoop(loopDone)
	return nil
}

// authenticate performs the auth exchange with the stored credentials.
func (c *Client) authenticate(ctx context.Context) error {
	var resp proto.AuthResponse
	err := c.call(ctx, proto.TypeAuth, proto.AuthRequest{
		APIKey:    c.opts.APIKey,
		UserToken: c.opts.UserToken,
	}, &resp)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.setStateLocked(StateAuthenticated)
	c.mu.Unlock()
	return nil
}

// call sends one request and decodes the correlated response into out.
func (c *Client) call(ctx context.Context, msgType string, payload any, out any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	requestID := uuid.NewString()
	pc := &pendingCall{ch: make(chan inbound, 1)}
	c.pending[requestID] = pc
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
	}()

	wctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	err := wsjson.Write(wctx, conn, proto.Request{
		RequestID: requestID,
		Type:      msgType,
		Payload:   mustMarshal(payload),
	})
	if err != nil {
		return fmt.Errorf("client: send %s: %w", msgType, err)
	}

	select {
	case msg := <-pc.ch:
		if msg.Type == proto.TypeError {
			var se proto.Error
			if err := json.Unmarshal(msg.Payload, &se); err != nil {
				return fmt.Errorf("client: malformed error response: %w", err)
			}
			return &ServerError{Code: se.Code, Message: se.Message}
		}
		if out != nil {
			if err := json.Unmarshal(msg.Payload, out); err != nil {
				return fmt.Errorf("client: decode %s response: %w", msgType, err)
			}
		}
		return nil
	case <-wctx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s", ErrRequestTimeout, msgType)
	}
}

// readLoop delivers responses to pending calls and events to listeners
// until the connection fails, then hands off to the reconnect loop.
func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			c.onConnLost(conn, err)
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn().Err(err).Msg("malformed frame")
			continue
		}

		if msg.RequestID != "" {
			c.mu.Lock()
			pc, ok := c.pending[msg.RequestID]
			c.mu.Unlock()
			if ok {
				pc.ch <- msg
			}
			continue
		}

		if msg.Type == proto.TypeEvent {
			c.dispatchEvent(msg.Event)
		}
	}
}

// heartbeatLoop pings on the configured cadence. Every frame refreshes
// the server-side heartbeat, so pings only matter on idle connections.
func (c *Client) heartbeatLoop(done chan struct{}) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if _, err := c.Ping(context.Background()); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
			}
		}
	}
}

// onConnLost transitions to reconnecting unless the loss was a deliberate
// Close.
func (c *Client) onConnLost(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.failPendingLocked(ErrNotConnected)
	alreadyReconnecting := c.state == StateReconnecting
	c.setStateLocked(StateReconnecting)
	c.mu.Unlock()

	if alreadyReconnecting {
		return
	}
	c.log.Info().Err(cause).Msg("connection lost, reconnecting")
	go c.reconnectLoop()
}

// reconnectLoop retries with a fixed delay. Every successful dial is
// followed by a full re-auth: the server holds no session state across
// connections. Exhausting the attempts is terminal.
func (c *Client) reconnectLoop() {
	for attempt := 1; attempt <= c.opts.MaxReconnectAttempts; attempt++ {
		time.Sleep(c.opts.ReconnectDelay)

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
		err := c.dial(ctx)
		if err == nil {
			err = c.authenticate(ctx)
			if err != nil {
				c.teardownConn()
			}
		}
		cancel()

		if err == nil {
			c.log.Info().Int("attempt", attempt).Msg("reconnected")
			return
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
	}

	c.mu.Lock()
	c.setStateLocked(StateError)
	c.failPendingLocked(ErrNotConnected)
	c.mu.Unlock()
	c.log.Error().Msg("reconnect attempts exhausted")
}

func (c *Client) teardownConn() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

// failPendingLocked rejects all in-flight calls. Callers hold c.mu.
func (c *Client) failPendingLocked(err error) {
	for id, pc := range c.pending {
		select {
		case pc.ch <- inbound{Type: proto.TypeError, Payload: mustMarshal(proto.Error{
			Code:    proto.CodeInternalError,
			Message: err.Error(),
		})}:
		default:
		}
		delete(c.pending, id)
	}
}

func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.listeners.notifyState(s)
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// CreateRoom creates a room and joins the caller as host.
func (c *Client) CreateRoom(ctx context.Context, req CreateRoomRequest) (*CreateRoomResponse, error) {
	var resp CreateRoomResponse
	if err := c.call(ctx, proto.TypeCreateRoom, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JoinRoom joins an existing room.
func (c *Client) JoinRoom(ctx context.Context, req JoinRoomRequest) (*JoinRoomResponse, error) {
	var resp JoinRoomResponse
	if err := c.call(ctx, proto.TypeJoinRoom, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LeaveRoom leaves the current room.
func (c *Client) LeaveRoom(ctx context.Context) error {
	return c.call(ctx, proto.TypeLeaveRoom, struct{}{}, nil)
}

// ListRooms lists rooms visible to the caller's app.
func (c *Client) ListRooms(ctx context.Context, req ListRoomsRequest) ([]*Room, error) {
	var resp proto.ListRoomsResponse
	if err := c.call(ctx, proto.TypeListRooms, req, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

// UpdateState applies patches to the current room's shared state.
func (c *Client) UpdateState(ctx context.Context, patches []Patch) (*UpdateStateResponse, error) {
	var resp UpdateStateResponse
	if err := c.call(ctx, proto.TypeUpdateState, proto.UpdateStateRequest{Patches: patches}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetState reads the current room's shared state, optionally filtered to
// specific keys.
func (c *Client) GetState(ctx context.Context, keys ...string) (map[string]any, error) {
	var resp proto.GetStateResponse
	if err := c.call(ctx, proto.TypeGetState, proto.GetStateRequest{Keys: keys}, &resp); err != nil {
		return nil, err
	}
	return resp.State, nil
}

// Ping measures round-trip time to the gateway.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	var resp proto.PongResponse
	err := c.call(ctx, proto.TypePing, proto.PingRequest{Timestamp: start.UnixMilli()}, &resp)
	if err != nil {
		return 0, err
	}
	return time.Since(start), nil
}
