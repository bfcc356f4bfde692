// Package client is an event-driven game client. It connects to a game
// server, sends joins and point placements, and delivers every decoded event
// to a registered handler. It supports optional auto-reconnect, after which
// the last join is sent again.
package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/dotgame/event"
	"github.com/cyberinferno/dotgame/xpacket"
)

var (
	ErrClosed           = errors.New("client is closed")
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected or connecting")
)

// ConnectionState represents the current state of the connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected and not attempting to connect
	Connecting                          // Connection attempt in progress
	Connected                           // Successfully connected
	Reconnecting                        // Waiting to redial (AutoReconnect only)
	Closed                              // Client has been closed and will not reconnect
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectionStateEvent is emitted when the connection state changes.
type ConnectionStateEvent struct {
	State     ConnectionState
	Address   string
	Timestamp time.Time
	Error     error // Non-nil if the change was caused by an error
}

// ErrorEvent is emitted for read, write, decode and dial errors.
type ErrorEvent struct {
	Error     error
	Timestamp time.Time
}

// EventHandler receives decoded server events. It runs on the read goroutine,
// one event at a time and in arrival order; a slow handler delays the next
// event.
type EventHandler func(ev event.Event)

// ConnectionStateHandler is called on state changes from its own goroutine.
type ConnectionStateHandler func(ev ConnectionStateEvent)

// ErrorHandler is called on errors from its own goroutine.
type ErrorHandler func(ev ErrorEvent)

// Config holds client settings.
type Config struct {
	// Address is the game server's "host:port".
	Address string
	// AutoReconnect redials after the connection drops and re-sends the last
	// join.
	AutoReconnect bool
	// ReconnectInterval is the delay between reconnection attempts.
	ReconnectInterval time.Duration
	// ReadBufferSize is the size of each socket read.
	ReadBufferSize int
	// MaxPacketBody caps the body length accepted from the server; 0 selects
	// xpacket.MaxBody.
	MaxPacketBody int
	// WriteTimeout bounds a single write; 0 means no timeout.
	WriteTimeout time.Duration
	// ConnectionTimeout bounds each dial.
	ConnectionTimeout time.Duration
}

// DefaultConfig returns a Config for address with AutoReconnect off.
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		ReconnectInterval: 2 * time.Second,
		ReadBufferSize:    xpacket.DefaultReadBufferSize,
		WriteTimeout:      5 * time.Second,
		ConnectionTimeout: 5 * time.Second,
	}
}

// Client is safe for concurrent use.
type Client struct {
	config Config
	conn   net.Conn
	state  ConnectionState
	// lastJoin is re-sent after every reconnect until Leave.
	lastJoin *event.Event

	onEvent           EventHandler
	onConnectionState ConnectionStateHandler
	onError           ErrorHandler

	mu            sync.RWMutex
	writeMu       sync.Mutex
	stopChan      chan struct{}
	reconnectChan chan struct{}
	reconnectOnce sync.Once
	wg            sync.WaitGroup
	closed        bool
}

// New creates a client in the Disconnected state.
func New(config Config) *Client {
	return &Client{
		config:        config,
		state:         Disconnected,
		stopChan:      make(chan struct{}),
		reconnectChan: make(chan struct{}, 1),
	}
}

// OnEvent registers the handler for server events, replacing any previous
// one.
func (c *Client) OnEvent(handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = handler
}

// OnConnectionState registers the handler for state changes.
func (c *Client) OnConnectionState(handler ConnectionStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectionState = handler
}

// OnError registers the handler for errors.
func (c *Client) OnError(handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// Connect dials the server and starts the read loop.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	return c.connect()
}

// Disconnect closes the current connection without closing the client;
// Connect may be called again. No reconnect follows.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	err := conn.Close()
	c.setState(Disconnected, nil)
	return err
}

// Close shuts down the connection and all goroutines. The client cannot be
// reused. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	close(c.stopChan)
	c.wg.Wait()

	c.setState(Closed, nil)
	return nil
}

// Join announces username and a requested color ("" lets the server pick).
// The join is remembered and re-sent after a reconnect.
func (c *Client) Join(username, color string) error {
	ev := event.Connected(username, color)

	c.mu.Lock()
	c.lastJoin = &ev
	c.mu.Unlock()

	return c.Send(ev)
}

// Place sends a point at (x, y).
func (c *Client) Place(x, y int) error {
	return c.Send(event.Placed(x, y))
}

// Leave tells the server the player is leaving and disconnects. The last
// join is forgotten.
func (c *Client) Leave() error {
	c.mu.Lock()
	username := ""
	if c.lastJoin != nil {
		username = c.lastJoin.Username
	}
	c.lastJoin = nil
	c.mu.Unlock()

	sendErr := c.Send(event.Disconnected("", username))
	return errors.Join(sendErr, c.Disconnect())
}

// Send encodes ev and writes it as one packet.
func (c *Client) Send(ev event.Event) error {
	data, err := xpacket.EncodeEvent(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Kind, err)
	}

	c.mu.RLock()
	conn := c.conn
	state := c.state
	c.mu.RUnlock()

	if conn == nil || state != Connected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}
	}

	if _, err := conn.Write(data); err != nil {
		c.emitError(err)
		c.connectionLost(conn, err)
		return err
	}

	return nil
}

// GetState returns the current connection state.
func (c *Client) GetState() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether the client is in the Connected state.
func (c *Client) IsConnected() bool {
	return c.GetState() == Connected
}

func (c *Client) connect() error {
	c.setState(Connecting, nil)

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.Dial("tcp", c.config.Address)
	if err != nil {
		c.setState(Disconnected, err)
		c.emitError(err)
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	join := c.lastJoin
	c.mu.Unlock()

	c.setState(Connected, nil)

	c.wg.Add(1)
	go c.readLoop(conn)

	if c.config.AutoReconnect {
		c.reconnectOnce.Do(func() {
			c.wg.Add(1)
			go c.reconnectHandler()
		})
	}

	if join != nil {
		if err := c.Send(*join); err != nil {
			return fmt.Errorf("rejoin as %s: %w", join.Username, err)
		}
	}

	return nil
}

func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()

	reader := xpacket.NewReader(conn, c.config.ReadBufferSize, c.config.MaxPacketBody)
	for {
		ev, err := reader.ReadEvent()
		if err != nil {
			if xpacket.IsMalformed(err) {
				c.emitError(err)
				continue
			}
			if c.isClosed() || !c.isCurrent(conn) {
				return
			}
			c.emitError(err)
			c.connectionLost(conn, err)
			return
		}

		c.emitEvent(ev)
	}
}

// connectionLost retires conn if it is still the live connection and either
// schedules a reconnect or settles in Disconnected.
func (c *Client) connectionLost(conn net.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	_ = conn.Close()
	c.conn = nil
	c.mu.Unlock()

	if c.config.AutoReconnect && !c.isClosed() {
		c.setState(Reconnecting, cause)
		select {
		case c.reconnectChan <- struct{}{}:
		default:
		}
		return
	}

	c.setState(Disconnected, cause)
}

func (c *Client) reconnectHandler() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		case <-c.reconnectChan:
		}

		select {
		case <-c.stopChan:
			return
		case <-time.After(c.config.ReconnectInterval):
		}

		if c.isClosed() {
			return
		}

		if err := c.connect(); err != nil && !errors.Is(err, ErrClosed) && !c.IsConnected() {
			c.setState(Reconnecting, err)
			select {
			case c.reconnectChan <- struct{}{}:
			default:
			}
		}
	}
}

func (c *Client) setState(state ConnectionState, err error) {
	c.mu.Lock()
	c.state = state
	handler := c.onConnectionState
	c.mu.Unlock()

	if handler != nil {
		go handler(ConnectionStateEvent{
			State:     state,
			Address:   c.config.Address,
			Timestamp: time.Now(),
			Error:     err,
		})
	}
}

func (c *Client) emitEvent(ev event.Event) {
	c.mu.RLock()
	handler := c.onEvent
	c.mu.RUnlock()

	if handler != nil {
		handler(ev)
	}
}

func (c *Client) emitError(err error) {
	c.mu.RLock()
	handler := c.onError
	c.mu.RUnlock()

	if handler != nil {
		go handler(ErrorEvent{Error: err, Timestamp: time.Now()})
	}
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) isCurrent(conn net.Conn) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn == conn
}
