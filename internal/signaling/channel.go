package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/virtualcafe/cafe/internal/dns"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	// DefaultReconnectDelay is the fixed wait between a closure and the next dial.
	DefaultReconnectDelay = 3 * time.Second
)

// Conn is the subset of *websocket.Conn the channel uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	SetReadLimit(limit int64)
	Close() error
}

// Dialer opens one connection to the room endpoint.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context, url string) (Conn, error)

func (f DialFunc) Dial(ctx context.Context, url string) (Conn, error) {
	return f(ctx, url)
}

// WebsocketDialer dials with gorilla/websocket, resolving hosts through the
// fallback resolver and attaching cookies from Jar to the handshake.
type WebsocketDialer struct {
	Jar      http.CookieJar
	Origin   string
	Resolver *dns.Resolver
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	resolver := d.Resolver
	if resolver == nil {
		resolver = dns.Default
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		NetDialContext:   resolver.DialContext,
		HandshakeTimeout: writeWait,
		Jar:              d.Jar,
	}

	header := http.Header{}
	if d.Origin != "" {
		header.Set("Origin", d.Origin)
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return conn, nil
}

// EventKind describes a connectivity change.
type EventKind int

const (
	Connected EventKind = iota
	Disconnected
)

func (k EventKind) String() string {
	if k == Connected {
		return "connected"
	}
	return "disconnected"
}

// Event reports a connectivity change. Err is set on Disconnected when the
// connection failed or dropped.
type Event struct {
	Kind EventKind
	Err  error
}

// Option configures a Channel.
type Option func(*Channel)

func WithDialer(d Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

func WithClock(clk clock.Clock) Option {
	return func(c *Channel) { c.clock = clk }
}

func WithReconnectDelay(d time.Duration) Option {
	return func(c *Channel) { c.delay = d }
}

// Channel is a persistent connection to one room endpoint. It reconnects after
// a fixed delay on every closure, with no retry limit, until Close is called
// or the Run context ends.
type Channel struct {
	url    string
	dialer Dialer
	clock  clock.Clock
	delay  time.Duration

	inbound chan *Envelope
	events  chan Event

	// mu guards conn and serializes writes.
	mu   sync.Mutex
	conn Conn

	done      chan struct{}
	closeOnce sync.Once
}

// NewChannel creates a channel for the given websocket URL.
func NewChannel(url string, opts ...Option) *Channel {
	c := &Channel{
		url:     url,
		dialer:  &WebsocketDialer{},
		clock:   clock.New(),
		delay:   DefaultReconnectDelay,
		inbound: make(chan *Envelope, 32),
		events:  make(chan Event, 16),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Inbound delivers decoded envelopes in arrival order. It is closed when Run returns.
func (c *Channel) Inbound() <-chan *Envelope {
	return c.inbound
}

// Events delivers connectivity changes. Events are dropped if nobody reads them.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Run dials and serves the connection, reconnecting forever. It returns nil
// after Close, or the context error.
func (c *Channel) Run(ctx context.Context) error {
	defer close(c.inbound)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		conn, err := c.dialer.Dial(ctx, c.url)
		if err != nil {
			if ctx.Err() != nil {
				return c.exitErr(ctx)
			}
			slog.Warn("signaling dial failed", "url", c.url, "error", err)
			c.emit(Event{Kind: Disconnected, Err: err})
		} else {
			c.serve(ctx, conn)
		}

		if ctx.Err() != nil {
			return c.exitErr(ctx)
		}

		slog.Info("signaling channel closed, reconnecting", "delay", c.delay)
		select {
		case <-ctx.Done():
			return c.exitErr(ctx)
		case <-c.clock.After(c.delay):
		}
	}
}

func (c *Channel) exitErr(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	default:
		return ctx.Err()
	}
}

// serve runs one connection until it drops or ctx ends.
func (c *Channel) serve(ctx context.Context, conn Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.emit(Event{Kind: Connected})
	slog.Info("signaling channel connected", "url", c.url)

	stop := make(chan struct{})
	go c.ping(conn, stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	err := c.readLoop(ctx, conn)
	close(stop)

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()

	c.emit(Event{Kind: Disconnected, Err: err})
}

func (c *Channel) readLoop(ctx context.Context, conn Conn) error {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		env, err := Decode(frame)
		if err != nil {
			slog.Warn("dropping signaling frame", "error", err)
			continue
		}

		select {
		case c.inbound <- env:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Channel) ping(conn Conn, stop <-chan struct{}) {
	ticker := c.clock.Ticker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func (c *Channel) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		slog.Debug("signaling event dropped", "event", ev.Kind)
	}
}

// Send writes env if and only if a connection is open. Nothing is queued.
func (c *Channel) Send(env *Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("failed to encode envelope", "type", env.Type, "error", err)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		slog.Debug("signaling channel not open, dropping envelope", "type", env.Type)
		return false
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Warn("failed to send envelope", "type", env.Type, "error", err)
		return false
	}
	return true
}

// connected reports whether a connection is currently established.
func (c *Channel) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close stops reconnecting and closes the current connection with a close frame.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conn != nil {
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.conn.Close()
		}
	})
}
