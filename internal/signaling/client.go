package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/BioHazard786/Warpcall/internal/dns"
	"github.com/BioHazard786/Warpcall/internal/logging"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/jsonrpc2"
	jsonrpcws "github.com/sourcegraph/jsonrpc2/websocket"
	"go.uber.org/atomic"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024

	initialReconnectDelay = 100 * time.Millisecond
)

var (
	ErrNotConnected = errors.New("signaling channel not connected")
	ErrDisconnected = errors.New("signaling channel disconnected")
	ErrClosed       = errors.New("signaling channel closed")
)

// RequestError is a request the relay answered with an error.
type RequestError struct {
	Method  string
	Code    int64
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s failed: %s (code %d)", e.Method, e.Message, e.Code)
}

// Listener receives channel lifecycle events and server pushes, one at a
// time and in the order the channel saw them. Listener methods may issue
// requests on the channel.
type Listener interface {
	OnConnect()
	OnConnectError(err error)
	OnDisconnect(reason error)
	OnSignal(s Signal)
	OnNotification(n Notification)
}

// Options configure a Channel.
type Options struct {
	URL    string
	Path   string
	PeerID string
	RoomID string
	Token  string

	// ReconnectDelayMax caps the backoff between reconnection attempts.
	ReconnectDelayMax time.Duration

	// Dialer overrides the default dialer, which resolves hosts through
	// the dns package.
	Dialer *websocket.Dialer
}

// Channel is a persistent, reconnecting request/response and event channel
// to the relay, speaking JSON-RPC 2.0 over a WebSocket.
type Channel struct {
	opts     Options
	listener Listener
	log      zerolog.Logger

	mu     sync.Mutex
	conn   *jsonrpc2.Conn
	ws     *websocket.Conn
	cancel context.CancelFunc
	gen    uint64

	queue *eventQueue

	closed    atomic.Bool
	connected atomic.Bool
}

// NewChannel creates a channel. Nothing is dialed until Connect.
func NewChannel(opts Options, listener Listener) *Channel {
	if opts.ReconnectDelayMax <= 0 {
		opts.ReconnectDelayMax = time.Second
	}

	c := &Channel{
		opts:     opts,
		listener: listener,
		log: logging.Module("signaling").With().
			Str("peer_id", opts.PeerID).
			Str("room_id", opts.RoomID).
			Logger(),
		queue: newEventQueue(),
	}

	go c.queue.run(c.dispatch)

	return c
}

// Connect dials the relay. Calling it again tears down the current
// connection and replaces it. A failed dial is reported to the listener as
// a connect error and is not retried.
func (c *Channel) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.teardownLocked()
	c.mu.Unlock()

	ws, err := c.dial(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("connect failed")
		c.queue.push(event{kind: eventConnectError, err: err})
		return err
	}

	if !c.attach(gen, ws) {
		ws.Close()
		return ErrClosed
	}

	c.queue.push(event{kind: eventConnect})
	return nil
}

// Connected reports whether a connection is currently up.
func (c *Channel) Connected() bool {
	return c.connected.Load()
}

// Request sends a "signal" request carrying method and payload and waits
// for the relay's reply, decoding it into result when non-nil. Only ctx and
// the loss of the connection bound the wait.
func (c *Channel) Request(ctx context.Context, method string, payload any, result any) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	params, err := withMethod(method, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}

	c.log.Debug().Str("method", method).Msg("request")

	var raw json.RawMessage
	if err := conn.Call(ctx, EventSignal, params, &raw); err != nil {
		var rpcErr *jsonrpc2.Error
		switch {
		case errors.As(err, &rpcErr):
			return &RequestError{Method: method, Code: rpcErr.Code, Message: rpcErr.Message}
		case ctx.Err() != nil:
			return ctx.Err()
		case c.closed.Load():
			return ErrClosed
		default:
			// the connection went away while the request was pending
			return fmt.Errorf("%s: %w (%v)", method, ErrDisconnected, err)
		}
	}

	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("decode %s reply: %w", method, err)
		}
	}

	return nil
}

// Close stops reconnecting and closes the connection. Pending requests fail.
func (c *Channel) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	c.gen++
	c.teardownLocked()
	c.mu.Unlock()

	c.queue.close()
	c.log.Debug().Msg("closed")
}

// URL builds the dial URL: <url>/<path>?peerId=..&roomId=..
func (c *Channel) URL() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	if c.opts.Path != "" {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(c.opts.Path, "/")
	}

	q := u.Query()
	q.Set("peerId", c.opts.PeerID)
	q.Set("roomId", c.opts.RoomID)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	target, err := c.URL()
	if err != nil {
		return nil, err
	}

	dialer := c.opts.Dialer
	if dialer == nil {
		dialer = defaultDialer()
	}

	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	ws, _, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return ws, nil
}

// defaultDialer resolves through dns.Lookup so a broken system resolver
// does not keep us off the relay.
func defaultDialer() *websocket.Dialer {
	d := *websocket.DefaultDialer
	d.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		ip, err := dns.Lookup(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("dns lookup failed: %w", err)
		}

		var nd net.Dialer
		return nd.DialContext(ctx, network, net.JoinHostPort(ip, port))
	}
	return &d
}

// attach wires a freshly dialed socket in as the current connection. It
// returns false when a newer Connect or Close superseded this one.
func (c *Channel) attach(gen uint64, ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() || gen != c.gen {
		return false
	}

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	conn := jsonrpc2.NewConn(ctx, jsonrpcws.NewObjectStream(ws), &pushHandler{queue: c.queue, log: c.log})

	c.conn = conn
	c.ws = ws
	c.cancel = cancel
	c.connected.Store(true)

	go c.keepalive(ctx, ws)
	go c.watch(gen, conn)

	return true
}

// teardownLocked drops the current connection without reporting it.
func (c *Channel) teardownLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.ws = nil
	c.connected.Store(false)
}

// keepalive pings the relay until the connection goes away.
func (c *Channel) keepalive(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				ws.Close()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// watch waits for conn to drop. An unexpected drop is reported as a
// disconnect and followed by reconnection attempts.
func (c *Channel) watch(gen uint64, conn *jsonrpc2.Conn) {
	<-conn.DisconnectNotify()

	c.mu.Lock()
	if c.closed.Load() || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	c.mu.Unlock()

	c.log.Warn().Msg("connection lost")
	c.queue.push(event{kind: eventDisconnect, err: ErrDisconnected})

	c.reconnect(gen)
}

func (c *Channel) reconnect(gen uint64) {
	delay := initialReconnectDelay

	for attempt := 1; ; attempt++ {
		if delay > c.opts.ReconnectDelayMax {
			delay = c.opts.ReconnectDelayMax
		}
		time.Sleep(delay)

		if c.closed.Load() || !c.current(gen) {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		ws, err := c.dial(ctx)
		cancel()

		if err != nil {
			c.log.Debug().Err(err).Int("attempt", attempt).Msg("reconnect failed")
			delay *= 2
			continue
		}

		if !c.attach(gen, ws) {
			ws.Close()
			return
		}

		c.log.Info().Int("attempt", attempt).Msg("reconnected")
		c.queue.push(event{kind: eventConnect})
		return
	}
}

func (c *Channel) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Channel) dispatch(e event) {
	switch e.kind {
	case eventConnect:
		c.listener.OnConnect()
	case eventConnectError:
		c.listener.OnConnectError(e.err)
	case eventDisconnect:
		c.listener.OnDisconnect(e.err)
	case eventSignal:
		c.listener.OnSignal(e.signal)
	case eventNotification:
		c.listener.OnNotification(e.notification)
	}
}

// withMethod flattens payload into an object carrying "method".
func withMethod(method string, payload any) (map[string]json.RawMessage, error) {
	params := map[string]json.RawMessage{}

	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(b, &params); err != nil {
			return nil, fmt.Errorf("payload must encode to an object: %w", err)
		}
	}

	m, err := json.Marshal(method)
	if err != nil {
		return nil, err
	}
	params["method"] = m

	return params, nil
}
