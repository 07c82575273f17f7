// Package pusher is a Transport over the Pusher WebSocket protocol, which is
// what the backend's broadcaster (Laravel Echo server, Soketi, Reverb)
// speaks.
package pusher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bulsupms/pmsinbox/internal/transport"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 150 * time.Second
	pingPeriod     = 60 * time.Second
	maxMessageSize = 64 << 10
	sendBuffer     = 64

	minBackoff     = 2 * time.Second
	maxBackoff     = 30 * time.Second
	resetThreshold = 60 * time.Second
)

var ErrClosed = errors.New("pusher: client closed")

// Authorizer signs a private channel subscription for socketID.
type Authorizer func(ctx context.Context, socketID, channel string) (string, error)

type Config struct {
	// URL is the full socket URL, e.g. ws://host:6001/app/<key>?protocol=7.
	URL       string
	Authorize Authorizer
	Header    http.Header
	Dialer    *websocket.Dialer
	Logger    *slog.Logger
	// MinBackoff and MaxBackoff bound the reconnect delay.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type subscription struct {
	c       *Client
	id      int
	channel string
	event   string
	handler transport.Handler
	once    sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(func() { s.c.remove(s) })
	return nil
}

type Client struct {
	cfg       Config
	log       *slog.Logger
	connected atomic.Bool
	closed    atomic.Bool

	mu       sync.Mutex
	nextID   int
	channels map[string]map[int]*subscription
	// confirmed holds the channels the server acknowledged on conn.
	confirmed map[string]bool
	// retries is the next join retry delay per channel.
	retries map[string]time.Duration
	// conn is the live connection, nil between connections.
	conn *session
}

// session is one WebSocket connection.
type session struct {
	ctx      context.Context
	ws       *websocket.Conn
	socketID string
	send     chan []byte
	done     chan struct{}
}

func New(cfg Config) *Client {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = minBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = max(maxBackoff, cfg.MinBackoff)
	}
	return &Client{
		cfg:      cfg,
		log:      cfg.Logger.With("component", "pusher"),
		channels:  make(map[string]map[int]*subscription),
		confirmed: make(map[string]bool),
		retries:   make(map[string]time.Duration),
	}
}

// Connected reports whether a connection is established and every
// subscribed channel has been acknowledged by the server. A channel that
// is still joining, or whose authorization failed, makes it false.
func (c *Client) Connected() bool {
	if !c.connected.Load() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.channels {
		if !c.confirmed[ch] {
			return false
		}
	}
	return true
}

// Subscribe registers h for event on channel. The channel is joined on the
// current connection, if any, and again after every reconnect.
func (c *Client) Subscribe(channel, event string, h transport.Handler) (transport.Subscription, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	s := &subscription{c: c, id: c.nextID, channel: channel, event: event, handler: h}
	set := c.channels[channel]
	if set == nil {
		set = make(map[int]*subscription)
		c.channels[channel] = set
	}
	set[s.id] = s
	if len(set) == 1 && c.conn != nil {
		go c.join(c.conn, channel)
	}
	return s, nil
}

func (c *Client) remove(s *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.channels[s.channel]
	if !ok {
		return
	}
	delete(set, s.id)
	if len(set) > 0 {
		return
	}
	delete(c.channels, s.channel)
	delete(c.confirmed, s.channel)
	delete(c.retries, s.channel)
	if c.conn != nil {
		data, _ := json.Marshal(map[string]string{"channel": s.channel})
		c.conn.enqueue(frame{Event: "pusher:unsubscribe", Data: data}, c.log)
	}
}

// Run keeps a connection open until ctx is done, reconnecting with
// exponential backoff.
func (c *Client) Run(ctx context.Context) error {
	defer c.closed.Store(true)
	backoff := c.cfg.MinBackoff
	for {
		start := time.Now()
		err := c.connect(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(start) > resetThreshold {
			backoff = c.cfg.MinBackoff
		}
		c.log.Warn("disconnected, reconnecting", "err", err, "in", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}
		backoff = min(backoff*2, c.cfg.MaxBackoff)
	}
}

// connect runs one connection to completion.
func (c *Client) connect(ctx context.Context) error {
	ws, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))

	var hello frame
	if err := ws.ReadJSON(&hello); err != nil {
		ws.Close()
		return fmt.Errorf("handshake: %w", err)
	}
	if hello.Event != "pusher:connection_established" {
		ws.Close()
		return fmt.Errorf("handshake: unexpected event %q", hello.Event)
	}
	var est struct {
		SocketID string `json:"socket_id"`
	}
	if err := json.Unmarshal(eventData(hello.Data), &est); err != nil || est.SocketID == "" {
		ws.Close()
		return fmt.Errorf("handshake: no socket id")
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s := &session{
		ctx:      sctx,
		ws:       ws,
		socketID: est.SocketID,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
	go s.writePump()

	c.mu.Lock()
	c.conn = s
	clear(c.confirmed)
	clear(c.retries)
	channels := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		channels = append(channels, ch)
	}
	c.mu.Unlock()
	c.connected.Store(true)
	c.log.Info("connected", "socket_id", s.socketID, "channels", len(channels))

	for _, ch := range channels {
		go c.join(s, ch)
	}

	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()
	err = c.readPump(s)

	c.connected.Store(false)
	c.mu.Lock()
	if c.conn == s {
		c.conn = nil
		clear(c.confirmed)
	}
	c.mu.Unlock()
	close(s.done)
	ws.Close()
	return err
}

// join authorises (for private and presence channels) and subscribes to
// channel on session s. A failed authorization is retried with backoff.
func (c *Client) join(s *session, channel string) {
	payload := map[string]string{"channel": channel}
	if isPrivate(channel) {
		if c.cfg.Authorize == nil {
			c.log.Warn("no authorizer for private channel", "channel", channel)
			return
		}
		auth, err := c.cfg.Authorize(s.ctx, s.socketID, channel)
		if err != nil {
			if s.ctx.Err() == nil {
				c.log.Warn("channel authorization failed", "channel", channel, "err", err)
				c.retryJoin(s, channel)
			}
			return
		}
		payload["auth"] = auth
	}
	data, _ := json.Marshal(payload)
	s.enqueue(frame{Event: "pusher:subscribe", Data: data}, c.log)
}

// retryJoin joins channel again after its backoff, as long as s is still
// the live connection and the channel is still wanted.
func (c *Client) retryJoin(s *session, channel string) {
	c.mu.Lock()
	d := c.retries[channel]
	if d <= 0 {
		d = c.cfg.MinBackoff
	}
	c.retries[channel] = min(d*2, c.cfg.MaxBackoff)
	c.mu.Unlock()

	t := time.AfterFunc(d, func() {
		c.mu.Lock()
		_, wanted := c.channels[channel]
		live := c.conn == s && !c.confirmed[channel]
		c.mu.Unlock()
		if wanted && live && s.ctx.Err() == nil {
			c.join(s, channel)
		}
	})
	context.AfterFunc(s.ctx, func() { t.Stop() })
}

func (c *Client) confirm(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[channel]; ok {
		c.confirmed[channel] = true
		delete(c.retries, channel)
	}
}

func (c *Client) readPump(s *session) error {
	for {
		_, raw, err := s.ws.ReadMessage()
		if err != nil {
			return err
		}
		_ = s.ws.SetReadDeadline(time.Now().Add(pongWait))

		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.log.Debug("undecodable frame", "err", err)
			continue
		}
		switch f.Event {
		case "pusher:ping":
			s.enqueue(frame{Event: "pusher:pong", Data: json.RawMessage(`{}`)}, c.log)
		case "pusher:pong":
		case "pusher_internal:subscription_succeeded":
			c.confirm(f.Channel)
		case "pusher_internal:subscription_error":
			c.log.Warn("subscription rejected", "channel", f.Channel, "data", string(eventData(f.Data)))
			if f.Channel != "" {
				c.retryJoin(s, f.Channel)
			}
		case "pusher:error":
			c.log.Warn("server error", "channel", f.Channel, "data", string(eventData(f.Data)))
		default:
			if f.Channel != "" {
				c.dispatch(f)
			}
		}
	}
}

func (c *Client) dispatch(f frame) {
	c.mu.Lock()
	var targets []transport.Handler
	for _, s := range c.channels[f.Channel] {
		if matchEvent(s.event, f.Event) {
			targets = append(targets, s.handler)
		}
	}
	c.mu.Unlock()

	data := eventData(f.Data)
	for _, h := range targets {
		h(data)
	}
}

func (s *session) enqueue(f frame, log *slog.Logger) {
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	select {
	case s.send <- b:
	case <-s.done:
	default:
		log.Warn("send buffer full, frame dropped", "event", f.Event)
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.ws.Close()
	}()
	ping, _ := json.Marshal(frame{Event: "pusher:ping", Data: json.RawMessage(`{}`)})
	for {
		select {
		case <-s.done:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-s.send:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.TextMessage, ping); err != nil {
				return
			}
		}
	}
}

// eventData unwraps data sent as a JSON-encoded string.
func eventData(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || raw[0] != '"' {
		return raw
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return raw
	}
	return json.RawMessage(s)
}

// matchEvent accepts the bare event name as well as namespaced forms such
// as `App\Events\MessageSent` and `.MessageSent`.
func matchEvent(want, got string) bool {
	return got == want ||
		strings.HasSuffix(got, `\`+want) ||
		strings.HasSuffix(got, "."+want)
}

func isPrivate(channel string) bool {
	return strings.HasPrefix(channel, "private-") || strings.HasPrefix(channel, "presence-")
}
