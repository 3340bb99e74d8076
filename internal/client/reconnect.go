package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"maps"
	"math"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 5 * time.Second
	DefaultDialTimeout = 20 * time.Second

	writeWait = 10 * time.Second
)

var (
	ErrReconnectFailed = errors.New("reconnect attempts exhausted")
	ErrNotConnected    = errors.New("not connected")
	ErrClosed          = errors.New("client closed")
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateFailed       State = "failed"
)

// Conn is the subset of *websocket.Conn the client needs.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

type Config struct {
	// MaxAttempts is the number of consecutive failed dials after which the
	// client gives up and enters StateFailed.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	DialTimeout time.Duration
}

func (c *Config) defaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
}

// Event is an event received from the chat server.
type Event struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type joinRequest struct {
	ChatId  string `json:"chatId"`
	LastSeq uint64 `json:"lastSeq,omitempty"`
}

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
}

func (r *reconnector) shouldRetry() bool {
	return r.attempt < r.maxAttempts
}

// nextDelay returns the wait before the next dial: exponential in the number
// of failures so far, with up to 50% jitter, capped at maxDelay.
func (r *reconnector) nextDelay() time.Duration {
	exp := math.Max(0, float64(r.attempt-1))
	jitter := rand.Float64() * float64(r.baseDelay) * 0.5
	return time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, exp)+jitter,
		float64(r.maxDelay),
	))
}

func (r *reconnector) reset() {
	r.attempt = 0
}

// Client keeps a realtime connection to the chat server alive. After a drop
// it redials with backoff and re-joins every room it was asked to join.
type Client struct {
	transport Transport
	cfg       Config
	log       *log.Logger
	recon     *reconnector
	sleep     func(ctx context.Context, d time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	writeMu sync.Mutex
	state   State
	conn    Conn
	closed  bool
	// rooms maps each active chat to the last message sequence seen in it
	rooms   map[string]uint64
	onEvent func(Event)
	onState func(State)
}

func New(t Transport, logger *log.Logger, cfg Config) *Client {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		transport: t,
		cfg:       cfg,
		log:       logger,
		recon: &reconnector{
			baseDelay:   cfg.BaseDelay,
			maxDelay:    cfg.MaxDelay,
			maxAttempts: cfg.MaxAttempts,
		},
		sleep:  sleepContext,
		ctx:    ctx,
		cancel: cancel,
		state:  StateDisconnected,
		rooms:  make(map[string]uint64),
	}
}

func (c *Client) OnEvent(h func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = h
}

func (c *Client) OnStateChange(h func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = h
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Rooms returns the chats the client re-joins after every reconnect.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Sorted(maps.Keys(c.rooms))
}

// Connect dials the server, retrying with backoff. It returns
// ErrReconnectFailed once MaxAttempts consecutive dials have failed. Calling
// Connect while already connected or connecting does nothing.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	h := c.swapState(StateConnecting)
	c.mu.Unlock()
	notify(h, StateConnecting)

	c.recon.reset()
	for {
		conn, err := c.dial(ctx)
		if err == nil {
			return c.attach(conn)
		}
		if ctx.Err() != nil || c.isClosed() {
			c.setState(StateDisconnected)
			if c.isClosed() {
				return ErrClosed
			}
			return ctx.Err()
		}

		c.recon.attempt++
		c.log.Printf("dial attempt %d/%d failed: %v", c.recon.attempt, c.recon.maxAttempts, err)
		if !c.recon.shouldRetry() {
			c.setState(StateFailed)
			return fmt.Errorf("%w: %w", ErrReconnectFailed, err)
		}

		if err := c.sleep(ctx, c.recon.nextDelay()); err != nil {
			c.setState(StateDisconnected)
			return err
		}
	}
}

func (c *Client) dial(ctx context.Context) (Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	return c.transport.Dial(ctx)
}

func (c *Client) attach(conn Conn) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	h := c.swapState(StateConnected)
	rooms := maps.Clone(c.rooms)
	c.mu.Unlock()
	notify(h, StateConnected)

	go c.readLoop(conn)

	for _, chatId := range slices.Sorted(maps.Keys(rooms)) {
		req := joinRequest{ChatId: chatId, LastSeq: rooms[chatId]}
		if err := c.write(conn, outbound{Event: "join_chat", Data: req}); err != nil {
			c.log.Printf("rejoin %q: %v", chatId, err)
		}
	}

	return nil
}

func (c *Client) readLoop(conn Conn) {
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if c.dropConn(conn) {
				c.log.Printf("connection lost: %v", err)
				go c.reconnect()
			}
			return
		}

		c.track(ev)

		c.mu.Lock()
		h := c.onEvent
		c.mu.Unlock()
		if h != nil {
			h(ev)
		}
	}
}

// track records the newest sequence seen per room so a rejoin only replays
// what was missed.
func (c *Client) track(ev Event) {
	if ev.Event != "message_received" {
		return
	}

	var payload struct {
		Message struct {
			ChatId string `json:"chatId"`
		} `json:"message"`
		Seq uint64 `json:"seq"`
	}
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.rooms[payload.Message.ChatId]; ok && payload.Seq > last {
		c.rooms[payload.Message.ChatId] = payload.Seq
	}
}

func (c *Client) reconnect() {
	if err := c.Connect(c.ctx); err != nil && !errors.Is(err, ErrClosed) {
		c.log.Printf("reconnect: %v", err)
	}
}

// dropConn tears down conn if it is still the active connection. It reports
// whether the caller should start reconnecting.
func (c *Client) dropConn(conn Conn) bool {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return false
	}
	c.conn = nil
	h := c.swapState(StateDisconnected)
	closed := c.closed
	c.mu.Unlock()

	conn.Close()
	notify(h, StateDisconnected)
	return !closed
}

// Foreground probes the connection when the host application returns to the
// foreground. A failed probe, or no connection at all, triggers a reconnect.
func (c *Client) Foreground(ctx context.Context) error {
	c.mu.Lock()
	state, conn := c.state, c.conn
	c.mu.Unlock()

	switch state {
	case StateConnecting:
		return nil
	case StateConnected:
		c.writeMu.Lock()
		err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		c.writeMu.Unlock()
		if err == nil {
			return nil
		}
		c.log.Printf("foreground probe failed: %v", err)
		c.dropConn(conn)
	}

	return c.Connect(ctx)
}

// Join marks chatId as active and joins it now if connected. Active rooms are
// joined again after every reconnect.
func (c *Client) Join(chatId string) error {
	c.mu.Lock()
	if _, ok := c.rooms[chatId]; !ok {
		c.rooms[chatId] = 0
	}
	req := joinRequest{ChatId: chatId, LastSeq: c.rooms[chatId]}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.write(conn, outbound{Event: "join_chat", Data: req})
}

func (c *Client) Leave(chatId string) error {
	c.mu.Lock()
	_, ok := c.rooms[chatId]
	delete(c.rooms, chatId)
	conn := c.conn
	c.mu.Unlock()

	if !ok || conn == nil {
		return nil
	}
	return c.write(conn, outbound{Event: "leave_chat", Data: joinRequest{ChatId: chatId}})
}

// Send writes a raw event. It fails with ErrNotConnected while the client is
// not connected; events are never buffered.
func (c *Client) Send(event string, data any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	return c.write(conn, outbound{Event: event, Data: data})
}

func (c *Client) SendMessage(chatId, content string) error {
	return c.Send("message_sent", map[string]any{
		"chatId":  chatId,
		"message": map[string]string{"content": content, "type": "text"},
	})
}

func (c *Client) SetStatus(online bool) error {
	return c.Send("update_status", map[string]bool{"isOnline": online})
}

// Close disconnects and stops any reconnect in progress.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	h := c.swapState(StateDisconnected)
	c.mu.Unlock()

	c.cancel()
	notify(h, StateDisconnected)

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *Client) write(conn Conn, msg outbound) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	h := c.swapState(s)
	c.mu.Unlock()
	notify(h, s)
}

// swapState must be called with mu held. It returns the handler to notify, if
// the state changed.
func (c *Client) swapState(s State) func(State) {
	if c.state == s {
		return nil
	}
	c.state = s
	return c.onState
}

func notify(h func(State), s State) {
	if h != nil {
		h(s)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
