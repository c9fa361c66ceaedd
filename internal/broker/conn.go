package broker

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lucasmrqs/freelink/internal/status"
	"go.uber.org/zap"
)

const (
	defaultHeartbeat = 15 * time.Second
	defaultReconnect = 4 * time.Second
	handshakeTimeout = 10 * time.Second
	readGrace        = 5 * time.Second
)

// Handler receives the body of every MESSAGE frame on a destination.
type Handler func(body []byte)

// Options configures a broker connection.
type Options struct {
	URL     string // ws(s):// endpoint of the broker
	Channel string // logical channel name (chat, match, notify)

	// Header, if set, is called before every dial so reconnects carry fresh
	// credentials instead of whatever the first dial captured.
	Header func() http.Header

	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration // fixed delay, not exponential
}

type subscription struct {
	id       string
	handlers map[int]Handler
}

type pendingPublish struct {
	destination string
	body        []byte
}

// Conn is a persistent pub/sub connection to the marketplace broker for one
// logical channel. Connect is idempotent; publishes issued while not connected
// are queued FIFO and flushed exactly once on the CONNECTED transition;
// standing subscriptions are re-established after every reconnect.
//
// Connection errors are never surfaced to callers: they drive the automatic
// reconnect loop, and callers observe only the conn.state events.
type Conn struct {
	opts    Options
	machine *status.Machine
	logger  *zap.Logger

	mu       sync.Mutex
	ws       *websocket.Conn
	subs     map[string]*subscription
	subSeq   int // never reused: brokers require per-connection-unique ids
	nextSub  int
	deferred []pendingPublish
	refs     int
	running  bool // a run goroutine owns the dial/serve/backoff cycle
	closed   bool

	wmu sync.Mutex // serializes websocket writes
}

// New creates a connection manager. It does not dial until Connect.
func New(opts Options, machine *status.Machine, logger *zap.Logger) *Conn {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeat
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnect
	}
	return &Conn{
		opts:    opts,
		machine: machine,
		logger:  logger.With(zap.String("channel", opts.Channel)),
		subs:    make(map[string]*subscription),
	}
}

// State returns the current connection state.
func (c *Conn) State() status.State {
	return c.machine.Current()
}

// Acquire registers a consumer and ensures the connection is up.
func (c *Conn) Acquire() {
	c.mu.Lock()
	c.refs++
	c.mu.Unlock()
	c.Connect()
}

// Release drops a consumer reference. The socket is torn down only when the
// last consumer releases, so one view leaving never breaks its siblings.
// A Conn is single-lifecycle: after the last release it stays closed, and
// later Acquire or Connect calls are no-ops. The daemon builds one Conn per
// channel for the life of the process.
func (c *Conn) Release() {
	c.mu.Lock()
	if c.refs > 0 {
		c.refs--
	}
	last := c.refs == 0
	c.mu.Unlock()
	if last {
		c.Close()
	}
}

// Connect brings the connection up. If a run goroutine already exists, whether
// connected, mid-handshake or waiting out a reconnect backoff, it is a no-op:
// there is never more than one session per Conn.
func (c *Conn) Connect() {
	c.mu.Lock()
	if c.closed || c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	_ = c.machine.Transition(status.Connecting)
	c.mu.Unlock()

	go c.run()
}

// Close tears the connection down for good. Safe to call when already closed.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws != nil {
		_ = ws.Close()
	}
	c.toDisconnected()
}

// Publish sends a frame to a destination. If not connected, the publish is
// queued and flushed once when the connection becomes ready; Connect is
// triggered so the queue eventually drains.
func (c *Conn) Publish(destination string, body []byte) {
	c.mu.Lock()
	if c.machine.Current() != status.Connected || c.ws == nil {
		c.deferred = append(c.deferred, pendingPublish{destination: destination, body: body})
		c.mu.Unlock()
		c.Connect()
		return
	}
	ws := c.ws
	c.mu.Unlock()

	if err := c.writeFrame(ws, sendFrame(destination, body)); err != nil {
		c.logger.Warn("publish failed", zap.String("destination", destination), zap.Error(err))
	}
}

// Subscribe registers a handler for MESSAGE frames on a destination and
// returns a cancel function. The broker-side subscription is established
// immediately if connected, and re-established after every reconnect.
func (c *Conn) Subscribe(destination string, h Handler) (cancel func()) {
	c.mu.Lock()
	sub, ok := c.subs[destination]
	if !ok {
		sub = &subscription{
			id:       fmt.Sprintf("sub-%d", c.subSeq),
			handlers: make(map[int]Handler),
		}
		c.subSeq++
		c.subs[destination] = sub
	}
	id := c.nextSub
	c.nextSub++
	sub.handlers[id] = h
	first := !ok
	connected := c.machine.Current() == status.Connected && c.ws != nil
	ws := c.ws
	c.mu.Unlock()

	if first && connected {
		if err := c.writeFrame(ws, subscribeFrame(sub.id, destination)); err != nil {
			c.logger.Warn("subscribe failed", zap.String("destination", destination), zap.Error(err))
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(destination, id) })
	}
}

func (c *Conn) unsubscribe(destination string, id int) {
	c.mu.Lock()
	sub, ok := c.subs[destination]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(sub.handlers, id)
	last := len(sub.handlers) == 0
	if last {
		delete(c.subs, destination)
	}
	connected := c.machine.Current() == status.Connected && c.ws != nil
	ws := c.ws
	c.mu.Unlock()

	if last && connected {
		_ = c.writeFrame(ws, &Frame{Command: CmdUnsubscribe, Headers: map[string]string{"id": sub.id}})
	}
}

// run owns the dial/serve/backoff cycle until Close. Exactly one run
// goroutine exists per Conn (the running flag), so the machine is exclusively
// ours for the whole cycle and redundant Connect calls during the backoff
// cannot start a competing session.
func (c *Conn) run() {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	for {
		err := c.session()

		c.mu.Lock()
		if c.ws != nil {
			_ = c.ws.Close()
			c.ws = nil
		}
		closed := c.closed
		c.mu.Unlock()
		c.toDisconnected()

		if closed {
			return
		}
		c.logger.Warn("broker connection lost, retrying",
			zap.Error(err), zap.Duration("delay", c.opts.ReconnectDelay))
		time.Sleep(c.opts.ReconnectDelay)

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		_ = c.machine.Transition(status.Connecting)
		c.mu.Unlock()
	}
}

// session dials, performs the STOMP handshake and serves inbound frames until
// the connection drops.
func (c *Conn) session() error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	var header http.Header
	if c.opts.Header != nil {
		header = c.opts.Header()
	}
	ws, resp, err := dialer.Dial(c.opts.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (http %d)", c.opts.URL, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		return fmt.Errorf("closed during dial")
	}
	c.ws = ws
	c.mu.Unlock()

	hb := c.opts.HeartbeatInterval
	if err := c.writeFrame(ws, &Frame{
		Command: CmdConnect,
		Headers: map[string]string{
			"accept-version": "1.2",
			"heart-beat":     fmt.Sprintf("%d,%d", hb.Milliseconds(), hb.Milliseconds()),
		},
	}); err != nil {
		return fmt.Errorf("handshake send: %w", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("handshake read: %w", err)
	}
	f, err := Parse(data)
	if err != nil || f == nil || f.Command != CmdConnected {
		return fmt.Errorf("handshake: expected CONNECTED, got %v (err %v)", f, err)
	}

	// Transition, resubscribe and drain the deferred queue under the lock so
	// a publish racing in cannot jump ahead of earlier queued ones.
	c.mu.Lock()
	_ = c.machine.Transition(status.Connected)
	for destination, sub := range c.subs {
		if err := c.writeFrame(ws, subscribeFrame(sub.id, destination)); err != nil {
			c.mu.Unlock()
			return fmt.Errorf("resubscribe %s: %w", destination, err)
		}
	}
	deferred := c.deferred
	c.deferred = nil
	for _, p := range deferred {
		if err := c.writeFrame(ws, sendFrame(p.destination, p.body)); err != nil {
			c.mu.Unlock()
			return fmt.Errorf("flush deferred publish: %w", err)
		}
	}
	c.mu.Unlock()

	c.logger.Info("broker connected", zap.Int("flushed", len(deferred)))

	stop := make(chan struct{})
	defer close(stop)
	go c.heartbeatLoop(ws, stop)

	for {
		_ = ws.SetReadDeadline(time.Now().Add(2*hb + readGrace))
		_, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f, err := Parse(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		if f == nil {
			continue // heartbeat, deadline already advanced
		}
		switch f.Command {
		case CmdMessage:
			c.dispatch(f.Header("destination"), f.Body)
		case CmdError:
			c.logger.Error("broker error frame", zap.ByteString("body", f.Body))
		}
	}
}

// heartbeatLoop sends a bare newline every interval so the broker sees us
// alive; inbound liveness is enforced by the read deadline.
func (c *Conn) heartbeatLoop(ws *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.wmu.Lock()
			err := ws.WriteMessage(websocket.TextMessage, []byte("\n"))
			c.wmu.Unlock()
			if err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// dispatch invokes handlers in transport delivery order, one frame at a time.
func (c *Conn) dispatch(destination string, body []byte) {
	c.mu.Lock()
	sub, ok := c.subs[destination]
	var handlers []Handler
	if ok {
		handlers = make([]Handler, 0, len(sub.handlers))
		for _, h := range sub.handlers {
			handlers = append(handlers, h)
		}
	}
	c.mu.Unlock()

	if len(handlers) == 0 {
		c.logger.Debug("frame for destination without subscribers", zap.String("destination", destination))
		return
	}
	for _, h := range handlers {
		h(body)
	}
}

func (c *Conn) writeFrame(ws *websocket.Conn, f *Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	return ws.WriteMessage(websocket.TextMessage, f.Marshal())
}

func (c *Conn) toDisconnected() {
	if c.machine.Current() != status.Disconnected {
		_ = c.machine.Transition(status.Disconnected)
	}
}

func sendFrame(destination string, body []byte) *Frame {
	return &Frame{
		Command: CmdSend,
		Headers: map[string]string{
			"destination":  destination,
			"content-type": "application/json",
		},
		Body: body,
	}
}

func subscribeFrame(id, destination string) *Frame {
	return &Frame{
		Command: CmdSubscribe,
		Headers: map[string]string{
			"id":          id,
			"destination": destination,
			"ack":         "auto",
		},
	}
}
