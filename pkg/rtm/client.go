package rtm

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nexlink/rtmgo/internal/dedup"
	"github.com/nexlink/rtmgo/internal/dispatch"
	"github.com/nexlink/rtmgo/internal/pending"
	"github.com/nexlink/rtmgo/internal/ticker"
	"github.com/nexlink/rtmgo/internal/transport"
	"github.com/nexlink/rtmgo/internal/wire"
)

// Client is one RTM session: it owns at most one gate connection at a time
// and drives login, gate discovery, authentication, reconnection and push
// delivery. All methods are safe for concurrent use.
type Client struct {
	cfg Config
	log *zap.Logger

	pending *pending.Registry
	queue   *dispatch.Queue
	ticks   *ticker.Ticker
	proc    *processor
	midGen  midGenerator

	seq atomic.Uint32

	// dial builds the transport connection; replaced in tests.
	dial func(endpoint string, h transport.Handlers) transport.Conn

	mu            sync.Mutex
	conn          transport.Conn
	endpoint      string
	switchGate    string
	closed        bool
	destroyed     bool
	resolving     bool
	reconnCount   int
	cooldownSince time.Time

	// Session lifecycle callbacks. Set before Login.
	OnLogin  func(endpoint string, err error)
	OnClosed func(willRetry bool)
	OnError  func(err error)
	Pushes   PushHandlers
}

// NewClient builds a client from cfg. The client starts idle; call Login to
// connect and Destroy to release its background workers.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()

	c := &Client{
		cfg:     cfg,
		log:     cfg.Logger,
		pending: pending.NewRegistry(cfg.Logger),
		queue:   dispatch.NewQueue(cfg.PushQueueLimit, cfg.Logger),
		ticks:   ticker.New(),
	}
	c.proc = newProcessor(c, c.queue, dedup.NewFilter(cfg.DedupPairLimit), cfg.Logger)
	c.dial = func(endpoint string, h transport.Handlers) transport.Conn {
		return transport.NewWSConn(endpoint, h, cfg.Logger)
	}
	c.ticks.Subscribe("rtm", c.onTick)
	return c
}

// Login connects the session. An empty endpoint resolves the gate through the
// dispatch service first. The call returns immediately; the outcome arrives
// through OnLogin, and on later connection loss the client reconnects by
// itself when Config.Reconnect is set.
//
// Login is a no-op while a connection already exists or the client is
// destroyed; no event is emitted for such a call.
func (c *Client) Login(endpoint string) {
	c.mu.Lock()
	if c.destroyed || c.conn != nil {
		c.mu.Unlock()
		return
	}
	c.closed = false
	if endpoint != "" {
		c.endpoint = endpoint
	}
	needGate := endpoint == ""
	if needGate {
		if c.resolving {
			c.mu.Unlock()
			return
		}
		c.resolving = true
	}
	c.mu.Unlock()

	if needGate {
		go c.loginViaDispatch()
		return
	}
	go c.connectGate(endpoint)
}

func (c *Client) loginViaDispatch() {
	ep, err := c.resolveGate()

	c.mu.Lock()
	c.resolving = false
	// Close may have arrived while the resolution was in flight; the
	// resolved gate must not resurrect an explicitly closed session.
	stale := c.closed || c.destroyed
	c.mu.Unlock()
	if stale {
		return
	}

	if err != nil {
		c.emitError(fmt.Errorf("rtm: gate resolution: %w", err))
		c.notifyClosedAndRetry()
		return
	}
	c.Login(ep)
}

func (c *Client) connectGate(endpoint string) {
	var conn transport.Conn
	conn = c.dial(endpoint, transport.Handlers{
		OnConnect: func() { c.auth() },
		OnClose:   func(err error) { c.connClosed(conn, err) },
		OnFrame:   c.onFrame,
		OnError:   c.emitError,
	})

	c.mu.Lock()
	if c.closed || c.destroyed || c.conn != nil {
		c.mu.Unlock()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	if err := conn.Connect(); err != nil {
		c.emitError(err)
		c.connClosed(conn, err)
	}
}

// connClosed is the single close path: transport teardown, dial failure,
// liveness force-close and kickout all end up here exactly once per
// connection.
func (c *Client) connClosed(from transport.Conn, err error) {
	c.mu.Lock()
	if c.conn != from {
		c.mu.Unlock()
		return
	}
	c.conn = nil

	handoff := c.switchGate != ""
	if handoff {
		c.endpoint = c.switchGate
		c.switchGate = ""
	}
	endpoint := c.endpoint
	retry := !c.closed && !c.destroyed && (c.cfg.Reconnect || handoff)
	c.mu.Unlock()

	c.proc.clearPing()

	failure := err
	if failure == nil {
		failure = ErrConnectionLost
	}
	c.pending.FailAll(failure)

	if c.OnClosed != nil {
		c.OnClosed(retry)
	}
	if !retry {
		return
	}
	if handoff {
		// Gate handoff bypasses the retry counter: the server told us where
		// to go, this is not a failure.
		c.Login(endpoint)
		return
	}
	c.reconnect()
}

// notifyClosedAndRetry mirrors connClosed for failures that happen before a
// connection object exists (gate resolution errors).
func (c *Client) notifyClosedAndRetry() {
	c.mu.Lock()
	retry := !c.closed && !c.destroyed && c.cfg.Reconnect
	c.mu.Unlock()

	if c.OnClosed != nil {
		c.OnClosed(retry)
	}
	if retry {
		c.reconnect()
	}
}

func (c *Client) reconnect() {
	c.mu.Lock()
	if !c.cfg.Reconnect || c.closed || c.destroyed {
		c.mu.Unlock()
		return
	}
	c.reconnCount++
	if c.reconnCount <= c.cfg.RetryLimit {
		endpoint := c.endpoint
		c.mu.Unlock()
		c.log.Info("reconnecting", zap.String("endpoint", endpoint))
		c.Login(endpoint)
		return
	}
	// Immediate attempts spent; arm the cooldown, the tick retries later.
	c.cooldownSince = time.Now()
	c.mu.Unlock()
	c.log.Info("reconnect limit reached, cooling down",
		zap.Duration("cooldown", c.cfg.RetryCooldown))
}

// onTick runs once per second: quest expiry, liveness, reconnect cooldown.
func (c *Client) onTick(now time.Time) {
	c.pending.SweepExpired(now, ErrTimeout)

	if last := c.proc.lastPing.Load(); last > 0 {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil && conn.Connected() &&
			now.Unix()-last > int64(c.cfg.PingTimeout/time.Second) {
			c.log.Warn("server keep-alive stale, closing connection")
			conn.Close(ErrPingTimeout)
		}
	}

	c.mu.Lock()
	retryNow := !c.cooldownSince.IsZero() &&
		now.Sub(c.cooldownSince) >= c.cfg.RetryCooldown &&
		!c.closed && !c.destroyed
	var endpoint string
	if retryNow {
		c.cooldownSince = time.Time{}
		c.reconnCount = 0
		endpoint = c.endpoint
	}
	c.mu.Unlock()

	if retryNow {
		c.Login(endpoint)
	}
}

func (c *Client) auth() {
	payload := map[string]any{
		"pid":     c.cfg.PID,
		"uid":     c.cfg.UID,
		"token":   c.cfg.Token,
		"version": c.cfg.Version,
		"attrs":   c.cfg.Attrs,
	}

	c.sendQuest("auth", payload, func(m map[string]any, err error) {
		if err != nil {
			c.closeConn(err)
			return
		}

		if asBool(m["ok"]) {
			c.proc.initPing()
			c.mu.Lock()
			c.reconnCount = 0
			c.cooldownSince = time.Time{}
			endpoint := c.endpoint
			c.mu.Unlock()
			c.log.Info("logged in", zap.String("endpoint", endpoint))
			if c.OnLogin != nil {
				c.OnLogin(endpoint, nil)
			}
			return
		}

		if gate := asString(m["gate"]); gate != "" {
			// Handoff: this gate rejected us but named another one. Not a
			// login failure.
			c.mu.Lock()
			c.switchGate = gate
			c.mu.Unlock()
			c.log.Info("gate handoff", zap.String("gate", gate))
			c.closeConn(nil)
			return
		}

		// Terminal: bad token. No reconnect.
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		if c.OnLogin != nil {
			c.OnLogin("", ErrAuthFailed)
		}
		c.closeConn(nil)
	}, c.cfg.Timeout)
}

// Close marks the session explicitly closed, sends a best-effort bye and
// tears the connection down once the bye resolves (answer, failure or the
// short bye timeout). No reconnect follows an explicit Close.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.cooldownSince = time.Time{}
	c.reconnCount = 0
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return
	}
	c.sendQuest("bye", map[string]any{}, func(map[string]any, error) {
		conn.Close(nil)
	}, byeTimeout)
}

// Destroy closes the session and releases the tick source and dispatch
// worker. The client is unusable afterwards.
func (c *Client) Destroy() {
	c.Close()

	c.mu.Lock()
	c.destroyed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.Close(nil)
	}
	c.ticks.Unsubscribe("rtm")
	c.ticks.Stop()
	c.queue.Close()
}

// Connected reports whether a gate connection is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	return conn != nil && conn.Connected()
}

// kickedOut handles the server eviction push: the session is closed for good
// and must not reconnect.
func (c *Client) kickedOut() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.closeConn(nil)
}

func (c *Client) closeConn(err error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close(err)
	}
}

// sendQuest is the single outbound entry point. With a nil continuation the
// quest is fire-and-forget; otherwise the continuation receives the decoded
// answer payload or an error exactly once. A timeout <= 0 uses the default.
func (c *Client) sendQuest(method string, payload map[string]any, cont pending.Continuation, timeout time.Duration) {
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}

	c.mu.Lock()
	conn := c.conn
	destroyed := c.destroyed
	c.mu.Unlock()
	if destroyed {
		if cont != nil {
			cont(nil, ErrClientDestroyed)
		}
		return
	}
	if conn == nil {
		if cont != nil {
			cont(nil, ErrNotConnected)
		}
		return
	}

	body, err := wire.EncodePayload(payload)
	if err != nil {
		if cont != nil {
			cont(nil, fmt.Errorf("rtm: encode %s: %w", method, err))
		}
		return
	}

	seq := c.seq.Add(1)
	if cont != nil {
		if rerr := c.pending.Register(seq, cont, timeout); rerr != nil {
			cont(nil, rerr)
			return
		}
	}

	frame := wire.Quest(method, seq, body)
	if cont == nil {
		frame.MType = wire.MTypeOneWay
	}
	if serr := conn.Send(frame); serr != nil {
		if cont != nil {
			c.pending.ResolveFailure(seq, serr)
		} else {
			c.emitError(serr)
		}
	}
}

func (c *Client) sendAnswer(f *wire.Frame) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Send(f); err != nil {
		c.emitError(err)
	}
}

// onFrame runs on the network read path: answers resolve the pending
// registry, server quests go to the push processor.
func (c *Client) onFrame(f *wire.Frame) {
	if f.IsQuest() {
		c.proc.process(f)
		return
	}

	if f.Status != 0 {
		m, derr := wire.DecodePayload(f.Payload)
		if derr != nil {
			c.pending.ResolveFailure(f.Seq, derr)
			return
		}
		c.pending.ResolveFailure(f.Seq, &AnswerError{
			Code:    int(asInt64(m["code"])),
			Message: asString(m["ex"]),
		})
		return
	}

	m, derr := wire.DecodePayload(f.Payload)
	if derr != nil {
		// Request-scoped decode failure: fail that quest, keep the
		// connection.
		c.pending.ResolveFailure(f.Seq, derr)
		return
	}
	c.pending.ResolveSuccess(f.Seq, m)
}

func (c *Client) emitError(err error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed || err == nil {
		return
	}
	c.log.Debug("session error", zap.Error(err))
	if c.OnError != nil {
		c.OnError(err)
	}
}
