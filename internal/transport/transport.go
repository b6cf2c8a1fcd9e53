// Package transport owns the byte-stream side of one endpoint connection:
// dialing, serialized frame writes, the read loop, and close notification.
// It performs no session logic; reconnection belongs to the owner of the
// Conn, and a Conn is never reused after it closes.
package transport

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nexlink/rtmgo/internal/wire"
)

const (
	writeTimeout = 5 * time.Second
	readLimit    = 64 << 20
)

// Handlers are the connection lifecycle callbacks. OnClose fires exactly once
// per Conn, with the error that terminated the connection (nil for a local
// orderly close). OnFrame and OnError fire from the read-loop goroutine.
type Handlers struct {
	OnConnect func()
	OnClose   func(err error)
	OnFrame   func(f *wire.Frame)
	OnError   func(err error)
}

// Conn is one bidirectional frame connection to one endpoint.
type Conn interface {
	Connect() error
	Close(err error)
	Send(f *wire.Frame) error
	Connected() bool
}

type wsConn struct {
	endpoint string
	h        Handlers
	log      *zap.Logger

	wmu  sync.Mutex // serializes socket writes
	conn *websocket.Conn

	mu        sync.Mutex
	connected bool
	closed    bool
	closeErr  error
	closeOnce sync.Once
}

// NewWSConn prepares a WebSocket connection to endpoint ("host:port" or a
// full ws:// / wss:// URL). Nothing is dialed until Connect.
func NewWSConn(endpoint string, h Handlers, log *zap.Logger) Conn {
	if log == nil {
		log = zap.NewNop()
	}
	return &wsConn{endpoint: endpoint, h: h, log: log}
}

func wsURL(endpoint string) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	u := url.URL{Scheme: "ws", Host: endpoint}
	return u.String()
}

func (c *wsConn) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("transport: closed before connect")
	}
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(c.endpoint), nil)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", c.endpoint, err)
	}
	conn.SetReadLimit(readLimit)

	c.mu.Lock()
	if c.closed {
		// Close raced the dial and already consumed the close notification;
		// drop the socket instead of starting a read loop nobody owns.
		c.mu.Unlock()
		_ = conn.Close()
		return errors.New("transport: closed during connect")
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if c.h.OnConnect != nil {
		c.h.OnConnect()
	}

	go c.readLoop(conn)
	return nil
}

func (c *wsConn) readLoop(conn *websocket.Conn) {
	defer func() {
		c.teardown(conn)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.closeErr == nil && c.connected {
				c.closeErr = err
			}
			c.mu.Unlock()
			return
		}

		frame, derr := wire.Unmarshal(data)
		if derr != nil {
			// A frame we cannot parse at all is a connection-scoped fault:
			// seq correlation is no longer trustworthy past this point.
			c.log.Error("undecodable frame, closing connection", zap.Error(derr))
			c.mu.Lock()
			if c.closeErr == nil {
				c.closeErr = derr
			}
			c.mu.Unlock()
			return
		}

		if c.h.OnFrame != nil {
			c.h.OnFrame(frame)
		}
	}
}

// Send encodes and writes one frame under the write lock with a deadline.
func (c *wsConn) Send(f *wire.Frame) error {
	c.mu.Lock()
	conn, ok := c.conn, c.connected
	c.mu.Unlock()
	if !ok || conn == nil {
		return errors.New("transport: not connected")
	}

	data, err := f.Marshal()
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if werr := conn.WriteMessage(websocket.BinaryMessage, data); werr != nil {
		return fmt.Errorf("transport: write: %w", werr)
	}
	return nil
}

// Close tears the connection down. err records why; pass nil for an orderly
// local close. Safe to call multiple times and before Connect.
func (c *wsConn) Close(err error) {
	c.mu.Lock()
	if c.closeErr == nil {
		c.closeErr = err
	}
	// Stop the read loop from recording the socket error our own close is
	// about to provoke, and fail any Connect still in flight.
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.wmu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
			time.Now().Add(500*time.Millisecond))
		c.wmu.Unlock()
		_ = conn.Close() // wakes the read loop, which runs teardown
	} else {
		c.teardown(nil)
	}
}

func (c *wsConn) teardown(conn *websocket.Conn) {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	err := c.closeErr
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	c.closeOnce.Do(func() {
		if err != nil && wasConnected && c.h.OnError != nil {
			c.h.OnError(err)
		}
		if c.h.OnClose != nil {
			c.h.OnClose(err)
		}
	})
}

func (c *wsConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
