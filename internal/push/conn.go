package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// CloseClientInitiated is the close code sent when this side ends the
// connection on purpose. It never triggers a reconnect.
const CloseClientInitiated = websocket.CloseNormalClosure

// CloseAbnormal is reported when the peer disappears without a close frame.
const CloseAbnormal = websocket.CloseAbnormalClosure

// Conn is a connected push channel.
type Conn interface {
	// ReadMessage blocks until the next frame arrives or the connection fails.
	ReadMessage() ([]byte, error)
	// Close ends the connection with the given close code.
	Close(code int, reason string) error
}

// Dialer opens push connections.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, endpoint string) (Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, endpoint string) (Conn, error) {
	return f(ctx, endpoint)
}

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultPongWait         = 60 * time.Second
	writeWait               = 10 * time.Second
	maxMessageSize          = 1 << 20
)

// WebSocketDialer dials the push endpoint over gorilla/websocket and keeps
// the connection alive with pings. A connection that stops answering pings
// fails its next read.
type WebSocketDialer struct {
	// Token supplies the bearer credential; nil dials unauthenticated.
	Token func() (string, error)

	HandshakeTimeout time.Duration
	// PongWait is how long a silent connection is tolerated.
	PongWait time.Duration
}

// Dial connects to endpoint and starts the keepalive loop.
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	header := http.Header{}
	if d.Token != nil {
		token, err := d.Token()
		if err != nil {
			return nil, fmt.Errorf("resolving push credential: %w", err)
		}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	handshake := d.HandshakeTimeout
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}
	pongWait := d.PongWait
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshake,
	}
	ws, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing %s: %w", endpoint, err)
	}

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	c := &wsConn{ws: ws, done: make(chan struct{})}
	go c.keepalive(pongWait * 9 / 10)
	return c, nil
}

type wsConn struct {
	ws *websocket.Conn

	// writeMu serializes control frames; gorilla allows one concurrent writer.
	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if typ == websocket.TextMessage || typ == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(code, reason)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) keepalive(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// CloseCode classifies a read error into a websocket close code. Errors
// that carry no close frame count as abnormal closure.
func CloseCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CloseAbnormal
}

// IsClientInitiated reports whether the close code means the connection
// was ended on purpose and must not be re-established.
func IsClientInitiated(code int) bool {
	return code == CloseClientInitiated
}
