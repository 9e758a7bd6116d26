package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/UkemeSkywalker/Quanta/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	writeTimeout     = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

// ErrInvalidTarget is returned when a transport cannot even be constructed
// for the requested target. It is never retried automatically.
var ErrInvalidTarget = errors.New("invalid target")

// Conn is a live duplex transport. Read is called from a single goroutine;
// Write, WriteClose and Close may be called from any goroutine.
type Conn interface {
	Read() ([]byte, error)
	Write(data []byte) error
	// WriteClose sends a close frame with code. The caller still owns Close.
	WriteClose(code int) error
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, target string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

// Dial validates target and performs the websocket handshake.
func (d WebsocketDialer) Dial(ctx context.Context, target string) (Conn, error) {
	if err := validateTarget(target); err != nil {
		return nil, err
	}
	dialer := d.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		}
	}
	conn, resp, err := dialer.DialContext(ctx, target, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", target, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &wsConn{conn: conn}, nil
}

func validateTarget(target string) error {
	if target == "" {
		return fmt.Errorf("%w: empty url", ErrInvalidTarget)
	}
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidTarget, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidTarget)
	}
	return nil
}

// Endpoint builds {base}/ws/{clientID}.
func Endpoint(base, clientID string) (string, error) {
	if clientID == "" {
		return "", fmt.Errorf("%w: empty client id", ErrInvalidTarget)
	}
	if err := validateTarget(base); err != nil {
		return "", err
	}
	return url.JoinPath(base, "ws", clientID)
}

// CloseCode extracts the close code from a read error. Anything that is not a
// close frame from the peer counts as an abnormal closure.
func CloseCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return protocol.CloseAbnormal
}

type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex // serialises data frames (heartbeat, subscribe, app sends)
}

func (c *wsConn) Read() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) Write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) WriteClose(code int) error {
	msg := websocket.FormatCloseMessage(code, "")
	return c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
