package conn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is one open, message-framed link to the controller.
// WriteMessage and Ping may be called from several goroutines.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(b []byte) error
	Ping() error
	Close() error
}

// Dialer opens a Transport to url.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Transport, error) { return f(ctx, url) }

const writeWait = 5 * time.Second

// WebsocketDialer dials the controller over a gorilla websocket.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
	}
	c, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &wsTransport{conn: c}, nil
}

type wsTransport struct {
	conn     *websocket.Conn
	connLock sync.Mutex
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, b, err := t.conn.ReadMessage()
	return b, err
}

func (t *wsTransport) WriteMessage(b []byte) error {
	t.connLock.Lock()
	defer t.connLock.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, b)
}

func (t *wsTransport) Ping() error {
	t.connLock.Lock()
	defer t.connLock.Unlock()
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
