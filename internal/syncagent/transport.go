package syncagent

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
)

// Conn is one realtime connection to a session authority.
type Conn interface {
	Send(ctx context.Context, data []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

type Transport interface {
	Dial(ctx context.Context, sessionID string) (Conn, error)
}

// WebsocketTransport dials the server's /ws endpoint.
type WebsocketTransport struct {
	// BaseURL is the server root, e.g. ws://localhost:8080 or http://localhost:8080.
	BaseURL    string
	HTTPClient *http.Client
}

func (t WebsocketTransport) Dial(ctx context.Context, sessionID string) (Conn, error) {
	u, err := url.Parse(strings.TrimRight(t.BaseURL, "/") + "/ws")
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.RawQuery = url.Values{"session": {sessionID}}.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPClient: t.HTTPClient})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	conn.SetReadLimit(1 << 20)
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Send(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Recv(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
