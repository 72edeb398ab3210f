// dialer.go — WebSocket 传输: 拨号与帧读取。
package stream

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/multi-agent/agent-console/internal/wire"
	apperrors "github.com/multi-agent/agent-console/pkg/errors"
)

// Conn is one live per-thread push stream.
type Conn interface {
	// Read blocks for the next frame. Any error ends the subscription's
	// read loop and triggers the retry decision.
	Read() (wire.Envelope, error)
	Close() error
}

// Dialer opens a push stream for one thread, optionally resuming from a
// transport sequence so missed events replay gap-free.
type Dialer interface {
	Dial(ctx context.Context, threadID string, resumeFrom int64) (Conn, error)
}

const wsHandshakeTimeout = 5 * time.Second

// wsReadIdleTimeout 必须大于服务端心跳间隔, 否则空闲流会被误判断线。
const wsReadIdleTimeout = 120 * time.Second

// WSDialer dials the backend's per-thread event stream over WebSocket.
type WSDialer struct {
	BaseURL string
}

// NewWSDialer builds a dialer for the given backend base URL
// (http(s)://host:port).
func NewWSDialer(baseURL string) *WSDialer {
	return &WSDialer{BaseURL: strings.TrimRight(baseURL, "/")}
}

func (d *WSDialer) streamURL(threadID string, resumeFrom int64) string {
	base := d.BaseURL
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	u := fmt.Sprintf("%s/api/threads/%s/events", base, url.PathEscape(threadID))
	if resumeFrom > 0 {
		u += fmt.Sprintf("?since=%d", resumeFrom)
	}
	return u
}

func (d *WSDialer) Dial(ctx context.Context, threadID string, resumeFrom int64) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
		NetDialContext:   (&net.Dialer{Timeout: wsHandshakeTimeout}).DialContext,
	}
	conn, _, err := dialer.DialContext(ctx, d.streamURL(threadID, resumeFrom), nil)
	if err != nil {
		return nil, apperrors.Wrapf(err, "WSDialer.Dial", "thread %s", threadID)
	}
	_ = conn.SetReadDeadline(time.Now().Add(wsReadIdleTimeout))
	conn.SetPingHandler(func(payload string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadIdleTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(payload), time.Now().Add(wsHandshakeTimeout))
	})
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read() (wire.Envelope, error) {
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return wire.Envelope{}, err
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(wsReadIdleTimeout))
	return wire.ParseEnvelope(raw), nil
}

func (c *wsConn) Close() error { return c.conn.Close() }
