// Package transport is a Phoenix channels client over WebSocket. It
// frames messages, keeps the socket alive with heartbeats and resolves
// join replies; it never reconnects on its own.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/phxscope/config"
	"github.com/orchestra-mcp/phxscope/src/types"
	"github.com/rs/zerolog"
)

// Options configure sockets created by a Transport.
type Options struct {
	ProtocolVersion string
	Params          map[string]string
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
}

// OptionsFromConfig derives transport options from the inspector config.
func OptionsFromConfig(cfg *config.InspectorConfig) Options {
	return Options{
		ProtocolVersion: cfg.ProtocolVersion,
		Params:          cfg.Params,
		PingInterval:    time.Duration(cfg.PingInterval) * time.Second,
		WriteTimeout:    time.Duration(cfg.WriteTimeout) * time.Second,
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		SendBufferSize:  cfg.SendBufferSize,
	}
}

// DialFunc opens the underlying connection for a socket.
type DialFunc func(ctx context.Context, endpoint string) (types.Conn, error)

// Transport creates Phoenix sockets.
type Transport struct {
	opts   Options
	dial   DialFunc
	logger zerolog.Logger
}

// New creates a transport dialing real WebSocket connections.
func New(opts Options, logger zerolog.Logger) *Transport {
	return NewWithDialer(opts, websocketDialer(opts), logger)
}

// NewWithDialer creates a transport using dial to open connections.
func NewWithDialer(opts Options, dial DialFunc, logger zerolog.Logger) *Transport {
	if opts.ProtocolVersion == "" {
		opts.ProtocolVersion = "2.0.0"
	}
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = 256
	}
	return &Transport{
		opts:   opts,
		dial:   dial,
		logger: logger.With().Str("component", "transport").Logger(),
	}
}

// Dial implements types.Transport. The returned socket is idle until
// Connect is called.
func (t *Transport) Dial(endpoint string) types.Socket {
	return newSocket(endpoint, t.opts, t.dial, t.logger)
}

// EndpointURL builds the WebSocket URL for a Phoenix socket endpoint:
// http(s) schemes become ws(s), "/websocket" is appended unless present,
// and vsn plus any extra params go into the query.
func EndpointURL(endpoint, vsn string, params map[string]string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("endpoint %q: missing host", endpoint)
	}
	if !strings.HasSuffix(u.Path, "/websocket") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/websocket"
	}

	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	if vsn != "" {
		q.Set("vsn", vsn)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func websocketDialer(opts Options) DialFunc {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
		ReadBufferSize:   opts.ReadBufferSize,
		WriteBufferSize:  opts.WriteBufferSize,
	}
	return func(ctx context.Context, endpoint string) (types.Conn, error) {
		conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("dial %s: %w (http %d)", endpoint, err, resp.StatusCode)
			}
			return nil, fmt.Errorf("dial %s: %w", endpoint, err)
		}
		return &wsConn{conn: conn, writeTimeout: opts.WriteTimeout}, nil
	}
}

// wsConn wraps fasthttp/websocket.Conn to satisfy types.Conn.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

func (w *wsConn) WriteJSON(v any) error {
	if w.writeTimeout > 0 {
		if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
			return err
		}
	}
	return w.conn.WriteJSON(v)
}

func (w *wsConn) ReadJSON(v any) error { return w.conn.ReadJSON(v) }

// Close sends a normal close frame and closes the connection once.
func (w *wsConn) Close() error {
	w.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}
