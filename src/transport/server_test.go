package transport

import (
	"net"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/phxscope/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

// startPhoenixServer runs a minimal v2 Phoenix endpoint: it accepts
// joins (rejecting "room:secret") and echoes every other event back as
// "echo:<event>".
func startPhoenixServer(t *testing.T) string {
	t.Helper()
	upgrader := websocket.FastHTTPUpgrader{}
	srv := &fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			if string(ctx.Path()) != "/socket/websocket" || string(ctx.QueryArgs().Peek("vsn")) != "2.0.0" {
				ctx.SetStatusCode(fasthttp.StatusNotFound)
				return
			}
			err := upgrader.Upgrade(ctx, servePhoenix)
			if err != nil {
				t.Logf("upgrade failed: %v", err)
			}
		},
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)
	t.Cleanup(func() { ln.Close() })
	return "ws://" + ln.Addr().String() + "/socket"
}

func servePhoenix(conn *websocket.Conn) {
	defer conn.Close()
	for {
		var frame []any
		if err := conn.ReadJSON(&frame); err != nil || len(frame) != 5 {
			return
		}
		joinRef, ref, topic, event, payload := frame[0], frame[1], frame[2], frame[3], frame[4]

		var out []any
		switch event {
		case "phx_join":
			status, response := "ok", any(map[string]any{})
			if topic == "room:secret" {
				status, response = "error", map[string]any{"reason": "unauthorized"}
			}
			out = []any{joinRef, ref, topic, "phx_reply", map[string]any{"status": status, "response": response}}
		case "heartbeat":
			out = []any{nil, ref, topic, "phx_reply", map[string]any{"status": "ok", "response": map[string]any{}}}
		default:
			name, _ := event.(string)
			out = []any{joinRef, nil, topic, "echo:" + name, payload}
		}
		if err := conn.WriteJSON(out); err != nil {
			return
		}
	}
}

func TestRoundTripAgainstServer(t *testing.T) {
	endpoint := startPhoenixServer(t)
	tr := New(Options{PingInterval: 50 * time.Millisecond, WriteTimeout: time.Second}, zerolog.Nop())

	sock := tr.Dial(endpoint)
	opened := make(chan struct{})
	sock.OnOpen(func() { close(opened) })
	sock.OnError(func(err error) { t.Errorf("socket error: %v", err) })
	sock.Connect()
	t.Cleanup(func() { sock.Disconnect() })

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("socket did not open")
	}

	type inbound struct {
		event   string
		payload any
	}
	messages := make(chan inbound, 8)
	ch := sock.Channel("room:lobby")
	ch.OnMessage(func(event string, payload any) any {
		messages <- inbound{event, payload}
		return payload
	})

	joined := make(chan struct{})
	ch.Join().Receive(types.StatusOK, func(any) { close(joined) })
	select {
	case <-joined:
	case <-time.After(2 * time.Second):
		t.Fatal("join not acknowledged")
	}

	require.NoError(t, ch.Push("ping", map[string]any{"n": float64(1)}))
	require.NoError(t, ch.Push("ping", "hello"))

	var echoes []inbound
	deadline := time.After(2 * time.Second)
	for len(echoes) < 2 {
		select {
		case m := <-messages:
			if m.event == "echo:ping" {
				echoes = append(echoes, m)
			}
		case <-deadline:
			t.Fatalf("got %d echoes, want 2", len(echoes))
		}
	}
	assert.Equal(t, map[string]any{"n": float64(1)}, echoes[0].payload)
	assert.Equal(t, "hello", echoes[1].payload)
}

func TestJoinRejectedByServer(t *testing.T) {
	endpoint := startPhoenixServer(t)
	tr := New(Options{}, zerolog.Nop())

	sock := tr.Dial(endpoint)
	opened := make(chan struct{})
	sock.OnOpen(func() { close(opened) })
	sock.Connect()
	t.Cleanup(func() { sock.Disconnect() })
	<-opened

	failed := make(chan any, 1)
	sock.Channel("room:secret").Join().Receive(types.StatusError, func(resp any) { failed <- resp })

	select {
	case resp := <-failed:
		assert.Equal(t, map[string]any{"reason": "unauthorized"}, resp)
	case <-time.After(2 * time.Second):
		t.Fatal("join rejection not delivered")
	}
}

func TestDialFailsForUnknownPath(t *testing.T) {
	endpoint := startPhoenixServer(t)
	tr := New(Options{}, zerolog.Nop())

	sock := tr.Dial(endpoint + "/nope")
	errs := make(chan error, 1)
	sock.OnError(func(err error) { errs <- err })
	sock.Connect()

	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), "http 404")
	case <-time.After(2 * time.Second):
		t.Fatal("dial failure not reported")
	}
}
