package providers

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/phxscope/config"
	"github.com/orchestra-mcp/phxscope/src/service"
	"github.com/orchestra-mcp/phxscope/src/transport/transporttest"
	"github.com/orchestra-mcp/phxscope/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	plugin    *ControlPlugin
	svc       *service.Service
	transport *transporttest.Transport
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tr := transporttest.New()
	svc := service.New(service.Config{Transport: tr, AutoHistory: true}, zerolog.Nop())
	p := NewControlPlugin(svc, config.DefaultConfig(), zerolog.Nop())
	require.NoError(t, p.Activate())
	t.Cleanup(func() { p.Deactivate() })
	return &fixture{plugin: p, svc: svc, transport: tr}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.plugin.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return resp.StatusCode, out
}

func (f *fixture) openJoined(t *testing.T, topic string) *transporttest.Channel {
	t.Helper()
	code, _ := f.do(t, http.MethodPost, "/api/connect", `{"url":"ws://host/socket"}`)
	require.Equal(t, http.StatusOK, code)
	sock := f.transport.Last()
	sock.Open()

	code, _ = f.do(t, http.MethodPost, "/api/join", `{"topic":"`+topic+`"}`)
	require.Equal(t, http.StatusOK, code)
	ch := sock.LastChannel(topic)
	ch.LastJoin().Resolve(types.StatusOK, nil)
	return ch
}

func TestStatusRoute(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusOK, code)

	status := body["status"].(map[string]any)
	assert.Equal(t, "disconnected", status["state"])
	assert.Equal(t, float64(0), body["subscribers"])
	assert.Equal(t, false, body["relay"])
}

func TestCommandsRoute(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/api/commands", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["commands"], len(commandCatalog))
}

func TestConnectJoinSendRoutes(t *testing.T) {
	f := newFixture(t)
	ch := f.openJoined(t, "room:lobby")

	code, _ := f.do(t, http.MethodPost, "/api/send", `{"event":"ping","payload":{"n":1}}`)
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodPost, "/api/send", `{"topic":"room:lobby","event":"ping","payload":"hello"}`)
	assert.Equal(t, http.StatusOK, code)

	assert.Equal(t, []transporttest.Pushed{
		{Event: "ping", Payload: map[string]any{"n": float64(1)}},
		{Event: "ping", Payload: "hello"},
	}, ch.Pushes())

	_, body := f.do(t, http.MethodGet, "/api/status", "")
	status := body["status"].(map[string]any)
	assert.Equal(t, "open", status["state"])
	assert.Equal(t, "room:lobby", status["active_topic"])
	assert.Equal(t, map[string]any{"room:lobby": "joined"}, status["channels"])
}

func TestPreconditionErrorsAreConflicts(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/api/join", `{"topic":"room:lobby"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, body["error"], "connection is not open")

	code, _ = f.do(t, http.MethodPost, "/api/send", `{"event":"ping","payload":"x"}`)
	assert.Equal(t, http.StatusConflict, code)
}

func TestInvalidCommandsAreBadRequests(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodPost, "/api/connect", `{"url":"ftp://host"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, http.MethodPost, "/api/connect", `{not json`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, http.MethodPost, "/api/connect", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestDisconnectRouteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.openJoined(t, "room:lobby")

	for i := 0; i < 2; i++ {
		code, body := f.do(t, http.MethodPost, "/api/disconnect", "")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, true, body["ok"])
	}
}

func TestHistoryRoutes(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodPost, "/api/history/topic", `{"value":"room:lobby"}`)
	assert.Equal(t, http.StatusOK, code)
	f.do(t, http.MethodPost, "/api/history/topic", `{"value":"room:other"}`)

	code, body := f.do(t, http.MethodGet, "/api/history/topic?term=LOBBY", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"room:lobby"}, body["result"])

	_, body = f.do(t, http.MethodGet, "/api/history/topic", "")
	assert.Equal(t, []any{"room:lobby", "room:other"}, body["result"])
}

func TestPreviewRoute(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/api/preview", `{"container_id":"pane","data":"{\"a\":1}"}`)
	assert.Equal(t, http.StatusOK, code)
	result := body["result"].(map[string]any)
	assert.Equal(t, "structured", result["kind"])
	assert.Equal(t, true, result["from_string"])

	_, body = f.do(t, http.MethodPost, "/api/preview", `{"container_id":"pane","data":null}`)
	assert.Equal(t, "empty", body["result"].(map[string]any)["kind"])
}

func TestCopyRouteWithoutClipboard(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodPost, "/api/copy", `{"text":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "clipboard unavailable", body["error"])
}

func TestRawText(t *testing.T) {
	assert.Equal(t, "", rawText(nil))
	assert.Equal(t, "", rawText(json.RawMessage(`null`)))
	assert.Equal(t, "hello", rawText(json.RawMessage(`"hello"`)))
	assert.Equal(t, `{"n":1}`, rawText(json.RawMessage(`{"n":1}`)))
	assert.Equal(t, "42", rawText(json.RawMessage(`42`)))
}

func TestServeRequiresActivate(t *testing.T) {
	p := NewControlPlugin(nil, config.DefaultConfig(), zerolog.Nop())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	assert.ErrorIs(t, p.Serve(ln), ErrNotActive)
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go f.plugin.Serve(ln)

	url := "ws://" + ln.Addr().String() + eventsPath
	var conn *websocket.Conn
	require.Eventually(t, func() bool {
		conn, _, err = websocket.DefaultDialer.Dial(url, nil)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.plugin.events.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Commands sent on the stream are executed and answered.
	require.NoError(t, conn.WriteJSON(types.Command{Name: types.CommandConnect, URL: "ws://host"}))
	var msg streamMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "result", msg.Type)
	assert.Equal(t, types.CommandConnect, msg.Command)
	assert.Empty(t, msg.Error)

	require.Eventually(t, func() bool { return f.transport.Last() != nil }, time.Second, 10*time.Millisecond)
	f.transport.Last().Open()

	msg = streamMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "event", msg.Type)
	require.NotNil(t, msg.Event)
	assert.Equal(t, types.EventConnectionEstablished, msg.Event.Kind)
	assert.Equal(t, "ws://host", msg.Event.Endpoint)

	require.NoError(t, conn.WriteJSON(types.Command{Name: "bogus"}))
	msg = streamMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Contains(t, msg.Error, "invalid command")
}

func TestEventStreamRequiresUpgrade(t *testing.T) {
	f := newFixture(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go f.plugin.Serve(ln)

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + ln.Addr().String() + eventsPath)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	stream := newEventStream(zerolog.Nop())
	s := newSubscriber("slow", nil, stream, nil)
	stream.add(s)

	for i := 0; i < subscriberBuffer+10; i++ {
		stream.publish(types.Event{Kind: types.EventMessageReceived})
	}
	assert.Len(t, s.send, subscriberBuffer)

	stream.closeAll()
	assert.Zero(t, stream.count())
	assert.False(t, s.offer(streamMessage{Type: "event"}))
}
