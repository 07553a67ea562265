package providers

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/orchestra-mcp/phxscope/src/service"
	"github.com/orchestra-mcp/phxscope/src/types"
	"github.com/valyala/fasthttp"
)

const eventsPath = "/ws/events"

var upgrader = websocket.FastHTTPUpgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// RegisterRoutes registers the REST command routes via Fiber. The event
// stream upgrade uses FastHTTPHandler, dispatched by Handler, since
// Fiber v3 does not expose *fasthttp.RequestCtx.
func (p *ControlPlugin) RegisterRoutes(router fiber.Router) {
	api := router.Group("/api")
	api.Get("/status", p.handleStatus)
	api.Get("/commands", p.handleCommands)
	api.Post("/connect", p.handleConnect)
	api.Post("/disconnect", p.handleDisconnect)
	api.Post("/join", p.handleJoin)
	api.Post("/send", p.handleSend)
	api.Post("/preview", p.handlePreview)
	api.Post("/copy", p.handleCopy)
	api.Get("/history/:field", p.handleSuggest)
	api.Post("/history/:field", p.handleRecord)
}

type connectRequest struct {
	URL string `json:"url"`
}

type joinRequest struct {
	Topic string `json:"topic"`
}

type sendRequest struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type previewRequest struct {
	ContainerID string          `json:"container_id"`
	Data        json.RawMessage `json:"data"`
}

type copyRequest struct {
	Text string `json:"text"`
}

type recordRequest struct {
	Value string `json:"value"`
}

func (p *ControlPlugin) handleStatus(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":      p.service.Status(),
		"subscribers": p.events.count(),
		"relay":       p.relayAvailable(),
	})
}

func (p *ControlPlugin) handleCommands(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"commands": commandCatalog})
}

func (p *ControlPlugin) handleConnect(c fiber.Ctx) error {
	var req connectRequest
	if err := decode(c, &req); err != nil {
		return respondError(c, err)
	}
	return p.run(c, types.Command{Name: types.CommandConnect, URL: req.URL})
}

func (p *ControlPlugin) handleDisconnect(c fiber.Ctx) error {
	return p.run(c, types.Command{Name: types.CommandDisconnect})
}

func (p *ControlPlugin) handleJoin(c fiber.Ctx) error {
	var req joinRequest
	if err := decode(c, &req); err != nil {
		return respondError(c, err)
	}
	return p.run(c, types.Command{Name: types.CommandJoin, Topic: req.Topic})
}

func (p *ControlPlugin) handleSend(c fiber.Ctx) error {
	var req sendRequest
	if err := decode(c, &req); err != nil {
		return respondError(c, err)
	}
	return p.run(c, types.Command{
		Name:    types.CommandSend,
		Topic:   req.Topic,
		Event:   req.Event,
		Payload: rawText(req.Payload),
	})
}

func (p *ControlPlugin) handlePreview(c fiber.Ctx) error {
	var req previewRequest
	if err := decode(c, &req); err != nil {
		return respondError(c, err)
	}
	return p.run(c, types.Command{Name: types.CommandPreview, ContainerID: req.ContainerID, Data: req.Data})
}

func (p *ControlPlugin) handleCopy(c fiber.Ctx) error {
	var req copyRequest
	if err := decode(c, &req); err != nil {
		return respondError(c, err)
	}
	return p.run(c, types.Command{Name: types.CommandCopy, Value: req.Text})
}

func (p *ControlPlugin) handleSuggest(c fiber.Ctx) error {
	return p.run(c, types.Command{Name: types.CommandSuggest, Field: c.Params("field"), Value: c.Query("term")})
}

func (p *ControlPlugin) handleRecord(c fiber.Ctx) error {
	var req recordRequest
	if err := decode(c, &req); err != nil {
		return respondError(c, err)
	}
	return p.run(c, types.Command{Name: types.CommandRecordHistory, Field: c.Params("field"), Value: req.Value})
}

// run executes cmd on the service and writes the outcome.
func (p *ControlPlugin) run(c fiber.Ctx, cmd types.Command) error {
	res, err := p.service.Execute(cmd)
	if err != nil {
		p.logger.Debug().Err(err).Str("command", string(cmd.Name)).Msg("command rejected")
		return respondError(c, err)
	}
	body := fiber.Map{"ok": true}
	if res != nil {
		body["result"] = res
	}
	return c.JSON(body)
}

func decode(c fiber.Ctx, v any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.Body(), v); err != nil {
		return errors.Join(service.ErrInvalidCommand, err)
	}
	return nil
}

func respondError(c fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidCommand):
		status = fiber.StatusBadRequest
	case errors.Is(err, service.ErrNotConnected), errors.Is(err, service.ErrNotJoined):
		status = fiber.StatusConflict
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// rawText turns a JSON payload field into operator text: strings are
// unquoted, any other value is passed on as its JSON source.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// FastHTTPHandler returns a raw fasthttp handler for event stream
// upgrades.
func (p *ControlPlugin) FastHTTPHandler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		upgrade := string(ctx.Request.Header.Peek("Upgrade"))
		if !strings.EqualFold(upgrade, "websocket") {
			ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
			ctx.SetContentType("application/json")
			ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
			return
		}

		id := uuid.New().String()
		stream := p.events
		svc := p.service

		err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			s := newSubscriber(id, &fasthttpConn{conn}, stream, svc)
			stream.add(s)
			go s.writePump()
			s.readPump()
		})
		if err != nil {
			p.logger.Error().Err(err).Msg("websocket upgrade failed")
		}
	}
}

// fasthttpConn wraps fasthttp/websocket.Conn to satisfy types.Conn.
type fasthttpConn struct {
	conn *websocket.Conn
}

func (f *fasthttpConn) WriteJSON(v any) error { return f.conn.WriteJSON(v) }
func (f *fasthttpConn) ReadJSON(v any) error  { return f.conn.ReadJSON(v) }
func (f *fasthttpConn) Close() error          { return f.conn.Close() }
