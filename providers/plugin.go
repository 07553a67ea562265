package providers

import (
	"errors"
	"net"
	"sync"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/phxscope/config"
	"github.com/orchestra-mcp/phxscope/src/relay"
	"github.com/orchestra-mcp/phxscope/src/service"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// ErrNotActive is returned when serving before Activate.
var ErrNotActive = errors.New("control plugin is not active")

// ControlPlugin exposes a Service over HTTP and WebSocket and mirrors
// its events to the configured relay.
type ControlPlugin struct {
	cfg     *config.InspectorConfig
	service *service.Service
	logger  zerolog.Logger

	mu      sync.Mutex
	active  bool
	app     *fiber.App
	events  *eventStream
	relay   relay.Relay
	forward *relay.Forwarder
	server  *fasthttp.Server
}

// NewControlPlugin creates a plugin for svc.
func NewControlPlugin(svc *service.Service, cfg *config.InspectorConfig, logger zerolog.Logger) *ControlPlugin {
	return &ControlPlugin{
		cfg:     cfg,
		service: svc,
		logger:  logger.With().Str("component", "control").Logger(),
	}
}

func (p *ControlPlugin) ID() string      { return "phxscope/control" }
func (p *ControlPlugin) Version() string { return "0.1.0" }

// IsActive reports whether Activate has run.
func (p *ControlPlugin) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Activate builds the routes, subscribes the event stream and starts
// the relay.
func (p *ControlPlugin) Activate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return nil
	}

	p.events = newEventStream(p.logger)
	p.app = fiber.New()
	p.RegisterRoutes(p.app)
	p.service.OnEvent(p.events.publish)

	// Relay failures are non-fatal; the inspector runs standalone.
	p.initRelay()

	p.active = true
	p.logger.Info().Str("plugin", p.ID()).Msg("control plugin activated")
	return nil
}

// initRelay tries to start the configured relay. Callers hold p.mu.
func (p *ControlPlugin) initRelay() {
	r, err := relay.New(p.cfg.Relay, p.service, p.logger)
	if err != nil {
		p.logger.Warn().Err(err).Msg("relay misconfigured, running standalone")
		return
	}
	if r == nil {
		return
	}
	if err := r.Start(); err != nil {
		p.logger.Warn().Err(err).Str("driver", p.cfg.Relay.Driver).Msg("relay unavailable, running standalone")
		return
	}

	p.relay = r
	p.forward = relay.NewForwarder(r, p.logger)
	p.service.OnEvent(p.forward.Handle)
	p.logger.Info().Str("driver", p.cfg.Relay.Driver).Msg("relay connected")
}

func (p *ControlPlugin) relayAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.relay != nil && p.relay.Available()
}

// Handler returns the fasthttp handler serving both the REST routes and
// the event stream.
func (p *ControlPlugin) Handler() fasthttp.RequestHandler {
	api := p.app.Handler()
	events := p.FastHTTPHandler()
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == eventsPath {
			events(ctx)
			return
		}
		api(ctx)
	}
}

// Serve accepts control connections on ln until Deactivate.
func (p *ControlPlugin) Serve(ln net.Listener) error {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return ErrNotActive
	}
	srv := &fasthttp.Server{
		Handler:         p.Handler(),
		Name:            "phxscope",
		ReadBufferSize:  p.cfg.ReadBufferSize,
		WriteBufferSize: p.cfg.WriteBufferSize,
	}
	p.server = srv
	p.mu.Unlock()

	p.logger.Info().Str("addr", ln.Addr().String()).Msg("control port listening")
	return srv.Serve(ln)
}

// ListenAndServe listens on the configured address and serves.
func (p *ControlPlugin) ListenAndServe() error {
	ln, err := net.Listen("tcp", p.cfg.Listen)
	if err != nil {
		return err
	}
	return p.Serve(ln)
}

// Deactivate stops the relay, the server and every event subscriber.
func (p *ControlPlugin) Deactivate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return nil
	}

	if p.forward != nil {
		p.forward.Close()
		p.forward = nil
	}
	if p.relay != nil {
		if err := p.relay.Stop(); err != nil {
			p.logger.Error().Err(err).Msg("relay stop error")
		}
		p.relay = nil
	}
	var err error
	if p.server != nil {
		err = p.server.Shutdown()
		p.server = nil
	}
	p.events.closeAll()
	p.active = false
	return err
}
