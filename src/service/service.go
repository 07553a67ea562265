package service

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/orchestra-mcp/phxscope/src/codec"
	"github.com/orchestra-mcp/phxscope/src/history"
	"github.com/orchestra-mcp/phxscope/src/hub"
	"github.com/orchestra-mcp/phxscope/src/types"
	"github.com/rs/zerolog"
)

var (
	// ErrInvalidCommand is returned for commands with missing or malformed
	// arguments.
	ErrInvalidCommand = errors.New("invalid command")
	// ErrNotConnected is returned when joining before the connection is open.
	ErrNotConnected = hub.ErrNotConnected
	// ErrNotJoined is returned when sending before a channel is joined.
	ErrNotJoined = hub.ErrNotJoined
)

// History field ids recorded for successful commands.
const (
	FieldURL     = "url"
	FieldTopic   = "topic"
	FieldEvent   = "event"
	FieldPayload = "payload"
)

// Renderer displays a classified preview, replacing whatever was shown
// in the same container before.
type Renderer interface {
	Render(containerID string, p codec.Preview) error
}

// Clipboard copies text for the operator.
type Clipboard interface {
	Copy(text string) error
}

// Config wires the service's collaborators.
type Config struct {
	Transport   types.Transport
	History     *history.Store
	Renderer    Renderer
	Clipboard   Clipboard
	AutoHistory bool
}

// Service is the command/event surface UI layers talk to. It validates
// command preconditions and delegates protocol work to the hub.
type Service struct {
	hub         *hub.Hub
	history     *history.Store
	renderer    Renderer
	clipboard   Clipboard
	autoHistory bool
	logger      zerolog.Logger

	mu       sync.RWMutex
	handlers []types.EventHandler
	active   string
}

// Status is a snapshot of the bridge state.
type Status struct {
	State    types.ConnectionState         `json:"state"`
	Endpoint string                        `json:"endpoint,omitempty"`
	Active   string                        `json:"active_topic,omitempty"`
	Channels map[string]types.ChannelState `json:"channels"`
}

// New creates a service from cfg.
func New(cfg Config, logger zerolog.Logger) *Service {
	s := &Service{
		history:     cfg.History,
		renderer:    cfg.Renderer,
		clipboard:   cfg.Clipboard,
		autoHistory: cfg.AutoHistory,
		logger:      logger.With().Str("component", "service").Logger(),
	}
	if s.history == nil {
		s.history = history.New(0)
	}
	s.hub = hub.New(cfg.Transport, s.dispatch, logger)
	return s
}

// Hub returns the underlying hub.
func (s *Service) Hub() *hub.Hub { return s.hub }

// History returns the history store.
func (s *Service) History() *history.Store { return s.history }

// OnEvent registers a handler for every bridge event.
func (s *Service) OnEvent(h types.EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Connect opens a connection to endpoint, replacing any existing one.
func (s *Service) Connect(endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if err := validateEndpoint(endpoint); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	s.setActive("")
	s.hub.Connect(endpoint)
	s.remember(FieldURL, endpoint)
	return nil
}

// Disconnect closes the connection, if any.
func (s *Service) Disconnect() error {
	s.setActive("")
	return s.hub.Disconnect()
}

// Join starts joining topic and makes it the target of Send.
func (s *Service) Join(topic string) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return fmt.Errorf("join: %w: topic is required", ErrInvalidCommand)
	}
	if _, err := s.hub.OpenChannel(topic); err != nil {
		return fmt.Errorf("join %s: %w", topic, err)
	}

	s.setActive(topic)
	s.remember(FieldTopic, topic)
	return nil
}

// Send pushes event on the most recently joined topic. raw is sent as
// JSON when it parses, as a string otherwise.
func (s *Service) Send(event, raw string) error {
	topic := s.ActiveTopic()
	if topic == "" {
		return fmt.Errorf("send %q: %w", event, ErrNotJoined)
	}
	return s.SendTo(topic, event, raw)
}

// SendTo pushes event on topic.
func (s *Service) SendTo(topic, event, raw string) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return fmt.Errorf("send: %w: event is required", ErrInvalidCommand)
	}
	session, ok := s.hub.Session(topic)
	if !ok {
		return fmt.Errorf("send %q on %s: %w", event, topic, ErrNotJoined)
	}
	if err := session.Push(event, raw); err != nil {
		return err
	}

	s.remember(FieldEvent, event)
	s.remember(FieldPayload, raw)
	return nil
}

// RecordHistory remembers value for field.
func (s *Service) RecordHistory(field, value string) {
	s.history.Record(field, value)
}

// QuerySuggestions returns remembered values of field containing term.
func (s *Service) QuerySuggestions(field, term string) []string {
	return s.history.Suggest(field, term)
}

// RequestPreview classifies data and hands it to the renderer under
// containerID. Renderer errors are returned unchanged.
func (s *Service) RequestPreview(containerID string, data any) (codec.Preview, error) {
	p := codec.DecodeForPreview(data)
	if s.renderer == nil {
		return p, nil
	}
	return p, s.renderer.Render(containerID, p)
}

// CopyToClipboard copies text through the clipboard collaborator.
func (s *Service) CopyToClipboard(text string) error {
	if s.clipboard == nil {
		return errors.New("clipboard unavailable")
	}
	return s.clipboard.Copy(text)
}

// ActiveTopic returns the topic Send pushes to.
func (s *Service) ActiveTopic() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Status returns a snapshot of connection and channel state.
func (s *Service) Status() Status {
	return Status{
		State:    s.hub.State(),
		Endpoint: s.hub.Endpoint(),
		Active:   s.ActiveTopic(),
		Channels: s.hub.Channels(),
	}
}

func (s *Service) setActive(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = topic
}

func (s *Service) remember(field, value string) {
	if s.autoHistory {
		s.history.Record(field, value)
	}
}

func (s *Service) dispatch(e types.Event) {
	s.mu.RLock()
	handlers := append([]types.EventHandler(nil), s.handlers...)
	s.mu.RUnlock()

	s.logger.Debug().
		Str("kind", string(e.Kind)).
		Str("topic", e.Topic).
		Str("event", e.Event).
		Msg("event")
	for _, h := range handlers {
		h(e)
	}
}

func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidCommand)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidCommand, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: url has no host", ErrInvalidCommand)
	}
	return nil
}
