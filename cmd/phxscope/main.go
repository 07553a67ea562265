// phxscope is an interactive inspector for Phoenix channel servers. It
// connects to a socket endpoint, joins topics, pushes events and shows
// the traffic in a terminal UI. The same command surface is served over
// HTTP and WebSocket when a control port is configured, and traffic can
// be mirrored to Redis or RabbitMQ.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/orchestra-mcp/phxscope/providers"
	"github.com/orchestra-mcp/phxscope/src/clipboard"
	"github.com/orchestra-mcp/phxscope/src/history"
	"github.com/orchestra-mcp/phxscope/src/preview"
	"github.com/orchestra-mcp/phxscope/src/service"
	"github.com/orchestra-mcp/phxscope/src/transport"
	"github.com/orchestra-mcp/phxscope/src/tui"
	"github.com/orchestra-mcp/phxscope/src/types"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs, opts := flagSet()
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(fs)
			return nil
		}
		return err
	}
	if opts.help {
		printHelp(fs)
		return nil
	}
	if args := fs.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := loadConfig(fs, opts)
	if err != nil {
		return err
	}
	if opts.headless && cfg.Listen == "" {
		return errors.New("--headless needs a control port, set --listen")
	}

	logger, closer, err := newLogger(cfg.LogLevel, cfg.LogFile, opts.headless)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	store := history.New(cfg.HistoryLimit)
	for field, values := range cfg.History {
		store.Replace(field, values)
	}
	renderer := preview.New(cfg.PreviewStyle)
	tty, ttyCloser := terminal()
	if ttyCloser != nil {
		defer ttyCloser.Close()
	}
	svc := service.New(service.Config{
		Transport:   transport.New(transport.OptionsFromConfig(cfg), logger),
		History:     store,
		Renderer:    renderer,
		Clipboard:   clipboard.New(tty),
		AutoHistory: cfg.AutoHistory,
	}, logger)

	var events <-chan types.Event
	if !opts.headless {
		events = tui.Subscribe(svc)
	}

	plugin := providers.NewControlPlugin(svc, cfg, logger)
	if err := plugin.Activate(); err != nil {
		return err
	}
	defer plugin.Deactivate()

	serveErr := make(chan error, 1)
	if cfg.Listen != "" {
		go func() { serveErr <- plugin.ListenAndServe() }()
	}

	joinOnConnect(svc, cfg.Topics, logger)
	if cfg.Endpoint != "" {
		if err := svc.Connect(cfg.Endpoint); err != nil {
			return err
		}
	}

	if opts.headless {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down")
			return svc.Disconnect()
		case err := <-serveErr:
			return err
		}
	}

	program := tea.NewProgram(tui.NewModel(svc, renderer, events), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return err
	}
	return svc.Disconnect()
}

// joinOnConnect joins topics every time a connection opens.
func joinOnConnect(svc *service.Service, topics []string, logger zerolog.Logger) {
	if len(topics) == 0 {
		return
	}
	svc.OnEvent(func(e types.Event) {
		if e.Kind != types.EventConnectionEstablished {
			return
		}
		// Open callbacks run on the socket's dial goroutine.
		go func() {
			for _, topic := range topics {
				if err := svc.Join(topic); err != nil {
					logger.Warn().Err(err).Str("topic", topic).Msg("auto-join failed")
				}
			}
		}()
	})
}

// terminal returns the controlling tty for clipboard sequences, falling
// back to stderr. The closer is nil for the fallback.
func terminal() (io.Writer, io.Closer) {
	return openTerminal("/dev/tty")
}

func openTerminal(path string) (io.Writer, io.Closer) {
	tty, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return os.Stderr, nil
	}
	return tty, tty
}

func printHelp(fs *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `phxscope: inspect Phoenix channel servers.

Usage:
  phxscope [flags]

Flags:
%s
Environment:
  PHXSCOPE_ENDPOINT, PHXSCOPE_TOPICS, PHXSCOPE_PROTOCOL_VERSION,
  PHXSCOPE_LISTEN, PHXSCOPE_LOG_LEVEL, PHXSCOPE_RELAY, PHXSCOPE_RELAY_PREFIX,
  REDIS_ADDR, REDIS_PASSWORD, REDIS_DB, RABBITMQ_URL
`, fs.FlagUsages())
}
