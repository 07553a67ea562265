package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/orchestra-mcp/phxscope/src/service"
	"github.com/orchestra-mcp/phxscope/src/types"
)

// PreviewContainer is the renderer container backing the preview pane.
const PreviewContainer = "preview"

// ErrUnknownCommand is returned for lines that are not a known slash
// command.
var ErrUnknownCommand = errors.New("unknown command, try /help")

// Action is one parsed command line.
type Action struct {
	Command types.Command
	// Entry is the 1-based traffic log index /preview and /copy refer to.
	Entry int
	Quit  bool
	Help  bool
}

var helpLines = []string{
	"/connect <url>            open a socket, replacing the current one",
	"/disconnect               close the socket",
	"/join <topic>             join a channel and make it the send target",
	"/send <event> [payload]   push on the active channel (JSON or text)",
	"/preview <n>              show traffic entry n in the preview pane",
	"/copy <n>                 copy traffic entry n's payload",
	"/quit                     exit",
}

// Parse turns a command line into an action.
func Parse(line string) (Action, error) {
	line = strings.TrimSpace(line)
	name, rest := cut(line)
	switch name {
	case "/connect":
		if rest == "" {
			return Action{}, fmt.Errorf("%w: usage /connect <url>", service.ErrInvalidCommand)
		}
		return Action{Command: types.Command{Name: types.CommandConnect, URL: rest}}, nil
	case "/disconnect":
		return Action{Command: types.Command{Name: types.CommandDisconnect}}, nil
	case "/join":
		if rest == "" {
			return Action{}, fmt.Errorf("%w: usage /join <topic>", service.ErrInvalidCommand)
		}
		return Action{Command: types.Command{Name: types.CommandJoin, Topic: rest}}, nil
	case "/send":
		event, payload := cut(rest)
		if event == "" {
			return Action{}, fmt.Errorf("%w: usage /send <event> [payload]", service.ErrInvalidCommand)
		}
		return Action{Command: types.Command{Name: types.CommandSend, Event: event, Payload: payload}}, nil
	case "/preview", "/copy":
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 {
			return Action{}, fmt.Errorf("%w: usage %s <n>", service.ErrInvalidCommand, name)
		}
		if name == "/preview" {
			return Action{Command: types.Command{Name: types.CommandPreview, ContainerID: PreviewContainer}, Entry: n}, nil
		}
		return Action{Command: types.Command{Name: types.CommandCopy}, Entry: n}, nil
	case "/quit", "/q":
		return Action{Quit: true}, nil
	case "/help", "/?":
		return Action{Help: true}, nil
	default:
		return Action{}, ErrUnknownCommand
	}
}

// Completion reports which history field the argument under the cursor
// belongs to, the term typed so far and the line prefix preceding it.
// ok is false when the line has no completable argument.
func Completion(line string) (field, term, prefix string, ok bool) {
	name, rest := cut(strings.TrimLeft(line, " "))
	if !strings.Contains(line, " ") {
		return "", "", "", false
	}
	head := line[:len(line)-len(rest)]
	switch name {
	case "/connect":
		return service.FieldURL, rest, head, true
	case "/join":
		return service.FieldTopic, rest, head, true
	case "/send":
		event, payload := cut(rest)
		if !strings.Contains(rest, " ") {
			return service.FieldEvent, event, head, true
		}
		return service.FieldPayload, payload, line[:len(line)-len(payload)], true
	}
	return "", "", "", false
}

// cut splits s at the first run of spaces.
func cut(s string) (string, string) {
	head, tail, _ := strings.Cut(s, " ")
	return head, strings.TrimLeft(tail, " ")
}
