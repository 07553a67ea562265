// Package preview renders classified payload previews into named
// containers for terminal display.
package preview

import (
	"errors"
	"os"
	"strings"
	"sync"
	"unicode"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"github.com/orchestra-mcp/phxscope/src/codec"
)

// EmptyText is shown for payloads with nothing to render.
const EmptyText = "Nothing to show"

// ErrNoContainer is returned when Render is called without a container id.
var ErrNoContainer = errors.New("preview: container id is required")

// Renderer keeps the rendered view of every container. Rendering into a
// container replaces its previous content.
type Renderer struct {
	style string
	lip   *lipgloss.Renderer

	mu    sync.RWMutex
	width int
	views map[string]string
}

// New creates a renderer using the named chroma style. Unknown styles
// fall back to chroma's default.
func New(style string) *Renderer {
	if styles.Get(style) == styles.Fallback {
		style = "monokai"
	}
	// Output is always for the TUI, so the color profile is fixed rather
	// than detected from a possibly missing TTY.
	lip := lipgloss.NewRenderer(os.Stderr, termenv.WithProfile(termenv.ANSI256))
	lip.SetColorProfile(termenv.ANSI256)

	return &Renderer{
		style: style,
		lip:   lip,
		width: 80,
		views: make(map[string]string),
	}
}

// SetWidth sets the width used to center placeholder text.
func (r *Renderer) SetWidth(width int) {
	if width <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.width = width
}

// Render draws p into containerID.
func (r *Renderer) Render(containerID string, p codec.Preview) error {
	if containerID == "" {
		return ErrNoContainer
	}

	r.mu.RLock()
	width := r.width
	r.mu.RUnlock()

	var view string
	switch p.Kind {
	case codec.Structured:
		view = r.highlight(Sanitize(codec.Indent(p.Value)))
	case codec.PlainString:
		s, _ := p.Value.(string)
		view = Sanitize(s)
	default:
		view = r.lip.NewStyle().
			Width(width).
			Align(lipgloss.Center).
			Faint(true).
			Render(EmptyText)
	}

	r.mu.Lock()
	r.views[containerID] = view
	r.mu.Unlock()
	return nil
}

// View returns the content of containerID.
func (r *Renderer) View(containerID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.views[containerID]
	return v, ok
}

// Clear drops containerID.
func (r *Renderer) Clear(containerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.views, containerID)
}

func (r *Renderer) highlight(code string) string {
	var buf strings.Builder
	if err := quick.Highlight(&buf, code, "json", "terminal256", r.style); err != nil {
		return code
	}
	return strings.TrimRight(buf.String(), "\n")
}

// Sanitize makes remote text safe to print: escape sequences are removed
// and other control characters are dropped, except newlines and tabs.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, ansi.Strip(s))
}
