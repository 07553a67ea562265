// Package clipboard copies text to the operator's clipboard through the
// terminal's OSC 52 sequence.
package clipboard

import (
	"errors"
	"io"
	"sync"

	"github.com/muesli/termenv"
)

// ErrEmpty is returned when asked to copy nothing.
var ErrEmpty = errors.New("clipboard: nothing to copy")

// Clipboard writes copy sequences to a terminal.
type Clipboard struct {
	mu  sync.Mutex
	w   *recorder
	out *termenv.Output
}

// New creates a clipboard writing to w, normally the controlling tty.
func New(w io.Writer) *Clipboard {
	rec := &recorder{w: w}
	return &Clipboard{w: rec, out: termenv.NewOutput(rec)}
}

// Copy places text on the clipboard.
func (c *Clipboard) Copy(text string) error {
	if text == "" {
		return ErrEmpty
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.w.err = nil
	c.out.Copy(text)
	return c.w.err
}

// recorder keeps the first write error, which termenv discards.
type recorder struct {
	w   io.Writer
	err error
}

func (r *recorder) Write(p []byte) (int, error) {
	n, err := r.w.Write(p)
	if err != nil && r.err == nil {
		r.err = err
	}
	return n, err
}
