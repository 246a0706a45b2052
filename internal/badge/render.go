package badge

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"
)

// LogRenderer writes marker changes to the global logger.
type LogRenderer struct{}

// Render implements Renderer.
func (LogRenderer) Render(m Marker) {
	log.Info().
		Str("badge", m.State.String()).
		Str("text", m.Text).
		Str("color", m.Color).
		Msg("Badge updated")
}

// Style renders m as a colored terminal label. Blank renders as "".
func Style(m Marker) string {
	if m.State == StateBlank {
		return ""
	}
	return lipgloss.NewStyle().
		Bold(true).
		Padding(0, 1).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color(m.Color)).
		Render(m.Text)
}

// WriterRenderer prints each marker as a styled line.
type WriterRenderer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterRenderer creates a renderer writing to w.
func NewWriterRenderer(w io.Writer) *WriterRenderer {
	return &WriterRenderer{w: w}
}

// Render implements Renderer.
func (r *WriterRenderer) Render(m Marker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	label := Style(m)
	if label == "" {
		label = "(cleared)"
	}
	fmt.Fprintf(r.w, "badge: %s\n", label)
}

// MultiRenderer fans a marker out to several renderers.
type MultiRenderer []Renderer

// Render implements Renderer.
func (mr MultiRenderer) Render(m Marker) {
	for _, r := range mr {
		r.Render(m)
	}
}
