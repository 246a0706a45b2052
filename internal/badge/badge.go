// Package badge implements the status indicator: a small marker that shows
// whether the configured proxy is active, inactive or failing.
package badge

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/proxyauth/internal/metrics"
	"github.com/Rorqualx/proxyauth/internal/types"
)

// State identifies which marker is shown.
type State int

const (
	StateBlank State = iota
	StateOn
	StateOff
	StateError
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateOn:
		return "on"
	case StateOff:
		return "off"
	case StateError:
		return "error"
	default:
		return "blank"
	}
}

// Marker is what the indicator displays.
type Marker struct {
	State State
	Text  string
	Color string
}

// Markers.
var (
	Blank = Marker{State: StateBlank}
	On    = Marker{State: StateOn, Text: "ON", Color: "#4CAF50"}
	Off   = Marker{State: StateOff, Text: "OFF", Color: "#9E9E9E"}
	Error = Marker{State: StateError, Text: "!", Color: "#F44336"}
)

// ProxyStatus is the part of the proxy controller the indicator polls.
type ProxyStatus interface {
	CurrentlyActive(ctx context.Context) (bool, types.ProxySettings, error)
}

// Renderer displays a marker.
type Renderer interface {
	Render(m Marker)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(Marker)

// Render implements Renderer.
func (f RendererFunc) Render(m Marker) { f(m) }

// Indicator is the status indicator. All marker changes, including timer
// callbacks, are serialized by mu.
type Indicator struct {
	status    ProxyStatus
	renderer  Renderer
	autoClear time.Duration

	mu          sync.Mutex
	current     Marker
	errorActive bool
	timer       *time.Timer
	generation  uint64
}

// New creates an indicator. autoClear > 0 clears a reported error after
// that delay; 0 keeps it until Click.
func New(status ProxyStatus, renderer Renderer, autoClear time.Duration) *Indicator {
	if renderer == nil {
		renderer = LogRenderer{}
	}
	return &Indicator{
		status:    status,
		renderer:  renderer,
		autoClear: autoClear,
		current:   Blank,
	}
}

// Current returns the marker being shown.
func (i *Indicator) Current() Marker {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.current
}

// ErrorActive reports whether a reported error is still displayed.
func (i *Indicator) ErrorActive() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.errorActive
}

// Refresh polls the proxy controller and shows ON or OFF. A failing poll
// shows the error marker and returns the error. A reported error that has
// not been cleared yet is left in place.
func (i *Indicator) Refresh(ctx context.Context) (Marker, error) {
	i.mu.Lock()
	if i.errorActive {
		m := i.current
		i.mu.Unlock()
		return m, nil
	}
	i.mu.Unlock()

	active, _, err := i.status.CurrentlyActive(ctx)

	i.mu.Lock()
	defer i.mu.Unlock()

	// A ReportError may have landed during the poll.
	if i.errorActive {
		return i.current, nil
	}

	next := Off
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read proxy settings for badge")
		next = Error
	} else if active {
		next = On
	}
	i.show(next)
	return next, err
}

// ReportError shows the error marker for a proxy error.
func (i *Indicator) ReportError(details string) {
	metrics.RecordProxyError()
	log.Error().Str("details", details).Msg("Proxy error reported")

	i.mu.Lock()
	defer i.mu.Unlock()

	i.stopTimer()
	i.errorActive = true
	i.generation++
	i.show(Error)

	if i.autoClear > 0 {
		gen := i.generation
		i.timer = time.AfterFunc(i.autoClear, func() {
			i.mu.Lock()
			defer i.mu.Unlock()
			if gen != i.generation || !i.errorActive {
				return
			}
			log.Debug().Dur("after", i.autoClear).Msg("Auto-clearing error badge")
			i.clearLocked()
		})
	}
}

// Click is the indicator's click surface: it clears the marker.
func (i *Indicator) Click() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.clearLocked()
}

// Stop cancels a pending auto-clear.
func (i *Indicator) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stopTimer()
}

func (i *Indicator) clearLocked() {
	i.stopTimer()
	i.errorActive = false
	i.generation++
	i.show(Blank)
}

func (i *Indicator) stopTimer() {
	if i.timer != nil {
		i.timer.Stop()
		i.timer = nil
	}
}

// show must be called with mu held.
func (i *Indicator) show(m Marker) {
	changed := m != i.current
	i.current = m
	if changed {
		i.renderer.Render(m)
	}
}
