// Package cropsession tracks the position of a fixed-size crop box while the
// user drags it over a displayed image.
package cropsession

import (
	"math"

	"github.com/menta2k/image-assistant/pkg/types"
)

// DefaultBoxSize is the square crop box used when no size is configured
var DefaultBoxSize = types.Dimensions{Width: 256, Height: 256}

// dragState exists only between pointer down and pointer up/cancel
type dragState struct {
	lastPointer types.Point
}

// Session owns the crop box and the active drag for one crop interaction.
// It keeps no container size: every move is clamped against the dimensions
// supplied with it.
type Session struct {
	box  types.CropBox
	drag *dragState
}

// New creates an idle session with the box at the container origin
func New(boxSize types.Dimensions) *Session {
	return &Session{
		box: types.CropBox{
			Width:  math.Max(0, boxSize.Width),
			Height: math.Max(0, boxSize.Height),
		},
	}
}

// Box returns the current crop box
func (s *Session) Box() types.CropBox {
	return s.box
}

// Dragging reports whether a drag gesture is in progress
func (s *Session) Dragging() bool {
	return s.drag != nil
}

// PointerDown starts a drag anchored at p. The box keeps its current,
// already clamped, position.
func (s *Session) PointerDown(p types.Point) {
	s.drag = &dragState{lastPointer: p}
}

// PointerMove moves the box by the pointer delta since the last event and
// clamps it inside container. It is a no-op while idle.
func (s *Session) PointerMove(p types.Point, container types.Dimensions) types.CropBox {
	if s.drag == nil {
		return s.box
	}
	d := p.Sub(s.drag.lastPointer)
	s.box.X = clampAxis(s.box.X+d.X, container.Width, s.box.Width)
	s.box.Y = clampAxis(s.box.Y+d.Y, container.Height, s.box.Height)
	s.drag.lastPointer = p
	return s.box
}

// PointerUp ends the drag. The box stays where it is.
func (s *Session) PointerUp() {
	s.drag = nil
}

// PointerCancel ends the drag the same way PointerUp does
func (s *Session) PointerCancel() {
	s.drag = nil
}

// Handle dispatches an abstract pointer event
func (s *Session) Handle(ev types.PointerEvent, container types.Dimensions) types.CropBox {
	switch ev.Kind {
	case types.PointerDown:
		s.PointerDown(ev.Point())
	case types.PointerMove:
		return s.PointerMove(ev.Point(), container)
	case types.PointerUp:
		s.PointerUp()
	case types.PointerCancel:
		s.PointerCancel()
	}
	return s.box
}

// Reclamp pulls the box back inside container after a layout change
func (s *Session) Reclamp(container types.Dimensions) types.CropBox {
	s.box.X = clampAxis(s.box.X, container.Width, s.box.Width)
	s.box.Y = clampAxis(s.box.Y, container.Height, s.box.Height)
	return s.box
}

// Place moves the box to p, clamped inside container. An active drag keeps
// its anchor.
func (s *Session) Place(p types.Point, container types.Dimensions) types.CropBox {
	s.box.X = clampAxis(p.X, container.Width, s.box.Width)
	s.box.Y = clampAxis(p.Y, container.Height, s.box.Height)
	return s.box
}

// clampAxis bounds v to [0, container-box]. A box larger than the container
// collapses the range to 0.
func clampAxis(v, container, box float64) float64 {
	hi := container - box
	if !(hi > 0) {
		hi = 0
	}
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
