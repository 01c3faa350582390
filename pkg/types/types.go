package types

import "encoding/base64"

// Dimensions is a width/height pair. It describes either a container's rendered
// size or an image's natural pixel size.
type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Point is a screen or container-relative position
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Sub returns p - q
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// PointerKind identifies a pointer gesture transition
type PointerKind string

const (
	PointerDown   PointerKind = "down"
	PointerMove   PointerKind = "move"
	PointerUp     PointerKind = "up"
	PointerCancel PointerKind = "cancel"
)

// PointerEvent is the source-agnostic pointer input fed to a crop session.
// Mouse and touch events are both reduced to this shape by the host.
type PointerEvent struct {
	Kind PointerKind `json:"kind"`
	X    float64     `json:"x"`
	Y    float64     `json:"y"`
}

// Point returns the event position
func (e PointerEvent) Point() Point {
	return Point{X: e.X, Y: e.Y}
}

// CropBox is the fixed-size rectangle positioned over the displayed image,
// in display coordinates.
type CropBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Size returns the box dimensions
func (b CropBox) Size() Dimensions {
	return Dimensions{Width: b.Width, Height: b.Height}
}

// PixelCrop is a crop rectangle in the source image's natural pixel space
type PixelCrop struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ImagePart is an inline image attached to a model request
type ImagePart struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// Base64 returns the standard base64 encoding of the image bytes
func (p ImagePart) Base64() string {
	return base64.StdEncoding.EncodeToString(p.Data)
}

// Request is a single prompt sent to a language model
type Request struct {
	PromptText  string     `json:"prompt_text"`
	Image       *ImagePart `json:"image,omitempty"`
	Temperature float64    `json:"temperature"`
}

// Response contains the text returned by a language model
type Response struct {
	Text string `json:"text"`
}
