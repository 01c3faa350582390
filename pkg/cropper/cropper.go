package cropper

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/menta2k/image-assistant/pkg/apperr"
	"github.com/menta2k/image-assistant/pkg/processing"
	"github.com/menta2k/image-assistant/pkg/types"
)

// DefaultMaxCanvasPixels matches the area limit of common browser canvases
const DefaultMaxCanvasPixels = 16384 * 16384

// CanvasFunc acquires a drawing surface of the given size
type CanvasFunc func(width, height int) (*image.NRGBA, error)

// Extractor copies a region of a source image 1:1 and encodes it
type Extractor struct {
	config Config
	canvas CanvasFunc
}

// Config holds configuration for crop extraction
type Config struct {
	Format          string // jpg, png or webp
	Quality         int
	Lossless        bool // webp only
	MaxCanvasPixels int
}

// Result is an encoded crop. Clamped is set when the requested region ran
// past the source bounds and the output is smaller than requested.
type Result struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
	Clamped  bool
}

// DataURL returns the result as a base64 data URL
func (r Result) DataURL() string {
	return processing.MakeDataURL(r.MIMEType, r.Data)
}

// ImagePart returns the result as a model request attachment
func (r Result) ImagePart() types.ImagePart {
	return types.ImagePart{MIMEType: r.MIMEType, Data: r.Data}
}

// Outcome is the settled value of an asynchronous extraction
type Outcome struct {
	Result Result
	Err    error
}

// New creates an Extractor producing JPEG output
func New() *Extractor {
	return NewWithConfig(Config{
		Format:          "jpg",
		Quality:         92,
		MaxCanvasPixels: DefaultMaxCanvasPixels,
	})
}

// NewWithConfig creates an Extractor with custom configuration
func NewWithConfig(config Config) *Extractor {
	if config.MaxCanvasPixels <= 0 {
		config.MaxCanvasPixels = DefaultMaxCanvasPixels
	}
	if config.Quality <= 0 {
		config.Quality = 92
	}
	e := &Extractor{config: config}
	e.canvas = e.newCanvas
	return e
}

// SetCanvasFunc replaces the surface allocator
func (e *Extractor) SetCanvasFunc(fn CanvasFunc) {
	if fn != nil {
		e.canvas = fn
	}
}

func (e *Extractor) newCanvas(width, height int) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 || width*height > e.config.MaxCanvasPixels {
		return nil, fmt.Errorf("canvas %dx%d exceeds limit of %d pixels", width, height, e.config.MaxCanvasPixels)
	}
	return imaging.New(width, height, color.NRGBA{}), nil
}

// Decode is the first stage: turn the source bytes into a loaded image
func (e *Extractor) Decode(src processing.Source) (image.Image, error) {
	return processing.Decode(src)
}

// Extract is the second stage: copy crop out of img and encode it.
//
// Coordinates are rounded half away from zero. A region that extends past
// the image is clamped to the image bounds and the result is marked Clamped.
// img is never modified.
func (e *Extractor) Extract(ctx context.Context, img image.Image, crop types.PixelCrop) (Result, error) {
	bounds := img.Bounds()
	src, clamped, err := pixelRect(crop, bounds)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	canvas, err := e.canvas(src.Dx(), src.Dy())
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindCanvasUnavailable, "could not get canvas context", err)
	}
	copyRegion(canvas, img, src)

	data, mimeType, err := e.encode(canvas)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindCanvasUnavailable, "failed to encode cropped image", err)
	}
	return Result{
		Data:     data,
		MIMEType: mimeType,
		Width:    src.Dx(),
		Height:   src.Dy(),
		Clamped:  clamped,
	}, nil
}

// ExtractAsync starts Extract and returns a channel that receives exactly
// one Outcome. Callers abandon the work by dropping the channel.
func (e *Extractor) ExtractAsync(ctx context.Context, img image.Image, crop types.PixelCrop) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		res, err := e.Extract(ctx, img, crop)
		out <- Outcome{Result: res, Err: err}
	}()
	return out
}

func (e *Extractor) encode(img image.Image) ([]byte, string, error) {
	var buf bytes.Buffer
	switch strings.ToLower(e.config.Format) {
	case "png":
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/png", nil
	case "webp":
		opts := &webp.Options{Lossless: e.config.Lossless, Quality: float32(e.config.Quality)}
		if err := webp.Encode(&buf, img, opts); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/webp", nil
	default: // jpg/jpeg
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(e.config.Quality)); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/jpeg", nil
	}
}

// pixelRect rounds a PixelCrop, given relative to the image origin, and
// clamps it to bounds. Clamping happens before the integer conversion so
// huge values cannot overflow.
func pixelRect(crop types.PixelCrop, bounds image.Rectangle) (image.Rectangle, bool, error) {
	for _, v := range []float64{crop.X, crop.Y, crop.Width, crop.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return image.Rectangle{}, false, apperr.New(apperr.KindInputValidation, "crop coordinates must be finite")
		}
	}
	x, y := math.Round(crop.X), math.Round(crop.Y)
	w, h := math.Round(crop.Width), math.Round(crop.Height)
	if w <= 0 || h <= 0 {
		return image.Rectangle{}, false, apperr.New(apperr.KindInputValidation,
			fmt.Sprintf("crop size must be positive, got %vx%v", crop.Width, crop.Height))
	}

	x0, x1 := math.Max(x, 0), math.Min(x+w, float64(bounds.Dx()))
	y0, y1 := math.Max(y, 0), math.Min(y+h, float64(bounds.Dy()))
	if x0 >= x1 || y0 >= y1 {
		return image.Rectangle{}, false, apperr.New(apperr.KindInputValidation, "crop region lies outside the image")
	}
	clamped := x0 != x || y0 != y || x1 != x+w || y1 != y+h
	r := image.Rect(int(x0), int(y0), int(x1), int(y1)).Add(bounds.Min)
	return r, clamped, nil
}

// copyRegion draws src region r of img onto the canvas origin, pixel for pixel
func copyRegion(canvas *image.NRGBA, img image.Image, r image.Rectangle) {
	region := imaging.Crop(img, r)
	draw.Draw(canvas, canvas.Bounds(), region, image.Point{}, draw.Src)
}
