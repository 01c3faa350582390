package processing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/image-assistant/internal/utils"
	"github.com/menta2k/image-assistant/pkg/apperr"
	"github.com/menta2k/image-assistant/pkg/types"
)

// maxSourceBytes bounds downloads and clipboard payloads
const maxSourceBytes = 32 << 20

// Source is a raw, still encoded image handed to the crop subsystem from a
// file picker, clipboard paste or drag.
type Source struct {
	Data     []byte
	MIMEType string
}

// Processor handles image loading and model payload preparation
type Processor struct {
	httpClient *http.Client
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SourceFromBytes wraps raw bytes, sniffing the MIME type when mimeType is empty
func SourceFromBytes(data []byte, mimeType string) Source {
	return Source{Data: data, MIMEType: utils.PickMIME(mimeType, data)}
}

// SourceFromDataURL parses a "data:<mime>;base64,<payload>" string
func SourceFromDataURL(dataURL string) (Source, error) {
	mimeType, b64, ok := ParseDataURL(dataURL)
	if !ok {
		return Source{}, apperr.New(apperr.KindImageLoad, "invalid data URL")
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return Source{}, apperr.Wrap(apperr.KindImageLoad, "invalid base64 payload", err)
	}
	return SourceFromBytes(data, mimeType), nil
}

// ParseDataURL splits a base64 data URL into its MIME type and payload
func ParseDataURL(dataURL string) (mimeType, b64 string, ok bool) {
	dataURL = strings.TrimSpace(dataURL)
	rest, found := strings.CutPrefix(dataURL, "data:")
	if !found {
		return "", "", false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mimeType, found = strings.CutSuffix(meta, ";base64")
	if !found || mimeType == "" {
		return "", "", false
	}
	return mimeType, payload, true
}

// MakeDataURL builds a base64 data URL
func MakeDataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// LoadFile reads an image file into a Source
func (p *Processor) LoadFile(path string) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Source{}, apperr.Wrap(apperr.KindImageLoad, "failed to read image file", err)
	}
	return SourceFromBytes(data, utils.MIMEFromExtension(path)), nil
}

// LoadURL downloads an image into a Source
func (p *Processor) LoadURL(imageURL string) (Source, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return Source{}, apperr.Wrap(apperr.KindImageLoad, "invalid URL", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return Source{}, apperr.New(apperr.KindImageLoad,
			fmt.Sprintf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme))
	}

	req, err := http.NewRequest(http.MethodGet, imageURL, nil)
	if err != nil {
		return Source{}, apperr.Wrap(apperr.KindImageLoad, "failed to create request", err)
	}
	req.Header.Set("User-Agent", "Image-Assistant/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Source{}, apperr.Wrap(apperr.KindImageLoad, "failed to download image", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Source{}, apperr.New(apperr.KindImageLoad,
			fmt.Sprintf("failed to download image: HTTP %d", resp.StatusCode))
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return Source{}, apperr.New(apperr.KindImageLoad,
			fmt.Sprintf("URL does not point to an image (Content-Type: %s)", contentType))
	}

	data, err := ReadSource(resp.Body)
	if err != nil {
		return Source{}, err
	}
	return SourceFromBytes(data, contentType), nil
}

// LoadSmart loads a Source from a data URL, an http(s) URL or a file path
func (p *Processor) LoadSmart(source string) (Source, error) {
	switch {
	case strings.HasPrefix(source, "data:"):
		return SourceFromDataURL(source)
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return p.LoadURL(source)
	}
	return p.LoadFile(source)
}

// ReadSource reads an upload or paste body, refusing oversized payloads
func ReadSource(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxSourceBytes+1))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindImageLoad, "failed to read image data", err)
	}
	if len(data) > maxSourceBytes {
		return nil, apperr.New(apperr.KindImageLoad, "image exceeds size limit")
	}
	return data, nil
}

// Decode decodes a Source into an image. Any failure is an image load error.
func Decode(src Source) (image.Image, error) {
	if len(src.Data) == 0 {
		return nil, apperr.New(apperr.KindImageLoad, "image source is empty")
	}
	if img, _, err := image.Decode(bytes.NewReader(src.Data)); err == nil {
		return img, nil
	}
	// explicit WebP decode covers variants the registered decoder rejects
	if img, err := webp.Decode(bytes.NewReader(src.Data)); err == nil {
		return img, nil
	}
	return nil, apperr.New(apperr.KindImageLoad,
		fmt.Sprintf("failed to decode image (%s): unknown or unsupported format", src.MIMEType))
}

// NaturalSize returns the true pixel dimensions of an image
func NaturalSize(img image.Image) types.Dimensions {
	b := img.Bounds()
	return types.Dimensions{Width: float64(b.Dx()), Height: float64(b.Dy())}
}

// PrepareImageForModel re-encodes an image for a model request, shrinking the
// long side to maxDim when maxDim > 0.
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (types.ImagePart, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return types.ImagePart{}, err
		}
		return types.ImagePart{MIMEType: "image/png", Data: buf.Bytes()}, nil
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return types.ImagePart{}, err
		}
		return types.ImagePart{MIMEType: "image/jpeg", Data: buf.Bytes()}, nil
	}
}
