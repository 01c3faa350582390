// Package vision suggests where to put a fixed-size crop window by scoring
// image regions for edge and contrast saliency.
package vision

import (
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/image-assistant/pkg/types"
)

// Placer finds the most salient window of a given size in an image
type Placer struct {
	config Config
}

// Config holds configuration for saliency scoring
type Config struct {
	ContrastWeight float64
	ColorWeight    float64
	// AnalysisSize is the long side the image is reduced to before scoring
	AnalysisSize int
}

// New creates a Placer with default configuration
func New() *Placer {
	return &Placer{
		config: Config{
			ContrastWeight: 0.3,
			ColorWeight:    0.2,
			AnalysisSize:   256,
		},
	}
}

// NewWithConfig creates a Placer with custom configuration
func NewWithConfig(config Config) *Placer {
	if config.AnalysisSize <= 0 {
		config.AnalysisSize = 256
	}
	return &Placer{config: config}
}

// BestWindow returns the window of size w×h, in natural pixel coordinates of
// img, that holds the most saliency. A window larger than the image is
// placed at the origin.
func (p *Placer) BestWindow(img image.Image, w, h float64) types.PixelCrop {
	b := img.Bounds()
	natW, natH := b.Dx(), b.Dy()
	best := types.PixelCrop{Width: w, Height: h}
	if natW < 3 || natH < 3 || !(w > 0) || !(h > 0) || w >= float64(natW) && h >= float64(natH) {
		return best
	}

	// Fit never upscales
	small := imaging.Fit(img, p.config.AnalysisSize, p.config.AnalysisSize, imaging.Box)
	sw, sh := small.Bounds().Dx(), small.Bounds().Dy()
	scale := float64(sw) / float64(natW)

	ww := clampInt(int(math.Round(w*scale)), 1, sw)
	wh := clampInt(int(math.Round(h*scale)), 1, sh)

	sums := integral(p.saliencyMap(small), sw, sh)
	bestScore := -1.0
	bx, by := 0, 0
	for y := 0; y+wh <= sh; y++ {
		for x := 0; x+ww <= sw; x++ {
			score := windowSum(sums, sw, x, y, ww, wh)
			if score > bestScore {
				bestScore, bx, by = score, x, y
			}
		}
	}

	best.X = math.Min(float64(bx)/scale, math.Max(0, float64(natW)-w))
	best.Y = math.Min(float64(by)/scale, math.Max(0, float64(natH)-h))
	return best
}

// saliencyMap scores each pixel by the color distance to its 8 neighbors
// combined with its brightness
func (p *Placer) saliencyMap(img *image.NRGBA) []float64 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	sal := make([]float64, w*h)
	at := func(x, y int) (float64, float64, float64) {
		i := y*img.Stride + x*4
		return float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2])
	}

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			r1, g1, b1 := at(x, y)
			var edge float64
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					r2, g2, b2 := at(x+dx, y+dy)
					dr, dg, db := r1-r2, g1-g2, b1-b2
					edge += math.Sqrt(dr*dr + dg*dg + db*db)
				}
			}
			edge /= 8 * 255
			brightness := (r1 + g1 + b1) / (3 * 255)
			sal[y*w+x] = p.config.ContrastWeight*edge + p.config.ColorWeight*brightness
		}
	}
	return sal
}

// integral builds a summed-area table with a zero row and column
func integral(v []float64, w, h int) []float64 {
	s := make([]float64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		var row float64
		for x := 0; x < w; x++ {
			row += v[y*w+x]
			s[(y+1)*(w+1)+x+1] = s[y*(w+1)+x+1] + row
		}
	}
	return s
}

func windowSum(s []float64, w, x, y, ww, wh int) float64 {
	stride := w + 1
	return s[(y+wh)*stride+x+ww] - s[y*stride+x+ww] - s[(y+wh)*stride+x] + s[y*stride+x]
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
