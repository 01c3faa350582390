package cropper

import (
	"github.com/menta2k/image-assistant/pkg/apperr"
	"github.com/menta2k/image-assistant/pkg/types"
)

// Scale returns the natural/displayed ratio on each axis. The displayed size
// must be laid out (non-zero) on both axes.
func Scale(displayed, natural types.Dimensions) (float64, float64, error) {
	if !(displayed.Width > 0) || !(displayed.Height > 0) {
		return 0, 0, apperr.New(apperr.KindInputValidation, "displayed size must be non-zero")
	}
	return natural.Width / displayed.Width, natural.Height / displayed.Height, nil
}

// ToPixelCrop converts a display-space crop box into natural pixel space
func ToPixelCrop(box types.CropBox, displayed, natural types.Dimensions) (types.PixelCrop, error) {
	sx, sy, err := Scale(displayed, natural)
	if err != nil {
		return types.PixelCrop{}, err
	}
	return types.PixelCrop{
		X:      box.X * sx,
		Y:      box.Y * sy,
		Width:  box.Width * sx,
		Height: box.Height * sy,
	}, nil
}

// ToDisplayBox is the inverse of ToPixelCrop
func ToDisplayBox(crop types.PixelCrop, displayed, natural types.Dimensions) (types.CropBox, error) {
	if !(natural.Width > 0) || !(natural.Height > 0) {
		return types.CropBox{}, apperr.New(apperr.KindInputValidation, "natural size must be non-zero")
	}
	sx, sy, err := Scale(displayed, natural)
	if err != nil {
		return types.CropBox{}, err
	}
	return types.CropBox{
		X:      crop.X / sx,
		Y:      crop.Y / sy,
		Width:  crop.Width / sx,
		Height: crop.Height / sy,
	}, nil
}
