// Package imageassistant composes the pieces of a voice and image prompt
// assistant: dictation, an interactive crop of a pasted or loaded image, and a
// single call to a language model with the transcript and the cropped image.
//
// Basic usage:
//
//	model, err := gemini.NewClient(ctx, os.Getenv("API_KEY"), "gemini-2.5-flash")
//	if err != nil {
//		log.Fatal(err)
//	}
//	a := imageassistant.New(model, nil, imageassistant.DefaultOptions())
//
//	src, _ := processing.NewProcessor().LoadFile("screenshot.png")
//	if _, err := a.BeginCrop(src); err != nil {
//		log.Fatal(err)
//	}
//	display := types.Dimensions{Width: 512, Height: 384}
//	a.Pointer(types.PointerEvent{Kind: types.PointerDown, X: 10, Y: 10}, display)
//	a.Pointer(types.PointerEvent{Kind: types.PointerMove, X: 110, Y: 60}, display)
//	a.Pointer(types.PointerEvent{Kind: types.PointerUp}, display)
//	if _, err := a.ConfirmCrop(ctx, display); err != nil {
//		log.Fatal(err)
//	}
//
//	a.SetTranscript("What does this chart show?")
//	answer, err := a.Submit(ctx)
//
// All methods are safe for concurrent use. At most one crop confirmation and
// one submission are in flight at a time; overlapping calls fail with
// apperr.ErrBusy.
package imageassistant

import (
	"context"
	"image"
	"math"
	"strings"
	"sync"

	"github.com/menta2k/image-assistant/internal/config"
	"github.com/menta2k/image-assistant/pkg/apperr"
	"github.com/menta2k/image-assistant/pkg/client"
	"github.com/menta2k/image-assistant/pkg/cropper"
	"github.com/menta2k/image-assistant/pkg/cropsession"
	"github.com/menta2k/image-assistant/pkg/processing"
	"github.com/menta2k/image-assistant/pkg/speech"
	"github.com/menta2k/image-assistant/pkg/types"
	"github.com/menta2k/image-assistant/pkg/vision"
)

// Version of the image assistant library
const Version = "1.0.0"

// DefaultTemperature is the sampling temperature before the user picks one
const DefaultTemperature = 0.3

// Preset is a named sampling temperature offered to the user
type Preset struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// TemperaturePresets lists the temperatures offered in the prompt controls
var TemperaturePresets = []Preset{
	{Label: "Factual", Value: 0.0},
	{Label: "Balanced", Value: 0.3},
	{Label: "Creative", Value: 0.7},
	{Label: "Wild", Value: 1.0},
}

// Options configures an Assistant
type Options struct {
	BoxSize     types.Dimensions
	Cropper     cropper.Config
	Temperature float64
	// SendSize caps the long side of the image sent to the model; 0 sends
	// the crop unchanged.
	SendSize    int
	SendQuality int
}

// DefaultOptions returns the options matching config.Default
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default())
}

// OptionsFromConfig maps the application configuration onto Options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BoxSize: types.Dimensions{Width: cfg.Cropper.BoxWidth, Height: cfg.Cropper.BoxHeight},
		Cropper: cropper.Config{
			Format:          cfg.Cropper.Format,
			Quality:         cfg.Cropper.Quality,
			Lossless:        cfg.Cropper.Lossless,
			MaxCanvasPixels: cfg.Cropper.MaxCanvasPixels,
		},
		Temperature: cfg.Model.Temperature,
		SendSize:    cfg.Model.SendSize,
		SendQuality: cfg.Model.SendQuality,
	}
}

// activeCrop is an image being cropped: its decoded pixels and the box the
// user is dragging over it
type activeCrop struct {
	img     image.Image
	natural types.Dimensions
	session *cropsession.Session
}

// Assistant holds the prompt being composed and the result of the last call
type Assistant struct {
	mu        sync.Mutex
	model     client.ModelClient
	speech    *speech.Session
	extractor *cropper.Extractor
	processor *processing.Processor
	placer    *vision.Placer
	opts      Options

	crop        *activeCrop
	image       *cropper.Result
	temperature float64
	response    string
	message     string
	confirming  bool
	submitting  bool
}

// New creates an Assistant. A nil recognizer disables dictation.
func New(model client.ModelClient, recognizer speech.Recognizer, opts Options) *Assistant {
	if opts.BoxSize.Width <= 0 || opts.BoxSize.Height <= 0 {
		opts.BoxSize = cropsession.DefaultBoxSize
	}
	if opts.SendQuality <= 0 {
		opts.SendQuality = 85
	}
	temperature := opts.Temperature
	if !validTemperature(temperature) {
		temperature = DefaultTemperature
	}

	a := &Assistant{
		model:       model,
		speech:      speech.NewSession(recognizer),
		extractor:   cropper.NewWithConfig(opts.Cropper),
		processor:   processing.NewProcessor(),
		placer:      vision.New(),
		opts:        opts,
		temperature: temperature,
	}
	a.speech.OnStart = a.clearPrompt
	a.speech.OnError = func(err error) { a.setMessage(err.Error()) }
	return a
}

// Extractor exposes the crop extractor, e.g. to replace its canvas allocator
func (a *Assistant) Extractor() *cropper.Extractor {
	return a.extractor
}

// BeginCrop decodes src and starts a crop session over it. On failure the
// current crop and cropped image are left as they were.
func (a *Assistant) BeginCrop(src processing.Source) (types.Dimensions, error) {
	img, err := a.extractor.Decode(src)
	if err != nil {
		a.setMessage(err.Error())
		return types.Dimensions{}, err
	}
	natural := processing.NaturalSize(img)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.crop = &activeCrop{
		img:     img,
		natural: natural,
		session: cropsession.New(a.opts.BoxSize),
	}
	a.message = ""
	return natural, nil
}

// Pointer feeds a pointer event to the active crop session
func (a *Assistant) Pointer(ev types.PointerEvent, container types.Dimensions) (types.CropBox, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.crop == nil {
		return types.CropBox{}, errNoCrop
	}
	return a.crop.session.Handle(ev, container), nil
}

// ResizeContainer re-clamps the crop box after the displayed image changed size
func (a *Assistant) ResizeContainer(container types.Dimensions) (types.CropBox, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.crop == nil {
		return types.CropBox{}, errNoCrop
	}
	return a.crop.session.Reclamp(container), nil
}

// SuggestCrop moves the crop box over the most detailed region of the image.
// displayed is the size the image is rendered at.
func (a *Assistant) SuggestCrop(displayed types.Dimensions) (types.CropBox, error) {
	a.mu.Lock()
	crop := a.crop
	var box types.CropBox
	if crop != nil {
		box = crop.session.Box()
	}
	a.mu.Unlock()
	if crop == nil {
		return types.CropBox{}, errNoCrop
	}

	window, err := cropper.ToPixelCrop(box, displayed, crop.natural)
	if err != nil {
		return types.CropBox{}, err
	}
	best := a.placer.BestWindow(crop.img, window.Width, window.Height)
	target, err := cropper.ToDisplayBox(best, displayed, crop.natural)
	if err != nil {
		return types.CropBox{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.crop != crop {
		return types.CropBox{}, errNoCrop
	}
	return crop.session.Place(types.Point{X: target.X, Y: target.Y}, displayed), nil
}

var errNoCrop = apperr.New(apperr.KindInputValidation, "no crop in progress")

// ConfirmCrop extracts the region under the crop box. displayed is the size
// the image is rendered at. On success the crop ends and the result becomes
// the attached image; on failure both the crop and the previously attached
// image are kept.
func (a *Assistant) ConfirmCrop(ctx context.Context, displayed types.Dimensions) (cropper.Result, error) {
	a.mu.Lock()
	if a.crop == nil {
		a.mu.Unlock()
		return cropper.Result{}, errNoCrop
	}
	if a.confirming {
		a.mu.Unlock()
		return cropper.Result{}, apperr.ErrBusy
	}
	a.confirming = true
	crop := a.crop
	box := crop.session.Box()
	a.mu.Unlock()

	res, err := a.extract(ctx, crop, box, displayed)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.confirming = false
	if err != nil {
		a.message = err.Error()
		return cropper.Result{}, err
	}
	if a.crop == crop {
		a.crop = nil
	}
	a.image = &res
	a.message = ""
	return res, nil
}

func (a *Assistant) extract(ctx context.Context, crop *activeCrop, box types.CropBox, displayed types.Dimensions) (cropper.Result, error) {
	pixel, err := cropper.ToPixelCrop(box, displayed, crop.natural)
	if err != nil {
		return cropper.Result{}, err
	}
	select {
	case out := <-a.extractor.ExtractAsync(ctx, crop.img, pixel):
		return out.Result, out.Err
	case <-ctx.Done():
		return cropper.Result{}, ctx.Err()
	}
}

// CancelCrop abandons the active crop session
func (a *Assistant) CancelCrop() {
	a.mu.Lock()
	a.crop = nil
	a.mu.Unlock()
}

// RemoveImage detaches the cropped image from the prompt
func (a *Assistant) RemoveImage() {
	a.mu.Lock()
	a.image = nil
	a.mu.Unlock()
}

// Image returns the attached cropped image, if any
func (a *Assistant) Image() (cropper.Result, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.image == nil {
		return cropper.Result{}, false
	}
	return *a.image, true
}

// ToggleRecording starts or stops dictation and returns whether it is now
// recording. ctx bounds the whole recording, not just this call.
func (a *Assistant) ToggleRecording(ctx context.Context) (bool, error) {
	recording, err := a.speech.Toggle(ctx)
	if err != nil {
		a.setMessage(err.Error())
	}
	return recording, err
}

// SetTranscript replaces the prompt text
func (a *Assistant) SetTranscript(text string) {
	a.speech.SetTranscript(text)
}

// Transcript returns the prompt text
func (a *Assistant) Transcript() string {
	return a.speech.Transcript()
}

// SetTemperature sets the sampling temperature, which must be within [0, 2]
func (a *Assistant) SetTemperature(v float64) error {
	if !validTemperature(v) {
		return apperr.New(apperr.KindInputValidation, "temperature must be between 0 and 2")
	}
	a.mu.Lock()
	a.temperature = v
	a.mu.Unlock()
	return nil
}

// Temperature returns the sampling temperature
func (a *Assistant) Temperature() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.temperature
}

func validTemperature(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 2
}

// Submit sends the transcript and attached image to the model. An empty
// prompt without an image is rejected before any request is made.
func (a *Assistant) Submit(ctx context.Context) (string, error) {
	text := strings.TrimSpace(a.speech.Transcript())

	a.mu.Lock()
	if a.submitting {
		a.mu.Unlock()
		return "", apperr.ErrBusy
	}
	if text == "" && a.image == nil {
		err := apperr.New(apperr.KindInputValidation, "Please provide text or an image before submitting.")
		a.message = err.Error()
		a.mu.Unlock()
		return "", err
	}
	a.submitting = true
	a.message = ""
	a.response = ""
	var img *cropper.Result
	if a.image != nil {
		res := *a.image
		img = &res
	}
	req := types.Request{PromptText: text, Temperature: a.temperature}
	a.mu.Unlock()

	resp, err := a.generate(ctx, req, img)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.submitting = false
	if err != nil {
		a.message = err.Error()
		return "", err
	}
	a.response = resp.Text
	return resp.Text, nil
}

func (a *Assistant) generate(ctx context.Context, req types.Request, img *cropper.Result) (types.Response, error) {
	if img != nil {
		part, err := a.modelImage(*img)
		if err != nil {
			return types.Response{}, err
		}
		req.Image = &part
	}
	resp, err := a.model.Generate(ctx, req)
	if err != nil {
		if apperr.KindOf(err) == "" {
			err = client.RequestError(err)
		}
		return types.Response{}, err
	}
	return resp, nil
}

// modelImage returns the attachment for a crop, downscaled when it exceeds
// the configured send size
func (a *Assistant) modelImage(res cropper.Result) (types.ImagePart, error) {
	limit := a.opts.SendSize
	if limit <= 0 || (res.Width <= limit && res.Height <= limit) {
		return res.ImagePart(), nil
	}
	img, err := processing.Decode(processing.SourceFromBytes(res.Data, res.MIMEType))
	if err != nil {
		return types.ImagePart{}, err
	}
	format := "jpg"
	if res.MIMEType == "image/png" {
		format = "png"
	}
	part, err := a.processor.PrepareImageForModel(img, format, limit, a.opts.SendQuality)
	if err != nil {
		return types.ImagePart{}, apperr.Wrap(apperr.KindCanvasUnavailable, "failed to encode image", err)
	}
	return part, nil
}

// Response returns the text of the last successful submission
func (a *Assistant) Response() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.response
}

// Message returns the user-visible error message, empty when there is none
func (a *Assistant) Message() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.message
}

func (a *Assistant) setMessage(msg string) {
	a.mu.Lock()
	a.message = msg
	a.mu.Unlock()
}

// clearPrompt resets the prompt when a new recording starts
func (a *Assistant) clearPrompt() {
	a.speech.Clear()
	a.mu.Lock()
	a.image = nil
	a.response = ""
	a.message = ""
	a.mu.Unlock()
}

// State is a snapshot of everything a host needs to render
type State struct {
	SpeechSupported bool              `json:"speech_supported"`
	Recording       bool              `json:"recording"`
	Transcript      string            `json:"transcript"`
	Temperature     float64           `json:"temperature"`
	Presets         []Preset          `json:"presets"`
	Cropping        bool              `json:"cropping"`
	CropBox         *types.CropBox    `json:"crop_box,omitempty"`
	NaturalSize     *types.Dimensions `json:"natural_size,omitempty"`
	Confirming      bool              `json:"confirming"`
	HasImage        bool              `json:"has_image"`
	ImageWidth      int               `json:"image_width,omitempty"`
	ImageHeight     int               `json:"image_height,omitempty"`
	ImageMIMEType   string            `json:"image_mime_type,omitempty"`
	Submitting      bool              `json:"submitting"`
	Response        string            `json:"response"`
	Message         string            `json:"message"`
}

// State returns a snapshot of the assistant
func (a *Assistant) State() State {
	st := State{
		SpeechSupported: a.speech.Supported(),
		Recording:       a.speech.Recording(),
		Transcript:      a.speech.Transcript(),
		Presets:         TemperaturePresets,
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	st.Temperature = a.temperature
	if a.crop != nil {
		box := a.crop.session.Box()
		natural := a.crop.natural
		st.Cropping = true
		st.CropBox = &box
		st.NaturalSize = &natural
	}
	st.Confirming = a.confirming
	if a.image != nil {
		st.HasImage = true
		st.ImageWidth = a.image.Width
		st.ImageHeight = a.image.Height
		st.ImageMIMEType = a.image.MIMEType
	}
	st.Submitting = a.submitting
	st.Response = a.response
	st.Message = a.message
	return st
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
