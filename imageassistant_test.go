package imageassistant

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/menta2k/image-assistant/pkg/apperr"
	"github.com/menta2k/image-assistant/pkg/processing"
	"github.com/menta2k/image-assistant/pkg/speech"
	"github.com/menta2k/image-assistant/pkg/types"
)

// fakeModel records requests and optionally blocks until released
type fakeModel struct {
	mu       sync.Mutex
	requests []types.Request
	reply    string
	err      error
	entered  chan struct{}
	release  chan struct{}
}

func (f *fakeModel) Name() string { return "fake" }

func (f *fakeModel) Generate(ctx context.Context, req types.Request) (types.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return types.Response{}, f.err
	}
	return types.Response{Text: f.reply}, nil
}

func (f *fakeModel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// fakeRecognizer lets tests deliver segments through the sink
type fakeRecognizer struct {
	sink speech.Sink
}

func (f *fakeRecognizer) Start(ctx context.Context, sink speech.Sink) error {
	f.sink = sink
	return nil
}

func (f *fakeRecognizer) Stop() error {
	f.sink.End()
	return nil
}

// createTestImage creates a gradient so that every pixel is distinguishable
func createTestImage(width, height int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{uint8(x % 256), uint8(y % 256), 128, 255})
		}
	}
	return img
}

func pngSource(t *testing.T, width, height int) processing.Source {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, createTestImage(width, height)); err != nil {
		t.Fatal(err)
	}
	return processing.SourceFromBytes(buf.Bytes(), "image/png")
}

func pngOptions() Options {
	opts := DefaultOptions()
	opts.Cropper.Format = "png"
	return opts
}

func TestNew(t *testing.T) {
	a := New(&fakeModel{}, nil, Options{Temperature: 5})
	if a.Temperature() != DefaultTemperature {
		t.Errorf("expected default temperature, got %v", a.Temperature())
	}
	if a.opts.BoxSize.Width != 256 || a.opts.BoxSize.Height != 256 {
		t.Errorf("expected default box size, got %+v", a.opts.BoxSize)
	}
	st := a.State()
	if st.SpeechSupported || st.Recording || st.HasImage || st.Cropping {
		t.Errorf("unexpected initial state %+v", st)
	}
	if len(st.Presets) != 4 || st.Presets[1].Label != "Balanced" {
		t.Errorf("unexpected presets %+v", st.Presets)
	}
}

func TestSubmitEmptyPromptNoImage(t *testing.T) {
	model := &fakeModel{reply: "unused"}
	a := New(model, nil, DefaultOptions())
	a.SetTranscript("   \n\t")

	_, err := a.Submit(context.Background())
	if !errors.Is(err, apperr.ErrInputValidation) {
		t.Fatalf("expected input validation error, got %v", err)
	}
	if model.calls() != 0 {
		t.Error("no model call should be issued")
	}
	if a.Message() == "" {
		t.Error("error should be surfaced in the message slot")
	}
}

func TestCropConfirmAndSubmit(t *testing.T) {
	model := &fakeModel{reply: "a gradient"}
	a := New(model, nil, pngOptions())

	natural, err := a.BeginCrop(pngSource(t, 1024, 768))
	if err != nil {
		t.Fatalf("BeginCrop failed: %v", err)
	}
	if natural.Width != 1024 || natural.Height != 768 {
		t.Fatalf("unexpected natural size %+v", natural)
	}

	display := types.Dimensions{Width: 512, Height: 384}
	a.Pointer(types.PointerEvent{Kind: types.PointerDown, X: 0, Y: 0}, display)
	box, _ := a.Pointer(types.PointerEvent{Kind: types.PointerMove, X: 100, Y: 50}, display)
	a.Pointer(types.PointerEvent{Kind: types.PointerUp}, display)
	if box.X != 100 || box.Y != 50 {
		t.Fatalf("unexpected box %+v", box)
	}

	res, err := a.ConfirmCrop(context.Background(), display)
	if err != nil {
		t.Fatalf("ConfirmCrop failed: %v", err)
	}
	if res.Width != 512 || res.Height != 512 {
		t.Errorf("expected 512x512 crop, got %dx%d", res.Width, res.Height)
	}
	st := a.State()
	if st.Cropping || !st.HasImage {
		t.Errorf("crop should end with an attached image: %+v", st)
	}

	a.SetTranscript("  describe it  ")
	if err := a.SetTemperature(0.7); err != nil {
		t.Fatal(err)
	}
	text, err := a.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if text != "a gradient" || a.Response() != "a gradient" {
		t.Errorf("unexpected response %q", text)
	}

	req := model.requests[0]
	if req.PromptText != "describe it" || req.Temperature != 0.7 {
		t.Errorf("unexpected request %+v", req)
	}
	if req.Image == nil || req.Image.MIMEType != "image/png" || !bytes.Equal(req.Image.Data, res.Data) {
		t.Error("request should carry the cropped image unchanged")
	}
}

func TestSubmitImageOnly(t *testing.T) {
	model := &fakeModel{reply: "ok"}
	a := New(model, nil, pngOptions())
	if _, err := a.BeginCrop(pngSource(t, 300, 300)); err != nil {
		t.Fatal(err)
	}
	if _, err := a.ConfirmCrop(context.Background(), types.Dimensions{Width: 300, Height: 300}); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Submit(context.Background()); err != nil {
		t.Fatalf("image without text should be accepted: %v", err)
	}
	if model.requests[0].PromptText != "" {
		t.Error("prompt text should be empty")
	}
}

func TestSubmitDownscalesLargeImage(t *testing.T) {
	model := &fakeModel{reply: "ok"}
	opts := pngOptions()
	opts.BoxSize = types.Dimensions{Width: 400, Height: 200}
	opts.SendSize = 100
	a := New(model, nil, opts)
	if _, err := a.BeginCrop(pngSource(t, 400, 400)); err != nil {
		t.Fatal(err)
	}
	if _, err := a.ConfirmCrop(context.Background(), types.Dimensions{Width: 400, Height: 400}); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Submit(context.Background()); err != nil {
		t.Fatal(err)
	}

	part := model.requests[0].Image
	img, _, err := image.Decode(bytes.NewReader(part.Data))
	if err != nil {
		t.Fatalf("sent image does not decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 50 {
		t.Errorf("expected 100x50, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestConfirmFailureKeepsPreviousState(t *testing.T) {
	a := New(&fakeModel{}, nil, pngOptions())
	if _, err := a.BeginCrop(pngSource(t, 300, 300)); err != nil {
		t.Fatal(err)
	}
	first, err := a.ConfirmCrop(context.Background(), types.Dimensions{Width: 300, Height: 300})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := a.BeginCrop(pngSource(t, 600, 600)); err != nil {
		t.Fatal(err)
	}
	a.Extractor().SetCanvasFunc(func(w, h int) (*image.NRGBA, error) {
		return nil, errors.New("no 2d context")
	})
	_, err = a.ConfirmCrop(context.Background(), types.Dimensions{Width: 300, Height: 300})
	if !errors.Is(err, apperr.ErrCanvasUnavailable) {
		t.Fatalf("expected canvas unavailable, got %v", err)
	}

	img, ok := a.Image()
	if !ok || !bytes.Equal(img.Data, first.Data) {
		t.Error("previously attached image should be kept")
	}
	st := a.State()
	if !st.Cropping || st.Confirming {
		t.Errorf("crop session should stay open and idle: %+v", st)
	}
	if st.Message == "" {
		t.Error("failure should be surfaced in the message slot")
	}
}

func TestConfirmCropBusy(t *testing.T) {
	a := New(&fakeModel{}, nil, pngOptions())
	shown := types.Dimensions{Width: 300, Height: 300}
	if _, err := a.BeginCrop(pngSource(t, 300, 300)); err != nil {
		t.Fatal(err)
	}
	first, err := a.ConfirmCrop(context.Background(), shown)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := a.BeginCrop(pngSource(t, 600, 600)); err != nil {
		t.Fatal(err)
	}
	a.Pointer(types.PointerEvent{Kind: types.PointerDown}, shown)
	box, _ := a.Pointer(types.PointerEvent{Kind: types.PointerMove, X: 20, Y: 10}, shown)
	a.Pointer(types.PointerEvent{Kind: types.PointerUp}, shown)

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	a.Extractor().SetCanvasFunc(func(w, h int) (*image.NRGBA, error) {
		entered <- struct{}{}
		<-release
		return image.NewNRGBA(image.Rect(0, 0, w, h)), nil
	})

	type outcome struct {
		width int
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := a.ConfirmCrop(context.Background(), shown)
		done <- outcome{res.Width, err}
	}()
	<-entered

	if !a.State().Confirming {
		t.Error("state should report confirmation in flight")
	}
	if _, err := a.ConfirmCrop(context.Background(), shown); !errors.Is(err, apperr.ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	st := a.State()
	if !st.Cropping || st.Message != "" {
		t.Errorf("rejected confirm should leave the crop untouched: %+v", st)
	}
	if img, ok := a.Image(); !ok || !bytes.Equal(img.Data, first.Data) {
		t.Error("rejected confirm should keep the attached image")
	}
	if got, _ := a.ResizeContainer(shown); got != box {
		t.Errorf("rejected confirm moved the box: %+v, want %+v", got, box)
	}

	close(release)
	out := <-done
	if out.err != nil {
		t.Fatalf("first confirm failed: %v", out.err)
	}
	if out.width != 512 {
		t.Errorf("expected 512 pixel crop, got %d", out.width)
	}
	if a.State().Cropping || a.State().Confirming {
		t.Errorf("crop should end after confirm: %+v", a.State())
	}
}

func TestBeginCropDecodeFailure(t *testing.T) {
	a := New(&fakeModel{}, nil, pngOptions())
	_, err := a.BeginCrop(processing.SourceFromBytes([]byte("not an image"), "image/png"))
	if !errors.Is(err, apperr.ErrImageLoad) {
		t.Fatalf("expected image load error, got %v", err)
	}
	if a.State().Cropping {
		t.Error("no crop should start")
	}
}

func TestPointerWithoutCrop(t *testing.T) {
	a := New(&fakeModel{}, nil, DefaultOptions())
	if _, err := a.Pointer(types.PointerEvent{Kind: types.PointerDown}, types.Dimensions{}); err == nil {
		t.Error("expected error without an active crop")
	}
	if _, err := a.ConfirmCrop(context.Background(), types.Dimensions{Width: 1, Height: 1}); err == nil {
		t.Error("expected error without an active crop")
	}
}

func TestResizeContainerReclamps(t *testing.T) {
	a := New(&fakeModel{}, nil, pngOptions())
	if _, err := a.BeginCrop(pngSource(t, 100, 100)); err != nil {
		t.Fatal(err)
	}
	big := types.Dimensions{Width: 1000, Height: 1000}
	a.Pointer(types.PointerEvent{Kind: types.PointerDown}, big)
	a.Pointer(types.PointerEvent{Kind: types.PointerMove, X: 700, Y: 700}, big)
	box, err := a.ResizeContainer(types.Dimensions{Width: 400, Height: 300})
	if err != nil {
		t.Fatal(err)
	}
	if box.X != 144 || box.Y != 44 {
		t.Errorf("expected box at (144,44), got %+v", box)
	}
}

func TestSuggestCrop(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 400, 400))
	for y := 0; y < 400; y++ {
		for x := 0; x < 400; x++ {
			c := color.NRGBA{10, 10, 10, 255}
			if x >= 200 && x < 300 && y >= 240 && y < 340 && (x/5+y/5)%2 == 0 {
				c = color.NRGBA{250, 250, 250, 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	opts := pngOptions()
	opts.BoxSize = types.Dimensions{Width: 50, Height: 50}
	a := New(&fakeModel{}, nil, opts)
	if _, err := a.BeginCrop(processing.SourceFromBytes(buf.Bytes(), "image/png")); err != nil {
		t.Fatal(err)
	}

	// displayed at half size: the textured square sits at (100,120)-(150,170)
	box, err := a.SuggestCrop(types.Dimensions{Width: 200, Height: 200})
	if err != nil {
		t.Fatalf("SuggestCrop failed: %v", err)
	}
	if box.X < 96 || box.X > 104 || box.Y < 116 || box.Y > 124 {
		t.Errorf("expected box near (100,120), got %+v", box)
	}
}

func TestSubmitBusy(t *testing.T) {
	model := &fakeModel{reply: "done", entered: make(chan struct{}, 1), release: make(chan struct{})}
	a := New(model, nil, DefaultOptions())
	a.SetTranscript("hello")

	errc := make(chan error, 1)
	go func() {
		_, err := a.Submit(context.Background())
		errc <- err
	}()
	<-model.entered

	if !a.State().Submitting {
		t.Error("state should report submission in flight")
	}
	if _, err := a.Submit(context.Background()); !errors.Is(err, apperr.ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	close(model.release)
	if err := <-errc; err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	if model.calls() != 1 {
		t.Errorf("expected one model call, got %d", model.calls())
	}
}

func TestSubmitModelError(t *testing.T) {
	a := New(&fakeModel{err: errors.New("quota exceeded")}, nil, DefaultOptions())
	a.SetTranscript("hello")
	_, err := a.Submit(context.Background())
	if !errors.Is(err, apperr.ErrModelRequest) {
		t.Fatalf("expected model request error, got %v", err)
	}
	if !strings.HasPrefix(a.Message(), "Error generating response") {
		t.Errorf("unexpected message %q", a.Message())
	}
	if a.Response() != "" {
		t.Error("no response should be stored")
	}
}

func TestRecordingStartClearsPrompt(t *testing.T) {
	rec := &fakeRecognizer{}
	a := New(&fakeModel{reply: "first"}, rec, pngOptions())
	if _, err := a.BeginCrop(pngSource(t, 300, 300)); err != nil {
		t.Fatal(err)
	}
	if _, err := a.ConfirmCrop(context.Background(), types.Dimensions{Width: 300, Height: 300}); err != nil {
		t.Fatal(err)
	}
	a.SetTranscript("old prompt")
	if _, err := a.Submit(context.Background()); err != nil {
		t.Fatal(err)
	}

	recording, err := a.ToggleRecording(context.Background())
	if err != nil || !recording {
		t.Fatalf("expected recording, got %v %v", recording, err)
	}
	st := a.State()
	if st.Transcript != "" || st.HasImage || st.Response != "" || st.Message != "" {
		t.Errorf("prompt state should be cleared: %+v", st)
	}

	rec.sink.Final("new words")
	rec.sink.Error("not-allowed")
	st = a.State()
	if st.Recording {
		t.Error("error should end the recording")
	}
	if !strings.Contains(st.Message, "not-allowed") {
		t.Errorf("unexpected message %q", st.Message)
	}
	if st.Transcript != "new words " {
		t.Errorf("unexpected transcript %q", st.Transcript)
	}
}

func TestToggleRecordingUnsupported(t *testing.T) {
	a := New(&fakeModel{}, nil, DefaultOptions())
	_, err := a.ToggleRecording(context.Background())
	if !errors.Is(err, apperr.ErrSpeechCapture) {
		t.Fatalf("expected speech capture error, got %v", err)
	}
	if !strings.Contains(a.Message(), "not supported") {
		t.Errorf("unexpected message %q", a.Message())
	}
}

func TestSetTemperature(t *testing.T) {
	a := New(&fakeModel{}, nil, DefaultOptions())
	for _, p := range TemperaturePresets {
		if err := a.SetTemperature(p.Value); err != nil {
			t.Errorf("preset %s rejected: %v", p.Label, err)
		}
	}
	for _, v := range []float64{-0.1, 2.01} {
		if err := a.SetTemperature(v); !errors.Is(err, apperr.ErrInputValidation) {
			t.Errorf("temperature %v should be rejected, got %v", v, err)
		}
	}
	if a.Temperature() != 1.0 {
		t.Errorf("rejected values must not change the temperature, got %v", a.Temperature())
	}
}

func TestRemoveImageAndCancelCrop(t *testing.T) {
	a := New(&fakeModel{}, nil, pngOptions())
	if _, err := a.BeginCrop(pngSource(t, 300, 300)); err != nil {
		t.Fatal(err)
	}
	if _, err := a.ConfirmCrop(context.Background(), types.Dimensions{Width: 300, Height: 300}); err != nil {
		t.Fatal(err)
	}
	a.RemoveImage()
	if _, ok := a.Image(); ok {
		t.Error("image should be removed")
	}

	if _, err := a.BeginCrop(pngSource(t, 300, 300)); err != nil {
		t.Fatal(err)
	}
	a.CancelCrop()
	if a.State().Cropping {
		t.Error("crop should be cancelled")
	}
}

func TestConfirmCancelledContext(t *testing.T) {
	a := New(&fakeModel{}, nil, pngOptions())
	if _, err := a.BeginCrop(pngSource(t, 300, 300)); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	if _, err := a.ConfirmCrop(ctx, types.Dimensions{Width: 300, Height: 300}); err == nil {
		t.Error("expected error for cancelled context")
	}
	if !a.State().Cropping {
		t.Error("crop should stay open")
	}
}

func TestGetVersion(t *testing.T) {
	if GetVersion() != Version {
		t.Errorf("expected %s, got %s", Version, GetVersion())
	}
}
