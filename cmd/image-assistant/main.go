package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	imageassistant "github.com/menta2k/image-assistant"
	"github.com/menta2k/image-assistant/internal/config"
	"github.com/menta2k/image-assistant/internal/utils"
	"github.com/menta2k/image-assistant/pkg/client"
	"github.com/menta2k/image-assistant/pkg/gemini"
	"github.com/menta2k/image-assistant/pkg/host"
	"github.com/menta2k/image-assistant/pkg/llamacpp"
	"github.com/menta2k/image-assistant/pkg/ollama"
	"github.com/menta2k/image-assistant/pkg/processing"
	"github.com/menta2k/image-assistant/pkg/speech"
	"github.com/menta2k/image-assistant/pkg/types"
)

func main() {
	var configPath, in, container, drag, prompt, dictation, outDir string
	var backend, model, url string
	var temperature float64
	var serve, suggest bool

	flag.StringVar(&configPath, "config", "", "config file (json or yaml)")
	flag.StringVar(&in, "in", "", "image to crop: file path, http(s) URL or data URL")
	flag.StringVar(&container, "container", "", "displayed image size WxH (default: natural size)")
	flag.StringVar(&drag, "drag", "", "drag gesture as x,y points separated by ';' (first point presses, last releases)")
	flag.BoolVar(&suggest, "suggest", false, "start the crop box over the most detailed region")
	flag.StringVar(&prompt, "prompt", "", "prompt text (replaces dictated text)")
	flag.StringVar(&dictation, "dictation", "", "dictation source, one utterance per line ('-' for stdin)")
	flag.StringVar(&outDir, "out", "", "directory to write the cropped image and response to")
	flag.StringVar(&backend, "backend", "", "model backend: gemini, ollama or llamacpp")
	flag.StringVar(&model, "model", "", "model name (default depends on backend)")
	flag.StringVar(&url, "url", "", "server URL for ollama or llamacpp")
	flag.Float64Var(&temperature, "temperature", 0, "sampling temperature (0-2)")
	flag.BoolVar(&serve, "serve", false, "serve the HTTP and websocket host instead of running once")
	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		log.Fatal(err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Model.Backend = backend
		case "model":
			cfg.Model.Name = model
		case "url":
			cfg.Model.URL = url
		case "temperature":
			cfg.Model.Temperature = temperature
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	modelClient, closeModel, err := newModelClient(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer closeModel()

	var recognizer speech.Recognizer
	if dictation != "" {
		r, err := openDictation(dictation)
		if err != nil {
			log.Fatal(err)
		}
		defer r.Close()
		lines := speech.NewLineRecognizer(r)
		defer lines.Close()
		recognizer = lines
	}

	assistant := imageassistant.New(modelClient, recognizer, imageassistant.OptionsFromConfig(cfg))
	log.Printf("backend: %s", modelClient.Name())

	if serve {
		if err := runServer(ctx, cfg.Server.ListenAddr, assistant); err != nil {
			log.Fatal(err)
		}
		return
	}

	if in == "" && prompt == "" && dictation == "" {
		log.Fatalf("usage: %s [-in image] [-drag x,y;x,y] [-container WxH] [-prompt text | -dictation file] [-out dir] | -serve", filepath.Base(os.Args[0]))
	}
	if err := runOnce(ctx, assistant, cropRequest{in: in, container: container, drag: drag, suggest: suggest, outDir: outDir}, prompt, dictation != ""); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if def := config.GetConfigPath(); utils.FileExists(def) {
			path = def
		}
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFromFile(path)
}

// newModelClient creates the client for the configured backend and a func
// releasing it
func newModelClient(ctx context.Context, cfg *config.Config) (client.ModelClient, func(), error) {
	noop := func() {}
	switch cfg.Model.Backend {
	case "gemini":
		c, err := gemini.NewClient(ctx, cfg.Model.APIKey, cfg.Model.Name)
		if err != nil {
			return nil, noop, err
		}
		return c, func() {
			if err := c.Close(); err != nil {
				log.Printf("gemini close: %v", err)
			}
		}, nil
	case "ollama":
		u := cfg.Model.URL
		if u == "" {
			u = "http://localhost:11434"
		}
		c, err := ollama.NewClient(u, cfg.Model.Name)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return c, noop, nil
	case "llamacpp":
		c, err := llamacpp.NewClient(cfg.Model.URL, cfg.Model.Name)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return c, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown backend: %s (use gemini, ollama or llamacpp)", cfg.Model.Backend)
	}
}

func openDictation(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dictation source: %w", err)
	}
	return f, nil
}

// cropRequest describes the crop to perform in a single run
type cropRequest struct {
	in        string
	container string
	drag      string
	suggest   bool
	outDir    string
}

// runOnce dictates, crops and submits a single prompt
func runOnce(ctx context.Context, a *imageassistant.Assistant, cr cropRequest, prompt string, dictate bool) error {
	// recording start clears the prompt, so dictation runs before the crop
	if dictate {
		if _, err := a.ToggleRecording(ctx); err != nil {
			return err
		}
		for a.State().Recording {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(50 * time.Millisecond):
			}
		}
		if msg := a.Message(); msg != "" {
			return errors.New(msg)
		}
		log.Printf("dictated: %q", a.Transcript())
	}
	if prompt != "" {
		a.SetTranscript(prompt)
	}

	if cr.in != "" {
		if err := crop(ctx, a, cr); err != nil {
			return err
		}
	}

	text, err := a.Submit(ctx)
	if err != nil {
		return err
	}
	fmt.Println(text)

	if cr.outDir != "" {
		if err := utils.EnsureDir(cr.outDir); err != nil {
			return err
		}
		path := filepath.Join(cr.outDir, "response.txt")
		if err := os.WriteFile(path, []byte(text+"\n"), 0o644); err != nil {
			return err
		}
		log.Printf("saved response: %s", path)
	}
	return nil
}

func crop(ctx context.Context, a *imageassistant.Assistant, cr cropRequest) error {
	src, err := processing.NewProcessor().LoadSmart(cr.in)
	if err != nil {
		return err
	}
	natural, err := a.BeginCrop(src)
	if err != nil {
		return err
	}

	displayed := natural
	if cr.container != "" {
		if displayed, err = parseSize(cr.container); err != nil {
			return err
		}
	}
	if cr.suggest {
		box, err := a.SuggestCrop(displayed)
		if err != nil {
			return err
		}
		log.Printf("suggested box at %.1f,%.1f", box.X, box.Y)
	}

	points, err := parseGesture(cr.drag)
	if err != nil {
		return err
	}
	for i, p := range points {
		kind := types.PointerMove
		if i == 0 {
			kind = types.PointerDown
		}
		if _, err := a.Pointer(types.PointerEvent{Kind: kind, X: p.X, Y: p.Y}, displayed); err != nil {
			return err
		}
	}
	box, err := a.Pointer(types.PointerEvent{Kind: types.PointerUp}, displayed)
	if err != nil {
		return err
	}

	res, err := a.ConfirmCrop(ctx, displayed)
	if err != nil {
		return err
	}
	log.Printf("natural=%.0fx%.0f displayed=%.0fx%.0f box=%.1fx%.1f@%.1f,%.1f -> crop %dx%d %s",
		natural.Width, natural.Height, displayed.Width, displayed.Height,
		box.Width, box.Height, box.X, box.Y, res.Width, res.Height, res.MIMEType)
	if res.Clamped {
		log.Printf("crop ran past the image edge and was clamped")
	}

	if cr.outDir != "" {
		if err := utils.EnsureDir(cr.outDir); err != nil {
			return err
		}
		name := cr.in
		if !utils.IsImageFile(name) {
			name = "crop"
		}
		path := utils.GenerateOutputFilename(name, cr.outDir, "", "_crop", utils.ExtensionForMIME(res.MIMEType))
		if err := os.WriteFile(path, res.Data, 0o644); err != nil {
			return err
		}
		log.Printf("saved crop: %s", path)
	}
	return nil
}

func parseSize(s string) (types.Dimensions, error) {
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return types.Dimensions{}, fmt.Errorf("invalid size %q, want WxH", s)
	}
	wf, err1 := strconv.ParseFloat(strings.TrimSpace(w), 64)
	hf, err2 := strconv.ParseFloat(strings.TrimSpace(h), 64)
	if err1 != nil || err2 != nil || wf <= 0 || hf <= 0 {
		return types.Dimensions{}, fmt.Errorf("invalid size %q, want WxH", s)
	}
	return types.Dimensions{Width: wf, Height: hf}, nil
}

func parseGesture(s string) ([]types.Point, error) {
	var points []types.Point
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		x, y, ok := strings.Cut(part, ",")
		if !ok {
			return nil, fmt.Errorf("invalid point %q, want x,y", part)
		}
		xf, err1 := strconv.ParseFloat(strings.TrimSpace(x), 64)
		yf, err2 := strconv.ParseFloat(strings.TrimSpace(y), 64)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("invalid point %q, want x,y", part)
		}
		points = append(points, types.Point{X: xf, Y: yf})
	}
	return points, nil
}

func runServer(ctx context.Context, addr string, a *imageassistant.Assistant) error {
	mux := http.NewServeMux()
	host.NewServer(ctx, a).RegisterRoutes(mux)
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()
	log.Printf("listen addr: %s", addr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
