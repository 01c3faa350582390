// Package host exposes an Assistant over HTTP and a websocket pointer stream,
// standing in for the page that renders the prompt and crop controls.
package host

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	imageassistant "github.com/menta2k/image-assistant"
	"github.com/menta2k/image-assistant/pkg/apperr"
	"github.com/menta2k/image-assistant/pkg/processing"
	"github.com/menta2k/image-assistant/pkg/types"
)

// Server routes HTTP requests to an Assistant
type Server struct {
	// ctx outlives single requests; recordings run under it
	ctx       context.Context
	assistant *imageassistant.Assistant
	processor *processing.Processor
	pointer   *PointerServer
}

// NewServer creates a host server. Recordings started through it stop when
// ctx is cancelled.
func NewServer(ctx context.Context, a *imageassistant.Assistant) *Server {
	return &Server{
		ctx:       ctx,
		assistant: a,
		processor: processing.NewProcessor(),
		pointer:   NewPointerServer(a),
	}
}

// RegisterRoutes wires API and websocket handlers onto the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/image", s.handleImage)
	mux.HandleFunc("/api/crop/confirm", s.handleConfirm)
	mux.HandleFunc("/api/crop/cancel", s.handleCancel)
	mux.HandleFunc("/api/crop/suggest", s.handleSuggest)
	mux.HandleFunc("/api/transcript", s.handleTranscript)
	mux.HandleFunc("/api/temperature", s.handleTemperature)
	mux.HandleFunc("/api/record", s.handleRecord)
	mux.HandleFunc("/api/submit", s.handleSubmit)
	mux.HandleFunc("/api/state", s.handleState)
	mux.Handle("/ws/crop", s.pointer)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type imageResponse struct {
	Natural types.Dimensions `json:"natural"`
}

type sizeRequest struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

type cropResponse struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	MIMEType string `json:"mime_type"`
	DataURL  string `json:"data_url"`
	Clamped  bool   `json:"clamped"`
}

type transcriptBody struct {
	Text string `json:"text"`
}

type temperatureBody struct {
	Value float64 `json:"value"`
}

type recordResponse struct {
	Recording bool `json:"recording"`
}

// handleImage loads a crop source, serves the cropped image or removes it.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		src, err := s.readSource(r)
		if err != nil {
			writeError(w, err)
			return
		}
		natural, err := s.assistant.BeginCrop(src)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, imageResponse{Natural: natural})
	case http.MethodGet:
		res, ok := s.assistant.Image()
		if !ok {
			http.Error(w, "no image", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", res.MIMEType)
		_, _ = w.Write(res.Data)
	case http.MethodDelete:
		s.assistant.RemoveImage()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// readSource accepts a remote URL via ?url=, a data URL body, or raw image
// bytes typed by Content-Type.
func (s *Server) readSource(r *http.Request) (processing.Source, error) {
	if u := r.URL.Query().Get("url"); u != "" {
		return s.processor.LoadURL(u)
	}
	data, err := processing.ReadSource(r.Body)
	if err != nil {
		return processing.Source{}, err
	}
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("data:")) {
		return processing.SourceFromDataURL(string(data))
	}
	return processing.SourceFromBytes(data, r.Header.Get("Content-Type")), nil
}

// handleConfirm extracts the crop at the displayed size given in the body.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req sizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	res, err := s.assistant.ConfirmCrop(r.Context(), types.Dimensions{Width: req.W, Height: req.H})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cropResponse{
		Width:    res.Width,
		Height:   res.Height,
		MIMEType: res.MIMEType,
		DataURL:  res.DataURL(),
		Clamped:  res.Clamped,
	})
}

// handleSuggest moves the crop box over the most detailed region.
func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req sizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	box, err := s.assistant.SuggestCrop(types.Dimensions{Width: req.W, Height: req.H})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PointerReply{Box: &box})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.assistant.CancelCrop()
	w.WriteHeader(http.StatusNoContent)
}

// handleTranscript reads or replaces the prompt text.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, transcriptBody{Text: s.assistant.Transcript()})
	case http.MethodPost:
		var req transcriptBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		s.assistant.SetTranscript(req.Text)
		writeJSON(w, http.StatusOK, req)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleTemperature(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req temperatureBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := s.assistant.SetTemperature(req.Value); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, temperatureBody{Value: s.assistant.Temperature()})
}

// handleRecord toggles dictation.
func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	recording, err := s.assistant.ToggleRecording(s.ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse{Recording: recording})
}

// handleSubmit sends the prompt and waits for the whole response.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	text, err := s.assistant.Submit(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.Response{Text: text})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.assistant.State())
}

// statusFor maps an error to its HTTP status
func statusFor(err error) int {
	if errors.Is(err, apperr.ErrBusy) {
		return http.StatusConflict
	}
	switch apperr.KindOf(err) {
	case apperr.KindInputValidation:
		return http.StatusBadRequest
	case apperr.KindImageLoad, apperr.KindCanvasUnavailable, apperr.KindSpeechCapture:
		return http.StatusUnprocessableEntity
	case apperr.KindModelRequest:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("host: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: string(apperr.KindOf(err))})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
