// Package speech tracks dictation state: whether recording is active and the
// transcript accumulated from finalized recognizer segments.
package speech

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/menta2k/image-assistant/pkg/apperr"
)

// Sink receives recognizer notifications. Calls may arrive on any goroutine.
type Sink interface {
	Final(text string)
	Error(code string)
	End()
}

// Recognizer is the external continuous dictation capability
type Recognizer interface {
	Start(ctx context.Context, sink Sink) error
	Stop() error
}

// Session owns the recording flag and transcript for one user
type Session struct {
	mu         sync.Mutex
	recognizer Recognizer
	recording  bool
	transcript string
	err        error

	// OnStart runs when a recording starts, before the recognizer does
	OnStart func()
	// OnError runs after a recognizer error has ended the recording
	OnError func(err error)
}

// NewSession creates a session. A nil recognizer means speech is unsupported
// in this environment.
func NewSession(r Recognizer) *Session {
	return &Session{recognizer: r}
}

// Supported reports whether a recognizer is available
func (s *Session) Supported() bool {
	return s.recognizer != nil
}

// Recording reports whether dictation is active
func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// Transcript returns the accumulated text
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}

// SetTranscript replaces the transcript, as when the user edits it by hand
func (s *Session) SetTranscript(text string) {
	s.mu.Lock()
	s.transcript = text
	s.mu.Unlock()
}

// Clear empties the transcript
func (s *Session) Clear() {
	s.SetTranscript("")
}

// Err returns the last capture error, if any
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Toggle starts dictation when idle and stops it when recording. It returns
// the recording state after the call.
func (s *Session) Toggle(ctx context.Context) (bool, error) {
	if s.recognizer == nil {
		return false, apperr.New(apperr.KindSpeechCapture,
			"Speech recognition is not supported in this environment.")
	}

	s.mu.Lock()
	if s.recording {
		s.mu.Unlock()
		// recording ends when the recognizer reports End
		if err := s.recognizer.Stop(); err != nil {
			s.fail(err.Error())
			return false, s.Err()
		}
		return s.Recording(), nil
	}
	s.recording = true
	s.err = nil
	onStart := s.OnStart
	s.mu.Unlock()

	if onStart != nil {
		onStart()
	}
	if err := s.recognizer.Start(ctx, s); err != nil {
		s.fail(err.Error())
		return false, s.Err()
	}
	return true, nil
}

// Final appends a finalized transcript segment
func (s *Session) Final(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	s.transcript += text + " "
	s.mu.Unlock()
}

// Error ends the recording with a capture error
func (s *Session) Error(code string) {
	s.fail(code)
}

// End marks the recognizer as finished
func (s *Session) End() {
	s.mu.Lock()
	s.recording = false
	s.mu.Unlock()
}

func (s *Session) fail(code string) {
	err := apperr.New(apperr.KindSpeechCapture,
		fmt.Sprintf("Speech recognition error: %s. Please check microphone permissions.", strings.TrimSpace(code)))
	s.mu.Lock()
	s.recording = false
	s.err = err
	onError := s.OnError
	s.mu.Unlock()
	if onError != nil {
		onError(err)
	}
}
