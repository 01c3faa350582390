// Package apperr defines the error kinds surfaced to the user.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the single user-visible message slot
type Kind string

const (
	KindInputValidation   Kind = "input_validation"
	KindSpeechCapture     Kind = "speech_capture"
	KindImageLoad         Kind = "image_load"
	KindCanvasUnavailable Kind = "canvas_unavailable"
	KindModelRequest      Kind = "model_request"
)

// Kind sentinels for errors.Is
var (
	ErrInputValidation   = &Error{Kind: KindInputValidation}
	ErrSpeechCapture     = &Error{Kind: KindSpeechCapture}
	ErrImageLoad         = &Error{Kind: KindImageLoad}
	ErrCanvasUnavailable = &Error{Kind: KindCanvasUnavailable}
	ErrModelRequest      = &Error{Kind: KindModelRequest}
)

// ErrBusy is returned when an operation is requested while the same
// operation is still in flight.
var ErrBusy = errors.New("operation already in progress")

// Error is a classified error. Msg is the text shown to the user; Err, when
// set, is the underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the package sentinels work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns a classified error with a message
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap classifies err under kind. It returns nil when err is nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain, or
// the empty kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
