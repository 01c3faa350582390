package client

import (
	"context"
	"strings"

	"github.com/menta2k/image-assistant/pkg/apperr"
	"github.com/menta2k/image-assistant/pkg/types"
)

// ModelClient sends one prompt to a language model and returns its text
type ModelClient interface {
	Name() string
	Generate(ctx context.Context, req types.Request) (types.Response, error)
}

// ValidateRequest rejects a request that has neither prompt text nor image
func ValidateRequest(req types.Request) error {
	if strings.TrimSpace(req.PromptText) == "" && (req.Image == nil || len(req.Image.Data) == 0) {
		return apperr.New(apperr.KindInputValidation, "Prompt and image cannot both be empty.")
	}
	return nil
}

// RequestError classifies a backend failure as a model request error
func RequestError(err error) error {
	return apperr.Wrap(apperr.KindModelRequest, "Error generating response", err)
}

// EmptyResponse is returned when the model produced no usable text
func EmptyResponse(backend string) error {
	return apperr.New(apperr.KindModelRequest, "Error generating response: empty response from "+backend)
}
