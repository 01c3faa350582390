// Package gemini implements the model client on the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/menta2k/image-assistant/pkg/client"
	"github.com/menta2k/image-assistant/pkg/types"
)

// DefaultModel is used when no model name is configured
const DefaultModel = "gemini-2.5-flash"

// Client wraps the Gemini API client
type Client struct {
	client *genai.Client
	model  string
}

// NewClient creates a new Gemini client. The API key is required.
func NewClient(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini: API_KEY is not set")
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}

	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	cl, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Client{client: cl, model: strings.TrimSpace(model)}, nil
}

func (c *Client) Name() string { return "gemini" }

// Close releases the underlying connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Generate sends the prompt text and optional inline image and returns the
// model's text.
func (c *Client) Generate(ctx context.Context, req types.Request) (types.Response, error) {
	if err := client.ValidateRequest(req); err != nil {
		return types.Response{}, err
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 120*time.Second)
		defer cancel()
	}

	m := c.client.GenerativeModel(c.model)
	m.SetTemperature(float32(req.Temperature))

	resp, err := m.GenerateContent(ctx, buildParts(req)...)
	if err != nil {
		return types.Response{}, client.RequestError(err)
	}
	text := responseText(resp)
	if text == "" {
		return types.Response{}, client.EmptyResponse("gemini")
	}
	return types.Response{Text: text}, nil
}

// buildParts orders text before the image, skipping whichever is absent
func buildParts(req types.Request) []genai.Part {
	var parts []genai.Part
	if req.PromptText != "" {
		parts = append(parts, genai.Text(req.PromptText))
	}
	if req.Image != nil && len(req.Image.Data) > 0 {
		parts = append(parts, genai.Blob{MIMEType: req.Image.MIMEType, Data: req.Image.Data})
	}
	return parts
}

// responseText concatenates the text parts of the first candidate
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return strings.TrimSpace(sb.String())
}
