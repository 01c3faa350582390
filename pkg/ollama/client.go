package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/image-assistant/pkg/client"
	"github.com/menta2k/image-assistant/pkg/types"
)

// DefaultModel is used when no model name is configured
const DefaultModel = "openbmb/minicpm-v4.5"

// Client wraps the Ollama API client
type Client struct {
	client *api.Client
	model  string
}

// NewClient creates a new Ollama client
func NewClient(ollamaURL, model string) (*Client, error) {
	// Parse the provided URL
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q", ollamaURL)
	}

	// Base URL only; a path like /api/chat is dropped
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}
	if model == "" {
		model = DefaultModel
	}

	return &Client{client: api.NewClient(baseURL, http.DefaultClient), model: model}, nil
}

func (c *Client) Name() string { return "ollama" }

// Generate sends a single non-streaming chat message with the optional image
func (c *Client) Generate(ctx context.Context, req types.Request) (types.Response, error) {
	if err := client.ValidateRequest(req); err != nil {
		return types.Response{}, err
	}
	// Add timeout if context doesn't have one (vision models on CPU are slow)
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 300*time.Second)
		defer cancel()
	}

	msg := api.Message{
		Role:    "user",
		Content: req.PromptText,
	}
	if req.Image != nil && len(req.Image.Data) > 0 {
		msg.Images = []api.ImageData{api.ImageData(req.Image.Data)}
	}

	streamFalse := false
	chatReq := &api.ChatRequest{
		Model:    c.model,
		Messages: []api.Message{msg},
		Stream:   &streamFalse,
		Options: map[string]any{
			"temperature": req.Temperature,
		},
	}

	var sb strings.Builder
	err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return types.Response{}, client.RequestError(fmt.Errorf("ollama chat error: %w", err))
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return types.Response{}, client.EmptyResponse("ollama")
	}
	return types.Response{Text: text}, nil
}
