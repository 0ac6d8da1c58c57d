package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash-image-preview"

// GeminiClient calls the Gemini API through the genai SDK, sending the source
// image and instructions as one user turn and reading the inline image part of
// the first candidate.
type GeminiClient struct {
	httpClient *http.Client
	logger     *slog.Logger

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewGeminiClient creates a GeminiClient.
func NewGeminiClient(httpClient *http.Client, logger *slog.Logger) *GeminiClient {
	return &GeminiClient{
		httpClient: httpClient,
		logger:     logger,
		clients:    make(map[string]*genai.Client),
	}
}

// sdkClient returns a genai client for the credential and endpoint, creating it
// on first use.
func (c *GeminiClient) sdkClient(ctx context.Context, cfg Config) (*genai.Client, error) {
	key := cfg.APIKey + "|" + cfg.Endpoint
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[key]; ok {
		return client, nil
	}

	clientConfig := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
	}
	if cfg.Endpoint != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	c.clients[key] = client
	return client, nil
}

// Transform implements Client.
func (c *GeminiClient) Transform(ctx context.Context, cfg Config, req Request) (*Response, error) {
	image, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		return nil, semanticError(cfg.ID, fmt.Errorf("invalid source image: %w", err))
	}
	client, err := c.sdkClient(ctx, cfg)
	if err != nil {
		return nil, semanticError(cfg.ID, err)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	mime := req.MIME
	if mime == "" {
		mime = "image/png"
	}

	parts := []*genai.Part{
		genai.NewPartFromBytes(image, mime),
		genai.NewPartFromText(geminiInstructions(req)),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	c.logger.DebugContext(ctx, "making Gemini API call", "provider_id", cfg.ID, "model", model)
	resp, err := client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return nil, classifyGeminiError(cfg.ID, err)
	}

	data, err := geminiImage(resp)
	if err != nil {
		return nil, semanticError(cfg.ID, err)
	}
	return &Response{Success: true, ImageBase64: base64.StdEncoding.EncodeToString(data)}, nil
}

// geminiInstructions renders the transform parameters into the text part.
func geminiInstructions(req Request) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(req.Prompt))
	if neg := strings.TrimSpace(req.NegativePrompt); neg != "" {
		fmt.Fprintf(&b, "\nAvoid: %s", neg)
	}
	fmt.Fprintf(&b, "\nEdit strength: %.2f (0 keeps the original, 1 fully reimagines it).", req.Strength)
	if req.Resolution > 0 {
		fmt.Fprintf(&b, "\nOutput resolution: %dpx on the long edge.", req.Resolution)
	}
	if req.Quality != "" {
		fmt.Fprintf(&b, "\nQuality: %s.", req.Quality)
	}
	b.WriteString("\nReturn only the edited image.")
	return b.String()
}

// geminiImage extracts the first inline image from a response.
func geminiImage(resp *genai.GenerateContentResponse) ([]byte, error) {
	if resp == nil {
		return nil, errors.New("nil response")
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return nil, errors.New("no content generated")
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, errors.New("content blocked by safety filters")
	}
	if candidate.Content == nil {
		return nil, errors.New("empty content in response")
	}
	for _, part := range candidate.Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData.Data, nil
		}
	}
	return nil, errors.New("response contained no image")
}

// classifyGeminiError maps SDK errors onto the transport/semantic split.
func classifyGeminiError(id string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return statusError(id, apiErr.Code, errors.New(apiErr.Message))
	}
	return transportError(id, err)
}
