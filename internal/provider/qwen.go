package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Qwen defaults for the DashScope image edit API.
const (
	DefaultQwenEndpoint = "https://dashscope-intl.aliyuncs.com/api/v1"
	DefaultQwenModel    = "qwen-image-edit"

	qwenGenerationPath = "/services/aigc/multimodal-generation/generation"
)

// QwenClient calls the DashScope multimodal generation API. The response
// carries an image URL which is downloaded and returned inline.
type QwenClient struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewQwenClient creates a QwenClient.
func NewQwenClient(httpClient *http.Client, logger *slog.Logger) *QwenClient {
	return &QwenClient{httpClient: httpClient, logger: logger}
}

type qwenRequest struct {
	Model      string         `json:"model"`
	Input      qwenInput      `json:"input"`
	Parameters qwenParameters `json:"parameters"`
}

type qwenInput struct {
	Messages []qwenMessage `json:"messages"`
}

type qwenMessage struct {
	Role    string        `json:"role"`
	Content []qwenContent `json:"content"`
}

type qwenContent struct {
	Image string `json:"image,omitempty"`
	Text  string `json:"text,omitempty"`
}

type qwenParameters struct {
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Watermark      bool   `json:"watermark"`
}

type qwenResponse struct {
	Output struct {
		Choices []struct {
			Message struct {
				Content []qwenContent `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Transform implements Client.
func (c *QwenClient) Transform(ctx context.Context, cfg Config, req Request) (*Response, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, semanticError(cfg.ID, errors.New("prompt is required"))
	}
	mime := req.MIME
	if mime == "" {
		mime = "image/png"
	}
	model := cfg.Model
	if model == "" {
		model = DefaultQwenModel
	}

	payload := qwenRequest{
		Model: model,
		Input: qwenInput{Messages: []qwenMessage{{
			Role: "user",
			Content: []qwenContent{
				{Image: "data:" + mime + ";base64," + req.ImageBase64},
				{Text: prompt},
			},
		}}},
		Parameters: qwenParameters{NegativePrompt: strings.TrimSpace(req.NegativePrompt)},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, semanticError(cfg.ID, fmt.Errorf("encode request: %w", err))
	}

	base := strings.TrimRight(cfg.Endpoint, "/")
	if base == "" {
		base = DefaultQwenEndpoint
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+qwenGenerationPath, bytes.NewReader(body))
	if err != nil {
		return nil, semanticError(cfg.ID, fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	raw, status, err := doRequest(c.httpClient, httpReq)
	if err != nil {
		return nil, transportError(cfg.ID, err)
	}

	var decoded qwenResponse
	decodeErr := json.Unmarshal(raw, &decoded)
	if status >= 300 {
		if decodeErr == nil && decoded.Message != "" {
			return nil, statusError(cfg.ID, status, fmt.Errorf("%s (%s)", decoded.Message, decoded.Code))
		}
		return nil, statusError(cfg.ID, status, errors.New(truncate(strings.TrimSpace(string(raw)), 200)))
	}
	if decodeErr != nil {
		return nil, semanticError(cfg.ID, fmt.Errorf("decode response: %w", decodeErr))
	}
	if decoded.Code != "" {
		return nil, semanticError(cfg.ID, fmt.Errorf("%s (%s)", decoded.Message, decoded.Code))
	}

	imageURL := firstQwenImage(decoded)
	if imageURL == "" {
		return nil, semanticError(cfg.ID, errors.New("empty image url"))
	}
	data, err := c.download(ctx, cfg.ID, imageURL)
	if err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "qwen image downloaded",
		"provider_id", cfg.ID,
		"request_id", decoded.RequestID,
		"bytes", len(data))

	return &Response{Success: true, ImageBase64: base64.StdEncoding.EncodeToString(data)}, nil
}

func (c *QwenClient) download(ctx context.Context, id, imageURL string) ([]byte, error) {
	parsed, err := url.Parse(strings.TrimSpace(imageURL))
	if err != nil || parsed.Scheme == "" {
		return nil, semanticError(id, fmt.Errorf("invalid image url: %s", imageURL))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, semanticError(id, fmt.Errorf("build download request: %w", err))
	}
	data, status, err := doRequest(c.httpClient, req)
	if err != nil {
		return nil, transportError(id, fmt.Errorf("download image: %w", err))
	}
	if status >= 300 {
		return nil, statusError(id, status, errors.New("download failed"))
	}
	return data, nil
}

func firstQwenImage(resp qwenResponse) string {
	for _, choice := range resp.Output.Choices {
		for _, content := range choice.Message.Content {
			if u := strings.TrimSpace(content.Image); u != "" {
				return u
			}
		}
	}
	return ""
}
