package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lin-1259/ai-xiutu/internal/config"
	"github.com/lin-1259/ai-xiutu/internal/redact"
)

// Kind selects the request shape used for a provider.
type Kind string

const (
	KindGemini  Kind = "gemini"
	KindQwen    Kind = "qwen"
	KindGeneric Kind = "generic"
)

// AuthMode controls how the credential is attached to generic requests.
type AuthMode string

const (
	AuthBearer AuthMode = "bearer"
	AuthHeader AuthMode = "header"
	AuthQuery  AuthMode = "query"
	AuthNone   AuthMode = "none"
)

// Built-in provider ids.
const (
	GeminiID = "gemini"
	QwenID   = "qwen"
)

// Config identifies one inference endpoint.
type Config struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Kind         Kind              `json:"kind"`
	Endpoint     string            `json:"endpoint,omitempty"`
	APIKey       string            `json:"api_key,omitempty"`
	Model        string            `json:"model,omitempty"`
	AuthMode     AuthMode          `json:"auth_mode,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	RateLimit    int               `json:"rate_limit"`
	MaxAttempts  int               `json:"max_attempts"`
	BaseDelay    time.Duration     `json:"base_delay"`
	Enabled      bool              `json:"enabled"`
	BuiltIn      bool              `json:"built_in"`
	CostPerImage float64           `json:"cost_per_image,omitempty"`
}

// HasCredentials reports whether the provider can authenticate.
func (c Config) HasCredentials() bool {
	if c.Kind == KindGeneric && c.AuthMode == AuthNone {
		return true
	}
	return strings.TrimSpace(c.APIKey) != ""
}

// Usable reports whether the dispatcher may send requests to the provider.
func (c Config) Usable() bool {
	return c.Enabled && c.HasCredentials()
}

// Validate checks the fields the dispatcher relies on.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidProvider)
	}
	switch c.Kind {
	case KindGemini, KindQwen:
	case KindGeneric:
		if _, err := url.ParseRequestURI(c.Endpoint); err != nil {
			return fmt.Errorf("%w: endpoint %q is not a valid URL", ErrInvalidProvider, c.Endpoint)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidProvider, c.Kind)
	}
	switch c.AuthMode {
	case "", AuthBearer, AuthHeader, AuthQuery, AuthNone:
	default:
		return fmt.Errorf("%w: unknown auth mode %q", ErrInvalidProvider, c.AuthMode)
	}
	if c.RateLimit < 0 || c.MaxAttempts < 0 || c.BaseDelay < 0 || c.CostPerImage < 0 {
		return fmt.Errorf("%w: limits must not be negative", ErrInvalidProvider)
	}
	return nil
}

// Masked returns a copy safe to show to users.
func (c Config) Masked() Config {
	out := c
	out.APIKey = redact.Mask(c.APIKey)
	if len(c.Headers) > 0 {
		out.Headers = make(map[string]string, len(c.Headers))
		for k, v := range c.Headers {
			out.Headers[k] = redact.Mask(v)
		}
	}
	return out
}

func (c Config) clone() Config {
	out := c
	if c.Headers != nil {
		out.Headers = make(map[string]string, len(c.Headers))
		for k, v := range c.Headers {
			out.Headers[k] = v
		}
	}
	return out
}

// Request is the uniform transform request sent to every provider.
type Request struct {
	ImageBase64    string  `json:"imageBase64"`
	MIME           string  `json:"mime,omitempty"`
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negativePrompt,omitempty"`
	Strength       float64 `json:"strength"`
	GuidanceScale  float64 `json:"guidanceScale,omitempty"`
	Steps          int     `json:"steps,omitempty"`
	Resolution     int     `json:"resolution"`
	Quality        string  `json:"quality"`
}

// Response is the uniform transform response returned by every provider.
type Response struct {
	Success          bool    `json:"success"`
	ImageBase64      string  `json:"imageBase64,omitempty"`
	Cost             float64 `json:"cost,omitempty"`
	Error            string  `json:"error,omitempty"`
	ProcessingTimeMs int64   `json:"processingTimeMs,omitempty"`
}

// Result is a successful dispatch.
type Result struct {
	Image          []byte
	ProviderID     string
	Cost           float64
	ProcessingTime time.Duration
}

// Client performs one transform call against a provider of a given kind.
type Client interface {
	Transform(ctx context.Context, cfg Config, req Request) (*Response, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, cfg Config, req Request) (*Response, error)

// Transform calls f.
func (f ClientFunc) Transform(ctx context.Context, cfg Config, req Request) (*Response, error) {
	return f(ctx, cfg, req)
}

// ConfigsFromSettings builds the provider registry from application settings.
// Built-in providers come first, then custom providers in configured order.
func ConfigsFromSettings(pc config.ProvidersConfig) []Config {
	configs := []Config{
		builtIn(GeminiID, "Google Gemini", KindGemini, pc.Gemini),
		builtIn(QwenID, "Alibaba Qwen", KindQwen, pc.Qwen),
	}
	for _, c := range pc.Custom {
		name := c.Name
		if name == "" {
			name = c.ID
		}
		mode := AuthMode(c.AuthMode)
		if mode == "" {
			mode = AuthBearer
		}
		configs = append(configs, Config{
			ID:           c.ID,
			Name:         name,
			Kind:         KindGeneric,
			Endpoint:     c.Endpoint,
			APIKey:       c.APIKey,
			Model:        c.Model,
			AuthMode:     mode,
			Headers:      c.Headers,
			RateLimit:    c.RateLimit,
			MaxAttempts:  c.MaxAttempts,
			BaseDelay:    c.BaseDelay,
			Enabled:      c.Enabled,
			CostPerImage: c.CostPerImage,
		})
	}
	return configs
}

func builtIn(id, name string, kind Kind, pc config.ProviderConfig) Config {
	return Config{
		ID:          id,
		Name:        name,
		Kind:        kind,
		Endpoint:    pc.Endpoint,
		APIKey:      pc.APIKey,
		Model:       pc.Model,
		AuthMode:    AuthBearer,
		RateLimit:   pc.RateLimit,
		MaxAttempts: pc.MaxAttempts,
		BaseDelay:   pc.BaseDelay,
		Enabled:     pc.Enabled,
		BuiltIn:     true,
	}
}
