package api

import (
	"time"

	"github.com/lin-1259/ai-xiutu/internal/provider"
)

// SubmitJobRequest defines the payload for creating a job.
type SubmitJobRequest struct {
	ImageID    string `json:"imageId"    validate:"required"`
	TemplateID string `json:"templateId" validate:"required"`
	Priority   *int   `json:"priority"`
	MaxRetries *int   `json:"maxRetries" validate:"omitempty,gte=0,lte=100"`
	SourceName string `json:"sourceName"`
}

// ConcurrencyRequest sets the scheduler concurrency. Out of range values are clamped.
type ConcurrencyRequest struct {
	Value int `json:"value" validate:"required"`
}

// ConcurrencyResponse reports the effective concurrency.
type ConcurrencyResponse struct {
	Value int `json:"value"`
}

// ImageResponse describes a staged image.
type ImageResponse struct {
	ImageID     string    `json:"imageId"`
	ContentHash string    `json:"contentHash"`
	MIME        string    `json:"mime"`
	Size        int64     `json:"size"`
	StagedAt    time.Time `json:"stagedAt"`
}

// ClearJobsResponse lists the ids removed by a queue clear.
type ClearJobsResponse struct {
	Removed []string `json:"removed"`
	Count   int      `json:"count"`
}

// ActionResponse is returned by job lifecycle operations.
type ActionResponse struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Status string `json:"status"`
}

// ProviderRequest defines the payload for adding or updating a provider.
type ProviderRequest struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Endpoint     string            `json:"endpoint"     validate:"omitempty,url"`
	APIKey       string            `json:"apiKey"`
	Model        string            `json:"model"`
	AuthMode     string            `json:"authMode"     validate:"omitempty,oneof=bearer header query none"`
	Headers      map[string]string `json:"headers"`
	RateLimit    int               `json:"rateLimit"    validate:"gte=0"`
	MaxAttempts  int               `json:"maxAttempts"  validate:"gte=0,lte=10"`
	BaseDelayMs  int64             `json:"baseDelayMs"  validate:"gte=0"`
	Enabled      *bool             `json:"enabled"`
	CostPerImage float64           `json:"costPerImage" validate:"gte=0"`
}

// toConfig converts the request into a provider configuration. Providers
// are enabled unless the request says otherwise.
func (p ProviderRequest) toConfig() provider.Config {
	enabled := true
	if p.Enabled != nil {
		enabled = *p.Enabled
	}
	return provider.Config{
		ID:           p.ID,
		Name:         p.Name,
		Kind:         provider.KindGeneric,
		Endpoint:     p.Endpoint,
		APIKey:       p.APIKey,
		Model:        p.Model,
		AuthMode:     provider.AuthMode(p.AuthMode),
		Headers:      p.Headers,
		RateLimit:    p.RateLimit,
		MaxAttempts:  p.MaxAttempts,
		BaseDelay:    time.Duration(p.BaseDelayMs) * time.Millisecond,
		Enabled:      enabled,
		CostPerImage: p.CostPerImage,
	}
}

// ProvidersResponse lists providers with credentials masked.
type ProvidersResponse struct {
	Current   string            `json:"current"`
	Providers []provider.Config `json:"providers"`
}

// CurrentProviderRequest switches the current provider.
type CurrentProviderRequest struct {
	ID string `json:"id" validate:"required"`
}

// BatchRequest runs the hot folder batch mode over a directory.
type BatchRequest struct {
	Dir string `json:"dir" validate:"required"`
}

// BatchResponse reports how many jobs a batch submitted.
type BatchResponse struct {
	Dir       string `json:"dir"`
	Submitted int    `json:"submitted"`
}
