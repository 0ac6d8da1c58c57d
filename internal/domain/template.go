package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Image quality values accepted by templates.
const (
	QualityStandard = "standard"
	QualityHigh     = "high"
)

// Resolution bounds (longest edge, pixels).
const (
	MinResolution     = 256
	MaxResolution     = 4096
	DefaultResolution = 1024
)

var (
	ErrEmptyTemplatePrompt = errors.New("template prompt cannot be empty")
	ErrInvalidStrength     = errors.New("template strength must be between 0 and 1")
	ErrInvalidResolution   = errors.New("template resolution out of range")
	ErrInvalidQuality      = errors.New("template quality must be standard or high")
)

// Template is a named prompt and parameter bundle defining how an image
// should be transformed.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	BuiltIn bool   `json:"built_in"`
	Params  Params `json:"params"`
}

// Validate checks that the template can be submitted to a provider.
func (t *Template) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: %v", ErrValidation, ErrEmptyTemplateID)
	}
	return t.Params.Validate()
}

// Validate checks parameter ranges.
func (p Params) Validate() error {
	if strings.TrimSpace(p.Prompt) == "" {
		return fmt.Errorf("%w: %v", ErrValidation, ErrEmptyTemplatePrompt)
	}
	if p.Strength < 0 || p.Strength > 1 {
		return fmt.Errorf("%w: %v", ErrValidation, ErrInvalidStrength)
	}
	if p.Resolution < MinResolution || p.Resolution > MaxResolution {
		return fmt.Errorf("%w: %v (%d)", ErrValidation, ErrInvalidResolution, p.Resolution)
	}
	if p.Quality != QualityStandard && p.Quality != QualityHigh {
		return fmt.Errorf("%w: %v", ErrValidation, ErrInvalidQuality)
	}
	return nil
}

// WithDefaults fills zero values with the defaults used across providers.
func (p Params) WithDefaults() Params {
	if p.Resolution == 0 {
		p.Resolution = DefaultResolution
	}
	if p.Quality == "" {
		p.Quality = QualityStandard
	}
	p.Quality = strings.ToLower(strings.TrimSpace(p.Quality))
	return p
}
