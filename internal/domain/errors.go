package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a submission or entity fails validation.
	// It is wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrImageNotFound is returned when a job references an image that was never staged.
	ErrImageNotFound = errors.New("image not found")

	// ErrTemplateNotFound is returned when a job references an unknown template.
	ErrTemplateNotFound = errors.New("template not found")
)
