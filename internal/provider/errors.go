package provider

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/lin-1259/ai-xiutu/internal/redact"
)

// Common provider errors.
var (
	// ErrRateLimited is returned when a provider's request window is full.
	// Callers should treat it as transient.
	ErrRateLimited = errors.New("provider rate limit exceeded")

	// ErrTransport classifies network, timeout and 5xx failures.
	ErrTransport = errors.New("provider transport failure")

	// ErrProviderSemantic classifies well-formed errors returned by a provider.
	ErrProviderSemantic = errors.New("provider rejected request")

	// ErrNoProviderAvailable is returned when no enabled, credentialed provider exists.
	ErrNoProviderAvailable = errors.New("no provider available")

	// ErrProviderNotFound is returned for unknown provider ids.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrDuplicateProvider is returned when adding a provider whose id is taken.
	ErrDuplicateProvider = errors.New("provider already exists")

	// ErrBuiltInProvider is returned when removing a built-in provider.
	ErrBuiltInProvider = errors.New("built-in providers cannot be removed")

	// ErrInvalidProvider is returned for malformed provider configuration.
	ErrInvalidProvider = errors.New("invalid provider configuration")
)

// Class separates failures the dispatcher may retry from those it must not.
type Class int

const (
	// ClassTransport errors are retried and may trigger failover.
	ClassTransport Class = iota
	// ClassSemantic errors fail fast.
	ClassSemantic
	// ClassRateLimited errors are rejected before any call is made.
	ClassRateLimited
)

func (c Class) sentinel() error {
	switch c {
	case ClassTransport:
		return ErrTransport
	case ClassRateLimited:
		return ErrRateLimited
	default:
		return ErrProviderSemantic
	}
}

// Error is a classified failure from one provider.
type Error struct {
	ProviderID string
	Class      Class
	StatusCode int
	Err        error
}

// Error returns a credential-free description of the failure.
func (e *Error) Error() string {
	msg := e.Class.sentinel().Error()
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("status %d: %s", e.StatusCode, msg)
	}
	return redact.String(fmt.Sprintf("provider %s: %s", e.ProviderID, msg))
}

// Unwrap exposes both the class sentinel and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Class.sentinel()}
	}
	return []error{e.Class.sentinel(), e.Err}
}

func transportError(id string, err error) *Error {
	return &Error{ProviderID: id, Class: ClassTransport, Err: err}
}

func semanticError(id string, err error) *Error {
	return &Error{ProviderID: id, Class: ClassSemantic, Err: err}
}

// statusError classifies a non-2xx HTTP response. 429 and 5xx are transient.
func statusError(id string, code int, err error) *Error {
	class := ClassSemantic
	if code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500 {
		class = ClassTransport
	}
	return &Error{ProviderID: id, Class: class, StatusCode: code, Err: err}
}

// IsTransient reports whether err may succeed if repeated later.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrRateLimited)
}
