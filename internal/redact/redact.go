// Package redact scrubs credentials from strings before they are logged,
// stored in job records or returned in API responses. Provider errors often
// echo request URLs and headers, which may carry API keys.
package redact

import (
	"regexp"
	"strings"
	"sync"
)

// Constants for redaction placeholders
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
)

// Precompiled regex patterns
var (
	// Connection strings with embedded credentials
	dbConnRegex = regexp.MustCompile(`(?i)(postgres|postgresql|mysql|mongodb|db|database|connection)://[^@\s]+@`)

	// Authorization headers
	bearerRegex = regexp.MustCompile(`(?i)\b(bearer|basic)\s+[A-Za-z0-9_\-.~+/=]{8,}`)

	// Query string keys (?key=..., &api_key=...)
	queryKeyRegex = regexp.MustCompile(`(?i)([?&](?:key|api_key|apikey|access_token|token)=)[^&\s"']+`)

	// Credentials and tokens in key/value form
	passwordRegex = regexp.MustCompile(`(?i)(password|passwd|pwd)([=:\s]?['"]?)[^'"&\s]{3,}`)
	apiKeyRegex   = regexp.MustCompile(
		`(?i)(api[_-]?key|x-goog-api-key|token|secret|authorization)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`,
	)

	// Vendor key shapes
	googleKeyRegex = regexp.MustCompile(`AIza[0-9A-Za-z_\-]{20,}`)
	skKeyRegex     = regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{16,}`)
	awsKeyRegex    = regexp.MustCompile(`(AKIA|AccessKey(Id)?)([^a-zA-Z0-9])?[A-Z0-9]{8,}`)

	// JWT token pattern - matches the standard three-part base64url-encoded JWT token format
	jwtTokenRegex = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`)

	patterns = []*regexp.Regexp{
		dbConnRegex, bearerRegex, queryKeyRegex, passwordRegex, apiKeyRegex,
		googleKeyRegex, skKeyRegex, awsKeyRegex, jwtTokenRegex,
	}

	patternPlaceholders = map[*regexp.Regexp]string{
		dbConnRegex:    RedactedCredentialPlaceholder,
		bearerRegex:    "${1} " + RedactedCredentialPlaceholder,
		queryKeyRegex:  "${1}" + RedactedKeyPlaceholder,
		passwordRegex:  RedactedCredentialPlaceholder,
		apiKeyRegex:    RedactedKeyPlaceholder,
		googleKeyRegex: RedactedKeyPlaceholder,
		skKeyRegex:     RedactedKeyPlaceholder,
		awsKeyRegex:    RedactedKeyPlaceholder,
		jwtTokenRegex:  "[REDACTED_JWT]",
	}

	// Exact secrets registered at runtime (configured API keys)
	secrets []string

	mu sync.RWMutex
)

// minSecretLen prevents short values from shredding unrelated text.
const minSecretLen = 6

// RegisterSecret adds a literal value that must never appear in output,
// such as a configured provider API key.
func RegisterSecret(secret string) {
	secret = strings.TrimSpace(secret)
	if len(secret) < minSecretLen {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	for _, s := range secrets {
		if s == secret {
			return
		}
	}
	secrets = append(secrets, secret)
}

// String redacts sensitive information from the input string
func String(input string) string {
	if input == "" {
		return input
	}

	mu.RLock()
	defer mu.RUnlock()

	result := input
	for _, s := range secrets {
		result = strings.ReplaceAll(result, s, RedactedKeyPlaceholder)
	}
	for _, pattern := range patterns {
		placeholder := RedactionPlaceholder
		if ph, ok := patternPlaceholders[pattern]; ok {
			placeholder = ph
		}
		result = pattern.ReplaceAllString(result, placeholder)
	}

	return result
}

// Error redacts sensitive information from an error's Error() output
func Error(err error) string {
	if err == nil {
		return ""
	}

	return String(err.Error())
}

// Mask shortens a credential for display, keeping the last four characters.
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
