package model

import (
	"errors"
	"strings"
)

var (
	// ErrTransport covers network, DNS and connection failures
	ErrTransport = errors.New("transport error")
	// ErrAuth is returned for 401/403 responses and failed token issuance
	ErrAuth = errors.New("authentication failed")
	// ErrNotFound is returned for 404 responses
	ErrNotFound = errors.New("not found")
	// ErrParse covers decompression failures and undecodable content
	ErrParse = errors.New("parse error")
	// ErrLogUnavailable is returned when the log endpoint answers with an unexpected status
	ErrLogUnavailable = errors.New("log unavailable")
	// ErrInvalidRepository is returned for malformed owner/repo arguments
	ErrInvalidRepository = errors.New("invalid repository format, use owner/repo")
)

// IsSkippable reports whether a per-run failure should degrade the run to
// zero inputs instead of stopping the batch.
func IsSkippable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrAuth)
}

// Hint returns remediation guidance for hard failures
func Hint(err error) string {
	switch {
	case errors.Is(err, ErrAuth):
		return strings.Join([]string{
			"Set GITHUB_TOKEN to a token with repo and actions:read access,",
			"or set GITHUB_APP_ID and GITHUB_PRIVATE_KEY_PATH for a GitHub App installed on the owner.",
			"Private repositories always require credentials.",
		}, "\n")
	case errors.Is(err, ErrNotFound):
		return strings.Join([]string{
			"Verify the repository owner/name is correct.",
			"Check that the repository exists and your credentials can see it.",
		}, "\n")
	case errors.Is(err, ErrInvalidRepository):
		return "Example: iswith inputs octo-org/octo-repo --workflow deploy"
	case errors.Is(err, ErrTransport):
		return "Check your network connection and GITHUB_API_URL."
	}
	return ""
}
