package common

import (
	"fmt"
	"net/url"
	"strings"
)

// ResolveURL resolves a candidate link against a base URL. Absolute candidates
// pass through untouched; relative ones are joined with the base according to
// standard reference resolution.
func ResolveURL(base, candidate string) (string, error) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", fmt.Errorf("empty candidate URL")
	}

	if strings.HasPrefix(candidate, "http://") || strings.HasPrefix(candidate, "https://") {
		return candidate, nil
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", base, err)
	}

	ref, err := url.Parse(candidate)
	if err != nil {
		return "", fmt.Errorf("invalid candidate URL %q: %w", candidate, err)
	}

	return baseURL.ResolveReference(ref).String(), nil
}
