package urlutil

import (
	"net/url"
	"strings"
)

// BuildAbsolute builds an absolute URL from a base origin and a path.
func BuildAbsolute(base, path string) string {
	base = NormalizeBaseURL(base)
	if path == "" {
		return base
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if strings.HasPrefix(path, "/") {
		return base + path
	}
	return base + "/" + path
}

// WithQuery builds an absolute URL and appends the encoded query. Keys are emitted in
// sorted order so generated URLs are stable across runs.
func WithQuery(base, path string, query url.Values) string {
	abs := BuildAbsolute(base, path)
	if len(query) == 0 {
		return abs
	}
	sep := "?"
	if strings.Contains(abs, "?") {
		sep = "&"
	}
	return abs + sep + query.Encode()
}

// QueryParam returns the first value of key in rawURL's query string.
func QueryParam(rawURL, key string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	values, ok := u.Query()[key]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// NormalizeBaseURL trims whitespace and trailing slashes.
func NormalizeBaseURL(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/")
}
