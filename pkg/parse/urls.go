package parse

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"cover-palette/pkg/utils"
)

// NormalizeURL returns the key used to spot duplicate detail links.
// Scheme and host are lowercased, default ports and fragments dropped, a trailing slash trimmed.
// The query is kept: the archive never uses it for tracking.
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	normalized := *u

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)

	if host, port, err := net.SplitHostPort(normalized.Host); err == nil {
		if (normalized.Scheme == "http" && port == "80") ||
			(normalized.Scheme == "https" && port == "443") {
			normalized.Host = host
		}
	}

	if normalized.Path == "" {
		normalized.Path = "/"
	} else if len(normalized.Path) > 1 && strings.HasSuffix(normalized.Path, "/") {
		normalized.Path = strings.TrimSuffix(normalized.Path, "/")
	}
	normalized.Fragment = ""
	normalized.RawFragment = ""

	return normalized.String()
}

// ResolveLink resolves href against base and returns an absolute http(s) URL without fragment
func ResolveLink(base *url.URL, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", fmt.Errorf("%w: empty URL", utils.ErrParsing)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("%w: bad URL %q: %w", utils.ErrParsing, href, err)
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported URL scheme %q in %q", utils.ErrParsing, abs.Scheme, href)
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs.String(), nil
}
