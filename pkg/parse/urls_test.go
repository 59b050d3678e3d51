package parse

import (
	"errors"
	"net/url"
	"testing"

	"cover-palette/pkg/utils"
)

func TestNormalizeURL_NilInput(t *testing.T) {
	result := NormalizeURL(nil)
	if result != "" {
		t.Errorf("NormalizeURL(nil) = %q, want empty string", result)
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"UppercaseSchemeHost", "HTTPS://Archive.Example.COM/Magazines/X", "https://archive.example.com/Magazines/X"},
		{"DefaultHTTPPort", "http://example.com:80/a", "http://example.com/a"},
		{"DefaultHTTPSPort", "https://example.com:443/a", "https://example.com/a"},
		{"CustomPortKept", "http://example.com:8080/a", "http://example.com:8080/a"},
		{"TrailingSlash", "https://example.com/issue/12/", "https://example.com/issue/12"},
		{"EmptyPath", "https://example.com", "https://example.com/"},
		{"FragmentDropped", "https://example.com/a#cover", "https://example.com/a"},
		{"QueryKept", "https://example.com/a?id=3", "https://example.com/a?id=3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := url.Parse(tt.input)
			if err != nil {
				t.Fatalf("url.Parse(%q): %v", tt.input, err)
			}
			if got := NormalizeURL(parsed); got != tt.expected {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNormalizeURL_DoesNotModifyInput(t *testing.T) {
	parsed, _ := url.Parse("HTTP://EXAMPLE.COM:80/path/#frag")
	original := parsed.String()

	NormalizeURL(parsed)

	if parsed.String() != original {
		t.Errorf("NormalizeURL modified input: got %q, want %q", parsed.String(), original)
	}
}

func TestResolveLink(t *testing.T) {
	base, _ := url.Parse("https://www.example.com/magazines/cooks-illustrated/7")

	tests := []struct {
		name     string
		href     string
		expected string
	}{
		{"RootRelative", "/magazines/cooks-illustrated/2004-jan", "https://www.example.com/magazines/cooks-illustrated/2004-jan"},
		{"Relative", "2004-jan", "https://www.example.com/magazines/cooks-illustrated/2004-jan"},
		{"Absolute", "https://cdn.example.com/a.jpg", "https://cdn.example.com/a.jpg"},
		{"FragmentDropped", "/issue#top", "https://www.example.com/issue"},
		{"Whitespace", "  /issue  ", "https://www.example.com/issue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveLink(base, tt.href)
			if err != nil {
				t.Fatalf("ResolveLink(%q) unexpected error: %v", tt.href, err)
			}
			if got != tt.expected {
				t.Errorf("ResolveLink(%q) = %q, want %q", tt.href, got, tt.expected)
			}
		})
	}
}

func TestResolveLink_Invalid(t *testing.T) {
	base, _ := url.Parse("https://www.example.com/")

	for _, href := range []string{"", "mailto:editor@example.com", "javascript:void(0)", "http://[::1"} {
		_, err := ResolveLink(base, href)
		if err == nil {
			t.Errorf("ResolveLink(%q) expected error", href)
			continue
		}
		if !errors.Is(err, utils.ErrParsing) {
			t.Errorf("ResolveLink(%q) error %v does not wrap ErrParsing", href, err)
		}
	}
}
