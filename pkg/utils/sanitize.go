package utils

import (
	"regexp"
	"strings"
)

// ReplaceRule maps one forbidden substring to its replacement
type ReplaceRule struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// DefaultRulesVersion identifies the rule set returned by DefaultReplaceRules.
// Bump it whenever the list or its order changes; names produced under one version are not comparable with another.
const DefaultRulesVersion = 1

// DefaultReplaceRules returns the ordered rule set used to turn free-form labels into folder/file names.
// Order matters: whitespace cleanup runs before " " -> "-", so a double space never becomes "--".
func DefaultReplaceRules() []ReplaceRule {
	return []ReplaceRule{
		{From: "\n", To: ""},
		{From: "  ", To: ""},
		{From: ": ", To: "_"},
		{From: " ", To: "-"},
		{From: ",", To: ""},
		{From: "/", To: "_"},
		{From: "'", To: ""},
		{From: "\u2019", To: ""},
		{From: "\u00a0", To: "-"},
		{From: "(", To: ""},
		{From: ")", To: ""},
		{From: "&", To: "and"},
		{From: "by", To: "-by"},
	}
}

// ApplyRules folds rules over s left to right, each rule replacing every occurrence of From
func ApplyRules(s string, rules []ReplaceRule) string {
	for _, r := range rules {
		if r.From == "" {
			continue
		}
		s = strings.ReplaceAll(s, r.From, r.To)
	}
	return s
}

// --- Filename Sanitization ---
var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`) // Characters invalid in Windows/Unix filenames
var consecutiveUnderscores = regexp.MustCompile(`_+`)                  // Pattern to replace multiple underscores with one
const maxFilenameLength = 100                                          // Max length for sanitized filenames

// SanitizeFilename cleans a string to be safe for use as a filename component
func SanitizeFilename(name string) string {
	sanitized := invalidFilenameChars.ReplaceAllString(name, "_")
	sanitized = consecutiveUnderscores.ReplaceAllString(sanitized, "_")
	sanitized = strings.Trim(sanitized, "_ ")

	if len(sanitized) > maxFilenameLength {
		sanitized = sanitized[:maxFilenameLength]
		sanitized = strings.Trim(sanitized, "_ ")
	}

	if sanitized == "" {
		sanitized = "untitled"
	}
	return sanitized
}

// FolderName applies the replacement rules and then filesystem sanitization
func FolderName(label string, rules []ReplaceRule) string {
	return SanitizeFilename(ApplyRules(strings.TrimSpace(label), rules))
}
