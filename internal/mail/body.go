package mail

import (
	"encoding/base64"
	"regexp"
	"strings"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

var (
	wsRun      = regexp.MustCompile(`[ \t]+`)
	blankRun   = regexp.MustCompile(`\n{3,}`)
	mdArtifact = regexp.MustCompile(`(?m)^[>#*\-|]+[ \t]*`)
	linkMD     = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	looksHTML  = regexp.MustCompile(`(?is)<\s*(html|body|div|p|br|table|span|a)\b`)
)

// HTMLToText reduces an HTML body to plain text: markup converted, link
// targets dropped, whitespace normalized. Non-HTML input is passed through
// the same normalization.
func HTMLToText(body string) string {
	text := body
	if looksHTML.MatchString(body) {
		if md, err := htmltomarkdown.ConvertString(body); err == nil {
			text = md
		}
	}
	text = linkMD.ReplaceAllString(text, "$1")
	text = mdArtifact.ReplaceAllString(text, "")
	return NormalizeWhitespace(text)
}

// NormalizeWhitespace collapses runs of spaces/tabs and excess blank lines.
func NormalizeWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = wsRun.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	s = strings.Join(lines, "\n")
	s = blankRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// DecodeBodyPart decodes a base64-encoded body part. When decoding yields an
// empty or non-UTF-8 result, the original input is kept.
func DecodeBodyPart(part string) string {
	trimmed := strings.TrimSpace(part)
	if trimmed == "" {
		return part
	}
	decoded, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(trimmed)
	}
	if err != nil || len(decoded) == 0 || !utf8.Valid(decoded) {
		return part
	}
	return string(decoded)
}

// Snippet returns the first n characters of the text on rune boundaries.
func Snippet(text string, n int) string {
	text = NormalizeWhitespace(text)
	text = strings.ReplaceAll(text, "\n", " ")
	if n <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return strings.TrimSpace(string(runes[:n]))
}
