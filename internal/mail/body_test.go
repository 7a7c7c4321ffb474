package mail

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTMLToTextStripsTags(t *testing.T) {
	html := `<html><body><p>Hello   <b>world</b></p><p>Second&nbsp;line</p></body></html>`
	text := HTMLToText(html)
	assert.NotContains(t, text, "<")
	assert.Contains(t, text, "Hello")
	assert.Contains(t, text, "world")
	assert.Contains(t, text, "Second")
}

func TestHTMLToTextDropsLinkTargets(t *testing.T) {
	html := `<p>See <a href="https://example.com/very/long/tracking?x=1">the docs</a> now</p>`
	text := HTMLToText(html)
	assert.Contains(t, text, "the docs")
	assert.NotContains(t, text, "example.com")
}

func TestNormalizeWhitespace(t *testing.T) {
	in := "a  \t b\r\n\r\n\r\n\r\nc  "
	assert.Equal(t, "a b\n\nc", NormalizeWhitespace(in))
}

func TestDecodeBodyPart(t *testing.T) {
	plain := "hello from base64"
	encoded := base64.StdEncoding.EncodeToString([]byte(plain))
	assert.Equal(t, plain, DecodeBodyPart(encoded))

	// Not base64: kept verbatim.
	assert.Equal(t, "just text!", DecodeBodyPart("just text!"))

	// Decodes to empty: original kept.
	assert.Equal(t, "", DecodeBodyPart(""))

	// Decodes to invalid UTF-8: original kept.
	bad := base64.StdEncoding.EncodeToString([]byte{0xff, 0xfe, 0x01})
	assert.Equal(t, bad, DecodeBodyPart(bad))
}

func TestDomainOf(t *testing.T) {
	assert.Equal(t, "accounts.google.com", DomainOf("no-reply@accounts.google.com"))
	assert.Equal(t, "example.com", DomainOf("A@EXAMPLE.COM"))
	assert.Equal(t, "", DomainOf("not-an-address"))
	assert.Equal(t, "", DomainOf("trailing@"))
}

func TestSnippetRuneSafe(t *testing.T) {
	s := Snippet("héllo wörld, this is a snippet", 7)
	require.True(t, len([]rune(s)) <= 7)
	assert.Equal(t, "héllo w", s)
}

func TestAddressDisplay(t *testing.T) {
	assert.Equal(t, "Ada <ada@example.com>", Address{Name: "Ada", Email: "ada@example.com"}.Display())
	assert.Equal(t, "ada@example.com", Address{Email: "ada@example.com"}.Display())
	assert.Equal(t, "Ada", Address{Name: "Ada"}.Display())
}
