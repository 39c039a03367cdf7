// Package render turns assistant text into what a widget surface displays.
package render

import (
	"html"
	"regexp"
	"strings"
)

var (
	urlPattern       = regexp.MustCompile(`https?://\S+`)
	markdownEmphasis = strings.NewReplacer("**", "", "*", "", "_", "")
)

// Text is a display-ready message body.
type Text struct {
	Plain string `json:"text"`
	HTML  string `json:"html"`
}

// StripMarkdown removes emphasis markers (**, *, _) and leaves everything
// else untouched. Applying it twice is the same as applying it once.
func StripMarkdown(s string) string {
	return markdownEmphasis.Replace(s)
}

// Linkify escapes s for HTML and wraps bare http(s) URLs in anchors that
// open in a new tab.
func Linkify(s string) string {
	matches := urlPattern.FindAllStringIndex(s, -1)
	if len(matches) == 0 {
		return html.EscapeString(s)
	}
	var b strings.Builder
	b.Grow(len(s) + len(matches)*48)
	last := 0
	for _, m := range matches {
		b.WriteString(html.EscapeString(s[last:m[0]]))
		u := html.EscapeString(s[m[0]:m[1]])
		b.WriteString(`<a href="`)
		b.WriteString(u)
		b.WriteString(`" target="_blank" rel="noopener">`)
		b.WriteString(u)
		b.WriteString(`</a>`)
		last = m[1]
	}
	b.WriteString(html.EscapeString(s[last:]))
	return b.String()
}

// Bot renders a bot message body: markdown stripping first, then linking.
func Bot(raw string) Text {
	plain := StripMarkdown(raw)
	return Text{Plain: plain, HTML: Linkify(plain)}
}

// Local renders text the widget builds itself from merchant config. URLs and
// addresses are kept verbatim, so no markdown stripping.
func Local(raw string) Text {
	return Text{Plain: raw, HTML: Linkify(raw)}
}

// User renders shopper text verbatim (escaped, no links).
func User(raw string) Text {
	return Text{Plain: raw, HTML: html.EscapeString(raw)}
}
