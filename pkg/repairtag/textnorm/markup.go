package textnorm

import (
	"strings"

	"golang.org/x/net/html"
)

// block-level elements that separate lines of text
var lineBreakTags = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "tr": true, "td": true,
}

// StripMarkup removes HTML tags from notes copied out of the service
// portal, decoding entities and turning block elements into line breaks.
// Text without markup or entities is returned unchanged.
func StripMarkup(text string) string {
	if !strings.ContainsAny(text, "<&") {
		return text
	}

	z := html.NewTokenizer(strings.NewReader(text))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(collapseBlankLines(b.String()))
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				skip++
				continue
			}
			if lineBreakTags[tag] {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
		}
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
