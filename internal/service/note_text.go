package service

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// noteLines converts note HTML to text lines. Block elements and <br> end a line; comments are dropped.
func noteLines(source string) []string {
	tokenizer := html.NewTokenizer(strings.NewReader(source))
	var lines []string
	var current strings.Builder
	flush := func() {
		lines = append(lines, current.String())
		current.Reset()
	}
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			flush()
			return lines
		case html.TextToken:
			current.Write(tokenizer.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			if breaksLine(atom.Lookup(name)) {
				flush()
			}
		}
	}
}

func breaksLine(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Br, atom.Div, atom.Li, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Pre, atom.Tr, atom.Table, atom.Ul, atom.Ol:
		return true
	}
	return false
}

// noteTitle returns the first non-blank line of a note. Non-breaking spaces count as blank.
func noteTitle(source string) string {
	for _, line := range noteLines(source) {
		line = strings.TrimSpace(strings.ReplaceAll(line, "\u00a0", " "))
		if line != "" {
			return line
		}
	}
	return ""
}

// noteText returns all visible text of a note, one line per block.
func noteText(source string) string {
	var parts []string
	for _, line := range noteLines(source) {
		line = strings.TrimSpace(strings.ReplaceAll(line, "\u00a0", " "))
		if line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, "\n")
}

// stripHTMLComments removes <!-- --> sections, which do not count towards the note length.
func stripHTMLComments(source string) string {
	for {
		start := strings.Index(source, "<!--")
		if start < 0 {
			return source
		}
		end := strings.Index(source[start+4:], "-->")
		if end < 0 {
			return source[:start]
		}
		source = source[:start] + source[start+4+end+3:]
	}
}

// noteLength measures a note for the size limit.
func noteLength(source string) int {
	return utf8.RuneCountInString(stripHTMLComments(source))
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
