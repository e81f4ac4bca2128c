package parser

import (
	"html"
	"regexp"
	"strings"
)

var (
	markupRe = regexp.MustCompile(`<[^>]*>`)
	// "Lesson 3:", "Module 2.1 -", "Chapter IV.", "Unit:" and similar leading ordinals.
	// Roman numerals need a separator or end of title so words like "civic" stay.
	ordinalRe = regexp.MustCompile(`(?i)^(?:lesson|module|chapter|unit|topic)(?:\s*\d+(?:\.\d+)*\s*[:.)\-–—]?|\s+[ivxlc]+(?:\s*[:.)\-–—]|$)|\s*[:.)\-–—])\s*`)
)

// CleanTitle strips markup, decodes entities, drops a leading ordinal word and
// collapses whitespace. It is idempotent. A title that is nothing but an
// ordinal ("Unit 1") is kept as-is.
func CleanTitle(s string) string {
	if full := fixpoint(s, true); full != "" {
		return full
	}
	return fixpoint(s, false)
}

func fixpoint(s string, stripOrdinal bool) string {
	for {
		next := cleanOnce(s, stripOrdinal)
		if next == s {
			return s
		}
		s = next
	}
}

func cleanOnce(s string, stripOrdinal bool) string {
	s = markupRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = strings.Join(strings.Fields(s), " ")
	if stripOrdinal {
		s = strings.TrimSpace(ordinalRe.ReplaceAllString(s, ""))
	}
	return s
}
