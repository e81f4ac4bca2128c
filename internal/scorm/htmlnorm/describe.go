package htmlnorm

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

const (
	minDescription = 30
	maxDescription = 200
)

// Describe pulls a one-line description out of a page: its meta description,
// else the first paragraph of reasonable length, else the first sentence of
// the readable text. It returns "" when none is found.
func Describe(raw, pagePath string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return ""
	}

	var meta string
	doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		name := s.AttrOr("name", s.AttrOr("property", ""))
		if strings.EqualFold(name, "description") || strings.EqualFold(name, "og:description") {
			meta = strings.Join(strings.Fields(s.AttrOr("content", "")), " ")
		}
		return meta == ""
	})
	if meta != "" {
		return truncate(meta, maxDescription)
	}

	doc.Find(stripSelector).Remove()
	var para string
	doc.Find("p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := plainText(s)
		if n := utf8.RuneCountInString(text); n >= minDescription && n <= maxDescription {
			para = text
		}
		return para == ""
	})
	if para != "" {
		return para
	}

	text := readableText(raw, pagePath)
	if text == "" {
		text = plainText(doc.Find("body"))
	}
	if s := sentenceRe.FindString(text); strings.TrimSpace(s) != "" {
		return truncate(strings.TrimSpace(s), maxDescription)
	}
	if utf8.RuneCountInString(text) > MinBlockText {
		return truncate(text, maxDescription)
	}
	return ""
}

func readableText(raw, pagePath string) string {
	u := &url.URL{Scheme: "package", Host: "local", Path: "/" + strings.TrimPrefix(pagePath, "/")}
	article, err := readability.FromReader(strings.NewReader(raw), u)
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(article.TextContent), " ")
}
