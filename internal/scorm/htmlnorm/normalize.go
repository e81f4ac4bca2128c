// Package htmlnorm turns package pages into the minimal HTML fragments used as
// slide bodies.
package htmlnorm

import (
	"fmt"
	"html"
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	xhtml "golang.org/x/net/html"

	"github.com/mind-engage/courseimport/internal/scorm/parser"
)

const (
	// MinBlockText is the length a paragraph must exceed to be kept.
	MinBlockText = 10
	// MinListItemText is the length a list item must exceed to be kept.
	MinListItemText = 2
	// MinHTMLLength below which the sentence fallback is tried.
	MinHTMLLength = 50
	// FallbackSentences is how many sentences the fallback emits.
	FallbackSentences = 3
)

const stripSelector = "script, style, noscript, template, nav, header, footer, iframe, form, " +
	"[role=navigation], [role=banner], [role=contentinfo]"

var mainSelectors = []string{
	"main", "[role=main]", "article", "#content", ".content", "#main", ".main-content", ".slide-content",
}

var sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]+`)

// Input is one page to normalize.
type Input struct {
	HTML   string
	Title  string
	Path   string            // archive path of the page, for relative media
	Assets map[string]string // archive path -> public URL
}

// Normalize extracts headings, paragraphs, lists and images from a page. It
// never returns an empty fragment.
func Normalize(in Input) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(in.HTML))
	if err != nil {
		return Placeholder(in.Title)
	}
	doc.Find(stripSelector).Remove()
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	root := mainContent(body)

	var b strings.Builder
	firstHeading := true
	wantTitle := strings.ToLower(parser.CleanTitle(in.Title))

	root.Find("h1, h2, h3, h4, h5, h6, p, ul, ol, img").Each(func(_ int, s *goquery.Selection) {
		name := goquery.NodeName(s)
		switch name {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			text := plainText(s)
			if text == "" {
				return
			}
			if firstHeading {
				firstHeading = false
				if wantTitle != "" && strings.ToLower(parser.CleanTitle(text)) == wantTitle {
					return
				}
			}
			level := int(name[1]-'0') + 1
			if level > 6 {
				level = 6
			}
			fmt.Fprintf(&b, "<h%d>%s</h%d>\n", level, html.EscapeString(text), level)

		case "p":
			if s.ParentsFiltered("li").Length() > 0 {
				return
			}
			if text := plainText(s); utf8.RuneCountInString(text) > MinBlockText {
				fmt.Fprintf(&b, "<p>%s</p>\n", html.EscapeString(text))
			}

		case "ul", "ol":
			if s.ParentsFiltered("li").Length() > 0 {
				return
			}
			var items []string
			s.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
				if text := plainText(li); utf8.RuneCountInString(text) > MinListItemText {
					items = append(items, "<li>"+html.EscapeString(text)+"</li>")
				}
			})
			if len(items) > 0 {
				fmt.Fprintf(&b, "<%s>%s</%s>\n", name, strings.Join(items, ""), name)
			}

		case "img":
			if tag := imageTag(s, in); tag != "" {
				b.WriteString(tag + "\n")
			}
		}
	})

	out := strings.TrimSpace(b.String())
	if len(out) < MinHTMLLength {
		if fb := sentenceFallback(plainText(root)); len(fb) > len(out) {
			out = fb
		}
	}
	if out == "" {
		return Placeholder(in.Title)
	}
	return out
}

// Placeholder is the fragment used when a page has no usable content.
func Placeholder(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "This lesson"
	}
	t := html.EscapeString(title)
	return fmt.Sprintf("<h2>%s</h2>\n<p>This section introduces %s.</p>", t, t)
}

func mainContent(body *goquery.Selection) *goquery.Selection {
	for _, sel := range mainSelectors {
		if s := body.Find(sel).First(); s.Length() > 0 && plainText(s) != "" {
			return s
		}
	}
	return body
}

func imageTag(s *goquery.Selection, in Input) string {
	src := strings.TrimSpace(s.AttrOr("src", ""))
	if src == "" {
		return ""
	}
	if u, ok := AssetURL(src, in.Path, in.Assets); ok {
		src = u
	}
	alt := strings.TrimSpace(s.AttrOr("alt", ""))
	if alt == "" {
		alt = "Illustration"
		if t := strings.TrimSpace(in.Title); t != "" {
			alt = "Illustration for " + t
		}
	}
	return fmt.Sprintf(`<img src="%s" alt="%s">`, html.EscapeString(src), html.EscapeString(alt))
}

// AssetURL maps a media reference found in the page at pagePath onto the
// relocated URL, trying the page-relative path first and then the package root.
func AssetURL(ref, pagePath string, assets map[string]string) (string, bool) {
	if len(assets) == 0 || strings.HasPrefix(ref, "data:") {
		return "", false
	}
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" {
		return "", false
	}
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	if u, err := url.PathUnescape(ref); err == nil {
		ref = u
	}
	var candidates []string
	if !strings.HasPrefix(ref, "/") && pagePath != "" {
		candidates = append(candidates, strings.TrimPrefix(path.Join(path.Dir(pagePath), ref), "/"))
	}
	candidates = append(candidates, strings.TrimPrefix(path.Clean("/"+ref), "/"))
	for _, c := range candidates {
		if u, ok := assets[c]; ok {
			return u, true
		}
	}
	return "", false
}

func sentenceFallback(text string) string {
	if text == "" {
		return ""
	}
	var out []string
	for _, s := range sentenceRe.FindAllString(text, -1) {
		s = strings.TrimSpace(s)
		if utf8.RuneCountInString(s) <= MinBlockText {
			continue
		}
		out = append(out, "<p>"+html.EscapeString(s)+"</p>")
		if len(out) == FallbackSentences {
			break
		}
	}
	if len(out) == 0 && utf8.RuneCountInString(text) > MinBlockText {
		out = append(out, "<p>"+html.EscapeString(truncate(text, 300))+"</p>")
	}
	return strings.Join(out, "\n")
}

var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "br": true, "dd": true,
	"div": true, "dl": true, "dt": true, "figcaption": true, "figure": true, "h1": true, "h2": true,
	"h3": true, "h4": true, "h5": true, "h6": true, "hr": true, "li": true, "main": true, "ol": true,
	"p": true, "pre": true, "section": true, "table": true, "td": true, "th": true, "tr": true, "ul": true,
}

// plainText is the selection's text with block boundaries turned into spaces
// and whitespace collapsed.
func plainText(s *goquery.Selection) string {
	var b strings.Builder
	var walk func(n *xhtml.Node)
	walk = func(n *xhtml.Node) {
		if n.Type == xhtml.TextNode {
			b.WriteString(n.Data)
			return
		}
		block := n.Type == xhtml.ElementNode && blockElements[n.Data]
		if block {
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			b.WriteByte(' ')
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n])) + "…"
}
