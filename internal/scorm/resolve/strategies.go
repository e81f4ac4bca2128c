package resolve

import (
	"path"
	"strings"
)

func lookup(req *Request, p string) (Match, bool) {
	if p == "" {
		return Match{}, false
	}
	c, ok := req.Files.Get(p)
	if !ok {
		return Match{}, false
	}
	return Match{Path: p, Content: c}, true
}

type ExactPath struct{}

func (ExactPath) Name() string { return "exact_path" }
func (ExactPath) Resolve(req *Request) (Match, bool) {
	return lookup(req, req.Href())
}

type TrimLeadingSlash struct{}

func (TrimLeadingSlash) Name() string { return "trim_leading_slash" }
func (TrimLeadingSlash) Resolve(req *Request) (Match, bool) {
	h := req.Href()
	if !strings.HasPrefix(h, "/") {
		return Match{}, false
	}
	return lookup(req, strings.TrimLeft(h, "/"))
}

type AddLeadingSlash struct{}

func (AddLeadingSlash) Name() string { return "add_leading_slash" }
func (AddLeadingSlash) Resolve(req *Request) (Match, bool) {
	h := req.Href()
	if h == "" || strings.HasPrefix(h, "/") {
		return Match{}, false
	}
	return lookup(req, "/"+h)
}

// FuzzyTitle picks the first file whose path or body mentions the title.
type FuzzyTitle struct{}

func (FuzzyTitle) Name() string { return "fuzzy_title" }
func (FuzzyTitle) Resolve(req *Request) (Match, bool) {
	t := strings.ToLower(strings.TrimSpace(req.Title))
	if t == "" {
		return Match{}, false
	}
	for _, p := range req.Files.Paths() {
		if strings.Contains(strings.ToLower(p), t) {
			return lookup(req, p)
		}
	}
	for _, p := range req.Files.Paths() {
		c, _ := req.Files.Get(p)
		if strings.Contains(strings.ToLower(c), t) {
			return Match{Path: p, Content: c}, true
		}
	}
	return Match{}, false
}

// TitlePattern tries conventional file names derived from the title:
// "introtocells.html", "intro_to_cells.html", "introtocells/index.html", ...
type TitlePattern struct{}

func (TitlePattern) Name() string { return "title_pattern" }
func (TitlePattern) Resolve(req *Request) (Match, bool) {
	fields := strings.Fields(strings.ToLower(req.Title))
	if len(fields) == 0 {
		return Match{}, false
	}
	stems := []string{
		strings.Join(fields, ""),
		strings.Join(fields, "_"),
		strings.Join(fields, "-"),
	}
	var candidates []string
	for _, ext := range []string{".html", ".htm"} {
		for _, s := range stems {
			candidates = append(candidates, s+ext)
		}
	}
	for _, s := range stems {
		candidates = append(candidates, s+"/index.html", s+"/index.htm")
	}
	for _, cand := range candidates {
		for _, p := range req.Files.Paths() {
			lp := strings.ToLower(p)
			if lp == cand || strings.HasSuffix(lp, "/"+cand) {
				return lookup(req, p)
			}
		}
	}
	return Match{}, false
}

// AnyContent is the last resort: the first content file, preferring a root
// index page when one exists.
type AnyContent struct{}

func (AnyContent) Name() string { return "any_content" }
func (AnyContent) Resolve(req *Request) (Match, bool) {
	paths := req.Files.Paths()
	if len(paths) == 0 {
		return Match{}, false
	}
	for _, p := range paths {
		if b := strings.ToLower(path.Base(p)); (b == "index.html" || b == "index.htm") && !strings.Contains(p, "/") {
			return lookup(req, p)
		}
	}
	return lookup(req, paths[0])
}
