// Package resolve finds the HTML payload behind a manifest item.
package resolve

import (
	"errors"
	"path"
	"sort"
	"strings"

	"github.com/mind-engage/courseimport/internal/scorm/parser"
)

// ErrNoContent means no strategy produced a match. Callers substitute
// placeholder content; it never fails an import.
var ErrNoContent = errors.New("no content resolved")

// Files is the set of content files extracted from a package, iterated in
// sorted path order so fallbacks are deterministic.
type Files struct {
	paths   []string
	content map[string]string
}

func NewFiles(m map[string]string) *Files {
	f := &Files{content: make(map[string]string, len(m))}
	for p, c := range m {
		f.content[p] = c
		f.paths = append(f.paths, p)
	}
	sort.Strings(f.paths)
	return f
}

func (f *Files) Get(p string) (string, bool) {
	if f == nil {
		return "", false
	}
	c, ok := f.content[p]
	return c, ok
}

func (f *Files) Paths() []string {
	if f == nil {
		return nil
	}
	return f.paths
}

func (f *Files) Len() int { return len(f.Paths()) }

// Request describes one lookup.
type Request struct {
	ResourceRef string
	Resources   []parser.Resource
	Title       string // cleaned item title
	Files       *Files

	href string
}

// Href is the referenced resource's path with any query or fragment removed.
func (r *Request) Href() string { return r.href }

// Match is a resolved content file.
type Match struct {
	Path     string
	Content  string
	Strategy string
}

// Strategy attempts one way of finding content.
type Strategy interface {
	Name() string
	Resolve(req *Request) (Match, bool)
}

type Resolver struct {
	strategies []Strategy
}

// New builds a resolver trying strategies in order.
func New(strategies ...Strategy) *Resolver {
	return &Resolver{strategies: strategies}
}

// Default is the standard chain: exact path, without leading slash, with
// leading slash, title substring, title filename patterns, any content file.
func Default() *Resolver {
	return New(
		ExactPath{},
		TrimLeadingSlash{},
		AddLeadingSlash{},
		FuzzyTitle{},
		TitlePattern{},
		AnyContent{},
	)
}

func (r *Resolver) Resolve(req Request) (Match, error) {
	if req.ResourceRef != "" {
		for _, res := range req.Resources {
			if res.Identifier == req.ResourceRef {
				req.href = stripQuery(res.Href)
				break
			}
		}
	}
	for _, s := range r.strategies {
		if m, ok := s.Resolve(&req); ok {
			m.Strategy = s.Name()
			return m, nil
		}
	}
	return Match{}, ErrNoContent
}

// IsContentFile reports whether p is an HTML page worth extracting.
func IsContentFile(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".html", ".htm", ".xhtml":
		return true
	}
	return false
}

func stripQuery(href string) string {
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		return href[:i]
	}
	return href
}
