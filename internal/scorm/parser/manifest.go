package parser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/mind-engage/courseimport/internal/scorm/archive"
)

// ManifestFile is the well-known manifest name at the package root.
const ManifestFile = "imsmanifest.xml"

// MaxItemDepth bounds item nesting. Items below it are flattened into leaves
// of the item at the limit.
const MaxItemDepth = 8

// DefaultTitle is used when neither organizations nor metadata carry a title.
const DefaultTitle = "Imported Course"

var (
	ErrManifestNotFound = errors.New("imsmanifest.xml not found")
	ErrMalformed        = errors.New("manifest is not valid XML")
	ErrNoOrganizations  = errors.New("manifest declares no organizations")
)

type Manifest struct {
	Identifier    string         `json:"identifier"`
	Version       string         `json:"version"`
	Title         string         `json:"title"`
	Description   string         `json:"description,omitempty"`
	Base          string         `json:"base,omitempty"` // folder holding the manifest, "" at root
	Organizations []Organization `json:"organizations"`
	Resources     []Resource     `json:"resources"`
}

type Organization struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	Items      []Item `json:"items"`
}

type ItemKind int

const (
	Leaf ItemKind = iota
	Container
)

// Item is either a Leaf producing one slide from its resource, or a Container
// holding ordered children.
type Item struct {
	Identifier  string `json:"identifier"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ResourceRef string `json:"resource_ref,omitempty"`
	Parameters  string `json:"parameters,omitempty"`
	Visible     bool   `json:"visible"`
	Children    []Item `json:"children,omitempty"`
}

func (it Item) Kind() ItemKind {
	if len(it.Children) == 0 {
		return Leaf
	}
	return Container
}

// Leaves returns every leaf below it in document order. Containers are
// flattened into their leaves; their own resources are not included.
func (it Item) Leaves() []Item {
	var out []Item
	for _, c := range it.Children {
		if c.Kind() == Leaf {
			out = append(out, c)
			continue
		}
		out = append(out, c.Leaves()...)
	}
	return out
}

type Resource struct {
	Identifier  string   `json:"identifier"`
	Type        string   `json:"type"`
	ScormType   string   `json:"scorm_type,omitempty"`
	ContentType string   `json:"content_type,omitempty"`
	Href        string   `json:"href,omitempty"`
	Files       []string `json:"files,omitempty"`
}

// Resource looks a resource up by identifier.
func (m Manifest) Resource(id string) (Resource, bool) {
	for _, r := range m.Resources {
		if r.Identifier == id {
			return r, true
		}
	}
	return Resource{}, false
}

// ItemCount counts top-level items across organizations.
func (m Manifest) ItemCount() int {
	n := 0
	for _, o := range m.Organizations {
		n += len(o.Items)
	}
	return n
}

type imsManifest struct {
	XMLName       xml.Name         `xml:"manifest"`
	Identifier    string           `xml:"identifier,attr"`
	Version       string           `xml:"version,attr"`
	Metadata      imsMetadata      `xml:"metadata"`
	Organizations imsOrganizations `xml:"organizations"`
	Resources     imsResources     `xml:"resources"`
}

type imsMetadata struct {
	Schema        string `xml:"schema"`
	SchemaVersion string `xml:"schemaversion"`
	LOM           imsLOM `xml:"lom"`
}

type imsLOM struct {
	General struct {
		Title       imsLangString `xml:"title"`
		Description imsLangString `xml:"description"`
	} `xml:"general"`
}

// imsLangString covers LOM v1 <string>, IMS MD <langstring> and bare text.
type imsLangString struct {
	Strings     []string `xml:"string"`
	LangStrings []string `xml:"langstring"`
	Text        string   `xml:",chardata"`
}

func (l imsLangString) Value() string {
	for _, s := range append(l.Strings, l.LangStrings...) {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return strings.TrimSpace(l.Text)
}

type imsOrganizations struct {
	Default string            `xml:"default,attr"`
	List    []imsOrganization `xml:"organization"`
}

type imsOrganization struct {
	Identifier string    `xml:"identifier,attr"`
	Title      string    `xml:"title"`
	Items      []imsItem `xml:"item"`
}

type imsItem struct {
	Identifier    string      `xml:"identifier,attr"`
	IdentifierRef string      `xml:"identifierref,attr"`
	IsVisible     string      `xml:"isvisible,attr"`
	Parameters    string      `xml:"parameters,attr"`
	Title         string      `xml:"title"`
	Metadata      imsMetadata `xml:"metadata"`
	Items         []imsItem   `xml:"item"`
}

type imsResources struct {
	Base string        `xml:"base,attr"` // xml:base
	List []imsResource `xml:"resource"`
}

type imsResource struct {
	Identifier  string    `xml:"identifier,attr"`
	Type        string    `xml:"type,attr"`
	Href        string    `xml:"href,attr"`
	Base        string    `xml:"base,attr"`
	ScormType   string    `xml:"scormType,attr"` // SCORM 2004
	ScormType12 string    `xml:"scormtype,attr"` // SCORM 1.2
	ContentType string    `xml:"contentType,attr"`
	Files       []imsFile `xml:"file"`
}

type imsFile struct {
	Href string `xml:"href,attr"`
}

// Locate finds the manifest in the package: first at the root, then
// case-insensitively in the shallowest folder that has one.
func Locate(a *archive.Archive) (string, error) {
	if p, ok := a.Lookup(ManifestFile); ok {
		return p, nil
	}
	best := ""
	for _, f := range a.Files() {
		if !strings.EqualFold(path.Base(f), ManifestFile) {
			continue
		}
		if best == "" || strings.Count(f, "/") < strings.Count(best, "/") {
			best = f
		}
	}
	if best == "" {
		return "", ErrManifestNotFound
	}
	return best, nil
}

// Load locates and parses the manifest of a.
func Load(a *archive.Archive) (Manifest, error) {
	p, err := Locate(a)
	if err != nil {
		return Manifest{}, err
	}
	b, err := a.ReadBytes(p)
	if err != nil {
		return Manifest{}, err
	}
	base := path.Dir(p)
	if base == "." {
		base = ""
	}
	return Parse(b, base)
}

// Parse decodes manifest XML. base is the folder holding the manifest and is
// prefixed to resource hrefs.
func Parse(data []byte, base string) (Manifest, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	var mf imsManifest
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel
	dec.Strict = false
	if err := dec.Decode(&mf); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	out := Manifest{
		Identifier:  strings.TrimSpace(mf.Identifier),
		Version:     firstNonEmpty(mf.Metadata.SchemaVersion, mf.Version),
		Description: mf.Metadata.LOM.General.Description.Value(),
		Base:        base,
	}

	for _, o := range orderOrganizations(mf.Organizations) {
		org := Organization{
			Identifier: o.Identifier,
			Title:      strings.TrimSpace(o.Title),
			Items:      make([]Item, 0, len(o.Items)),
		}
		for _, it := range o.Items {
			org.Items = append(org.Items, convertItem(it, 1))
		}
		out.Organizations = append(out.Organizations, org)
	}

	resBase := base
	if mf.Resources.Base != "" {
		resBase = joinHref(base, mf.Resources.Base)
	}
	out.Resources = make([]Resource, 0, len(mf.Resources.List))
	for _, r := range mf.Resources.List {
		rb := resBase
		if r.Base != "" {
			rb = joinHref(resBase, r.Base)
		}
		res := Resource{
			Identifier:  r.Identifier,
			Type:        r.Type,
			ScormType:   strings.ToLower(firstNonEmpty(r.ScormType, r.ScormType12)),
			ContentType: firstNonEmpty(r.ContentType, contentTypeFor(r.Href)),
		}
		if r.Href != "" {
			res.Href = joinHref(rb, r.Href)
		}
		for _, f := range r.Files {
			if f.Href != "" {
				res.Files = append(res.Files, joinHref(rb, f.Href))
			}
		}
		out.Resources = append(out.Resources, res)
	}

	title := ""
	if len(out.Organizations) > 0 {
		title = out.Organizations[0].Title
	}
	out.Title = firstNonEmpty(title, mf.Metadata.LOM.General.Title.Value(), DefaultTitle)

	if len(out.Organizations) == 0 {
		return out, ErrNoOrganizations
	}
	return out, nil
}

// orderOrganizations puts the default organization first, keeping document
// order for the rest.
func orderOrganizations(orgs imsOrganizations) []imsOrganization {
	if orgs.Default == "" {
		return orgs.List
	}
	out := make([]imsOrganization, 0, len(orgs.List))
	for _, o := range orgs.List {
		if o.Identifier == orgs.Default {
			out = append(out, o)
		}
	}
	for _, o := range orgs.List {
		if o.Identifier != orgs.Default {
			out = append(out, o)
		}
	}
	return out
}

func convertItem(it imsItem, depth int) Item {
	out := Item{
		Identifier:  it.Identifier,
		Title:       strings.TrimSpace(it.Title),
		Description: it.Metadata.LOM.General.Description.Value(),
		ResourceRef: it.IdentifierRef,
		Parameters:  it.Parameters,
		Visible:     !strings.EqualFold(strings.TrimSpace(it.IsVisible), "false"),
	}
	if out.Title == "" {
		out.Title = it.Identifier
	}
	if depth >= MaxItemDepth {
		for _, c := range it.Items {
			out.Children = append(out.Children, flattenItem(c)...)
		}
		return out
	}
	for _, c := range it.Items {
		out.Children = append(out.Children, convertItem(c, depth+1))
	}
	return out
}

// flattenItem turns a subtree into a flat list of leaves.
func flattenItem(it imsItem) []Item {
	self := convertItem(imsItem{
		Identifier: it.Identifier, IdentifierRef: it.IdentifierRef, IsVisible: it.IsVisible,
		Parameters: it.Parameters, Title: it.Title, Metadata: it.Metadata,
	}, 1)
	var out []Item
	if len(it.Items) == 0 {
		out = append(out, self)
	}
	for _, c := range it.Items {
		out = append(out, flattenItem(c)...)
	}
	return out
}

// joinHref resolves href against base. Percent-escapes are decoded because
// zip entries carry literal names. A leading slash means the package root,
// which is base for a wrapped package.
func joinHref(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || isAbsoluteURL(href) {
		return href
	}
	if u, err := url.PathUnescape(href); err == nil {
		href = u
	}
	if base == "" {
		return path.Clean(href)
	}
	return path.Join(base, strings.TrimPrefix(href, "/"))
}

func isAbsoluteURL(s string) bool {
	i := strings.Index(s, "://")
	return i > 0 && !strings.ContainsAny(s[:i], "/?#")
}

func contentTypeFor(href string) string {
	switch strings.ToLower(path.Ext(stripQuery(href))) {
	case ".html", ".htm":
		return "text/html"
	case ".xhtml":
		return "application/xhtml+xml"
	case ".pdf":
		return "application/pdf"
	case "":
		return ""
	default:
		return "application/octet-stream"
	}
}

func stripQuery(href string) string {
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		return href[:i]
	}
	return href
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
