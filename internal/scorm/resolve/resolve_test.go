package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/courseimport/internal/scorm/parser"
)

func req(ref, href, title string, files map[string]string) Request {
	var res []parser.Resource
	if ref != "" {
		res = []parser.Resource{{Identifier: ref, Href: href}}
	}
	return Request{ResourceRef: ref, Resources: res, Title: title, Files: NewFiles(files)}
}

func TestResolver_ExactPathBeatsFuzzyTitle(t *testing.T) {
	files := map[string]string{
		"a-intro-notes.html": "<p>Intro notes mention Intro.</p>",
		"pages/intro.html":   "<p>The real intro.</p>",
	}
	for i := 0; i < 20; i++ {
		m, err := Default().Resolve(req("R1", "pages/intro.html", "Intro", files))
		require.NoError(t, err)
		assert.Equal(t, "pages/intro.html", m.Path)
		assert.Equal(t, "exact_path", m.Strategy)
	}
}

func TestResolver_StrategyOrder(t *testing.T) {
	cases := []struct {
		name      string
		r         Request
		wantPath  string
		wantStrat string
	}{
		{
			name:      "query string ignored",
			r:         req("R", "lesson.html?x=1#top", "", map[string]string{"lesson.html": "L"}),
			wantPath:  "lesson.html",
			wantStrat: "exact_path",
		},
		{
			name:      "leading slash removed",
			r:         req("R", "/content/a.html", "", map[string]string{"content/a.html": "A"}),
			wantPath:  "content/a.html",
			wantStrat: "trim_leading_slash",
		},
		{
			name:      "leading slash added",
			r:         req("R", "content/a.html", "", map[string]string{"/content/a.html": "A"}),
			wantPath:  "/content/a.html",
			wantStrat: "add_leading_slash",
		},
		{
			name: "fuzzy by path",
			r: req("R", "missing.html", "Cell Walls", map[string]string{
				"aaa.html":                "nothing",
				"lessons/cell walls.html": "W",
			}),
			wantPath:  "lessons/cell walls.html",
			wantStrat: "fuzzy_title",
		},
		{
			name: "fuzzy by content",
			r: req("R", "missing.html", "cell walls", map[string]string{
				"p1.html": "<h1>Membranes</h1>",
				"p2.html": "<h1>Cell Walls</h1>",
			}),
			wantPath:  "p2.html",
			wantStrat: "fuzzy_title",
		},
		{
			name: "title pattern",
			r: req("R", "missing.html", "Intro to Cells", map[string]string{
				"a.html":                    "x",
				"mod/intro_to_cells.html":   "y",
				"zz/introtocells/index.htm": "z",
			}),
			wantPath:  "mod/intro_to_cells.html",
			wantStrat: "title_pattern",
		},
		{
			name: "title pattern index folder",
			r: req("R", "", "Wrap Up", map[string]string{
				"b.html":            "x",
				"wrapup/index.html": "y",
			}),
			wantPath:  "wrapup/index.html",
			wantStrat: "title_pattern",
		},
		{
			name:      "last resort",
			r:         req("R", "gone.html", "Nothing Matches", map[string]string{"z.html": "Z", "m.html": "M"}),
			wantPath:  "m.html",
			wantStrat: "any_content",
		},
		{
			name:      "last resort prefers root index",
			r:         req("", "", "", map[string]string{"a/b.html": "B", "index.html": "I"}),
			wantPath:  "index.html",
			wantStrat: "any_content",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m, err := Default().Resolve(c.r)
			require.NoError(t, err)
			assert.Equal(t, c.wantPath, m.Path)
			assert.Equal(t, c.wantStrat, m.Strategy)
		})
	}
}

func TestResolver_NoContent(t *testing.T) {
	_, err := Default().Resolve(req("R", "a.html", "Title", nil))
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestResolver_UnknownResourceRef(t *testing.T) {
	r := Request{ResourceRef: "nope", Title: "", Files: NewFiles(map[string]string{"only.html": "O"})}
	m, err := Default().Resolve(r)
	require.NoError(t, err)
	assert.Equal(t, "any_content", m.Strategy)
}

func TestStrategies_InIsolation(t *testing.T) {
	files := NewFiles(map[string]string{"x/summary.html": "S"})

	r := &Request{Title: "Summary", Files: files}
	_, ok := ExactPath{}.Resolve(r)
	assert.False(t, ok)

	m, ok := FuzzyTitle{}.Resolve(r)
	require.True(t, ok)
	assert.Equal(t, "x/summary.html", m.Path)

	m, ok = TitlePattern{}.Resolve(r)
	require.True(t, ok)
	assert.Equal(t, "x/summary.html", m.Path)

	_, ok = AnyContent{}.Resolve(&Request{Files: NewFiles(nil)})
	assert.False(t, ok)
}

func TestIsContentFile(t *testing.T) {
	assert.True(t, IsContentFile("a/B.HTML"))
	assert.True(t, IsContentFile("x.htm"))
	assert.False(t, IsContentFile("imsmanifest.xml"))
	assert.False(t, IsContentFile("img.png"))
}
