package importjob

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/mind-engage/courseimport/internal/course"
	"github.com/mind-engage/courseimport/internal/logging"
	"github.com/mind-engage/courseimport/internal/metrics"
	"github.com/mind-engage/courseimport/internal/storage"
)

var fixedNow = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

const introManifest = `<?xml version="1.0"?>
<manifest identifier="course-1">
  <organizations default="O1">
    <organization identifier="O1"><title>Unit 1</title>
      <item identifier="I1" identifierref="R1"><title>Lesson 1: Intro</title></item>
    </organization>
  </organizations>
  <resources><resource identifier="R1" type="webcontent" href="intro.html"/></resources>
</manifest>`

type fixture struct {
	svc   *Service
	store *SQLStore
	blobs *storage.MemStore
	log   *logging.TestLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: newTestStore(t),
		blobs: storage.NewMemStore("https://cdn.example.com"),
		log:   logging.NewTestLogger(),
	}
	f.svc = &Service{
		Store:   f.store,
		Blobs:   f.blobs,
		Log:     f.log.Logger,
		Metrics: metrics.New(prometheus.NewRegistry()),
		Now:     func() time.Time { return fixedNow },
		NewID:   func() string { return "imp-1" },
	}
	return f
}

func submission(data []byte) Submission {
	return Submission{OrganizationID: "org-1", UserID: "user-1", FileName: "course.zip", Data: data}
}

// assertLogInvariants checks that progress never decreases before a terminal
// event and that nothing follows a terminal event.
func assertLogInvariants(t *testing.T, events []Event) {
	t.Helper()
	for i := 1; i < len(events); i++ {
		prev, cur := events[i-1], events[i]
		assert.False(t, prev.Step.Terminal(), "event %d follows terminal %s", cur.Seq, prev.Step)
		if cur.Step != StatusFailed {
			assert.GreaterOrEqual(t, cur.Progress, prev.Progress, "event %d", cur.Seq)
		}
	}
}

func TestSubmit_SingleLessonPackage(t *testing.T) {
	f := newFixture(t)
	data := zipBytes(t, map[string]string{
		"imsmanifest.xml": introManifest,
		"intro.html":      "<html><body><p>Welcome to the course.</p></body></html>",
	})

	id, err := f.svc.Submit(context.Background(), submission(data))
	require.NoError(t, err)
	assert.Equal(t, "imp-1", id)

	j, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, j.Status)
	assert.Equal(t, 100, j.Progress)
	assert.Empty(t, j.ErrorMessage)
	assert.NotNil(t, j.CompletedAt)
	assert.Equal(t, "https://cdn.example.com/organizations/org-1/imports/imp-1/package-imp-1-"+
		"1746100800000.zip", j.FileURL)
	assert.NotEmpty(t, j.Manifest)

	var steps []Status
	for _, s := range j.Steps {
		steps = append(steps, s.Step)
	}
	assert.Equal(t, []Status{StatusUploading, StatusValidating, StatusExtracting, StatusParsingContent,
		StatusProcessingAssets, StatusMapping, StatusReady}, steps)
	assert.Equal(t, 10, j.Steps[0].Progress)
	assert.Contains(t, j.Steps[3].Message, "no media assets")

	events, err := f.store.Events(context.Background(), id)
	require.NoError(t, err)
	assertLogInvariants(t, events)

	var c course.Course
	require.NoError(t, json.Unmarshal(j.Structure, &c))
	require.Len(t, c.Modules, 1)
	assert.Equal(t, "Unit 1", c.Modules[0].Title)
	require.Len(t, c.Modules[0].Lessons, 1)
	l := c.Modules[0].Lessons[0]
	assert.Equal(t, "Intro", l.Title)
	require.Len(t, l.Slides, 1)
	assert.Equal(t, course.KindContent, l.Slides[0].Kind)
	assert.Contains(t, l.Slides[0].HTML, "Welcome to the course.")
	assert.Equal(t, "course-1", c.Metadata.ManifestIdentifier)
	assert.Equal(t, fixedNow, c.Metadata.ImportedAt)

	f.log.AssertLogged(t, zapcore.InfoLevel, "import ready")
}

func TestSubmit_MissingHrefFallsBackToOnlyPage(t *testing.T) {
	f := newFixture(t)
	data := zipBytes(t, map[string]string{
		"imsmanifest.xml": `<manifest><organizations><organization identifier="O"><title>Unit</title>
<item identifier="I" identifierref="R"><title>Missing Page</title></item></organization></organizations>
<resources><resource identifier="R" href="gone.html"/></resources></manifest>`,
		"content/page.html": "<p>Recovered content from the only page.</p>",
	})

	id, err := f.svc.Submit(context.Background(), submission(data))
	require.NoError(t, err)

	j, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, StatusReady, j.Status)
	var c course.Course
	require.NoError(t, json.Unmarshal(j.Structure, &c))
	assert.Contains(t, c.Modules[0].Lessons[0].Slides[0].HTML, "Recovered content from the only page.")
}

func TestSubmit_WrappedPackageResolvesEachPage(t *testing.T) {
	f := newFixture(t)
	data := zipBytes(t, map[string]string{
		"course/imsmanifest.xml": `<manifest><organizations><organization identifier="O"><title>Unit</title>
<item identifier="A" identifierref="RA"><title>Alpha</title></item>
<item identifier="B" identifierref="RB"><title>Beta</title></item></organization></organizations>
<resources><resource identifier="RA" href="p1.html"/><resource identifier="RB" href="/p2.html"/></resources></manifest>`,
		"course/p1.html": "<p>First page body text for the alpha lesson.</p>",
		"course/p2.html": "<p>Second page body text for the beta lesson.</p>",
	})

	id, err := f.svc.Submit(context.Background(), submission(data))
	require.NoError(t, err)

	j, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, StatusReady, j.Status)
	var c course.Course
	require.NoError(t, json.Unmarshal(j.Structure, &c))
	lessons := c.Modules[0].Lessons
	require.Len(t, lessons, 2)

	assert.Equal(t, "course/p1.html", lessons[0].Slides[0].Source)
	assert.Contains(t, lessons[0].Slides[0].HTML, "First page body text")
	assert.Equal(t, "course/p2.html", lessons[1].Slides[0].Source)
	assert.Contains(t, lessons[1].Slides[0].HTML, "Second page body text")
	assert.Zero(t, c.Metadata.UnresolvedItems)
}

func TestSubmit_NoManifestFails(t *testing.T) {
	f := newFixture(t)
	data := zipBytes(t, map[string]string{"index.html": "<p>No manifest here.</p>"})

	id, err := f.svc.Submit(context.Background(), submission(data))
	require.Error(t, err)
	assert.Equal(t, "imp-1", id, "the job was accepted")
	assert.Equal(t, KindValidation, KindOf(err))

	j, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, j.Status)
	assert.Equal(t, 0, j.Progress)
	assert.Contains(t, j.ErrorMessage, "imsmanifest.xml not found")
	assert.Nil(t, j.Structure)

	events, err := f.store.Events(context.Background(), id)
	require.NoError(t, err)
	assertLogInvariants(t, events)
	last := events[len(events)-1]
	assert.Equal(t, StatusFailed, last.Step)
	assert.Equal(t, StatusValidating, events[len(events)-2].Step)

	f.log.AssertLogged(t, zapcore.ErrorLevel, "import failed")
}

func TestSubmit_ErrorKinds(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		kind Kind
	}{
		{"corrupt archive", []byte("definitely not a zip"), KindValidation},
		{"malformed manifest", zipBytes(t, map[string]string{"imsmanifest.xml": "not xml at all"}), KindParse},
		{"no organizations", zipBytes(t, map[string]string{"imsmanifest.xml": "<manifest><organizations/></manifest>"}), KindParse},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(t)
			id, err := f.svc.Submit(context.Background(), submission(c.data))
			require.Error(t, err)
			assert.Equal(t, c.kind, KindOf(err))
			j, gerr := f.store.Get(context.Background(), id)
			require.NoError(t, gerr)
			assert.Equal(t, StatusFailed, j.Status)
		})
	}
}

func TestSubmit_PreconditionsCreateNoJob(t *testing.T) {
	f := newFixture(t)
	data := zipBytes(t, map[string]string{"imsmanifest.xml": introManifest})

	id, err := f.svc.Submit(context.Background(), Submission{OrganizationID: "o", Data: data})
	assert.Equal(t, "", id)
	assert.Equal(t, KindAuth, KindOf(err))

	id, err = f.svc.Submit(context.Background(), Submission{UserID: "u", Data: data})
	assert.Equal(t, "", id)
	assert.Equal(t, KindValidation, KindOf(err))

	jobs, err := f.store.List(context.Background(), ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestSubmit_PackageStorageFailure(t *testing.T) {
	f := newFixture(t)
	f.blobs.FailKeys = map[string]bool{storage.PackageKey("org-1", "imp-1", "course.zip", fixedNow): true}

	id, err := f.svc.Submit(context.Background(), submission(zipBytes(t, map[string]string{"imsmanifest.xml": introManifest})))
	require.Error(t, err)
	assert.Equal(t, KindStorage, KindOf(err))

	j, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, j.Status)
	assert.Empty(t, j.Manifest, "parsing never started")
}

func TestSubmit_AssetFailuresAreContained(t *testing.T) {
	f := newFixture(t)
	f.blobs.FailKeys = map[string]bool{storage.AssetKey("org-1", "imp-1", "img/broken.png", fixedNow): true}
	data := zipBytes(t, map[string]string{
		"imsmanifest.xml": introManifest,
		"intro.html":      `<p>Welcome to the course, with pictures.</p><img src="img/ok.png"><img src="img/broken.png">`,
		"img/ok.png":      "png-ok",
		"img/broken.png":  "png-broken",
	})

	id, err := f.svc.Submit(context.Background(), submission(data))
	require.NoError(t, err)

	j, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, StatusReady, j.Status)

	var c course.Course
	require.NoError(t, json.Unmarshal(j.Structure, &c))
	html := c.Modules[0].Lessons[0].Slides[0].HTML
	okURL := "https://cdn.example.com/" + storage.AssetKey("org-1", "imp-1", "img/ok.png", fixedNow)
	assert.Contains(t, html, okURL)
	assert.Contains(t, html, `src="img/broken.png"`, "failed assets keep their original reference")
	assert.Equal(t, okURL, c.Settings.BackgroundImageURL, "first relocated image becomes the background")
	assert.Equal(t, 2, c.Metadata.AssetCount)

	f.log.AssertLogged(t, zapcore.WarnLevel, "asset relocation failed")
	assert.Contains(t, j.Steps[4].Message, "1 failed")
}

func TestSubmit_BackgroundOverride(t *testing.T) {
	f := newFixture(t)
	sub := submission(zipBytes(t, map[string]string{
		"imsmanifest.xml": introManifest,
		"intro.html":      "<p>Welcome to the course.</p>",
		"img/a.png":       "png",
	}))
	sub.BackgroundImageURL = "https://images.example.com/bg.jpg"

	id, err := f.svc.Submit(context.Background(), sub)
	require.NoError(t, err)
	j, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	var c course.Course
	require.NoError(t, json.Unmarshal(j.Structure, &c))
	assert.Equal(t, "https://images.example.com/bg.jpg", c.Settings.BackgroundImageURL)
}

func TestSubmit_ResubmissionIsANewJob(t *testing.T) {
	f := newFixture(t)
	n := 0
	f.svc.NewID = func() string {
		n++
		return []string{"first", "second"}[n-1]
	}
	bad := zipBytes(t, map[string]string{"index.html": "<p>x</p>"})
	good := zipBytes(t, map[string]string{"imsmanifest.xml": introManifest, "intro.html": "<p>Welcome to the course.</p>"})

	id1, err := f.svc.Submit(context.Background(), submission(bad))
	require.Error(t, err)
	id2, err := f.svc.Submit(context.Background(), submission(good))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	j1, _ := f.store.Get(context.Background(), id1)
	j2, _ := f.store.Get(context.Background(), id2)
	assert.Equal(t, StatusFailed, j1.Status)
	assert.Equal(t, StatusReady, j2.Status)
}
