// Package scorm maps a parsed content package onto the course document.
package scorm

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mind-engage/courseimport/internal/course"
	"github.com/mind-engage/courseimport/internal/logging"
	"github.com/mind-engage/courseimport/internal/metrics"
	"github.com/mind-engage/courseimport/internal/scorm/htmlnorm"
	"github.com/mind-engage/courseimport/internal/scorm/parser"
	"github.com/mind-engage/courseimport/internal/scorm/resolve"
)

// Source is recorded in the course metadata.
const Source = "scorm"

var kindKeywords = []struct {
	kind  course.Kind
	words []string
}{
	{course.KindPractice, []string{"quiz", "test", "exercise"}},
	{course.KindExample, []string{"example", "demo"}},
	{course.KindSummary, []string{"summary", "conclusion", "review"}},
}

// InferKind classifies a slide by keywords in its cleaned title.
func InferKind(title string) course.Kind {
	t := strings.ToLower(parser.CleanTitle(title))
	for _, k := range kindKeywords {
		for _, w := range k.words {
			if strings.Contains(t, w) {
				return k.kind
			}
		}
	}
	return course.KindContent
}

var iepRe = regexp.MustCompile(`\biep\b`)

// SynthesizeDescription writes a one-line lesson description from its title.
func SynthesizeDescription(title string, kind course.Kind) string {
	lt := strings.ToLower(title)
	switch {
	case strings.Contains(lt, "parent"):
		return fmt.Sprintf("Guidance for parents on %s.", title)
	case strings.Contains(lt, "educator"), strings.Contains(lt, "teacher"):
		return fmt.Sprintf("Practical strategies for educators on %s.", title)
	case iepRe.MatchString(lt), strings.Contains(lt, "individualized education"):
		return fmt.Sprintf("How %s shapes an individualized education plan for each learner.", title)
	}
	switch kind {
	case course.KindPractice:
		return fmt.Sprintf("Practice activities to check your understanding of %s.", title)
	case course.KindExample:
		return fmt.Sprintf("Worked examples illustrating %s.", title)
	case course.KindSummary:
		return fmt.Sprintf("A review of the key points from %s.", title)
	default:
		return fmt.Sprintf("An introduction to %s.", title)
	}
}

// InferDifficulty looks for level keywords in the course title and description.
func InferDifficulty(title, description string) course.Difficulty {
	s := strings.ToLower(title + " " + description)
	switch {
	case strings.Contains(s, "advanced"):
		return course.Advanced
	case strings.Contains(s, "intermediate"):
		return course.Intermediate
	}
	return course.Beginner
}

// Input is everything the mapper needs from earlier stages.
type Input struct {
	Manifest           parser.Manifest
	Files              *resolve.Files
	Assets             map[string]string // archive path -> public URL
	AssetCount         int               // media files found in the package
	BackgroundImageURL string
	ImportedAt         time.Time
}

type Mapper struct {
	Resolver *resolve.Resolver
	Log      *zap.Logger
	Metrics  *metrics.Metrics
}

// Map builds the course. Content misses degrade to placeholder slides and are
// counted in the metadata; only ctx cancellation fails it.
func (m *Mapper) Map(ctx context.Context, in Input) (course.Course, error) {
	r := m.Resolver
	if r == nil {
		r = resolve.Default()
	}
	log := logging.For(ctx, m.Log)

	title := cleanOr(in.Manifest.Title, parser.DefaultTitle)
	desc := strings.TrimSpace(in.Manifest.Description)
	if desc == "" {
		desc = fmt.Sprintf("%s, imported from a SCORM package.", title)
	}

	c := course.Course{
		Title:       title,
		Description: desc,
		Difficulty:  InferDifficulty(in.Manifest.Title, in.Manifest.Description),
		Tags:        []string{},
		Settings:    course.Settings{BackgroundImageURL: in.BackgroundImageURL},
		Modules:     make([]course.Module, 0, len(in.Manifest.Organizations)),
		Metadata: course.Metadata{
			Source:             Source,
			ManifestIdentifier: in.Manifest.Identifier,
			SchemaVersion:      in.Manifest.Version,
			ImportedAt:         in.ImportedAt.UTC(),
			AssetCount:         in.AssetCount,
			ContentFileCount:   in.Files.Len(),
		},
	}

	b := &builder{in: in, r: r, log: log, metrics: m.Metrics}
	for i, org := range in.Manifest.Organizations {
		if err := ctx.Err(); err != nil {
			return course.Course{}, err
		}
		mod := course.Module{
			ID:      fmt.Sprintf("module-%d", i+1),
			Title:   cleanOr(org.Title, fmt.Sprintf("Module %d", i+1)),
			Lessons: make([]course.Lesson, 0, len(org.Items)),
		}
		for j, it := range org.Items {
			mod.Lessons = append(mod.Lessons, b.lesson(i+1, j+1, it))
		}
		c.Modules = append(c.Modules, mod)
	}

	c.DurationMinutes = course.EstimateMinutes(c.SlideCount())
	c.Metadata.UnresolvedItems = b.unresolved
	return c, nil
}

type builder struct {
	in         Input
	r          *resolve.Resolver
	log        *zap.Logger
	metrics    *metrics.Metrics
	unresolved int
}

func (b *builder) lesson(mi, li int, it parser.Item) course.Lesson {
	l := course.Lesson{
		ID:    fmt.Sprintf("lesson-%d-%d", mi, li),
		Title: cleanOr(it.Title, it.Identifier),
	}

	// A leaf is its own single slide. A container yields one slide per
	// descendant leaf; its own page only feeds the description.
	sources := []parser.Item{it}
	var described string
	if it.Kind() == parser.Container {
		sources = it.Leaves()
		if raw, p, ok := b.page(it); ok {
			described = htmlnorm.Describe(raw, p)
		}
	}

	l.Slides = make([]course.Slide, 0, len(sources))
	for k, src := range sources {
		s, raw := b.slide(fmt.Sprintf("slide-%d-%d-%d", mi, li, k+1), src)
		l.Slides = append(l.Slides, s)
		if described == "" && raw != "" {
			described = htmlnorm.Describe(raw, s.Source)
		}
	}

	switch {
	case strings.TrimSpace(it.Description) != "":
		l.Description = strings.TrimSpace(it.Description)
	case described != "":
		l.Description = described
	default:
		l.Description = SynthesizeDescription(l.Title, InferKind(l.Title))
	}
	return l
}

// slide resolves and normalizes one item. It also returns the raw page so the
// lesson can derive a description from it.
func (b *builder) slide(id string, it parser.Item) (course.Slide, string) {
	title := cleanOr(it.Title, it.Identifier)
	s := course.Slide{ID: id, Kind: InferKind(title), Title: title, Visible: it.Visible}

	match, err := b.r.Resolve(resolve.Request{
		ResourceRef: it.ResourceRef,
		Resources:   b.in.Manifest.Resources,
		Title:       title,
		Files:       b.in.Files,
	})
	if err != nil {
		b.unresolved++
		b.metrics.ContentResolved("miss")
		b.log.Warn("content resolution miss",
			zap.String("item.id", it.Identifier), zap.String("resource.ref", it.ResourceRef))
		s.HTML = htmlnorm.Placeholder(title)
		return s, ""
	}
	b.metrics.ContentResolved(match.Strategy)
	b.log.Debug("content resolved",
		zap.String("item.id", it.Identifier), zap.String("path", match.Path), zap.String("strategy", match.Strategy))

	s.Source = match.Path
	s.HTML = htmlnorm.Normalize(htmlnorm.Input{
		HTML:   match.Content,
		Title:  title,
		Path:   match.Path,
		Assets: b.in.Assets,
	})
	return s, match.Content
}

// page resolves the content behind a container's own resource. Misses are
// not counted since no slide depends on it.
func (b *builder) page(it parser.Item) (string, string, bool) {
	if it.ResourceRef == "" {
		return "", "", false
	}
	match, err := b.r.Resolve(resolve.Request{
		ResourceRef: it.ResourceRef,
		Resources:   b.in.Manifest.Resources,
		Title:       cleanOr(it.Title, it.Identifier),
		Files:       b.in.Files,
	})
	if err != nil {
		return "", "", false
	}
	return match.Content, match.Path, true
}

func cleanOr(s, fallback string) string {
	if c := parser.CleanTitle(s); c != "" {
		return c
	}
	return fallback
}
