// Package course is the normalized course document produced by an import.
package course

import "time"

type Kind string

const (
	KindContent  Kind = "content"
	KindExample  Kind = "example"
	KindPractice Kind = "practice"
	KindSummary  Kind = "summary"
)

type Difficulty string

const (
	Beginner     Difficulty = "beginner"
	Intermediate Difficulty = "intermediate"
	Advanced     Difficulty = "advanced"
)

// MinutesPerSlide and MinDuration drive EstimateMinutes.
const (
	MinutesPerSlide = 3
	MinDuration     = 30
)

type Slide struct {
	ID      string `json:"id"`
	Kind    Kind   `json:"kind"`
	Title   string `json:"title"`
	HTML    string `json:"html"`
	Source  string `json:"source,omitempty"` // archive path the html came from
	Visible bool   `json:"visible"`
}

type Lesson struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Slides      []Slide `json:"slides"`
}

type Module struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Lessons []Lesson `json:"lessons"`
}

type Settings struct {
	BackgroundImageURL string `json:"background_image_url,omitempty"`
}

type Metadata struct {
	Source             string    `json:"source"` // always "scorm"
	ManifestIdentifier string    `json:"manifest_identifier,omitempty"`
	SchemaVersion      string    `json:"schema_version,omitempty"`
	ImportedAt         time.Time `json:"imported_at"`
	AssetCount         int       `json:"asset_count"`
	ContentFileCount   int       `json:"content_file_count"`
	UnresolvedItems    int       `json:"unresolved_items"`
}

// Course is self-contained: slide html references relocated URLs only.
type Course struct {
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Difficulty      Difficulty `json:"difficulty"`
	DurationMinutes int        `json:"estimated_duration"`
	Tags            []string   `json:"tags"`
	Settings        Settings   `json:"settings"`
	Modules         []Module   `json:"modules"`
	Metadata        Metadata   `json:"metadata"`
}

func (c Course) SlideCount() int {
	n := 0
	for _, m := range c.Modules {
		for _, l := range m.Lessons {
			n += len(l.Slides)
		}
	}
	return n
}

func (c Course) LessonCount() int {
	n := 0
	for _, m := range c.Modules {
		n += len(m.Lessons)
	}
	return n
}

// EstimateMinutes is max(MinDuration, slides*MinutesPerSlide).
func EstimateMinutes(slides int) int {
	return max(MinDuration, slides*MinutesPerSlide)
}
