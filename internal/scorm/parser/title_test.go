package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanTitle(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Lesson 1: Intro", "Intro"},
		{"  <b>Module 2.3</b> - Cell&nbsp;Division ", "Cell Division"},
		{"Chapter IV. The Nucleus", "The Nucleus"},
		{"Topic: Osmosis", "Osmosis"},
		{"Topic Modeling", "Topic Modeling"},
		{"Unit 1", "Unit 1"},
		{"Chapter Summary", "Chapter Summary"},
		{"Tom &amp; Jerry", "Tom & Jerry"},
		{"&lt;i&gt;Escaped&lt;/i&gt; markup", "Escaped markup"},
		{"Unit Introduction", "Unit Introduction"},
		{"Module civic duty", "Module civic duty"},
		{"Lesson mix of methods", "Lesson mix of methods"},
		{"Unit XI - Ecology", "Ecology"},
		{"", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CleanTitle(c.in), c.in)
	}
}

func TestCleanTitle_Idempotent(t *testing.T) {
	inputs := []string{
		"Lesson 1: Intro",
		"Lesson 1: Module 2: Unit 3 - Deep",
		"Unit 1",
		"<p>Unit <em>2</em></p>",
		"&amp;lt;b&amp;gt;double&amp;lt;/b&amp;gt;",
		"Module&nbsp;&nbsp;3 —  Wrap-up",
		"Lesson",
		"   ",
		"Final Quiz",
		"chapter 10) Review & Summary",
		"<<>>",
		"Topic IX",
		"Module civic duty",
	}
	for _, in := range inputs {
		once := CleanTitle(in)
		assert.Equal(t, once, CleanTitle(once), "input %q", in)
	}
}
