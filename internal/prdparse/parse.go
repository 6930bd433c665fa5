package prdparse

import (
	"bytes"
	"log"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Sections holds the text extracted for each category.
type Sections struct {
	Text map[Category]string
	// Stories are the individual "As a ..." blocks of the user stories
	// section.
	Stories []string
	// Unclassified lists level-2 headings no rule matched. Their content
	// is dropped.
	Unclassified []string
}

// Get returns the extracted text for c, or "".
func (s *Sections) Get(c Category) string {
	return s.Text[c]
}

// Report summarizes which sections were found.
type Report struct {
	Overview     bool     `json:"overview"`
	Goals        bool     `json:"goals"`
	UserStories  bool     `json:"user_stories"`
	Requirements bool     `json:"requirements"`
	Timeline     bool     `json:"timeline"`
	StoryCount   int      `json:"story_count"`
	Unclassified []string `json:"unclassified,omitempty"`
}

// Report builds the completeness report for s.
func (s *Sections) Report() Report {
	return Report{
		Overview:     s.Get(Overview) != "",
		Goals:        s.Get(Goals) != "",
		UserStories:  s.Get(UserStories) != "",
		Requirements: s.Get(Requirements) != "",
		Timeline:     s.Get(Timeline) != "",
		StoryCount:   len(s.Stories),
		Unclassified: s.Unclassified,
	}
}

// Missing lists the categories with no extracted text.
func (r Report) Missing() []Category {
	found := map[Category]bool{
		Overview:     r.Overview,
		Goals:        r.Goals,
		UserStories:  r.UserStories,
		Requirements: r.Requirements,
		Timeline:     r.Timeline,
	}
	var out []Category
	for _, c := range Categories {
		if !found[c] {
			out = append(out, c)
		}
	}
	return out
}

// Parse walks the Markdown body block by block. Only level-2 headings
// switch the current section; everything up to the next level-2 heading
// is appended to it.
func Parse(body string, classifier Classifier) *Sections {
	if classifier == nil {
		classifier = DefaultClassifier
	}
	src := []byte(body)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	buffers := make(map[Category][]string)
	out := &Sections{Text: make(map[Category]string)}

	var current Category
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok && h.Level == 2 {
			title := strings.TrimSpace(lines(h, src))
			cat, matched := classifier.Classify(title)
			if !matched {
				log.Printf("[Parse] Unclassified section %q dropped", title)
				out.Unclassified = append(out.Unclassified, title)
			}
			current = cat
			continue
		}
		if current == "" {
			continue
		}
		if block := render(n, src); block != "" {
			buffers[current] = append(buffers[current], block)
		}
	}

	for cat, blocks := range buffers {
		if joined := strings.TrimSpace(strings.Join(blocks, "\n\n")); joined != "" {
			out.Text[cat] = joined
		}
	}
	out.Stories = SplitStories(out.Text[UserStories])
	return out
}

// render turns one top-level block back into Markdown text. Subheadings
// and code fences keep their source form; lists are flattened to one
// "- text" line per item.
func render(n ast.Node, src []byte) string {
	switch n := n.(type) {
	case *ast.Heading:
		return strings.Repeat("#", n.Level) + " " + strings.TrimSpace(lines(n, src))
	case *ast.FencedCodeBlock:
		var b strings.Builder
		b.WriteString("```")
		if n.Info != nil {
			b.Write(n.Info.Segment.Value(src))
		}
		b.WriteString("\n")
		b.WriteString(lines(n, src))
		b.WriteString("```")
		return b.String()
	case *ast.CodeBlock:
		return strings.TrimRight(lines(n, src), "\n")
	case *ast.List:
		var items []string
		flattenList(n, src, &items)
		return strings.Join(items, "\n")
	case *ast.ThematicBreak:
		return ""
	case *ast.Blockquote:
		var parts []string
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			if s := render(c, src); s != "" {
				parts = append(parts, "> "+strings.ReplaceAll(s, "\n", "\n> "))
			}
		}
		return strings.Join(parts, "\n>\n")
	default:
		return strings.TrimSpace(lines(n, src))
	}
}

func flattenList(list *ast.List, src []byte, items *[]string) {
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		var words []string
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			if nested, ok := c.(*ast.List); ok {
				if len(words) > 0 {
					*items = append(*items, "- "+strings.Join(words, " "))
					words = nil
				}
				flattenList(nested, src, items)
				continue
			}
			if s := strings.Join(strings.Fields(render(c, src)), " "); s != "" {
				words = append(words, s)
			}
		}
		if len(words) > 0 {
			*items = append(*items, "- "+strings.Join(words, " "))
		}
	}
}

// lines concatenates the raw source lines of a block node.
func lines(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	segs := n.Lines()
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		buf.Write(seg.Value(src))
	}
	return buf.String()
}

var storyStart = regexp.MustCompile(`(?i)^\s*(?:[-*+]\s+)?(?:\*\*)?as an?\b`)

// SplitStories cuts the user stories text into one entry per story. A
// story starts at a line beginning with "As a" or "As an", optionally
// bulleted or bold, and runs until the next one. Text before the first
// story is ignored.
func SplitStories(section string) []string {
	var (
		stories []string
		cur     []string
	)
	flush := func() {
		if s := strings.TrimSpace(strings.Join(cur, "\n")); s != "" {
			stories = append(stories, s)
		}
		cur = nil
	}
	started := false
	for _, line := range strings.Split(section, "\n") {
		if storyStart.MatchString(line) {
			if started {
				flush()
			}
			started = true
		}
		if started {
			cur = append(cur, line)
		}
	}
	if started {
		flush()
	}
	return stories
}
