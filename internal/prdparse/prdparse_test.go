package prdparse

import (
	"strings"
	"testing"
	"time"

	"github.com/cexll/pmsync/internal/entity"
	"github.com/cexll/pmsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePRD = `
# Checkout

Intro text before any section.

## Overview

Customers abandon carts because checkout is slow.

### Context

Mobile traffic dominates.

## Goals

- Cut checkout time in half
- Support guest checkout
  - no account required

## User Stories

**As a** guest, **I want** to pay without signing up,
**so that** I finish quickly.

**As an** admin, **I want** refund tools.

## Out of Scope

- Loyalty points

## Technical Notes

` + "```go\nfunc Pay() {}\n```" + `
`

func TestParse_SectionExtraction(t *testing.T) {
	s := Parse(samplePRD, DefaultClassifier)

	assert.Equal(t, "Customers abandon carts because checkout is slow.\n\n### Context\n\nMobile traffic dominates.", s.Get(Overview))
	assert.Equal(t, "- Cut checkout time in half\n- Support guest checkout\n- no account required", s.Get(Goals))
	require.Len(t, s.Stories, 2)
	assert.True(t, strings.HasPrefix(s.Stories[0], "**As a** guest"))
	assert.Contains(t, s.Stories[0], "so that")
	assert.True(t, strings.HasPrefix(s.Stories[1], "**As an** admin"))

	assert.Equal(t, []string{"Out of Scope", "Technical Notes"}, s.Unclassified)
	for _, c := range Categories {
		assert.NotContains(t, s.Get(c), "Loyalty", c)
		assert.NotContains(t, s.Get(c), "Intro text", c)
		assert.NotContains(t, s.Get(c), "func Pay", c)
	}

	r := s.Report()
	assert.True(t, r.Overview)
	assert.True(t, r.Goals)
	assert.True(t, r.UserStories)
	assert.False(t, r.Requirements)
	assert.False(t, r.Timeline)
	assert.Equal(t, 2, r.StoryCount)
	assert.Equal(t, []Category{Requirements, Timeline}, r.Missing())
}

func TestParse_CodeFenceVerbatim(t *testing.T) {
	body := "## Requirements\n\n```yaml\nkey: value\n  nested: true\n```\n\n## Milestones\n\n1. Alpha\n2. Beta\n"
	s := Parse(body, nil)
	assert.Equal(t, "```yaml\nkey: value\n  nested: true\n```", s.Get(Requirements))
	assert.Equal(t, "- Alpha\n- Beta", s.Get(Timeline))
}

func TestParse_NoMatchingHeadings(t *testing.T) {
	s := Parse("# Title\n\nJust prose.\n\n## Appendix\n\nstuff\n", nil)
	for _, c := range Categories {
		assert.Empty(t, s.Get(c))
	}
	assert.Empty(t, s.Stories)
	assert.Len(t, s.Report().Missing(), 5)
	assert.Equal(t, []string{"Appendix"}, s.Unclassified)
}

func TestClassifier(t *testing.T) {
	tests := []struct {
		heading string
		want    Category
		ok      bool
	}{
		{"Executive Summary", Overview, true},
		{"OBJECTIVES", Goals, true},
		{"User Story Map", UserStories, true},
		{"Functional Requirements", Requirements, true},
		{"Key Milestones", Timeline, true},
		{"Risks", "", false},
	}
	for _, tt := range tests {
		got, ok := DefaultClassifier.Classify(tt.heading)
		assert.Equal(t, tt.ok, ok, tt.heading)
		assert.Equal(t, tt.want, got, tt.heading)
	}

	custom := Classifier{{Category: Goals, Keywords: []string{"Ziele"}}}
	got, ok := custom.Classify("Unsere Ziele")
	assert.True(t, ok)
	assert.Equal(t, Goals, got)
}

func TestSplitStories(t *testing.T) {
	in := "Preamble\n- As a user, I log in\n  with SSO\n- as an operator, I page someone\nAs annual reviewer this is not a story"
	got := SplitStories(in)
	require.Len(t, got, 2)
	assert.Equal(t, "- As a user, I log in\n  with SSO", got[0])
	assert.Contains(t, got[1], "operator")
	assert.Contains(t, got[1], "annual")
}

func TestGenerateEpic(t *testing.T) {
	st := store.New(t.TempDir(), store.WithClock(func() time.Time {
		return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	}))
	prd, err := st.Create(entity.PRD, store.CreateInput{Title: "Checkout", Body: samplePRD})
	require.NoError(t, err)

	epic, report, err := GenerateEpic(st, prd.ID, DefaultClassifier)
	require.NoError(t, err)
	assert.Equal(t, "epic-001", epic.ID)
	assert.Equal(t, prd.ID, epic.ParentID())
	assert.Equal(t, "Checkout", epic.Title())
	assert.Equal(t, 2, report.StoryCount)

	assert.Contains(t, epic.Body, "## Overview\n\nCustomers abandon carts")
	assert.Contains(t, epic.Body, Placeholders[Requirements])
	assert.Contains(t, epic.Body, Placeholders[Timeline])
	assert.NotContains(t, epic.Body, Placeholders[Goals])
	assert.NotContains(t, epic.Body, "Loyalty")

	stored, err := st.Show(entity.Epic, epic.ID)
	require.NoError(t, err)
	assert.Equal(t, epic.Body, stored.Body)

	_, _, err = GenerateEpic(st, "prd-404", nil)
	assert.True(t, store.IsNotFound(err))
}

func TestGenerateEpic_EmptyPRDUsesPlaceholders(t *testing.T) {
	st := store.New(t.TempDir())
	prd, err := st.Create(entity.PRD, store.CreateInput{Title: "Bare", Body: "\nnothing here\n"})
	require.NoError(t, err)

	epic, report, err := GenerateEpic(st, prd.ID, nil)
	require.NoError(t, err)
	assert.Len(t, report.Missing(), 5)
	for _, c := range Categories {
		assert.Contains(t, epic.Body, Placeholders[c])
	}
}
