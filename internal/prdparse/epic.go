package prdparse

import (
	"bytes"
	"fmt"
	"log"
	"text/template"

	"github.com/cexll/pmsync/internal/entity"
	"github.com/cexll/pmsync/internal/frontmatter"
	"github.com/cexll/pmsync/internal/store"
)

// Placeholders fill Epic sections that extraction left empty.
var Placeholders = map[Category]string{
	Overview:     "_No overview found in the PRD._",
	Goals:        "_No goals found in the PRD._",
	UserStories:  "_No user stories found in the PRD._",
	Requirements: "_No requirements found in the PRD._",
	Timeline:     "_No timeline found in the PRD._",
}

const epicTemplate = `
# {{.Title}}

Generated from {{.PRDID}}.

## Overview

{{.Overview}}

## Goals

{{.Goals}}

## User Stories

{{.UserStories}}

## Requirements

{{.Requirements}}

## Timeline

{{.Timeline}}

## Technical Approach

## Tasks

## Acceptance Criteria

- [ ]
`

var epicTmpl = template.Must(template.New("epic").Parse(epicTemplate))

type epicData struct {
	Title        string
	PRDID        string
	Overview     string
	Goals        string
	UserStories  string
	Requirements string
	Timeline     string
}

// RenderEpicBody fills the Epic body template from s.
func RenderEpicBody(title, prdID string, s *Sections) (string, error) {
	pick := func(c Category) string {
		if v := s.Get(c); v != "" {
			return v
		}
		return Placeholders[c]
	}
	data := epicData{
		Title:        title,
		PRDID:        prdID,
		Overview:     pick(Overview),
		Goals:        pick(Goals),
		UserStories:  pick(UserStories),
		Requirements: pick(Requirements),
		Timeline:     pick(Timeline),
	}
	var buf bytes.Buffer
	if err := epicTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render epic body: %w", err)
	}
	return buf.String(), nil
}

// GenerateEpic parses the PRD's body and creates an Epic linked to it. A
// PRD with no recognised sections still yields an Epic; the report tells
// the caller what was missing.
func GenerateEpic(st *store.Store, prdID string, classifier Classifier) (*entity.Entity, Report, error) {
	prd, err := st.Show(entity.PRD, prdID)
	if err != nil {
		return nil, Report{}, err
	}

	sections := Parse(prd.Body, classifier)
	report := sections.Report()

	body, err := RenderEpicBody(prd.Title(), prd.ID, sections)
	if err != nil {
		return nil, report, err
	}

	fields := frontmatter.NewFields()
	fields.Set(entity.FieldPriority, prd.Priority())

	epic, err := st.Create(entity.Epic, store.CreateInput{
		Title:  prd.Title(),
		Parent: prd.ID,
		Fields: fields,
		Body:   body,
	})
	if err != nil {
		return nil, report, fmt.Errorf("create epic for %s: %w", prd.ID, err)
	}

	if missing := report.Missing(); len(missing) > 0 {
		log.Printf("[Parse] %s: %d section(s) missing, placeholders used: %v", prd.ID, len(missing), missing)
	}
	log.Printf("[Parse] Created EPIC %s from %s (%d user stories)", epic.ID, prd.ID, report.StoryCount)
	return epic, report, nil
}
