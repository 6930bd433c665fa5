package entity

import "fmt"

// DefaultBody returns the prose template written for a new entity when
// the caller supplies no body.
func (k *Kind) DefaultBody(title string) string {
	switch k {
	case PRD:
		return fmt.Sprintf(`
# %s

## Overview

Describe the problem and who it is for.

## Goals

-

## User Stories

**As a** user, **I want** ..., **so that** ...

## Requirements

### Functional

-

### Non-Functional

-

## Timeline

-

## Out of Scope

-
`, title)
	case Epic:
		return fmt.Sprintf(`
# %s

## Overview

## Technical Approach

## Tasks

## Acceptance Criteria

- [ ]
`, title)
	default:
		return fmt.Sprintf(`
# %s

## Description

## Acceptance Criteria

- [ ]

## Notes
`, title)
	}
}
