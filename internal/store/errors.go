package store

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound matches any NotFoundError via errors.Is.
var ErrNotFound = errors.New("entity not found")

// NotFoundError reports an ID that does not resolve to a file.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// DependencyNotMetError blocks a task completion while dependencies are
// still open.
type DependencyNotMetError struct {
	TaskID string
	Unmet  []string
}

func (e *DependencyNotMetError) Error() string {
	return fmt.Sprintf("cannot complete %s: unmet dependencies: %s", e.TaskID, strings.Join(e.Unmet, ", "))
}

// IsDependencyNotMet reports whether err is a DependencyNotMetError.
func IsDependencyNotMet(err error) bool {
	if err == nil {
		return false
	}
	var target *DependencyNotMetError
	return errors.As(err, &target)
}
