// Package ghsync mirrors the local entity store to GitHub Issues and back.
package ghsync

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cexll/pmsync/internal/entity"
	"github.com/gofrs/flock"
)

// ErrSyncInProgress is returned when another process holds the sync lock.
var ErrSyncInProgress = errors.New("another sync is in progress")

const syncLockFile = "sync.lock"

// ConflictMode decides what a download does when the local copy is newer
// than the remote issue.
type ConflictMode string

const (
	// ModeMerge takes remote metadata but keeps the newer local body.
	ModeMerge ConflictMode = "merge"
	// ModeOverwrite replaces the local copy and flags the conflict.
	ModeOverwrite ConflictMode = "overwrite"
	// ModeGitHub treats the remote as authoritative without flagging.
	ModeGitHub ConflictMode = "github"
	// ModeLocal leaves the newer local copy untouched.
	ModeLocal ConflictMode = "local"
)

// DefaultConflictMode is used when none is configured.
const DefaultConflictMode = ModeMerge

// ParseConflictMode validates a mode name. Empty means the default.
func ParseConflictMode(s string) (ConflictMode, error) {
	switch m := ConflictMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return DefaultConflictMode, nil
	case ModeMerge, ModeOverwrite, ModeGitHub, ModeLocal:
		return m, nil
	}
	return "", fmt.Errorf("unknown conflict mode %q (expected merge, overwrite, github or local)", s)
}

// Options control a sync run.
type Options struct {
	// Kinds restricts the run; empty means every kind.
	Kinds []*entity.Kind
	// DryRun reports what would happen without writing anything.
	DryRun bool
	// KeepGoing records per-entity failures and continues instead of
	// aborting the current phase.
	KeepGoing bool
	// EnsureLabels creates missing kind/priority labels before uploading.
	EnsureLabels bool
	// Mode is the download conflict mode.
	Mode ConflictMode
}

func (o Options) kinds() []*entity.Kind {
	if len(o.Kinds) == 0 {
		return entity.All()
	}
	var out []*entity.Kind
	for _, k := range entity.All() {
		for _, want := range o.Kinds {
			if k == want {
				out = append(out, k)
				break
			}
		}
	}
	return out
}

// lockSync takes the per-root sync lock without blocking.
func lockSync(metaDir string) (func(), error) {
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return nil, fmt.Errorf("create metadata directory: %w", err)
	}
	l := flock.New(filepath.Join(metaDir, syncLockFile))
	locked, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !locked {
		return nil, ErrSyncInProgress
	}
	return func() { _ = l.Unlock() }, nil
}
