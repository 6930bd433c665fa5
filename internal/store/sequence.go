package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cexll/pmsync/internal/entity"
	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
)

const (
	metaDir       = ".pm"
	sequencesFile = "sequences.json"
	sequencesLock = "sequences.lock"
)

// allocateID reserves the next ID in the kind's namespace. The counter
// lives in <root>/.pm/sequences.json and is advanced under an exclusive
// file lock, so concurrent processes never hand out the same number. A
// namespace seen for the first time is seeded from the highest number
// already present on disk.
func (s *Store) allocateID(kind *entity.Kind, parentID string) (string, error) {
	ns, err := kind.Namespace(parentID)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(s.root, metaDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create metadata directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, sequencesLock))
	if err := lock.Lock(); err != nil {
		return "", fmt.Errorf("lock sequences: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	path := filepath.Join(dir, sequencesFile)
	seqs, err := readSequences(path)
	if err != nil {
		return "", err
	}

	next := seqs[ns]
	if scanned := s.highestOnDisk(kind, parentID); scanned > next {
		next = scanned
	}

	var id string
	for {
		next++
		id = kind.FormatID(parentID, next)
		p, err := kind.Path(s.root, id)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(p); os.IsNotExist(err) {
			break
		}
	}

	seqs[ns] = next
	if err := writeSequences(path, seqs); err != nil {
		return "", err
	}
	return id, nil
}

// highestOnDisk scans existing filenames for the largest sequence number.
func (s *Store) highestOnDisk(kind *entity.Kind, parentID string) int {
	pattern := kind.Glob(s.root)
	if kind == entity.Task {
		pattern = filepath.Join(s.root, "epics", parentID, "task-*.md")
	}
	matches, _ := filepath.Glob(pattern)

	highest := 0
	for _, m := range matches {
		if n, ok := kind.SequenceOf(kind.IDFromPath(m)); ok && n > highest {
			highest = n
		}
	}
	return highest
}

func readSequences(path string) (map[string]int, error) {
	seqs := make(map[string]int)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return seqs, nil
		}
		return nil, fmt.Errorf("read sequences: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return seqs, nil
	}
	if err := json.Unmarshal(data, &seqs); err != nil {
		return nil, fmt.Errorf("parse sequences: %w", err)
	}
	return seqs, nil
}

func writeSequences(path string, seqs map[string]int) error {
	data, err := json.MarshalIndent(seqs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sequences: %w", err)
	}
	data = append(data, '\n')
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write sequences: %w", err)
	}
	return nil
}
