// Package syncmap persists the association between local entity IDs and
// remote issue numbers.
package syncmap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
)

// DefaultFile is the map's file name under the store root.
const DefaultFile = ".github-sync-map.json"

// Map associates a local ID with at most one remote issue number.
type Map map[string]int

// Reverse maps remote issue numbers back to local IDs.
type Reverse map[int]string

// Path returns the sync map location for a store root.
func Path(root string) string {
	return filepath.Join(root, DefaultFile)
}

// Load reads the map at path. A missing or empty file is the "never
// synced" state and yields an empty map.
func Load(path string) (Map, error) {
	m := make(Map)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("read sync map: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse sync map %s: %w", path, err)
	}
	return m, nil
}

// Save overwrites the file at path with m. The write happens under an
// exclusive lock on "<path>.lock" and lands through an atomic rename, so
// readers never observe a half-written file.
func Save(path string, m Map) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create sync map directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock sync map: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	if m == nil {
		m = Map{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sync map: %w", err)
	}
	data = append(data, '\n')
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write sync map: %w", err)
	}
	return nil
}

// Reverse builds the remote→local index. When two local IDs claim the
// same issue the lexically smallest wins so the result is stable.
func (m Map) Reverse() Reverse {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))

	r := make(Reverse, len(m))
	for _, id := range ids {
		if n := m[id]; n > 0 {
			r[n] = id
		}
	}
	return r
}

// Clone returns a copy of m.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// FromReverse converts a reverse index back into the persisted direction.
func FromReverse(r Reverse) Map {
	m := make(Map, len(r))
	for n, id := range r {
		m[id] = n
	}
	return m
}
