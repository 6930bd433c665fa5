package frontmatter

import (
	"fmt"
	"strconv"
	"strings"
)

type value struct {
	scalar string
	list   []string
	isList bool
}

// Fields is an insertion-ordered mapping of frontmatter keys to scalar or
// list values. The zero value is not usable; call NewFields.
type Fields struct {
	keys   []string
	values map[string]value
}

// NewFields returns an empty field set.
func NewFields() *Fields {
	return &Fields{values: make(map[string]value)}
}

// Keys returns the field names in insertion order.
func (f *Fields) Keys() []string {
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Len returns the number of fields.
func (f *Fields) Len() int { return len(f.keys) }

// Has reports whether key is present.
func (f *Fields) Has(key string) bool {
	_, ok := f.values[key]
	return ok
}

// IsList reports whether key holds a list value.
func (f *Fields) IsList(key string) bool {
	return f.values[key].isList
}

// Get returns the scalar value for key. Lists are joined with ", ".
func (f *Fields) Get(key string) string {
	v, ok := f.values[key]
	if !ok {
		return ""
	}
	if v.isList {
		return strings.Join(v.list, ", ")
	}
	return v.scalar
}

// GetInt parses key as an integer. Missing, empty and "null" values
// report ok=false.
func (f *Fields) GetInt(key string) (int, bool) {
	raw := f.Get(key)
	if raw == "" || raw == "null" || raw == "~" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// GetList returns the list value for key. A non-empty scalar is returned
// as a single-item list.
func (f *Fields) GetList(key string) []string {
	v, ok := f.values[key]
	if !ok {
		return nil
	}
	if !v.isList {
		if v.scalar == "" {
			return nil
		}
		return []string{v.scalar}
	}
	out := make([]string, len(v.list))
	copy(out, v.list)
	return out
}

// Set stores a scalar value, keeping the key's position if it exists.
func (f *Fields) Set(key, val string) {
	f.put(key, value{scalar: val})
}

// SetInt stores an integer scalar.
func (f *Fields) SetInt(key string, n int) {
	f.Set(key, strconv.Itoa(n))
}

// SetList stores a list value, keeping the key's position if it exists.
func (f *Fields) SetList(key string, items []string) {
	cp := make([]string, len(items))
	copy(cp, items)
	f.put(key, value{list: cp, isList: true})
}

func (f *Fields) put(key string, v value) {
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = v
}

// Delete removes key if present.
func (f *Fields) Delete(key string) {
	if _, ok := f.values[key]; !ok {
		return
	}
	delete(f.values, key)
	for i, k := range f.keys {
		if k == key {
			f.keys = append(f.keys[:i], f.keys[i+1:]...)
			break
		}
	}
}

// Clone returns a deep copy.
func (f *Fields) Clone() *Fields {
	out := NewFields()
	if f == nil {
		return out
	}
	for _, k := range f.keys {
		v := f.values[k]
		if v.isList {
			out.SetList(k, v.list)
		} else {
			out.Set(k, v.scalar)
		}
	}
	return out
}

// Merge shallow-merges other into f. Existing keys keep their position;
// new keys are appended in other's order.
func (f *Fields) Merge(other *Fields) {
	if other == nil {
		return
	}
	for _, k := range other.keys {
		v := other.values[k]
		if v.isList {
			f.SetList(k, v.list)
		} else {
			f.Set(k, v.scalar)
		}
	}
}

// Map returns a plain copy of the fields, lists joined with ", ".
func (f *Fields) Map() map[string]string {
	out := make(map[string]string, len(f.keys))
	for _, k := range f.keys {
		out[k] = f.Get(k)
	}
	return out
}

// FieldError rejects a key or value that cannot be written as a single
// header line.
type FieldError struct {
	Key    string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("frontmatter: field %q: %s", e.Key, e.Reason)
}

// ValidateKey reports whether key can be written and read back unchanged.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return &FieldError{Key: key, Reason: "empty key"}
	case key != strings.TrimSpace(key):
		return &FieldError{Key: key, Reason: "surrounding whitespace"}
	case strings.ContainsAny(key, ":\r\n"):
		return &FieldError{Key: key, Reason: "key must not contain ':' or line breaks"}
	case strings.HasPrefix(key, "#") || strings.HasPrefix(key, "-"):
		return &FieldError{Key: key, Reason: "key must not start with '#' or '-'"}
	}
	return nil
}

// Validate checks every key and rejects values containing line breaks.
func (f *Fields) Validate() error {
	if f == nil {
		return nil
	}
	for _, k := range f.keys {
		if err := ValidateKey(k); err != nil {
			return err
		}
		v := f.values[k]
		vals := v.list
		if !v.isList {
			vals = []string{v.scalar}
		}
		for _, s := range vals {
			if strings.ContainsAny(s, "\r\n") {
				return &FieldError{Key: k, Reason: "value must not contain line breaks"}
			}
		}
	}
	return nil
}
