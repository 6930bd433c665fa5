// Package frontmatter converts between Markdown files with a leading
// "---" delimited key/value header and an in-memory (fields, body) pair.
package frontmatter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Delimiter opens and closes the header block.
const Delimiter = "---"

// ParseError reports malformed frontmatter. Line is 1-based; 0 means the
// error is not tied to a specific line.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("frontmatter: line %d: %s", e.Line, e.Reason)
	}
	return "frontmatter: " + e.Reason
}

// IsParseError reports whether err originated from Parse.
func IsParseError(err error) bool {
	if err == nil {
		return false
	}
	var target *ParseError
	return errors.As(err, &target)
}

// Parse splits text into its header fields and body.
//
// The body is returned exactly as it appears after the closing delimiter
// line, so Stringify(Parse(x)) reproduces x for any x produced by Stringify.
func Parse(text string) (*Fields, string, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	first, rest, ok := strings.Cut(text, "\n")
	if strings.TrimSpace(first) != Delimiter {
		return nil, "", &ParseError{Line: 1, Reason: "missing opening delimiter"}
	}
	if !ok {
		return nil, "", &ParseError{Reason: "missing closing delimiter"}
	}

	fields := NewFields()
	var listKey string
	lineNo := 1

	for {
		lineNo++
		line, remainder, more := strings.Cut(rest, "\n")
		if strings.TrimSpace(line) == Delimiter {
			if !more {
				return fields, "", nil
			}
			return fields, remainder, nil
		}
		if !more {
			return nil, "", &ParseError{Reason: "missing closing delimiter"}
		}
		rest = remainder

		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "" || strings.HasPrefix(trimmed, "#"):
			continue
		case strings.HasPrefix(trimmed, "- ") || trimmed == "-":
			if listKey == "" {
				return nil, "", &ParseError{Line: lineNo, Reason: "list item without a list field"}
			}
			item := unquote(strings.TrimSpace(strings.TrimPrefix(trimmed, "-")))
			fields.SetList(listKey, append(fields.GetList(listKey), item))
			continue
		}

		key, value, found := strings.Cut(line, ":")
		if !found {
			return nil, "", &ParseError{Line: lineNo, Reason: fmt.Sprintf("expected key: value, got %q", trimmed)}
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			return nil, "", &ParseError{Line: lineNo, Reason: "empty key"}
		}

		listKey = ""
		switch {
		case value == "":
			// Either an empty scalar or the head of a dash block; a following
			// "- item" line upgrades it to a list.
			fields.Set(key, "")
			listKey = key
		case strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]"):
			items, err := parseInlineList(value)
			if err != nil {
				return nil, "", &ParseError{Line: lineNo, Reason: err.Error()}
			}
			fields.SetList(key, items)
		default:
			fields.Set(key, unquote(value))
		}
	}
}

func parseInlineList(value string) ([]string, error) {
	inner := strings.TrimSpace(value[1 : len(value)-1])
	if inner == "" {
		return []string{}, nil
	}
	if strings.ContainsAny(inner, "[]") {
		return nil, fmt.Errorf("nested list in %q", value)
	}
	parts := strings.Split(inner, ",")
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("empty list item in %q", value)
		}
		items = append(items, unquote(p))
	}
	return items, nil
}

// Stringify renders fields and body back into file content. Field order
// follows insertion order. No required-field validation is done here.
func Stringify(fields *Fields, body string) string {
	var b strings.Builder
	b.WriteString(Delimiter)
	b.WriteByte('\n')
	if fields != nil {
		for _, key := range fields.Keys() {
			if fields.IsList(key) {
				items := fields.GetList(key)
				if len(items) == 0 {
					b.WriteString(key + ": []\n")
					continue
				}
				b.WriteString(key + ":\n")
				for _, item := range items {
					b.WriteString("  - " + quoteIfNeeded(item) + "\n")
				}
				continue
			}
			value := fields.Get(key)
			if value == "" {
				b.WriteString(key + ":\n")
				continue
			}
			b.WriteString(key + ": " + quoteIfNeeded(value) + "\n")
		}
	}
	b.WriteString(Delimiter)
	b.WriteByte('\n')
	b.WriteString(body)
	return b.String()
}

// quoteIfNeeded double-quotes values Parse would otherwise read back
// differently: inline-list brackets, leading quote, comment or dash
// characters, surrounding whitespace and line breaks.
func quoteIfNeeded(v string) string {
	if v == "" {
		return v
	}
	if v != strings.TrimSpace(v) || strings.ContainsAny(v, "\r\n") ||
		strings.IndexByte(`["'#-`, v[0]) >= 0 {
		return strconv.Quote(v)
	}
	return v
}

// unquote strips one level of matching quotes.
func unquote(v string) string {
	if len(v) < 2 {
		return v
	}
	switch {
	case v[0] == '"' && v[len(v)-1] == '"':
		if s, err := strconv.Unquote(v); err == nil {
			return s
		}
		return v[1 : len(v)-1]
	case v[0] == '\'' && v[len(v)-1] == '\'':
		return strings.ReplaceAll(v[1:len(v)-1], "''", "'")
	}
	return v
}
