// Package llmjson recovers one structured JSON object from raw model output.
//
// Model responses wrap the object in markdown fences, switch quote styles, or
// leave quotes unescaped inside prose fields. The repair ladder targets that
// small set of observed failure modes; it is deliberately not a general
// recovery parser.
package llmjson

import (
	"encoding/json"
	"fmt"
	"strings"
)

type ErrKind int

const (
	// NoStructureFound means the text contains no {...} span at all.
	NoStructureFound ErrKind = iota
	// Unparseable means a span was found but no repair produced valid JSON.
	Unparseable
)

type ParseError struct {
	Kind ErrKind
	Err  error
}

func (e *ParseError) Error() string {
	switch e.Kind {
	case NoStructureFound:
		return "llmjson: no structured object found"
	default:
		return fmt.Sprintf("llmjson: unparseable object: %v", e.Err)
	}
}

func (e *ParseError) Unwrap() error { return e.Err }

// freeTextKeys are fields whose values are prose and may carry unescaped
// double quotes straight from the model.
var freeTextKeys = []string{
	"description",
	"content",
	"recommendation",
	"issue",
	"reason",
	"summary",
}

// Parse extracts the embedded object from raw text and returns it as a
// generic map. It applies no business validation; enum and range checks
// belong to the caller.
func Parse(raw string) (map[string]any, error) {
	span, ok := objectSpan(stripFences(raw))
	if !ok {
		return nil, &ParseError{Kind: NoStructureFound}
	}

	parsed, err := strictParse(span)
	if err != nil {
		repaired, rerr := repair(span)
		if rerr != nil {
			return nil, &ParseError{Kind: Unparseable, Err: err}
		}
		parsed = repaired
	}

	reparseEncodedFields(parsed)
	return parsed, nil
}

// Decode parses raw text and unmarshals the recovered object into out.
func Decode(raw string, out any) error {
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	blob, err := json.Marshal(parsed)
	if err != nil {
		return &ParseError{Kind: Unparseable, Err: err}
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return &ParseError{Kind: Unparseable, Err: err}
	}
	return nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	return s
}

// objectSpan returns the text between the first '{' and the last '}'.
func objectSpan(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return "", false
	}
	return s[start : end+1], true
}

func strictParse(span string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(span))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// repair applies the bounded repair ladder in order, re-attempting a strict
// parse after each step and stopping at the first success.
func repair(span string) (map[string]any, error) {
	candidate := convertSingleQuotes(span)
	if out, err := strictParse(candidate); err == nil {
		return out, nil
	}
	candidate = escapeFreeTextQuotes(candidate)
	out, err := strictParse(candidate)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// convertSingleQuotes rewrites 'single'-quoted keys and values to double
// quotes. Only quotes at non-identifier boundaries open a string, so
// apostrophes inside prose are left alone.
func convertSingleQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inDouble := false
	inSingle := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inDouble:
			b.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			} else if c == '"' {
				inDouble = false
			}
		case inSingle:
			if c == '\\' && i+1 < len(s) {
				b.WriteByte(c)
				i++
				b.WriteByte(s[i])
			} else if c == '\'' {
				b.WriteByte('"')
				inSingle = false
			} else if c == '"' {
				b.WriteString(`\"`)
			} else {
				b.WriteByte(c)
			}
		case c == '"':
			inDouble = true
			b.WriteByte(c)
		case c == '\'' && boundaryBefore(s, i):
			inSingle = true
			b.WriteByte('"')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func boundaryBefore(s string, i int) bool {
	for j := i - 1; j >= 0; j-- {
		switch s[j] {
		case ' ', '\t', '\n', '\r':
			continue
		case '{', '[', ',', ':':
			return true
		default:
			return false
		}
	}
	return true
}

// escapeFreeTextQuotes escapes unescaped double quotes inside the values of
// known free-text fields. The value is assumed to end at the last quote that
// precedes a structural character.
func escapeFreeTextQuotes(s string) string {
	for _, key := range freeTextKeys {
		s = escapeQuotesForKey(s, key)
	}
	return s
}

func escapeQuotesForKey(s, key string) string {
	marker := `"` + key + `"`
	var b strings.Builder
	rest := s
	for {
		idx := strings.Index(rest, marker)
		if idx < 0 {
			b.WriteString(rest)
			break
		}
		after := idx + len(marker)
		valStart := valueStart(rest, after)
		if valStart < 0 {
			b.WriteString(rest[:after])
			rest = rest[after:]
			continue
		}
		valEnd := valueEnd(rest, valStart)
		if valEnd < 0 {
			b.WriteString(rest[:after])
			rest = rest[after:]
			continue
		}
		b.WriteString(rest[:valStart])
		b.WriteString(escapeInner(rest[valStart:valEnd]))
		rest = rest[valEnd:]
	}
	return b.String()
}

// valueStart returns the index just past the opening quote of a string value
// that follows a colon at position from, or -1 if the value is not a string.
func valueStart(s string, from int) int {
	i := from
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	if i >= len(s) || s[i] != ':' {
		return -1
	}
	i++
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	if i >= len(s) || s[i] != '"' {
		return -1
	}
	return i + 1
}

// valueEnd finds the closing quote of the string value starting at from: the
// last '"' before the next structural terminator (',' '}' ']') that follows a
// quote, scanning forward.
func valueEnd(s string, from int) int {
	end := -1
	for i := from; i < len(s); i++ {
		if s[i] == '\\' {
			i++
			continue
		}
		if s[i] != '"' {
			continue
		}
		j := i + 1
		for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
			j++
		}
		if j >= len(s) || s[j] == ',' || s[j] == '}' || s[j] == ']' {
			end = i
			break
		}
	}
	return end
}

func escapeInner(v string) string {
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		if v[i] == '\\' && i+1 < len(v) {
			b.WriteByte(v[i])
			i++
			b.WriteByte(v[i])
			continue
		}
		if v[i] == '"' {
			b.WriteString(`\"`)
			continue
		}
		b.WriteByte(v[i])
	}
	return b.String()
}

// reparseEncodedFields walks the parsed value and re-parses string fields
// that look like serialized objects or arrays. Doubly-encoded fields show up
// when the model stringifies nested structures; a failed re-parse leaves the
// original string in place.
func reparseEncodedFields(m map[string]any) {
	for k, v := range m {
		m[k] = reparseValue(v)
	}
}

func reparseValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		reparseEncodedFields(val)
		return val
	case []any:
		for i, item := range val {
			val[i] = reparseValue(item)
		}
		return val
	case string:
		trimmed := strings.TrimSpace(val)
		if looksSerialized(trimmed) {
			var nested any
			if err := json.Unmarshal([]byte(trimmed), &nested); err == nil {
				return reparseValue(nested)
			}
		}
		return val
	default:
		return val
	}
}

func looksSerialized(s string) bool {
	if len(s) < 2 {
		return false
	}
	return (s[0] == '{' && s[len(s)-1] == '}') || (s[0] == '[' && s[len(s)-1] == ']')
}
