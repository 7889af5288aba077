package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/cbwinslow/local-ai-packaged-cbw/cmd/lapctl/internal/util"
)

// envLineKind classifies a single physical line of a .env document.
type envLineKind int

const (
	lineBlank envLineKind = iota
	lineComment
	lineAssign
	lineMalformed
)

// envLine is one physical line of the document. The raw text is kept
// verbatim so that untouched lines serialize byte-for-byte.
type envLine struct {
	raw   string
	kind  envLineKind
	key   string
	value string
}

// EnvFile is an ordered .env document.
//
// # Description
//
// Parses KEY=VALUE assignments, comment lines, and blank lines while
// preserving the exact byte layout of the source. Serializing an
// unmodified document returns the input bytes unchanged, which is what
// makes repair runs idempotent: a file that needs no changes is never
// rewritten, and a file that does is only touched on the lines that
// changed.
//
// # Example
//
//	f, err := LoadEnvFile(".env")
//	if err != nil {
//	    return err
//	}
//	if _, ok := f.Get("POSTGRES_PASSWORD"); !ok {
//	    f.Set("POSTGRES_PASSWORD", generated)
//	}
//	os.WriteFile(".env", f.Bytes(), 0600)
//
// # Limitations
//
//   - Inline comments are not stripped; a # inside a value is part of
//     the value.
//   - "export KEY=VALUE" lines are treated as malformed and preserved
//     verbatim.
//   - Multi-line quoted values are not supported.
//
// # Thread Safety
//
// EnvFile is NOT thread-safe. Do not modify concurrently.
type EnvFile struct {
	path            string
	lines           []envLine
	trailingNewline bool
}

// ParseEnvFile parses raw .env content into an ordered document.
//
// # Description
//
// Never fails: lines that are not a valid assignment, comment, or blank
// line are classified as malformed and carried through verbatim. The
// validator reports them; the document does not lose them.
//
// # Inputs
//
//   - data: Raw file content. May be empty.
//
// # Outputs
//
//   - *EnvFile: The parsed document.
func ParseEnvFile(data []byte) *EnvFile {
	f := &EnvFile{}
	if len(data) == 0 {
		return f
	}

	text := string(data)
	if strings.HasSuffix(text, "\n") {
		f.trailingNewline = true
		text = strings.TrimSuffix(text, "\n")
	}

	for _, raw := range strings.Split(text, "\n") {
		f.lines = append(f.lines, classifyEnvLine(raw))
	}
	return f
}

// classifyEnvLine parses one physical line.
func classifyEnvLine(raw string) envLine {
	trimmed := strings.TrimSpace(raw)

	switch {
	case trimmed == "":
		return envLine{raw: raw, kind: lineBlank}
	case strings.HasPrefix(trimmed, "#"):
		return envLine{raw: raw, kind: lineComment}
	}

	idx := strings.Index(raw, "=")
	if idx <= 0 {
		return envLine{raw: raw, kind: lineMalformed}
	}

	key := strings.TrimSpace(raw[:idx])
	if err := util.ValidateEnvKey(key); err != nil {
		return envLine{raw: raw, kind: lineMalformed}
	}

	return envLine{
		raw:   raw,
		kind:  lineAssign,
		key:   key,
		value: parseEnvValue(raw[idx+1:]),
	}
}

// parseEnvValue trims surrounding whitespace and one matching pair of
// single or double quotes.
func parseEnvValue(raw string) string {
	v := strings.TrimSpace(raw)
	if len(v) >= 2 {
		first, last := v[0], v[len(v)-1]
		if first == last && (first == '"' || first == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// LoadEnvFile reads and parses a .env file from disk.
//
// # Inputs
//
//   - path: File to read.
//
// # Outputs
//
//   - *EnvFile: Parsed document with the source path recorded.
//   - error: Non-nil if the file cannot be read.
func LoadEnvFile(path string) (*EnvFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading env file %s: %w", path, err)
	}
	f := ParseEnvFile(data)
	f.path = path
	return f, nil
}

// Path returns the source path, or empty for in-memory documents.
func (f *EnvFile) Path() string {
	if f == nil {
		return ""
	}
	return f.path
}

// Get returns the value for a key and whether the key is assigned.
// With duplicate keys the last assignment wins, matching how compose
// reads the file.
func (f *EnvFile) Get(key string) (string, bool) {
	if f == nil {
		return "", false
	}
	for i := len(f.lines) - 1; i >= 0; i-- {
		if f.lines[i].kind == lineAssign && f.lines[i].key == key {
			return f.lines[i].value, true
		}
	}
	return "", false
}

// Has returns true if the key is assigned anywhere in the document.
func (f *EnvFile) Has(key string) bool {
	_, ok := f.Get(key)
	return ok
}

// Set assigns a value to a key.
//
// # Description
//
// An existing key is updated in place: the last assignment line for the
// key is rewritten in canonical KEY=VALUE form and every other line in
// the document keeps its exact bytes. A new key is appended at the end.
//
// # Inputs
//
//   - key: Must match [a-zA-Z_][a-zA-Z0-9_]*
//   - value: Written as-is, unquoted.
//
// # Outputs
//
//   - error: Non-nil if the key is invalid.
func (f *EnvFile) Set(key, value string) error {
	if err := util.ValidateEnvKey(key); err != nil {
		return err
	}

	line := envLine{
		raw:   key + "=" + value,
		kind:  lineAssign,
		key:   key,
		value: value,
	}

	for i := len(f.lines) - 1; i >= 0; i-- {
		if f.lines[i].kind == lineAssign && f.lines[i].key == key {
			f.lines[i] = line
			return nil
		}
	}

	f.lines = append(f.lines, line)
	// Files we extend always end with a newline.
	f.trailingNewline = true
	return nil
}

// Keys returns the unique assigned keys in first-appearance order.
func (f *EnvFile) Keys() []string {
	if f == nil {
		return nil
	}
	seen := make(map[string]bool)
	var keys []string
	for _, l := range f.lines {
		if l.kind != lineAssign || seen[l.key] {
			continue
		}
		seen[l.key] = true
		keys = append(keys, l.key)
	}
	return keys
}

// Vars returns the assignments as report variables, deduplicated with
// last value winning, in first-appearance order. Sensitivity is derived
// from the key name so callers can log the result safely.
func (f *EnvFile) Vars() []EnvVariable {
	if f == nil {
		return nil
	}
	var vars []EnvVariable
	for _, key := range f.Keys() {
		value, _ := f.Get(key)
		vars = append(vars, EnvVariable{
			Key:       key,
			Value:     value,
			Sensitive: util.IsSensitiveKey(key),
		})
	}
	return vars
}

// MalformedLines returns the 1-based line numbers of lines that are
// neither an assignment, a comment, nor blank.
func (f *EnvFile) MalformedLines() []int {
	if f == nil {
		return nil
	}
	var nums []int
	for i, l := range f.lines {
		if l.kind == lineMalformed {
			nums = append(nums, i+1)
		}
	}
	return nums
}

// Bytes serializes the document.
//
// # Description
//
// An unmodified document returns bytes identical to the parsed input.
// Modified documents differ only on the rewritten or appended lines.
func (f *EnvFile) Bytes() []byte {
	if f == nil || len(f.lines) == 0 {
		return []byte{}
	}
	raws := make([]string, len(f.lines))
	for i, l := range f.lines {
		raws[i] = l.raw
	}
	out := strings.Join(raws, "\n")
	if f.trailingNewline {
		out += "\n"
	}
	return []byte(out)
}
