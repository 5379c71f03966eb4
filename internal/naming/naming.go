// Package naming converts OpenAPI identifiers (paths, property names, enum
// literals, operation ids) into identifiers for generated source code.
package naming

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Words splits s into lower-cased words. Any run of non-alphanumeric runes is
// a separator, and so is a lower-to-upper transition ("petId" -> pet, id) or
// the end of an acronym ("HTTPServer" -> http, server).
func Words(s string) []string {
	runes := []rune(s)
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if unicode.IsUpper(r) && len(cur) > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return words
}

// Snake returns the snake_case form of s.
func Snake(s string) string {
	return strings.Join(Words(s), "_")
}

// Pascal returns the PascalCase form of s.
func Pascal(s string) string {
	words := Words(s)
	// A Caser keeps state between calls, so each conversion gets its own.
	title := cases.Title(language.Und)
	var b strings.Builder
	for _, w := range words {
		b.WriteString(title.String(w))
		title.Reset()
	}
	return b.String()
}

// Camel returns the camelCase form of s.
func Camel(s string) string {
	p := Pascal(s)
	if p == "" {
		return p
	}
	r := []rune(p)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

// Collapse lower-cases s and replaces every run of characters outside
// [a-z0-9] with a single underscore, trimming underscores at both ends.
func Collapse(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

// Sanitize turns an arbitrary literal into identifier-safe text: characters
// outside [A-Za-z0-9_] become underscores, a leading digit gets a "V" prefix
// and the empty string becomes "Empty". Distinct inputs may map to the same
// output; callers that need injectivity must check for collisions.
func Sanitize(literal string) string {
	if literal == "" {
		return "Empty"
	}
	var b strings.Builder
	for _, r := range literal {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out[0] >= '0' && out[0] <= '9' {
		out = "V" + out
	}
	return out
}

// Escape appends an underscore to name when it is in reserved.
func Escape(name string, reserved map[string]bool) string {
	if reserved[name] {
		return name + "_"
	}
	return name
}

// GoReserved holds Go keywords.
var GoReserved = map[string]bool{
	"break": true, "case": true, "chan": true, "const": true, "continue": true,
	"default": true, "defer": true, "else": true, "fallthrough": true, "for": true,
	"func": true, "go": true, "goto": true, "if": true, "import": true,
	"interface": true, "map": true, "package": true, "range": true, "return": true,
	"select": true, "struct": true, "switch": true, "type": true, "var": true,
}

// RustReserved holds Rust strict and reserved keywords.
var RustReserved = map[string]bool{
	"as": true, "async": true, "await": true, "break": true, "const": true,
	"continue": true, "crate": true, "dyn": true, "else": true, "enum": true,
	"extern": true, "false": true, "fn": true, "for": true, "if": true,
	"impl": true, "in": true, "let": true, "loop": true, "match": true,
	"mod": true, "move": true, "mut": true, "pub": true, "ref": true,
	"return": true, "self": true, "Self": true, "static": true, "struct": true, "super": true,
	"trait": true, "true": true, "type": true, "unsafe": true, "use": true,
	"where": true, "while": true, "abstract": true, "become": true, "box": true,
	"do": true, "final": true, "macro": true, "override": true, "priv": true,
	"typeof": true, "unsized": true, "virtual": true, "yield": true, "try": true,
}
