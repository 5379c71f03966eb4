package typemap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/clafollett/mcpgen/internal/naming"
)

// Target is the type system of a generated language.
type Target struct {
	Name string

	primitive func(typ, format string) string
	array     func(elem string) string
	mapOf     func(elem string) string
	optional  func(t string) string
	indirect  func(t string) string
	opaque    string

	fieldCase func(string) string
	reserved  map[string]bool
}

// Primitive returns the target type for a JSON (type, format) pair.
func (t *Target) Primitive(typ, format string) string { return t.primitive(typ, format) }

// Array returns the sequence type holding elem.
func (t *Target) Array(elem string) string { return t.array(elem) }

// Map returns the string-keyed map type holding elem.
func (t *Target) Map(elem string) string { return t.mapOf(elem) }

// Optional wraps typ so it can be absent. Types that are already nilable
// are returned unchanged.
func (t *Target) Optional(typ string) string { return t.optional(typ) }

// Indirect wraps typ so a struct can contain itself.
func (t *Target) Indirect(typ string) string { return t.indirect(typ) }

// Opaque is the type used for free-form JSON.
func (t *Target) Opaque() string { return t.opaque }

// TypeIdent converts a schema or hint name into a type identifier. Names
// that are already alphanumeric keep their casing ("HTTPError", "URL");
// anything else is PascalCased.
func (t *Target) TypeIdent(name string) string {
	id := name
	if !isAlnum(id) {
		id = naming.Pascal(name)
	}
	if id == "" {
		return ""
	}
	if id[0] >= '0' && id[0] <= '9' {
		id = "V" + id
	}
	id = strings.ToUpper(id[:1]) + id[1:]
	return naming.Escape(id, t.reserved)
}

func isAlnum(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

// FieldIdent converts a property name into a field identifier.
func (t *Target) FieldIdent(name string) string {
	id := t.fieldCase(name)
	if id == "" {
		return ""
	}
	if id[0] >= '0' && id[0] <= '9' {
		id = "V" + id
	}
	return naming.Escape(id, t.reserved)
}

var targets = map[string]*Target{
	"go": {
		Name: "go",
		primitive: func(typ, format string) string {
			switch typ {
			case "integer":
				switch format {
				case "int32":
					return "int32"
				case "int64":
					return "int64"
				}
				return "int"
			case "number":
				if format == "float" {
					return "float32"
				}
				return "float64"
			case "boolean":
				return "bool"
			}
			switch format {
			case "date-time":
				return "time.Time"
			case "byte", "binary":
				return "[]byte"
			}
			return "string"
		},
		array: func(e string) string { return "[]" + e },
		mapOf: func(e string) string { return "map[string]" + e },
		optional: func(t string) string {
			if strings.HasPrefix(t, "*") || strings.HasPrefix(t, "[]") || strings.HasPrefix(t, "map[") || t == "any" {
				return t
			}
			return "*" + t
		},
		indirect: func(t string) string {
			if strings.HasPrefix(t, "*") {
				return t
			}
			return "*" + t
		},
		opaque:    "any",
		fieldCase: naming.Pascal,
	},
	"rust": {
		Name: "rust",
		primitive: func(typ, format string) string {
			switch typ {
			case "integer":
				if format == "int32" {
					return "i32"
				}
				return "i64"
			case "number":
				if format == "float" {
					return "f32"
				}
				return "f64"
			case "boolean":
				return "bool"
			}
			if format == "byte" || format == "binary" {
				return "Vec<u8>"
			}
			return "String"
		},
		array: func(e string) string { return "Vec<" + e + ">" },
		mapOf: func(e string) string { return "HashMap<String, " + e + ">" },
		optional: func(t string) string {
			if strings.HasPrefix(t, "Option<") {
				return t
			}
			return "Option<" + t + ">"
		},
		indirect:  func(t string) string { return "Box<" + t + ">" },
		opaque:    "serde_json::Value",
		fieldCase: naming.Snake,
		reserved:  naming.RustReserved,
	},
}

// LookupTarget returns the target named name ("go" or "rust").
func LookupTarget(name string) (*Target, error) {
	if t, ok := targets[strings.ToLower(name)]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("unknown target language %q (known: %s)", name, strings.Join(TargetNames(), ", "))
}

// TargetNames lists the known targets in lexical order.
func TargetNames() []string {
	names := make([]string, 0, len(targets))
	for n := range targets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
