package spec

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is the serialization a document was read from.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// RawDocument is a parsed specification before any interpretation. It is
// not modified after Load returns.
type RawDocument struct {
	// Source is the absolute file path or URL the document came from.
	Source string
	Format Format
	// Version is the value of the top-level openapi (or swagger) field.
	Version string
	// Converted is true when the input was Swagger 2.0 and Root holds the
	// converted OpenAPI 3 tree.
	Converted bool
	Root      *RawNode
}

// NodeKind tags the variant held by a RawNode.
type NodeKind int

const (
	NullNode NodeKind = iota
	ScalarNode
	SeqNode
	MapNode
)

func (k NodeKind) String() string {
	switch k {
	case ScalarNode:
		return "scalar"
	case SeqNode:
		return "sequence"
	case MapNode:
		return "mapping"
	default:
		return "null"
	}
}

// RawNode is one node of the document tree. Mappings keep their keys in
// declaration order. Scalars hold a string, bool, int64 or float64 in Value
// and the literal source text in Text.
type RawNode struct {
	Kind   NodeKind
	Keys   []string
	Fields map[string]*RawNode
	Items  []*RawNode
	Value  any
	Text   string
	Line   int
	Column int
}

// Get returns the value under key, or nil when n is not a mapping or has no
// such key. It is safe to call on a nil node.
func (n *RawNode) Get(key string) *RawNode {
	if n == nil || n.Kind != MapNode {
		return nil
	}
	return n.Fields[key]
}

// Has reports whether the mapping n contains key.
func (n *RawNode) Has(key string) bool {
	return n.Get(key) != nil
}

// IsMap reports whether n is a mapping.
func (n *RawNode) IsMap() bool { return n != nil && n.Kind == MapNode }

// IsSeq reports whether n is a sequence.
func (n *RawNode) IsSeq() bool { return n != nil && n.Kind == SeqNode }

// Str returns the scalar text of n. Non-string scalars return their
// literal text, so `version: 1.0` reads as "1.0".
func (n *RawNode) Str() (string, bool) {
	if n == nil || n.Kind != ScalarNode {
		return "", false
	}
	if s, ok := n.Value.(string); ok {
		return s, true
	}
	return n.Text, true
}

// String returns the scalar text of n or "".
func (n *RawNode) String() string {
	s, _ := n.Str()
	return s
}

// Bool returns the boolean value of n; anything but a true boolean scalar
// is false.
func (n *RawNode) Bool() bool {
	if n == nil || n.Kind != ScalarNode {
		return false
	}
	b, _ := n.Value.(bool)
	return b
}

// Strings returns the string items of a sequence, skipping anything else.
func (n *RawNode) Strings() []string {
	if !n.IsSeq() {
		return nil
	}
	out := make([]string, 0, len(n.Items))
	for _, it := range n.Items {
		if s, ok := it.Str(); ok {
			out = append(out, s)
		}
	}
	return out
}

// Pos formats the source position of n as "line:column".
func (n *RawNode) Pos() string {
	if n == nil {
		return ""
	}
	return fmt.Sprintf("%d:%d", n.Line, n.Column)
}

// Lookup resolves a JSON pointer ("#/a/b", "/a/b" or "") against n. Tokens
// are unescaped per RFC 6901 after percent-decoding.
func (n *RawNode) Lookup(pointer string) (*RawNode, bool) {
	p := strings.TrimPrefix(pointer, "#")
	if p == "" {
		return n, n != nil
	}
	if !strings.HasPrefix(p, "/") {
		return nil, false
	}
	cur := n
	for _, tok := range strings.Split(p[1:], "/") {
		if dec, err := url.PathUnescape(tok); err == nil {
			tok = dec
		}
		tok = strings.ReplaceAll(strings.ReplaceAll(tok, "~1", "/"), "~0", "~")
		switch {
		case cur.IsMap():
			next, ok := cur.Fields[tok]
			if !ok {
				return nil, false
			}
			cur = next
		case cur.IsSeq():
			i, err := strconv.Atoi(tok)
			if err != nil || i < 0 || i >= len(cur.Items) {
				return nil, false
			}
			cur = cur.Items[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Interface converts n into plain Go values: map[string]any, []any, string,
// bool, int64, float64 and nil. Key order is not preserved.
func (n *RawNode) Interface() any {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case MapNode:
		m := make(map[string]any, len(n.Keys))
		for _, k := range n.Keys {
			m[k] = n.Fields[k].Interface()
		}
		return m
	case SeqNode:
		s := make([]any, len(n.Items))
		for i, it := range n.Items {
			s[i] = it.Interface()
		}
		return s
	case ScalarNode:
		return n.Value
	default:
		return nil
	}
}

// EscapePointerToken escapes a key for use as a JSON pointer token.
func EscapePointerToken(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "~", "~0"), "/", "~1")
}

// parseTree parses YAML (and therefore JSON) text into a RawNode tree.
func parseTree(data []byte) (*RawNode, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, fmt.Errorf("document is empty")
	}
	return fromYAML(doc.Content[0], 0)
}

const maxAliasDepth = 64

func fromYAML(y *yaml.Node, depth int) (*RawNode, error) {
	if depth > maxAliasDepth {
		return nil, fmt.Errorf("line %d: alias nesting too deep", y.Line)
	}
	n := &RawNode{Line: y.Line, Column: y.Column}
	switch y.Kind {
	case yaml.DocumentNode:
		if len(y.Content) == 0 {
			n.Kind = NullNode
			return n, nil
		}
		return fromYAML(y.Content[0], depth)
	case yaml.AliasNode:
		return fromYAML(y.Alias, depth+1)
	case yaml.MappingNode:
		n.Kind = MapNode
		n.Fields = make(map[string]*RawNode, len(y.Content)/2)
		for i := 0; i+1 < len(y.Content); i += 2 {
			k, v := y.Content[i], y.Content[i+1]
			if k.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: mapping key must be a scalar", k.Line)
			}
			if _, dup := n.Fields[k.Value]; dup {
				return nil, fmt.Errorf("line %d: duplicate key %q", k.Line, k.Value)
			}
			child, err := fromYAML(v, depth)
			if err != nil {
				return nil, err
			}
			n.Keys = append(n.Keys, k.Value)
			n.Fields[k.Value] = child
		}
	case yaml.SequenceNode:
		n.Kind = SeqNode
		n.Items = make([]*RawNode, 0, len(y.Content))
		for _, c := range y.Content {
			child, err := fromYAML(c, depth)
			if err != nil {
				return nil, err
			}
			n.Items = append(n.Items, child)
		}
	case yaml.ScalarNode:
		n.Text = y.Value
		switch y.ShortTag() {
		case "!!null":
			n.Kind = NullNode
			return n, nil
		case "!!bool":
			var b bool
			if err := y.Decode(&b); err != nil {
				return nil, fmt.Errorf("line %d: %w", y.Line, err)
			}
			n.Value = b
		case "!!int":
			var i int64
			if err := y.Decode(&i); err != nil {
				// Out of int64 range; keep it as a float.
				var f float64
				if ferr := y.Decode(&f); ferr != nil {
					return nil, fmt.Errorf("line %d: %w", y.Line, err)
				}
				n.Value = f
			} else {
				n.Value = i
			}
		case "!!float":
			var f float64
			if err := y.Decode(&f); err != nil {
				return nil, fmt.Errorf("line %d: %w", y.Line, err)
			}
			n.Value = f
		default:
			n.Value = y.Value
		}
		n.Kind = ScalarNode
	default:
		return nil, fmt.Errorf("line %d: unsupported node", y.Line)
	}
	return n, nil
}
