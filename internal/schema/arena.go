// Package schema resolves the schemas and operations of a loaded document
// into an arena of nodes addressed by index. Every $ref is replaced by the
// index of its target, so recursive schemas become cycles in the index
// graph rather than infinite trees.
package schema

import "fmt"

// NodeRef addresses a node in an Arena.
type NodeRef int

// NoRef marks an absent schema.
const NoRef NodeRef = -1

// Kind is the variant held by a Node.
type Kind int

const (
	// Reference only exists while a node is being resolved.
	Reference Kind = iota
	Primitive
	Array
	Object
	Map
	Enum
	Composite
	Opaque
)

var kindNames = [...]string{"reference", "primitive", "array", "object", "map", "enum", "composite", "opaque"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// CompositeKind names the combinator of a Composite node.
type CompositeKind string

const (
	AllOf CompositeKind = "allOf"
	OneOf CompositeKind = "oneOf"
	AnyOf CompositeKind = "anyOf"
)

// Field is one property of an Object node.
type Field struct {
	Name        string
	Type        NodeRef
	Required    bool
	Description string
}

// Discriminator is the discriminator of a oneOf/anyOf composite. Mapping
// values are component names when the mapped ref points at a component.
type Discriminator struct {
	Property string
	Keys     []string
	Mapping  map[string]string
}

// Node is one resolved schema.
type Node struct {
	Kind Kind

	// Type is the JSON type of a Primitive, or the base type of an Enum.
	Type   string
	Format string
	// Elem is the item type of an Array or the value type of a Map.
	Elem          NodeRef
	Fields        []Field
	Members       []NodeRef
	Composite     CompositeKind
	Discriminator *Discriminator
	Literals      []any

	Nullable    bool
	Description string
	Example     any
	Default     any

	// Name is the component name for schemas declared under
	// components/schemas (or definitions); empty for inline schemas.
	Name string
	// Hint is a name derived from where an inline schema appears.
	Hint string
	// Pointer is the JSON pointer the node was built from.
	Pointer string
}

// Arena owns every node of a resolution run.
type Arena struct {
	nodes []Node
}

// Len returns the number of nodes.
func (a *Arena) Len() int { return len(a.nodes) }

// Node returns the node at ref. It panics when ref is out of range.
func (a *Arena) Node(ref NodeRef) *Node {
	return &a.nodes[ref]
}

// Valid reports whether ref addresses a node of a.
func (a *Arena) Valid(ref NodeRef) bool {
	return ref >= 0 && int(ref) < len(a.nodes)
}

// Add appends n and returns its index.
func (a *Arena) Add(n Node) NodeRef {
	a.nodes = append(a.nodes, n)
	return NodeRef(len(a.nodes) - 1)
}

// reserve appends a placeholder so the index exists before the body of the
// node has been built.
func (a *Arena) reserve(pointer string) NodeRef {
	return a.Add(Node{Kind: Reference, Elem: NoRef, Pointer: pointer})
}

// DisplayName returns the component name, the hint, or the pointer of the
// node at ref, whichever is set first.
func (a *Arena) DisplayName(ref NodeRef) string {
	if !a.Valid(ref) {
		return "<none>"
	}
	n := a.Node(ref)
	switch {
	case n.Name != "":
		return n.Name
	case n.Hint != "":
		return n.Hint
	default:
		return n.Pointer
	}
}
