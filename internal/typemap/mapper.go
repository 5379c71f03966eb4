// Package typemap maps resolved schema nodes onto the type system of a
// target language. Descriptors are memoized per node so recursive schemas
// map to recursive descriptors.
package typemap

import (
	"strconv"

	"go.uber.org/zap"

	"github.com/clafollett/mcpgen/internal/generr"
	"github.com/clafollett/mcpgen/internal/naming"
	"github.com/clafollett/mcpgen/internal/schema"
)

// Kind classifies a descriptor.
type Kind string

const (
	KindPrimitive Kind = "primitive"
	KindStruct    Kind = "struct"
	KindEnum      Kind = "enum"
	KindUnion     Kind = "union"
	KindOpaque    Kind = "opaque"
	KindContainer Kind = "container"
)

// Shape is the outermost wrapper of a descriptor's use-site type.
type Shape string

const (
	ShapeScalar   Shape = "scalar"
	ShapeArray    Shape = "array"
	ShapeMap      Shape = "map"
	ShapeOptional Shape = "optional"
)

// Descriptor is the target-language view of one schema node.
type Descriptor struct {
	// Name is the bare type: the declared name of a struct, enum or union,
	// or the type expression of anything else.
	Name string
	// TypeName is Name wrapped as optional when the schema is nullable.
	TypeName string
	Shape    Shape
	Kind     Kind
	Node     schema.NodeRef
	Nullable bool
	// Named is true for declared types: structs, enums, unions and
	// containers that contain themselves.
	Named       bool
	Description string
	// Underlying is the type expression behind a named container.
	Underlying string

	// Elem is the element of an array or the value of a map.
	Elem          *Descriptor
	Fields        []*Field
	Variants      []Variant
	Members       []Member
	Discriminator *schema.Discriminator
	// Base is the primitive type underlying an enum.
	Base string
	// JSONType is the JSON Schema type of primitives and enums.
	JSONType string
}

// Field is one member of a struct.
type Field struct {
	// Name is the JSON property name.
	Name string
	// Ident is the target field identifier.
	Ident string
	Type  *Descriptor
	// TypeName is the field's type expression, optional when the field is
	// not required or the schema is nullable.
	TypeName    string
	Required    bool
	Description string
}

// Variant is one enum literal.
type Variant struct {
	Ident   string
	Value   any
	Literal string
}

// Member is one alternative of a union.
type Member struct {
	Ident string
	Type  *Descriptor
}

// Mapper maps nodes of one graph onto one target. It is not safe for
// concurrent use.
type Mapper struct {
	graph  *schema.Graph
	target *Target
	logger *zap.Logger

	memo   map[schema.NodeRef]*Descriptor
	names  map[string]bool
	decls  []*Descriptor
	opaque *Descriptor
}

// Option configures a Mapper.
type Option func(*Mapper)

func WithLogger(l *zap.Logger) Option {
	return func(m *Mapper) {
		if l != nil {
			m.logger = l
		}
	}
}

// New returns a Mapper for g and target.
func New(g *schema.Graph, target *Target, opts ...Option) *Mapper {
	m := &Mapper{
		graph:  g,
		target: target,
		logger: zap.NewNop(),
		memo:   map[schema.NodeRef]*Descriptor{},
		names:  map[string]bool{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Target returns the target the mapper produces types for.
func (m *Mapper) Target() *Target { return m.target }

// Declarations returns every named descriptor in the order it was first
// mapped.
func (m *Mapper) Declarations() []*Descriptor { return m.decls }

// Opaque returns the descriptor for free-form JSON values, used where a
// schema is missing altogether.
func (m *Mapper) Opaque() *Descriptor {
	if m.opaque == nil {
		m.opaque = &Descriptor{
			Name:     m.target.Opaque(),
			TypeName: m.target.Opaque(),
			Shape:    ShapeScalar,
			Kind:     KindOpaque,
			Node:     schema.NoRef,
		}
	}
	return m.opaque
}

// MapComponents maps every component schema in declaration order.
func (m *Mapper) MapComponents() error {
	for _, name := range m.graph.ComponentOrder {
		if _, err := m.Map(m.graph.Components[name]); err != nil {
			return err
		}
	}
	return nil
}

// Map returns the descriptor for ref.
func (m *Mapper) Map(ref schema.NodeRef) (*Descriptor, error) {
	if d, ok := m.memo[ref]; ok {
		return d, nil
	}
	arena := m.graph.Arena
	if !arena.Valid(ref) {
		return nil, generr.New(generr.TypeMapping, "invalid schema reference %d", ref)
	}
	node := arena.Node(ref)

	// A single-member allOf is the member itself.
	if isAlias(node) {
		target, err := m.aliasTarget(ref)
		if err != nil {
			return nil, err
		}
		d, err := m.Map(target)
		if err != nil {
			return nil, err
		}
		m.memo[ref] = d
		return d, nil
	}

	d := &Descriptor{
		Node:        ref,
		Nullable:    node.Nullable,
		Description: node.Description,
		Shape:       ShapeScalar,
	}
	m.memo[ref] = d

	var err error
	switch node.Kind {
	case schema.Primitive:
		d.Kind = KindPrimitive
		d.JSONType = node.Type
		d.Name = m.target.Primitive(node.Type, node.Format)
	case schema.Opaque:
		d.Kind = KindOpaque
		d.Name = m.target.Opaque()
	case schema.Array, schema.Map:
		if m.containerCycle(ref) {
			m.declare(d, node, KindContainer)
		}
		err = m.mapContainer(d, node)
	case schema.Object:
		m.declare(d, node, KindStruct)
		err = m.mapObject(d, node.Fields)
	case schema.Enum:
		m.declare(d, node, KindEnum)
		err = m.mapEnum(d, node)
	case schema.Composite:
		if node.Composite == schema.AllOf {
			m.declare(d, node, KindStruct)
			err = m.mapAllOf(d, ref)
		} else {
			m.declare(d, node, KindUnion)
			err = m.mapUnion(d, node)
		}
	default:
		err = m.errorf(node, "unexpected %s node", node.Kind)
	}
	if err != nil {
		return nil, err
	}
	if d.TypeName == "" {
		d.TypeName = m.useName(d)
	}
	if d.Nullable {
		d.Shape = ShapeOptional
	}
	return d, nil
}

func isAlias(n *schema.Node) bool {
	return n.Kind == schema.Composite && n.Composite == schema.AllOf && len(n.Members) == 1
}

// aliasTarget follows single-member allOf nodes to the first other node.
func (m *Mapper) aliasTarget(ref schema.NodeRef) (schema.NodeRef, error) {
	seen := map[schema.NodeRef]bool{}
	for {
		n := m.graph.Arena.Node(ref)
		if !isAlias(n) {
			return ref, nil
		}
		if seen[ref] {
			return schema.NoRef, m.errorf(n, "allOf alias refers to itself")
		}
		seen[ref] = true
		ref = n.Members[0]
	}
}

func (m *Mapper) useName(d *Descriptor) string {
	if d.Nullable {
		return m.target.Optional(d.Name)
	}
	return d.Name
}

func (m *Mapper) errorf(node *schema.Node, format string, args ...any) error {
	return generr.New(generr.TypeMapping, format, args...).WithPointer(node.Pointer)
}

// declare names d and records it as a declaration. Names are assigned
// before children are mapped so that recursive uses can refer to them.
func (m *Mapper) declare(d *Descriptor, node *schema.Node, kind Kind) {
	d.Kind = kind
	d.Named = true
	base := node.Name
	if base == "" {
		base = node.Hint
	}
	ident := m.target.TypeIdent(base)
	if ident == "" {
		ident = "Anonymous"
	}
	name := ident
	for i := 2; m.names[name]; i++ {
		name = ident + strconv.Itoa(i)
	}
	m.names[name] = true
	d.Name = name
	d.TypeName = m.useName(d)
	m.decls = append(m.decls, d)
	m.logger.Debug("type declared", zap.String("name", name), zap.String("kind", string(kind)), zap.String("pointer", node.Pointer))
}

func (m *Mapper) mapContainer(d *Descriptor, node *schema.Node) error {
	elem, err := m.Map(node.Elem)
	if err != nil {
		return err
	}
	if elem.TypeName == "" {
		return m.errorf(node, "container %s contains itself", m.graph.Arena.DisplayName(d.Node))
	}
	d.Kind = KindContainer
	d.Elem = elem
	expr := m.target.Array(elem.TypeName)
	shape := ShapeArray
	if node.Kind == schema.Map {
		expr = m.target.Map(elem.TypeName)
		shape = ShapeMap
	}
	if d.Named {
		d.Underlying = expr
		return nil
	}
	d.Shape = shape
	d.Name = expr
	return nil
}

// containerCycle reports whether the array or map at ref holds itself
// through elements alone, as in A: {type: array, items: {$ref: A}}. Such a
// container needs a declared name.
func (m *Mapper) containerCycle(ref schema.NodeRef) bool {
	seen := map[schema.NodeRef]bool{}
	cur := m.graph.Arena.Node(ref).Elem
	for m.graph.Arena.Valid(cur) && !seen[cur] {
		if cur == ref {
			return true
		}
		seen[cur] = true
		n := m.graph.Arena.Node(cur)
		switch {
		case n.Kind == schema.Array || n.Kind == schema.Map:
			cur = n.Elem
		case isAlias(n):
			cur = n.Members[0]
		default:
			return false
		}
	}
	return false
}

func (m *Mapper) mapObject(d *Descriptor, fields []schema.Field) error {
	idents := map[string]bool{}
	for _, f := range fields {
		ft, err := m.Map(f.Type)
		if err != nil {
			return err
		}
		ident := m.target.FieldIdent(f.Name)
		if ident == "" {
			ident = m.target.FieldIdent("field")
		}
		base := ident
		for i := 2; idents[ident]; i++ {
			ident = base + strconv.Itoa(i)
		}
		idents[ident] = true

		typeName := ft.Name
		if ft.Kind == KindStruct && m.reaches(f.Type, d.Node) {
			typeName = m.target.Indirect(typeName)
		}
		if !f.Required || ft.Nullable {
			typeName = m.target.Optional(typeName)
		}
		desc := f.Description
		if desc == "" {
			desc = ft.Description
		}
		d.Fields = append(d.Fields, &Field{
			Name:        f.Name,
			Ident:       ident,
			Type:        ft,
			TypeName:    typeName,
			Required:    f.Required,
			Description: desc,
		})
	}
	return nil
}

// reaches reports whether the struct at from contains the struct at to by
// value, following only struct-typed fields.
func (m *Mapper) reaches(from, to schema.NodeRef) bool {
	seen := map[schema.NodeRef]bool{}
	var walk func(ref schema.NodeRef) bool
	walk = func(ref schema.NodeRef) bool {
		if ref == to {
			return true
		}
		if seen[ref] {
			return false
		}
		seen[ref] = true
		for _, f := range m.structFields(ref) {
			if m.isStruct(f) && walk(f) {
				return true
			}
		}
		return false
	}
	return walk(from)
}

func (m *Mapper) isStruct(ref schema.NodeRef) bool {
	n := m.graph.Arena.Node(ref)
	switch n.Kind {
	case schema.Object:
		return true
	case schema.Composite:
		return n.Composite == schema.AllOf
	}
	return false
}

func (m *Mapper) structFields(ref schema.NodeRef) []schema.NodeRef {
	var out []schema.NodeRef
	n := m.graph.Arena.Node(ref)
	switch {
	case n.Kind == schema.Object:
		for _, f := range n.Fields {
			out = append(out, f.Type)
		}
	case n.Kind == schema.Composite && n.Composite == schema.AllOf:
		for _, mem := range n.Members {
			out = append(out, m.structFields(mem)...)
		}
	}
	return out
}

func (m *Mapper) mapEnum(d *Descriptor, node *schema.Node) error {
	d.JSONType = node.Type
	d.Base = m.target.Primitive(node.Type, node.Format)
	seen := map[string]string{}
	taken := map[string]bool{}
	for _, lit := range node.Literals {
		text := literalText(lit)
		safe := naming.Sanitize(text)
		if prev, dup := seen[safe]; dup {
			return m.errorf(node, "enum %s: literals %q and %q both sanitize to %s", d.Name, prev, text, safe)
		}
		seen[safe] = text

		base := naming.Pascal(safe)
		if base == "" {
			base = "Empty"
		}
		if base[0] >= '0' && base[0] <= '9' {
			base = "V" + base
		}
		// Casing can merge distinct literals ("asc", "ASC").
		ident := base
		for i := 2; taken[ident]; i++ {
			ident = base + strconv.Itoa(i)
		}
		taken[ident] = true
		d.Variants = append(d.Variants, Variant{Ident: ident, Value: lit, Literal: text})
	}
	return nil
}

func literalText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

// mapAllOf merges the object members of an allOf into one struct. Nested
// allOf members are flattened; any other member kind, or a property
// declared by two members, is an error.
func (m *Mapper) mapAllOf(d *Descriptor, ref schema.NodeRef) error {
	var fields []schema.Field
	owner := map[string]string{}
	visiting := map[schema.NodeRef]bool{}
	var collect func(r schema.NodeRef) error
	collect = func(r schema.NodeRef) error {
		if visiting[r] {
			return m.errorf(m.graph.Arena.Node(ref), "allOf of %s includes itself", d.Name)
		}
		visiting[r] = true
		defer delete(visiting, r)
		n := m.graph.Arena.Node(r)
		switch {
		case n.Kind == schema.Object:
			for _, f := range n.Fields {
				if prev, dup := owner[f.Name]; dup {
					return m.errorf(m.graph.Arena.Node(ref), "allOf of %s: property %q declared by both %s and %s",
						d.Name, f.Name, prev, m.graph.Arena.DisplayName(r))
				}
				owner[f.Name] = m.graph.Arena.DisplayName(r)
				fields = append(fields, f)
			}
		case n.Kind == schema.Composite && n.Composite == schema.AllOf:
			for _, mem := range n.Members {
				if err := collect(mem); err != nil {
					return err
				}
			}
		default:
			return m.errorf(m.graph.Arena.Node(ref), "allOf of %s: member %s is a %s, not an object",
				d.Name, m.graph.Arena.DisplayName(r), n.Kind)
		}
		return nil
	}
	if err := collect(ref); err != nil {
		return err
	}
	return m.mapObject(d, fields)
}

func (m *Mapper) mapUnion(d *Descriptor, node *schema.Node) error {
	d.Discriminator = node.Discriminator
	seen := map[string]bool{}
	for _, mem := range node.Members {
		md, err := m.Map(mem)
		if err != nil {
			return err
		}
		ident := naming.Pascal(md.Name)
		if ident == "" {
			ident = "Variant"
		}
		base := ident
		for i := 2; seen[ident]; i++ {
			ident = base + strconv.Itoa(i)
		}
		seen[ident] = true
		d.Members = append(d.Members, Member{Ident: ident, Type: md})
	}
	return nil
}
