package schema

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/clafollett/mcpgen/internal/generr"
	"github.com/clafollett/mcpgen/internal/naming"
	"github.com/clafollett/mcpgen/internal/spec"
)

// ExternalLoader loads the document named by the non-fragment part of an
// external $ref, relative to the document at base.
type ExternalLoader interface {
	LoadRef(ctx context.Context, base, ref string) (*spec.RawDocument, error)
}

// Graph is the result of resolving a document.
type Graph struct {
	Arena *Arena
	// Components maps component names to their nodes.
	Components map[string]NodeRef
	// ComponentOrder lists component names in declaration order.
	ComponentOrder []string
	Operations     []Operation
	Info           Info
}

// Info carries document metadata made available to templates.
type Info struct {
	Title       string
	Version     string
	Description string
	Servers     []Server
}

type Server struct {
	URL         string
	Description string
}

// Option configures Resolve.
type Option func(*resolver)

// WithExternalLoader sets the loader used for refs into other documents.
// A nil loader makes every external ref a resolution error.
func WithExternalLoader(l ExternalLoader) Option {
	return func(r *resolver) { r.external = l }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

type resolver struct {
	ctx      context.Context
	root     *spec.RawDocument
	arena    *Arena
	external ExternalLoader
	logger   *zap.Logger

	// byKey maps "source#pointer" to the node built for it.
	byKey map[string]NodeRef
	// chain holds the keys of the bare-$ref chain currently being followed.
	// It is replaced whenever a structural node is entered.
	chain map[string]bool
	// aliases records slots whose schema is a bare $ref, with their target.
	aliases    map[NodeRef]NodeRef
	aliasOrder []NodeRef
}

// Resolve builds the schema graph and operation list of doc. Components
// are resolved first, in declaration order, then operations in the order
// their paths and methods are declared.
func Resolve(ctx context.Context, doc *spec.RawDocument, opts ...Option) (*Graph, error) {
	r := &resolver{
		ctx:      ctx,
		root:     doc,
		arena:    &Arena{},
		external: spec.NewRefLoader(),
		logger:   zap.NewNop(),
		byKey:    map[string]NodeRef{},
		chain:    map[string]bool{},
		aliases:  map[NodeRef]NodeRef{},
	}
	for _, opt := range opts {
		opt(r)
	}

	g := &Graph{Arena: r.arena, Components: map[string]NodeRef{}, Info: readInfo(doc.Root)}

	for _, section := range []string{"/components/schemas", "/definitions"} {
		comps, _ := doc.Root.Lookup(section)
		if !comps.IsMap() {
			continue
		}
		for _, name := range comps.Keys {
			if _, dup := g.Components[name]; dup {
				continue
			}
			ref, err := r.resolvePointer(doc, section+"/"+spec.EscapePointerToken(name), section)
			if err != nil {
				return nil, err
			}
			g.Components[name] = ref
			g.ComponentOrder = append(g.ComponentOrder, name)
		}
	}
	r.logger.Debug("components resolved", zap.Int("count", len(g.ComponentOrder)))

	ops, err := r.resolveOperations()
	if err != nil {
		return nil, err
	}
	g.Operations = ops

	r.applyAliases()
	if err := r.check(); err != nil {
		return nil, err
	}
	r.logger.Info("schemas resolved",
		zap.Int("nodes", r.arena.Len()),
		zap.Int("components", len(g.ComponentOrder)),
		zap.Int("operations", len(ops)))
	return g, nil
}

func readInfo(root *spec.RawNode) Info {
	info := root.Get("info")
	out := Info{
		Title:       info.Get("title").String(),
		Version:     info.Get("version").String(),
		Description: info.Get("description").String(),
	}
	if servers := root.Get("servers"); servers.IsSeq() {
		for _, s := range servers.Items {
			out.Servers = append(out.Servers, Server{
				URL:         s.Get("url").String(),
				Description: s.Get("description").String(),
			})
		}
	}
	return out
}

// schemaAt resolves the schema n found at pointer in doc. A $ref is
// followed; anything else becomes a new inline node.
func (r *resolver) schemaAt(doc *spec.RawDocument, n *spec.RawNode, pointer, hint string) (NodeRef, error) {
	if ref, ok := n.Get("$ref").Str(); ok {
		return r.followRef(doc, ref, pointer)
	}
	slot := r.arena.reserve(pointer)
	if err := r.build(slot, doc, n, pointer, "", hint); err != nil {
		return NoRef, err
	}
	return slot, nil
}

// followRef resolves ref, encountered at pointer in doc, to a node.
func (r *resolver) followRef(doc *spec.RawDocument, ref, at string) (NodeRef, error) {
	target, fragment, err := r.targetDoc(doc, ref, at)
	if err != nil {
		return NoRef, err
	}
	return r.resolvePointer(target, fragment, at)
}

// targetDoc splits ref into its document and fragment parts and loads the
// document when the ref is external.
func (r *resolver) targetDoc(doc *spec.RawDocument, ref, at string) (*spec.RawDocument, string, error) {
	docPart, fragment, _ := strings.Cut(ref, "#")
	if docPart == "" {
		return doc, fragment, nil
	}
	if r.external == nil {
		return nil, "", generr.New(generr.RefResolution, "external ref %q is not allowed", ref).
			WithLocation(doc.Source).WithPointer(at)
	}
	ext, err := r.external.LoadRef(r.ctx, doc.Source, docPart)
	if err != nil {
		return nil, "", generr.Wrap(generr.RefResolution, err, "load external ref %q", ref).
			WithLocation(doc.Source).WithPointer(at)
	}
	return ext, fragment, nil
}

// resolvePointer returns the node for the schema at fragment in doc,
// building it on first use.
func (r *resolver) resolvePointer(doc *spec.RawDocument, fragment, at string) (NodeRef, error) {
	if fragment != "" && !strings.HasPrefix(fragment, "/") {
		return NoRef, generr.New(generr.RefResolution, "unsupported ref fragment %q", fragment).
			WithLocation(doc.Source).WithPointer(at)
	}
	key := doc.Source + "#" + fragment
	if ref, ok := r.byKey[key]; ok {
		if r.chain[key] {
			return NoRef, generr.New(generr.RefResolution, "alias cycle through %q", "#"+fragment).
				WithLocation(doc.Source).WithPointer(at)
		}
		return ref, nil
	}

	target, ok := doc.Root.Lookup(fragment)
	if !ok && strings.HasPrefix(fragment, "/definitions/") {
		fragment = "/components/schemas/" + strings.TrimPrefix(fragment, "/definitions/")
		target, ok = doc.Root.Lookup(fragment)
	}
	if !ok || target == nil {
		return NoRef, generr.New(generr.RefResolution, "ref %q not found", "#"+fragment).
			WithLocation(doc.Source).WithPointer(at)
	}
	if k := doc.Source + "#" + fragment; k != key {
		if ref, seen := r.byKey[k]; seen {
			r.byKey[key] = ref
			return ref, nil
		}
	}

	name := componentName(fragment)
	pointer := "#" + fragment
	slot := r.arena.reserve(pointer)
	r.arena.Node(slot).Name = name
	r.byKey[key] = slot
	r.byKey[doc.Source+"#"+fragment] = slot

	if ref, isRef := target.Get("$ref").Str(); isRef {
		r.chain[key] = true
		dest, err := r.followRef(doc, ref, pointer)
		delete(r.chain, key)
		if err != nil {
			return NoRef, err
		}
		r.aliases[slot] = dest
		r.aliasOrder = append(r.aliasOrder, slot)
		r.logger.Debug("alias recorded", zap.String("from", pointer), zap.String("to", r.arena.DisplayName(dest)))
		return slot, nil
	}

	hint := name
	if hint == "" {
		hint = naming.Pascal(lastToken(fragment))
	}
	if err := r.build(slot, doc, target, pointer, name, hint); err != nil {
		return NoRef, err
	}
	return slot, nil
}

func componentName(fragment string) string {
	for _, prefix := range []string{"/components/schemas/", "/definitions/"} {
		if rest, ok := strings.CutPrefix(fragment, prefix); ok && !strings.Contains(rest, "/") {
			return strings.ReplaceAll(strings.ReplaceAll(rest, "~1", "/"), "~0", "~")
		}
	}
	return ""
}

func lastToken(fragment string) string {
	if i := strings.LastIndex(fragment, "/"); i >= 0 {
		return fragment[i+1:]
	}
	return fragment
}

// build fills the reserved slot from the schema object n.
func (r *resolver) build(slot NodeRef, doc *spec.RawDocument, n *spec.RawNode, pointer, name, hint string) error {
	saved := r.chain
	r.chain = map[string]bool{}
	defer func() { r.chain = saved }()

	node := Node{
		Kind:        Opaque,
		Elem:        NoRef,
		Description: n.Get("description").String(),
		Nullable:    n.Get("nullable").Bool(),
		Name:        name,
		Hint:        hint,
		Pointer:     pointer,
	}
	if n.Has("example") {
		node.Example = n.Get("example").Interface()
	}
	if n.Has("default") {
		node.Default = n.Get("default").Interface()
	}

	typ, nullable := schemaType(n)
	node.Nullable = node.Nullable || nullable

	switch {
	case n.Get("enum").IsSeq():
		node.Kind = Enum
		for _, lit := range n.Get("enum").Items {
			if lit.Kind == spec.NullNode {
				node.Nullable = true
				continue
			}
			node.Literals = append(node.Literals, lit.Interface())
		}
		node.Type = typ
		if node.Type == "" && len(node.Literals) > 0 {
			node.Type = literalType(node.Literals[0])
		}
		if node.Type == "" {
			node.Type = "string"
		}

	case n.Get("allOf").IsSeq() || n.Get("oneOf").IsSeq() || n.Get("anyOf").IsSeq():
		if err := r.buildComposite(&node, doc, n, pointer, hint); err != nil {
			return err
		}

	case typ == "array" || (typ == "" && n.Has("items")):
		node.Kind = Array
		items := n.Get("items")
		if items.IsMap() {
			elem, err := r.schemaAt(doc, items, pointer+"/items", hint+"Item")
			if err != nil {
				return err
			}
			node.Elem = elem
		} else {
			node.Elem = r.arena.Add(Node{Kind: Opaque, Elem: NoRef, Pointer: pointer + "/items"})
		}

	case typ == "object" || (typ == "" && (n.Has("properties") || n.Has("additionalProperties"))):
		if err := r.buildObject(&node, doc, n, pointer, hint); err != nil {
			return err
		}

	case typ == "string" || typ == "integer" || typ == "number" || typ == "boolean":
		node.Kind = Primitive
		node.Type = typ
		node.Format = n.Get("format").String()
	}

	*r.arena.Node(slot) = node
	return nil
}

// schemaType reads "type", which may be a string or (OpenAPI 3.1) a list
// that includes "null". A list naming several non-null types yields "".
func schemaType(n *spec.RawNode) (string, bool) {
	t := n.Get("type")
	if s, ok := t.Str(); ok {
		return s, s == "null"
	}
	var types []string
	nullable := false
	for _, s := range t.Strings() {
		if s == "null" {
			nullable = true
			continue
		}
		types = append(types, s)
	}
	if len(types) == 1 {
		return types[0], nullable
	}
	return "", nullable
}

func literalType(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case int64:
		return "integer"
	case float64:
		return "number"
	default:
		return ""
	}
}

func (r *resolver) buildObject(node *Node, doc *spec.RawDocument, n *spec.RawNode, pointer, hint string) error {
	props := n.Get("properties")
	if props.IsMap() && len(props.Keys) > 0 {
		node.Kind = Object
		required := map[string]bool{}
		for _, s := range n.Get("required").Strings() {
			required[s] = true
		}
		for _, key := range props.Keys {
			ptr := pointer + "/properties/" + spec.EscapePointerToken(key)
			ref, err := r.schemaAt(doc, props.Get(key), ptr, hint+naming.Pascal(key))
			if err != nil {
				return err
			}
			node.Fields = append(node.Fields, Field{
				Name:        key,
				Type:        ref,
				Required:    required[key],
				Description: props.Get(key).Get("description").String(),
			})
		}
		return nil
	}
	if ap := n.Get("additionalProperties"); ap.IsMap() {
		node.Kind = Map
		elem, err := r.schemaAt(doc, ap, pointer+"/additionalProperties", hint+"Value")
		if err != nil {
			return err
		}
		node.Elem = elem
		return nil
	}
	// A free-form object.
	node.Kind = Opaque
	return nil
}

func (r *resolver) buildComposite(node *Node, doc *spec.RawDocument, n *spec.RawNode, pointer, hint string) error {
	node.Kind = Composite
	var key string
	switch {
	case n.Get("allOf").IsSeq():
		key, node.Composite = "allOf", AllOf
	case n.Get("oneOf").IsSeq():
		key, node.Composite = "oneOf", OneOf
	default:
		key, node.Composite = "anyOf", AnyOf
	}
	for i, m := range n.Get(key).Items {
		ptr := pointer + "/" + key + "/" + strconv.Itoa(i)
		ref, err := r.schemaAt(doc, m, ptr, hint+"Part"+strconv.Itoa(i+1))
		if err != nil {
			return err
		}
		node.Members = append(node.Members, ref)
	}

	// Properties declared next to allOf form one more object member.
	if node.Composite == AllOf && n.Get("properties").IsMap() {
		own := r.arena.reserve(pointer)
		var obj Node
		obj.Elem = NoRef
		if err := r.buildObject(&obj, doc, n, pointer, hint); err != nil {
			return err
		}
		obj.Pointer = pointer
		obj.Hint = hint + "Own"
		*r.arena.Node(own) = obj
		node.Members = append(node.Members, own)
	}

	if d := n.Get("discriminator"); d.IsMap() {
		disc := &Discriminator{Property: d.Get("propertyName").String(), Mapping: map[string]string{}}
		if m := d.Get("mapping"); m.IsMap() {
			for _, k := range m.Keys {
				target := m.Get(k).String()
				if _, frag, ok := strings.Cut(target, "#"); ok {
					if name := componentName(frag); name != "" {
						target = name
					}
				}
				disc.Keys = append(disc.Keys, k)
				disc.Mapping[k] = target
			}
		}
		node.Discriminator = disc
	}
	return nil
}

// applyAliases turns every bare-$ref slot into a copy of its final target,
// keeping the slot's own name and pointer.
func (r *resolver) applyAliases() {
	for _, slot := range r.aliasOrder {
		dest := r.aliases[slot]
		for {
			next, ok := r.aliases[dest]
			if !ok {
				break
			}
			dest = next
		}
		own := *r.arena.Node(slot)
		copied := *r.arena.Node(dest)
		copied.Name = own.Name
		copied.Pointer = own.Pointer
		if copied.Name == "" {
			copied.Hint = naming.Pascal(lastToken(strings.TrimPrefix(own.Pointer, "#")))
		}
		*r.arena.Node(slot) = copied
	}
}

// check verifies that no placeholder survived resolution.
func (r *resolver) check() error {
	for i := 0; i < r.arena.Len(); i++ {
		if n := r.arena.Node(NodeRef(i)); n.Kind == Reference {
			return generr.New(generr.RefResolution, "schema left unresolved").
				WithLocation(r.root.Source).WithPointer(n.Pointer)
		}
	}
	return nil
}
