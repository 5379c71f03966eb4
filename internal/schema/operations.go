package schema

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/clafollett/mcpgen/internal/generr"
	"github.com/clafollett/mcpgen/internal/naming"
	"github.com/clafollett/mcpgen/internal/spec"
)

// Methods lists the HTTP methods a path item may declare.
var Methods = []string{"get", "put", "post", "delete", "options", "head", "patch", "trace"}

func isMethod(key string) bool {
	for _, m := range Methods {
		if m == key {
			return true
		}
	}
	return false
}

// Operation is one resolved (path, method) pair.
type Operation struct {
	Method      string // lower case
	Path        string
	OperationID string
	Summary     string
	Description string
	Tags        []string
	Deprecated  bool
	Parameters  []Parameter
	RequestBody *RequestBody
	Responses   []Response
	Pointer     string
}

// Parameter is a merged path-item or operation parameter.
type Parameter struct {
	Name        string
	In          string // path, query, header or cookie
	Required    bool
	Deprecated  bool
	Description string
	Schema      NodeRef
	Example     any
}

type RequestBody struct {
	Required    bool
	Description string
	Content     []Media
}

// Media is one entry of a content map. Schema is NoRef when the media type
// declares no schema.
type Media struct {
	MediaType string
	Schema    NodeRef
}

type Response struct {
	Status      string
	Description string
	Content     []Media
}

const maxDerefDepth = 32

// deref follows $ref on a parameter, request body, response or path item
// until it reaches a concrete object.
func (r *resolver) deref(doc *spec.RawDocument, n *spec.RawNode, pointer string) (*spec.RawDocument, *spec.RawNode, string, error) {
	for i := 0; i < maxDerefDepth; i++ {
		ref, ok := n.Get("$ref").Str()
		if !ok {
			return doc, n, pointer, nil
		}
		target, fragment, err := r.targetDoc(doc, ref, pointer)
		if err != nil {
			return nil, nil, "", err
		}
		next, found := target.Root.Lookup(fragment)
		if !found {
			return nil, nil, "", generr.New(generr.RefResolution, "ref %q not found", ref).
				WithLocation(doc.Source).WithPointer(pointer)
		}
		doc, n, pointer = target, next, "#"+fragment
	}
	return nil, nil, "", generr.New(generr.RefResolution, "ref chain too deep").
		WithLocation(doc.Source).WithPointer(pointer)
}

func (r *resolver) resolveOperations() ([]Operation, error) {
	doc := r.root
	paths := doc.Root.Get("paths")
	if !paths.IsMap() {
		return nil, nil
	}
	var ops []Operation
	for _, path := range paths.Keys {
		itemPtr := "#/paths/" + spec.EscapePointerToken(path)
		itemDoc, item, _, err := r.deref(doc, paths.Get(path), itemPtr)
		if err != nil {
			return nil, err
		}
		shared, err := r.parameters(itemDoc, item.Get("parameters"), itemPtr+"/parameters", "")
		if err != nil {
			return nil, err
		}
		for _, method := range item.Keys {
			if !isMethod(method) {
				continue
			}
			if err := r.ctx.Err(); err != nil {
				return nil, err
			}
			op, err := r.operation(itemDoc, item.Get(method), path, method, itemPtr+"/"+method, shared)
			if err != nil {
				return nil, err
			}
			r.logger.Debug("operation resolved", zap.String("method", method), zap.String("path", path))
			ops = append(ops, op)
		}
	}
	return ops, nil
}

func (r *resolver) operation(doc *spec.RawDocument, n *spec.RawNode, path, method, pointer string, shared []Parameter) (Operation, error) {
	op := Operation{
		Method:      method,
		Path:        path,
		OperationID: n.Get("operationId").String(),
		Summary:     n.Get("summary").String(),
		Description: n.Get("description").String(),
		Tags:        n.Get("tags").Strings(),
		Deprecated:  n.Get("deprecated").Bool(),
		Pointer:     pointer,
	}
	hint := naming.Pascal(op.OperationID)
	if hint == "" {
		hint = naming.Pascal(method + " " + path)
	}

	own, err := r.parameters(doc, n.Get("parameters"), pointer+"/parameters", hint)
	if err != nil {
		return op, err
	}
	op.Parameters = mergeParameters(shared, own)

	if rb := n.Get("requestBody"); rb != nil {
		rbDoc, body, rbPtr, err := r.deref(doc, rb, pointer+"/requestBody")
		if err != nil {
			return op, err
		}
		content, err := r.content(rbDoc, body.Get("content"), rbPtr+"/content", hint+"Body")
		if err != nil {
			return op, err
		}
		op.RequestBody = &RequestBody{
			Required:    body.Get("required").Bool(),
			Description: body.Get("description").String(),
			Content:     content,
		}
	}

	if responses := n.Get("responses"); responses.IsMap() {
		for _, status := range responses.Keys {
			ptr := pointer + "/responses/" + spec.EscapePointerToken(status)
			respDoc, resp, respPtr, err := r.deref(doc, responses.Get(status), ptr)
			if err != nil {
				return op, err
			}
			content, err := r.content(respDoc, resp.Get("content"), respPtr+"/content", hint+"Response"+naming.Pascal(status))
			if err != nil {
				return op, err
			}
			op.Responses = append(op.Responses, Response{
				Status:      status,
				Description: resp.Get("description").String(),
				Content:     content,
			})
		}
	}
	return op, nil
}

// parameters resolves a parameter list. hint is empty for path-item level
// parameters, whose schemas are named after the parameter alone.
func (r *resolver) parameters(doc *spec.RawDocument, list *spec.RawNode, pointer, hint string) ([]Parameter, error) {
	if !list.IsSeq() {
		return nil, nil
	}
	out := make([]Parameter, 0, len(list.Items))
	for i, raw := range list.Items {
		pDoc, p, pPtr, err := r.deref(doc, raw, pointer+"/"+strconv.Itoa(i))
		if err != nil {
			return nil, err
		}
		param := Parameter{
			Name:        p.Get("name").String(),
			In:          strings.ToLower(p.Get("in").String()),
			Required:    p.Get("required").Bool(),
			Deprecated:  p.Get("deprecated").Bool(),
			Description: p.Get("description").String(),
			Schema:      NoRef,
		}
		if param.Name == "" || param.In == "" {
			return nil, generr.New(generr.SpecLoad, "parameter requires name and in").
				WithLocation(pDoc.Source).WithPointer(pPtr)
		}
		if param.In == "path" {
			param.Required = true
		}
		if p.Has("example") {
			param.Example = p.Get("example").Interface()
		}
		schemaHint := hint + naming.Pascal(param.Name)
		switch {
		case p.Get("schema").IsMap():
			param.Schema, err = r.schemaAt(pDoc, p.Get("schema"), pPtr+"/schema", schemaHint)
		case p.Get("content").IsMap():
			content, cerr := r.content(pDoc, p.Get("content"), pPtr+"/content", schemaHint)
			err = cerr
			if len(content) > 0 {
				param.Schema = content[0].Schema
			}
		}
		if err != nil {
			return nil, err
		}
		if param.Schema == NoRef {
			param.Schema = r.arena.Add(Node{Kind: Primitive, Type: "string", Elem: NoRef, Pointer: pPtr})
		}
		out = append(out, param)
	}
	return out, nil
}

func (r *resolver) content(doc *spec.RawDocument, content *spec.RawNode, pointer, hint string) ([]Media, error) {
	if !content.IsMap() {
		return nil, nil
	}
	out := make([]Media, 0, len(content.Keys))
	for _, mt := range content.Keys {
		m := Media{MediaType: mt, Schema: NoRef}
		if s := content.Get(mt).Get("schema"); s.IsMap() {
			ref, err := r.schemaAt(doc, s, pointer+"/"+spec.EscapePointerToken(mt)+"/schema", hint)
			if err != nil {
				return nil, err
			}
			m.Schema = ref
		}
		out = append(out, m)
	}
	return out, nil
}

// mergeParameters overlays operation parameters on path-item parameters.
// An operation parameter with the same location and name replaces the
// shared one in place; the rest are appended in declaration order.
func mergeParameters(shared, own []Parameter) []Parameter {
	out := make([]Parameter, len(shared), len(shared)+len(own))
	copy(out, shared)
	index := make(map[string]int, len(shared))
	for i, p := range shared {
		index[p.In+":"+p.Name] = i
	}
	for _, p := range own {
		if i, ok := index[p.In+":"+p.Name]; ok {
			out[i] = p
			continue
		}
		index[p.In+":"+p.Name] = len(out)
		out = append(out, p)
	}
	return out
}
