package spec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi2"
	"github.com/getkin/kin-openapi/openapi2conv"
)

var v2Methods = []string{"get", "put", "post", "delete", "options", "head", "patch"}

// convertV2 converts a Swagger 2.0 tree into an OpenAPI 3 tree using
// kin-openapi. The tree goes through JSON, so mapping keys of the result
// are in lexical order rather than declaration order.
func convertV2(root *RawNode) (*RawNode, error) {
	tree, ok := root.Interface().(map[string]any)
	if !ok {
		return nil, fmt.Errorf("document root must be a mapping")
	}
	normalizeV2(tree)

	data, err := json.Marshal(tree)
	if err != nil {
		return nil, err
	}
	var v2 openapi2.T
	if err := json.Unmarshal(data, &v2); err != nil {
		return nil, err
	}
	v3, err := openapi2conv.ToV3(&v2)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(v3)
	if err != nil {
		return nil, err
	}
	return parseTree(out)
}

// normalizeV2 rewrites operations kin-openapi cannot convert:
//   - several body parameters are merged into one object-typed body;
//   - body parameters mixed with formData become formData parameters and
//     the operation consumes multipart/form-data.
func normalizeV2(doc map[string]any) {
	paths, _ := doc["paths"].(map[string]any)
	for _, item := range paths {
		pi, _ := item.(map[string]any)
		for _, m := range v2Methods {
			op, _ := pi[m].(map[string]any)
			if op == nil {
				continue
			}
			params, _ := op["parameters"].([]any)
			bodies, form := countV2Params(params)
			switch {
			case bodies > 0 && form:
				bodyToFormData(op, params)
			case bodies > 1:
				mergeBodyParams(op, params)
			}
		}
	}
}

func countV2Params(params []any) (bodies int, form bool) {
	for _, p := range params {
		pm, _ := p.(map[string]any)
		switch strings.ToLower(asString(pm["in"])) {
		case "body":
			bodies++
		case "formdata":
			form = true
		}
	}
	return bodies, form
}

func mergeBodyParams(op map[string]any, params []any) {
	props := map[string]any{}
	var required []any
	rest := make([]any, 0, len(params))
	for _, p := range params {
		pm, _ := p.(map[string]any)
		if !strings.EqualFold(asString(pm["in"]), "body") {
			rest = append(rest, p)
			continue
		}
		name := asString(pm["name"])
		if name == "" {
			name = "field"
		}
		schema := schemaOfParam(pm)
		if schema == nil {
			schema = map[string]any{"type": "string"}
		}
		props[name] = schema
		if req, _ := pm["required"].(bool); req {
			required = append(required, name)
		}
	}
	body := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		body["required"] = required
	}
	merged := map[string]any{"in": "body", "name": "body", "schema": body}
	op["parameters"] = append([]any{merged}, rest...)
}

func bodyToFormData(op map[string]any, params []any) {
	out := make([]any, 0, len(params))
	for _, p := range params {
		pm, _ := p.(map[string]any)
		if strings.EqualFold(asString(pm["in"]), "body") {
			out = append(out, formParamFromBody(pm))
			continue
		}
		out = append(out, p)
	}
	op["parameters"] = out
	consumes, _ := op["consumes"].([]any)
	if !containsString(consumes, "multipart/form-data") {
		op["consumes"] = append(consumes, "multipart/form-data")
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func containsString(list []any, want string) bool {
	for _, v := range list {
		if s, ok := v.(string); ok && s == want {
			return true
		}
	}
	return false
}

// schemaOfParam returns the body schema of a parameter, synthesizing one from
// type/items/format for non-body parameters.
func schemaOfParam(pm map[string]any) map[string]any {
	if sch, ok := pm["schema"].(map[string]any); ok {
		return sch
	}
	t := asString(pm["type"])
	if t == "" {
		return nil
	}
	m := map[string]any{"type": t}
	if it, ok := pm["items"].(map[string]any); ok {
		m["items"] = it
	}
	if f := asString(pm["format"]); f != "" {
		m["format"] = f
	}
	return m
}

func formParamFromBody(pm map[string]any) map[string]any {
	name := asString(pm["name"])
	if name == "" {
		name = "field"
	}
	out := map[string]any{"in": "formData", "name": name}
	if d := asString(pm["description"]); d != "" {
		out["description"] = d
	}
	if req, ok := pm["required"].(bool); ok {
		out["required"] = req
	}
	// formData cannot carry a referenced object; it degrades to string.
	typ, format := "string", ""
	var items any
	if sch := schemaOfParam(pm); sch != nil {
		if t := asString(sch["type"]); t != "" {
			typ = t
		}
		format = asString(sch["format"])
		items = sch["items"]
	}
	out["type"] = typ
	if items != nil {
		out["items"] = items
	}
	if format != "" {
		out["format"] = format
	}
	return out
}
