package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Shape is the expected JSON shape of a variable value.
type Shape string

const (
	ShapeString  Shape = "string"
	ShapeInteger Shape = "integer"
	ShapeNumber  Shape = "number"
	ShapeBoolean Shape = "boolean"
	ShapeArray   Shape = "array"
	ShapeObject  Shape = "object"
	ShapeAny     Shape = "any"
)

// Variable is one entry of a manifest's variable contract.
type Variable struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Required    bool           `yaml:"required"`
	Default     any            `yaml:"default"`
	Shape       Shape          `yaml:"shape"`
	Schema      map[string]any `yaml:"schema"`

	compiled *jsonschema.Schema
}

func (v *Variable) prepare() error {
	switch v.Shape {
	case "":
		v.Shape = ShapeString
	case ShapeString, ShapeInteger, ShapeNumber, ShapeBoolean, ShapeArray, ShapeObject, ShapeAny:
	default:
		return invalid("variable %q: unknown shape %q", v.Name, v.Shape)
	}
	if v.Schema != nil {
		sch, err := compileSchema(v.Name, v.Schema)
		if err != nil {
			return invalid("variable %q: invalid schema: %v", v.Name, err)
		}
		v.compiled = sch
	}
	if v.Default != nil {
		def, err := v.accept(v.Default)
		if err != nil {
			return invalid("variable %q: default: %v", v.Name, err)
		}
		v.Default = def
	}
	return nil
}

func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	url := "mem://variables/" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// accept coerces a string value by shape, checks the shape and validates
// against the variable's schema. It returns the JSON-normalized value.
func (v *Variable) accept(value any) (any, error) {
	if s, ok := value.(string); ok && v.Shape != ShapeString {
		coerced, err := coerce(s, v.Shape)
		if err != nil {
			return nil, err
		}
		value = coerced
	}
	norm, err := normalize(value)
	if err != nil {
		return nil, err
	}
	if !matchesShape(norm, v.Shape) {
		return nil, fmt.Errorf("expected %s, got %s", v.Shape, describe(norm))
	}
	if v.compiled != nil {
		if err := v.compiled.Validate(norm); err != nil {
			return nil, err
		}
	}
	return norm, nil
}

func coerce(s string, shape Shape) (any, error) {
	t := strings.TrimSpace(s)
	switch shape {
	case ShapeInteger:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected integer, got %q", s)
		}
		return n, nil
	case ShapeNumber:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, fmt.Errorf("expected number, got %q", s)
		}
		return f, nil
	case ShapeBoolean:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return nil, fmt.Errorf("expected boolean, got %q", s)
		}
		return b, nil
	case ShapeArray:
		if strings.HasPrefix(t, "[") {
			var out []any
			if err := json.Unmarshal([]byte(t), &out); err != nil {
				return nil, fmt.Errorf("expected JSON array: %w", err)
			}
			return out, nil
		}
		if t == "" {
			return []any{}, nil
		}
		parts := strings.Split(t, ",")
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = strings.TrimSpace(p)
		}
		return out, nil
	case ShapeObject:
		var out map[string]any
		if err := json.Unmarshal([]byte(t), &out); err != nil {
			return nil, fmt.Errorf("expected JSON object: %w", err)
		}
		return out, nil
	}
	return s, nil
}

// normalize round-trips value through encoding/json so that numbers are
// json.Number and containers are []any and map[string]any.
func normalize(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func matchesShape(v any, shape Shape) bool {
	switch shape {
	case ShapeAny:
		return true
	case ShapeString:
		_, ok := v.(string)
		return ok
	case ShapeInteger:
		n, ok := v.(json.Number)
		if !ok {
			return false
		}
		_, err := n.Int64()
		return err == nil
	case ShapeNumber:
		_, ok := v.(json.Number)
		return ok
	case ShapeBoolean:
		_, ok := v.(bool)
		return ok
	case ShapeArray:
		_, ok := v.([]any)
		return ok
	case ShapeObject:
		_, ok := v.(map[string]any)
		return ok
	}
	return false
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

// ResolveVariables merges supplied values with the manifest's defaults and
// checks them against the contract. Required variables must be present
// after defaults; optional variables without a value are nil. Supplied
// variables the manifest does not declare are passed through unchanged.
func (m *Manifest) ResolveVariables(supplied map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(supplied)+len(m.Variables))
	for k, v := range supplied {
		out[k] = v
	}
	var missing []string
	for _, v := range m.Variables {
		value, ok := supplied[v.Name]
		if !ok || value == nil {
			if v.Default == nil {
				if v.Required {
					missing = append(missing, v.Name)
				}
				out[v.Name] = nil
				continue
			}
			out[v.Name] = v.Default
			continue
		}
		accepted, err := v.accept(value)
		if err != nil {
			return nil, invalid("variable %q: %v", v.Name, err)
		}
		out[v.Name] = accepted
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, invalid("required variable(s) not supplied: %s", strings.Join(missing, ", "))
	}
	return out, nil
}
