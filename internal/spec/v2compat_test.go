package spec

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func v2Tree(t *testing.T, src string) map[string]any {
	t.Helper()
	root, err := parseTree([]byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return root.Interface().(map[string]any)
}

func opOf(doc map[string]any, path, method string) map[string]any {
	return doc["paths"].(map[string]any)[path].(map[string]any)[method].(map[string]any)
}

func TestV2Compat_MultipleBodyMerged(t *testing.T) {
	t.Parallel()
	doc := v2Tree(t, `swagger: "2.0"
info: { title: t, version: "1.0.0" }
paths:
  /x:
    post:
      parameters:
      - in: body
        name: a
        required: true
        schema: { type: string }
      - in: query
        name: q
        type: string
      - in: body
        name: b
        schema: { type: integer }
      responses: { '200': { description: ok } }
`)
	normalizeV2(doc)
	params := opOf(doc, "/x", "post")["parameters"].([]any)
	if len(params) != 2 {
		t.Fatalf("expected merged body plus query param, got %d params", len(params))
	}
	body := params[0].(map[string]any)
	if body["in"] != "body" || body["name"] != "body" {
		t.Fatalf("expected merged body first, got %v", body)
	}
	schema := body["schema"].(map[string]any)
	props := schema["properties"].(map[string]any)
	if _, ok := props["a"]; !ok {
		t.Fatalf("expected property a, got %v", props)
	}
	if req := schema["required"].([]any); len(req) != 1 || req[0] != "a" {
		t.Fatalf("expected required [a], got %v", req)
	}
}

func TestV2Compat_BodyAndFormData_ToFormData(t *testing.T) {
	t.Parallel()
	doc := v2Tree(t, `swagger: "2.0"
info: { title: t, version: "1.0.0" }
paths:
  /upload:
    post:
      parameters:
      - in: body
        name: desc
        schema: { type: string }
      - in: formData
        name: file
        type: file
        required: true
      responses: { '200': { description: ok } }
`)
	normalizeV2(doc)
	op := opOf(doc, "/upload", "post")
	for _, p := range op["parameters"].([]any) {
		if p.(map[string]any)["in"] == "body" {
			t.Fatalf("expected no body params after conversion, got %v", p)
		}
	}
	if !containsString(op["consumes"].([]any), "multipart/form-data") {
		t.Fatalf("expected consumes multipart/form-data, got %v", op["consumes"])
	}
}

func TestV2Compat_SingleBodyUntouched(t *testing.T) {
	t.Parallel()
	const src = `swagger: "2.0"
paths:
  /x:
    put:
      parameters:
      - in: body
        name: a
        schema: { type: string }
`
	doc := v2Tree(t, src)
	normalizeV2(doc)
	if diff := cmp.Diff(v2Tree(t, src), doc); diff != "" {
		t.Fatalf("expected no changes (-want +got):\n%s", diff)
	}
}
