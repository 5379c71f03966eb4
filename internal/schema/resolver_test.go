package schema

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clafollett/mcpgen/internal/generr"
	"github.com/clafollett/mcpgen/internal/spec"
)

func parse(t *testing.T, src string) *spec.RawDocument {
	t.Helper()
	doc, err := spec.Parse([]byte(src), filepath.Join(t.TempDir(), "openapi.yaml"))
	require.NoError(t, err)
	return doc
}

func resolve(t *testing.T, src string) *Graph {
	t.Helper()
	g, err := Resolve(context.Background(), parse(t, src))
	require.NoError(t, err)
	return g
}

func requireNoPlaceholders(t *testing.T, g *Graph) {
	t.Helper()
	for i := 0; i < g.Arena.Len(); i++ {
		require.NotEqual(t, Reference, g.Arena.Node(NodeRef(i)).Kind, "node %d", i)
	}
}

func TestResolveSelfReferentialSchema(t *testing.T) {
	t.Parallel()

	g := resolve(t, `
openapi: 3.0.3
info: {title: t, version: "1"}
paths: {}
components:
  schemas:
    Node:
      type: object
      required: [value]
      properties:
        value: {type: integer, format: int64}
        next: {$ref: "#/components/schemas/Node"}
        children:
          type: array
          items: {$ref: "#/components/schemas/Node"}
`)
	ref := g.Components["Node"]
	node := g.Arena.Node(ref)
	require.Equal(t, Object, node.Kind)
	require.Len(t, node.Fields, 3)
	assert.Equal(t, "value", node.Fields[0].Name)
	assert.True(t, node.Fields[0].Required)
	assert.False(t, node.Fields[1].Required)
	assert.Equal(t, ref, node.Fields[1].Type)

	children := g.Arena.Node(node.Fields[2].Type)
	assert.Equal(t, Array, children.Kind)
	assert.Equal(t, ref, children.Elem)
	requireNoPlaceholders(t, g)
}

func TestResolveMutualRecursion(t *testing.T) {
	t.Parallel()

	g := resolve(t, `
openapi: 3.0.3
info: {title: t, version: "1"}
paths: {}
components:
  schemas:
    A:
      type: object
      properties:
        b: {$ref: "#/components/schemas/B"}
    B:
      type: object
      properties:
        a: {$ref: "#/components/schemas/A"}
`)
	a, b := g.Components["A"], g.Components["B"]
	assert.Equal(t, b, g.Arena.Node(a).Fields[0].Type)
	assert.Equal(t, a, g.Arena.Node(b).Fields[0].Type)
	assert.Equal(t, []string{"A", "B"}, g.ComponentOrder)
}

func TestResolveMissingRef(t *testing.T) {
	t.Parallel()

	_, err := Resolve(context.Background(), parse(t, `
openapi: 3.0.3
info: {title: t, version: "1"}
paths:
  /pets:
    get:
      responses:
        "200":
          description: ok
          content:
            application/json:
              schema: {$ref: "#/components/schemas/Missing"}
`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, generr.ErrRefResolution))
	var ge *generr.Error
	require.True(t, errors.As(err, &ge))
	assert.Contains(t, ge.Message, "#/components/schemas/Missing")
	assert.Equal(t, "#/paths/~1pets/get/responses/200/content/application~1json/schema", ge.Pointer)
}

func TestResolveAliasCycle(t *testing.T) {
	t.Parallel()

	_, err := Resolve(context.Background(), parse(t, `
openapi: 3.0.3
info: {title: t, version: "1"}
paths: {}
components:
  schemas:
    A: {$ref: "#/components/schemas/B"}
    B: {$ref: "#/components/schemas/A"}
`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, generr.ErrRefResolution))
	assert.Contains(t, err.Error(), "alias cycle")
}

func TestResolveAliasToObject(t *testing.T) {
	t.Parallel()

	g := resolve(t, `
openapi: 3.0.3
info: {title: t, version: "1"}
paths: {}
components:
  schemas:
    Pet: {$ref: "#/components/schemas/Animal"}
    Animal:
      type: object
      properties:
        owner: {$ref: "#/components/schemas/Pet"}
`)
	pet := g.Arena.Node(g.Components["Pet"])
	assert.Equal(t, Object, pet.Kind)
	assert.Equal(t, "Pet", pet.Name)
	assert.Equal(t, g.Components["Pet"], g.Arena.Node(g.Components["Animal"]).Fields[0].Type)
	requireNoPlaceholders(t, g)
}

func TestResolveDefinitionsRefAgainstComponents(t *testing.T) {
	t.Parallel()

	g := resolve(t, `
openapi: 3.0.3
info: {title: t, version: "1"}
paths: {}
components:
  schemas:
    Tag: {type: string}
    Wrapper:
      type: object
      properties:
        tag: {$ref: "#/definitions/Tag"}
`)
	assert.Equal(t, g.Components["Tag"], g.Arena.Node(g.Components["Wrapper"]).Fields[0].Type)
}

func TestResolveCompositesAndEnums(t *testing.T) {
	t.Parallel()

	g := resolve(t, `
openapi: 3.0.3
info: {title: t, version: "1"}
paths: {}
components:
  schemas:
    Base:
      type: object
      properties:
        id: {type: string}
    Dog:
      allOf:
        - $ref: "#/components/schemas/Base"
      properties:
        bark: {type: boolean}
    Shape:
      oneOf:
        - {$ref: "#/components/schemas/Base"}
        - {type: string}
      discriminator:
        propertyName: kind
        mapping:
          base: "#/components/schemas/Base"
    Status:
      type: string
      nullable: true
      enum: [active, in-progress, null]
    Labels:
      type: object
      additionalProperties: {type: string}
    Anything: {}
`)
	dog := g.Arena.Node(g.Components["Dog"])
	require.Equal(t, Composite, dog.Kind)
	assert.Equal(t, AllOf, dog.Composite)
	require.Len(t, dog.Members, 2)
	assert.Equal(t, g.Components["Base"], dog.Members[0])
	own := g.Arena.Node(dog.Members[1])
	assert.Equal(t, Object, own.Kind)
	assert.Equal(t, "DogOwn", own.Hint)

	shape := g.Arena.Node(g.Components["Shape"])
	assert.Equal(t, OneOf, shape.Composite)
	require.NotNil(t, shape.Discriminator)
	assert.Equal(t, "kind", shape.Discriminator.Property)
	assert.Equal(t, "Base", shape.Discriminator.Mapping["base"])

	status := g.Arena.Node(g.Components["Status"])
	assert.Equal(t, Enum, status.Kind)
	assert.True(t, status.Nullable)
	assert.Equal(t, []any{"active", "in-progress"}, status.Literals)

	labels := g.Arena.Node(g.Components["Labels"])
	assert.Equal(t, Map, labels.Kind)
	assert.Equal(t, Primitive, g.Arena.Node(labels.Elem).Kind)

	assert.Equal(t, Opaque, g.Arena.Node(g.Components["Anything"]).Kind)
}

func TestResolveOpenAPI31TypeList(t *testing.T) {
	t.Parallel()

	g := resolve(t, `
openapi: 3.1.0
info: {title: t, version: "1"}
paths: {}
components:
  schemas:
    Name: {type: [string, "null"]}
`)
	n := g.Arena.Node(g.Components["Name"])
	assert.Equal(t, Primitive, n.Kind)
	assert.Equal(t, "string", n.Type)
	assert.True(t, n.Nullable)
}

func TestResolveExternalRef(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "common.yaml"), []byte(`
Error:
  type: object
  properties:
    message: {type: string}
`), 0o600))
	src := `
openapi: 3.0.3
info: {title: t, version: "1"}
paths: {}
components:
  schemas:
    Problem: {$ref: "common.yaml#/Error"}
`
	doc, err := spec.Parse([]byte(src), filepath.Join(dir, "openapi.yaml"))
	require.NoError(t, err)
	g, err := Resolve(context.Background(), doc)
	require.NoError(t, err)
	problem := g.Arena.Node(g.Components["Problem"])
	assert.Equal(t, Object, problem.Kind)
	assert.Equal(t, "message", problem.Fields[0].Name)

	_, err = Resolve(context.Background(), doc, WithExternalLoader(nil))
	assert.True(t, errors.Is(err, generr.ErrRefResolution))
}
