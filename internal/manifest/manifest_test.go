package manifest

import (
	"encoding/json"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clafollett/mcpgen/internal/generr"
)

const sampleManifest = `
name: demo
description: demo set
engine: {name: text/template, version: "1"}
language: go
variables:
  - name: project_name
    required: true
    schema: {type: string, pattern: "^[a-z][a-z0-9_]*$"}
  - name: port
    shape: integer
    default: 8080
  - name: features
    shape: array
files:
  - template: main.go.tmpl
    destination: "{project_name}/main.go"
    postprocess: goimports
  - template: handler.tmpl
    destination: "handlers/{fn_name}.go"
    for_each: endpoint
directories: [docs]
hooks:
  pre: ["true"]
  post: [[echo, done]]
`

func TestParse(t *testing.T) {
	t.Parallel()

	m, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)
	assert.Equal(t, "demo", m.Name)
	assert.Equal(t, "demo (text/template 1)", m.String())
	require.Len(t, m.Variables, 3)
	assert.Equal(t, ShapeString, m.Variables[0].Shape)
	assert.Equal(t, json.Number("8080"), m.Variables[1].Default)
	require.Len(t, m.Files, 2)
	assert.Equal(t, ForEachEndpoint, m.Files[1].ForEach)
	assert.Equal(t, []string{"echo", "done"}, m.Hooks.Post[0].Argv)

	v, ok := m.Variable("port")
	require.True(t, ok)
	assert.Equal(t, ShapeInteger, v.Shape)
	_, ok = m.Variable("nope")
	assert.False(t, ok)
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty":          ``,
		"unknown field":  "name: x\nbogus: 1\n",
		"no name":        "files: []\n",
		"bad var name":   "name: x\nvariables: [{name: 1abc}]\n",
		"duplicate var":  "name: x\nvariables: [{name: a}, {name: a}]\n",
		"bad shape":      "name: x\nvariables: [{name: a, shape: tuple}]\n",
		"bad schema":     "name: x\nvariables: [{name: a, schema: {type: 12}}]\n",
		"bad default":    "name: x\nvariables: [{name: a, shape: integer, default: abc}]\n",
		"schema default": "name: x\nvariables: [{name: a, default: B, schema: {enum: [a]}}]\n",
		"no template":    "name: x\nfiles: [{destination: a}]\n",
		"bad for_each":   "name: x\nfiles: [{template: a, destination: b, for_each: tag}]\n",
		"bad postproc":   "name: x\nfiles: [{template: a, destination: b, postprocess: black}]\n",
		"empty dir":      "name: x\ndirectories: ['']\n",
	}
	for name, src := range cases {
		src := src
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(src))
			require.Error(t, err)
			assert.True(t, errors.Is(err, generr.ErrManifestValidation), "got %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	m, err := Load(fstest.MapFS{FileName: {Data: []byte(sampleManifest)}})
	require.NoError(t, err)
	assert.Equal(t, "demo", m.Name)

	_, err = Load(fstest.MapFS{})
	require.ErrorIs(t, err, generr.ErrManifestValidation)
}

func TestResolveVariables(t *testing.T) {
	t.Parallel()

	m, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)

	vars, err := m.ResolveVariables(map[string]any{
		"project_name": "pets",
		"features":     "auth, cache",
		"extra":        "kept",
	})
	require.NoError(t, err)
	assert.Equal(t, "pets", vars["project_name"])
	assert.Equal(t, json.Number("8080"), vars["port"])
	assert.Equal(t, []any{"auth", "cache"}, vars["features"])
	assert.Equal(t, "kept", vars["extra"])

	vars, err = m.ResolveVariables(map[string]any{"project_name": "pets", "port": "9090"})
	require.NoError(t, err)
	assert.Equal(t, json.Number("9090"), vars["port"])
	assert.Nil(t, vars["features"])
	assert.Contains(t, vars, "features")

	_, err = m.ResolveVariables(map[string]any{})
	require.ErrorIs(t, err, generr.ErrManifestValidation)
	assert.Contains(t, err.Error(), "project_name")

	_, err = m.ResolveVariables(map[string]any{"project_name": "Bad-Name"})
	require.ErrorIs(t, err, generr.ErrManifestValidation)

	_, err = m.ResolveVariables(map[string]any{"project_name": "pets", "port": "eighty"})
	require.ErrorIs(t, err, generr.ErrManifestValidation)

	_, err = m.ResolveVariables(map[string]any{"project_name": "pets", "port": 1.5})
	require.ErrorIs(t, err, generr.ErrManifestValidation)
}

func TestCoerce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in    string
		shape Shape
		want  any
		err   bool
	}{
		{"42", ShapeInteger, int64(42), false},
		{"4.5", ShapeNumber, 4.5, false},
		{"true", ShapeBoolean, true, false},
		{"maybe", ShapeBoolean, nil, true},
		{`["a",1]`, ShapeArray, []any{"a", float64(1)}, false},
		{"", ShapeArray, []any{}, false},
		{`{"a":1}`, ShapeObject, map[string]any{"a": float64(1)}, false},
		{"a=1", ShapeObject, nil, true},
		{"x", ShapeAny, "x", false},
	}
	for _, tt := range tests {
		got, err := coerce(tt.in, tt.shape)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
