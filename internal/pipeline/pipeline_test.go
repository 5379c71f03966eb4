package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clafollett/mcpgen/internal/endpoint"
	"github.com/clafollett/mcpgen/internal/generr"
	"github.com/clafollett/mcpgen/internal/manifest"
	"github.com/clafollett/mcpgen/internal/templates"
)

const petstore = "testdata/petstore.yaml"

func listFiles(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, _ := filepath.Rel(root, p)
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(out)
	return out
}

func digestDir(t *testing.T, root string) string {
	t.Helper()
	h := sha256.New()
	for _, rel := range listFiles(t, root) {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		require.NoError(t, err)
		h.Write([]byte(rel))
		h.Write([]byte{0})
		h.Write(data)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func goServer(out string) Options {
	return Options{
		Input:     petstore,
		Template:  "go_server",
		OutputDir: out,
		Variables: map[string]any{"project_name": "petstore"},
		SkipHooks: true,
	}
}

func TestGenerateGoServer(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "petstore")
	res, err := Generate(context.Background(), goServer(out))
	require.NoError(t, err)
	assert.Equal(t, "go_server", res.Set)
	assert.Equal(t, 5, res.Endpoints)

	want := []string{
		"README.md",
		"client.go",
		"go.mod",
		"main.go",
		"models.go",
		"tool_delete_pets_id.go",
		"tool_get_owners.go",
		"tool_get_pets.go",
		"tool_get_pets_id.go",
		"tool_post_pets.go",
		"tools.go",
	}
	if diff := cmp.Diff(want, listFiles(t, out)); diff != "" {
		t.Fatalf("generated files mismatch (-want +got):\n%s", diff)
	}

	fset := token.NewFileSet()
	for _, rel := range want {
		if !strings.HasSuffix(rel, ".go") {
			continue
		}
		_, err := parser.ParseFile(fset, filepath.Join(out, rel), nil, parser.AllErrors)
		assert.NoError(t, err, rel)
	}

	gomod, err := os.ReadFile(filepath.Join(out, "go.mod"))
	require.NoError(t, err)
	assert.Equal(t, "module petstore\n\ngo 1.22.0\n", string(gomod))

	main, err := os.ReadFile(filepath.Join(out, "main.go"))
	require.NoError(t, err)
	assert.Contains(t, string(main), `"https://petstore.example.com/v1"`)
	assert.Regexp(t, `flag\.Int\("port", 0,`, string(main))
	assert.Regexp(t, `flag\.String\("log-file", "",`, string(main))

	models, err := os.ReadFile(filepath.Join(out, "models.go"))
	require.NoError(t, err)
	for _, re := range []string{
		`type Pet struct`,
		`Parent\s+\*Pet\s`,
		`type Status string`,
		`StatusAvailable\s+Status = "available"`,
		`type Toy struct`,
		`Ball\s+\*Ball`,
		`"time"`,
	} {
		assert.Regexp(t, re, string(models))
	}

	tools, err := os.ReadFile(filepath.Join(out, "tools.go"))
	require.NoError(t, err)
	assert.Contains(t, string(tools), "call: callGetPetsId")
	assert.Contains(t, string(tools), `"post_pets"`)

	del, err := os.ReadFile(filepath.Join(out, "tool_delete_pets_id.go"))
	require.NoError(t, err)
	assert.Contains(t, string(del), "// Deprecated:")
	assert.Contains(t, string(del), `http.Cookie{Name: "session"`)
}

func TestGenerateGoServerVariables(t *testing.T) {
	t.Parallel()

	opts := goServer(filepath.Join(t.TempDir(), "petstore"))
	opts.Variables["port"] = "9090"
	opts.Variables["log_file"] = "requests.log"
	_, err := Generate(context.Background(), opts)
	require.NoError(t, err)

	main, err := os.ReadFile(filepath.Join(opts.OutputDir, "main.go"))
	require.NoError(t, err)
	assert.Regexp(t, `flag\.Int\("port", 9090,`, string(main))
	assert.Regexp(t, `flag\.String\("log-file", "requests\.log",`, string(main))

	opts = goServer(filepath.Join(t.TempDir(), "petstore"))
	opts.Variables["port"] = "70000"
	_, err = Generate(context.Background(), opts)
	require.ErrorIs(t, err, generr.ErrManifestValidation)
}

func TestGenerateGoClient(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "petstore-cli")
	opts := goServer(out)
	opts.Template = "go_client"
	opts.Variables["server_command"] = "./petstore"
	res, err := Generate(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, "go_client", res.Set)

	want := []string{
		"README.md",
		"docs/owners/get_owners.md",
		"docs/pets/delete_pets_id.md",
		"docs/pets/get_pets.md",
		"docs/pets/get_pets_id.md",
		"docs/pets/post_pets.md",
		"go.mod",
		"main.go",
		"session.go",
		"tools.go",
	}
	if diff := cmp.Diff(want, listFiles(t, out)); diff != "" {
		t.Fatalf("generated files mismatch (-want +got):\n%s", diff)
	}
	fset := token.NewFileSet()
	for _, rel := range want {
		if strings.HasSuffix(rel, ".go") {
			_, err := parser.ParseFile(fset, filepath.Join(out, rel), nil, parser.AllErrors)
			assert.NoError(t, err, rel)
		}
	}

	main, err := os.ReadFile(filepath.Join(out, "main.go"))
	require.NoError(t, err)
	assert.Contains(t, string(main), `"./petstore"`)

	tools, err := os.ReadFile(filepath.Join(out, "tools.go"))
	require.NoError(t, err)
	assert.Regexp(t, `name:\s+"delete_pets_id".*deprecated:\s+true`, string(tools))

	doc, err := os.ReadFile(filepath.Join(out, "docs", "pets", "get_pets_id.md"))
	require.NoError(t, err)
	assert.Contains(t, string(doc), "`GET /pets/{id}`")
	assert.Contains(t, string(doc), "| `id` | path |")
}

func TestGenerateIsDeterministic(t *testing.T) {
	t.Parallel()

	a := filepath.Join(t.TempDir(), "a")
	b := filepath.Join(t.TempDir(), "b")
	_, err := Generate(context.Background(), goServer(a))
	require.NoError(t, err)
	_, err = Generate(context.Background(), goServer(b))
	require.NoError(t, err)
	assert.Equal(t, digestDir(t, a), digestDir(t, b))

	// A forced rerun into the same directory reproduces the same bytes.
	before := digestDir(t, a)
	opts := goServer(a)
	opts.Force = true
	_, err = Generate(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, before, digestDir(t, a))
}

func TestGenerateRustModels(t *testing.T) {
	t.Parallel()

	out := t.TempDir()
	opts := goServer(out)
	opts.Template = "rust_models"
	opts.Filter = endpoint.Filter{IncludeTags: []string{"pets"}}
	opts.Naming = endpoint.NamingOperationID
	res, err := Generate(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Endpoints)

	files := listFiles(t, out)
	assert.Contains(t, files, "src/operations/list_pets.rs")
	assert.Contains(t, files, "src/operations/show_pet_by_id.rs")
	assert.Contains(t, files, "src/operations/delete_pets_id.rs")

	models, err := os.ReadFile(filepath.Join(out, "src", "models.rs"))
	require.NoError(t, err)
	assert.Contains(t, string(models), "pub parent: Option<Box<Pet>>,")
	assert.Contains(t, string(models), "#[serde(untagged)]")
}

func TestGenerateDryRun(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "out")
	opts := goServer(out)
	opts.DryRun = true
	res, err := Generate(context.Background(), opts)
	require.NoError(t, err)
	assert.Len(t, res.Plan.Files, 11)
	assert.Empty(t, res.Written)
	_, err = os.Stat(out)
	assert.True(t, os.IsNotExist(err))
}

func TestGenerateMissingVariableWritesNothing(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "out")
	opts := goServer(out)
	opts.Variables = nil
	_, err := Generate(context.Background(), opts)
	require.ErrorIs(t, err, generr.ErrManifestValidation)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestGenerateSpecErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.yaml")
	_, err := Generate(context.Background(), Options{Input: missing, OutputDir: filepath.Join(dir, "out")})
	require.ErrorIs(t, err, generr.ErrSpecLoad)

	dangling := filepath.Join(dir, "dangling.yaml")
	require.NoError(t, os.WriteFile(dangling, []byte(`openapi: 3.0.0
info: {title: t, version: "1"}
paths: {}
components:
  schemas:
    A: {$ref: "#/components/schemas/Nope"}
`), 0o644))
	_, err = Generate(context.Background(), Options{Input: dangling, OutputDir: filepath.Join(dir, "out"), Variables: map[string]any{"project_name": "x"}})
	require.ErrorIs(t, err, generr.ErrRefResolution)
}

func hookSet(t *testing.T, pre, post string) *templates.Set {
	t.Helper()
	m, err := manifest.Parse([]byte("name: hooked\nfiles: [{template: a.tmpl, destination: a.txt}]\nhooks:\n  pre: [" + pre + "]\n  post: [" + post + "]\n"))
	require.NoError(t, err)
	return &templates.Set{Name: "hooked", FS: fstest.MapFS{"a.tmpl": {Data: []byte("{{ .Spec.Title }}")}}, Manifest: m}
}

func TestGenerateHooks(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("hooks use a POSIX shell")
	}

	out := t.TempDir()
	res, err := Generate(context.Background(), Options{
		Input:     petstore,
		Set:       hookSet(t, `"sh -c 'echo pre > pre.txt'"`, `"sh -c 'exit 3'", "sh -c 'echo post > post.txt'"`),
		OutputDir: out,
	})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, listFiles(t, out), "pre.txt")
	assert.Contains(t, listFiles(t, out), "post.txt")
	data, err := os.ReadFile(filepath.Join(out, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Petstore", string(data))

	out = t.TempDir()
	_, err = Generate(context.Background(), Options{
		Input:     petstore,
		Set:       hookSet(t, `"sh -c 'echo boom; exit 1'"`, ""),
		OutputDir: out,
	})
	require.ErrorIs(t, err, generr.ErrHook)
	assert.NotContains(t, listFiles(t, out), "a.txt")

	// A directory created by the failed run is removed again.
	out = filepath.Join(t.TempDir(), "fresh")
	_, err = Generate(context.Background(), Options{
		Input:     petstore,
		Set:       hookSet(t, `"sh -c 'exit 1'"`, ""),
		OutputDir: out,
	})
	require.ErrorIs(t, err, generr.ErrHook)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestGenerateAll(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	runs := []Options{goServer(filepath.Join(root, "a")), goServer(filepath.Join(root, "b"))}
	results, err := GenerateAll(context.Background(), runs)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, digestDir(t, results[0].OutputDir), digestDir(t, results[1].OutputDir))

	runs = []Options{goServer(filepath.Join(root, "c")), goServer(filepath.Join(root, "c", "."))}
	_, err = GenerateAll(context.Background(), runs)
	require.ErrorIs(t, err, generr.ErrManifestValidation)
	_, statErr := os.Stat(filepath.Join(root, "c"))
	assert.True(t, os.IsNotExist(statErr))

	bad := goServer(filepath.Join(root, "e"))
	bad.Variables = nil
	_, err = GenerateAll(context.Background(), []Options{goServer(filepath.Join(root, "d")), bad})
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, 1, runErr.Index)
	assert.Equal(t, "go_server", runErr.Template)
	require.ErrorIs(t, err, generr.ErrManifestValidation)
}
