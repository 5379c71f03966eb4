package cli

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clafollett/mcpgen/internal/generr"
)

const minimalSpecYAML = "" +
	"openapi: 3.0.0\n" +
	"info:\n" +
	"  title: Test API\n" +
	"  version: '1.0.0'\n" +
	"paths:\n" +
	"  /hello:\n" +
	"    get:\n" +
	"      summary: Hello\n" +
	"      responses:\n" +
	"        '200':\n" +
	"          description: ok\n"

func writeSpec(t *testing.T, dir, content string) string {
	t.Helper()
	specPath := filepath.Join(dir, "spec.yaml")
	if err := os.WriteFile(specPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write spec: %v", err)
	}
	return specPath
}

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestGeneratePipeline_DryRun(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	specPath := writeSpec(t, dir, minimalSpecYAML)
	outDir := filepath.Join(dir, "out-go")

	out, err := execute("generate", "--input", specPath, "--project-name", "hello", "--out", outDir, "--dry-run")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "Planned writes to") || !strings.Contains(out, "- tool_get_hello.go") {
		t.Fatalf("expected dry-run plan output, got: %s", out)
	}
	// Dry-run should not create the directory
	if _, err := os.Stat(outDir); err == nil {
		t.Fatalf("expected no writes on dry-run")
	}
}

func TestGeneratePipeline_Writes(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	specPath := writeSpec(t, dir, minimalSpecYAML)
	outDir := filepath.Join(dir, "hello")

	out, err := execute("generate", "--input", specPath, "--project-name", "hello", "--out", outDir, "--skip-hooks")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "Generated 7 files") {
		t.Fatalf("unexpected summary: %s", out)
	}
	if _, err := os.Stat(filepath.Join(outDir, "tool_get_hello.go")); err != nil {
		t.Fatalf("expected endpoint file: %v", err)
	}

	// A second run into the now non-empty directory needs --force.
	_, err = execute("generate", "--input", specPath, "--project-name", "hello", "--out", outDir, "--skip-hooks")
	if !errors.Is(err, ErrUsage) || !errors.Is(err, generr.ErrManifestValidation) {
		t.Fatalf("expected manifest usage error, got %v", err)
	}
	if _, err := execute("generate", "--input", specPath, "--project-name", "hello", "--out", outDir, "--skip-hooks", "--force"); err != nil {
		t.Fatalf("forced rerun: %v", err)
	}
}

func TestGeneratePipeline_ErrorDetails(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	specPath := writeSpec(t, dir, `openapi: 3.0.0
info: {title: Broken, version: "1"}
paths:
  /things:
    get:
      responses:
        "200":
          description: ok
          content:
            application/json:
              schema: {$ref: "#/components/schemas/Missing"}
`)
	_, err := execute("generate", "--input", specPath, "--project-name", "x", "--out", filepath.Join(dir, "out"))
	if !errors.Is(err, ErrUsage) || !errors.Is(err, generr.ErrRefResolution) {
		t.Fatalf("expected reference usage error, got %v", err)
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "schema: ") || !strings.Contains(msg, "\nPointer: ") {
		t.Fatalf("expected stage label and pointer line, got: %s", msg)
	}

	_, err = execute("generate", "--input", filepath.Join(dir, "absent.yaml"), "--out", filepath.Join(dir, "out"))
	if !errors.Is(err, generr.ErrSpecLoad) || !strings.Contains(err.Error(), "\nLocation: ") {
		t.Fatalf("expected spec error with location, got %v", err)
	}
}

func TestGeneratePipeline_ServerAndClient(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	specPath := writeSpec(t, dir, minimalSpecYAML)
	server := filepath.Join(dir, "hello")
	client := filepath.Join(dir, "hello-cli")

	out, err := execute("generate", "--input", specPath, "--project-name", "hello", "--out", server,
		"--run", "go_client="+client, "--skip-hooks")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.Count(out, "Generated ") != 2 || !strings.Contains(out, "go_client") {
		t.Fatalf("expected one summary per run, got: %s", out)
	}
	for _, p := range []string{
		filepath.Join(server, "tool_get_hello.go"),
		filepath.Join(client, "session.go"),
		filepath.Join(client, "docs", "default", "get_hello.md"),
	} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("expected %s: %v", p, err)
		}
	}

	// Both runs targeting one directory is rejected before anything is written.
	same := filepath.Join(dir, "same")
	_, err = execute("generate", "--input", specPath, "--project-name", "hello", "--out", same, "--run", "go_client="+same)
	if !errors.Is(err, ErrUsage) || !errors.Is(err, generr.ErrManifestValidation) {
		t.Fatalf("expected usage error for a shared output directory, got %v", err)
	}
	if _, err := os.Stat(same); err == nil {
		t.Fatalf("expected no output for rejected runs")
	}

	// A failing run is named in the message.
	_, err = execute("generate", "--input", specPath, "--project-name", "hello", "--out", filepath.Join(dir, "s2"),
		"--run", "rust_models="+filepath.Join(dir, "r2"), "--var", "edition=1999", "--skip-hooks")
	if !errors.Is(err, generr.ErrManifestValidation) || !strings.HasPrefix(err.Error(), "rust_models -> ") {
		t.Fatalf("expected the failing run in the message, got %v", err)
	}
}

func TestTemplatesCommand(t *testing.T) {
	t.Parallel()
	out, err := execute("templates")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	for _, want := range []string{"go_client", "go_server", "rust_models", "project_name: string (required)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}

	dir := t.TempDir()
	set := filepath.Join(dir, "mine")
	if err := os.MkdirAll(set, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(set, "manifest.yaml"), []byte("name: mine\ndescription: custom set\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err = execute("templates", "--template-dir", dir)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "mine") || !strings.Contains(out, "custom set") || strings.Contains(out, "go_server") {
		t.Fatalf("unexpected listing:\n%s", out)
	}
}
