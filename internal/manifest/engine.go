package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/clafollett/mcpgen/internal/endpoint"
	"github.com/clafollett/mcpgen/internal/generr"
	"github.com/clafollett/mcpgen/internal/naming"
	"github.com/clafollett/mcpgen/internal/render"
	"github.com/clafollett/mcpgen/internal/schema"
	"github.com/clafollett/mcpgen/internal/typemap"
)

// Engine plans and writes the files a manifest declares.
type Engine struct {
	manifest *Manifest
	renderer render.Renderer
	logger   *zap.Logger
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine returns an engine for m rendering through r.
func NewEngine(m *Manifest, r render.Renderer, opts ...Option) *Engine {
	e := &Engine{manifest: m, renderer: r, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Manifest() *Manifest { return e.manifest }

// Input is everything a generation run feeds the engine.
type Input struct {
	OutputDir string
	Variables map[string]any
	Endpoints []*endpoint.Descriptor
	Types     []*typemap.Descriptor
	Spec      schema.Info
	// Target is the type system the descriptors were mapped to.
	Target string
	// Force allows writing into a non-empty output directory.
	Force bool
}

// PlannedFile is one output file. Endpoint is nil for static rules.
type PlannedFile struct {
	Rule        FileRule
	Destination string // slash-separated, relative to the output directory
	Endpoint    *endpoint.Descriptor
}

// Plan is the validated outcome of Engine.Plan. Nothing has been written.
type Plan struct {
	OutputDir   string
	Variables   map[string]any
	Directories []string
	Files       []PlannedFile

	input *Input
}

// GenerationContext is the data handed to a template when it renders one
// file.
type GenerationContext struct {
	Manifest  string
	Target    string
	Variables map[string]any
	// Endpoint is set for files expanded per endpoint.
	Endpoint  *endpoint.Descriptor
	Endpoints []*endpoint.Descriptor
	Types     []*typemap.Descriptor
	Spec      schema.Info
}

type existsChecker interface {
	Exists(id string) bool
}

// Plan validates in against the manifest and expands every file rule to
// its destinations. It fails on the first problem found; the output
// directory is only inspected, never modified.
func (e *Engine) Plan(in Input) (*Plan, error) {
	if in.OutputDir == "" {
		return nil, invalid("output directory is required")
	}
	vars, err := e.manifest.ResolveVariables(in.Variables)
	if err != nil {
		return nil, err
	}
	if ec, ok := e.renderer.(existsChecker); ok {
		for _, f := range e.manifest.Files {
			if !ec.Exists(f.Template) {
				return nil, invalid("template %q not found", f.Template)
			}
		}
	}

	globals := placeholderValues(vars)
	p := &Plan{OutputDir: in.OutputDir, Variables: vars, input: &in}
	for _, d := range e.manifest.Directories {
		rel, err := expandPath(d, globals, nil)
		if err != nil {
			return nil, err
		}
		p.Directories = append(p.Directories, rel)
	}

	seen := map[string]string{}
	add := func(f PlannedFile) error {
		if prev, ok := seen[f.Destination]; ok {
			return invalid("destination %q produced by both %s and %s", f.Destination, prev, f.Rule.Template).WithFile(f.Destination)
		}
		seen[f.Destination] = f.Rule.Template
		p.Files = append(p.Files, f)
		return nil
	}
	for _, rule := range e.manifest.Files {
		if rule.ForEach != ForEachEndpoint {
			dest, err := expandPath(rule.Destination, globals, nil)
			if err != nil {
				return nil, err
			}
			if err := add(PlannedFile{Rule: rule, Destination: dest}); err != nil {
				return nil, err
			}
			continue
		}
		// Checked once so an undefined placeholder fails even with no endpoints.
		if _, err := expandPath(rule.Destination, globals, endpointPlaceholders); err != nil {
			return nil, err
		}
		for _, ep := range in.Endpoints {
			dest, err := expandPath(rule.Destination, globals, endpointValues(ep))
			if err != nil {
				var ge *generr.Error
				if errors.As(err, &ge) {
					ge.WithEndpoint(ep.FnName)
				}
				return nil, err
			}
			if err := add(PlannedFile{Rule: rule, Destination: dest, Endpoint: ep}); err != nil {
				return nil, err
			}
		}
	}

	if err := checkOutputDir(in.OutputDir, in.Force); err != nil {
		return nil, err
	}
	e.logger.Info("generation planned",
		zap.String("manifest", e.manifest.Name),
		zap.Int("files", len(p.Files)),
		zap.Int("directories", len(p.Directories)))
	return p, nil
}

// Write creates the output root and the plan's directories, then renders
// and writes each file in plan order. Existing files are replaced; nothing
// else in the output directory is touched. It returns the destinations
// written.
func (e *Engine) Write(ctx context.Context, p *Plan) ([]string, error) {
	root, err := filepath.Abs(p.OutputDir)
	if err != nil {
		return nil, generr.Wrap(generr.Io, err, "resolve output directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, generr.Wrap(generr.Io, err, "create output directory")
	}
	for _, d := range p.Directories {
		if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(d)), 0o755); err != nil {
			return nil, generr.Wrap(generr.Io, err, "create directory").WithFile(d)
		}
	}

	written := make([]string, 0, len(p.Files))
	for _, f := range p.Files {
		if err := ctx.Err(); err != nil {
			return written, generr.Wrap(generr.Io, err, "generation cancelled")
		}
		out, err := e.renderFile(p, f)
		if err != nil {
			return written, err
		}
		if err := writeFileAtomic(root, f.Destination, out, f.Rule.Executable); err != nil {
			return written, generr.Wrap(generr.Io, err, "write file").WithFile(f.Destination)
		}
		e.logger.Debug("file written", zap.String("file", f.Destination), zap.Int("bytes", len(out)))
		written = append(written, f.Destination)
	}
	e.logger.Info("files written", zap.Int("count", len(written)), zap.String("dir", root))
	return written, nil
}

func (e *Engine) renderFile(p *Plan, f PlannedFile) ([]byte, error) {
	gc := &GenerationContext{
		Manifest:  e.manifest.Name,
		Target:    p.input.Target,
		Variables: p.Variables,
		Endpoint:  f.Endpoint,
		Endpoints: p.input.Endpoints,
		Types:     p.input.Types,
		Spec:      p.input.Spec,
	}
	out, err := e.renderer.Render(f.Rule.Template, gc)
	if err != nil {
		ge := generr.Wrap(generr.Render, err, "render %s", f.Rule.Template).WithFile(f.Destination)
		if f.Endpoint != nil {
			ge.WithEndpoint(f.Endpoint.FnName)
		}
		return nil, ge
	}
	if f.Rule.Postprocess == PostprocessGoimports {
		out, err = formatGo(f.Destination, out)
		if err != nil {
			return nil, generr.Wrap(generr.Render, err, "format %s", f.Rule.Template).WithFile(f.Destination)
		}
	}
	return out, nil
}

var placeholderRe = regexp.MustCompile(`\{([^{}]*)\}`)

func placeholderValues(vars map[string]any) map[string]string {
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		switch v.(type) {
		case nil, []any, map[string]any:
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

func endpointValues(ep *endpoint.Descriptor) map[string]string {
	return map[string]string{
		"fn_name":      ep.FnName,
		"endpoint":     ep.FnName,
		"endpoint_cap": ep.EndpointCap,
		"endpoint_fs":  ep.EndpointFS,
		"method":       strings.ToLower(ep.Method),
		"tag":          naming.Snake(ep.Tag()),
	}
}

// endpointPlaceholders stands in for any endpoint when validating a
// for_each destination.
var endpointPlaceholders = map[string]string{
	"fn_name":      "endpoint",
	"endpoint":     "endpoint",
	"endpoint_cap": "Endpoint",
	"endpoint_fs":  "endpoint",
	"method":       "get",
	"tag":          "default",
}

// expandPath substitutes {name} placeholders, endpoint values first, and
// checks that the result stays inside the output directory.
func expandPath(tmpl string, globals, local map[string]string) (string, error) {
	var bad string
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := local[name]; ok {
			return v
		}
		if v, ok := globals[name]; ok {
			return v
		}
		if bad == "" {
			bad = name
		}
		return m
	})
	if bad != "" {
		return "", invalid("destination %q: undefined placeholder {%s}", tmpl, bad)
	}
	return cleanRelative(out)
}

// cleanRelative rejects absolute paths and paths escaping the output
// directory, and returns the cleaned slash-separated form.
func cleanRelative(p string) (string, error) {
	slashed := filepath.ToSlash(p)
	if slashed == "" || path.IsAbs(slashed) || filepath.IsAbs(p) || filepath.VolumeName(p) != "" {
		return "", invalid("destination %q must be a relative path", p)
	}
	clean := path.Clean(slashed)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", invalid("destination %q escapes the output directory", p)
	}
	return clean, nil
}

// checkOutputDir accepts a missing directory, an empty one, or any
// directory when force is set.
func checkOutputDir(dir string, force bool) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return generr.Wrap(generr.Io, err, "resolve output directory")
	}
	stat, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return generr.Wrap(generr.Io, err, "cannot access output directory %q", abs)
	}
	if !stat.IsDir() {
		return invalid("output path %q is not a directory", abs)
	}
	if force {
		return nil
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return generr.Wrap(generr.Io, err, "cannot read output directory %q", abs)
	}
	if len(entries) > 0 {
		return invalid("output directory %q is not empty (use --force to overwrite)", abs)
	}
	return nil
}
