// Package pipeline runs the generation stages in order: load, resolve,
// map types, build endpoints, plan, pre-hooks, write, post-hooks.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clafollett/mcpgen/internal/endpoint"
	"github.com/clafollett/mcpgen/internal/generr"
	"github.com/clafollett/mcpgen/internal/hooks"
	"github.com/clafollett/mcpgen/internal/manifest"
	"github.com/clafollett/mcpgen/internal/render"
	"github.com/clafollett/mcpgen/internal/schema"
	"github.com/clafollett/mcpgen/internal/spec"
	"github.com/clafollett/mcpgen/internal/templates"
	"github.com/clafollett/mcpgen/internal/typemap"
)

// Options describes one generation run.
type Options struct {
	// Input is a file path or http(s) URL of the OpenAPI document.
	Input string
	// Template names a builtin set, or a set below TemplateDir.
	Template    string
	TemplateDir string
	// Set overrides Template and TemplateDir when non-nil.
	Set       *templates.Set
	OutputDir string
	Variables map[string]any

	Filter endpoint.Filter
	Naming endpoint.Naming

	Force     bool
	DryRun    bool
	SkipHooks bool
	Strict    bool

	HTTPTimeout time.Duration
	Logger      *zap.Logger
}

// Result reports what a run planned and wrote.
type Result struct {
	OutputDir string
	Set       string
	Plan      *manifest.Plan
	// Written is empty for dry runs.
	Written   []string
	Endpoints int
	Types     int
	Warnings  []hooks.Warning
}

// Generate runs every stage for opts. It stops at the first error; files
// written before a failure are left in place.
func Generate(ctx context.Context, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Input == "" {
		return nil, generr.New(generr.SpecLoad, "no input document")
	}
	if opts.OutputDir == "" {
		return nil, generr.New(generr.ManifestValidation, "no output directory")
	}

	set := opts.Set
	if set == nil {
		var err error
		if set, err = templates.Find(opts.Template, opts.TemplateDir); err != nil {
			return nil, err
		}
	}
	log = log.With(zap.String("template", set.Name))

	loadOpts := []spec.Option{spec.WithStrict(opts.Strict), spec.WithLogger(log)}
	if opts.HTTPTimeout > 0 {
		loadOpts = append(loadOpts, spec.WithHTTPTimeout(opts.HTTPTimeout))
	}
	doc, err := spec.Load(ctx, opts.Input, loadOpts...)
	if err != nil {
		return nil, err
	}

	graph, err := schema.Resolve(ctx, doc,
		schema.WithExternalLoader(spec.NewRefLoader(loadOpts...)),
		schema.WithLogger(log))
	if err != nil {
		return nil, err
	}

	lang := set.Manifest.Language
	if lang == "" {
		lang = "go"
	}
	target, err := typemap.LookupTarget(lang)
	if err != nil {
		return nil, generr.Wrap(generr.ManifestValidation, err, "template set %s", set.Name)
	}
	mapper := typemap.New(graph, target, typemap.WithLogger(log))
	if err := mapper.MapComponents(); err != nil {
		return nil, err
	}

	naming := opts.Naming
	if naming == "" {
		naming = endpoint.NamingPath
	}
	endpoints, err := endpoint.Build(graph, mapper,
		endpoint.WithNaming(naming),
		endpoint.WithFilter(opts.Filter),
		endpoint.WithLogger(log))
	if err != nil {
		return nil, err
	}

	engine := manifest.NewEngine(set.Manifest, render.New(set.FS), manifest.WithLogger(log))
	plan, err := engine.Plan(manifest.Input{
		OutputDir: opts.OutputDir,
		Variables: opts.Variables,
		Endpoints: endpoints,
		Types:     mapper.Declarations(),
		Spec:      graph.Info,
		Target:    target.Name,
		Force:     opts.Force,
	})
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(opts.OutputDir)
	if err != nil {
		return nil, generr.Wrap(generr.Io, err, "resolve output directory")
	}
	res := &Result{
		OutputDir: abs,
		Set:       set.Name,
		Plan:      plan,
		Endpoints: len(endpoints),
		Types:     len(mapper.Declarations()),
	}
	if opts.DryRun {
		return res, nil
	}

	// Hooks run in the output directory, so it exists before they do.
	_, statErr := os.Stat(abs)
	created := os.IsNotExist(statErr)
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, generr.Wrap(generr.Io, err, "create output directory")
	}
	runner := hooks.NewRunner(abs, hooks.WithLogger(log))
	if !opts.SkipHooks {
		if err := runner.RunPre(ctx, set.Manifest.Hooks.Pre); err != nil {
			if created {
				// Only succeeds while the directory is still empty.
				_ = os.Remove(abs)
			}
			return nil, err
		}
	}
	if res.Written, err = engine.Write(ctx, plan); err != nil {
		return nil, err
	}
	if !opts.SkipHooks {
		res.Warnings = runner.RunPost(ctx, set.Manifest.Hooks.Post)
	}
	log.Info("generation complete",
		zap.String("out", abs),
		zap.Int("files", len(res.Written)),
		zap.Int("warnings", len(res.Warnings)))
	return res, nil
}

// RunError reports which run of GenerateAll failed.
type RunError struct {
	Index     int
	Template  string
	OutputDir string
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %d (%s -> %s): %v", e.Index, e.Template, e.OutputDir, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// GenerateAll runs independent generations concurrently. Two runs may not
// share an output directory. Results are in the order of runs; the first
// error cancels the remaining runs.
func GenerateAll(ctx context.Context, runs []Options) ([]*Result, error) {
	seen := map[string]int{}
	for i, o := range runs {
		abs, err := filepath.Abs(o.OutputDir)
		if err != nil {
			return nil, generr.Wrap(generr.Io, err, "resolve output directory")
		}
		if j, dup := seen[abs]; dup {
			return nil, generr.New(generr.ManifestValidation,
				"runs %d and %d both write to %s", j, i, abs)
		}
		seen[abs] = i
	}

	results := make([]*Result, len(runs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range runs {
		i := i
		g.Go(func() error {
			res, err := Generate(gctx, runs[i])
			if err != nil {
				name := runs[i].Template
				if runs[i].Set != nil {
					name = runs[i].Set.Name
				}
				return &RunError{Index: i, Template: name, OutputDir: runs[i].OutputDir, Err: err}
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
