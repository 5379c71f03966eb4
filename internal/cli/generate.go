package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/clafollett/mcpgen/internal/endpoint"
	"github.com/clafollett/mcpgen/internal/logging"
	"github.com/clafollett/mcpgen/internal/pipeline"
)

// GenerateConfig captures all inputs that influence the generate command after
// merging defaults, config file values, environment and CLI overrides.
type GenerateConfig struct {
	Input       string
	Template    string
	TemplateDir string
	Out         string
	ProjectName string
	Vars        map[string]any
	// Runs are extra template sets generated from the same document in
	// the same invocation.
	Runs []RunConfig

	IncludeTags       []string
	ExcludeTags       []string
	Methods           []string
	PathPatterns      []string
	IncludeOperations []string
	ExcludeOperations []string
	Naming            string

	HTTPTimeout time.Duration
	ConfigPath  string
	DryRun      bool
	Force       bool
	SkipHooks   bool
	Strict      bool
	Verbose     bool

	stdout io.Writer
}

// RunConfig is one extra template set to generate alongside the main one.
type RunConfig struct {
	Template string
	Out      string
	// Vars override the shared variables for this run.
	Vars map[string]any
}

var generateRunner = runGenerate

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a project from an OpenAPI/Swagger document",
		Long: "Generate a project from an OpenAPI/Swagger document using a template set. " +
			"Options can be provided via flags, MCPGEN_* environment variables, config files, or defaults.",
		Example: strings.TrimSpace(`  mcpgen generate --input spec.yaml --project-name petstore --out ./petstore
  mcpgen generate --input https://example.com/openapi.json --template rust_models --var edition=2024
  mcpgen --config mcpgen.yaml generate --force --dry-run
  mcpgen generate --input spec.yaml --project-name petstore --run go_client=./petstore-cli`),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveGenerateConfig(cmd)
			if err != nil {
				return err
			}
			cfg.stdout = cmd.OutOrStdout()
			return generateRunner(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String(keyInput, "", "Path or URL to the Swagger/OpenAPI document")
	flags.String(keyTemplate, "", "Template set name (builtin, or a directory below --template-dir); defaults to go_server")
	flags.String(keyTemplateDir, "", "Directory holding template sets, or a single set with a manifest.yaml")
	flags.String(keyOut, "", "Output directory (defaults to the project name)")
	flags.String(keyProjectName, "", "Sets the project_name template variable")
	flags.StringArray("var", nil, "Template variable as key=value (repeatable)")
	flags.StringArray("run", nil, "Also generate template set name into outdir, as name[=outdir] (repeatable)")
	flags.StringSlice(keyIncludeTags, nil, "Only include operations with these tags")
	flags.StringSlice(keyExcludeTags, nil, "Exclude operations with these tags")
	flags.StringSlice(keyMethods, nil, "Only include operations with these HTTP methods")
	flags.StringSlice(keyPaths, nil, "Only include paths matching these regular expressions")
	flags.StringSlice(keyIncludeOperations, nil, "Only include these operation ids")
	flags.StringSlice(keyExcludeOperations, nil, "Exclude these operation ids")
	flags.String(keyNaming, "", "Endpoint naming strategy (path|operation-id)")
	flags.Duration(keyHTTPTimeout, 0, "Timeout for fetching a URL input (default 30s)")
	flags.Bool(keyDryRun, false, "Preview planned outputs without writing files")
	flags.Bool(keyForce, false, "Write into a non-empty output directory")
	flags.Bool(keySkipHooks, false, "Do not run the template set's pre/post hooks")
	flags.Bool(keyStrict, false, "Validate the document structurally before generating")

	return cmd
}

func resolveGenerateConfig(cmd *cobra.Command) (*GenerateConfig, error) {
	s, err := newSettings(cmd)
	if err != nil {
		return nil, err
	}
	cfg := &GenerateConfig{ConfigPath: s.configPath}

	strs := []struct {
		key string
		dst *string
	}{
		{keyInput, &cfg.Input},
		{keyTemplate, &cfg.Template},
		{keyTemplateDir, &cfg.TemplateDir},
		{keyOut, &cfg.Out},
		{keyProjectName, &cfg.ProjectName},
		{keyNaming, &cfg.Naming},
	}
	for _, f := range strs {
		if *f.dst, err = valueAsString(s.Get(f.key)); err != nil {
			return nil, newUsageError(fmt.Sprintf("config field %q: %v", f.key, err))
		}
	}
	lists := []struct {
		key string
		dst *[]string
	}{
		{keyIncludeTags, &cfg.IncludeTags},
		{keyExcludeTags, &cfg.ExcludeTags},
		{keyMethods, &cfg.Methods},
		{keyPaths, &cfg.PathPatterns},
		{keyIncludeOperations, &cfg.IncludeOperations},
		{keyExcludeOperations, &cfg.ExcludeOperations},
	}
	for _, f := range lists {
		if *f.dst, err = valueAsStringSlice(s.Get(f.key)); err != nil {
			return nil, newUsageError(fmt.Sprintf("config field %q: %v", f.key, err))
		}
	}
	bools := []struct {
		key string
		dst *bool
	}{
		{keyDryRun, &cfg.DryRun},
		{keyForce, &cfg.Force},
		{keySkipHooks, &cfg.SkipHooks},
		{keyStrict, &cfg.Strict},
		{keyVerbose, &cfg.Verbose},
	}
	for _, f := range bools {
		if *f.dst, err = valueAsBool(s.Get(f.key)); err != nil {
			return nil, newUsageError(fmt.Sprintf("config field %q: %v", f.key, err))
		}
	}
	timeout := s.GetDuration(keyHTTPTimeout)
	if timeout <= 0 {
		return nil, newUsageError(fmt.Sprintf("generate: invalid --%s %q", keyHTTPTimeout, s.GetString(keyHTTPTimeout)))
	}
	cfg.HTTPTimeout = timeout

	cfg.Vars = map[string]any{}
	for k, v := range s.fileVars {
		cfg.Vars[k] = v
	}
	if err := applyVarFlags(cmd.Flags(), cfg.Vars); err != nil {
		return nil, err
	}
	if cfg.Runs, err = resolveRuns(cmd.Flags(), s.fileRuns); err != nil {
		return nil, err
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyVarFlags(flags *pflag.FlagSet, vars map[string]any) error {
	if !flags.Changed("var") {
		return nil
	}
	values, err := flags.GetStringArray("var")
	if err != nil {
		return err
	}
	for _, kv := range values {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return newUsageError(fmt.Sprintf("generate: --var %q must be key=value", kv))
		}
		vars[k] = v
	}
	return nil
}

// resolveRuns reads --run flags, or the config file's runs list when no
// flag is given. List entries are "name[=outdir]" strings or mappings with
// template, out and vars.
func resolveRuns(flags *pflag.FlagSet, fileRuns any) ([]RunConfig, error) {
	if flags.Changed("run") {
		values, err := flags.GetStringArray("run")
		if err != nil {
			return nil, err
		}
		runs := make([]RunConfig, 0, len(values))
		for _, v := range values {
			name, out, _ := strings.Cut(v, "=")
			runs = append(runs, RunConfig{Template: strings.TrimSpace(name), Out: strings.TrimSpace(out)})
		}
		return runs, nil
	}
	if fileRuns == nil {
		return nil, nil
	}
	items, ok := fileRuns.([]any)
	if !ok {
		return nil, newUsageError(fmt.Sprintf("config field %q: expected list, got %T", keyRuns, fileRuns))
	}
	runs := make([]RunConfig, 0, len(items))
	for i, item := range items {
		var rc RunConfig
		switch v := item.(type) {
		case string:
			name, out, _ := strings.Cut(v, "=")
			rc = RunConfig{Template: strings.TrimSpace(name), Out: strings.TrimSpace(out)}
		case map[string]any:
			for key, val := range v {
				var err error
				switch normalizeKey(key) {
				case "template":
					rc.Template, err = valueAsString(val)
				case "out":
					rc.Out, err = valueAsString(val)
				case "vars":
					rc.Vars, err = valueAsMap(val)
				default:
					err = fmt.Errorf("unknown field %q", key)
				}
				if err != nil {
					return nil, newUsageError(fmt.Sprintf("config field %s[%d]: %v", keyRuns, i, err))
				}
			}
		default:
			return nil, newUsageError(fmt.Sprintf("config field %s[%d]: expected string or mapping, got %T", keyRuns, i, item))
		}
		runs = append(runs, rc)
	}
	return runs, nil
}

func (c *GenerateConfig) normalize() {
	c.Template = strings.TrimSpace(c.Template)
	c.IncludeTags = sanitizeTags(c.IncludeTags)
	c.ExcludeTags = sanitizeTags(c.ExcludeTags)
	c.IncludeOperations = sanitizeTags(c.IncludeOperations)
	c.ExcludeOperations = sanitizeTags(c.ExcludeOperations)
	for i, m := range c.Methods {
		c.Methods[i] = strings.ToUpper(m)
	}
	c.Methods = sanitizeTags(c.Methods)
	if c.ProjectName != "" {
		c.Vars["project_name"] = c.ProjectName
	} else if name, ok := c.Vars["project_name"].(string); ok {
		c.ProjectName = strings.TrimSpace(name)
	}
	if c.Out == "" {
		c.Out = c.ProjectName
	}
	for i := range c.Runs {
		if c.Runs[i].Out == "" && c.Out != "" && c.Runs[i].Template != "" {
			c.Runs[i].Out = filepath.Clean(c.Out) + "-" + c.Runs[i].Template
		}
	}
}

func (c *GenerateConfig) validate() error {
	if c.Input == "" {
		return newUsageError("generate: --input is required (set via flag, MCPGEN_INPUT or config file)")
	}
	if c.Out == "" {
		return newUsageError("generate: --out is required when no project name is given")
	}
	if _, err := endpoint.ParseNaming(c.Naming); err != nil {
		return newUsageError(fmt.Sprintf("generate: %v", err))
	}
	for i, r := range c.Runs {
		if r.Template == "" {
			return newUsageError(fmt.Sprintf("generate: run %d has no template set name", i+1))
		}
	}
	overlap := intersect(c.IncludeTags, c.ExcludeTags)
	if len(overlap) > 0 {
		return newUsageError(fmt.Sprintf("generate: include/exclude tags overlap: %s", strings.Join(overlap, ", ")))
	}
	return nil
}

func runGenerate(ctx context.Context, cfg *GenerateConfig) error {
	logger, err := logging.New(cfg.Verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	naming, _ := endpoint.ParseNaming(cfg.Naming)
	base := pipeline.Options{
		Input:       cfg.Input,
		Template:    cfg.Template,
		TemplateDir: cfg.TemplateDir,
		OutputDir:   cfg.Out,
		Variables:   cfg.Vars,
		Filter: endpoint.Filter{
			IncludeTags:       cfg.IncludeTags,
			ExcludeTags:       cfg.ExcludeTags,
			Methods:           cfg.Methods,
			PathPatterns:      cfg.PathPatterns,
			IncludeOperations: cfg.IncludeOperations,
			ExcludeOperations: cfg.ExcludeOperations,
		},
		Naming:      naming,
		Force:       cfg.Force,
		DryRun:      cfg.DryRun,
		SkipHooks:   cfg.SkipHooks,
		Strict:      cfg.Strict,
		HTTPTimeout: cfg.HTTPTimeout,
		Logger:      logger,
	}

	var results []*pipeline.Result
	if len(cfg.Runs) == 0 {
		res, gerr := pipeline.Generate(ctx, base)
		results, err = []*pipeline.Result{res}, gerr
	} else {
		runs := []pipeline.Options{base}
		for _, r := range cfg.Runs {
			o := base
			o.Template = r.Template
			o.OutputDir = r.Out
			o.Variables = mergeVars(cfg.Vars, r.Vars)
			runs = append(runs, o)
		}
		results, err = pipeline.GenerateAll(ctx, runs)
	}
	if err != nil {
		logger.Debug("generation failed", zap.Error(err))
		return describeError(err)
	}

	w := cfg.stdout
	if w == nil {
		w = io.Discard
	}
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow)
	for _, res := range results {
		if cfg.DryRun {
			paths := make([]string, 0, len(res.Plan.Files))
			for _, f := range res.Plan.Files {
				paths = append(paths, f.Destination)
			}
			printPlan(w, res.OutputDir, paths)
			continue
		}
		green.Fprintf(w, "Generated %d files", len(res.Written))
		fmt.Fprintf(w, " in %s (%s, %d endpoints, %d types)\n", res.OutputDir, res.Set, res.Endpoints, res.Types)
		for _, warn := range res.Warnings {
			yellow.Fprintf(w, "warning: ")
			fmt.Fprintln(w, warn.String())
		}
	}
	return nil
}

func mergeVars(shared, own map[string]any) map[string]any {
	out := make(map[string]any, len(shared)+len(own))
	for k, v := range shared {
		out[k] = v
	}
	for k, v := range own {
		out[k] = v
	}
	return out
}

func printPlan(w io.Writer, outDir string, relPaths []string) {
	fmt.Fprintf(w, "Planned writes to %s (%d files):\n", outDir, len(relPaths))
	for _, p := range relPaths {
		fmt.Fprintf(w, "- %s\n", p)
	}
}

func sanitizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	result := make([]string, 0, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func intersect(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(a))
	for _, item := range a {
		set[item] = struct{}{}
	}
	var result []string
	for _, item := range b {
		if _, ok := set[item]; ok {
			result = append(result, item)
		}
	}
	return result
}
