package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// InitConfig captures the options for the init command.
type InitConfig struct {
	OutputPath string
	Force      bool
	Verbose    bool

	stdout io.Writer
}

var initRunner = runInit

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a sample mcpgen configuration file",
		Long:  "Scaffold a commented mcpgen configuration file that documents available options.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := cmd.Flags().GetString("out")
			if err != nil {
				return err
			}
			force, err := cmd.Flags().GetBool("force")
			if err != nil {
				return err
			}
			verbose, err := cmd.Flags().GetBool("verbose")
			if err != nil {
				return err
			}
			cfg := &InitConfig{
				OutputPath: out,
				Force:      force,
				Verbose:    verbose,
				stdout:     cmd.OutOrStdout(),
			}
			return initRunner(cmd.Context(), cfg)
		},
	}

	cmd.Flags().String("out", "mcpgen.yaml", "Where to write the sample config file")
	cmd.Flags().Bool("force", false, "Overwrite the target file if it already exists")

	return cmd
}

func runInit(ctx context.Context, cfg *InitConfig) error {
	_ = ctx

	out := strings.TrimSpace(cfg.OutputPath)
	if out == "" {
		out = "mcpgen.yaml"
	}
	absPath, err := filepath.Abs(out)
	if err != nil {
		return fmt.Errorf("init: resolve output path: %w", err)
	}

	if st, err := os.Stat(absPath); err == nil && !cfg.Force {
		if st.Mode().IsRegular() {
			return newUsageError(fmt.Sprintf("init: %q already exists (use --force to overwrite)", absPath))
		}
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return newUsageError(fmt.Sprintf("init: cannot create parent directory: %v", err))
	}

	content := strings.TrimSpace(sampleConfigYAML) + "\n"

	tmp := absPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return newUsageError(fmt.Sprintf("init: cannot write temp file: %v\nHint: choose a different --out or check directory permissions.", err))
	}
	if err := os.Rename(tmp, absPath); err != nil {
		_ = os.Remove(tmp)
		return newUsageError(fmt.Sprintf("init: cannot place file at %s: %v", absPath, err))
	}
	if cfg.stdout != nil {
		fmt.Fprintf(cfg.stdout, "Wrote sample config to %s\n", absPath)
	}
	return nil
}

// sampleConfigYAML is a commented example config documenting available options.
const sampleConfigYAML = `# mcpgen configuration (YAML or JSON)
# All fields are optional. Precedence: flags > MCPGEN_* environment > this file > defaults.
# Keys may be written as kebab-case, snake_case or camelCase.

# Path or URL to the OpenAPI 3.x or Swagger 2.0 document (http/https or local file).
# input: ./openapi.yaml

# Template set: a builtin name (go_server, go_client, rust_models) or a directory below templateDir.
# template: go_server
# templateDir: ./templates

# Output directory. Defaults to the project name.
# out: ./petstore

# Sets the project_name template variable.
# projectName: petstore

# Other template variables, validated against the template set's manifest.
# vars:
#   go_version: "1.22.0"
#   base_url: https://api.example.com

# Extra template sets generated from the same document in the same run
# (also --run name[=outdir]). Each needs its own output directory;
# out defaults to "<out>-<template>".
# runs:
#   - go_client=./petstore-cli
#   - template: rust_models
#     out: ./petstore-rs
#     vars:
#       edition: "2024"

# Operation filters (comma-separated or list).
# includeTags: [public, read]
# excludeTags: [internal]
# methods: [GET, POST]
# paths: ["^/pets"]
# includeOperations: [listPets]
# excludeOperations: [deletePet]

# Endpoint naming: path (method + path) or operation-id.
# naming: path

# Timeout for fetching a URL input.
# httpTimeout: 30s

# Preview planned outputs without writing files.
# dryRun: false

# Write into a non-empty output directory.
# force: false

# Skip the template set's pre/post hooks.
# skipHooks: false

# Validate the document structurally before generating.
# strict: false

# Enable verbose logging.
# verbose: false
`
