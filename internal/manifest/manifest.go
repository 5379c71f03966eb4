// Package manifest reads the manifest of a template set and drives
// multi-file generation from it.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/clafollett/mcpgen/internal/generr"
	"github.com/clafollett/mcpgen/internal/hooks"
)

// FileName is the manifest's name at the root of a template set.
const FileName = "manifest.yaml"

// ForEachEndpoint repeats a file rule once per endpoint.
const ForEachEndpoint = "endpoint"

// Postprocessors supported by FileRule.Postprocess.
const (
	PostprocessNone      = ""
	PostprocessGoimports = "goimports"
)

// Manifest declares the files, variables, directories and hooks of a
// template set.
type Manifest struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Engine      EngineInfo  `yaml:"engine"`
	Language    string      `yaml:"language"`
	Variables   []*Variable `yaml:"variables"`
	Files       []FileRule  `yaml:"files"`
	Directories []string    `yaml:"directories"`
	Hooks       Hooks       `yaml:"hooks"`
}

// EngineInfo identifies the template engine a set was written for.
type EngineInfo struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// FileRule maps one template to one destination, or to one destination per
// endpoint when ForEach is "endpoint".
type FileRule struct {
	Template    string `yaml:"template"`
	Destination string `yaml:"destination"`
	ForEach     string `yaml:"for_each"`
	Postprocess string `yaml:"postprocess"`
	Executable  bool   `yaml:"executable"`
}

type Hooks struct {
	Pre  []hooks.Command `yaml:"pre"`
	Post []hooks.Command `yaml:"post"`
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Load reads FileName from the root of fsys.
func Load(fsys fs.FS) (*Manifest, error) {
	data, err := fs.ReadFile(fsys, FileName)
	if err != nil {
		return nil, generr.Wrap(generr.ManifestValidation, err, "read %s", FileName)
	}
	return Parse(data)
}

// Parse decodes and checks a manifest. Unknown fields are rejected.
func Parse(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, generr.New(generr.ManifestValidation, "manifest is empty")
		}
		return nil, generr.Wrap(generr.ManifestValidation, err, "parse manifest")
	}
	if err := m.check(); err != nil {
		return nil, err
	}
	return &m, nil
}

func invalid(format string, args ...any) *generr.Error {
	return generr.New(generr.ManifestValidation, format, args...)
}

func (m *Manifest) check() error {
	if m.Name == "" {
		return invalid("manifest requires a name")
	}
	seen := map[string]bool{}
	for i, v := range m.Variables {
		if v == nil || !identRe.MatchString(v.Name) {
			return invalid("variables[%d]: invalid variable name", i)
		}
		if seen[v.Name] {
			return invalid("variable %q declared twice", v.Name)
		}
		seen[v.Name] = true
		if err := v.prepare(); err != nil {
			return err
		}
	}
	for i, f := range m.Files {
		if f.Template == "" || f.Destination == "" {
			return invalid("files[%d]: template and destination are required", i)
		}
		if f.ForEach != "" && f.ForEach != ForEachEndpoint {
			return invalid("files[%d]: unsupported for_each %q (only %q)", i, f.ForEach, ForEachEndpoint)
		}
		switch f.Postprocess {
		case PostprocessNone, PostprocessGoimports:
		default:
			return invalid("files[%d]: unsupported postprocess %q", i, f.Postprocess)
		}
	}
	for i, d := range m.Directories {
		if d == "" {
			return invalid("directories[%d]: empty path", i)
		}
	}
	return nil
}

// Variable returns the declared variable named name.
func (m *Manifest) Variable(name string) (*Variable, bool) {
	for _, v := range m.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return nil, false
}

func (m *Manifest) String() string {
	if m.Engine.Name != "" {
		return fmt.Sprintf("%s (%s %s)", m.Name, m.Engine.Name, m.Engine.Version)
	}
	return m.Name
}
