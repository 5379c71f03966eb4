// Package templates locates template sets: the builtin sets embedded in
// the binary and sets read from a directory on disk.
package templates

import (
	"embed"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/clafollett/mcpgen/internal/generr"
	"github.com/clafollett/mcpgen/internal/manifest"
)

//go:embed all:builtin
var builtinFS embed.FS

// DefaultSet is the builtin set used when none is named.
const DefaultSet = "go_server"

// Set is a manifest together with the files its rules refer to.
type Set struct {
	Name     string
	Builtin  bool
	Dir      string // on-disk location; empty for builtin sets
	FS       fs.FS
	Manifest *manifest.Manifest
}

// Registry holds template sets by name.
type Registry struct {
	sets  map[string]*Set
	mutex sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{sets: make(map[string]*Set)}
}

// Register adds s. Names are unique.
func (r *Registry) Register(s *Set) error {
	if s.Name == "" || s.Manifest == nil || s.FS == nil {
		return generr.New(generr.ManifestValidation, "template set %q is incomplete", s.Name)
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, exists := r.sets[s.Name]; exists {
		return generr.New(generr.ManifestValidation, "template set %s already registered", s.Name)
	}
	r.sets[s.Name] = s
	return nil
}

// Get returns the set named name.
func (r *Registry) Get(name string) (*Set, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	s, ok := r.sets[name]
	if !ok {
		return nil, generr.New(generr.ManifestValidation, "template set %q not found (available: %v)", name, r.namesLocked())
	}
	return s, nil
}

// Exists reports whether a set named name is registered.
func (r *Registry) Exists(name string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, ok := r.sets[name]
	return ok
}

// List returns the registered sets sorted by name.
func (r *Registry) List() []*Set {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	out := make([]*Set, 0, len(r.sets))
	for _, s := range r.sets {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.sets))
	for n := range r.sets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var (
	builtinOnce sync.Once
	builtin     *Registry
	builtinErr  error
)

// Builtin returns the registry of embedded sets. It is built once.
func Builtin() (*Registry, error) {
	builtinOnce.Do(func() {
		builtin, builtinErr = loadBuiltin()
	})
	return builtin, builtinErr
}

func loadBuiltin() (*Registry, error) {
	r := NewRegistry()
	entries, err := fs.ReadDir(builtinFS, "builtin")
	if err != nil {
		return nil, generr.Wrap(generr.Io, err, "read builtin template sets")
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub, err := fs.Sub(builtinFS, "builtin/"+e.Name())
		if err != nil {
			return nil, generr.Wrap(generr.Io, err, "open builtin set %s", e.Name())
		}
		m, err := manifest.Load(sub)
		if err != nil {
			return nil, err
		}
		if err := r.Register(&Set{Name: e.Name(), Builtin: true, FS: sub, Manifest: m}); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// OpenDir reads the set rooted at dir.
func OpenDir(dir string) (*Set, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, generr.Wrap(generr.Io, err, "resolve template directory")
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, generr.Wrap(generr.Io, err, "open template directory")
	}
	if !info.IsDir() {
		return nil, generr.New(generr.ManifestValidation, "template path %q is not a directory", abs)
	}
	fsys := os.DirFS(abs)
	m, err := manifest.Load(fsys)
	if err != nil {
		return nil, err
	}
	return &Set{Name: filepath.Base(abs), Dir: abs, FS: fsys, Manifest: m}, nil
}

// Find resolves a set by name. With templateDir set, the set is read from
// templateDir/name, or from templateDir itself when it holds a manifest;
// otherwise the builtin registry is used.
func Find(name, templateDir string) (*Set, error) {
	if name == "" {
		name = DefaultSet
	}
	if templateDir != "" {
		if _, err := os.Stat(filepath.Join(templateDir, manifest.FileName)); err == nil {
			return OpenDir(templateDir)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, generr.Wrap(generr.Io, err, "inspect template directory")
		}
		return OpenDir(filepath.Join(templateDir, name))
	}
	r, err := Builtin()
	if err != nil {
		return nil, err
	}
	return r.Get(name)
}
