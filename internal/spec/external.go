package spec

import (
	"context"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/clafollett/mcpgen/internal/generr"
)

// RefLoader loads documents named by external $ref values such as
// "common.yaml#/Pet". Referenced documents need not be complete OpenAPI
// documents. Loaded documents are cached by resolved location.
type RefLoader struct {
	settings Settings

	mu    sync.Mutex
	cache map[string]*RawDocument
}

// NewRefLoader returns a RefLoader using the same options as Load.
func NewRefLoader(opts ...Option) *RefLoader {
	settings := DefaultSettings()
	for _, opt := range opts {
		opt(&settings)
	}
	return &RefLoader{settings: settings, cache: map[string]*RawDocument{}}
}

// Resolve returns the location of ref relative to the document at base.
func Resolve(base, ref string) string {
	if u, ok := isURL(ref); ok && u.Scheme != "file" {
		return ref
	}
	if bu, ok := isURL(base); ok && bu.Scheme != "file" {
		if r, err := bu.Parse(ref); err == nil {
			return r.String()
		}
	}
	if filepath.IsAbs(ref) {
		return filepath.Clean(ref)
	}
	return filepath.Join(filepath.Dir(base), filepath.FromSlash(ref))
}

// LoadRef loads the document ref (without fragment) relative to base.
func (l *RefLoader) LoadRef(ctx context.Context, base, ref string) (*RawDocument, error) {
	loc := Resolve(base, ref)
	l.mu.Lock()
	defer l.mu.Unlock()
	if doc, ok := l.cache[loc]; ok {
		return doc, nil
	}
	data, location, err := readSource(ctx, loc, l.settings)
	if err != nil {
		return nil, err
	}
	format, err := DetectFormat(data, location)
	if err != nil {
		return nil, generr.Wrap(generr.SpecLoad, err, "detect format").WithLocation(location)
	}
	root, err := parseTree(data)
	if err != nil {
		return nil, generr.Wrap(generr.SpecLoad, err, "parse %s", format).WithLocation(location)
	}
	doc := &RawDocument{Source: location, Format: format, Root: root}
	l.cache[loc] = doc
	l.settings.Logger.Debug("external document loaded", zap.String("location", location))
	return doc, nil
}
