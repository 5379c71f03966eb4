// Package render executes text/template files from a template set.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"
	"text/template"

	"github.com/clafollett/mcpgen/internal/naming"
)

// Renderer turns a template identifier and a data context into text.
type Renderer interface {
	Render(templateID string, data any) ([]byte, error)
}

// PartialsDir holds templates that every rendered template may invoke by
// file name with {{template "name.tmpl" .}}.
const PartialsDir = "_partials"

// TemplateRenderer renders text/template files read from a file system.
// Parsed templates are cached; it is safe for concurrent use.
type TemplateRenderer struct {
	fsys  fs.FS
	funcs template.FuncMap

	mu    sync.Mutex
	cache map[string]*template.Template
}

// New returns a renderer over fsys. Template identifiers are slash-separated
// paths relative to the root of fsys.
func New(fsys fs.FS) *TemplateRenderer {
	return &TemplateRenderer{fsys: fsys, funcs: FuncMap(), cache: map[string]*template.Template{}}
}

// Exists reports whether the template id can be read.
func (r *TemplateRenderer) Exists(id string) bool {
	info, err := fs.Stat(r.fsys, id)
	return err == nil && !info.IsDir()
}

// Render executes template id with data. Missing map keys are errors.
func (r *TemplateRenderer) Render(id string, data any) ([]byte, error) {
	t, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *TemplateRenderer) lookup(id string) (*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.cache[id]; ok {
		return t, nil
	}
	src, err := fs.ReadFile(r.fsys, id)
	if err != nil {
		return nil, err
	}
	t, err := template.New(path.Base(id)).Funcs(r.funcs).Option("missingkey=error").Parse(string(src))
	if err != nil {
		return nil, err
	}
	partials, err := fs.Glob(r.fsys, PartialsDir+"/*.tmpl")
	if err != nil {
		return nil, err
	}
	for _, p := range partials {
		if p == id {
			continue
		}
		body, err := fs.ReadFile(r.fsys, p)
		if err != nil {
			return nil, err
		}
		if _, err := t.New(path.Base(p)).Parse(string(body)); err != nil {
			return nil, fmt.Errorf("partial %s: %w", p, err)
		}
	}
	r.cache[id] = t
	return t, nil
}

// FuncMap returns the helper functions available to templates.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"snake":  naming.Snake,
		"pascal": naming.Pascal,
		"camel":  naming.Camel,
		"upper":  strings.ToUpper,
		"lower":  strings.ToLower,
		"title":  naming.Pascal,
		"quote":  func(s string) string { return fmt.Sprintf("%q", s) },
		"join":   func(sep string, items []string) string { return strings.Join(items, sep) },
		"trim":   strings.TrimSpace,
		"replace": func(old, new, s string) string {
			return strings.ReplaceAll(s, old, new)
		},
		"default": func(def, val any) any {
			if val == nil {
				return def
			}
			if s, ok := val.(string); ok && s == "" {
				return def
			}
			return val
		},
		"json": func(v any) (string, error) {
			b, err := json.Marshal(v)
			return string(b), err
		},
		"indent": func(n int, s string) string {
			pad := strings.Repeat(" ", n)
			lines := strings.Split(s, "\n")
			for i, l := range lines {
				if l != "" {
					lines[i] = pad + l
				}
			}
			return strings.Join(lines, "\n")
		},
		"comment": func(prefix, s string) string {
			s = strings.TrimSpace(s)
			if s == "" {
				return ""
			}
			lines := strings.Split(s, "\n")
			for i, l := range lines {
				lines[i] = strings.TrimRight(prefix+" "+strings.TrimSpace(l), " ")
			}
			return strings.Join(lines, "\n")
		},
		"goIdent": func(s string) string {
			id := naming.Camel(s)
			if id == "" {
				id = "v"
			}
			if id[0] >= '0' && id[0] <= '9' {
				id = "v" + id
			}
			return naming.Escape(id, naming.GoReserved)
		},
		"add": func(a, b int) int { return a + b },

		"contains": strings.Contains,
	}
}
