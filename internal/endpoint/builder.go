// Package endpoint turns resolved operations into endpoint descriptors with
// derived, collision-free identifiers.
package endpoint

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/clafollett/mcpgen/internal/generr"
	"github.com/clafollett/mcpgen/internal/naming"
	"github.com/clafollett/mcpgen/internal/schema"
	"github.com/clafollett/mcpgen/internal/typemap"
)

// Location is where a parameter is carried in a request.
type Location string

const (
	Path   Location = "path"
	Query  Location = "query"
	Header Location = "header"
	Cookie Location = "cookie"
	Body   Location = "body"
)

var locationOrder = []Location{Path, Query, Header, Cookie}

// Parameter describes one input of an endpoint.
type Parameter struct {
	Name     string
	Ident    string
	Location Location
	Type     *typemap.Descriptor
	// TypeName is the parameter's type expression, optional when the
	// parameter is not required.
	TypeName    string
	Required    bool
	Description string
	Example     any
}

// Descriptor is the normalized view of one operation.
type Descriptor struct {
	Method      string // upper case
	Path        string
	OperationID string
	Summary     string
	Description string
	Tags        []string
	Deprecated  bool

	// FnName is the unique snake_case identifier of the endpoint.
	FnName string
	// EndpointCap is FnName in PascalCase.
	EndpointCap string
	// EndpointFS is FnName made safe for file names.
	EndpointFS string

	ParametersType string
	PropertiesType string
	ResponseType   string

	Parameters []*Parameter
	// Body is the synthetic body parameter, also present in Parameters.
	Body          *Parameter
	BodyMediaType string

	// Response is the selected success response type; the opaque
	// descriptor when no 2xx response declares a schema.
	Response          *typemap.Descriptor
	ResponseStatus    string
	ResponseMediaType string
}

// Tag returns the primary (first) tag, or "default".
func (d *Descriptor) Tag() string {
	if len(d.Tags) == 0 {
		return "default"
	}
	return d.Tags[0]
}

// ParamsIn returns the parameters at loc in order.
func (d *Descriptor) ParamsIn(loc Location) []*Parameter {
	var out []*Parameter
	for _, p := range d.Parameters {
		if p.Location == loc {
			out = append(out, p)
		}
	}
	return out
}

// Properties returns the fields of the response type when it is a struct.
func (d *Descriptor) Properties() []*typemap.Field {
	if d.Response == nil || d.Response.Kind != typemap.KindStruct {
		return nil
	}
	return d.Response.Fields
}

// Naming selects the base identifier of an endpoint.
type Naming string

const (
	// NamingPath derives names from the method and path.
	NamingPath Naming = "path"
	// NamingOperationID uses the operationId when present.
	NamingOperationID Naming = "operation-id"
)

// ParseNaming validates a naming strategy name.
func ParseNaming(s string) (Naming, error) {
	switch Naming(strings.ToLower(strings.TrimSpace(s))) {
	case "", NamingPath:
		return NamingPath, nil
	case NamingOperationID, "operationid":
		return NamingOperationID, nil
	}
	return "", fmt.Errorf("unknown naming strategy %q (use %q or %q)", s, NamingPath, NamingOperationID)
}

type config struct {
	naming Naming
	filter Filter
	logger *zap.Logger
}

// Option configures Build.
type Option func(*config)

func WithNaming(n Naming) Option  { return func(c *config) { c.naming = n } }
func WithFilter(f Filter) Option  { return func(c *config) { c.filter = f } }
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// Build returns one descriptor per operation of g that passes the filter,
// in operation order. Types are mapped through m, so descriptors sharing a
// schema share the same *typemap.Descriptor.
func Build(g *schema.Graph, m *typemap.Mapper, opts ...Option) ([]*Descriptor, error) {
	cfg := config{naming: NamingPath, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	filter, err := cfg.filter.compile()
	if err != nil {
		return nil, err
	}

	used := map[string]string{}
	var out []*Descriptor
	for i := range g.Operations {
		op := &g.Operations[i]
		if !filter.allow(op) {
			cfg.logger.Debug("operation filtered out", zap.String("method", op.Method), zap.String("path", op.Path))
			continue
		}
		fn, err := assignName(op, cfg.naming, used)
		if err != nil {
			return nil, err
		}
		d, err := describe(g, m, op, fn)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	cfg.logger.Info("endpoints built", zap.Int("count", len(out)), zap.Int("operations", len(g.Operations)))
	return out, nil
}

// BaseName returns the undisambiguated identifier of an operation:
// lower-case method, underscore, then the path with braces removed and
// every non-alphanumeric run collapsed to one underscore.
func BaseName(method, path string) string {
	base := strings.ToLower(method)
	if p := naming.Collapse(path); p != "" {
		base += "_" + p
	}
	return base
}

func disambiguator(method, path string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToUpper(method) + " " + path))
	return fmt.Sprintf("%08x", h.Sum32())
}

// assignName derives the unique fn_name of op. A clash with an earlier
// endpoint gets a suffix hashed from method and path; if that is taken too
// the run fails.
func assignName(op *schema.Operation, strategy Naming, used map[string]string) (string, error) {
	base := BaseName(op.Method, op.Path)
	if strategy == NamingOperationID && op.OperationID != "" {
		if s := naming.Snake(op.OperationID); s != "" {
			base = s
		}
	}
	where := strings.ToUpper(op.Method) + " " + op.Path
	name := base
	if prev, taken := used[name]; taken {
		name = base + "_" + disambiguator(op.Method, op.Path)
		if again, stillTaken := used[name]; stillTaken {
			return "", generr.New(generr.IdentifierCollision,
				"%s derives %q, already used by %s, and its disambiguated form %q is used by %s",
				where, base, prev, name, again).WithPointer(op.Pointer).WithEndpoint(base)
		}
	}
	used[name] = where
	return name, nil
}

func describe(g *schema.Graph, m *typemap.Mapper, op *schema.Operation, fn string) (*Descriptor, error) {
	cp := naming.Pascal(fn)
	d := &Descriptor{
		Method:         strings.ToUpper(op.Method),
		Path:           op.Path,
		OperationID:    op.OperationID,
		Summary:        op.Summary,
		Description:    op.Description,
		Tags:           op.Tags,
		Deprecated:     op.Deprecated,
		FnName:         fn,
		EndpointCap:    cp,
		EndpointFS:     fn,
		ParametersType: cp + "Params",
		PropertiesType: cp + "Properties",
		ResponseType:   cp + "Response",
	}
	target := m.Target()

	for _, loc := range locationOrder {
		for _, p := range op.Parameters {
			if Location(p.In) != loc {
				continue
			}
			t, err := m.Map(p.Schema)
			if err != nil {
				return nil, withEndpoint(err, fn)
			}
			d.Parameters = append(d.Parameters, newParameter(target, p.Name, loc, t, p.Required, p.Description, p.Example))
		}
	}

	if rb := op.RequestBody; rb != nil {
		media := preferredMedia(rb.Content)
		t := m.Opaque()
		if media != nil && media.Schema != schema.NoRef {
			var err error
			if t, err = m.Map(media.Schema); err != nil {
				return nil, withEndpoint(err, fn)
			}
		}
		if media != nil {
			d.BodyMediaType = media.MediaType
		}
		d.Body = newParameter(target, "body", Body, t, rb.Required, rb.Description, nil)
		d.Parameters = append(d.Parameters, d.Body)
	}
	uniqueIdents(d.Parameters)

	resp, media := selectResponse(op.Responses)
	d.Response = m.Opaque()
	if resp != nil {
		d.ResponseStatus = resp.Status
		d.ResponseMediaType = media.MediaType
		t, err := m.Map(media.Schema)
		if err != nil {
			return nil, withEndpoint(err, fn)
		}
		d.Response = t
	}
	return d, nil
}

func newParameter(target *typemap.Target, name string, loc Location, t *typemap.Descriptor, required bool, desc string, example any) *Parameter {
	typeName := t.TypeName
	if !required {
		typeName = target.Optional(t.Name)
	}
	ident := target.FieldIdent(name)
	if ident == "" {
		ident = target.FieldIdent("param")
	}
	if desc == "" {
		desc = t.Description
	}
	return &Parameter{
		Name:        name,
		Ident:       ident,
		Location:    loc,
		Type:        t,
		TypeName:    typeName,
		Required:    required,
		Description: desc,
		Example:     example,
	}
}

// uniqueIdents suffixes parameter identifiers that clash, such as a query
// "id" and a header "ID".
func uniqueIdents(params []*Parameter) {
	seen := map[string]bool{}
	for _, p := range params {
		base := p.Ident
		for i := 2; seen[p.Ident]; i++ {
			p.Ident = base + strconv.Itoa(i)
		}
		seen[p.Ident] = true
	}
}

func withEndpoint(err error, fn string) error {
	var ge *generr.Error
	if errors.As(err, &ge) && ge.Endpoint == "" {
		ge.Endpoint = fn
	}
	return err
}

// preferredMedia picks application/json, then any +json type, then the
// first declared media type.
func preferredMedia(content []schema.Media) *schema.Media {
	if len(content) == 0 {
		return nil
	}
	for i := range content {
		if mediaBase(content[i].MediaType) == "application/json" {
			return &content[i]
		}
	}
	for i := range content {
		if strings.HasSuffix(mediaBase(content[i].MediaType), "+json") {
			return &content[i]
		}
	}
	return &content[0]
}

func mediaBase(mt string) string {
	base, _, _ := strings.Cut(mt, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// selectResponse returns the lowest explicit 2xx status with a content
// schema, then a 2XX range response. It returns nil when there is none.
func selectResponse(responses []schema.Response) (*schema.Response, *schema.Media) {
	type candidate struct {
		code int
		idx  int
	}
	var cands []candidate
	for i, r := range responses {
		code, err := strconv.Atoi(r.Status)
		switch {
		case err == nil && code >= 200 && code < 300:
			cands = append(cands, candidate{code, i})
		case strings.EqualFold(r.Status, "2XX"):
			cands = append(cands, candidate{300, i})
		}
	}
	sort.SliceStable(cands, func(a, b int) bool { return cands[a].code < cands[b].code })
	for _, c := range cands {
		r := &responses[c.idx]
		if media := preferredMedia(r.Content); media != nil && media.Schema != schema.NoRef {
			return r, media
		}
	}
	return nil, nil
}
