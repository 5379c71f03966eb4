package spec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clafollett/mcpgen/internal/generr"
)

// Settings configures loader behavior.
type Settings struct {
	// HTTPTimeout bounds the single GET issued for URL sources.
	HTTPTimeout time.Duration
	// Strict runs structural OpenAPI validation after parsing.
	Strict bool
	// Client overrides the HTTP client; nil uses one built from HTTPTimeout.
	Client *http.Client
	Logger *zap.Logger
}

// DefaultSettings returns recommended defaults.
func DefaultSettings() Settings {
	return Settings{
		HTTPTimeout: 30 * time.Second,
		Logger:      zap.NewNop(),
	}
}

// Option mutates Settings.
type Option func(*Settings)

func WithHTTPTimeout(d time.Duration) Option { return func(s *Settings) { s.HTTPTimeout = d } }
func WithStrict(strict bool) Option          { return func(s *Settings) { s.Strict = strict } }
func WithHTTPClient(c *http.Client) Option   { return func(s *Settings) { s.Client = c } }
func WithLogger(l *zap.Logger) Option {
	return func(s *Settings) {
		if l != nil {
			s.Logger = l
		}
	}
}

// Load reads a specification from a filesystem path or an http(s) URL and
// returns its raw tree. Swagger 2.0 input is converted to OpenAPI 3.
// Every failure is a generr SpecLoad error carrying the source location.
func Load(ctx context.Context, source string, opts ...Option) (*RawDocument, error) {
	settings := DefaultSettings()
	for _, opt := range opts {
		opt(&settings)
	}
	if strings.TrimSpace(source) == "" {
		return nil, generr.New(generr.SpecLoad, "input is empty")
	}

	data, location, err := readSource(ctx, source, settings)
	if err != nil {
		return nil, err
	}
	settings.Logger.Debug("spec source read", zap.String("location", location), zap.Int("bytes", len(data)))

	doc, err := Parse(data, location)
	if err != nil {
		return nil, err
	}
	if settings.Strict {
		if err := validateStrict(ctx, doc); err != nil {
			return nil, err
		}
	}
	settings.Logger.Info("spec loaded",
		zap.String("location", location),
		zap.String("format", string(doc.Format)),
		zap.String("version", doc.Version),
		zap.Bool("converted", doc.Converted))
	return doc, nil
}

// Parse decodes data read from location into a RawDocument. The location
// is used for error messages and for the extension fallback of format
// detection.
func Parse(data []byte, location string) (*RawDocument, error) {
	format, err := DetectFormat(data, location)
	if err != nil {
		return nil, generr.Wrap(generr.SpecLoad, err, "detect format").WithLocation(location)
	}
	root, err := parseTree(data)
	if err != nil {
		return nil, generr.Wrap(generr.SpecLoad, err, "parse %s", format).WithLocation(location)
	}
	if !root.IsMap() {
		return nil, generr.New(generr.SpecLoad, "document root must be a mapping, got %s", root.Kind).WithLocation(location)
	}

	doc := &RawDocument{Source: location, Format: format, Root: root}
	if v, ok := root.Get("openapi").Str(); ok {
		if !strings.HasPrefix(strings.TrimSpace(v), "3.") {
			return nil, generr.New(generr.SpecLoad, "unsupported openapi version %q (expected 3.x)", v).
				WithLocation(location).WithPointer("#/openapi")
		}
		doc.Version = strings.TrimSpace(v)
		return doc, nil
	}
	if v, ok := root.Get("swagger").Str(); ok {
		if strings.TrimSpace(v) != "2.0" {
			return nil, generr.New(generr.SpecLoad, "unsupported swagger version %q (expected 2.0)", v).
				WithLocation(location).WithPointer("#/swagger")
		}
		converted, err := convertV2(root)
		if err != nil {
			return nil, generr.Wrap(generr.SpecLoad, err, "convert swagger 2.0 to openapi 3").WithLocation(location)
		}
		doc.Root = converted
		doc.Version = converted.Get("openapi").String()
		doc.Converted = true
		return doc, nil
	}
	return nil, generr.New(generr.SpecLoad, "missing version (expected 'openapi: 3.x' or 'swagger: 2.0')").WithLocation(location)
}

// DetectFormat sniffs the serialization of data. Content starting with '{'
// or '[' that is valid JSON is JSON; content starting that way but not valid
// JSON falls back to the extension of location (default YAML); anything else
// is YAML.
func DetectFormat(data []byte, location string) (Format, error) {
	trimmed := bytes.TrimSpace(data)
	trimmed = bytes.TrimPrefix(trimmed, []byte("\xef\xbb\xbf"))
	if len(trimmed) == 0 {
		return "", fmt.Errorf("content is empty")
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return FormatYAML, nil
	}
	if json.Valid(trimmed) {
		return FormatJSON, nil
	}
	if strings.EqualFold(extension(location), ".json") {
		return FormatJSON, nil
	}
	return FormatYAML, nil
}

func extension(location string) string {
	if u, err := url.Parse(location); err == nil && u.Scheme != "" && u.Host != "" {
		return filepath.Ext(u.Path)
	}
	return filepath.Ext(location)
}

// isURL reports whether source parses as an absolute URL with a host.
func isURL(source string) (*url.URL, bool) {
	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" {
		return nil, false
	}
	if strings.EqualFold(u.Scheme, "file") {
		return u, true
	}
	return u, u.Host != ""
}

func readSource(ctx context.Context, source string, settings Settings) ([]byte, string, error) {
	if u, ok := isURL(source); ok {
		scheme := strings.ToLower(u.Scheme)
		if scheme == "file" {
			return nil, source, generr.New(generr.SpecLoad, "file:// URLs are not supported; pass a filesystem path").WithLocation(source)
		}
		if scheme != "http" && scheme != "https" {
			return nil, source, generr.New(generr.SpecLoad, "unsupported URL scheme %q (only http/https allowed)", scheme).WithLocation(source)
		}
		data, err := fetch(ctx, source, settings)
		if err != nil {
			return nil, source, generr.Wrap(generr.SpecLoad, err, "fetch %s", source).WithLocation(source)
		}
		return data, source, nil
	}

	abs, err := filepath.Abs(source)
	if err != nil {
		return nil, source, generr.Wrap(generr.SpecLoad, err, "resolve path").WithLocation(source)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, abs, generr.Wrap(generr.SpecLoad, err, "read file").WithLocation(abs)
	}
	return data, abs, nil
}

// fetch issues exactly one GET; there is no retry.
func fetch(ctx context.Context, rawURL string, settings Settings) ([]byte, error) {
	client := settings.Client
	if client == nil {
		client = &http.Client{Timeout: settings.HTTPTimeout}
	}
	if settings.HTTPTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.HTTPTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return io.ReadAll(resp.Body)
}
