package spec

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/clafollett/mcpgen/internal/generr"
)

// validateStrict runs kin-openapi's structural validation over doc. External
// refs are resolved relative to the document's own location.
func validateStrict(ctx context.Context, doc *RawDocument) error {
	data, err := json.Marshal(doc.Root.Interface())
	if err != nil {
		return generr.Wrap(generr.SpecLoad, err, "encode for validation").WithLocation(doc.Source)
	}
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true
	loader.Context = ctx

	var t *openapi3.T
	if u, ok := isURL(doc.Source); ok {
		t, err = loader.LoadFromDataWithPath(data, u)
	} else {
		t, err = loader.LoadFromDataWithPath(data, &url.URL{Path: doc.Source})
	}
	if err != nil {
		return mapValidateErr(err, doc.Source)
	}
	if err := t.Validate(ctx); err != nil {
		return mapValidateErr(err, doc.Source)
	}
	return nil
}

func mapValidateErr(err error, location string) error {
	return generr.Wrap(generr.SpecLoad, err, "validate").
		WithLocation(location).
		WithPointer(extractJSONPointer(err))
}

var jsonPtrRe = regexp.MustCompile(`#/[^\s'"]+`)

func extractJSONPointer(err error) string {
	if err == nil {
		return ""
	}
	var me openapi3.MultiError
	if errors.As(err, &me) && len(me) > 0 {
		return extractJSONPointer(me[0])
	}
	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		if parts := se.JSONPointer(); len(parts) > 0 {
			return "#/" + strings.Join(parts, "/")
		}
	}
	if m := jsonPtrRe.FindString(err.Error()); m != "" {
		return m
	}
	return ""
}
