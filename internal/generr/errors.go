// Package generr defines the error taxonomy shared by every generation stage.
//
// Each stage fails fast with a single *Error whose Kind classifies the failure.
// Callers match kinds with errors.Is against the sentinels below, or pull the
// structured value out with errors.As to read its location fields.
package generr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes generation errors.
type Kind string

const (
	SpecLoad            Kind = "SpecLoad"
	RefResolution       Kind = "RefResolution"
	TypeMapping         Kind = "TypeMapping"
	IdentifierCollision Kind = "IdentifierCollision"
	ManifestValidation  Kind = "ManifestValidation"
	Render              Kind = "Render"
	Io                  Kind = "Io"
	Hook                Kind = "Hook"
)

// Sentinels for errors.Is.
var (
	ErrSpecLoad            = errors.New("spec load error")
	ErrRefResolution       = errors.New("reference resolution error")
	ErrTypeMapping         = errors.New("type mapping error")
	ErrIdentifierCollision = errors.New("identifier collision")
	ErrManifestValidation  = errors.New("manifest validation error")
	ErrRender              = errors.New("render error")
	ErrIo                  = errors.New("io error")
	ErrHook                = errors.New("hook error")
)

var sentinels = map[Kind]error{
	SpecLoad:            ErrSpecLoad,
	RefResolution:       ErrRefResolution,
	TypeMapping:         ErrTypeMapping,
	IdentifierCollision: ErrIdentifierCollision,
	ManifestValidation:  ErrManifestValidation,
	Render:              ErrRender,
	Io:                  ErrIo,
	Hook:                ErrHook,
}

// Error is a classified failure with enough context to diagnose it without
// re-running: the spec location, a JSON pointer, the endpoint or the output
// file involved. Unused context fields are left empty.
type Error struct {
	Kind     Kind
	Message  string
	Location string // file path or URL of the specification
	Pointer  string // JSON pointer, e.g. "#/paths/~1pets/get"
	Endpoint string // derived endpoint identifier
	File     string // output destination relative to the output directory
	Cause    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Pointer != "" {
		b.WriteString(" (at ")
		b.WriteString(e.Pointer)
		b.WriteString(")")
	}
	if e.Endpoint != "" {
		b.WriteString(" [endpoint ")
		b.WriteString(e.Endpoint)
		b.WriteString("]")
	}
	if e.File != "" {
		b.WriteString(" [file ")
		b.WriteString(e.File)
		b.WriteString("]")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && target == s
}

// New returns an *Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error of the given kind carrying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithLocation sets the spec location and returns e for chaining.
func (e *Error) WithLocation(loc string) *Error { e.Location = loc; return e }

// WithPointer sets the JSON pointer and returns e for chaining.
func (e *Error) WithPointer(ptr string) *Error { e.Pointer = ptr; return e }

// WithEndpoint sets the endpoint identifier and returns e for chaining.
func (e *Error) WithEndpoint(id string) *Error { e.Endpoint = id; return e }

// WithFile sets the output destination and returns e for chaining.
func (e *Error) WithFile(rel string) *Error { e.File = rel; return e }

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind, true
	}
	return "", false
}
