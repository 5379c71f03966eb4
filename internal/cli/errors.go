package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/clafollett/mcpgen/internal/generr"
	"github.com/clafollett/mcpgen/internal/pipeline"
)

var ErrUsage = errors.New("cli usage error")

type usageError struct {
	msg   string
	cause error
}

func newUsageError(msg string) error {
	return usageError{msg: msg}
}

func (e usageError) Error() string {
	return e.msg
}

func (e usageError) Is(target error) bool {
	return target == ErrUsage
}

func (e usageError) Unwrap() error { return e.cause }

// describeError renders a generation error with one line per context
// field. Problems the user can fix in their input become usage errors.
func describeError(err error) error {
	var ge *generr.Error
	if !errors.As(err, &ge) {
		return err
	}
	var b strings.Builder
	var re *pipeline.RunError
	if errors.As(err, &re) {
		fmt.Fprintf(&b, "%s -> %s: ", re.Template, re.OutputDir)
	}
	b.WriteString(stageLabels[ge.Kind])
	b.WriteString(": ")
	b.WriteString(ge.Message)
	if ge.Cause != nil {
		b.WriteString(": ")
		b.WriteString(ge.Cause.Error())
	}
	for _, l := range []struct{ label, value string }{
		{"Location", ge.Location},
		{"Pointer", ge.Pointer},
		{"Endpoint", ge.Endpoint},
		{"File", ge.File},
	} {
		if l.value != "" {
			fmt.Fprintf(&b, "\n%s: %s", l.label, l.value)
		}
	}
	switch ge.Kind {
	case generr.SpecLoad, generr.RefResolution, generr.ManifestValidation, generr.IdentifierCollision:
		return usageError{msg: b.String(), cause: err}
	}
	return generationError{msg: b.String(), err: err}
}

var stageLabels = map[generr.Kind]string{
	generr.SpecLoad:            "spec",
	generr.RefResolution:       "schema",
	generr.TypeMapping:         "types",
	generr.IdentifierCollision: "endpoints",
	generr.ManifestValidation:  "manifest",
	generr.Render:              "render",
	generr.Io:                  "output",
	generr.Hook:                "hook",
}

// generationError keeps the underlying error reachable for errors.Is
// while printing the described form.
type generationError struct {
	msg string
	err error
}

func (e generationError) Error() string { return e.msg }
func (e generationError) Unwrap() error { return e.err }
