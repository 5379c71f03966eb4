package generr

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesOnlyItsKind(t *testing.T) {
	t.Parallel()

	err := New(RefResolution, "unresolved %s", "#/components/schemas/Missing")
	assert.True(t, errors.Is(err, ErrRefResolution))
	assert.False(t, errors.Is(err, ErrTypeMapping))

	wrapped := fmt.Errorf("resolve: %w", err)
	assert.True(t, errors.Is(wrapped, ErrRefResolution))

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, RefResolution, kind)
}

func TestErrorMessageCarriesContext(t *testing.T) {
	t.Parallel()

	err := Wrap(Io, fs.ErrPermission, "write file").WithFile("src/main.go")
	assert.Equal(t, "Io: write file [file src/main.go]: permission denied", err.Error())
	assert.True(t, errors.Is(err, fs.ErrPermission))

	err = New(RefResolution, "ref %q not found", "#/components/schemas/X").WithPointer("#/paths/~1pets/get")
	assert.Contains(t, err.Error(), "(at #/paths/~1pets/get)")

	_, ok := KindOf(errors.New("plain"))
	assert.False(t, ok)
}
