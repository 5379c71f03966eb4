package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"petId", []string{"pet", "id"}},
		{"HTTPServer", []string{"http", "server"}},
		{"/pets/{id}", []string{"pets", "id"}},
		{"list-all_items", []string{"list", "all", "items"}},
		{"v2Items", []string{"v2", "items"}},
		{"", nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Words(tt.in))
		})
	}
}

func TestCaseConversions(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "get_pets_id", Snake("get_pets_id"))
	assert.Equal(t, "list_pets", Snake("listPets"))
	assert.Equal(t, "GetPetsId", Pascal("get_pets_id"))
	assert.Equal(t, "ListPets", Pascal("listPets"))
	assert.Equal(t, "listPets", Camel("list_pets"))
	assert.Equal(t, "", Camel(""))
}

func TestCollapse(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "pets_id", Collapse("/pets/{id}"))
	assert.Equal(t, "a_b", Collapse("--A..b--"))
	assert.Equal(t, "", Collapse("/"))
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "in_progress", Sanitize("in-progress"))
	assert.Equal(t, "V1st", Sanitize("1st"))
	assert.Equal(t, "Empty", Sanitize(""))
	assert.Equal(t, "a_b", Sanitize("a b"))
	assert.Equal(t, "caf_", Sanitize("café"))
}

func TestEscape(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "type_", Escape("type", GoReserved))
	assert.Equal(t, "Type", Escape("Type", GoReserved))
	assert.Equal(t, "Self_", Escape("Self", RustReserved))
	assert.Equal(t, "Name", Escape("Name", GoReserved))
	assert.Equal(t, "fn_", Escape("fn", RustReserved))
}
