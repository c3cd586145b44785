package metadata

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specforge/internal/core/apperror"
)

const testCatalog = `
patterns:
  - name: Zip
    regex: '^[0-9]{5}$'
    example: "00000"
enums:
  - name: Status
    values:
      - {internal: A, external: Active}
      - {internal: I, external: Inactive}
aggregates:
  - name: Address
    render: '{street}, {zip} {city}'
    fields:
      - {name: street, type: text}
      - {name: zip, type: string}
      - {name: city, type: text}
`

func TestLoadCatalog(t *testing.T) {
	c, err := LoadCatalog(strings.NewReader(testCatalog))
	require.NoError(t, err)

	zip, ok := c.Resolve("zip")
	require.True(t, ok)
	assert.Equal(t, KindPattern, zip.Kind)
	assert.Equal(t, "00000", zip.Neutral())

	status, ok := c.Resolve("Status")
	require.True(t, ok)
	assert.Equal(t, "A", status.Neutral())
	internal, ok := status.Enum.Normalize("inactive")
	assert.True(t, ok)
	assert.Equal(t, "I", internal)
	ext, _ := status.Enum.External("A")
	assert.Equal(t, "Active", ext)

	addr, ok := c.Resolve("Address")
	require.True(t, ok)
	assert.Equal(t, "Main St 1, 12345 Springfield",
		addr.Aggregate.RenderValues(map[string]any{"street": "Main St 1", "zip": "12345", "city": "Springfield"}))

	num, ok := c.Resolve("decimal")
	require.True(t, ok)
	assert.Equal(t, ScalarReal, num.Scalar)

	assert.Len(t, c.Types(), 3)
	assert.True(t, c.Declared("status"))
	assert.False(t, c.Declared("text"))
}

func TestLoadCatalogErrors(t *testing.T) {
	tests := map[string]string{
		"bad regex":          "patterns:\n  - {name: P, regex: '([a-z'}\n",
		"example mismatch":   "patterns:\n  - {name: P, regex: '^[a-z]+$', example: '123'}\n",
		"empty enum":         "enums:\n  - {name: E, values: []}\n",
		"duplicate enum val": "enums:\n  - name: E\n    values: [{internal: A}, {internal: A}]\n",
		"builtin collision":  "patterns:\n  - {name: Text, regex: '.*'}\n",
		"duplicate type":     "patterns:\n  - {name: P, regex: '.*'}\nenums:\n  - name: p\n    values: [{internal: A}]\n",
		"non scalar field":   "aggregates:\n  - name: G\n    fields: [{name: x, type: Address}]\n",
		"bad placeholder":    "aggregates:\n  - name: G\n    render: '{y}'\n    fields: [{name: x, type: text}]\n",
		"unknown key":        "patterns:\n  - {name: P, regex: '.*', colour: red}\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadCatalog(strings.NewReader(doc))
			require.Error(t, err)
			assert.True(t, apperror.HasCode(err, apperror.CodeCatalog))
		})
	}
}

func TestLoadCatalogEmpty(t *testing.T) {
	c, err := LoadCatalog(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, c.Types())

	c, err = LoadCatalogFile("")
	require.NoError(t, err)
	assert.Empty(t, c.Types())
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		scalar Scalar
		in     any
		want   any
		err    bool
	}{
		{ScalarInteger, "42", int64(42), false},
		{ScalarInteger, " 007 ", int64(7), false},
		{ScalarInteger, "4.5", nil, true},
		{ScalarInteger, 3, int64(3), false},
		{ScalarReal, "12,5", 12.5, false},
		{ScalarReal, "abc", nil, true},
		{ScalarBoolean, "yes", true, false},
		{ScalarBoolean, "false", false, false},
		{ScalarDate, "2024-03-01", "2024-03-01", false},
		{ScalarDate, "01.03.2024", "2024-03-01", false},
		{ScalarDate, "not a date", nil, true},
		{ScalarText, 12, "12", false},
	}
	for _, tt := range tests {
		got, err := Coerce(tt.scalar, tt.in)
		if tt.err {
			assert.Error(t, err, "%s %v", tt.scalar, tt.in)
			continue
		}
		require.NoError(t, err, "%s %v", tt.scalar, tt.in)
		assert.Equal(t, tt.want, got, "%s %v", tt.scalar, tt.in)
	}
}

func TestNeutralValues(t *testing.T) {
	assert.Equal(t, int64(0), NeutralScalar(ScalarInteger))
	assert.Equal(t, float64(0), NeutralScalar(ScalarReal))
	assert.Equal(t, "", NeutralScalar(ScalarText))
	assert.Equal(t, NeutralDate, NeutralScalar(ScalarDate))
	assert.Equal(t, false, NeutralScalar(ScalarBoolean))
	assert.True(t, IsEmpty(nil))
	assert.True(t, IsEmpty("  "))
	assert.False(t, IsEmpty(0))
}
