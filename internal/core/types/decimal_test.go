package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumber(t *testing.T) {
	n, err := ParseNumber(" 12,5 ")
	require.NoError(t, err)
	assert.Equal(t, "12.5", n.String())

	_, err = ParseNumber("")
	assert.Error(t, err)

	_, err = ParseNumber("abc")
	assert.Error(t, err)
}

func TestRange(t *testing.T) {
	lo, hi := MustNumber("0"), MustNumber("100")
	r := Range{Min: &lo, Max: &hi}

	assert.True(t, r.Contains(MustNumber("0")))
	assert.True(t, r.Contains(MustNumber("100")))
	assert.False(t, r.Contains(MustNumber("100.01")))
	assert.False(t, r.Contains(MustNumber("-1")))
	assert.Equal(t, "100", r.Clamp(MustNumber("250")).String())
	assert.Equal(t, "[0, 100]", r.String())

	open := Range{Min: &lo}
	assert.True(t, open.Contains(MustNumber("1e9")))
	assert.True(t, Range{}.IsZero())
}
