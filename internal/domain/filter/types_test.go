package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestItemMatch(t *testing.T) {
	tests := []struct {
		item Item
		v    any
		want bool
	}{
		{Eq("id", float64(3)), int64(3), true},
		{Eq("code", "PRJ001"), "PRJ001", true},
		{Eq("code", "PRJ001"), "prj001", false},
		{Eq("code", "01"), int64(1), false},
		{Item{Field: "x", Operator: NotEqual, Value: "a"}, "b", true},
		{Item{Field: "x", Operator: InList, Value: []any{"a", "b"}}, "b", true},
		{Item{Field: "x", Operator: InList, Value: []any{int64(1), int64(2)}}, int64(3), false},
		{Item{Field: "x", Operator: Contains, Value: "corp"}, "Acme Corp", true},
		{Item{Field: "x", Operator: LessOrEqual, Value: 10}, 9.5, true},
		{Item{Field: "x", Operator: GreaterOrEqual, Value: "b"}, "a", false},
		{Item{Field: "x", Operator: IsNull}, nil, true},
		{Item{Field: "x", Operator: IsNotNull}, nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.item.Match(tt.v), "%+v on %v", tt.item, tt.v)
	}
}

func TestItemValidate(t *testing.T) {
	assert.NoError(t, Eq("a", 1).Validate())
	assert.Error(t, Item{Operator: Equal, Value: 1}.Validate())
	assert.Error(t, Item{Field: "a", Operator: Equal}.Validate())
	assert.Error(t, Item{Field: "a", Operator: "like", Value: "x"}.Validate())
	assert.NoError(t, Item{Field: "a", Operator: IsNull}.Validate())
}
