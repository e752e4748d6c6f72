package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vitaliisemenov/featureflag/internal/model"
)

func TestComparator_OperatorClosure(t *testing.T) {
	c := NewComparator(nil)

	cases := []struct {
		name     string
		actual   model.Value
		op       model.Operator
		expected model.Value
		want     bool
	}{
		{"eq match", model.NewString("foo"), model.OpEqual, model.NewString("foo"), true},
		{"eq mismatch", model.NewString("foo"), model.OpEqual, model.NewString("bar"), false},
		{"ne", model.NewString("foo"), model.OpNotEqual, model.NewString("bar"), true},
		{"eq_ci", model.NewString("FOO"), model.OpEqualCI, model.NewString("foo"), true},
		{"ne_ci", model.NewString("FOO"), model.OpNotEqualCI, model.NewString("foo"), false},
		{"lt numeric", model.NewString("5"), model.OpLess, model.NewString("10"), true},
		{"lt lexicographic fallback", model.NewString("abc"), model.OpLess, model.NewString("abd"), true},
		{"gte numeric", model.NewString("10"), model.OpGreaterEqual, model.NewString("10"), true},
		{"in list", model.NewString("beta"), model.OpIn, model.NewArray([]model.Value{model.NewString("beta"), model.NewString("admin")}), true},
		{"in csv string", model.NewString("BETA"), model.OpIn, model.NewString("beta, admin"), true},
		{"not_in", model.NewString("guest"), model.OpNotIn, model.NewString("beta,admin"), true},
		{"contains", model.NewString("Hello World"), model.OpContains, model.NewString("world"), true},
		{"starts_with", model.NewString("prefix-x"), model.OpStartsWith, model.NewString("prefix"), true},
		{"starts_with_ci", model.NewString("PREFIX-x"), model.OpStartsWithCI, model.NewString("prefix"), true},
		{"ends_with", model.NewString("x-suffix"), model.OpEndsWith, model.NewString("suffix"), true},
		{"regex match", model.NewString("v123"), model.OpRegex, model.NewString("^v[0-9]+$"), true},
		{"regex no match", model.NewString("abc"), model.OpRegex, model.NewString("^v[0-9]+$"), false},
		{"regex invalid pattern", model.NewString("abc"), model.OpRegex, model.NewString("("), false},
		{"unknown operator", model.NewString("abc"), model.Operator("nope"), model.NewString("abc"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.Compare(tc.actual, tc.op, tc.expected)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestComparator_RegexCacheReusesCompiled(t *testing.T) {
	c := NewComparator(nil)
	assert.True(t, c.Compare(model.NewString("abc123"), model.OpRegex, model.NewString("[a-z]+[0-9]+")))
	// second call should hit the cache path and still behave correctly
	assert.True(t, c.Compare(model.NewString("xyz987"), model.OpRegex, model.NewString("[a-z]+[0-9]+")))
	assert.False(t, c.Compare(model.NewString("???"), model.OpRegex, model.NewString("[a-z]+[0-9]+")))
}
