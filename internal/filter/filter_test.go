package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type record struct {
	name   string
	values []string
	park   bool
}

func project(r record) []string { return r.values }

func names(rs []record) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.name)
	}
	return out
}

var haystack = []record{
	{name: "a", values: []string{"Foo"}},
	{name: "b", values: []string{"Foobar"}},
	{name: "c", values: []string{"Foo Bar"}},
	{name: "d", values: []string{"Other"}, park: true},
	{name: "e", values: nil},
}

func TestSearchNoNeedlesReturnsHaystack(t *testing.T) {
	for _, needles := range [][]string{nil, {}, {"  "}, {"~"}, {"~   ", ""}} {
		got := Search(needles, haystack, project, nil)
		assert.Equal(t, haystack, got, "needles %q", needles)
	}
}

func TestSearchExactAndFuzzy(t *testing.T) {
	tests := []struct {
		name    string
		needles []string
		want    []string
	}{
		{name: "exact only matches equal value", needles: []string{"Foo"}, want: []string{"a"}},
		{name: "exact is trimmed", needles: []string{"  Foo "}, want: []string{"a"}},
		{name: "exact is case sensitive", needles: []string{"foo"}, want: []string{}},
		{name: "fuzzy matches substrings case-insensitively", needles: []string{"~foo"}, want: []string{"a", "b", "c"}},
		{name: "fuzzy is trimmed", needles: []string{"~  BAR "}, want: []string{"b", "c"}},
		{name: "needles are ORed", needles: []string{"Other", "~bar"}, want: []string{"b", "c", "d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, names(Search(tt.needles, haystack, project, nil)))
		})
	}
}

func TestSearchCustomPredicate(t *testing.T) {
	or := func(r record, needle string) bool { return needle == "parkCity" && r.park }

	got := Search([]string{"parkCity"}, haystack, project, or)
	assert.Equal(t, []string{"d"}, names(got))

	got = Search([]string{"parkCity", "Foo"}, haystack, project, or)
	assert.Equal(t, []string{"a", "d"}, names(got))
}

func TestSearchUnionIsMonotonic(t *testing.T) {
	n1 := []string{"Foo"}
	n2 := []string{"~bar"}
	union := append(append([]string{}, n1...), n2...)

	r1 := Search(n1, haystack, project, nil)
	r2 := Search(n2, haystack, project, nil)
	ru := Search(union, haystack, project, nil)

	assert.GreaterOrEqual(t, len(ru), len(r1))
	assert.GreaterOrEqual(t, len(ru), len(r2))
}
