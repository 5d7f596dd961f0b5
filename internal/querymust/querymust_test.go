package querymust_test

import (
	"testing"

	"github.com/gravitycar/dnd1strag/internal/querymust"
	"github.com/stretchr/testify/require"
)

func TestSatisfiesNilPredicateAlwaysPasses(t *testing.T) {
	require.True(t, querymust.Satisfies("anything", nil))
}

func TestSatisfiesContain(t *testing.T) {
	p := &querymust.Predicate{Contain: "owlbear"}
	require.True(t, querymust.Satisfies("tell me about the owlbears", p))
	require.True(t, querymust.Satisfies("an OWLBEAR attacks", p))
	require.False(t, querymust.Satisfies("a bugbear attacks", p))
}

func TestSatisfiesContainOneOf(t *testing.T) {
	p := &querymust.Predicate{ContainOneOf: [][]string{
		{"cleric", "clerics", "druid", "druids"},
		{"ac 6", "armor class 6", "a.c. 6"},
	}}
	require.True(t, querymust.Satisfies("what does a 7th level cleric need to roll to hit AC 6?", p))
	require.False(t, querymust.Satisfies("what does a 7th level cleric need to roll to hit AC 5?", p))
	require.False(t, querymust.Satisfies("what does a fighter need to roll to hit AC 6?", p))
}

func TestSatisfiesContainAllOf(t *testing.T) {
	p := &querymust.Predicate{ContainAllOf: []string{"fire", "resistance"}}
	require.True(t, querymust.Satisfies("does fire resistance apply here", p))
	require.False(t, querymust.Satisfies("does cold resistance apply here", p))
}

func TestSatisfiesContainRange(t *testing.T) {
	p := &querymust.Predicate{
		ContainOneOf: [][]string{{"psionic", "psychic"}},
		ContainRange: &querymust.Range{Min: 10, Max: 13},
	}
	require.True(t, querymust.Satisfies("intelligence 12 psionic blast", p))
	require.False(t, querymust.Satisfies("intelligence 8 psionic blast", p))
}

func TestParseMalformedJSONIsFailOpen(t *testing.T) {
	_, err := querymust.Parse(`{not json`)
	require.Error(t, err)
	// Satisfies itself cannot fail-open on a parse error since it takes
	// an already-parsed *Predicate; callers are responsible for
	// treating a Parse error as "absent" (see internal/retrieval).
}

func TestParseEmptyStringIsAbsent(t *testing.T) {
	p, err := querymust.Parse("")
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestExtractInts(t *testing.T) {
	require.Equal(t, []int{12}, querymust.ExtractInts("intelligence 12 psionic blast"))
	// "7th" has no trailing word boundary before "th", so \b\d+\b only
	// picks up the standalone "6".
	require.Equal(t, []int{6}, querymust.ExtractInts("what does a 7th level cleric need to roll to hit AC 6?"))
}

func TestSatisfiesIsPure(t *testing.T) {
	p := &querymust.Predicate{Contain: "owlbear"}
	a := querymust.Satisfies("the owlbears roam", p)
	b := querymust.Satisfies("the owlbears roam", p)
	require.Equal(t, a, b)
}
