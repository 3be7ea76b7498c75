package feeds

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"Currents/internal/core/content"
)

func itemsByID(ids ...string) []content.Item {
	out := make([]content.Item, len(ids))
	for i, id := range ids {
		out[i] = content.Item{ID: id}
	}
	return out
}

func ids(items []content.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestMergeAppendsUnseenInReverse(t *testing.T) {
	oldest := itemsByID("1", "2", "3")
	// Newest-first tail of the same sequence, racing ahead of oldest.
	newest := itemsByID("6", "5", "4", "3")

	got := Merge(oldest, newest)

	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6"}, ids(got))
}

func TestMergeDedupsByIDOnly(t *testing.T) {
	oldest := []content.Item{{ID: "1", Body: "stale"}}
	newest := []content.Item{{ID: "2", Body: "new"}, {ID: "1", Body: "fresher"}}

	got := Merge(oldest, newest)

	// "1" keeps its oldest-first position even though newest carries a
	// fresher value for it.
	assert.Equal(t, []string{"1", "2"}, ids(got))
	assert.Equal(t, "stale", got[0].Body)
}

func TestMergeDeterministic(t *testing.T) {
	oldest := itemsByID("a", "b")
	newest := itemsByID("d", "c", "b")

	first := Merge(oldest, newest)
	second := Merge(oldest, newest)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(first))
}

func TestMergeEmptyInputs(t *testing.T) {
	assert.Empty(t, Merge(nil, nil))
	assert.Equal(t, []string{"1"}, ids(Merge(itemsByID("1"), nil)))
	assert.Equal(t, []string{"2", "1"}, ids(Merge(nil, itemsByID("1", "2"))))
}
