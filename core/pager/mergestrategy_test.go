package pager_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alexvasilkov/inflow-go/core/pager"
)

func intCompare(a, b int) int { return a - b }

func ptr[T any](v T) *T { return &v }

func TestMergeWithComparator_FindPrependIndex(t *testing.T) {
	m := &pager.MergeWithComparator[int, int]{Compare: intCompare, Unique: true}

	assert.Equal(t, -1, m.FindPrependIndex([]int{5, 6}, nil, nil))

	// First-page reload (refreshKey nil), no overlap: local starts well
	// above the prepend's boundary.
	assert.Equal(t, -1, m.FindPrependIndex([]int{1, 2}, []int{10, 11}, nil))

	// First-page reload with overlap: cut at first local item > 2.
	assert.Equal(t, 1, m.FindPrependIndex([]int{1, 2}, []int{2, 3, 4}, nil))

	// Prepend-newer (refreshKey present): same boundary rule.
	assert.Equal(t, 2, m.FindPrependIndex([]int{1, 2}, []int{1, 2, 3}, ptr(7)))
}

func TestMergeWithComparator_FindAppendIndex(t *testing.T) {
	m := &pager.MergeWithComparator[int, int]{Compare: intCompare, Unique: true}

	assert.Equal(t, -1, m.FindAppendIndex([]int{1, 2, 3}, []int{4}, nil))
	assert.Equal(t, 3, m.FindAppendIndex([]int{1, 2, 3}, nil, ptr(9)))

	// Keep everything strictly less than the next page's first item.
	assert.Equal(t, 2, m.FindAppendIndex([]int{1, 2, 3}, []int{3, 4}, ptr(9)))

	// Entire local list overlaps/duplicates the next page.
	assert.Equal(t, 0, m.FindAppendIndex([]int{3, 4}, []int{1, 2, 3}, ptr(9)))
}

func TestMergeByKeys_FindPrependIndex(t *testing.T) {
	type item struct{ k int }
	m := &pager.MergeByKeys[item, int]{
		KeyOf:       func(i item) int { return i.k },
		CompareKeys: intCompare,
		Unique:      true,
	}

	prepend := []item{{1}, {2}}
	local := []item{{2}, {3}, {4}}
	assert.Equal(t, 1, m.FindPrependIndex(prepend, local, nil))
}

func TestMergeByKeys_NonUniqueIncludesBoundary(t *testing.T) {
	type item struct{ k int }
	unique := &pager.MergeByKeys[item, int]{KeyOf: func(i item) int { return i.k }, CompareKeys: intCompare, Unique: true}
	lax := &pager.MergeByKeys[item, int]{KeyOf: func(i item) int { return i.k }, CompareKeys: intCompare, Unique: false}

	prepend := []item{{1}, {2}}
	local := []item{{2}, {2}, {3}}

	// Unique: boundary is strictly > 2, so the equal-keyed duplicates at
	// the front are dropped from the retained side (left to the prepend).
	assert.Equal(t, 2, unique.FindPrependIndex(prepend, local, nil))
	// Non-unique: >= 2 also cuts at the first equal-keyed item.
	assert.Equal(t, 0, lax.FindPrependIndex(prepend, local, nil))
}
