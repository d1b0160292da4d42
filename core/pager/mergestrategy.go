package pager

// Comparator orders two items, the usual -1/0/+1 convention.
type Comparator[T any] func(a, b T) int

// MergeWithComparator implements spec §4.10's ordered-items merge
// strategy: boundaries are found by comparing items directly.
type MergeWithComparator[T, K any] struct {
	Compare Comparator[T]
	// Unique marks item ordering as strictly unique; it relaxes the
	// boundary comparison from strict (>/<) to inclusive (>=/<=) when
	// false, so same-keyed items on the boundary aren't silently
	// dropped from the retained side.
	Unique bool
}

func (m *MergeWithComparator[T, K]) FindPrependIndex(prepend []T, list []T, forRefreshKey *K) int {
	if len(list) == 0 {
		return -1
	}
	if len(prepend) == 0 {
		return 0
	}
	last := prepend[len(prepend)-1]

	if forRefreshKey == nil {
		first, lastLocal := list[0], list[len(list)-1]
		if m.Compare(first, last) > 0 || m.Compare(lastLocal, last) < 0 {
			return -1
		}
	}

	for i, v := range list {
		cmp := m.Compare(v, last)
		if m.Unique {
			if cmp > 0 {
				return i
			}
		} else if cmp >= 0 {
			return i
		}
	}
	return len(list)
}

func (m *MergeWithComparator[T, K]) FindAppendIndex(list []T, nextPage []T, forNextKey *K) int {
	if forNextKey == nil {
		return -1
	}
	if len(nextPage) == 0 {
		return len(list)
	}
	first := nextPage[0]

	for i := len(list) - 1; i >= 0; i-- {
		cmp := m.Compare(list[i], first)
		if m.Unique {
			if cmp < 0 {
				return i + 1
			}
		} else if cmp <= 0 {
			return i + 1
		}
	}
	return 0
}

// MergeByKeys implements spec §4.10's key-ordered merge strategy: the
// same boundary search as MergeWithComparator, but over a key extracted
// from each item rather than the item itself. When keys are non-unique,
// the caller's loader must return every item sharing the requested
// boundary key so none are lost across the cut (spec §4.10
// "MergeByKeys").
type MergeByKeys[T, K any] struct {
	KeyOf       func(T) K
	CompareKeys Comparator[K]
	Unique      bool
}

func (m *MergeByKeys[T, K]) FindPrependIndex(prepend []T, list []T, forRefreshKey *K) int {
	if len(list) == 0 {
		return -1
	}
	if len(prepend) == 0 {
		return 0
	}
	lastKey := m.KeyOf(prepend[len(prepend)-1])

	if forRefreshKey == nil {
		firstKey, lastLocalKey := m.KeyOf(list[0]), m.KeyOf(list[len(list)-1])
		if m.CompareKeys(firstKey, lastKey) > 0 || m.CompareKeys(lastLocalKey, lastKey) < 0 {
			return -1
		}
	}

	for i, v := range list {
		cmp := m.CompareKeys(m.KeyOf(v), lastKey)
		if m.Unique {
			if cmp > 0 {
				return i
			}
		} else if cmp >= 0 {
			return i
		}
	}
	return len(list)
}

func (m *MergeByKeys[T, K]) FindAppendIndex(list []T, nextPage []T, forNextKey *K) int {
	if forNextKey == nil {
		return -1
	}
	if len(nextPage) == 0 {
		return len(list)
	}
	firstKey := m.KeyOf(nextPage[0])

	for i := len(list) - 1; i >= 0; i-- {
		cmp := m.CompareKeys(m.KeyOf(list[i]), firstKey)
		if m.Unique {
			if cmp < 0 {
				return i + 1
			}
		} else if cmp <= 0 {
			return i + 1
		}
	}
	return 0
}
