package cset

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func members(s *Set[int]) []int {
	out := s.Slice()
	sort.Ints(out)
	return out
}

func TestSet_ZeroValueIsEmpty(t *testing.T) {
	var s Set[int]
	assert.True(t, s.IsEmpty())
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Has(1))
	assert.False(t, s.Remove(1))
	assert.Empty(t, s.Slice())
}

func TestSet_AddIsIdempotent(t *testing.T) {
	for _, size := range []int{1, 2, Few, Few + 1, 200} {
		var s Set[int]
		for i := 0; i < size; i++ {
			require.True(t, s.Add(i))
		}
		for i := 0; i < size; i++ {
			assert.False(t, s.Add(i), "size %d member %d", size, i)
		}
		assert.Equal(t, size, s.Len())

		// a single remove fully removes a member that was added twice
		require.True(t, s.Remove(0))
		assert.False(t, s.Has(0))
		assert.Equal(t, size-1, s.Len())
	}
}

func TestSet_ThresholdsAreExact(t *testing.T) {
	var s Set[int]
	for i := 0; i < Few; i++ {
		s.Add(i)
	}
	assert.Zero(t, s.Buckets(), "linear up to Few members")

	s.Add(Few)
	assert.NotZero(t, s.Buckets(), "hashed past Few members")

	s.Remove(Few)
	assert.Zero(t, s.Buckets(), "linear again at Few members")

	// alternating at the boundary switches every time
	for i := 0; i < 10; i++ {
		s.Add(100)
		assert.NotZero(t, s.Buckets())
		s.Remove(100)
		assert.Zero(t, s.Buckets())
	}
	assert.Equal(t, []int{0, 1, 2, 3}, members(&s))
}

func TestSet_TransitionsPreserveMembers(t *testing.T) {
	var s Set[int]
	want := map[int]bool{}
	const n = 5000

	for i := 0; i < n; i++ {
		s.Add(i * 7)
		want[i*7] = true
	}
	require.Equal(t, n, s.Len())
	assert.Greater(t, s.Buckets(), minBuckets, "grows past the minimum bucket count")

	// remove every other member, then shrink all the way down
	for i := 0; i < n; i += 2 {
		require.True(t, s.Remove(i*7))
		delete(want, i*7)
	}
	require.Equal(t, len(want), s.Len())
	for v := range want {
		require.True(t, s.Has(v), "member %d", v)
	}

	for v := range want {
		require.True(t, s.Remove(v))
		delete(want, v)
		require.Equal(t, len(want), s.Len())
		if len(want) == 3 {
			got := members(&s)
			var exp []int
			for k := range want {
				exp = append(exp, k)
			}
			sort.Ints(exp)
			assert.Equal(t, exp, got)
		}
	}
	assert.True(t, s.IsEmpty())
	assert.Zero(t, s.Buckets())
}

func TestSet_RemoveNonMember(t *testing.T) {
	for _, size := range []int{1, 3, 40} {
		var s Set[int]
		for i := 0; i < size; i++ {
			s.Add(i)
		}
		assert.False(t, s.Remove(-1))
		assert.Equal(t, size, s.Len())
	}
}

func TestSet_ForEachStopsEarly(t *testing.T) {
	var s Set[int]
	for i := 0; i < 100; i++ {
		s.Add(i)
	}
	seen := 0
	s.ForEach(func(int) bool {
		seen++
		return seen < 10
	})
	assert.Equal(t, 10, seen)
}

func TestSet_PointerHandles(t *testing.T) {
	type node struct{ id int }
	var s Set[*node]
	nodes := make([]*node, 64)
	for i := range nodes {
		nodes[i] = &node{id: i}
		s.Add(nodes[i])
	}
	// a distinct pointer with equal contents is a different member
	assert.False(t, s.Has(&node{id: 3}))
	for _, n := range nodes {
		assert.True(t, s.Has(n))
	}
	s.Clear()
	assert.True(t, s.IsEmpty())
}
