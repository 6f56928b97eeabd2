// Package cset implements a size-adaptive set of handles. Most dependency
// targets are read by one or two formulas, so the set keeps small
// cardinalities inline and only switches to hashed segmented buckets once it
// holds more than Few members.
package cset

import "hash/maphash"

// Few is the capacity of the linear representation. Thresholds are exact in
// both directions: the set becomes hashed when a (Few+1)th member is added and
// becomes linear again as soon as it drops back to Few members.
const Few = 4

// SegmentSize is the number of members stored in one bucket segment.
const SegmentSize = 29

const (
	minBuckets = 11
	maxBuckets = 13845163
)

// spacedPrimes are the bucket counts used when growing the hashed form.
var spacedPrimes = []int{
	11, 19, 37, 73, 109, 163, 251, 367, 557, 823, 1237, 1861, 2777, 4177,
	6247, 9371, 14057, 21089, 31627, 47431, 71143, 106721, 160073, 240101,
	360163, 540217, 810343, 1215497, 1823231, 2734867, 4102283, 6153409,
	9230113, 13845163,
}

var seed = maphash.MakeSeed()

// segment is one fixed-size chunk of a bucket chain. only the head segment of
// a chain is ever partially filled.
type segment[T comparable] struct {
	data  [SegmentSize]T
	count int
	next  *segment[T]
}

// Set is a set of comparable handles. the zero value is an empty set ready
// to use. iteration order is unspecified.
type Set[T comparable] struct {
	n       int
	one     T
	few     []T
	buckets []*segment[T]
}

// Len returns the number of members
func (s *Set[T]) Len() int {
	return s.n
}

// IsEmpty reports whether the set has no members
func (s *Set[T]) IsEmpty() bool {
	return s.n == 0
}

// Has reports whether v is a member
func (s *Set[T]) Has(v T) bool {
	switch {
	case s.n == 0:
		return false
	case s.n == 1:
		return s.one == v
	case s.n <= Few:
		for _, x := range s.few {
			if x == v {
				return true
			}
		}
		return false
	default:
		return chainFind(s.buckets[s.bucket(v, len(s.buckets))], v)
	}
}

// Add inserts v. adding an existing member is a no-op. returns true when v
// was not already present.
func (s *Set[T]) Add(v T) bool {
	switch {
	case s.n == 0:
		s.one = v
	case s.n == 1:
		if s.one == v {
			return false
		}
		// one -> few
		s.few = make([]T, 2, Few)
		s.few[0], s.few[1] = s.one, v
		var zero T
		s.one = zero
	case s.n <= Few:
		for _, x := range s.few {
			if x == v {
				return false
			}
		}
		if s.n < Few {
			s.few = append(s.few, v)
			break
		}
		// few -> many
		s.buckets = make([]*segment[T], minBuckets)
		for _, x := range s.few {
			chainInsert(&s.buckets[s.bucket(x, minBuckets)], x)
		}
		s.few = nil
		chainInsert(&s.buckets[s.bucket(v, minBuckets)], v)
	default:
		nb := len(s.buckets)
		head := &s.buckets[s.bucket(v, nb)]
		if chainFind(*head, v) {
			return false
		}
		chainInsert(head, v)
		if s.n > SegmentSize*nb && nb < maxBuckets {
			s.resize(closestPrime(s.n / (SegmentSize / 2)))
		}
	}
	s.n++
	return true
}

// Remove deletes v. removing a non-member is a no-op. returns true when v was
// present.
func (s *Set[T]) Remove(v T) bool {
	switch {
	case s.n == 0:
		return false
	case s.n == 1:
		if s.one != v {
			return false
		}
		var zero T
		s.one = zero
		s.n = 0
		return true
	case s.n <= Few:
		for i, x := range s.few {
			if x != v {
				continue
			}
			last := len(s.few) - 1
			s.few[i] = s.few[last]
			s.few = s.few[:last]
			s.n--
			if s.n == 1 {
				// few -> one
				s.one = s.few[0]
				s.few = nil
			}
			return true
		}
		return false
	}

	if !chainRemove(&s.buckets[s.bucket(v, len(s.buckets))], v) {
		return false
	}
	s.n--
	if s.n <= Few {
		// many -> few
		few := make([]T, 0, Few)
		for _, head := range s.buckets {
			for seg := head; seg != nil; seg = seg.next {
				few = append(few, seg.data[:seg.count]...)
			}
		}
		s.few = few
		s.buckets = nil
	}
	return true
}

// ForEach calls fn for every member until fn returns false. the set must not
// be modified during iteration; use Slice for that.
func (s *Set[T]) ForEach(fn func(T) bool) {
	switch {
	case s.n == 0:
	case s.n == 1:
		fn(s.one)
	case s.n <= Few:
		for _, x := range s.few {
			if !fn(x) {
				return
			}
		}
	default:
		for _, head := range s.buckets {
			for seg := head; seg != nil; seg = seg.next {
				for _, x := range seg.data[:seg.count] {
					if !fn(x) {
						return
					}
				}
			}
		}
	}
}

// Slice returns the members as a freshly allocated slice
func (s *Set[T]) Slice() []T {
	out := make([]T, 0, s.n)
	s.ForEach(func(v T) bool {
		out = append(out, v)
		return true
	})
	return out
}

// Clear drops every member
func (s *Set[T]) Clear() {
	*s = Set[T]{}
}

// Buckets returns the number of hash buckets, zero unless the set is in its
// hashed form. only meaningful for diagnostics.
func (s *Set[T]) Buckets() int {
	return len(s.buckets)
}

func (s *Set[T]) bucket(v T, nb int) int {
	return int(maphash.Comparable(seed, v) % uint64(nb))
}

func (s *Set[T]) resize(nb int) {
	if nb > maxBuckets {
		nb = maxBuckets
	}
	old := s.buckets
	s.buckets = make([]*segment[T], nb)
	for _, head := range old {
		for seg := head; seg != nil; seg = seg.next {
			for _, x := range seg.data[:seg.count] {
				chainInsert(&s.buckets[s.bucket(x, nb)], x)
			}
		}
	}
}

func closestPrime(n int) int {
	for _, p := range spacedPrimes {
		if p > n {
			return p
		}
	}
	return spacedPrimes[len(spacedPrimes)-1]
}

func chainFind[T comparable](head *segment[T], v T) bool {
	for seg := head; seg != nil; seg = seg.next {
		for _, x := range seg.data[:seg.count] {
			if x == v {
				return true
			}
		}
	}
	return false
}

func chainInsert[T comparable](head **segment[T], v T) {
	seg := *head
	if seg == nil || seg.count == SegmentSize {
		seg = &segment[T]{next: *head}
		*head = seg
	}
	seg.data[seg.count] = v
	seg.count++
}

// chainRemove fills the hole with the last member of the head segment so that
// only the head is ever partially filled.
func chainRemove[T comparable](head **segment[T], v T) bool {
	for seg := *head; seg != nil; seg = seg.next {
		for i := 0; i < seg.count; i++ {
			if seg.data[i] != v {
				continue
			}
			h := *head
			h.count--
			seg.data[i] = h.data[h.count]
			var zero T
			h.data[h.count] = zero
			if h.count == 0 {
				*head = h.next
			}
			return true
		}
	}
	return false
}
